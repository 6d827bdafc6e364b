package httpx

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tiendalink/ordercore/internal/orders"
	"github.com/tiendalink/ordercore/internal/resilience"
	"github.com/tiendalink/ordercore/internal/schedule"
)

// OrdersHandler adapts the order service to HTTP. Identity arrives in
// X-User-* headers set by the gateway after authentication.
type OrdersHandler struct {
	Service *orders.Service
	Log     *zap.Logger
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Post("/orders/{id}/status", h.changeStatus)
	r.Get("/orders/{id}/history", h.history)
	r.Get("/orders/{id}/invoice", h.invoice)
	r.Get("/sellers/{id}/availability", h.availability)

	r.Get("/admin/orders/stuck", h.stuckOrders)
	r.Get("/admin/stats/transitions", h.transitionStats)
	r.Get("/admin/activity", h.activitySummary)
	r.Get("/admin/users/{id}/changes", h.changesBy)
}

func actorFrom(r *http.Request) orders.Actor {
	return orders.Actor{
		ID:   r.Header.Get("X-User-Id"),
		Name: r.Header.Get("X-User-Name"),
		Role: strings.ToUpper(r.Header.Get("X-User-Role")),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errBody struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Detail any    `json:"detail,omitempty"`
}

func (h *OrdersHandler) writeError(w http.ResponseWriter, err error) {
	var (
		stockErr *orders.InsufficientStockError
		credErr  *orders.CreditError
		transErr *orders.InvalidTransitionError
		schedErr *orders.OutsideScheduleError
	)
	switch {
	case errors.Is(err, orders.ErrEmptyCart):
		writeJSON(w, http.StatusBadRequest, errBody{Error: err.Error(), Reason: "EMPTY_CART"})
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusBadRequest, errBody{Error: err.Error(), Reason: "INSUFFICIENT_STOCK", Detail: stockErr})
	case errors.As(err, &credErr):
		writeJSON(w, http.StatusBadRequest, errBody{Error: err.Error(), Reason: string(credErr.Reason)})
	case errors.As(err, &schedErr):
		writeJSON(w, http.StatusUnprocessableEntity, errBody{
			Error:  schedErr.Message,
			Reason: "OUTSIDE_SCHEDULE",
			Detail: map[string]any{"window": schedErr.Window, "next_available": schedErr.Next},
		})
	case errors.Is(err, orders.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errBody{Error: err.Error(), Reason: "FORBIDDEN"})
	case errors.As(err, &transErr):
		writeJSON(w, http.StatusConflict, errBody{Error: err.Error(), Reason: "INVALID_TRANSITION", Detail: transErr})
	case errors.Is(err, orders.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errBody{Error: "not found"})
	case errors.Is(err, resilience.ErrTimeout):
		writeJSON(w, http.StatusGatewayTimeout, errBody{Error: "operation timed out"})
	case errors.Is(err, resilience.ErrServiceUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, errBody{Error: "service temporarily unavailable"})
	default:
		h.Log.Error("request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errBody{Error: "internal error"})
	}
}

type createOrderReq struct {
	Notes          string                   `json:"notes"`
	Credits        []orders.CreditSelection `json:"credits"`
	IdempotencyKey string                   `json:"idempotency_key"`
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	actor := actorFrom(r)
	if actor.ID == "" {
		writeJSON(w, http.StatusUnauthorized, errBody{Error: "missing identity"})
		return
	}

	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "invalid json"})
		return
	}

	in := orders.CreateInput{
		BuyerID: actor.ID,
		Notes:   req.Notes,
		Credits: req.Credits,
	}
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		in.IdempotencyKey = &key
	} else if key := strings.TrimSpace(r.Header.Get("Idempotency-Key")); key != "" {
		in.IdempotencyKey = &key
	}

	order, err := h.Service.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Service.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type changeStatusReq struct {
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

type changeStatusResp struct {
	Updated bool                  `json:"updated"`
	Order   *orders.Order         `json:"order"`
	Entry   *orders.StatusHistory `json:"entry,omitempty"`
}

func (h *OrdersHandler) changeStatus(w http.ResponseWriter, r *http.Request) {
	var req changeStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "invalid json"})
		return
	}
	newStatus := orders.Status(strings.ToUpper(strings.TrimSpace(req.Status)))
	if !newStatus.Known() {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "unknown status", Reason: "UNKNOWN_STATUS"})
		return
	}

	change, err := h.Service.ChangeStatus(r.Context(), chi.URLParam(r, "id"), newStatus, actorFrom(r), req.Notes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, changeStatusResp{Updated: change.Updated, Order: change.Order, Entry: change.Entry})
}

func (h *OrdersHandler) history(w http.ResponseWriter, r *http.Request) {
	hist, err := h.Service.History(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if hist == nil {
		hist = []orders.StatusHistory{}
	}
	writeJSON(w, http.StatusOK, hist)
}

func (h *OrdersHandler) invoice(w http.ResponseWriter, r *http.Request) {
	inv, err := h.Service.Invoice(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

type availabilityResp struct {
	Allowed       bool               `json:"allowed"`
	Message       string             `json:"message,omitempty"`
	Degraded      bool               `json:"degraded,omitempty"`
	Window        *schedule.Window   `json:"window,omitempty"`
	NextAvailable *schedule.NextSlot `json:"next_available,omitempty"`
}

func (h *OrdersHandler) availability(w http.ResponseWriter, r *http.Request) {
	kind := schedule.KindOrder
	switch strings.ToUpper(r.URL.Query().Get("kind")) {
	case "", string(schedule.KindOrder):
	case string(schedule.KindChat):
		kind = schedule.KindChat
	default:
		writeJSON(w, http.StatusBadRequest, errBody{Error: "unknown kind"})
		return
	}

	res, next := h.Service.Availability(r.Context(), chi.URLParam(r, "id"), kind)
	writeJSON(w, http.StatusOK, availabilityResp{
		Allowed:       res.Allowed,
		Message:       res.Message,
		Degraded:      res.Degraded,
		Window:        res.Window,
		NextAvailable: next,
	})
}

func (h *OrdersHandler) requireElevated(w http.ResponseWriter, r *http.Request) bool {
	if !actorFrom(r).Elevated() {
		writeJSON(w, http.StatusForbidden, errBody{Error: orders.ErrForbidden.Error(), Reason: "FORBIDDEN"})
		return false
	}
	return true
}

func (h *OrdersHandler) stuckOrders(w http.ResponseWriter, r *http.Request) {
	if !h.requireElevated(w, r) {
		return
	}
	status := orders.Status(strings.ToUpper(r.URL.Query().Get("status")))
	if status == "" {
		status = orders.StatusPending
	}
	hours, _ := strconv.Atoi(r.URL.Query().Get("hours"))
	if hours <= 0 {
		hours = 24
	}

	stuck, err := h.Service.StuckOrders(r.Context(), status, time.Duration(hours)*time.Hour)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if stuck == nil {
		stuck = []orders.StuckOrder{}
	}
	writeJSON(w, http.StatusOK, stuck)
}

func (h *OrdersHandler) transitionStats(w http.ResponseWriter, r *http.Request) {
	if !h.requireElevated(w, r) {
		return
	}
	from := orders.Status(strings.ToUpper(r.URL.Query().Get("from")))
	to := orders.Status(strings.ToUpper(r.URL.Query().Get("to")))
	if !from.Known() || !to.Known() {
		writeJSON(w, http.StatusBadRequest, errBody{Error: "unknown status", Reason: "UNKNOWN_STATUS"})
		return
	}

	stats, err := h.Service.TransitionStats(r.Context(), from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *OrdersHandler) activitySummary(w http.ResponseWriter, r *http.Request) {
	if !h.requireElevated(w, r) {
		return
	}
	days, _ := strconv.Atoi(r.URL.Query().Get("days"))

	entries, err := h.Service.ActivitySummary(r.Context(), days)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []orders.ActivityEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *OrdersHandler) changesBy(w http.ResponseWriter, r *http.Request) {
	if !h.requireElevated(w, r) {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	hist, err := h.Service.ChangesBy(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if hist == nil {
		hist = []orders.StatusHistory{}
	}
	writeJSON(w, http.StatusOK, hist)
}
