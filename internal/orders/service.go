package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tiendalink/ordercore/internal/background"
	"github.com/tiendalink/ordercore/internal/notify"
	"github.com/tiendalink/ordercore/internal/resilience"
	"github.com/tiendalink/ordercore/internal/schedule"
)

type ServiceConfig struct {
	ServiceName   string
	TaxRateBps    int64
	ReadTimeout   time.Duration
	CommitTimeout time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
}

type Service struct {
	cfg      ServiceConfig
	store    Store
	sched    *schedule.Validator
	notifier notify.Notifier
	tasks    *background.Executor
	log      *zap.Logger
	now      func() time.Time
}

func NewService(cfg ServiceConfig, store Store, sched *schedule.Validator, notifier notify.Notifier, tasks *background.Executor, log *zap.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		sched:    sched,
		notifier: notifier,
		tasks:    tasks,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) readOpts() resilience.Options {
	return resilience.Options{
		Timeout:      s.cfg.ReadTimeout,
		MaxRetries:   s.cfg.MaxRetries,
		InitialDelay: s.cfg.RetryDelay,
	}
}

func (s *Service) commitOpts() resilience.Options {
	o := s.readOpts()
	o.Timeout = s.cfg.CommitTimeout
	return o
}

type CreateInput struct {
	BuyerID        string            `json:"buyer_id"`
	Notes          string            `json:"notes"`
	Credits        []CreditSelection `json:"credits"`
	IdempotencyKey *string           `json:"idempotency_key"`
}

// Create runs the order creation pipeline: idempotency fast path, advisory
// validations, totals, admission check, then the resilient atomic commit and
// post-commit notification fan-out.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Order, error) {
	now := s.now()

	// 1. Retried client requests return the winner unchanged.
	if in.IdempotencyKey != nil && *in.IdempotencyKey != "" {
		var existing *Order
		err := resilience.Do(ctx, s.log, func(ctx context.Context) error {
			o, err := s.store.FindByIdempotencyKey(ctx, *in.IdempotencyKey)
			existing = o
			return err
		}, s.readOpts())
		if err == nil {
			s.log.Info("idempotent replay, returning existing order",
				zap.String("order_id", existing.ID),
				zap.String("idempotency_key", *in.IdempotencyKey))
			return existing, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	// 2. Cart must exist and have lines.
	var cart *Cart
	err := resilience.Do(ctx, s.log, func(ctx context.Context) error {
		c, err := s.store.GetCart(ctx, in.BuyerID)
		cart = c
		return err
	}, s.readOpts())
	if errors.Is(err, ErrNotFound) {
		return nil, ErrEmptyCart
	}
	if err != nil {
		return nil, err
	}
	if len(cart.Lines) == 0 {
		return nil, ErrEmptyCart
	}

	// 3. Advisory stock check; the commit re-checks under row locks.
	for _, l := range cart.Lines {
		if l.Qty > l.Stock {
			return nil, &InsufficientStockError{
				ProductID:   l.ProductID,
				ProductName: l.ProductName,
				Requested:   l.Qty,
				Available:   l.Stock,
			}
		}
	}

	// 4. Credit validation; each violation names its reason before any
	// mutation occurs.
	var creditCents int64
	for _, sel := range in.Credits {
		if sel.AmountCents <= 0 {
			return nil, &CreditError{CreditNoteID: sel.CreditNoteID, Reason: CreditInvalidAmount}
		}
		var note *CreditNote
		err := resilience.Do(ctx, s.log, func(ctx context.Context) error {
			n, err := s.store.GetCreditNote(ctx, sel.CreditNoteID)
			note = n
			return err
		}, s.readOpts())
		if errors.Is(err, ErrNotFound) {
			return nil, &CreditError{CreditNoteID: sel.CreditNoteID, Reason: CreditNotFound}
		}
		if err != nil {
			return nil, err
		}
		switch {
		case note.ClientID != in.BuyerID:
			return nil, &CreditError{CreditNoteID: sel.CreditNoteID, Reason: CreditWrongClient}
		case !note.IsActive:
			return nil, &CreditError{CreditNoteID: sel.CreditNoteID, Reason: CreditInactive}
		case note.Expired(now):
			return nil, &CreditError{CreditNoteID: sel.CreditNoteID, Reason: CreditExpired}
		case note.BalanceCents < sel.AmountCents:
			return nil, &CreditError{CreditNoteID: sel.CreditNoteID, Reason: CreditInsufficientBalance}
		}
		creditCents += sel.AmountCents
	}

	// 5. Totals.
	var subtotal int64
	lines := make([]OrderLine, 0, len(cart.Lines))
	for _, l := range cart.Lines {
		lineSubtotal := l.PriceCents * int64(l.Qty)
		subtotal += lineSubtotal
		lines = append(lines, OrderLine{
			ProductID:     l.ProductID,
			ProductName:   l.ProductName,
			Qty:           l.Qty,
			PriceCents:    l.PriceCents,
			SubtotalCents: lineSubtotal,
		})
	}
	tax := subtotal * s.cfg.TaxRateBps / 10000
	total := subtotal + tax - creditCents
	if total < 0 {
		total = 0
	}

	// 6. Admission control for the cart's seller.
	adm := s.sched.IsWithin(ctx, cart.SellerID, schedule.KindOrder, now)
	if !adm.Allowed {
		next, err := s.sched.NextAvailable(ctx, cart.SellerID, schedule.KindOrder, now)
		if err != nil {
			next = nil
		}
		return nil, &OutsideScheduleError{Message: adm.Message, Window: adm.Window, Next: next}
	}

	draft := OrderDraft{
		OrderNumber:    newOrderNumber(),
		ClientID:       in.BuyerID,
		SellerID:       cart.SellerID,
		CartID:         cart.ID,
		Lines:          lines,
		SubtotalCents:  subtotal,
		TaxCents:       tax,
		TotalCents:     total,
		Notes:          in.Notes,
		IdempotencyKey: in.IdempotencyKey,
		Credits:        in.Credits,
	}

	// 7. Atomic commit, longer timeout than ordinary reads.
	var (
		order   *Order
		existed bool
	)
	err = resilience.Do(ctx, s.log, func(ctx context.Context) error {
		o, ex, err := s.store.CreateOrderTx(ctx, draft)
		order, existed = o, ex
		return err
	}, s.commitOpts())
	if err != nil {
		return nil, err
	}

	// 8. Post-commit fan-out; cannot roll back or fail the committed order.
	if !existed {
		s.notifyOrderPlaced(order)
	}
	return order, nil
}

func (s *Service) notifyOrderPlaced(order *Order) {
	payload := notify.OrderPlacedPayload{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		ClientID:    order.ClientID,
		SellerID:    order.SellerID,
		Status:      string(order.Status),
		TotalCents:  order.TotalCents,
	}
	s.tasks.Run("order-placed "+order.ID,
		func(ctx context.Context) error {
			return s.notifier.Publish(ctx, order.SellerID, notify.OrderPlaced(payload))
		},
		func(ctx context.Context) error {
			return s.notifier.Publish(ctx, order.ClientID, notify.OrderPlaced(payload))
		},
		func(ctx context.Context) error {
			return s.notifier.CacheOrderStatus(ctx, order.ID, string(order.Status))
		},
	)
}

// ChangeStatus validates and executes one status transition with a full audit
// row. A request for the current status is an idempotent no-op, not an error.
func (s *Service) ChangeStatus(ctx context.Context, orderID string, newStatus Status, actor Actor, notes string) (*StatusChange, error) {
	if !actor.Elevated() {
		return nil, ErrForbidden
	}
	if !newStatus.Known() {
		return nil, fmt.Errorf("unknown status %q", newStatus)
	}

	var current *Order
	err := resilience.Do(ctx, s.log, func(ctx context.Context) error {
		o, err := s.store.GetOrder(ctx, orderID)
		current = o
		return err
	}, s.readOpts())
	if err != nil {
		return nil, err
	}

	if current.Status == newStatus {
		return &StatusChange{Updated: false, Order: current}, nil
	}
	if !CanTransition(current.Status, newStatus) {
		return nil, &InvalidTransitionError{From: current.Status, To: newStatus}
	}

	var change *StatusChange
	err = resilience.Do(ctx, s.log, func(ctx context.Context) error {
		c, err := s.store.ChangeStatusTx(ctx, orderID, newStatus, actor, notes)
		change = c
		return err
	}, s.commitOpts())
	if err != nil {
		return nil, err
	}

	if change.Updated {
		s.notifyStatusChanged(change)
	}
	return change, nil
}

func (s *Service) notifyStatusChanged(change *StatusChange) {
	order := change.Order
	prev := ""
	if change.Entry.PreviousStatus != nil {
		prev = string(*change.Entry.PreviousStatus)
	}
	payload := notify.OrderStatusChangedPayload{
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: prev,
		NewStatus:      string(order.Status),
		ChangedBy:      change.Entry.ChangedBy,
		ChangedByRole:  change.Entry.ChangedByRole,
	}
	s.tasks.Run("status-changed "+order.ID,
		func(ctx context.Context) error {
			return s.notifier.Publish(ctx, order.ClientID, notify.OrderStatusChanged(payload))
		},
		func(ctx context.Context) error {
			return s.notifier.Publish(ctx, order.SellerID, notify.OrderStatusChanged(payload))
		},
		func(ctx context.Context) error {
			return s.notifier.CacheOrderStatus(ctx, order.ID, string(order.Status))
		},
	)
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	var order *Order
	err := resilience.Do(ctx, s.log, func(ctx context.Context) error {
		o, err := s.store.GetOrderWithLines(ctx, orderID)
		order = o
		return err
	}, s.readOpts())
	return order, err
}

func (s *Service) History(ctx context.Context, orderID string) ([]StatusHistory, error) {
	var hist []StatusHistory
	err := resilience.Do(ctx, s.log, func(ctx context.Context) error {
		h, err := s.store.History(ctx, orderID)
		hist = h
		return err
	}, s.readOpts())
	return hist, err
}

// Invoice builds the committed snapshot consumed by the external PDF
// renderer; it has no write access back into the engine.
func (s *Service) Invoice(ctx context.Context, orderID string) (*InvoiceSnapshot, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var usages []CreditNoteUsage
	err = resilience.Do(ctx, s.log, func(ctx context.Context) error {
		u, err := s.store.CreditUsages(ctx, orderID)
		usages = u
		return err
	}, s.readOpts())
	if err != nil {
		return nil, err
	}
	return &InvoiceSnapshot{Order: order, Lines: order.Lines, Credits: usages}, nil
}

// Availability exposes admission control plus the next opening for client
// display.
func (s *Service) Availability(ctx context.Context, sellerID string, kind schedule.Kind) (schedule.Result, *schedule.NextSlot) {
	res := s.sched.IsWithin(ctx, sellerID, kind, s.now())
	if res.Allowed {
		return res, nil
	}
	next, err := s.sched.NextAvailable(ctx, sellerID, kind, s.now())
	if err != nil {
		next = nil
	}
	return res, next
}

func newOrderNumber() string {
	return "ORD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}
