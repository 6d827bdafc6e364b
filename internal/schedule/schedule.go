// Package schedule decides whether a seller currently accepts new orders or
// chat messages, based on per-day time windows. Missing configuration and
// lookup failures both fail open: blocking commerce on a config outage is
// worse than occasionally admitting an out-of-window action.
package schedule

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Kind string

const (
	KindOrder Kind = "ORDER"
	KindChat  Kind = "CHAT"
)

type Day string

const (
	Sunday    Day = "SUNDAY"
	Monday    Day = "MONDAY"
	Tuesday   Day = "TUESDAY"
	Wednesday Day = "WEDNESDAY"
	Thursday  Day = "THURSDAY"
	Friday    Day = "FRIDAY"
	Saturday  Day = "SATURDAY"
)

// days is indexed by time.Weekday (Sunday == 0).
var days = [7]Day{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

func DayOf(t time.Time) Day { return days[int(t.Weekday())] }

// Window is one per-seller, per-day admission window. Times are "HH:MM",
// inclusive on both bounds.
type Window struct {
	SellerID  string
	Kind      Kind
	Day       Day
	StartTime string
	EndTime   string
	IsActive  bool
}

// WindowStore is the read-only view over schedule configuration; windows are
// managed elsewhere and never mutated here.
type WindowStore interface {
	// ActiveWindow returns nil when no active window is configured for that
	// seller, day and kind.
	ActiveWindow(ctx context.Context, sellerID string, kind Kind, day Day) (*Window, error)
}

type Result struct {
	Allowed bool
	Message string
	Window  *Window

	// Degraded marks fail-open results caused by a lookup failure, so
	// monitoring can tell them apart from "no restriction configured".
	Degraded bool
}

type NextSlot struct {
	Day       Day
	StartTime string
}

// TimeToMinutes converts "HH:MM" to minutes since midnight. Parsing is
// lenient: "9:5" means "09:05".
func TimeToMinutes(s string) int {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0
	}
	h, _ := strconv.Atoi(strings.TrimSpace(parts[0]))
	m, _ := strconv.Atoi(strings.TrimSpace(parts[1]))
	return h*60 + m
}

func MinutesOf(t time.Time) int { return t.Hour()*60 + t.Minute() }

func inRange(at, start, end int) bool { return at >= start && at <= end }

type Validator struct {
	store WindowStore
	log   *zap.Logger
}

func NewValidator(store WindowStore, log *zap.Logger) *Validator {
	return &Validator{store: store, log: log}
}

// IsWithin reports whether an action of the given kind is admitted for the
// seller at the given instant.
func (v *Validator) IsWithin(ctx context.Context, sellerID string, kind Kind, at time.Time) Result {
	day := DayOf(at)
	now := MinutesOf(at)

	w, err := v.store.ActiveWindow(ctx, sellerID, kind, day)
	if err != nil {
		// Documented fail-open: admit and surface the failure in the message.
		v.log.Error("schedule lookup failed, allowing by default",
			zap.String("seller_id", sellerID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return Result{
			Allowed:  true,
			Degraded: true,
			Message:  "schedule validation unavailable, allowed by default",
		}
	}
	if w == nil {
		v.log.Debug("no schedule configured, allowing",
			zap.String("seller_id", sellerID),
			zap.String("kind", string(kind)),
			zap.String("day", string(day)))
		return Result{Allowed: true, Message: "no schedule restrictions configured"}
	}

	if inRange(now, TimeToMinutes(w.StartTime), TimeToMinutes(w.EndTime)) {
		return Result{Allowed: true, Window: w}
	}

	v.log.Warn("outside schedule window",
		zap.String("seller_id", sellerID),
		zap.String("kind", string(kind)),
		zap.String("day", string(day)),
		zap.String("start", w.StartTime),
		zap.String("end", w.EndTime))
	return Result{
		Allowed: false,
		Window:  w,
		Message: fmt.Sprintf("seller accepts %s from %s to %s", strings.ToLower(string(kind)), w.StartTime, w.EndTime),
	}
}

// NextAvailable scans forward day by day (wrapping after 7) for the next
// configured window after the given instant. Today's window counts when its
// start is still ahead.
func (v *Validator) NextAvailable(ctx context.Context, sellerID string, kind Kind, from time.Time) (*NextSlot, error) {
	startIdx := int(from.Weekday())
	for i := 0; i <= 7; i++ {
		day := days[(startIdx+i)%7]
		w, err := v.store.ActiveWindow(ctx, sellerID, kind, day)
		if err != nil {
			return nil, err
		}
		if w == nil {
			continue
		}
		if i == 0 && TimeToMinutes(w.StartTime) <= MinutesOf(from) {
			continue // today's window already started
		}
		return &NextSlot{Day: w.Day, StartTime: w.StartTime}, nil
	}
	return nil, nil
}
