package orders

import (
	"context"
	"time"
)

// OrderDraft is everything CreateOrderTx persists in one atomic unit.
// Totals and line snapshots are computed by the service; stock sufficiency
// and credit balances are re-checked inside the transaction.
type OrderDraft struct {
	OrderNumber    string
	ClientID       string
	SellerID       string
	CartID         string
	Lines          []OrderLine
	SubtotalCents  int64
	TaxCents       int64
	TotalCents     int64
	Notes          string
	IdempotencyKey *string
	Credits        []CreditSelection
}

// StatusChange is the result of a transition attempt. Updated is false for
// the idempotent no-op (same status), in which case Entry is nil.
type StatusChange struct {
	Updated bool           `json:"updated"`
	Order   *Order         `json:"order"`
	Entry   *StatusHistory `json:"entry,omitempty"`
}

// Store is the persistence contract for the order lifecycle. History reads
// are derived views over the audit log and must never be used to infer
// current status; that is always read from the order row.
type Store interface {
	FindByIdempotencyKey(ctx context.Context, key string) (*Order, error)
	GetOrder(ctx context.Context, orderID string) (*Order, error)
	GetOrderWithLines(ctx context.Context, orderID string) (*Order, error)
	GetCart(ctx context.Context, clientID string) (*Cart, error)
	GetCreditNote(ctx context.Context, noteID string) (*CreditNote, error)

	// CreateOrderTx persists order, lines, stock decrements, credit usage and
	// cart clearing in one transaction. existed is true when the idempotency
	// key already won a previous creation; the winner's order is returned.
	CreateOrderTx(ctx context.Context, draft OrderDraft) (order *Order, existed bool, err error)

	// ChangeStatusTx re-validates the transition under the order's row lock,
	// updates status and conditional timestamps, and appends the audit row.
	ChangeStatusTx(ctx context.Context, orderID string, newStatus Status, actor Actor, notes string) (*StatusChange, error)

	History(ctx context.Context, orderID string) ([]StatusHistory, error)
	CreditUsages(ctx context.Context, orderID string) ([]CreditNoteUsage, error)

	StuckOrders(ctx context.Context, status Status, olderThan time.Duration) ([]StuckOrder, error)
	TransitionStats(ctx context.Context, from, to Status) (TransitionStats, error)
	ActivitySummary(ctx context.Context, days int) ([]ActivityEntry, error)
	ChangesBy(ctx context.Context, userID string, limit int) ([]StatusHistory, error)
}
