package orders

import "time"

const (
	RoleAdmin  = "ADMIN"
	RoleSeller = "SELLER"
	RoleClient = "CLIENT"
)

// Actor is the caller identity as supplied by the auth provider; it is
// trusted as given, never re-derived.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

func (a Actor) Elevated() bool { return a.Role == RoleAdmin || a.Role == RoleSeller }

type Order struct {
	ID              string      `json:"id"`
	OrderNumber     string      `json:"order_number"`
	ClientID        string      `json:"client_id"`
	SellerID        string      `json:"seller_id"`
	Status          Status      `json:"status"`
	SubtotalCents   int64       `json:"subtotal_cents"`
	TaxCents        int64       `json:"tax_cents"`
	TotalCents      int64       `json:"total_cents"`
	Notes           string      `json:"notes,omitempty"`
	IdempotencyKey  *string     `json:"idempotency_key,omitempty"`
	ConfirmDeadline *time.Time  `json:"confirm_deadline,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	ConfirmedAt     *time.Time  `json:"confirmed_at,omitempty"`
	CanceledAt      *time.Time  `json:"canceled_at,omitempty"`
	CompletedAt     *time.Time  `json:"completed_at,omitempty"`
	Lines           []OrderLine `json:"lines,omitempty"`
}

// OrderLine snapshots product name and price at order time so later catalog
// edits do not retroactively alter historical orders.
type OrderLine struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	ProductID     string `json:"product_id"`
	ProductName   string `json:"product_name"`
	Qty           int    `json:"qty"`
	PriceCents    int64  `json:"price_cents"`
	SubtotalCents int64  `json:"subtotal_cents"`
}

type Product struct {
	ID         string    `json:"id"`
	SellerID   string    `json:"seller_id"`
	Name       string    `json:"name"`
	Stock      int       `json:"stock"`
	PriceCents int64     `json:"price_cents"`
	CreatedAt  time.Time `json:"created_at"`
}

type Cart struct {
	ID       string     `json:"id"`
	ClientID string     `json:"client_id"`
	SellerID string     `json:"seller_id"`
	Lines    []CartLine `json:"lines"`
}

// CartLine carries the joined product snapshot so pre-checks need no extra
// round trips.
type CartLine struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Qty         int    `json:"qty"`
	PriceCents  int64  `json:"price_cents"`
	Stock       int    `json:"stock"`
}

// CreditNote balance only decreases and usedCents only increases;
// balance + used == amount at all times.
type CreditNote struct {
	ID           string     `json:"id"`
	NoteNumber   string     `json:"note_number"`
	ClientID     string     `json:"client_id"`
	AmountCents  int64      `json:"amount_cents"`
	BalanceCents int64      `json:"balance_cents"`
	UsedCents    int64      `json:"used_cents"`
	IsActive     bool       `json:"is_active"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

func (n CreditNote) Expired(at time.Time) bool {
	return n.ExpiresAt != nil && at.After(*n.ExpiresAt)
}

// CreditSelection is a requested (note, amount) application on creation.
type CreditSelection struct {
	CreditNoteID string `json:"credit_note_id"`
	AmountCents  int64  `json:"amount_cents"`
}

// CreditNoteUsage is the immutable ledger entry linking one order to one
// credit-note consumption.
type CreditNoteUsage struct {
	ID           string    `json:"id"`
	CreditNoteID string    `json:"credit_note_id"`
	OrderID      string    `json:"order_id"`
	AmountCents  int64     `json:"amount_cents"`
	CreatedAt    time.Time `json:"created_at"`
}

// StatusHistory rows are append-only; PreviousStatus is nil only for the
// very first transition of an order.
type StatusHistory struct {
	ID             string    `json:"id"`
	OrderID        string    `json:"order_id"`
	PreviousStatus *Status   `json:"previous_status"`
	NewStatus      Status    `json:"new_status"`
	ChangedBy      string    `json:"changed_by"`
	ChangedByName  string    `json:"changed_by_name"`
	ChangedByRole  string    `json:"changed_by_role"`
	Notes          string    `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type StuckOrder struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	Status      Status    `json:"status"`
	Since       time.Time `json:"since"`
}

type TransitionStats struct {
	From       Status  `json:"from"`
	To         Status  `json:"to"`
	AvgMinutes float64 `json:"avg_minutes"`
}

type ActivityEntry struct {
	Role   string `json:"role"`
	Status Status `json:"status"`
	Count  int    `json:"count"`
}

// InvoiceSnapshot is the read-only view handed to the external PDF renderer
// after the pipeline commits.
type InvoiceSnapshot struct {
	Order   *Order            `json:"order"`
	Lines   []OrderLine       `json:"lines"`
	Credits []CreditNoteUsage `json:"credits"`
}
