package orders

import (
	"errors"
	"fmt"

	"github.com/tiendalink/ordercore/internal/schedule"
)

// Validation errors are surfaced to the caller immediately and never retried;
// they are not system failures.
var (
	ErrEmptyCart = errors.New("cart is empty")
	ErrForbidden = errors.New("only sellers and admins may change order status")
	ErrNotFound  = errors.New("not found")
)

type InsufficientStockError struct {
	ProductID   string
	ProductName string
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d",
		e.ProductName, e.Requested, e.Available)
}

type CreditReason string

const (
	CreditNotFound            CreditReason = "NOT_FOUND"
	CreditInactive            CreditReason = "INACTIVE"
	CreditExpired             CreditReason = "EXPIRED"
	CreditInsufficientBalance CreditReason = "INSUFFICIENT_BALANCE"
	CreditWrongClient         CreditReason = "WRONG_CLIENT"
	CreditInvalidAmount       CreditReason = "INVALID_AMOUNT"
)

type CreditError struct {
	CreditNoteID string
	Reason       CreditReason
}

func (e *CreditError) Error() string {
	return fmt.Sprintf("credit note %s rejected: %s", e.CreditNoteID, e.Reason)
}

type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition order from %s to %s", e.From, e.To)
}

// OutsideScheduleError carries the active window or the next available slot
// for client display.
type OutsideScheduleError struct {
	Message string
	Window  *schedule.Window
	Next    *schedule.NextSlot
}

func (e *OutsideScheduleError) Error() string { return e.Message }
