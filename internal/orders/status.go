package orders

type Status string

const (
	StatusPending            Status = "PENDING"
	StatusConfirmed          Status = "CONFIRMED"
	StatusPreparing          Status = "PREPARING"
	StatusReadyForPickup     Status = "READY_FOR_PICKUP"
	StatusInDelivery         Status = "IN_DELIVERY"
	StatusDelivered          Status = "DELIVERED"
	StatusPartiallyDelivered Status = "PARTIALLY_DELIVERED"
	StatusCompleted          Status = "COMPLETED"
	StatusCanceled           Status = "CANCELED"
	StatusPaymentPending     Status = "PAYMENT_PENDING"
	StatusPaid               Status = "PAID"
)

// validNext is the full transition table. COMPLETED and CANCELED are
// terminal: no outgoing edges.
var validNext = map[Status]map[Status]bool{
	StatusPending:            {StatusConfirmed: true, StatusCanceled: true},
	StatusConfirmed:          {StatusPreparing: true, StatusCanceled: true},
	StatusPreparing:          {StatusReadyForPickup: true, StatusCanceled: true},
	StatusReadyForPickup:     {StatusInDelivery: true, StatusDelivered: true, StatusCanceled: true},
	StatusInDelivery:         {StatusDelivered: true, StatusPartiallyDelivered: true},
	StatusDelivered:          {StatusCompleted: true},
	StatusPartiallyDelivered: {StatusCompleted: true, StatusInDelivery: true},
	StatusCompleted:          {},
	StatusCanceled:           {},
	StatusPaymentPending:     {StatusPaid: true, StatusCanceled: true},
	StatusPaid:               {StatusConfirmed: true},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (s Status) Known() bool {
	_, ok := validNext[s]
	return ok
}
