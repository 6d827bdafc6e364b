package orders

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memStore mirrors the Repo's transactional semantics in memory: one mutex
// stands in for the database's row locks.
type memStore struct {
	mu       sync.Mutex
	products map[string]*Product
	carts    map[string]*Cart // by client id
	notes    map[string]*CreditNote
	orders   map[string]*Order
	usages   []CreditNoteUsage
	history  []StatusHistory
}

var _ Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		products: map[string]*Product{},
		carts:    map[string]*Cart{},
		notes:    map[string]*CreditNote{},
		orders:   map[string]*Order{},
	}
}

func (m *memStore) FindByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findByKeyLocked(key)
}

func (m *memStore) findByKeyLocked(key string) (*Order, error) {
	for _, o := range m.orders {
		if o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *memStore) GetOrderWithLines(ctx context.Context, orderID string) (*Order, error) {
	return m.GetOrder(ctx, orderID)
}

func (m *memStore) GetCart(ctx context.Context, clientID string) (*Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[clientID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	cp.Lines = make([]CartLine, len(c.Lines))
	for i, l := range c.Lines {
		p := m.products[l.ProductID]
		l.ProductName = p.Name
		l.PriceCents = p.PriceCents
		l.Stock = p.Stock
		cp.Lines[i] = l
	}
	return &cp, nil
}

func (m *memStore) GetCreditNote(ctx context.Context, noteID string) (*CreditNote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notes[noteID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *memStore) CreateOrderTx(ctx context.Context, draft OrderDraft) (*Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if draft.IdempotencyKey != nil {
		if o, err := m.findByKeyLocked(*draft.IdempotencyKey); err == nil {
			return o, true, nil
		}
	}

	// Stock re-check under the lock, no partial effects on failure.
	for _, l := range draft.Lines {
		p := m.products[l.ProductID]
		if p == nil || p.Stock < l.Qty {
			avail := 0
			if p != nil {
				avail = p.Stock
			}
			return nil, false, &InsufficientStockError{
				ProductID: l.ProductID, ProductName: l.ProductName,
				Requested: l.Qty, Available: avail,
			}
		}
	}
	for _, sel := range draft.Credits {
		n := m.notes[sel.CreditNoteID]
		if n == nil {
			return nil, false, &CreditError{CreditNoteID: sel.CreditNoteID, Reason: CreditNotFound}
		}
		if !n.IsActive {
			return nil, false, &CreditError{CreditNoteID: sel.CreditNoteID, Reason: CreditInactive}
		}
		if n.Expired(time.Now().UTC()) {
			return nil, false, &CreditError{CreditNoteID: sel.CreditNoteID, Reason: CreditExpired}
		}
		if n.BalanceCents < sel.AmountCents {
			return nil, false, &CreditError{CreditNoteID: sel.CreditNoteID, Reason: CreditInsufficientBalance}
		}
	}

	orderID := uuid.NewString()
	now := time.Now().UTC()
	lines := make([]OrderLine, len(draft.Lines))
	for i, l := range draft.Lines {
		m.products[l.ProductID].Stock -= l.Qty
		l.ID = uuid.NewString()
		l.OrderID = orderID
		lines[i] = l
	}
	for _, sel := range draft.Credits {
		n := m.notes[sel.CreditNoteID]
		n.BalanceCents -= sel.AmountCents
		n.UsedCents += sel.AmountCents
		n.IsActive = n.BalanceCents > 0
		m.usages = append(m.usages, CreditNoteUsage{
			ID: uuid.NewString(), CreditNoteID: sel.CreditNoteID,
			OrderID: orderID, AmountCents: sel.AmountCents, CreatedAt: now,
		})
	}
	for _, c := range m.carts {
		if c.ID == draft.CartID {
			c.Lines = nil
		}
	}

	order := &Order{
		ID:             orderID,
		OrderNumber:    draft.OrderNumber,
		ClientID:       draft.ClientID,
		SellerID:       draft.SellerID,
		Status:         StatusPending,
		SubtotalCents:  draft.SubtotalCents,
		TaxCents:       draft.TaxCents,
		TotalCents:     draft.TotalCents,
		Notes:          draft.Notes,
		IdempotencyKey: draft.IdempotencyKey,
		CreatedAt:      now,
		Lines:          lines,
	}
	m.orders[orderID] = order
	cp := *order
	return &cp, false, nil
}

func (m *memStore) ChangeStatusTx(ctx context.Context, orderID string, newStatus Status, actor Actor, notes string) (*StatusChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	if o.Status == newStatus {
		cp := *o
		return &StatusChange{Updated: false, Order: &cp}, nil
	}
	if !CanTransition(o.Status, newStatus) {
		return nil, &InvalidTransitionError{From: o.Status, To: newStatus}
	}

	prev := o.Status
	now := time.Now().UTC()
	o.Status = newStatus
	switch newStatus {
	case StatusConfirmed:
		if o.ConfirmedAt == nil {
			o.ConfirmedAt = &now
		}
	case StatusCanceled:
		o.CanceledAt = &now
	case StatusCompleted:
		o.CompletedAt = &now
	}

	entry := StatusHistory{
		ID:             uuid.NewString(),
		OrderID:        orderID,
		PreviousStatus: &prev,
		NewStatus:      newStatus,
		ChangedBy:      actor.ID,
		ChangedByName:  actor.Name,
		ChangedByRole:  actor.Role,
		Notes:          notes,
		CreatedAt:      now,
	}
	m.history = append(m.history, entry)

	cp := *o
	return &StatusChange{Updated: true, Order: &cp, Entry: &entry}, nil
}

func (m *memStore) History(ctx context.Context, orderID string) ([]StatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StatusHistory
	for _, h := range m.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (m *memStore) CreditUsages(ctx context.Context, orderID string) ([]CreditNoteUsage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []CreditNoteUsage
	for _, u := range m.usages {
		if u.OrderID == orderID {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *memStore) StuckOrders(ctx context.Context, status Status, olderThan time.Duration) ([]StuckOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var out []StuckOrder
	for _, h := range m.history {
		o := m.orders[h.OrderID]
		if h.NewStatus == status && o != nil && o.Status == status && !h.CreatedAt.After(cutoff) {
			out = append(out, StuckOrder{OrderID: o.ID, OrderNumber: o.OrderNumber, Status: o.Status, Since: h.CreatedAt})
		}
	}
	return out, nil
}

func (m *memStore) TransitionStats(ctx context.Context, from, to Status) (TransitionStats, error) {
	return TransitionStats{From: from, To: to}, nil
}

func (m *memStore) ActivitySummary(ctx context.Context, days int) ([]ActivityEntry, error) {
	return nil, nil
}

func (m *memStore) ChangesBy(ctx context.Context, userID string, limit int) ([]StatusHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []StatusHistory
	for _, h := range m.history {
		if h.ChangedBy == userID {
			out = append(out, h)
		}
	}
	return out, nil
}
