package orders

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ChangeStatusTx updates the order status and appends the audit row in one
// transaction. The row lock on the order serializes concurrent transitions,
// so history entries for one order are totally ordered.
func (r *Repo) ChangeStatusTx(ctx context.Context, orderID string, newStatus Status, actor Actor, notes string) (*StatusChange, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current Status
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if current == newStatus {
		// Idempotent no-op: no update, no audit row.
		row := tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, orderID)
		order, err := scanOrder(row)
		if err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		return &StatusChange{Updated: false, Order: order}, nil
	}

	// Re-check under the lock; the caller's advisory check may be stale.
	if !CanTransition(current, newStatus) {
		return nil, &InvalidTransitionError{From: current, To: newStatus}
	}

	now := time.Now().UTC()
	switch newStatus {
	case StatusConfirmed:
		_, err = tx.Exec(ctx, `UPDATE orders SET status=$2,
			confirmed_at = COALESCE(confirmed_at, $3) WHERE id=$1`, orderID, newStatus, now)
	case StatusCanceled:
		_, err = tx.Exec(ctx, `UPDATE orders SET status=$2, canceled_at=$3 WHERE id=$1`, orderID, newStatus, now)
	case StatusCompleted:
		_, err = tx.Exec(ctx, `UPDATE orders SET status=$2, completed_at=$3 WHERE id=$1`, orderID, newStatus, now)
	default:
		_, err = tx.Exec(ctx, `UPDATE orders SET status=$2 WHERE id=$1`, orderID, newStatus)
	}
	if err != nil {
		return nil, err
	}

	entry := StatusHistory{
		ID:             uuid.NewString(),
		OrderID:        orderID,
		PreviousStatus: &current,
		NewStatus:      newStatus,
		ChangedBy:      actor.ID,
		ChangedByName:  actor.Name,
		ChangedByRole:  actor.Role,
		Notes:          notes,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO order_status_history(id, order_id, previous_status, new_status,
			changed_by, changed_by_name, changed_by_role, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		entry.ID, orderID, entry.PreviousStatus, newStatus,
		actor.ID, actor.Name, actor.Role, notes).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, err
	}

	row := tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &StatusChange{Updated: true, Order: order, Entry: &entry}, nil
}

const historyCols = `id, order_id, previous_status, new_status,
	changed_by, changed_by_name, changed_by_role, notes, created_at`

func scanHistory(rows pgx.Rows) ([]StatusHistory, error) {
	defer rows.Close()
	var out []StatusHistory
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.PreviousStatus, &h.NewStatus,
			&h.ChangedBy, &h.ChangedByName, &h.ChangedByRole, &h.Notes, &h.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (r *Repo) History(ctx context.Context, orderID string) ([]StatusHistory, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+historyCols+`
		FROM order_status_history WHERE order_id=$1 ORDER BY seq`, orderID)
	if err != nil {
		return nil, err
	}
	return scanHistory(rows)
}

func (r *Repo) ChangesBy(ctx context.Context, userID string, limit int) ([]StatusHistory, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.Query(ctx, `SELECT `+historyCols+`
		FROM order_status_history WHERE changed_by=$1
		ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, err
	}
	return scanHistory(rows)
}

func (r *Repo) CreditUsages(ctx context.Context, orderID string) ([]CreditNoteUsage, error) {
	rows, err := r.DB.Query(ctx, `SELECT id, credit_note_id, order_id, amount_cents, created_at
		FROM credit_note_usages WHERE order_id=$1 ORDER BY created_at`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CreditNoteUsage
	for rows.Next() {
		var u CreditNoteUsage
		if err := rows.Scan(&u.ID, &u.CreditNoteID, &u.OrderID, &u.AmountCents, &u.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// StuckOrders lists orders whose last transition into the given status is
// older than the threshold and that still hold that status. Current status is
// read from the order row, never reconstructed from history.
func (r *Repo) StuckOrders(ctx context.Context, status Status, olderThan time.Duration) ([]StuckOrder, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	rows, err := r.DB.Query(ctx, `
		SELECT o.id, o.order_number, o.status, h.created_at
		FROM order_status_history h
		JOIN orders o ON o.id = h.order_id
		WHERE h.new_status = $1
		  AND h.created_at <= $2
		  AND o.status = $1
		ORDER BY h.created_at`, status, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StuckOrder
	for rows.Next() {
		var s StuckOrder
		if err := rows.Scan(&s.OrderID, &s.OrderNumber, &s.Status, &s.Since); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TransitionStats computes the average minutes spent between two statuses
// across all orders, from the audit log.
func (r *Repo) TransitionStats(ctx context.Context, from, to Status) (TransitionStats, error) {
	stats := TransitionStats{From: from, To: to}
	var avg *float64
	err := r.DB.QueryRow(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (h2.created_at - h1.created_at)) / 60)
		FROM order_status_history h1
		JOIN order_status_history h2 ON h1.order_id = h2.order_id
		WHERE h1.new_status = $1
		  AND h2.new_status = $2
		  AND h2.created_at > h1.created_at`, from, to).Scan(&avg)
	if err != nil {
		return stats, err
	}
	if avg != nil {
		stats.AvgMinutes = *avg
	}
	return stats, nil
}

func (r *Repo) ActivitySummary(ctx context.Context, days int) ([]ActivityEntry, error) {
	if days <= 0 {
		days = 7
	}
	since := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := r.DB.Query(ctx, `
		SELECT changed_by_role, new_status, COUNT(*)
		FROM order_status_history
		WHERE created_at >= $1
		GROUP BY changed_by_role, new_status
		ORDER BY changed_by_role, new_status`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ActivityEntry
	for rows.Next() {
		var e ActivityEntry
		if err := rows.Scan(&e.Role, &e.Status, &e.Count); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
