package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the pgx-backed Store.
type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

const pgUniqueViolation = "23505"

// EnsureSchema creates the tables the engine owns. Products, carts and
// schedule windows are administered elsewhere; they are created here too so a
// fresh database is usable.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS products (
			id UUID PRIMARY KEY,
			seller_id UUID NOT NULL,
			name TEXT NOT NULL,
			stock INT NOT NULL DEFAULT 0 CHECK (stock >= 0),
			price_cents BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS carts (
			id UUID PRIMARY KEY,
			client_id UUID NOT NULL UNIQUE,
			seller_id UUID NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cart_lines (
			id UUID PRIMARY KEY,
			cart_id UUID NOT NULL REFERENCES carts(id),
			product_id UUID NOT NULL REFERENCES products(id),
			qty INT NOT NULL CHECK (qty > 0)
		)`,
		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			order_number TEXT NOT NULL UNIQUE,
			client_id UUID NOT NULL,
			seller_id UUID NOT NULL,
			status TEXT NOT NULL,
			subtotal_cents BIGINT NOT NULL,
			tax_cents BIGINT NOT NULL,
			total_cents BIGINT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			idempotency_key TEXT UNIQUE,
			confirm_deadline TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			confirmed_at TIMESTAMPTZ,
			canceled_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS order_lines (
			id UUID PRIMARY KEY,
			order_id UUID NOT NULL REFERENCES orders(id),
			product_id UUID NOT NULL,
			product_name TEXT NOT NULL,
			qty INT NOT NULL,
			price_cents BIGINT NOT NULL,
			subtotal_cents BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credit_notes (
			id UUID PRIMARY KEY,
			note_number TEXT NOT NULL UNIQUE,
			client_id UUID NOT NULL,
			amount_cents BIGINT NOT NULL,
			balance_cents BIGINT NOT NULL CHECK (balance_cents >= 0),
			used_cents BIGINT NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			expires_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			CHECK (balance_cents + used_cents = amount_cents)
		)`,
		`CREATE TABLE IF NOT EXISTS credit_note_usages (
			id UUID PRIMARY KEY,
			credit_note_id UUID NOT NULL REFERENCES credit_notes(id),
			order_id UUID NOT NULL REFERENCES orders(id),
			amount_cents BIGINT NOT NULL CHECK (amount_cents > 0),
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS order_status_history (
			id UUID PRIMARY KEY,
			order_id UUID NOT NULL REFERENCES orders(id),
			seq BIGSERIAL,
			previous_status TEXT,
			new_status TEXT NOT NULL,
			changed_by TEXT NOT NULL,
			changed_by_name TEXT NOT NULL,
			changed_by_role TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS schedule_windows (
			id UUID PRIMARY KEY,
			seller_id UUID NOT NULL,
			kind TEXT NOT NULL,
			day_of_week TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			UNIQUE (seller_id, kind, day_of_week)
		)`,
	}
	for _, s := range stmts {
		if _, err := r.DB.Exec(ctx, s); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

const orderCols = `id, order_number, client_id, seller_id, status,
	subtotal_cents, tax_cents, total_cents, notes, idempotency_key,
	confirm_deadline, created_at, confirmed_at, canceled_at, completed_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.ClientID, &o.SellerID, &o.Status,
		&o.SubtotalCents, &o.TaxCents, &o.TotalCents, &o.Notes, &o.IdempotencyKey,
		&o.ConfirmDeadline, &o.CreatedAt, &o.ConfirmedAt, &o.CanceledAt, &o.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (r *Repo) FindByIdempotencyKey(ctx context.Context, key string) (*Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE idempotency_key=$1`, key)
	return scanOrder(row)
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, orderID)
	return scanOrder(row)
}

func (r *Repo) GetOrderWithLines(ctx context.Context, orderID string) (*Order, error) {
	o, err := r.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.Query(ctx, `SELECT id, order_id, product_id, product_name, qty, price_cents, subtotal_cents
		FROM order_lines WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ProductID, &l.ProductName, &l.Qty, &l.PriceCents, &l.SubtotalCents); err != nil {
			return nil, err
		}
		o.Lines = append(o.Lines, l)
	}
	return o, rows.Err()
}

// GetCart loads the buyer's cart with current product snapshots (name, price,
// stock) joined in.
func (r *Repo) GetCart(ctx context.Context, clientID string) (*Cart, error) {
	var c Cart
	err := r.DB.QueryRow(ctx, `SELECT id, client_id, seller_id FROM carts WHERE client_id=$1`, clientID).
		Scan(&c.ID, &c.ClientID, &c.SellerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rows, err := r.DB.Query(ctx, `SELECT p.id, p.name, cl.qty, p.price_cents, p.stock
		FROM cart_lines cl JOIN products p ON p.id = cl.product_id
		WHERE cl.cart_id=$1 ORDER BY cl.id`, c.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l CartLine
		if err := rows.Scan(&l.ProductID, &l.ProductName, &l.Qty, &l.PriceCents, &l.Stock); err != nil {
			return nil, err
		}
		c.Lines = append(c.Lines, l)
	}
	return &c, rows.Err()
}

func (r *Repo) GetCreditNote(ctx context.Context, noteID string) (*CreditNote, error) {
	var n CreditNote
	err := r.DB.QueryRow(ctx, `SELECT id, note_number, client_id, amount_cents, balance_cents,
		used_cents, is_active, expires_at FROM credit_notes WHERE id=$1`, noteID).
		Scan(&n.ID, &n.NoteNumber, &n.ClientID, &n.AmountCents, &n.BalanceCents,
			&n.UsedCents, &n.IsActive, &n.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

// CreateOrderTx turns a validated draft into a persisted order. Stock and
// credit balances are re-checked under row locks: the advisory pre-checks in
// the service are subject to races between concurrent buyers.
func (r *Repo) CreateOrderTx(ctx context.Context, draft OrderDraft) (*Order, bool, error) {
	// Idempotency short-circuit before opening the transaction.
	if draft.IdempotencyKey != nil {
		if o, err := r.FindByIdempotencyKey(ctx, *draft.IdempotencyKey); err == nil {
			return o, true, nil
		} else if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	orderID := uuid.NewString()
	_, err = tx.Exec(ctx, `
		INSERT INTO orders(id, order_number, client_id, seller_id, status,
			subtotal_cents, tax_cents, total_cents, notes, idempotency_key)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		orderID, draft.OrderNumber, draft.ClientID, draft.SellerID, StatusPending,
		draft.SubtotalCents, draft.TaxCents, draft.TotalCents, draft.Notes, draft.IdempotencyKey)
	if err != nil {
		// A concurrent creation with the same idempotency key won the race;
		// map the loser's insert back to the winner's order.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation && draft.IdempotencyKey != nil {
			_ = tx.Rollback(ctx)
			if o, ferr := r.FindByIdempotencyKey(ctx, *draft.IdempotencyKey); ferr == nil {
				return o, true, nil
			}
		}
		return nil, false, err
	}

	lines := make([]OrderLine, 0, len(draft.Lines))
	for _, line := range draft.Lines {
		var stock int
		if err := tx.QueryRow(ctx, `SELECT stock FROM products WHERE id=$1 FOR UPDATE`, line.ProductID).Scan(&stock); err != nil {
			return nil, false, err
		}
		if stock < line.Qty {
			return nil, false, &InsufficientStockError{
				ProductID:   line.ProductID,
				ProductName: line.ProductName,
				Requested:   line.Qty,
				Available:   stock,
			}
		}
		if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock - $2 WHERE id=$1`, line.ProductID, line.Qty); err != nil {
			return nil, false, err
		}
		line.ID = uuid.NewString()
		line.OrderID = orderID
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_lines(id, order_id, product_id, product_name, qty, price_cents, subtotal_cents)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			line.ID, orderID, line.ProductID, line.ProductName, line.Qty, line.PriceCents, line.SubtotalCents); err != nil {
			return nil, false, err
		}
		lines = append(lines, line)
	}

	for _, sel := range draft.Credits {
		var n CreditNote
		err := tx.QueryRow(ctx, `SELECT id, client_id, balance_cents, is_active, expires_at
			FROM credit_notes WHERE id=$1 FOR UPDATE`, sel.CreditNoteID).
			Scan(&n.ID, &n.ClientID, &n.BalanceCents, &n.IsActive, &n.ExpiresAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, false, &CreditError{CreditNoteID: sel.CreditNoteID, Reason: CreditNotFound}
			}
			return nil, false, err
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
		if _, err := tx.Exec(ctx, `
			INSERT INTO credit_note_usages(id, credit_note_id, order_id, amount_cents)
			VALUES ($1,$2,$3,$4)`,
			uuid.NewString(), sel.CreditNoteID, orderID, sel.AmountCents); err != nil {
			return nil, false, err
		}
		// Deactivate once drained.
		if _, err := tx.Exec(ctx, `UPDATE credit_notes
			SET balance_cents = balance_cents - $2,
			    used_cents = used_cents + $2,
			    is_active = (balance_cents - $2) > 0
			WHERE id=$1`, sel.CreditNoteID, sel.AmountCents); err != nil {
			return nil, false, err
		}
	}

	if _, err := tx.Exec(ctx, `DELETE FROM cart_lines WHERE cart_id=$1`, draft.CartID); err != nil {
		return nil, false, err
	}

	row := tx.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE id=$1`, orderID)
	order, err := scanOrder(row)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	order.Lines = lines
	return order, false, nil
}
