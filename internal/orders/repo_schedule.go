package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/tiendalink/ordercore/internal/schedule"
)

var _ schedule.WindowStore = (*Repo)(nil)

// ActiveWindow implements schedule.WindowStore. Windows are administered
// elsewhere; this is a read-only lookup.
func (r *Repo) ActiveWindow(ctx context.Context, sellerID string, kind schedule.Kind, day schedule.Day) (*schedule.Window, error) {
	var w schedule.Window
	err := r.DB.QueryRow(ctx, `
		SELECT seller_id, kind, day_of_week, start_time, end_time, is_active
		FROM schedule_windows
		WHERE seller_id=$1 AND kind=$2 AND day_of_week=$3 AND is_active`,
		sellerID, kind, day).
		Scan(&w.SellerID, &w.Kind, &w.Day, &w.StartTime, &w.EndTime, &w.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &w, nil
}
