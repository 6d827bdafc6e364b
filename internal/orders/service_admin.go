package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/tiendalink/ordercore/internal/resilience"
)

// Operational queries over the audit trail. Read-only, admin surface.

func (s *Service) StuckOrders(ctx context.Context, status Status, olderThan time.Duration) ([]StuckOrder, error) {
	if !status.Known() {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	var out []StuckOrder
	err := resilience.Do(ctx, s.log, func(ctx context.Context) error {
		so, err := s.store.StuckOrders(ctx, status, olderThan)
		out = so
		return err
	}, s.readOpts())
	return out, err
}

func (s *Service) TransitionStats(ctx context.Context, from, to Status) (TransitionStats, error) {
	var out TransitionStats
	err := resilience.Do(ctx, s.log, func(ctx context.Context) error {
		st, err := s.store.TransitionStats(ctx, from, to)
		out = st
		return err
	}, s.readOpts())
	return out, err
}

func (s *Service) ActivitySummary(ctx context.Context, days int) ([]ActivityEntry, error) {
	if days <= 0 {
		days = 7
	}
	var out []ActivityEntry
	err := resilience.Do(ctx, s.log, func(ctx context.Context) error {
		es, err := s.store.ActivitySummary(ctx, days)
		out = es
		return err
	}, s.readOpts())
	return out, err
}

func (s *Service) ChangesBy(ctx context.Context, userID string, limit int) ([]StatusHistory, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []StatusHistory
	err := resilience.Do(ctx, s.log, func(ctx context.Context) error {
		h, err := s.store.ChangesBy(ctx, userID, limit)
		out = h
		return err
	}, s.readOpts())
	return out, err
}
