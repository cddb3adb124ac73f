package store

import (
	"context"
	"time"

	"chatterfix/types"

	"github.com/uptrace/bun"
)

type ScheduleFilter struct {
	AssetID    *int64
	ActiveOnly bool
	Limit      int
	Offset     int
}

func (s *Store) CreateSchedule(ctx context.Context, m *types.MaintenanceSchedule) error {
	now := s.now()
	m.ApplyDefaults(now)
	if err := m.Validate(); err != nil {
		return err
	}
	m.ID = 0
	m.CreatedAt = now
	m.UpdatedAt = now

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := assetExists(ctx, tx, &m.AssetID); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(m).Exec(ctx)
		return MapDBError(err)
	})
}

func (s *Store) GetSchedule(ctx context.Context, id int64) (*types.MaintenanceSchedule, error) {
	m := new(types.MaintenanceSchedule)
	if err := s.db.NewSelect().Model(m).Where("ms.id = ?", id).Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	return m, nil
}

func (s *Store) ListSchedules(ctx context.Context, f ScheduleFilter) ([]types.MaintenanceSchedule, int, error) {
	limit, offset := normalizePage(f.Limit, f.Offset)
	var items []types.MaintenanceSchedule
	q := s.db.NewSelect().Model(&items)
	if f.AssetID != nil {
		q = q.Where("ms.asset_id = ?", *f.AssetID)
	}
	if f.ActiveOnly {
		q = q.Where("ms.active = ?", true)
	}
	total, err := q.OrderExpr("ms.next_due ASC").OrderExpr("ms.id ASC").Limit(limit).Offset(offset).ScanAndCount(ctx)
	if err != nil {
		return nil, 0, MapDBError(err)
	}
	if items == nil {
		items = []types.MaintenanceSchedule{}
	}
	return items, total, nil
}

// ListDueSchedules returns active schedules whose NextDue is at or before now.
// Filtering happens in Go so time comparison does not depend on how each dialect stores timestamps.
func (s *Store) ListDueSchedules(ctx context.Context, now time.Time) ([]types.MaintenanceSchedule, error) {
	var active []types.MaintenanceSchedule
	if err := s.db.NewSelect().Model(&active).Where("ms.active = ?", true).OrderExpr("ms.id ASC").Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	due := make([]types.MaintenanceSchedule, 0, len(active))
	for _, m := range active {
		if m.IsDue(now) {
			due = append(due, m)
		}
	}
	return due, nil
}

func (s *Store) UpdateSchedule(ctx context.Context, m *types.MaintenanceSchedule) error {
	existing, err := s.GetSchedule(ctx, m.ID)
	if err != nil {
		return err
	}
	m.ApplyDefaults(s.now())
	if err := m.Validate(); err != nil {
		return err
	}
	m.CreatedAt = existing.CreatedAt
	m.UpdatedAt = s.now()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := assetExists(ctx, tx, &m.AssetID); err != nil {
			return err
		}
		return checkAffected(tx.NewUpdate().Model(m).WherePK().Exec(ctx))
	})
}

// SetScheduleNextDue moves a schedule to its next occurrence.
func (s *Store) SetScheduleNextDue(ctx context.Context, id int64, next time.Time) error {
	return checkAffected(s.db.NewUpdate().Model((*types.MaintenanceSchedule)(nil)).
		Set("next_due = ?", next).
		Set("updated_at = ?", s.now()).
		Where("id = ?", id).
		Exec(ctx))
}

func (s *Store) DeleteSchedule(ctx context.Context, id int64) error {
	return checkAffected(s.db.NewDelete().Model((*types.MaintenanceSchedule)(nil)).Where("id = ?", id).Exec(ctx))
}
