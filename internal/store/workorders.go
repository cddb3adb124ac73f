package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"chatterfix/types"

	"github.com/uptrace/bun"
)

// WorkOrderFilter narrows ListWorkOrders. Zero values mean "any".
type WorkOrderFilter struct {
	Statuses   []types.WorkOrderStatus
	ActiveOnly bool
	Priority   types.Priority
	Category   types.Category
	Source     types.WorkOrderSource
	AssetID    *int64
	ScheduleID *int64
	AssignedTo string
	Query      string
	Limit      int
	Offset     int
}

var activeStatuses = []types.WorkOrderStatus{types.StatusOpen, types.StatusInProgress, types.StatusOnHold}

func (f WorkOrderFilter) apply(q *bun.SelectQuery) *bun.SelectQuery {
	statuses := f.Statuses
	if f.ActiveOnly {
		statuses = activeStatuses
	}
	if len(statuses) > 0 {
		q = q.Where("wo.status IN (?)", bun.In(statuses))
	}
	if f.Priority != "" {
		q = q.Where("wo.priority = ?", f.Priority)
	}
	if f.Category != "" {
		q = q.Where("wo.category = ?", f.Category)
	}
	if f.Source != "" {
		q = q.Where("wo.source = ?", f.Source)
	}
	if f.AssetID != nil {
		q = q.Where("wo.asset_id = ?", *f.AssetID)
	}
	if f.ScheduleID != nil {
		q = q.Where("wo.schedule_id = ?", *f.ScheduleID)
	}
	if f.AssignedTo != "" {
		q = q.Where("wo.assigned_to = ?", f.AssignedTo)
	}
	if strings.TrimSpace(f.Query) != "" {
		pattern := likePattern(f.Query)
		q = q.WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("LOWER(wo.title) LIKE ? ESCAPE '!'", pattern).WhereOr("LOWER(wo.description) LIKE ? ESCAPE '!'", pattern)
		})
	}
	return q
}

// CreateWorkOrder validates and inserts wo, filling ID and timestamps.
func (s *Store) CreateWorkOrder(ctx context.Context, wo *types.WorkOrder) error {
	wo.ApplyDefaults()
	if err := wo.Validate(); err != nil {
		return err
	}
	now := s.now()
	wo.ID = 0
	wo.CreatedAt = now
	wo.UpdatedAt = now
	if wo.Status == types.StatusCompleted && wo.CompletedAt == nil {
		wo.CompletedAt = timePtr(now)
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := assetExists(ctx, tx, wo.AssetID); err != nil {
			return err
		}
		_, err := tx.NewInsert().Model(wo).Exec(ctx)
		return MapDBError(err)
	})
}

// GetWorkOrder loads a work order by ID.
func (s *Store) GetWorkOrder(ctx context.Context, id int64) (*types.WorkOrder, error) {
	return getWorkOrder(ctx, s.db, id)
}

func getWorkOrder(ctx context.Context, db bun.IDB, id int64) (*types.WorkOrder, error) {
	wo := new(types.WorkOrder)
	if err := db.NewSelect().Model(wo).Where("wo.id = ?", id).Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	return wo, nil
}

// ListWorkOrders returns a page of work orders, newest first, and the total matching count.
func (s *Store) ListWorkOrders(ctx context.Context, f WorkOrderFilter) ([]types.WorkOrder, int, error) {
	limit, offset := normalizePage(f.Limit, f.Offset)
	var items []types.WorkOrder
	q := f.apply(s.db.NewSelect().Model(&items)).
		OrderExpr("wo.created_at DESC").
		OrderExpr("wo.id DESC").
		Limit(limit).
		Offset(offset)
	total, err := q.ScanAndCount(ctx)
	if err != nil {
		return nil, 0, MapDBError(err)
	}
	if items == nil {
		items = []types.WorkOrder{}
	}
	return items, total, nil
}

// UpdateWorkOrder persists wo after checking the status transition against the stored row.
// CompletedAt is stamped when the order becomes completed and cleared when it is reopened.
func (s *Store) UpdateWorkOrder(ctx context.Context, wo *types.WorkOrder) error {
	wo.ApplyDefaults()
	if err := wo.Validate(); err != nil {
		return err
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := getWorkOrder(ctx, tx, wo.ID)
		if err != nil {
			return err
		}
		if !existing.Status.CanTransition(wo.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, existing.Status, wo.Status)
		}
		if err := assetExists(ctx, tx, wo.AssetID); err != nil {
			return err
		}

		now := s.now()
		wo.CreatedAt = existing.CreatedAt
		wo.UpdatedAt = now
		switch {
		case wo.Status == types.StatusCompleted && existing.Status != types.StatusCompleted:
			wo.CompletedAt = timePtr(now)
		case wo.Status != types.StatusCompleted:
			wo.CompletedAt = nil
		default:
			wo.CompletedAt = existing.CompletedAt
		}

		if err := checkAffected(tx.NewUpdate().Model(wo).WherePK().Exec(ctx)); err != nil {
			return err
		}
		if wo.Status == types.StatusCompleted && existing.Status != types.StatusCompleted {
			return stampScheduleCompletion(ctx, tx, wo.ScheduleID, now)
		}
		return nil
	})
}

// CompleteWorkOrder closes an active work order with resolution notes.
func (s *Store) CompleteWorkOrder(ctx context.Context, id int64, notes string) (*types.WorkOrder, error) {
	var wo *types.WorkOrder
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		wo, err = getWorkOrder(ctx, tx, id)
		if err != nil {
			return err
		}
		if !wo.Status.IsActive() {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, wo.Status, types.StatusCompleted)
		}

		now := s.now()
		wo.Status = types.StatusCompleted
		wo.CompletedAt = timePtr(now)
		wo.UpdatedAt = now
		if strings.TrimSpace(notes) != "" {
			wo.ResolutionNotes = strings.TrimSpace(notes)
		}

		if err := checkAffected(tx.NewUpdate().Model(wo).
			Column("status", "completed_at", "updated_at", "resolution_notes").
			WherePK().Exec(ctx)); err != nil {
			return err
		}
		return stampScheduleCompletion(ctx, tx, wo.ScheduleID, now)
	})
	if err != nil {
		return nil, err
	}
	return wo, nil
}

// DeleteWorkOrder removes a work order.
func (s *Store) DeleteWorkOrder(ctx context.Context, id int64) error {
	return checkAffected(s.db.NewDelete().Model((*types.WorkOrder)(nil)).Where("id = ?", id).Exec(ctx))
}

// OpenMatch identifies an existing active work order for deduplication.
type OpenMatch struct {
	AssetID       *int64
	ScheduleID    *int64
	Source        types.WorkOrderSource
	Title         string // exact, case-insensitive
	TitleContains string
}

// FindOpenWorkOrder returns the newest active work order matching m, or ErrNotFound.
func (s *Store) FindOpenWorkOrder(ctx context.Context, m OpenMatch) (*types.WorkOrder, error) {
	wo := new(types.WorkOrder)
	q := s.db.NewSelect().Model(wo).Where("wo.status IN (?)", bun.In(activeStatuses))
	if m.AssetID != nil {
		q = q.Where("wo.asset_id = ?", *m.AssetID)
	}
	if m.ScheduleID != nil {
		q = q.Where("wo.schedule_id = ?", *m.ScheduleID)
	}
	if m.Source != "" {
		q = q.Where("wo.source = ?", m.Source)
	}
	if m.Title != "" {
		q = q.Where("LOWER(wo.title) = ?", strings.ToLower(strings.TrimSpace(m.Title)))
	}
	if m.TitleContains != "" {
		q = q.Where("LOWER(wo.title) LIKE ? ESCAPE '!'", likePattern(m.TitleContains))
	}
	if err := q.OrderExpr("wo.id DESC").Limit(1).Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	return wo, nil
}

// ListCompletedWorkOrders returns completed work orders, newest first, for indexing.
func (s *Store) ListCompletedWorkOrders(ctx context.Context, limit int) ([]types.WorkOrder, error) {
	if limit <= 0 {
		limit = 1000
	}
	var items []types.WorkOrder
	err := s.db.NewSelect().Model(&items).
		Where("wo.status = ?", types.StatusCompleted).
		OrderExpr("wo.id DESC").
		Limit(limit).
		Scan(ctx)
	return items, MapDBError(err)
}

func assetExists(ctx context.Context, db bun.IDB, assetID *int64) error {
	if assetID == nil {
		return nil
	}
	ok, err := db.NewSelect().Model((*types.Asset)(nil)).Where("id = ?", *assetID).Exists(ctx)
	if err != nil {
		return MapDBError(err)
	}
	if !ok {
		return fmt.Errorf("%w: asset %d", ErrInvalidReference, *assetID)
	}
	return nil
}

func stampScheduleCompletion(ctx context.Context, db bun.IDB, scheduleID *int64, at time.Time) error {
	if scheduleID == nil {
		return nil
	}
	_, err := db.NewUpdate().Model((*types.MaintenanceSchedule)(nil)).
		Set("last_completed = ?", at).
		Set("updated_at = ?", at).
		Where("id = ?", *scheduleID).
		Exec(ctx)
	return MapDBError(err)
}
