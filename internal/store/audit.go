package store

import (
	"context"
	"time"

	"chatterfix/types"

	"github.com/uptrace/bun"
)

// LogAction appends an entry to the audit log.
func (s *Store) LogAction(ctx context.Context, username, action, resourceType, resourceID, details string) error {
	entry := &types.AuditEntry{
		Username:     username,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Details:      details,
		CreatedAt:    s.now(),
	}
	_, err := s.db.NewInsert().Model(entry).Exec(ctx)
	return MapDBError(err)
}

// ListAudit returns the newest audit entries first.
func (s *Store) ListAudit(ctx context.Context, limit int) ([]types.AuditEntry, error) {
	limit, _ = normalizePage(limit, 0)
	var entries []types.AuditEntry
	if err := s.db.NewSelect().Model(&entries).OrderExpr("al.id DESC").Limit(limit).Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	if entries == nil {
		entries = []types.AuditEntry{}
	}
	return entries, nil
}

// DashboardStats summarizes the maintenance backlog.
type DashboardStats struct {
	WorkOrdersByStatus map[types.WorkOrderStatus]int `json:"work_orders_by_status"`
	OpenWorkOrders     int                           `json:"open_work_orders"`
	CriticalOpen       int                           `json:"critical_open"`
	OverdueWorkOrders  int                           `json:"overdue_work_orders"`
	TotalAssets        int                           `json:"total_assets"`
	AssetsDown         int                           `json:"assets_down"`
	TotalParts         int                           `json:"total_parts"`
	LowStockParts      int                           `json:"low_stock_parts"`
	DueSchedules       int                           `json:"due_schedules"`
	GeneratedAt        time.Time                     `json:"generated_at"`
}

// Stats computes dashboard counts at now.
func (s *Store) Stats(ctx context.Context, now time.Time) (*DashboardStats, error) {
	stats := &DashboardStats{
		WorkOrdersByStatus: make(map[types.WorkOrderStatus]int),
		GeneratedAt:        now,
	}

	var byStatus []struct {
		Status types.WorkOrderStatus `bun:"status"`
		Count  int                   `bun:"cnt"`
	}
	err := s.db.NewSelect().Model((*types.WorkOrder)(nil)).
		Column("status").
		ColumnExpr("COUNT(*) AS cnt").
		Group("status").
		Scan(ctx, &byStatus)
	if err != nil {
		return nil, MapDBError(err)
	}
	for _, row := range byStatus {
		stats.WorkOrdersByStatus[row.Status] = row.Count
		if row.Status.IsActive() {
			stats.OpenWorkOrders += row.Count
		}
	}

	var active []types.WorkOrder
	if err := s.db.NewSelect().Model(&active).
		Column("id", "priority", "status", "due_date").
		Where("wo.status IN (?)", bun.In(activeStatuses)).
		Scan(ctx); err != nil {
		return nil, MapDBError(err)
	}
	for i := range active {
		if active[i].Priority == types.PriorityCritical {
			stats.CriticalOpen++
		}
		if active[i].IsOverdue(now) {
			stats.OverdueWorkOrders++
		}
	}

	if stats.TotalAssets, err = s.db.NewSelect().Model((*types.Asset)(nil)).Count(ctx); err != nil {
		return nil, MapDBError(err)
	}
	if stats.AssetsDown, err = s.db.NewSelect().Model((*types.Asset)(nil)).Where("status = ?", types.AssetDown).Count(ctx); err != nil {
		return nil, MapDBError(err)
	}
	if stats.TotalParts, err = s.db.NewSelect().Model((*types.Part)(nil)).Count(ctx); err != nil {
		return nil, MapDBError(err)
	}
	if stats.LowStockParts, err = s.db.NewSelect().Model((*types.Part)(nil)).Where("quantity <= min_quantity").Count(ctx); err != nil {
		return nil, MapDBError(err)
	}

	due, err := s.ListDueSchedules(ctx, now)
	if err != nil {
		return nil, err
	}
	stats.DueSchedules = len(due)

	return stats, nil
}
