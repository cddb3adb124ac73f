package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatterfix/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedAsset(t *testing.T, s *Store, tag string, criticality int) *types.Asset {
	t.Helper()
	a := &types.Asset{Name: "Asset " + tag, AssetTag: tag, Location: "Plant 1", Criticality: criticality}
	require.NoError(t, s.CreateAsset(context.Background(), a))
	return a
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), Options{Driver: "oracle", DSN: "x"})
	assert.Error(t, err)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Migrate(ctx))
	version, err := s.SchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestWorkOrder_CRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	asset := seedAsset(t, s, "PMP-001", 4)

	wo := &types.WorkOrder{
		Title:       "Pump leaking",
		Description: "Seal failure on the north pump",
		Priority:    types.PriorityHigh,
		Category:    types.CategoryPlumbing,
		AssetID:     &asset.ID,
	}
	require.NoError(t, s.CreateWorkOrder(ctx, wo))
	require.NotZero(t, wo.ID)
	assert.Equal(t, types.StatusOpen, wo.Status)
	assert.Equal(t, types.SourceManual, wo.Source)

	got, err := s.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pump leaking", got.Title)
	require.NotNil(t, got.AssetID)
	assert.Equal(t, asset.ID, *got.AssetID)

	got.Status = types.StatusInProgress
	got.AssignedTo = "maria"
	require.NoError(t, s.UpdateWorkOrder(ctx, got))

	reloaded, err := s.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusInProgress, reloaded.Status)
	assert.Equal(t, "maria", reloaded.AssignedTo)
	assert.Nil(t, reloaded.CompletedAt)

	require.NoError(t, s.DeleteWorkOrder(ctx, wo.ID))
	_, err = s.GetWorkOrder(ctx, wo.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.DeleteWorkOrder(ctx, wo.ID), ErrNotFound)
}

func TestWorkOrder_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.CreateWorkOrder(ctx, &types.WorkOrder{Title: " ", Priority: "urgent"})
	var verrs types.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Contains(t, verrs, "title")
	assert.Contains(t, verrs, "priority")

	missing := int64(999)
	err = s.CreateWorkOrder(ctx, &types.WorkOrder{Title: "Orphan", AssetID: &missing})
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestWorkOrder_StatusTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wo := &types.WorkOrder{Title: "Replace filter"}
	require.NoError(t, s.CreateWorkOrder(ctx, wo))

	completed, err := s.CompleteWorkOrder(ctx, wo.ID, "Filter replaced")
	require.NoError(t, err)
	assert.Equal(t, types.StatusCompleted, completed.Status)
	require.NotNil(t, completed.CompletedAt)
	assert.Equal(t, "Filter replaced", completed.ResolutionNotes)

	_, err = s.CompleteWorkOrder(ctx, wo.ID, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	completed.Status = types.StatusOnHold
	assert.ErrorIs(t, s.UpdateWorkOrder(ctx, completed), ErrInvalidTransition)

	completed.Status = types.StatusOpen
	require.NoError(t, s.UpdateWorkOrder(ctx, completed))
	reopened, err := s.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusOpen, reopened.Status)
	assert.Nil(t, reopened.CompletedAt)

	reopened.Status = types.StatusCancelled
	require.NoError(t, s.UpdateWorkOrder(ctx, reopened))
	reopened.Status = types.StatusOpen
	assert.ErrorIs(t, s.UpdateWorkOrder(ctx, reopened), ErrInvalidTransition)
}

func TestListWorkOrders_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	asset := seedAsset(t, s, "CNV-7", 3)

	orders := []*types.WorkOrder{
		{Title: "Conveyor belt slipping", Priority: types.PriorityHigh, Category: types.CategoryMechanical, AssetID: &asset.ID},
		{Title: "Breaker trips", Priority: types.PriorityCritical, Category: types.CategoryElectrical},
		{Title: "Paint touch-up", Priority: types.PriorityLow, Description: "Cosmetic scratch on conveyor guard"},
	}
	for _, wo := range orders {
		require.NoError(t, s.CreateWorkOrder(ctx, wo))
	}
	_, err := s.CompleteWorkOrder(ctx, orders[2].ID, "done")
	require.NoError(t, err)

	all, total, err := s.ListWorkOrders(ctx, WorkOrderFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Equal(t, orders[2].ID, all[0].ID, "newest first")

	active, total, err := s.ListWorkOrders(ctx, WorkOrderFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, active, 2)

	critical, _, err := s.ListWorkOrders(ctx, WorkOrderFilter{Priority: types.PriorityCritical})
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.Equal(t, "Breaker trips", critical[0].Title)

	byAsset, _, err := s.ListWorkOrders(ctx, WorkOrderFilter{AssetID: &asset.ID})
	require.NoError(t, err)
	require.Len(t, byAsset, 1)

	search, total, err := s.ListWorkOrders(ctx, WorkOrderFilter{Query: "CONVEYOR"})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, search, 2)

	page, total, err := s.ListWorkOrders(ctx, WorkOrderFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 1)

	completed, err := s.ListCompletedWorkOrders(ctx, 10)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, orders[2].ID, completed[0].ID)
}

func TestFindOpenWorkOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	asset := seedAsset(t, s, "HX-2", 2)

	_, err := s.FindOpenWorkOrder(ctx, OpenMatch{AssetID: &asset.ID})
	assert.ErrorIs(t, err, ErrNotFound)

	wo := &types.WorkOrder{Title: "Reorder part BRG-1", AssetID: &asset.ID, Source: types.SourceAutonomy}
	require.NoError(t, s.CreateWorkOrder(ctx, wo))

	found, err := s.FindOpenWorkOrder(ctx, OpenMatch{Source: types.SourceAutonomy, TitleContains: "brg-1"})
	require.NoError(t, err)
	assert.Equal(t, wo.ID, found.ID)

	_, err = s.CompleteWorkOrder(ctx, wo.ID, "")
	require.NoError(t, err)
	_, err = s.FindOpenWorkOrder(ctx, OpenMatch{AssetID: &asset.ID})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindOpenWorkOrder_ExactTitle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	wo := &types.WorkOrder{Title: "Reorder part P-10", Source: types.SourceAutonomy}
	require.NoError(t, s.CreateWorkOrder(ctx, wo))

	_, err := s.FindOpenWorkOrder(ctx, OpenMatch{Source: types.SourceAutonomy, Title: "Reorder part P-1"})
	assert.ErrorIs(t, err, ErrNotFound, "a title prefix is a different subject")

	found, err := s.FindOpenWorkOrder(ctx, OpenMatch{Source: types.SourceAutonomy, Title: "reorder part p-10"})
	require.NoError(t, err)
	assert.Equal(t, wo.ID, found.ID)
}

func TestListParts_QueryWildcardsAreLiteral(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreatePart(ctx, &types.Part{PartNumber: "V_100", Name: "Valve", Quantity: 1}))
	require.NoError(t, s.CreatePart(ctx, &types.Part{PartNumber: "VX100", Name: "Gasket", Quantity: 1}))
	require.NoError(t, s.CreatePart(ctx, &types.Part{PartNumber: "F-50%", Name: "Filter", Quantity: 1}))

	tests := []struct {
		query string
		want  []string
	}{
		{"v_1", []string{"V_100"}},
		{"50%", []string{"F-50%"}},
		{"%", []string{"F-50%"}},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			items, _, err := s.ListParts(ctx, PartFilter{Query: tt.query})
			require.NoError(t, err)
			var got []string
			for _, p := range items {
				got = append(got, p.PartNumber)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAsset_DuplicateAndInUse(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	asset := seedAsset(t, s, "AHU-1", 5)

	err := s.CreateAsset(ctx, &types.Asset{Name: "Other", AssetTag: "AHU-1"})
	assert.ErrorIs(t, err, ErrDuplicate)

	sched := &types.MaintenanceSchedule{AssetID: asset.ID, Title: "Belt check", FrequencyDays: 30, Active: true}
	require.NoError(t, s.CreateSchedule(ctx, sched))
	assert.ErrorIs(t, s.DeleteAsset(ctx, asset.ID), ErrInUse)

	require.NoError(t, s.DeleteSchedule(ctx, sched.ID))
	require.NoError(t, s.DeleteAsset(ctx, asset.ID))
	_, err = s.GetAsset(ctx, asset.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAsset_WorkOrdersKeepHistory(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	asset := seedAsset(t, s, "A-1", 3)

	wo := &types.WorkOrder{Title: "Replace filter", AssetID: &asset.ID}
	require.NoError(t, s.CreateWorkOrder(ctx, wo))

	require.NoError(t, s.DeleteAsset(ctx, asset.ID))

	got, err := s.GetWorkOrder(ctx, wo.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AssetID)
	assert.Equal(t, asset.ID, *got.AssetID)
}

func TestAsset_UpdateAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedAsset(t, s, "GEN-1", 5)
	seedAsset(t, s, "GEN-2", 1)

	a.Location = "Roof"
	require.NoError(t, s.UpdateAsset(ctx, a))
	require.NoError(t, s.SetAssetStatus(ctx, a.ID, types.AssetDown))

	got, err := s.GetAsset(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Roof", got.Location)
	assert.Equal(t, types.AssetDown, got.Status)

	down, total, err := s.ListAssets(ctx, AssetFilter{Status: types.AssetDown})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "GEN-1", down[0].AssetTag)

	byTag, _, err := s.ListAssets(ctx, AssetFilter{Query: "gen-2"})
	require.NoError(t, err)
	require.Len(t, byTag, 1)

	assert.Error(t, s.SetAssetStatus(ctx, a.ID, "exploded"))
}

func TestPart_AdjustQuantity(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	part := &types.Part{PartNumber: "FLT-20", Name: "Air filter", Quantity: 5, MinQuantity: 2, UnitCost: 12.5}
	require.NoError(t, s.CreatePart(ctx, part))

	adjusted, err := s.AdjustPartQuantity(ctx, part.ID, -3)
	require.NoError(t, err)
	assert.Equal(t, 2, adjusted.Quantity)
	assert.True(t, adjusted.IsLowStock())

	_, err = s.AdjustPartQuantity(ctx, part.ID, -3)
	assert.ErrorIs(t, err, ErrInsufficientStock)

	got, err := s.GetPart(ctx, part.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Quantity, "failed adjustment must not change stock")

	low, err := s.ListLowStockParts(ctx)
	require.NoError(t, err)
	require.Len(t, low, 1)

	_, err = s.AdjustPartQuantity(ctx, 12345, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.CreatePart(ctx, &types.Part{PartNumber: "FLT-20", Name: "dup"})
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestSchedules_DueAndCompletion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	asset := seedAsset(t, s, "CMP-3", 3)
	now := time.Now().UTC()

	due := &types.MaintenanceSchedule{AssetID: asset.ID, Title: "Oil change", FrequencyDays: 90, Active: true, NextDue: now.AddDate(0, 0, -2)}
	later := &types.MaintenanceSchedule{AssetID: asset.ID, Title: "Inspection", FrequencyDays: 30, Active: true, NextDue: now.AddDate(0, 0, 10)}
	paused := &types.MaintenanceSchedule{AssetID: asset.ID, Title: "Paused", FrequencyDays: 7, Active: false, NextDue: now.AddDate(0, 0, -30)}
	for _, m := range []*types.MaintenanceSchedule{due, later, paused} {
		require.NoError(t, s.CreateSchedule(ctx, m))
	}

	dueList, err := s.ListDueSchedules(ctx, now)
	require.NoError(t, err)
	require.Len(t, dueList, 1)
	assert.Equal(t, due.ID, dueList[0].ID)

	wo := &types.WorkOrder{Title: "PM: Oil change", AssetID: &asset.ID, ScheduleID: &due.ID, Source: types.SourceSchedule}
	require.NoError(t, s.CreateWorkOrder(ctx, wo))
	_, err = s.CompleteWorkOrder(ctx, wo.ID, "changed")
	require.NoError(t, err)

	got, err := s.GetSchedule(ctx, due.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.LastCompleted)

	next := now.AddDate(0, 0, 88)
	require.NoError(t, s.SetScheduleNextDue(ctx, due.ID, next))
	dueList, err = s.ListDueSchedules(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, dueList)

	missing := &types.MaintenanceSchedule{AssetID: 404, Title: "x", FrequencyDays: 1}
	assert.ErrorIs(t, s.CreateSchedule(ctx, missing), ErrInvalidReference)

	active, total, err := s.ListSchedules(ctx, ScheduleFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, active, 2)
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u := &types.User{Username: "tech1", Role: types.RoleTechnician, PasswordHash: "hash", Active: true}
	require.NoError(t, s.CreateUser(ctx, u))
	assert.ErrorIs(t, s.CreateUser(ctx, &types.User{Username: "tech1", Role: types.RoleViewer, PasswordHash: "x"}), ErrDuplicate)

	n, err := s.CountUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := s.GetUserByUsername(ctx, "tech1")
	require.NoError(t, err)
	assert.Equal(t, "hash", got.PasswordHash)

	got.Role = types.RoleManager
	require.NoError(t, s.UpdateUser(ctx, got))
	require.NoError(t, s.TouchLastLogin(ctx, got.ID))

	reloaded, err := s.GetUser(ctx, got.ID)
	require.NoError(t, err)
	assert.Equal(t, types.RoleManager, reloaded.Role)
	assert.NotNil(t, reloaded.LastLogin)

	require.NoError(t, s.DeleteUser(ctx, got.ID))
	_, err = s.GetUserByUsername(ctx, "tech1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAuditAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	asset := seedAsset(t, s, "BLR-1", 5)
	require.NoError(t, s.SetAssetStatus(ctx, asset.ID, types.AssetDown))
	past := now.Add(-48 * time.Hour)
	require.NoError(t, s.CreateWorkOrder(ctx, &types.WorkOrder{Title: "Boiler down", Priority: types.PriorityCritical, DueDate: &past}))
	require.NoError(t, s.CreateWorkOrder(ctx, &types.WorkOrder{Title: "Check gauge"}))
	require.NoError(t, s.CreatePart(ctx, &types.Part{PartNumber: "G-1", Name: "Gasket", Quantity: 0, MinQuantity: 1}))

	require.NoError(t, s.LogAction(ctx, "admin", "create", "work_order", "1", "Boiler down"))
	require.NoError(t, s.LogAction(ctx, "admin", "delete", "part", "9", ""))
	entries, err := s.ListAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "delete", entries[0].Action)

	stats, err := s.Stats(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.OpenWorkOrders)
	assert.Equal(t, 2, stats.WorkOrdersByStatus[types.StatusOpen])
	assert.Equal(t, 1, stats.CriticalOpen)
	assert.Equal(t, 1, stats.OverdueWorkOrders)
	assert.Equal(t, 1, stats.TotalAssets)
	assert.Equal(t, 1, stats.AssetsDown)
	assert.Equal(t, 1, stats.LowStockParts)
	assert.Equal(t, 0, stats.DueSchedules)
}

func TestMapDBError(t *testing.T) {
	assert.Nil(t, MapDBError(nil))
	assert.ErrorIs(t, MapDBError(errors.New("UNIQUE constraint failed: assets.asset_tag")), ErrDuplicate)
	assert.ErrorIs(t, MapDBError(errors.New("ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)")), ErrDuplicate)
	assert.ErrorIs(t, MapDBError(errors.New("Error 1062: Duplicate entry")), ErrDuplicate)
	other := errors.New("connection reset")
	assert.Equal(t, other, MapDBError(other))
}
