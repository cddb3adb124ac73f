package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkOrderStatus_CanTransition(t *testing.T) {
	testCases := []struct {
		name string
		from WorkOrderStatus
		to   WorkOrderStatus
		want bool
	}{
		{"open to in progress", StatusOpen, StatusInProgress, true},
		{"on hold to completed", StatusOnHold, StatusCompleted, true},
		{"same status", StatusInProgress, StatusInProgress, true},
		{"completed can reopen", StatusCompleted, StatusOpen, true},
		{"completed cannot go on hold", StatusCompleted, StatusOnHold, false},
		{"cancelled is final", StatusCancelled, StatusOpen, false},
		{"unknown target", StatusOpen, WorkOrderStatus("archived"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.from.CanTransition(tc.to))
		})
	}
}

func TestParsePriority(t *testing.T) {
	assert.Equal(t, PriorityCritical, ParsePriority(" CRITICAL "))
	assert.Equal(t, PriorityLow, ParsePriority("low"))
	assert.Equal(t, PriorityMedium, ParsePriority("whenever"))
	assert.Equal(t, PriorityMedium, ParsePriority(""))
	assert.Greater(t, PriorityHigh.Rank(), PriorityMedium.Rank())
}

func TestWorkOrder_ValidateDefaults(t *testing.T) {
	wo := &WorkOrder{Title: "  Replace conveyor belt  "}
	wo.ApplyDefaults()

	require.NoError(t, wo.Validate())
	assert.Equal(t, "Replace conveyor belt", wo.Title)
	assert.Equal(t, StatusOpen, wo.Status)
	assert.Equal(t, PriorityMedium, wo.Priority)
	assert.Equal(t, CategoryGeneral, wo.Category)
	assert.Equal(t, SourceManual, wo.Source)
}

func TestWorkOrder_ValidateErrors(t *testing.T) {
	badAsset := int64(-4)
	wo := &WorkOrder{
		Status:   "done",
		Priority: "meh",
		Category: CategoryHVAC,
		Source:   SourceVoice,
		AssetID:  &badAsset,
	}

	err := wo.Validate()
	require.Error(t, err)

	var verrs ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Contains(t, verrs, "title")
	assert.Contains(t, verrs, "status")
	assert.Contains(t, verrs, "priority")
	assert.Contains(t, verrs, "asset_id")
	assert.NotContains(t, verrs, "category")
	assert.Contains(t, err.Error(), "asset_id: must be positive")
}

func TestWorkOrder_IsOverdue(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	yesterday := now.Add(-24 * time.Hour)

	wo := &WorkOrder{Status: StatusOpen, DueDate: &yesterday}
	assert.True(t, wo.IsOverdue(now))

	wo.Status = StatusCompleted
	assert.False(t, wo.IsOverdue(now))

	wo.Status = StatusOpen
	wo.DueDate = nil
	assert.False(t, wo.IsOverdue(now))
}

func TestAsset_Validate(t *testing.T) {
	asset := &Asset{Name: "Chiller 2", AssetTag: "CH-002"}
	asset.ApplyDefaults()
	require.NoError(t, asset.Validate())
	assert.Equal(t, 3, asset.Criticality)
	assert.Equal(t, AssetOperational, asset.Status)

	asset.Criticality = 9
	err := asset.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "criticality")
}

func TestPart_Stock(t *testing.T) {
	part := &Part{PartNumber: "BRG-6204", Name: "Bearing", Quantity: 2, MinQuantity: 5}
	require.NoError(t, part.Validate())
	assert.True(t, part.IsLowStock())
	assert.Equal(t, 8, part.ReorderQuantity())

	part.Quantity = 12
	assert.False(t, part.IsLowStock())
	assert.Equal(t, 0, part.ReorderQuantity())

	part.Quantity = -1
	assert.Error(t, part.Validate())
}

func TestMaintenanceSchedule_Advance(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	sched := &MaintenanceSchedule{
		AssetID:       1,
		Title:         "Lubricate bearings",
		FrequencyDays: 7,
		Active:        true,
		NextDue:       now.AddDate(0, 0, -20),
	}
	sched.ApplyDefaults(now)
	require.NoError(t, sched.Validate())
	assert.True(t, sched.IsDue(now))

	sched.Advance(now)
	assert.True(t, sched.NextDue.After(now))
	assert.False(t, sched.NextDue.After(now.AddDate(0, 0, 7)))
	assert.Equal(t, now.AddDate(0, 0, 1), sched.NextDue)

	sched.Active = false
	sched.NextDue = now
	assert.False(t, sched.IsDue(now))
}

func TestMaintenanceSchedule_DefaultNextDue(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	sched := &MaintenanceSchedule{AssetID: 3, Title: "Filter swap", FrequencyDays: 30}
	sched.ApplyDefaults(now)
	assert.Equal(t, now.AddDate(0, 0, 30), sched.NextDue)
	assert.Equal(t, PriorityMedium, sched.Priority)
}

func TestRole_Allows(t *testing.T) {
	assert.True(t, RoleAdmin.Allows(RoleManager))
	assert.True(t, RoleTechnician.Allows(RoleTechnician))
	assert.False(t, RoleViewer.Allows(RoleTechnician))
	assert.False(t, Role("intern").Allows(RoleViewer))
}

func TestUser_JSONHidesPasswordHash(t *testing.T) {
	u := User{Username: "maria", Role: RoleTechnician, PasswordHash: "$2a$10$secret", Active: true}
	require.NoError(t, u.Validate())

	data, err := json.Marshal(u)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
	assert.Contains(t, string(data), `"username":"maria"`)
}
