package types

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// ============================================================================
// VALIDATION
// ============================================================================

// ValidationErrors maps a field name to a human readable problem.
type ValidationErrors map[string]string

func (v ValidationErrors) Error() string {
	fields := make([]string, 0, len(v))
	for field := range v {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, v[field]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// orNil returns nil when no field failed so callers can use the usual err != nil check.
func (v ValidationErrors) orNil() error {
	if len(v) == 0 {
		return nil
	}
	return v
}

// ============================================================================
// ENUMERATIONS
// ============================================================================

type WorkOrderStatus string

const (
	StatusOpen       WorkOrderStatus = "open"
	StatusInProgress WorkOrderStatus = "in_progress"
	StatusOnHold     WorkOrderStatus = "on_hold"
	StatusCompleted  WorkOrderStatus = "completed"
	StatusCancelled  WorkOrderStatus = "cancelled"
)

func (s WorkOrderStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusOnHold, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the work order still needs attention.
func (s WorkOrderStatus) IsActive() bool {
	return s == StatusOpen || s == StatusInProgress || s == StatusOnHold
}

// CanTransition reports whether a work order may move from s to next.
// Cancelled is final, completed may only be reopened.
func (s WorkOrderStatus) CanTransition(next WorkOrderStatus) bool {
	if !next.Valid() {
		return false
	}
	if s == next {
		return true
	}
	switch s {
	case StatusCancelled:
		return false
	case StatusCompleted:
		return next == StatusOpen
	}
	return true
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Rank orders priorities from 1 (low) to 4 (critical); unknown values rank 0.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 0
}

func (p Priority) Valid() bool { return p.Rank() > 0 }

// ParsePriority accepts any casing and returns medium for unknown input.
func ParsePriority(s string) Priority {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if p.Valid() {
		return p
	}
	return PriorityMedium
}

type Category string

const (
	CategoryGeneral    Category = "general"
	CategoryMechanical Category = "mechanical"
	CategoryElectrical Category = "electrical"
	CategoryPlumbing   Category = "plumbing"
	CategoryHVAC       Category = "hvac"
	CategorySafety     Category = "safety"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryGeneral, CategoryMechanical, CategoryElectrical, CategoryPlumbing, CategoryHVAC, CategorySafety:
		return true
	}
	return false
}

type WorkOrderSource string

const (
	SourceManual   WorkOrderSource = "manual"
	SourceVoice    WorkOrderSource = "voice"
	SourceSchedule WorkOrderSource = "schedule"
	SourceAutonomy WorkOrderSource = "autonomy"
	SourceMonitor  WorkOrderSource = "monitor"
)

func (s WorkOrderSource) Valid() bool {
	switch s {
	case SourceManual, SourceVoice, SourceSchedule, SourceAutonomy, SourceMonitor:
		return true
	}
	return false
}

type AssetStatus string

const (
	AssetOperational AssetStatus = "operational"
	AssetMaintenance AssetStatus = "maintenance"
	AssetDown        AssetStatus = "down"
	AssetRetired     AssetStatus = "retired"
)

func (s AssetStatus) Valid() bool {
	switch s {
	case AssetOperational, AssetMaintenance, AssetDown, AssetRetired:
		return true
	}
	return false
}

type Role string

const (
	RoleViewer     Role = "viewer"
	RoleTechnician Role = "technician"
	RoleManager    Role = "manager"
	RoleAdmin      Role = "admin"
)

func (r Role) rank() int {
	switch r {
	case RoleViewer:
		return 1
	case RoleTechnician:
		return 2
	case RoleManager:
		return 3
	case RoleAdmin:
		return 4
	}
	return 0
}

func (r Role) Valid() bool { return r.rank() > 0 }

// Allows reports whether a user holding r may perform an action requiring required.
func (r Role) Allows(required Role) bool {
	return r.Valid() && r.rank() >= required.rank()
}

// ============================================================================
// WORK ORDERS
// ============================================================================

type WorkOrder struct {
	bun.BaseModel `bun:"table:work_orders,alias:wo" json:"-"`

	ID              int64           `bun:"id,pk,autoincrement" json:"id"`
	Title           string          `bun:"title,notnull" json:"title"`
	Description     string          `bun:"description" json:"description"`
	Status          WorkOrderStatus `bun:"status,notnull" json:"status"`
	Priority        Priority        `bun:"priority,notnull" json:"priority"`
	Category        Category        `bun:"category,notnull" json:"category"`
	AssetID         *int64          `bun:"asset_id" json:"asset_id,omitempty"`
	AssignedTo      string          `bun:"assigned_to" json:"assigned_to,omitempty"`
	ScheduleID      *int64          `bun:"schedule_id" json:"schedule_id,omitempty"`
	Source          WorkOrderSource `bun:"source,notnull" json:"source"`
	DueDate         *time.Time      `bun:"due_date" json:"due_date,omitempty"`
	CompletedAt     *time.Time      `bun:"completed_at" json:"completed_at,omitempty"`
	ResolutionNotes string          `bun:"resolution_notes" json:"resolution_notes,omitempty"`
	CreatedBy       string          `bun:"created_by" json:"created_by,omitempty"`
	CreatedAt       time.Time       `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt       time.Time       `bun:"updated_at,notnull" json:"updated_at"`
}

// ApplyDefaults fills empty enum fields with their defaults.
func (w *WorkOrder) ApplyDefaults() {
	w.Title = strings.TrimSpace(w.Title)
	if w.Status == "" {
		w.Status = StatusOpen
	}
	if w.Priority == "" {
		w.Priority = PriorityMedium
	}
	if w.Category == "" {
		w.Category = CategoryGeneral
	}
	if w.Source == "" {
		w.Source = SourceManual
	}
}

func (w *WorkOrder) Validate() error {
	errs := ValidationErrors{}
	if strings.TrimSpace(w.Title) == "" {
		errs["title"] = "is required"
	} else if len(w.Title) > 200 {
		errs["title"] = "must be at most 200 characters"
	}
	if !w.Status.Valid() {
		errs["status"] = fmt.Sprintf("unknown status %q", w.Status)
	}
	if !w.Priority.Valid() {
		errs["priority"] = fmt.Sprintf("unknown priority %q", w.Priority)
	}
	if !w.Category.Valid() {
		errs["category"] = fmt.Sprintf("unknown category %q", w.Category)
	}
	if !w.Source.Valid() {
		errs["source"] = fmt.Sprintf("unknown source %q", w.Source)
	}
	if w.AssetID != nil && *w.AssetID <= 0 {
		errs["asset_id"] = "must be positive"
	}
	return errs.orNil()
}

// IsOverdue reports whether an active work order has passed its due date.
func (w *WorkOrder) IsOverdue(now time.Time) bool {
	return w.Status.IsActive() && w.DueDate != nil && w.DueDate.Before(now)
}

// ============================================================================
// ASSETS
// ============================================================================

type Asset struct {
	bun.BaseModel `bun:"table:assets,alias:a" json:"-"`

	ID           int64       `bun:"id,pk,autoincrement" json:"id"`
	Name         string      `bun:"name,notnull" json:"name"`
	AssetTag     string      `bun:"asset_tag,notnull,unique" json:"asset_tag"`
	Location     string      `bun:"location" json:"location"`
	Category     string      `bun:"category" json:"category"`
	Status       AssetStatus `bun:"status,notnull" json:"status"`
	Manufacturer string      `bun:"manufacturer" json:"manufacturer,omitempty"`
	Model        string      `bun:"model" json:"model,omitempty"`
	SerialNumber string      `bun:"serial_number" json:"serial_number,omitempty"`
	InstallDate  *time.Time  `bun:"install_date" json:"install_date,omitempty"`
	Criticality  int         `bun:"criticality,notnull" json:"criticality"`
	CreatedAt    time.Time   `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt    time.Time   `bun:"updated_at,notnull" json:"updated_at"`
}

func (a *Asset) ApplyDefaults() {
	a.Name = strings.TrimSpace(a.Name)
	a.AssetTag = strings.TrimSpace(a.AssetTag)
	if a.Status == "" {
		a.Status = AssetOperational
	}
	if a.Criticality == 0 {
		a.Criticality = 3
	}
}

func (a *Asset) Validate() error {
	errs := ValidationErrors{}
	if a.Name == "" {
		errs["name"] = "is required"
	}
	if a.AssetTag == "" {
		errs["asset_tag"] = "is required"
	}
	if !a.Status.Valid() {
		errs["status"] = fmt.Sprintf("unknown status %q", a.Status)
	}
	if a.Criticality < 1 || a.Criticality > 5 {
		errs["criticality"] = "must be between 1 and 5"
	}
	return errs.orNil()
}

// ============================================================================
// PARTS
// ============================================================================

type Part struct {
	bun.BaseModel `bun:"table:parts,alias:p" json:"-"`

	ID          int64     `bun:"id,pk,autoincrement" json:"id"`
	PartNumber  string    `bun:"part_number,notnull,unique" json:"part_number"`
	Name        string    `bun:"name,notnull" json:"name"`
	Description string    `bun:"description" json:"description,omitempty"`
	Quantity    int       `bun:"quantity,notnull" json:"quantity"`
	MinQuantity int       `bun:"min_quantity,notnull" json:"min_quantity"`
	UnitCost    float64   `bun:"unit_cost,notnull" json:"unit_cost"`
	Location    string    `bun:"location" json:"location,omitempty"`
	Supplier    string    `bun:"supplier" json:"supplier,omitempty"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt   time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// IsLowStock reports whether the part is at or below its reorder point.
func (p *Part) IsLowStock() bool {
	return p.Quantity <= p.MinQuantity
}

// ReorderQuantity is how many units bring stock back to twice the reorder point.
func (p *Part) ReorderQuantity() int {
	target := p.MinQuantity * 2
	if target < 1 {
		target = 1
	}
	if p.Quantity >= target {
		return 0
	}
	return target - p.Quantity
}

func (p *Part) Validate() error {
	errs := ValidationErrors{}
	if strings.TrimSpace(p.PartNumber) == "" {
		errs["part_number"] = "is required"
	}
	if strings.TrimSpace(p.Name) == "" {
		errs["name"] = "is required"
	}
	if p.Quantity < 0 {
		errs["quantity"] = "must not be negative"
	}
	if p.MinQuantity < 0 {
		errs["min_quantity"] = "must not be negative"
	}
	if p.UnitCost < 0 {
		errs["unit_cost"] = "must not be negative"
	}
	return errs.orNil()
}

// ============================================================================
// PREVENTIVE MAINTENANCE
// ============================================================================

type MaintenanceSchedule struct {
	bun.BaseModel `bun:"table:maintenance_schedules,alias:ms" json:"-"`

	ID            int64      `bun:"id,pk,autoincrement" json:"id"`
	AssetID       int64      `bun:"asset_id,notnull" json:"asset_id"`
	Title         string     `bun:"title,notnull" json:"title"`
	Description   string     `bun:"description" json:"description,omitempty"`
	FrequencyDays int        `bun:"frequency_days,notnull" json:"frequency_days"`
	Priority      Priority   `bun:"priority,notnull" json:"priority"`
	NextDue       time.Time  `bun:"next_due,notnull" json:"next_due"`
	LastCompleted *time.Time `bun:"last_completed" json:"last_completed,omitempty"`
	Active        bool       `bun:"active,notnull" json:"active"`
	CreatedAt     time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time  `bun:"updated_at,notnull" json:"updated_at"`
}

func (m *MaintenanceSchedule) ApplyDefaults(now time.Time) {
	m.Title = strings.TrimSpace(m.Title)
	if m.Priority == "" {
		m.Priority = PriorityMedium
	}
	if m.NextDue.IsZero() && m.FrequencyDays > 0 {
		m.NextDue = now.AddDate(0, 0, m.FrequencyDays)
	}
}

func (m *MaintenanceSchedule) Validate() error {
	errs := ValidationErrors{}
	if m.AssetID <= 0 {
		errs["asset_id"] = "is required"
	}
	if m.Title == "" {
		errs["title"] = "is required"
	}
	if m.FrequencyDays < 1 {
		errs["frequency_days"] = "must be at least 1"
	}
	if !m.Priority.Valid() {
		errs["priority"] = fmt.Sprintf("unknown priority %q", m.Priority)
	}
	if m.NextDue.IsZero() {
		errs["next_due"] = "is required"
	}
	return errs.orNil()
}

// IsDue reports whether an active schedule should produce a work order at now.
func (m *MaintenanceSchedule) IsDue(now time.Time) bool {
	return m.Active && !m.NextDue.After(now)
}

// Advance moves NextDue forward by whole periods until it lies after now.
func (m *MaintenanceSchedule) Advance(now time.Time) {
	if m.FrequencyDays < 1 {
		return
	}
	for !m.NextDue.After(now) {
		m.NextDue = m.NextDue.AddDate(0, 0, m.FrequencyDays)
	}
}

// ============================================================================
// USERS AND AUDIT
// ============================================================================

type User struct {
	bun.BaseModel `bun:"table:users,alias:u" json:"-"`

	ID           int64      `bun:"id,pk,autoincrement" json:"id"`
	Username     string     `bun:"username,notnull,unique" json:"username"`
	Email        string     `bun:"email" json:"email,omitempty"`
	FullName     string     `bun:"full_name" json:"full_name,omitempty"`
	Role         Role       `bun:"role,notnull" json:"role"`
	PasswordHash string     `bun:"password_hash,notnull" json:"-"`
	Active       bool       `bun:"active,notnull" json:"active"`
	CreatedAt    time.Time  `bun:"created_at,notnull" json:"created_at"`
	LastLogin    *time.Time `bun:"last_login" json:"last_login,omitempty"`
}

func (u *User) Validate() error {
	errs := ValidationErrors{}
	name := strings.TrimSpace(u.Username)
	if len(name) < 3 {
		errs["username"] = "must be at least 3 characters"
	} else if strings.ContainsAny(name, " \t/") {
		errs["username"] = "must not contain spaces or slashes"
	}
	if !u.Role.Valid() {
		errs["role"] = fmt.Sprintf("unknown role %q", u.Role)
	}
	if u.Email != "" && !strings.Contains(u.Email, "@") {
		errs["email"] = "is not a valid address"
	}
	return errs.orNil()
}

type AuditEntry struct {
	bun.BaseModel `bun:"table:audit_log,alias:al" json:"-"`

	ID           int64     `bun:"id,pk,autoincrement" json:"id"`
	Username     string    `bun:"username" json:"username"`
	Action       string    `bun:"action,notnull" json:"action"`
	ResourceType string    `bun:"resource_type" json:"resource_type"`
	ResourceID   string    `bun:"resource_id" json:"resource_id,omitempty"`
	Details      string    `bun:"details" json:"details,omitempty"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
}
