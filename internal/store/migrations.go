package store

import (
	"context"
	"fmt"
	"log"
	"time"

	"chatterfix/types"

	"github.com/uptrace/bun"
)

type schemaMigration struct {
	bun.BaseModel `bun:"table:schema_migrations"`

	Version   int       `bun:"version,pk"`
	Name      string    `bun:"name,notnull"`
	AppliedAt time.Time `bun:"applied_at,notnull"`
}

type migration struct {
	version int
	name    string
	up      func(ctx context.Context, tx bun.Tx) error
}

type index struct {
	model   interface{}
	name    string
	columns []string
}

// migrations are applied in order, each inside its own transaction.
var migrations = []migration{
	{
		version: 1,
		name:    "create core tables",
		up: func(ctx context.Context, tx bun.Tx) error {
			models := []interface{}{
				(*types.Asset)(nil),
				(*types.WorkOrder)(nil),
				(*types.Part)(nil),
				(*types.MaintenanceSchedule)(nil),
				(*types.User)(nil),
				(*types.AuditEntry)(nil),
			}
			for _, model := range models {
				if _, err := tx.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	},
	{
		version: 2,
		name:    "add lookup indexes",
		up: func(ctx context.Context, tx bun.Tx) error {
			indexes := []index{
				{(*types.WorkOrder)(nil), "idx_work_orders_status", []string{"status"}},
				{(*types.WorkOrder)(nil), "idx_work_orders_asset", []string{"asset_id"}},
				{(*types.WorkOrder)(nil), "idx_work_orders_schedule", []string{"schedule_id"}},
				{(*types.WorkOrder)(nil), "idx_work_orders_assigned", []string{"assigned_to"}},
				{(*types.MaintenanceSchedule)(nil), "idx_schedules_asset", []string{"asset_id"}},
				{(*types.AuditEntry)(nil), "idx_audit_created", []string{"created_at"}},
			}
			for _, idx := range indexes {
				if _, err := tx.NewCreateIndex().Model(idx.model).Index(idx.name).Column(idx.columns...).Exec(ctx); err != nil {
					return fmt.Errorf("index %s: %w", idx.name, err)
				}
			}
			return nil
		},
	},
}

// Migrate applies pending migrations and records them in schema_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.NewCreateTable().Model((*schemaMigration)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	var applied []schemaMigration
	if err := s.db.NewSelect().Model(&applied).Scan(ctx); err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	done := make(map[int]bool, len(applied))
	for _, m := range applied {
		done[m.Version] = true
	}

	for _, m := range migrations {
		if done[m.version] {
			continue
		}
		start := time.Now()
		err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
			if err := m.up(ctx, tx); err != nil {
				return err
			}
			_, err := tx.NewInsert().Model(&schemaMigration{
				Version:   m.version,
				Name:      m.name,
				AppliedAt: s.now(),
			}).Exec(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		log.Printf("🗄️  Applied migration %d: %s (%s)", m.version, m.name, time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.NewSelect().Model((*schemaMigration)(nil)).ColumnExpr("COALESCE(MAX(version), 0)").Scan(ctx, &version)
	return version, err
}
