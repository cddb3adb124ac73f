// Package store is the SQL persistence layer for work orders, assets, parts,
// maintenance schedules, users and the audit log. It runs on SQLite, Postgres
// or MySQL through bun.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when attempting to insert a record that already exists.
	ErrDuplicate = errors.New("duplicate record")
	// ErrInvalidReference is returned when a record points at a missing asset or schedule.
	ErrInvalidReference = errors.New("referenced record does not exist")
	// ErrInUse is returned when deleting a record other records still point at.
	ErrInUse = errors.New("record is still referenced")
	// ErrInsufficientStock is returned when an adjustment would make a quantity negative.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition is returned for work order status changes that are not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Options configures the connection pool.
type Options struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Store wraps a bun.DB with domain queries.
type Store struct {
	db     *bun.DB
	driver string
	now    func() time.Time
}

// Open connects to the database, applies the pool settings and runs migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	driverName := opts.Driver
	// The pgx stdlib registers driver name "pgx"; map "postgres" to that driver.
	if opts.Driver == "postgres" {
		driverName = "pgx"
	}

	start := time.Now()
	sqlDB, err := sql.Open(driverName, opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen, maxIdle := opts.MaxOpenConns, opts.MaxIdleConns
	// A ":memory:" SQLite database exists per connection, so keep exactly one.
	if opts.Driver == "sqlite" && isMemoryDSN(opts.DSN) {
		maxOpen, maxIdle = 1, 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		sqlDB.SetMaxIdleConns(maxIdle)
	}
	if opts.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if opts.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(opts.ConnMaxIdleTime)
	}

	bunDB, err := createBunDB(sqlDB, opts.Driver)
	if err != nil {
		sqlDB.Close()
		return nil, err
	}

	s := &Store{
		db:     bunDB,
		driver: opts.Driver,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := s.Ping(ctx); err != nil {
		bunDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Printf("🗄️  Opened %s database in %s (max open conns=%d)", opts.Driver, time.Since(start).Round(time.Millisecond), maxOpen)

	if err := s.Migrate(ctx); err != nil {
		bunDB.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:")
}

// createBunDB constructs a *bun.DB for the provided *sql.DB and driver.
func createBunDB(sqlDB *sql.DB, driver string) (*bun.DB, error) {
	switch driver {
	case "sqlite":
		return bun.NewDB(sqlDB, sqlitedialect.New()), nil
	case "postgres":
		return bun.NewDB(sqlDB, pgdialect.New()), nil
	case "mysql":
		return bun.NewDB(sqlDB, mysqldialect.New()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: '%s'", driver)
	}
}

// Driver returns the configured driver name.
func (s *Store) Driver() string { return s.driver }

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// MapDBError maps driver errors to package sentinels. Unique violations are
// detected by message text so no driver-specific types leak into callers:
// MySQL duplicate entry (1062), Postgres unique violation (23505), SQLite UNIQUE constraint.
func MapDBError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	le := strings.ToLower(err.Error())
	if strings.Contains(le, "duplicate") || strings.Contains(le, "unique") || strings.Contains(le, "23505") || strings.Contains(le, "1062") {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

// checkAffected turns an update/delete touching no rows into ErrNotFound.
func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// normalizePage applies default and maximum page sizes.
func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// likeEscaper escapes LIKE wildcards; queries pair it with ESCAPE '!'.
var likeEscaper = strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")

func likePattern(q string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(q))) + "%"
}

func timePtr(t time.Time) *time.Time { return &t }
