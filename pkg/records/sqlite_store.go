package records

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const defaultScanLimit = 100

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg SQLiteConfig
	now func() time.Time
}

// SQLiteConfig holds SQLite store configuration
type SQLiteConfig struct {
	Path            string        `yaml:"path" env:"PATH" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg: cfg,
		now: time.Now,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Claims run in BEGIN IMMEDIATE transactions so two writers never both
	// observe the name as absent.
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

const selectRecordColumns = `
	SELECT name, network_id, address_block, region, subdivisions, status,
	       claim_token, claim_expires_at, abandoned_token, schema_version,
	       created_at, updated_at
	FROM resource_records
`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*ResourceRecord, error) {
	var (
		rec          ResourceRecord
		subdivisions string
		expiresAt    int64
		createdAt    int64
		updatedAt    int64
	)

	err := row.Scan(
		&rec.Name,
		&rec.NetworkID,
		&rec.AddressBlock,
		&rec.Region,
		&subdivisions,
		&rec.Status,
		&rec.ClaimToken,
		&expiresAt,
		&rec.AbandonedToken,
		&rec.SchemaVersion,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(subdivisions), &rec.Subdivisions); err != nil {
		return nil, fmt.Errorf("failed to decode subdivisions of %s: %w", rec.Name, err)
	}
	if expiresAt != 0 {
		rec.ClaimExpiresAt = time.UnixMilli(expiresAt).UTC()
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()

	return &rec, nil
}

func encodeSubdivisions(subdivisions []string) (string, error) {
	if subdivisions == nil {
		subdivisions = []string{}
	}
	b, err := json.Marshal(subdivisions)
	if err != nil {
		return "", fmt.Errorf("failed to encode subdivisions: %w", err)
	}
	return string(b), nil
}

func unixMilli(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Get retrieves a record by name
func (s *SQLiteStore) Get(ctx context.Context, name string) (*ResourceRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectRecordColumns+" WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}
	return rec, nil
}

// Claim inserts a pending record, or replaces a claimable one, inside a single
// write transaction.
func (s *SQLiteStore) Claim(ctx context.Context, rec *ResourceRecord) (*ResourceRecord, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()

	previous, err := scanRecord(tx.QueryRowContext(ctx, selectRecordColumns+" WHERE name = ?", rec.Name))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		previous = nil
	case err != nil:
		return nil, fmt.Errorf("failed to read record for claim: %w", err)
	case !previous.Claimable(now):
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, rec.Name)
	}

	subdivisions, err := encodeSubdivisions(rec.Subdivisions)
	if err != nil {
		return nil, err
	}

	if rec.SchemaVersion == 0 {
		rec.SchemaVersion = SchemaVersion
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	query := `
		INSERT INTO resource_records (
			name, network_id, address_block, region, subdivisions, status,
			claim_token, claim_expires_at, abandoned_token, schema_version,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			network_id = excluded.network_id,
			address_block = excluded.address_block,
			region = excluded.region,
			subdivisions = excluded.subdivisions,
			status = excluded.status,
			claim_token = excluded.claim_token,
			claim_expires_at = excluded.claim_expires_at,
			abandoned_token = excluded.abandoned_token,
			schema_version = excluded.schema_version,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`

	_, err = tx.ExecContext(ctx, query,
		rec.Name,
		rec.NetworkID,
		rec.AddressBlock,
		rec.Region,
		subdivisions,
		rec.Status,
		rec.ClaimToken,
		unixMilli(rec.ClaimExpiresAt),
		rec.AbandonedToken,
		rec.SchemaVersion,
		unixMilli(rec.CreatedAt),
		unixMilli(rec.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to write claim: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	return previous, nil
}

// Update overwrites a record held by the caller's claim token
func (s *SQLiteStore) Update(ctx context.Context, rec *ResourceRecord) error {
	subdivisions, err := encodeSubdivisions(rec.Subdivisions)
	if err != nil {
		return err
	}

	rec.UpdatedAt = s.now().UTC()

	query := `
		UPDATE resource_records
		SET network_id = ?, address_block = ?, region = ?, subdivisions = ?, status = ?,
		    claim_expires_at = ?, abandoned_token = ?, updated_at = ?
		WHERE name = ? AND claim_token = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.NetworkID,
		rec.AddressBlock,
		rec.Region,
		subdivisions,
		rec.Status,
		unixMilli(rec.ClaimExpiresAt),
		rec.AbandonedToken,
		unixMilli(rec.UpdatedAt),
		rec.Name,
		rec.ClaimToken,
	)
	if err != nil {
		return fmt.Errorf("failed to update record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrClaimLost, rec.Name)
	}

	return nil
}

// Release deletes a record still held by claimToken
func (s *SQLiteStore) Release(ctx context.Context, name, claimToken string) error {
	query := `DELETE FROM resource_records WHERE name = ? AND claim_token = ?`

	result, err := s.db.ExecContext(ctx, query, name, claimToken)
	if err != nil {
		return fmt.Errorf("failed to release record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrClaimLost, name)
	}

	return nil
}

// Scan returns one page of records ordered by name
func (s *SQLiteStore) Scan(ctx context.Context, opts ScanOptions) (*ScanPage, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultScanLimit
	}

	// Fetch one extra row to learn whether another page exists.
	rows, err := s.db.QueryContext(ctx,
		selectRecordColumns+" WHERE name > ? ORDER BY name LIMIT ?",
		opts.Cursor, limit+1)
	if err != nil {
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	defer rows.Close()

	page := &ScanPage{Records: []*ResourceRecord{}}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		page.Records = append(page.Records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	if len(page.Records) > limit {
		page.Records = page.Records[:limit]
		page.NextCursor = page.Records[limit-1].Name
	}

	return page, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}
