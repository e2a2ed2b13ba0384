// Package postgres provides the Postgres-backed audit store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/site-audit/internal/audit"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "audits"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// AuditStore implements audit.Store on a single table. Status changes are
// guarded in the WHERE clause so concurrent workers cannot both claim or
// settle the same record.
type AuditStore struct {
	pool  pool
	table string
	now   func() time.Time
}

// NewAuditStore connects a pgx pool using cfg.
func NewAuditStore(ctx context.Context, cfg Config, clock audit.Clock) (*AuditStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewAuditStoreWithPool(p, cfg.Table, clock)
	if err != nil {
		p.Close()
		return nil, err
	}
	return store, nil
}

// NewAuditStoreWithPool builds a store from an existing pool (primarily for testing).
func NewAuditStoreWithPool(p pool, table string, clock audit.Clock) (*AuditStore, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	now := func() time.Time { return time.Now().UTC() }
	if clock != nil {
		now = clock.Now
	}
	return &AuditStore{pool: p, table: table, now: now}, nil
}

// Ping checks connectivity. It backs the readiness probe.
func (s *AuditStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *AuditStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the table and history index when missing.
func (s *AuditStore) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id UUID PRIMARY KEY,
	target_url TEXT NOT NULL,
	domain TEXT,
	keyword TEXT,
	status TEXT NOT NULL,
	error TEXT,
	scores JSONB NOT NULL DEFAULT '{}'::jsonb,
	provider_data JSONB NOT NULL DEFAULT '{}'::jsonb,
	archive_uri TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS %[1]s_target_created_idx ON %[1]s (target_url, created_at DESC);`, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure audit schema: %w", err)
	}
	return nil
}

const columns = `id, target_url, domain, keyword, status, error, scores, provider_data, ` +
	`archive_uri, created_at, updated_at, started_at, finished_at`

// Create inserts a new record.
func (s *AuditStore) Create(ctx context.Context, rec audit.Record) error {
	scores, providerData, err := marshalPayloads(rec.Scores, rec.ProviderData)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`, s.table, columns)
	_, err = s.pool.Exec(ctx, query,
		rec.ID,
		rec.TargetURL,
		rec.Domain,
		rec.Keyword,
		string(rec.Status),
		rec.Error,
		scores,
		providerData,
		rec.ArchiveURI,
		rec.CreatedAt,
		rec.UpdatedAt,
		rec.StartedAt,
		rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert audit: %w", err)
	}
	return nil
}

// Get fetches a record by id.
func (s *AuditStore) Get(ctx context.Context, id string) (audit.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, columns, s.table)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return audit.Record{}, audit.ErrNotFound
	}
	if err != nil {
		return audit.Record{}, fmt.Errorf("get audit: %w", err)
	}
	return rec, nil
}

// ListByTarget returns up to limit records for targetURL, newest first.
func (s *AuditStore) ListByTarget(ctx context.Context, targetURL string, limit int) ([]audit.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE target_url = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, columns, s.table)
	rows, err := s.pool.Query(ctx, query, targetURL, limit)
	if err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	defer rows.Close()

	out := make([]audit.Record, 0, limit)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audits: %w", err)
	}
	return out, nil
}

// Claim moves a queued record to running in one statement.
func (s *AuditStore) Claim(ctx context.Context, id string) (audit.Record, error) {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, started_at = $3, updated_at = $3
WHERE id = $1 AND status = $4 RETURNING %s`, s.table, columns)
	rec, err := scanRecord(s.pool.QueryRow(ctx, query, id, string(audit.StatusRunning), s.now(), string(audit.StatusQueued)))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return audit.Record{}, fmt.Errorf("claim audit: %w", err)
	}
	status, err := s.status(ctx, id)
	if err != nil {
		return audit.Record{}, err
	}
	return audit.Record{}, fmt.Errorf("%w: status %s", audit.ErrNotClaimable, status)
}

// Complete settles a running record as done and clears any error.
func (s *AuditStore) Complete(ctx context.Context, id string, c audit.Completion) error {
	scores, providerData, err := marshalPayloads(c.Scores, c.ProviderData)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET status = $2, scores = $3, provider_data = $4, archive_uri = $5,
	error = NULL, updated_at = $6, finished_at = $6 WHERE id = $1 AND status = $7`, s.table)
	tag, err := s.pool.Exec(ctx, query, id, string(audit.StatusDone), scores, providerData, c.ArchiveURI, s.now(), string(audit.StatusRunning))
	if err != nil {
		return fmt.Errorf("complete audit: %w", err)
	}
	return s.checkSettled(ctx, id, tag, audit.StatusDone)
}

// Fail settles a running record as failed. Scores are left untouched.
func (s *AuditStore) Fail(ctx context.Context, id string, errText string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $2, error = $3, updated_at = $4, finished_at = $4
WHERE id = $1 AND status = $5`, s.table)
	tag, err := s.pool.Exec(ctx, query, id, string(audit.StatusFailed), errText, s.now(), string(audit.StatusRunning))
	if err != nil {
		return fmt.Errorf("fail audit: %w", err)
	}
	return s.checkSettled(ctx, id, tag, audit.StatusFailed)
}

func (s *AuditStore) checkSettled(ctx context.Context, id string, tag pgconn.CommandTag, to audit.Status) error {
	if tag.RowsAffected() > 0 {
		return nil
	}
	status, err := s.status(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", audit.ErrInvalidTransition, status, to)
}

func (s *AuditStore) status(ctx context.Context, id string) (audit.Status, error) {
	var status string
	query := fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, s.table)
	err := s.pool.QueryRow(ctx, query, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", audit.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read audit status: %w", err)
	}
	return audit.Status(status), nil
}

func marshalPayloads(scores audit.ScoreSet, data audit.ProviderData) ([]byte, []byte, error) {
	s, err := json.Marshal(scores)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal scores: %w", err)
	}
	d, err := json.Marshal(data)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal provider data: %w", err)
	}
	return s, d, nil
}

func scanRecord(row pgx.Row) (audit.Record, error) {
	var (
		rec          audit.Record
		status       string
		scores       []byte
		providerData []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.TargetURL,
		&rec.Domain,
		&rec.Keyword,
		&status,
		&rec.Error,
		&scores,
		&providerData,
		&rec.ArchiveURI,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.StartedAt,
		&rec.FinishedAt,
	)
	if err != nil {
		return audit.Record{}, err
	}
	rec.Status = audit.Status(strings.TrimSpace(status))
	if len(scores) > 0 {
		if err := json.Unmarshal(scores, &rec.Scores); err != nil {
			return audit.Record{}, fmt.Errorf("decode scores: %w", err)
		}
	}
	if len(providerData) > 0 {
		if err := json.Unmarshal(providerData, &rec.ProviderData); err != nil {
			return audit.Record{}, fmt.Errorf("decode provider data: %w", err)
		}
	}
	return rec, nil
}
