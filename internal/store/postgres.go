package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/outpostmsg/outpost/internal/database"
	"github.com/outpostmsg/outpost/internal/models"
)

// pgxQueryer is satisfied by both *pgxpool.Pool and pgx.Tx, letting
// pgQueries run identically whether or not it is bound to a transaction.
type pgxQueryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// pgQueries implements Queries against whichever pgxQueryer it is given —
// the pool for auto-committing calls, a pgx.Tx for the Enqueuer/Dispatcher's
// transactional claim-and-mutate protocol.
type pgQueries struct {
	q pgxQueryer
}

func (p pgQueries) FindMessageByIdempotencyKey(ctx context.Context, projectID, key string) (*models.Message, error) {
	row := p.q.QueryRow(ctx, `
		SELECT id, project_id, type, status, from_address, to_address, subject, body,
		       metadata, idempotency_key, attempts, max_attempts, next_attempt_at,
		       scheduled_for, created_at, updated_at
		FROM messages WHERE project_id = $1 AND idempotency_key = $2`, projectID, key)
	return scanMessage(row)
}

func (p pgQueries) InsertMessage(ctx context.Context, msg *models.Message) error {
	row := p.q.QueryRow(ctx, `
		INSERT INTO messages (
			id, project_id, type, status, from_address, to_address, subject, body,
			metadata, idempotency_key, attempts, max_attempts, next_attempt_at, scheduled_for
		) VALUES (
			gen_random_uuid(), $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		RETURNING id, created_at, updated_at`,
		msg.ProjectID, msg.Type, msg.Status, msg.FromAddress, msg.ToAddress, msg.Subject, msg.Body,
		nullableJSON(msg.Metadata), msg.IdempotencyKey, msg.Attempts, msg.MaxAttempts, msg.NextAttemptAt, msg.ScheduledFor,
	)
	if err := row.Scan(&msg.ID, &msg.CreatedAt, &msg.UpdatedAt); err != nil {
		if isUniqueViolation(err) {
			return ErrIdempotencyConflict
		}
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (p pgQueries) InsertEvent(ctx context.Context, ev *models.Event) error {
	row := p.q.QueryRow(ctx, `
		INSERT INTO events (id, message_id, project_id, event_type, provider_response)
		VALUES (gen_random_uuid(), $1, $2, $3, $4)
		RETURNING id, created_at`,
		ev.MessageID, ev.ProjectID, ev.Type, nullableJSON(ev.ProviderPayload),
	)
	if err := row.Scan(&ev.ID, &ev.CreatedAt); err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ClaimQueued is spec.md §4.5's claim protocol: row-level locks that skip
// already-locked rows give each concurrent caller a disjoint batch with no
// coordination beyond the database itself.
func (p pgQueries) ClaimQueued(ctx context.Context, limit int, now time.Time) ([]models.Message, error) {
	rows, err := p.q.Query(ctx, `
		SELECT id, project_id, type, status, from_address, to_address, subject, body,
		       metadata, idempotency_key, attempts, max_attempts, next_attempt_at,
		       scheduled_for, created_at, updated_at
		FROM messages
		WHERE status = 'queued' AND (next_attempt_at IS NULL OR next_attempt_at <= $2)
		ORDER BY created_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit, now)
	if err != nil {
		return nil, fmt.Errorf("claim queued: %w", err)
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		m, err := scanMessageRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed message: %w", err)
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

func (p pgQueries) GetProjectStatus(ctx context.Context, projectID string) (models.ProjectStatus, error) {
	row := p.q.QueryRow(ctx, `SELECT status FROM projects WHERE id = $1`, projectID)
	var status models.ProjectStatus
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get project status: %w", err)
	}
	return status, nil
}

func (p pgQueries) UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus, attempts int, nextAttemptAt *time.Time) error {
	tag, err := p.q.Exec(ctx, `
		UPDATE messages SET status = $2, attempts = $3, next_attempt_at = $4, updated_at = now()
		WHERE id = $1`, id, status, attempts, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("update message status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementUsage is the spec.md §4.8 UsageLedger atomic upsert, called only
// from within the dispatcher's transaction on successful delivery.
func (p pgQueries) IncrementUsage(ctx context.Context, projectID, period string, channel models.Channel) error {
	_, err := p.q.Exec(ctx, `
		INSERT INTO usage (id, project_id, period, message_type, count)
		VALUES (gen_random_uuid(), $1, $2, $3, 1)
		ON CONFLICT (project_id, period, message_type) DO UPDATE SET count = usage.count + 1`,
		projectID, period, channel)
	if err != nil {
		return fmt.Errorf("increment usage: %w", err)
	}
	return nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	m := &models.Message{}
	err := row.Scan(
		&m.ID, &m.ProjectID, &m.Type, &m.Status, &m.FromAddress, &m.ToAddress, &m.Subject, &m.Body,
		&m.Metadata, &m.IdempotencyKey, &m.Attempts, &m.MaxAttempts, &m.NextAttemptAt,
		&m.ScheduledFor, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan message: %w", err)
	}
	return m, nil
}

func scanMessageRow(rows pgx.Rows) (*models.Message, error) {
	m := &models.Message{}
	err := rows.Scan(
		&m.ID, &m.ProjectID, &m.Type, &m.Status, &m.FromAddress, &m.ToAddress, &m.Subject, &m.Body,
		&m.Metadata, &m.IdempotencyKey, &m.Attempts, &m.MaxAttempts, &m.NextAttemptAt,
		&m.ScheduledFor, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// isUniqueViolation reports whether err is Postgres error code 23505
// (unique_violation) — the idempotency index rejecting a concurrent insert.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// PostgresStore implements Store against a real Postgres database via pgx,
// using row-level locks with skip-locked semantics for the claim protocol
// and insert-on-conflict upserts for the usage and rate-limit counters —
// the only places spec.md requires atomicity beyond the transaction
// boundary itself.
type PostgresStore struct {
	db *database.DB
	pgQueries
}

// NewPostgresStore creates a Store backed by db's connection pool.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{db: db, pgQueries: pgQueries{q: db.Pool()}}
}

// RunInTx runs fn inside one Postgres transaction; fn's error rolls back,
// nil commits. Per spec.md §4.5's critical invariant, provider calls made
// inside fn must happen before this returns — if the commit itself then
// fails, the message may have been delivered but recorded as still queued.
// That is the documented at-least-once boundary, not a bug to paper over.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, pgQueries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT id, name, owner_email, status, monthly_limit, rate_limit_per_minute, created_at
		FROM projects WHERE id = $1`, id)
	p := &models.Project{}
	if err := row.Scan(&p.ID, &p.Name, &p.OwnerEmail, &p.Status, &p.MonthlyLimit, &p.RateLimitPerMinute, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, p *models.Project) error {
	if p.Status == "" {
		p.Status = models.ProjectActive
	}
	row := s.db.Pool().QueryRow(ctx, `
		INSERT INTO projects (id, name, owner_email, status, monthly_limit, rate_limit_per_minute)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		p.Name, p.OwnerEmail, p.Status, p.MonthlyLimit, p.RateLimitPerMinute,
	)
	if err := row.Scan(&p.ID, &p.CreatedAt); err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT id, project_id, key_hash, name, created_at, last_used_at, revoked_at
		FROM api_keys WHERE key_hash = $1 AND revoked_at IS NULL`, hash)
	k := &models.APIKey{}
	if err := row.Scan(&k.ID, &k.ProjectID, &k.KeyHash, &k.Name, &k.CreatedAt, &k.LastUsedAt, &k.RevokedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("lookup api key: %w", err)
	}
	return k, nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	row := s.db.Pool().QueryRow(ctx, `
		INSERT INTO api_keys (id, project_id, key_hash, name)
		VALUES (gen_random_uuid(), $1, $2, $3)
		RETURNING id, created_at`, k.ProjectID, k.KeyHash, k.Name)
	if err := row.Scan(&k.ID, &k.CreatedAt); err != nil {
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, keyID string) error {
	tag, err := s.db.Pool().Exec(ctx, `UPDATE api_keys SET revoked_at = now() WHERE id = $1 AND revoked_at IS NULL`, keyID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListAPIKeysByProject(ctx context.Context, projectID string) ([]models.APIKey, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT id, project_id, key_hash, name, created_at, last_used_at, revoked_at
		FROM api_keys WHERE project_id = $1 ORDER BY created_at ASC`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var out []models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.ProjectID, &k.KeyHash, &k.Name, &k.CreatedAt, &k.LastUsedAt, &k.RevokedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

// SumUsageForPeriod backs QuotaController.check: it sums across channels
// because the monthly_limit is per-project, not per-channel.
func (s *PostgresStore) SumUsageForPeriod(ctx context.Context, projectID, period string) (int, error) {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT COALESCE(SUM(count), 0) FROM usage WHERE project_id = $1 AND period = $2`, projectID, period)
	var total int
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sum usage: %w", err)
	}
	return total, nil
}

// IncrementRateBucket is the RateLimiter's atomic upsert per spec.md §4.3:
// insert (project, minute_window, count=1), or increment on conflict,
// returning the post-increment count so the caller can compare to its limit.
func (s *PostgresStore) IncrementRateBucket(ctx context.Context, projectID string, window time.Time) (int, error) {
	row := s.db.Pool().QueryRow(ctx, `
		INSERT INTO rate_limit_tracking (id, project_id, minute_window, count)
		VALUES (gen_random_uuid(), $1, $2, 1)
		ON CONFLICT (project_id, minute_window) DO UPDATE SET count = rate_limit_tracking.count + 1
		RETURNING count`, projectID, window.UTC().Truncate(time.Minute))
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("increment rate bucket: %w", err)
	}
	return count, nil
}

// DeleteOldEvents deletes up to chunk events older than before, per
// spec.md §4.9's chunked pattern (caller pauses between calls).
func (s *PostgresStore) DeleteOldEvents(ctx context.Context, before time.Time, chunk int) (int, error) {
	tag, err := s.db.Pool().Exec(ctx, `
		DELETE FROM events WHERE id IN (
			SELECT id FROM events WHERE created_at < $1 LIMIT $2
		)`, before, chunk)
	if err != nil {
		return 0, fmt.Errorf("delete old events: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteOldTerminalMessages deletes up to chunk terminal messages older
// than before.
func (s *PostgresStore) DeleteOldTerminalMessages(ctx context.Context, before time.Time, chunk int) (int, error) {
	tag, err := s.db.Pool().Exec(ctx, `
		DELETE FROM messages WHERE id IN (
			SELECT id FROM messages
			WHERE status IN ('delivered', 'failed', 'dead') AND created_at < $1
			LIMIT $2
		)`, before, chunk)
	if err != nil {
		return 0, fmt.Errorf("delete old terminal messages: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteOldRateBuckets prunes minute windows older than before (spec.md
// §4.3/§4.9: buckets older than one hour are disposable).
func (s *PostgresStore) DeleteOldRateBuckets(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Pool().Exec(ctx, `DELETE FROM rate_limit_tracking WHERE minute_window < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("delete old rate buckets: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Health(ctx context.Context) error {
	return s.db.Health(ctx)
}
