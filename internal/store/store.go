// Package store is the thin data-access facade over the relational
// database: it hides SQL and transaction boundaries from the rest of the
// engine, exposing typed operations per spec.md §3/§6.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/outpostmsg/outpost/internal/database"
	"github.com/outpostmsg/outpost/internal/models"
)

// ErrIdempotencyConflict is returned by InsertMessage when the
// (project_id, idempotency_key) unique index rejects the insert — the
// caller lost a concurrent race and must re-read the winning row.
var ErrIdempotencyConflict = errors.New("idempotency key already claimed")

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("not found")

// Queries is the set of operations available both outside a transaction
// (auto-committing single statements) and inside one via RunInTx. The
// Enqueuer and Dispatcher use the transactional form; the HTTP/admin layer
// mostly uses the non-transactional form via Store directly.
type Queries interface {
	FindMessageByIdempotencyKey(ctx context.Context, projectID, key string) (*models.Message, error)
	InsertMessage(ctx context.Context, msg *models.Message) error
	InsertEvent(ctx context.Context, ev *models.Event) error

	// ClaimQueued selects up to limit ready messages using row-level locks
	// that skip already-locked rows (spec.md §4.5's claim protocol), ordered
	// by created_at ascending.
	ClaimQueued(ctx context.Context, limit int, now time.Time) ([]models.Message, error)
	GetProjectStatus(ctx context.Context, projectID string) (models.ProjectStatus, error)
	UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus, attempts int, nextAttemptAt *time.Time) error
	IncrementUsage(ctx context.Context, projectID, period string, channel models.Channel) error
}

// Store is the full data-access facade, including the transaction
// boundary and the non-transactional reads/writes used by admission
// control, auth, and the admin surface.
type Store interface {
	Queries

	// RunInTx runs fn against a Queries bound to one transaction; fn's
	// error rolls the transaction back, nil commits it.
	RunInTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error

	GetProject(ctx context.Context, id string) (*models.Project, error)
	CreateProject(ctx context.Context, p *models.Project) error

	LookupAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error)
	CreateAPIKey(ctx context.Context, k *models.APIKey) error
	RevokeAPIKey(ctx context.Context, keyID string) error
	ListAPIKeysByProject(ctx context.Context, projectID string) ([]models.APIKey, error)

	SumUsageForPeriod(ctx context.Context, projectID, period string) (int, error)
	IncrementRateBucket(ctx context.Context, projectID string, window time.Time) (int, error)

	DeleteOldEvents(ctx context.Context, before time.Time, chunk int) (int, error)
	DeleteOldTerminalMessages(ctx context.Context, before time.Time, chunk int) (int, error)
	DeleteOldRateBuckets(ctx context.Context, before time.Time) (int64, error)

	Health(ctx context.Context) error
}

// New creates a Store backed by Postgres if db is configured, or an
// in-memory fallback otherwise (used in local/dev runs and unit tests).
func New(db *database.DB) Store {
	if db == nil || !db.IsConfigured() {
		return NewInMemoryStore()
	}
	return NewPostgresStore(db)
}
