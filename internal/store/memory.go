package store

import (
	"sort"
	"sync"

	"context"
	"time"

	"github.com/google/uuid"
	"github.com/outpostmsg/outpost/internal/models"
)

// InMemoryStore implements Store without a database, for local/dev runs and
// unit tests. A single mutex guards all maps; the claim and idempotency
// operations that Postgres enforces via row locks and a unique index are
// reproduced here as in-process critical sections guarded by the same lock.
type InMemoryStore struct {
	mu sync.Mutex

	projects map[string]models.Project
	apiKeys  map[string]models.APIKey
	messages map[string]models.Message
	events   map[string][]models.Event // by message id, append order
	usage    map[string]models.UsageBucket
	rate     map[string]models.RateBucket

	idempotencyIndex map[string]string // (project_id, key) -> message_id
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		projects:         make(map[string]models.Project),
		apiKeys:          make(map[string]models.APIKey),
		messages:         make(map[string]models.Message),
		events:           make(map[string][]models.Event),
		usage:            make(map[string]models.UsageBucket),
		rate:             make(map[string]models.RateBucket),
		idempotencyIndex: make(map[string]string),
	}
}

func idemIndexKey(projectID, key string) string { return projectID + "\x00" + key }
func usageKey(projectID, period string, channel models.Channel) string {
	return projectID + "\x00" + period + "\x00" + string(channel)
}
func rateKey(projectID string, window time.Time) string {
	return projectID + "\x00" + window.UTC().Format(time.RFC3339)
}

// RunInTx executes fn against this same store under the single lock, so fn
// is isolated from every other caller. There is no rollback: writes fn made
// before returning an error stay in place.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, (*inMemoryTxQueries)(s))
}

// inMemoryTxQueries reuses InMemoryStore's methods but assumes the caller
// already holds s.mu (via RunInTx), so its methods must not re-lock.
type inMemoryTxQueries InMemoryStore

func (s *InMemoryStore) FindMessageByIdempotencyKey(ctx context.Context, projectID, key string) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findMessageByIdempotencyKeyLocked(projectID, key)
}

func (q *inMemoryTxQueries) FindMessageByIdempotencyKey(ctx context.Context, projectID, key string) (*models.Message, error) {
	return (*InMemoryStore)(q).findMessageByIdempotencyKeyLocked(projectID, key)
}

func (s *InMemoryStore) findMessageByIdempotencyKeyLocked(projectID, key string) (*models.Message, error) {
	id, ok := s.idempotencyIndex[idemIndexKey(projectID, key)]
	if !ok {
		return nil, ErrNotFound
	}
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := msg
	return &cp, nil
}

func (s *InMemoryStore) InsertMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertMessageLocked(msg)
}

func (q *inMemoryTxQueries) InsertMessage(ctx context.Context, msg *models.Message) error {
	return (*InMemoryStore)(q).insertMessageLocked(msg)
}

func (s *InMemoryStore) insertMessageLocked(msg *models.Message) error {
	if msg.IdempotencyKey != nil {
		if _, exists := s.idempotencyIndex[idemIndexKey(msg.ProjectID, *msg.IdempotencyKey)]; exists {
			return ErrIdempotencyConflict
		}
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.IdempotencyKey != nil {
		s.idempotencyIndex[idemIndexKey(msg.ProjectID, *msg.IdempotencyKey)] = msg.ID
	}
	now := time.Now().UTC()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}
	msg.UpdatedAt = now
	s.messages[msg.ID] = *msg
	return nil
}

func (s *InMemoryStore) InsertEvent(ctx context.Context, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertEventLocked(ev)
}

func (q *inMemoryTxQueries) InsertEvent(ctx context.Context, ev *models.Event) error {
	return (*InMemoryStore)(q).insertEventLocked(ev)
}

func (s *InMemoryStore) insertEventLocked(ev *models.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.events[ev.MessageID] = append(s.events[ev.MessageID], *ev)
	return nil
}

// ClaimQueued mimics SELECT ... FOR UPDATE SKIP LOCKED: under the process
// lock there is only one caller at a time, so every queued+due message is
// disjoint by construction; it returns up to limit ordered by created_at.
func (s *InMemoryStore) ClaimQueued(ctx context.Context, limit int, now time.Time) ([]models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.claimQueuedLocked(limit, now)
}

func (q *inMemoryTxQueries) ClaimQueued(ctx context.Context, limit int, now time.Time) ([]models.Message, error) {
	return (*InMemoryStore)(q).claimQueuedLocked(limit, now)
}

func (s *InMemoryStore) claimQueuedLocked(limit int, now time.Time) ([]models.Message, error) {
	var candidates []models.Message
	for _, m := range s.messages {
		if m.Status != models.StatusQueued {
			continue
		}
		if m.NextAttemptAt != nil && m.NextAttemptAt.After(now) {
			continue
		}
		candidates = append(candidates, m)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

func (s *InMemoryStore) GetProjectStatus(ctx context.Context, projectID string) (models.ProjectStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getProjectStatusLocked(projectID)
}

func (q *inMemoryTxQueries) GetProjectStatus(ctx context.Context, projectID string) (models.ProjectStatus, error) {
	return (*InMemoryStore)(q).getProjectStatusLocked(projectID)
}

func (s *InMemoryStore) getProjectStatusLocked(projectID string) (models.ProjectStatus, error) {
	p, ok := s.projects[projectID]
	if !ok {
		return "", ErrNotFound
	}
	return p.Status, nil
}

func (s *InMemoryStore) UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus, attempts int, nextAttemptAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateMessageStatusLocked(id, status, attempts, nextAttemptAt)
}

func (q *inMemoryTxQueries) UpdateMessageStatus(ctx context.Context, id string, status models.MessageStatus, attempts int, nextAttemptAt *time.Time) error {
	return (*InMemoryStore)(q).updateMessageStatusLocked(id, status, attempts, nextAttemptAt)
}

func (s *InMemoryStore) updateMessageStatusLocked(id string, status models.MessageStatus, attempts int, nextAttemptAt *time.Time) error {
	m, ok := s.messages[id]
	if !ok {
		return ErrNotFound
	}
	m.Status = status
	m.Attempts = attempts
	m.NextAttemptAt = nextAttemptAt
	m.UpdatedAt = time.Now().UTC()
	s.messages[id] = m
	return nil
}

func (s *InMemoryStore) IncrementUsage(ctx context.Context, projectID, period string, channel models.Channel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementUsageLocked(projectID, period, channel)
}

func (q *inMemoryTxQueries) IncrementUsage(ctx context.Context, projectID, period string, channel models.Channel) error {
	return (*InMemoryStore)(q).incrementUsageLocked(projectID, period, channel)
}

func (s *InMemoryStore) incrementUsageLocked(projectID, period string, channel models.Channel) error {
	k := usageKey(projectID, period, channel)
	b := s.usage[k]
	b.ProjectID = projectID
	b.Period = period
	b.Type = channel
	b.Count++
	s.usage[k] = b
	return nil
}

func (s *InMemoryStore) GetProject(ctx context.Context, id string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (s *InMemoryStore) CreateProject(ctx context.Context, p *models.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = models.ProjectActive
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	s.projects[p.ID] = *p
	return nil
}

func (s *InMemoryStore) LookupAPIKeyByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.apiKeys {
		if k.KeyHash == hash {
			cp := k
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemoryStore) CreateAPIKey(ctx context.Context, k *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k.ID == "" {
		k.ID = uuid.NewString()
	}
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	s.apiKeys[k.ID] = *k
	return nil
}

func (s *InMemoryStore) RevokeAPIKey(ctx context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[keyID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.RevokedAt = &now
	s.apiKeys[keyID] = k
	return nil
}

func (s *InMemoryStore) ListAPIKeysByProject(ctx context.Context, projectID string) ([]models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.APIKey
	for _, k := range s.apiKeys {
		if k.ProjectID == projectID {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) SumUsageForPeriod(ctx context.Context, projectID, period string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, b := range s.usage {
		if b.ProjectID == projectID && b.Period == period {
			total += b.Count
		}
	}
	return total, nil
}

// IncrementRateBucket performs the tumbling-minute upsert: insert with
// count=1, or increment on conflict, returning the post-increment count.
func (s *InMemoryStore) IncrementRateBucket(ctx context.Context, projectID string, window time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := rateKey(projectID, window)
	b, ok := s.rate[k]
	if !ok {
		b = models.RateBucket{ProjectID: projectID, MinuteWindow: window.UTC(), Count: 0}
	}
	b.Count++
	s.rate[k] = b
	return b.Count, nil
}

func (s *InMemoryStore) DeleteOldEvents(ctx context.Context, before time.Time, chunk int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for msgID, evs := range s.events {
		var kept []models.Event
		for _, e := range evs {
			if e.CreatedAt.Before(before) && (chunk <= 0 || deleted < chunk) {
				deleted++
				continue
			}
			kept = append(kept, e)
		}
		s.events[msgID] = kept
	}
	return deleted, nil
}

func (s *InMemoryStore) DeleteOldTerminalMessages(ctx context.Context, before time.Time, chunk int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, m := range s.messages {
		if chunk > 0 && deleted >= chunk {
			break
		}
		if m.Status.Terminal() && m.CreatedAt.Before(before) {
			delete(s.messages, id)
			delete(s.events, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *InMemoryStore) DeleteOldRateBuckets(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for k, b := range s.rate {
		if b.MinuteWindow.Before(before) {
			delete(s.rate, k)
			deleted++
		}
	}
	return deleted, nil
}

// Health always reports healthy for the in-memory store.
func (s *InMemoryStore) Health(ctx context.Context) error { return nil }
