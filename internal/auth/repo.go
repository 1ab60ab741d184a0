package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/outpostmsg/outpost/internal/models"
	"github.com/outpostmsg/outpost/internal/store"
)

// Repository resolves bearer keys to Principals and manages the project's
// key lifecycle for the admin surface.
type Repository struct {
	store store.Store
}

func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// Authenticate looks up rawKey by its SHA-256 digest and returns the
// resolved Principal. Revoked or unknown keys return ErrUnauthorized.
func (r *Repository) Authenticate(ctx context.Context, rawKey string) (*Principal, error) {
	if rawKey == "" {
		return nil, ErrUnauthorized
	}
	hash := HashKey(rawKey)
	key, err := r.store.LookupAPIKeyByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if key.Revoked() || !ConstantTimeEqualHash(key.KeyHash, hash) {
		return nil, ErrUnauthorized
	}
	return &Principal{ProjectID: key.ProjectID, APIKeyID: key.ID}, nil
}

// CreateAPIKey provisions a new key for a project and returns the raw
// secret exactly once — only its hash is persisted.
func (r *Repository) CreateAPIKey(ctx context.Context, projectID, name string) (rawKey string, key *models.APIKey, err error) {
	rawKey, hash, err := GenerateAPIKey()
	if err != nil {
		return "", nil, err
	}
	key = &models.APIKey{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		KeyHash:   hash,
		Name:      name,
	}
	if err := r.store.CreateAPIKey(ctx, key); err != nil {
		return "", nil, err
	}
	return rawKey, key, nil
}

// RevokeAPIKey marks a key as revoked.
func (r *Repository) RevokeAPIKey(ctx context.Context, keyID string) error {
	return r.store.RevokeAPIKey(ctx, keyID)
}

// ListAPIKeys returns the (non-secret) key records for a project.
func (r *Repository) ListAPIKeys(ctx context.Context, projectID string) ([]models.APIKey, error) {
	return r.store.ListAPIKeysByProject(ctx, projectID)
}

// ErrUnauthorized is returned when a bearer key does not resolve to an
// active, unrevoked key.
var ErrUnauthorized = errors.New("unauthorized")
