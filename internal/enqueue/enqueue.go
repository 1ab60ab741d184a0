// Package enqueue implements spec.md §4.4's Enqueuer: the single entry
// point for admitting a new outbound message, running the ordered chain
// of admission checks before the atomic insert.
package enqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/outpostmsg/outpost/internal/apperr"
	"github.com/outpostmsg/outpost/internal/idempotency"
	"github.com/outpostmsg/outpost/internal/models"
	"github.com/outpostmsg/outpost/internal/quota"
	"github.com/outpostmsg/outpost/internal/ratelimit"
	"github.com/outpostmsg/outpost/internal/store"
)

// Request is the caller-supplied payload for Accept.
type Request struct {
	ProjectID      string
	Channel        models.Channel
	From           string
	To             string
	Subject        *string
	Body           string
	IdempotencyKey *string
}

// Result reports what happened to the request.
type Result struct {
	MessageID string
	Duplicate bool
	Status    models.MessageStatus
}

// Enqueuer runs spec.md §4.4's ordered admission chain: suspension, quota,
// rate limit, idempotency, then the atomic insert of message + requested
// event.
type Enqueuer struct {
	store   store.Store
	quota   *quota.Controller
	limiter *ratelimit.Limiter
	guard   *idempotency.Guard
}

func New(s store.Store) *Enqueuer {
	return &Enqueuer{
		store:   s,
		quota:   quota.New(s),
		limiter: ratelimit.New(s),
		guard:   idempotency.New(s),
	}
}

// Accept runs the full admission chain. Errors returned are typed apperr
// values the HTTP layer classifies directly; a nil error with
// Result.Duplicate true means the request echoes a prior admission rather
// than creating a new message.
func (e *Enqueuer) Accept(ctx context.Context, req Request) (Result, error) {
	if err := validate(req); err != nil {
		return Result{}, err
	}

	project, err := e.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Result{}, apperr.ErrNotFound
		}
		return Result{}, fmt.Errorf("get project: %w", err)
	}
	if project.Suspended() {
		return Result{}, apperr.ForbiddenError{Reason: "project_suspended"}
	}

	now := time.Now()

	qd, err := e.quota.Check(ctx, req.ProjectID, project.MonthlyLimit, now)
	if err != nil {
		return Result{}, fmt.Errorf("check quota: %w", err)
	}
	if !qd.Allowed {
		return Result{}, apperr.QuotaExceededError{Limit: qd.Limit, Current: qd.Current}
	}

	// Rate limiting consumes a token even for requests that turn out to be
	// idempotent duplicates (spec.md §4.3/§4.4): it runs before the
	// idempotency check, not after.
	rd, err := e.limiter.Acquire(ctx, req.ProjectID, project.RateLimitPerMinute, now)
	if err != nil {
		return Result{}, fmt.Errorf("acquire rate limit: %w", err)
	}
	if !rd.Allowed {
		return Result{}, apperr.RateLimitExceededError{Limit: rd.Limit, Current: rd.Current, Window: rd.Window}
	}

	if idem, err := e.guard.Check(ctx, req.ProjectID, req.IdempotencyKey); err != nil {
		return Result{}, fmt.Errorf("check idempotency: %w", err)
	} else if !idem.Fresh {
		return Result{MessageID: idem.ExistingID, Duplicate: true, Status: models.MessageStatus(idem.ExistingStatus)}, nil
	}

	msg := &models.Message{
		ProjectID:      req.ProjectID,
		Type:           req.Channel,
		Status:         models.StatusQueued,
		FromAddress:    req.From,
		ToAddress:      req.To,
		Subject:        req.Subject,
		Body:           req.Body,
		IdempotencyKey: req.IdempotencyKey,
		Attempts:       0,
		MaxAttempts:    3,
	}

	err = e.store.RunInTx(ctx, func(ctx context.Context, q store.Queries) error {
		if err := q.InsertMessage(ctx, msg); err != nil {
			return err
		}
		return q.InsertEvent(ctx, &models.Event{
			MessageID: msg.ID,
			ProjectID: msg.ProjectID,
			Type:      models.EventRequested,
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrIdempotencyConflict) && req.IdempotencyKey != nil {
			winner, rerr := e.guard.Resolve(ctx, req.ProjectID, *req.IdempotencyKey)
			if rerr != nil {
				return Result{}, fmt.Errorf("resolve idempotency winner after lost race: %w", rerr)
			}
			return Result{MessageID: winner.ExistingID, Duplicate: true, Status: models.MessageStatus(winner.ExistingStatus)}, nil
		}
		return Result{}, fmt.Errorf("insert message: %w", err)
	}

	return Result{MessageID: msg.ID, Status: models.StatusQueued}, nil
}

func validate(req Request) error {
	if req.ProjectID == "" {
		return apperr.ValidationError{Field: "project_id", Message: "required"}
	}
	if !models.ValidChannel(req.Channel) {
		return apperr.ValidationError{Field: "channel", Message: "must be one of email, sms, whatsapp, push"}
	}
	if req.To == "" {
		return apperr.ValidationError{Field: "to", Message: "required"}
	}
	if req.Body == "" {
		return apperr.ValidationError{Field: "body", Message: "required"}
	}
	return nil
}
