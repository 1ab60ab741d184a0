package api

import (
	"encoding/json"
	"net/http"

	"github.com/outpostmsg/outpost/internal/apperr"
	"github.com/outpostmsg/outpost/internal/auth"
	"github.com/outpostmsg/outpost/internal/enqueue"
	"github.com/outpostmsg/outpost/internal/models"
)

// createMessageRequest is the POST /v1/messages wire body.
type createMessageRequest struct {
	Channel        string  `json:"channel"`
	From           string  `json:"from"`
	To             string  `json:"to"`
	Subject        *string `json:"subject,omitempty"`
	Body           string  `json:"body"`
	IdempotencyKey *string `json:"idempotency_key,omitempty"`
}

type createMessageResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// createMessage handles POST /v1/messages: the Enqueuer's admission chain
// maps directly onto spec.md §6's status codes (202 fresh, 200 duplicate,
// 400/403/429/500 on rejection).
func (h *Handler) createMessage(w http.ResponseWriter, r *http.Request) {
	principal := auth.GetPrincipal(r.Context())
	if principal == nil {
		writeError(w, apperr.ErrUnauthorized)
		return
	}

	var req createMessageRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, apperr.ValidationError{Field: "body", Message: "malformed JSON: " + err.Error()})
		return
	}

	channel := req.Channel
	if channel == "" {
		channel = string(models.ChannelEmail)
	}

	res, err := h.enqueuer.Accept(r.Context(), enqueue.Request{
		ProjectID:      principal.ProjectID,
		Channel:        models.Channel(channel),
		From:           req.From,
		To:             req.To,
		Subject:        req.Subject,
		Body:           req.Body,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusAccepted
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, createMessageResponse{
		MessageID: res.MessageID,
		Status:    string(res.Status),
		Duplicate: res.Duplicate,
	})
}
