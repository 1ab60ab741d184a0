package provider

import (
	"context"
	"encoding/json"

	"github.com/slack-go/slack"

	"github.com/outpostmsg/outpost/config"
	"github.com/outpostmsg/outpost/internal/models"
)

// PushAdapter delivers ChannelPush messages as Slack chat messages. Slack
// stands in for a generic push gateway here: ToAddress carries the target
// channel/user id, falling back to the configured default channel.
type PushAdapter struct {
	client         *slack.Client
	defaultChannel string
}

func NewPushAdapter(cfg config.ProviderConfig) *PushAdapter {
	return &PushAdapter{
		client:         slack.New(cfg.SlackBotToken),
		defaultChannel: cfg.SlackDefaultChannel,
	}
}

func (a *PushAdapter) Send(ctx context.Context, msg *models.Message) (Verdict, error) {
	channel := msg.ToAddress
	if channel == "" {
		channel = a.defaultChannel
	}

	respChannel, ts, err := a.client.PostMessageContext(ctx, channel, slack.MsgOptionText(msg.Body, false))
	if err != nil {
		return Verdict{Success: false, Retryable: isRetryableSlackErr(err), ErrorMessage: err.Error()}, nil
	}

	resp, _ := json.Marshal(map[string]string{"channel": respChannel, "ts": ts})
	return Verdict{Success: true, ProviderResponse: resp}, nil
}

// isRetryableSlackErr classifies only slack.ErrParametersMissing as
// permanent; every other error, including rate limits, connection failures
// and Slack API rejections such as an unknown channel or revoked token, is
// treated as retryable.
func isRetryableSlackErr(err error) bool {
	switch err {
	case slack.ErrParametersMissing:
		return false
	default:
		if _, ok := err.(*slack.RateLimitedError); ok {
			return true
		}
		return true
	}
}
