package provider

import (
	"github.com/outpostmsg/outpost/config"
	"github.com/outpostmsg/outpost/internal/models"
)

// NewBrokerFromConfig wires the standard set of channel adapters from
// process configuration. A channel whose adapter cannot be constructed
// (e.g. missing webhook URL) is still registered — the adapter itself
// reports a retryable failure per-send rather than being omitted, so a
// misconfigured channel degrades to retries instead of dead code paths
// the broker has to special-case.
func NewBrokerFromConfig(cfg config.ProviderConfig) *Broker {
	return New(cfg.CallTimeout, map[models.Channel]Adapter{
		models.ChannelEmail:    NewEmailAdapter(cfg),
		models.ChannelPush:     NewPushAdapter(cfg),
		models.ChannelSMS:      NewWebhookAdapter(cfg.SMSWebhookURL),
		models.ChannelWhatsApp: NewWebhookAdapter(cfg.WhatsAppWebhookURL),
	})
}
