package provider

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/smtp"

	"github.com/domodwyer/mailyak/v3"

	"github.com/outpostmsg/outpost/config"
	"github.com/outpostmsg/outpost/internal/models"
)

// EmailAdapter delivers ChannelEmail messages over SMTP via mailyak.
type EmailAdapter struct {
	addr string
	auth smtp.Auth
	from string
	tls  *tls.Config
}

// NewEmailAdapter builds an EmailAdapter from the process's SMTP settings.
// Auth is skipped when no username is configured, for talking to local
// relays in development.
func NewEmailAdapter(cfg config.ProviderConfig) *EmailAdapter {
	var auth smtp.Auth
	if cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPHost)
	}
	return &EmailAdapter{
		addr: fmt.Sprintf("%s:%d", cfg.SMTPHost, cfg.SMTPPort),
		auth: auth,
		from: cfg.SMTPFrom,
		tls:  &tls.Config{ServerName: cfg.SMTPHost},
	}
}

func (a *EmailAdapter) Send(ctx context.Context, msg *models.Message) (Verdict, error) {
	mail := mailyak.New(a.addr, a.auth)
	mail.TLSConfig(a.tls)

	from := msg.FromAddress
	if from == "" {
		from = a.from
	}
	mail.From(from)
	mail.To(msg.ToAddress)
	if msg.Subject != nil {
		mail.Subject(*msg.Subject)
	}
	mail.Plain().Set(msg.Body)

	if err := mail.Send(); err != nil {
		return Verdict{Success: false, Retryable: true, ErrorMessage: err.Error()}, nil
	}

	resp, _ := json.Marshal(map[string]string{"to": msg.ToAddress, "via": "smtp"})
	return Verdict{Success: true, ProviderResponse: resp}, nil
}
