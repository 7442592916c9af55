// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-passwordless.
//
// go-passwordless is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package mailer delivers magic links.
package mailer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"github.com/jeremyhahn/go-passwordless/pkg/logger"
	"github.com/jeremyhahn/go-passwordless/pkg/store"
)

// ErrInvalidAddress is returned for a recipient or sender containing line breaks.
var ErrInvalidAddress = errors.New("mailer: invalid address")

// Message is one magic link email.
type Message struct {
	To        string
	Link      string
	Purpose   store.MagicLinkPurpose
	ExpiresAt time.Time
}

// Mailer sends magic link emails.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SendFunc matches smtp.SendMail.
type SendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPConfig configures an SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTP delivers mail through a relay with PLAIN auth. smtp.SendMail
// upgrades to STARTTLS when the relay offers it.
type SMTP struct {
	addr string
	from string
	auth smtp.Auth
	send SendFunc
	log  logger.Logger
}

// NewSMTP creates an SMTP mailer. send defaults to smtp.SendMail.
func NewSMTP(cfg SMTPConfig, send SendFunc, log logger.Logger) (*SMTP, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.From == "" || strings.ContainsAny(cfg.From, "\r\n") {
		return nil, fmt.Errorf("%w: from %q", ErrInvalidAddress, cfg.From)
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if send == nil {
		send = smtp.SendMail
	}

	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &SMTP{
		addr: net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
		from: cfg.From,
		auth: auth,
		send: send,
		log:  logger.OrNop(log).With(logger.String("component", "mailer")),
	}, nil
}

// Send delivers msg. The link is never logged.
func (m *SMTP) Send(ctx context.Context, msg Message) error {
	if msg.To == "" || strings.ContainsAny(msg.To, "\r\n") {
		return fmt.Errorf("%w: to", ErrInvalidAddress)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body := compose(m.from, msg)
	if err := m.send(m.addr, m.auth, m.from, []string{msg.To}, body); err != nil {
		m.log.ErrorContext(ctx, "magic link delivery failed", logger.Error(err))
		return fmt.Errorf("send magic link: %w", err)
	}
	m.log.DebugContext(ctx, "magic link sent", logger.String("purpose", string(msg.Purpose)))
	return nil
}

func compose(from string, msg Message) []byte {
	subject := "Your sign-in link"
	intro := "Use the link below to sign in."
	if msg.Purpose == store.PurposeVerify {
		subject = "Verify your email address"
		intro = "Use the link below to verify your email address."
	}

	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", msg.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	fmt.Fprintf(&b, "%s\r\n\r\n%s\r\n\r\n", intro, msg.Link)
	fmt.Fprintf(&b, "The link expires at %s and can be used once.\r\n", msg.ExpiresAt.UTC().Format(time.RFC1123))
	b.WriteString("If you did not request it, ignore this email.\r\n")
	return b.Bytes()
}

// Discard drops every message. It is meant for development and logs only
// the purpose.
type Discard struct {
	log logger.Logger
}

// NewDiscard creates a discarding mailer.
func NewDiscard(log logger.Logger) *Discard {
	return &Discard{log: logger.OrNop(log).With(logger.String("component", "mailer"))}
}

// Send returns nil without delivering msg.
func (d *Discard) Send(ctx context.Context, msg Message) error {
	d.log.InfoContext(ctx, "magic link delivery disabled", logger.String("purpose", string(msg.Purpose)))
	return nil
}
