// Package mailer delivers verification links out of band.
package mailer

import (
	"context"
	"fmt"
	"net/url"

	"github.com/dmitrijs2005/gophid/internal/logging"
	"github.com/dmitrijs2005/gophid/internal/server/models"
)

// Message is one verification email.
type Message struct {
	Kind   models.StagedKind
	To     string
	Secret string
	// Site is the origin of the relying site the user came from.
	Site string
}

// Mailer sends verification messages. It is called only after the secret was
// persisted.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

var paths = map[models.StagedKind]string{
	models.StagedNewAccount:    "/verify_email_address",
	models.StagedAddEmail:      "/confirm",
	models.StagedPasswordReset: "/reset_password",
	models.StagedReverify:      "/confirm",
	models.StagedTransition:    "/complete_transition",
}

var subjects = map[models.StagedKind]string{
	models.StagedNewAccount:    "Confirm your email address",
	models.StagedAddEmail:      "Confirm your email address",
	models.StagedPasswordReset: "Reset your password",
	models.StagedReverify:      "Confirm your email address",
	models.StagedTransition:    "Set a password for your account",
}

// Link builds the URL the recipient follows to redeem msg.Secret.
func Link(publicURL string, msg Message) (string, error) {
	path, ok := paths[msg.Kind]
	if !ok {
		return "", fmt.Errorf("no link for staged kind %q", msg.Kind)
	}
	u, err := url.Parse(publicURL)
	if err != nil {
		return "", fmt.Errorf("parse public url: %w", err)
	}
	u.Path = path
	q := url.Values{"token": {msg.Secret}}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subject returns the subject line for kind.
func Subject(kind models.StagedKind) string {
	return subjects[kind]
}

// LogMailer writes each message to the log instead of sending it. It is the
// development mailer.
type LogMailer struct {
	publicURL string
	logger    logging.Logger
}

func NewLogMailer(publicURL string, logger logging.Logger) *LogMailer {
	return &LogMailer{publicURL: publicURL, logger: logger.With("module", "mailer")}
}

func (m *LogMailer) Send(ctx context.Context, msg Message) error {
	link, err := Link(m.publicURL, msg)
	if err != nil {
		return err
	}
	m.logger.Info(ctx, "verification email",
		"to", msg.To, "kind", string(msg.Kind), "subject", Subject(msg.Kind), "site", msg.Site, "link", link)
	return nil
}
