// Package mailer sends plain-text notification emails using the SMTP
// parameters stored in the database. Sending is best-effort from the
// callers' perspective: they log failures and move on.
package mailer

import (
	"github.com/pkg/errors"
	"github.com/wgui/wgui/internal/database"
	gomail "gopkg.in/gomail.v2"
)

// A Notifier sends an email given a subject and a body.
type Notifier interface {
	Notify(subject, body string) error
}

type smtpNotifier struct {
	db database.Client
}

// NewSMTPNotifier returns a Notifier reading EmailSettings at send time, so
// settings changes apply without a restart.
func NewSMTPNotifier(db database.Client) Notifier {
	return &smtpNotifier{db: db}
}

func (n *smtpNotifier) Notify(subject, body string) error {
	settings, err := n.db.EmailSettings()
	if err != nil {
		return errors.Wrap(err, "could not load email settings")
	}

	recipients := settings.Recipients()
	if len(recipients) == 0 {
		return errors.New("no notification recipients configured")
	}

	m := gomail.NewMessage()
	m.SetHeader("From", settings.FromEmail)
	m.SetHeader("To", recipients...)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(settings.SMTPServer, settings.SMTPPort, settings.SMTPUser, settings.SMTPPass)
	return errors.Wrap(d.DialAndSend(m), "could not send notification email")
}
