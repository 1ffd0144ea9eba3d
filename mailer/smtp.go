package mailer

import (
	"context"
	"fmt"
	"io"

	mail "github.com/go-mail/mail"
)

// Attachment is one file attached to an outgoing message.
type Attachment struct {
	Name string
	Data []byte
}

// Sender delivers policy e-mails.
type Sender interface {
	Send(ctx context.Context, to, subject, body string, attachments ...Attachment) error
}

// SMTP sends mail through a plain SMTP relay.
type SMTP struct {
	host string
	port int
	from string
	user string
	pass string
}

// NewSMTP builds an SMTP sender.
func NewSMTP(host string, port int, from, user, pass string) *SMTP {
	return &SMTP{host: host, port: port, from: from, user: user, pass: pass}
}

// Send delivers one message. The context is honored up front; the SMTP
// dialer applies its own I/O timeouts past that point.
func (s *SMTP) Send(ctx context.Context, to, subject, body string, attachments ...Attachment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := mail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	for _, att := range attachments {
		data := att.Data
		m.Attach(att.Name, mail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(data)
			return err
		}))
	}

	d := mail.NewDialer(s.host, s.port, s.user, s.pass)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("mailer: send to %s: %w", to, err)
	}
	return nil
}
