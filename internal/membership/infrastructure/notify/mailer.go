package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"membership/internal/common/logging"
	"membership/internal/membership/application"
)

// mailTemplate is a plain-text notification. Placeholders are {{key}}
// matching the params map handed to Send.
type mailTemplate struct {
	subject string
	body    string
}

var templates = map[string]mailTemplate{
	"approval": {
		subject: "Your membership application was approved",
		body: "Dear {{name}},\n\n" +
			"Your membership application has been approved.\n" +
			"{{payment_link_url}}\n{{pass_wallet_url}}\n",
	},
	"decline": {
		subject: "Your membership application",
		body: "Dear {{name}},\n\n" +
			"Unfortunately your membership application was not accepted.\n",
	},
	"card_assignment": {
		subject: "Your membership card is ready",
		body: "Dear {{name}},\n\n" +
			"Your payment was received and card {{card_number}} has been reserved for you.\n" +
			"{{card_wallet_url}}\n",
	},
	"card_issuance": {
		subject: "Your membership card was issued",
		body: "Dear {{name}},\n\n" +
			"Your membership card {{card_number}} has been printed and is on its way.\n",
	},
	"pass_blacklist": {
		subject: "Your pass was deactivated",
		body: "Dear {{name}},\n\n" +
			"Your pass has been deactivated. Contact us if you believe this is a mistake.\n",
	},
}

// SMTPMailer implements application.Mailer over a plain SMTP relay.
type SMTPMailer struct {
	addr string
	from string
}

// NewSMTPMailer creates a mailer that relays through addr (host:port).
func NewSMTPMailer(addr, from string) *SMTPMailer {
	return &SMTPMailer{addr: addr, from: from}
}

// Send renders the named template and submits the message to the relay.
func (m *SMTPMailer) Send(ctx context.Context, to, templateKey string, params map[string]string) error {
	tmpl, ok := templates[templateKey]
	if !ok {
		return fmt.Errorf("unknown mail template %q", templateKey)
	}

	body := render(tmpl.body, params)
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + to,
		"Subject: " + tmpl.subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		body,
	}, "\r\n")

	if err := smtp.SendMail(m.addr, nil, m.from, []string{to}, []byte(msg)); err != nil {
		return fmt.Errorf("sending %q mail: %w", templateKey, err)
	}
	return nil
}

func render(body string, params map[string]string) string {
	for key, value := range params {
		body = strings.ReplaceAll(body, "{{"+key+"}}", value)
	}
	// Unfilled placeholders collapse to nothing rather than leaking markers.
	for strings.Contains(body, "{{") {
		start := strings.Index(body, "{{")
		end := strings.Index(body[start:], "}}")
		if end == -1 {
			break
		}
		body = body[:start] + body[start+end+2:]
	}
	return body
}

// LogMailer is a Mailer that only logs, for environments without a relay.
type LogMailer struct{}

// Send logs the message instead of delivering it.
func (LogMailer) Send(ctx context.Context, to, templateKey string, params map[string]string) error {
	logging.InfoContext(ctx, "Mail delivery skipped (no relay configured)",
		"to", to, "template", templateKey)
	return nil
}

// Verify interface implementations.
var (
	_ application.Mailer = (*SMTPMailer)(nil)
	_ application.Mailer = LogMailer{}
)
