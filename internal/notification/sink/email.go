package sink

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	notificationdomain "github.com/Ajamix/saas-platform-api/internal/notification/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var subjects = map[notificationdomain.Kind]string{
	notificationdomain.KindSubscriptionChange: "Your subscription has changed",
	notificationdomain.KindPaymentReminder:    "Your subscription renews soon",
}

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Sender delivers one rendered message.
type Sender func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// EmailSink renders a template per notification kind and sends it over SMTP.
type EmailSink struct {
	cfg  EmailConfig
	send Sender
}

func NewEmailSink(cfg EmailConfig) *EmailSink {
	return &EmailSink{cfg: cfg, send: smtp.SendMail}
}

// WithSender swaps the transport, for tests.
func (s *EmailSink) WithSender(send Sender) *EmailSink {
	s.send = send
	return s
}

func (s *EmailSink) Notify(ctx context.Context, admins []notificationdomain.TenantAdmin, kind notificationdomain.Kind, payload map[string]any) error {
	to := make([]string, 0, len(admins))
	for _, admin := range admins {
		if email := strings.TrimSpace(admin.Email); email != "" {
			to = append(to, email)
		}
	}
	if len(to) == 0 {
		return nil
	}

	body, err := render(kind, payload)
	if err != nil {
		return err
	}
	subject, ok := subjects[kind]
	if !ok {
		subject = "Billing notification"
	}

	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	msg := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n%s\r\n%s", strings.Join(to, ", "), subject, mime, body))

	if err := ctx.Err(); err != nil {
		return err
	}
	return s.send(addr, auth, s.cfg.From, to, msg)
}

func render(kind notificationdomain.Kind, payload map[string]any) (string, error) {
	var body bytes.Buffer
	if err := templates.ExecuteTemplate(&body, string(kind)+".html", payload); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return body.String(), nil
}
