package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/autorun-api/internal/config"
	"github.com/stanstork/autorun-api/internal/models"
)

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// AlertNotifier emails error-severity notifications, such as failed runs,
// to the configured operators.
type AlertNotifier struct {
	host       string
	port       int
	username   string
	password   string
	from       string
	recipients []string
	send       sendMailFunc
	logger     zerolog.Logger
}

func NewAlertNotifier(cfg config.AlertConfig, logger zerolog.Logger) (*AlertNotifier, error) {
	host := strings.TrimSpace(cfg.SMTPHost)
	from := strings.TrimSpace(cfg.From)
	if host == "" {
		return nil, errors.New("smtp_host is required for alert emails")
	}
	if from == "" {
		return nil, errors.New("from is required for alert emails")
	}
	port := cfg.SMTPPort
	if port == 0 {
		port = 587
	}

	var recipients []string
	for _, r := range cfg.Recipients {
		if r = strings.TrimSpace(r); r != "" {
			recipients = append(recipients, r)
		}
	}

	return &AlertNotifier{
		host:       host,
		port:       port,
		username:   strings.TrimSpace(cfg.Username),
		password:   cfg.Password,
		from:       from,
		recipients: recipients,
		send:       smtp.SendMail,
		logger:     logger.With().Str("notifier", "alert_email").Logger(),
	}, nil
}

func (n *AlertNotifier) Notify(_ context.Context, notif models.Notification) error {
	if len(n.recipients) == 0 || notif.Severity != models.NotificationSeverityError {
		return nil
	}

	subject := "[Autorun] " + strings.TrimSpace(notif.Title)
	if strings.TrimSpace(notif.Title) == "" {
		subject = "[Autorun] Automation alert"
	}

	var body strings.Builder
	body.WriteString(strings.TrimSpace(notif.Message))
	body.WriteString("\n\n")
	fmt.Fprintf(&body, "Event: %s\n", notif.EventType)
	if notif.TenantID != nil {
		fmt.Fprintf(&body, "Tenant: %s\n", *notif.TenantID)
	}
	fmt.Fprintf(&body, "Created: %s\n", notif.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	if len(notif.Metadata) > 0 {
		fmt.Fprintf(&body, "Details: %s\n", string(notif.Metadata))
	}

	headers := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"UTF-8\"\r\n\r\n",
		n.from, strings.Join(n.recipients, ","), subject)

	var auth smtp.Auth
	if n.username != "" {
		auth = smtp.PlainAuth("", n.username, n.password, n.host)
	}

	addr := fmt.Sprintf("%s:%d", n.host, n.port)
	if err := n.send(addr, auth, n.from, n.recipients, []byte(headers+body.String())); err != nil {
		return errors.Wrap(err, "send alert email")
	}

	n.logger.Info().
		Str("notification_id", notif.ID).
		Str("event_type", string(notif.EventType)).
		Strs("recipients", n.recipients).
		Msg("alert email sent")
	return nil
}

func (n *AlertNotifier) String() string {
	return "AlertNotifier"
}
