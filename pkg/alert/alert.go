package alert

import (
	"fmt"

	"gopkg.in/gomail.v2"

	"github.com/jwalitptl/ranking-api/pkg/logger"
)

// Notifier raises operator notifications for conditions that need a human:
// outbox rows gone FAILED, consumer give-ups. Implementations must never
// return an error into the hot path; failures are logged and dropped.
type Notifier interface {
	Notify(subject, body string)
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
	To       string `mapstructure:"to"`
}

// EmailNotifier sends alerts over SMTP.
type EmailNotifier struct {
	dialer *gomail.Dialer
	from   string
	to     string
	logger *logger.Logger
}

func NewEmailNotifier(cfg SMTPConfig, logger *logger.Logger) *EmailNotifier {
	return &EmailNotifier{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
		to:     cfg.To,
		logger: logger,
	}
}

func (n *EmailNotifier) Notify(subject, body string) {
	m := gomail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetHeader("To", n.to)
	m.SetHeader("Subject", fmt.Sprintf("[ranking-api] %s", subject))
	m.SetBody("text/plain", body)

	if err := n.dialer.DialAndSend(m); err != nil {
		n.logger.Error(err, "failed to send alert email", "subject", subject)
	}
}

// NopNotifier discards notifications; used in tests and local runs.
type NopNotifier struct{}

func (NopNotifier) Notify(subject, body string) {}
