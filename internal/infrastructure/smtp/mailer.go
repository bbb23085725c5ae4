package smtp

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/recallbot/internal/config"
	"github.com/recallbot/internal/domain"
)

// Mailer sends emails.
type Mailer interface {
	SendEmail(to, subject, body string) error
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type mailer struct {
	host     string
	port     string
	from     string
	username string
	password string
	send     sendFunc
}

func NewMailer(cfg *config.Config) Mailer {
	return &mailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		from:     cfg.SMTPFrom,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
		send:     smtp.SendMail,
	}
}

func (m *mailer) SendEmail(to, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", m.from, to, subject, body)
	addr := fmt.Sprintf("%s:%s", m.host, m.port)

	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}

	return m.send(addr, auth, m.from, []string{to}, []byte(msg))
}

// Alerter mails the operator when a run fails.
type Alerter struct {
	mailer Mailer
	to     string
}

func NewAlerter(m Mailer, to string) *Alerter {
	return &Alerter{mailer: m, to: to}
}

func (a *Alerter) RunFailed(_ context.Context, run domain.Run) error {
	subject := fmt.Sprintf("[recallbot] run %s failed at %s", run.RunID, run.FailedStage)
	return a.mailer.SendEmail(a.to, subject, alertBody(run))
}

func alertBody(run domain.Run) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Run:      %s\r\n", run.RunID)
	source := run.SourceKey
	if source == "" {
		source = "(explicit ids)"
	}
	fmt.Fprintf(&b, "Source:   %s\r\n", source)
	fmt.Fprintf(&b, "Trigger:  %s\r\n", run.Trigger)
	fmt.Fprintf(&b, "Stage:    %s\r\n", run.FailedStage)
	fmt.Fprintf(&b, "Attempts: %d\r\n", run.Attempts)
	fmt.Fprintf(&b, "Started:  %s\r\n", run.StartedAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Error:    %s\r\n", run.Error)
	if len(run.RecallIDs) > 0 {
		fmt.Fprintf(&b, "Recalls:  %s\r\n", strings.Join(run.RecallIDs, ", "))
	}
	b.WriteString("\r\nResume with: recallbot resume " + run.RunID + "\r\n")
	return b.String()
}
