// Package escalation forwards designated failure notifications to a secondary
// channel (email, and SMS through email-to-SMS gateways) in addition to the
// chat rooms.
package escalation

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xiaonanln/oambridge/content"
	"github.com/xiaonanln/oambridge/model"
	"github.com/xiaonanln/oambridge/util/logger"
	"github.com/xiaonanln/oambridge/util/metrics"
	"github.com/xiaonanln/oambridge/util/taskpool"
)

// Escalator delivers a notification to a secondary channel.
type Escalator interface {
	Escalate(ctx context.Context, n model.Notification) error
}

// Policy decides which notifications escalate.
type Policy struct {
	Types          map[model.NotificationType]bool
	ComponentTypes map[model.ComponentType]bool
}

// DefaultPolicy escalates failures raised by subsystems, processing plants,
// WUPs and endpoints.
func DefaultPolicy() Policy {
	return Policy{
		Types: map[model.NotificationType]bool{model.NotificationFailure: true},
		ComponentTypes: map[model.ComponentType]bool{
			model.ComponentSubsystem:       true,
			model.ComponentProcessingPlant: true,
			model.ComponentWUP:             true,
			model.ComponentEndpoint:        true,
		},
	}
}

// ShouldEscalate reports whether n matches the policy.
func (p Policy) ShouldEscalate(n model.Notification) bool {
	return p.Types[n.Type] && p.ComponentTypes[n.ComponentType]
}

// SMTPConfig configures an SMTPEscalator.
type SMTPConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	From     string
	FromName string

	EmailRecipients []string
	// SMSRecipients are email-to-SMS gateway addresses; they receive a short
	// plain-text message.
	SMSRecipients []string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPEscalator sends escalations as email.
type SMTPEscalator struct {
	cfg  SMTPConfig
	auth smtp.Auth
	send sendFunc
}

// NewSMTPEscalator creates an SMTPEscalator. Plain auth is used when a user
// and password are configured.
func NewSMTPEscalator(cfg SMTPConfig) *SMTPEscalator {
	var auth smtp.Auth
	if cfg.User != "" && cfg.Password != "" {
		auth = smtp.PlainAuth("", cfg.User, cfg.Password, cfg.Host)
	}
	return &SMTPEscalator{cfg: cfg, auth: auth, send: smtp.SendMail}
}

// Escalate sends an HTML email to the email recipients and a short text to
// the SMS recipients. smtp.SendMail takes no context, so ctx is only checked
// before each send.
func (e *SMTPEscalator) Escalate(ctx context.Context, n model.Notification) error {
	addr := e.cfg.Host + ":" + e.cfg.Port
	from := e.cfg.From
	if strings.TrimSpace(e.cfg.FromName) != "" {
		from = fmt.Sprintf("%s <%s>", e.cfg.FromName, e.cfg.From)
	}
	subject := fmt.Sprintf("[OAM %s] %s", strings.ToUpper(string(n.Type)), n.ParticipantName)
	if n.Title != "" {
		subject += ": " + n.Title
	}

	if len(e.cfg.EmailRecipients) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		body := content.NotificationMessage(n)
		msg := buildMessage(from, e.cfg.EmailRecipients, subject, "text/html", body.Formatted)
		if err := e.send(addr, e.auth, e.cfg.From, e.cfg.EmailRecipients, msg); err != nil {
			return fmt.Errorf("send escalation email: %w", err)
		}
	}
	if len(e.cfg.SMSRecipients) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := buildMessage(from, e.cfg.SMSRecipients, subject, "text/plain", smsText(n))
		if err := e.send(addr, e.auth, e.cfg.From, e.cfg.SMSRecipients, msg); err != nil {
			return fmt.Errorf("send escalation sms: %w", err)
		}
	}
	return nil
}

// smsLimit is counted in characters, not bytes.
const smsLimit = 160

func smsText(n model.Notification) string {
	text := fmt.Sprintf("%s %s: %s", strings.ToUpper(string(n.Type)), n.ParticipantName, content.FormatValue(n.Content))
	if utf8.RuneCountInString(text) > smsLimit {
		text = string([]rune(text)[:smsLimit-3]) + "..."
	}
	return text
}

func buildMessage(from string, to []string, subject, contentType, body string) []byte {
	lines := []string{
		"From: " + sanitizeHeader(from),
		"To: " + sanitizeHeader(strings.Join(to, ", ")),
		"Subject: " + sanitizeHeader(subject),
		"MIME-Version: 1.0",
		"Content-Type: " + contentType + "; charset=UTF-8",
		"",
		body,
	}
	return []byte(strings.Join(lines, "\r\n"))
}

func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}

// Dispatcher hands escalations to an Escalator off the caller's goroutine.
// Escalations for one participant are delivered in order.
type Dispatcher struct {
	escalator Escalator
	policy    Policy
	timeout   time.Duration
	pool      *taskpool.TaskPool
	logger    *logger.Logger
}

// NewDispatcher creates a Dispatcher. timeout bounds each delivery.
func NewDispatcher(escalator Escalator, policy Policy, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		escalator: escalator,
		policy:    policy,
		timeout:   timeout,
		pool:      taskpool.NewTaskPool(),
		logger:    logger.NewLogger("EscalationDispatcher"),
	}
}

// Policy returns the dispatcher's policy.
func (d *Dispatcher) Policy() Policy { return d.policy }

// Dispatch queues n for escalation if the policy selects it. It reports
// whether n was accepted; delivery failures are logged, not retried.
func (d *Dispatcher) Dispatch(n model.Notification) bool {
	if !d.policy.ShouldEscalate(n) {
		return false
	}
	accepted := d.pool.Submit(n.ParticipantName, func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, d.timeout)
		defer cancel()
		if err := d.escalator.Escalate(ctx, n); err != nil {
			d.logger.Warnf("Escalation for %s failed: %v", n.ParticipantName, err)
			metrics.RecordEscalation(metrics.OutcomeFailure)
			return
		}
		metrics.RecordEscalation(metrics.OutcomeSuccess)
	})
	if !accepted {
		d.logger.Warnf("Escalation queue for %s rejected notification", n.ParticipantName)
		metrics.RecordEscalation(metrics.OutcomeSkipped)
	}
	return accepted
}

// Stop cancels pending escalations.
func (d *Dispatcher) Stop() {
	d.pool.Stop()
}
