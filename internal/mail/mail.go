package mail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/sapphybara/change-and-charm-api/config"
	"github.com/sapphybara/change-and-charm-api/internal/mq"
)

// Message is a plain text email.
type Message struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Text    string `json:"text"`
}

// Mailer delivers email.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPMailer sends mail directly through an SMTP relay.
type SMTPMailer struct {
	from    string
	options []gomail.Option
	host    string
}

func NewSMTPMailer(cfg config.MailConfig) (*SMTPMailer, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("EMAIL_HOST is required for smtp transport")
	}

	options := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
	}
	if cfg.Username != "" {
		options = append(options,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	return &SMTPMailer{from: cfg.From, options: options, host: cfg.Host}, nil
}

func (s *SMTPMailer) Send(ctx context.Context, msg Message) error {
	m := gomail.NewMsg()
	if err := m.From(s.from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := m.To(msg.To); err != nil {
		return fmt.Errorf("mail to: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Text)

	client, err := gomail.NewClient(s.host, s.options...)
	if err != nil {
		return fmt.Errorf("mail client: %w", err)
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// Publisher is the subset of the message queue used to hand off mail.
type Publisher interface {
	PublishJSON(ctx context.Context, channel string, v any) (string, error)
}

// QueueMailer hands mail to a queue for the worker to deliver.
type QueueMailer struct {
	queue   Publisher
	channel string
}

func NewQueueMailer(queue Publisher, channel string) *QueueMailer {
	return &QueueMailer{queue: queue, channel: channel}
}

func (q *QueueMailer) Send(ctx context.Context, msg Message) error {
	if _, err := q.queue.PublishJSON(ctx, q.channel, msg); err != nil {
		return fmt.Errorf("enqueue mail: %w", err)
	}
	return nil
}

// New builds the transport selected by cfg. The queue is only used by the
// queue transport.
func New(cfg config.MailConfig, queue *mq.MQ) (Mailer, error) {
	switch cfg.Transport {
	case "queue":
		if queue == nil {
			return nil, errors.New("queue mail transport requires MQ_BACKEND")
		}
		return NewQueueMailer(queue, cfg.Channel), nil
	default:
		return NewSMTPMailer(cfg)
	}
}

// Subscriber is the subset of the message queue the worker consumes from.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler mq.Handler) error
}

// MaxQueuedAge is how long queued mail stays worth sending. It matches the
// lifetime of a password reset token.
const MaxQueuedAge = 10 * time.Minute

// Consume delivers queued mail until ctx is cancelled. Delivery failures
// are returned to the broker for redelivery. Mail older than MaxQueuedAge
// is dropped.
func Consume(ctx context.Context, queue Subscriber, channel string, mailer Mailer) error {
	return queue.Subscribe(ctx, channel, func(ctx context.Context, msg mq.Message) error {
		var m Message
		if err := msg.Decode(&m); err != nil {
			slog.Error("dropping malformed mail message", "id", msg.ID, "error", err)
			return nil
		}
		if !msg.PublishedAt.IsZero() && time.Since(msg.PublishedAt) > MaxQueuedAge {
			slog.Warn("dropping stale mail message", "id", msg.ID, "to", m.To, "published_at", msg.PublishedAt)
			return nil
		}
		if err := mailer.Send(ctx, m); err != nil {
			slog.Error("failed to deliver mail", "id", msg.ID, "to", m.To, "error", err)
			return err
		}
		slog.Info("mail delivered", "id", msg.ID, "to", m.To)
		return nil
	})
}
