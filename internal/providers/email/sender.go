package email

import (
	"context"
	"errors"
	"strings"

	obslogger "github.com/smallbiznis/clinicledger/internal/observability/logger"
	"github.com/smallbiznis/clinicledger/internal/providers/retry"
	"go.uber.org/zap"
)

// Message is one outbound email. At least one of HTML or Text is set.
type Message struct {
	To      string
	From    string
	ReplyTo string
	Subject string
	HTML    string
	Text    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

var (
	ErrInvalidRecipient = errors.New("invalid_recipient")
	ErrEmptyMessage     = errors.New("empty_message")
)

func (m Message) Validate() error {
	to := strings.TrimSpace(m.To)
	if to == "" || !strings.Contains(to, "@") || strings.ContainsAny(to, "\r\n") {
		return ErrInvalidRecipient
	}
	if strings.TrimSpace(m.Subject) == "" || (strings.TrimSpace(m.HTML) == "" && strings.TrimSpace(m.Text) == "") {
		return ErrEmptyMessage
	}
	return nil
}

// RetryingSender retries transient send failures under a bounded policy.
type RetryingSender struct {
	next   Sender
	policy retry.Policy
	from   string
	log    *zap.Logger
}

func NewRetryingSender(next Sender, policy retry.Policy, from string, log *zap.Logger) *RetryingSender {
	return &RetryingSender{next: next, policy: policy, from: from, log: log.Named("email.sender")}
}

func (s *RetryingSender) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.From) == "" {
		msg.From = s.from
	}
	if err := msg.Validate(); err != nil {
		return err
	}

	attempt := 0
	_, err := retry.Do(ctx, s.policy, func(ctx context.Context) (struct{}, error) {
		attempt++
		err := s.next.Send(ctx, msg)
		if err != nil {
			s.log.Warn("email send attempt failed",
				zap.String("to", obslogger.MaskEmail(msg.To)),
				zap.String("subject", msg.Subject),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return struct{}{}, err
	})
	return err
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender {
	return &LogSender{log: log.Named("email.log")}
}

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.log.Info("email",
		zap.String("to", obslogger.MaskEmail(msg.To)),
		zap.String("from", msg.From),
		zap.String("subject", msg.Subject),
		zap.Int("html_bytes", len(msg.HTML)),
		zap.Int("text_bytes", len(msg.Text)),
	)
	return nil
}
