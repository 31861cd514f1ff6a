package selftest

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/nhle/tempmail/internal/metrics"
	"github.com/nhle/tempmail/internal/model"
)

// Sender delivers one plain-text email.
type Sender interface {
	Send(ctx context.Context, from, to, subject, body string) error
}

// SMTPSender sends through an outbound relay with gomail.
type SMTPSender struct {
	dialer  *gomail.Dialer
	retries uint64
	logger  *zap.Logger
}

// NewSender builds a sender for the configured relay.
func NewSender(cfg model.SelfTestConfig, logger *zap.Logger) *SMTPSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SMTPSender{
		dialer:  gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		retries: 3,
		logger:  logger.Named("selftest.mail"),
	}
}

// Send dials the relay and sends the message, retrying with backoff.
func (s *SMTPSender) Send(ctx context.Context, from, to, subject, body string) error {
	msg := gomail.NewMessage()
	msg.SetHeader("From", from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := s.dialer.DialAndSend(msg)
		if err != nil {
			s.logger.Warn("send attempt failed",
				zap.Int("attempt", attempt),
				zap.String("host", s.dialer.Host),
				zap.Error(err))
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(b, s.retries), ctx))
	if err != nil {
		metrics.MailSendFailure.Inc()
		return err
	}

	metrics.MailSendSuccess.Inc()
	s.logger.Info("mail sent", zap.String("to", to), zap.Int("attempts", attempt))
	return nil
}
