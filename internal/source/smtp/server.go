// Package smtp receives mail pushed over SMTP and hands it to a sink.
package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/nhle/tempmail/internal/source"
)

// Recipients decides at RCPT time whether an address takes mail.
type Recipients interface {
	Accepts(ctx context.Context, email string) (bool, error)
}

// Config holds receiver limits.
type Config struct {
	Addr            string
	Domain          string
	MaxMessageBytes int64
	MaxRecipients   int
	// Timeout bounds reads, writes and one delivery.
	Timeout time.Duration
}

var (
	errNoSuchUser = &gosmtp.SMTPError{
		Code:         550,
		EnhancedCode: gosmtp.EnhancedCode{5, 1, 1},
		Message:      "No such user here",
	}
	errTooManyRecipients = &gosmtp.SMTPError{
		Code:         452,
		EnhancedCode: gosmtp.EnhancedCode{4, 5, 3},
		Message:      "Too many recipients",
	}
	errNoRecipients = &gosmtp.SMTPError{
		Code:         554,
		EnhancedCode: gosmtp.EnhancedCode{5, 5, 1},
		Message:      "No valid recipients",
	}
	errTemporary = &gosmtp.SMTPError{
		Code:         451,
		EnhancedCode: gosmtp.EnhancedCode{4, 3, 0},
		Message:      "Temporary failure, try again later",
	}
)

// Backend implements the go-smtp backend.
type Backend struct {
	cfg        Config
	recipients Recipients
	sink       source.Sink
	logger     *zap.Logger
	now        func() time.Time
}

// NewBackend wires a backend to the pipeline.
func NewBackend(cfg Config, recipients Recipients, sink source.Sink, logger *zap.Logger) *Backend {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		cfg:        cfg,
		recipients: recipients,
		sink:       sink,
		logger:     logger.Named("smtp"),
		now:        time.Now,
	}
}

// NewSession implements gosmtp.Backend.
func (b *Backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	remote := ""
	if c != nil && c.Conn() != nil {
		remote = c.Conn().RemoteAddr().String()
	}
	return &session{backend: b, remote: remote}, nil
}

type session struct {
	backend *Backend
	remote  string
	from    string
	rcpts   []string
}

func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	b := s.backend
	if b.cfg.MaxRecipients > 0 && len(s.rcpts) >= b.cfg.MaxRecipients {
		return errTooManyRecipients
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout)
	defer cancel()

	ok, err := b.recipients.Accepts(ctx, to)
	if err != nil {
		b.logger.Error("recipient lookup failed", zap.String("rcpt", to), zap.Error(err))
		return errTemporary
	}
	if !ok {
		return errNoSuchUser
	}
	s.rcpts = append(s.rcpts, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	b := s.backend
	if len(s.rcpts) == 0 {
		return errNoRecipients
	}

	var buf bytes.Buffer
	reader := r
	if b.cfg.MaxMessageBytes > 0 {
		reader = io.LimitReader(r, b.cfg.MaxMessageBytes+1)
	}
	if _, err := buf.ReadFrom(reader); err != nil {
		if errors.Is(err, gosmtp.ErrDataTooLarge) {
			return gosmtp.ErrDataTooLarge
		}
		return fmt.Errorf("reading message data: %w", err)
	}
	if b.cfg.MaxMessageBytes > 0 && int64(buf.Len()) > b.cfg.MaxMessageBytes {
		return gosmtp.ErrDataTooLarge
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.Timeout)
	defer cancel()

	msg := source.RawMessage{
		Source:     source.SourceTypeSMTP,
		Recipients: append([]string(nil), s.rcpts...),
		Data:       buf.Bytes(),
		ReceivedAt: b.now().UTC(),
	}
	if err := b.sink.Deliver(ctx, msg); err != nil {
		if errors.Is(err, source.ErrMessageTooLarge) {
			return gosmtp.ErrDataTooLarge
		}
		b.logger.Error("delivering message failed",
			zap.String("from", s.from),
			zap.String("remote", s.remote),
			zap.Error(err))
		return errTemporary
	}

	b.logger.Debug("message accepted",
		zap.String("from", s.from),
		zap.Strings("rcpts", s.rcpts),
		zap.Int("bytes", buf.Len()))
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.rcpts = nil
}

func (s *session) Logout() error {
	return nil
}

// Server is a running SMTP receiver.
type Server struct {
	srv    *gosmtp.Server
	logger *zap.Logger
}

// NewServer builds a receiver around backend.
func NewServer(cfg Config, backend *Backend) *Server {
	srv := gosmtp.NewServer(backend)
	srv.Addr = cfg.Addr
	srv.Domain = cfg.Domain
	srv.MaxMessageBytes = cfg.MaxMessageBytes
	srv.MaxRecipients = cfg.MaxRecipients
	srv.ReadTimeout = backend.cfg.Timeout
	srv.WriteTimeout = backend.cfg.Timeout
	return &Server{srv: srv, logger: backend.logger}
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Info("smtp receiver listening", zap.String("addr", l.Addr().String()))
	err := s.srv.Serve(l)
	if errors.Is(err, gosmtp.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}
	return s.Serve(l)
}

// Shutdown stops accepting and waits for sessions to end.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
