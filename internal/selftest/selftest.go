// Package selftest runs a full round trip against a live deployment:
// create an address, mail it from outside, wait for the message to
// arrive and open it.
package selftest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/nhle/tempmail/internal/api"
	"github.com/nhle/tempmail/internal/client"
	"github.com/nhle/tempmail/internal/codec"
	"github.com/nhle/tempmail/internal/inbox"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/realtime"
)

// ErrTimeout is returned when the test message never shows up.
var ErrTimeout = errors.New("message did not arrive in time")

// Inbox is the part of the API client a run needs.
type Inbox interface {
	CreateAddress(ctx context.Context, req api.CreateAddressRequest) (*api.AddressResponse, error)
	ServerKey(ctx context.Context) ([]byte, error)
	// Scoped returns an Inbox authenticated with an address token.
	Scoped(token string) Inbox
	ListMessages(ctx context.Context, id string, opts client.ListOptions) ([]model.Message, error)
	GetMessage(ctx context.Context, id, messageID string) (*inbox.MessageView, error)
	DeleteAddress(ctx context.Context, id string) error
	Watch(ctx context.Context, id string, handler client.EventHandler) error
}

// FromClient adapts an API client.
func FromClient(c *client.Client) Inbox {
	return clientInbox{c}
}

type clientInbox struct {
	*client.Client
}

func (c clientInbox) Scoped(token string) Inbox {
	return clientInbox{c.WithAddressToken(token)}
}

// Options tune one run.
type Options struct {
	From    string
	Domain  string
	Tier    model.Tier
	Mode    model.EncryptionMode
	Timeout time.Duration
	// Keep leaves the address in place after the run.
	Keep bool
}

// Report describes a finished run.
type Report struct {
	Email     string               `json:"email"`
	AddressID string               `json:"address_id"`
	Mode      model.EncryptionMode `json:"mode"`
	MessageID string               `json:"message_id"`
	Tag       string               `json:"tag"`
	SentAt    time.Time            `json:"sent_at"`
	SeenAt    time.Time            `json:"seen_at"`
	Latency   time.Duration        `json:"latency"`
	Verified  bool                 `json:"verified"`
}

// Runner executes self-test runs.
type Runner struct {
	inbox  Inbox
	sender Sender
	logger *zap.Logger
	now    func() time.Time

	pollInitial time.Duration
	pollMax     time.Duration
}

// New creates a runner.
func New(in Inbox, sender Sender, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		inbox:       in,
		sender:      sender,
		logger:      logger.Named("selftest"),
		now:         time.Now,
		pollInitial: 500 * time.Millisecond,
		pollMax:     5 * time.Second,
	}
}

// Run performs one round trip. The returned report is filled in as far
// as the run got, even on error.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	if opts.Tier == "" {
		opts.Tier = model.TierFree
	}
	if opts.Mode == "" {
		opts.Mode = model.ModeManaged
	}
	if opts.From == "" {
		return nil, errors.New("selftest: sender address is required")
	}

	serverKey, err := r.inbox.ServerKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch server key: %w", err)
	}

	created, err := r.inbox.CreateAddress(ctx, api.CreateAddressRequest{
		Domain: opts.Domain,
		Tier:   opts.Tier,
		Mode:   opts.Mode,
	})
	if err != nil {
		return nil, fmt.Errorf("create address: %w", err)
	}
	rep := &Report{
		Email:     created.Address.Email,
		AddressID: created.Address.ID,
		Mode:      created.Address.Mode,
		Tag:       newTag(),
	}
	scoped := r.inbox.Scoped(created.Token)
	if !opts.Keep {
		defer func() {
			cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer cancel()
			if err := scoped.DeleteAddress(cctx, rep.AddressID); err != nil {
				r.logger.Warn("cleanup failed", zap.String("address", rep.Email), zap.Error(err))
			}
		}()
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	wake := make(chan struct{}, 1)
	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		_ = scoped.Watch(watchCtx, rep.AddressID, func(e realtime.Event) {
			if e.Type == realtime.EventMessageReceived && strings.Contains(e.Subject, rep.Tag) {
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		})
	}()

	subject := "tempmail self-test " + rep.Tag
	body := "Self-test message " + rep.Tag + "\n"
	rep.SentAt = r.now()
	if err := r.sender.Send(ctx, opts.From, rep.Email, subject, body); err != nil {
		return rep, fmt.Errorf("send: %w", err)
	}
	r.logger.Info("test message sent", zap.String("to", rep.Email), zap.String("tag", rep.Tag))

	msg, err := r.waitFor(ctx, scoped, rep.AddressID, rep.Tag, wake)
	if err != nil {
		return rep, err
	}
	rep.SeenAt = r.now()
	rep.Latency = rep.SeenAt.Sub(rep.SentAt)
	rep.MessageID = msg.ID

	view, err := scoped.GetMessage(ctx, rep.AddressID, msg.ID)
	if err != nil {
		return rep, fmt.Errorf("fetch message: %w", err)
	}
	var secret []byte
	if created.SecretKey != "" {
		if secret, err = codec.FromBase64URL(created.SecretKey); err != nil {
			return rep, fmt.Errorf("decode secret key: %w", err)
		}
	}
	content, err := client.OpenSealed(view, secret, serverKey)
	if err != nil {
		return rep, fmt.Errorf("open message: %w", err)
	}
	if !strings.Contains(content.Text, rep.Tag) {
		return rep, fmt.Errorf("message body does not carry tag %s", rep.Tag)
	}
	rep.Verified = true
	return rep, nil
}

// waitFor polls the inbox with growing intervals until a message whose
// subject carries tag is listed. An event on wake cuts the wait short.
func (r *Runner) waitFor(ctx context.Context, in Inbox, addressID, tag string, wake <-chan struct{}) (*model.Message, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.pollInitial
	b.MaxInterval = r.pollMax
	b.MaxElapsedTime = 0

	for {
		msgs, err := in.ListMessages(ctx, addressID, client.ListOptions{Limit: 50})
		if err != nil && ctx.Err() == nil {
			r.logger.Debug("poll failed", zap.Error(err))
		}
		for i := range msgs {
			if strings.Contains(msgs[i].Subject, tag) {
				return &msgs[i], nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		case <-wake:
		case <-time.After(b.NextBackOff()):
		}
	}
}

func newTag() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
