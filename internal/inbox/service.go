// Package inbox provisions addresses and serves their messages.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nhle/tempmail/internal/address"
	"github.com/nhle/tempmail/internal/auth"
	"github.com/nhle/tempmail/internal/blob"
	"github.com/nhle/tempmail/internal/codec"
	"github.com/nhle/tempmail/internal/metrics"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/realtime"
	"github.com/nhle/tempmail/internal/store"
)

var (
	ErrInvalidTier = errors.New("invalid tier")
	ErrInvalidMode = errors.New("invalid encryption mode")
	// ErrManagedUnavailable is returned when no master key is configured.
	ErrManagedUnavailable  = errors.New("managed mode requires a master key")
	ErrPublicKeyNotAllowed = errors.New("public key is only accepted in sealed mode")
	ErrInvalidTTL          = errors.New("invalid ttl")
)

// Publisher receives inbox events.
type Publisher interface {
	Publish(ctx context.Context, e realtime.Event)
}

// Config wires a Service.
type Config struct {
	Store     store.Store
	Blobs     blob.Store
	Signer    *codec.Signer
	MasterKey []byte
	Domains   *address.Generator
	Policy    func(model.Tier) model.TierPolicy
	Tokens    *auth.Issuer
	Publisher Publisher
	Logger    *zap.Logger
	Now       func() time.Time
}

// Service implements address and message operations on top of the store.
type Service struct {
	store     store.Store
	blobs     blob.Store
	signer    *codec.Signer
	masterKey []byte
	domains   *address.Generator
	policy    func(model.Tier) model.TierPolicy
	tokens    *auth.Issuer
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

// New returns a Service.
func New(cfg Config) *Service {
	s := &Service{
		store:     cfg.Store,
		blobs:     cfg.Blobs,
		signer:    cfg.Signer,
		masterKey: cfg.MasterKey,
		domains:   cfg.Domains,
		policy:    cfg.Policy,
		tokens:    cfg.Tokens,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.logger = s.logger.Named("inbox")
	if s.now == nil {
		s.now = time.Now
	}
	if s.policy == nil {
		s.policy = func(model.Tier) model.TierPolicy { return model.TierPolicy{TTL: time.Hour} }
	}
	return s
}

// Domains returns the accepted mail domains.
func (s *Service) Domains() []string {
	return s.domains.Domains()
}

// ServerKey is the ML-DSA-65 public key that signs every envelope.
func (s *Service) ServerKey() []byte {
	return s.signer.PublicKey()
}

// CreateRequest describes a new address.
type CreateRequest struct {
	Domain    string
	LocalPart string
	Tier      model.Tier
	TTL       time.Duration
	Mode      model.EncryptionMode
	// PublicKey is an optional client ML-KEM-768 key for sealed mode.
	PublicKey []byte
}

// Created is the result of Create. SecretKey is only set when the server
// generated a sealed-mode keypair; it is never stored.
type Created struct {
	Address   model.Address
	Token     string
	SecretKey []byte
}

// Create provisions an address and issues its access token.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Created, error) {
	if req.Tier == "" {
		req.Tier = model.TierFree
	}
	if !req.Tier.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTier, req.Tier)
	}
	if req.Mode == "" {
		req.Mode = model.ModeManaged
	}
	if !req.Mode.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	if req.TTL < 0 {
		return nil, ErrInvalidTTL
	}
	if req.Mode == model.ModeManaged {
		if len(req.PublicKey) > 0 {
			return nil, ErrPublicKeyNotAllowed
		}
		if len(s.masterKey) == 0 {
			return nil, ErrManagedUnavailable
		}
	}

	local, domain, err := s.domains.Generate(address.Request{
		Domain:    req.Domain,
		LocalPart: req.LocalPart,
		Tier:      req.Tier,
	}, func(email string) (bool, error) {
		return s.store.AddressExists(ctx, email)
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	a := model.Address{
		ID:        uuid.NewString(),
		LocalPart: local,
		Domain:    domain,
		Tier:      req.Tier,
		Mode:      req.Mode,
		CreatedAt: now,
		ExpiresAt: address.ExpiryFor(s.policy(req.Tier), req.TTL, now),
	}

	created := &Created{}
	var wrapped []byte

	switch {
	case req.Mode == model.ModeSealed && len(req.PublicKey) > 0:
		if err := codec.ValidatePublicKey(req.PublicKey); err != nil {
			return nil, err
		}
		a.PublicKey = req.PublicKey
	default:
		kp, err := codec.GenerateKeypair()
		if err != nil {
			return nil, err
		}
		a.PublicKey = kp.PublicKey
		if req.Mode == model.ModeSealed {
			created.SecretKey = kp.SecretKey
		} else {
			wrapped, err = codec.WrapSecret(s.masterKey, a.ID, kp.SecretKey)
			if err != nil {
				return nil, fmt.Errorf("wrapping address key: %w", err)
			}
		}
	}

	if err := s.store.CreateAddress(ctx, a); err != nil {
		return nil, err
	}
	if wrapped != nil {
		if err := s.store.PutAddressKey(ctx, a.ID, wrapped); err != nil {
			_ = s.store.DeleteAddress(ctx, a.ID)
			return nil, err
		}
	}

	token, err := s.tokens.Issue(a)
	if err != nil {
		return nil, err
	}

	metrics.AddressesCreated.WithLabelValues(string(a.Tier), string(a.Mode)).Inc()
	s.logger.Info("address created",
		zap.String("address_id", a.ID),
		zap.String("tier", string(a.Tier)),
		zap.String("mode", string(a.Mode)),
		zap.Time("expires_at", a.ExpiresAt))

	created.Address = a
	created.Token = token
	return created, nil
}

// Get returns an address with its message count.
func (s *Service) Get(ctx context.Context, id string) (*model.Address, error) {
	return s.store.GetAddress(ctx, id)
}

// Extend pushes the expiry out by `by`, within the tier maximum, and
// returns the address with a token matching the new expiry.
func (s *Service) Extend(ctx context.Context, id string, by time.Duration) (*model.Address, string, error) {
	if by <= 0 {
		return nil, "", ErrInvalidTTL
	}
	a, err := s.store.GetAddress(ctx, id)
	if err != nil {
		return nil, "", err
	}

	next := address.Extend(s.policy(a.Tier), a.CreatedAt, a.ExpiresAt, by, s.now().UTC())
	if err := s.store.ExtendAddress(ctx, id, next); err != nil {
		return nil, "", err
	}
	a.ExpiresAt = next

	token, err := s.tokens.Issue(*a)
	if err != nil {
		return nil, "", err
	}
	return a, token, nil
}

// Delete removes an address now, with its messages and blobs.
func (s *Service) Delete(ctx context.Context, id string) error {
	if _, err := s.store.GetAddress(ctx, id); err != nil {
		return err
	}
	if err := s.blobs.DeletePrefix(ctx, blob.AddressPrefix(id)); err != nil {
		return fmt.Errorf("deleting blobs: %w", err)
	}
	if err := s.store.DeleteAddress(ctx, id); err != nil {
		return err
	}
	metrics.AddressesDeleted.Inc()
	s.publish(ctx, realtime.Event{Type: realtime.EventAddressExpired, AddressID: id})
	return nil
}

// ListMessages returns inbox rows, newest first, without payloads.
func (s *Service) ListMessages(ctx context.Context, addressID string, filter store.MessageFilter) ([]model.Message, error) {
	if _, err := s.store.GetAddress(ctx, addressID); err != nil {
		return nil, err
	}
	return s.store.ListMessages(ctx, addressID, filter)
}

// MessageView is a single message as returned to its owner. Managed
// addresses get Content; sealed addresses get the Envelope only.
type MessageView struct {
	Message  model.Message   `json:"message"`
	Content  *model.Content  `json:"content,omitempty"`
	Envelope *codec.Envelope `json:"envelope,omitempty"`
}

// GetMessage loads one message and opens it when the server holds the
// address key.
func (s *Service) GetMessage(ctx context.Context, addressID, messageID string) (*MessageView, error) {
	a, err := s.store.GetAddress(ctx, addressID)
	if err != nil {
		return nil, err
	}
	m, err := s.store.GetMessage(ctx, addressID, messageID)
	if err != nil {
		return nil, err
	}

	env, err := codec.ParseEnvelope(m.Payload)
	if err != nil {
		return nil, err
	}
	view := &MessageView{Message: *m}
	if a.Mode == model.ModeSealed {
		view.Envelope = env
		return view, nil
	}

	kp, err := s.keypair(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	plain, err := codec.OpenFor(env, kp, s.signer.PublicKey(), codec.AAD(a.ID, m.ID))
	if err != nil {
		return nil, fmt.Errorf("opening message %s: %w", m.ID, err)
	}

	var content model.Content
	if err := json.Unmarshal(plain, &content); err != nil {
		return nil, fmt.Errorf("%w: decoding content: %v", codec.ErrInvalidPayload, err)
	}
	view.Content = &content
	return view, nil
}

// RawMessage returns the original RFC 5322 bytes for managed addresses,
// or the sealed envelope JSON for sealed ones. sealed reports which.
func (s *Service) RawMessage(ctx context.Context, addressID, messageID string) (data []byte, sealed bool, err error) {
	a, err := s.store.GetAddress(ctx, addressID)
	if err != nil {
		return nil, false, err
	}
	m, err := s.store.GetMessage(ctx, addressID, messageID)
	if err != nil {
		return nil, false, err
	}

	stored, err := s.blobs.Get(ctx, m.RawKey)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, false, store.ErrNotFound
	}
	if err != nil {
		return nil, false, err
	}
	if a.Mode == model.ModeSealed {
		return stored, true, nil
	}

	env, err := codec.ParseEnvelope(stored)
	if err != nil {
		return nil, false, err
	}
	kp, err := s.keypair(ctx, a.ID)
	if err != nil {
		return nil, false, err
	}
	raw, err := codec.OpenFor(env, kp, s.signer.PublicKey(), codec.RawAAD(a.ID, m.ID))
	if err != nil {
		return nil, false, fmt.Errorf("opening raw message %s: %w", m.ID, err)
	}
	return raw, false, nil
}

// MarkRead sets the read flag of a message.
func (s *Service) MarkRead(ctx context.Context, addressID, messageID string, read bool) error {
	return s.store.MarkRead(ctx, addressID, messageID, read)
}

// DeleteMessage removes one message and its blob.
func (s *Service) DeleteMessage(ctx context.Context, addressID, messageID string) error {
	m, err := s.store.GetMessage(ctx, addressID, messageID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteMessage(ctx, addressID, messageID); err != nil {
		return err
	}
	if m.RawKey != "" {
		if err := s.blobs.Delete(ctx, m.RawKey); err != nil && !errors.Is(err, blob.ErrNotFound) {
			s.logger.Warn("deleting blob failed", zap.String("key", m.RawKey), zap.Error(err))
		}
	}
	s.publish(ctx, realtime.Event{
		Type:      realtime.EventMessageDeleted,
		AddressID: addressID,
		MessageID: messageID,
	})
	return nil
}

// Notifications returns unread notifications and marks them read.
func (s *Service) Notifications(ctx context.Context, addressID string) ([]model.Notification, error) {
	ns, err := s.store.GetUnreadNotifications(ctx, addressID)
	if err != nil {
		return nil, err
	}
	for _, n := range ns {
		if err := s.store.MarkNotificationRead(ctx, n.ID); err != nil {
			return nil, err
		}
	}
	return ns, nil
}

func (s *Service) keypair(ctx context.Context, addressID string) (*codec.Keypair, error) {
	if len(s.masterKey) == 0 {
		return nil, ErrManagedUnavailable
	}
	wrapped, err := s.store.GetAddressKey(ctx, addressID)
	if err != nil {
		return nil, fmt.Errorf("loading address key: %w", err)
	}
	secret, err := codec.UnwrapSecret(s.masterKey, addressID, wrapped)
	if err != nil {
		return nil, fmt.Errorf("unwrapping address key: %w", err)
	}
	return codec.KeypairFromSecretKey(secret)
}

func (s *Service) publish(ctx context.Context, e realtime.Event) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, e)
	}
}
