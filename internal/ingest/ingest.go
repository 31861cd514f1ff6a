// Package ingest routes raw inbound mail into per-address inboxes.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/nhle/tempmail/internal/address"
	"github.com/nhle/tempmail/internal/blob"
	"github.com/nhle/tempmail/internal/codec"
	"github.com/nhle/tempmail/internal/mailparse"
	"github.com/nhle/tempmail/internal/metrics"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/realtime"
	"github.com/nhle/tempmail/internal/source"
	"github.com/nhle/tempmail/internal/store"
)

// ErrTooLarge is returned by Deliver when a message exceeds the size
// limit of every address it matched.
var ErrTooLarge = source.ErrMessageTooLarge

// Rejection reasons.
const (
	ReasonExpired  = "expired"
	ReasonTooLarge = "too_large"
)

// Rejection records why a matched address did not receive a message.
type Rejection struct {
	AddressID string
	Email     string
	Reason    string
}

// Result summarizes one Ingest call.
type Result struct {
	// Matched counts distinct active or expired addresses a recipient
	// resolved to.
	Matched    int
	Stored     int
	Duplicates int
	Rejected   []Rejection
	// MessageIDs lists the IDs of newly stored rows.
	MessageIDs []string
}

// Unmatched reports that no recipient resolved to a known address.
func (r *Result) Unmatched() bool {
	return r.Matched == 0
}

// Publisher receives inbox events.
type Publisher interface {
	Publish(ctx context.Context, e realtime.Event)
}

// Config wires a Pipeline.
type Config struct {
	Store     store.Store
	Blobs     blob.Store
	Signer    *codec.Signer
	Publisher Publisher
	Domains   *address.Generator
	Policy    func(model.Tier) model.TierPolicy
	Logger    *zap.Logger
	Now       func() time.Time
}

// Pipeline parses, matches, deduplicates, seals and stores messages.
type Pipeline struct {
	store     store.Store
	blobs     blob.Store
	signer    *codec.Signer
	publisher Publisher
	domains   *address.Generator
	policy    func(model.Tier) model.TierPolicy
	logger    *zap.Logger
	now       func() time.Time
}

// New returns a pipeline. Store, Blobs, Signer and Domains are required.
func New(cfg Config) *Pipeline {
	p := &Pipeline{
		store:     cfg.Store,
		blobs:     cfg.Blobs,
		signer:    cfg.Signer,
		publisher: cfg.Publisher,
		domains:   cfg.Domains,
		policy:    cfg.Policy,
		logger:    cfg.Logger,
		now:       cfg.Now,
	}
	if p.logger == nil {
		p.logger = zap.NewNop()
	}
	p.logger = p.logger.Named("ingest")
	if p.now == nil {
		p.now = time.Now
	}
	if p.policy == nil {
		p.policy = func(model.Tier) model.TierPolicy { return model.TierPolicy{} }
	}
	return p
}

var _ source.Sink = (*Pipeline)(nil)

// DedupKey is the hex SHA-256 of the lowercased Message-ID, or of the
// raw bytes when the message has none.
func DedupKey(messageID string, raw []byte) string {
	var sum [32]byte
	if id := strings.ToLower(strings.TrimSpace(messageID)); id != "" {
		sum = sha256.Sum256([]byte(id))
	} else {
		sum = sha256.Sum256(raw)
	}
	return hex.EncodeToString(sum[:])
}

// Deliver implements source.Sink. Unmatched mail is not an error.
func (p *Pipeline) Deliver(ctx context.Context, msg source.RawMessage) error {
	res, err := p.Ingest(ctx, msg)
	if err != nil {
		return err
	}
	if res.Matched > 0 && res.Stored == 0 && res.Duplicates == 0 && allTooLarge(res.Rejected) {
		return ErrTooLarge
	}
	return nil
}

func allTooLarge(rs []Rejection) bool {
	if len(rs) == 0 {
		return false
	}
	for _, r := range rs {
		if r.Reason != ReasonTooLarge {
			return false
		}
	}
	return true
}

// Ingest delivers one raw message to every active address among its
// recipients. A message is stored at most once per address.
func (p *Pipeline) Ingest(ctx context.Context, msg source.RawMessage) (*Result, error) {
	start := time.Now()
	defer func() { metrics.IngestDuration.Observe(time.Since(start).Seconds()) }()
	metrics.MessagesIngested.WithLabelValues(string(msg.Source)).Inc()

	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = p.now()
	}
	msg.ReceivedAt = msg.ReceivedAt.UTC()

	parsed, err := mailparse.Parse(msg.Data)
	if err != nil {
		return nil, fmt.Errorf("parsing message: %w", err)
	}

	addrs, err := p.match(ctx, parsed.Recipients(msg.Recipients...))
	if err != nil {
		return nil, err
	}

	res := &Result{Matched: len(addrs)}
	if len(addrs) == 0 {
		metrics.MessagesUnmatched.Inc()
		p.logger.Debug("dropping unmatched message",
			zap.String("source", string(msg.Source)),
			zap.String("message_id", parsed.MessageID))
		return res, nil
	}

	dedup := DedupKey(parsed.MessageID, msg.Data)
	now := p.now()

	var errs *multierror.Error
	for _, a := range addrs {
		if a.Expired(now) {
			res.Rejected = append(res.Rejected, Rejection{AddressID: a.ID, Email: a.Email(), Reason: ReasonExpired})
			metrics.MessagesRejected.WithLabelValues(ReasonExpired).Inc()
			continue
		}
		if err := p.deliver(ctx, a, parsed, msg, dedup, res); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("delivering to %s: %w", a.Email(), err))
		}
	}

	return res, errs.ErrorOrNil()
}

// match resolves recipients to stored addresses, once per address.
func (p *Pipeline) match(ctx context.Context, recipients []string) ([]model.Address, error) {
	seen := make(map[string]bool)
	var out []model.Address

	for _, email := range recipients {
		_, domain, ok := model.SplitEmail(email)
		if !ok || !p.domains.Accepts(domain) {
			continue
		}
		a, err := p.store.GetAddressByEmail(ctx, email)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("matching %s: %w", email, err)
		}
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, *a)
	}
	return out, nil
}

func (p *Pipeline) deliver(
	ctx context.Context,
	a model.Address,
	parsed *mailparse.Parsed,
	msg source.RawMessage,
	dedup string,
	res *Result,
) error {
	pol := p.policy(a.Tier)
	if pol.MaxMessageBytes > 0 && int64(len(msg.Data)) > pol.MaxMessageBytes {
		res.Rejected = append(res.Rejected, Rejection{AddressID: a.ID, Email: a.Email(), Reason: ReasonTooLarge})
		metrics.MessagesRejected.WithLabelValues(ReasonTooLarge).Inc()
		return nil
	}

	// Cheap pre-check; InsertMessage below is authoritative.
	dup, err := p.store.MessageExists(ctx, a.ID, dedup)
	if err != nil {
		return err
	}
	if dup {
		res.Duplicates++
		metrics.MessagesDuplicate.Inc()
		return nil
	}

	id := ulid.Make().String()
	content := parsed.Content(id, msg.ReceivedAt)
	plain, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encoding content: %w", err)
	}

	env, err := p.signer.Seal(plain, a.PublicKey, codec.AAD(a.ID, id))
	if err != nil {
		return fmt.Errorf("sealing content: %w", err)
	}
	payload, err := env.Marshal()
	if err != nil {
		return err
	}

	rawEnv, err := p.signer.Seal(msg.Data, a.PublicKey, codec.RawAAD(a.ID, id))
	if err != nil {
		return fmt.Errorf("sealing raw message: %w", err)
	}
	rawPayload, err := rawEnv.Marshal()
	if err != nil {
		return err
	}

	key := blob.Key(a.ID, id)
	if err := p.blobs.Put(ctx, key, rawPayload); err != nil {
		return fmt.Errorf("storing raw message: %w", err)
	}

	m := model.Message{
		ID:             id,
		AddressID:      a.ID,
		DedupKey:       dedup,
		Sender:         parsed.From,
		Subject:        parsed.Subject,
		ReceivedAt:     msg.ReceivedAt,
		Size:           int64(len(msg.Data)),
		HasAttachments: parsed.HasAttachments(),
		Payload:        payload,
		RawKey:         key,
	}
	inserted, err := p.store.InsertMessage(ctx, m)
	if err != nil {
		p.discardBlob(ctx, key)
		return err
	}
	if !inserted {
		// Lost a race with a concurrent delivery of the same message.
		p.discardBlob(ctx, key)
		res.Duplicates++
		metrics.MessagesDuplicate.Inc()
		return nil
	}

	res.Stored++
	res.MessageIDs = append(res.MessageIDs, id)
	metrics.MessagesStored.WithLabelValues(string(a.Tier)).Inc()

	if err := p.trimToCapacity(ctx, a, id, pol.InboxCapacity); err != nil {
		p.logger.Warn("evicting old messages failed", zap.String("address_id", a.ID), zap.Error(err))
	}

	if err := p.store.CreateNotification(ctx, model.Notification{
		AddressID: a.ID,
		MessageID: id,
		Kind:      model.NotificationMessage,
		Message:   notificationText(parsed),
		CreatedAt: msg.ReceivedAt,
	}); err != nil {
		p.logger.Warn("creating notification failed", zap.String("address_id", a.ID), zap.Error(err))
	}

	p.publish(ctx, realtime.Event{
		Type:       realtime.EventMessageReceived,
		AddressID:  a.ID,
		MessageID:  id,
		Sender:     m.Sender,
		Subject:    m.Subject,
		ReceivedAt: m.ReceivedAt,
	})

	p.logger.Info("message stored",
		zap.String("address_id", a.ID),
		zap.String("message_id", id),
		zap.Int64("size", m.Size))
	return nil
}

// trimToCapacity evicts the oldest messages once a stored message has
// pushed the inbox over capacity. The message just stored is never evicted.
func (p *Pipeline) trimToCapacity(ctx context.Context, a model.Address, keep string, capacity int) error {
	if capacity <= 0 {
		return nil
	}
	n, err := p.store.CountMessages(ctx, a.ID)
	if err != nil {
		return err
	}
	excess := n - capacity
	if excess <= 0 {
		return nil
	}

	oldest, err := p.store.OldestMessages(ctx, a.ID, excess)
	if err != nil {
		return err
	}
	for _, m := range oldest {
		if m.ID == keep {
			continue
		}
		if err := p.store.DeleteMessage(ctx, a.ID, m.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("evicting %s: %w", m.ID, err)
		}
		if m.RawKey != "" {
			p.discardBlob(ctx, m.RawKey)
		}
		metrics.MessagesEvicted.Inc()
		p.publish(ctx, realtime.Event{
			Type:      realtime.EventMessageDeleted,
			AddressID: a.ID,
			MessageID: m.ID,
		})
	}
	return nil
}

func (p *Pipeline) discardBlob(ctx context.Context, key string) {
	if err := p.blobs.Delete(ctx, key); err != nil {
		p.logger.Warn("deleting blob failed", zap.String("key", key), zap.Error(err))
	}
}

func (p *Pipeline) publish(ctx context.Context, e realtime.Event) {
	if p.publisher != nil {
		p.publisher.Publish(ctx, e)
	}
}

func notificationText(parsed *mailparse.Parsed) string {
	subject := parsed.Subject
	if subject == "" {
		subject = "(no subject)"
	}
	if parsed.From == "" {
		return "New message: " + subject
	}
	return fmt.Sprintf("New message from %s: %s", parsed.From, subject)
}

// Accepts reports whether email should be accepted at SMTP RCPT time:
// its domain is served and it names an address that has not expired.
func (p *Pipeline) Accepts(ctx context.Context, email string) (bool, error) {
	local, domain, err := address.Normalize(email)
	if err != nil || !p.domains.Accepts(domain) {
		return false, nil
	}
	a, err := p.store.GetAddressByEmail(ctx, local+"@"+domain)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !a.Expired(p.now()), nil
}
