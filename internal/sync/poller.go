// Package sync runs the poll loop over pull sources.
package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/nhle/tempmail/internal/metrics"
	"github.com/nhle/tempmail/internal/model"
	"github.com/nhle/tempmail/internal/source"
)

// SyncState represents the current state of a source sync operation.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "idle"
	}
}

// MarshalText renders the state by name in JSON.
func (s SyncState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// SyncStatus holds the sync state for a single source.
type SyncStatus struct {
	Source     string            `json:"source"`
	SourceType source.SourceType `json:"type"`
	State      SyncState         `json:"state"`
	LastSync   time.Time         `json:"last_sync,omitzero"`
	LastError  string            `json:"last_error,omitempty"`
	// AuthFailed is set while the source is backing off after a login
	// failure.
	AuthFailed bool      `json:"auth_failed"`
	Ingested   int64     `json:"ingested"`
	NextPoll   time.Time `json:"next_poll,omitzero"`
}

// CursorStore persists pull source cursors.
type CursorStore interface {
	GetSourceState(ctx context.Context, source, mailbox string) (model.SourceState, error)
	PutSourceState(ctx context.Context, st model.SourceState) error
}

const (
	// fetchTimeout is the maximum time allowed for a single fetch operation.
	fetchTimeout = 30 * time.Second

	defaultInterval = 30 * time.Second
	maxAuthBackoff  = 10 * time.Minute

	// maxBatchesPerCycle keeps one busy source from monopolising a cycle.
	maxBatchesPerCycle = 20
)

// sourceEntry holds a registered source and its schedule.
type sourceEntry struct {
	src      source.Source
	interval time.Duration
	trigger  chan struct{}
}

// Poller orchestrates background polling of registered sources.
type Poller struct {
	cursors  CursorStore
	sink     source.Sink
	logger   *zap.Logger
	sources  []sourceEntry
	statuses map[string]*SyncStatus
	stopCh   chan struct{}
	wg       gosync.WaitGroup
	mu       gosync.Mutex
	running  bool
	now      func() time.Time
}

// New creates a Poller that hands fetched messages to sink.
func New(cursors CursorStore, sink source.Sink, logger *zap.Logger) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		cursors:  cursors,
		sink:     sink,
		logger:   logger.Named("poller"),
		statuses: make(map[string]*SyncStatus),
		stopCh:   make(chan struct{}),
		now:      time.Now,
	}
}

// RegisterSource adds a source polled every interval. Zero uses 30s.
func (p *Poller) RegisterSource(src source.Source, interval time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if interval <= 0 {
		interval = defaultInterval
	}
	p.sources = append(p.sources, sourceEntry{
		src:      src,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	})
	p.statuses[src.Name()] = &SyncStatus{
		Source:     src.Name(),
		SourceType: src.Type(),
		State:      SyncIdle,
	}
}

// Start launches one polling goroutine per source. Each polls at once.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true

	for _, entry := range p.sources {
		p.wg.Add(1)
		go func(e sourceEntry) {
			defer p.wg.Done()
			p.pollSource(e)
		}(entry)
	}
}

// Stop halts all polling goroutines, waits for in-flight cycles and
// closes the sources.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	close(p.stopCh)
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()

	var result *multierror.Error
	for _, entry := range p.sources {
		if err := entry.src.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing %s: %w", entry.src.Name(), err))
		}
	}
	return result.ErrorOrNil()
}

// TriggerAll requests an immediate poll of all registered sources.
func (p *Poller) TriggerAll() {
	p.mu.Lock()
	sources := make([]sourceEntry, len(p.sources))
	copy(sources, p.sources)
	p.mu.Unlock()

	for _, entry := range sources {
		notify(entry.trigger)
	}
}

// Trigger requests an immediate poll of the named source. It reports
// whether the source exists.
func (p *Poller) Trigger(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, entry := range p.sources {
		if entry.src.Name() == name {
			notify(entry.trigger)
			return true
		}
	}
	return false
}

// notify never blocks; a pending trigger already covers this one.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Statuses returns the current sync status of all registered sources in
// registration order.
func (p *Poller) Statuses() []SyncStatus {
	p.mu.Lock()
	defer p.mu.Unlock()

	statuses := make([]SyncStatus, 0, len(p.sources))
	for _, entry := range p.sources {
		statuses = append(statuses, *p.statuses[entry.src.Name()])
	}
	return statuses
}

func newAuthBackoff(initial time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initial
	b.MaxInterval = maxAuthBackoff
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// pollSource runs the polling loop for a single source.
func (p *Poller) pollSource(entry sourceEntry) {
	authBackoff := newAuthBackoff(entry.interval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-p.stopCh
		cancel()
	}()

	for {
		wait := entry.interval
		err := p.RunOnce(ctx, entry.src)
		switch {
		case err == nil:
			authBackoff.Reset()
		case source.IsAuthError(err):
			wait = authBackoff.NextBackOff()
			p.logger.Warn("source authentication failed, backing off",
				zap.String("source", entry.src.Name()),
				zap.Duration("retry_in", wait),
				zap.Error(err))
		default:
			p.logger.Error("poll failed",
				zap.String("source", entry.src.Name()),
				zap.Error(err))
		}
		p.setNextPoll(entry.src.Name(), p.now().Add(wait))

		timer := time.NewTimer(wait)
		select {
		case <-p.stopCh:
			timer.Stop()
			return
		case <-timer.C:
		case <-entry.trigger:
			timer.Stop()
		}
	}
}

// RunOnce performs one poll cycle of src: fetch, deliver, persist the
// cursor, ack. The cursor only advances past a batch once every message
// in it was delivered, so a failure refetches the batch and the ingest
// dedup absorbs the repeats.
func (p *Poller) RunOnce(ctx context.Context, src source.Source) error {
	name := src.Name()
	p.setStatus(name, SyncRunning, nil, 0)

	delivered, err := p.cycle(ctx, src)
	if err != nil {
		outcome := "error"
		if source.IsAuthError(err) {
			outcome = "auth_error"
		}
		metrics.SourcePolls.WithLabelValues(name, outcome).Inc()
		p.setStatus(name, SyncError, err, delivered)
		return err
	}

	metrics.SourcePolls.WithLabelValues(name, "ok").Inc()
	p.setStatus(name, SyncIdle, nil, delivered)
	return nil
}

func (p *Poller) cycle(ctx context.Context, src source.Source) (int, error) {
	cursor, err := p.cursors.GetSourceState(ctx, src.Name(), src.Mailbox())
	if err != nil {
		return 0, fmt.Errorf("loading cursor: %w", err)
	}

	total := 0
	for i := 0; i < maxBatchesPerCycle; i++ {
		fetchCtx, cancel := context.WithTimeout(ctx, fetchTimeout)
		result, err := src.Fetch(fetchCtx, cursor)
		cancel()
		if err != nil {
			return total, err
		}

		refs := make([]string, 0, len(result.Messages))
		for _, msg := range result.Messages {
			if err := p.sink.Deliver(ctx, msg); err != nil && !errors.Is(err, source.ErrMessageTooLarge) {
				return total, fmt.Errorf("delivering %s: %w", msg.Ref, err)
			}
			refs = append(refs, msg.Ref)
			total++
		}

		cursor = result.Cursor
		cursor.UpdatedAt = p.now().UTC()
		if err := p.cursors.PutSourceState(ctx, cursor); err != nil {
			return total, fmt.Errorf("saving cursor: %w", err)
		}

		if err := src.Ack(ctx, refs); err != nil {
			// The cursor already moved; a failed ack only leaves flags unset.
			p.logger.Warn("ack failed", zap.String("source", src.Name()), zap.Error(err))
		}

		if len(result.Messages) > 0 {
			p.logger.Info("batch ingested",
				zap.String("source", src.Name()),
				zap.Int("messages", len(result.Messages)),
				zap.Uint32("last_uid", cursor.LastUID))
		}

		if !result.HasMore {
			break
		}
	}
	return total, nil
}

// setStatus updates the sync status for a source.
func (p *Poller) setStatus(name string, state SyncState, err error, delivered int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	status, ok := p.statuses[name]
	if !ok {
		return
	}

	status.State = state
	status.Ingested += int64(delivered)
	status.AuthFailed = source.IsAuthError(err)
	if err != nil {
		status.LastError = err.Error()
	} else if state == SyncIdle {
		status.LastError = ""
		status.LastSync = p.now()
	}
}

func (p *Poller) setNextPoll(name string, at time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if status, ok := p.statuses[name]; ok {
		status.NextPoll = at
	}
}
