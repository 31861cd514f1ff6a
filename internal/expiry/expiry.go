// Package expiry deletes addresses whose lifetime has run out.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nhle/tempmail/internal/blob"
	"github.com/nhle/tempmail/internal/metrics"
	"github.com/nhle/tempmail/internal/realtime"
	"github.com/nhle/tempmail/internal/store"
)

const (
	defaultSchedule  = "@every 1m"
	defaultBatchSize = 100
	// sweepTimeout bounds one scheduled run.
	sweepTimeout = 5 * time.Minute
)

// Publisher receives address.expired events.
type Publisher interface {
	Publish(ctx context.Context, e realtime.Event)
}

// Sweeper removes expired addresses, their messages and their blobs.
type Sweeper struct {
	store     store.Store
	blobs     blob.Store
	publisher Publisher
	logger    *zap.Logger
	batchSize int

	cron *cron.Cron
	// running prevents overlapping scheduled sweeps.
	running sync.Mutex
}

// New returns a Sweeper. batchSize <= 0 uses 100.
func New(s store.Store, blobs blob.Store, publisher Publisher, batchSize int, logger *zap.Logger) *Sweeper {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:     s,
		blobs:     blobs,
		publisher: publisher,
		logger:    logger.Named("expiry"),
		batchSize: batchSize,
		cron:      cron.New(),
	}
}

// Sweep deletes every address expired at now and returns how many were
// removed. It keeps going past per-address failures.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	removed := 0
	var errs *multierror.Error

	// Failed addresses stay expired; skip them so the loop ends.
	failed := make(map[string]bool)

	for {
		limit := s.batchSize + len(failed)
		batch, err := s.store.ExpiredAddresses(ctx, now, limit)
		if err != nil {
			return removed, fmt.Errorf("listing expired addresses: %w", err)
		}

		attempted := 0
		for _, a := range batch {
			if failed[a.ID] {
				continue
			}
			if err := ctx.Err(); err != nil {
				return removed, err
			}
			attempted++
			if err := s.remove(ctx, a.ID); err != nil {
				failed[a.ID] = true
				errs = multierror.Append(errs, fmt.Errorf("address %s: %w", a.ID, err))
				continue
			}
			removed++
			metrics.AddressesExpired.Inc()
			s.publish(ctx, realtime.Event{
				Type:      realtime.EventAddressExpired,
				AddressID: a.ID,
			})
		}

		if attempted == 0 || len(batch) < limit {
			break
		}
	}

	if removed > 0 {
		s.logger.Info("expired addresses removed", zap.Int("count", removed))
	}
	return removed, errs.ErrorOrNil()
}

// remove deletes the blobs before the row so a crash in between leaves a
// row the next sweep retries rather than orphaned blobs.
func (s *Sweeper) remove(ctx context.Context, addressID string) error {
	if err := s.blobs.DeletePrefix(ctx, blob.AddressPrefix(addressID)); err != nil {
		return fmt.Errorf("deleting blobs: %w", err)
	}
	if err := s.store.DeleteAddress(ctx, addressID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("deleting address: %w", err)
	}
	return nil
}

func (s *Sweeper) publish(ctx context.Context, e realtime.Event) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, e)
	}
}

// Start schedules Sweep on a cron spec such as "@every 1m".
func (s *Sweeper) Start(schedule string) error {
	if schedule == "" {
		schedule = defaultSchedule
	}
	if _, err := s.cron.AddFunc(schedule, s.runScheduled); err != nil {
		return fmt.Errorf("scheduling expiry sweep %q: %w", schedule, err)
	}
	s.cron.Start()
	s.logger.Info("expiry sweep scheduled", zap.String("schedule", schedule))
	return nil
}

func (s *Sweeper) runScheduled() {
	if !s.running.TryLock() {
		s.logger.Debug("previous sweep still running, skipping")
		return
	}
	defer s.running.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	if _, err := s.Sweep(ctx, time.Now()); err != nil {
		s.logger.Error("expiry sweep failed", zap.Error(err))
	}
}

// Stop stops the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
