package services

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"subscription-api/internal/database"
	"subscription-api/internal/lifecycle"
	"subscription-api/internal/metrics"
	"subscription-api/internal/models"
	"subscription-api/pkg/logging"

	"github.com/robfig/cron/v3"
)

const sweepBatchSize = 200

// ErrSweepInProgress is returned by Run when a sweep is already running.
var ErrSweepInProgress = errors.New("expiry sweep already running")

// SweepResult summarises one sweep.
type SweepResult struct {
	Scanned  int           `json:"scanned"`
	Expired  int           `json:"expired"`
	Failed   int           `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Sweeper moves subscriptions whose end date passed without a platform
// notification to expired.
type Sweeper struct {
	engine   *Engine
	store    *database.Store
	locker   Locker
	lockTTL  time.Duration
	metrics  *metrics.Metrics
	running  atomic.Bool
	schedule string
	cron     *cron.Cron
}

// SweeperOptions configures a Sweeper. Locker is optional; without it only
// the in-process guard applies.
type SweeperOptions struct {
	Schedule string
	Locker   Locker
	LockTTL  time.Duration
	Metrics  *metrics.Metrics
}

// NewSweeper creates a sweeper
func NewSweeper(engine *Engine, store *database.Store, opts SweeperOptions) *Sweeper {
	schedule := opts.Schedule
	if schedule == "" {
		schedule = "@hourly"
	}
	ttl := opts.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Sweeper{
		engine:   engine,
		store:    store,
		locker:   opts.Locker,
		lockTTL:  ttl,
		metrics:  opts.Metrics,
		schedule: schedule,
	}
}

// Start schedules the sweep. Overlapping cron ticks are skipped.
func (s *Sweeper) Start() error {
	logger := cronLogger()
	c := cron.New(cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	_, err := c.AddFunc(s.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.lockTTL)
		defer cancel()
		if _, err := s.Run(ctx); err != nil && !errors.Is(err, ErrSweepInProgress) {
			logging.Errorf("Expiry sweep failed: %v", err)
		}
	})
	if err != nil {
		return err
	}
	s.cron = c
	c.Start()
	logging.Infof("Expiry sweeper scheduled: %s", s.schedule)
	return nil
}

// cronLogger routes cron's own messages through the service log.
func cronLogger() cron.Logger {
	if logging.InfoLogger == nil {
		return cron.DiscardLogger
	}
	return cron.PrintfLogger(logging.InfoLogger)
}

// Stop stops the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}

// Run performs one sweep. Concurrent calls in the same process return
// ErrSweepInProgress; across instances the Redis lock does the same.
func (s *Sweeper) Run(ctx context.Context) (*SweepResult, error) {
	if !s.running.CompareAndSwap(false, true) {
		s.metrics.ObserveSweep("skipped", 0, 0)
		return nil, ErrSweepInProgress
	}
	defer s.running.Store(false)

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, "expiry-sweep", s.lockTTL)
		if errors.Is(err, ErrLockHeld) {
			s.metrics.ObserveSweep("skipped", 0, 0)
			return nil, ErrSweepInProgress
		}
		if err != nil {
			// Redis down should not stop expiry; transactions stay correct without the lock.
			logging.Warnf("Sweep lock unavailable, continuing without it: %v", err)
		} else {
			defer release()
		}
	}

	started := time.Now()
	result := &SweepResult{}
	var afterID uint
	for {
		if err := ctx.Err(); err != nil {
			return s.done(result, started, err)
		}
		ids, err := s.store.WithContext(ctx).ListExpirableUserIDs(s.engine.now(), afterID, sweepBatchSize)
		if err != nil {
			return s.done(result, started, err)
		}
		if len(ids) == 0 {
			break
		}
		for _, id := range ids {
			afterID = id
			result.Scanned++
			expired, err := s.expire(ctx, id)
			if err != nil {
				result.Failed++
				logging.Errorf("Failed to expire subscription of user %d: %v", id, err)
				continue
			}
			if expired {
				result.Expired++
			}
		}
	}
	return s.done(result, started, nil)
}

func (s *Sweeper) done(result *SweepResult, started time.Time, err error) (*SweepResult, error) {
	result.Duration = time.Since(started)
	outcome := "ok"
	if err != nil || result.Failed > 0 {
		outcome = "error"
	}
	s.metrics.ObserveSweep(outcome, result.Expired, result.Duration)
	logging.Infof("Expiry sweep finished: scanned=%d expired=%d failed=%d took=%s",
		result.Scanned, result.Expired, result.Failed, result.Duration)
	return result, err
}

// expire re-checks the user under its row lock; a renewal that landed after
// the scan wins.
func (s *Sweeper) expire(ctx context.Context, userID uint) (bool, error) {
	result, err := s.engine.commit(ctx, commitRequest{
		UserID: userID,
		Fact:   lifecycle.Fact{Event: lifecycle.EventExpiryTick},
		Event: models.SubscriptionEvent{
			EventType: string(lifecycle.EventExpiryTick),
			RawType:   "EXPIRY_SWEEP",
		},
		RecordOnChangeOnly: true,
	})
	if err != nil {
		return false, err
	}
	return result.Previous.Status != result.User.Subscription.Status, nil
}
