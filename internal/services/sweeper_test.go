package services

import (
	"bytes"
	"context"
	"log"
	"testing"
	"time"

	"subscription-api/internal/lifecycle"
	"subscription-api/internal/platform"
	"subscription-api/pkg/logging"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweepExpiresOverdueAndIsReentrant(t *testing.T) {
	env := newTestEnv(t)
	overdue := env.createUser(t)
	current := env.createUser(t)

	raw := env.appleNotification(appleCharge(platform.EventPurchased, overdue, "L1", "tx-1", base, days(30)))
	require.Equal(t, OutcomeOk, env.ingestor.Ingest(context.Background(), platform.AppStore, raw).Kind)
	raw = env.appleNotification(appleCharge(platform.EventPurchased, current, "L2", "tx-2", base, days(365)))
	require.Equal(t, OutcomeOk, env.ingestor.Ingest(context.Background(), platform.AppStore, raw).Kind)

	env.now = base.Add(days(31))
	sweeper := NewSweeper(env.engine, env.store, SweeperOptions{Metrics: env.metrics})

	first, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Scanned)
	assert.Equal(t, 1, first.Expired)

	second, err := sweeper.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, second.Scanned)
	assert.Zero(t, second.Expired)

	assert.Equal(t, lifecycle.StatusExpired, env.reload(t, overdue.ID).Subscription.Status)
	assert.False(t, env.reload(t, overdue.ID).IsSvip)
	assert.Equal(t, lifecycle.StatusActive, env.reload(t, current.ID).Subscription.Status)

	events, err := env.store.ListEvents("L1")
	require.NoError(t, err)
	assert.Equal(t, string(lifecycle.EventExpiryTick), events[len(events)-1].EventType)
}

func TestSweepSkipsWhenAlreadyRunning(t *testing.T) {
	env := newTestEnv(t)
	sweeper := NewSweeper(env.engine, env.store, SweeperOptions{})
	sweeper.running.Store(true)

	_, err := sweeper.Run(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)
}

func TestSweepSkipsWhenAnotherInstanceHoldsLock(t *testing.T) {
	env := newTestEnv(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := NewRedisLocker(client)
	release, err := locker.Acquire(context.Background(), "expiry-sweep", time.Minute)
	require.NoError(t, err)

	sweeper := NewSweeper(env.engine, env.store, SweeperOptions{Locker: locker})
	_, err = sweeper.Run(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)

	release()
	_, err = sweeper.Run(context.Background())
	assert.NoError(t, err)
	assert.False(t, mr.Exists("subscription:lock:expiry-sweep"), "sweep releases its lock")
}

func TestSweepContinuesWhenRedisIsDown(t *testing.T) {
	env := newTestEnv(t)
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	sweeper := NewSweeper(env.engine, env.store, SweeperOptions{Locker: NewRedisLocker(client)})
	_, err = sweeper.Run(context.Background())
	assert.NoError(t, err)
}

func TestSweeperSchedule(t *testing.T) {
	env := newTestEnv(t)

	bad := NewSweeper(env.engine, env.store, SweeperOptions{Schedule: "not a schedule"})
	assert.Error(t, bad.Start())

	good := NewSweeper(env.engine, env.store, SweeperOptions{Schedule: "@every 1h"})
	require.NoError(t, good.Start())
	good.Stop()
}

func TestCronLoggerUsesServiceLog(t *testing.T) {
	saved := logging.InfoLogger
	t.Cleanup(func() { logging.InfoLogger = saved })

	logging.InfoLogger = nil
	assert.Equal(t, cron.DiscardLogger, cronLogger())

	var buf bytes.Buffer
	logging.InfoLogger = log.New(&buf, "INFO: ", 0)
	cronLogger().Info("skip", "reason", "still running")
	assert.Contains(t, buf.String(), "INFO: ")
	assert.Contains(t, buf.String(), "skip")
}
