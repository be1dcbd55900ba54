package services

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"subscription-api/internal/database"
	"subscription-api/internal/metrics"
	"subscription-api/internal/models"
	"subscription-api/internal/platform"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func days(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func timePtr(t time.Time) *time.Time { return &t }

// fakeApple serves canned notifications keyed by raw body.
type fakeApple struct {
	mu            sync.Mutex
	notifications map[string]*platform.NotificationFact
	receipts      map[string]*platform.PurchaseFact
	receiptErr    error
}

func (f *fakeApple) VerifyReceipt(_ context.Context, receipt, _ string) (*platform.PurchaseFact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	p, ok := f.receipts[receipt]
	if !ok {
		return nil, fmt.Errorf("%w: unknown receipt", platform.ErrVerificationFailed)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeApple) DecodeNotification(raw []byte) (*platform.NotificationFact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notifications[string(raw)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown payload", platform.ErrDecode)
	}
	cp := *n
	if n.Purchase != nil {
		p := *n.Purchase
		cp.Purchase = &p
	}
	return &cp, nil
}

// fakeGoogle resolves purchase tokens and records acknowledgements.
type fakeGoogle struct {
	mu            sync.Mutex
	notifications map[string]*platform.NotificationFact
	purchases     map[string]*platform.PurchaseFact
	lookupErr     error
	acknowledged  []string
}

func (f *fakeGoogle) VerifyPurchase(_ context.Context, token, _ string) (*platform.PurchaseFact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	p, ok := f.purchases[token]
	if !ok {
		return nil, &platform.StatusError{Platform: platform.GooglePlay, Status: 410, Err: platform.ErrVerificationFailed}
	}
	cp := *p
	return &cp, nil
}

func (f *fakeGoogle) Acknowledge(_ context.Context, token, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acknowledged = append(f.acknowledged, token)
	return nil
}

func (f *fakeGoogle) DecodeNotification(raw []byte) (*platform.NotificationFact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notifications[string(raw)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown payload", platform.ErrDecode)
	}
	cp := *n
	return &cp, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []SubscriptionChange
}

func (r *recordingNotifier) NotifySubscriptionChange(change SubscriptionChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

type recordingAlerter struct {
	mu    sync.Mutex
	items []models.RemediationItem
}

func (r *recordingAlerter) AlertRemediation(_ context.Context, item *models.RemediationItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, *item)
	return nil
}

type testEnv struct {
	store         *database.Store
	engine        *Engine
	ingestor      *Ingestor
	subscriptions *SubscriptionService
	apple         *fakeApple
	google        *fakeGoogle
	notifier      *recordingNotifier
	alerter       *recordingAlerter
	metrics       *metrics.Metrics
	now           time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenSQLite(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	require.NoError(t, database.SeedDefaults(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	env := &testEnv{
		store:    database.NewStore(db),
		apple:    &fakeApple{notifications: map[string]*platform.NotificationFact{}, receipts: map[string]*platform.PurchaseFact{}},
		google:   &fakeGoogle{notifications: map[string]*platform.NotificationFact{}, purchases: map[string]*platform.PurchaseFact{}},
		notifier: &recordingNotifier{},
		alerter:  &recordingAlerter{},
		metrics:  metrics.MustNew(prometheus.NewRegistry()),
		now:      base,
	}
	orderNo, err := NewOrderNumberGenerator(1)
	require.NoError(t, err)
	env.engine = NewEngine(env.store, orderNo, EngineOptions{
		MaxRetries: 3,
		Metrics:    env.metrics,
		Notifier:   env.notifier,
		Now:        func() time.Time { return env.now },
	})
	env.ingestor = NewIngestor(env.engine, env.store, IngestorOptions{
		Apple:   env.apple,
		Google:  env.google,
		Alerter: env.alerter,
		Metrics: env.metrics,
	})
	env.subscriptions = NewSubscriptionService(env.engine, env.store, env.apple, env.google)
	return env
}

func (e *testEnv) createUser(t *testing.T) *models.User {
	t.Helper()
	user := &models.User{Email: uuid.NewString() + "@example.com", AppAccountToken: uuid.NewString()}
	require.NoError(t, e.store.CreateUser(user))
	return user
}

func (e *testEnv) reload(t *testing.T, id uint) *models.User {
	t.Helper()
	user, err := e.store.FindUser(id)
	require.NoError(t, err)
	require.NotNil(t, user)
	return user
}

// appleNotification registers a decoded App Store notification and returns its raw body.
func (e *testEnv) appleNotification(n platform.NotificationFact) []byte {
	n.Platform = platform.AppStore
	if n.NotificationID == "" {
		n.NotificationID = uuid.NewString()
	}
	raw := fmt.Sprintf(`{"signedPayload":%q}`, n.NotificationID)
	e.apple.mu.Lock()
	e.apple.notifications[raw] = &n
	e.apple.mu.Unlock()
	return []byte(raw)
}

func (e *testEnv) googleNotification(n platform.NotificationFact) []byte {
	n.Platform = platform.GooglePlay
	if n.NotificationID == "" {
		n.NotificationID = uuid.NewString()
	}
	raw := fmt.Sprintf(`{"message":{"messageId":%q}}`, n.NotificationID)
	e.google.mu.Lock()
	e.google.notifications[raw] = &n
	e.google.mu.Unlock()
	return []byte(raw)
}

// appleCharge builds an App Store charge notification.
func appleCharge(event platform.EventType, user *models.User, lineage, txID string, purchased time.Time, period time.Duration) platform.NotificationFact {
	return platform.NotificationFact{
		EventType:             event,
		RawType:               "TEST_" + string(event),
		TransactionID:         txID,
		OriginalTransactionID: lineage,
		ProductID:             "vip_monthly",
		EventTime:             purchased,
		AppAccountToken:       user.AppAccountToken,
		Purchase: &platform.PurchaseFact{
			OriginalTransactionID: lineage,
			TransactionID:         txID,
			ProductID:             "vip_monthly",
			PurchaseDate:          purchased,
			ExpiryDate:            timePtr(purchased.Add(period)),
			AutoRenewing:          true,
			Valid:                 true,
			AppAccountToken:       user.AppAccountToken,
		},
	}
}
