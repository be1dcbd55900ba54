package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"subscription-api/internal/database"
	"subscription-api/internal/lifecycle"
	"subscription-api/internal/metrics"
	"subscription-api/internal/models"
	"subscription-api/internal/platform"
	"subscription-api/pkg/logging"

	"gorm.io/datatypes"
)

// Alerter notifies operators about items landing in the remediation queue.
type Alerter interface {
	AlertRemediation(ctx context.Context, item *models.RemediationItem) error
}

// Ingestor turns raw platform notifications into committed lifecycle changes.
type Ingestor struct {
	engine  *Engine
	store   *database.Store
	apple   platform.AppleVerifier
	google  platform.GoogleVerifier
	alerter Alerter
	metrics *metrics.Metrics
}

// IngestorOptions wires the optional collaborators of an Ingestor.
type IngestorOptions struct {
	Apple   platform.AppleVerifier
	Google  platform.GoogleVerifier
	Alerter Alerter
	Metrics *metrics.Metrics
}

// NewIngestor creates an ingestor
func NewIngestor(engine *Engine, store *database.Store, opts IngestorOptions) *Ingestor {
	return &Ingestor{
		engine:  engine,
		store:   store,
		apple:   opts.Apple,
		google:  opts.Google,
		alerter: opts.Alerter,
		metrics: opts.Metrics,
	}
}

// Ingest processes one notification body. It never returns an error: every
// failure is classified into the outcome and, when not applied, queued for
// remediation.
func (i *Ingestor) Ingest(ctx context.Context, platformName string, raw []byte) Outcome {
	outcome, event := i.process(ctx, platformName, raw)
	i.finish(ctx, platformName, outcome, event)

	if outcome.Kind == OutcomeRetryable || outcome.Kind == OutcomeTerminal {
		i.enqueue(ctx, platformName, raw, outcome)
	}
	return outcome
}

// Replay re-processes a queued notification. The item is resolved when the
// replay applies or turns out to be a duplicate.
func (i *Ingestor) Replay(ctx context.Context, id uint) (Outcome, error) {
	store := i.store.WithContext(ctx)
	item, err := store.FindRemediation(id)
	if err != nil {
		return Outcome{}, err
	}
	if item == nil {
		return Outcome{}, fmt.Errorf("%w: %d", ErrRemediationNotFound, id)
	}

	outcome, event := i.process(ctx, item.Platform, []byte(item.Payload))
	i.finish(ctx, item.Platform, outcome, event)

	resolved := outcome.Kind == OutcomeOk || outcome.Kind == OutcomeDuplicate
	lastErr := ""
	if outcome.Err != nil {
		lastErr = outcome.Err.Error()
	}
	if err := store.RecordRemediationAttempt(id, resolved, lastErr, i.engine.now()); err != nil {
		return outcome, err
	}
	logging.Infof("Replayed remediation item %d: %s", id, outcome.Kind)
	return outcome, nil
}

func (i *Ingestor) decode(platformName string, raw []byte) (*platform.NotificationFact, error) {
	switch platformName {
	case platform.AppStore:
		if i.apple != nil {
			return i.apple.DecodeNotification(raw)
		}
	case platform.GooglePlay:
		if i.google != nil {
			return i.google.DecodeNotification(raw)
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedPlatform, platformName)
}

func (i *Ingestor) process(ctx context.Context, platformName string, raw []byte) (Outcome, *models.SubscriptionEvent) {
	n, err := i.decode(platformName, raw)
	if err != nil {
		return outcomeFor(err), &models.SubscriptionEvent{
			EventType:        string(platform.EventUnknown),
			Platform:         platformName,
			NotificationData: auditPayload(raw),
		}
	}

	event := &models.SubscriptionEvent{
		EventType:             string(n.EventType),
		RawType:               n.RawType,
		Platform:              n.Platform,
		NotificationID:        n.NotificationID,
		OriginalTransactionID: n.LineageID(),
		NotificationData:      auditPayload(raw),
	}

	if n.Test || n.EventType == platform.EventUnknown {
		event.Outcome = models.OutcomeIgnored
		i.engine.recordStandalone(ctx, *event)
		return Outcome{Kind: OutcomeOk, EventType: n.EventType, ClaimKey: n.ClaimKey()}, nil
	}

	if n.Platform == platform.GooglePlay {
		if err := i.enrichGoogle(ctx, n); err != nil {
			out := outcomeFor(err)
			out.EventType = n.EventType
			return out, event
		}
	}
	if n.EventType.IsCharge() && n.Purchase == nil {
		out := outcomeFor(fmt.Errorf("%w: %s notification without transaction data", platform.ErrDecode, n.RawType))
		out.EventType = n.EventType
		return out, event
	}

	req := commitRequest{
		ClaimKey:        n.ClaimKey(),
		Lineage:         n.LineageID(),
		Platform:        n.Platform,
		ProductID:       n.ProductID,
		AppAccountToken: n.AppAccountToken,
		TransactionID:   n.TransactionID,
		Fact: lifecycle.Fact{
			Event:                 n.EventType,
			Platform:              n.Platform,
			Purchase:              n.Purchase,
			OriginalTransactionID: n.LineageID(),
			OccurredAt:            n.EventTime,
			Reason:                n.RawType,
		},
		Event: *event,
	}
	if n.Purchase != nil {
		req.ProductID = n.Purchase.ProductID
		req.TransactionID = n.Purchase.TransactionID
	}
	if n.EventType == platform.EventRefunded || n.EventType == platform.EventRevoked {
		req.RefundTransactionID = n.TransactionID
	}

	out := Outcome{EventType: n.EventType, ClaimKey: req.ClaimKey}
	result, err := i.engine.commit(ctx, req)
	if err != nil {
		classified := outcomeFor(err)
		out.Kind, out.Err = classified.Kind, classified.Err
		return out, event
	}
	if result.Order != nil {
		out.OrderNo = result.Order.OrderNo
	}

	if n.Platform == platform.GooglePlay && n.EventType.IsCharge() && !n.Purchase.Acknowledged {
		i.acknowledge(ctx, n.Purchase)
	}
	return out, event
}

// enrichGoogle fetches the purchase behind a Play notification. Only charges
// require it; a terminal lookup failure on anything else (for example a
// token that was already voided) is applied without purchase data.
func (i *Ingestor) enrichGoogle(ctx context.Context, n *platform.NotificationFact) error {
	if n.PurchaseToken == "" || i.google == nil {
		return nil
	}
	purchase, err := i.google.VerifyPurchase(ctx, n.PurchaseToken, n.ProductID)
	if err != nil {
		if n.EventType.IsCharge() || errors.Is(err, platform.ErrVerificationUnavailable) {
			return err
		}
		logging.Warnf("Google purchase lookup failed for %s event, continuing without it: %v", n.EventType, err)
		return nil
	}
	// startTime is the start of the lineage; a renewal is ordered by its event time.
	if (n.EventType == platform.EventRenewed || n.EventType == platform.EventRecovered) && !n.EventTime.IsZero() {
		purchase.PurchaseDate = n.EventTime
	}
	n.Purchase = purchase
	if n.AppAccountToken == "" {
		n.AppAccountToken = purchase.AppAccountToken
	}
	if n.ProductID == "" {
		n.ProductID = purchase.ProductID
	}
	return nil
}

func (i *Ingestor) acknowledge(ctx context.Context, purchase *platform.PurchaseFact) {
	if i.google == nil || purchase == nil {
		return
	}
	if err := i.google.Acknowledge(ctx, purchase.PurchaseToken, purchase.ProductID); err != nil {
		// Play re-sends the purchase state; acknowledgement is retried on the next charge.
		logging.Warnf("Failed to acknowledge Google purchase %s: %v", purchase.TransactionID, err)
	}
}

func (i *Ingestor) finish(ctx context.Context, platformName string, outcome Outcome, event *models.SubscriptionEvent) {
	i.metrics.ObserveWebhook(platformName, string(outcome.EventType), outcome.Kind.String())

	switch outcome.Kind {
	case OutcomeOk:
		logging.Infof("Applied %s %s notification %s", platformName, outcome.EventType, outcome.ClaimKey)
		return
	case OutcomeDuplicate:
		logging.Infof("Duplicate %s notification %s ignored", platformName, outcome.ClaimKey)
	default:
		logging.Errorf("Failed to apply %s %s notification %s (%s): %v",
			platformName, outcome.EventType, outcome.ClaimKey, outcome.Kind, outcome.Err)
	}
	if event != nil {
		event.Outcome = outcome.Kind.eventOutcome()
		i.engine.recordStandalone(ctx, *event)
	}
}

func (i *Ingestor) enqueue(ctx context.Context, platformName string, raw []byte, outcome Outcome) {
	item := &models.RemediationItem{
		Platform:  platformName,
		Kind:      remediationKind(outcome),
		ClaimKey:  outcome.ClaimKey,
		EventType: string(outcome.EventType),
		Payload:   string(raw),
		Status:    models.RemediationOpen,
	}
	if outcome.Err != nil {
		item.Error = outcome.Err.Error()
	}
	if err := i.store.WithContext(ctx).CreateRemediation(item); err != nil {
		logging.Errorf("Failed to enqueue remediation for %s notification: %v", platformName, err)
		return
	}
	if i.alerter == nil {
		return
	}

	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := i.alerter.AlertRemediation(alertCtx, item); err != nil {
		logging.Warnf("Failed to send remediation alert for item %d: %v", item.ID, err)
	}
}

// auditPayload keeps bodies that are not JSON as a JSON string.
func auditPayload(raw []byte) datatypes.JSON {
	if json.Valid(raw) {
		return datatypes.JSON(raw)
	}
	quoted, _ := json.Marshal(string(raw))
	return datatypes.JSON(quoted)
}
