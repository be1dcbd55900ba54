package platform

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	googleStatePending         = "SUBSCRIPTION_STATE_PENDING"
	googleStatePendingCanceled = "SUBSCRIPTION_STATE_PENDING_PURCHASE_CANCELED"
	googleAcknowledged         = "ACKNOWLEDGEMENT_STATE_ACKNOWLEDGED"
)

// GoogleVerifier is the Google Play side of the platform client.
type GoogleVerifier interface {
	VerifyPurchase(ctx context.Context, purchaseToken, productID string) (*PurchaseFact, error)
	Acknowledge(ctx context.Context, purchaseToken, productID string) error
	DecodeNotification(raw []byte) (*NotificationFact, error)
}

// GoogleClient talks to the Google Play Developer API.
type GoogleClient struct {
	svc         *androidpublisher.Service
	packageName string
	timeout     time.Duration
	now         func() time.Time
}

// NewGoogleClient creates the Android Publisher client. credentialsFile may be
// empty, in which case application default credentials (or opts) are used.
func NewGoogleClient(ctx context.Context, packageName, credentialsFile string, timeout time.Duration, opts ...option.ClientOption) (*GoogleClient, error) {
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	svc, err := androidpublisher.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create android publisher service: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleClient{svc: svc, packageName: packageName, timeout: timeout, now: time.Now}, nil
}

// VerifyPurchase calls purchases.subscriptionsv2.get. The purchase token is
// the lineage id and latestOrderId identifies the individual charge.
func (c *GoogleClient) VerifyPurchase(ctx context.Context, purchaseToken, productID string) (*PurchaseFact, error) {
	if purchaseToken == "" {
		return nil, fmt.Errorf("%w: empty purchase token", ErrVerificationFailed)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	sub, err := c.svc.Purchases.Subscriptionsv2.Get(c.packageName, purchaseToken).Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogleError(err)
	}
	return c.purchaseFromV2(sub, purchaseToken, productID)
}

func (c *GoogleClient) purchaseFromV2(sub *androidpublisher.SubscriptionPurchaseV2, purchaseToken, productID string) (*PurchaseFact, error) {
	var item *androidpublisher.SubscriptionPurchaseLineItem
	for _, li := range sub.LineItems {
		if productID == "" || li.ProductId == productID {
			item = li
			break
		}
	}
	if item == nil {
		return nil, fmt.Errorf("%w: no line item for product %q", ErrVerificationFailed, productID)
	}

	fact := &PurchaseFact{
		OriginalTransactionID: purchaseToken,
		TransactionID:         sub.LatestOrderId,
		ProductID:             item.ProductId,
		PurchaseToken:         purchaseToken,
		Acknowledged:          sub.AcknowledgementState == googleAcknowledged,
	}
	if fact.TransactionID == "" {
		fact.TransactionID = purchaseToken
	}
	if sub.ExternalAccountIdentifiers != nil {
		fact.AppAccountToken = sub.ExternalAccountIdentifiers.ObfuscatedExternalAccountId
	}
	if sub.TestPurchase != nil {
		fact.Environment = "Sandbox"
	} else {
		fact.Environment = "Production"
	}

	if sub.StartTime != "" {
		start, err := time.Parse(time.RFC3339, sub.StartTime)
		if err != nil {
			return nil, fmt.Errorf("%w: startTime %q: %v", ErrDecode, sub.StartTime, err)
		}
		fact.PurchaseDate = start.UTC()
	}
	if item.ExpiryTime != "" {
		expiry, err := time.Parse(time.RFC3339, item.ExpiryTime)
		if err != nil {
			return nil, fmt.Errorf("%w: expiryTime %q: %v", ErrDecode, item.ExpiryTime, err)
		}
		expiry = expiry.UTC()
		fact.ExpiryDate = &expiry
	}
	// Prepaid plans never renew on their own.
	fact.AutoRenewing = item.AutoRenewingPlan != nil && item.AutoRenewingPlan.AutoRenewEnabled

	pending := sub.SubscriptionState == googleStatePending || sub.SubscriptionState == googleStatePendingCanceled
	fact.Valid = !pending && (fact.ExpiryDate == nil || fact.ExpiryDate.After(c.now()))
	return fact, nil
}

// Acknowledge acknowledges a subscription purchase. Unacknowledged purchases
// are refunded by Google after three days.
func (c *GoogleClient) Acknowledge(ctx context.Context, purchaseToken, productID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.svc.Purchases.Subscriptions.Acknowledge(c.packageName, productID, purchaseToken,
		&androidpublisher.SubscriptionPurchasesAcknowledgeRequest{}).Context(ctx).Do()
	if err != nil {
		return classifyGoogleError(err)
	}
	return nil
}

// DecodeNotification decodes a Pub/Sub push envelope carrying an RTDN.
func (c *GoogleClient) DecodeNotification(raw []byte) (*NotificationFact, error) {
	return decodeGoogleNotification(raw, c.packageName)
}

func decodeGoogleNotification(raw []byte, packageName string) (*NotificationFact, error) {
	var envelope PubSubEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	data, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: message data is not base64: %v", ErrDecode, err)
	}

	var notification DeveloperNotification
	if err := json.Unmarshal(data, &notification); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if packageName != "" && notification.PackageName != "" && notification.PackageName != packageName {
		return nil, fmt.Errorf("%w: notification for package %s", ErrVerificationFailed, notification.PackageName)
	}

	fact := &NotificationFact{
		Platform:       GooglePlay,
		NotificationID: envelope.Message.ID(),
		EventType:      EventUnknown,
	}
	if ms, err := strconv.ParseInt(notification.EventTimeMillis, 10, 64); err == nil && ms > 0 {
		fact.EventTime = millisToTime(ms)
	}
	if fact.NotificationID == "" {
		return nil, fmt.Errorf("%w: missing messageId", ErrDecode)
	}

	switch {
	case notification.TestNotification != nil:
		fact.EventType = EventTest
		fact.RawType = "TEST"
		fact.Test = true
	case notification.SubscriptionNotification != nil:
		sn := notification.SubscriptionNotification
		fact.EventType = mapGoogleNotificationType(sn.NotificationType)
		fact.RawType = strconv.Itoa(sn.NotificationType)
		fact.PurchaseToken = sn.PurchaseToken
		fact.OriginalTransactionID = sn.PurchaseToken
		fact.ProductID = sn.SubscriptionID
		if sn.PurchaseToken == "" {
			return nil, fmt.Errorf("%w: missing purchaseToken", ErrDecode)
		}
	case notification.VoidedPurchaseNotification != nil:
		vp := notification.VoidedPurchaseNotification
		fact.EventType = EventRefunded
		fact.RawType = "VOIDED"
		fact.PurchaseToken = vp.PurchaseToken
		fact.OriginalTransactionID = vp.PurchaseToken
		fact.TransactionID = vp.OrderID
	case notification.OneTimeProductNotification != nil:
		fact.RawType = "ONE_TIME_" + strconv.Itoa(notification.OneTimeProductNotification.NotificationType)
		fact.PurchaseToken = notification.OneTimeProductNotification.PurchaseToken
	}
	return fact, nil
}

// classifyGoogleError maps transport and API errors onto the verification taxonomy.
func classifyGoogleError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code >= http.StatusInternalServerError || apiErr.Code == http.StatusTooManyRequests {
			return &StatusError{Platform: GooglePlay, Status: apiErr.Code, Err: ErrVerificationUnavailable}
		}
		return &StatusError{Platform: GooglePlay, Status: apiErr.Code, Err: ErrVerificationFailed}
	}
	return fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
}
