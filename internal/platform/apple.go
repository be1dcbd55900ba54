package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"subscription-api/pkg/logging"
)

const (
	appleStatusOK             = 0
	appleStatusSandboxReceipt = 21007
)

// AppleVerifier is the App Store side of the platform client.
type AppleVerifier interface {
	VerifyReceipt(ctx context.Context, receiptData, productID string) (*PurchaseFact, error)
	DecodeNotification(raw []byte) (*NotificationFact, error)
}

// AppleOptions configures an AppleClient.
type AppleOptions struct {
	ProductionURL string
	SandboxURL    string
	SharedSecret  string
	BundleID      string
	Timeout       time.Duration
	HTTPClient    *http.Client
	JWS           *JWSVerifier
}

// AppleClient verifies receipts through verifyReceipt and decodes
// App Store Server Notifications V2.
type AppleClient struct {
	httpClient    *http.Client
	productionURL string
	sandboxURL    string
	sharedSecret  string
	bundleID      string
	jws           *JWSVerifier
	now           func() time.Time
}

// NewAppleClient creates a new Apple platform client
func NewAppleClient(opts AppleOptions) *AppleClient {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	jws := opts.JWS
	if jws == nil {
		jws = NewJWSVerifier(nil)
	}
	return &AppleClient{
		httpClient:    httpClient,
		productionURL: opts.ProductionURL,
		sandboxURL:    opts.SandboxURL,
		sharedSecret:  opts.SharedSecret,
		bundleID:      opts.BundleID,
		jws:           jws,
		now:           time.Now,
	}
}

// VerifyReceipt verifies an iOS receipt.
// Status 21007 means the receipt is from sandbox and is retried once against the sandbox URL.
func (c *AppleClient) VerifyReceipt(ctx context.Context, receiptData, productID string) (*PurchaseFact, error) {
	if receiptData == "" {
		return nil, fmt.Errorf("%w: empty receipt", ErrVerificationFailed)
	}

	resp, err := c.postReceipt(ctx, c.productionURL, receiptData)
	if err != nil {
		return nil, err
	}
	if resp.Status == appleStatusSandboxReceipt {
		logging.Infof("Receipt is from sandbox, retrying with sandbox URL")
		resp, err = c.postReceipt(ctx, c.sandboxURL, receiptData)
		if err != nil {
			return nil, err
		}
	}

	if err := appleStatusError(resp.Status, resp.IsRetryable); err != nil {
		return nil, err
	}
	if c.bundleID != "" && resp.Receipt.BundleID != "" && resp.Receipt.BundleID != c.bundleID {
		return nil, fmt.Errorf("%w: bundle id %s does not match", ErrVerificationFailed, resp.Receipt.BundleID)
	}

	return c.selectPurchase(resp, productID)
}

func (c *AppleClient) postReceipt(ctx context.Context, url, receiptData string) (*AppleReceiptResponse, error) {
	requestBody := map[string]interface{}{
		"receipt-data":             receiptData,
		"exclude-old-transactions": true,
	}
	if c.sharedSecret != "" {
		requestBody["password"] = c.sharedSecret
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrVerificationUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrVerificationUnavailable, err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, &StatusError{Platform: AppStore, Status: resp.StatusCode, Err: ErrVerificationUnavailable}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, &StatusError{Platform: AppStore, Status: resp.StatusCode, Err: ErrVerificationFailed}
	}

	var appleResp AppleReceiptResponse
	if err := json.Unmarshal(body, &appleResp); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrVerificationUnavailable, err)
	}
	return &appleResp, nil
}

// appleStatusError maps verifyReceipt status codes onto the error taxonomy.
// 21005 (server unavailable), 21009 (internal error) and 21100-21199 are transient.
func appleStatusError(status int, retryable bool) error {
	switch {
	case status == appleStatusOK:
		return nil
	case status == 21005, status == 21009, status >= 21100 && status <= 21199, retryable:
		return &StatusError{Platform: AppStore, Status: status, Err: ErrVerificationUnavailable}
	default:
		return &StatusError{Platform: AppStore, Status: status, Err: ErrVerificationFailed}
	}
}

// selectPurchase picks the most recent transaction for productID across
// latest_receipt_info and the receipt's in_app list.
func (c *AppleClient) selectPurchase(resp *AppleReceiptResponse, productID string) (*PurchaseFact, error) {
	candidates := make([]AppleReceiptItem, 0, len(resp.LatestReceiptInfo)+len(resp.Receipt.InApp))
	candidates = append(candidates, resp.LatestReceiptInfo...)
	candidates = append(candidates, resp.Receipt.InApp...)

	var best *AppleReceiptItem
	var bestPurchase int64
	for i := range candidates {
		item := &candidates[i]
		if productID != "" && item.ProductID != productID {
			continue
		}
		purchaseMS := parseMillis(item.PurchaseDateMS)
		if best == nil || purchaseMS > bestPurchase {
			best = item
			bestPurchase = purchaseMS
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: no transaction for product %q in receipt", ErrVerificationFailed, productID)
	}
	if bestPurchase == 0 {
		return nil, fmt.Errorf("%w: transaction %s has no purchase date", ErrDecode, best.TransactionID)
	}

	fact := &PurchaseFact{
		OriginalTransactionID: best.OriginalTransactionID,
		TransactionID:         best.TransactionID,
		ProductID:             best.ProductID,
		PurchaseDate:          millisToTime(bestPurchase),
		ExpiryDate:            millisToTimePtr(parseMillis(best.ExpiresDateMS)),
		Environment:           resp.Environment,
	}
	if fact.OriginalTransactionID == "" {
		fact.OriginalTransactionID = fact.TransactionID
	}

	if fact.ExpiryDate != nil {
		for _, renewal := range resp.PendingRenewalInfo {
			if renewal.OriginalTransactionID == fact.OriginalTransactionID {
				fact.AutoRenewing = renewal.AutoRenewStatus == "1"
				break
			}
		}
	}

	cancelled := parseMillis(best.CancellationDateMS) > 0
	fact.Valid = !cancelled && (fact.ExpiryDate == nil || fact.ExpiryDate.After(c.now()))
	return fact, nil
}

// DecodeNotification decodes an App Store Server Notification V2 body.
func (c *AppleClient) DecodeNotification(raw []byte) (*NotificationFact, error) {
	var wrapper AppStoreNotificationWrapper
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if wrapper.SignedPayload == "" {
		return nil, fmt.Errorf("%w: missing signedPayload", ErrDecode)
	}

	var notification AppStoreNotification
	if err := c.jws.Decode(wrapper.SignedPayload, &notification); err != nil {
		return nil, err
	}
	if notification.NotificationUUID == "" {
		return nil, fmt.Errorf("%w: missing notificationUUID", ErrDecode)
	}
	if c.bundleID != "" && notification.Data.BundleID != "" && notification.Data.BundleID != c.bundleID {
		return nil, fmt.Errorf("%w: notification for bundle %s", ErrVerificationFailed, notification.Data.BundleID)
	}

	fact := &NotificationFact{
		Platform:       AppStore,
		EventType:      mapAppleNotificationType(notification.NotificationType, notification.Subtype),
		RawType:        notification.NotificationType,
		NotificationID: notification.NotificationUUID,
		EventTime:      millisToTime(notification.SignedDate),
	}
	if notification.Subtype != "" {
		fact.RawType += "/" + notification.Subtype
	}
	if fact.EventType == EventTest {
		fact.Test = true
		return fact, nil
	}

	if notification.Data.SignedTransactionInfo != "" {
		var tx TransactionInfo
		if err := c.jws.Decode(notification.Data.SignedTransactionInfo, &tx); err != nil {
			return nil, err
		}
		purchase := &PurchaseFact{
			OriginalTransactionID: tx.OriginalTransactionID,
			TransactionID:         tx.TransactionID,
			ProductID:             tx.ProductID,
			PurchaseDate:          millisToTime(tx.PurchaseDate),
			ExpiryDate:            millisToTimePtr(tx.ExpiresDate),
			AutoRenewing:          tx.ExpiresDate > 0,
			Valid:                 tx.RevocationDate == 0,
			AppAccountToken:       tx.AppAccountToken,
			Environment:           tx.Environment,
		}
		if purchase.OriginalTransactionID == "" {
			purchase.OriginalTransactionID = purchase.TransactionID
		}
		fact.Purchase = purchase
		fact.TransactionID = tx.TransactionID
		fact.OriginalTransactionID = purchase.OriginalTransactionID
		fact.ProductID = tx.ProductID
		fact.AppAccountToken = tx.AppAccountToken
	}

	if notification.Data.SignedRenewalInfo != "" {
		var renewal RenewalInfo
		if err := c.jws.Decode(notification.Data.SignedRenewalInfo, &renewal); err != nil {
			return nil, err
		}
		if fact.Purchase != nil {
			fact.Purchase.AutoRenewing = renewal.AutoRenewStatus == 1
			// Access during the grace period lasts until the grace expiry.
			if fact.EventType == EventGracePeriod && renewal.GracePeriodExpiresDate > 0 {
				fact.Purchase.ExpiryDate = millisToTimePtr(renewal.GracePeriodExpiresDate)
			}
		}
		if fact.OriginalTransactionID == "" {
			fact.OriginalTransactionID = renewal.OriginalTransactionID
		}
	}

	if fact.Purchase != nil && notification.NotificationType == "DID_CHANGE_RENEWAL_STATUS" {
		fact.Purchase.AutoRenewing = notification.Subtype == "AUTO_RENEW_ENABLED"
	}
	return fact, nil
}

func mapAppleNotificationType(notificationType, subtype string) EventType {
	switch notificationType {
	case "SUBSCRIBED", "ONE_TIME_CHARGE":
		return EventPurchased
	case "DID_RENEW":
		if subtype == "BILLING_RECOVERY" {
			return EventRecovered
		}
		return EventRenewed
	case "DID_FAIL_TO_RENEW":
		if subtype == "GRACE_PERIOD" {
			return EventGracePeriod
		}
		return EventRenewalFailed
	case "DID_CHANGE_RENEWAL_STATUS":
		if subtype == "AUTO_RENEW_DISABLED" {
			return EventCancelled
		}
		return EventRenewalStatusChanged
	case "EXPIRED", "GRACE_PERIOD_EXPIRED":
		return EventExpired
	case "REFUND":
		return EventRefunded
	case "REVOKE":
		return EventRevoked
	case "TEST":
		return EventTest
	default:
		return EventUnknown
	}
}

func parseMillis(value string) int64 {
	if value == "" {
		return 0
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0
	}
	return ms
}
