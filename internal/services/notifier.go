package services

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"subscription-api/pkg/logging"
)

// WebhookNotifier pushes subscription changes to the app backend
type WebhookNotifier struct {
	callbackURL string
	secret      string
	httpClient  *http.Client
	retryDelays []time.Duration
	now         func() time.Time
}

// NewWebhookNotifier creates a new webhook notifier. An empty callbackURL
// disables notifications.
func NewWebhookNotifier(callbackURL, secret string) *WebhookNotifier {
	return &WebhookNotifier{
		callbackURL: callbackURL,
		secret:      secret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		retryDelays: []time.Duration{1 * time.Second, 5 * time.Second, 30 * time.Second},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WebhookPayload represents the payload sent to the app backend
type WebhookPayload struct {
	Event                 string `json:"event"` // subscription.updated
	UserID                uint   `json:"user_id"`
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	AppAccountToken       string `json:"app_account_token,omitempty"`
	Status                string `json:"status"`
	PreviousStatus        string `json:"previous_status"`
	IsSvip                bool   `json:"is_svip"`
	ProductID             string `json:"product_id,omitempty"`
	PlanType              string `json:"plan_type,omitempty"`
	ExpiresDate           string `json:"expires_date,omitempty"` // ISO 8601
	AutoRenew             bool   `json:"auto_renew"`
	Platform              string `json:"platform"`
	Trigger               string `json:"trigger"`
	Timestamp             string `json:"timestamp"`
}

// NotifySubscriptionChange implements Notifier. Delivery runs in the
// background so the caller's transaction path is never blocked.
func (wn *WebhookNotifier) NotifySubscriptionChange(change SubscriptionChange) {
	if wn == nil || wn.callbackURL == "" {
		return
	}
	go wn.sendWithRetry(wn.payloadFor(change))
}

func (wn *WebhookNotifier) payloadFor(change SubscriptionChange) WebhookPayload {
	payload := WebhookPayload{
		Event:                 "subscription.updated",
		UserID:                change.UserID,
		TransactionID:         change.TransactionID,
		OriginalTransactionID: change.OriginalTransactionID,
		AppAccountToken:       change.AppAccountToken,
		Status:                string(change.Subscription.Status),
		PreviousStatus:        string(change.Previous),
		IsSvip:                change.IsSvip,
		ProductID:             change.ProductID,
		PlanType:              change.Subscription.PlanType,
		AutoRenew:             change.Subscription.AutoRenew,
		Platform:              change.Platform,
		Trigger:               change.EventType,
		Timestamp:             wn.now().Format(time.RFC3339),
	}
	if end := change.Subscription.EndDate; end != nil {
		payload.ExpiresDate = end.UTC().Format(time.RFC3339)
	}
	return payload
}

// sendWithRetry tries once plus one retry per configured delay
func (wn *WebhookNotifier) sendWithRetry(payload WebhookPayload) bool {
	attempts := len(wn.retryDelays) + 1
	for attempt := 0; attempt < attempts; attempt++ {
		err := wn.sendWebhook(payload)
		if err == nil {
			logging.Infof("Webhook notification sent - user: %d, status: %s, attempt: %d",
				payload.UserID, payload.Status, attempt+1)
			return true
		}

		logging.Errorf("Webhook notification failed - url: %s, user: %d, attempt: %d, error: %v",
			wn.callbackURL, payload.UserID, attempt+1, err)

		if attempt < len(wn.retryDelays) {
			time.Sleep(wn.retryDelays[attempt])
		}
	}

	logging.Errorf("Webhook notification gave up after %d attempts - url: %s, user: %d",
		attempts, wn.callbackURL, payload.UserID)
	return false
}

// sendWebhook sends a single webhook request
func (wn *WebhookNotifier) sendWebhook(payload WebhookPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, wn.callbackURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Subscription-Webhook/1.0")
	if wn.secret != "" {
		req.Header.Set("X-Subscription-Signature", SignPayload(jsonData, wn.secret))
	}

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// SignPayload returns the hex HMAC-SHA256 of payload, as sent in
// X-Subscription-Signature.
func SignPayload(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
