package platform

// PubSubEnvelope is the Cloud Pub/Sub push request body
type PubSubEnvelope struct {
	Message      PubSubMessage `json:"message" binding:"required"`
	Subscription string        `json:"subscription"`
}

// PubSubMessage is the pushed message; Data is base64 encoded JSON
type PubSubMessage struct {
	Data         string `json:"data"`
	MessageID    string `json:"messageId"`
	MessageIDAlt string `json:"message_id"`
	PublishTime  string `json:"publishTime"`
}

// ID returns the Pub/Sub message id under either spelling.
func (m PubSubMessage) ID() string {
	if m.MessageID != "" {
		return m.MessageID
	}
	return m.MessageIDAlt
}

// DeveloperNotification represents Google Play Real-Time Developer Notification
type DeveloperNotification struct {
	Version                    string                      `json:"version"`
	PackageName                string                      `json:"packageName"`
	EventTimeMillis            string                      `json:"eventTimeMillis"`
	SubscriptionNotification   *SubscriptionNotification   `json:"subscriptionNotification,omitempty"`
	VoidedPurchaseNotification *VoidedPurchaseNotification `json:"voidedPurchaseNotification,omitempty"`
	OneTimeProductNotification *OneTimeProductNotification `json:"oneTimeProductNotification,omitempty"`
	TestNotification           *TestNotification           `json:"testNotification,omitempty"`
}

type SubscriptionNotification struct {
	Version          string `json:"version"`
	NotificationType int    `json:"notificationType"` // 1=SUBSCRIPTION_RECOVERED, 2=SUBSCRIPTION_RENEWED, etc.
	PurchaseToken    string `json:"purchaseToken"`
	SubscriptionID   string `json:"subscriptionId"`
}

type VoidedPurchaseNotification struct {
	PurchaseToken string `json:"purchaseToken"`
	OrderID       string `json:"orderId"`
	ProductType   int    `json:"productType"` // 1 = subscription, 2 = one-time
	RefundType    int    `json:"refundType"`
}

type OneTimeProductNotification struct {
	Version          string `json:"version"`
	NotificationType int    `json:"notificationType"`
	PurchaseToken    string `json:"purchaseToken"`
	SKU              string `json:"sku"`
}

type TestNotification struct {
	Version string `json:"version"`
}

func mapGoogleNotificationType(notificationType int) EventType {
	switch notificationType {
	case 1: // SUBSCRIPTION_RECOVERED
		return EventRecovered
	case 2: // SUBSCRIPTION_RENEWED
		return EventRenewed
	case 3: // SUBSCRIPTION_CANCELED
		return EventCancelled
	case 4: // SUBSCRIPTION_PURCHASED
		return EventPurchased
	case 5: // SUBSCRIPTION_ON_HOLD
		return EventOnHold
	case 6: // SUBSCRIPTION_IN_GRACE_PERIOD
		return EventGracePeriod
	case 7: // SUBSCRIPTION_RESTARTED
		return EventRestarted
	case 9: // SUBSCRIPTION_DEFERRED
		return EventRenewalStatusChanged
	case 10: // SUBSCRIPTION_PAUSED
		return EventOnHold
	case 12: // SUBSCRIPTION_REVOKED
		return EventRevoked
	case 13: // SUBSCRIPTION_EXPIRED
		return EventExpired
	default: // 8 PRICE_CHANGE_CONFIRMED, 11 PAUSE_SCHEDULE_CHANGED, 20 PENDING_PURCHASE_CANCELED
		return EventUnknown
	}
}
