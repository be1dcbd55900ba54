package platform

import "github.com/golang-jwt/jwt/v5"

// AppStoreNotificationWrapper represents the outer wrapper of App Store Server Notification V2
// Apple sends notifications as a JWS in the signedPayload field
type AppStoreNotificationWrapper struct {
	SignedPayload string `json:"signedPayload" binding:"required"`
}

// AppStoreNotification is the decoded signedPayload (responseBodyV2DecodedPayload)
type AppStoreNotification struct {
	jwt.RegisteredClaims
	NotificationType string           `json:"notificationType"` // e.g. "SUBSCRIBED", "DID_RENEW"
	Subtype          string           `json:"subtype,omitempty"`
	NotificationUUID string           `json:"notificationUUID"`
	Version          string           `json:"version"`
	SignedDate       int64            `json:"signedDate"` // 通知签名时间 (ms)
	Data             NotificationData `json:"data"`
}

// NotificationData contains notification data
// Apple uses camelCase for field names
type NotificationData struct {
	AppAppleID            int64  `json:"appAppleId"`
	BundleID              string `json:"bundleId"`
	BundleVersion         string `json:"bundleVersion"`
	Environment           string `json:"environment"` // "Sandbox" or "Production"
	SignedTransactionInfo string `json:"signedTransactionInfo"`
	SignedRenewalInfo     string `json:"signedRenewalInfo"`
	Status                int    `json:"status"`
}

// TransactionInfo is the decoded signedTransactionInfo (JWSTransactionDecodedPayload)
type TransactionInfo struct {
	jwt.RegisteredClaims
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	BundleID              string `json:"bundleId"`
	ProductID             string `json:"productId"`
	PurchaseDate          int64  `json:"purchaseDate"`
	OriginalPurchaseDate  int64  `json:"originalPurchaseDate"`
	ExpiresDate           int64  `json:"expiresDate"` // 非续订商品为 0
	Type                  string `json:"type"`
	AppAccountToken       string `json:"appAccountToken"`
	Environment           string `json:"environment"`
	RevocationDate        int64  `json:"revocationDate"`
	RevocationReason      *int   `json:"revocationReason,omitempty"`
	SignedDate            int64  `json:"signedDate"`
}

// RenewalInfo is the decoded signedRenewalInfo (JWSRenewalInfoDecodedPayload)
type RenewalInfo struct {
	jwt.RegisteredClaims
	OriginalTransactionID  string `json:"originalTransactionId"`
	ProductID              string `json:"productId"`
	AutoRenewProductID     string `json:"autoRenewProductId"`
	AutoRenewStatus        int    `json:"autoRenewStatus"` // 1 = on, 0 = off
	ExpirationIntent       int    `json:"expirationIntent"`
	GracePeriodExpiresDate int64  `json:"gracePeriodExpiresDate"`
	IsInBillingRetryPeriod bool   `json:"isInBillingRetryPeriod"`
	SignedDate             int64  `json:"signedDate"`
}

// AppleReceiptResponse represents the legacy verifyReceipt response
type AppleReceiptResponse struct {
	Status      int    `json:"status"`
	Environment string `json:"environment"`
	Receipt     struct {
		ReceiptType string             `json:"receipt_type"`
		BundleID    string             `json:"bundle_id"`
		InApp       []AppleReceiptItem `json:"in_app"`
	} `json:"receipt"`
	LatestReceiptInfo  []AppleReceiptItem        `json:"latest_receipt_info"`
	PendingRenewalInfo []ApplePendingRenewalInfo `json:"pending_renewal_info"`
	LatestReceipt      string                    `json:"latest_receipt"`
	IsRetryable        bool                      `json:"is-retryable"`
}

// AppleReceiptItem is one transaction inside a receipt
type AppleReceiptItem struct {
	TransactionID         string `json:"transaction_id"`
	OriginalTransactionID string `json:"original_transaction_id"`
	ProductID             string `json:"product_id"`
	PurchaseDateMS        string `json:"purchase_date_ms"`
	ExpiresDateMS         string `json:"expires_date_ms"`
	CancellationDateMS    string `json:"cancellation_date_ms"`
	IsTrialPeriod         string `json:"is_trial_period"`
}

// ApplePendingRenewalInfo carries the auto-renew flag per lineage
type ApplePendingRenewalInfo struct {
	AutoRenewProductID     string `json:"auto_renew_product_id"`
	AutoRenewStatus        string `json:"auto_renew_status"`
	OriginalTransactionID  string `json:"original_transaction_id"`
	ProductID              string `json:"product_id"`
	IsInBillingRetryPeriod string `json:"is_in_billing_retry_period"`
}
