package api

import (
	"encoding/json"
	"net/http"

	"subscription-api/internal/platform"
	"subscription-api/internal/response"
	"subscription-api/internal/services"
	"subscription-api/pkg/logging"

	"github.com/gin-gonic/gin"
)

// WebhookResult is returned to the stores. They only look at the status code.
type WebhookResult struct {
	Outcome   string `json:"outcome"`
	EventType string `json:"event_type,omitempty"`
	OrderNo   string `json:"order_no,omitempty"`
}

// AppleNotification receives App Store Server Notifications V2
// POST /webhook/apple
func (h *Handler) AppleNotification(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	var wrapper platform.AppStoreNotificationWrapper
	if err := json.Unmarshal(body, &wrapper); err != nil {
		logging.Errorf("Failed to parse App Store notification wrapper: %v, body length: %d", err, len(body))
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid notification format")
		return
	}

	h.ingest(c, platform.AppStore, body)
}

// GoogleNotification receives Real-time Developer Notifications via Pub/Sub push
// POST /webhook/google
func (h *Handler) GoogleNotification(c *gin.Context) {
	body, ok := readBody(c)
	if !ok {
		return
	}

	var envelope platform.PubSubEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		logging.Errorf("Failed to parse Pub/Sub envelope: %v, body length: %d", err, len(body))
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid Pub/Sub envelope")
		return
	}

	h.ingest(c, platform.GooglePlay, body)
}

func readBody(c *gin.Context) ([]byte, bool) {
	body, err := c.GetRawData()
	if err != nil {
		logging.Errorf("Failed to read request body: %v", err)
		response.ErrorJSON(c, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}
	if len(body) == 0 {
		response.ErrorJSON(c, http.StatusBadRequest, "Empty request body")
		return nil, false
	}
	return body, true
}

// ingest acknowledges every parseable notification; failures are kept in
// the remediation queue rather than bounced back to the store.
func (h *Handler) ingest(c *gin.Context, platformName string, body []byte) {
	outcome := h.ingestor.Ingest(c.Request.Context(), platformName, body)
	result := WebhookResult{
		Outcome:   outcome.Kind.String(),
		EventType: string(outcome.EventType),
		OrderNo:   outcome.OrderNo,
	}
	message := "Notification processed"
	switch outcome.Kind {
	case services.OutcomeDuplicate:
		message = "Notification already processed"
	case services.OutcomeRetryable, services.OutcomeTerminal:
		message = "Notification queued for remediation"
	}
	response.MessageJSON(c, http.StatusOK, message, result)
}
