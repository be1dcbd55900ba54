package services

import (
	"context"
	"fmt"
	"html"

	"subscription-api/internal/models"

	brevo "github.com/getbrevo/brevo-go/lib"
)

// BrevoAlerter emails operators through Brevo when a webhook lands in the
// remediation queue.
type BrevoAlerter struct {
	client      *brevo.APIClient
	fromEmail   string
	fromName    string
	to          string
	serviceName string
}

// BrevoAlerterOptions configures a BrevoAlerter. BasePath overrides the
// Brevo API endpoint.
type BrevoAlerterOptions struct {
	APIKey      string
	FromEmail   string
	FromName    string
	To          string
	ServiceName string
	BasePath    string
}

// NewBrevoAlerter creates a brevo alerter
func NewBrevoAlerter(opts BrevoAlerterOptions) *BrevoAlerter {
	cfg := brevo.NewConfiguration()
	cfg.AddDefaultHeader("api-key", opts.APIKey)
	if opts.BasePath != "" {
		cfg.BasePath = opts.BasePath
	}
	return &BrevoAlerter{
		client:      brevo.NewAPIClient(cfg),
		fromEmail:   opts.FromEmail,
		fromName:    opts.FromName,
		to:          opts.To,
		serviceName: opts.ServiceName,
	}
}

// AlertRemediation implements Alerter.
func (a *BrevoAlerter) AlertRemediation(ctx context.Context, item *models.RemediationItem) error {
	subject := fmt.Sprintf("[%s] %s webhook needs remediation (%s)", a.serviceName, item.Platform, item.Kind)
	text := fmt.Sprintf(
		"Remediation item #%d\nPlatform: %s\nKind: %s\nEvent: %s\nClaim key: %s\nError: %s\n\nReplay with POST /api/admin/remediation/%d/replay",
		item.ID, item.Platform, item.Kind, item.EventType, item.ClaimKey, item.Error, item.ID)
	htmlContent := fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
			<h2 style="color: #c0392b;">%s webhook needs remediation</h2>
			<table style="font-size: 14px; color: #333;">
				<tr><td>Item</td><td>#%d</td></tr>
				<tr><td>Kind</td><td>%s</td></tr>
				<tr><td>Event</td><td>%s</td></tr>
				<tr><td>Claim key</td><td>%s</td></tr>
				<tr><td>Error</td><td>%s</td></tr>
			</table>
		</body>
		</html>
	`, html.EscapeString(item.Platform), item.ID, html.EscapeString(item.Kind),
		html.EscapeString(item.EventType), html.EscapeString(item.ClaimKey), html.EscapeString(item.Error))

	_, resp, err := a.client.TransactionalEmailsApi.SendTransacEmail(ctx, brevo.SendSmtpEmail{
		Sender:      &brevo.SendSmtpEmailSender{Name: a.fromName, Email: a.fromEmail},
		To:          []brevo.SendSmtpEmailTo{{Email: a.to}},
		Subject:     subject,
		HtmlContent: htmlContent,
		TextContent: text,
	})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("brevo API error: %w", err)
	}
	return nil
}
