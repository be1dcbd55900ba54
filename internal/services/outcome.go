package services

import (
	"errors"

	"subscription-api/internal/database"
	"subscription-api/internal/models"
	"subscription-api/internal/platform"
)

// OutcomeKind is the result class of processing one platform event.
type OutcomeKind int

const (
	OutcomeOk OutcomeKind = iota
	OutcomeDuplicate
	OutcomeRetryable
	OutcomeTerminal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOk:
		return "ok"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	}
	return "unknown"
}

// Outcome is returned by the ingestor for every notification. Webhook
// handlers acknowledge all of them; the kind only drives logging,
// metrics and the remediation queue.
type Outcome struct {
	Kind      OutcomeKind
	EventType platform.EventType
	ClaimKey  string
	OrderNo   string
	Err       error
}

func okOutcome() Outcome { return Outcome{Kind: OutcomeOk} }

// outcomeFor classifies a processing error.
func outcomeFor(err error) Outcome {
	switch {
	case err == nil:
		return okOutcome()
	case errors.Is(err, ErrDuplicateTransaction):
		return Outcome{Kind: OutcomeDuplicate}
	case errors.Is(err, platform.ErrVerificationUnavailable),
		errors.Is(err, database.ErrPersistenceConflict),
		errors.Is(err, ErrLineageUnknown):
		return Outcome{Kind: OutcomeRetryable, Err: err}
	case errors.Is(err, platform.ErrDecode),
		errors.Is(err, platform.ErrVerificationFailed),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrProductNotFound),
		errors.Is(err, ErrUnsupportedPlatform):
		return Outcome{Kind: OutcomeTerminal, Err: err}
	default:
		// Unclassified failures are usually infrastructure; a replay may succeed.
		return Outcome{Kind: OutcomeRetryable, Err: err}
	}
}

// remediationKind maps an outcome onto the remediation queue taxonomy.
func remediationKind(o Outcome) string {
	if errors.Is(o.Err, platform.ErrDecode) {
		return models.RemediationDecode
	}
	if o.Kind == OutcomeRetryable {
		return models.RemediationRetryable
	}
	return models.RemediationTerminal
}

func (k OutcomeKind) eventOutcome() string {
	switch k {
	case OutcomeDuplicate:
		return models.OutcomeDuplicate
	case OutcomeRetryable:
		return models.OutcomeRetryable
	case OutcomeTerminal:
		return models.OutcomeTerminal
	}
	return models.OutcomeApplied
}
