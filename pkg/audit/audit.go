// Package audit defines the structured record both AuthTranslator and
// RotationCoordinator log through internal/logging, never via a bare
// fmt.Sprintf of secret material.
package audit

import (
	"time"

	"github.com/systmms/payment-authgate/internal/logging"
)

// Record is one audit-log entry. ClientID must already be masked by the
// caller (internal/logging.MaskClientID) before a Record is constructed;
// Record itself does not re-mask, so the raw value never round-trips
// through this type.
type Record struct {
	Timestamp     time.Time
	Event         string // e.g. "authenticate", "revoke", "rotation.initiate"
	MaskedClient  string
	RequestID     string
	SourceAddr    string
	MatchedVersion string
	Outcome       string // "success" | "failure" | "degraded"
	Detail        string
}

// Log writes r through logger at Info level (Warn for degraded outcomes),
// using WithFields so every audit line carries the same structured keys.
func (r Record) Log(logger *logging.Logger) {
	fields := map[string]string{
		"event":     r.Event,
		"clientId":  r.MaskedClient,
		"requestId": r.RequestID,
		"outcome":   r.Outcome,
	}
	if r.SourceAddr != "" {
		fields["sourceAddr"] = r.SourceAddr
	}
	if r.MatchedVersion != "" {
		fields["matchedVersion"] = r.MatchedVersion
	}
	scoped := logger.WithFields(fields)
	if r.Outcome == "degraded" {
		scoped.Warn("%s", r.Detail)
		return
	}
	scoped.Info("%s", r.Detail)
}

// New stamps the current time on a Record built by the caller.
func New(event, maskedClient, requestID string) Record {
	return Record{Timestamp: time.Now().UTC(), Event: event, MaskedClient: maskedClient, RequestID: requestID}
}
