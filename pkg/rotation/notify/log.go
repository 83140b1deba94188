package notify

import (
	"context"

	"github.com/systmms/payment-authgate/internal/logging"
)

// LogProvider delivers every Event to the structured logger. It is always
// registered regardless of configured channels, so rotation history is
// never silently unobservable even with no Slack/email/webhook configured.
type LogProvider struct {
	logger *logging.Logger
}

// NewLogProvider builds a LogProvider.
func NewLogProvider(logger *logging.Logger) *LogProvider {
	return &LogProvider{logger: logger}
}

func (p *LogProvider) Name() string { return "log" }

func (p *LogProvider) SupportsEvent(EventType) bool { return true }

func (p *LogProvider) Send(_ context.Context, event Event) error {
	logger := p.logger.WithFields(map[string]string{
		"event":      string(event.Type),
		"clientId":   logging.MaskClientID(event.ClientID),
		"rotationId": event.RotationID,
		"fromState":  event.FromState,
		"toState":    event.ToState,
	})
	if event.Error != nil {
		logger.Warn("%s", event.Reason)
	} else {
		logger.Info("%s", event.Reason)
	}
	return nil
}

var _ Provider = (*LogProvider)(nil)
