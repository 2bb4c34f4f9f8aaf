package di

import (
	"context"

	"github.com/rs/zerolog"
)

// logNotifier satisfies trademanager.Notifier, monitoring.Notifier, and
// reconciliation.Notifier — three independently-declared interfaces with the
// identical Notify shape, the same cross-package pattern used for
// BrokerResolver. Until a real notification channel (email, push, webhook)
// is configured, every event is logged at info level rather than dropped
// silently.
type logNotifier struct {
	log zerolog.Logger
}

func newLogNotifier(log zerolog.Logger) *logNotifier {
	return &logNotifier{log: log.With().Str("component", "notifier").Logger()}
}

func (n *logNotifier) Notify(ctx context.Context, userID, event string, payload map[string]any) error {
	n.log.Info().Str("user_id", userID).Str("event", event).Interface("payload", payload).Msg("notification")
	return nil
}
