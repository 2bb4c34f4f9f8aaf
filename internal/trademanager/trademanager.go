// Package trademanager implements the Trade Manager state machine: the
// Execute phase that places a trade's opening order, and the Monitor phase
// that polls the broker afterward until the position closes.
package trademanager

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/tradepilot/internal/brokers"
	"github.com/aristath/tradepilot/internal/domain"
)

const (
	defaultMaxPendingHours = 1.0
	gracePeriod            = 60 * time.Second
	apiErrorRetryThreshold = 5
	apiErrorHardCeiling    = 60
)

// BrokerResolver looks up a broker client by account key, shared with the
// pipeline executor's preflight check.
type BrokerResolver interface {
	Resolve(accountKey string) (brokers.Client, bool)
}

// MarketHours reports whether a symbol's market is open for trading.
type MarketHours interface {
	IsOpen(ctx context.Context, symbol string) (bool, error)
}

// AlwaysOpen treats every symbol as tradeable around the clock, the correct
// policy for crypto/forex pipelines and an acceptable default until a
// calendar-backed checker is wired per asset class.
type AlwaysOpen struct{}

func (AlwaysOpen) IsOpen(context.Context, string) (bool, error) { return true, nil }

// Notifier delivers best-effort user notifications. Failures here never
// fail the agent.
type Notifier interface {
	Notify(ctx context.Context, userID, event string, payload map[string]any) error
}

// NoopNotifier drops every notification, used where no channel is configured.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, string, string, map[string]any) error { return nil }

// TradeManager drives both phases of the state machine.
type TradeManager struct {
	resolver BrokerResolver
	hours    MarketHours
	notifier Notifier
	log      zerolog.Logger
}

// New builds a TradeManager.
func New(resolver BrokerResolver, hours MarketHours, notifier Notifier, log zerolog.Logger) *TradeManager {
	if hours == nil {
		hours = AlwaysOpen{}
	}
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	return &TradeManager{resolver: resolver, hours: hours, notifier: notifier, log: log.With().Str("component", "trade_manager").Logger()}
}

func brokerAccountKey(config map[string]any) string {
	if v, ok := config["broker_account_key"].(string); ok {
		return v
	}
	return ""
}

// brokerToolKeys are the tool_type names a Trade Manager's config can carry
// to attach a broker. At most one may be present at a time.
var brokerToolKeys = map[string]string{
	"alpaca_broker":  "Alpaca",
	"oanda_broker":   "Oanda",
	"tradier_broker": "Tradier",
}

// attachedBrokerTools returns the display names of every broker tool key
// present (and non-nil) in config, in a stable order.
func attachedBrokerTools(config map[string]any) []string {
	var attached []string
	for _, key := range []string{"alpaca_broker", "oanda_broker", "tradier_broker"} {
		if v, ok := config[key]; ok && v != nil {
			attached = append(attached, brokerToolKeys[key])
		}
	}
	return attached
}

func notifyOnTradeExecuted(config map[string]any) bool {
	v, _ := config["notify_trade_executed"].(bool)
	return v
}

func maxPendingHours(config map[string]any) float64 {
	if v, ok := config["max_pending_hours"].(float64); ok {
		return v
	}
	return defaultMaxPendingHours
}

func fail(format string, args ...any) error {
	return &domain.AgentProcessingError{Agent: domain.AgentTradeManager, Detail: fmt.Sprintf(format, args...)}
}
