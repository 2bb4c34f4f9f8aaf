package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDuplicatePosition reports an attempt to open a position for a symbol
// that already has one. No broker in this repository returns it; StubBroker
// does not reject a second open for the same symbol.
var ErrDuplicatePosition = errors.New("duplicate position")

// ErrNeedsReconciliation marks a state transition that could not establish
// broker-authoritative truth and must not guess.
var ErrNeedsReconciliation = errors.New("needs reconciliation")

// InsufficientDataError means an agent did not have enough market data to
// proceed. Never retried; always fails the execution.
type InsufficientDataError struct {
	Symbol string
	Detail string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("InsufficientDataError: %s: %s", e.Symbol, e.Detail)
}

// BudgetExceededError means a user's daily or monthly spend cap was hit.
type BudgetExceededError struct {
	UserID string
	Detail string
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("BudgetExceededException: user %s: %s", e.UserID, e.Detail)
}

// AuthenticationError means a broker or provider rejected credentials.
type AuthenticationError struct {
	Provider string
	Detail   string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("AuthenticationError: %s: %s", e.Provider, e.Detail)
}

// AgentProcessingError is a deterministic agent failure not covered by a
// more specific type above.
type AgentProcessingError struct {
	Agent  AgentType
	Detail string
}

func (e *AgentProcessingError) Error() string {
	return fmt.Sprintf("AgentProcessingError: %s: %s", e.Agent, e.Detail)
}

// TriggerNotMet means an agent's entry condition did not hold; the
// executor marks this agent and every subsequent one skipped rather than
// treating it as a failure.
type TriggerNotMet struct {
	Agent  AgentType
	Detail string
}

func (e *TriggerNotMet) Error() string {
	return fmt.Sprintf("TriggerNotMet: %s: %s", e.Agent, e.Detail)
}

// abortSubstrings mirrors the spec's message-text matching for errors that
// arrive already wrapped by a third-party agent, where a type assertion
// would miss the underlying kind.
var abortSubstrings = []string{
	"InsufficientDataError",
	"BudgetExceededException",
	"AuthenticationError",
}

// IsAbortingAgentError reports whether err should abort the pipeline
// executor's agent loop rather than being logged and skipped.
func IsAbortingAgentError(agentType AgentType, err error) bool {
	if err == nil {
		return false
	}
	if CriticalAgents[agentType] {
		return true
	}
	var insufficient *InsufficientDataError
	var budget *BudgetExceededError
	var auth *AuthenticationError
	if errors.As(err, &insufficient) || errors.As(err, &budget) || errors.As(err, &auth) {
		return true
	}
	msg := err.Error()
	for _, s := range abortSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
