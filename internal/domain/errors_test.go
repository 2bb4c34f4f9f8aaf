package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsAbortingAgentError_CriticalAgentAlwaysAborts(t *testing.T) {
	err := errors.New("anything")
	assert.True(t, IsAbortingAgentError(AgentRiskManager, err))
}

func TestIsAbortingAgentError_NonCriticalTypedError(t *testing.T) {
	err := &InsufficientDataError{Symbol: "AAPL", Detail: "no candles"}
	assert.True(t, IsAbortingAgentError(AgentBias, err))
}

func TestIsAbortingAgentError_WrappedMessageSubstring(t *testing.T) {
	err := errors.New("remote call failed: AuthenticationError: token expired")
	assert.True(t, IsAbortingAgentError(AgentStrategy, err))
}

func TestIsAbortingAgentError_NonCriticalUnrecognizedError(t *testing.T) {
	err := errors.New("transient timeout")
	assert.False(t, IsAbortingAgentError(AgentBias, err))
}
