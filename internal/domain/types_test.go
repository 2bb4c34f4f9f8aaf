package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignal_RoutingOverride(t *testing.T) {
	s := Signal{
		Metadata: map[string]any{
			"ticker_pipelines": map[string]any{
				"AAPL": []any{map[string]any{"pipeline_id": "P1"}},
			},
		},
	}

	ids, ok := s.RoutingOverride("AAPL")
	assert.True(t, ok)
	assert.Equal(t, []string{"P1"}, ids)

	_, ok = s.RoutingOverride("MSFT")
	assert.False(t, ok)
}

func TestSignal_RoutingOverride_NoMetadata(t *testing.T) {
	s := Signal{}
	_, ok := s.RoutingOverride("AAPL")
	assert.False(t, ok)
}

func TestExecution_IsActive(t *testing.T) {
	e := &Execution{Status: StatusMonitoring}
	assert.True(t, e.IsActive())
	assert.True(t, e.IsUserActive())

	e.Status = StatusCompleted
	assert.False(t, e.IsActive())
	assert.False(t, e.IsUserActive())

	e.Status = StatusRunning
	assert.True(t, e.IsActive())
	assert.False(t, e.IsUserActive())
}
