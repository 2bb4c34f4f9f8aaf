package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyConstruction(t *testing.T) {
	assert.Equal(t, "quote:AAPL", quoteKey("AAPL"))
	assert.Equal(t, "candles:5m:AAPL", candleKey("5m", "AAPL"))
	assert.Equal(t, "indicators:AAPL:1h:RSI:14", indicatorKey("AAPL", "1h", "RSI", "14"))
}

func TestNew_RejectsInvalidURL(t *testing.T) {
	_, err := New("not-a-url://::")
	assert.Error(t, err)
}
