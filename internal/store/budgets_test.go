package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBudget_Exceeded(t *testing.T) {
	cases := []struct {
		name   string
		budget Budget
		want   bool
	}{
		{"under both limits", Budget{DailyLossLimit: 500, DailyLossUsed: 100, DailyTradeLimit: 10, DailyTradeCount: 2}, false},
		{"loss limit hit", Budget{DailyLossLimit: 500, DailyLossUsed: 500, DailyTradeLimit: 10, DailyTradeCount: 2}, true},
		{"trade count limit hit", Budget{DailyLossLimit: 500, DailyLossUsed: 0, DailyTradeLimit: 10, DailyTradeCount: 10}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.budget.Exceeded())
		})
	}
}
