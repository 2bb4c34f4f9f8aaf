package dataplane

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchWithRetry_ReturnsFirstSuccess(t *testing.T) {
	calls := 0
	result, err := fetchWithRetry(context.Background(), func() (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, 1, calls)
}

func TestFetchWithRetry_GivesUpAfterThreeAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("provider down")
	_, err := fetchWithRetry(context.Background(), func() (int, error) {
		calls++
		return 0, wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls)
}

func TestFetchWithRetry_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	_, err := fetchWithRetry(ctx, func() (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	assert.Error(t, err)
}
