package helpers

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsInvalidCredentials(t *testing.T) {
	cases := map[string]bool{
		`{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`: true,
		`{"code":-2014,"msg":"API-key format invalid."}`:                         true,
		"retCode=10003: API key is invalid.":                                     true,
		"invalid signature":                                                      true,
		"connection reset by peer":                                               false,
		`{"code":-1121,"msg":"Invalid symbol."}`:                                 false,
	}
	for msg, want := range cases {
		assert.Equal(t, want, IsInvalidCredentials(errors.New(msg)), msg)
	}
	assert.False(t, IsInvalidCredentials(nil))
}

func TestErrorTypesUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := NewExchangeError("binance /api/v3/time", cause)

	var exErr *ExchangeError
	require.True(t, errors.As(err, &exErr))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "binance /api/v3/time: root", err.Error())

	var dbErr *DatabaseError
	assert.False(t, errors.As(err, &dbErr))
}

func TestRetryWithBackoff(t *testing.T) {
	calls := 0
	err := RetryWithBackoff(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = RetryWithBackoff(context.Background(), 2, time.Millisecond, func() error {
		calls++
		return errors.New("always")
	})
	assert.EqualError(t, err, "always")
	assert.Equal(t, 2, calls)
}

func TestRetryWithBackoffStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RetryWithBackoff(ctx, 5, time.Hour, func() error { return errors.New("down") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestProxyManagerRotation(t *testing.T) {
	pm := NewProxyManager([]string{"10.0.0.1:3128", "", "socks5://10.0.0.2:1080", "ftp://bad"}, "", nil)

	require.True(t, pm.HasProxies())
	first, err := pm.GetCurrentProxy()
	require.NoError(t, err)
	assert.Equal(t, "http://10.0.0.1:3128", first)

	pm.RotateProxy()
	second, _ := pm.GetCurrentProxy()
	assert.Equal(t, "socks5://10.0.0.2:1080", second)

	pm.RotateProxy()
	again, _ := pm.GetCurrentProxy()
	assert.Equal(t, first, again)
	assert.Equal(t, defaultUserAgent, pm.GetUserAgent())
}

func TestGetRecommendedMemoryLimit(t *testing.T) {
	limit, ok := GetRecommendedMemoryLimit()
	if !ok {
		assert.Equal(t, minMemoryLimitMB, limit)
		return
	}
	assert.Positive(t, limit)
	assert.LessOrEqual(t, limit, max(GetAvailableMemoryMB(), minMemoryLimitMB))
}
