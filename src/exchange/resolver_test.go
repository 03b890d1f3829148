package exchange

import (
	"errors"
	"testing"

	"market-fanout/src/exchange/simulated"
	"market-fanout/src/interfaces"
	"market-fanout/src/logger"
	"market-fanout/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newResolver() (*Resolver, *int) {
	cfg := &models.MConfig{Exchange: models.MExchangeConfig{
		ActiveProvider:    "sim",
		Providers:         []models.MProviderConfig{{Name: "sim", BaseURL: "http://sim"}},
		PollOnlyTickers:   []string{"sim"},
		StrictCredentials: []string{"other"},
	}}
	r := NewResolver(cfg, logger.NewNop())
	built := 0
	r.Register("sim", func(pc models.MProviderConfig) (interfaces.IExchange, error) {
		built++
		if pc.BaseURL != "http://sim" || pc.Name != "sim" {
			return nil, errors.New("unexpected provider config")
		}
		return simulated.New(0), nil
	})
	return r, &built
}

func TestStartCachesInstance(t *testing.T) {
	r, built := newResolver()

	a, err := r.Start("sim")
	require.NoError(t, err)
	b, err := r.Start("sim")
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, 1, *built)
}

func TestResetClosesAndRebuilds(t *testing.T) {
	r, built := newResolver()

	a, err := r.Start("sim")
	require.NoError(t, err)
	r.Reset("sim")

	_, err = a.FetchTime(t.Context())
	assert.ErrorIs(t, err, simulated.ErrClosed)

	b, err := r.Start("sim")
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, 2, *built)
}

func TestUnknownProvider(t *testing.T) {
	r, _ := newResolver()

	_, err := r.Start("kraken")
	assert.ErrorIs(t, err, ErrUnknownProvider)
	assert.ErrorIs(t, r.SetActiveProvider("kraken"), ErrUnknownProvider)
	assert.Equal(t, "sim", r.ActiveProvider())
}

func TestProviderQuirks(t *testing.T) {
	r, _ := newResolver()

	assert.True(t, r.PollOnlyTickers("sim"))
	assert.False(t, r.StrictCredentials("sim"))
	assert.True(t, r.StrictCredentials("other"))
}

func TestFactoryErrorIsNotCached(t *testing.T) {
	r, _ := newResolver()
	fail := true
	r.Register("flaky", func(models.MProviderConfig) (interfaces.IExchange, error) {
		if fail {
			return nil, errors.New("boom")
		}
		return simulated.New(0), nil
	})

	_, err := r.Start("flaky")
	require.Error(t, err)

	fail = false
	_, err = r.Start("flaky")
	assert.NoError(t, err)
}
