package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestParseRequired(t *testing.T) {
	_, err := Parse(env(map[string]string{"DATABASE_URL": "postgres://x"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ADDR")
	assert.Contains(t, err.Error(), "JWT_SECRET")
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(env(map[string]string{
		"DATABASE_URL":   "postgres://x",
		"REDIS_ADDR":     "localhost:6379",
		"JWT_SECRET":     "s",
		"ADMIN_USER_IDS": "1, 2,bad,3",
	}))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.AppPort)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, 30*time.Second, cfg.GatewayTimeout)
	assert.Equal(t, []int64{1, 2, 3}, cfg.AdminUserIDs)
	assert.False(t, cfg.Production())
}

func TestParseBotNeedsToken(t *testing.T) {
	_, err := Parse(env(map[string]string{
		"DATABASE_URL":      "postgres://x",
		"REDIS_ADDR":        "localhost:6379",
		"JWT_SECRET":        "s",
		"ADMIN_BOT_ENABLED": "true",
	}))
	require.Error(t, err)
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	assert.Equal(t, "BRL", s.Currency)
	assert.Equal(t, 3, s.Commission.Depth())
	assert.True(t, s.Commission.Rate(1).Equal(decimal.NewFromInt(10)))
	assert.True(t, s.Commission.Rate(4).IsZero())
	assert.True(t, s.Reconcile.AmountTolerance.Equal(decimal.RequireFromString("0.01")))
	assert.Equal(t, 2*time.Minute, s.Poller.MinAge)
}

func TestParseSettingsOverrides(t *testing.T) {
	s, err := ParseSettings([]byte(`
deposit:
  min: "5"
withdrawal:
  auto_dispatch: true
  window:
    enabled: true
    start_hour: 22
    end_hour: 6
commission:
  max_depth: 2
  rates: ["8", "4", "1"]
`))
	require.NoError(t, err)

	assert.True(t, s.Deposit.Min.Equal(decimal.NewFromInt(5)))
	assert.True(t, s.Deposit.Max.Equal(decimal.NewFromInt(50000)))
	assert.True(t, s.Withdrawal.AutoDispatch)
	assert.Equal(t, 2, s.Commission.Depth())

	night := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)
	noon := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	early := time.Date(2024, 1, 1, 5, 59, 0, 0, time.UTC)
	assert.True(t, s.Withdrawal.Window.Allows(night))
	assert.True(t, s.Withdrawal.Window.Allows(early))
	assert.False(t, s.Withdrawal.Window.Allows(noon))
}

func TestParseSettingsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad rate":      "commission:\n  rates: [\"abc\"]\n",
		"rate over 100": "commission:\n  rates: [\"150\"]\n",
		"negative min":  "deposit:\n  min: \"-1\"\n",
		"bad duration":  "poller:\n  min_age: soon\n",
		"bad hour":      "withdrawal:\n  window:\n    start_hour: 30\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSettings([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLimits(t *testing.T) {
	l := Limits{Min: decimal.NewFromInt(10), Max: decimal.NewFromInt(100)}
	assert.False(t, l.Allows(decimal.NewFromInt(9)))
	assert.True(t, l.Allows(decimal.NewFromInt(10)))
	assert.True(t, l.Allows(decimal.NewFromInt(100)))
	assert.False(t, l.Allows(decimal.RequireFromString("100.01")))

	open := Limits{Min: decimal.NewFromInt(1)}
	assert.True(t, open.Allows(decimal.NewFromInt(1_000_000)))
}
