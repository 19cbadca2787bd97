package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, "paper", c.Broker.Mode)
	assert.Equal(t, 5*time.Minute, c.Trading.DedupWindow)
	assert.Equal(t, "zepix.alerts.dlq", c.Kafka.Consumer.DLQTopic)
	assert.Equal(t, "GOLD", c.Symbols["XAUUSD"].BrokerSymbol("XAUUSD"))
	assert.Equal(t, "EURUSD", c.Symbols["EURUSD"].BrokerSymbol("EURUSD"))
}

func TestLoadOverlaysDefaults(t *testing.T) {
	t.Parallel()
	p := writeFile(t, `
environment: production
server:
  port: 9090
trading:
  dedup_window: 2m
  daily_reset_time: "00:00"
reentry:
  max_chain_levels: 4
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "production", c.Environment)
	assert.Equal(t, 9090, c.Server.Port)
	assert.Equal(t, 2*time.Minute, c.Trading.DedupWindow)
	assert.Equal(t, 4, c.Reentry.MaxChainLevels)
	// untouched keys keep their defaults
	assert.Equal(t, 30*time.Second, c.Trading.MonitorInterval)
	assert.Len(t, c.RiskTiers, 5)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Parallel()
	_, err := Load(writeFile(t, "broker:\n  mode: bridge\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker.base_url")

	_, err = Load(writeFile(t, "server: [not, a, map]\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown broker mode", func(c *Config) { c.Broker.Mode = "live" }, "broker.mode"},
		{"zero dedup window", func(c *Config) { c.Trading.DedupWindow = 0 }, "dedup_window"},
		{"bad reset clock", func(c *Config) { c.Trading.DailyResetTime = "25:99" }, "daily_reset_time"},
		{"bad timezone", func(c *Config) { c.Trading.Timezone = "Mars/Olympus" }, "timezone"},
		{"sl factor above one", func(c *Config) { c.Reentry.SLReductionPerLevel = 1.5 }, "sl_reduction_per_level"},
		{"unsorted tiers", func(c *Config) { c.RiskTiers[1].MinBalance = 0 }, "sorted"},
		{"no symbols", func(c *Config) { c.Symbols = nil }, "symbols"},
		{"kafka without brokers", func(c *Config) { c.Kafka.Enabled = true }, "kafka.brokers"},
		{"bad start offset", func(c *Config) { c.Kafka.Consumer.StartOffset = "middle" }, "start_offset"},
		{"telegram without chat", func(c *Config) { c.Telegram.Enabled = true; c.Telegram.Token = "x" }, "telegram"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := Default()
			tc.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("ZEPIX_PORT", "7070")
	t.Setenv("ZEPIX_WEBHOOK_TOKEN", "s3cret")
	t.Setenv("ZEPIX_SIMULATE_ORDERS", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("REDIS_ADDR", "redis:6379")

	c, err := LoadWithEnv("")
	require.NoError(t, err)
	assert.Equal(t, 7070, c.Server.Port)
	assert.Equal(t, "s3cret", c.Server.WebhookToken)
	assert.True(t, c.Trading.SimulateOrders)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
}

func TestMarshalLoadsBack(t *testing.T) {
	t.Parallel()
	b, err := Default().Marshal()
	require.NoError(t, err)

	c, err := Load(writeFile(t, string(b)))
	require.NoError(t, err)
	assert.Equal(t, Default().Trading, c.Trading)
	assert.Equal(t, Default().Reentry, c.Reentry)
}

func TestParseClock(t *testing.T) {
	t.Parallel()
	d, err := ParseClock("03:35")
	require.NoError(t, err)
	assert.Equal(t, 3*time.Hour+35*time.Minute, d)

	_, err = ParseClock("3pm")
	assert.Error(t, err)
}
