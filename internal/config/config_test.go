package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
tinkoff:
  token: t-file
  sandbox: true
llm:
  api_key: sk-file
strategy:
  instruments: [" sber ", "gazp"]
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"SBER", "GAZP"}, cfg.Strategy.Instruments)
	assert.Equal(t, 0.75, cfg.Risk.RiskPerPositionPct)
	assert.Equal(t, 6, cfg.Risk.MaxPositions)
	assert.Equal(t, 6.0, cfg.Risk.DrawdownKillSwitchPct)
	assert.Equal(t, 0.70, cfg.Strategy.HypeLongThreshold)
	assert.Equal(t, 0.30, cfg.Strategy.HypeShortThreshold)
	assert.Equal(t, 0.65, cfg.Strategy.MinConfidence)
	assert.Equal(t, 5.0, cfg.Strategy.MinPrice)
	assert.Equal(t, 2, cfg.Strategy.EarningsBlackoutDays)
	assert.Equal(t, 5*time.Minute, cfg.Interval())
	assert.Equal(t, 30*time.Second, cfg.BackoffBase())
	assert.Equal(t, 16*time.Minute, cfg.BackoffMax())
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "broker", cfg.Market.Provider)
	assert.True(t, cfg.IsSandbox())
}

func TestEnvironmentOverridesSecrets(t *testing.T) {
	t.Setenv("TINKOFF_TOKEN", "t-env")
	t.Setenv("LLM_API_KEY", "sk-env")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "t-env", cfg.Tinkoff.Token)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg, err := Read(writeConfig(t, `
risk:
  reward_risk_multiple: 3
scheduler:
  interval: 10s
market:
  provider: bloomberg
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "tinkoff.token is required")
	assert.Contains(t, msg, "llm.api_key is required")
	assert.Contains(t, msg, "strategy.instruments or strategy.universe_top is required")
	assert.Contains(t, msg, "risk.reward_risk_multiple must be in [1.5,2.0]")
	assert.Contains(t, msg, "scheduler.interval must be at least 1m")
	assert.Contains(t, msg, "market.provider must be broker or yahoo")
}

func TestValidateTelegram(t *testing.T) {
	cfg, err := Read(writeConfig(t, minimalYAML+`
telegram:
  enabled: true
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram.bot_token is required")
	assert.Contains(t, err.Error(), "telegram.chat_id is required")
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("18:50")
	require.NoError(t, err)
	assert.Equal(t, 1130, m)

	_, err = ParseClock("25:00")
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestInstrumentRetriesCanBeDisabled(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Execution.InstrumentRetries)

	cfg, err = Load(writeConfig(t, minimalYAML+`
execution:
  instrument_retries: 0
`))
	require.NoError(t, err)
	assert.Zero(t, cfg.Execution.InstrumentRetries)
	assert.Equal(t, 5, cfg.Execution.MaxRetries)
}
