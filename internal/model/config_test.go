package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	def := DefaultAppConfig()
	assert.Equal(t, def.Server.Listen, cfg.Server.Listen)
	assert.Equal(t, def.Domains, cfg.Domains)
	assert.Equal(t, time.Hour, cfg.Policy(TierFree).TTL)
	assert.Equal(t, "@every 1m", cfg.Expiry.Schedule)
}

func TestSaveLoadConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := DefaultAppConfig()
	cfg.Domains = []string{"mail.test", "other.test"}
	cfg.SMTP.Enabled = true
	cfg.Realtime.KafkaBrokers = []string{"kafka:9092"}
	cfg.Client.Address = "abc@mail.test"
	cfg.Client.AddressID = "id-1"
	p := cfg.Tiers[TierPremium]
	p.InboxCapacity = 42
	cfg.Tiers[TierPremium] = p

	require.NoError(t, SaveConfig(path, cfg))

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Domains, got.Domains)
	assert.True(t, got.SMTP.Enabled)
	assert.Equal(t, []string{"kafka:9092"}, got.Realtime.KafkaBrokers)
	assert.Equal(t, "abc@mail.test", got.Client.Address)
	assert.Equal(t, "id-1", got.Client.AddressID)
	assert.Equal(t, 42, got.Policy(TierPremium).InboxCapacity)
	assert.Equal(t, 24*time.Hour, got.Policy(TierPremium).TTL)
}

func TestLoadConfig_PartialTierAndDomains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
domains:
  - " Mail.Example.COM "
tiers:
  premium:
    inbox_capacity: 7
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"mail.example.com"}, cfg.Domains)

	premium := cfg.Policy(TierPremium)
	assert.Equal(t, 7, premium.InboxCapacity)
	assert.Equal(t, 24*time.Hour, premium.TTL)
	assert.Equal(t, int64(25<<20), premium.MaxMessageBytes)
	assert.Equal(t, time.Hour, cfg.Policy(TierFree).TTL)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("TEMPMAIL_SERVER_LISTEN", ":9999")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Listen)
}

func TestPolicy_UnknownTierFallsBackToFree(t *testing.T) {
	cfg := DefaultAppConfig()
	assert.Equal(t, cfg.Tiers[TierFree], cfg.Policy(Tier("gold")))
}
