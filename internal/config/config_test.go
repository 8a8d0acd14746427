package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"news_spider/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
db:
  connection: mongodb://localhost:27017
logic:
  delay_ms: 500
  disabled_sources: [gamma]
sources:
  beta:
    listing_url: https://beta.test/news?page=%d
    priority: 2
  alpha:
    listing_url: https://alpha.test/page/%d
    first_page_url: https://alpha.test/
    start_page: -1
    mode: FULL
    max_pages: 50
    priority: 1
    cutoff_date: "2025-01-01"
  gamma:
    listing_url: https://gamma.test/%d
  delta:
    listing_url: https://delta.test/%d
    enabled: false
`

func parse(t *testing.T, data string) *config.SpiderConfig {
	t.Helper()
	t.Setenv("MONGO_URI", "")
	t.Setenv("SPIDER_MODE", "")
	cfg, err := config.Parse([]byte(data))
	require.NoError(t, err)
	return cfg
}

func TestParseDefaults(t *testing.T) {
	cfg := parse(t, sampleConfig)

	assert.Equal(t, "NEWSSCRAPERDATA", cfg.DB.Database)
	assert.Equal(t, "spider_state", cfg.DB.Collections.SpiderState)
	assert.Equal(t, "spider_history", cfg.DB.Collections.SpiderHistory)

	l := cfg.Logic
	assert.Equal(t, config.ModeIncremental, l.Mode)
	assert.Equal(t, 500*time.Millisecond, l.Delay())
	assert.Equal(t, 10*time.Second, l.Timeout())
	assert.Equal(t, 20, l.MaxRetries)
	assert.Equal(t, 6, l.MaxConcurrentWorkers)
	assert.Equal(t, time.Hour, l.SourceTimeout())
	assert.Equal(t, 5, l.MaxPages)
	assert.Equal(t, 10, l.SkipThreshold)
	assert.True(t, l.SkipLogic())
	assert.Equal(t, 5000, l.FullModeCeiling)
	assert.Equal(t, 100, l.MinBodyLength)
	assert.Equal(t, 3, l.MaxListingFailures)

	beta := cfg.Sources["beta"]
	assert.Equal(t, "beta", beta.Name)
	assert.Equal(t, "BETA", beta.Collection)
	assert.Equal(t, 1, beta.StartIndex())
}

func TestSourceOverrides(t *testing.T) {
	cfg := parse(t, sampleConfig)

	alpha := cfg.Sources["alpha"]
	assert.Equal(t, config.ModeFull, cfg.EffectiveMode(alpha))
	assert.Equal(t, 50, cfg.EffectiveMaxPages(alpha))
	assert.Equal(t, 10, cfg.EffectiveSkipThreshold(alpha))
	assert.Equal(t, -1, alpha.StartIndex())
	assert.Equal(t, "https://alpha.test/", alpha.PageURL(-1))
	assert.Equal(t, "https://alpha.test/page/2", alpha.PageURL(2))
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), alpha.Cutoff())

	beta := cfg.Sources["beta"]
	assert.Equal(t, config.ModeIncremental, cfg.EffectiveMode(beta))
	assert.True(t, beta.Cutoff().IsZero())
	assert.Equal(t, "https://beta.test/news?page=3", beta.PageURL(3))
}

func TestEnabledSources(t *testing.T) {
	cfg := parse(t, sampleConfig)

	var names []string
	for _, src := range cfg.EnabledSources() {
		names = append(names, src.Name)
	}
	assert.Equal(t, []string{"alpha", "beta"}, names)

	require.NoError(t, cfg.OnlySources([]string{"gamma"}))
	names = nil
	for _, src := range cfg.EnabledSources() {
		names = append(names, src.Name)
	}
	assert.Equal(t, []string{"gamma"}, names)

	assert.Error(t, cfg.OnlySources([]string{"nope"}))
}

func TestOverrideMode(t *testing.T) {
	cfg := parse(t, sampleConfig)

	require.NoError(t, cfg.OverrideMode("full"))
	for _, src := range cfg.Sources {
		assert.Equal(t, config.ModeFull, cfg.EffectiveMode(src))
	}
	assert.ErrorIs(t, cfg.OverrideMode("sideways"), config.ErrInvalidMode)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("MONGO_URI", "mongodb://db.internal:27017")
	t.Setenv("SPIDER_MODE", "full")

	cfg, err := config.Parse([]byte(sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "mongodb://db.internal:27017", cfg.DB.Connection)
	assert.Equal(t, config.ModeFull, cfg.Logic.Mode)
}

func TestValidate(t *testing.T) {
	t.Setenv("MONGO_URI", "")
	t.Setenv("SPIDER_MODE", "")

	tests := []struct {
		name    string
		data    string
		wantErr error
	}{
		{
			name:    "no sources",
			data:    "db: {connection: mongodb://x}\n",
			wantErr: config.ErrNoSources,
		},
		{
			name:    "bad global mode",
			data:    "db: {connection: mongodb://x}\nlogic: {mode: sideways}\nsources: {a: {listing_url: u}}\n",
			wantErr: config.ErrInvalidMode,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.data))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := config.Parse([]byte("sources: {a: {listing_url: u}}\n"))
	assert.ErrorContains(t, err, "db.connection")
}

func TestParseKeepsBadSourceNextToGoodOne(t *testing.T) {
	cfg := parse(t, `
db: {connection: mongodb://x}
sources:
  good: {listing_url: "https://good.test/%d"}
  bad: {mode: fulll}
`)

	require.Len(t, cfg.Sources, 2)
	assert.NoError(t, cfg.Sources["good"].Validate())
	assert.ErrorIs(t, cfg.Sources["bad"].Validate(), config.ErrInvalidMode)
	assert.Len(t, cfg.EnabledSources(), 2)
}

func TestSourceValidate(t *testing.T) {
	tests := []struct {
		name    string
		src     config.SourceConfig
		wantErr string
	}{
		{"valid", config.SourceConfig{Name: "a", ListingURL: "u", Mode: "full", CutoffDate: "2025-01-01"}, ""},
		{"bad mode", config.SourceConfig{Name: "a", ListingURL: "u", Mode: "nope"}, "invalid crawl mode"},
		{"no listing url", config.SourceConfig{Name: "a", Mode: "full"}, "listing_url"},
		{"bad cutoff", config.SourceConfig{Name: "a", ListingURL: "u", CutoffDate: "soon"}, "cutoff_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.src.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("MONGO_URI", "")
	t.Setenv("SPIDER_MODE", "")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	assert.Len(t, cfg.Sources, 4)

	_, err = config.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
