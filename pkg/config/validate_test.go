package config

import (
	"strings"
	"testing"
	"time"

	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/parse"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minimalConfig() AppConfig {
	return AppConfig{
		BaseURL: "https://www.example.com",
		Nodes:   []NodeConfig{{Name: "root", Kind: models.NodeKindFinal, Entity: models.EntityStatic}},
	}
}

func TestAppConfig_Validate_Defaults(t *testing.T) {
	cfg := minimalConfig()
	warnings, err := cfg.Validate()

	require.NoError(t, err)

	// Check defaults applied
	assert.Equal(t, "./sitemaps", cfg.OutputDir)
	assert.Equal(t, "./sitemap_state", cfg.StateDir)
	assert.Equal(t, "root", cfg.RootNode)

	assert.Equal(t, 1000, cfg.Fetch.PageSize)
	assert.Equal(t, 4, cfg.Fetch.ShardConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Fetch.PageTimeout)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Fetch.InitialRetryDelay)
	assert.Equal(t, 10*time.Second, cfg.Fetch.MaxRetryDelay)

	assert.Equal(t, 6, cfg.Compression.Level)
	assert.Positive(t, cfg.Compression.Workers)
	assert.Equal(t, 50000, cfg.Compression.MaxURLsPerFile)

	assert.Equal(t, "www.example.com", cfg.Hygiene.CanonicalHost)
	assert.Equal(t, parse.TrailingSlashAppend, cfg.Hygiene.TrailingSlash)
	assert.Equal(t, parse.DefaultStripParams, cfg.Hygiene.StripQueryParams)
	assert.Equal(t, DefaultExcludeQueryParams, cfg.Hygiene.ExcludeQueryParams)
	assert.Equal(t, DefaultDisallowedPathPatterns, cfg.Hygiene.DisallowedPathPatterns)
	assert.Equal(t, 5, cfg.Hygiene.StrongLinkingThreshold)
	assert.Equal(t, "Googlebot", cfg.Hygiene.UserAgent)

	assert.Equal(t, 5, cfg.Images.MaxImages)
	assert.Equal(t, "https://www.example.com", cfg.Images.CDNBaseURL)
	assert.Equal(t, " | www.example.com", cfg.Images.CaptionSuffix)

	assert.Equal(t, 30, cfg.Delta.RetentionDays)
	assert.Equal(t, 0.8, cfg.Delta.Priority)
	assert.Equal(t, "sitemap-latest.xml", cfg.Delta.Filename)
	assert.Equal(t, "badger", cfg.Delta.Store)
	assert.True(t, cfg.Delta.ShouldClearAfterEmit())

	assert.Equal(t, "sqlite", cfg.Catalog.Driver)
	assert.Equal(t, "sitemap_state/catalog.db", cfg.Catalog.DSN)
	assert.Equal(t, "24h", cfg.Schedule.DeltaEmitInterval)

	// Check warnings generated
	assert.True(t, containsWarning(warnings, "output_dir is empty"))
	assert.True(t, containsWarning(warnings, "state_dir is empty"))
	assert.True(t, containsWarning(warnings, "fetch.page_size should be > 0"))
	assert.True(t, containsWarning(warnings, "compression.level not specified"))
	assert.True(t, containsWarning(warnings, "catalog.dsn is empty"))
}

func TestAppConfig_Validate_ValidConfig(t *testing.T) {
	cfg := minimalConfig()
	cfg.OutputDir = "/out"
	cfg.StateDir = "/state"
	cfg.Fetch = FetchConfig{PageSize: 500, ShardConcurrency: 8, MaxRetries: 5, InitialRetryDelay: time.Second, MaxRetryDelay: time.Minute}
	cfg.Compression = CompressionConfig{Level: 9, Workers: 2, MaxURLsPerFile: 1000}
	cfg.Catalog = CatalogConfig{Driver: "sqlite", DSN: "/data/catalog.db"}

	warnings, err := cfg.Validate()

	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 500, cfg.Fetch.PageSize)
	assert.Equal(t, 9, cfg.Compression.Level)
	assert.Equal(t, 1000, cfg.Compression.MaxURLsPerFile)
}

func TestAppConfig_Validate_Warnings(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*AppConfig)
		wantWarning string
		check       func(*testing.T, *AppConfig)
	}{
		{
			name: "negative max_retries",
			setup: func(c *AppConfig) {
				c.Fetch.MaxRetries = -1
				c.Fetch.InitialRetryDelay = time.Second // Prevent default of 3 retries
			},
			wantWarning: "fetch.max_retries cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, 0, c.Fetch.MaxRetries)
			},
		},
		{
			name: "retry delay inversion",
			setup: func(c *AppConfig) {
				c.Fetch.MaxRetries = 3
				c.Fetch.InitialRetryDelay = time.Minute
				c.Fetch.MaxRetryDelay = 10 * time.Second
			},
			wantWarning: "fetch.initial_retry_delay",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, 10*time.Second, c.Fetch.InitialRetryDelay)
			},
		},
		{
			name:        "negative rate",
			setup:       func(c *AppConfig) { c.Fetch.RatePerSecond = -2 },
			wantWarning: "fetch.rate_per_second cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Zero(t, c.Fetch.RatePerSecond)
			},
		},
		{
			name:        "compression level out of range",
			setup:       func(c *AppConfig) { c.Compression.Level = 12 },
			wantWarning: "compression.level 12 out of range",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, 6, c.Compression.Level)
			},
		},
		{
			name:        "max urls above sitemap ceiling",
			setup:       func(c *AppConfig) { c.Compression.MaxURLsPerFile = 80000 },
			wantWarning: "compression.max_urls_per_file 80000 out of range",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, 50000, c.Compression.MaxURLsPerFile)
			},
		},
		{
			name:        "negative content thresholds",
			setup:       func(c *AppConfig) { c.Hygiene.MinWords = -5 },
			wantWarning: "hygiene content thresholds cannot be negative",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, 0, c.Hygiene.MinWords)
			},
		},
		{
			name:        "memory delta store",
			setup:       func(c *AppConfig) { c.Delta.Store = "memory" },
			wantWarning: "fingerprints are lost on restart",
			check: func(t *testing.T, c *AppConfig) {
				assert.Equal(t, "memory", c.Delta.Store)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalConfig()
			tt.setup(&cfg)

			warnings, err := cfg.Validate()

			require.NoError(t, err)
			assert.True(t, containsWarning(warnings, tt.wantWarning),
				"expected warning containing %q, got %v", tt.wantWarning, warnings)
			tt.check(t, &cfg)
		})
	}
}

func TestAppConfig_Validate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*AppConfig)
		wantErr string
	}{
		{
			name:    "missing base_url",
			setup:   func(c *AppConfig) { c.BaseURL = "" },
			wantErr: "base_url is required",
		},
		{
			name:    "relative base_url",
			setup:   func(c *AppConfig) { c.BaseURL = "/shop" },
			wantErr: "must be an absolute http(s) URL",
		},
		{
			name:    "bad trailing slash policy",
			setup:   func(c *AppConfig) { c.Hygiene.TrailingSlash = "sometimes" },
			wantErr: "hygiene.trailing_slash",
		},
		{
			name:    "bad disallowed pattern",
			setup:   func(c *AppConfig) { c.Hygiene.DisallowedPathPatterns = []string{"(unclosed"} },
			wantErr: "invalid regex pattern",
		},
		{
			name:    "hreflang without locales",
			setup:   func(c *AppConfig) { c.Hreflang.Enabled = true },
			wantErr: "hreflang enabled without locales",
		},
		{
			name: "hreflang unknown default locale",
			setup: func(c *AppConfig) {
				c.Hreflang = HreflangConfig{Enabled: true, DefaultLocale: "de", Locales: []LocaleConfig{{Code: "fr"}}}
			},
			wantErr: "default_locale 'de'",
		},
		{
			name: "hreflang duplicate locale",
			setup: func(c *AppConfig) {
				c.Hreflang = HreflangConfig{Enabled: true, Locales: []LocaleConfig{{Code: "fr"}, {Code: "fr"}}}
			},
			wantErr: "declared twice",
		},
		{
			name: "hreflang content type with unknown locale",
			setup: func(c *AppConfig) {
				c.Hreflang = HreflangConfig{
					Enabled:      true,
					Locales:      []LocaleConfig{{Code: "fr"}},
					ContentTypes: map[models.ContentType][]string{models.ContentTypeBlog: {"fr", "es"}},
				}
			},
			wantErr: "unknown locale 'es'",
		},
		{
			name:    "delta priority out of range",
			setup:   func(c *AppConfig) { c.Delta.Priority = 1.5 },
			wantErr: "delta.priority",
		},
		{
			name:    "unknown delta store",
			setup:   func(c *AppConfig) { c.Delta.Store = "redis" },
			wantErr: "delta.store 'redis'",
		},
		{
			name:    "publish without bucket",
			setup:   func(c *AppConfig) { c.Publish = PublishConfig{Enabled: true, Endpoint: "s3.local:9000"} },
			wantErr: "publish needs endpoint and bucket",
		},
		{
			name:    "no nodes",
			setup:   func(c *AppConfig) { c.Nodes = nil },
			wantErr: "no sitemap nodes declared",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalConfig()
			tt.setup(&cfg)

			_, err := cfg.Validate()

			require.Error(t, err)
			assert.ErrorIs(t, err, utils.ErrConfigValidation)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAppConfig_Validate_HreflangDefaultLocale(t *testing.T) {
	cfg := minimalConfig()
	cfg.Hreflang = HreflangConfig{
		Enabled: true,
		Locales: []LocaleConfig{{Code: "fr"}, {Code: "en", PathPrefix: "/en"}},
	}

	_, err := cfg.Validate()

	require.NoError(t, err)
	assert.Equal(t, "fr", cfg.Hreflang.DefaultLocale)
}

func containsWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}
