package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/parse"
	"github.com/Sriram-PR/sitemap-builder/pkg/utils"
)

// DefaultExcludeQueryParams mark faceted or internal-search URLs that must never be listed
var DefaultExcludeQueryParams = []string{"sort", "order", "filter", "filters", "facet", "q", "search"}

// DefaultDisallowedPathPatterns exclude search, admin, staging, session and scratch pages
var DefaultDisallowedPathPatterns = []string{
	`^/(recherche|search)(/|$)`,
	`^/(admin|backoffice)(/|$)`,
	`^/(staging|preprod)(/|$)`,
	`(^|/)(session|sessions)(/|$)`,
	`(^|/)(tmp|temp|draft|brouillon|test)(/|$)`,
}

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// BaseURL
	if c.BaseURL == "" {
		return nil, fmt.Errorf("%w: base_url is required", utils.ErrConfigValidation)
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("%w: base_url '%s' must be an absolute http(s) URL", utils.ErrConfigValidation, c.BaseURL)
	}

	// OutputDir
	if c.OutputDir == "" {
		warnings = append(warnings, "output_dir is empty, defaulting to './sitemaps'")
		c.OutputDir = "./sitemaps"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to './sitemap_state'")
		c.StateDir = "./sitemap_state"
	}

	warnings = append(warnings, c.validateFetch()...)
	warnings = append(warnings, c.validateCompression()...)

	w, err := c.validateHygiene(base)
	warnings = append(warnings, w...)
	if err != nil {
		return warnings, err
	}

	if err := c.validateHreflang(); err != nil {
		return warnings, err
	}

	w, err = c.validateImagesAndDelta(base)
	warnings = append(warnings, w...)
	if err != nil {
		return warnings, err
	}

	// Catalog
	if c.Catalog.Driver == "" {
		c.Catalog.Driver = "sqlite"
	}
	if c.Catalog.DSN == "" {
		c.Catalog.DSN = filepath.Join(c.StateDir, "catalog.db")
		warnings = append(warnings, fmt.Sprintf("catalog.dsn is empty, defaulting to '%s'", c.Catalog.DSN))
	}

	// Publish
	if c.Publish.Enabled {
		if c.Publish.Endpoint == "" || c.Publish.Bucket == "" {
			return warnings, fmt.Errorf("%w: publish needs endpoint and bucket when enabled", utils.ErrConfigValidation)
		}
		if c.Publish.Region == "" {
			c.Publish.Region = "us-east-1"
		}
	}

	// Schedule
	if c.Schedule.DeltaEmitInterval == "" {
		c.Schedule.DeltaEmitInterval = "24h"
	}
	if c.Schedule.CleanupInterval == "" {
		c.Schedule.CleanupInterval = "24h"
	}

	// Nodes are validated structurally by the registry
	if len(c.Nodes) == 0 {
		return warnings, fmt.Errorf("%w: no sitemap nodes declared", utils.ErrConfigValidation)
	}
	if c.RootNode == "" {
		c.RootNode = c.Nodes[0].Name
	}

	return warnings, nil
}

func (c *AppConfig) validateFetch() (warnings []string) {
	f := &c.Fetch
	if f.PageSize <= 0 {
		warnings = append(warnings, "fetch.page_size should be > 0, defaulting to 1000")
		f.PageSize = 1000
	}
	if f.ShardConcurrency <= 0 {
		warnings = append(warnings, "fetch.shard_concurrency should be > 0, defaulting to 4")
		f.ShardConcurrency = 4
	}
	if f.PageTimeout <= 0 {
		f.PageTimeout = 30 * time.Second
	}

	// MaxRetries
	if f.MaxRetries < 0 {
		warnings = append(warnings, "fetch.max_retries cannot be negative, setting to 0")
		f.MaxRetries = 0
	}
	if f.MaxRetries == 0 && f.InitialRetryDelay == 0 {
		f.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if f.MaxRetries > 0 {
		if f.InitialRetryDelay <= 0 {
			f.InitialRetryDelay = 500 * time.Millisecond
		}
		if f.MaxRetryDelay <= 0 {
			f.MaxRetryDelay = 10 * time.Second
		}
	}
	if f.InitialRetryDelay > f.MaxRetryDelay && f.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"fetch.initial_retry_delay (%v) > fetch.max_retry_delay (%v), using max_retry_delay for initial",
			f.InitialRetryDelay, f.MaxRetryDelay))
		f.InitialRetryDelay = f.MaxRetryDelay
	}

	// Rate limiting
	if f.RatePerSecond < 0 {
		warnings = append(warnings, "fetch.rate_per_second cannot be negative, disabling rate limit")
		f.RatePerSecond = 0
	}
	if f.RatePerSecond > 0 && f.Burst <= 0 {
		f.Burst = 1
	}
	return warnings
}

func (c *AppConfig) validateCompression() (warnings []string) {
	z := &c.Compression
	if z.Level == 0 {
		warnings = append(warnings, "compression.level not specified, defaulting to 6")
		z.Level = 6
	} else if z.Level < 1 || z.Level > 9 {
		warnings = append(warnings, fmt.Sprintf("compression.level %d out of range 1-9, defaulting to 6", z.Level))
		z.Level = 6
	}
	if z.Workers <= 0 {
		z.Workers = runtime.NumCPU()
	}
	if z.MaxURLsPerFile <= 0 || z.MaxURLsPerFile > parse.MaxURLsPerFile {
		if z.MaxURLsPerFile != 0 {
			warnings = append(warnings, fmt.Sprintf("compression.max_urls_per_file %d out of range, defaulting to %d",
				z.MaxURLsPerFile, parse.MaxURLsPerFile))
		}
		z.MaxURLsPerFile = parse.MaxURLsPerFile
	}
	return warnings
}

func (c *AppConfig) validateHygiene(base *url.URL) (warnings []string, err error) {
	h := &c.Hygiene
	if h.CanonicalHost == "" {
		h.CanonicalHost = base.Hostname()
	}
	if h.TrailingSlash == "" {
		h.TrailingSlash = parse.TrailingSlashAppend
	} else if !h.TrailingSlash.IsValid() {
		return nil, fmt.Errorf("%w: hygiene.trailing_slash '%s' must be append, strip or keep",
			utils.ErrConfigValidation, h.TrailingSlash)
	}
	if h.StripQueryParams == nil {
		h.StripQueryParams = parse.DefaultStripParams
	}
	if h.ExcludeQueryParams == nil {
		h.ExcludeQueryParams = DefaultExcludeQueryParams
	}
	if h.DisallowedPathPatterns == nil {
		h.DisallowedPathPatterns = DefaultDisallowedPathPatterns
	}
	if _, err := utils.CompileRegexPatterns(h.DisallowedPathPatterns); err != nil {
		return nil, fmt.Errorf("%w: hygiene.disallowed_path_patterns: %w", utils.ErrConfigValidation, err)
	}

	if h.MinWords < 0 || h.MinChars < 0 || h.MinInternalLinks < 0 || h.MinTextHTMLRatio < 0 {
		warnings = append(warnings, "hygiene content thresholds cannot be negative, clamping to 0")
		h.MinWords = max(h.MinWords, 0)
		h.MinChars = max(h.MinChars, 0)
		h.MinInternalLinks = max(h.MinInternalLinks, 0)
		h.MinTextHTMLRatio = max(h.MinTextHTMLRatio, 0)
	}
	if h.MinTextHTMLRatio > 1 {
		warnings = append(warnings, "hygiene.min_text_html_ratio > 1 can never be met, clamping to 1")
		h.MinTextHTMLRatio = 1
	}
	if h.StrongLinkingThreshold <= 0 {
		h.StrongLinkingThreshold = 5
	}
	if h.UserAgent == "" {
		h.UserAgent = "Googlebot"
	}
	return warnings, nil
}

func (c *AppConfig) validateHreflang() error {
	h := &c.Hreflang
	if !h.Enabled {
		return nil
	}
	if len(h.Locales) == 0 {
		return fmt.Errorf("%w: hreflang enabled without locales", utils.ErrConfigValidation)
	}

	known := make(map[string]bool, len(h.Locales))
	for _, l := range h.Locales {
		if l.Code == "" || l.Code == "x-default" {
			return fmt.Errorf("%w: hreflang locale code '%s' is reserved or empty", utils.ErrConfigValidation, l.Code)
		}
		if known[l.Code] {
			return fmt.Errorf("%w: hreflang locale '%s' declared twice", utils.ErrConfigValidation, l.Code)
		}
		known[l.Code] = true
	}

	if h.DefaultLocale == "" {
		h.DefaultLocale = h.Locales[0].Code
	}
	if !known[h.DefaultLocale] {
		return fmt.Errorf("%w: hreflang default_locale '%s' is not a declared locale", utils.ErrConfigValidation, h.DefaultLocale)
	}

	for ct, codes := range h.ContentTypes {
		if !ct.IsValid() {
			return fmt.Errorf("%w: hreflang content type '%s' is unknown", utils.ErrConfigValidation, ct)
		}
		for _, code := range codes {
			if !known[code] {
				return fmt.Errorf("%w: hreflang content type '%s' lists unknown locale '%s'", utils.ErrConfigValidation, ct, code)
			}
		}
	}
	return nil
}

func (c *AppConfig) validateImagesAndDelta(base *url.URL) (warnings []string, err error) {
	img := &c.Images
	if img.MaxImages <= 0 {
		img.MaxImages = 5
	}
	if img.CDNBaseURL == "" {
		img.CDNBaseURL = base.Scheme + "://" + base.Host
	}
	if img.CaptionSuffix == "" {
		img.CaptionSuffix = " | " + base.Hostname()
	}

	d := &c.Delta
	if d.RetentionDays <= 0 {
		d.RetentionDays = 30
	}
	if d.Priority == 0 {
		d.Priority = 0.8
	}
	if d.Priority < 0 || d.Priority > 1 {
		return warnings, fmt.Errorf("%w: delta.priority %v outside [0,1]", utils.ErrConfigValidation, d.Priority)
	}
	if d.Filename == "" {
		d.Filename = "sitemap-latest.xml"
	}
	switch d.Store {
	case "":
		d.Store = "badger"
	case "badger", "memory":
	default:
		return warnings, fmt.Errorf("%w: delta.store '%s' must be badger or memory", utils.ErrConfigValidation, d.Store)
	}
	if d.Store == "memory" {
		warnings = append(warnings, "delta.store is 'memory', fingerprints are lost on restart")
	}
	return warnings, nil
}

// NodeByName returns the node declaration with the given name
func (c *AppConfig) NodeByName(name string) (NodeConfig, bool) {
	for _, n := range c.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return NodeConfig{}, false
}

// FinalNodesForEntity returns the FINAL nodes listing the given entity
func (c *AppConfig) FinalNodesForEntity(e models.EntityKind) []NodeConfig {
	var out []NodeConfig
	for _, n := range c.Nodes {
		if n.Kind == models.NodeKindFinal && n.Entity == e {
			out = append(out, n)
		}
	}
	return out
}
