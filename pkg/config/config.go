package config

import (
	"time"

	"github.com/Sriram-PR/sitemap-builder/pkg/models"
	"github.com/Sriram-PR/sitemap-builder/pkg/parse"
)

// AppConfig holds the global application configuration
type AppConfig struct {
	BaseURL     string            `yaml:"base_url"`               // Public origin every <loc> is built on
	OutputDir   string            `yaml:"output_dir"`             // Where sitemap files are written
	StateDir    string            `yaml:"state_dir"`              // Badger hash store and scheduler state
	MetricsAddr string            `yaml:"metrics_addr,omitempty"` // Prometheus listener, empty disables it
	RootNode    string            `yaml:"root_node,omitempty"`    // Node generated when none is named
	Fetch       FetchConfig       `yaml:"fetch"`
	Compression CompressionConfig `yaml:"compression"`
	Hygiene     HygieneConfig     `yaml:"hygiene"`
	Hreflang    HreflangConfig    `yaml:"hreflang"`
	Images      ImageConfig       `yaml:"images"`
	Delta       DeltaConfig       `yaml:"delta"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Publish     PublishConfig     `yaml:"publish,omitempty"`
	Schedule    ScheduleConfig    `yaml:"schedule,omitempty"`
	Nodes       []NodeConfig      `yaml:"nodes"`
}

// FetchConfig bounds how hard the generator pulls from the data source
type FetchConfig struct {
	PageSize          int           `yaml:"page_size"`
	ShardConcurrency  int           `yaml:"shard_concurrency"`            // Shards fetched at once across all nodes
	PageTimeout       time.Duration `yaml:"page_timeout"`                 // Per page, exceeding it fails the shard
	MaxRetries        int           `yaml:"max_retries,omitempty"`        // Per page
	InitialRetryDelay time.Duration `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay,omitempty"`
	RatePerSecond     float64       `yaml:"rate_per_second,omitempty"` // 0 = unlimited
	Burst             int           `yaml:"burst,omitempty"`
}

// CompressionConfig controls the streaming emitter
type CompressionConfig struct {
	Level          int `yaml:"level"`             // gzip level 1-9
	Workers        int `yaml:"workers,omitempty"` // Defaults to the number of CPUs
	MaxURLsPerFile int `yaml:"max_urls_per_file,omitempty"`
}

// HygieneConfig holds URL normalization and inclusion rules
type HygieneConfig struct {
	CanonicalHost          string                    `yaml:"canonical_host,omitempty"` // Defaults to the base_url host
	TrailingSlash          parse.TrailingSlashPolicy `yaml:"trailing_slash,omitempty"`
	StripQueryParams       []string                  `yaml:"strip_query_params,omitempty"`   // Removed during normalization
	ExcludeQueryParams     []string                  `yaml:"exclude_query_params,omitempty"` // Presence on the raw URL excludes it
	DisallowedPathPatterns []string                  `yaml:"disallowed_path_patterns,omitempty"`
	MinWords               int                       `yaml:"min_words,omitempty"`
	MinChars               int                       `yaml:"min_chars,omitempty"`
	MinInternalLinks       int                       `yaml:"min_internal_links,omitempty"`
	MinTextHTMLRatio       float64                   `yaml:"min_text_html_ratio,omitempty"`
	StrongLinkingThreshold int                       `yaml:"strong_linking_threshold,omitempty"` // Inbound links for "strong internal linking"
	RobotsTxtPath          string                    `yaml:"robots_txt_path,omitempty"`
	UserAgent              string                    `yaml:"user_agent,omitempty"` // Agent robots.txt rules are tested against
}

// HreflangConfig declares the locales alternates are emitted for
type HreflangConfig struct {
	Enabled       bool                            `yaml:"enabled"`
	DefaultLocale string                          `yaml:"default_locale,omitempty"`
	Locales       []LocaleConfig                  `yaml:"locales,omitempty"`
	ContentTypes  map[models.ContentType][]string `yaml:"content_types,omitempty"` // Locale whitelist per content type
	EmitVariants  bool                            `yaml:"emit_variants,omitempty"` // Also list each localized URL as its own <url>
}

// LocaleConfig maps an hreflang code to the path prefix serving it
type LocaleConfig struct {
	Code       string `yaml:"code"`
	PathPrefix string `yaml:"path_prefix,omitempty"` // Empty for the default locale
}

// ImageConfig controls product image annotation
type ImageConfig struct {
	MaxImages     int    `yaml:"max_images,omitempty"`
	CDNBaseURL    string `yaml:"cdn_base_url,omitempty"` // Stable public origin for image keys
	CaptionSuffix string `yaml:"caption_suffix,omitempty"`
	License       string `yaml:"license,omitempty"`
}

// DeltaConfig controls change tracking and the incremental sitemap
type DeltaConfig struct {
	RetentionDays                 int     `yaml:"retention_days,omitempty"`
	ClearAfterEmit                *bool   `yaml:"clear_after_emit,omitempty"`
	Priority                      float64 `yaml:"priority,omitempty"`
	Filename                      string  `yaml:"filename,omitempty"`
	TreatAllChangedOnStoreFailure bool    `yaml:"treat_all_changed_on_store_failure,omitempty"`
	ClassifyChanges               bool    `yaml:"classify_changes,omitempty"` // Report PRICE/STOCK/METADATA/CANONICAL instead of CONTENT_CHANGED
	Store                         string  `yaml:"store,omitempty"`            // "badger" or "memory"
}

// CatalogConfig locates the catalog database
type CatalogConfig struct {
	Driver string `yaml:"driver,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
}

// PublishConfig uploads generated files to S3-compatible storage
type PublishConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint,omitempty"`
	Bucket          string `yaml:"bucket,omitempty"`
	Prefix          string `yaml:"prefix,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"` // Falls back to AWS_* environment variables
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	UseSSL          bool   `yaml:"use_ssl,omitempty"`
	Region          string `yaml:"region,omitempty"`
}

// ScheduleConfig holds intervals for the watch command ("30m", "24h", "7d")
type ScheduleConfig struct {
	DeltaEmitInterval  string   `yaml:"delta_emit_interval,omitempty"`
	CleanupInterval    string   `yaml:"cleanup_interval,omitempty"`
	RegenerateInterval string   `yaml:"regenerate_interval,omitempty"` // Empty disables regeneration
	RegenerateNodes    []string `yaml:"regenerate_nodes,omitempty"`
}

// NodeConfig declares one node of the sitemap tree
type NodeConfig struct {
	Name                   string            `yaml:"name"`
	Kind                   models.NodeKind   `yaml:"kind"`
	Path                   string            `yaml:"path,omitempty"` // Relative to output_dir
	Children               []string          `yaml:"children,omitempty"`
	Strategy               string            `yaml:"sharding_strategy,omitempty"`
	Shards                 []ShardConfig     `yaml:"shards,omitempty"`
	Entity                 models.EntityKind `yaml:"entity,omitempty"`
	ContentType            string            `yaml:"content_type,omitempty"` // Defaults from entity
	ChangeFreq             string            `yaml:"changefreq,omitempty"`
	Priority               *float64          `yaml:"priority,omitempty"`
	CacheTTL               time.Duration     `yaml:"cache_ttl,omitempty"` // Skip regeneration while output is younger
	Compress               *bool             `yaml:"compress,omitempty"`
	AllowOverlappingShards bool              `yaml:"allow_overlapping_shards,omitempty"`
}

// ShardConfig declares one shard. Which fields apply depends on the node's strategy.
type ShardConfig struct {
	Name           string `yaml:"name"`
	Path           string `yaml:"path,omitempty"`
	Pattern        string `yaml:"pattern,omitempty"`   // alphabetic
	Min            *int64 `yaml:"min,omitempty"`       // numeric, inclusive
	Max            *int64 `yaml:"max,omitempty"`       // numeric, exclusive
	Year           int    `yaml:"year,omitempty"`      // temporal
	Offset         int64  `yaml:"offset,omitempty"`    // offset
	Limit          int64  `yaml:"limit,omitempty"`     // offset
	Predicate      string `yaml:"predicate,omitempty"` // custom, name of a registered predicate
	EstimatedCount int    `yaml:"estimated_count,omitempty"`
}

// NormalizeOptions returns the URL normalization settings
func (h HygieneConfig) NormalizeOptions() parse.NormalizeOptions {
	return parse.NormalizeOptions{
		CanonicalHost: h.CanonicalHost,
		TrailingSlash: h.TrailingSlash,
		StripParams:   h.StripQueryParams,
	}
}

// ShouldClearAfterEmit returns the effective clear policy (default true)
func (d DeltaConfig) ShouldClearAfterEmit() bool {
	if d.ClearAfterEmit != nil {
		return *d.ClearAfterEmit
	}
	return true
}

// Retention returns the retention window as a duration
func (d DeltaConfig) Retention() time.Duration {
	return time.Duration(d.RetentionDays) * 24 * time.Hour
}

// DefaultContentType maps an entity to its hreflang content type
func DefaultContentType(e models.EntityKind) models.ContentType {
	switch e {
	case models.EntityProduct:
		return models.ContentTypeProduct
	case models.EntityGamme:
		return models.ContentTypeCategory
	case models.EntityBlog:
		return models.ContentTypeBlog
	case models.EntityBrand:
		return models.ContentTypeBrand
	case models.EntityModel, models.EntityMotorization:
		return models.ContentTypeModel
	}
	return models.ContentTypeStatic
}

// GetEffectiveContentType determines the content type of a node
func GetEffectiveContentType(node NodeConfig) models.ContentType {
	if node.ContentType != "" {
		return models.ContentType(node.ContentType)
	}
	return DefaultContentType(node.Entity)
}

// GetEffectiveCompress determines whether a FINAL node is written as .xml.gz shards.
// Nodes without an explicit setting are compressed when they are sharded.
func GetEffectiveCompress(node NodeConfig) bool {
	if node.Compress != nil {
		return *node.Compress
	}
	return len(node.Shards) > 0
}

// GetEffectivePriority determines the <priority> of a node's entries
func GetEffectivePriority(node NodeConfig) float64 {
	if node.Priority != nil {
		return *node.Priority
	}
	return 0.5
}
