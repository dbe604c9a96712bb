package config

import (
	"github.com/spf13/viper"
)

// Config represents the scanner configuration. Every empirically-tuned
// detection constant is a named field with a default; changing one changes
// detection behavior materially and should be a conscious decision.
type Config struct {
	// Scan roots
	InternalRoot  string   `mapstructure:"internal_root"`  // site document root
	ExternalRoots []string `mapstructure:"external_roots"` // server-level roots outside the site
	Exclude       []string `mapstructure:"exclude"`        // directory names to skip
	MaxFileSize   int64    `mapstructure:"max_file_size"`  // bytes; larger files get a head read
	HeadReadSize  int64    `mapstructure:"head_read_size"` // bytes read from oversized files

	// Tick budget and locking
	TimeBudgetSeconds float64 `mapstructure:"time_budget_seconds"` // wall-clock budget per tick
	SafetyMargin      float64 `mapstructure:"safety_margin"`       // seconds reserved below the host limit
	LockTTLSeconds    int     `mapstructure:"lock_ttl_seconds"`

	// Adaptive chunk sizing
	InitialChunkSize   int     `mapstructure:"initial_chunk_size"`
	MinChunkSize       int     `mapstructure:"min_chunk_size"`
	ExternalChunkSize  int     `mapstructure:"external_chunk_size"`
	ChunkTargetSeconds float64 `mapstructure:"chunk_target_seconds"`
	ChunkGrowFactor    float64 `mapstructure:"chunk_grow_factor"`   // after two consecutive fast chunks
	ChunkShrinkFactor  float64 `mapstructure:"chunk_shrink_factor"` // after one slow chunk
	ChunkGentleUp      float64 `mapstructure:"chunk_gentle_up"`
	ChunkGentleDown    float64 `mapstructure:"chunk_gentle_down"`
	ChunkFastRatio     float64 `mapstructure:"chunk_fast_ratio"` // "very fast" is under this fraction of target
	ChunkSlowRatio     float64 `mapstructure:"chunk_slow_ratio"` // "too slow" is over this fraction of target

	// Finding builder
	GlobalScoreGate     int  `mapstructure:"global_score_gate"`
	ConfidenceLow       int  `mapstructure:"confidence_low"`
	ConfidenceMedium    int  `mapstructure:"confidence_medium"`
	ConfidenceHigh      int  `mapstructure:"confidence_high"`
	ReportLowConfidence bool `mapstructure:"report_low_confidence"`
	ClusterContextLines int  `mapstructure:"cluster_context_lines"` // snippet expansion around each match
	ClusterMergeLines   int  `mapstructure:"cluster_merge_lines"`   // gap beyond cluster end that still merges
	SnippetWindow       int  `mapstructure:"snippet_window"`        // chars of context collected per raw match

	// Spamvertising checker
	SpamMergeChars      int `mapstructure:"spam_merge_chars"`
	SpamTierMedium      int `mapstructure:"spam_tier_medium"`
	SpamTierHigh        int `mapstructure:"spam_tier_high"`
	SpamTierVeryHigh    int `mapstructure:"spam_tier_very_high"`
	SpamKeywordRepeats  int `mapstructure:"spam_keyword_repeats"`
	ContentBatchSize    int `mapstructure:"content_batch_size"`

	// User audit
	AuditSignalMinimum int `mapstructure:"audit_signal_minimum"` // false-positive guard
	AuditRecentDays    int `mapstructure:"audit_recent_days"`

	// Database deep-scan
	DeepScanEnabled  bool             `mapstructure:"deep_scan_enabled"`
	DeepScanTargets  []DeepScanTarget `mapstructure:"deep_scan_targets"`
	DeepScanBatch    int              `mapstructure:"deep_scan_batch"`
	DeepScanMinChars int              `mapstructure:"deep_scan_min_chars"`

	// Pattern catalog caching
	PatternsURL        string `mapstructure:"patterns_url"`
	TokenURL           string `mapstructure:"token_url"`
	ChecksumURL        string `mapstructure:"checksum_url"`
	RemoteCacheHours   int    `mapstructure:"remote_cache_hours"`
	LocalCacheDays     int    `mapstructure:"local_cache_days"`
	RemoteBackoffHours int    `mapstructure:"remote_backoff_hours"`
	SiteKey            string `mapstructure:"site_key"` // integrity proof attached to remote fetches

	// Store
	StorePath string `mapstructure:"store_path"`

	// Relational source
	DatabaseDSN string `mapstructure:"database_dsn"`
	TablePrefix string `mapstructure:"table_prefix"`

	// AI verdict service
	AI AIConfig `mapstructure:"ai"`
}

// DeepScanTarget names one high-value table/column pair for the deep scan.
type DeepScanTarget struct {
	Table  string `mapstructure:"table" json:"table"`
	Column string `mapstructure:"column" json:"column"`
	IDCol  string `mapstructure:"id_col" json:"id_col"`
}

// AIConfig holds AI verdict configuration.
type AIConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Model    string `mapstructure:"model"` // haiku, sonnet, opus
	APIToken string `mapstructure:"token"`
	Timeout  int    `mapstructure:"timeout"`       // seconds per request
	MaxBytes int    `mapstructure:"max_bytes"`     // condensed context cap
	PadChars int    `mapstructure:"pad_chars"`     // padding around each snippet window
}

// Load reads configuration from environment variables and defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("internal_root", ".")
	v.SetDefault("exclude", []string{".git", "node_modules", ".svn", ".hg"})
	v.SetDefault("max_file_size", int64(2*1024*1024))
	v.SetDefault("head_read_size", int64(512*1024))

	v.SetDefault("time_budget_seconds", 25.0)
	v.SetDefault("safety_margin", 5.0)
	v.SetDefault("lock_ttl_seconds", 8)

	v.SetDefault("initial_chunk_size", 50)
	v.SetDefault("min_chunk_size", 10)
	v.SetDefault("external_chunk_size", 10)
	v.SetDefault("chunk_target_seconds", 10.0)
	v.SetDefault("chunk_grow_factor", 1.8)
	v.SetDefault("chunk_shrink_factor", 0.6)
	v.SetDefault("chunk_gentle_up", 1.2)
	v.SetDefault("chunk_gentle_down", 0.8)
	v.SetDefault("chunk_fast_ratio", 0.5)
	v.SetDefault("chunk_slow_ratio", 1.1)

	v.SetDefault("global_score_gate", 20)
	v.SetDefault("confidence_low", 20)
	v.SetDefault("confidence_medium", 55)
	v.SetDefault("confidence_high", 85)
	v.SetDefault("report_low_confidence", false)
	v.SetDefault("cluster_context_lines", 6)
	v.SetDefault("cluster_merge_lines", 10)
	v.SetDefault("snippet_window", 250)

	v.SetDefault("spam_merge_chars", 400)
	v.SetDefault("spam_tier_medium", 60)
	v.SetDefault("spam_tier_high", 80)
	v.SetDefault("spam_tier_very_high", 95)
	v.SetDefault("spam_keyword_repeats", 9)
	v.SetDefault("content_batch_size", 200)

	v.SetDefault("audit_signal_minimum", 2)
	v.SetDefault("audit_recent_days", 45)

	v.SetDefault("deep_scan_enabled", false)
	v.SetDefault("deep_scan_batch", 500)
	v.SetDefault("deep_scan_min_chars", 100)

	v.SetDefault("remote_cache_hours", 24)
	v.SetDefault("local_cache_days", 30)
	v.SetDefault("remote_backoff_hours", 6)

	v.SetDefault("store_path", ".purescan/store")
	v.SetDefault("table_prefix", "wp_")

	v.SetDefault("ai.enabled", false)
	v.SetDefault("ai.model", "sonnet")
	v.SetDefault("ai.timeout", 60)
	v.SetDefault("ai.max_bytes", 14*1024)
	v.SetDefault("ai.pad_chars", 400)

	v.SetEnvPrefix("PURESCAN")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// FileTiers returns the confidence tiers used for file and database
// content detections.
func (c *Config) FileTiers() (low, medium, high int) {
	return c.ConfidenceLow, c.ConfidenceMedium, c.ConfidenceHigh
}
