package config

import (
	"fmt"
	"time"

	"github.com/evmproc-dev/evmproc/internal/common"
	"github.com/evmproc-dev/evmproc/internal/logger"
)

// Config represents the complete file-based configuration for a processor binary.
type Config struct {
	// Processor contains the data source and runtime configuration
	Processor ProcessorConfig `yaml:"processor" json:"processor" toml:"processor"`

	// Database contains the SQLite store configuration
	Database DatabaseConfig `yaml:"database" json:"database" toml:"database"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// ProcessorConfig represents the runtime configuration of the processing pipeline.
type ProcessorConfig struct {
	// ArchiveURL is the base URL of the archive HTTP endpoint (optional)
	ArchiveURL string `yaml:"archive_url,omitempty" json:"archive_url,omitempty" toml:"archive_url,omitempty"`

	// ChainURL is the node JSON-RPC endpoint URL (optional, at least one source required)
	ChainURL string `yaml:"chain_url,omitempty" json:"chain_url,omitempty" toml:"chain_url,omitempty"`

	// StatusSchema is the table-name prefix for the processor's own state tables
	StatusSchema string `yaml:"status_schema" json:"status_schema" toml:"status_schema"`

	// SafetyDepth is the number of blocks below the archive head treated as finalized
	SafetyDepth uint64 `yaml:"safety_depth" json:"safety_depth" toml:"safety_depth"`

	// PollInterval is the hot source head poll cadence
	PollInterval common.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// QueryTimeout bounds a single upstream request
	QueryTimeout common.Duration `yaml:"query_timeout" json:"query_timeout" toml:"query_timeout"`

	// RPCCapacity caps concurrent in-flight node RPC requests
	RPCCapacity int `yaml:"rpc_capacity" json:"rpc_capacity" toml:"rpc_capacity"`

	// ArchiveBatchCap limits the block span of a single archive query
	ArchiveBatchCap uint64 `yaml:"archive_batch_cap" json:"archive_batch_cap" toml:"archive_batch_cap"`

	// HandlerRetries is how many times a failed handler batch is retried
	// before the processor gives up
	HandlerRetries int `yaml:"handler_retries" json:"handler_retries" toml:"handler_retries"`

	// Retry contains upstream retry configuration with exponential backoff
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional processor configuration fields.
func (p *ProcessorConfig) ApplyDefaults() {
	if p.StatusSchema == "" {
		p.StatusSchema = "squid_processor"
	}
	if p.SafetyDepth == 0 {
		p.SafetyDepth = 10
	}
	if p.PollInterval.Duration == 0 {
		p.PollInterval = common.NewDuration(1 * time.Second)
	}
	if p.QueryTimeout.Duration == 0 {
		p.QueryTimeout = common.NewDuration(20 * time.Second) //nolint:mnd
	}
	if p.RPCCapacity == 0 {
		p.RPCCapacity = 10
	}
	if p.ArchiveBatchCap == 0 {
		p.ArchiveBatchCap = 10000
	}
	if p.HandlerRetries == 0 {
		p.HandlerRetries = 1
	}

	if p.Retry != nil {
		p.Retry.ApplyDefaults()
	}
}

// RetryConfig represents upstream retry configuration with exponential backoff.
// MaxAttempts <= 0 means retry until the context is cancelled.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff common.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration
	MaxBackoff common.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier"`
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = common.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = common.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
	// MaxAttempts defaults to 0: retry until cancelled
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	// WAL mode is recommended for better concurrency
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	// NORMAL provides a good balance between safety and performance
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections"`

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections"`

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys"`
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
	// EnableForeignKeys defaults to false (zero value)
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - runner: range planning and batch dispatch
	//   - archive-source: archive HTTP queries
	//   - hot-source: node RPC head following
	//   - change-tracker: hot-state change log writes
	//   - rollback: reorg rollback execution
	//   - status-store: commit checkpoint persistence
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	// Development defaults to false (zero value)
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	// Validate default level
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		// Check if component is valid
		if _, validComponent := common.AllComponents[common.ToLowerWithTrim(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		// Check if level is valid
		if _, valid := logger.ValidLogLevels[common.ToLowerWithTrim(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return level
	}
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return common.ToLowerWithTrim(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
	// Enabled defaults to false (zero value)
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Processor.ApplyDefaults()
	c.Database.ApplyDefaults()

	if c.Logging != nil {
		c.Logging.ApplyDefaults()
	}

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Processor.ArchiveURL == "" && c.Processor.ChainURL == "" {
		return fmt.Errorf("processor: at least one of archive_url or chain_url is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Database.JournalMode != "" && c.Database.JournalMode != "WAL" &&
		c.Database.JournalMode != "DELETE" && c.Database.JournalMode != "TRUNCATE" &&
		c.Database.JournalMode != "PERSIST" && c.Database.JournalMode != "MEMORY" {
		return fmt.Errorf("database.journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}

	if c.Database.Synchronous != "" && c.Database.Synchronous != "FULL" &&
		c.Database.Synchronous != "NORMAL" && c.Database.Synchronous != "OFF" {
		return fmt.Errorf("database.synchronous must be one of: FULL, NORMAL, OFF")
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}
