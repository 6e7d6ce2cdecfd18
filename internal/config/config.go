// Package config holds all sqlbridge configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all sqlbridge configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// HTTP server
	Server ServerConfig `yaml:"server"`

	// LLM translation backend
	LLM LLMConfig `yaml:"llm"`

	// BigQuery access
	BigQuery BigQueryConfig `yaml:"bigquery"`

	// Conversion workflow behavior
	Workflow WorkflowConfig `yaml:"workflow"`

	// SQL chunking engine
	Chunking ChunkingConfig `yaml:"chunking"`

	// Hive to BigQuery table name mapping
	TableMap TableMapConfig `yaml:"tablemap"`

	// Progress event bus
	Events EventsConfig `yaml:"events"`

	// Run archive
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ReadTimeout     string `yaml:"read_timeout"`
	WriteTimeout    string `yaml:"write_timeout"` // zero disables; event streams need no deadline
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// LLMConfig configures the translation model client.
type LLMConfig struct {
	Provider string `yaml:"provider"` // gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`

	// StepModels overrides the model per workflow step, keyed by step
	// name (convert, fix, llm_sql_check). Empty falls back to Model.
	StepModels map[string]string `yaml:"step_models"`

	Temperature        float64 `yaml:"temperature"`
	MaxOutputTokens    int     `yaml:"max_output_tokens"`
	RequestTimeout     string  `yaml:"request_timeout"`
	MinRequestInterval string  `yaml:"min_request_interval"`
	MaxAttempts        int     `yaml:"max_attempts"` // API retry attempts per request
}

// BigQueryConfig configures the BigQuery client.
type BigQueryConfig struct {
	ProjectID         string `yaml:"project_id"`
	Location          string `yaml:"location"`
	RequestTimeout    string `yaml:"request_timeout"`
	ExecutionRowLimit int    `yaml:"execution_row_limit"`
	UsageLogTable     string `yaml:"usage_log_table"` // project.dataset.table, empty disables
}

// WorkflowConfig configures the conversion workflow.
type WorkflowConfig struct {
	// MaxRetries bounds the auto-fix loop. Zero means no fix attempts.
	MaxRetries int `yaml:"max_retries"`

	ValidationMode       string `yaml:"validation_mode"` // dry_run, llm
	SemanticCheckEnabled bool   `yaml:"semantic_check_enabled"`

	ExecutionEnabled    bool     `yaml:"execution_enabled"`
	VerificationEnabled bool     `yaml:"verification_enabled"`
	VerificationMode    string   `yaml:"verification_mode"` // row_count, full_content
	AllowedDatasets     []string `yaml:"allowed_datasets"`  // datasets execution may touch, empty allows all

	RunTimeout string `yaml:"run_timeout"` // zero disables
}

// ChunkingConfig configures statement splitting for oversized SQL.
type ChunkingConfig struct {
	Mode        string `yaml:"mode"` // auto, always, disabled
	MaxLength   int    `yaml:"max_length"`
	MaxLines    int    `yaml:"max_lines"`
	Parallel    bool   `yaml:"parallel"`
	MaxParallel int    `yaml:"max_parallel"`
}

// TableMapConfig configures the Hive to BigQuery table mapping.
type TableMapConfig struct {
	CSVPath       string `yaml:"csv_path"`
	Watch         bool   `yaml:"watch"`
	VerifyCSVPath string `yaml:"verify_csv_path"` // ground truth pairs for data verification
}

// EventsConfig configures the progress event bus.
type EventsConfig struct {
	RecentLimit      int    `yaml:"recent_limit"`
	SubscriberBuffer int    `yaml:"subscriber_buffer"`
	Heartbeat        string `yaml:"heartbeat"` // SSE keep-alive interval
}

// StoreConfig configures the run archive.
type StoreConfig struct {
	Path        string `yaml:"path"`
	ArchiveRuns bool   `yaml:"archive_runs"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "sqlbridge",
		Version: "1.0.0",

		Server: ServerConfig{
			Host:            "",
			Port:            8000,
			ReadTimeout:     "30s",
			WriteTimeout:    "0",
			ShutdownTimeout: "10s",
		},

		LLM: LLMConfig{
			Provider:           "gemini",
			Model:              "gemini-2.5-flash",
			Temperature:        0.1,
			MaxOutputTokens:    8192,
			RequestTimeout:     "120s",
			MinRequestInterval: "500ms",
			MaxAttempts:        3,
		},

		BigQuery: BigQueryConfig{
			RequestTimeout:    "60s",
			ExecutionRowLimit: 100,
		},

		Workflow: WorkflowConfig{
			MaxRetries:           3,
			ValidationMode:       "dry_run",
			SemanticCheckEnabled: true,
			ExecutionEnabled:     false,
			VerificationEnabled:  false,
			VerificationMode:     "row_count",
			RunTimeout:           "0",
		},

		Chunking: ChunkingConfig{
			Mode:        "auto",
			MaxLength:   8000,
			MaxLines:    200,
			Parallel:    true,
			MaxParallel: 4,
		},

		TableMap: TableMapConfig{
			Watch: true,
		},

		Events: EventsConfig{
			RecentLimit:      100,
			SubscriberBuffer: 50,
			Heartbeat:        "30s",
		},

		Store: StoreConfig{
			Path:        "data/sqlbridge.db",
			ArchiveRuns: true,
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults with environment overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides. The names
// match the ones the deployment environment already exports.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if v := os.Getenv("MODEL_NAME"); v != "" {
		c.LLM.Model = v
	}
	// Per-step model overrides, e.g. CONVERT_MODEL, FIX_MODEL.
	for _, step := range []string{"convert", "fix", "llm_sql_check", "bigquery_dry_run"} {
		if v := os.Getenv(strings.ToUpper(step) + "_MODEL"); v != "" {
			if c.LLM.StepModels == nil {
				c.LLM.StepModels = make(map[string]string)
			}
			c.LLM.StepModels[step] = v
		}
	}

	if v := os.Getenv("GOOGLE_PROJECT_ID"); v != "" {
		c.BigQuery.ProjectID = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_PROJECT"); v != "" && c.BigQuery.ProjectID == "" {
		c.BigQuery.ProjectID = v
	}
	if v := os.Getenv("GOOGLE_CLOUD_LOCATION"); v != "" {
		c.BigQuery.Location = v
	}
	if v := os.Getenv("MODEL_USAGE_LOG_TABLE"); v != "" {
		c.BigQuery.UsageLogTable = v
	}

	if v := os.Getenv("BQ_VALIDATION_MODE"); v != "" {
		c.Workflow.ValidationMode = v
	}
	if v := os.Getenv("SQL_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Workflow.MaxRetries = n
		}
	}
	if v := os.Getenv("SQL_EXECUTION_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Workflow.ExecutionEnabled = b
		}
	}
	if v := os.Getenv("DATA_VERIFICATION_MODE"); v != "" {
		if v == "disabled" {
			c.Workflow.VerificationEnabled = false
		} else {
			c.Workflow.VerificationEnabled = true
			c.Workflow.VerificationMode = v
		}
	}
	if v := os.Getenv("DATA_VERIFICATION_ALLOWED_DATASET"); v != "" {
		c.Workflow.AllowedDatasets = splitCommaList(v)
	}

	if v := os.Getenv("SQL_CHUNKING_MODE"); v != "" {
		c.Chunking.Mode = v
	}
	if v := os.Getenv("MAX_SQL_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Chunking.MaxLength = n
		}
	}
	if v := os.Getenv("MAX_SQL_LINES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Chunking.MaxLines = n
		}
	}

	if v := os.Getenv("TABLE_MAPPING_CSV"); v != "" {
		c.TableMap.CSVPath = v
	}
	if v := os.Getenv("DATA_VERIFY_CSV"); v != "" {
		c.TableMap.VerifyCSVPath = v
	}

	if v := os.Getenv("SQLBRIDGE_DB"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Server.Port = n
		}
	}
}

// GetLLMTimeout returns the LLM request timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.RequestTimeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetMinRequestInterval returns the gap enforced between LLM requests.
func (c *Config) GetMinRequestInterval() time.Duration {
	d, err := time.ParseDuration(c.LLM.MinRequestInterval)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// GetBigQueryTimeout returns the BigQuery request timeout as a duration.
func (c *Config) GetBigQueryTimeout() time.Duration {
	d, err := time.ParseDuration(c.BigQuery.RequestTimeout)
	if err != nil {
		return 60 * time.Second
	}
	return d
}

// GetRunTimeout returns the whole-run timeout. Zero means unlimited.
func (c *Config) GetRunTimeout() time.Duration {
	d, err := time.ParseDuration(c.Workflow.RunTimeout)
	if err != nil {
		return 0
	}
	return d
}

// GetHeartbeat returns the SSE keep-alive interval.
func (c *Config) GetHeartbeat() time.Duration {
	d, err := time.ParseDuration(c.Events.Heartbeat)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetShutdownTimeout returns the graceful shutdown window.
func (c *Config) GetShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ShutdownTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// GetReadTimeout returns the HTTP read timeout.
func (c *Config) GetReadTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ReadTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetWriteTimeout returns the HTTP write timeout. Zero disables it.
func (c *Config) GetWriteTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.WriteTimeout)
	if err != nil {
		return 0
	}
	return d
}

// Addr returns the host:port the server binds to.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"gemini"}

// ValidValidationModes lists the supported BigQuery validation modes.
var ValidValidationModes = []string{"dry_run", "llm"}

// ValidChunkingModes lists the supported chunking modes.
var ValidChunkingModes = []string{"auto", "always", "disabled"}

// ValidVerificationModes lists the supported data verification modes.
var ValidVerificationModes = []string{"row_count", "full_content"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GOOGLE_API_KEY or GEMINI_API_KEY)")
	}
	if !contains(ValidProviders, c.LLM.Provider) {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}
	if !contains(ValidValidationModes, c.Workflow.ValidationMode) {
		return fmt.Errorf("invalid validation mode: %s (valid: %v)", c.Workflow.ValidationMode, ValidValidationModes)
	}
	if !contains(ValidChunkingModes, c.Chunking.Mode) {
		return fmt.Errorf("invalid chunking mode: %s (valid: %v)", c.Chunking.Mode, ValidChunkingModes)
	}
	if !contains(ValidVerificationModes, c.Workflow.VerificationMode) {
		return fmt.Errorf("invalid verification mode: %s (valid: %v)", c.Workflow.VerificationMode, ValidVerificationModes)
	}
	if c.Workflow.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be zero or positive, got %d", c.Workflow.MaxRetries)
	}
	if c.Chunking.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be at least 1, got %d", c.Chunking.MaxParallel)
	}
	if (c.Workflow.ExecutionEnabled || c.Workflow.ValidationMode == "dry_run") && c.BigQuery.ProjectID == "" {
		return fmt.Errorf("BigQuery project not configured (set GOOGLE_PROJECT_ID)")
	}
	if c.Workflow.ExecutionEnabled && len(c.Workflow.AllowedDatasets) == 0 {
		return fmt.Errorf("execution enabled but no allowed datasets configured (set DATA_VERIFICATION_ALLOWED_DATASET)")
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func splitCommaList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// StepModel returns the model configured for a workflow step, falling
// back to the default model.
func (c *LLMConfig) StepModel(step string) string {
	if m, ok := c.StepModels[step]; ok && m != "" {
		return m
	}
	return c.Model
}
