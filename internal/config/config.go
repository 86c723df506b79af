// Package config loads and persists sortd configuration from a YAML file
// with environment variable overrides layered on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all sortd configuration.
type Config struct {
	// Root is the single directory tree operations are allowed in.
	Root string `yaml:"root"`

	// Model configures the completion service.
	Model ModelConfig `yaml:"model"`

	// Dispatch tunes dispatcher behavior.
	Dispatch DispatchConfig `yaml:"dispatch"`

	// Indexer tunes the background file indexer.
	Indexer IndexerConfig `yaml:"indexer"`

	// Store locates the preference database.
	Store StoreConfig `yaml:"store"`

	// Logging controls the category log files.
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig configures the completion client.
type ModelConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	NumCtx  int    `yaml:"num_ctx"`
	Timeout string `yaml:"timeout"`
}

// FileTypeDefault values for DispatchConfig.
const (
	FileTypeAsk  = "ask"  // prompt the user for a path
	FileTypeRoot = "root" // describe the allowed root itself
)

// DispatchConfig tunes dispatcher behavior.
type DispatchConfig struct {
	// FileTypeDefault decides what a pathless file_type action does:
	// "ask" for clarification or describe the "root".
	FileTypeDefault string `yaml:"file_type_default"`

	// ListLimit caps entries returned by pathless list actions. 0 = all.
	ListLimit int `yaml:"list_limit"`
}

// IndexerConfig tunes the background indexer.
type IndexerConfig struct {
	// Debounce is how long the watcher waits after the last filesystem
	// event before invalidating the index.
	Debounce string `yaml:"debounce"`

	// MaxFiles bounds one scan; 0 = unlimited.
	MaxFiles int `yaml:"max_files"`
}

// StoreConfig locates the preference database.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"` // relative paths resolve under root/.sortd
}

// LoggingConfig controls the category log files.
type LoggingConfig struct {
	Level      string          `yaml:"level"`
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			BaseURL: "http://localhost:11434",
			Model:   "llama3.2",
			NumCtx:  4096,
			Timeout: "30s",
		},
		Dispatch: DispatchConfig{
			FileTypeDefault: FileTypeAsk,
			ListLimit:       0,
		},
		Indexer: IndexerConfig{
			Debounce: "2s",
			MaxFiles: 0,
		},
		Store: StoreConfig{
			DatabasePath: "memory.db",
		},
		Logging: LoggingConfig{
			Level:     "info",
			DebugMode: false,
		},
	}
}

// Load reads configuration from a YAML file. A missing file yields defaults;
// a malformed file is an error. Environment overrides win over the file.
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

// Save writes configuration to a YAML file, creating parent directories.
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

// DefaultPath returns the conventional config location under a root.
func DefaultPath(root string) string {
	return filepath.Join(root, ".sortd", "config.yaml")
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if root := os.Getenv("SORTD_ROOT"); root != "" {
		c.Root = root
	}
	if url := os.Getenv("SORTD_OLLAMA_URL"); url != "" {
		c.Model.BaseURL = url
	}
	if model := os.Getenv("SORTD_MODEL"); model != "" {
		c.Model.Model = model
	}
	if path := os.Getenv("SORTD_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if os.Getenv("SORTD_DEBUG") == "1" {
		c.Logging.DebugMode = true
		c.Logging.Level = "debug"
	}
}

// ModelTimeout returns the completion timeout as a duration.
func (c *Config) ModelTimeout() time.Duration {
	d, err := time.ParseDuration(c.Model.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// IndexerDebounce returns the watcher debounce as a duration.
func (c *Config) IndexerDebounce() time.Duration {
	d, err := time.ParseDuration(c.Indexer.Debounce)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// DatabasePath resolves the store path: absolute values are used as-is,
// relative ones land under root/.sortd.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Store.DatabasePath) {
		return c.Store.DatabasePath
	}
	return filepath.Join(c.Root, ".sortd", c.Store.DatabasePath)
}

// Validate checks the parts that have closed value sets.
func (c *Config) Validate() error {
	switch c.Dispatch.FileTypeDefault {
	case FileTypeAsk, FileTypeRoot:
	default:
		return fmt.Errorf("dispatch.file_type_default must be %q or %q, got %q",
			FileTypeAsk, FileTypeRoot, c.Dispatch.FileTypeDefault)
	}
	return nil
}
