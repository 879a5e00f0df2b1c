package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config represents the main configuration for sone.
type Config struct {
	BaseDir    string           `toml:"base_dir"`
	LogDir     string           `toml:"log_dir"`
	LogLevel   string           `toml:"log_level" validate:"omitempty,oneof=debug info warn error"` // "debug", "info" (default), "warn" or "error"
	Identities []IdentityConfig `toml:"identities" validate:"dive"`
	Substrate  SubstrateConfig  `toml:"substrate"`
	Encryption EncryptionConfig `toml:"encryption"`
	Database   DatabaseConfig   `toml:"database"`
	Publish    PublishConfig    `toml:"publish"`
	Fetch      FetchConfig      `toml:"fetch"`
	Metrics    MetricsConfig    `toml:"metrics"`
}

// IdentityConfig describes one identity of the static directory.
type IdentityConfig struct {
	ID             string `toml:"id" validate:"required"`
	Name           string `toml:"name"`
	RequestAddress string `toml:"request_address" validate:"required"`
	InsertAddress  string `toml:"insert_address,omitempty"` // only for local identities
	Local          bool   `toml:"local"`
}

// SubstrateConfig represents configuration for the publish substrate.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type SubstrateConfig struct {
	Type         string   `toml:"type" validate:"oneof=memory filesystem s3"`
	PollInterval Duration `toml:"poll_interval"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty" validate:"required_if=Type filesystem"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket    string `toml:"s3_bucket,omitempty" validate:"required_if=Type s3"`
	S3Prefix    string `toml:"s3_prefix,omitempty"`
	S3Region    string `toml:"s3_region,omitempty"`
	S3Endpoint  string `toml:"s3_endpoint,omitempty"`
	S3AccessKey string `toml:"s3_access_key,omitempty"`
	S3SecretKey string `toml:"s3_secret_key,omitempty"`
}

// EncryptionConfig selects whether published documents are sealed.
type EncryptionConfig struct {
	Type         string `toml:"type" validate:"omitempty,oneof=none age test"` // "none" (default) or "age"
	IdentityPath string `toml:"identity_path,omitempty" validate:"required_if=Type age"`
}

// DatabaseConfig represents configuration for the state database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type" validate:"oneof=sqlite memory"`
	DataDir string `toml:"data_dir,omitempty" validate:"required_if=Type sqlite"`
}

// PublishConfig controls the publish schedulers of local identities.
type PublishConfig struct {
	PollInterval     Duration `toml:"poll_interval"`
	DebounceInterval Duration `toml:"debounce_interval"`
	PublishTimeout   Duration `toml:"publish_timeout"`
}

// FetchConfig controls how remote identities are fetched.
type FetchConfig struct {
	MaxFailures uint32   `toml:"max_failures" validate:"gte=1"`
	Cooldown    Duration `toml:"cooldown"`
	MinInterval Duration `toml:"min_interval"`
}

// MetricsConfig enables the metrics endpoint when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `toml:"listen_addr,omitempty"`
}

// Default intervals applied by WithDefaults.
const (
	DefaultSubstratePollInterval = 30 * time.Second
	DefaultPublishPollInterval   = time.Second
	DefaultDebounceInterval      = time.Minute
	DefaultPublishTimeout        = 5 * time.Minute
	DefaultMaxFailures           = 3
	DefaultCooldown              = 5 * time.Minute
	DefaultMinInterval           = 10 * time.Second
)

// NewConfig creates a new Config rooted at baseDir with default settings.
func NewConfig(baseDir string) *Config {
	cfg := &Config{
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		LogLevel:   "info",
		Substrate:  SubstrateConfig{Type: "filesystem", FSRoot: filepath.Join(baseDir, "substrate")},
		Encryption: EncryptionConfig{Type: "none"},
		Database:   DatabaseConfig{Type: "sqlite", DataDir: filepath.Join(baseDir, "db")},
	}
	cfg.WithDefaults()
	return cfg
}

// WithDefaults fills every unset interval and limit with its default value.
func (c *Config) WithDefaults() *Config {
	setDefault(&c.Substrate.PollInterval, DefaultSubstratePollInterval)
	setDefault(&c.Publish.PollInterval, DefaultPublishPollInterval)
	setDefault(&c.Publish.DebounceInterval, DefaultDebounceInterval)
	setDefault(&c.Publish.PublishTimeout, DefaultPublishTimeout)
	setDefault(&c.Fetch.Cooldown, DefaultCooldown)
	setDefault(&c.Fetch.MinInterval, DefaultMinInterval)
	if c.Fetch.MaxFailures == 0 {
		c.Fetch.MaxFailures = DefaultMaxFailures
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}

// Validate checks the configuration for missing or unknown settings.
// Call it after WithDefaults.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]bool, len(c.Identities))
	for _, identity := range c.Identities {
		if seen[identity.ID] {
			return fmt.Errorf("invalid config: duplicate identity %s", identity.ID)
		}
		seen[identity.ID] = true
	}
	return nil
}

func setDefault(d *Duration, def time.Duration) {
	if d.Duration <= 0 {
		d.Duration = def
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path and applies defaults.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg.WithDefaults(), nil
}

func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
