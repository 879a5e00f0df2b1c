package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestManager_ReadWrite_RoundTrip(t *testing.T) {
	original := &Config{
		BaseDir:  "/home/user/.local/share/sone",
		LogDir:   "/home/user/.local/share/sone/log",
		LogLevel: "debug",
		Identities: []IdentityConfig{
			{ID: "alice", Name: "Alice", RequestAddress: "USK@a/Sone/", InsertAddress: "USK@a-ins/Sone/", Local: true},
			{ID: "bob", Name: "Bob", RequestAddress: "USK@b/Sone/"},
		},
		Substrate: SubstrateConfig{
			Type:         "s3",
			PollInterval: D(45 * time.Second),
			S3Bucket:     "sone",
			S3Prefix:     "docs",
			S3Region:     "eu-west-1",
		},
		Encryption: EncryptionConfig{Type: "age", IdentityPath: "/keys/sone.key"},
		Database:   DatabaseConfig{Type: "sqlite", DataDir: "/home/user/.local/share/sone/db"},
		Publish: PublishConfig{
			PollInterval:     D(2 * time.Second),
			DebounceInterval: D(90 * time.Second),
			PublishTimeout:   D(time.Minute),
		},
		Fetch:   FetchConfig{MaxFailures: 5, Cooldown: D(time.Hour), MinInterval: D(time.Second)},
		Metrics: MetricsConfig{ListenAddr: ":9090"},
	}

	var buf bytes.Buffer
	m := &Manager{}

	if err := m.Write(&buf, original); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.Contains(buf.String(), `debounce_interval = "1m30s"`) {
		t.Errorf("durations should be written as strings, got:\n%s", buf.String())
	}

	got, err := m.Read(&buf)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if got.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", got.LogLevel, "debug")
	}
	if len(got.Identities) != 2 {
		t.Fatalf("len(Identities) = %d, want 2", len(got.Identities))
	}
	if !got.Identities[0].Local || got.Identities[0].InsertAddress != "USK@a-ins/Sone/" {
		t.Errorf("Identities[0] = %+v, want local identity with insert address", got.Identities[0])
	}
	if got.Identities[1].Local {
		t.Errorf("Identities[1].Local = true, want false")
	}
	if got.Substrate.Type != "s3" || got.Substrate.S3Bucket != "sone" {
		t.Errorf("Substrate = %+v", got.Substrate)
	}
	if got.Substrate.PollInterval.Duration != 45*time.Second {
		t.Errorf("Substrate.PollInterval = %v, want 45s", got.Substrate.PollInterval)
	}
	if got.Publish.DebounceInterval.Duration != 90*time.Second {
		t.Errorf("Publish.DebounceInterval = %v, want 1m30s", got.Publish.DebounceInterval)
	}
	if got.Fetch.MaxFailures != 5 {
		t.Errorf("Fetch.MaxFailures = %d, want 5", got.Fetch.MaxFailures)
	}
	if got.Encryption.IdentityPath != "/keys/sone.key" {
		t.Errorf("Encryption.IdentityPath = %q", got.Encryption.IdentityPath)
	}
	if got.Metrics.ListenAddr != ":9090" {
		t.Errorf("Metrics.ListenAddr = %q", got.Metrics.ListenAddr)
	}
}

func TestManager_Read_InvalidDuration(t *testing.T) {
	m := &Manager{}
	_, err := m.Read(strings.NewReader("[publish]\ndebounce_interval = \"soon\"\n"))
	if err == nil {
		t.Fatal("Read() expected error for invalid duration")
	}
}

func TestNewConfig(t *testing.T) {
	cfg := NewConfig("/data/sone")

	if cfg.BaseDir != "/data/sone" {
		t.Errorf("BaseDir = %q, want %q", cfg.BaseDir, "/data/sone")
	}
	if cfg.LogDir != "/data/sone/log" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, "/data/sone/log")
	}
	if cfg.Substrate.FSRoot != "/data/sone/substrate" {
		t.Errorf("Substrate.FSRoot = %q, want %q", cfg.Substrate.FSRoot, "/data/sone/substrate")
	}
	if cfg.Database.DataDir != "/data/sone/db" {
		t.Errorf("Database.DataDir = %q, want %q", cfg.Database.DataDir, "/data/sone/db")
	}
	if cfg.Publish.DebounceInterval.Duration != DefaultDebounceInterval {
		t.Errorf("Publish.DebounceInterval = %v, want %v", cfg.Publish.DebounceInterval, DefaultDebounceInterval)
	}
}

func TestWithDefaults(t *testing.T) {
	cfg := (&Config{Publish: PublishConfig{DebounceInterval: D(5 * time.Second)}}).WithDefaults()

	if cfg.Publish.DebounceInterval.Duration != 5*time.Second {
		t.Errorf("explicit DebounceInterval overwritten: %v", cfg.Publish.DebounceInterval)
	}
	if cfg.Publish.PollInterval.Duration != DefaultPublishPollInterval {
		t.Errorf("Publish.PollInterval = %v, want %v", cfg.Publish.PollInterval, DefaultPublishPollInterval)
	}
	if cfg.Fetch.MaxFailures != DefaultMaxFailures {
		t.Errorf("Fetch.MaxFailures = %d, want %d", cfg.Fetch.MaxFailures, DefaultMaxFailures)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestInit(t *testing.T) {
	t.Run("creates config file", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sone.toml")

		if err := Init(path, NewConfig(dir)); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		if _, err := os.Stat(path); err != nil {
			t.Fatalf("config file not created: %v", err)
		}
	})

	t.Run("fails if file already exists", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sone.toml")
		cfg := NewConfig(dir)

		if err := Init(path, cfg); err != nil {
			t.Fatalf("first Init() error = %v", err)
		}

		if err := Init(path, cfg); err == nil {
			t.Fatal("second Init() expected error")
		}
	})
}

func TestReadFromFile(t *testing.T) {
	t.Run("reads valid config", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "sone.toml")
		cfg := NewConfig(dir)
		cfg.Database = DatabaseConfig{Type: "memory"}
		cfg.Identities = []IdentityConfig{{ID: "alice", Local: true}}

		if err := Init(path, cfg); err != nil {
			t.Fatalf("Init() error = %v", err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Database.Type != "memory" {
			t.Errorf("Database.Type = %q, want %q", got.Database.Type, "memory")
		}
		if len(got.Identities) != 1 || got.Identities[0].ID != "alice" {
			t.Errorf("Identities = %+v", got.Identities)
		}
	})

	t.Run("applies defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sone.toml")
		if err := os.WriteFile(path, []byte("log_dir = \"/tmp/log\"\n"), 0644); err != nil {
			t.Fatal(err)
		}

		got, err := ReadFromFile(path)
		if err != nil {
			t.Fatalf("ReadFromFile() error = %v", err)
		}
		if got.Fetch.Cooldown.Duration != DefaultCooldown {
			t.Errorf("Fetch.Cooldown = %v, want %v", got.Fetch.Cooldown, DefaultCooldown)
		}
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		if _, err := ReadFromFile("/nonexistent/path/sone.toml"); err == nil {
			t.Fatal("ReadFromFile() expected error for missing file")
		}
	})
}
