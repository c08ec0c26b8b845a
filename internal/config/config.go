package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and plan file locations.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	LogDir   string `toml:"log_dir"`
	PlanFile string `toml:"plan_file"`
}

// Engine contains stage worker timings and queue sizing.
type Engine struct {
	DefaultBatchSize int `toml:"default_batch_size"`
	InactivePollMS   int `toml:"inactive_poll_ms"`
	IdlePollMS       int `toml:"idle_poll_ms"`
	ShutdownGraceMS  int `toml:"shutdown_grace_ms"`
}

// History selects the status history store.
type History struct {
	Driver      string `toml:"driver"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`
	// RecordTimeoutMS bounds one status write before the event falls back
	// to the log.
	RecordTimeoutMS int `toml:"record_timeout_ms"`
}

// Kafka configures the broker-backed document source and publish processors.
type Kafka struct {
	Enabled    bool     `toml:"enabled"`
	Brokers    []string `toml:"brokers"`
	Topic      string   `toml:"topic"`
	GroupID    string   `toml:"group_id"`
	EntryStage string   `toml:"entry_stage"`
}

// S3 configures the object store used by storage processors.
type S3 struct {
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	UseSSL    bool   `toml:"use_ssl"`
	Bucket    string `toml:"bucket"`
}

// Scanner configures the directory scanner source.
type Scanner struct {
	Enabled    bool   `toml:"enabled"`
	Dir        string `toml:"dir"`
	Pattern    string `toml:"pattern"`
	EntryStage string `toml:"entry_stage"`
}

// Notifications configures ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	OnStart        bool   `toml:"on_start"`
	OnError        bool   `toml:"on_error"`
	OnDrain        bool   `toml:"on_drain"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format         string            `toml:"format"`
	Level          string            `toml:"level"`
	RetentionDays  int               `toml:"retention_days"`
	StageOverrides map[string]string `toml:"stage_overrides"`
}

// Config encapsulates all configuration values for ingest.
//
// Configuration sections by subsystem:
//   - Paths: data, log and plan locations
//   - Engine: batch size and worker poll/shutdown timings
//   - History: status history driver (sqlite, postgres, none)
//   - Kafka: broker source and publish settings
//   - S3: object store for payload archiving
//   - Scanner: directory scanner source
//   - Notifications: ntfy topic and which daemon events to announce
//   - Logging: log format, level, retention and per-stage overrides
type Config struct {
	Paths   Paths   `toml:"paths"`
	Engine  Engine  `toml:"engine"`
	History History `toml:"history"`
	Kafka   Kafka   `toml:"kafka"`
	S3      S3      `toml:"s3"`
	Scanner       Scanner       `toml:"scanner"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/ingest/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("ingest.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if c.History.Driver == HistorySQLite {
		if dir := filepath.Dir(c.History.SQLitePath); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create history directory %q: %w", dir, err)
			}
		}
	}
	return nil
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.DataDir, "ingest.lock")
}

// PIDPath returns the file the running daemon writes its process id to.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.DataDir, "ingest.pid")
}

// NtfyTimeout returns the HTTP timeout for notification requests.
func (c *Config) NtfyTimeout() time.Duration {
	return time.Duration(c.Notifications.RequestTimeout) * time.Second
}

// InactivePoll returns the sleep interval of a worker whose stage is inactive.
func (c *Config) InactivePoll() time.Duration {
	return time.Duration(c.Engine.InactivePollMS) * time.Millisecond
}

// IdlePoll returns the sleep interval of an active worker with an empty queue.
func (c *Config) IdlePoll() time.Duration {
	return time.Duration(c.Engine.IdlePollMS) * time.Millisecond
}

// RecordTimeout returns how long a status write may take.
func (c *Config) RecordTimeout() time.Duration {
	return time.Duration(c.History.RecordTimeoutMS) * time.Millisecond
}

// ShutdownGrace returns how long Deactivate waits before interrupting a worker.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Engine.ShutdownGraceMS) * time.Millisecond
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
