package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"ingest/internal/config"
	"ingest/internal/services"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "ingest")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.History.Driver != config.HistorySQLite {
		t.Fatalf("expected sqlite history by default, got %q", cfg.History.Driver)
	}
	if cfg.History.SQLitePath != filepath.Join(wantData, "history.db") {
		t.Fatalf("unexpected sqlite path: %q", cfg.History.SQLitePath)
	}
	if cfg.Engine.DefaultBatchSize != 50 {
		t.Fatalf("expected default batch size 50, got %d", cfg.Engine.DefaultBatchSize)
	}
	if cfg.InactivePoll() != 50*time.Millisecond {
		t.Fatalf("unexpected inactive poll: %s", cfg.InactivePoll())
	}
	if cfg.IdlePoll() != 5*time.Millisecond {
		t.Fatalf("unexpected idle poll: %s", cfg.IdlePoll())
	}
	if cfg.ShutdownGrace() != time.Second {
		t.Fatalf("unexpected shutdown grace: %s", cfg.ShutdownGrace())
	}
	if cfg.Kafka.Enabled {
		t.Fatal("expected kafka disabled by default")
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories failed: %v", err)
	}
	for _, dir := range []string{cfg.Paths.DataDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("expected directory %q to exist: %v", dir, err)
		}
		if !info.IsDir() {
			t.Fatalf("expected %q to be directory", dir)
		}
	}
	if cfg.LockPath() != filepath.Join(wantData, "ingest.lock") {
		t.Fatalf("unexpected lock path: %q", cfg.LockPath())
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "ingest.toml")

	type payload struct {
		Engine struct {
			DefaultBatchSize int `toml:"default_batch_size"`
			ShutdownGraceMS  int `toml:"shutdown_grace_ms"`
		} `toml:"engine"`
		History struct {
			RecordTimeoutMS int `toml:"record_timeout_ms"`
		} `toml:"history"`
		Kafka struct {
			Enabled    bool     `toml:"enabled"`
			Brokers    []string `toml:"brokers"`
			Topic      string   `toml:"topic"`
			EntryStage string   `toml:"entry_stage"`
		} `toml:"kafka"`
		Logging struct {
			Level          string            `toml:"level"`
			StageOverrides map[string]string `toml:"stage_overrides"`
		} `toml:"logging"`
	}
	custom := payload{}
	custom.Engine.DefaultBatchSize = 8
	custom.Engine.ShutdownGraceMS = 250
	custom.History.RecordTimeoutMS = 300
	custom.Kafka.Enabled = true
	custom.Kafka.Brokers = []string{" kafka:9092 ", "kafka:9092", ""}
	custom.Kafka.Topic = "docs"
	custom.Kafka.EntryStage = "intake"
	custom.Logging.Level = "DEBUG"
	custom.Logging.StageOverrides = map[string]string{" intake ": " Warn "}
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Engine.DefaultBatchSize != 8 {
		t.Fatalf("expected batch size 8, got %d", cfg.Engine.DefaultBatchSize)
	}
	if cfg.ShutdownGrace() != 250*time.Millisecond {
		t.Fatalf("unexpected shutdown grace: %s", cfg.ShutdownGrace())
	}
	if cfg.RecordTimeout() != 300*time.Millisecond {
		t.Fatalf("unexpected record timeout: %s", cfg.RecordTimeout())
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "kafka:9092" {
		t.Fatalf("expected deduplicated brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.GroupID != "ingest" {
		t.Fatalf("expected default group id, got %q", cfg.Kafka.GroupID)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected lowercased level, got %q", cfg.Logging.Level)
	}
	if got := cfg.Logging.StageOverrides["intake"]; got != "warn" {
		t.Fatalf("expected normalized stage override, got %q", got)
	}
}

func TestEnvVarOverridesConfigFile(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "ingest.toml")
	contents := `
[history]
driver = "postgres"
postgres_dsn = "postgres://file"

[kafka]
brokers = ["file:9092"]
topic = "file-topic"

[s3]
endpoint = "file:9000"
access_key = "file-access"
`
	if err := os.WriteFile(configPath, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("INGEST_POSTGRES_DSN", "postgres://env")
	t.Setenv("KAFKA_BROKER", "a:9092,b:9092")
	t.Setenv("KAFKA_TOPIC", "env-topic")
	t.Setenv("KAFKA_GROUP_ID", "env-group")
	t.Setenv("MINIO_ENDPOINT", "env:9000")
	t.Setenv("MINIO_ACCESS_KEY", "env-access")
	t.Setenv("MINIO_SECRET_KEY", "env-secret")
	t.Setenv("NTFY_TOPIC", " https://ntfy.example/ingest ")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.History.PostgresDSN != "postgres://env" {
		t.Errorf("expected dsn from env, got %q", cfg.History.PostgresDSN)
	}
	if strings.Join(cfg.Kafka.Brokers, ",") != "a:9092,b:9092" {
		t.Errorf("expected brokers from env, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.Topic != "env-topic" || cfg.Kafka.GroupID != "env-group" {
		t.Errorf("expected kafka topic/group from env, got %q/%q", cfg.Kafka.Topic, cfg.Kafka.GroupID)
	}
	if cfg.S3.Endpoint != "env:9000" || cfg.S3.AccessKey != "env-access" || cfg.S3.SecretKey != "env-secret" {
		t.Errorf("expected s3 credentials from env, got %+v", cfg.S3)
	}
	if cfg.Notifications.NtfyTopic != "https://ntfy.example/ingest" {
		t.Errorf("expected ntfy topic from env, got %q", cfg.Notifications.NtfyTopic)
	}
	if cfg.NtfyTimeout() != 10*time.Second {
		t.Errorf("expected default ntfy timeout, got %s", cfg.NtfyTimeout())
	}
	if cfg.RecordTimeout() != 2*time.Second {
		t.Errorf("expected default record timeout, got %s", cfg.RecordTimeout())
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if cfg.Engine.DefaultBatchSize != 50 {
		t.Fatalf("expected sample batch size 50, got %d", cfg.Engine.DefaultBatchSize)
	}
	if !strings.Contains(cfg.Paths.DataDir, "ingest") {
		t.Fatalf("expected data dir to contain ingest, got %q", cfg.Paths.DataDir)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero batch size", func(c *config.Config) { c.Engine.DefaultBatchSize = 0 }},
		{"zero idle poll", func(c *config.Config) { c.Engine.IdlePollMS = 0 }},
		{"negative grace", func(c *config.Config) { c.Engine.ShutdownGraceMS = -1 }},
		{"unknown history driver", func(c *config.Config) { c.History.Driver = "mongo" }},
		{"postgres without dsn", func(c *config.Config) { c.History.Driver = config.HistoryPostgres }},
		{"kafka without brokers", func(c *config.Config) {
			c.Kafka.Enabled = true
			c.Kafka.Topic = "docs"
			c.Kafka.EntryStage = "intake"
		}},
		{"kafka without entry stage", func(c *config.Config) {
			c.Kafka.Enabled = true
			c.Kafka.Brokers = []string{"kafka:9092"}
			c.Kafka.Topic = "docs"
		}},
		{"scanner without dir", func(c *config.Config) {
			c.Scanner.Enabled = true
			c.Scanner.EntryStage = "intake"
		}},
		{"bad log level", func(c *config.Config) { c.Logging.Level = "loud" }},
		{"bad stage override", func(c *config.Config) { c.Logging.StageOverrides = map[string]string{"a": "loud"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			cfg.History.SQLitePath = "/tmp/history.db"
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, services.ErrConfiguration) {
				t.Fatalf("expected configuration marker, got %v", err)
			}
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := config.Default()
	cfg.History.SQLitePath = "/tmp/history.db"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}
