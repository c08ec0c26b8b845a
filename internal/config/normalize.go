package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeEngine()
	if err := c.normalizeHistory(); err != nil {
		return err
	}
	c.normalizeKafka()
	c.normalizeS3()
	if err := c.normalizeScanner(); err != nil {
		return err
	}
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeNotifications() {
	if value, ok := os.LookupEnv("NTFY_TOPIC"); ok && strings.TrimSpace(value) != "" {
		c.Notifications.NtfyTopic = value
	}
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNtfyTimeout
	}
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		c.Paths.DataDir = defaultDataDir
	}
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Paths.PlanFile, err = expandPath(strings.TrimSpace(c.Paths.PlanFile)); err != nil {
		return fmt.Errorf("paths.plan_file: %w", err)
	}
	return nil
}

func (c *Config) normalizeEngine() {
	if c.Engine.DefaultBatchSize <= 0 {
		c.Engine.DefaultBatchSize = defaultBatchSize
	}
	if c.Engine.InactivePollMS <= 0 {
		c.Engine.InactivePollMS = defaultInactivePollMS
	}
	if c.Engine.IdlePollMS <= 0 {
		c.Engine.IdlePollMS = defaultIdlePollMS
	}
	if c.Engine.ShutdownGraceMS <= 0 {
		c.Engine.ShutdownGraceMS = defaultShutdownGraceMS
	}
}

func (c *Config) normalizeHistory() error {
	c.History.Driver = strings.ToLower(strings.TrimSpace(c.History.Driver))
	if c.History.Driver == "" {
		c.History.Driver = HistorySQLite
	}
	if value, ok := os.LookupEnv("INGEST_POSTGRES_DSN"); ok && strings.TrimSpace(value) != "" {
		c.History.PostgresDSN = strings.TrimSpace(value)
	}
	c.History.PostgresDSN = strings.TrimSpace(c.History.PostgresDSN)
	if c.History.RecordTimeoutMS <= 0 {
		c.History.RecordTimeoutMS = defaultRecordTimeoutMS
	}
	if strings.TrimSpace(c.History.SQLitePath) == "" {
		c.History.SQLitePath = filepath.Join(c.Paths.DataDir, defaultHistoryFile)
	}
	var err error
	if c.History.SQLitePath, err = expandPath(c.History.SQLitePath); err != nil {
		return fmt.Errorf("history.sqlite_path: %w", err)
	}
	return nil
}

func (c *Config) normalizeKafka() {
	if value, ok := os.LookupEnv("KAFKA_BROKER"); ok && strings.TrimSpace(value) != "" {
		c.Kafka.Brokers = strings.Split(value, ",")
	}
	if value, ok := os.LookupEnv("KAFKA_TOPIC"); ok && strings.TrimSpace(value) != "" {
		c.Kafka.Topic = value
	}
	if value, ok := os.LookupEnv("KAFKA_GROUP_ID"); ok && strings.TrimSpace(value) != "" {
		c.Kafka.GroupID = value
	}
	brokers := make([]string, 0, len(c.Kafka.Brokers))
	seen := make(map[string]struct{}, len(c.Kafka.Brokers))
	for _, broker := range c.Kafka.Brokers {
		trimmed := strings.TrimSpace(broker)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		brokers = append(brokers, trimmed)
	}
	c.Kafka.Brokers = brokers
	c.Kafka.Topic = strings.TrimSpace(c.Kafka.Topic)
	c.Kafka.GroupID = strings.TrimSpace(c.Kafka.GroupID)
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = defaultKafkaGroupID
	}
	c.Kafka.EntryStage = strings.TrimSpace(c.Kafka.EntryStage)
}

func (c *Config) normalizeS3() {
	if value, ok := os.LookupEnv("MINIO_ENDPOINT"); ok && strings.TrimSpace(value) != "" {
		c.S3.Endpoint = value
	}
	if value, ok := os.LookupEnv("MINIO_ACCESS_KEY"); ok && strings.TrimSpace(value) != "" {
		c.S3.AccessKey = value
	}
	if value, ok := os.LookupEnv("MINIO_SECRET_KEY"); ok && strings.TrimSpace(value) != "" {
		c.S3.SecretKey = value
	}
	c.S3.Endpoint = strings.TrimSpace(c.S3.Endpoint)
	c.S3.AccessKey = strings.TrimSpace(c.S3.AccessKey)
	c.S3.SecretKey = strings.TrimSpace(c.S3.SecretKey)
	c.S3.Bucket = strings.TrimSpace(c.S3.Bucket)
}

func (c *Config) normalizeScanner() error {
	var err error
	if c.Scanner.Dir, err = expandPath(strings.TrimSpace(c.Scanner.Dir)); err != nil {
		return fmt.Errorf("scanner.dir: %w", err)
	}
	c.Scanner.Pattern = strings.TrimSpace(c.Scanner.Pattern)
	if c.Scanner.Pattern == "" {
		c.Scanner.Pattern = defaultScannerPattern
	}
	c.Scanner.EntryStage = strings.TrimSpace(c.Scanner.EntryStage)
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
	if len(c.Logging.StageOverrides) > 0 {
		overrides := make(map[string]string, len(c.Logging.StageOverrides))
		for stage, level := range c.Logging.StageOverrides {
			stage = strings.TrimSpace(stage)
			level = strings.ToLower(strings.TrimSpace(level))
			if stage == "" || level == "" {
				continue
			}
			overrides[stage] = level
		}
		c.Logging.StageOverrides = overrides
	}
}
