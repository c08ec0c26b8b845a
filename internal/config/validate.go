package config

import (
	"errors"
	"fmt"
	"strings"

	"ingest/internal/services"
)

var validLevels = map[string]struct{}{
	"debug": {},
	"info":  {},
	"warn":  {},
	"error": {},
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateEngine(); err != nil {
		return err
	}
	if err := c.validateHistory(); err != nil {
		return err
	}
	if err := c.validateKafka(); err != nil {
		return err
	}
	if err := c.validateScanner(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateEngine() error {
	if err := ensurePositiveMap(map[string]int{
		"engine.default_batch_size": c.Engine.DefaultBatchSize,
		"engine.inactive_poll_ms":   c.Engine.InactivePollMS,
		"engine.idle_poll_ms":       c.Engine.IdlePollMS,
		"engine.shutdown_grace_ms":  c.Engine.ShutdownGraceMS,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateHistory() error {
	switch c.History.Driver {
	case HistorySQLite:
		if strings.TrimSpace(c.History.SQLitePath) == "" {
			return configError(errors.New("history.sqlite_path must be set when history.driver is sqlite"))
		}
	case HistoryPostgres:
		if c.History.PostgresDSN == "" {
			return configError(errors.New("history.postgres_dsn must be set when history.driver is postgres (or set INGEST_POSTGRES_DSN)"))
		}
	case HistoryNone:
	default:
		return configError(fmt.Errorf("history.driver: unsupported value %q (want sqlite, postgres or none)", c.History.Driver))
	}
	return nil
}

func (c *Config) validateKafka() error {
	if !c.Kafka.Enabled {
		return nil
	}
	if len(c.Kafka.Brokers) == 0 {
		return configError(errors.New("kafka.brokers must include at least one broker when kafka.enabled is true (or set KAFKA_BROKER)"))
	}
	if c.Kafka.Topic == "" {
		return configError(errors.New("kafka.topic must be set when kafka.enabled is true"))
	}
	if c.Kafka.EntryStage == "" {
		return configError(errors.New("kafka.entry_stage must be set when kafka.enabled is true"))
	}
	return nil
}

func (c *Config) validateScanner() error {
	if !c.Scanner.Enabled {
		return nil
	}
	if c.Scanner.Dir == "" {
		return configError(errors.New("scanner.dir must be set when scanner.enabled is true"))
	}
	if c.Scanner.EntryStage == "" {
		return configError(errors.New("scanner.entry_stage must be set when scanner.enabled is true"))
	}
	return nil
}

func (c *Config) validateLogging() error {
	if _, ok := validLevels[c.Logging.Level]; !ok {
		return configError(fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level))
	}
	for stage, level := range c.Logging.StageOverrides {
		if _, ok := validLevels[level]; !ok {
			return configError(fmt.Errorf("logging.stage_overrides.%s: unsupported level %q", stage, level))
		}
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return configError(fmt.Errorf("%s must be positive", key))
		}
	}
	return nil
}

func configError(err error) error {
	return services.Wrap(services.ErrConfiguration, "config", "validate", "", err)
}
