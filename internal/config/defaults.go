package config

const (
	defaultDataDir          = "~/.local/share/ingest"
	defaultLogDir           = "~/.local/share/ingest/logs"
	defaultPlanFile         = "~/.config/ingest/plan.toml"
	defaultHistoryFile      = "history.db"
	defaultLogRetentionDays = 30
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
	defaultBatchSize        = 50
	defaultInactivePollMS   = 50
	defaultIdlePollMS       = 5
	defaultShutdownGraceMS  = 1000
	defaultKafkaGroupID     = "ingest"
	defaultScannerPattern   = "*"
	defaultNtfyTimeout      = 10
	defaultRecordTimeoutMS  = 2000
)

// History drivers.
const (
	HistorySQLite   = "sqlite"
	HistoryPostgres = "postgres"
	HistoryNone     = "none"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			LogDir:   defaultLogDir,
			PlanFile: defaultPlanFile,
		},
		Engine: Engine{
			DefaultBatchSize: defaultBatchSize,
			InactivePollMS:   defaultInactivePollMS,
			IdlePollMS:       defaultIdlePollMS,
			ShutdownGraceMS:  defaultShutdownGraceMS,
		},
		History: History{
			Driver:          HistorySQLite,
			RecordTimeoutMS: defaultRecordTimeoutMS,
		},
		Kafka: Kafka{
			GroupID: defaultKafkaGroupID,
		},
		Scanner: Scanner{
			Pattern: defaultScannerPattern,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNtfyTimeout,
			OnStart:        true,
			OnError:        true,
			OnDrain:        true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
