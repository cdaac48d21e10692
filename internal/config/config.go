package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

var singleConfig *Config = nil

type Config struct {
	Database   *dbConfig
	Service    *svcConfig
	Validation *validationConfig
}

type dbConfig struct {
	Name string `envconfig:"SPATIALQC_DB_NAME" default:"spatialqc.db"`
}

type svcConfig struct {
	LogLevel string `envconfig:"SPATIALQC_LOG_LEVEL" default:"info"`
}

type validationConfig struct {
	// StageConfigFile is the YAML file holding the per-stage check and
	// relation-rule rows consumed by the orchestrator.
	StageConfigFile string `envconfig:"SPATIALQC_STAGE_CONFIG" default:"stages.yaml"`
	// CacheAdmissionBytes caps the estimated size of a single cached value.
	// Anything larger is recomputed on every use instead of being stored.
	CacheAdmissionBytes int64 `envconfig:"SPATIALQC_CACHE_ADMISSION_BYTES" default:"67108864"`
	// CacheSweepInterval drives the background janitor removing idle entries.
	CacheSweepInterval time.Duration `envconfig:"SPATIALQC_CACHE_SWEEP_INTERVAL" default:"10m"`
	// CacheMaxIdle is the age past which an untouched entry is swept.
	CacheMaxIdle time.Duration `envconfig:"SPATIALQC_CACHE_MAX_IDLE" default:"30m"`
	// JobRetention is how long terminal jobs stay visible before removal.
	JobRetention time.Duration `envconfig:"SPATIALQC_JOB_RETENTION" default:"24h"`
}

func New() (*Config, error) {
	if singleConfig == nil {
		singleConfig = new(Config)
		if err := envconfig.Process("", singleConfig); err != nil {
			return nil, err
		}
	}
	return singleConfig, nil
}

// NewDefault returns a configuration populated with defaults only,
// ignoring the process environment. Used by tests.
func NewDefault() *Config {
	return &Config{
		Database: &dbConfig{Name: ":memory:"},
		Service:  &svcConfig{LogLevel: "info"},
		Validation: &validationConfig{
			StageConfigFile:     "stages.yaml",
			CacheAdmissionBytes: 64 << 20,
			CacheSweepInterval:  10 * time.Minute,
			CacheMaxIdle:        30 * time.Minute,
			JobRetention:        24 * time.Hour,
		},
	}
}
