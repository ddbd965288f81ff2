package config

// Default values for configuration options: layer 0 of the override chain.
const (
	defaultMaxWorkers             = 4
	defaultParallelThreshold      = 30
	defaultTimeout                = "0"
	defaultDrainTimeout           = "30s"
	defaultPollInterval           = "150ms"
	defaultMassDowngradeThreshold = 3
	defaultLargeBatchThreshold    = 20
	defaultLogLevel               = "info"
	defaultLogFormat              = "text"
	defaultDBFileName             = "labels.db"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset fields retain defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxWorkers:        defaultMaxWorkers,
			ParallelThreshold: defaultParallelThreshold,
			Timeout:           defaultTimeout,
			DrainTimeout:      defaultDrainTimeout,
			PollInterval:      defaultPollInterval,
		},
		Analysis: AnalysisConfig{
			MassDowngradeThreshold: defaultMassDowngradeThreshold,
			LargeBatchThreshold:    defaultLargeBatchThreshold,
		},
		Store: StoreConfig{
			VerifyTargets: true,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		Labels: DefaultLabels(),
	}
}

// DefaultLabels is the catalog used when the config file defines none.
func DefaultLabels() []LabelConfig {
	return []LabelConfig{
		{ID: "public", Name: "Public", Rank: 0},
		{ID: "internal", Name: "Internal", Rank: 1},
		{ID: "confidential", Name: "Confidential", Rank: 2},
		{ID: "restricted", Name: "Restricted", Rank: 3, RequiresProtection: true},
	}
}
