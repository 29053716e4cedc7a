package config

const (
	defaultWorkDir            = "~/.local/share/shroud/work"
	defaultLogDir             = "~/.local/share/shroud/logs"
	defaultRegion             = "eu-west-2"
	defaultOpTimeoutSeconds   = 60
	defaultQueueSize          = 3
	defaultPollInterval       = 30
	defaultErrorRetryInterval = 10
	defaultImageParallelism   = 1
	defaultTargetLevel        = "mid"
	defaultTransformBinary    = "cloak"
	defaultMetadataEndpoint   = "http://169.254.169.254"
	defaultInterruptInterval  = 30
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		Store: Store{
			Region:           defaultRegion,
			OpTimeoutSeconds: defaultOpTimeoutSeconds,
		},
		Layout: Layout{
			OriginalsPrefix: "originals/",
			CloakedPrefix:   "cloaked/",
			LocksPrefix:     "locks/",
			ProgressPrefix:  "tempProgress/",
			FramesPrefix:    "tempFrames/",
			FailedPrefix:    "failed/",
		},
		Policy: Policy{
			ImageLevels: []string{"low", "mid", "high"},
			VideoLevels: []string{"mid"},
		},
		Workflow: Workflow{
			QueueSize:          defaultQueueSize,
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			ImageParallelism:   defaultImageParallelism,
			TargetLevel:        defaultTargetLevel,
			AllLevels:          true,
		},
		Transform: Transform{
			Binary: defaultTransformBinary,
		},
		Interrupt: Interrupt{
			Enabled:          true,
			MetadataEndpoint: defaultMetadataEndpoint,
			PollInterval:     defaultInterruptInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
