package config

func DefaultConfig() Config {
	return Config{
		Receiver: ReceiverConfig{
			GRPCPort: 4317,
			HTTPPort: 4318,
			Bind:     "127.0.0.1",
		},
		Monitor: MonitorConfig{
			PollIntervalMS: 1000,
		},
		Limits: LimitsConfig{
			DimensionSoftLimit: 500,
			DimensionHardLimit: 800,
		},
		Display: DisplayConfig{
			EventBufferSize: 1000,
			RefreshRateMS:   500,
		},
		Storage: StorageConfig{
			DBPath:        "~/.local/share/durtop/durtop.db",
			RetentionDays: 7,
		},
		Logging: LoggingConfig{
			File:       "",
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Notifications: NotificationConfig{
			SystemNotify: true,
		},
		Alerts: []AlertConfig{
			{
				Name:                    "wakelock_screen_off",
				StartEvent:              "wakelock.acquire",
				StopEvent:               "wakelock.release",
				ConditionTrueEvent:      "screen.off",
				ConditionFalseEvent:     "screen.on",
				ConditionInitially:      false,
				Dimensions:              []string{"uid"},
				NumBuckets:              12,
				BucketSizeSeconds:       300,
				ThresholdMS:             30 * 60 * 1000,
				RefractoryPeriodSeconds: 3600,
				CountNesting:            true,
			},
		},
	}
}

// defaultAlert holds the values an [[alert]] table falls back to.
func defaultAlert() AlertConfig {
	return AlertConfig{
		ConditionInitially:      true,
		NumBuckets:              1,
		BucketSizeSeconds:       300,
		RefractoryPeriodSeconds: 3600,
		CountNesting:            true,
	}
}
