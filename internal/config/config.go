package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap/zapcore"

	"github.com/nixlim/durtop/internal/anomaly"
)

type Config struct {
	Receiver      ReceiverConfig
	Monitor       MonitorConfig
	Limits        LimitsConfig
	Display       DisplayConfig
	Storage       StorageConfig
	Logging       LoggingConfig
	Notifications NotificationConfig
	Alerts        []AlertConfig
}

type ReceiverConfig struct {
	GRPCPort int    `toml:"grpc_port"`
	HTTPPort int    `toml:"http_port"`
	Bind     string `toml:"bind"`
}

type MonitorConfig struct {
	PollIntervalMS int `toml:"poll_interval_ms"`
}

type LimitsConfig struct {
	DimensionSoftLimit int `toml:"dimension_soft_limit"`
	DimensionHardLimit int `toml:"dimension_hard_limit"`
}

type DisplayConfig struct {
	EventBufferSize int `toml:"event_buffer_size"`
	RefreshRateMS   int `toml:"refresh_rate_ms"`
}

type StorageConfig struct {
	DBPath        string `toml:"db_path"`
	RetentionDays int    `toml:"retention_days"`
}

type LoggingConfig struct {
	File       string `toml:"file"`
	Level      string `toml:"level"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
}

type NotificationConfig struct {
	SystemNotify bool `toml:"system_notify"`
}

// AlertConfig describes one duration alert and the events that drive it.
type AlertConfig struct {
	Name                    string   `toml:"name"`
	StartEvent              string   `toml:"start_event"`
	StopEvent               string   `toml:"stop_event"`
	ConditionTrueEvent      string   `toml:"condition_true_event"`
	ConditionFalseEvent     string   `toml:"condition_false_event"`
	ConditionInitially      bool     `toml:"condition_initially"`
	Dimensions              []string `toml:"dimensions"`
	ConditionDimensions     []string `toml:"condition_dimensions"`
	NumBuckets              int      `toml:"num_buckets"`
	BucketSizeSeconds       int      `toml:"bucket_size_seconds"`
	ThresholdMS             int64    `toml:"threshold_ms"`
	RefractoryPeriodSeconds int      `toml:"refractory_period_seconds"`
	CountNesting            bool     `toml:"count_nesting"`
}

// HasCondition reports whether the alert is gated by condition events.
func (a AlertConfig) HasCondition() bool {
	return a.ConditionTrueEvent != "" && a.ConditionFalseEvent != ""
}

// Spec converts the alert into the tracker configuration.
func (a AlertConfig) Spec() anomaly.AlertSpec {
	return anomaly.AlertSpec{
		Name:                a.Name,
		NumBuckets:          a.NumBuckets,
		BucketSize:          time.Duration(a.BucketSizeSeconds) * time.Second,
		Threshold:           time.Duration(a.ThresholdMS) * time.Millisecond,
		RefractoryPeriodSec: uint32(max(a.RefractoryPeriodSeconds, 0)),
		CountNesting:        a.CountNesting,
	}
}

type LoadResult struct {
	Config   Config
	Warnings []string
}

var knownTopLevel = map[string]bool{
	"receiver":      true,
	"monitor":       true,
	"limits":        true,
	"display":       true,
	"storage":       true,
	"logging":       true,
	"notifications": true,
	"alert":         true,
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "durtop", "config.toml")
}

func Load() (*LoadResult, error) {
	return LoadFrom(defaultConfigPath())
}

func LoadFrom(path string) (*LoadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &LoadResult{Config: DefaultConfig()}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	result, err := parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := validate(&result.Config); err != nil {
		return nil, err
	}
	return result, nil
}

func LoadFromString(data string) (*LoadResult, error) {
	if data == "" {
		return &LoadResult{Config: DefaultConfig()}, nil
	}

	result, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := validate(&result.Config); err != nil {
		return nil, err
	}
	return result, nil
}

func parse(data string) (*LoadResult, error) {
	result := &LoadResult{Config: DefaultConfig()}

	var raw map[string]any
	if _, err := toml.Decode(data, &raw); err != nil {
		return nil, err
	}
	for key := range raw {
		if !knownTopLevel[key] {
			result.Warnings = append(result.Warnings, fmt.Sprintf("unknown config key: %q", key))
		}
	}

	var tf tomlFile
	if _, err := toml.Decode(data, &tf); err != nil {
		return nil, err
	}

	mergeFromRaw(&result.Config, &tf, raw)
	mergeAlertsFromRaw(&result.Config, &tf, raw)
	return result, nil
}

type tomlFile struct {
	Receiver      *ReceiverConfig     `toml:"receiver"`
	Monitor       *MonitorConfig      `toml:"monitor"`
	Limits        *LimitsConfig       `toml:"limits"`
	Display       *DisplayConfig      `toml:"display"`
	Storage       *StorageConfig      `toml:"storage"`
	Logging       *LoggingConfig      `toml:"logging"`
	Notifications *NotificationConfig `toml:"notifications"`
	Alerts        []AlertConfig       `toml:"alert"`
}

func mergeFromRaw(cfg *Config, tf *tomlFile, raw map[string]any) {
	if tf.Receiver != nil {
		if section, ok := rawSection(raw, "receiver"); ok {
			if _, exists := section["grpc_port"]; exists {
				cfg.Receiver.GRPCPort = tf.Receiver.GRPCPort
			}
			if _, exists := section["http_port"]; exists {
				cfg.Receiver.HTTPPort = tf.Receiver.HTTPPort
			}
			if _, exists := section["bind"]; exists {
				cfg.Receiver.Bind = tf.Receiver.Bind
			}
		}
	}
	if tf.Monitor != nil {
		if section, ok := rawSection(raw, "monitor"); ok {
			if _, exists := section["poll_interval_ms"]; exists {
				cfg.Monitor.PollIntervalMS = tf.Monitor.PollIntervalMS
			}
		}
	}
	if tf.Limits != nil {
		if section, ok := rawSection(raw, "limits"); ok {
			if _, exists := section["dimension_soft_limit"]; exists {
				cfg.Limits.DimensionSoftLimit = tf.Limits.DimensionSoftLimit
			}
			if _, exists := section["dimension_hard_limit"]; exists {
				cfg.Limits.DimensionHardLimit = tf.Limits.DimensionHardLimit
			}
		}
	}
	if tf.Display != nil {
		if section, ok := rawSection(raw, "display"); ok {
			if _, exists := section["event_buffer_size"]; exists {
				cfg.Display.EventBufferSize = tf.Display.EventBufferSize
			}
			if _, exists := section["refresh_rate_ms"]; exists {
				cfg.Display.RefreshRateMS = tf.Display.RefreshRateMS
			}
		}
	}
	if tf.Storage != nil {
		if section, ok := rawSection(raw, "storage"); ok {
			if _, exists := section["db_path"]; exists {
				cfg.Storage.DBPath = tf.Storage.DBPath
			}
			if _, exists := section["retention_days"]; exists {
				cfg.Storage.RetentionDays = tf.Storage.RetentionDays
			}
		}
	}
	if tf.Logging != nil {
		if section, ok := rawSection(raw, "logging"); ok {
			if _, exists := section["file"]; exists {
				cfg.Logging.File = tf.Logging.File
			}
			if _, exists := section["level"]; exists {
				cfg.Logging.Level = tf.Logging.Level
			}
			if _, exists := section["max_size_mb"]; exists {
				cfg.Logging.MaxSizeMB = tf.Logging.MaxSizeMB
			}
			if _, exists := section["max_backups"]; exists {
				cfg.Logging.MaxBackups = tf.Logging.MaxBackups
			}
			if _, exists := section["max_age_days"]; exists {
				cfg.Logging.MaxAgeDays = tf.Logging.MaxAgeDays
			}
		}
	}
	if tf.Notifications != nil {
		if section, ok := rawSection(raw, "notifications"); ok {
			if _, exists := section["system_notify"]; exists {
				cfg.Notifications.SystemNotify = tf.Notifications.SystemNotify
			}
		}
	}
}

// mergeAlertsFromRaw replaces the default alerts with the [[alert]] tables
// from the file. Keys missing from a table keep the per-alert defaults.
func mergeAlertsFromRaw(cfg *Config, tf *tomlFile, raw map[string]any) {
	tables, ok := raw["alert"].([]map[string]any)
	if !ok || len(tables) != len(tf.Alerts) {
		return
	}

	alerts := make([]AlertConfig, 0, len(tables))
	for i, section := range tables {
		src := tf.Alerts[i]
		a := defaultAlert()
		a.Name = src.Name
		a.StartEvent = src.StartEvent
		a.StopEvent = src.StopEvent
		a.ConditionTrueEvent = src.ConditionTrueEvent
		a.ConditionFalseEvent = src.ConditionFalseEvent
		a.Dimensions = src.Dimensions
		a.ConditionDimensions = src.ConditionDimensions

		if _, exists := section["condition_initially"]; exists {
			a.ConditionInitially = src.ConditionInitially
		}
		if _, exists := section["num_buckets"]; exists {
			a.NumBuckets = src.NumBuckets
		}
		if _, exists := section["bucket_size_seconds"]; exists {
			a.BucketSizeSeconds = src.BucketSizeSeconds
		}
		if _, exists := section["threshold_ms"]; exists {
			a.ThresholdMS = src.ThresholdMS
		}
		if _, exists := section["refractory_period_seconds"]; exists {
			a.RefractoryPeriodSeconds = src.RefractoryPeriodSeconds
		}
		if _, exists := section["count_nesting"]; exists {
			a.CountNesting = src.CountNesting
		}
		alerts = append(alerts, a)
	}
	cfg.Alerts = alerts
}

func rawSection(raw map[string]any, key string) (map[string]any, bool) {
	v, ok := raw[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Receiver.GRPCPort < 1 || cfg.Receiver.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("grpc_port must be 1-65535, got %d", cfg.Receiver.GRPCPort))
	}
	if cfg.Receiver.HTTPPort < 1 || cfg.Receiver.HTTPPort > 65535 {
		errs = append(errs, fmt.Sprintf("http_port must be 1-65535, got %d", cfg.Receiver.HTTPPort))
	}

	if cfg.Monitor.PollIntervalMS < 1 {
		errs = append(errs, fmt.Sprintf("poll_interval_ms must be positive, got %d", cfg.Monitor.PollIntervalMS))
	}

	if cfg.Limits.DimensionSoftLimit < 0 {
		errs = append(errs, fmt.Sprintf("dimension_soft_limit must not be negative, got %d", cfg.Limits.DimensionSoftLimit))
	}
	if cfg.Limits.DimensionHardLimit < 0 {
		errs = append(errs, fmt.Sprintf("dimension_hard_limit must not be negative, got %d", cfg.Limits.DimensionHardLimit))
	}
	if cfg.Limits.DimensionHardLimit > 0 && cfg.Limits.DimensionSoftLimit > cfg.Limits.DimensionHardLimit {
		errs = append(errs, fmt.Sprintf("dimension_soft_limit %d exceeds dimension_hard_limit %d",
			cfg.Limits.DimensionSoftLimit, cfg.Limits.DimensionHardLimit))
	}

	if cfg.Display.EventBufferSize < 1 {
		errs = append(errs, fmt.Sprintf("event_buffer_size must be positive, got %d", cfg.Display.EventBufferSize))
	}
	if cfg.Display.RefreshRateMS < 1 {
		errs = append(errs, fmt.Sprintf("refresh_rate_ms must be positive, got %d", cfg.Display.RefreshRateMS))
	}

	if cfg.Storage.RetentionDays <= 0 {
		errs = append(errs, fmt.Sprintf("storage retention_days must be positive, got %d", cfg.Storage.RetentionDays))
	}

	if _, err := zapcore.ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, fmt.Sprintf("logging level %q is not valid", cfg.Logging.Level))
	}
	if cfg.Logging.MaxSizeMB < 1 {
		errs = append(errs, fmt.Sprintf("logging max_size_mb must be positive, got %d", cfg.Logging.MaxSizeMB))
	}

	names := make(map[string]bool, len(cfg.Alerts))
	for i, a := range cfg.Alerts {
		label := a.Name
		if label == "" {
			label = fmt.Sprintf("#%d", i+1)
		}
		if names[a.Name] {
			errs = append(errs, fmt.Sprintf("alert %q is defined more than once", a.Name))
		}
		names[a.Name] = true

		if a.StartEvent == "" || a.StopEvent == "" {
			errs = append(errs, fmt.Sprintf("alert %s: start_event and stop_event are required", label))
		} else if a.StartEvent == a.StopEvent {
			errs = append(errs, fmt.Sprintf("alert %s: start_event and stop_event must differ", label))
		}
		if (a.ConditionTrueEvent == "") != (a.ConditionFalseEvent == "") {
			errs = append(errs, fmt.Sprintf("alert %s: condition_true_event and condition_false_event must be set together", label))
		}
		if len(a.Dimensions) == 0 {
			errs = append(errs, fmt.Sprintf("alert %s: at least one dimension is required", label))
		}
		if a.RefractoryPeriodSeconds < 0 {
			errs = append(errs, fmt.Sprintf("alert %s: refractory_period_seconds must not be negative, got %d", label, a.RefractoryPeriodSeconds))
		}
		if err := a.Spec().Validate(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation error: %s", strings.Join(errs, "; "))
	}
	return nil
}
