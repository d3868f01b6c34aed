package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// ApplyEnvOverrides reads configuration values from environment variables and
// overrides fields in the provided Config. Returns an error if parsing fails.
//
// Environment variables supported:
// - TSMON_POLL_INTERVAL (duration, e.g. "10s")
// - TSMON_LEAVE_DEBOUNCE (duration, e.g. "5s")
// - TSMON_CONNECT_ATTEMPTS (int)
// - TSMON_CONNECT_BACKOFF (duration, e.g. "30s")
// - TSMON_MAX_CYCLE_FAILURES (int)
// - TSMON_RECONNECT_PENALTY (duration)
// - TSMON_QUEUE_MAX_RETRIES (int)
// - TSMON_NOTIFICATION_LEVEL (all|events|status|none)
// - TSMON_DATA_FILE (path)
// - TSMON_METRICS_ENABLED (bool), TSMON_METRICS_PORT (int)
// - TSMON_INFLUX_URL / _TOKEN / _ORG / _BUCKET / _INTERVAL
func ApplyEnvOverrides(cfg *Config) error {
	if err := applyTimingEnv(cfg); err != nil {
		return err
	}
	if err := applyDispatchEnv(cfg); err != nil {
		return err
	}
	if err := applyMetricsEnv(cfg); err != nil {
		return err
	}
	return applyInfluxEnv(cfg)
}

func applyTimingEnv(cfg *Config) error {
	if err := setDurationEnv("TSMON_POLL_INTERVAL", func(d time.Duration) { cfg.PollInterval = d }); err != nil {
		return err
	}
	if err := setDurationEnv("TSMON_LEAVE_DEBOUNCE", func(d time.Duration) { cfg.LeaveDebounce = d }); err != nil {
		return err
	}
	if err := setDurationEnv("TSMON_CONNECT_BACKOFF", func(d time.Duration) { cfg.ConnectBackoff = d }); err != nil {
		return err
	}
	if err := setDurationEnv("TSMON_RECONNECT_PENALTY", func(d time.Duration) { cfg.ReconnectPenalty = d }); err != nil {
		return err
	}
	if err := setIntEnv("TSMON_CONNECT_ATTEMPTS", func(n int) { cfg.ConnectAttempts = n }); err != nil {
		return err
	}
	return setIntEnv("TSMON_MAX_CYCLE_FAILURES", func(n int) { cfg.MaxCycleFailures = n })
}

func applyDispatchEnv(cfg *Config) error {
	if err := setIntEnv("TSMON_QUEUE_MAX_RETRIES", func(n int) { cfg.QueueMaxRetries = n }); err != nil {
		return err
	}
	if v := os.Getenv("TSMON_NOTIFICATION_LEVEL"); v != "" {
		cfg.NotificationLevel = v
	}
	if v := os.Getenv("TSMON_DATA_FILE"); v != "" {
		cfg.DataFile = v
	}
	return nil
}

func applyMetricsEnv(cfg *Config) error {
	if err := setBoolEnv("TSMON_METRICS_ENABLED", func(b bool) { cfg.MetricsEnabled = b }); err != nil {
		return err
	}
	return setIntEnv("TSMON_METRICS_PORT", func(n int) { cfg.MetricsPort = n })
}

func applyInfluxEnv(cfg *Config) error {
	if v := os.Getenv("TSMON_INFLUX_URL"); v != "" {
		cfg.InfluxURL = v
	}
	if v := os.Getenv("TSMON_INFLUX_TOKEN"); v != "" {
		cfg.InfluxToken = v
	}
	if v := os.Getenv("TSMON_INFLUX_ORG"); v != "" {
		cfg.InfluxOrg = v
	}
	if v := os.Getenv("TSMON_INFLUX_BUCKET"); v != "" {
		cfg.InfluxBucket = v
	}
	return setDurationEnv("TSMON_INFLUX_INTERVAL", func(d time.Duration) { cfg.InfluxInterval = d })
}

func setDurationEnv(env string, setter func(time.Duration)) error {
	if v := os.Getenv(env); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		setter(d)
	}
	return nil
}

func setIntEnv(env string, setter func(int)) error {
	if v := os.Getenv(env); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		setter(n)
	}
	return nil
}

func setBoolEnv(env string, setter func(bool)) error {
	if v := os.Getenv(env); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", env, err)
		}
		setter(b)
	}
	return nil
}
