package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tsmon/tsmon/internal/store"
)

// Destination binds a destination ID (referenced by subscriptions) to one
// delivery provider. Only the fields relevant to Type need to be set.
type Destination struct {
	ID   string `json:"id" yaml:"id"`
	Type string `json:"type" yaml:"type"` // discord, slack, teams, telegram, mastodon, gotify, pushover, apprise, generic, email

	WebhookURL string `json:"webhook_url,omitempty" yaml:"webhook_url,omitempty"`
	BotToken   string `json:"bot_token,omitempty" yaml:"bot_token,omitempty"`
	ChatID     string `json:"chat_id,omitempty" yaml:"chat_id,omitempty"`
	ServerURL  string `json:"server_url,omitempty" yaml:"server_url,omitempty"`
	Token      string `json:"token,omitempty" yaml:"token,omitempty"`
	UserKey    string `json:"user_key,omitempty" yaml:"user_key,omitempty"`
	APIToken   string `json:"api_token,omitempty" yaml:"api_token,omitempty"`

	// Email
	Host string   `json:"host,omitempty" yaml:"host,omitempty"`
	Port int      `json:"port,omitempty" yaml:"port,omitempty"`
	User string   `json:"user,omitempty" yaml:"user,omitempty"`
	Pass string   `json:"pass,omitempty" yaml:"pass,omitempty"`
	To   []string `json:"to,omitempty" yaml:"to,omitempty"`
}

// Config holds runtime configuration for tsmon
type Config struct {
	// Monitor timing
	PollInterval     time.Duration `json:"poll_interval" yaml:"poll_interval"`
	LeaveDebounce    time.Duration `json:"leave_debounce" yaml:"leave_debounce"`
	ConnectAttempts  int           `json:"connect_attempts" yaml:"connect_attempts"`
	ConnectBackoff   time.Duration `json:"connect_backoff" yaml:"connect_backoff"`
	MaxCycleFailures int           `json:"max_cycle_failures" yaml:"max_cycle_failures"`
	ReconnectPenalty time.Duration `json:"reconnect_penalty" yaml:"reconnect_penalty"`
	StopTimeout      time.Duration `json:"stop_timeout" yaml:"stop_timeout"`

	// Dispatch
	DeliveryAttempts   int           `json:"delivery_attempts" yaml:"delivery_attempts"`
	DeliveryRetryDelay time.Duration `json:"delivery_retry_delay" yaml:"delivery_retry_delay"`
	QueueDrainInterval time.Duration `json:"queue_drain_interval" yaml:"queue_drain_interval"`
	QueueMaxRetries    int           `json:"queue_max_retries" yaml:"queue_max_retries"`

	// NotificationLevel gates all outgoing notifications globally, on top of
	// the per-subscription toggles: "all", "events" (joins/leaves only),
	// "status" (status reports only), "none".
	NotificationLevel string `json:"notification_level" yaml:"notification_level"`

	// DataFile is the JSON file holding server definitions and subscriptions.
	DataFile string `json:"data_file" yaml:"data_file"`

	// Metrics
	MetricsEnabled bool `json:"metrics_enabled" yaml:"metrics_enabled"`
	MetricsPort    int  `json:"metrics_port" yaml:"metrics_port"`

	// InfluxDB (push)
	InfluxURL      string        `json:"influx_url" yaml:"influx_url"`
	InfluxToken    string        `json:"influx_token" yaml:"influx_token"`
	InfluxOrg      string        `json:"influx_org" yaml:"influx_org"`
	InfluxBucket   string        `json:"influx_bucket" yaml:"influx_bucket"`
	InfluxInterval time.Duration `json:"influx_interval" yaml:"influx_interval"`

	// Destinations declares the addressable delivery targets.
	Destinations []Destination `json:"destinations" yaml:"destinations"`

	// Servers are upserted into the data file at startup, so a fresh install
	// can watch servers straight from the config file.
	Servers []store.ServerDefinition `json:"servers" yaml:"servers"`
}

const dataFileName = "tsmon_data.json"

// defaultDataFile prefers a persistent location under /var/lib/tsmon, then
// the working directory, then the temp dir.
func defaultDataFile() string {
	if dir := os.Getenv("TSMON_DATA_DIR"); dir != "" {
		return filepath.Join(dir, dataFileName)
	}
	defaultDir := "/var/lib/tsmon"
	if err := os.MkdirAll(defaultDir, 0o755); err == nil {
		return filepath.Join(defaultDir, dataFileName)
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, dataFileName)
	}
	return filepath.Join(os.TempDir(), dataFileName)
}

// DefaultConfig returns a sane default configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval:     10 * time.Second,
		LeaveDebounce:    5 * time.Second,
		ConnectAttempts:  5,
		ConnectBackoff:   30 * time.Second,
		MaxCycleFailures: 5,
		ReconnectPenalty: 30 * time.Second,
		StopTimeout:      10 * time.Second,

		DeliveryAttempts:   3,
		DeliveryRetryDelay: 2 * time.Second,
		QueueDrainInterval: 1 * time.Second,
		QueueMaxRetries:    5,

		NotificationLevel: "all",

		DataFile: defaultDataFile(),

		MetricsEnabled: false,
		MetricsPort:    9090,

		InfluxInterval: 1 * time.Minute,
	}
}

// validLevels for NotificationLevel.
var validLevels = map[string]bool{"all": true, "events": true, "status": true, "none": true}

// Validate returns a list of non-fatal configuration warnings, such as
// incomplete destination credential combinations.
func (c *Config) Validate() []string {
	var warnings []string
	if !validLevels[c.NotificationLevel] {
		warnings = append(warnings, fmt.Sprintf("unknown notification_level %q (expected all, events, status or none)", c.NotificationLevel))
	}
	seen := make(map[string]bool)
	for _, d := range c.Destinations {
		if d.ID == "" {
			warnings = append(warnings, "destination with empty id will be ignored")
			continue
		}
		if seen[d.ID] {
			warnings = append(warnings, fmt.Sprintf("duplicate destination id %q", d.ID))
		}
		seen[d.ID] = true
		if w := validateDestination(d); w != "" {
			warnings = append(warnings, w)
		}
	}
	for _, s := range c.Servers {
		if s.Name == "" || s.Host == "" {
			warnings = append(warnings, "server entry missing name or host will be ignored")
		}
	}
	return warnings
}

func validateDestination(d Destination) string {
	switch d.Type {
	case "discord", "slack", "teams", "generic", "apprise":
		if d.WebhookURL == "" {
			return fmt.Sprintf("destination %q: %s requires webhook_url", d.ID, d.Type)
		}
	case "telegram":
		if d.BotToken == "" || d.ChatID == "" {
			return fmt.Sprintf("destination %q: telegram requires bot_token and chat_id", d.ID)
		}
	case "mastodon", "gotify":
		if d.ServerURL == "" || d.Token == "" {
			return fmt.Sprintf("destination %q: %s requires server_url and token", d.ID, d.Type)
		}
	case "pushover":
		if d.UserKey == "" || d.APIToken == "" {
			return fmt.Sprintf("destination %q: pushover requires user_key and api_token", d.ID)
		}
	case "email":
		if d.Host == "" || len(d.To) == 0 {
			return fmt.Sprintf("destination %q: email requires host and at least one recipient", d.ID)
		}
	default:
		return fmt.Sprintf("destination %q: unknown type %q", d.ID, d.Type)
	}
	return ""
}

// LoadConfigFromFile loads config from a YAML/JSON file
func LoadConfigFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
