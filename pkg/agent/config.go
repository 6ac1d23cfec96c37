package agent

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const envPrefix = "NEIO_REMOTE_"

// Config is loaded from the config file, then overridden by NEIO_REMOTE_* environment
// variables and command line flags. It does not change after startup.
type Config struct {
	EndpointBaseURL  string `json:"endpoint_base_url"`
	APIKey           string `json:"api_key"`
	EventName        string `json:"event_name"`
	DevicePathPrefix string `json:"device_path_prefix"`
	// Device is appended to DevicePathPrefix. Usually given as a command argument.
	Device     string `json:"device,omitempty"`
	GrabDevice bool   `json:"grab_device"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`

	RequestTimeout Duration `json:"request_timeout"`
	ShutdownGrace  Duration `json:"shutdown_grace"`
	// WaitForDevice is how long to wait for a missing device node. Zero fails immediately.
	WaitForDevice Duration `json:"wait_for_device"`
	QueueSize     int      `json:"queue_size"`
	DryRun        bool     `json:"dry_run"`
}

func DefaultConfig() Config {
	return Config{
		EventName:        "bt_remote",
		DevicePathPrefix: "/dev/remote_",
		GrabDevice:       true,
		LogLevel:         "INFO",
		LogFormat:        "console",
		RequestTimeout:   Duration{10 * time.Second},
		ShutdownGrace:    Duration{5 * time.Second},
	}
}

// DevicePath returns the device node to open. An absolute Device is used as is.
func (c Config) DevicePath() string {
	if strings.HasPrefix(c.Device, "/") {
		return c.Device
	}
	return c.DevicePathPrefix + c.Device
}

func (c Config) Validate() error {
	if c.Device == "" {
		return fmt.Errorf("device is required")
	}
	if c.EventName == "" {
		return fmt.Errorf("event_name must not be empty")
	}
	if c.QueueSize < 0 {
		return fmt.Errorf("queue_size must be non-negative")
	}
	if c.RequestTimeout.Duration < 0 || c.ShutdownGrace.Duration < 0 || c.WaitForDevice.Duration < 0 {
		return fmt.Errorf("durations must be non-negative")
	}
	if c.DryRun {
		return nil
	}
	if c.EndpointBaseURL == "" {
		return fmt.Errorf("endpoint_base_url is required")
	}
	u, err := url.Parse(c.EndpointBaseURL)
	if err != nil {
		return fmt.Errorf("invalid endpoint_base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint_base_url must be an http or https URL")
	}
	if c.APIKey == "" {
		return fmt.Errorf("api_key is required")
	}
	return nil
}

// ApplyEnv overrides fields from NEIO_REMOTE_<FIELD> variables. LOGLEVEL is honored as well.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("LOGLEVEL"); ok {
		c.LogLevel = v
	}
	strs := map[string]*string{
		"ENDPOINT_BASE_URL":  &c.EndpointBaseURL,
		"API_KEY":            &c.APIKey,
		"EVENT_NAME":         &c.EventName,
		"DEVICE_PATH_PREFIX": &c.DevicePathPrefix,
		"DEVICE":             &c.Device,
		"LOG_LEVEL":          &c.LogLevel,
		"LOG_FORMAT":         &c.LogFormat,
	}
	for name, field := range strs {
		if v, ok := lookup(envPrefix + name); ok {
			*field = v
		}
	}
	bools := map[string]*bool{
		"GRAB_DEVICE": &c.GrabDevice,
		"DRY_RUN":     &c.DryRun,
	}
	for name, field := range bools {
		if v, ok := lookup(envPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
			}
			*field = b
		}
	}
	durations := map[string]*Duration{
		"REQUEST_TIMEOUT": &c.RequestTimeout,
		"SHUTDOWN_GRACE":  &c.ShutdownGrace,
		"WAIT_FOR_DEVICE": &c.WaitForDevice,
	}
	for name, field := range durations {
		if v, ok := lookup(envPrefix + name); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s%s: %w", envPrefix, name, err)
			}
			field.Duration = d
		}
	}
	if v, ok := lookup(envPrefix + "QUEUE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sQUEUE_SIZE: %w", envPrefix, err)
		}
		c.QueueSize = n
	}
	return nil
}

// Duration is a time.Duration written as "10s" in config files.
// Plain numbers are read as seconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value * float64(time.Second))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
}
