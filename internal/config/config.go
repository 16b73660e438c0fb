package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const envPrefix = "ZIGBRIDGE_"

// App contains the full daemon configuration.
type App struct {
	Name                 string `yaml:"name"`
	DatabaseFile         string `yaml:"database_file"`
	LogLevel             string `yaml:"log_level"`
	LogJSON              bool   `yaml:"log_json"`
	ObservabilityAddress string `yaml:"observability_address"`

	// Persistence tuning.
	IdleTTLSeconds      int   `yaml:"idle_ttl_seconds"`
	SaveDelaySeconds    int   `yaml:"save_delay_seconds"`
	LongDelaySeconds    int   `yaml:"long_delay_seconds"`
	ZCLValueMaxAge      int64 `yaml:"zcl_value_max_age"`
	ConstrainedPlatform bool  `yaml:"constrained_platform"`

	// Optional commit event notifier.
	NotifierEnabled   bool   `yaml:"notifier_enabled"`
	MQTTBrokerAddress string `yaml:"mqtt_broker_address"`
	MQTTPort          int    `yaml:"mqtt_port"`
	MQTTUsername      string `yaml:"mqtt_username"`
	MQTTPassword      string `yaml:"mqtt_password"`
	MQTTTopic         string `yaml:"mqtt_topic"`
}

// New reads the configuration from file (if provided) and environment overrides.
func New(path string) (*App, error) {
	cfg := defaultConfig()

	if err := cfg.applyFile(path); err != nil {
		return nil, err
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *App {
	return &App{
		Name:                 "Zigbridge",
		DatabaseFile:         "zigbridge.db",
		LogLevel:             "INFO",
		ObservabilityAddress: ":2112",
		IdleTTLSeconds:       60,
		SaveDelaySeconds:     5,
		LongDelaySeconds:     600,
		ZCLValueMaxAge:       0,
		NotifierEnabled:      false,
		MQTTBrokerAddress:    "127.0.0.1",
		MQTTPort:             1883,
		MQTTTopic:            "zigbridge/events/commit",
	}
}

func (a *App) applyFile(path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config: file %s does not exist", path)
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, a); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays ZIGBRIDGE_* environment variables onto the yaml
// field names, uppercased. ZIGBRIDGE_DATABASE_FILE overrides
// database_file and so on.
func (a *App) applyEnv() error {
	for _, spec := range []struct {
		key string
		set func(string) error
	}{
		{"NAME", setString(&a.Name)},
		{"DATABASE_FILE", setString(&a.DatabaseFile)},
		{"LOG_LEVEL", setString(&a.LogLevel)},
		{"LOG_JSON", setBool(&a.LogJSON)},
		{"OBSERVABILITY_ADDRESS", setString(&a.ObservabilityAddress)},
		{"IDLE_TTL_SECONDS", setInt(&a.IdleTTLSeconds)},
		{"SAVE_DELAY_SECONDS", setInt(&a.SaveDelaySeconds)},
		{"LONG_DELAY_SECONDS", setInt(&a.LongDelaySeconds)},
		{"ZCL_VALUE_MAX_AGE", setInt64(&a.ZCLValueMaxAge)},
		{"CONSTRAINED_PLATFORM", setBool(&a.ConstrainedPlatform)},
		{"NOTIFIER_ENABLED", setBool(&a.NotifierEnabled)},
		{"MQTT_BROKER_ADDRESS", setString(&a.MQTTBrokerAddress)},
		{"MQTT_PORT", setInt(&a.MQTTPort)},
		{"MQTT_USERNAME", setString(&a.MQTTUsername)},
		{"MQTT_PASSWORD", setString(&a.MQTTPassword)},
		{"MQTT_TOPIC", setString(&a.MQTTTopic)},
	} {
		value, ok := os.LookupEnv(envPrefix + spec.key)
		if !ok {
			continue
		}
		if err := spec.set(value); err != nil {
			return fmt.Errorf("config: env %s%s: %w", envPrefix, spec.key, err)
		}
	}
	return nil
}

func (a *App) validate() error {
	if strings.TrimSpace(a.DatabaseFile) == "" {
		return errors.New("config: database_file must be provided")
	}
	if a.SaveDelaySeconds <= 0 {
		return errors.New("config: save_delay_seconds must be positive")
	}
	if a.LongDelaySeconds < a.SaveDelaySeconds {
		return errors.New("config: long_delay_seconds must not be shorter than save_delay_seconds")
	}
	if a.NotifierEnabled {
		if strings.TrimSpace(a.MQTTBrokerAddress) == "" {
			return errors.New("config: mqtt_broker_address must be provided when the notifier is enabled")
		}
		if a.MQTTPort <= 0 {
			return errors.New("config: mqtt_port must be positive")
		}
	}
	return nil
}

func setString(dst *string) func(string) error {
	return func(v string) error {
		*dst = v
		return nil
	}
}

func setBool(dst *bool) func(string) error {
	return func(v string) error {
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst = parsed
		return nil
	}
}

func setInt(dst *int) func(string) error {
	return func(v string) error {
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		*dst = parsed
		return nil
	}
}

func setInt64(dst *int64) func(string) error {
	return func(v string) error {
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return err
		}
		*dst = parsed
		return nil
	}
}
