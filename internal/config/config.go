// Package config loads the inference server configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	SupportedSchema = "v1"
	EnvPrefix       = "TABSERVE__"
)

type LogCfg struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type KafkaSinkCfg struct {
	Brokers      []string `koanf:"brokers"`
	Topic        string   `koanf:"topic"`
	RequiredAcks string   `koanf:"required_acks"` // none|local|all
	ClientID     string   `koanf:"client_id"`
	Version      string   `koanf:"version"`
}

type InferenceLogCfg struct {
	Sinks []string     `koanf:"sinks"`
	Kafka KafkaSinkCfg `koanf:"kafka"`
}

type Config struct {
	SchemaVersion   string        `koanf:"schema_version"`
	ModelRepository string        `koanf:"model_repository"`
	ListenAddress   string        `koanf:"listen_address"`
	ExitOnError     bool          `koanf:"exit_on_error"`
	StrictReadiness bool          `koanf:"strict_readiness"`
	MaxInFlight     int           `koanf:"max_in_flight"`
	LoadParallelism int           `koanf:"load_parallelism"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	Log          LogCfg          `koanf:"log"`
	InferenceLog InferenceLogCfg `koanf:"inference_log"`
}

// Default is the configuration used when neither file nor env set a key.
func Default() Config {
	return Config{
		SchemaVersion:   SupportedSchema,
		ListenAddress:   ":8001",
		ExitOnError:     true,
		StrictReadiness: true,
		MaxInFlight:     64,
		LoadParallelism: 4,
		RequestTimeout:  30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Log:             LogCfg{Level: "info"},
	}
}

// Load merges YAML (if present) with env-vars (prefix `TABSERVE__`,
// delimiter `__`) on top of Default.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config env: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if cfg.SchemaVersion != SupportedSchema {
		return cfg, fmt.Errorf("config schema_version %q not supported (want %s)", cfg.SchemaVersion, SupportedSchema)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

// envKey maps TABSERVE__INFERENCE_LOG__KAFKA__TOPIC to
// inference_log.kafka.topic. Comma separated values become lists.
func envKey(key, value string) (string, any) {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	if strings.Contains(value, ",") {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return key, parts
	}
	return key, value
}

func applyDefaults(c *Config) {
	d := Default()
	if c.ListenAddress == "" {
		c.ListenAddress = d.ListenAddress
	}
	if c.MaxInFlight <= 0 {
		c.MaxInFlight = d.MaxInFlight
	}
	if c.LoadParallelism <= 0 {
		c.LoadParallelism = d.LoadParallelism
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = d.ShutdownTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.InferenceLog.Kafka.RequiredAcks == "" {
		c.InferenceLog.Kafka.RequiredAcks = "local"
	}
	if c.InferenceLog.Kafka.ClientID == "" {
		c.InferenceLog.Kafka.ClientID = "tabserve"
	}
}

// Validate checks the settings a server cannot start without.
func (c Config) Validate() error {
	if c.ModelRepository == "" {
		return errors.New("config: model_repository is required")
	}
	for _, s := range c.InferenceLog.Sinks {
		if s == "kafka" && (len(c.InferenceLog.Kafka.Brokers) == 0 || c.InferenceLog.Kafka.Topic == "") {
			return errors.New("config: kafka inference log needs brokers and topic")
		}
	}
	return nil
}
