package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type WhisperConfig struct {
	Mode      string `yaml:"mode"` // mock, exec
	Command   string `yaml:"command"`
	ModelSize string `yaml:"model_size"`
	CacheDir  string `yaml:"cache_dir"`
	Device    string `yaml:"device"` // auto, cpu, gpu_nvidia, gpu_amd
	Workers   int    `yaml:"workers"`
	TimeoutMS int    `yaml:"timeout_ms"`
	Serialize bool   `yaml:"serialize"`
}

type StagingConfig struct {
	Dir         string `yaml:"dir"`
	MaxUploadMB int    `yaml:"max_upload_mb"`
}

type EventsConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Servers        []string `yaml:"servers"`
	Subject        string   `yaml:"subject"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type Config struct {
	ServiceName string          `yaml:"service_name"`
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Whisper     WhisperConfig   `yaml:"whisper"`
	Staging     StagingConfig   `yaml:"staging"`
	Events      EventsConfig    `yaml:"events"`
}

// ModelSizes is the set of deployable whisper checkpoints.
var ModelSizes = []string{"tiny", "base", "small", "medium", "large-v2", "large-v3"}

func Default() Config {
	return Config{
		ServiceName: "whisperd",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8000,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Whisper: WhisperConfig{
			Mode:      "exec",
			Command:   "whisperd-infer",
			ModelSize: "base",
			CacheDir:  "",
			Device:    "auto",
			Workers:   2,
			TimeoutMS: 120000,
			Serialize: false,
		},
		Staging: StagingConfig{
			Dir:         "",
			MaxUploadMB: 512,
		},
		Events: EventsConfig{
			Enabled:        false,
			Servers:        []string{"nats://localhost:4222"},
			Subject:        "whisperd.transcription.completed",
			ConnectTimeout: 2000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.ServiceName, "WHISPERD_SERVICE_NAME")
	overrideString(&cfg.Environment, "WHISPERD_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "WHISPERD_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "WHISPERD_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "WHISPERD_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "WHISPERD_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "WHISPERD_OTLP_INSECURE")
	overrideString(&cfg.Whisper.Mode, "WHISPERD_MODE")
	overrideString(&cfg.Whisper.Command, "WHISPERD_COMMAND")
	// These two keep the names the python deployment used.
	overrideString(&cfg.Whisper.ModelSize, "WHISPER_MODEL_SIZE")
	overrideString(&cfg.Whisper.CacheDir, "WHISPER_CACHE_DIR")
	overrideString(&cfg.Whisper.Device, "WHISPERD_DEVICE")
	overrideInt(&cfg.Whisper.Workers, "WHISPERD_WORKERS")
	overrideInt(&cfg.Whisper.TimeoutMS, "WHISPERD_TIMEOUT_MS")
	overrideBool(&cfg.Whisper.Serialize, "WHISPERD_SERIALIZE")
	overrideString(&cfg.Staging.Dir, "WHISPERD_STAGING_DIR")
	overrideInt(&cfg.Staging.MaxUploadMB, "WHISPERD_MAX_UPLOAD_MB")
	overrideBool(&cfg.Events.Enabled, "WHISPERD_EVENTS_ENABLED")
	overrideStringSlice(&cfg.Events.Servers, "WHISPERD_EVENTS_SERVERS")
	overrideString(&cfg.Events.Subject, "WHISPERD_EVENTS_SUBJECT")
	overrideString(&cfg.Events.Username, "WHISPERD_EVENTS_USERNAME")
	overrideString(&cfg.Events.Password, "WHISPERD_EVENTS_PASSWORD")
	overrideString(&cfg.Events.Token, "WHISPERD_EVENTS_TOKEN")
	overrideInt(&cfg.Events.ConnectTimeout, "WHISPERD_EVENTS_CONNECT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.ServiceName == "" {
		return errors.New("service_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch cfg.Whisper.Mode {
	case "mock", "exec":
	default:
		return errors.New("whisper.mode must be one of mock|exec")
	}
	if cfg.Whisper.Mode == "exec" && cfg.Whisper.Command == "" {
		return errors.New("whisper.command must be set when mode=exec")
	}
	if !validModelSize(cfg.Whisper.ModelSize) {
		return fmt.Errorf("whisper.model_size must be one of %s", strings.Join(ModelSizes, "|"))
	}
	switch cfg.Whisper.Device {
	case "auto", "cpu", "gpu_nvidia", "gpu_amd":
	default:
		return errors.New("whisper.device must be one of auto|cpu|gpu_nvidia|gpu_amd")
	}
	if cfg.Whisper.Workers <= 0 {
		return errors.New("whisper.workers must be >= 1")
	}
	if cfg.Whisper.TimeoutMS <= 0 {
		return errors.New("whisper.timeout_ms must be positive")
	}
	if cfg.Staging.MaxUploadMB <= 0 {
		return errors.New("staging.max_upload_mb must be positive")
	}
	if cfg.Events.Enabled {
		if len(cfg.Events.Servers) == 0 {
			return errors.New("events.servers must not be empty when events are enabled")
		}
		if cfg.Events.Subject == "" {
			return errors.New("events.subject must not be empty when events are enabled")
		}
	}
	return nil
}

func validModelSize(size string) bool {
	for _, s := range ModelSizes {
		if s == size {
			return true
		}
	}
	return false
}
