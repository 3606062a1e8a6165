package conf

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Oudwins/somedaex/internals/env"

	z "github.com/Oudwins/zog"
)

const (
	DefaultBackendPort = 28223
	DefaultDevPort     = 8080
	FileName           = "somedaex.json"
)

type Config struct {
	Version   string          `json:"-"`
	Server    ServerConfig    `json:"server"`
	Backend   BackendConfig   `json:"backend"`
	Stream    StreamConfig    `json:"stream"`
	Log       LogConfig       `json:"log"`
	Devserver DevserverConfig `json:"devserver"`
}

type ServerConfig struct {
	DataDir string `json:"data_dir" zog:"data_dir"`
}

// BackendConfig describes where the pipeline backend lives and how to start
// it when it is not already running.
type BackendConfig struct {
	URL          string `json:"url" zog:"url"`
	Dir          string `json:"dir" zog:"dir"`
	Command      string `json:"command" zog:"command"`
	Port         int    `json:"port" zog:"port"`
	StartTimeout string `json:"start_timeout" zog:"start_timeout"`
}

type StreamConfig struct {
	ReconnectBase     string `json:"reconnect_base" zog:"reconnect_base"`
	ReconnectMax      string `json:"reconnect_max" zog:"reconnect_max"`
	ReconnectAttempts int    `json:"reconnect_attempts" zog:"reconnect_attempts"`
}

type LogConfig struct {
	Level string `json:"level" zog:"level"`
	File  string `json:"file" zog:"file"`
}

type DevserverConfig struct {
	Port      int    `json:"port" zog:"port"`
	DBPath    string `json:"db_path" zog:"db_path"`
	StepDelay string `json:"step_delay" zog:"step_delay"`
}

func duration() *z.StringSchema[string] {
	return z.String().Trim().TestFunc(func(val *string, ctx z.Ctx) bool {
		_, err := time.ParseDuration(*val)
		return err == nil
	}, z.Message("must be a duration such as 500ms or 2s"))
}

var serverSchema = z.Struct(z.Shape{
	"DataDir": z.String().Default("~/.somedaex").Transform(expandPathTransform),
})

var backendSchema = z.Struct(z.Shape{
	"URL":          z.String().Trim().Default(env.DefaultBackendURL),
	"Dir":          z.String().Default("").Transform(expandPathTransform),
	"Command":      z.String().Trim().Default("pipenv run python main.py"),
	"Port":         z.Int().Default(DefaultBackendPort).GT(0).LT(65536),
	"StartTimeout": duration().Default("30s"),
})

var streamSchema = z.Struct(z.Shape{
	"ReconnectBase":     duration().Default("500ms"),
	"ReconnectMax":      duration().Default("10s"),
	"ReconnectAttempts": z.Int().Default(8).GTE(0),
})

var logSchema = z.Struct(z.Shape{
	"Level": z.String().Trim().Default("info").OneOf([]string{"debug", "info", "warn", "error"}),
	"File":  z.String().Default("").Transform(expandPathTransform),
})

var devserverSchema = z.Struct(z.Shape{
	"Port":      z.Int().Default(DefaultDevPort).GT(0).LT(65536),
	"DBPath":    z.String().Default(":memory:"),
	"StepDelay": duration().Default("750ms"),
})

var ConfigSchema = z.Struct(z.Shape{
	"server":    serverSchema,
	"backend":   backendSchema,
	"stream":    streamSchema,
	"log":       logSchema,
	"devserver": devserverSchema,
})

var config *Config

// GetConfig loads the config file from the data dir once and applies env
// overrides. Failures are fatal.
func GetConfig() *Config {
	if config == nil {
		parsed, err := Load(DefaultPath())
		if err != nil {
			log.Fatal("[somedaex] Failed to load config: ", err)
		}
		applyEnv(parsed, env.Get())
		config = parsed
	}
	return config
}

// DefaultPath returns the config file location, honouring SOMEDAEX_DATA_DIR.
func DefaultPath() string {
	dataDir := env.Get().DATA_DIR
	if dataDir == "" {
		dataDir = "~/.somedaex"
	}
	expanded, err := expandPath(dataDir)
	if err != nil {
		expanded = dataDir
	}
	return filepath.Join(filepath.Clean(expanded), FileName)
}

// Load reads path and validates it. A missing or empty file yields defaults.
func Load(path string) (*Config, error) {
	payload := map[string]any{}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err == nil && strings.TrimSpace(string(data)) != "" {
		if err := json.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	parsed := &Config{}
	if errs := ConfigSchema.Parse(payload, parsed); errs != nil {
		return nil, fmt.Errorf("invalid config: %v", z.Issues.Flatten(errs))
	}
	parsed.Version = "0.0.1"
	return parsed, nil
}

func applyEnv(cfg *Config, envs *env.EnvStruct) {
	if envs.BACKEND_URL != "" && envs.BACKEND_URL != env.DefaultBackendURL {
		cfg.Backend.URL = envs.BACKEND_URL
	}
	if envs.LOG_LEVEL != "" {
		cfg.Log.Level = envs.LOG_LEVEL
	}
}

func (c StreamConfig) Base() time.Duration {
	return mustDuration(c.ReconnectBase)
}

func (c StreamConfig) Max() time.Duration {
	return mustDuration(c.ReconnectMax)
}

func (c BackendConfig) Timeout() time.Duration {
	return mustDuration(c.StartTimeout)
}

// Argv returns the backend command line including the listen port flag.
func (c BackendConfig) Argv() []string {
	args := strings.Fields(c.Command)
	return append(args, "-l", fmt.Sprint(c.Port))
}

func (c DevserverConfig) Delay() time.Duration {
	return mustDuration(c.StepDelay)
}

// durations are validated by the schema so a parse failure is a zero value.
func mustDuration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}

func expandPathTransform(ptr *string, c z.Ctx) error {
	expanded, err := expandPath(*ptr)
	*ptr = expanded
	return err
}

func expandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}
