// internal/config/config.go
//
// Process configuration.
//
// Sources, lowest precedence first:
//   - built-in defaults
//   - optional YAML file named by CONFIG_FILE (version: 1)
//   - environment variables (a .env file is loaded first when present)

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the resolved process configuration.
type Config struct {
	Port         string
	LogLevel     string
	LogFormat    string
	DBPath       string
	ClientOrigin string
	AppEnv       string

	JWTSecret      string
	JWTExpiresDays int
	CookieName     string

	ScoutTimeout      time.Duration
	StrategistTimeout time.Duration
	ExecutorTimeout   time.Duration
	PipelineTimeout   time.Duration

	Backend               string // "none" | "gemini"
	GeminiAPIKey          string
	GeminiModel           string
	BackendAttempts       int
	BackendBaseDelay      time.Duration
	BackendAttemptTimeout time.Duration

	TracePersist bool
	TraceBuffer  int
	MQTTURL      string
	MQTTTopic    string
}

// Production reports APP_ENV=production.
func (c *Config) Production() bool { return c.AppEnv == "production" }

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:                  "5175",
		LogLevel:              "info",
		DBPath:                "./data/app.db",
		ClientOrigin:          "http://localhost:5173",
		AppEnv:                "development",
		JWTSecret:             "dev_secret_change_me",
		JWTExpiresDays:        14,
		CookieName:            "ttt_token",
		ScoutTimeout:          5 * time.Second,
		StrategistTimeout:     3 * time.Second,
		ExecutorTimeout:       2 * time.Second,
		PipelineTimeout:       15 * time.Second,
		Backend:               "none",
		BackendAttempts:       3,
		BackendBaseDelay:      250 * time.Millisecond,
		BackendAttemptTimeout: 2 * time.Second,
		TraceBuffer:           500,
		MQTTTopic:             "tictactoe/traces",
	}
}

// Load reads .env (if any), CONFIG_FILE (if set) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFrom(os.Getenv)
}

// LoadFrom resolves configuration using getenv for variable lookup.
func LoadFrom(getenv func(string) string) (*Config, error) {
	cfg := Defaults()
	if path := getenv("CONFIG_FILE"); path != "" {
		f, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := f.apply(&cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges after all sources are merged.
func (c *Config) Validate() error {
	var errs []error
	for name, d := range map[string]time.Duration{
		"SCOUT_TIMEOUT":           c.ScoutTimeout,
		"STRATEGIST_TIMEOUT":      c.StrategistTimeout,
		"EXECUTOR_TIMEOUT":        c.ExecutorTimeout,
		"PIPELINE_TIMEOUT":        c.PipelineTimeout,
		"BACKEND_BASE_DELAY":      c.BackendBaseDelay,
		"BACKEND_ATTEMPT_TIMEOUT": c.BackendAttemptTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	if c.BackendAttempts < 1 {
		errs = append(errs, fmt.Errorf("BACKEND_ATTEMPTS must be >= 1, got %d", c.BackendAttempts))
	}
	switch c.Backend {
	case "none":
	case "gemini":
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("BACKEND=gemini requires GEMINI_API_KEY"))
		}
	default:
		errs = append(errs, fmt.Errorf("BACKEND must be none or gemini, got %q", c.Backend))
	}
	if c.JWTExpiresDays < 1 {
		errs = append(errs, fmt.Errorf("JWT_EXPIRES_DAYS must be >= 1, got %d", c.JWTExpiresDays))
	}
	if c.TraceBuffer < 1 {
		errs = append(errs, fmt.Errorf("TRACE_BUFFER must be >= 1, got %d", c.TraceBuffer))
	}
	return errors.Join(errs...)
}

// ------------------------------- env ----------------------------------------

func applyEnv(c *Config, getenv func(string) string) error {
	str := func(k string, dst *string) {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)
	str("DB_PATH", &c.DBPath)
	str("CLIENT_ORIGIN", &c.ClientOrigin)
	str("APP_ENV", &c.AppEnv)
	str("JWT_SECRET", &c.JWTSecret)
	str("COOKIE_NAME", &c.CookieName)
	str("BACKEND", &c.Backend)
	str("GEMINI_API_KEY", &c.GeminiAPIKey)
	str("GEMINI_MODEL", &c.GeminiModel)
	str("MQTT_URL", &c.MQTTURL)
	str("MQTT_TOPIC", &c.MQTTTopic)

	var errs []error
	dur := func(k string, dst *time.Duration) {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
				return
			}
			*dst = d
		}
	}
	dur("SCOUT_TIMEOUT", &c.ScoutTimeout)
	dur("STRATEGIST_TIMEOUT", &c.StrategistTimeout)
	dur("EXECUTOR_TIMEOUT", &c.ExecutorTimeout)
	dur("PIPELINE_TIMEOUT", &c.PipelineTimeout)
	dur("BACKEND_BASE_DELAY", &c.BackendBaseDelay)
	dur("BACKEND_ATTEMPT_TIMEOUT", &c.BackendAttemptTimeout)

	num := func(k string, dst *int) {
		if v := strings.TrimSpace(getenv(k)); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", k, err))
				return
			}
			*dst = n
		}
	}
	num("JWT_EXPIRES_DAYS", &c.JWTExpiresDays)
	num("BACKEND_ATTEMPTS", &c.BackendAttempts)
	num("TRACE_BUFFER", &c.TraceBuffer)

	if v := strings.TrimSpace(getenv("TRACE_PERSIST")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TRACE_PERSIST: %w", err))
		} else {
			c.TracePersist = b
		}
	}
	c.Backend = strings.ToLower(c.Backend)
	return errors.Join(errs...)
}

// ------------------------------- file ---------------------------------------

// File is the YAML layout. Durations are Go duration strings ("250ms").
type File struct {
	Version int `yaml:"version"`
	Server  struct {
		Port         string `yaml:"port"`
		DBPath       string `yaml:"db_path"`
		ClientOrigin string `yaml:"client_origin"`
		AppEnv       string `yaml:"app_env"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Auth struct {
		ExpiresDays int    `yaml:"jwt_expires_days"`
		CookieName  string `yaml:"cookie_name"`
	} `yaml:"auth"`
	Pipeline struct {
		Scout      string `yaml:"scout_timeout"`
		Strategist string `yaml:"strategist_timeout"`
		Executor   string `yaml:"executor_timeout"`
		Total      string `yaml:"total_timeout"`
	} `yaml:"pipeline"`
	Backend struct {
		Kind           string `yaml:"kind"`
		Model          string `yaml:"model"`
		Attempts       int    `yaml:"attempts"`
		BaseDelay      string `yaml:"base_delay"`
		AttemptTimeout string `yaml:"attempt_timeout"`
	} `yaml:"backend"`
	Trace struct {
		Persist   bool   `yaml:"persist"`
		Buffer    int    `yaml:"buffer"`
		MQTTURL   string `yaml:"mqtt_url"`
		MQTTTopic string `yaml:"mqtt_topic"`
	} `yaml:"trace"`
}

func readFile(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseFile(b)
}

// ParseFile decodes and version-checks a YAML config.
func ParseFile(b []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.Version != 1 {
		return nil, fmt.Errorf("unsupported config version: %d", f.Version)
	}
	return &f, nil
}

func (f *File) apply(c *Config) error {
	set := func(src string, dst *string) {
		if src != "" {
			*dst = src
		}
	}
	set(f.Server.Port, &c.Port)
	set(f.Server.DBPath, &c.DBPath)
	set(f.Server.ClientOrigin, &c.ClientOrigin)
	set(f.Server.AppEnv, &c.AppEnv)
	set(f.Log.Level, &c.LogLevel)
	set(f.Log.Format, &c.LogFormat)
	set(f.Auth.CookieName, &c.CookieName)
	set(f.Backend.Kind, &c.Backend)
	set(f.Backend.Model, &c.GeminiModel)
	set(f.Trace.MQTTURL, &c.MQTTURL)
	set(f.Trace.MQTTTopic, &c.MQTTTopic)
	if f.Auth.ExpiresDays != 0 {
		c.JWTExpiresDays = f.Auth.ExpiresDays
	}
	if f.Backend.Attempts != 0 {
		c.BackendAttempts = f.Backend.Attempts
	}
	if f.Trace.Buffer != 0 {
		c.TraceBuffer = f.Trace.Buffer
	}
	if f.Trace.Persist {
		c.TracePersist = true
	}

	var errs []error
	dur := func(name, src string, dst *time.Duration) {
		if src == "" {
			return
		}
		d, err := time.ParseDuration(src)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = d
	}
	dur("pipeline.scout_timeout", f.Pipeline.Scout, &c.ScoutTimeout)
	dur("pipeline.strategist_timeout", f.Pipeline.Strategist, &c.StrategistTimeout)
	dur("pipeline.executor_timeout", f.Pipeline.Executor, &c.ExecutorTimeout)
	dur("pipeline.total_timeout", f.Pipeline.Total, &c.PipelineTimeout)
	dur("backend.base_delay", f.Backend.BaseDelay, &c.BackendBaseDelay)
	dur("backend.attempt_timeout", f.Backend.AttemptTimeout, &c.BackendAttemptTimeout)
	return errors.Join(errs...)
}
