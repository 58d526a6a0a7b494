// Package config provides configuration loading and validation for the
// orchestrator. Values come from defaults, then an optional JSON file, then the
// environment.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Lock backends.
const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

// Config is the resolved process configuration.
type Config struct {
	Port int `validate:"gte=1,lte=65535"`

	// Optional metadata store. Without it runs are only kept in memory.
	DatabaseURL string
	// Warehouse queried by the sql_query processor.
	WarehouseURL string

	LockBackend string        `validate:"oneof=memory redis"`
	RedisURL    string        `validate:"required_if=LockBackend redis"`
	LockTTL     time.Duration `validate:"gt=0"`

	DefinitionsDir string `validate:"required"`
	SchedulesFile  string

	ProjectID   string
	Environment string

	StepTimeout      time.Duration `validate:"gt=0"`
	PipelineTimeout  time.Duration `validate:"gt=0"`
	MaxAttempts      int           `validate:"gte=1"`
	RetryBase        time.Duration `validate:"gte=0"`
	RetryMaxDelay    time.Duration `validate:"gte=0"`
	RequireStatus    bool
	MaxParallelSteps int `validate:"gte=1"`
	HistoryLimit     int `validate:"gte=1"`

	LogLevel  string
	LogFormat string `validate:"oneof=json console text"`

	GeminiAPIKey string
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:             8080,
		LockBackend:      LockMemory,
		LockTTL:          time.Hour,
		DefinitionsDir:   "./pipelines",
		StepTimeout:      30 * time.Minute,
		PipelineTimeout:  2 * time.Hour,
		MaxAttempts:      3,
		RetryBase:        2 * time.Second,
		RetryMaxDelay:    300 * time.Second,
		MaxParallelSteps: 1,
		HistoryLimit:     1000,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// File is the JSON config file. All fields are optional; durations use Go
// duration syntax ("90s", "30m").
type File struct {
	Port             int    `json:"port,omitempty"`
	DatabaseURL      string `json:"database_url,omitempty"`
	WarehouseURL     string `json:"warehouse_url,omitempty"`
	LockBackend      string `json:"lock_backend,omitempty"`
	RedisURL         string `json:"redis_url,omitempty"`
	LockTTL          string `json:"lock_ttl,omitempty"`
	DefinitionsDir   string `json:"definitions_dir,omitempty"`
	SchedulesFile    string `json:"schedules_file,omitempty"`
	ProjectID        string `json:"project_id,omitempty"`
	Environment      string `json:"environment,omitempty"`
	StepTimeout      string `json:"step_timeout,omitempty"`
	PipelineTimeout  string `json:"pipeline_timeout,omitempty"`
	MaxAttempts      int    `json:"max_attempts,omitempty"`
	RetryBase        string `json:"retry_base,omitempty"`
	RetryMaxDelay    string `json:"retry_max_delay,omitempty"`
	RequireStatus    *bool  `json:"require_status,omitempty"`
	MaxParallelSteps int    `json:"max_parallel_steps,omitempty"`
	HistoryLimit     int    `json:"history_limit,omitempty"`
	LogLevel         string `json:"log_level,omitempty"`
	LogFormat        string `json:"log_format,omitempty"`
}

// LoadConfig loads a configuration file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var f File
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return &f, nil
}

// Load resolves the configuration: defaults, then the file at path (if any),
// then environment variables, then validation.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := LoadConfig(path)
		if err != nil {
			return nil, err
		}
		if err := f.apply(&cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (f *File) apply(cfg *Config) error {
	setString(&cfg.DatabaseURL, f.DatabaseURL)
	setString(&cfg.WarehouseURL, f.WarehouseURL)
	setString(&cfg.LockBackend, f.LockBackend)
	setString(&cfg.RedisURL, f.RedisURL)
	setString(&cfg.DefinitionsDir, f.DefinitionsDir)
	setString(&cfg.SchedulesFile, f.SchedulesFile)
	setString(&cfg.ProjectID, f.ProjectID)
	setString(&cfg.Environment, f.Environment)
	setString(&cfg.LogLevel, f.LogLevel)
	setString(&cfg.LogFormat, f.LogFormat)
	setInt(&cfg.Port, f.Port)
	setInt(&cfg.MaxAttempts, f.MaxAttempts)
	setInt(&cfg.MaxParallelSteps, f.MaxParallelSteps)
	setInt(&cfg.HistoryLimit, f.HistoryLimit)
	if f.RequireStatus != nil {
		cfg.RequireStatus = *f.RequireStatus
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"lock_ttl", f.LockTTL, &cfg.LockTTL},
		{"step_timeout", f.StepTimeout, &cfg.StepTimeout},
		{"pipeline_timeout", f.PipelineTimeout, &cfg.PipelineTimeout},
		{"retry_base", f.RetryBase, &cfg.RetryBase},
		{"retry_max_delay", f.RetryMaxDelay, &cfg.RetryMaxDelay},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("config error: '%s' is not a duration: %w", d.name, err)
		}
		*d.dst = v
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

var validate = validator.New()

// Validate checks that the configuration has usable values.
func (c *Config) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return fmt.Errorf("config error: %s", strings.Join(msgs, "; "))
}
