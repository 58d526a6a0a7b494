package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// envReader reads typed environment variables, collecting malformed values
// instead of silently falling back to the default.
type envReader struct {
	errs []error
}

func (r *envReader) string(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (r *envReader) int(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return
	}
	*dst = n
}

func (r *envReader) bool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return
	}
	*dst = b
}

// duration accepts Go duration syntax or a bare number of seconds.
func (r *envReader) duration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		*dst = time.Duration(secs * float64(time.Second))
		return
	}
	r.errs = append(r.errs, fmt.Errorf("%s: %q is not a duration", key, v))
}

func applyEnv(cfg *Config) error {
	var r envReader
	r.int("ORCH_PORT", &cfg.Port)
	r.string("DATABASE_URL", &cfg.DatabaseURL)
	r.string("WAREHOUSE_URL", &cfg.WarehouseURL)
	r.string("ORCH_LOCK_BACKEND", &cfg.LockBackend)
	r.string("REDIS_URL", &cfg.RedisURL)
	r.duration("ORCH_LOCK_TTL", &cfg.LockTTL)
	r.string("ORCH_DEFINITIONS_DIR", &cfg.DefinitionsDir)
	r.string("ORCH_SCHEDULES_FILE", &cfg.SchedulesFile)
	r.string("ORCH_PROJECT_ID", &cfg.ProjectID)
	r.string("ORCH_ENVIRONMENT", &cfg.Environment)
	r.duration("ORCH_STEP_TIMEOUT", &cfg.StepTimeout)
	r.duration("ORCH_PIPELINE_TIMEOUT", &cfg.PipelineTimeout)
	r.int("ORCH_MAX_ATTEMPTS", &cfg.MaxAttempts)
	r.duration("ORCH_RETRY_BASE", &cfg.RetryBase)
	r.duration("ORCH_RETRY_MAX_DELAY", &cfg.RetryMaxDelay)
	r.bool("ORCH_REQUIRE_STATUS", &cfg.RequireStatus)
	r.int("ORCH_MAX_PARALLEL_STEPS", &cfg.MaxParallelSteps)
	r.int("ORCH_HISTORY_LIMIT", &cfg.HistoryLimit)
	r.string("LOG_LEVEL", &cfg.LogLevel)
	r.string("LOG_FORMAT", &cfg.LogFormat)
	r.string("GEMINI_API_KEY", &cfg.GeminiAPIKey)
	if len(r.errs) > 0 {
		return fmt.Errorf("config error: %w", errors.Join(r.errs...))
	}
	return nil
}
