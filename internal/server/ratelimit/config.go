package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EndpointConfig is the limit for requests whose method and path match Path.
// Path is a pattern: a "*" segment matches any one path segment and a trailing
// "/" matches everything below it.
type EndpointConfig struct {
	Path   string
	Method string
	// Limit is the number of requests per Window. Zero means unlimited.
	Limit  int
	Window time.Duration
	// Burst is the bucket capacity, Limit when zero.
	Burst  int
}

// LoadConfig reads the RATE_LIMIT_* environment variables.
func LoadConfig() *Config {
	return configFrom(os.LookupEnv)
}

type lookupFunc func(string) (string, bool)

// envSource reads typed values from a lookup, keeping the default when a value
// is missing or malformed.
type envSource struct {
	lookup lookupFunc
}

func (e envSource) str(key, def string) string {
	if v, ok := e.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (e envSource) integer(key string, def int) int {
	if n, err := strconv.Atoi(e.str(key, "")); err == nil {
		return n
	}
	return def
}

func (e envSource) boolean(key string, def bool) bool {
	if b, err := strconv.ParseBool(e.str(key, "")); err == nil {
		return b
	}
	return def
}

func (e envSource) duration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(e.str(key, "")); err == nil && d > 0 {
		return d
	}
	return def
}

func configFrom(lookup lookupFunc) *Config {
	env := envSource{lookup: lookup}
	if !env.boolean("RATE_LIMIT_ENABLED", true) {
		return &Config{Enabled: false}
	}

	endpoints := DefaultEndpointConfigs()
	for i := range endpoints {
		if endpoints[i].Path == triggerPath {
			endpoints[i].Limit = env.integer("RATE_LIMIT_TRIGGER_LIMIT", endpoints[i].Limit)
			endpoints[i].Burst = env.integer("RATE_LIMIT_TRIGGER_BURST", endpoints[i].Burst)
		}
	}

	return &Config{
		Enabled:         true,
		DefaultLimit:    env.integer("RATE_LIMIT_DEFAULT_LIMIT", 1000),
		DefaultWindow:   env.duration("RATE_LIMIT_DEFAULT_WINDOW", time.Minute),
		CleanupInterval: env.duration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		Whitelist:       ipSet(env.str("RATE_LIMIT_WHITELIST", "")),
		Blacklist:       ipSet(env.str("RATE_LIMIT_BLACKLIST", "")),
		EndpointConfigs: endpoints,
	}
}

const triggerPath = "/tenants/*/pipelines/*/runs"

// DefaultEndpointConfigs limits the write endpoints. Reads use the default
// limit.
func DefaultEndpointConfigs() []EndpointConfig {
	return []EndpointConfig{
		{Path: triggerPath, Method: "POST", Limit: 60, Window: time.Minute, Burst: 10},
		{Path: "/runs/*/cancel", Method: "POST", Limit: 120, Window: time.Minute, Burst: 20},
	}
}

// ipSet splits a comma-separated address list.
func ipSet(list string) map[string]bool {
	set := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			set[ip] = true
		}
	}
	return set
}
