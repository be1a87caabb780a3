package ratelimit

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Tier is a rate limit applied to the requests matching its path and method.
type Tier struct {
	Name   string
	Path   string // exact path, or a prefix when it ends with "/"
	Method string // empty matches any method
	Limit  int    // requests per Window; zero or less means unlimited
	Window time.Duration
	Burst  int // bucket capacity, defaults to Limit
}

func (t *Tier) matches(path, method string) bool {
	if t.Method != "" && t.Method != method {
		return false
	}
	if strings.HasSuffix(t.Path, "/") {
		return strings.HasPrefix(path, t.Path)
	}
	return t.Path == path
}

// DefaultTiers returns the endpoint tiers of the API, most specific first.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: "health", Path: "/health", Method: "GET"},
		{Name: "metrics", Path: "/metrics", Method: "GET"},

		// The engine and the pollers report every stage of every run.
		{Name: "stage-report", Path: "/run-tracking/update-stage", Method: "POST", Limit: 6000, Window: time.Minute, Burst: 500},

		{Name: "scoring", Path: "/run-tracking/score-content", Method: "POST", Limit: 30, Window: time.Hour, Burst: 5},
		{Name: "auth", Path: "/auth/", Method: "POST", Limit: 20, Window: time.Minute, Burst: 5},
		{Name: "run-write", Path: "/run-tracking/", Method: "POST", Limit: 100, Window: time.Minute, Burst: 10},
		{Name: "request-write", Path: "/content-requests", Method: "POST", Limit: 100, Window: time.Minute, Burst: 10},
		{Name: "broadcast", Path: "/realtime/broadcast", Method: "POST", Limit: 300, Window: time.Minute, Burst: 30},
	}
}

// Match returns the first tier matching path and method, or nil.
func Match(path, method string, tiers []Tier) *Tier {
	for i := range tiers {
		if tiers[i].matches(path, method) {
			return &tiers[i]
		}
	}
	return nil
}

// LoadConfig reads RATE_LIMIT_ENABLED, RATE_LIMIT_DEFAULT_LIMIT,
// RATE_LIMIT_DEFAULT_WINDOW, RATE_LIMIT_WHITELIST and RATE_LIMIT_BLACKLIST.
func LoadConfig() *Config {
	if !envBool("RATE_LIMIT_ENABLED", true) {
		return &Config{Enabled: false}
	}
	return &Config{
		Enabled:         true,
		DefaultLimit:    envInt("RATE_LIMIT_DEFAULT_LIMIT", 1000),
		DefaultWindow:   envDuration("RATE_LIMIT_DEFAULT_WINDOW", time.Minute),
		CleanupInterval: 5 * time.Minute,
		Whitelist:       ipSet(os.Getenv("RATE_LIMIT_WHITELIST")),
		Blacklist:       ipSet(os.Getenv("RATE_LIMIT_BLACKLIST")),
		Tiers:           DefaultTiers(),
	}
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return def
}

func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return def
}

func ipSet(list string) map[string]bool {
	set := make(map[string]bool)
	for _, ip := range strings.Split(list, ",") {
		if ip = strings.TrimSpace(ip); ip != "" {
			set[ip] = true
		}
	}
	return set
}
