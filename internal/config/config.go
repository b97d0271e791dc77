// Package config centralizes every tunable the core reads, loaded via
// viper (file + env + flag precedence) and bound to cobra/pflag in
// cmd/acquire.
package config

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full set of options recognized by the core (spec.md §6).
type Config struct {
	WorkerCount          int
	BrowserPoolSize      int
	MinTextLength        int
	MaxAttempts          int
	GraceShutdownSeconds int

	PaywallDomains  []string
	PerDomainDelays map[string]time.Duration
	UserAgents      []string

	DBPath        string
	ProxyListPath string
	ProxyEchoURL  string
	LogDir        string
	NoStdoutLog   bool

	ElasticsearchURLs      []string
	ElasticsearchUsername  string
	ElasticsearchPassword  string
	ElasticsearchIndex     string

	InputPath string
}

var (
	mu      sync.RWMutex
	current *Config
)

// DefaultPerDomainDelays matches spec.md §4.2's table.
func DefaultPerDomainDelays() map[string]time.Duration {
	return map[string]time.Duration{
		"apnews.com":         1500 * time.Millisecond,
		"reuters.com":        2000 * time.Millisecond,
		"nytimes.com":        4000 * time.Millisecond,
		"washingtonpost.com": 4000 * time.Millisecond,
		"wsj.com":            6000 * time.Millisecond,
	}
}

// DefaultDelay is used for any domain absent from PerDomainDelays.
const DefaultDelay = 3000 * time.Millisecond

// DefaultPaywallDomains matches spec.md §4.3 stage 5.
func DefaultPaywallDomains() []string {
	return []string{"nytimes.com", "washingtonpost.com", "wsj.com"}
}

// DefaultAllowlist matches spec.md §6's source allowlist.
func DefaultAllowlist() []string {
	return []string{"nytimes.com", "reuters.com", "washingtonpost.com", "apnews.com", "wsj.com"}
}

// DefaultUserAgents is a pool of 15-20 real browser strings, rotated
// per request per spec.md §4.3 stage 2.
func DefaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36 Edg/123.0.0.0",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 11.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Linux; Android 14; Pixel 8) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.6 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; WOW64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Fedora; Linux x86_64; rv:125.0) Gecko/20100101 Firefox/125.0",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
	}
}

// BindFlags registers the cobra/pflag flags this config understands and
// binds each to viper, matching the teacher's GenerateCrawlConfig
// convention of one struct fed from one loader.
func BindFlags(flags *pflag.FlagSet, v *viper.Viper) {
	flags.Int("worker-count", 20, "primary worker pool size")
	flags.Int("browser-pool-size", 3, "concurrent headless browser contexts")
	flags.Int("min-text-length", 300, "acceptance floor for extracted text, in characters")
	flags.Int("max-attempts", 3, "retry cap for transient fetch failures")
	flags.Int("grace-shutdown-seconds", 30, "grace period for in-flight workers on shutdown")
	flags.String("db-path", "acquire.db", "path to the sqlite state store")
	flags.String("proxy-list-path", "", "path to a newline-delimited proxy list")
	flags.String("proxy-echo-url", "https://httpbin.org/get", "HEAD-probed endpoint used to validate proxies")
	flags.String("log-dir", "logs", "directory for rotated log files")
	flags.Bool("no-stdout-log", false, "disable logging to stdout")
	flags.String("input-path", "", "path to the candidate URL CSV")
	flags.StringSlice("elasticsearch-urls", nil, "optional elasticsearch addresses for log shipping")
	flags.String("elasticsearch-username", "", "")
	flags.String("elasticsearch-password", "", "")
	flags.String("elasticsearch-index", "acquire", "")

	_ = v.BindPFlags(flags)
	v.SetEnvPrefix("ACQUIRE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

// Load materializes a Config from a bound viper instance and installs it
// as the process-wide current config.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		WorkerCount:           v.GetInt("worker-count"),
		BrowserPoolSize:       v.GetInt("browser-pool-size"),
		MinTextLength:         v.GetInt("min-text-length"),
		MaxAttempts:           v.GetInt("max-attempts"),
		GraceShutdownSeconds:  v.GetInt("grace-shutdown-seconds"),
		PaywallDomains:        DefaultPaywallDomains(),
		PerDomainDelays:       DefaultPerDomainDelays(),
		UserAgents:            DefaultUserAgents(),
		DBPath:                v.GetString("db-path"),
		ProxyListPath:         v.GetString("proxy-list-path"),
		ProxyEchoURL:          v.GetString("proxy-echo-url"),
		LogDir:                v.GetString("log-dir"),
		NoStdoutLog:           v.GetBool("no-stdout-log"),
		InputPath:             v.GetString("input-path"),
		ElasticsearchURLs:     v.GetStringSlice("elasticsearch-urls"),
		ElasticsearchUsername: v.GetString("elasticsearch-username"),
		ElasticsearchPassword: v.GetString("elasticsearch-password"),
		ElasticsearchIndex:    v.GetString("elasticsearch-index"),
	}

	if cfg.WorkerCount <= 0 {
		return nil, fmt.Errorf("worker-count must be positive, got %d", cfg.WorkerCount)
	}
	if cfg.InputPath == "" {
		return nil, fmt.Errorf("input-path is required")
	}

	mu.Lock()
	current = cfg
	mu.Unlock()

	return cfg, nil
}

// Get returns the process-wide config installed by Load, matching the
// teacher's config.Get() convention used from every stage.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// SetForTest installs cfg as the process-wide config; for package tests
// that need config.Get() without going through Load/viper.
func SetForTest(cfg *Config) {
	mu.Lock()
	current = cfg
	mu.Unlock()
}

// DelayForDomain returns the configured minimum inter-request delay for
// domain, falling back to DefaultDelay.
func (c *Config) DelayForDomain(domain string) time.Duration {
	if d, ok := c.PerDomainDelays[domain]; ok {
		return d
	}
	return DefaultDelay
}

// IsPaywallDomain reports whether domain (or a suffix match) is in the
// configured paywall set.
func (c *Config) IsPaywallDomain(domain string) bool {
	for _, d := range c.PaywallDomains {
		if domain == d || strings.HasSuffix(domain, "."+d) {
			return true
		}
	}
	return false
}
