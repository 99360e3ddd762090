package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFileEnv names the optional YAML file loaded before the environment.
const ConfigFileEnv = "SPIDER_CONFIG"

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Scraper     ScraperConfig     `yaml:"scraper"`
	Spider      SpiderConfig      `yaml:"spider"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	Export      ExportConfig      `yaml:"export"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// SearchTimeout bounds synchronous searches run by the API.
	SearchTimeout time.Duration `yaml:"search_timeout"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int32  `yaml:"max_conns"`
}

// DSN builds a libpq connection URL.
func (d DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Name,
	}
	q := url.Values{}
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Stream   string `yaml:"stream"`
}

type ScraperConfig struct {
	// Browser enables headless rendering for sources that need it.
	Browser      bool          `yaml:"browser"`
	Headless     bool          `yaml:"headless"`
	Timeout      time.Duration `yaml:"timeout"`
	Workers      int           `yaml:"workers"`
	Concurrency  int           `yaml:"concurrency"`
	BrowserPages int           `yaml:"browser_pages"`
	RateLimitMin time.Duration `yaml:"rate_limit_min"`
	RateLimitMax time.Duration `yaml:"rate_limit_max"`
	Burst        int           `yaml:"burst"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	MaxBodySize  int64         `yaml:"max_body_size"`
	UserAgents   []string      `yaml:"user_agents"`
	Proxies      []string      `yaml:"proxies"`
}

type SpiderConfig struct {
	DefaultSource string `yaml:"default_source"`
	DefaultLimit  int    `yaml:"default_limit"`
	// HardCap bounds the search pages fetched per run, page 1 included.
	HardCap     int `yaml:"hard_cap"`
	MaxRequests int `yaml:"max_requests"`
	MaxItems    int `yaml:"max_items"`
	// PageSizes overrides the known page size per source.
	PageSizes map[string]int `yaml:"page_sizes"`
}

type DiagnosticsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	DumpDir  string `yaml:"dump_dir"`
	MaxDumps int    `yaml:"max_dumps"`
}

type ExportConfig struct {
	Dir    string `yaml:"dir"`
	Format string `yaml:"format"`
	// Group and Consumer name the feed exporter in the Redis consumer group.
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8084,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			SearchTimeout:   4 * time.Minute,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Name:     "search_spider",
			SSLMode:  "disable",
			MaxConns: 20,
		},
		Redis: RedisConfig{
			Addr:   "localhost:6379",
			Stream: "stream:search_results",
		},
		Scraper: ScraperConfig{
			Browser:      true,
			Headless:     true,
			Timeout:      30 * time.Second,
			Workers:      2,
			Concurrency:  1,
			BrowserPages: 1,
			RateLimitMin: 1500 * time.Millisecond,
			RateLimitMax: 4500 * time.Millisecond,
			Burst:        1,
			MaxRetries:   2,
			RetryDelay:   2 * time.Second,
			MaxBodySize:  10 * 1024 * 1024,
			UserAgents:   defaultUserAgents(),
		},
		Spider: SpiderConfig{
			DefaultSource: "walmart",
			DefaultLimit:  50,
			HardCap:       5,
			PageSizes:     map[string]int{},
		},
		Diagnostics: DiagnosticsConfig{
			Enabled:  false,
			DumpDir:  "data/debug",
			MaxDumps: 100,
		},
		Export: ExportConfig{
			Dir:      "data",
			Format:   "csv",
			Group:    "feed-exporter-group",
			Consumer: "feed-exporter-1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load applies, in order, the defaults, the YAML file named by
// SPIDER_CONFIG and the environment.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnvInt("PORT", c.Server.Port)
	c.Server.ReadTimeout = getEnvDuration("SERVER_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("SERVER_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.SearchTimeout = getEnvDuration("SERVER_SEARCH_TIMEOUT", c.Server.SearchTimeout)

	c.Database.Host = getEnv("DB_HOST", c.Database.Host)
	c.Database.Port = getEnvInt("DB_PORT", c.Database.Port)
	c.Database.User = getEnv("DB_USER", c.Database.User)
	c.Database.Password = getEnv("DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnv("DB_SSL_MODE", c.Database.SSLMode)
	c.Database.MaxConns = int32(getEnvInt("DB_MAX_CONNS", int(c.Database.MaxConns)))

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)
	c.Redis.Stream = getEnv("REDIS_STREAM", c.Redis.Stream)

	c.Scraper.Browser = getEnvBool("SCRAPER_BROWSER", c.Scraper.Browser)
	c.Scraper.Headless = getEnvBool("SCRAPER_HEADLESS", c.Scraper.Headless)
	c.Scraper.Timeout = getEnvDuration("SCRAPER_TIMEOUT", c.Scraper.Timeout)
	c.Scraper.Workers = getEnvInt("SCRAPER_WORKERS", c.Scraper.Workers)
	c.Scraper.Concurrency = getEnvInt("SCRAPER_CONCURRENCY", c.Scraper.Concurrency)
	c.Scraper.BrowserPages = getEnvInt("SCRAPER_BROWSER_PAGES", c.Scraper.BrowserPages)
	c.Scraper.RateLimitMin = getEnvDuration("SCRAPER_RATE_LIMIT_MIN", c.Scraper.RateLimitMin)
	c.Scraper.RateLimitMax = getEnvDuration("SCRAPER_RATE_LIMIT_MAX", c.Scraper.RateLimitMax)
	c.Scraper.Burst = getEnvInt("SCRAPER_BURST", c.Scraper.Burst)
	c.Scraper.MaxRetries = getEnvInt("SCRAPER_MAX_RETRIES", c.Scraper.MaxRetries)
	c.Scraper.RetryDelay = getEnvDuration("SCRAPER_RETRY_DELAY", c.Scraper.RetryDelay)
	c.Scraper.MaxBodySize = int64(getEnvInt("SCRAPER_MAX_BODY_SIZE", int(c.Scraper.MaxBodySize)))
	c.Scraper.UserAgents = getEnvSlice("SCRAPER_USER_AGENTS", c.Scraper.UserAgents)
	c.Scraper.Proxies = getEnvSlice("SCRAPER_PROXIES", c.Scraper.Proxies)

	c.Spider.DefaultSource = getEnv("SPIDER_DEFAULT_SOURCE", c.Spider.DefaultSource)
	c.Spider.DefaultLimit = getEnvInt("SPIDER_DEFAULT_LIMIT", c.Spider.DefaultLimit)
	c.Spider.HardCap = getEnvInt("SPIDER_HARD_CAP", c.Spider.HardCap)
	c.Spider.MaxRequests = getEnvInt("SPIDER_MAX_REQUESTS", c.Spider.MaxRequests)
	c.Spider.MaxItems = getEnvInt("SPIDER_MAX_ITEMS", c.Spider.MaxItems)
	c.Spider.PageSizes = getEnvIntMap("SPIDER_PAGE_SIZES", c.Spider.PageSizes)

	c.Diagnostics.Enabled = getEnvBool("DIAGNOSTICS_ENABLED", c.Diagnostics.Enabled)
	c.Diagnostics.DumpDir = getEnv("DIAGNOSTICS_DUMP_DIR", c.Diagnostics.DumpDir)
	c.Diagnostics.MaxDumps = getEnvInt("DIAGNOSTICS_MAX_DUMPS", c.Diagnostics.MaxDumps)

	c.Export.Dir = getEnv("EXPORT_DIR", c.Export.Dir)
	c.Export.Format = getEnv("EXPORT_FORMAT", c.Export.Format)
	c.Export.Group = getEnv("EXPORT_GROUP", c.Export.Group)
	c.Export.Consumer = getEnv("EXPORT_CONSUMER", c.Export.Consumer)

	c.Logging.Level = getEnv("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("LOG_FORMAT", c.Logging.Format)
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}

	if c.Scraper.Workers < 1 {
		return fmt.Errorf("at least 1 concurrent worker is required")
	}

	if c.Scraper.Concurrency < 1 {
		return fmt.Errorf("SCRAPER_CONCURRENCY must be at least 1")
	}

	if c.Scraper.RateLimitMin > c.Scraper.RateLimitMax {
		return fmt.Errorf("SCRAPER_RATE_LIMIT_MIN cannot be greater than SCRAPER_RATE_LIMIT_MAX")
	}

	if c.Scraper.MaxRetries < 0 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES cannot be negative")
	}

	if c.Spider.DefaultLimit < 0 {
		return fmt.Errorf("SPIDER_DEFAULT_LIMIT cannot be negative")
	}

	if c.Spider.HardCap < 1 {
		return fmt.Errorf("SPIDER_HARD_CAP must be at least 1")
	}

	for source, size := range c.Spider.PageSizes {
		if size < 1 {
			return fmt.Errorf("page size for %s must be at least 1", source)
		}
	}

	switch c.Export.Format {
	case "csv", "jsonl":
	default:
		return fmt.Errorf("unsupported export format %q", c.Export.Format)
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format %q", c.Logging.Format)
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// getEnvIntMap parses "a=1,b=2". Malformed pairs are ignored.
func getEnvIntMap(key string, defaultValue map[string]int) map[string]int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	out := make(map[string]int, len(defaultValue))
	for k, v := range defaultValue {
		out[k] = v
	}
	for _, pair := range strings.Split(value, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			continue
		}
		out[strings.TrimSpace(k)] = n
	}
	return out
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	}
}
