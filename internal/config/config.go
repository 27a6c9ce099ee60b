package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration
type Config struct {
	Bybit     BybitConfig     `yaml:"bybit"`
	Refresh   RefreshConfig   `yaml:"refresh"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	Exclusion ExclusionConfig `yaml:"exclusion"`
	Ranking   RankingConfig   `yaml:"ranking"`
	HTTP      HTTPConfig      `yaml:"http"`
	Publish   PublishConfig   `yaml:"publish"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// BybitConfig configures the upstream market-data client
type BybitConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Category       string        `yaml:"category"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	UserAgent      string        `yaml:"user_agent"`
	RPS            float64       `yaml:"rps"`   // Requests per second across all endpoints and loops
	Burst          int           `yaml:"burst"` // Token bucket capacity
	Circuit        CircuitConfig `yaml:"circuit"`
}

// CircuitConfig configures the upstream circuit breaker
type CircuitConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"` // Trip after this many failures in a row
	FailureRatio        float64       `yaml:"failure_ratio"`        // Trip when failures/requests exceeds this
	MinRequests         uint32        `yaml:"min_requests"`         // Requests needed before the ratio applies
	Interval            time.Duration `yaml:"interval"`             // Closed-state count reset period
	Timeout             time.Duration `yaml:"timeout"`              // Open-state duration before half-open
}

// RefreshConfig holds the three loop cadences
type RefreshConfig struct {
	Gainers time.Duration `yaml:"gainers"`
	Volume  time.Duration `yaml:"volume"`
	Funding time.Duration `yaml:"funding"`
}

// BatchConfig describes one batched sampling profile
type BatchConfig struct {
	Size        int           `yaml:"size"`
	Concurrency int           `yaml:"concurrency"` // 0 means one request per batch member
	Pause       time.Duration `yaml:"pause"`
}

// SamplerConfig holds the batch profiles for each ranking category
type SamplerConfig struct {
	Change BatchConfig `yaml:"change"`
	Volume BatchConfig `yaml:"volume"`
}

// ExclusionConfig configures the rolling top-volume exclusion window
type ExclusionConfig struct {
	WindowDays     int           `yaml:"window_days"`
	TopN           int           `yaml:"top_n"`
	MinOccurrences int           `yaml:"min_occurrences"`
	Backfill       bool          `yaml:"backfill"`
	BackfillPause  time.Duration `yaml:"backfill_pause"`
	MinCoverage    float64       `yaml:"min_coverage"` // Sampled share of the universe needed to record a day
}

// RankingConfig controls table sizes
type RankingConfig struct {
	MoversSize  int    `yaml:"movers_size"`
	VolumeSize  int    `yaml:"volume_size"`
	FundingSize int    `yaml:"funding_size"`
	VolumeQuote string `yaml:"volume_quote"` // Quote of the perpetuals in the volume universe
}

// HTTPConfig configures the read-only HTTP surface
type HTTPConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// PublishConfig configures the optional snapshot publisher
type PublishConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds redis connection settings. An empty Addr disables publishing.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	Prefix   string        `yaml:"prefix"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig configures zerolog output
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console, json or auto
	Output string `yaml:"output"` // stderr, stdout or a file path
	MaxAge int    `yaml:"max_age"`
}

// Default returns the configuration used when no file is present
func Default() Config {
	return Config{
		Bybit: BybitConfig{
			BaseURL:        "https://api.bybit.com",
			Category:       "linear",
			RequestTimeout: 10 * time.Second,
			UserAgent:      "perpboard/1.0",
			RPS:            50,
			Burst:          100,
			Circuit: CircuitConfig{
				Enabled:             true,
				ConsecutiveFailures: 20,
				FailureRatio:        0.5,
				MinRequests:         50,
				Interval:            60 * time.Second,
				Timeout:             30 * time.Second,
			},
		},
		Refresh: RefreshConfig{
			Gainers: 5 * time.Minute,
			Volume:  5 * time.Minute,
			Funding: 60 * time.Second,
		},
		Sampler: SamplerConfig{
			Change: BatchConfig{Size: 30, Pause: 100 * time.Millisecond},
			Volume: BatchConfig{Size: 50, Pause: 50 * time.Millisecond},
		},
		Exclusion: ExclusionConfig{
			WindowDays:     7,
			TopN:           20,
			MinOccurrences: 5,
			Backfill:       true,
			BackfillPause:  200 * time.Millisecond,
			MinCoverage:    0.9,
		},
		Ranking: RankingConfig{
			MoversSize:  10,
			VolumeSize:  10,
			FundingSize: 15,
			VolumeQuote: "USDT",
		},
		HTTP: HTTPConfig{
			Enabled:      true,
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Publish: PublishConfig{
			Redis: RedisConfig{Prefix: "perpboard", Timeout: 500 * time.Millisecond},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
			Output: "stderr",
		},
	}
}

// Load reads a YAML file over the defaults. A missing file is not an error
// when optional is true.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && optional:
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// ApplyEnv overrides selected fields from environment variables
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("PERPBOARD_BYBIT_BASE_URL"); v != "" {
		c.Bybit.BaseURL = v
	}
	if v := getenv("PERPBOARD_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := getenv("PERPBOARD_REDIS_ADDR"); v != "" {
		c.Publish.Redis.Addr = v
	}
	if v := getenv("PERPBOARD_REDIS_PASSWORD"); v != "" {
		c.Publish.Redis.Password = v
	}
	if v := getenv("PERPBOARD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate ensures the configuration is usable
func (c *Config) Validate() error {
	if c.Bybit.BaseURL == "" {
		return fmt.Errorf("bybit base_url cannot be empty")
	}
	if !strings.HasPrefix(c.Bybit.BaseURL, "http://") && !strings.HasPrefix(c.Bybit.BaseURL, "https://") {
		return fmt.Errorf("bybit base_url must be an http(s) URL, got %q", c.Bybit.BaseURL)
	}
	if c.Bybit.Category == "" {
		return fmt.Errorf("bybit category cannot be empty")
	}
	if c.Bybit.RequestTimeout <= 0 {
		return fmt.Errorf("bybit request_timeout must be positive, got %s", c.Bybit.RequestTimeout)
	}
	if c.Bybit.RPS <= 0 {
		return fmt.Errorf("bybit rps must be positive, got %f", c.Bybit.RPS)
	}
	if c.Bybit.Burst < 1 {
		return fmt.Errorf("bybit burst must be at least 1, got %d", c.Bybit.Burst)
	}
	if cc := c.Bybit.Circuit; cc.Enabled {
		if cc.ConsecutiveFailures == 0 {
			return fmt.Errorf("circuit consecutive_failures must be positive")
		}
		if cc.FailureRatio <= 0 || cc.FailureRatio > 1 {
			return fmt.Errorf("circuit failure_ratio must be in (0,1], got %f", cc.FailureRatio)
		}
		if cc.Timeout <= 0 {
			return fmt.Errorf("circuit timeout must be positive, got %s", cc.Timeout)
		}
	}

	for name, d := range map[string]time.Duration{
		"gainers": c.Refresh.Gainers,
		"volume":  c.Refresh.Volume,
		"funding": c.Refresh.Funding,
	} {
		if d <= 0 {
			return fmt.Errorf("refresh %s interval must be positive, got %s", name, d)
		}
	}

	for name, b := range map[string]BatchConfig{"change": c.Sampler.Change, "volume": c.Sampler.Volume} {
		if b.Size <= 0 {
			return fmt.Errorf("sampler %s size must be positive, got %d", name, b.Size)
		}
		if b.Concurrency < 0 || b.Concurrency > b.Size {
			return fmt.Errorf("sampler %s concurrency must be in [0,%d], got %d", name, b.Size, b.Concurrency)
		}
		if b.Pause < 0 {
			return fmt.Errorf("sampler %s pause cannot be negative", name)
		}
	}

	e := c.Exclusion
	if e.WindowDays <= 0 {
		return fmt.Errorf("exclusion window_days must be positive, got %d", e.WindowDays)
	}
	if e.TopN <= 0 {
		return fmt.Errorf("exclusion top_n must be positive, got %d", e.TopN)
	}
	if e.MinOccurrences <= 0 || e.MinOccurrences > e.WindowDays {
		return fmt.Errorf("exclusion min_occurrences must be in [1,%d], got %d", e.WindowDays, e.MinOccurrences)
	}
	if e.MinCoverage <= 0 || e.MinCoverage > 1 {
		return fmt.Errorf("exclusion min_coverage must be in (0,1], got %f", e.MinCoverage)
	}

	r := c.Ranking
	if r.MoversSize <= 0 || r.VolumeSize <= 0 || r.FundingSize <= 0 {
		return fmt.Errorf("ranking table sizes must be positive")
	}
	if r.VolumeQuote == "" {
		return fmt.Errorf("ranking volume_quote cannot be empty")
	}

	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return fmt.Errorf("http addr cannot be empty when http is enabled")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "console", "json", "auto", "":
	default:
		return fmt.Errorf("logging format must be console, json or auto, got %q", c.Logging.Format)
	}

	return nil
}
