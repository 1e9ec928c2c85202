package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	charmLog "github.com/charmbracelet/log"
	toml "github.com/pelletier/go-toml/v2"

	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/app"
	"github.com/ShahriarAlomShakil/SmartMarketplace-sub004/internal/domain"
)

// Duration is a time.Duration that reads and writes Go duration strings in TOML.
type Duration time.Duration

// UnmarshalText parses values such as "90s" or "168h".
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText renders the duration in Go syntax.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the standard library duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

type Config struct {
	Database    DatabaseConfig    `toml:"database"`
	Logging     LoggingConfig     `toml:"logging"`
	Negotiation NegotiationConfig `toml:"negotiation"`
	Agent       AgentConfig       `toml:"agent"`
	Sweep       SweepConfig       `toml:"sweep"`
	Persistence PersistenceConfig `toml:"persistence"`
	Server      ServerConfig      `toml:"server"`
	Auth        AuthConfig        `toml:"auth"`
	Feed        FeedConfig        `toml:"feed"`
}

type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig selects the log level and the console format (text, json or logfmt).
type LoggingConfig struct {
	Level   string           `toml:"level"`
	Format  string           `toml:"format"`
	DevFile DevFileLogConfig `toml:"dev_file"`
}

// DevFileLogConfig controls the local logfmt sink used during development.
type DevFileLogConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

type NegotiationConfig struct {
	DefaultMaxRounds int      `toml:"default_max_rounds"`
	DefaultExpiry    Duration `toml:"default_expiry"`
	DefaultCurrency  string   `toml:"default_currency"`
	EnforceMinPrice  bool     `toml:"enforce_min_price"`
}

type AgentConfig struct {
	Enabled       bool     `toml:"enabled"`
	Endpoint      string   `toml:"endpoint"`
	Timeout       Duration `toml:"timeout"`
	ActorID       string   `toml:"actor_id"`
	RatePerSecond float64  `toml:"rate_per_second"`
	Burst         int      `toml:"burst"`
	AutoReply     bool     `toml:"auto_reply"`
}

type SweepConfig struct {
	Enabled   bool   `toml:"enabled"`
	Cron      string `toml:"cron"`
	BatchSize int    `toml:"batch_size"`
}

type PersistenceConfig struct {
	MaxRetries   int      `toml:"max_retries"`
	RetryBackoff Duration `toml:"retry_backoff"`
}

type ServerConfig struct {
	HTTPBind    string `toml:"http_bind"`
	APIEndpoint string `toml:"api_endpoint"`
	MCPEndpoint string `toml:"mcp_endpoint"`
}

// AuthConfig selects how transports resolve the calling actor.
type AuthConfig struct {
	JWTSecret           string `toml:"jwt_secret"`
	Issuer              string `toml:"issuer"`
	Audience            string `toml:"audience"`
	AllowHeaderIdentity bool   `toml:"allow_header_identity"`
}

type FeedConfig struct {
	Enabled        bool     `toml:"enabled"`
	Brokers        []string `toml:"brokers"`
	Topic          string   `toml:"topic"`
	Backlog        int      `toml:"backlog"`
	PublishTimeout Duration `toml:"publish_timeout"`
}

func Default(dbPath string) Config {
	return Config{
		Database: DatabaseConfig{
			Path: dbPath,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			DevFile: DevFileLogConfig{
				Enabled: true,
				Dir:     ".haggle/log",
			},
		},
		Negotiation: NegotiationConfig{
			DefaultMaxRounds: domain.DefaultMaxRounds,
			DefaultExpiry:    Duration(7 * 24 * time.Hour),
			DefaultCurrency:  "USD",
		},
		Agent: AgentConfig{
			Timeout:       Duration(30 * time.Second),
			ActorID:       "haggle-agent",
			RatePerSecond: 1,
			Burst:         5,
		},
		Sweep: SweepConfig{
			Enabled:   true,
			Cron:      "* * * * *",
			BatchSize: 100,
		},
		Persistence: PersistenceConfig{
			MaxRetries:   3,
			RetryBackoff: Duration(25 * time.Millisecond),
		},
		Server: ServerConfig{
			HTTPBind:    "127.0.0.1:8080",
			APIEndpoint: "/api/v1",
			MCPEndpoint: "/mcp",
		},
		Feed: FeedConfig{
			Topic:          "haggle.timeline",
			Backlog:        1024,
			PublishTimeout: Duration(10 * time.Second),
		},
	}
}

func Load(path string, defaults Config) (Config, error) {
	cfg := defaults
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if len(content) == 0 {
		return cfg, nil
	}

	if err := toml.Unmarshal(content, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode toml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return errors.New("database path is required")
	}

	if level := strings.TrimSpace(c.Logging.Level); level != "" {
		if _, err := charmLog.ParseLevel(strings.ToLower(level)); err != nil {
			return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
		}
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "text", "json", "logfmt":
	default:
		return fmt.Errorf("invalid logging.format: %q", c.Logging.Format)
	}

	n := c.Negotiation
	if n.DefaultMaxRounds < 1 || n.DefaultMaxRounds > domain.MaxRoundsCeiling {
		return fmt.Errorf("negotiation.default_max_rounds must be between 1 and %d", domain.MaxRoundsCeiling)
	}
	if n.DefaultExpiry <= 0 {
		return errors.New("negotiation.default_expiry must be > 0")
	}
	if !isCurrencyCode(n.DefaultCurrency) {
		return fmt.Errorf("invalid negotiation.default_currency: %q", n.DefaultCurrency)
	}

	if c.Agent.Enabled && strings.TrimSpace(c.Agent.Endpoint) == "" {
		return errors.New("agent.endpoint is required when the agent is enabled")
	}
	if c.Agent.Timeout < 0 {
		return errors.New("agent.timeout must be >= 0")
	}
	if c.Agent.RatePerSecond < 0 || c.Agent.Burst < 0 {
		return errors.New("agent.rate_per_second and agent.burst must be >= 0")
	}

	if c.Sweep.Enabled && !gronx.IsValid(c.Sweep.Cron) {
		return fmt.Errorf("invalid sweep.cron: %q", c.Sweep.Cron)
	}
	if c.Sweep.BatchSize < 0 {
		return errors.New("sweep.batch_size must be >= 0")
	}

	if c.Persistence.MaxRetries < 0 {
		return errors.New("persistence.max_retries must be >= 0")
	}
	if c.Persistence.RetryBackoff < 0 {
		return errors.New("persistence.retry_backoff must be >= 0")
	}

	api := trimEndpoint(c.Server.APIEndpoint)
	mcp := trimEndpoint(c.Server.MCPEndpoint)
	if api != "" && api == mcp {
		return fmt.Errorf("server.api_endpoint and server.mcp_endpoint must differ: %q", c.Server.APIEndpoint)
	}

	if c.Feed.Enabled {
		if len(c.Feed.Brokers) == 0 {
			return errors.New("feed.brokers is required when the feed is enabled")
		}
		for i, broker := range c.Feed.Brokers {
			if strings.TrimSpace(broker) == "" {
				return fmt.Errorf("feed.brokers[%d] is empty", i)
			}
		}
		if strings.TrimSpace(c.Feed.Topic) == "" {
			return errors.New("feed.topic is required when the feed is enabled")
		}
	}
	if c.Feed.Backlog < 0 {
		return errors.New("feed.backlog must be >= 0")
	}
	if c.Feed.PublishTimeout < 0 {
		return errors.New("feed.publish_timeout must be >= 0")
	}

	return nil
}

// ServiceConfig maps the negotiation-facing sections onto the service settings.
func (c Config) ServiceConfig() app.ServiceConfig {
	return app.ServiceConfig{
		DefaultMaxRounds:   c.Negotiation.DefaultMaxRounds,
		DefaultExpiry:      c.Negotiation.DefaultExpiry.Std(),
		DefaultCurrency:    strings.ToUpper(strings.TrimSpace(c.Negotiation.DefaultCurrency)),
		EnforceMinPrice:    c.Negotiation.EnforceMinPrice,
		AgentActorID:       strings.TrimSpace(c.Agent.ActorID),
		AgentTimeout:       c.Agent.Timeout.Std(),
		AgentRatePerSecond: c.Agent.RatePerSecond,
		AgentBurst:         c.Agent.Burst,
		AgentAutoReply:     c.Agent.Enabled && c.Agent.AutoReply,
		PersistRetries:     c.Persistence.MaxRetries,
		PersistBackoff:     c.Persistence.RetryBackoff.Std(),
		SweepBatchSize:     c.Sweep.BatchSize,
		FeedBacklog:        c.Feed.Backlog,
		FeedTimeout:        c.Feed.PublishTimeout.Std(),
	}
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func isCurrencyCode(code string) bool {
	code = strings.TrimSpace(code)
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

func trimEndpoint(path string) string {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return ""
	}
	return "/" + path
}
