package config

// AppConfig holds application-level settings.
type AppConfig struct {
	LogLevel string `mapstructure:"log_level"`
}

// RedisConfig holds redis connection settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ScrapeConfig controls the scrape scheduler.
type ScrapeConfig struct {
	Tick             string `mapstructure:"tick"`              // duration string, e.g., "1m"
	Workers          int    `mapstructure:"workers"`           // bounded pool width
	PriorityInterval string `mapstructure:"priority_interval"` // cadence for priority-tier sources
	StandardInterval string `mapstructure:"standard_interval"` // cadence for standard-tier sources
	FetchTimeout     string `mapstructure:"fetch_timeout"`     // default per-location timeout
	FailureThreshold int    `mapstructure:"failure_threshold"` // consecutive failures before a location is marked unavailable
	RawTTL           string `mapstructure:"raw_ttl"`           // retention for raw fetched content
}

// SinkConfig defines one announcement sink.
type SinkConfig struct {
	Name      string `mapstructure:"name"`
	Type      string `mapstructure:"type"` // slack | webhook
	BotToken  string `mapstructure:"bot_token"`
	ChannelID string `mapstructure:"channel_id"`
	URL       string `mapstructure:"url"` // webhook endpoint
}

// NotifyConfig controls the notification pollers.
type NotifyConfig struct {
	PollInterval string       `mapstructure:"poll_interval"`
	Sinks        []SinkConfig `mapstructure:"sinks"`
}

// SourcesConfig points at the seed file loaded into the registry at startup.
type SourcesConfig struct {
	SeedFile string `mapstructure:"seed_file"`
}

// Config is the top-level configuration structure.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Sources SourcesConfig `mapstructure:"sources"`
}

// FillDefaults applies default values if not provided.
func (c *Config) FillDefaults() {
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "127.0.0.1:6379"
	}
	if c.Scrape.Tick == "" {
		c.Scrape.Tick = "1m"
	}
	if c.Scrape.Workers <= 0 {
		c.Scrape.Workers = 8
	}
	if c.Scrape.PriorityInterval == "" {
		c.Scrape.PriorityInterval = "15m"
	}
	if c.Scrape.StandardInterval == "" {
		c.Scrape.StandardInterval = "2h"
	}
	if c.Scrape.FetchTimeout == "" {
		c.Scrape.FetchTimeout = "90s"
	}
	if c.Scrape.FailureThreshold <= 0 {
		c.Scrape.FailureThreshold = 3
	}
	if c.Scrape.RawTTL == "" {
		c.Scrape.RawTTL = "168h"
	}
	if c.Notify.PollInterval == "" {
		c.Notify.PollInterval = "1m"
	}
	for i := range c.Notify.Sinks {
		s := &c.Notify.Sinks[i]
		if s.Type == "" {
			s.Type = "slack"
		}
	}
}
