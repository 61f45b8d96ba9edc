package config

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	// Scheduler controls the periodic digest broadcast.
	Scheduler SchedulerConfig `json:"scheduler"`

	HTTP       HTTPConfig       `json:"http,omitempty"`
	Sources    SourcesConfig    `json:"sources"`
	Aggregator AggregatorConfig `json:"aggregator"`
	Digest     DigestConfig     `json:"digest"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ChatID is the default broadcast target for scheduled digests.
	ChatID   int64 `json:"chat_id"`
	ThreadID int   `json:"thread_id,omitempty"`

	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// GroupLog is the chat id that receives warn/error logs (optional).
	GroupLog string `json:"group_log"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the periodic digest.
//
// AutoUpdate accepts a cron expression ("0 * * * *", "@hourly"), a Go
// duration ("1h") or an HH:MM interval ("01:00"). Defaults:
//   - auto_update: "@hourly"
//   - startup_delay: "5s"
type SchedulerConfig struct {
	Enabled      bool   `json:"enabled"`
	Timezone     string `json:"timezone,omitempty"`
	AutoUpdate   string `json:"auto_update,omitempty"`
	StartupDelay string `json:"startup_delay,omitempty"`
}

// HTTPConfig controls the JSON API server.
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:8080").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type HTTPConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:8080"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

// SourceCommon holds settings shared by every upstream.
// Enabled is a pointer so an omitted key means enabled.
type SourceCommon struct {
	Enabled   *bool  `json:"enabled,omitempty"`
	URL       string `json:"url,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// IsEnabled reports whether the source should be fetched.
func (s SourceCommon) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type SourcesConfig struct {
	NVD     NVDSource     `json:"nvd"`
	CISA    SourceCommon  `json:"cisa"`
	CIRCL   SourceCommon  `json:"circl"`
	RSS     RSSSource     `json:"rss"`
	Scraper ScraperSource `json:"scraper"`
}

type NVDSource struct {
	SourceCommon
	// APIKey is sent as the "apiKey" header. Can be set via NVD_API.
	APIKey         string `json:"api_key,omitempty"`
	ResultsPerPage int    `json:"results_per_page,omitempty"`
}

type RSSSource struct {
	SourceCommon
	Feeds   []string `json:"feeds,omitempty"`
	PerFeed int      `json:"per_feed,omitempty"`
}

type ScraperSource struct {
	SourceCommon
	ItemSelector  string `json:"item_selector,omitempty"`
	TitleSelector string `json:"title_selector,omitempty"`
	DescSelector  string `json:"desc_selector,omitempty"`
	LinkContains  string `json:"link_contains,omitempty"`
	MaxItems      int    `json:"max_items,omitempty"`
	RespectRobots bool   `json:"respect_robots,omitempty"`
}

// AggregatorConfig controls a collection cycle.
//
// Defaults:
//   - per_source_cap: 20
//   - fetch_timeout: "15s"
//   - cache_ttl: "0s" (disabled)
//   - concurrency: number of enabled sources
type AggregatorConfig struct {
	PerSourceCap int    `json:"per_source_cap,omitempty"`
	FetchTimeout string `json:"fetch_timeout,omitempty"`
	CacheTTL     string `json:"cache_ttl,omitempty"`
	Concurrency  int    `json:"concurrency,omitempty"`
}

// DigestConfig controls message size and per-command record limits.
type DigestConfig struct {
	MaxLen      int `json:"max_len,omitempty"`      // default 4000
	TodayLimit  int `json:"today_limit,omitempty"`  // default 10
	WeeklyLimit int `json:"weekly_limit,omitempty"` // default 5
	NowLimit    int `json:"now_limit,omitempty"`    // default 5
	AutoLimit   int `json:"auto_limit,omitempty"`   // default 5
}

// NotifierConfig controls the async delivery pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
}

// StorageConfig controls where chat subscriptions are kept.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./sentinel.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}
