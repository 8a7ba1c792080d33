package config

import "time"

// Store backends
const (
	BackendMemory   = "memory"   // Single process, lost on exit
	BackendBadger   = "badger"   // Single process, durable
	BackendPostgres = "postgres" // Shared by the whole fleet
)

// AppConfig holds the global application configuration
type AppConfig struct {
	CrawlerID          string           `yaml:"crawler_id,omitempty"` // Overrides the host-derived id
	NumWorkers         int              `yaml:"num_workers"`
	StartURLs          []string         `yaml:"start_urls,omitempty"`
	SitemapURLs        []string         `yaml:"sitemap_urls,omitempty"`    // Pages listed here are seeded at depth 0
	AllowedDomains     []string         `yaml:"allowed_domains,omitempty"` // Empty = follow links anywhere
	MaxDepth           int              `yaml:"max_depth,omitempty"`       // Discovered links deeper than this are not enqueued
	GlobalCrawlTimeout time.Duration    `yaml:"global_crawl_timeout,omitempty"`
	ProgressInterval   time.Duration    `yaml:"progress_interval,omitempty"`
	MetricsAddr        string           `yaml:"metrics_addr,omitempty"` // Empty disables /metrics
	Store              StoreConfig      `yaml:"store"`
	Frontier           FrontierConfig   `yaml:"frontier"`
	Guard              GuardConfig      `yaml:"guard"`
	Priority           PriorityConfig   `yaml:"priority"`
	Dedup              DedupConfig      `yaml:"dedup"`
	Fetch              FetchConfig      `yaml:"fetch"`
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// StoreConfig selects where the frontier, fleet registry and pages live
type StoreConfig struct {
	Backend     string `yaml:"backend"`                // memory, badger or postgres
	StateDir    string `yaml:"state_dir,omitempty"`    // Badger directory
	PostgresDSN string `yaml:"postgres_dsn,omitempty"` // Required for postgres
	PageDBPath  string `yaml:"page_db_path,omitempty"` // SQLite page store file
}

// FrontierConfig controls claiming and retry policy
type FrontierConfig struct {
	MaxAttempts   int           `yaml:"max_attempts,omitempty"`    // Retryable releases past this go to failed
	LeaseTimeout  time.Duration `yaml:"lease_timeout,omitempty"`   // Leases older than this can be reclaimed
	StopWhenEmpty *bool         `yaml:"stop_when_empty,omitempty"` // nil = true
	IdleBackoff   time.Duration `yaml:"idle_backoff,omitempty"`    // Sleep between polls of an empty frontier
}

// GuardConfig holds the trap guard thresholds
type GuardConfig struct {
	RedirectThreshold int           `yaml:"redirect_threshold,omitempty"`
	RedirectChainCap  int           `yaml:"redirect_chain_cap,omitempty"`
	RevisitLimit      int           `yaml:"revisit_limit,omitempty"`
	NullByteLimit     int           `yaml:"null_byte_limit,omitempty"`
	PathDepthLimit    int           `yaml:"path_depth_limit,omitempty"`
	Shared            bool          `yaml:"shared,omitempty"` // Keep guard state in Redis for the whole fleet
	RedisAddr         string        `yaml:"redis_addr,omitempty"`
	RedisPassword     string        `yaml:"redis_password,omitempty"`
	RedisDB           int           `yaml:"redis_db,omitempty"`
	RedisKeyPrefix    string        `yaml:"redis_key_prefix,omitempty"`
	StateTTL          time.Duration `yaml:"state_ttl,omitempty"` // Expiry of shared keys, 0 = never
}

// PriorityConfig holds the URL scoring rules
type PriorityConfig struct {
	LongURLThreshold int                 `yaml:"long_url_threshold,omitempty"`
	HubLinkThreshold int                 `yaml:"hub_link_threshold,omitempty"` // Links on a page above this raise its links to priority 1; negative disables
	Keywords         map[string][]string `yaml:"keywords,omitempty"` // tier name -> keywords
}

// DedupConfig holds the near-duplicate policy
type DedupConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold,omitempty"`
}

// FetchConfig holds fetcher behavior
type FetchConfig struct {
	Timeout            time.Duration     `yaml:"timeout,omitempty"`
	MaxRetries         int               `yaml:"max_retries,omitempty"`
	RetryStatusCodes   []int             `yaml:"retry_status_codes,omitempty"`
	InitialRetryDelay  time.Duration     `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay      time.Duration     `yaml:"max_retry_delay,omitempty"`
	DelayPerHost       time.Duration     `yaml:"delay_per_host,omitempty"`
	MaxRequestsPerHost int               `yaml:"max_requests_per_host,omitempty"` // Concurrent requests to one host
	RespectRobots      *bool             `yaml:"respect_robots,omitempty"`        // nil = true
	UserAgent          string            `yaml:"user_agent,omitempty"`
	Headers            map[string]string `yaml:"headers,omitempty"`
	MaxBodyBytes       int64             `yaml:"max_body_bytes,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// DefaultRetryStatusCodes are the statuses the fetcher retries
var DefaultRetryStatusCodes = []int{500, 503, 504, 400, 403, 404, 408}

// DefaultHeaders are sent with every page request unless overridden
var DefaultHeaders = map[string]string{
	"Accept-Language":           "en-US,en;q=0.5",
	"DNT":                       "1",
	"Upgrade-Insecure-Requests": "1",
}

// DefaultUserAgent is used when fetch.user_agent is empty
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// GetEffectiveStopWhenEmpty determines whether workers exit on an empty frontier
func GetEffectiveStopWhenEmpty(f FrontierConfig) bool {
	if f.StopWhenEmpty != nil {
		return *f.StopWhenEmpty
	}
	return true
}

// GetEffectiveRespectRobots determines whether the fetcher consults robots.txt
func GetEffectiveRespectRobots(f FetchConfig) bool {
	if f.RespectRobots != nil {
		return *f.RespectRobots
	}
	return true
}
