package config

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Sriram-PR/crawl-frontier/pkg/utils"
)

// Validate checks AppConfig fields and applies defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	if c.NumWorkers <= 0 {
		warnings = append(warnings, "num_workers should be > 0, defaulting to 4")
		c.NumWorkers = 4
	}

	if c.MaxDepth < 0 {
		warnings = append(warnings, "max_depth cannot be negative, defaulting to 25")
		c.MaxDepth = 0
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = 25
	}

	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = 30 * time.Second
	}

	for _, raw := range c.StartURLs {
		if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
			return warnings, fmt.Errorf("%w: start URL '%s' must be absolute http(s)", utils.ErrConfigValidation, raw)
		}
	}
	for _, raw := range c.SitemapURLs {
		if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
			return warnings, fmt.Errorf("%w: sitemap URL '%s' must be absolute http(s)", utils.ErrConfigValidation, raw)
		}
	}

	if warnings, err = c.validateStore(warnings); err != nil {
		return warnings, err
	}
	warnings = c.validateFetch(warnings)
	warnings = c.validateFrontier(warnings)
	if warnings, err = c.validateGuard(warnings); err != nil {
		return warnings, err
	}
	if warnings, err = c.validatePriority(warnings); err != nil {
		return warnings, err
	}
	if warnings, err = c.validateDedup(warnings); err != nil {
		return warnings, err
	}
	c.validateHTTPClientSettings()

	return warnings, nil
}

func (c *AppConfig) validateStore(warnings []string) ([]string, error) {
	s := &c.Store
	s.Backend = strings.ToLower(strings.TrimSpace(s.Backend))
	switch s.Backend {
	case "":
		warnings = append(warnings, "store.backend is empty, defaulting to 'badger'")
		s.Backend = BackendBadger
	case BackendMemory, BackendBadger:
	case BackendPostgres:
		if s.PostgresDSN == "" {
			return warnings, fmt.Errorf("%w: store.backend 'postgres' needs store.postgres_dsn", utils.ErrConfigValidation)
		}
	default:
		return warnings, fmt.Errorf("%w: unknown store.backend '%s'", utils.ErrConfigValidation, s.Backend)
	}

	if s.StateDir == "" {
		if s.Backend == BackendBadger {
			warnings = append(warnings, "store.state_dir is empty, defaulting to './crawl_state'")
		}
		s.StateDir = "./crawl_state"
	}
	if s.PageDBPath == "" {
		s.PageDBPath = "./pages.db"
	}
	return warnings, nil
}

func (c *AppConfig) validateFrontier(warnings []string) []string {
	f := &c.Frontier
	if f.MaxAttempts <= 0 {
		f.MaxAttempts = 3
	}
	if f.LeaseTimeout < 0 {
		warnings = append(warnings, "frontier.lease_timeout cannot be negative, disabling lease expiry")
		f.LeaseTimeout = 0
	} else if f.LeaseTimeout == 0 {
		f.LeaseTimeout = 5 * time.Minute
	}
	if f.IdleBackoff <= 0 {
		f.IdleBackoff = 2 * time.Second
	}
	if f.LeaseTimeout > 0 && f.LeaseTimeout < c.Fetch.Timeout {
		warnings = append(warnings, fmt.Sprintf(
			"frontier.lease_timeout (%v) is shorter than fetch.timeout (%v); leases may be reclaimed mid-fetch",
			f.LeaseTimeout, c.Fetch.Timeout))
	}
	return warnings
}

func (c *AppConfig) validateGuard(warnings []string) ([]string, error) {
	g := &c.Guard
	defaults := []struct {
		name  string
		field *int
		def   int
	}{
		{"redirect_threshold", &g.RedirectThreshold, 5},
		{"redirect_chain_cap", &g.RedirectChainCap, 5},
		{"revisit_limit", &g.RevisitLimit, 10},
		{"null_byte_limit", &g.NullByteLimit, 100},
		{"path_depth_limit", &g.PathDepthLimit, 20},
	}
	for _, d := range defaults {
		if *d.field < 0 {
			warnings = append(warnings, fmt.Sprintf("guard.%s cannot be negative, defaulting to %d", d.name, d.def))
			*d.field = d.def
		} else if *d.field == 0 {
			*d.field = d.def
		}
	}

	if g.Shared && g.RedisAddr == "" {
		return warnings, fmt.Errorf("%w: guard.shared needs guard.redis_addr", utils.ErrConfigValidation)
	}
	if g.RedisKeyPrefix == "" {
		g.RedisKeyPrefix = "crawlguard"
	}
	if g.StateTTL < 0 {
		warnings = append(warnings, "guard.state_ttl cannot be negative, keys will not expire")
		g.StateTTL = 0
	}
	return warnings, nil
}

func (c *AppConfig) validatePriority(warnings []string) ([]string, error) {
	p := &c.Priority
	if p.LongURLThreshold <= 0 {
		p.LongURLThreshold = 100
	}
	if p.HubLinkThreshold == 0 {
		p.HubLinkThreshold = 10
	}
	for tier, keywords := range p.Keywords {
		if strings.TrimSpace(tier) == "" {
			return warnings, fmt.Errorf("%w: priority.keywords has an empty tier name", utils.ErrConfigValidation)
		}
		if len(keywords) == 0 {
			return warnings, fmt.Errorf("%w: priority.keywords tier '%s' has no keywords", utils.ErrConfigValidation, tier)
		}
		for i, kw := range keywords {
			if strings.TrimSpace(kw) == "" {
				return warnings, fmt.Errorf("%w: priority.keywords tier '%s' keyword #%d is empty", utils.ErrConfigValidation, tier, i+1)
			}
		}
		if tier != "high" && tier != "middle" {
			warnings = append(warnings, fmt.Sprintf("priority.keywords tier '%s' is not 'high' or 'middle'; it scores -1", tier))
		}
	}
	return warnings, nil
}

func (c *AppConfig) validateDedup(warnings []string) ([]string, error) {
	d := &c.Dedup
	if d.SimilarityThreshold == 0 {
		d.SimilarityThreshold = 0.9
	}
	if d.SimilarityThreshold < 0 || d.SimilarityThreshold > 1 {
		return warnings, fmt.Errorf("%w: dedup.similarity_threshold %v outside [0,1]", utils.ErrConfigValidation, d.SimilarityThreshold)
	}
	return warnings, nil
}

func (c *AppConfig) validateFetch(warnings []string) []string {
	f := &c.Fetch
	if f.Timeout <= 0 {
		f.Timeout = 15 * time.Second
	}
	if f.MaxRetries < 0 {
		warnings = append(warnings, "fetch.max_retries cannot be negative, setting to 0")
		f.MaxRetries = 0
	}
	if f.MaxRetries == 0 && f.InitialRetryDelay == 0 {
		f.MaxRetries = 3
	}
	if f.MaxRetries > 0 {
		if f.InitialRetryDelay <= 0 {
			f.InitialRetryDelay = 1 * time.Second
		}
		if f.MaxRetryDelay <= 0 {
			f.MaxRetryDelay = 30 * time.Second
		}
	}
	if f.InitialRetryDelay > f.MaxRetryDelay && f.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"fetch.initial_retry_delay (%v) > fetch.max_retry_delay (%v), using max_retry_delay for initial",
			f.InitialRetryDelay, f.MaxRetryDelay))
		f.InitialRetryDelay = f.MaxRetryDelay
	}

	if len(f.RetryStatusCodes) == 0 {
		f.RetryStatusCodes = append([]int(nil), DefaultRetryStatusCodes...)
	}
	kept := f.RetryStatusCodes[:0]
	for _, code := range f.RetryStatusCodes {
		if code < 100 || code > 599 || http.StatusText(code) == "" {
			warnings = append(warnings, fmt.Sprintf("fetch.retry_status_codes: ignoring invalid status %d", code))
			continue
		}
		kept = append(kept, code)
	}
	f.RetryStatusCodes = kept

	if f.DelayPerHost < 0 {
		warnings = append(warnings, "fetch.delay_per_host cannot be negative, disabling delay")
		f.DelayPerHost = 0
	}
	if f.MaxRequestsPerHost <= 0 {
		f.MaxRequestsPerHost = 2
	}
	if f.UserAgent == "" {
		f.UserAgent = DefaultUserAgent
	}
	if f.Headers == nil {
		f.Headers = make(map[string]string, len(DefaultHeaders))
	}
	for k, v := range DefaultHeaders {
		if _, ok := f.Headers[k]; !ok {
			f.Headers[k] = v
		}
	}
	if f.MaxBodyBytes <= 0 {
		f.MaxBodyBytes = 10 << 20
	}
	return warnings
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}
