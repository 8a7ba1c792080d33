package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Sriram-PR/crawl-frontier/pkg/config"
	"github.com/Sriram-PR/crawl-frontier/pkg/crawler"
	"github.com/Sriram-PR/crawl-frontier/pkg/fetch"
	"github.com/Sriram-PR/crawl-frontier/pkg/fleet"
	"github.com/Sriram-PR/crawl-frontier/pkg/frontier"
	"github.com/Sriram-PR/crawl-frontier/pkg/guard"
	applog "github.com/Sriram-PR/crawl-frontier/pkg/log"
	"github.com/Sriram-PR/crawl-frontier/pkg/metrics"
	"github.com/Sriram-PR/crawl-frontier/pkg/pagestore"
	"github.com/Sriram-PR/crawl-frontier/pkg/priority"
	"github.com/Sriram-PR/crawl-frontier/pkg/sitemap"
	"github.com/Sriram-PR/crawl-frontier/pkg/storage"
)

const version = "0.4.0"

const (
	badgerGCInterval    = 10 * time.Minute
	hostEvictInterval   = 10 * time.Minute
	shutdownGracePeriod = 30 * time.Second
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "crawl":
		runCrawl(os.Args[2:], false)
	case "resume":
		runCrawl(os.Args[2:], true)
	case "seed":
		runSeed(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "validate":
		runValidate(os.Args[2:])
	case "version":
		fmt.Printf("crawl-frontier %s\n", version)
	case "-h", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	printUsageTo(os.Stdout)
}

// printUsageTo writes usage information to the provided writer.
func printUsageTo(w io.Writer) {
	fmt.Fprintln(w, `crawl-frontier - Distributed crawl worker over a shared frontier

Usage:
  crawl-frontier <command> [options]

Commands:
  crawl     Start a fresh crawl from the configured start URLs
  resume    Continue a crawl from the existing frontier state
  seed      Add URLs to the frontier without crawling
  status    Show frontier counts and registered crawlers
  validate  Validate configuration file
  version   Show version info

Run 'crawl-frontier <command> -h' for command-specific help.`)
}

// loadConfig loads and parses the config file
func loadConfig(path string) (*config.AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg config.AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// loadValidConfig loads the config file and applies defaults, returning warnings separately
func loadValidConfig(path string) (*config.AppConfig, []string, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	warnings, err := cfg.Validate()
	if err != nil {
		return nil, warnings, err
	}
	return cfg, warnings, nil
}

// setupLogger creates a configured logrus.Logger, falling back to info/text on bad input
func setupLogger(levelStr, format string) *logrus.Logger {
	log, err := applog.New(levelStr, format, os.Stderr)
	if err != nil {
		log, _ = applog.New("info", "text", os.Stderr)
		log.Warnf("Invalid logging options, using info/text. Error: %v", err)
	}
	return log
}

// loadAndValidateConfig loads the config file, validates it, and logs warnings.
func loadAndValidateConfig(configFile string, log *logrus.Logger) *config.AppConfig {
	log.Infof("Loading configuration from %s", configFile)
	appCfg, warnings, err := loadValidConfig(configFile)
	for _, w := range warnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}
	return appCfg
}

// openStore opens the frontier and fleet registry backend. fresh discards local state.
func openStore(ctx context.Context, cfg *config.AppConfig, fresh bool, log *logrus.Entry) (storage.CoordinationStore, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return storage.NewMemoryStore(log), nil
	case config.BackendBadger:
		store, err := storage.NewBadgerStore(cfg.Store.StateDir, !fresh, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.BackendPostgres:
		if fresh {
			log.Info("Postgres frontier is shared by the fleet, existing state is kept")
		}
		store, err := storage.NewPostgresStore(ctx, cfg.Store.PostgresDSN, log)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	return nil, fmt.Errorf("unknown store backend '%s'", cfg.Store.Backend)
}

// openGuardState returns the trap guard state: in-process, or Redis when shared by the fleet
func openGuardState(ctx context.Context, g config.GuardConfig) (guard.State, error) {
	if !g.Shared {
		return guard.NewMemoryState(), nil
	}
	return guard.DialRedisState(ctx, g.RedisAddr, g.RedisPassword, g.RedisDB, g.RedisKeyPrefix, g.StateTTL)
}

func newFrontier(cfg *config.AppConfig, store storage.LinkStore, log *logrus.Entry) *frontier.Frontier {
	scorer := priority.NewScorer(priority.KeywordTable(cfg.Priority.Keywords), cfg.Priority.LongURLThreshold).
		WithHubBonus(cfg.Priority.HubLinkThreshold)
	return frontier.New(store, scorer, frontier.Config{
		MaxAttempts:  cfg.Frontier.MaxAttempts,
		LeaseTimeout: cfg.Frontier.LeaseTimeout,
	}, log.WithField("component", "frontier"))
}

// runCrawl handles both crawl and resume subcommands
func runCrawl(args []string, isResume bool) {
	cmdName := "crawl"
	if isResume {
		cmdName = "resume"
	}

	fs := flag.NewFlagSet(cmdName, flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	logLevel := fs.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	logFormat := fs.String("logformat", "text", "Log format (text, json)")
	pprofAddr := fs.String("pprof", "", "pprof address, e.g. localhost:6060 (disabled by default)")
	workers := fs.Int("workers", 0, "Override num_workers from config")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: crawl-frontier %s [options]\n\nOptions:\n", cmdName)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(executeCrawl(*configFile, *logLevel, *logFormat, *pprofAddr, *workers, isResume))
}

func executeCrawl(configFile, logLevelStr, logFormat, pprofAddr string, workers int, isResume bool) int {
	log := setupLogger(logLevelStr, logFormat)
	appCfg := loadAndValidateConfig(configFile, log)
	if workers > 0 {
		appCfg.NumWorkers = workers
	}
	crawlerID := fleet.CrawlerID(appCfg.CrawlerID)
	logAppConfig(appCfg, crawlerID, log)

	startPprof(pprofAddr, log)

	// ===========================================================
	// == Setup Global Context & Signal Handling ==
	// ===========================================================
	var crawlCtx context.Context
	var cancelCrawl context.CancelFunc

	if appCfg.GlobalCrawlTimeout > 0 {
		log.Infof("Setting global crawl timeout: %v", appCfg.GlobalCrawlTimeout)
		crawlCtx, cancelCrawl = context.WithTimeout(context.Background(), appCfg.GlobalCrawlTimeout)
	} else {
		log.Info("No global crawl timeout set.")
		crawlCtx, cancelCrawl = context.WithCancel(context.Background())
	}
	defer cancelCrawl()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Errorf("PANIC in signal handler: %v", r)
			}
		}()
		sig := <-sigChan
		log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
		cancelCrawl()

		select {
		case sig = <-sigChan:
			log.Warnf("Received second signal: %v. Forcing exit.", sig)
			os.Exit(1)
		case <-time.After(shutdownGracePeriod):
			log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
			os.Exit(1)
		}
	}()
	defer signal.Stop(sigChan)

	// ===========================================================
	// == Initialize Components ==
	// ===========================================================
	log.Info("Initializing components...")
	logEntry := log.WithField("crawler_id", crawlerID)

	// Unreachable stores are fatal at startup
	store, err := openStore(crawlCtx, appCfg, !isResume, logEntry.WithField("component", "store"))
	if err != nil {
		log.Errorf("Failed to open frontier store: %v", err)
		return 1
	}
	defer store.Close()
	if badgerStore, ok := store.(*storage.BadgerStore); ok {
		go badgerStore.RunGC(crawlCtx, badgerGCInterval)
	}

	pages, err := pagestore.OpenSQLite(appCfg.Store.PageDBPath, logEntry.WithField("component", "pages"))
	if err != nil {
		log.Errorf("Failed to open page store: %v", err)
		return 1
	}
	defer pages.Close()

	guardState, err := openGuardState(crawlCtx, appCfg.Guard)
	if err != nil {
		log.Errorf("Failed to open trap guard state: %v", err)
		return 1
	}
	defer guardState.Close()

	m := metrics.New()
	startMetricsServer(crawlCtx, appCfg.MetricsAddr, m, log)

	gate := fetch.NewHostGate(appCfg.Fetch.MaxRequestsPerHost, appCfg.Fetch.DelayPerHost, logEntry.WithField("component", "hostgate"))
	go gate.RunEviction(crawlCtx, hostEvictInterval)
	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, appCfg.Fetch.Timeout, logEntry)
	fetcher := fetch.NewFetcher(httpClient, appCfg.Fetch, gate, logEntry.WithField("component", "fetch"))

	trapGuard := guard.New(guard.Config{
		RedirectThreshold: appCfg.Guard.RedirectThreshold,
		RedirectChainCap:  appCfg.Guard.RedirectChainCap,
		RevisitLimit:      appCfg.Guard.RevisitLimit,
		NullByteLimit:     appCfg.Guard.NullByteLimit,
		PathDepthLimit:    appCfg.Guard.PathDepthLimit,
	}, guardState, logEntry.WithField("component", "guard"))

	fr := newFrontier(appCfg, store, logEntry)
	c, err := crawler.New(crawler.Options{
		CrawlerID:        crawlerID,
		NumWorkers:       appCfg.NumWorkers,
		MaxDepth:         appCfg.MaxDepth,
		AllowedDomains:   appCfg.AllowedDomains,
		StopWhenEmpty:    config.GetEffectiveStopWhenEmpty(appCfg.Frontier),
		IdleBackoff:      appCfg.Frontier.IdleBackoff,
		ProgressInterval: appCfg.ProgressInterval,
	}, crawler.Deps{
		Frontier: fr,
		Registry: fleet.NewRegistry(store, logEntry.WithField("component", "fleet")),
		Fetcher:  fetcher,
		Guard:    trapGuard,
		Deduper:  crawler.NewDeduper(pages, appCfg.Dedup.SimilarityThreshold, logEntry.WithField("component", "dedup")),
		Metrics:  m,
	}, logEntry)
	if err != nil {
		log.Errorf("Failed to initialize crawler: %v", err)
		return 1
	}

	if len(appCfg.StartURLs) > 0 {
		if _, err := c.Seed(crawlCtx, appCfg.StartURLs); err != nil {
			log.Errorf("Failed to seed frontier: %v", err)
			return 1
		}
	}
	if len(appCfg.SitemapURLs) > 0 {
		seeder := sitemap.NewSeeder(fetcher, fr, appCfg.AllowedDomains, logEntry)
		if _, err := seeder.Seed(crawlCtx, appCfg.SitemapURLs); err != nil {
			log.Warnf("Sitemap seeding interrupted: %v", err)
		}
	}

	// ===========================================================
	// == Start Crawler Execution ==
	// ===========================================================
	err = c.Run(crawlCtx)
	if err == nil {
		err = crawlCtx.Err()
	}

	switch {
	case err == nil:
		log.Info("Crawl completed successfully.")
		return 0
	case errors.Is(err, context.Canceled):
		log.Warn("Crawl cancelled gracefully.")
		return 0
	case errors.Is(err, context.DeadlineExceeded):
		log.Error("Crawl timed out (global timeout).")
		return 1
	default:
		log.Errorf("Crawl finished with error: %v", err)
		return 1
	}
}

func runSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")
	sitemaps := fs.String("sitemaps", "", "Comma-separated sitemap URLs to seed from (fetched over HTTP)")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: crawl-frontier seed [options] URL...\n\nAdds the URLs (or start_urls from the config when none are given) at depth 0.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	if *sitemaps != "" {
		os.Exit(doSeedSitemaps(*configFile, splitList(*sitemaps), os.Stdout, os.Stderr))
	}
	os.Exit(doSeed(*configFile, fs.Args(), os.Stdout, os.Stderr))
}

// doSeed enqueues urls into the configured frontier.
// Returns exit code (0 = success, 1 = error).
func doSeed(configPath string, urls []string, stdout, stderr io.Writer) int {
	cfg, _, err := loadValidConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	if len(urls) == 0 {
		urls = cfg.StartURLs
	}
	if len(urls) == 0 {
		fmt.Fprintln(stderr, "Error: no URLs given and no start_urls configured")
		return 1
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg, false, applog.Discard())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	f := newFrontier(cfg, store, applog.Discard())
	added := 0
	for _, u := range urls {
		created, err := f.EnqueueAt(ctx, u, 0)
		if err != nil {
			fmt.Fprintf(stderr, "ERROR: %s: %v\n", u, err)
			continue
		}
		if created {
			added++
			fmt.Fprintf(stdout, "ADDED: %s\n", u)
		} else {
			fmt.Fprintf(stdout, "KNOWN: %s\n", u)
		}
	}
	fmt.Fprintf(stdout, "\n%d of %d URLs added.\n", added, len(urls))
	return 0
}

// doSeedSitemaps fetches sitemaps with the configured fetcher and enqueues the pages they list.
// Returns exit code (0 = success, 1 = error).
func doSeedSitemaps(configPath string, roots []string, stdout, stderr io.Writer) int {
	cfg, _, err := loadValidConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg, false, applog.Discard())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	logEntry := applog.Discard()
	gate := fetch.NewHostGate(cfg.Fetch.MaxRequestsPerHost, cfg.Fetch.DelayPerHost, logEntry)
	fetcher := fetch.NewFetcher(fetch.NewClient(cfg.HTTPClientSettings, cfg.Fetch.Timeout, logEntry), cfg.Fetch, gate, logEntry)
	seeder := sitemap.NewSeeder(fetcher, newFrontier(cfg, store, logEntry), cfg.AllowedDomains, logEntry)

	res, err := seeder.Seed(ctx, roots)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Sitemaps: %d, URLs in scope: %d, added: %d, errors: %d\n",
		res.Sitemaps, res.URLs, res.Added, res.Errors)
	return 0
}

// splitList splits a comma-separated flag value, dropping empty items
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: crawl-frontier status [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doStatus(*configFile, os.Stdout, os.Stderr))
}

// doStatus prints frontier counts and the fleet registry.
// Returns exit code (0 = success, 1 = error).
func doStatus(configPath string, stdout, stderr io.Writer) int {
	cfg, _, err := loadValidConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx := context.Background()
	store, err := openStore(ctx, cfg, false, applog.Discard())
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer store.Close()

	stats, err := store.Stats(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "Frontier (%s):\n", cfg.Store.Backend)
	fmt.Fprintf(stdout, "  pending:  %d\n", stats.Pending)
	fmt.Fprintf(stdout, "  leased:   %d\n", stats.Leased)
	fmt.Fprintf(stdout, "  done:     %d\n", stats.Done)
	fmt.Fprintf(stdout, "  failed:   %d\n", stats.Failed)
	fmt.Fprintf(stdout, "  finished: %d\n", stats.Finished)

	crawlers, err := fleet.NewRegistry(store, applog.Discard()).List(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "\nCrawlers: %d\n", len(crawlers))
	for _, c := range crawlers {
		fmt.Fprintf(stdout, "  %-24s %-8s %s\n", c.CrawlerID, c.Status, c.UpdatedAt.Format(time.RFC3339))
	}
	return 0
}

func runValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configFile := fs.String("config", "config.yaml", "Path to config file")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: crawl-frontier validate [options]\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	os.Exit(doValidate(*configFile, os.Stdout, os.Stderr))
}

// doValidate performs validation and writes output to provided writers.
// Returns exit code (0 = success, 1 = error).
func doValidate(configPath string, stdout, stderr io.Writer) int {
	appCfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	warnings, err := appCfg.Validate()
	for _, w := range warnings {
		fmt.Fprintf(stdout, "WARN: %s\n", w)
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "OK: store=%s workers=%d start_urls=%d\n",
		appCfg.Store.Backend, appCfg.NumWorkers, len(appCfg.StartURLs))
	fmt.Fprintln(stdout, "\nConfiguration valid.")
	return 0
}

// startPprof starts the pprof HTTP server if addr is non-empty.
func startPprof(addr string, log *logrus.Logger) {
	if addr != "" {
		go func() {
			log.Infof("Starting pprof server at http://%s/debug/pprof/", addr)
			if err := http.ListenAndServe(addr, nil); err != nil {
				log.Errorf("pprof server error: %v", err)
			}
		}()
	}
}

// startMetricsServer serves /metrics on addr until ctx ends. Empty addr disables it.
func startMetricsServer(ctx context.Context, addr string, m *metrics.Metrics, log *logrus.Logger) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Infof("Serving metrics at http://%s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("Metrics server error: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// logAppConfig logs the effective configuration
func logAppConfig(appCfg *config.AppConfig, crawlerID string, log *logrus.Logger) {
	log.Infof("Global Config: CrawlerID:%s, Workers:%d, MaxDepth:%d, StartURLs:%d, AllowedDomains:[%s]",
		crawlerID, appCfg.NumWorkers, appCfg.MaxDepth, len(appCfg.StartURLs), strings.Join(appCfg.AllowedDomains, ","))
	log.Infof("Store Config: Backend:%s, StateDir:%s, PageDB:%s",
		appCfg.Store.Backend, appCfg.Store.StateDir, appCfg.Store.PageDBPath)
	log.Infof("Frontier Config: MaxAttempts:%d, LeaseTimeout:%v, StopWhenEmpty:%t, IdleBackoff:%v",
		appCfg.Frontier.MaxAttempts, appCfg.Frontier.LeaseTimeout,
		config.GetEffectiveStopWhenEmpty(appCfg.Frontier), appCfg.Frontier.IdleBackoff)
	log.Infof("Guard Config: Redirects:%d, ChainCap:%d, Revisits:%d, NullBytes:%d, PathDepth:%d, Shared:%t",
		appCfg.Guard.RedirectThreshold, appCfg.Guard.RedirectChainCap, appCfg.Guard.RevisitLimit,
		appCfg.Guard.NullByteLimit, appCfg.Guard.PathDepthLimit, appCfg.Guard.Shared)
	log.Infof("Fetch Config: Timeout:%v, Retries:%d, RetryCodes:%v, DelayPerHost:%v, MaxPerHost:%d, Robots:%t",
		appCfg.Fetch.Timeout, appCfg.Fetch.MaxRetries, appCfg.Fetch.RetryStatusCodes, appCfg.Fetch.DelayPerHost,
		appCfg.Fetch.MaxRequestsPerHost, config.GetEffectiveRespectRobots(appCfg.Fetch))
	log.Infof("Global Config HTTP Client: MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
}
