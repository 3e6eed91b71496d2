// Command tesserad runs the memory proxy daemon: an ingress HTTP server
// that injects retrieved memories into LLM chat traffic, a background
// sweep loop that ages, compacts, and evicts stored memories, and a
// separate admin HTTP server for monitoring.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/tessera-mem/tessera/internal/config"
	"github.com/tessera-mem/tessera/internal/curator"
	"github.com/tessera-mem/tessera/internal/inference"
	"github.com/tessera-mem/tessera/internal/memory"
	"github.com/tessera-mem/tessera/internal/proxy"
)

const version = "0.1.0"

const sweepInterval = 5 * time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to config.yaml (default: search path)")
		logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("tesserad %s\n", version)
		return 0
	}

	logger := newLogger(*logLevel)
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("loading config", "error", err)
		return 1
	}

	d, err := newDaemon(cfg, logger)
	if err != nil {
		logger.Error("starting daemon", "error", err)
		return 1
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return d.Run(ctx)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// daemon owns every long-lived component tesserad wires together and the
// two HTTP servers layered on top of them.
type daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	store      *memory.TieredStore
	requestLog *proxy.RequestLog
	pool       *inference.Pool
	graph      *memory.EntityGraph
	trackers   *memory.SessionTrackerRegistry
	buffers    *proxy.ConversationBufferRegistry

	tierMgr   *memory.TierManager
	compactor *memory.Compactor
	evictor   *memory.Evictor

	proxyServer *http.Server
	adminServer *http.Server
}

func newDaemon(cfg *config.Config, logger *slog.Logger) (*daemon, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	store, err := memory.NewTieredStore(memory.TieredStoreConfig{
		RedisAddr:     cfg.Storage.RedisAddr,
		RedisPassword: cfg.Storage.RedisPassword,
		RedisDB:       cfg.Storage.RedisDB,
		SQLitePath:    filepath.Join(cfg.Storage.DataDir, "warm.db"),
		BadgerPath:    filepath.Join(cfg.Storage.DataDir, "cold"),
		Dimension:     cfg.Embedding.Dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting tiered store: %w", err)
	}

	requestLog, err := proxy.NewRequestLog(filepath.Join(cfg.Storage.DataDir, "requests.db"))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("opening request log: %w", err)
	}

	embedder := newEmbedder(cfg.Embedding)
	weightCfg := memory.DefaultWeightConfig()

	curatorProvider, pool, err := newCurator(cfg.Curator)
	if err != nil {
		store.Close()
		requestLog.Close()
		return nil, fmt.Errorf("constructing curator: %w", err)
	}

	graph, err := newEntityGraph(cfg.Semantic, logger)
	if err != nil {
		if pool != nil {
			pool.Shutdown(5 * time.Second)
		}
		store.Close()
		requestLog.Close()
		return nil, fmt.Errorf("connecting entity graph: %w", err)
	}

	events := proxy.NewEventBroadcaster()

	ingestion := memory.NewIngestionPipeline(store, curatorProvider, embedder, graph, logger)
	ingestion.SetStoredHook(func(r *memory.MemoryRecord) {
		events.Publish(proxy.NewMemoryIngestedEvent(r.ID, string(r.MemoryType), contentPreview(r.Content)))
	})

	trackers := memory.NewSessionTrackerRegistry(0)
	retrievalCfg := memory.DefaultRetrievalConfig()
	if cfg.Router.RelevanceThreshold > 0 {
		retrievalCfg.RelevanceThreshold = cfg.Router.RelevanceThreshold
	}
	retrieval := memory.NewRetrievalPipeline(store, embedder, weightCfg, retrievalCfg, trackers, logger)

	buffers := proxy.NewConversationBufferRegistry()

	proxySrv := proxy.NewProxyServer(cfg.Proxy, retrieval, ingestion, buffers, events, requestLog, cfg.Router.MaxMemories, logger)
	adminSrv := proxy.NewAdminServer(store, events, trackers, requestLog)

	d := &daemon{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		requestLog:  requestLog,
		pool:        pool,
		graph:       graph,
		trackers:    trackers,
		buffers:     buffers,
		tierMgr:     memory.NewTierManager(store, weightCfg, memory.DefaultTierThresholds(), logger),
		compactor:   memory.NewCompactor(store, weightCfg, logger),
		evictor:     memory.NewEvictor(store, weightCfg, logger),
		proxyServer: &http.Server{Addr: cfg.Proxy.ListenAddr, Handler: proxySrv},
		adminServer: &http.Server{Addr: cfg.Proxy.AdminListenAddr, Handler: adminSrv.Handler()},
	}
	return d, nil
}

// newEntityGraph dials the configured Dgraph alpha node when semantic graph
// support is enabled. Disabled by default since it requires a running
// Dgraph instance; returns a nil graph (not an error) when disabled.
func newEntityGraph(cfg config.SemanticConfig, logger *slog.Logger) (*memory.EntityGraph, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	graph, err := memory.NewEntityGraph(cfg.AlphaURL)
	if err != nil {
		return nil, err
	}
	logger.Info("entity graph connected", "alpha_url", cfg.AlphaURL)
	return graph, nil
}

// contentPreview truncates stored content for the admin event stream.
func contentPreview(content string) string {
	const maxPreview = 80
	runes := []rune(content)
	if len(runes) <= maxPreview {
		return content
	}
	return string(runes[:maxPreview]) + "…"
}

func newEmbedder(cfg config.EmbeddingConfig) memory.EmbeddingGenerator {
	if cfg.Provider == "http" {
		return memory.NewHTTPEmbedding(cfg.APIURL, cfg.Model, cfg.Dimension)
	}
	return memory.NewSimpleEmbedding(cfg.Dimension)
}

// newCurator builds the curator.Provider named by cfg.Mode. The local and
// hybrid modes also return the inference.Pool backing local inference so
// the daemon can shut it down on exit; remote-only mode returns a nil pool.
func newCurator(cfg config.CuratorConfig) (curator.Provider, *inference.Pool, error) {
	switch cfg.Mode {
	case "remote":
		if cfg.Remote == nil {
			return nil, nil, errors.New("curator mode \"remote\" requires a remote config block")
		}
		return newRemoteCurator(*cfg.Remote), nil, nil

	case "hybrid":
		if cfg.Local == nil || cfg.Remote == nil {
			return nil, nil, errors.New("curator mode \"hybrid\" requires both local and remote config blocks")
		}
		pool := newInferencePool(*cfg.Local)
		local := curator.NewLocalCurator(pool)
		remote := newRemoteCurator(*cfg.Remote)
		return curator.NewHybridCurator(local, remote), pool, nil

	default: // "local"
		if cfg.Local == nil {
			return nil, nil, errors.New("curator mode \"local\" requires a local config block")
		}
		pool := newInferencePool(*cfg.Local)
		return curator.NewLocalCurator(pool), pool, nil
	}
}

func newInferencePool(cfg config.LocalCuratorConfig) *inference.Pool {
	poolCfg := inference.DefaultPoolConfig()
	poolCfg.InferenceConfig = &inference.Config{
		OllamaURL:   cfg.OllamaURL,
		Model:       cfg.Model,
		ContextSize: 32768,
		Temperature: 0.2,
		Timeout:     2 * time.Minute,
	}
	pool := inference.NewPool(poolCfg)
	go ensureModelAvailable(pool.Client(), cfg.Model)
	return pool
}

// ensureModelAvailable pulls model from the configured Ollama instance if
// ListModels doesn't already report it present. Runs detached from daemon
// startup: a slow or unreachable Ollama must never block the proxy from
// listening.
func ensureModelAvailable(client *inference.Client, model string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	available, err := client.ListModels(ctx)
	if err != nil {
		slog.Default().Warn("could not list ollama models", "error", err)
		return
	}
	for _, m := range available {
		if m == model {
			return
		}
	}

	slog.Default().Info("pulling missing model", "model", model)
	if err := client.PullModel(ctx, model); err != nil {
		slog.Default().Warn("pulling model failed", "model", model, "error", err)
	}
}

func newRemoteCurator(cfg config.RemoteCuratorConfig) *curator.RemoteCurator {
	apiKey := ""
	if cfg.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.APIKeyEnv)
	}
	return curator.NewRemoteCurator(curator.RemoteCuratorConfig{
		APIURL:      cfg.APIURL,
		APIKey:      apiKey,
		Model:       cfg.Model,
		TimeoutSecs: cfg.TimeoutSecs,
	})
}

// Run starts both HTTP servers and the sweep loop, then blocks until ctx is
// canceled, draining inflight requests within the proxy's configured
// timeout before returning.
func (d *daemon) Run(ctx context.Context) int {
	var wg sync.WaitGroup
	serveErrs := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.logger.Info("proxy listening", "addr", d.cfg.Proxy.ListenAddr, "upstream", d.cfg.Proxy.UpstreamURL)
		if err := d.proxyServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- fmt.Errorf("proxy server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		d.logger.Info("admin listening", "addr", d.cfg.Proxy.AdminListenAddr)
		if err := d.adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- fmt.Errorf("admin server: %w", err)
		}
	}()

	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		d.sweepLoop(sweepCtx)
	}()

	exitCode := 0
	select {
	case <-ctx.Done():
		d.logger.Info("shutdown signal received")
	case err := <-serveErrs:
		d.logger.Error("server failed", "error", err)
		exitCode = 1
	}

	cancelSweep()
	<-sweepDone

	timeout := time.Duration(d.cfg.Proxy.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := d.proxyServer.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("proxy shutdown", "error", err)
	}
	if err := d.adminServer.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("admin shutdown", "error", err)
	}

	wg.Wait()
	return exitCode
}

// sweepLoop periodically runs tier migration, compaction, and eviction.
// Each pass is independent of request handling; a failure is logged and
// the loop continues on the next tick.
func (d *daemon) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runSweep(ctx)
		}
	}
}

func (d *daemon) runSweep(ctx context.Context) {
	now := time.Now().UTC()

	if result, err := d.tierMgr.Sweep(ctx, now); err != nil {
		d.logger.Warn("tier sweep failed", "error", err)
	} else {
		d.logger.Debug("tier sweep complete", "scanned", result.Scanned, "promoted", result.Promoted, "demoted", result.Demoted)
	}

	for _, tier := range []memory.StorageTier{memory.TierWarm, memory.TierCold} {
		if result, err := d.compactor.Compact(ctx, tier, now); err != nil {
			d.logger.Warn("compaction failed", "tier", tier, "error", err)
		} else {
			d.logger.Debug("compaction complete", "tier", tier, "scanned", result.Scanned, "compacted", result.Compacted)
		}
	}

	maxWarmRecords := d.cfg.Storage.WarmStorageGB * 100000
	if _, err := d.evictor.Evict(ctx, memory.TierWarm, maxWarmRecords, now); err != nil {
		d.logger.Warn("warm eviction failed", "error", err)
	}

	maxColdRecords := maxWarmRecords * 10
	if _, err := d.evictor.EvictCold(ctx, maxColdRecords, now); err != nil {
		d.logger.Warn("cold eviction failed", "error", err)
	}

	for _, tier := range []memory.StorageTier{memory.TierHot, memory.TierWarm, memory.TierCold} {
		if err := d.store.BuildANNIndex(ctx, tier); err != nil {
			d.logger.Warn("ann index build failed", "tier", tier, "error", err)
		}
	}

	if n := d.trackers.EvictIdle(now); n > 0 {
		d.logger.Debug("evicted idle session trackers", "count", n)
	}
	if n := d.buffers.EvictIdle(now); n > 0 {
		d.logger.Debug("evicted idle conversation buffers", "count", n)
	}
}

// Close releases every resource newDaemon acquired, best-effort: it logs
// and continues past the first failure so every resource gets a chance to
// close rather than leaking on the first error.
func (d *daemon) Close() {
	if d.pool != nil {
		if err := d.pool.Shutdown(10 * time.Second); err != nil {
			d.logger.Warn("inference pool shutdown", "error", err)
		}
	}
	if d.graph != nil {
		if err := d.graph.Close(); err != nil {
			d.logger.Warn("entity graph close", "error", err)
		}
	}
	if err := d.requestLog.Close(); err != nil {
		d.logger.Warn("request log close", "error", err)
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn("store close", "error", err)
	}
}
