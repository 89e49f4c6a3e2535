package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mohammed-shakir/wms-lod-stream/internal/bookmarks"
	"github.com/mohammed-shakir/wms-lod-stream/internal/cache/redisstore"
	"github.com/mohammed-shakir/wms-lod-stream/internal/cache/tilestore"
	"github.com/mohammed-shakir/wms-lod-stream/internal/capabilities"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/config"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/health"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/httpclient"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/model"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/observability"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/router"
	"github.com/mohammed-shakir/wms-lod-stream/internal/core/server"
	"github.com/mohammed-shakir/wms-lod-stream/internal/fetch"
	"github.com/mohammed-shakir/wms-lod-stream/internal/invalidation/kafkaconsumer"
	"github.com/mohammed-shakir/wms-lod-stream/internal/lod"
	"github.com/mohammed-shakir/wms-lod-stream/internal/logger"
	"github.com/mohammed-shakir/wms-lod-stream/internal/loop"
	quadmapper "github.com/mohammed-shakir/wms-lod-stream/internal/mapper/quad"
	"github.com/mohammed-shakir/wms-lod-stream/internal/mesh"
	"github.com/mohammed-shakir/wms-lod-stream/internal/metrics"
	"github.com/mohammed-shakir/wms-lod-stream/internal/scene"
	"github.com/mohammed-shakir/wms-lod-stream/internal/texture"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// overriding SIM_MODE via flag
	modeFlag := flag.String("mode", "", "simulation mode (editing or running)")
	flag.Parse()

	cfg := config.FromEnv()
	if *modeFlag != "" {
		cfg.Mode = strings.TrimSpace(*modeFlag)
	}
	mode, err := lod.ParseMode(cfg.Mode)
	if err != nil {
		log.Printf("invalid mode: %v", err)
		return 2
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Mode:      mode.String(),
		Component: "lodstream",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if err := cfg.Validate(); err != nil {
		appLog.Error("invalid configuration", "err", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, mode)
	appLog.Info("starting lodstream",
		"addr", cfg.Addr,
		"version", Version,
		"provider", cfg.Provider,
		"mode", mode.String())

	var redisCli *redisstore.Client
	if cfg.TileCacheEnabled || cfg.BookmarksDriver == "redis" {
		redisCli, err = redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			appLog.Error("redis connect failed", "addr", cfg.RedisAddr, "err", err)
			return 1
		}
		defer func() { _ = redisCli.Close() }()
	}

	fetchOpts := []fetch.Option{
		fetch.WithRegistrySize(cfg.FetchRegistrySize),
		fetch.WithTimeout(cfg.FetchTimeout),
		fetch.WithLogger(appLog),
	}
	if cfg.TileCacheEnabled {
		fetchOpts = append(fetchOpts, fetch.WithStore(tilestore.New(redisCli, cfg.TileCacheTTL)))
	}
	outbound := httpclient.NewOutbound(
		httpclient.WithTimeout(cfg.FetchTimeout),
		httpclient.WithUserAgent("lodstream/"+Version),
	)
	fetcher := fetch.New(outbound, fetchOpts...)
	defer fetcher.Close()

	plane, err := mesh.HorizontalPlane(cfg.LOD.MapSize, cfg.LOD.VertexResolution)
	if err != nil {
		appLog.Error("mesh setup failed", "err", err)
		return 1
	}
	rootScene := scene.NewHeadless(model.Vec3{}, plane)
	provider := newProvider(cfg, fetcher, rootScene, appLog)

	root, err := lod.NewRoot(lod.Config{
		MaxDepth:  cfg.LOD.MaxDepth,
		Threshold: cfg.LOD.Threshold,
		Logger:    appLog,
	}, rootScene, provider)
	if err != nil {
		appLog.Error("lod tree setup failed", "err", err)
		return 1
	}
	ctrl := lod.NewController(root, mode,
		lod.WithLogger(appLog),
		lod.WithMapper(quadmapper.New()),
		lod.WithPurger(fetcher),
		lod.WithRootBox(cfg.WMS.BBox),
	)
	// start high enough above the map that only the root is shown
	ctrl.SetViewer(model.Vec3{Y: cfg.LOD.MapSize * cfg.LOD.Threshold})
	ctrl.Start()

	lp := loop.New(appLog)
	defer lp.Close()
	runner := lod.NewRunner(lp, ctrl)
	defer runner.Close()

	caps := capabilities.New(fetcher, appLog)
	if cfg.Provider == "wms" {
		if _, err := caps.Request(cfg.WMS.ServerURL, cfg.WMS.Version); err != nil {
			appLog.Warn("capabilities request rejected", "server", cfg.WMS.ServerURL, "err", err)
		}
	}

	var books bookmarks.Store = bookmarks.NewMemory()
	if cfg.BookmarksDriver == "redis" {
		books = bookmarks.NewRedis(redisCli, bookmarks.DefaultRedisKey)
	}

	var ready health.ReadinessReporter
	if cfg.Invalidation.Enabled && cfg.Invalidation.Driver == "kafka" {
		kcfg := kafkaconsumer.FromEnv()
		kcfg.SRS = cfg.WMS.BBox.SRS
		cons := kafkaconsumer.New(kcfg, appLog, &zl, runner, caps)
		ready = cons
		go func() {
			if err := cons.Start(ctx); err != nil {
				appLog.Error("invalidation consumer stopped", "err", err)
			}
		}()
	}

	go func() {
		if err := lp.Run(ctx, cfg.LOD.TickInterval); err != nil && !errors.Is(err, context.Canceled) {
			appLog.Error("tick loop stopped", "err", err)
		}
	}()

	api := router.New(appLog, runner, caps, books)
	handler := server.Handler(appLog, api, ready)
	if err := server.Run(ctx, cfg, appLog, handler); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

func newProvider(cfg config.Config, f texture.Fetcher, target texture.Target, logger *slog.Logger) texture.Provider {
	if cfg.Provider == "bing" {
		b := texture.NewBing(f, target, logger)
		b.Configure(texture.BingConfig{
			URLTemplate: cfg.Bing.URLTemplate,
			RootQuadKey: cfg.Bing.RootQuadKey,
			Subdomains:  cfg.Bing.Subdomains,
		})
		return b
	}
	w := texture.NewWMS(f, target, quadmapper.New(), logger)
	w.Configure(texture.WMSConfig{
		Server:   cfg.WMS.ServerURL,
		Version:  cfg.WMS.Version,
		Layers:   cfg.WMS.Layers,
		Format:   cfg.WMS.Format,
		TileSize: cfg.WMS.TileSize,
		BBox:     cfg.WMS.BBox,
	})
	return w
}

// startMetrics serves a dedicated registry when METRICS_ENABLED=true.
// The main listener always exposes the default registry on /metrics.
func startMetrics(ctx context.Context, mode lod.SimulationMode) {
	observability.SetMode(mode.String())
	observability.ExposeBuildInfo(Version)

	if os.Getenv("METRICS_ENABLED") != "true" {
		observability.Init(nil, false)
		return
	}
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	path := os.Getenv("METRICS_PATH")
	if path == "" {
		path = "/metrics"
	}

	p := metrics.Init(metrics.Config{
		Enabled: true,
		Addr:    addr,
		Path:    path,
		Build: metrics.BuildInfo{
			Version:   os.Getenv("BUILD_VERSION"),
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(p.Registerer(), true)

	mux := http.NewServeMux()
	mux.Handle(path, p.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("metrics: listening on %s%s", addr, path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("metrics: shutdown error: %v", err)
		}
	}()
}
