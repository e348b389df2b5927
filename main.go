package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/proxypool/proxypool/internal/adapter/balancer"
	"github.com/proxypool/proxypool/internal/adapter/forwarder"
	"github.com/proxypool/proxypool/internal/adapter/health"
	"github.com/proxypool/proxypool/internal/adapter/listener"
	"github.com/proxypool/proxypool/internal/adapter/registry"
	"github.com/proxypool/proxypool/internal/adapter/stats"
	"github.com/proxypool/proxypool/internal/config"
	"github.com/proxypool/proxypool/internal/logger"
	"github.com/proxypool/proxypool/internal/version"
	"github.com/proxypool/proxypool/pkg/eventbus"
	"github.com/proxypool/proxypool/pkg/format"
	"github.com/proxypool/proxypool/pkg/nerdstats"
)

func main() {
	startTime := time.Now()

	vlog := log.New(log.Writer(), "", 0)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	}
	version.PrintVersionInfo(false, vlog)

	configPath := ""
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logInstance := logger.New(logger.DefaultConfig())
	styledLogger := logger.NewStyled(logInstance)
	slog.SetDefault(logInstance)

	styledLogger.Info("initialising", "version", version.Version, "pid", os.Getpid(), "addr", cfg.Addr())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		styledLogger.Info("shutdown signal received", "signal", sig.String())
		cancel()
	}()

	sessionFactory := forwarder.NewSessionPoolFactory(cfg.ConnectionTimeout())

	regCfg := registry.Config{
		FailureThreshold: cfg.MaxRetries,
		RestBaseDuration: cfg.OverloadBackoffBase(),
		RestMaxDuration:  cfg.ProxyRestDurationCap(),
		SessionPoolSize:  cfg.SessionPoolSize,
	}
	reg := registry.New(regCfg, sessionFactory)
	if err := reg.Reconcile(ctx, cfg.UpstreamConfigs()); err != nil {
		logger.Fatal(logInstance, "failed to seed upstream registry", "error", err)
	}

	selector, err := balancer.New(cfg.LoadBalancingAlgorithm)
	if err != nil {
		logger.Fatal(logInstance, "invalid load balancing algorithm", "error", err)
	}

	statsCollector := stats.New(reg)
	events := eventbus.New[forwarder.Event]()

	// The Forwarder is this EventBus's only publisher; this goroutine is
	// its only subscriber, logging every classified outcome at debug level.
	// It exits once fwd.Close() shuts the bus down during graceful shutdown.
	go func() {
		for evt := range events.Subscribe() {
			styledLogger.Debug("forwarder event",
				"type", evt.Type, "request_id", evt.RequestID,
				"host", evt.Host, "port", evt.Port, "status", evt.StatusCode)
		}
	}()

	fwdCfg := forwarder.Config{
		ConnectionTimeout: cfg.ConnectionTimeout(),
		MaxRetryAttempts:  forwarder.DefaultConfig().MaxRetryAttempts,
	}
	fwd := forwarder.New(reg, selector, statsCollector, events, fwdCfg, logInstance)

	checker := health.NewSOCKS5Checker("", 0)
	schedCfg := health.SchedulerConfig{
		CheckInterval:     cfg.HealthCheckInterval(),
		RestCheckInterval: cfg.RestCheckInterval(),
		Workers:           health.DefaultSchedulerConfig().Workers,
	}
	scheduler := health.NewScheduler(reg, checker, schedCfg, logInstance)
	scheduler.Start(ctx)

	lst := listener.New(listener.DefaultConfig(cfg.Addr()), fwd, logInstance)

	if configPath != "" {
		watcher := config.NewWatcher(configPath, logInstance, func(next config.Config) {
			if err := reg.Reconcile(ctx, next.UpstreamConfigs()); err != nil {
				styledLogger.Error("config reload failed to reconcile upstreams", "error", err)
				return
			}
			styledLogger.Info("configuration reloaded", "upstreams", len(next.Proxies))
		})
		go func() {
			if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
				styledLogger.Error("config watcher stopped", "error", err)
			}
		}()
	}

	go func() {
		styledLogger.Info("listening", "addr", cfg.Addr())
		if err := lst.Start(); err != nil {
			styledLogger.Error("listener stopped", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := lst.Shutdown(shutdownCtx); err != nil {
		styledLogger.Error("error during listener shutdown", "error", err)
	}
	scheduler.Stop()
	fwd.Close()

	reportProcessStats(styledLogger, startTime)
	snap := statsCollector.Snapshot()
	styledLogger.Info("final upstream aggregate",
		"upstreams_up", format.UpstreamsUp(snap.Aggregate.AvailableUpstreams, snap.Aggregate.TotalUpstreams),
		"unavailable", snap.Aggregate.UnavailableUpstreams,
		"resting", snap.Aggregate.RestingUpstreams,
		"requests", snap.Aggregate.TotalRequests,
		"success_rate", format.Percentage(snap.Aggregate.OverallSuccessRate),
		"overloads", snap.Aggregate.TotalOverloads,
	)

	styledLogger.Info("proxypool has shutdown")
}

func reportProcessStats(log *logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	s := nerdstats.Snapshot(startTime)

	log.Info("process memory stats",
		"heap_alloc", format.Bytes(s.HeapAlloc),
		"heap_sys", format.Bytes(s.HeapSys),
		"heap_inuse", format.Bytes(s.HeapInuse),
		"heap_released", format.Bytes(s.HeapReleased),
		"total_alloc", format.Bytes(s.TotalAlloc),
	)

	log.Info("process allocation stats",
		"total_mallocs", s.Mallocs,
		"total_frees", s.Frees,
		"net_objects", int64(s.Mallocs)-int64(s.Frees),
	)

	log.Info("runtime stats",
		"uptime", format.Duration(s.Uptime),
		"go_version", s.GoVersion,
		"num_cpu", s.NumCPU,
		"gomaxprocs", s.GOMAXPROCS,
		"num_goroutines", s.NumGoroutines,
	)
}
