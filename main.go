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

	"github.com/davral/tidings/internal/app"
	"github.com/davral/tidings/internal/config"
	"github.com/davral/tidings/internal/logger"
	"github.com/davral/tidings/internal/version"
	"github.com/davral/tidings/pkg/container"
	"github.com/davral/tidings/pkg/format"
	"github.com/davral/tidings/pkg/nerdstats"
	"github.com/davral/tidings/pkg/profiler"
)

func main() {
	startTime := time.Now()
	vlog := log.New(log.Writer(), "", 0)
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.PrintVersionInfo(true, vlog)
		os.Exit(0)
	} else {
		version.PrintVersionInfo(false, vlog)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logInstance, cleanup, err := logger.New(buildLoggerConfig(cfg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	slog.SetDefault(logInstance)
	styledLogger := logger.NewStyledLogger(logInstance)

	styledLogger.Info("Initialising", "version", version.Version, "pid", os.Getpid())
	if cfg.Filename != "" {
		styledLogger.Info("Loaded configuration", "file", cfg.Filename)
	}

	if addr := os.Getenv("TIDINGS_PPROF"); addr != "" {
		profiler.InitialiseProfiler(addr)
		styledLogger.Info("Profiler listening", "address", addr)
	}

	// setup: graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		styledLogger.Info("Shutdown signal received", "signal", sig.String())
		cancel()
	}()

	engine, err := app.New(cfg, styledLogger)
	if err != nil {
		logger.FatalWithLogger(logInstance, "Failed to create engine", "error", err)
	}

	if err := engine.Start(ctx); err != nil {
		logger.FatalWithLogger(logInstance, "Failed to start engine", "error", err)
	}

	<-ctx.Done()

	reportCacheStats(engine, styledLogger)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := engine.Stop(stopCtx); err != nil {
		styledLogger.Error("Error during shutdown", "error", err)
	}

	reportProcessStats(styledLogger, startTime)

	styledLogger.Info("Tidings has shutdown")
}

func reportCacheStats(engine *app.Engine, logger *logger.StyledLogger) {
	global := engine.GlobalCacheStatus()

	logger.Info("Cache Summary",
		"sources", global.Sources,
		"sources_with_items", global.SourcesWithItems,
		"total_items", global.TotalItems,
		"hit_ratio", format.Percentage(global.HitRatio*100),
		"unhealthy", len(global.Unhealthy),
	)

	for _, row := range engine.SchedulerStatus() {
		logger.Debug("Source Summary",
			"source", row.SourceID,
			"last_fetch", format.TimeAgo(row.LastFetch),
			"next_fetch", format.TimeUntil(row.NextFetch),
			"success_rate", format.Percentage(row.SuccessRate*100),
		)
	}
}

func reportProcessStats(logger *logger.StyledLogger, startTime time.Time) {
	runtime.GC()

	stats := nerdstats.Snapshot(startTime)

	logger.Info("Process Memory Stats",
		"heap_alloc", format.Bytes(stats.HeapAlloc),
		"heap_sys", format.Bytes(stats.HeapSys),
		"heap_inuse", format.Bytes(stats.HeapInuse),
		"heap_released", format.Bytes(stats.HeapReleased),
		"stack_inuse", format.Bytes(stats.StackInuse),
		"total_alloc", format.Bytes(stats.TotalAlloc),
		"memory_pressure", stats.GetMemoryPressure(),
	)

	logger.Info("Process Allocation Stats",
		"total_mallocs", stats.Mallocs,
		"total_frees", stats.Frees,
		"net_objects", int64(stats.Mallocs)-int64(stats.Frees),
	)

	if stats.NumGC > 0 {
		logger.Info("Garbage Collection Stats",
			"num_gc_cycles", stats.NumGC,
			"last_gc", stats.LastGC.Format(time.RFC3339),
			"total_gc_time", format.Duration(stats.TotalGCTime),
			"gc_cpu_fraction", fmt.Sprintf("%.4f%%", stats.GCCPUFraction*100),
		)
	}

	logger.Info("Goroutine Stats",
		"num_goroutines", stats.NumGoroutines,
		"goroutine_health", stats.GetGoroutineHealthStatus(),
		"num_cgo_calls", stats.NumCgoCall,
	)

	logger.Info("Runtime Stats",
		"uptime", format.Duration(stats.Uptime),
		"go_version", stats.GoVersion,
		"num_cpu", stats.NumCPU,
		"gomaxprocs", stats.GOMAXPROCS,
	)

	if buildInfo := stats.GetBuildInfoSummary(); len(buildInfo) > 0 {
		var buildArgs []any
		for key, value := range buildInfo {
			buildArgs = append(buildArgs, key, value)
		}
		logger.Info("Build Info", buildArgs...)
	}

	logger.Info("Process Health Summary",
		"memory_pressure", stats.GetMemoryPressure(),
		"goroutine_status", stats.GetGoroutineHealthStatus(),
		"uptime", format.Duration(stats.Uptime),
		"avg_gc_pause", nerdstats.CalculateAverageGCPause(stats),
	)
}

// buildLoggerConfig maps the logging section onto the logger, forcing file
// output off inside containers where stdout is the log sink.
func buildLoggerConfig(cfg *config.Config) *logger.Config {
	fileOutput := cfg.Logging.FileOutput
	if container.IsContainerised() {
		fileOutput = false
	}

	return &logger.Config{
		Level:      cfg.Logging.Level,
		LogDir:     cfg.Logging.Directory,
		MaxSize:    cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAgeDays,
		FileOutput: fileOutput,
	}
}
