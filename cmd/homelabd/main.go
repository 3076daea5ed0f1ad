package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/jaredglaser/homelab-manager-sub001/internal/api"
	"github.com/jaredglaser/homelab-manager-sub001/internal/collector"
	"github.com/jaredglaser/homelab-manager-sub001/internal/config"
	"github.com/jaredglaser/homelab-manager-sub001/internal/model"
	"github.com/jaredglaser/homelab-manager-sub001/internal/notify"
	"github.com/jaredglaser/homelab-manager-sub001/internal/obs"
	"github.com/jaredglaser/homelab-manager-sub001/internal/statscache"
	"github.com/jaredglaser/homelab-manager-sub001/internal/store"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "start":
		os.Args = append([]string{os.Args[0]}, os.Args[2:]...)
		cmdStart()
	case "stop":
		os.Args = append([]string{os.Args[0]}, os.Args[2:]...)
		cmdStop()
	case "status":
		os.Args = append([]string{os.Args[0]}, os.Args[2:]...)
		cmdStatus()
	case "run":
		// Foreground mode (also used internally by daemon child)
		os.Args = append([]string{os.Args[0]}, os.Args[2:]...)
		cmdRun()
	case "version":
		fmt.Printf("homelabd %s\n", version)
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	exe := filepath.Base(os.Args[0])
	fmt.Fprintf(os.Stderr, `homelabd — homelab metrics collection daemon (%s)

Usage:
  %s <command> [flags]

Commands:
  start          Start daemon (background)
  stop           Stop daemon
  status         Show daemon status
  run            Run in foreground
  version        Print version

Flags:
  -config PATH   Config file path (default: config.yaml)
  -listen ADDR   Listen address (default: 127.0.0.1:9924)
  -db PATH       SQLite database path
  -pid-file P    PID file path
  -log-file P    Log file path
`, version, exe)
}

// ---------------------------------------------------------------------------
// run: foreground server (also used by daemon child)
// ---------------------------------------------------------------------------

func cmdRun() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	db, err := store.New(cfg.DBPath)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	met := obs.New()

	caches := &api.Caches{
		Containers: statscache.New[model.ContainerStat](),
		Pools:      statscache.New[model.PoolStat](),
		VMs:        statscache.New[model.VMStat](),
		Host:       statscache.New[model.HostStat](),
	}

	// Exactly one multiplexer per process: it owns the store's change
	// stream and every streaming session hangs off it.
	mux := notify.NewMux(logger.Named("notify"))
	mux.Start(db.Changes())
	defer mux.Stop()
	countSignals(mux, met)

	clog := logger.Named("collector")
	sources := []collector.Source{
		collector.NewHostSource(cfg.Host, db, caches.Host, met, clog),
		collector.NewDockerSource(cfg.Docker, db, caches.Containers, met, clog),
		collector.NewPVESource(cfg.PVE, db, caches.VMs, met, clog),
	}
	for _, sh := range cfg.StorageHosts {
		sources = append(sources, collector.NewZPoolSource(sh, db, caches.Pools, met, clog))
	}

	// The signal context is the broadcast shutdown: every runner sees
	// it at once, so shutdown latency is bounded by the slowest single
	// flush, not the sum.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	for _, src := range sources {
		r := collector.NewRunner(src, clog)
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Run(ctx)
		}()
	}

	go runRetentionPurge(ctx, db, cfg.RetentionHours, logger.Named("purge"))

	router := api.NewRouter(db, mux, caches, met, logger)
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: router,
	}
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Listen), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(shutCtx)

	wg.Wait()  // collectors drain their batches
	mux.Stop() // then stop fan-out

	os.Remove(cfg.PidFile)
	logger.Info("goodbye")
}

// countSignals mirrors every fan-out delivery into the instrumentation
// counters without any session needing to.
func countSignals(mux *notify.Mux, met *obs.Metrics) {
	for _, source := range []string{model.SourceContainers, model.SourcePools, model.SourceVMs, model.SourceHost} {
		src := source
		mux.Subscribe(src, func(model.Change) {
			met.ChangeSignals.WithLabelValues(src).Inc()
		})
	}
}

func runRetentionPurge(ctx context.Context, db *store.Store, hours int, log *zap.Logger) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := db.PurgeOlderThan(hours)
			if err != nil {
				log.Warn("purge failed", zap.Error(err))
			} else if n > 0 {
				log.Info("purged old samples", zap.Int64("rows", n))
			}
		}
	}
}

// ---------------------------------------------------------------------------
// PID file helpers
// ---------------------------------------------------------------------------

func writePidFile(path string, pid int) error {
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0644)
}

func readPidFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s", path)
	}
	return pid, nil
}

func processExists(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks existence without actually sending a signal
	err = proc.Signal(syscall.Signal(0))
	return err == nil
}
