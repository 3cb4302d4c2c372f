// Command relwatch polls a publication page and ingests each new release of
// the configured dataset exactly once.
//
// Usage:
//
//	relwatch -config relwatch.yaml            # one run, prints the result as JSON
//	relwatch -config relwatch.yaml -daemon    # run every schedule.interval
//	relwatch -state                           # show committed state and exit
//	relwatch -history 20                      # show recent runs and exit
//
// Exit status is 1 only when a one-shot run fails; skipped and rejected
// runs exit 0.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/relwatch/relwatch"
)

func main() {
	configPath := flag.String("config", "", "path to relwatch.yaml config file")
	daemon := flag.Bool("daemon", false, "run on schedule.interval until interrupted")
	interval := flag.Duration("interval", 0, "override schedule.interval (daemon mode)")
	addr := flag.String("addr", "", "override http.addr for the status server (daemon mode)")
	showState := flag.Bool("state", false, "show committed state and exit")
	history := flag.Int("history", 0, "show the N most recent runs and exit")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("relwatch: config", "error", err)
		os.Exit(1)
	}
	if *interval > 0 {
		cfg.Schedule.Interval = *interval
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := relwatch.New(cfg, logger, relwatch.WithRegisterer(reg))
	if err != nil {
		logger.Error("relwatch: init", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	switch {
	case *showState:
		c, err := svc.State(ctx)
		if err != nil {
			logger.Error("relwatch: state", "error", err)
			os.Exit(1)
		}
		printJSON(relwatch.EncodeState(c))

	case *history > 0:
		runs, err := svc.History(ctx, *history)
		if err != nil {
			logger.Error("relwatch: history", "error", err)
			os.Exit(1)
		}
		printJSON(runs)

	case *daemon:
		if err := runDaemon(ctx, svc, reg, logger); err != nil {
			logger.Error("relwatch: fatal", "error", err)
			os.Exit(1)
		}

	default:
		res := svc.RunOnce(ctx)
		printJSON(res)
		if code := exitCode(res); code != 0 {
			svc.Close()
			os.Exit(code)
		}
	}
}

func loadConfig(path string) (*relwatch.Config, error) {
	cfg := &relwatch.Config{}
	if path != "" {
		c, err := relwatch.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
		cfg = c
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// exitCode is 1 for a failed run. Skipped and rejected runs are expected
// outcomes and exit 0.
func exitCode(res relwatch.Result) int {
	if res.OK() {
		return 0
	}
	return 1
}

// runDaemon runs the scheduler and, when http.addr is set, the status
// server until ctx is cancelled.
func runDaemon(ctx context.Context, svc *relwatch.Service, reg *prometheus.Registry, logger *slog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		svc.Schedule(ctx)
		return nil
	})

	if addr := svc.Config().HTTP.Addr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           relwatch.NewStatusRouter(svc, reg),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("relwatch: status server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
