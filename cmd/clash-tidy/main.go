package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/clash-tidy/internal/api"
	"github.com/clash-tidy/internal/config"
	"github.com/clash-tidy/internal/metrics"
	"github.com/clash-tidy/internal/runner"
	"github.com/clash-tidy/internal/status"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "clash_config.yaml", "path to the Clash configuration file")
	groups := flag.String("groups", "", "comma-separated group names to probe (default: all groups)")
	concurrency := flag.Int("concurrency", 100, "maximum concurrent probes")
	timeout := flag.Int("timeout", 5, "per-request timeout in seconds")
	controller := flag.String("controller", "", "control plane base URL (overrides -host/-ports)")
	host := flag.String("host", "127.0.0.1", "control plane host")
	ports := flag.String("ports", "9090,9097", "comma-separated candidate control plane ports")
	secret := flag.String("secret", "", "control plane API secret")
	testURL := flag.String("test-url", "", "health check URL used for delay probes")
	maxRPS := flag.Float64("rps", 0, "probe submission rate cap (0 = unlimited)")
	statusAddr := flag.String("status-addr", "", "serve /status and /metrics on this address during the run")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "text", "log format (text or json)")
	flag.Parse()

	portList, err := config.ParsePorts(*ports)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -ports: %v\n", err)
		return 2
	}

	opts := config.Options{
		ConfigPath:     *configPath,
		Groups:         config.ParseGroups(*groups),
		Controller:     *controller,
		Host:           *host,
		Ports:          portList,
		Secret:         *secret,
		Concurrency:    *concurrency,
		TimeoutSeconds: *timeout,
		TestURL:        *testURL,
		MaxRPS:         *maxRPS,
		StatusAddr:     *statusAddr,
		LogLevel:       *logLevel,
		LogFormat:      *logFormat,
	}
	opts.Defaults()
	if err := opts.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid options: %v\n", err)
		return 2
	}

	if opts.LogFormat == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	}
	if level, err := log.ParseLevel(opts.LogLevel); err == nil {
		log.SetLevel(level)
	}
	log.Infof("clash-tidy v%s", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector("clashtidy")
	tracker := status.NewTracker()

	if opts.StatusAddr != "" {
		srv := api.NewServer(opts, tracker)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Errorf("Status server failed: %v", err)
			}
		}()
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shCtx); err != nil {
				log.Errorf("Status server shutdown error: %v", err)
			}
		}()
	}

	err = runner.New(opts, collector, tracker).Run(ctx)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		log.Warn("Interrupted, configuration left untouched")
		return 130
	case errors.Is(err, runner.ErrConfigLoad):
		log.Errorf("%v", err)
		return 2
	default:
		log.Errorf("Run failed: %v", err)
		return 1
	}
}
