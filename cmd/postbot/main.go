package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/christophergentle/postbot/internal/app"
	"github.com/christophergentle/postbot/internal/client"
	"github.com/christophergentle/postbot/internal/config"
	"github.com/christophergentle/postbot/internal/health"
	"github.com/christophergentle/postbot/internal/logging"
	"github.com/christophergentle/postbot/internal/metrics"
	"github.com/christophergentle/postbot/internal/scheduler"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", config.GetConfigPath(), "path to the YAML config file")
	once := flag.Bool("once", false, "run a single daily cycle and exit")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	log := logging.New(cfg.Log.Level, cfg.Log.Format, "postbot")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(reg)

	platform := cfg.Platform
	if cfg.DryRun {
		platform = "dryrun"
	}
	go func() {
		router := health.NewRouter(health.Info{Service: "postbot", Platform: platform}, reg)
		if err := health.Serve(ctx, ":"+cfg.Server.Port, router, log); err != nil {
			log.WithError(err).Error("Health server stopped")
		}
	}()

	bot, err := app.Build(ctx, cfg, log, collector)
	if err != nil {
		log.WithError(err).WithField("kind", client.KindOf(err)).Error("Failed to start")
		return 1
	}

	log.WithFields(logrus.Fields{
		"platform": bot.Publisher.Name(),
		"quota":    cfg.Schedule.Quota,
		"delay":    cfg.Schedule.PostDelay.String(),
		"day":      cfg.Schedule.Day,
		"once":     *once,
	}).Info("Starting postbot")

	var result scheduler.Result
	if *once {
		result, err = bot.Scheduler.RunOnce(ctx)
	} else {
		result, err = bot.Scheduler.Run(ctx)
	}

	switch {
	case errors.Is(err, context.Canceled):
		log.WithField("cycles", result.Cycles).Info("Shutting down")
		return 0
	case err != nil:
		log.WithError(err).Error("Scheduler stopped")
		return 1
	}

	if result.Halt != "" {
		log.WithFields(logrus.Fields{"reason": result.Halt, "cycles": result.Cycles}).Info(result.Halt.Message())
	}
	return 0
}
