// Package app assembles a configured bot out of the internal packages so the
// daemon and the Lambda entry point wire things the same way.
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/christophergentle/postbot/internal/backup"
	"github.com/christophergentle/postbot/internal/client"
	"github.com/christophergentle/postbot/internal/config"
	"github.com/christophergentle/postbot/internal/media"
	"github.com/christophergentle/postbot/internal/metrics"
	"github.com/christophergentle/postbot/internal/queue"
	"github.com/christophergentle/postbot/internal/scheduler"
	"github.com/christophergentle/postbot/internal/state"
)

// LoadConfig reads the config file, merges SSM secrets when a prefix is set
// and validates the result.
func LoadConfig(ctx context.Context, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if cfg.SSM.Prefix != "" {
		loader, err := config.NewSSMSecretLoader(ctx, cfg.SSM.Prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to create SSM client: %w", err)
		}
		if err := loader.Apply(ctx, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Bot is a connected publisher plus the scheduler driving it.
type Bot struct {
	Publisher client.Publisher
	Scheduler *scheduler.Scheduler
}

// NewStore builds the queue store over the configured files.
func NewStore(files config.FilesConfig) *queue.Store {
	return queue.NewStore(queue.Paths{
		Pending:     files.Posts,
		Roster:      files.Roster,
		OriginalLog: files.OriginalLog,
		ReplyLog:    files.ReplyLog,
	})
}

// Build creates the publisher and assembles the scheduler around it.
// A failed login is logged rather than returned: the cycle halts on an empty
// queue without touching the network, and the Bluesky client logs in again
// on first use. collector may be nil.
func Build(ctx context.Context, cfg *config.Config, log logrus.FieldLogger, collector *metrics.Collector) (*Bot, error) {
	publisher, err := client.New(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := publisher.Connect(ctx); err != nil {
		log.WithError(err).WithField("kind", client.KindOf(err)).Warn("Failed to connect")
	}

	ledger, err := state.New(ctx, cfg.State)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	deps := scheduler.Deps{
		Publisher: publisher,
		Store:     NewStore(cfg.Files),
		Picker:    media.NewPicker(cfg.Files.Images),
		Ledger:    ledger,
		Metrics:   collector,
		Logger:    log,
	}
	if cfg.Archive.S3Bucket != "" {
		archiver, err := backup.NewS3Archiver(ctx, cfg.Archive.S3Bucket, cfg.Archive.S3Prefix, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create log archiver: %w", err)
		}
		deps.Archiver = archiver
	}

	sched, err := scheduler.New(cfg.Schedule, deps)
	if err != nil {
		return nil, err
	}

	return &Bot{Publisher: publisher, Scheduler: sched}, nil
}
