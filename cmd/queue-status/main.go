package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/christophergentle/postbot/internal/app"
	"github.com/christophergentle/postbot/internal/config"
	"github.com/christophergentle/postbot/internal/media"
	"github.com/christophergentle/postbot/internal/queue"
	"github.com/christophergentle/postbot/internal/state"
)

func main() {
	configPath := flag.String("config", config.GetConfigPath(), "path to the YAML config file")
	flag.Parse()

	if err := run(context.Background(), *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "queue-status: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	store := app.NewStore(cfg.Files)

	pending, err := store.LoadPending()
	if err != nil {
		return err
	}
	roster, err := store.LoadRoster()
	if err != nil {
		return err
	}
	images, err := media.NewPicker(cfg.Files.Images).Files()
	if err != nil {
		return err
	}
	originals, err := queue.CountRecords(cfg.Files.OriginalLog)
	if err != nil {
		return err
	}
	replies, err := queue.CountRecords(cfg.Files.ReplyLog)
	if err != nil {
		return err
	}

	fmt.Printf("Pending posts:   %d (%s)\n", len(pending), cfg.Files.Posts)
	fmt.Printf("Days remaining:  %d at %d per day\n", daysRemaining(len(pending), cfg.Schedule.Quota), cfg.Schedule.Quota)
	fmt.Printf("Roster handles:  %d (%s)\n", len(roster), cfg.Files.Roster)
	fmt.Printf("Images:          %d (%s)\n", len(images), cfg.Files.Images)
	fmt.Printf("Original posts:  %d logged\n", originals)
	fmt.Printf("Replies:         %d logged\n", replies)

	ledger, err := state.New(ctx, cfg.State)
	if err != nil {
		return err
	}
	cp, err := ledger.Load(ctx)
	if err != nil {
		return err
	}
	if cp == nil {
		fmt.Println("Next cycle:      not scheduled yet")
		return nil
	}

	fmt.Printf("Cycles run:      %d\n", cp.CyclesCompleted)
	fmt.Printf("Next cycle:      %s\n", cp.NextDue.Local().Format(time.RFC1123))
	return nil
}

func daysRemaining(pending, quota int) int {
	if quota <= 0 {
		return 0
	}
	return (pending + quota - 1) / quota
}
