package state

import (
	"context"
	"time"

	"github.com/christophergentle/postbot/internal/config"
)

// CycleRecord summarises one daily cycle.
type CycleRecord struct {
	Cycle      int       `yaml:"cycle" json:"cycle" dynamodbav:"cycle"`
	StartedAt  time.Time `yaml:"started_at" json:"startedAt" dynamodbav:"startedAt"`
	FinishedAt time.Time `yaml:"finished_at" json:"finishedAt" dynamodbav:"finishedAt"`
	Originals  int       `yaml:"originals" json:"originals" dynamodbav:"originals"`
	Replies    int       `yaml:"replies" json:"replies" dynamodbav:"replies"`
	Skipped    int       `yaml:"skipped" json:"skipped" dynamodbav:"skipped"`
	Failed     int       `yaml:"failed" json:"failed" dynamodbav:"failed"`
	Remaining  int       `yaml:"remaining" json:"remaining" dynamodbav:"remaining"`
	// Interrupted is set when the cycle was cancelled after posting began.
	Interrupted bool `yaml:"interrupted,omitempty" json:"interrupted,omitempty" dynamodbav:"interrupted,omitempty"`
}

// Checkpoint is the persisted scheduler position. NextDue is when the next
// cycle may start; a restarted bot waits for it instead of posting a second
// batch the same day.
type Checkpoint struct {
	BotID           string       `yaml:"bot_id" json:"botId" dynamodbav:"botId"`
	NextDue         time.Time    `yaml:"next_due" json:"nextDue" dynamodbav:"nextDue"`
	CyclesCompleted int          `yaml:"cycles_completed" json:"cyclesCompleted" dynamodbav:"cyclesCompleted"`
	LastCycle       *CycleRecord `yaml:"last_cycle,omitempty" json:"lastCycle,omitempty" dynamodbav:"lastCycle,omitempty"`
	UpdatedAt       time.Time    `yaml:"updated_at" json:"updatedAt" dynamodbav:"updatedAt"`
}

// Ledger loads and saves the checkpoint. Load returns nil, nil when nothing
// has been saved yet.
type Ledger interface {
	Load(ctx context.Context) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
}

// New picks the DynamoDB ledger when a table is configured and the local
// YAML file otherwise.
func New(ctx context.Context, cfg config.StateConfig) (Ledger, error) {
	if cfg.DynamoDBTable != "" {
		return NewDynamoLedger(ctx, cfg.DynamoDBTable, cfg.BotID)
	}
	return NewFileLedger(cfg.Path), nil
}
