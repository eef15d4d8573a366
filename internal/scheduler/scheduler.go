package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/christophergentle/postbot/internal/client"
	"github.com/christophergentle/postbot/internal/config"
	"github.com/christophergentle/postbot/internal/media"
	"github.com/christophergentle/postbot/internal/metrics"
	"github.com/christophergentle/postbot/internal/queue"
	"github.com/christophergentle/postbot/internal/state"
)

// HaltReason says why the scheduler stopped for good.
type HaltReason string

const (
	HaltQueueEmpty  HaltReason = "queue_empty"
	HaltRosterEmpty HaltReason = "roster_empty"
)

// checkpointTimeout bounds the ledger write made after a cycle is cancelled.
const checkpointTimeout = 10 * time.Second

func (h HaltReason) Message() string {
	switch h {
	case HaltQueueEmpty:
		return "all work complete"
	case HaltRosterEmpty:
		return "no targets available"
	default:
		return string(h)
	}
}

// Archiver copies output files somewhere safe after a cycle.
type Archiver interface {
	Archive(ctx context.Context, paths ...string) error
}

// Deps are the collaborators a Scheduler drives. Ledger, Archiver and
// Metrics are optional.
type Deps struct {
	Publisher client.Publisher
	Store     *queue.Store
	Picker    *media.Picker
	Ledger    state.Ledger
	Archiver  Archiver
	Metrics   *metrics.Collector
	Logger    logrus.FieldLogger
}

// Batch is one day's slice of the queue.
type Batch struct {
	Originals []string
	Replies   []string
}

// Len is the number of queue entries the batch consumes.
func (b Batch) Len() int {
	return len(b.Originals) + len(b.Replies)
}

// CycleResult is the outcome of a single cycle. Halt is set when the cycle
// stopped before posting anything. Record.Interrupted is set when the cycle
// was cancelled after its first publish attempt.
type CycleResult struct {
	Halt   HaltReason
	Record state.CycleRecord
}

// Result is the outcome of Run.
type Result struct {
	Halt   HaltReason
	Cycles int
	// Last is the most recently completed cycle, nil when none completed
	Last *state.CycleRecord
	// NextDue is when the following cycle may start
	NextDue time.Time
}

type Scheduler struct {
	publisher client.Publisher
	store     *queue.Store
	picker    *media.Picker
	ledger    state.Ledger
	archiver  Archiver
	metrics   *metrics.Collector
	log       logrus.FieldLogger

	quota int
	delay time.Duration
	day   cron.Schedule

	rnd   *rand.Rand
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(cfg config.ScheduleConfig, deps Deps) (*Scheduler, error) {
	if deps.Publisher == nil || deps.Store == nil || deps.Picker == nil {
		return nil, errors.New("scheduler needs a publisher, a store and a picker")
	}
	if cfg.Quota <= 0 {
		return nil, fmt.Errorf("quota must be positive, got %d", cfg.Quota)
	}

	day, err := cron.ParseStandard(cfg.Day)
	if err != nil {
		return nil, fmt.Errorf("invalid day schedule %q: %w", cfg.Day, err)
	}

	log := deps.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Scheduler{
		publisher: deps.Publisher,
		store:     deps.Store,
		picker:    deps.Picker,
		ledger:    deps.Ledger,
		archiver:  deps.Archiver,
		metrics:   deps.Metrics,
		log:       log,
		quota:     cfg.Quota,
		delay:     cfg.PostDelay,
		day:       day,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		now:       time.Now,
		sleep:     sleepContext,
	}, nil
}

// CycleDuration is the time a full cycle spends waiting between posts.
func (s *Scheduler) CycleDuration() time.Duration {
	return time.Duration(s.quota) * s.delay
}

// SplitBatch takes the first min(quota, len(posts)) posts as the day's batch
// and splits it at quota/2, clamped to the batch length. The rest of the
// queue is returned as remainder.
func SplitBatch(posts []string, quota int) (Batch, []string) {
	n := min(quota, len(posts))
	split := min(quota/2, n)

	batch := Batch{
		Originals: append([]string(nil), posts[:split]...),
		Replies:   append([]string(nil), posts[split:n]...),
	}
	remainder := append([]string(nil), posts[n:]...)
	return batch, remainder
}

// Run loops over daily cycles until the queue or roster runs dry, a fatal
// error occurs or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	return s.run(ctx, 0, -1)
}

// RunOnce runs at most one cycle. It still honours a due time recorded in
// the ledger.
func (s *Scheduler) RunOnce(ctx context.Context) (Result, error) {
	return s.run(ctx, 1, -1)
}

// RunDue runs one cycle if the ledger says it is due within grace. Otherwise
// it returns at once with no cycle run and NextDue set.
func (s *Scheduler) RunDue(ctx context.Context, grace time.Duration) (Result, error) {
	return s.run(ctx, 1, grace)
}

// run waits for the due time before each cycle. A non-negative maxWait
// bounds that wait; beyond it run returns without posting.
func (s *Scheduler) run(ctx context.Context, maxCycles int, maxWait time.Duration) (Result, error) {
	var result Result

	cp := s.loadCheckpoint(ctx)
	result.NextDue = cp.NextDue
	for maxCycles == 0 || result.Cycles < maxCycles {
		wait := cp.NextDue.Sub(s.now())
		if maxWait >= 0 && wait > maxWait {
			s.log.WithField("next_due", cp.NextDue.Format(time.RFC3339)).Info("Cycle not due yet")
			return result, nil
		}
		if wait > 0 {
			s.log.WithFields(logrus.Fields{
				"next_due": cp.NextDue.Format(time.RFC3339),
				"wait":     wait.Round(time.Second).String(),
			}).Info("Waiting for next cycle")
			if err := s.sleep(ctx, wait); err != nil {
				return result, err
			}
		}

		cycle, err := s.RunCycle(ctx)
		if err != nil {
			if cycle.Record.Interrupted {
				// Posting began, so the day is spent. ctx is already done.
				saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), checkpointTimeout)
				result.Last = s.recordCycle(saveCtx, cp, cycle.Record)
				result.NextDue = cp.NextDue
				cancel()
			}
			return result, err
		}
		if cycle.Halt != "" {
			s.log.WithField("reason", cycle.Halt).Info("Halting: " + cycle.Halt.Message())
			result.Halt = cycle.Halt
			return result, nil
		}

		result.Cycles++
		record := s.recordCycle(ctx, cp, cycle.Record)
		result.Last = record
		result.NextDue = cp.NextDue

		s.metrics.CycleCompleted()
		s.archive(ctx)

		s.log.WithFields(logrus.Fields{
			"cycle":     record.Cycle,
			"originals": record.Originals,
			"replies":   record.Replies,
			"skipped":   record.Skipped,
			"failed":    record.Failed,
			"remaining": record.Remaining,
			"next_due":  cp.NextDue.Format(time.RFC3339),
		}).Info("Cycle complete")
	}

	return result, nil
}

// recordCycle stores record in the ledger and schedules the next cycle. The
// next due time counts from the start of this cycle so that a fixed daily
// trigger lands on it again.
func (s *Scheduler) recordCycle(ctx context.Context, cp *state.Checkpoint, record state.CycleRecord) *state.CycleRecord {
	cp.CyclesCompleted++
	record.Cycle = cp.CyclesCompleted
	cp.LastCycle = &record
	cp.NextDue = s.day.Next(record.StartedAt)
	s.saveCheckpoint(ctx, cp)
	return &record
}

// RunCycle posts one day's batch and rewrites the queue. Publishing failures
// are logged and counted; only queue I/O errors and cancellation are
// returned. On cancellation the items already attempted are dropped from
// the queue before returning and the partial record is marked interrupted.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleResult, error) {
	var result CycleResult
	result.Record.StartedAt = s.now()

	pending, err := s.store.LoadPending()
	if err != nil {
		return result, fmt.Errorf("failed to load pending posts: %w", err)
	}
	s.metrics.SetPending(len(pending))
	if len(pending) == 0 {
		result.Halt = HaltQueueEmpty
		return result, nil
	}

	roster, err := s.store.LoadRoster()
	if err != nil {
		return result, fmt.Errorf("failed to load roster: %w", err)
	}
	if len(roster) == 0 {
		result.Halt = HaltRosterEmpty
		return result, nil
	}

	batch, remainder := SplitBatch(pending, s.quota)
	s.log.WithFields(logrus.Fields{
		"pending":   len(pending),
		"originals": len(batch.Originals),
		"replies":   len(batch.Replies),
		"platform":  s.publisher.Name(),
	}).Info("Starting daily batch")

	items := append(append([]string(nil), batch.Originals...), batch.Replies...)
	attempted := 0

	for _, text := range batch.Originals {
		if err := ctx.Err(); err != nil {
			return result, s.interrupt(&result.Record, items, attempted, remainder, err)
		}

		s.postOriginal(ctx, text, &result.Record)
		attempted++

		if err := s.sleep(ctx, s.delay); err != nil {
			return result, s.interrupt(&result.Record, items, attempted, remainder, err)
		}
	}

	for _, text := range batch.Replies {
		if err := ctx.Err(); err != nil {
			return result, s.interrupt(&result.Record, items, attempted, remainder, err)
		}

		posted := s.postReply(ctx, text, roster, &result.Record)
		attempted++
		if !posted {
			continue
		}

		if err := s.sleep(ctx, s.delay); err != nil {
			return result, s.interrupt(&result.Record, items, attempted, remainder, err)
		}
	}

	if err := s.store.SavePending(remainder); err != nil {
		return result, fmt.Errorf("failed to save pending posts: %w", err)
	}
	s.metrics.SetPending(len(remainder))

	result.Record.Remaining = len(remainder)
	result.Record.FinishedAt = s.now()
	return result, nil
}

func (s *Scheduler) postOriginal(ctx context.Context, text string, record *state.CycleRecord) {
	img := s.attachMedia(ctx, metrics.KindOriginal)

	url, err := s.publisher.Publish(ctx, text, img)
	if err != nil {
		s.publishFailed(metrics.KindOriginal, err, record)
		return
	}

	record.Originals++
	s.metrics.Published(metrics.KindOriginal)
	s.log.WithField("url", url).Info("Posted")

	if err := s.store.AppendOriginal(url); err != nil {
		s.log.WithError(err).Error("Failed to record post URL")
	}
}

// postReply reports whether a publish was attempted. A reply whose target
// has no post is skipped without a publish attempt.
func (s *Scheduler) postReply(ctx context.Context, text string, roster []string, record *state.CycleRecord) bool {
	handle := queue.NormalizeHandle(roster[s.rnd.Intn(len(roster))])
	log := s.log.WithField("target", handle)

	target, err := s.publisher.LatestPost(ctx, handle)
	if err != nil {
		record.Skipped++
		s.metrics.Skipped()
		log.WithError(err).WithField("kind", client.KindOf(err)).Warn("No post to reply to, skipping")
		return false
	}

	img := s.attachMedia(ctx, metrics.KindReply)

	url, err := s.publisher.PublishReply(ctx, text, target, img)
	if err != nil {
		s.publishFailed(metrics.KindReply, err, record)
		return true
	}

	record.Replies++
	s.metrics.Published(metrics.KindReply)
	log.WithField("url", url).Info("Replied")

	if err := s.store.AppendReply(url); err != nil {
		s.log.WithError(err).Error("Failed to record reply URL")
	}
	return true
}

// attachMedia picks and uploads an image. Any failure means no image.
func (s *Scheduler) attachMedia(ctx context.Context, kind string) *client.Media {
	path, err := s.picker.Pick()
	if err != nil {
		s.log.WithError(err).Warn("Failed to pick image")
		return nil
	}
	if path == "" {
		return nil
	}

	img, err := s.publisher.UploadMedia(ctx, path)
	if err != nil {
		k := client.KindOf(err)
		s.metrics.Failed(kind, string(k))
		s.log.WithError(err).WithFields(logrus.Fields{"image": path, "kind": k}).Warn("Image upload failed, posting text only")
		return nil
	}
	return img
}

func (s *Scheduler) publishFailed(kind string, err error, record *state.CycleRecord) {
	k := client.KindOf(err)
	record.Failed++
	s.metrics.Failed(kind, string(k))
	s.log.WithError(err).WithFields(logrus.Fields{"post_kind": kind, "kind": k}).Error("Failed to publish")
}

// interrupt saves the unattempted part of the batch in front of the
// remainder, closes the record and returns cause.
func (s *Scheduler) interrupt(record *state.CycleRecord, items []string, attempted int, remainder []string, cause error) error {
	left := append(append([]string(nil), items[attempted:]...), remainder...)
	record.Remaining = len(left)
	record.FinishedAt = s.now()
	record.Interrupted = attempted > 0

	if err := s.store.SavePending(left); err != nil {
		return errors.Join(cause, fmt.Errorf("failed to save pending posts: %w", err))
	}
	s.metrics.SetPending(len(left))
	s.log.WithFields(logrus.Fields{
		"attempted": attempted,
		"remaining": len(left),
	}).Warn("Cycle interrupted, queue saved")
	return cause
}

func (s *Scheduler) loadCheckpoint(ctx context.Context) *state.Checkpoint {
	if s.ledger == nil {
		return &state.Checkpoint{}
	}
	cp, err := s.ledger.Load(ctx)
	if err != nil {
		s.log.WithError(err).Warn("Failed to load ledger, starting fresh")
		return &state.Checkpoint{}
	}
	if cp == nil {
		return &state.Checkpoint{}
	}
	return cp
}

func (s *Scheduler) saveCheckpoint(ctx context.Context, cp *state.Checkpoint) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.Save(ctx, cp); err != nil {
		s.log.WithError(err).Error("Failed to save ledger")
	}
}

func (s *Scheduler) archive(ctx context.Context) {
	if s.archiver == nil {
		return
	}
	paths := s.store.Paths()
	if err := s.archiver.Archive(ctx, paths.OriginalLog, paths.ReplyLog); err != nil {
		s.log.WithError(err).Error("Failed to archive logs")
	}
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
