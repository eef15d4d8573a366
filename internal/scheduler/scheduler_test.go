package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christophergentle/postbot/internal/client"
	"github.com/christophergentle/postbot/internal/config"
	"github.com/christophergentle/postbot/internal/logging"
	"github.com/christophergentle/postbot/internal/media"
	"github.com/christophergentle/postbot/internal/metrics"
	"github.com/christophergentle/postbot/internal/queue"
	"github.com/christophergentle/postbot/internal/state"
)

type call struct {
	op     string
	text   string
	target string
	image  string
}

type fakePublisher struct {
	calls      []call
	count      int
	noPosts    map[string]bool
	failText   map[string]bool
	failUpload bool
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{noPosts: map[string]bool{}, failText: map[string]bool{}}
}

func (f *fakePublisher) Name() string                      { return "fake" }
func (f *fakePublisher) Connect(ctx context.Context) error { return nil }

func (f *fakePublisher) UploadMedia(ctx context.Context, path string) (*client.Media, error) {
	f.calls = append(f.calls, call{op: "upload", image: path})
	if f.failUpload {
		return nil, &client.Error{Op: "upload media", Kind: client.KindMedia, Err: errors.New("not an image")}
	}
	return &client.Media{Path: path, ID: "m1"}, nil
}

func (f *fakePublisher) Publish(ctx context.Context, text string, m *client.Media) (string, error) {
	f.calls = append(f.calls, call{op: "publish", text: text, image: imagePath(m)})
	if f.failText[text] {
		return "", &client.Error{Op: "publish", Kind: client.KindRateLimit, Err: errors.New("too many requests")}
	}
	f.count++
	return fmt.Sprintf("https://example.test/post/%d", f.count), nil
}

func (f *fakePublisher) PublishReply(ctx context.Context, text string, target client.PostRef, m *client.Media) (string, error) {
	f.calls = append(f.calls, call{op: "reply", text: text, target: target.ID, image: imagePath(m)})
	if f.failText[text] {
		return "", &client.Error{Op: "publish reply", Kind: client.KindValidation, Err: errors.New("too long")}
	}
	f.count++
	return fmt.Sprintf("https://example.test/post/%d", f.count), nil
}

func (f *fakePublisher) LatestPost(ctx context.Context, handle string) (client.PostRef, error) {
	f.calls = append(f.calls, call{op: "lookup", target: handle})
	if f.noPosts[handle] {
		return client.PostRef{}, &client.Error{Op: "latest post", Kind: client.KindNotFound, Err: errors.New("empty timeline")}
	}
	return client.PostRef{ID: "latest-" + handle}, nil
}

func (f *fakePublisher) ops(op string) []call {
	var out []call
	for _, c := range f.calls {
		if c.op == op {
			out = append(out, c)
		}
	}
	return out
}

func imagePath(m *client.Media) string {
	if m == nil {
		return ""
	}
	return m.Path
}

type memLedger struct {
	cp    *state.Checkpoint
	saves int
}

func (l *memLedger) Load(ctx context.Context) (*state.Checkpoint, error) {
	if l.cp == nil {
		return nil, nil
	}
	cp := *l.cp
	return &cp, nil
}

func (l *memLedger) Save(ctx context.Context, cp *state.Checkpoint) error {
	saved := *cp
	l.cp = &saved
	l.saves++
	return nil
}

type recordingArchiver struct {
	paths [][]string
}

func (a *recordingArchiver) Archive(ctx context.Context, paths ...string) error {
	a.paths = append(a.paths, paths)
	return nil
}

type fixture struct {
	dir     string
	store   *queue.Store
	pub     *fakePublisher
	ledger  *memLedger
	archive *recordingArchiver
	sched   *Scheduler
	slept   []time.Duration
	now     time.Time
}

func posts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("post %d", i+1)
	}
	return out
}

func newFixture(t *testing.T, pending []string, roster string) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		dir: dir,
		store: queue.NewStore(queue.Paths{
			Pending:     filepath.Join(dir, "post.txt"),
			Roster:      filepath.Join(dir, "influencers.txt"),
			OriginalLog: filepath.Join(dir, "normal_posts.txt"),
			ReplyLog:    filepath.Join(dir, "influencer_posts.txt"),
		}),
		pub:     newFakePublisher(),
		ledger:  &memLedger{},
		archive: &recordingArchiver{},
		now:     time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC),
	}

	if pending != nil {
		require.NoError(t, f.store.SavePending(pending))
	}
	if roster != "" {
		require.NoError(t, os.WriteFile(f.store.Paths().Roster, []byte(roster), 0o644))
	}

	sched, err := New(config.ScheduleConfig{Quota: 17, PostDelay: time.Minute, Day: "@every 24h"}, Deps{
		Publisher: f.pub,
		Store:     f.store,
		Picker:    media.NewPickerWithRand(filepath.Join(dir, "images"), rand.New(rand.NewSource(1))),
		Ledger:    f.ledger,
		Archiver:  f.archive,
		Metrics:   metrics.NewCollector(prometheus.NewRegistry()),
		Logger:    logging.Discard(),
	})
	require.NoError(t, err)

	sched.rnd = rand.New(rand.NewSource(1))
	sched.now = func() time.Time { return f.now }
	sched.sleep = func(ctx context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		f.now = f.now.Add(d)
		return ctx.Err()
	}
	f.sched = sched
	return f
}

func (f *fixture) pending(t *testing.T) []string {
	t.Helper()
	got, err := f.store.LoadPending()
	require.NoError(t, err)
	return got
}

func (f *fixture) logLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	return queue.ParseLines(data)
}

func TestSplitBatch(t *testing.T) {
	tests := []struct {
		name      string
		queue     int
		quota     int
		originals int
		replies   int
		remainder int
	}{
		{"full day", 40, 17, 8, 9, 23},
		{"exact quota", 17, 17, 8, 9, 0},
		{"short queue keeps split index", 10, 17, 8, 2, 0},
		{"fewer than split index", 5, 17, 5, 0, 0},
		{"even quota", 9, 4, 2, 2, 5},
		{"quota of one", 3, 1, 0, 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := posts(tt.queue)
			batch, remainder := SplitBatch(q, tt.quota)

			assert.Len(t, batch.Originals, tt.originals)
			assert.Len(t, batch.Replies, tt.replies)
			assert.Len(t, remainder, tt.remainder)

			joined := append(append(append([]string{}, batch.Originals...), batch.Replies...), remainder...)
			assert.Equal(t, q, joined)
		})
	}
}

func TestSplitBatchDoesNotAlias(t *testing.T) {
	q := posts(5)
	batch, remainder := SplitBatch(q, 2)
	batch.Originals[0] = "changed"
	remainder[0] = "changed"
	assert.Equal(t, posts(5), q)
}

func TestRunCycleConsumesQuota(t *testing.T) {
	f := newFixture(t, posts(20), "alice\n@bob\n")

	res, err := f.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Halt)

	assert.Equal(t, []string{"post 18", "post 19", "post 20"}, f.pending(t))

	publishes := f.pub.ops("publish")
	require.Len(t, publishes, 8)
	for i, c := range publishes {
		assert.Equal(t, fmt.Sprintf("post %d", i+1), c.text)
	}

	replies := f.pub.ops("reply")
	require.Len(t, replies, 9)
	for i, c := range replies {
		assert.Equal(t, fmt.Sprintf("post %d", i+9), c.text)
		assert.Contains(t, []string{"latest-alice", "latest-bob"}, c.target)
	}

	originalLog := f.logLines(t, f.store.Paths().OriginalLog)
	replyLog := f.logLines(t, f.store.Paths().ReplyLog)
	assert.Len(t, originalLog, 8)
	assert.Len(t, replyLog, 9)
	assert.Equal(t, "https://example.test/post/1", originalLog[0])
	assert.Equal(t, "https://example.test/post/9", replyLog[0])

	assert.Len(t, f.slept, 17)
	for _, d := range f.slept {
		assert.Equal(t, time.Minute, d)
	}

	assert.Equal(t, 8, res.Record.Originals)
	assert.Equal(t, 9, res.Record.Replies)
	assert.Equal(t, 3, res.Record.Remaining)
}

func TestRunCycleShortQueue(t *testing.T) {
	f := newFixture(t, posts(3), "alice\n")

	_, err := f.sched.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Empty(t, f.pending(t))
	assert.Len(t, f.pub.ops("publish"), 3)
	assert.Empty(t, f.pub.ops("reply"))
}

func TestRunCycleHaltsOnEmptyQueue(t *testing.T) {
	f := newFixture(t, nil, "alice\n")

	res, err := f.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HaltQueueEmpty, res.Halt)
	assert.Empty(t, f.pub.calls)
	assert.Empty(t, f.slept)

	_, err = os.Stat(f.store.Paths().Pending)
	assert.True(t, errors.Is(err, os.ErrNotExist))
	_, err = os.Stat(f.store.Paths().OriginalLog)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestRunCycleHaltsOnEmptyRoster(t *testing.T) {
	f := newFixture(t, posts(5), "")

	res, err := f.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HaltRosterEmpty, res.Halt)
	assert.Empty(t, f.pub.calls)
	assert.Equal(t, posts(5), f.pending(t))
	assert.Empty(t, f.logLines(t, f.store.Paths().OriginalLog))
}

func TestRunCycleSkipsTargetsWithoutPosts(t *testing.T) {
	f := newFixture(t, posts(17), "ghost\n")
	f.pub.noPosts["ghost"] = true

	res, err := f.sched.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Len(t, f.pub.ops("lookup"), 9)
	assert.Empty(t, f.pub.ops("reply"))
	assert.Empty(t, f.logLines(t, f.store.Paths().ReplyLog))
	assert.Len(t, f.slept, 8)
	assert.Equal(t, 9, res.Record.Skipped)
	assert.Empty(t, f.pending(t))
}

func TestRunCycleNormalizesHandles(t *testing.T) {
	f := newFixture(t, posts(9), "  @carol  \n")

	_, err := f.sched.RunCycle(context.Background())
	require.NoError(t, err)

	lookups := f.pub.ops("lookup")
	require.Len(t, lookups, 1)
	assert.Equal(t, "carol", lookups[0].target)
}

func TestRunCycleContinuesAfterPublishFailure(t *testing.T) {
	f := newFixture(t, posts(17), "alice\n")
	f.pub.failText["post 2"] = true
	f.pub.failText["post 10"] = true

	res, err := f.sched.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Len(t, f.pub.ops("publish"), 8)
	assert.Len(t, f.pub.ops("reply"), 9)
	assert.Len(t, f.logLines(t, f.store.Paths().OriginalLog), 7)
	assert.Len(t, f.logLines(t, f.store.Paths().ReplyLog), 8)
	assert.Len(t, f.slept, 17)
	assert.Equal(t, 2, res.Record.Failed)
}

func TestRunCycleAttachesImages(t *testing.T) {
	f := newFixture(t, posts(2), "alice\n")
	imageDir := filepath.Join(f.dir, "images")
	require.NoError(t, os.Mkdir(imageDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(imageDir, "cat.png"), []byte("png"), 0o644))

	_, err := f.sched.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Len(t, f.pub.ops("upload"), 2)
	for _, c := range f.pub.ops("publish") {
		assert.Equal(t, filepath.Join(imageDir, "cat.png"), c.image)
	}
}

func TestRunCyclePostsTextOnlyWhenUploadFails(t *testing.T) {
	f := newFixture(t, posts(1), "alice\n")
	imageDir := filepath.Join(f.dir, "images")
	require.NoError(t, os.Mkdir(imageDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(imageDir, "notes.txt"), []byte("hi"), 0o644))
	f.pub.failUpload = true

	_, err := f.sched.RunCycle(context.Background())
	require.NoError(t, err)

	publishes := f.pub.ops("publish")
	require.Len(t, publishes, 1)
	assert.Empty(t, publishes[0].image)
	assert.Len(t, f.logLines(t, f.store.Paths().OriginalLog), 1)
}

func TestRunCycleCancellationSavesUnattempted(t *testing.T) {
	f := newFixture(t, posts(20), "alice\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sched.sleep = func(ctx context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		if len(f.slept) == 3 {
			cancel()
		}
		return ctx.Err()
	}

	_, err := f.sched.RunCycle(ctx)
	require.ErrorIs(t, err, context.Canceled)

	assert.Len(t, f.pub.ops("publish"), 3)
	want := posts(20)[3:]
	assert.Equal(t, want, f.pending(t))
}

func TestRunWaitsForLedgerDueTime(t *testing.T) {
	f := newFixture(t, posts(17), "alice\n")
	f.ledger.cp = &state.Checkpoint{NextDue: f.now.Add(time.Hour), CyclesCompleted: 4}

	res, err := f.sched.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, HaltQueueEmpty, res.Halt)
	assert.Equal(t, 1, res.Cycles)

	require.NotEmpty(t, f.slept)
	assert.Equal(t, time.Hour, f.slept[0])

	require.NotNil(t, f.ledger.cp)
	assert.Equal(t, 5, f.ledger.cp.CyclesCompleted)
	require.NotNil(t, f.ledger.cp.LastCycle)
	assert.Equal(t, 5, f.ledger.cp.LastCycle.Cycle)
	assert.Equal(t, f.ledger.cp.LastCycle.StartedAt.Add(24*time.Hour), f.ledger.cp.NextDue)

	// the second pass waits out the rest of the day before finding the queue empty
	assert.Equal(t, 24*time.Hour-17*time.Minute, f.slept[len(f.slept)-1])
	assert.Len(t, f.archive.paths, 1)
}

func TestRunOnceStopsAfterOneCycle(t *testing.T) {
	f := newFixture(t, posts(40), "alice\n")

	res, err := f.sched.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Halt)
	assert.Equal(t, 1, res.Cycles)
	assert.Len(t, f.pending(t), 23)
	assert.Equal(t, 1, f.ledger.saves)
	require.Len(t, f.archive.paths, 1)
	assert.Equal(t, []string{f.store.Paths().OriginalLog, f.store.Paths().ReplyLog}, f.archive.paths[0])
}

func TestRunDueSkipsWhenNotDue(t *testing.T) {
	f := newFixture(t, posts(5), "alice\n")
	due := f.now.Add(3 * time.Hour)
	f.ledger.cp = &state.Checkpoint{NextDue: due}

	res, err := f.sched.RunDue(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, res.Cycles)
	assert.Nil(t, res.Last)
	assert.Equal(t, due, res.NextDue)
	assert.Empty(t, f.pub.calls)
	assert.Empty(t, f.slept)
}

func TestRunDueWaitsWithinGrace(t *testing.T) {
	f := newFixture(t, posts(5), "alice\n")
	f.ledger.cp = &state.Checkpoint{NextDue: f.now.Add(2 * time.Minute)}

	res, err := f.sched.RunDue(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Cycles)
	assert.Equal(t, 2*time.Minute, f.slept[0])
	require.NotNil(t, res.Last)
	assert.Equal(t, f.ledger.cp.LastCycle.StartedAt, res.Last.StartedAt)
	assert.Equal(t, res.Last.StartedAt.Add(24*time.Hour), res.NextDue)
}

func TestRunDuePostsOnEveryDailyTrigger(t *testing.T) {
	f := newFixture(t, posts(17*4), "alice\n")
	first := f.now

	// A fixed 09:00 trigger that fires a little late on some days.
	jitter := []time.Duration{0, 30 * time.Second, 10 * time.Second, 0}
	for day, late := range jitter {
		f.now = first.Add(time.Duration(day)*24*time.Hour + late)

		res, err := f.sched.RunDue(context.Background(), 5*time.Minute)
		require.NoError(t, err)
		require.Equal(t, 1, res.Cycles, "day %d", day)
		assert.Equal(t, 17, res.Last.Originals+res.Last.Replies, "day %d", day)
	}

	assert.Empty(t, f.pending(t))
	assert.Equal(t, 4, f.ledger.cp.CyclesCompleted)
}

func TestRunDueCancelledMidCycleSpendsTheDay(t *testing.T) {
	f := newFixture(t, posts(40), "alice\n")
	started := f.now

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sched.sleep = func(ctx context.Context, d time.Duration) error {
		f.slept = append(f.slept, d)
		f.now = f.now.Add(d)
		if len(f.slept) == 3 {
			cancel()
		}
		return ctx.Err()
	}

	res, err := f.sched.RunDue(ctx, 5*time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, res.Cycles)
	require.NotNil(t, res.Last)
	assert.True(t, res.Last.Interrupted)
	assert.Equal(t, 3, res.Last.Originals)
	assert.Equal(t, 37, res.Last.Remaining)
	assert.Equal(t, posts(40)[3:], f.pending(t))

	require.NotNil(t, f.ledger.cp)
	assert.Equal(t, 1, f.ledger.cp.CyclesCompleted)
	assert.True(t, f.ledger.cp.LastCycle.Interrupted)
	assert.Equal(t, started.Add(24*time.Hour), f.ledger.cp.NextDue)

	// a retry the same day finds nothing due
	f.now = started.Add(5 * time.Minute)
	res, err = f.sched.RunDue(context.Background(), 5*time.Minute)
	require.NoError(t, err)
	assert.Zero(t, res.Cycles)
	assert.Nil(t, res.Last)
	assert.Len(t, f.pub.ops("publish"), 3)
	assert.Equal(t, posts(40)[3:], f.pending(t))
}

func TestRunCancelledBeforeFirstPostKeepsTheDay(t *testing.T) {
	f := newFixture(t, posts(5), "alice\n")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sched.RunDue(ctx, 5*time.Minute)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.pub.calls)
	assert.Zero(t, f.ledger.saves)
	assert.Equal(t, posts(5), f.pending(t))
}

func TestCycleDuration(t *testing.T) {
	f := newFixture(t, nil, "")
	assert.Equal(t, 17*time.Minute, f.sched.CycleDuration())
}

func TestRunHaltsOnEmptyRoster(t *testing.T) {
	f := newFixture(t, posts(3), "")

	res, err := f.sched.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, HaltRosterEmpty, res.Halt)
	assert.Equal(t, 0, res.Cycles)
	assert.Equal(t, 0, f.ledger.saves)
}

func TestRunCancelledWhileWaiting(t *testing.T) {
	f := newFixture(t, posts(3), "alice\n")
	f.ledger.cp = &state.Checkpoint{NextDue: f.now.Add(6 * time.Hour)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.sched.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.pub.calls)
	assert.Equal(t, posts(3), f.pending(t))
}

func TestNewRejectsBadConfig(t *testing.T) {
	deps := Deps{
		Publisher: newFakePublisher(),
		Store:     queue.NewStore(queue.Paths{}),
		Picker:    media.NewPicker(t.TempDir()),
	}

	_, err := New(config.ScheduleConfig{Quota: 17, Day: "every day"}, deps)
	assert.Error(t, err)

	_, err = New(config.ScheduleConfig{Quota: 0, Day: "@daily"}, deps)
	assert.Error(t, err)

	_, err = New(config.ScheduleConfig{Quota: 17, Day: "@daily"}, Deps{})
	assert.Error(t, err)

	s, err := New(config.ScheduleConfig{Quota: 17, Day: "0 9 * * *"}, deps)
	require.NoError(t, err)
	next := s.day.Next(time.Date(2026, 5, 4, 10, 0, 0, 0, time.Local))
	assert.Equal(t, time.Date(2026, 5, 5, 9, 0, 0, 0, time.Local), next)
}

func TestSleepContext(t *testing.T) {
	assert.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, sleepContext(ctx, 0), context.Canceled)
}

func TestHaltReasonMessage(t *testing.T) {
	assert.Equal(t, "all work complete", HaltQueueEmpty.Message())
	assert.Equal(t, "no targets available", HaltRosterEmpty.Message())
}
