package lambda

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/christophergentle/postbot/internal/scheduler"
	"github.com/christophergentle/postbot/internal/state"
)

// Event represents the EventBridge event structure
type Event struct {
	Source string `json:"source"`
	Time   string `json:"time"`
}

// Response represents the Lambda response
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
	Halt       string `json:"halt,omitempty"`
	Originals  int    `json:"originals"`
	Replies    int    `json:"replies"`
	Skipped    int    `json:"skipped"`
	Failed     int    `json:"failed"`
	Remaining  int    `json:"remaining"`
}

const (
	// DefaultGrace is how far ahead of its due time a cycle may start when the
	// invocation fires early.
	DefaultGrace = 5 * time.Minute

	// checkpointReserve is cut from the invocation deadline so an interrupted
	// cycle can still write the ledger before the runtime stops the function.
	checkpointReserve = 30 * time.Second
)

// CycleRunner runs one daily cycle when it is due.
type CycleRunner interface {
	RunDue(ctx context.Context, grace time.Duration) (scheduler.Result, error)
	// CycleDuration is the time a full cycle spends between posts.
	CycleDuration() time.Duration
}

// Handler runs one cycle per scheduled invocation. The runner is built per
// invocation so a warm container picks up queue edits and fresh credentials.
type Handler struct {
	build func(ctx context.Context) (CycleRunner, error)
	grace time.Duration
	log   logrus.FieldLogger
}

func NewHandler(build func(ctx context.Context) (CycleRunner, error), grace time.Duration, log logrus.FieldLogger) *Handler {
	return &Handler{build: build, grace: grace, log: log}
}

// HandleRequest is the main Lambda handler. Setup failures and a schedule
// that cannot fit in the invocation are reported in the response body. A
// failed cycle is returned as an error so the invocation is marked failed,
// unless posting had begun and the day is already recorded.
func (h *Handler) HandleRequest(ctx context.Context, event Event) (Response, error) {
	h.log.WithFields(logrus.Fields{"source": event.Source, "time": event.Time}).Info("Received event")

	runner, err := h.build(ctx)
	if err != nil {
		h.log.WithError(err).Error("Failed to initialize bot")
		return Response{
			StatusCode: 500,
			Body:       "Failed to initialize bot: " + err.Error(),
		}, nil
	}

	if deadline, ok := ctx.Deadline(); ok {
		available := time.Until(deadline) - checkpointReserve
		if need := runner.CycleDuration(); need > available {
			h.log.WithFields(logrus.Fields{
				"cycle_duration": need.String(),
				"available":      available.Round(time.Second).String(),
			}).Error("Cycle cannot finish before the invocation deadline")
			return Response{
				StatusCode: 500,
				Body: fmt.Sprintf("Cycle needs %s but the invocation has %s; lower schedule.quota or schedule.post_delay",
					need, available.Round(time.Second)),
			}, nil
		}

		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, deadline.Add(-checkpointReserve))
		defer cancel()
	}

	result, err := runner.RunDue(ctx, h.grace)
	if err != nil {
		h.log.WithError(err).Error("Cycle failed")
		resp := Response{
			StatusCode: 500,
			Body:       "Cycle failed: " + err.Error(),
		}
		if result.Last != nil && result.Last.Interrupted {
			fillCounts(&resp, result.Last)
			resp.Body = fmt.Sprintf("Cycle %d interrupted: %v", result.Last.Cycle, err)
			return resp, nil
		}
		return resp, err
	}

	resp := Response{StatusCode: 200}
	switch {
	case result.Halt != "":
		resp.Halt = string(result.Halt)
		resp.Body = result.Halt.Message()
	case result.Last != nil:
		fillCounts(&resp, result.Last)
		resp.Body = fmt.Sprintf("Cycle %d completed", result.Last.Cycle)
	default:
		resp.Body = "Not due until " + result.NextDue.UTC().Format(time.RFC3339)
	}

	h.log.WithFields(logrus.Fields{
		"halt":      resp.Halt,
		"originals": resp.Originals,
		"replies":   resp.Replies,
		"remaining": resp.Remaining,
	}).Info("Invocation completed")
	return resp, nil
}

func fillCounts(resp *Response, record *state.CycleRecord) {
	resp.Originals = record.Originals
	resp.Replies = record.Replies
	resp.Skipped = record.Skipped
	resp.Failed = record.Failed
	resp.Remaining = record.Remaining
}
