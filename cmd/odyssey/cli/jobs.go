package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/fulfillment/internal/delivery"
	"github.com/odyssey-erp/fulfillment/jobs"
)

type taskClient interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

type queueInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	Close() error
}

// JobsCLI wraps manual management helpers for Asynq jobs.
type JobsCLI struct {
	client    taskClient
	inspector queueInspector
	retention time.Duration
	now       func() time.Time
}

// NewJobsCLI initialises the CLI helpers using the provided Redis address.
func NewJobsCLI(redisAddr string, retention time.Duration) (*JobsCLI, error) {
	if redisAddr == "" {
		return nil, errors.New("jobs cli: redis address required")
	}
	opts := asynq.RedisClientOpt{Addr: redisAddr}
	return &JobsCLI{
		client:    asynq.NewClient(opts),
		inspector: asynq.NewInspector(opts),
		retention: retention,
		now:       time.Now,
	}, nil
}

// Close releases underlying resources.
func (c *JobsCLI) Close() error {
	var err error
	if c.inspector != nil {
		if closeErr := c.inspector.Close(); closeErr != nil {
			err = closeErr
		}
	}
	if c.client != nil {
		if closeErr := c.client.Close(); closeErr != nil {
			err = closeErr
		}
	}
	return err
}

// TriggerCleanup enqueues an idempotency key purge.
func (c *JobsCLI) TriggerCleanup(ctx context.Context) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	task, err := jobs.NewIdempotencyCleanupTask(c.retention)
	if err != nil {
		return nil, err
	}
	return c.client.EnqueueContext(ctx, task, asynq.MaxRetry(3))
}

// ReplayReceipt re-enqueues the stock request recalculation for a received
// delivery note, e.g. after the original task exhausted its retries.
func (c *JobsCLI) ReplayReceipt(ctx context.Context, number string, requestIDs []int64) (*asynq.TaskInfo, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("jobs cli: client not configured")
	}
	if number == "" || len(requestIDs) == 0 {
		return nil, errors.New("jobs cli: delivery note number and stock request ids required")
	}
	task, err := jobs.NewNoteReceivedTask(delivery.NoteReceived{
		Number:          number,
		StockRequestIDs: requestIDs,
		ReceivedAt:      c.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	// A fresh task id lets the replay pass asynq's uniqueness check.
	return c.client.EnqueueContext(ctx, task, asynq.TaskID(fmt.Sprintf("dn-received-%s-replay-%d", number, c.now().Unix())))
}

// QueueStats summarises the current queue state.
type QueueStats struct {
	Queue     string
	Pending   int
	Active    int
	Scheduled int
	Retry     int
	Archived  int
}

// InspectQueue reports the queue metrics for the default queue.
func (c *JobsCLI) InspectQueue(ctx context.Context) (QueueStats, error) {
	if c == nil || c.inspector == nil {
		return QueueStats{}, errors.New("jobs cli: inspector not configured")
	}
	info, err := c.inspector.GetQueueInfo(jobs.QueueDefault)
	if err != nil {
		return QueueStats{}, err
	}
	stats := QueueStats{Queue: jobs.QueueDefault}
	if info != nil {
		stats.Pending = info.Pending
		stats.Active = info.Active
		stats.Scheduled = info.Scheduled
		stats.Retry = info.Retry
		stats.Archived = info.Archived
	}
	return stats, nil
}

// Run executes a jobs subcommand:
//
//	jobs cleanup
//	jobs replay <DN-number> <stock-request-id>[,<id>...]
//	jobs stats
func (c *JobsCLI) Run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: jobs cleanup|replay|stats")
	}
	switch args[0] {
	case "cleanup":
		info, err := c.TriggerCleanup(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "enqueued %s (%s)\n", info.Type, info.ID)
	case "replay":
		if len(args) != 3 {
			return errors.New("usage: jobs replay <DN-number> <stock-request-ids>")
		}
		ids, err := parseIDs(args[2])
		if err != nil {
			return err
		}
		info, err := c.ReplayReceipt(ctx, args[1], ids)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "enqueued %s (%s)\n", info.Type, info.ID)
	case "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	default:
		return fmt.Errorf("jobs cli: unknown command %q", args[0])
	}
	return nil
}

func parseIDs(raw string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("jobs cli: invalid stock request id %q", part)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("jobs cli: at least one stock request id required")
	}
	return ids, nil
}
