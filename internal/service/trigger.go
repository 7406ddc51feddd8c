package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/carzbazzar/api/internal/queue"
)

const (
	TaskTypeProcessUploads = "uploads:process"
	QueueUploads           = "uploads"
)

// ProcessTrigger asks for a processQueue run without waiting for it
type ProcessTrigger interface {
	Trigger(ctx context.Context) error
}

// QueueProcessor runs the upload queue
type QueueProcessor interface {
	ProcessQueue(ctx context.Context) (queue.RunStats, error)
}

// NewProcessUploadsTask creates the asynq task that runs the upload queue
func NewProcessUploadsTask() *asynq.Task {
	return asynq.NewTask(TaskTypeProcessUploads, nil)
}

// ProcessUploadsOptions are the enqueue options of every processing task.
// Tasks are not deduplicated: a trigger that lands while a run is active
// gets a run of its own, which the manager serializes behind the first.
func ProcessUploadsOptions() []asynq.Option {
	return []asynq.Option{
		asynq.Queue(QueueUploads),
		asynq.MaxRetry(0),
		asynq.Retention(time.Hour),
	}
}

// AsynqTrigger enqueues a processing task for the upload worker.
type AsynqTrigger struct {
	client *asynq.Client
}

func NewAsynqTrigger(client *asynq.Client) *AsynqTrigger {
	return &AsynqTrigger{client: client}
}

func (t *AsynqTrigger) Trigger(ctx context.Context) error {
	_, err := t.client.EnqueueContext(ctx, NewProcessUploadsTask(), ProcessUploadsOptions()...)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// InlineTrigger runs the queue in a goroutine of this process. Used when no
// Redis is available for asynq.
type InlineTrigger struct {
	processor QueueProcessor
	wg        sync.WaitGroup
}

func NewInlineTrigger(processor QueueProcessor) *InlineTrigger {
	return &InlineTrigger{processor: processor}
}

func (t *InlineTrigger) Trigger(ctx context.Context) error {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		stats, err := t.processor.ProcessQueue(context.Background())
		if err != nil {
			log.Printf("Upload queue run failed: %v", err)
			return
		}
		if stats.Selected > 0 {
			log.Printf("Upload queue run: %d selected, %d uploaded, %d failed", stats.Selected, stats.Uploaded, stats.Failed)
		}
	}()
	return nil
}

// Wait blocks until every triggered run has returned
func (t *InlineTrigger) Wait() {
	t.wg.Wait()
}

// RunSweep fires trigger every interval until ctx is done. It stands in for
// the asynq scheduler when processing runs in-process.
func RunSweep(ctx context.Context, trigger ProcessTrigger, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := trigger.Trigger(ctx); err != nil {
				log.Printf("Upload sweep trigger failed: %v", err)
			}
		}
	}
}
