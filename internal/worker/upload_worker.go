package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/carzbazzar/api/internal/service"
)

// UploadWorker runs the upload queue when a processing task arrives
type UploadWorker struct {
	processor service.QueueProcessor
}

// NewUploadWorker creates a new upload worker
func NewUploadWorker(processor service.QueueProcessor) *UploadWorker {
	return &UploadWorker{processor: processor}
}

// ProcessTask handles uploads:process tasks
func (w *UploadWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	start := time.Now()

	stats, err := w.processor.ProcessQueue(ctx)
	if err != nil {
		return fmt.Errorf("process upload queue: %w", err)
	}

	if stats.Selected > 0 {
		log.Printf("Upload queue run: %d selected, %d uploaded, %d failed, %d skipped in %s",
			stats.Selected, stats.Uploaded, stats.Failed, stats.Skipped, time.Since(start).Round(time.Millisecond))
	}
	return nil
}

// NewSweepScheduler registers a periodic processing task. The sweep picks up
// failed uploads and anything queued while no run was triggered.
func NewSweepScheduler(redisOpt asynq.RedisClientOpt, interval time.Duration, logLevel asynq.LogLevel) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		LogLevel: logLevel,
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				log.Printf("Upload sweep enqueue failed: %v", err)
			}
		},
	})

	cronspec := fmt.Sprintf("@every %s", interval)
	if _, err := scheduler.Register(cronspec, service.NewProcessUploadsTask(), service.ProcessUploadsOptions()...); err != nil {
		return nil, fmt.Errorf("failed to register upload sweep: %w", err)
	}
	return scheduler, nil
}
