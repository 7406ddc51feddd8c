package service

import (
	"context"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/carzbazzar/api/internal/media"
	"github.com/carzbazzar/api/internal/model"
	"github.com/carzbazzar/api/internal/queue"
	"github.com/carzbazzar/api/internal/state"
)

// UploadService handles captured media and the upload queue
type UploadService struct {
	state   *state.Store
	manager *queue.Manager
	media   *media.Store
	trigger ProcessTrigger
}

func NewUploadService(st *state.Store, manager *queue.Manager, mediaStore *media.Store, trigger ProcessTrigger) *UploadService {
	return &UploadService{
		state:   st,
		manager: manager,
		media:   mediaStore,
		trigger: trigger,
	}
}

// Capture stores a captured photo/video, queues it for upload and asks for a
// processing run.
func (s *UploadService) Capture(ctx context.Context, inspectionID string, req *model.CaptureMediaRequest, file io.Reader) (*model.CaptureMediaResponse, error) {
	if err := media.ValidateSectionKey(req.SectionKey); err != nil {
		return nil, err
	}
	if _, ok := s.state.Inspection(inspectionID); !ok {
		return nil, queue.ErrInspectionNotFound
	}

	var previous *model.UploadTask
	for _, t := range s.state.Tasks() {
		if t.InspectionID == inspectionID && t.SectionKey == req.SectionKey {
			t := t
			previous = &t
			break
		}
	}

	taskID := uuid.New().String()
	path, err := s.media.Save(inspectionID, req.SectionKey, taskID, req.MediaType, file)
	if err != nil {
		return nil, fmt.Errorf("failed to store media: %w", err)
	}

	task, replaced, err := s.manager.Enqueue(ctx, queue.EnqueueRequest{
		ID:           taskID,
		InspectionID: inspectionID,
		SectionKey:   req.SectionKey,
		LocalPath:    path,
		MediaType:    req.MediaType,
		Remark:       req.Remark,
	})
	if err != nil {
		_ = s.media.Remove(path)
		return nil, err
	}

	if previous != nil && previous.LocalPath != path {
		if err := s.media.Remove(previous.LocalPath); err != nil {
			log.Printf("Failed to remove replaced capture %s: %v", previous.LocalPath, err)
		}
	}

	if err := s.trigger.Trigger(ctx); err != nil {
		log.Printf("Failed to trigger upload processing: %v", err)
	}

	return &model.CaptureMediaResponse{Task: task, Replaced: replaced}, nil
}

// List returns the queue in order
func (s *UploadService) List(inspectionID string) *model.UploadQueueResponse {
	tasks := s.manager.Tasks()
	if inspectionID != "" {
		filtered := make([]model.UploadTask, 0, len(tasks))
		for _, t := range tasks {
			if t.InspectionID == inspectionID {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}
	return &model.UploadQueueResponse{Tasks: tasks, Total: len(tasks)}
}

func (s *UploadService) Get(taskID string) (*model.UploadTask, error) {
	task, ok := s.manager.Task(taskID)
	if !ok {
		return nil, queue.ErrTaskNotFound
	}
	return &task, nil
}

// Retry uploads a failed task right away and returns its new state
func (s *UploadService) Retry(ctx context.Context, taskID string) (*model.UploadTask, error) {
	if _, err := s.manager.Retry(ctx, taskID); err != nil {
		return nil, err
	}
	return s.Get(taskID)
}

// Process asks for a processing run
func (s *UploadService) Process(ctx context.Context) (*model.ProcessQueueResponse, error) {
	if err := s.trigger.Trigger(ctx); err != nil {
		return nil, err
	}
	return &model.ProcessQueueResponse{Queued: true}, nil
}

// Evict drops a task from the queue together with its local capture
func (s *UploadService) Evict(ctx context.Context, taskID string) error {
	task, err := s.manager.Evict(ctx, taskID)
	if err != nil {
		return err
	}
	if err := s.media.Remove(task.LocalPath); err != nil {
		log.Printf("Failed to remove capture %s: %v", task.LocalPath, err)
	}
	return nil
}

// Wait blocks until the task is uploaded or failed
func (s *UploadService) Wait(ctx context.Context, taskID string, timeout time.Duration) (*model.UploadTask, error) {
	task, err := s.manager.AwaitTaskSettled(ctx, taskID, timeout)
	if err != nil {
		return nil, err
	}
	return &task, nil
}
