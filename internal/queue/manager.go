// Package queue runs the inspection media upload queue: captures are queued
// per inspection section, uploaded one at a time to object storage and then
// recorded in the inspection document.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/carzbazzar/api/internal/client"
	"github.com/carzbazzar/api/internal/media"
	"github.com/carzbazzar/api/internal/model"
	"github.com/carzbazzar/api/internal/state"
	"github.com/carzbazzar/api/internal/store"
)

var (
	ErrInspectionNotFound = state.ErrInspectionNotFound
	ErrTaskNotFound       = state.ErrTaskNotFound
	ErrTaskInFlight       = state.ErrTaskInFlight
	ErrTimeout            = errors.New("timed out waiting for upload to settle")
	ErrUploadFailed       = errors.New("upload failed")
	ErrNotRetryable       = errors.New("only failed uploads can be retried")
)

// DefaultAwaitTimeout bounds AwaitTaskSettled when the caller passes no timeout
const DefaultAwaitTimeout = 120 * time.Second

// Notifier receives task events, keyed by the task's inspection
type Notifier interface {
	BroadcastCaptured(task model.UploadTask)
	BroadcastProgress(task model.UploadTask)
	BroadcastSynced(task model.UploadTask)
	BroadcastFailed(task model.UploadTask)
}

// Persister mirrors the queue to durable storage
type Persister interface {
	SaveTask(ctx context.Context, task model.UploadTask) error
	DeleteTask(ctx context.Context, taskID string) error
}

// MediaSource opens captured media for upload
type MediaSource interface {
	Open(path string) (media.File, int64, error)
}

// EnqueueRequest describes a fresh capture
type EnqueueRequest struct {
	ID           string
	InspectionID string
	SectionKey   string
	LocalPath    string
	MediaType    model.MediaType
	Remark       string
}

// RunStats summarizes one ProcessQueue run
type RunStats struct {
	Selected int
	Uploaded int
	Failed   int
	Skipped  int
}

// Manager owns the upload queue of one application session.
type Manager struct {
	state   *state.Store
	storage client.ObjectStorage
	docs    store.DocumentStore
	media   MediaSource

	notifier     Notifier
	persister    Persister
	awaitTimeout time.Duration
	now          func() time.Time

	// runMu serializes ProcessQueue runs, uploadMu keeps a single transfer in flight.
	runMu    sync.Mutex
	uploadMu sync.Mutex

	// persistMu orders persister writes; each write saves the task as it is now.
	persistMu sync.Mutex

	waitMu  sync.Mutex
	waiters map[string][]chan error
}

// Option configures a Manager
type Option func(*Manager)

func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

func WithPersister(p Persister) Option {
	return func(m *Manager) { m.persister = p }
}

func WithAwaitTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.awaitTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over its collaborators
func NewManager(st *state.Store, storage client.ObjectStorage, docs store.DocumentStore, src MediaSource, opts ...Option) *Manager {
	m := &Manager{
		state:        st,
		storage:      storage,
		docs:         docs,
		media:        src,
		notifier:     nopNotifier{},
		awaitTimeout: DefaultAwaitTimeout,
		now:          time.Now,
		waiters:      make(map[string][]chan error),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enqueue adds a capture to the queue, replacing in place any task with the
// same id or for the same inspection section, and records the capture
// optimistically in the inspection's section data.
func (m *Manager) Enqueue(ctx context.Context, req EnqueueRequest) (model.UploadTask, bool, error) {
	if _, ok := m.state.Inspection(req.InspectionID); !ok {
		return model.UploadTask{}, false, ErrInspectionNotFound
	}

	now := m.now()
	task := model.UploadTask{
		ID:           req.ID,
		InspectionID: req.InspectionID,
		SectionKey:   req.SectionKey,
		LocalPath:    req.LocalPath,
		MediaType:    req.MediaType,
		Remark:       req.Remark,
		Status:       model.TaskStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var superseded []string
	for _, t := range m.state.Tasks() {
		if t.ID != task.ID && t.SameSlot(&task) {
			superseded = append(superseded, t.ID)
		}
	}

	replaced := m.state.UpsertTask(task)

	img := model.SectionImage{
		Type:      string(req.MediaType),
		LocalPath: req.LocalPath,
		Uploaded:  false,
		Remark:    req.Remark,
		Sync:      model.SyncCaptured,
	}
	if err := m.state.SetSectionImage(req.InspectionID, req.SectionKey, img); err != nil {
		return model.UploadTask{}, false, err
	}

	for _, id := range superseded {
		m.settle(id, fmt.Errorf("%w: replaced by %s", ErrTaskNotFound, task.ID))
	}
	m.persist(ctx, task.ID)
	m.notifier.BroadcastCaptured(task)

	return task, replaced, nil
}

// ProcessQueue uploads every pending, failed or stale uploading task in queue
// order, one at a time. A failing task does not stop the run. Overlapping
// calls run one after the other.
func (m *Manager) ProcessQueue(ctx context.Context) (RunStats, error) {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	snapshot := m.state.Runnable()
	stats := RunStats{Selected: len(snapshot)}

	for _, task := range snapshot {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		_, err := m.UploadOne(ctx, task.ID)
		switch {
		case err == nil:
			stats.Uploaded++
		case errors.Is(err, ErrUploadFailed):
			stats.Failed++
			log.Printf("Upload %s failed: %v", task.ID, err)
		default:
			// evicted, replaced or claimed elsewhere since the snapshot
			stats.Skipped++
		}
	}

	return stats, nil
}

// UploadOne transfers one task and records the result. It returns the
// fetch URL, or an error wrapping ErrUploadFailed when the transfer or the
// document write fails. The transfer is not cancelled with ctx.
func (m *Manager) UploadOne(ctx context.Context, taskID string) (string, error) {
	task, ok := m.state.Task(taskID)
	if !ok {
		return "", ErrTaskNotFound
	}
	ins, ok := m.state.Inspection(task.InspectionID)
	if !ok {
		return "", ErrInspectionNotFound
	}
	if m.state.InFlight(taskID) {
		return "", ErrTaskInFlight
	}

	ctx = context.WithoutCancel(ctx)

	m.uploadMu.Lock()
	defer m.uploadMu.Unlock()

	task, err := m.state.ClaimTask(taskID)
	if err != nil {
		if errors.Is(err, state.ErrInvalidTransition) && task.Status == model.TaskStatusUploaded {
			return task.URL, nil
		}
		return "", err
	}
	m.persist(ctx, task.ID)
	m.notifier.BroadcastProgress(task)

	url, err := m.transfer(ctx, task)
	if err == nil {
		if _, ok := m.state.Task(taskID); !ok {
			// replaced by a retake while uploading; the retake owns the section.
			// MarkUploaded still releases the claim.
			_, _ = m.state.MarkUploaded(taskID, url)
			log.Printf("Upload %s finished after being replaced, document left to the retake", taskID)
			return url, nil
		}
		err = m.writeDocument(ctx, ins.DocID, task, url)
	}
	if err != nil {
		return "", m.fail(ctx, task, err)
	}

	done, err := m.state.MarkUploaded(taskID, url)
	if err != nil {
		// replaced after the document write; last write wins
		log.Printf("Upload %s finished but task was replaced: %v", taskID, err)
		return url, nil
	}

	uploadedAt := done.UpdatedAt
	img := model.SectionImage{
		Type:       string(task.MediaType),
		LocalPath:  task.LocalPath,
		URL:        url,
		Uploaded:   true,
		Remark:     task.Remark,
		UploadedAt: &uploadedAt,
		Sync:       model.SyncSynced,
	}
	if err := m.state.SetSectionImage(task.InspectionID, task.SectionKey, img); err != nil {
		log.Printf("Failed to update local section %s/%s: %v", task.InspectionID, task.SectionKey, err)
	}

	m.persist(ctx, taskID)
	m.notifier.BroadcastSynced(done)
	m.settle(taskID, nil)

	return url, nil
}

// Retry re-runs a failed task immediately
func (m *Manager) Retry(ctx context.Context, taskID string) (string, error) {
	task, ok := m.state.Task(taskID)
	if !ok {
		return "", ErrTaskNotFound
	}
	if task.Status != model.TaskStatusFailed {
		return "", fmt.Errorf("%w: task is %s", ErrNotRetryable, task.Status)
	}
	return m.UploadOne(ctx, taskID)
}

// Evict removes a task from the queue. Tasks with a transfer in flight stay.
func (m *Manager) Evict(ctx context.Context, taskID string) (model.UploadTask, error) {
	task, err := m.state.RemoveTask(taskID)
	if err != nil {
		return task, err
	}
	if m.persister != nil {
		m.persistMu.Lock()
		if err := m.persister.DeleteTask(ctx, taskID); err != nil {
			log.Printf("Failed to delete persisted task %s: %v", taskID, err)
		}
		m.persistMu.Unlock()
	}
	m.settle(taskID, fmt.Errorf("%w: evicted", ErrTaskNotFound))
	return task, nil
}

// Tasks returns the queue in order
func (m *Manager) Tasks() []model.UploadTask {
	return m.state.Tasks()
}

// Task returns one task
func (m *Manager) Task(taskID string) (model.UploadTask, bool) {
	return m.state.Task(taskID)
}

func (m *Manager) transfer(ctx context.Context, task model.UploadTask) (string, error) {
	f, size, err := m.media.Open(task.LocalPath)
	if err != nil {
		return "", fmt.Errorf("open media: %w", err)
	}
	defer f.Close()

	url, err := m.storage.Put(ctx, client.PutInput{
		Key:         task.ObjectKey(),
		Body:        f,
		Size:        size,
		ContentType: task.MediaType.ContentType(),
		OnProgress: func(transferred, total int64) {
			if t, ok := m.state.SetProgress(task.ID, model.Percent(transferred, total)); ok {
				m.notifier.BroadcastProgress(t)
			}
		},
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", task.ObjectKey(), err)
	}
	return url, nil
}

func (m *Manager) writeDocument(ctx context.Context, docID string, task model.UploadTask, url string) error {
	uploadedAt := m.now()
	img := model.SectionImage{
		Type:       string(task.MediaType),
		URL:        url,
		Uploaded:   true,
		Remark:     task.Remark,
		UploadedAt: &uploadedAt,
	}
	err := m.docs.Update(ctx, docID, map[string]any{
		"sections." + task.SectionKey + ".image": img.Fields(),
		"updatedAt": store.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("update document %s: %w", docID, err)
	}
	return nil
}

func (m *Manager) fail(ctx context.Context, task model.UploadTask, cause error) error {
	failed, err := m.state.MarkFailed(task.ID, cause)
	if err != nil {
		log.Printf("Failed to mark upload %s as failed: %v", task.ID, err)
	} else {
		m.persist(ctx, task.ID)
		m.notifier.BroadcastFailed(failed)
	}

	uerr := fmt.Errorf("%w: %w", ErrUploadFailed, cause)
	m.settle(task.ID, uerr)
	return uerr
}

// persist saves the task's current state. A task that has left the queue is
// not written back.
func (m *Manager) persist(ctx context.Context, taskID string) {
	if m.persister == nil {
		return
	}
	m.persistMu.Lock()
	defer m.persistMu.Unlock()

	task, ok := m.state.Task(taskID)
	if !ok {
		return
	}
	if err := m.persister.SaveTask(ctx, task); err != nil {
		log.Printf("Failed to persist upload task %s: %v", task.ID, err)
	}
}

type nopNotifier struct{}

func (nopNotifier) BroadcastCaptured(model.UploadTask) {}
func (nopNotifier) BroadcastProgress(model.UploadTask) {}
func (nopNotifier) BroadcastSynced(model.UploadTask)   {}
func (nopNotifier) BroadcastFailed(model.UploadTask)   {}
