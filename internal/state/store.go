// Package state holds the session's application state: inspections known
// locally and the ordered media upload queue.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carzbazzar/api/internal/model"
	"github.com/carzbazzar/api/pkg/fieldpath"
)

var (
	ErrInspectionNotFound = errors.New("inspection not found")
	ErrTaskNotFound       = errors.New("upload task not found")
	ErrTaskInFlight       = errors.New("upload task already in flight")
	ErrInvalidTransition  = errors.New("invalid task status transition")
)

// Store is safe for concurrent use. Every accessor returns copies.
type Store struct {
	mu sync.RWMutex

	inspections map[string]*model.Inspection
	allIDs      []string // newest first

	queue    []*model.UploadTask
	inFlight map[string]bool

	now func() time.Time
}

// New creates an empty state store
func New() *Store {
	return &Store{
		inspections: make(map[string]*model.Inspection),
		inFlight:    make(map[string]bool),
		now:         time.Now,
	}
}

// ─── Inspections ───

// PutInspection adds or replaces an inspection
func (s *Store) PutInspection(ins model.Inspection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := copyInspection(&ins)
	if c.Sections == nil {
		c.Sections = make(map[string]any)
	}
	if _, ok := s.inspections[ins.InspectionID]; !ok {
		s.allIDs = append([]string{ins.InspectionID}, s.allIDs...)
	}
	s.inspections[ins.InspectionID] = c
}

// SetAll replaces every inspection, keeping the given order
func (s *Store) SetAll(list []model.Inspection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inspections = make(map[string]*model.Inspection, len(list))
	s.allIDs = s.allIDs[:0]
	for i := range list {
		c := copyInspection(&list[i])
		if c.Sections == nil {
			c.Sections = make(map[string]any)
		}
		s.inspections[c.InspectionID] = c
		s.allIDs = append(s.allIDs, c.InspectionID)
	}
}

// Inspection returns a copy of one inspection
func (s *Store) Inspection(inspectionID string) (model.Inspection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ins, ok := s.inspections[inspectionID]
	if !ok {
		return model.Inspection{}, false
	}
	return *copyInspection(ins), true
}

// Inspections returns all inspections, newest first
func (s *Store) Inspections() []model.Inspection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Inspection, 0, len(s.allIDs))
	for _, id := range s.allIDs {
		out = append(out, *copyInspection(s.inspections[id]))
	}
	return out
}

// RemoveInspection drops an inspection from local state
func (s *Store) RemoveInspection(inspectionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.inspections[inspectionID]; !ok {
		return false
	}
	delete(s.inspections, inspectionID)
	for i, id := range s.allIDs {
		if id == inspectionID {
			s.allIDs = append(s.allIDs[:i], s.allIDs[i+1:]...)
			break
		}
	}
	return true
}

// MergeSection merges data into sections[sectionKey]
func (s *Store) MergeSection(inspectionID, sectionKey string, data map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ins, ok := s.inspections[inspectionID]
	if !ok {
		return ErrInspectionNotFound
	}
	if err := fieldpath.Merge(ins.Sections, sectionKey, data); err != nil {
		return fmt.Errorf("merge section %q: %w", sectionKey, err)
	}
	ins.UpdatedAt = s.now()
	return nil
}

// SetSectionImage replaces sections[sectionKey].image
func (s *Store) SetSectionImage(inspectionID, sectionKey string, img model.SectionImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ins, ok := s.inspections[inspectionID]
	if !ok {
		return ErrInspectionNotFound
	}
	if err := fieldpath.Set(ins.Sections, sectionKey+".image", img.Fields()); err != nil {
		return fmt.Errorf("set section %q: %w", sectionKey, err)
	}
	ins.UpdatedAt = s.now()
	return nil
}

// SectionImage reads sections[sectionKey].image
func (s *Store) SectionImage(inspectionID, sectionKey string) (model.SectionImage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ins, ok := s.inspections[inspectionID]
	if !ok {
		return model.SectionImage{}, false
	}
	v, ok := fieldpath.Get(ins.Sections, sectionKey+".image")
	if !ok {
		return model.SectionImage{}, false
	}
	fields, ok := v.(map[string]any)
	if !ok {
		return model.SectionImage{}, false
	}
	return model.SectionImageFrom(fields), true
}

// ─── Upload queue ───

// UpsertTask inserts a task or replaces, in its slot, the task with the same
// id or the same (inspectionId, sectionKey). It reports whether a task was
// replaced. A replaced task with a transfer in flight leaves the queue at
// once; its transfer finishes against a task that is gone.
func (s *Store) UpsertTask(task model.UploadTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := task
	idx := -1
	for i, q := range s.queue {
		if q.ID == task.ID || q.SameSlot(&c) {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.queue = append(s.queue, &c)
		return false
	}
	s.queue[idx] = &c
	// A duplicate for the same slot further down the queue can only come
	// from restored state; drop it so the slot stays unique.
	for i := len(s.queue) - 1; i > idx; i-- {
		if s.queue[i].ID == c.ID || s.queue[i].SameSlot(&c) {
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
		}
	}
	return true
}

// Task returns a copy of one task
func (s *Store) Task(taskID string) (model.UploadTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t := s.find(taskID); t != nil {
		return *t, true
	}
	return model.UploadTask{}, false
}

// Tasks returns the queue in order
func (s *Store) Tasks() []model.UploadTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.UploadTask, 0, len(s.queue))
	for _, t := range s.queue {
		out = append(out, *t)
	}
	return out
}

// Runnable returns, in queue order, the tasks processQueue selects
func (s *Store) Runnable() []model.UploadTask {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.UploadTask
	for _, t := range s.queue {
		if t.Status.Runnable() {
			out = append(out, *t)
		}
	}
	return out
}

// InFlight reports whether a transfer is running for the task
func (s *Store) InFlight(taskID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight[taskID]
}

// ClaimTask moves a runnable task to uploading and marks it in flight. The
// check and the transition happen under one lock, so concurrent callers
// cannot both claim the same task.
func (s *Store) ClaimTask(taskID string) (model.UploadTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.find(taskID)
	if t == nil {
		return model.UploadTask{}, ErrTaskNotFound
	}
	if s.inFlight[taskID] {
		return *t, ErrTaskInFlight
	}
	if !t.Status.CanTransition(model.TaskStatusUploading) {
		return *t, fmt.Errorf("%s -> %s: %w", t.Status, model.TaskStatusUploading, ErrInvalidTransition)
	}
	t.Status = model.TaskStatusUploading
	t.Attempts++
	t.Progress = 0
	t.LastError = ""
	t.UpdatedAt = s.now()
	s.inFlight[taskID] = true
	return *t, nil
}

// SetProgress records transfer progress for an uploading task
func (s *Store) SetProgress(taskID string, progress int) (model.UploadTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.find(taskID)
	if t == nil || t.Status != model.TaskStatusUploading {
		return model.UploadTask{}, false
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	t.Progress = progress
	return *t, true
}

// MarkUploaded finishes a transfer successfully
func (s *Store) MarkUploaded(taskID, url string) (model.UploadTask, error) {
	return s.finish(taskID, model.TaskStatusUploaded, func(t *model.UploadTask) {
		t.Uploaded = true
		t.Progress = 100
		t.URL = url
		t.LastError = ""
	})
}

// MarkFailed finishes a transfer with an error
func (s *Store) MarkFailed(taskID string, cause error) (model.UploadTask, error) {
	return s.finish(taskID, model.TaskStatusFailed, func(t *model.UploadTask) {
		t.Progress = 0
		if cause != nil {
			msg := cause.Error()
			if len(msg) > 500 {
				msg = msg[:500]
			}
			t.LastError = msg
		}
	})
}

func (s *Store) finish(taskID string, to model.TaskStatus, apply func(*model.UploadTask)) (model.UploadTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The transfer is over whatever the outcome.
	delete(s.inFlight, taskID)

	t := s.find(taskID)
	if t == nil {
		return model.UploadTask{}, ErrTaskNotFound
	}
	if !t.Status.CanTransition(to) {
		return *t, fmt.Errorf("%s -> %s: %w", t.Status, to, ErrInvalidTransition)
	}
	t.Status = to
	apply(t)
	t.UpdatedAt = s.now()
	return *t, nil
}

// RemoveTask evicts a task that is not in flight
func (s *Store) RemoveTask(taskID string) (model.UploadTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.queue {
		if t.ID != taskID {
			continue
		}
		if s.inFlight[taskID] {
			return *t, ErrTaskInFlight
		}
		s.queue = append(s.queue[:i], s.queue[i+1:]...)
		return *t, nil
	}
	return model.UploadTask{}, ErrTaskNotFound
}

// RestoreQueue loads a persisted queue. Nothing is in flight after a restore.
func (s *Store) RestoreQueue(tasks []model.UploadTask) {
	s.mu.Lock()
	s.queue = s.queue[:0]
	s.inFlight = make(map[string]bool)
	s.mu.Unlock()

	for _, t := range tasks {
		s.UpsertTask(t)
	}
}

func (s *Store) find(taskID string) *model.UploadTask {
	for _, t := range s.queue {
		if t.ID == taskID {
			return t
		}
	}
	return nil
}

func copyInspection(in *model.Inspection) *model.Inspection {
	c := *in
	c.Sections = fieldpath.CloneMap(in.Sections)
	return &c
}
