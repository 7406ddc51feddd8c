package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/carzbazzar/api/internal/client"
	"github.com/carzbazzar/api/internal/media"
	"github.com/carzbazzar/api/internal/model"
	"github.com/carzbazzar/api/internal/queue"
	"github.com/carzbazzar/api/internal/state"
	"github.com/carzbazzar/api/internal/store"
)

var (
	ErrUploadsPending = errors.New("inspection has uploads that are not finished")
	ErrInvalidField   = errors.New("invalid field name")
)

// InspectionService handles inspections and their section data
type InspectionService struct {
	state   *state.Store
	docs    store.DocumentStore
	storage client.ObjectStorage
	manager *queue.Manager
	uploads *UploadService
	trigger ProcessTrigger
	now     func() time.Time
}

func NewInspectionService(
	st *state.Store,
	docs store.DocumentStore,
	storage client.ObjectStorage,
	manager *queue.Manager,
	uploads *UploadService,
	trigger ProcessTrigger,
) *InspectionService {
	return &InspectionService{
		state:   st,
		docs:    docs,
		storage: storage,
		manager: manager,
		uploads: uploads,
		trigger: trigger,
		now:     time.Now,
	}
}

// Load fills local state with every open inspection from the document store
func (s *InspectionService) Load(ctx context.Context) (int, error) {
	list, err := s.docs.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list inspections: %w", err)
	}

	open := make([]model.Inspection, 0, len(list))
	for _, ins := range list {
		if ins.Status == model.InspectionStatusCompleted {
			continue
		}
		open = append(open, ins)
	}
	s.state.SetAll(open)
	return len(open), nil
}

// Create opens a new inspection for the inspector
func (s *InspectionService) Create(ctx context.Context, userID string, req *model.CreateInspectionRequest) (*model.Inspection, error) {
	now := s.now()
	ms := now.UnixMilli()
	for {
		if _, taken := s.state.Inspection("ins_" + strconv.FormatInt(ms, 10)); !taken {
			break
		}
		ms++
	}
	millis := strconv.FormatInt(ms, 10)

	ins := &model.Inspection{
		InspectionID: "ins_" + millis,
		ApptID:       millis[max(0, len(millis)-10):],
		UserID:       userID,
		OwnerName:    req.Owner.Name,
		OwnerAddress: req.Owner.Address,
		PhoneNumber:  req.Owner.Phone,
		RCFront:      req.RCFront,
		RCBack:       req.RCBack,
		Status:       model.InspectionStatusInspecting,
		Sections:     map[string]any{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	docID, err := s.docs.Create(ctx, ins)
	if err != nil {
		return nil, fmt.Errorf("failed to create inspection: %w", err)
	}
	ins.DocID = docID

	s.state.PutInspection(*ins)
	return ins, nil
}

func (s *InspectionService) Get(inspectionID string) (*model.Inspection, error) {
	ins, ok := s.state.Inspection(inspectionID)
	if !ok {
		return nil, queue.ErrInspectionNotFound
	}
	return &ins, nil
}

// List returns local inspections, newest first
func (s *InspectionService) List() *model.InspectionListResponse {
	list := s.state.Inspections()
	return &model.InspectionListResponse{Inspections: list, Total: len(list)}
}

// Delete removes an inspection, its queued uploads and its remote objects
func (s *InspectionService) Delete(ctx context.Context, inspectionID string) error {
	ins, ok := s.state.Inspection(inspectionID)
	if !ok {
		return queue.ErrInspectionNotFound
	}

	var tasks []model.UploadTask
	for _, task := range s.manager.Tasks() {
		if task.InspectionID != inspectionID {
			continue
		}
		if s.state.InFlight(task.ID) {
			return fmt.Errorf("evict %s: %w", task.ID, queue.ErrTaskInFlight)
		}
		tasks = append(tasks, task)
	}

	for _, task := range tasks {
		if err := s.uploads.Evict(ctx, task.ID); err != nil {
			return fmt.Errorf("evict %s: %w", task.ID, err)
		}
		if task.Status == model.TaskStatusUploaded {
			if err := s.storage.Delete(ctx, task.ObjectKey()); err != nil {
				log.Printf("Failed to delete object %s: %v", task.ObjectKey(), err)
			}
		}
	}

	if err := s.docs.Delete(ctx, ins.DocID); err != nil && !errors.Is(err, store.ErrDocumentNotFound) {
		return fmt.Errorf("failed to delete inspection: %w", err)
	}
	s.state.RemoveInspection(inspectionID)
	return nil
}

// Complete marks the inspection completed once all its uploads are done
func (s *InspectionService) Complete(ctx context.Context, inspectionID string) (*model.Inspection, error) {
	ins, ok := s.state.Inspection(inspectionID)
	if !ok {
		return nil, queue.ErrInspectionNotFound
	}

	for _, task := range s.manager.Tasks() {
		if task.InspectionID == inspectionID && task.Status != model.TaskStatusUploaded {
			return nil, fmt.Errorf("%w: %s is %s", ErrUploadsPending, task.SectionKey, task.Status)
		}
	}

	err := s.docs.Update(ctx, ins.DocID, map[string]any{
		"status":    string(model.InspectionStatusCompleted),
		"updatedAt": store.ServerTimestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to complete inspection: %w", err)
	}

	s.state.RemoveInspection(inspectionID)
	ins.Status = model.InspectionStatusCompleted
	return &ins, nil
}

// SaveSection records a choice-only result for a section. A capture still
// queued for the same section is dropped.
func (s *InspectionService) SaveSection(ctx context.Context, inspectionID, sectionKey string, req *model.SaveSectionRequest) (*model.Inspection, error) {
	if err := media.ValidateSectionKey(sectionKey); err != nil {
		return nil, err
	}
	ins, ok := s.state.Inspection(inspectionID)
	if !ok {
		return nil, queue.ErrInspectionNotFound
	}

	for _, task := range s.manager.Tasks() {
		if task.InspectionID == inspectionID && task.SectionKey == sectionKey && task.Status != model.TaskStatusUploaded {
			if err := s.uploads.Evict(ctx, task.ID); err != nil {
				return nil, err
			}
		}
	}

	img := model.SectionImage{
		Type:     model.SectionTypeChoice,
		Uploaded: true,
		Remark:   req.Remark,
	}
	err := s.docs.Update(ctx, ins.DocID, map[string]any{
		"sections." + sectionKey + ".image": img.Fields(),
		"updatedAt":                         store.ServerTimestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save section: %w", err)
	}

	img.Sync = model.SyncSynced
	if err := s.state.SetSectionImage(inspectionID, sectionKey, img); err != nil {
		return nil, err
	}
	return s.Get(inspectionID)
}

// awaitMainImage waits for the main image upload. A failed upload is retried
// once in place; a pending or uploading one is left to the queue.
func (s *InspectionService) awaitMainImage(ctx context.Context, task model.UploadTask) error {
	switch task.Status {
	case model.TaskStatusUploaded:
		return nil
	case model.TaskStatusFailed:
		_, err := s.manager.Retry(ctx, task.ID)
		if !errors.Is(err, queue.ErrNotRetryable) && !errors.Is(err, queue.ErrTaskInFlight) {
			return err
		}
		// picked up by a queue run in the meantime
	}

	if err := s.trigger.Trigger(ctx); err != nil {
		log.Printf("Failed to trigger upload processing: %v", err)
	}
	_, err := s.manager.AwaitTaskSettled(ctx, task.ID, 0)
	return err
}

// SaveCarDetails stores the car details form. When the form references a
// main image that is not uploaded yet, the save waits for that upload (retrying
// it first if it had failed) and is refused if it does not succeed.
func (s *InspectionService) SaveCarDetails(ctx context.Context, inspectionID string, req *model.SaveCarDetailsRequest) (*model.Inspection, error) {
	ins, ok := s.state.Inspection(inspectionID)
	if !ok {
		return nil, queue.ErrInspectionNotFound
	}

	fields := make(map[string]any, len(req.Fields))
	for k, v := range req.Fields {
		if k == "" || strings.Contains(k, ".") {
			return nil, fmt.Errorf("%w: %q", ErrInvalidField, k)
		}
		if k == "image" {
			continue
		}
		fields[k] = v
	}

	if req.MainImageID != "" {
		task, ok := s.manager.Task(req.MainImageID)
		if !ok {
			return nil, queue.ErrTaskNotFound
		}
		if err := s.awaitMainImage(ctx, task); err != nil {
			return nil, err
		}
	}

	update := map[string]any{"updatedAt": store.ServerTimestamp}
	for k, v := range fields {
		update["sections."+model.CarDetailsSection+"."+k] = v
	}
	if err := s.docs.Update(ctx, ins.DocID, update); err != nil {
		return nil, fmt.Errorf("failed to save car details: %w", err)
	}

	if err := s.state.MergeSection(inspectionID, model.CarDetailsSection, fields); err != nil {
		return nil, err
	}
	return s.Get(inspectionID)
}
