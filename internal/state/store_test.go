package state

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/carzbazzar/api/internal/model"
)

func newTask(id, inspectionID, sectionKey string) model.UploadTask {
	now := time.Now()
	return model.UploadTask{
		ID:           id,
		InspectionID: inspectionID,
		SectionKey:   sectionKey,
		LocalPath:    "/media/" + id + ".jpg",
		MediaType:    model.MediaTypeImage,
		Status:       model.TaskStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func queueIDs(s *Store) string {
	var ids []string
	for _, t := range s.Tasks() {
		ids = append(ids, t.ID)
	}
	return strings.Join(ids, ",")
}

func TestUpsertTask_AppendsAndReplacesInSlot(t *testing.T) {
	s := New()

	for _, task := range []model.UploadTask{
		newTask("a", "insp1", "Front.bumper"),
		newTask("b", "insp1", "Rear.bumper"),
		newTask("c", "insp2", "Front.bumper"),
	} {
		if s.UpsertTask(task) {
			t.Fatalf("UpsertTask(%s) replaced a task", task.ID)
		}
	}

	if !s.UpsertTask(newTask("a2", "insp1", "Front.bumper")) {
		t.Error("expected same-slot task to be replaced")
	}
	if got := queueIDs(s); got != "a2,b,c" {
		t.Errorf("expected queue a2,b,c, got %s", got)
	}
	if _, ok := s.Task("a"); ok {
		t.Error("expected replaced task to be gone")
	}
}

func TestUpsertTask_ReplacesInFlightSlot(t *testing.T) {
	s := New()
	s.UpsertTask(newTask("a", "insp1", "Front.bumper"))
	if _, err := s.ClaimTask("a"); err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}

	if !s.UpsertTask(newTask("a2", "insp1", "Front.bumper")) {
		t.Fatal("expected in-flight slot to be replaced")
	}
	if got := queueIDs(s); got != "a2" {
		t.Errorf("expected queue a2, got %s", got)
	}

	// the old transfer settles against a task that is gone
	if _, err := s.MarkUploaded("a", "https://cdn/a.jpg"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
	if s.InFlight("a") {
		t.Error("expected in-flight mark cleared")
	}
	task, ok := s.Task("a2")
	if !ok || task.Status != model.TaskStatusPending {
		t.Errorf("expected replacement to stay pending, got %+v", task)
	}
}

func TestMarkUploaded_InvalidTransitionClearsInFlight(t *testing.T) {
	s := New()
	s.UpsertTask(newTask("a", "insp1", "Front.bumper"))
	_, _ = s.ClaimTask("a")
	_, _ = s.MarkUploaded("a", "u")

	// a second settle of the same transfer is refused but leaves nothing claimed
	if _, err := s.MarkFailed("a", errors.New("late")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
	if s.InFlight("a") {
		t.Error("expected in-flight mark cleared")
	}
}

func TestClaimTask(t *testing.T) {
	s := New()
	s.UpsertTask(newTask("a", "insp1", "Front.bumper"))

	task, err := s.ClaimTask("a")
	if err != nil {
		t.Fatalf("ClaimTask failed: %v", err)
	}
	if task.Status != model.TaskStatusUploading || task.Attempts != 1 || task.Progress != 0 {
		t.Errorf("unexpected claimed task: %+v", task)
	}
	if !s.InFlight("a") {
		t.Error("expected task in flight")
	}

	if _, err := s.ClaimTask("a"); !errors.Is(err, ErrTaskInFlight) {
		t.Errorf("expected second claim to fail with ErrTaskInFlight, got %v", err)
	}
	if _, err := s.ClaimTask("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestClaimTask_Concurrent(t *testing.T) {
	s := New()
	s.UpsertTask(newTask("a", "insp1", "Front.bumper"))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ClaimTask("a"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one claim to win, got %d", wins)
	}
}

func TestClaimTask_UploadedIsTerminal(t *testing.T) {
	s := New()
	s.UpsertTask(newTask("a", "insp1", "Front.bumper"))
	_, _ = s.ClaimTask("a")
	if _, err := s.MarkUploaded("a", "https://cdn/a.jpg"); err != nil {
		t.Fatalf("MarkUploaded failed: %v", err)
	}

	_, err := s.ClaimTask("a")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestSetProgress(t *testing.T) {
	s := New()
	s.UpsertTask(newTask("a", "insp1", "Front.bumper"))

	if _, ok := s.SetProgress("a", 40); ok {
		t.Error("expected progress to be ignored while pending")
	}

	_, _ = s.ClaimTask("a")
	tests := []struct {
		in   int
		want int
	}{
		{40, 40},
		{-5, 0},
		{250, 100},
	}
	for _, tt := range tests {
		task, ok := s.SetProgress("a", tt.in)
		if !ok || task.Progress != tt.want {
			t.Errorf("SetProgress(%d) = %d, %v; want %d", tt.in, task.Progress, ok, tt.want)
		}
	}
}

func TestMarkUploadedAndFailed(t *testing.T) {
	s := New()
	s.UpsertTask(newTask("a", "insp1", "Front.bumper"))
	s.UpsertTask(newTask("b", "insp1", "Rear.bumper"))

	if _, err := s.MarkUploaded("a", "u"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected pending -> uploaded to be refused, got %v", err)
	}

	_, _ = s.ClaimTask("a")
	up, err := s.MarkUploaded("a", "https://cdn/a.jpg")
	if err != nil {
		t.Fatalf("MarkUploaded failed: %v", err)
	}
	if !up.Uploaded || up.Progress != 100 || up.URL != "https://cdn/a.jpg" || s.InFlight("a") {
		t.Errorf("unexpected uploaded task: %+v", up)
	}

	_, _ = s.ClaimTask("b")
	_, _ = s.SetProgress("b", 70)
	failed, err := s.MarkFailed("b", errors.New(strings.Repeat("x", 600)))
	if err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	if failed.Status != model.TaskStatusFailed || failed.Progress != 0 || failed.Uploaded {
		t.Errorf("unexpected failed task: %+v", failed)
	}
	if len(failed.LastError) != 500 {
		t.Errorf("expected error truncated to 500 chars, got %d", len(failed.LastError))
	}

	retried, err := s.ClaimTask("b")
	if err != nil {
		t.Fatalf("expected failed task to be claimable: %v", err)
	}
	if retried.Attempts != 2 || retried.LastError != "" {
		t.Errorf("unexpected retried task: %+v", retried)
	}
}

func TestRunnable(t *testing.T) {
	s := New()
	for _, id := range []string{"a", "b", "c", "d"} {
		s.UpsertTask(newTask(id, "insp1", "S."+id))
	}
	_, _ = s.ClaimTask("a")
	_, _ = s.MarkUploaded("a", "u")
	_, _ = s.ClaimTask("b")
	_, _ = s.MarkFailed("b", errors.New("boom"))
	_, _ = s.ClaimTask("c")

	var ids []string
	for _, task := range s.Runnable() {
		ids = append(ids, task.ID)
	}
	if got := strings.Join(ids, ","); got != "b,c,d" {
		t.Errorf("expected runnable b,c,d, got %s", got)
	}
}

func TestRemoveTask(t *testing.T) {
	s := New()
	s.UpsertTask(newTask("a", "insp1", "Front.bumper"))
	s.UpsertTask(newTask("b", "insp1", "Rear.bumper"))
	_, _ = s.ClaimTask("b")

	if _, err := s.RemoveTask("b"); !errors.Is(err, ErrTaskInFlight) {
		t.Errorf("expected in-flight task to stay, got %v", err)
	}
	if _, err := s.RemoveTask("a"); err != nil {
		t.Errorf("RemoveTask failed: %v", err)
	}
	if _, err := s.RemoveTask("a"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
	if got := queueIDs(s); got != "b" {
		t.Errorf("expected queue b, got %s", got)
	}
}

func TestRestoreQueue(t *testing.T) {
	s := New()
	s.UpsertTask(newTask("old", "insp1", "Front.bumper"))
	_, _ = s.ClaimTask("old")

	uploading := newTask("a", "insp1", "Front.bumper")
	uploading.Status = model.TaskStatusUploading
	dup := newTask("a-dup", "insp1", "Front.bumper")
	s.RestoreQueue([]model.UploadTask{uploading, newTask("b", "insp1", "Rear.bumper"), dup})

	if got := queueIDs(s); got != "a-dup,b" {
		t.Errorf("expected restored queue a-dup,b, got %s", got)
	}
	if s.InFlight("old") {
		t.Error("expected nothing in flight after restore")
	}
}

func TestInspections(t *testing.T) {
	s := New()
	s.PutInspection(model.Inspection{InspectionID: "insp1"})
	s.PutInspection(model.Inspection{InspectionID: "insp2"})

	list := s.Inspections()
	if len(list) != 2 || list[0].InspectionID != "insp2" {
		t.Fatalf("expected newest first, got %+v", list)
	}

	img := model.SectionImage{Type: "image", LocalPath: "/m/a.jpg", Sync: model.SyncCaptured}
	if err := s.SetSectionImage("insp1", "Front.bumper", img); err != nil {
		t.Fatalf("SetSectionImage failed: %v", err)
	}
	got, ok := s.SectionImage("insp1", "Front.bumper")
	if !ok || got.LocalPath != "/m/a.jpg" || got.Sync != model.SyncCaptured {
		t.Errorf("unexpected section image: %+v", got)
	}

	// copies must not alias internal state
	ins, _ := s.Inspection("insp1")
	ins.Sections["Front"] = "mutated"
	if _, ok := s.SectionImage("insp1", "Front.bumper"); !ok {
		t.Error("expected stored sections to be unaffected by caller mutation")
	}

	if err := s.MergeSection("insp1", "carDetails", map[string]any{"make": "Honda"}); err != nil {
		t.Fatalf("MergeSection failed: %v", err)
	}
	if err := s.SetSectionImage("missing", "Front.bumper", img); !errors.Is(err, ErrInspectionNotFound) {
		t.Errorf("expected ErrInspectionNotFound, got %v", err)
	}

	if !s.RemoveInspection("insp1") || s.RemoveInspection("insp1") {
		t.Error("expected RemoveInspection to succeed once")
	}
}
