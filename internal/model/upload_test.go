package model

import (
	"testing"
	"time"
)

func TestTaskStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskStatusPending, TaskStatusUploading, true},
		{TaskStatusPending, TaskStatusUploaded, false},
		{TaskStatusPending, TaskStatusFailed, false},
		{TaskStatusUploading, TaskStatusUploaded, true},
		{TaskStatusUploading, TaskStatusFailed, true},
		{TaskStatusUploading, TaskStatusUploading, true},
		{TaskStatusUploading, TaskStatusPending, false},
		{TaskStatusFailed, TaskStatusUploading, true},
		{TaskStatusFailed, TaskStatusUploaded, false},
		{TaskStatusUploaded, TaskStatusUploading, false},
		{TaskStatusUploaded, TaskStatusFailed, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v; want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	for status, want := range map[TaskStatus]bool{
		TaskStatusPending:   false,
		TaskStatusUploading: false,
		TaskStatusUploaded:  true,
		TaskStatusFailed:    true,
	} {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v; want %v", status, got, want)
		}
	}
}

func TestObjectKey(t *testing.T) {
	task := UploadTask{ID: "t1", InspectionID: "ins_1", SectionKey: "Front.frontBumper", MediaType: MediaTypeImage}
	if got := task.ObjectKey(); got != "ins_1/Front.frontBumper/t1.jpg" {
		t.Errorf("unexpected object key %q", got)
	}

	task.MediaType = MediaTypeVideo
	if got := task.ObjectKey(); got != "ins_1/Front.frontBumper/t1.mp4" {
		t.Errorf("unexpected video object key %q", got)
	}
}

func TestPercent(t *testing.T) {
	tests := []struct {
		done, total int64
		want        int
	}{
		{0, 0, 0},
		{5, 0, 0},
		{0, 10, 0},
		{1, 3, 33},
		{2, 3, 67},
		{10, 10, 100},
		{20, 10, 100},
	}
	for _, tt := range tests {
		if got := Percent(tt.done, tt.total); got != tt.want {
			t.Errorf("Percent(%d, %d) = %d; want %d", tt.done, tt.total, got, tt.want)
		}
	}
}

func TestSectionImage_RoundTrip(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	img := SectionImage{
		Type:       "image",
		URL:        "https://cdn/a.jpg",
		Uploaded:   true,
		Remark:     "scratch",
		UploadedAt: &at,
		Sync:       SyncSynced,
	}

	fields := img.Fields()
	if _, ok := fields["localPath"]; ok {
		t.Error("expected empty localPath to be omitted")
	}

	got := SectionImageFrom(fields)
	if got.URL != img.URL || !got.Uploaded || got.Remark != "scratch" || got.Sync != SyncSynced {
		t.Errorf("unexpected image: %+v", got)
	}
	if got.UploadedAt == nil || !got.UploadedAt.Equal(at) {
		t.Errorf("expected uploadedAt %v, got %v", at, got.UploadedAt)
	}
}
