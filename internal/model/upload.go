package model

import (
	"fmt"
	"time"
)

// Media types
type MediaType string

const (
	MediaTypeImage MediaType = "image"
	MediaTypeVideo MediaType = "video"
)

// Ext returns the file extension used for local copies and object keys.
func (t MediaType) Ext() string {
	if t == MediaTypeVideo {
		return "mp4"
	}
	return "jpg"
}

// ContentType returns the MIME type sent to object storage.
func (t MediaType) ContentType() string {
	if t == MediaTypeVideo {
		return "video/mp4"
	}
	return "image/jpeg"
}

// Upload task status
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusUploading TaskStatus = "uploading"
	TaskStatusUploaded  TaskStatus = "uploaded"
	TaskStatusFailed    TaskStatus = "failed"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:   {TaskStatusUploading},
	TaskStatusUploading: {TaskStatusUploading, TaskStatusUploaded, TaskStatusFailed},
	TaskStatusFailed:    {TaskStatusUploading},
}

// CanTransition reports whether the state machine allows moving from s to next.
// uploading -> uploading only happens when a task restored after a restart is re-claimed.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Runnable reports whether processQueue selects a task in this status.
func (s TaskStatus) Runnable() bool {
	return s == TaskStatusPending || s == TaskStatusFailed || s == TaskStatusUploading
}

// Terminal reports whether a waiter settles on this status.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusUploaded || s == TaskStatusFailed
}

// UploadTask is one media item awaiting or undergoing transfer.
type UploadTask struct {
	ID           string     `json:"id"`
	InspectionID string     `json:"inspectionId"`
	SectionKey   string     `json:"sectionKey"`
	LocalPath    string     `json:"localPath"`
	MediaType    MediaType  `json:"type"`
	Remark       string     `json:"remark"`
	Status       TaskStatus `json:"status"`
	Attempts     int        `json:"attempts"`
	Progress     int        `json:"progress"`
	Uploaded     bool       `json:"uploaded"`
	URL          string     `json:"url,omitempty"`
	LastError    string     `json:"lastError,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// SameSlot reports whether two tasks target the same inspection section.
func (t *UploadTask) SameSlot(other *UploadTask) bool {
	return t.InspectionID == other.InspectionID && t.SectionKey == other.SectionKey
}

// ObjectKey returns the remote storage key for a task. It depends only on
// the inspection, section and task id so retries overwrite the same object.
func ObjectKey(inspectionID, sectionKey, taskID string, mediaType MediaType) string {
	return fmt.Sprintf("%s/%s/%s.%s", inspectionID, sectionKey, taskID, mediaType.Ext())
}

// ObjectKey returns the storage key for this task.
func (t *UploadTask) ObjectKey() string {
	return ObjectKey(t.InspectionID, t.SectionKey, t.ID, t.MediaType)
}

// Percent converts transferred bytes into a 0-100 progress value.
func Percent(transferred, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int((float64(transferred)/float64(total))*100 + 0.5)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// CaptureMediaRequest holds the form fields sent with a captured photo/video
type CaptureMediaRequest struct {
	SectionKey string    `validate:"required,max=200"`
	MediaType  MediaType `validate:"required,oneof=image video"`
	Remark     string    `validate:"max=1000"`
}

// CaptureMediaResponse represents the response for a captured media item
type CaptureMediaResponse struct {
	Task     UploadTask `json:"task"`
	Replaced bool       `json:"replaced"`
}

// UploadQueueResponse lists the queue in order
type UploadQueueResponse struct {
	Tasks []UploadTask `json:"tasks"`
	Total int          `json:"total"`
}

// ProcessQueueResponse reports a triggered processing run
type ProcessQueueResponse struct {
	Queued bool `json:"queued"`
}
