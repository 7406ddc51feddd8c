package model

// WebSocket message types
const (
	WSMessageTypeCaptured = "captured"
	WSMessageTypeProgress = "progress"
	WSMessageTypeSynced   = "synced"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// WSTaskMessage carries a task state change to inspection subscribers
type WSTaskMessage struct {
	Type         string     `json:"type"`
	InspectionID string     `json:"inspectionId"`
	TaskID       string     `json:"taskId"`
	SectionKey   string     `json:"sectionKey"`
	Status       TaskStatus `json:"status"`
	Progress     int        `json:"progress"`
	URL          string     `json:"url,omitempty"`
}

// WSErrorMessage represents a failed upload
type WSErrorMessage struct {
	Type         string  `json:"type"`
	InspectionID string  `json:"inspectionId"`
	TaskID       string  `json:"taskId"`
	Error        WSError `json:"error"`
}

// WSError represents error details
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
