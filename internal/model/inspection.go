package model

import "time"

// Inspection status
type InspectionStatus string

const (
	InspectionStatusInspecting InspectionStatus = "inspecting"
	InspectionStatusApproved   InspectionStatus = "approved"
	InspectionStatusCompleted  InspectionStatus = "completed"
	InspectionStatusPurchased  InspectionStatus = "purchased"
)

// Section sync states
type SyncState string

const (
	// SyncCaptured marks media accepted locally but not yet confirmed remotely.
	SyncCaptured SyncState = "captured"
	SyncSynced   SyncState = "synced"
)

// Section image types besides the media types
const SectionTypeChoice = "choice"

// CarDetailsSection is the section key of the car details form
const CarDetailsSection = "carDetails"

// Inspection is one vehicle inspection in progress or completed.
type Inspection struct {
	DocID        string           `json:"docId"`
	InspectionID string           `json:"inspectionId"`
	ApptID       string           `json:"apptId"`
	UserID       string           `json:"userId"`
	OwnerName    string           `json:"ownerName"`
	OwnerAddress string           `json:"ownerAddress"`
	PhoneNumber  string           `json:"phoneNumber"`
	RCFront      string           `json:"rcFront,omitempty"`
	RCBack       string           `json:"rcBack,omitempty"`
	Status       InspectionStatus `json:"status"`
	Sections     map[string]any   `json:"sections"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// SectionImage is the media or choice result stored at sections.<key>.image
type SectionImage struct {
	Type       string     `json:"type"`
	LocalPath  string     `json:"localPath,omitempty"`
	URL        string     `json:"url,omitempty"`
	Uploaded   bool       `json:"uploaded"`
	Remark     string     `json:"remark"`
	UploadedAt *time.Time `json:"uploadedAt,omitempty"`
	Sync       SyncState  `json:"sync,omitempty"`
}

// Fields converts the image into the map stored inside sections.
func (s SectionImage) Fields() map[string]any {
	fields := map[string]any{
		"type":     s.Type,
		"uploaded": s.Uploaded,
		"remark":   s.Remark,
	}
	if s.LocalPath != "" {
		fields["localPath"] = s.LocalPath
	}
	if s.URL != "" {
		fields["url"] = s.URL
	}
	if s.UploadedAt != nil {
		fields["uploadedAt"] = s.UploadedAt.UTC().Format(time.RFC3339Nano)
	}
	if s.Sync != "" {
		fields["sync"] = string(s.Sync)
	}
	return fields
}

// SectionImageFrom reads an image back from its stored map form.
func SectionImageFrom(fields map[string]any) SectionImage {
	var img SectionImage
	img.Type, _ = fields["type"].(string)
	img.LocalPath, _ = fields["localPath"].(string)
	img.URL, _ = fields["url"].(string)
	img.Uploaded, _ = fields["uploaded"].(bool)
	img.Remark, _ = fields["remark"].(string)
	if s, ok := fields["sync"].(string); ok {
		img.Sync = SyncState(s)
	}
	switch v := fields["uploadedAt"].(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			img.UploadedAt = &ts
		}
	case time.Time:
		img.UploadedAt = &v
	}
	return img
}

// Owner holds the vehicle owner's contact details
type Owner struct {
	Name    string `json:"name" validate:"required,max=200"`
	Address string `json:"address" validate:"max=500"`
	Phone   string `json:"phone" validate:"required,max=20"`
}

// CreateInspectionRequest represents the request to open a new inspection
type CreateInspectionRequest struct {
	Owner   Owner  `json:"owner" validate:"required"`
	RCFront string `json:"rcFront" validate:"omitempty,url"`
	RCBack  string `json:"rcBack" validate:"omitempty,url"`
}

// SaveSectionRequest stores a choice/remark result without media
type SaveSectionRequest struct {
	Remark string `json:"remark" validate:"max=1000"`
}

// SaveCarDetailsRequest stores the car details form
type SaveCarDetailsRequest struct {
	Fields      map[string]any `json:"fields" validate:"required"`
	MainImageID string         `json:"mainImageId,omitempty"`
}

// InspectionListResponse lists inspections newest first
type InspectionListResponse struct {
	Inspections []Inspection `json:"inspections"`
	Total       int          `json:"total"`
}
