package sessions

import (
	"time"

	"github.com/bryanwahyu/homeguard/internal/domain/assessment"
)

// Status enum, shared by sessions and images
type Status string

const (
	StatusPending   Status = "pending"
	StatusAnalyzing Status = "analyzing"
	StatusComplete  Status = "complete"
	StatusError     Status = "error"

	// StatusCompleteUnscored marks an image that was part of a successful
	// batch but fell past the per-call cap, so no individual findings exist
	// for it. Kept distinct from StatusComplete on purpose.
	StatusCompleteUnscored Status = "complete_unscored"
)

// Aggregate Root: Session
type Session struct {
	ID             string                     `json:"id"`
	CreatedAt      time.Time                  `json:"createdAt"`
	ExpiresAt      time.Time                  `json:"expiresAt"`
	Location       string                     `json:"location,omitempty"`
	AnalysisStatus Status                     `json:"analysisStatus"`
	Images         []*Image                   `json:"images"`
	Report         *assessment.SecurityReport `json:"report,omitempty"`
}

// Image is one uploaded photo. ParentImageID empty means primary; set, it
// points at a primary in the same session (nesting depth is at most 1).
type Image struct {
	ID               string                    `json:"id"`
	SessionID        string                    `json:"sessionId"`
	ParentImageID    string                    `json:"parentImageId,omitempty"`
	OriginalFilename string                    `json:"originalFilename"`
	StoragePath      string                    `json:"-"`
	ThumbnailPath    string                    `json:"-"`
	OriginalURL      string                    `json:"originalUrl"`
	ThumbnailURL     string                    `json:"thumbnailUrl"`
	UploadedAt       time.Time                 `json:"uploadedAt"`
	AnalysisStatus   Status                    `json:"analysisStatus"`
	Analysis         *assessment.ImageAnalysis `json:"analysis,omitempty"`
	LastError        string                    `json:"lastError,omitempty"`
}

// FindImage returns the image with the given id, or nil.
func (s *Session) FindImage(id string) *Image {
	for _, img := range s.Images {
		if img.ID == id {
			return img
		}
	}
	return nil
}

// ImagesInStatus returns the images currently in the given status,
// insertion order preserved.
func (s *Session) ImagesInStatus(st Status) []*Image {
	var out []*Image
	for _, img := range s.Images {
		if img.AnalysisStatus == st {
			out = append(out, img)
		}
	}
	return out
}

// Expired reports whether the session is past its TTL at the given instant.
// Every store implementation must use this same predicate.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Clone deep-copies the session and its image list. Analysis and Report
// pointers are shared; both are treated as immutable once attached.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Images = make([]*Image, len(s.Images))
	for i, img := range s.Images {
		ic := *img
		cp.Images[i] = &ic
	}
	return &cp
}

// SessionPatch holds partial session updates; nil fields are left unchanged.
type SessionPatch struct {
	Location       *string
	AnalysisStatus *Status
	Report         *assessment.SecurityReport
}

// ImagePatch holds partial image updates; nil fields are left unchanged.
type ImagePatch struct {
	AnalysisStatus *Status
	Analysis       *assessment.ImageAnalysis
	LastError      *string
}
