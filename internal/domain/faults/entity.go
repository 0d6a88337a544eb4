package faults

import "time"

// Phase names the step that failed.
const (
	PhaseLoad     = "load"     // image buffer could not be fetched
	PhaseDescribe = "describe" // vision describer failed for one image
	PhaseReport   = "report"   // batched report call failed
	PhaseOverflow = "overflow" // image fell past the batch cap
)

// Fault is one recorded analysis failure. It makes the retry set explicit:
// listing a session's faults shows exactly which images were skipped or
// degraded and why.
type Fault struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"sessionId"`
	ImageID   string    `json:"imageId,omitempty"`
	Phase     string    `json:"phase"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}
