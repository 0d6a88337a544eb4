package assessment

// RiskLevel is the 3-level qualitative band derived from a numeric score.
type RiskLevel string

const (
	RiskHigh   RiskLevel = "high"
	RiskMedium RiskLevel = "medium"
	RiskLow    RiskLevel = "low"
)

// LevelForScore maps a score in [1,10] to its band.
// Low scores mean high risk: 1 is the worst, 10 the most secure.
func LevelForScore(score float64) RiskLevel {
	switch {
	case score <= 3:
		return RiskHigh
	case score <= 6:
		return RiskMedium
	default:
		return RiskLow
	}
}

// LevelWeight returns the aggregation weight for a band. Riskier images
// pull harder on a combined score.
func LevelWeight(l RiskLevel) float64 {
	switch l {
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1.5
	default:
		return 1
	}
}

// Tag is a vision-model label with confidence.
type Tag struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// BoundingBox in pixel coordinates of the original image.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DetectedObject is a vision-model object detection.
type DetectedObject struct {
	Name       string       `json:"name"`
	Confidence float64      `json:"confidence"`
	Box        *BoundingBox `json:"box,omitempty"`
}

// Signals are the raw per-image inputs to the heuristic scorer.
type Signals struct {
	Caption         string           `json:"caption"`
	Tags            []Tag            `json:"tags"`
	DetectedObjects []DetectedObject `json:"detectedObjects"`
}

// ImageAnalysis is the heuristic per-image result.
type ImageAnalysis struct {
	Caption         string           `json:"caption"`
	Tags            []Tag            `json:"tags"`
	DetectedObjects []DetectedObject `json:"detectedObjects"`
	RiskScore       float64          `json:"riskScore"` // [1,10], 1 = high risk
	RiskLevel       RiskLevel        `json:"riskLevel"`
	RiskNotes       []string         `json:"riskNotes"`
	Recommendations []string         `json:"recommendations"`
}
