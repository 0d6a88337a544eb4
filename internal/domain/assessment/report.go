package assessment

// ExposureRisk is the 5-level classification the report pathway produces.
type ExposureRisk string

const (
	ExposureVeryLow  ExposureRisk = "Very Low"
	ExposureLow      ExposureRisk = "Low"
	ExposureMedium   ExposureRisk = "Medium"
	ExposureHigh     ExposureRisk = "High"
	ExposureVeryHigh ExposureRisk = "Very High"
)

// Score maps the 5-level classification onto the numeric [1,10] scale
// shared with the heuristic path.
func (e ExposureRisk) Score() float64 {
	switch e {
	case ExposureVeryLow:
		return 9
	case ExposureLow:
		return 7
	case ExposureHigh:
		return 3
	case ExposureVeryHigh:
		return 1
	default:
		return 5
	}
}

// Confidence is the 3-level certainty classification.
type Confidence string

const (
	ConfidenceLow    Confidence = "Low"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceHigh   Confidence = "High"
)

// CostLevel grades effort or cost of a recommendation.
type CostLevel string

const (
	CostLow    CostLevel = "Low"
	CostMedium CostLevel = "Medium"
	CostHigh   CostLevel = "High"
)

// ReportHeader summarizes a whole report.
type ReportHeader struct {
	OverallExposureRisk ExposureRisk `json:"overallExposureRisk"`
	OverallConfidence   Confidence   `json:"overallConfidence"`
	Summary             string       `json:"summary"`
	Date                string       `json:"date"`
	AreasAnalyzed       int          `json:"areasAnalyzed"`
}

// ReportArea is one logical inspection area (a door, a window bank, ...).
type ReportArea struct {
	Area           string       `json:"area"`
	ExposureRisk   ExposureRisk `json:"exposureRisk"`
	Confidence     Confidence   `json:"confidence"`
	Notes          string       `json:"notes"`
	Recommendation string       `json:"recommendation"`
	Effort         CostLevel    `json:"effort"`
	Cost           CostLevel    `json:"cost"`
}

// PrioritizedRecommendation is one entry of the report's action list.
type PrioritizedRecommendation struct {
	Recommendation string    `json:"recommendation"`
	Effort         CostLevel `json:"effort"`
	Cost           CostLevel `json:"cost"`
	Priority       int       `json:"priority"` // 1-based
}

// SecurityReport is the structured report produced by the language-model
// pathway. When present it is authoritative over per-image heuristics.
type SecurityReport struct {
	Header                     ReportHeader                `json:"header"`
	Areas                      []ReportArea                `json:"areas"`
	PrioritizedRecommendations []PrioritizedRecommendation `json:"prioritizedRecommendations"`
	Conclusion                 string                      `json:"conclusion"`
	Limitations                []string                    `json:"limitations"`
}
