package report

import (
	"errors"
	"testing"

	"github.com/bryanwahyu/homeguard/internal/domain/assessment"
)

func TestNormalizeExtractsEmbeddedJSON(t *testing.T) {
	raw := `Sure! Here is the report you asked for:
{"header":{"overallExposureRisk":"High","overallConfidence":"Low","summary":"Several weak points.","date":"2026-08-30","areasAnalyzed":99},
"areas":[{"area":"Front Door","exposureRisk":"High","confidence":"High","notes":"No deadbolt.","recommendation":"Install one.","effort":"Low","cost":"Low"}],
"prioritizedRecommendations":[{"recommendation":"Install a deadbolt.","effort":"Low","cost":"Low","priority":1}],
"conclusion":"Harden the front door.","limitations":["single angle"]}
Let me know if you need anything else.`

	r, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.Header.OverallExposureRisk != assessment.ExposureHigh {
		t.Fatalf("exposure = %v", r.Header.OverallExposureRisk)
	}
	if r.Header.AreasAnalyzed != 1 {
		t.Fatalf("areasAnalyzed = %d, want recomputed 1 (model said 99)", r.Header.AreasAnalyzed)
	}
	if r.Areas[0].Area != "Front Door" || r.Areas[0].Cost != assessment.CostLow {
		t.Fatalf("area = %+v", r.Areas[0])
	}
	if len(r.Limitations) != 1 || r.Limitations[0] != "single angle" {
		t.Fatalf("limitations = %v", r.Limitations)
	}
}

func TestNormalizeNoJSON(t *testing.T) {
	for _, raw := range []string{"", "no braces here", "}{", "   {  "} {
		if _, err := Normalize(raw); !errors.Is(err, ErrMalformedReport) {
			t.Fatalf("Normalize(%q) err = %v, want ErrMalformedReport", raw, err)
		}
	}
}

func TestNormalizeGarbageFields(t *testing.T) {
	raw := `{"header":{"overallExposureRisk":"catastrophic","overallConfidence":42,"summary":""},
"areas":[{"area":"","exposureRisk":null,"effort":"enormous"},"not an object",7],
"prioritizedRecommendations":[{"recommendation":"Do something.","priority":"first"},{"recommendation":"Then this.","priority":"2"}],
"limitations":"not an array"}`

	r, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize must repair partial garbage, got %v", err)
	}
	if r.Header.OverallExposureRisk != assessment.ExposureMedium {
		t.Fatalf("unknown exposure should default Medium, got %v", r.Header.OverallExposureRisk)
	}
	if r.Header.OverallConfidence != assessment.ConfidenceMedium {
		t.Fatalf("non-string confidence should default Medium, got %v", r.Header.OverallConfidence)
	}
	if r.Header.Summary != defaultSummary {
		t.Fatalf("summary = %q", r.Header.Summary)
	}
	if len(r.Areas) != 3 {
		t.Fatalf("areas = %d, want 3 (non-objects repaired, not dropped)", len(r.Areas))
	}
	if r.Areas[0].Area != defaultArea || r.Areas[0].Effort != assessment.CostMedium {
		t.Fatalf("area[0] = %+v", r.Areas[0])
	}
	if r.Header.AreasAnalyzed != 3 {
		t.Fatalf("areasAnalyzed = %d", r.Header.AreasAnalyzed)
	}
	// Non-numeric priority falls back to the 1-based position; numeric
	// strings are honored.
	if r.PrioritizedRecommendations[0].Priority != 1 {
		t.Fatalf("priority[0] = %d", r.PrioritizedRecommendations[0].Priority)
	}
	if r.PrioritizedRecommendations[1].Priority != 2 {
		t.Fatalf("priority[1] = %d", r.PrioritizedRecommendations[1].Priority)
	}
	if r.Conclusion != defaultConclusion {
		t.Fatalf("conclusion = %q", r.Conclusion)
	}
	if r.Limitations == nil || len(r.Limitations) != 0 {
		t.Fatalf("limitations = %#v, want empty list", r.Limitations)
	}
}

func TestNormalizeEnumCaseFolding(t *testing.T) {
	raw := `{"header":{"overallExposureRisk":" very high ","overallConfidence":"HIGH"}}`
	r, err := Normalize(raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if r.Header.OverallExposureRisk != assessment.ExposureVeryHigh {
		t.Fatalf("exposure = %v", r.Header.OverallExposureRisk)
	}
	if r.Header.OverallConfidence != assessment.ConfidenceHigh {
		t.Fatalf("confidence = %v", r.Header.OverallConfidence)
	}
}

func TestNormalizeNeverPanics(t *testing.T) {
	inputs := []string{
		`{"areas": {"not":"a list"}}`,
		`{"header": "just a string"}`,
		`{"prioritizedRecommendations":[null]}`,
		`{{{{`,
		`{"limitations":[1,2,3]}`,
	}
	for _, raw := range inputs {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					t.Fatalf("Normalize(%q) panicked: %v", raw, rec)
				}
			}()
			_, _ = Normalize(raw)
		}()
	}
}
