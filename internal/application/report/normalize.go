package report

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/bryanwahyu/homeguard/internal/domain/assessment"
)

// ErrMalformedReport indicates the model output carried no parsable JSON
// object. Callers treat this as "no report produced", not a failure.
var ErrMalformedReport = errors.New("malformed report")

const (
	defaultSummary    = "Security assessment completed."
	defaultArea       = "Unknown Area"
	defaultConclusion = "Assessment complete."
)

// Normalize repairs raw language-model output into a strict SecurityReport.
// The first outermost {...} span is parsed; every enum is validated against
// its closed set with Medium as the fallback, missing strings get fixed
// filler text, and areasAnalyzed is recomputed rather than trusted. The
// function never panics on arbitrary input: it returns either a fully valid
// report or ErrMalformedReport.
func Normalize(raw string) (*assessment.SecurityReport, error) {
	span, ok := jsonSpan(raw)
	if !ok {
		return nil, ErrMalformedReport
	}
	var root map[string]any
	if err := json.Unmarshal([]byte(span), &root); err != nil {
		return nil, ErrMalformedReport
	}

	r := &assessment.SecurityReport{
		Areas:                      []assessment.ReportArea{},
		PrioritizedRecommendations: []assessment.PrioritizedRecommendation{},
		Limitations:                []string{},
	}

	header := asMap(root["header"])
	r.Header.OverallExposureRisk = exposure(asString(header["overallExposureRisk"]))
	r.Header.OverallConfidence = confidence(asString(header["overallConfidence"]))
	r.Header.Summary = stringOr(asString(header["summary"]), defaultSummary)
	r.Header.Date = asString(header["date"])

	for _, v := range asSlice(root["areas"]) {
		m := asMap(v)
		r.Areas = append(r.Areas, assessment.ReportArea{
			Area:           stringOr(asString(m["area"]), defaultArea),
			ExposureRisk:   exposure(asString(m["exposureRisk"])),
			Confidence:     confidence(asString(m["confidence"])),
			Notes:          asString(m["notes"]),
			Recommendation: asString(m["recommendation"]),
			Effort:         cost(asString(m["effort"])),
			Cost:           cost(asString(m["cost"])),
		})
	}
	// Recomputed, never trusted from the model.
	r.Header.AreasAnalyzed = len(r.Areas)

	for i, v := range asSlice(root["prioritizedRecommendations"]) {
		m := asMap(v)
		r.PrioritizedRecommendations = append(r.PrioritizedRecommendations, assessment.PrioritizedRecommendation{
			Recommendation: asString(m["recommendation"]),
			Effort:         cost(asString(m["effort"])),
			Cost:           cost(asString(m["cost"])),
			Priority:       intOr(m["priority"], i+1),
		})
	}

	r.Conclusion = stringOr(asString(root["conclusion"]), defaultConclusion)
	for _, v := range asSlice(root["limitations"]) {
		if s := asString(v); s != "" {
			r.Limitations = append(r.Limitations, s)
		}
	}

	return r, nil
}

// jsonSpan cuts the outermost {...} span out of free text.
func jsonSpan(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}

func exposure(s string) assessment.ExposureRisk {
	for _, v := range []assessment.ExposureRisk{
		assessment.ExposureVeryLow,
		assessment.ExposureLow,
		assessment.ExposureMedium,
		assessment.ExposureHigh,
		assessment.ExposureVeryHigh,
	} {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v
		}
	}
	return assessment.ExposureMedium
}

func confidence(s string) assessment.Confidence {
	for _, v := range []assessment.Confidence{
		assessment.ConfidenceLow,
		assessment.ConfidenceMedium,
		assessment.ConfidenceHigh,
	} {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v
		}
	}
	return assessment.ConfidenceMedium
}

func cost(s string) assessment.CostLevel {
	for _, v := range []assessment.CostLevel{
		assessment.CostLow,
		assessment.CostMedium,
		assessment.CostHigh,
	} {
		if strings.EqualFold(strings.TrimSpace(s), string(v)) {
			return v
		}
	}
	return assessment.CostMedium
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func stringOr(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

func intOr(v any, fallback int) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return fallback
}
