package scoring

import (
	"math"
	"strings"

	"github.com/bryanwahyu/homeguard/internal/domain/assessment"
)

// Fixed keyword tables. Matching is case-folded substring search over the
// concatenated caption, tag names, and detected-object names, so scoring is
// deterministic for a given input.
//
// Bare "lock" is deliberately not a positive keyword: captions like
// "no lock visible" must not count as a security indicator. It is only used
// as a probe by the targeted rules below.
var positiveKeywords = []string{
	"deadbolt",
	"padlock",
	"smart lock",
	"chain lock",
	"camera",
	"alarm",
	"security",
	"surveillance",
	"motion sensor",
	"keypad",
	"reinforced",
	"peephole",
	"floodlight",
}

var negativeKeywords = []string{
	"broken",
	"damaged",
	"unlocked",
	"flimsy",
	"cracked",
	"rust",
	"shatter",
	"loose",
	"ajar",
	"missing",
	"warped",
}

var vulnerabilityKeywords = []string{
	"window",
	"door",
	"glass",
	"sliding",
	"ground floor",
	"wooden",
	"basement",
	"garage",
	"gate",
	"fence",
	"mail slot",
}

const (
	recAddressDamage = "Repair or replace damaged or non-functional hardware"
	recEntryPoints   = "Secure potential entry points with locks or reinforcement"
	recWindowLock    = "Install window locks or security pins on accessible windows"
	recDeadbolt      = "Install a deadbolt lock on exterior doors"
	recGlassFilm     = "Apply security film or upgrade to tempered glass"
	recSlidingBar    = "Add a security bar or pin lock to sliding doors and windows"
	recProfessional  = "Consider a professional security assessment for a detailed evaluation"

	noteStandard = "Standard assessment based on available image signals"
)

// Score converts raw per-image signals into a risk assessment. The location
// multiplier defaults to 1 when non-positive; <1 eases the score for
// lower-risk areas, >1 tightens it.
//
// Output guarantees: RiskScore in [1,10] rounded to one decimal, RiskLevel
// consistent with the band thresholds, Recommendations deduplicated.
func Score(sig *assessment.Signals, locationMultiplier float64) *assessment.ImageAnalysis {
	text := corpus(sig)

	score := 5.0
	var notes []string
	var recs []string

	var positives []string
	for _, kw := range positiveKeywords {
		if strings.Contains(text, kw) {
			positives = append(positives, kw)
			score += 0.5
		}
	}
	if len(positives) > 0 {
		notes = append(notes, "Positive security indicators: "+strings.Join(positives, ", "))
	}

	var negatives []string
	for _, kw := range negativeKeywords {
		if strings.Contains(text, kw) {
			negatives = append(negatives, kw)
			score -= 0.7
		}
	}
	if len(negatives) > 0 {
		notes = append(notes, "Signs of damage or weakness: "+strings.Join(negatives, ", "))
		recs = append(recs, recAddressDamage)
	}

	var vulns []string
	for _, kw := range vulnerabilityKeywords {
		if strings.Contains(text, kw) {
			vulns = append(vulns, kw)
		}
	}
	if len(vulns) > 0 && len(positives) == 0 {
		score -= 1.0
		notes = append(notes, "Potential entry points without visible security measures: "+strings.Join(vulns, ", "))
		recs = append(recs, recEntryPoints)
	}

	// Targeted hardware rules
	if strings.Contains(text, "window") && !strings.Contains(text, "lock") {
		recs = append(recs, recWindowLock)
	}
	if strings.Contains(text, "door") && !strings.Contains(text, "deadbolt") {
		recs = append(recs, recDeadbolt)
	}
	if strings.Contains(text, "glass") && !strings.Contains(text, "tempered") && !strings.Contains(text, "reinforced") {
		recs = append(recs, recGlassFilm)
	}
	if strings.Contains(text, "sliding") {
		recs = append(recs, recSlidingBar)
	}

	if locationMultiplier <= 0 {
		locationMultiplier = 1
	}
	score *= locationMultiplier
	score = clamp(score, 1, 10)
	score = round1(score)

	if len(notes) == 0 {
		notes = append(notes, noteStandard)
		recs = append(recs, recProfessional)
	}

	return &assessment.ImageAnalysis{
		Caption:         sig.Caption,
		Tags:            sig.Tags,
		DetectedObjects: sig.DetectedObjects,
		RiskScore:       score,
		RiskLevel:       assessment.LevelForScore(score),
		RiskNotes:       notes,
		Recommendations: dedupe(recs),
	}
}

// Aggregate computes the weighted mean of the given analyses, weighting by
// risk band so riskier findings dominate. Returns the neutral (5.0, medium)
// for an empty input.
func Aggregate(analyses []*assessment.ImageAnalysis) (float64, assessment.RiskLevel) {
	if len(analyses) == 0 {
		return 5.0, assessment.RiskMedium
	}
	var weighted, total float64
	for _, a := range analyses {
		w := assessment.LevelWeight(a.RiskLevel)
		weighted += w * a.RiskScore
		total += w
	}
	score := round1(weighted / total)
	return score, assessment.LevelForScore(score)
}

func corpus(sig *assessment.Signals) string {
	parts := []string{sig.Caption}
	for _, t := range sig.Tags {
		parts = append(parts, t.Name)
	}
	for _, o := range sig.DetectedObjects {
		parts = append(parts, o.Name)
	}
	return strings.ToLower(strings.Join(parts, " "))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
