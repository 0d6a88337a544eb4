package results

import (
	"github.com/bryanwahyu/homeguard/internal/application/scoring"
	"github.com/bryanwahyu/homeguard/internal/domain/assessment"
	"github.com/bryanwahyu/homeguard/internal/domain/sessions"
)

// Group is one logical inspection area: a primary photo plus its close-ups.
// Derived on demand, never persisted.
type Group struct {
	PrimaryImage      *sessions.Image      `json:"primaryImage"`
	RelatedImages     []*sessions.Image    `json:"relatedImages"`
	CombinedRiskScore float64              `json:"combinedRiskScore"`
	CombinedRiskLevel assessment.RiskLevel `json:"combinedRiskLevel"`
}

// Summary is the full result view for a session.
type Summary struct {
	Groups           []*Group                   `json:"groups"`
	OverallRiskScore float64                    `json:"overallRiskScore"`
	OverallRiskLevel assessment.RiskLevel       `json:"overallRiskLevel"`
	Report           *assessment.SecurityReport `json:"report,omitempty"`
}

// Build groups the session's images and rolls up risk. Every image lands in
// exactly one group: primaries anchor a group each, children attach to their
// primary, and an image whose declared parent is gone becomes a singleton
// group rather than being dropped.
func Build(s *sessions.Session) *Summary {
	byPrimary := make(map[string]*Group)
	groups := []*Group{}

	for _, img := range s.Images {
		if img.ParentImageID == "" {
			g := &Group{PrimaryImage: img, RelatedImages: []*sessions.Image{}}
			byPrimary[img.ID] = g
			groups = append(groups, g)
		}
	}
	for _, img := range s.Images {
		if img.ParentImageID == "" {
			continue
		}
		if g, ok := byPrimary[img.ParentImageID]; ok {
			g.RelatedImages = append(g.RelatedImages, img)
			continue
		}
		// orphan: keep it visible as its own area
		groups = append(groups, &Group{PrimaryImage: img, RelatedImages: []*sessions.Image{}})
	}

	for _, g := range groups {
		g.CombinedRiskScore, g.CombinedRiskLevel = scoring.Aggregate(scored(append([]*sessions.Image{g.PrimaryImage}, g.RelatedImages...)))
	}

	sum := &Summary{Groups: groups, Report: s.Report}
	if s.Report != nil {
		// The structured report is authoritative when present.
		sum.OverallRiskScore = s.Report.Header.OverallExposureRisk.Score()
		sum.OverallRiskLevel = assessment.LevelForScore(sum.OverallRiskScore)
	} else {
		sum.OverallRiskScore, sum.OverallRiskLevel = scoring.Aggregate(scored(s.Images))
	}
	return sum
}

func scored(images []*sessions.Image) []*assessment.ImageAnalysis {
	var out []*assessment.ImageAnalysis
	for _, img := range images {
		if img.Analysis != nil {
			out = append(out, img.Analysis)
		}
	}
	return out
}
