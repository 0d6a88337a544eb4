package ai

import (
	"context"

	"github.com/bryanwahyu/homeguard/internal/domain/assessment"
)

// ImageInput is one loaded photo buffer handed to a model.
type ImageInput struct {
	ID          string
	ContentType string
	Data        []byte
}

// ReportClient produces one raw report per batch of images. The output is
// free text expected to contain a JSON object; normalization happens in the
// application layer.
type ReportClient interface {
	GenerateReport(ctx context.Context, location string, images []ImageInput) (string, error)
}

// Describer extracts per-image signals (caption, tags, objects) for the
// heuristic scoring path.
type Describer interface {
	Describe(ctx context.Context, img ImageInput) (*assessment.Signals, error)
}
