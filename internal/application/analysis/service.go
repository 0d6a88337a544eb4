package analysis

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/bryanwahyu/homeguard/internal/application"
	"github.com/bryanwahyu/homeguard/internal/application/report"
	"github.com/bryanwahyu/homeguard/internal/application/scoring"
	"github.com/bryanwahyu/homeguard/internal/domain/ai"
	"github.com/bryanwahyu/homeguard/internal/domain/assessment"
	"github.com/bryanwahyu/homeguard/internal/domain/faults"
	"github.com/bryanwahyu/homeguard/internal/domain/sessions"
	"github.com/bryanwahyu/homeguard/internal/domain/storage"
)

const (
	// defaultBatchCap bounds how many buffers one report call carries.
	defaultBatchCap = 10
	// loadGroupSize bounds concurrent buffer fetches.
	loadGroupSize = 3
)

// Service orchestrates the batch analysis lifecycle:
// pending -> analyzing -> {complete, complete_unscored, error} per image,
// mirrored per session. Upstream failures degrade statuses; they never
// surface as transport faults.
//
// Safe for concurrent use; all shared state lives behind the Store.
type Service struct {
	Store     sessions.Store
	Objects   storage.ObjectStore
	Reports   ai.ReportClient
	Describer ai.Describer    // optional; heuristic analyses are skipped when nil
	Faults    faults.Recorder // optional
	Clock     application.Clock

	BatchCap    int
	Multipliers map[string]float64 // location -> risk multiplier
}

type loadedImage struct {
	img   *sessions.Image
	input ai.ImageInput
}

// Analyze runs one batch over the session's pending images and returns the
// updated session. A session with nothing pending is rejected before any
// state transition.
func (s *Service) Analyze(ctx context.Context, sessionID string) (*sessions.Session, error) {
	sess, err := s.Store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(sess.Images) == 0 {
		return nil, sessions.Validationf("session %s has no images to analyze", sessionID)
	}
	pending := sess.ImagesInStatus(sessions.StatusPending)
	if len(pending) == 0 {
		return nil, sessions.Validationf("session %s has no images pending analysis", sessionID)
	}

	if err := s.setSessionStatus(ctx, sessionID, sessions.StatusAnalyzing); err != nil {
		return nil, err
	}
	for _, img := range pending {
		s.setImageStatus(ctx, sessionID, img.ID, sessions.StatusAnalyzing, "")
	}

	loaded := s.loadBuffers(ctx, sessionID, pending)
	if len(loaded) == 0 {
		if err := s.setSessionStatus(ctx, sessionID, sessions.StatusError); err != nil {
			return nil, err
		}
		return s.Store.Get(ctx, sessionID)
	}

	limit := s.BatchCap
	if limit <= 0 {
		limit = defaultBatchCap
	}
	sent := loaded
	var overflow []loadedImage
	if len(sent) > limit {
		overflow = sent[limit:]
		sent = sent[:limit]
		for _, l := range overflow {
			s.recordFault(ctx, sessionID, l.img.ID, faults.PhaseOverflow,
				"image exceeded the per-batch cap and was not sent for findings")
		}
	}

	multiplier := s.multiplier(sess.Location)
	for _, l := range sent {
		s.describeAndScore(ctx, sessionID, l, multiplier)
	}

	rep := s.generateReport(ctx, sessionID, sess.Location, sent)
	if rep == nil {
		for _, l := range loaded {
			s.setImageStatus(ctx, sessionID, l.img.ID, sessions.StatusError, "batch report generation failed")
		}
		if err := s.setSessionStatus(ctx, sessionID, sessions.StatusError); err != nil {
			return nil, err
		}
		return s.Store.Get(ctx, sessionID)
	}

	for _, l := range sent {
		s.setImageStatus(ctx, sessionID, l.img.ID, sessions.StatusComplete, "")
	}
	for _, l := range overflow {
		// The batch succeeded but these carry no individual findings;
		// keep them distinguishable from fully analyzed images.
		s.setImageStatus(ctx, sessionID, l.img.ID, sessions.StatusCompleteUnscored, "")
	}
	st := sessions.StatusComplete
	if _, err := s.Store.Update(ctx, sessionID, sessions.SessionPatch{AnalysisStatus: &st, Report: rep}); err != nil {
		return nil, err
	}
	return s.Store.Get(ctx, sessionID)
}

// RetryFailed resets failed and unscored images to pending, then reruns the
// batch. Images already complete are never resent.
func (s *Service) RetryFailed(ctx context.Context, sessionID string) (*sessions.Session, error) {
	sess, err := s.Store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	for _, img := range sess.Images {
		if img.AnalysisStatus == sessions.StatusError || img.AnalysisStatus == sessions.StatusCompleteUnscored {
			s.setImageStatus(ctx, sessionID, img.ID, sessions.StatusPending, "")
		}
	}
	return s.Analyze(ctx, sessionID)
}

// loadBuffers fetches image objects in fixed-size concurrent groups. A
// failed fetch marks that single image error and drops it from the batch.
func (s *Service) loadBuffers(ctx context.Context, sessionID string, imgs []*sessions.Image) []loadedImage {
	type fetchResult struct {
		data []byte
		ct   string
		err  error
	}

	var out []loadedImage
	for start := 0; start < len(imgs); start += loadGroupSize {
		end := start + loadGroupSize
		if end > len(imgs) {
			end = len(imgs)
		}
		results := make([]fetchResult, end-start)
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				data, ct, err := s.Objects.Fetch(ctx, imgs[i].StoragePath)
				results[i-start] = fetchResult{data: data, ct: ct, err: err}
			}(i)
		}
		wg.Wait()

		for i := start; i < end; i++ {
			res := results[i-start]
			img := imgs[i]
			if res.err != nil {
				log.Printf("buffer load failed: session=%s image=%s err=%v", sessionID, img.ID, res.err)
				s.setImageStatus(ctx, sessionID, img.ID, sessions.StatusError, "failed to load image buffer: "+res.err.Error())
				s.recordFault(ctx, sessionID, img.ID, faults.PhaseLoad, res.err.Error())
				continue
			}
			out = append(out, loadedImage{
				img:   img,
				input: ai.ImageInput{ID: img.ID, ContentType: res.ct, Data: res.data},
			})
		}
	}
	return out
}

// describeAndScore fills the legacy heuristic analysis for one image. A
// describer failure leaves the analysis empty without failing the batch.
func (s *Service) describeAndScore(ctx context.Context, sessionID string, l loadedImage, multiplier float64) {
	if s.Describer == nil {
		return
	}
	sig, err := s.Describer.Describe(ctx, l.input)
	if err != nil {
		log.Printf("describe failed: session=%s image=%s err=%v", sessionID, l.img.ID, err)
		s.recordFault(ctx, sessionID, l.img.ID, faults.PhaseDescribe, err.Error())
		return
	}
	analysis := scoring.Score(sig, multiplier)
	if _, err := s.Store.UpdateImage(ctx, sessionID, l.img.ID, sessions.ImagePatch{Analysis: analysis}); err != nil {
		log.Printf("store analysis failed: session=%s image=%s err=%v", sessionID, l.img.ID, err)
	}
}

// generateReport runs the single batched model call and normalizes its
// output. Any failure, including empty output, yields nil ("no report").
func (s *Service) generateReport(ctx context.Context, sessionID, location string, sent []loadedImage) *assessment.SecurityReport {
	inputs := make([]ai.ImageInput, len(sent))
	for i, l := range sent {
		inputs[i] = l.input
	}
	raw, err := s.Reports.GenerateReport(ctx, location, inputs)
	if err != nil {
		log.Printf("report call failed: session=%s err=%v", sessionID, err)
		s.recordFault(ctx, sessionID, "", faults.PhaseReport, err.Error())
		return nil
	}
	if strings.TrimSpace(raw) == "" {
		s.recordFault(ctx, sessionID, "", faults.PhaseReport, "model returned empty output")
		return nil
	}
	rep, err := report.Normalize(raw)
	if err != nil {
		s.recordFault(ctx, sessionID, "", faults.PhaseReport, "model output unparsable: "+err.Error())
		return nil
	}
	return rep
}

func (s *Service) multiplier(location string) float64 {
	if location == "" {
		return 1
	}
	if m, ok := s.Multipliers[strings.ToLower(location)]; ok && m > 0 {
		return m
	}
	return 1
}

func (s *Service) setSessionStatus(ctx context.Context, sessionID string, st sessions.Status) error {
	_, err := s.Store.Update(ctx, sessionID, sessions.SessionPatch{AnalysisStatus: &st})
	return err
}

func (s *Service) setImageStatus(ctx context.Context, sessionID, imageID string, st sessions.Status, reason string) {
	if _, err := s.Store.UpdateImage(ctx, sessionID, imageID, sessions.ImagePatch{
		AnalysisStatus: &st,
		LastError:      &reason,
	}); err != nil {
		log.Printf("image status update failed: session=%s image=%s err=%v", sessionID, imageID, err)
	}
}

func (s *Service) recordFault(ctx context.Context, sessionID, imageID, phase, message string) {
	if s.Faults == nil {
		return
	}
	if err := s.Faults.Record(ctx, &faults.Fault{
		SessionID: sessionID,
		ImageID:   imageID,
		Phase:     phase,
		Message:   message,
		CreatedAt: s.Clock.Now(),
	}); err != nil {
		log.Printf("fault record failed: session=%s err=%v", sessionID, err)
	}
}
