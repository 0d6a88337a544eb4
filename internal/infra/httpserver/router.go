package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bryanwahyu/homeguard/internal/application/analysis"
	"github.com/bryanwahyu/homeguard/internal/application/results"
	"github.com/bryanwahyu/homeguard/internal/application/uploads"
	domai "github.com/bryanwahyu/homeguard/internal/domain/ai"
	"github.com/bryanwahyu/homeguard/internal/domain/faults"
	"github.com/bryanwahyu/homeguard/internal/domain/sessions"
	"github.com/bryanwahyu/homeguard/internal/middleware"
)

type Router struct {
	store       sessions.Store
	uploadsSvc  *uploads.Service
	analysisSvc *analysis.Service
	faultLog    faults.Recorder
	healthFn    http.HandlerFunc
}

func NewRouter(
	store sessions.Store,
	uploadsSvc *uploads.Service,
	analysisSvc *analysis.Service,
	faultLog faults.Recorder,
	checkers map[string]middleware.HealthChecker,
) http.Handler {
	r := &Router{
		store:       store,
		uploadsSvc:  uploadsSvc,
		analysisSvc: analysisSvc,
		faultLog:    faultLog,
		healthFn:    middleware.HealthHandler(checkers),
	}
	mux := chi.NewRouter()

	mux.Get("/health", r.healthFn)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Post("/session", r.wrap(r.handleCreateSession))
	mux.Get("/session", r.wrap(r.handleGetSession))
	mux.Patch("/session", r.wrap(r.handleUpdateSession))
	mux.Delete("/session", r.wrap(r.handleDeleteSession))

	mux.Post("/upload", r.wrap(r.handleUpload))
	mux.Post("/analyze", r.wrap(r.handleAnalyze))
	mux.Post("/analyze/retry", r.wrap(r.handleRetry))
	mux.Get("/results/{sessionID}", r.wrap(r.handleResults))

	mux.Post("/images/{sessionID}/{imageID}/relate", r.wrap(r.handleRelateImage))
	mux.Delete("/images/{sessionID}/{imageID}", r.wrap(r.handleRemoveImage))

	mux.Get("/faults/{sessionID}", r.wrap(r.handleFaults))

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			if errors.Is(err, sessions.ErrNotFound) {
				http.Error(w, "not found", http.StatusNotFound)
				return
			}
			if errors.Is(err, sessions.ErrValidation) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			if errors.Is(err, domai.ErrQuotaExceeded) {
				http.Error(w, "ai quota exceeded", http.StatusTooManyRequests)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

// POST /session
// Body (optional): {"id": "<id>"} or {"sessionId": "<id>"}. Creation is
// idempotent: posting an existing id returns the existing session unchanged.
func (r *Router) handleCreateSession(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		ID        string `json:"id"`
		SessionID string `json:"sessionId"`
	}
	if req.Body != nil {
		// An empty body means "generate an id for me"
		_ = json.NewDecoder(req.Body).Decode(&body)
	}
	id := body.ID
	if id == "" {
		id = body.SessionID
	}
	if id == "" {
		id = uuid.NewString()
	}
	if err := middleware.ValidateSessionID(id); err != nil {
		return sessions.Validationf("%v", err)
	}

	sess, err := r.store.Create(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, sess)
}

// GET /session?id=<id>
func (r *Router) handleGetSession(w http.ResponseWriter, req *http.Request) error {
	id := req.URL.Query().Get("id")
	if err := middleware.ValidateSessionID(id); err != nil {
		return sessions.Validationf("%v", err)
	}
	sess, err := r.store.Get(req.Context(), id)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, sess)
}

// PATCH /session
// Body: {"id": "<id>", "location": "<text>"}; "sessionId" doubles as the
// id key for older clients.
func (r *Router) handleUpdateSession(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		ID             string  `json:"id"`
		SessionID      string  `json:"sessionId"`
		Location       *string `json:"location"`
		AnalysisStatus *string `json:"analysisStatus"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return sessions.Validationf("invalid request body: %v", err)
	}
	if body.ID == "" {
		body.ID = body.SessionID
	}
	if err := middleware.ValidateSessionID(body.ID); err != nil {
		return sessions.Validationf("%v", err)
	}

	patch := sessions.SessionPatch{}
	if body.Location != nil {
		loc := middleware.SanitizeString(*body.Location)
		if err := middleware.ValidateLocation(loc); err != nil {
			return sessions.Validationf("%v", err)
		}
		patch.Location = &loc
	}
	if body.AnalysisStatus != nil {
		st := sessions.Status(*body.AnalysisStatus)
		switch st {
		case sessions.StatusPending, sessions.StatusAnalyzing, sessions.StatusComplete,
			sessions.StatusCompleteUnscored, sessions.StatusError:
		default:
			return sessions.Validationf("unknown analysis status %q", *body.AnalysisStatus)
		}
		patch.AnalysisStatus = &st
	}

	sess, err := r.store.Update(req.Context(), body.ID, patch)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, sess)
}

// DELETE /session?id=<id>
func (r *Router) handleDeleteSession(w http.ResponseWriter, req *http.Request) error {
	id := req.URL.Query().Get("id")
	if err := middleware.ValidateSessionID(id); err != nil {
		return sessions.Validationf("%v", err)
	}
	if err := r.uploadsSvc.DeleteSession(req.Context(), id); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "sessionId": id})
}

// POST /upload
// multipart/form-data: sessionId, image (file), parentImageId (optional)
func (r *Router) handleUpload(w http.ResponseWriter, req *http.Request) error {
	if err := req.ParseMultipartForm(16 << 20); err != nil {
		return sessions.Validationf("invalid multipart form: %v", err)
	}
	sessionID := req.FormValue("sessionId")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		return sessions.Validationf("%v", err)
	}

	file, header, err := req.FormFile("image")
	if err != nil {
		return sessions.Validationf("image file is required")
	}
	defer file.Close()

	if err := middleware.ValidateFilename(header.Filename); err != nil {
		return sessions.Validationf("%v", err)
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return err
	}

	res, err := r.uploadsSvc.Upload(req.Context(), uploads.UploadCommand{
		SessionID:     sessionID,
		ParentImageID: req.FormValue("parentImageId"),
		Filename:      header.Filename,
		Data:          data,
	})
	if err != nil {
		return err
	}

	middleware.IncrementUploads()
	return writeJSON(w, http.StatusOK, res)
}

// POST /analyze
// Body: {"sessionId": "<id>"}. Blocks until the batch completes.
func (r *Router) handleAnalyze(w http.ResponseWriter, req *http.Request) error {
	sessionID, err := sessionIDFromBody(req)
	if err != nil {
		return err
	}

	middleware.IncrementAnalyses()
	middleware.IncrementAnalysesRunning()
	defer middleware.DecrementAnalysesRunning()

	sess, err := r.analysisSvc.Analyze(req.Context(), sessionID)
	if err != nil {
		middleware.IncrementAnalysesFailed()
		return err
	}
	return writeJSON(w, http.StatusOK, results.Build(sess))
}

// POST /analyze/retry
// Body: {"sessionId": "<id>"}. Re-runs only the images that failed or were
// skipped by the batch cap.
func (r *Router) handleRetry(w http.ResponseWriter, req *http.Request) error {
	sessionID, err := sessionIDFromBody(req)
	if err != nil {
		return err
	}

	middleware.IncrementAnalyses()
	middleware.IncrementAnalysesRunning()
	defer middleware.DecrementAnalysesRunning()

	sess, err := r.analysisSvc.RetryFailed(req.Context(), sessionID)
	if err != nil {
		middleware.IncrementAnalysesFailed()
		return err
	}
	return writeJSON(w, http.StatusOK, results.Build(sess))
}

// GET /results/{sessionID}
func (r *Router) handleResults(w http.ResponseWriter, req *http.Request) error {
	sessionID := chi.URLParam(req, "sessionID")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		return sessions.Validationf("%v", err)
	}
	sess, err := r.store.Get(req.Context(), sessionID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, results.Build(sess))
}

// POST /images/{sessionID}/{imageID}/relate
// Body: {"parentImageId": "<id>"}
func (r *Router) handleRelateImage(w http.ResponseWriter, req *http.Request) error {
	sessionID := chi.URLParam(req, "sessionID")
	imageID := chi.URLParam(req, "imageID")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		return sessions.Validationf("%v", err)
	}
	if err := middleware.ValidateImageID(imageID); err != nil {
		return sessions.Validationf("%v", err)
	}

	var body struct {
		ParentImageID string `json:"parentImageId"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return sessions.Validationf("invalid request body: %v", err)
	}
	if err := middleware.ValidateImageID(body.ParentImageID); err != nil {
		return sessions.Validationf("%v", err)
	}

	if err := r.store.RelateImage(req.Context(), sessionID, imageID, body.ParentImageID); err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]string{
		"imageId":       imageID,
		"parentImageId": body.ParentImageID,
	})
}

// DELETE /images/{sessionID}/{imageID}
// Removing a primary image removes its related images in the same pass.
func (r *Router) handleRemoveImage(w http.ResponseWriter, req *http.Request) error {
	sessionID := chi.URLParam(req, "sessionID")
	imageID := chi.URLParam(req, "imageID")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		return sessions.Validationf("%v", err)
	}
	if err := middleware.ValidateImageID(imageID); err != nil {
		return sessions.Validationf("%v", err)
	}

	removed, err := r.uploadsSvc.Remove(req.Context(), sessionID, imageID)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"removedImageIds": removed})
}

// GET /faults/{sessionID}?limit=20
func (r *Router) handleFaults(w http.ResponseWriter, req *http.Request) error {
	sessionID := chi.URLParam(req, "sessionID")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		return sessions.Validationf("%v", err)
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	limit = middleware.ValidateLimit(limit)

	list, err := r.faultLog.BySession(req.Context(), sessionID, limit)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, list)
}

func sessionIDFromBody(req *http.Request) (string, error) {
	var body struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		return "", sessions.Validationf("invalid request body: %v", err)
	}
	if err := middleware.ValidateSessionID(body.SessionID); err != nil {
		return "", sessions.Validationf("%v", err)
	}
	return body.SessionID, nil
}
