package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bryanwahyu/homeguard/internal/application"
	"github.com/bryanwahyu/homeguard/internal/application/analysis"
	"github.com/bryanwahyu/homeguard/internal/application/uploads"
	"github.com/bryanwahyu/homeguard/internal/domain/ai"
	"github.com/bryanwahyu/homeguard/internal/domain/assessment"
	"github.com/bryanwahyu/homeguard/internal/domain/faults"
	"github.com/bryanwahyu/homeguard/internal/infra/store/memory"
)

var pngBytes = append([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, make([]byte, 64)...)

const goodReport = `{"header":{"overallExposureRisk":"Medium","overallConfidence":"High","summary":"ok"},
"areas":[{"area":"Front Door","exposureRisk":"Medium"}],"conclusion":"done"}`

type fakeObjects struct {
	data map[string][]byte
}

func (f *fakeObjects) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	if f.data == nil {
		f.data = map[string][]byte{}
	}
	f.data[key] = data
	return "https://objects.local/" + key, nil
}

func (f *fakeObjects) Fetch(_ context.Context, key string) ([]byte, string, error) {
	d, ok := f.data[key]
	if !ok {
		return nil, "", fmt.Errorf("no object %s", key)
	}
	return d, "image/png", nil
}

func (f *fakeObjects) Remove(_ context.Context, key string) error {
	delete(f.data, key)
	return nil
}

type fakeReports struct{}

func (fakeReports) GenerateReport(context.Context, string, []ai.ImageInput) (string, error) {
	return goodReport, nil
}

type fakeDescriber struct{}

func (fakeDescriber) Describe(context.Context, ai.ImageInput) (*assessment.Signals, error) {
	return &assessment.Signals{
		Caption: "front door with deadbolt and camera",
		Tags:    []assessment.Tag{{Name: "security"}},
	}, nil
}

type env struct {
	handler  http.Handler
	store    *memory.Store
	faultLog *memory.FaultLog
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := application.SystemClock{}
	store := memory.New(clock, 24*time.Hour)
	faultLog := memory.NewFaultLog(clock, 100)
	objects := &fakeObjects{}

	up := &uploads.Service{
		Store:     store,
		Objects:   objects,
		Clock:     clock,
		MaxImages: 30,
		MaxBytes:  10 << 20,
	}
	an := &analysis.Service{
		Store:     store,
		Objects:   objects,
		Reports:   fakeReports{},
		Describer: fakeDescriber{},
		Faults:    faultLog,
		Clock:     clock,
		BatchCap:  10,
	}
	return &env{
		handler:  NewRouter(store, up, an, faultLog, nil),
		store:    store,
		faultLog: faultLog,
	}
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body == nil {
		rd = bytes.NewReader(nil)
	} else {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *env) upload(t *testing.T, sessionID, filename, parentID string) string {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("sessionId", sessionID))
	if parentID != "" {
		require.NoError(t, mw.WriteField("parentImageId", parentID))
	}
	fw, err := mw.CreateFormFile("image", filename)
	require.NoError(t, err)
	_, err = fw.Write(pngBytes)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res struct {
		ImageID string `json:"imageId"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotEmpty(t, res.ImageID)
	return res.ImageID
}

func TestSessionLifecycle(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/session", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created struct {
		ID     string `json:"id"`
		Status string `json:"analysisStatus"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)
	assert.Equal(t, "pending", created.Status)

	// posting the same id again returns the same session
	rec = e.do(t, http.MethodPost, "/session", map[string]string{"sessionId": created.ID})
	require.Equal(t, http.StatusOK, rec.Code)
	var again struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &again))
	assert.Equal(t, created.ID, again.ID)

	rec = e.do(t, http.MethodPatch, "/session", map[string]string{
		"sessionId": created.ID,
		"location":  "Suburban House",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = e.do(t, http.MethodGet, "/session?id="+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Suburban House")

	rec = e.do(t, http.MethodDelete, "/session?id="+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/session?id="+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionAcceptsIDBodyKey(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/session", map[string]string{"id": "front-porch"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "front-porch", created.ID)

	rec = e.do(t, http.MethodPatch, "/session", map[string]string{
		"id":       "front-porch",
		"location": "Townhouse",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "Townhouse")
}

func TestGetUnknownSessionIs404(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/session?id=ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadAndCascadeRemoval(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/session", map[string]string{"sessionId": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)

	primary := e.upload(t, "s1", "door.png", "")
	child := e.upload(t, "s1", "lock.png", primary)

	rec = e.do(t, http.MethodDelete, "/images/s1/"+primary, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res struct {
		Removed []string `json:"removedImageIds"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.ElementsMatch(t, []string{primary, child}, res.Removed)

	rec = e.do(t, http.MethodGet, "/results/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sum struct {
		Groups []json.RawMessage `json:"groups"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Empty(t, sum.Groups)
}

func TestRelateRejectsSelfLink(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/session", map[string]string{"sessionId": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	img := e.upload(t, "s1", "door.png", "")

	rec = e.do(t, http.MethodPost, "/images/s1/"+img+"/relate", map[string]string{"parentImageId": img})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "itself")
}

func TestAnalyzeProducesResults(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/session", map[string]string{"sessionId": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)
	e.upload(t, "s1", "door.png", "")

	rec = e.do(t, http.MethodPost, "/analyze", map[string]string{"sessionId": "s1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var sum struct {
		Groups           []json.RawMessage `json:"groups"`
		OverallRiskScore float64           `json:"overallRiskScore"`
		OverallRiskLevel string            `json:"overallRiskLevel"`
		Report           json.RawMessage   `json:"report"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sum))
	assert.Len(t, sum.Groups, 1)
	assert.Equal(t, 5.0, sum.OverallRiskScore) // report says Medium exposure
	assert.Equal(t, "medium", sum.OverallRiskLevel)
	assert.NotNil(t, sum.Report)

	// analyzing again with nothing pending is a client error
	rec = e.do(t, http.MethodPost, "/analyze", map[string]string{"sessionId": "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnalyzeEmptySessionIsRejected(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/session", map[string]string{"sessionId": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodPost, "/analyze", map[string]string{"sessionId": "s1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// session state did not move
	rec = e.do(t, http.MethodGet, "/session?id=s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"analysisStatus":"pending"`)
}

func TestFaultsEndpoint(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.faultLog.Record(context.Background(), &faults.Fault{
		SessionID: "s1",
		ImageID:   "img-1",
		Phase:     faults.PhaseLoad,
		Message:   "object missing",
	}))

	rec := e.do(t, http.MethodGet, "/faults/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "object missing")
}

func TestUploadRequiresFile(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/session", map[string]string{"sessionId": "s1"})
	require.Equal(t, http.StatusOK, rec.Code)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("sessionId", "s1"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec = httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "image file"))
}

func TestHealthAndMetrics(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "requests_total")
}
