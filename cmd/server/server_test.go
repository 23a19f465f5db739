package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/drumscribe/internal/apperrors"
	"github.com/himanishpuri/drumscribe/pkg/drumscribe"
	"github.com/himanishpuri/drumscribe/pkg/logger"
)

type fakeService struct {
	mu        sync.Mutex
	jobs      map[string]drumscribe.Job
	artifacts map[drumscribe.Artifact]string
	uploads   map[string][]byte
	urls      []string
	submitErr error
}

func newFakeService() *fakeService {
	return &fakeService{
		jobs:      map[string]drumscribe.Job{},
		artifacts: map[drumscribe.Artifact]string{},
		uploads:   map[string][]byte{},
	}
}

func (f *fakeService) Submit(ctx context.Context, filename string, r io.Reader) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[filename] = data
	f.jobs["job-1"] = drumscribe.Job{ID: "job-1", Status: drumscribe.StatusPending, Message: "Waiting to start."}
	return "job-1", nil
}

func (f *fakeService) SubmitYouTube(ctx context.Context, url string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, url)
	return "job-yt", nil
}

func (f *fakeService) Process(ctx context.Context, path string, onUpdate func(drumscribe.Job)) (drumscribe.Job, error) {
	return drumscribe.Job{}, errors.New("not used")
}

func (f *fakeService) Status(id string) (drumscribe.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return drumscribe.Job{}, apperrors.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeService) ResultPath(id string, kind drumscribe.Artifact) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[id]; !ok {
		return "", apperrors.ErrJobNotFound
	}
	path, ok := f.artifacts[kind]
	if !ok {
		return "", apperrors.ErrArtifactMissing
	}
	return path, nil
}

func (f *fakeService) Close() error { return nil }

func newTestServer(t *testing.T, svc drumscribe.Service, origins ...string) http.Handler {
	t.Helper()
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s := NewServer(svc, &ServerConfig{Port: 0, AllowedOrigins: origins, MaxUploadBytes: 1 << 20}, logger.Discard())
	return s.setupRoutes()
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	} else {
		require.NoError(t, mw.WriteField("note", "no file here"))
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealth(t *testing.T) {
	h := newTestServer(t, newFakeService())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
}

func TestRootListsEndpoints(t *testing.T) {
	h := newTestServer(t, newFakeService())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"`+version+`"`)
	assert.Contains(t, rec.Body.String(), "/api/result/{jobId}")
}

func TestProcessAcceptsUpload(t *testing.T) {
	svc := newFakeService()
	h := newTestServer(t, svc)

	body, ctype := multipartBody(t, UploadField, "groove.mp3", []byte("ID3 audio bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/process", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp ProcessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, msgProcessingStarted, resp.Message)
	assert.Equal(t, []byte("ID3 audio bytes"), svc.uploads["groove.mp3"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestProcessRejectsBadUploads(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		filename string
		content  []byte
		message  string
	}{
		{"no file part", "", "", nil, "No file part"},
		{"wrong field", "file", "groove.mp3", []byte("x"), "No file part"},
		{"empty file", UploadField, "groove.mp3", nil, "No selected file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, newFakeService())
			body, ctype := multipartBody(t, tt.field, tt.filename, tt.content)
			req := httptest.NewRequest(http.MethodPost, "/api/process", body)
			req.Header.Set("Content-Type", ctype)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.message, decodeError(t, rec).Message)
		})
	}
}

func TestProcessRejectsOversizedUpload(t *testing.T) {
	h := newTestServer(t, newFakeService())

	body, ctype := multipartBody(t, UploadField, "huge.wav", bytes.Repeat([]byte{1}, 2<<20))
	req := httptest.NewRequest(http.MethodPost, "/api/process", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestProcessReportsSubmitFailure(t *testing.T) {
	svc := newFakeService()
	svc.submitErr = errors.New("disk full")
	h := newTestServer(t, svc)

	body, ctype := multipartBody(t, UploadField, "groove.mp3", []byte("abc"))
	req := httptest.NewRequest(http.MethodPost, "/api/process", body)
	req.Header.Set("Content-Type", ctype)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestProcessYouTube(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"valid", `{"url":"https://youtu.be/dQw4w9WgXcQ"}`, http.StatusAccepted},
		{"not json", `url=abc`, http.StatusBadRequest},
		{"missing url", `{"url":"  "}`, http.StatusBadRequest},
		{"not youtube", `{"url":"https://example.com/song.mp3"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			h := newTestServer(t, svc)

			req := httptest.NewRequest(http.MethodPost, "/api/process/youtube", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusAccepted {
				assert.Equal(t, []string{"https://youtu.be/dQw4w9WgXcQ"}, svc.urls)
			} else {
				assert.Empty(t, svc.urls)
			}
		})
	}
}

func TestResult(t *testing.T) {
	svc := newFakeService()
	svc.jobs["pending"] = drumscribe.Job{ID: "pending", Status: drumscribe.StatusPending, Message: "Waiting to start."}
	svc.jobs["done"] = drumscribe.Job{
		ID:      "done",
		Status:  drumscribe.StatusCompleted,
		Message: "Processing complete.",
		Results: &drumscribe.Results{MidiURL: "/download/midi/done", PdfURL: "/download/pdf/done"},
	}
	h := newTestServer(t, svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/result/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Job not found", decodeError(t, rec).Message)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/result/pending", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"pending","message":"Waiting to start."}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/result/done", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{
		"status": "completed",
		"message": "Processing complete.",
		"results": {"midiUrl": "/download/midi/done", "pdfUrl": "/download/pdf/done"}
	}`, rec.Body.String())
}

func TestDownloadArtifacts(t *testing.T) {
	dir := t.TempDir()
	midiPath := filepath.Join(dir, "done.mid")
	require.NoError(t, os.WriteFile(midiPath, []byte("MThd"), 0o644))

	svc := newFakeService()
	svc.jobs["done"] = drumscribe.Job{ID: "done", Status: drumscribe.StatusCompleted}
	svc.artifacts[drumscribe.ArtifactMIDI] = midiPath
	h := newTestServer(t, svc)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/midi/done", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/midi", rec.Header().Get("Content-Type"))
	assert.Equal(t, `attachment; filename="done.mid"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "MThd", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/pdf/done", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "File not found", decodeError(t, rec).Message)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/download/midi/nobody", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS(t *testing.T) {
	h := newTestServer(t, newFakeService(), "https://app.example.com")

	req := httptest.NewRequest(http.MethodOptions, "/api/process", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	req = httptest.NewRequest(http.MethodGet, "/api/result/x", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
