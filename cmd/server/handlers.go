package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/himanishpuri/drumscribe/internal/apperrors"
	"github.com/himanishpuri/drumscribe/pkg/drumscribe"
	"github.com/himanishpuri/drumscribe/pkg/logger"
	"github.com/himanishpuri/drumscribe/pkg/utils"
)

// UploadField is the multipart field carrying the audio file.
const UploadField = "audio_file"

const msgProcessingStarted = "File uploaded successfully. Processing started."

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service drumscribe.Service
	config  *ServerConfig
	log     drumscribe.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	AllowedOrigins []string
	MaxUploadBytes uint64
}

// NewServer creates a new server instance
func NewServer(service drumscribe.Service, config *ServerConfig, log drumscribe.Logger) *Server {
	if log == nil {
		log = logger.GetLogger()
	}
	if config.MaxUploadBytes == 0 {
		config.MaxUploadBytes = 200 * humanize.MByte
	}
	return &Server{
		service: service,
		config:  config,
		log:     log,
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "drumscribe API",
		"version": version,
		"endpoints": map[string]string{
			"health":       "GET /health",
			"process":      "POST /api/process",
			"processVideo": "POST /api/process/youtube",
			"result":       "GET /api/result/{jobId}",
			"midi":         "GET /download/midi/{jobId}",
			"pdf":          "GET /download/pdf/{jobId}",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, HealthResponse{
		Status: "healthy",
		Time:   time.Now().Format(time.RFC3339),
	})
}

// handleProcess handles POST /api/process
func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	limit := int64(s.config.MaxUploadBytes)
	if r.ContentLength > limit {
		s.respondTooLarge(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			s.respondTooLarge(w)
			return
		}
		s.log.Warnf("Failed to parse form: %v", err)
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(UploadField)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "No file part")
		return
	}
	defer file.Close()

	if header.Filename == "" || header.Size == 0 {
		s.respondError(w, http.StatusBadRequest, "No selected file")
		return
	}

	jobID, err := s.service.Submit(r.Context(), header.Filename, file)
	if err != nil {
		s.log.Errorf("Failed to submit %s: %v", header.Filename, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to save uploaded file")
		return
	}

	s.respondJSON(w, http.StatusAccepted, ProcessResponse{JobID: jobID, Message: msgProcessingStarted})
}

func (s *Server) respondTooLarge(w http.ResponseWriter) {
	s.respondError(w, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("upload exceeds %s", humanize.Bytes(s.config.MaxUploadBytes)))
}

// handleProcessYouTube handles POST /api/process/youtube
func (s *Server) handleProcessYouTube(w http.ResponseWriter, r *http.Request) {
	var req YouTubeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !utils.IsYouTubeURL(req.URL) {
		s.respondError(w, http.StatusBadRequest, "url is not a YouTube video link")
		return
	}

	jobID, err := s.service.SubmitYouTube(r.Context(), req.URL)
	if err != nil {
		s.log.Errorf("Failed to submit %s: %v", req.URL, err)
		s.respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.respondJSON(w, http.StatusAccepted, ProcessResponse{JobID: jobID, Message: "Download queued. Processing will start shortly."})
}

// handleResult handles GET /api/result/{jobId}
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	job, err := s.service.Status(jobID)
	if errors.Is(err, apperrors.ErrJobNotFound) {
		s.respondError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		s.log.Errorf("Failed to load job %s: %v", jobID, err)
		s.respondError(w, http.StatusInternalServerError, "Failed to load job")
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

// handleDownloadMIDI handles GET /download/midi/{jobId}
func (s *Server) handleDownloadMIDI(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, drumscribe.ArtifactMIDI, "audio/midi", "attachment", ".mid")
}

// handleDownloadPDF handles GET /download/pdf/{jobId}
func (s *Server) handleDownloadPDF(w http.ResponseWriter, r *http.Request) {
	s.serveArtifact(w, r, drumscribe.ArtifactPDF, "application/pdf", "inline", ".pdf")
}

func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request, kind drumscribe.Artifact, contentType, disposition, ext string) {
	jobID := chi.URLParam(r, "jobId")
	path, err := s.service.ResultPath(jobID, kind)
	if err != nil {
		if !errors.Is(err, apperrors.ErrJobNotFound) && !errors.Is(err, apperrors.ErrArtifactMissing) {
			s.log.Errorf("Failed to locate %s for %s: %v", kind, jobID, err)
		}
		s.respondError(w, http.StatusNotFound, "File not found")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, jobID+ext))
	http.ServeFile(w, r, path)
}
