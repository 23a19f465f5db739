package main

import (
	"errors"
	"strings"
)

// ProcessResponse is returned by both submission endpoints.
type ProcessResponse struct {
	JobID   string `json:"jobId"`
	Message string `json:"message"`
}

// YouTubeRequest is the request body for POST /api/process/youtube
type YouTubeRequest struct {
	URL string `json:"url"`
}

// Validate checks if the request is valid
func (r *YouTubeRequest) Validate() error {
	r.URL = strings.TrimSpace(r.URL)
	if r.URL == "" {
		return errors.New("url is required")
	}
	return nil
}

// HealthResponse is the response for GET /health
type HealthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
