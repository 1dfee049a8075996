package controllers

import (
	"net/http"

	"github.com/datallboy/rangedl/internal/domain"
)

// createJobRequest is the body of POST /api/jobs.
type createJobRequest struct {
	URL         string            `json:"url"`
	Connections int               `json:"connections,omitempty"`
	Filename    string            `json:"filename,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

func (r createJobRequest) toDomain() domain.JobRequest {
	req := domain.JobRequest{
		URL:         r.URL,
		Connections: r.Connections,
		Filename:    r.Filename,
	}
	if len(r.Headers) > 0 {
		req.Headers = make(http.Header, len(r.Headers))
		for k, v := range r.Headers {
			req.Headers.Set(k, v)
		}
	}
	return req
}

type errorResponse struct {
	Error string `json:"error"`
}

type jobListResponse struct {
	Jobs  []domain.QueueItem `json:"jobs"`
	Count int                `json:"count"`
}
