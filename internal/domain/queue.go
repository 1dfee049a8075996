package domain

import (
	"context"
	"net/http"
	"time"
)

// JobRequest is what a caller submits to the scheduler.
type JobRequest struct {
	URL           string      `json:"url"`
	SaveDirectory string      `json:"saveDirectory,omitempty"`
	Filename      string      `json:"filename,omitempty"`
	Connections   int         `json:"connections,omitempty"`
	Headers       http.Header `json:"headers,omitempty"`
}

// QueueItem represents one scheduled download and its catalog entry
type QueueItem struct {
	ID            string      `json:"id"`
	URL           string      `json:"url"`
	SaveDirectory string      `json:"saveDirectory"`
	Filename      string      `json:"filename"`
	Connections   int         `json:"connections"`
	Headers       http.Header `json:"headers,omitempty"`
	Status        JobStatus   `json:"status"`

	TotalBytes    int64   `json:"total_bytes"`
	BytesComplete int64   `json:"bytes_complete"`
	Progress      float64 `json:"progress"`
	Speed         float64 `json:"speed"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`

	CancelFunc context.CancelFunc `json:"-"`
}

// ApplySnapshot copies the observable job state onto the queue item.
func (q *QueueItem) ApplySnapshot(j Job) {
	q.Status = j.Status
	q.Filename = j.Filename
	q.TotalBytes = j.Filesize
	q.BytesComplete = j.Complete
	q.Progress = j.Progress
	q.Speed = j.Speed
	q.UpdatedAt = time.Now()
}

// Copy returns a value copy without the cancel hook.
func (q *QueueItem) Copy() QueueItem {
	c := *q
	c.CancelFunc = nil
	if q.Headers != nil {
		c.Headers = q.Headers.Clone()
	}
	return c
}
