package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/datallboy/rangedl/internal/domain"
)

// jobDBO maps to the jobs table
type jobDBO struct {
	ID            string         `db:"id"`
	URL           string         `db:"url"`
	SaveDirectory string         `db:"save_directory"`
	Filename      string         `db:"filename"`
	Connections   int            `db:"connections"`
	Headers       sql.NullString `db:"headers"`
	Status        string         `db:"status"`
	TotalBytes    int64          `db:"total_bytes"`
	BytesComplete int64          `db:"bytes_complete"`
	Progress      float64        `db:"progress"`
	Error         sql.NullString `db:"error"`
	CreatedAt     int64          `db:"created_at"`
	UpdatedAt     int64          `db:"updated_at"`
}

// Mapper: DBO to Domain QueueItem
func (j *jobDBO) ToDomain() (*domain.QueueItem, error) {
	item := &domain.QueueItem{
		ID:            j.ID,
		URL:           j.URL,
		SaveDirectory: j.SaveDirectory,
		Filename:      j.Filename,
		Connections:   j.Connections,
		Status:        domain.JobStatus(j.Status),
		TotalBytes:    j.TotalBytes,
		BytesComplete: j.BytesComplete,
		Progress:      j.Progress,
		Error:         j.Error.String,
		CreatedAt:     time.Unix(0, j.CreatedAt),
		UpdatedAt:     time.Unix(0, j.UpdatedAt),
	}

	if j.Headers.Valid && j.Headers.String != "" {
		var h http.Header
		if err := json.Unmarshal([]byte(j.Headers.String), &h); err != nil {
			return nil, fmt.Errorf("failed to decode headers for %s: %w", j.ID, err)
		}
		item.Headers = h
	}

	return item, nil
}

// Mapper: Domain QueueItem to DBO
func (j *jobDBO) FromDomain(item *domain.QueueItem) error {
	j.ID = item.ID
	j.URL = item.URL
	j.SaveDirectory = item.SaveDirectory
	j.Filename = item.Filename
	j.Connections = item.Connections
	j.Status = string(item.Status)
	j.TotalBytes = item.TotalBytes
	j.BytesComplete = item.BytesComplete
	j.Progress = item.Progress
	j.Error = sql.NullString{String: item.Error, Valid: item.Error != ""}
	j.CreatedAt = item.CreatedAt.UnixNano()
	j.UpdatedAt = item.UpdatedAt.UnixNano()

	j.Headers = sql.NullString{}
	if len(item.Headers) > 0 {
		data, err := json.Marshal(item.Headers)
		if err != nil {
			return fmt.Errorf("failed to encode headers: %w", err)
		}
		j.Headers = sql.NullString{String: string(data), Valid: true}
	}

	return nil
}
