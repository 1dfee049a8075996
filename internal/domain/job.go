package domain

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
)

type JobStatus string

const (
	StatusQueued   JobStatus = "queued"
	StatusActive   JobStatus = "active"
	StatusPaused   JobStatus = "paused"
	StatusBuilding JobStatus = "building" // Merging part files
	StatusComplete JobStatus = "complete"
	StatusFailed   JobStatus = "failed"
	StatusRemoved  JobStatus = "removed"
)

var jobTransitions = map[JobStatus][]JobStatus{
	StatusQueued:   {StatusActive, StatusRemoved},
	StatusActive:   {StatusPaused, StatusBuilding, StatusFailed, StatusRemoved},
	StatusPaused:   {StatusActive, StatusRemoved},
	StatusBuilding: {StatusComplete, StatusFailed},
	StatusFailed:   {StatusActive, StatusBuilding, StatusRemoved},
	StatusComplete: {},
	StatusRemoved:  {},
}

// CanTransition reports whether a job may move from s to next.
func (s JobStatus) CanTransition(next JobStatus) bool {
	for _, allowed := range jobTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool {
	return s == StatusComplete || s == StatusRemoved
}

// Job is the aggregate root of one download. Its JSON form is the sidecar
// snapshot written next to the destination file.
type Job struct {
	ID            string         `json:"id,omitempty"`
	URL           string         `json:"url"`
	SaveDirectory string         `json:"saveDirectory"`
	Filename      string         `json:"filename"`
	Filesize      int64          `json:"filesize"`
	Status        JobStatus      `json:"status"`
	Progress      float64        `json:"progress"`
	Speed         float64        `json:"speed"`
	Threads       int            `json:"threads"`
	Complete      int64          `json:"complete"`
	Positions     []int64        `json:"positions"`
	SegmentsRange []SegmentRange `json:"segmentsRange"`
	PartFiles     []string       `json:"partFiles"`
	Headers       http.Header    `json:"headers,omitempty"`
}

// NewJob builds a fresh job record for the planned ranges.
func NewJob(url, saveDir, filename string, size int64, ranges []SegmentRange, header http.Header) *Job {
	dest := filepath.Join(saveDir, filename)

	parts := make([]string, len(ranges))
	for i := range ranges {
		parts[i] = PartPath(dest, i)
	}

	return &Job{
		URL:           url,
		SaveDirectory: saveDir,
		Filename:      filename,
		Filesize:      size,
		Status:        StatusActive,
		Threads:       len(ranges),
		Positions:     make([]int64, len(ranges)),
		SegmentsRange: ranges,
		PartFiles:     parts,
		Headers:       header,
	}
}

// PartPath returns the deterministic part file name of segment i.
func PartPath(dest string, i int) string {
	return dest + ".part." + strconv.Itoa(i)
}

// SidecarPath returns where the snapshot of the job writing dest is kept.
func SidecarPath(dest string) string {
	return dest + ".json"
}

// Path returns the destination of the merged artifact.
func (j *Job) Path() string {
	return filepath.Join(j.SaveDirectory, j.Filename)
}

// Transition moves the job to next or rejects the move.
func (j *Job) Transition(next JobStatus) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("%w: job %s -> %s", ErrInvalidTransition, j.Status, next)
	}
	j.Status = next
	return nil
}

// Recalculate restores the aggregate invariants from the per-segment positions.
func (j *Job) Recalculate() {
	var total int64
	for _, p := range j.Positions {
		total += p
	}
	j.Complete = total

	if j.Filesize > 0 {
		j.Progress = float64(total) / float64(j.Filesize) * 100
	} else {
		j.Progress = 0
	}
}

// Validate checks the structural invariants of a restored snapshot.
func (j *Job) Validate() error {
	n := j.Threads
	if n < 1 || len(j.SegmentsRange) != n || len(j.PartFiles) != n {
		return fmt.Errorf("snapshot has %d threads, %d ranges, %d part files", n, len(j.SegmentsRange), len(j.PartFiles))
	}
	if len(j.Positions) != n {
		// Older snapshots may omit positions; they are rebuilt from disk anyway.
		j.Positions = make([]int64, n)
	}

	var next int64
	for i, r := range j.SegmentsRange {
		if r.Start != next || r.Len() < 0 {
			return fmt.Errorf("snapshot range %d [%d,%d] is not contiguous", i, r.Start, r.End)
		}
		next = r.End + 1
	}
	if next != j.Filesize {
		return fmt.Errorf("snapshot ranges cover %d bytes, want %d", next, j.Filesize)
	}
	return nil
}

// Clone returns a deep copy that is safe to hand to observers.
func (j *Job) Clone() Job {
	c := *j
	c.Positions = append([]int64(nil), j.Positions...)
	c.SegmentsRange = append([]SegmentRange(nil), j.SegmentsRange...)
	c.PartFiles = append([]string(nil), j.PartFiles...)
	if j.Headers != nil {
		c.Headers = j.Headers.Clone()
	}
	return c
}
