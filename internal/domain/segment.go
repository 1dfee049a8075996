package domain

import "fmt"

// SegmentRange is an inclusive byte range [Start, End] of the remote resource.
// An empty range has End == Start-1.
type SegmentRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// Len returns the number of bytes covered by the range.
func (r SegmentRange) Len() int64 {
	return r.End - r.Start + 1
}

// Header renders the range as an HTTP Range header value starting at offset.
func (r SegmentRange) Header(offset int64) string {
	return fmt.Sprintf("bytes=%d-%d", offset, r.End)
}

type SegmentStatus string

const (
	SegmentIdle      SegmentStatus = "idle"
	SegmentRunning   SegmentStatus = "running"
	SegmentClosed    SegmentStatus = "closed"
	SegmentEnded     SegmentStatus = "ended"
	SegmentDestroyed SegmentStatus = "destroyed"
	SegmentError     SegmentStatus = "error"
)

var segmentTransitions = map[SegmentStatus][]SegmentStatus{
	SegmentIdle:      {SegmentRunning, SegmentEnded, SegmentError, SegmentDestroyed},
	SegmentRunning:   {SegmentEnded, SegmentClosed, SegmentDestroyed, SegmentError},
	SegmentClosed:    {SegmentRunning, SegmentDestroyed},
	SegmentError:     {SegmentRunning, SegmentDestroyed},
	SegmentEnded:     {SegmentDestroyed},
	SegmentDestroyed: {},
}

// CanTransition reports whether a segment may move from s to next.
func (s SegmentStatus) CanTransition(next SegmentStatus) bool {
	for _, allowed := range segmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Resumable reports whether Start is accepted in this state.
func (s SegmentStatus) Resumable() bool {
	return s == SegmentIdle || s == SegmentClosed || s == SegmentError
}

// ProbeResult is what the transfer probe learned about a resource.
type ProbeResult struct {
	Length         int64
	RangeSupported bool
}
