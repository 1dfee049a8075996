package domain

import (
	"errors"
	"net/http"
	"testing"
)

func TestJobTransitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		ok       bool
	}{
		{StatusQueued, StatusActive, true},
		{StatusActive, StatusPaused, true},
		{StatusPaused, StatusActive, true},
		{StatusActive, StatusBuilding, true},
		{StatusBuilding, StatusComplete, true},
		{StatusActive, StatusFailed, true},
		{StatusFailed, StatusActive, true},
		{StatusFailed, StatusBuilding, true},
		{StatusPaused, StatusRemoved, true},
		{StatusComplete, StatusActive, false},
		{StatusRemoved, StatusActive, false},
		{StatusPaused, StatusBuilding, false},
		{StatusBuilding, StatusPaused, false},
	}

	for _, tt := range tests {
		j := &Job{Status: tt.from}
		err := j.Transition(tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tt.from, tt.to, err)
		}
		if !tt.ok {
			if !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("%s -> %s: got %v, want ErrInvalidTransition", tt.from, tt.to, err)
			}
			if j.Status != tt.from {
				t.Errorf("%s -> %s: rejected move changed status to %s", tt.from, tt.to, j.Status)
			}
		}
	}
}

func TestSegmentTransitions(t *testing.T) {
	if !SegmentClosed.CanTransition(SegmentRunning) || !SegmentError.CanTransition(SegmentRunning) {
		t.Error("closed and errored segments must be restartable")
	}
	if SegmentEnded.CanTransition(SegmentRunning) || SegmentDestroyed.CanTransition(SegmentRunning) {
		t.Error("ended and destroyed segments must not restart")
	}
	if SegmentRunning.Resumable() || !SegmentIdle.Resumable() {
		t.Error("Resumable disagrees with the state machine")
	}
}

func TestNewJobAndRecalculate(t *testing.T) {
	ranges := []SegmentRange{{0, 499}, {500, 999}}
	j := NewJob("http://example.com/f", "/data", "f.bin", 1000, ranges, nil)

	if j.Path() != "/data/f.bin" {
		t.Errorf("Path = %s", j.Path())
	}
	if j.PartFiles[1] != "/data/f.bin.part.1" {
		t.Errorf("part file = %s", j.PartFiles[1])
	}
	if SidecarPath(j.Path()) != "/data/f.bin.json" {
		t.Errorf("sidecar = %s", SidecarPath(j.Path()))
	}

	j.Positions[0] = 500
	j.Positions[1] = 250
	j.Recalculate()
	if j.Complete != 750 || j.Progress != 75 {
		t.Errorf("Complete=%d Progress=%v", j.Complete, j.Progress)
	}

	empty := NewJob("http://example.com/e", "/data", "e", 0, []SegmentRange{{0, -1}}, nil)
	empty.Recalculate()
	if empty.Progress != 0 {
		t.Errorf("empty resource progress = %v", empty.Progress)
	}
}

func TestJobValidate(t *testing.T) {
	valid := func() *Job {
		return NewJob("u", "/d", "f", 10, []SegmentRange{{0, 4}, {5, 9}}, nil)
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("valid job rejected: %v", err)
	}

	gap := valid()
	gap.SegmentsRange[1].Start = 6
	if err := gap.Validate(); err == nil {
		t.Error("gap between ranges accepted")
	}

	short := valid()
	short.Filesize = 20
	if err := short.Validate(); err == nil {
		t.Error("ranges not covering the file accepted")
	}

	counts := valid()
	counts.PartFiles = counts.PartFiles[:1]
	if err := counts.Validate(); err == nil {
		t.Error("mismatched part file count accepted")
	}

	noPositions := valid()
	noPositions.Positions = nil
	if err := noPositions.Validate(); err != nil || len(noPositions.Positions) != 2 {
		t.Errorf("missing positions not rebuilt: %v", err)
	}
}

func TestJobClone(t *testing.T) {
	j := NewJob("u", "/d", "f", 10, []SegmentRange{{0, 9}}, http.Header{"X-Token": {"a"}})
	c := j.Clone()

	c.Positions[0] = 7
	c.Headers.Set("X-Token", "b")
	c.PartFiles[0] = "other"

	if j.Positions[0] != 0 || j.Headers.Get("X-Token") != "a" || j.PartFiles[0] == "other" {
		t.Error("clone shares state with the original")
	}
}

func TestSegmentRange(t *testing.T) {
	r := SegmentRange{Start: 100, End: 199}
	if r.Len() != 100 {
		t.Errorf("Len = %d", r.Len())
	}
	if h := r.Header(150); h != "bytes=150-199" {
		t.Errorf("Header = %s", h)
	}
	if (SegmentRange{Start: 0, End: -1}).Len() != 0 {
		t.Error("empty range should have zero length")
	}
}
