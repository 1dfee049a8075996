package engine

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestSpeedEstimatorFirstReadingIsZero(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewSpeedEstimator(4)
	s.now = clock.Now

	if got := s.Update(5000); got != 0 {
		t.Errorf("first reading = %v, want 0", got)
	}
}

func TestSpeedEstimatorWindowMean(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewSpeedEstimator(2)
	s.now = clock.Now

	s.Update(0)

	clock.Advance(time.Second)
	if got := s.Update(100); got != 100 {
		t.Errorf("after one sample = %v, want 100", got)
	}

	clock.Advance(time.Second)
	if got := s.Update(400); got != 200 {
		t.Errorf("mean of 100 and 300 = %v, want 200", got)
	}

	// The window holds two samples, so the oldest one drops out.
	clock.Advance(time.Second)
	if got := s.Update(500); got != 200 {
		t.Errorf("mean of 300 and 100 = %v, want 200", got)
	}
}

func TestSpeedEstimatorClampsNegativeDelta(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewSpeedEstimator(1)
	s.now = clock.Now

	s.Update(1000)
	clock.Advance(time.Second)
	if got := s.Update(200); got != 0 {
		t.Errorf("shrinking total gave %v, want 0", got)
	}
}

func TestSpeedEstimatorIgnoresZeroInterval(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := NewSpeedEstimator(4)
	s.now = clock.Now

	s.Update(0)
	clock.Advance(time.Second)
	s.Update(100)

	if got := s.Update(900); got != 100 {
		t.Errorf("reading at the same instant changed the rate to %v", got)
	}
}
