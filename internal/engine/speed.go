package engine

import "time"

const defaultSpeedSamples = 4

// SpeedEstimator smooths byte-count readings into a transfer rate using the
// mean of a fixed window of instantaneous samples.
type SpeedEstimator struct {
	samples []float64
	next    int
	filled  int

	prevBytes int64
	prevTime  time.Time

	now func() time.Time
}

func NewSpeedEstimator(window int) *SpeedEstimator {
	if window <= 0 {
		window = defaultSpeedSamples
	}
	return &SpeedEstimator{
		samples: make([]float64, window),
		now:     time.Now,
	}
}

// Update records the aggregate completed byte count and returns the smoothed
// rate in bytes per second. The first reading only sets the baseline.
func (s *SpeedEstimator) Update(completed int64) float64 {
	now := s.now()

	if s.prevTime.IsZero() {
		s.prevTime = now
		s.prevBytes = completed
		return 0
	}

	dt := now.Sub(s.prevTime).Seconds()
	if dt > 0 {
		delta := completed - s.prevBytes
		if delta < 0 {
			// A truncated part file shrinks the total; that is not negative speed.
			delta = 0
		}

		s.samples[s.next] = float64(delta) / dt
		s.next = (s.next + 1) % len(s.samples)
		if s.filled < len(s.samples) {
			s.filled++
		}

		s.prevTime = now
		s.prevBytes = completed
	}

	return s.Mean()
}

// Mean returns the average of the samples currently in the window.
func (s *SpeedEstimator) Mean() float64 {
	if s.filled == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < s.filled; i++ {
		sum += s.samples[i]
	}
	return sum / float64(s.filled)
}
