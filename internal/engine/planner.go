package engine

import (
	"fmt"

	"github.com/datallboy/rangedl/internal/domain"
)

// PlanRanges splits [0, size) into n contiguous ranges of nearly equal length.
// The last range absorbs the remainder.
func PlanRanges(size int64, n int) ([]domain.SegmentRange, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: connection count %d", domain.ErrInvalidInput, n)
	}
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", domain.ErrMetadata, size)
	}

	base := size / int64(n)
	ranges := make([]domain.SegmentRange, n)

	for i := 0; i < n; i++ {
		start := base * int64(i)
		ranges[i] = domain.SegmentRange{Start: start, End: start + base - 1}
	}
	ranges[n-1].End = size - 1

	return ranges, nil
}

// connectionsFor picks the segment count actually planned for a resource.
func connectionsFor(requested int, size int64, rangeSupported bool) int {
	switch {
	case !rangeSupported, size == 0:
		return 1
	case size < int64(requested):
		return int(size)
	default:
		return requested
	}
}
