package engine

import "testing"

func TestPlanRangesCoversSize(t *testing.T) {
	sizes := []int64{0, 1, 2, 7, 100, 1000, 10000, 10001, 1 << 20, 123456789}
	counts := []int{1, 2, 3, 4, 7, 8, 16, 32}

	for _, size := range sizes {
		for _, n := range counts {
			ranges, err := PlanRanges(size, n)
			if err != nil {
				t.Fatalf("PlanRanges(%d, %d): %v", size, n, err)
			}
			if len(ranges) != n {
				t.Fatalf("PlanRanges(%d, %d) returned %d ranges", size, n, len(ranges))
			}

			var next, total int64
			for i, r := range ranges {
				if r.Start != next {
					t.Fatalf("PlanRanges(%d, %d): range %d starts at %d, want %d", size, n, i, r.Start, next)
				}
				next = r.End + 1
				total += r.Len()
			}
			if total != size || next != size {
				t.Errorf("PlanRanges(%d, %d) covers %d bytes", size, n, total)
			}
		}
	}
}

func TestPlanRangesLastAbsorbsRemainder(t *testing.T) {
	ranges, err := PlanRanges(10, 3)
	if err != nil {
		t.Fatal(err)
	}

	want := []int64{3, 3, 4}
	for i, r := range ranges {
		if r.Len() != want[i] {
			t.Errorf("range %d has %d bytes, want %d", i, r.Len(), want[i])
		}
	}
}

func TestPlanRangesRejectsBadInput(t *testing.T) {
	if _, err := PlanRanges(100, 0); err == nil {
		t.Error("expected an error for zero connections")
	}
	if _, err := PlanRanges(-1, 4); err == nil {
		t.Error("expected an error for a negative size")
	}
}

func TestConnectionsFor(t *testing.T) {
	tests := []struct {
		name      string
		requested int
		size      int64
		ranges    bool
		want      int
	}{
		{"ranges supported", 8, 10000, true, 8},
		{"no ranges", 8, 10000, false, 1},
		{"empty resource", 8, 0, true, 1},
		{"fewer bytes than connections", 8, 3, true, 3},
		{"one connection", 1, 10000, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := connectionsFor(tt.requested, tt.size, tt.ranges); got != tt.want {
				t.Errorf("connectionsFor(%d, %d, %t) = %d, want %d", tt.requested, tt.size, tt.ranges, got, tt.want)
			}
		})
	}
}
