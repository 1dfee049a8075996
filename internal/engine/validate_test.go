package engine

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/datallboy/rangedl/internal/domain"
)

func TestValidateInputs(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		url      string
		conns    int
		dir      string
		filename string
		ok       bool
	}{
		{"valid", "https://example.com/f.zip", 4, dir, "f.zip", true},
		{"empty filename", "http://example.com/f.zip", 1, dir, "", false},
		{"no scheme", "example.com/f.zip", 4, dir, "", false},
		{"ftp", "ftp://example.com/f.zip", 4, dir, "", false},
		{"no host", "http:///f.zip", 4, dir, "", false},
		{"zero connections", "http://example.com/f", 0, dir, "", false},
		{"negative connections", "http://example.com/f", -2, dir, "", false},
		{"missing dir", "http://example.com/f", 4, filepath.Join(dir, "missing"), "", false},
		{"path in filename", "http://example.com/f", 4, dir, "../f", false},
		{"dot dot", "http://example.com/f", 4, dir, "..", false},
		{"reserved char", "http://example.com/f", 4, dir, "a:b", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateInputs(tt.url, tt.conns, tt.dir, tt.filename)
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}
