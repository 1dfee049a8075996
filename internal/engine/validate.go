package engine

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/datallboy/rangedl/internal/domain"
)

// ValidateInputs rejects requests that must never reach the network.
// filename must already be derived; it has to name a file directly inside saveDir.
func ValidateInputs(rawURL string, connections int, saveDir, filename string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: invalid URL %q", domain.ErrInvalidInput, rawURL)
	}

	if connections < 1 {
		return fmt.Errorf("%w: invalid number of connections %d", domain.ErrInvalidInput, connections)
	}

	info, err := os.Stat(saveDir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: invalid save directory %q", domain.ErrInvalidInput, saveDir)
	}

	if !safeFilename(filename) {
		return fmt.Errorf("%w: invalid file name %q", domain.ErrInvalidInput, filename)
	}

	return nil
}

func safeFilename(name string) bool {
	if name == "" || name == "." || name == ".." || filepath.Base(name) != name {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00:*?\"<>|")
}
