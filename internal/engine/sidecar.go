package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/datallboy/rangedl/internal/domain"
)

// LoadSidecar reads the job snapshot at path. A missing file returns
// os.ErrNotExist; an unreadable or invalid one is reported as such so the
// caller can treat the job as new.
func LoadSidecar(path string) (*domain.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var job domain.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("decode sidecar %s: %w", path, err)
	}

	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("sidecar %s: %w", path, err)
	}

	return &job, nil
}

// SaveSidecar writes the snapshot next to its final name and renames it into
// place so a crash never leaves a half-written sidecar behind. The snapshot
// carries request headers, which may hold credentials, so it is owner-only.
func SaveSidecar(path string, job *domain.Job) error {
	data, err := json.MarshalIndent(job, "", "    ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}

	tmp := path + ".tmp"
	// A stale temp file would keep its old mode.
	os.Remove(tmp)
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write sidecar: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace sidecar: %w", err)
	}

	return nil
}

// RemoveSidecar deletes the snapshot; a missing file is not an error.
func RemoveSidecar(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Discard deletes whatever an unfinished download of dest left behind: the
// part files named in its sidecar and the sidecar itself.
func Discard(dest string) error {
	sidecar := domain.SidecarPath(dest)

	var errs []error
	if job, err := LoadSidecar(sidecar); err == nil {
		errs = append(errs, removeParts(job.PartFiles))
	}
	errs = append(errs, RemoveSidecar(sidecar))

	return errors.Join(errs...)
}
