package engine

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/datallboy/rangedl/internal/domain"
)

// Merge assembles the part files, in order, into dest and returns the path
// actually written. An existing file at dest is never overwritten; the first
// free "name_N.ext" next to it is used instead. Part files are left in place
// (a single part is moved, not copied).
func Merge(parts []string, dest string) (string, error) {
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: no part files", domain.ErrMerge)
	}

	final, err := freePath(dest)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrMerge, err)
	}

	if len(parts) == 1 {
		if err := os.Rename(parts[0], final); err != nil {
			return "", fmt.Errorf("%w: %v", domain.ErrMerge, err)
		}
		return final, nil
	}

	tmp := final + ".merging"
	if err := concat(parts, tmp); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("%w: %v", domain.ErrMerge, err)
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("%w: %v", domain.ErrMerge, err)
	}

	return final, nil
}

func concat(parts []string, destPath string) error {
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}

	for _, part := range parts {
		if err := appendPart(part, out); err != nil {
			out.Close()
			return err
		}
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func appendPart(srcPath string, dst io.Writer) error {
	src, err := os.Open(srcPath)
	if err != nil {
		// If a segment is missing, the whole file is corrupt.
		return fmt.Errorf("missing part file %s: %w", srcPath, err)
	}
	defer src.Close()

	// Stream the segment into the final file
	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copy part file %s: %w", srcPath, err)
	}
	return nil
}

func freePath(dest string) (string, error) {
	if _, err := os.Stat(dest); errors.Is(err, os.ErrNotExist) {
		return dest, nil
	} else if err != nil {
		return "", err
	}

	dir := filepath.Dir(dest)
	ext := filepath.Ext(dest)
	stem := strings.TrimSuffix(filepath.Base(dest), ext)

	for i := 1; ; i++ {
		candidate := filepath.Join(dir, stem+"_"+strconv.Itoa(i)+ext)
		if _, err := os.Stat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
	}
}

// removeParts deletes part files, ignoring ones already gone.
func removeParts(parts []string) error {
	var errs []error
	for _, p := range parts {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
