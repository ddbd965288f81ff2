//go:build unix

package batch

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// probeExclusiveLock tries LOCK_EX|LOCK_NB on the file. EWOULDBLOCK means
// someone else holds a lock. A missing file is not locked; the backend
// reports that condition itself.
func probeExclusiveLock(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("batch: opening %s for lock probe: %w", path, err)
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return true, nil
		}

		return false, fmt.Errorf("batch: probing lock on %s: %w", path, err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		return false, fmt.Errorf("batch: releasing lock probe on %s: %w", path, err)
	}

	return false, nil
}
