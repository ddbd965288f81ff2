package batch

// FileLocker reports whether a file target is exclusively locked by another
// holder. It probes with a non-blocking advisory lock and releases it
// immediately, so it never holds a target across a backend call.
type FileLocker struct{}

// NewFileLocker returns the platform lock checker.
func NewFileLocker() FileLocker {
	return FileLocker{}
}

// IsLocked implements Locker.
func (FileLocker) IsLocked(targetID string) (bool, error) {
	return probeExclusiveLock(targetID)
}

// noLocks is the Locker used when the caller supplies none.
type noLocks struct{}

func (noLocks) IsLocked(string) (bool, error) { return false, nil }
