package sys

import (
	"errors"
	"os"
	"time"
)

// ErrLocked is returned when another process holds the directory lock.
var ErrLocked = errors.New("data directory is locked by another process")

// AcquireDirLock takes an exclusive advisory lock on lockPath, retrying until
// timeout elapses. The returned release function unlocks and closes the file.
// The lock file itself is left in place; its presence carries no meaning.
func AcquireDirLock(lockPath string, timeout time.Duration) (func() error, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	for {
		err = tryLock(f)
		if err == nil {
			return func() error {
				unlockErr := unlock(f)
				return errors.Join(unlockErr, f.Close())
			}, nil
		}
		if !errors.Is(err, ErrLocked) || time.Now().After(deadline) {
			_ = f.Close()
			return nil, err
		}
		time.Sleep(25 * time.Millisecond)
	}
}
