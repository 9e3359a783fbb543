package mpwbuild

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

const lockFileName = ".mpwbuild.lock"

// acquireRunLock takes an exclusive advisory lock under the library
// directory and returns its release function. Two runs mutating the
// same dependency roots would race on markers, so the second run fails
// immediately instead of blocking.
func acquireRunLock(libDir string) (func(), error) {
	if err := os.MkdirAll(libDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create library directory %s: %w", libDir, err)
	}

	path := filepath.Join(libDir, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, fmt.Errorf("another mpwbuild instance is already running in this directory")
		}
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}

	release := func() {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
	}
	return release, nil
}
