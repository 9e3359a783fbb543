package mpwbuild

import (
	"os"
	"path/filepath"
	"strings"
)

// Marker files written into a dependency root. Presence means the step
// is permanently complete for that checkout; absence means it must run.
// A marker is written only after its step fully succeeded.
const (
	markerAcquired = ".acquired"
	markerPatched  = ".patched"
	versionStamp   = ".version"
)

// StateStore records durable per-dependency pipeline state. The
// production store is the filesystem; tests use an in-memory fake.
// All methods key on the dependency root directory.
type StateStore interface {
	Acquired(root string) bool
	MarkAcquired(root string) error
	Patched(root string) bool
	MarkPatched(root string) error
	// RecordVersion stamps the revision identifier a VCS strategy
	// resolved for this checkout.
	RecordVersion(root, version string) error
}

// DiskState is the on-disk StateStore: dotted sentinel files in the
// dependency root.
type DiskState struct{}

func (DiskState) Acquired(root string) bool {
	return fileExists(filepath.Join(root, markerAcquired))
}

func (DiskState) MarkAcquired(root string) error {
	return writeMarker(filepath.Join(root, markerAcquired))
}

func (DiskState) Patched(root string) bool {
	return fileExists(filepath.Join(root, markerPatched))
}

func (DiskState) MarkPatched(root string) error {
	return writeMarker(filepath.Join(root, markerPatched))
}

func (DiskState) RecordVersion(root, version string) error {
	if !strings.HasSuffix(version, "\n") {
		version += "\n"
	}
	return os.WriteFile(filepath.Join(root, versionStamp), []byte(version), 0o644)
}

func writeMarker(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, nil, 0o644)
}
