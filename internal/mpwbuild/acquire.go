package mpwbuild

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Builder drives dependency acquisition and target assembly for one
// run. It owns the resolved configuration, the command runner, and the
// marker store. Compiler and feature probes are memoized per run, not
// per target.
type Builder struct {
	cfg   *Config
	exec  runner
	state StateStore

	ccPath     string
	ccErr      error
	ccResolved bool

	colorOpts *featureFlags
}

func NewBuilder(cfg *Config, exec runner, state StateStore) *Builder {
	return &Builder{cfg: cfg, exec: exec, state: state}
}

// acquireStrategy is one way of getting sources into a dependency
// root. Strategies are tried in a fixed order; the first applicable
// one runs and the rest are never consulted.
type acquireStrategy struct {
	name       string
	applicable func(dep *Dependency, root string) bool
	execute    func(dep *Dependency, root string) error
}

func (d *Dependency) archiveName() string {
	parts := strings.Split(d.Archive, "/")
	return parts[len(parts)-1]
}

func (b *Builder) acquireStrategies() []acquireStrategy {
	return []acquireStrategy{
		{
			name: "marker",
			applicable: func(dep *Dependency, root string) bool {
				return b.state.Acquired(root)
			},
			execute: func(dep *Dependency, root string) error {
				debugf("Sources for %s already acquired\n", dep.Name)
				return nil
			},
		},
		{
			name: "cached archive",
			applicable: func(dep *Dependency, root string) bool {
				if dep.Archive == "" || !fileExists(filepath.Join(root, dep.archiveName())) {
					return false
				}
				// Only when the root holds nothing else: leftover files
				// mean a prior extraction or a checkout, not a fresh cache.
				names, err := visibleEntries(root)
				if err != nil {
					return false
				}
				return len(names) == 1 && names[0] == dep.archiveName()
			},
			execute: func(dep *Dependency, root string) error {
				staged, err := stageArchive(root, filepath.Join(root, dep.archiveName()), dep.Digest)
				if err != nil {
					return err
				}
				if !staged {
					return nil
				}
				return b.state.MarkAcquired(root)
			},
		},
		{
			name: "git clone",
			applicable: func(dep *Dependency, root string) bool {
				if dep.Git == "" {
					return false
				}
				_, err := b.exec.LookPath("git")
				return err == nil
			},
			execute: func(dep *Dependency, root string) error {
				cPrintf(colInfo, "Cloning git repository %s into %s\n", dep.Git, root)
				if err := b.gitClone(dep.Git, root); err != nil {
					return err
				}
				if version, err := b.gitDescribe(root); err == nil {
					if err := b.state.RecordVersion(root, version); err != nil {
						return err
					}
				} else {
					debugf("Skipping version stamp for %s: %v\n", dep.Name, err)
				}
				return b.state.MarkAcquired(root)
			},
		},
		{
			name: "git svn clone",
			applicable: func(dep *Dependency, root string) bool {
				return dep.Svn != "" && b.gitSvnUsable()
			},
			execute: func(dep *Dependency, root string) error {
				cPrintf(colInfo, "Cloning svn repository %s into %s via git svn\n", dep.Svn, root)
				if err := b.gitSvnClone(dep.Svn, root); err != nil {
					return err
				}
				if version, err := b.gitDescribe(root); err == nil {
					if err := b.state.RecordVersion(root, version); err != nil {
						return err
					}
				} else {
					debugf("Skipping version stamp for %s: %v\n", dep.Name, err)
				}
				return b.state.MarkAcquired(root)
			},
		},
		{
			name: "svn checkout",
			applicable: func(dep *Dependency, root string) bool {
				if dep.Svn == "" {
					return false
				}
				_, err := b.exec.LookPath("svn")
				return err == nil
			},
			execute: func(dep *Dependency, root string) error {
				cPrintf(colInfo, "Checking out svn repository %s into %s\n", dep.Svn, root)
				if err := b.svnCheckout(dep.Svn, root); err != nil {
					return err
				}
				if version, err := b.svnRevision(root); err == nil {
					if err := b.state.RecordVersion(root, version); err != nil {
						return err
					}
				} else {
					debugf("Skipping version stamp for %s: %v\n", dep.Name, err)
				}
				return b.state.MarkAcquired(root)
			},
		},
		{
			name: "archive download",
			applicable: func(dep *Dependency, root string) bool {
				return dep.Archive != ""
			},
			execute: func(dep *Dependency, root string) error {
				arrowf("Fetching source: %s\n", dep.archiveName())
				archivePath := filepath.Join(root, dep.archiveName())
				if err := b.downloadFile(dep.Archive, archivePath); err != nil {
					os.Remove(archivePath)
					return fmt.Errorf("failed to download %s: %w", dep.Archive, err)
				}
				staged, err := stageArchive(root, archivePath, dep.Digest)
				if err != nil {
					return err
				}
				if !staged {
					return nil
				}
				return b.state.MarkAcquired(root)
			},
		},
	}
}

// acquireSource places the dependency's sources into its root, then
// applies any configured patches. Repeat runs hit the marker strategy
// and do no network or filesystem work.
func (b *Builder) acquireSource(dep *Dependency) error {
	root := depRoot(b.cfg, dep.Name)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("failed to create dependency root %s: %w", root, err)
	}

	for _, s := range b.acquireStrategies() {
		if !s.applicable(dep, root) {
			continue
		}
		debugf("Acquiring %s via %s strategy\n", dep.Name, s.name)
		if err := s.execute(dep, root); err != nil {
			return err
		}
		return b.applyPatches(dep, root)
	}
	return fmt.Errorf("no way to acquire %s: configure an archive, git, or svn upstream", dep.Name)
}

// applyPatches runs each configured patch with -p1 inside the
// dependency root. The patched marker is written only after every
// patch succeeds, so a partial failure retries the whole series.
func (b *Builder) applyPatches(dep *Dependency, root string) error {
	if len(dep.Patches) == 0 {
		return nil
	}
	if b.state.Patched(root) {
		debugf("Patches for %s already applied\n", dep.Name)
		return nil
	}

	for _, id := range dep.Patches {
		pf := patchPath(b.cfg, dep.Name, id)
		if !fileExists(pf) {
			return fmt.Errorf("missing patch file %s for dependency %s", pf, dep.Name)
		}
		abs, err := filepath.Abs(pf)
		if err != nil {
			return err
		}
		arrowf("Applying patch %s\n", filepath.Base(pf))
		cmd := exec.Command("patch", "-p1", "-d", root, "-i", abs)
		if err := b.exec.Run(cmd); err != nil {
			return fmt.Errorf("patch %s failed for %s: %w", id, dep.Name, err)
		}
	}
	return b.state.MarkPatched(root)
}
