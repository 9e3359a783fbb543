package mpwbuild

import (
	"archive/tar"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAcquireSourceMarkerShortCircuits(t *testing.T) {
	b, r, st := newTestBuilder(t)
	dep := &Dependency{Name: "widget", Git: "https://example.org/widget.git"}
	root := depRoot(b.cfg, "widget")
	st.MarkAcquired(root)

	if err := b.acquireSource(dep); err != nil {
		t.Fatalf("acquireSource: %v", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("marker run should execute nothing, got %v", r.calls)
	}
}

func TestAcquireSourceGitClone(t *testing.T) {
	b, r, st := newTestBuilder(t)
	dep := &Dependency{Name: "widget", Git: "https://example.org/widget.git"}
	root := depRoot(b.cfg, "widget")
	r.outputs["git describe --always --dirty"] = "v1.0-3-gabc"

	if err := b.acquireSource(dep); err != nil {
		t.Fatalf("acquireSource: %v", err)
	}

	want := [][]string{
		{"git", "clone", "https://example.org/widget.git", "."},
		{"git", "describe", "--always", "--dirty"},
	}
	if diff := cmp.Diff(want, r.calls); diff != "" {
		t.Errorf("command sequence mismatch (-want +got):\n%s", diff)
	}
	if r.dirs[0] != root {
		t.Errorf("clone ran in %q, want %q", r.dirs[0], root)
	}
	if !st.acquired[root] {
		t.Error("acquired marker not set")
	}
	if st.versions[root] != "v1.0-3-gabc" {
		t.Errorf("version = %q, want v1.0-3-gabc", st.versions[root])
	}
}

func TestAcquireSourceGitSvnBridge(t *testing.T) {
	b, r, st := newTestBuilder(t)
	dep := &Dependency{Name: "widget", Svn: "https://svn.example.org/widget/trunk"}
	root := depRoot(b.cfg, "widget")

	if err := b.acquireSource(dep); err != nil {
		t.Fatalf("acquireSource: %v", err)
	}

	want := [][]string{
		{"git", "svn", "--version"},
		{"git", "svn", "clone", "https://svn.example.org/widget/trunk", "."},
		{"git", "describe", "--always", "--dirty"},
	}
	if diff := cmp.Diff(want, r.calls); diff != "" {
		t.Errorf("command sequence mismatch (-want +got):\n%s", diff)
	}
	if !st.acquired[root] {
		t.Error("acquired marker not set")
	}
}

func TestAcquireSourceSvnFallback(t *testing.T) {
	b, r, st := newTestBuilder(t)
	dep := &Dependency{Name: "widget", Svn: "https://svn.example.org/widget/trunk"}
	root := depRoot(b.cfg, "widget")
	r.outErr["git svn --version"] = errors.New("git: 'svn' is not a git command")
	r.outputs["svn info --show-item revision"] = "1234"

	if err := b.acquireSource(dep); err != nil {
		t.Fatalf("acquireSource: %v", err)
	}

	want := [][]string{
		{"git", "svn", "--version"},
		{"svn", "checkout", "https://svn.example.org/widget/trunk", "."},
		{"svn", "info", "--show-item", "revision"},
	}
	if diff := cmp.Diff(want, r.calls); diff != "" {
		t.Errorf("command sequence mismatch (-want +got):\n%s", diff)
	}
	if st.versions[root] != "r1234" {
		t.Errorf("version = %q, want r1234", st.versions[root])
	}
}

func TestAcquireSourceNoStrategy(t *testing.T) {
	b, r, _ := newTestBuilder(t)
	dep := &Dependency{Name: "widget", Git: "https://example.org/widget.git"}
	r.lookErr["git"] = exec.ErrNotFound

	err := b.acquireSource(dep)
	if err == nil || !strings.Contains(err.Error(), "no way to acquire widget") {
		t.Fatalf("err = %v, want no-strategy error", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("unexpected commands: %v", r.calls)
	}
}

func TestAcquireSourceCachedArchive(t *testing.T) {
	b, r, st := newTestBuilder(t)
	dep := &Dependency{Name: "widget", Archive: "https://example.org/widget-1.0.tar.gz"}
	root := depRoot(b.cfg, "widget")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	archive := filepath.Join(root, "widget-1.0.tar.gz")
	writeTestArchive(t, archive, []tarEntry{
		{name: "widget-1.0/", typ: tar.TypeDir},
		{name: "widget-1.0/widget.c", content: "int widget;\n"},
	})
	digest, err := computeDigest(archive)
	if err != nil {
		t.Fatal(err)
	}
	dep.Digest = digest

	if err := b.acquireSource(dep); err != nil {
		t.Fatalf("acquireSource: %v", err)
	}

	if len(r.calls) != 0 {
		t.Errorf("cached staging should spawn nothing, got %v", r.calls)
	}
	if !fileExists(filepath.Join(root, "widget.c")) {
		t.Error("archive contents not staged into root")
	}
	if !st.acquired[root] {
		t.Error("acquired marker not set")
	}
}

func TestAcquireSourceCachedArchiveRequiresCleanRoot(t *testing.T) {
	b, r, st := newTestBuilder(t)
	dep := &Dependency{Name: "widget", Archive: "https://example.org/widget-1.0.tar.gz"}
	root := depRoot(b.cfg, "widget")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	archive := filepath.Join(root, "widget-1.0.tar.gz")
	writeTestArchive(t, archive, []tarEntry{
		{name: "widget-1.0/", typ: tar.TypeDir},
		{name: "widget-1.0/widget.c", content: "int widget;\n"},
	})
	digest, err := computeDigest(archive)
	if err != nil {
		t.Fatal(err)
	}
	dep.Digest = digest
	// A visible non-archive entry disqualifies the cached strategy.
	if err := os.WriteFile(filepath.Join(root, "notes.txt"), []byte("scratch\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r.hook = func(cmd *exec.Cmd) error {
		if cmd.Args[0] != "curl" {
			return nil
		}
		data, err := os.ReadFile(archive)
		if err != nil {
			return err
		}
		return os.WriteFile(cmd.Args[4], data, 0o644)
	}

	if err := b.acquireSource(dep); err != nil {
		t.Fatalf("acquireSource: %v", err)
	}
	if len(r.toolCalls("curl")) != 1 {
		t.Errorf("expected fallthrough to download, calls: %v", r.calls)
	}
	if !st.acquired[root] {
		t.Error("acquired marker not set")
	}
}

func TestAcquireSourceDownload(t *testing.T) {
	b, r, st := newTestBuilder(t)
	dep := &Dependency{Name: "widget", Archive: "https://example.org/widget-1.0.tar.gz"}
	root := depRoot(b.cfg, "widget")

	staging := filepath.Join(t.TempDir(), "widget-1.0.tar.gz")
	writeTestArchive(t, staging, []tarEntry{
		{name: "widget-1.0/", typ: tar.TypeDir},
		{name: "widget-1.0/widget.c", content: "int widget;\n"},
	})
	digest, err := computeDigest(staging)
	if err != nil {
		t.Fatal(err)
	}
	dep.Digest = digest

	// The curl stand-in delivers the prepared archive to curl's -o path.
	r.hook = func(cmd *exec.Cmd) error {
		if cmd.Args[0] != "curl" {
			return nil
		}
		data, err := os.ReadFile(staging)
		if err != nil {
			return err
		}
		return os.WriteFile(cmd.Args[4], data, 0o644)
	}

	if err := b.acquireSource(dep); err != nil {
		t.Fatalf("acquireSource: %v", err)
	}

	curl := r.toolCalls("curl")
	if len(curl) != 1 {
		t.Fatalf("curl calls = %v, want one", curl)
	}
	wantArgv := []string{"curl", "-L", "--fail", "-o", filepath.Join(root, "widget-1.0.tar.gz"), "-#", "https://example.org/widget-1.0.tar.gz"}
	if diff := cmp.Diff(wantArgv, curl[0]); diff != "" {
		t.Errorf("curl argv mismatch (-want +got):\n%s", diff)
	}
	if !fileExists(filepath.Join(root, "widget.c")) {
		t.Error("downloaded archive not staged")
	}
	if !st.acquired[root] {
		t.Error("acquired marker not set")
	}
}

func TestAcquireSourceUnsupportedArchiveSuffix(t *testing.T) {
	b, r, st := newTestBuilder(t)
	dep := &Dependency{Name: "widget", Archive: "https://example.org/bundle.zip", Digest: DigestNone}
	root := depRoot(b.cfg, "widget")
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "bundle.zip"), []byte("PK\x03\x04junk"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := b.acquireSource(dep); err != nil {
		t.Fatalf("acquireSource: %v", err)
	}
	if st.acquired[root] {
		t.Error("unsupported archive must not set the acquired marker")
	}
	if len(r.calls) != 0 {
		t.Errorf("unexpected commands: %v", r.calls)
	}
}

func TestAcquireSourceAppliesPatches(t *testing.T) {
	b, r, st := newTestBuilder(t)
	dep := &Dependency{
		Name:    "widget",
		Git:     "https://example.org/widget.git",
		Patches: []string{"fix-static"},
	}
	root := depRoot(b.cfg, "widget")
	pf := patchPath(b.cfg, "widget", "fix-static")
	if err := os.WriteFile(pf, []byte("--- a/widget.c\n+++ b/widget.c\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := b.acquireSource(dep); err != nil {
		t.Fatalf("acquireSource: %v", err)
	}

	abs, err := filepath.Abs(pf)
	if err != nil {
		t.Fatal(err)
	}
	patch := r.toolCalls("patch")
	if len(patch) != 1 {
		t.Fatalf("patch calls = %v, want one", patch)
	}
	want := []string{"patch", "-p1", "-d", root, "-i", abs}
	if diff := cmp.Diff(want, patch[0]); diff != "" {
		t.Errorf("patch argv mismatch (-want +got):\n%s", diff)
	}
	if !st.patched[root] {
		t.Error("patched marker not set")
	}
}

func TestAcquireSourceMissingPatchFile(t *testing.T) {
	b, r, st := newTestBuilder(t)
	dep := &Dependency{
		Name:    "widget",
		Git:     "https://example.org/widget.git",
		Patches: []string{"nope"},
	}
	root := depRoot(b.cfg, "widget")

	err := b.acquireSource(dep)
	if err == nil || !strings.Contains(err.Error(), "missing patch file") {
		t.Fatalf("err = %v, want missing patch error", err)
	}
	if len(r.toolCalls("patch")) != 0 {
		t.Error("patch must not run without its file")
	}
	if st.patched[root] {
		t.Error("patched marker must not be set")
	}
}

func TestAcquireSourcePatchesOnlyOnce(t *testing.T) {
	b, r, st := newTestBuilder(t)
	dep := &Dependency{
		Name:    "widget",
		Git:     "https://example.org/widget.git",
		Patches: []string{"fix-static"},
	}
	root := depRoot(b.cfg, "widget")
	st.MarkAcquired(root)
	st.MarkPatched(root)

	// The patch file still on disk must not tempt a reapplication.
	pf := patchPath(b.cfg, "widget", "fix-static")
	if err := os.WriteFile(pf, []byte("--- a/widget.c\n+++ b/widget.c\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := b.acquireSource(dep); err != nil {
		t.Fatalf("acquireSource: %v", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("repeat run should execute nothing, got %v", r.calls)
	}
}
