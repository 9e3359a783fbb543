package mpwbuild

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/gookit/color"
	"github.com/ulikunitz/xz"
)

const buildLogName = ".build.log"

// buildDependency acquires, builds, and stages one dependency. Staged
// headers under <libdir>/include/<name> are the completion signal; when
// they exist the whole pipeline is skipped.
func (b *Builder) buildDependency(dep *Dependency) error {
	includeDir := filepath.Join(b.cfg.LibDir, "include", dep.Name)
	if dirExists(includeDir) {
		debugf("Dependency %s already built and staged\n", dep.Name)
		return nil
	}

	if err := b.acquireSource(dep); err != nil {
		return err
	}

	root := depRoot(b.cfg, dep.Name)
	arrowf("Building %s\n", dep.Name)

	logPath := filepath.Join(root, buildLogName)
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("failed to create build log %s: %w", logPath, err)
	}

	var out io.Writer = logFile
	if Verbose || Debug {
		out = io.MultiWriter(os.Stdout, logFile)
	}

	buildErr := b.runNativeBuild(dep, root, out)
	logFile.Close()

	if buildErr != nil {
		colArrow.Print("-> ")
		color.Danger.Printf("Build failed for %s: %v\n", dep.Name, buildErr)
		printLogTail(logPath)
		return buildErr
	}

	if err := compressLog(logPath); err != nil {
		debugf("Failed to compress build log for %s: %v\n", dep.Name, err)
	}
	return b.harvestHeaders(dep, includeDir)
}

// runNativeBuild drives the dependency's own build system: bootstrap
// the configure script when only autotools inputs shipped, run
// configure when present, then make. All output goes to out.
func (b *Builder) runNativeBuild(dep *Dependency, root string, out io.Writer) error {
	hasConfigure := fileExists(filepath.Join(root, "configure"))
	hasAutotoolsInput := fileExists(filepath.Join(root, "configure.ac")) ||
		fileExists(filepath.Join(root, "configure.in"))

	if hasAutotoolsInput && !hasConfigure {
		for _, tool := range []string{"autoconf", "automake"} {
			if _, err := b.exec.LookPath(tool); err != nil {
				return fmt.Errorf("bootstrapping %s requires autoconf and automake: %s not found in PATH", dep.Name, tool)
			}
		}
		cPrintf(colInfo, "Bootstrapping configure script for %s\n", dep.Name)
		cmd := exec.Command("autoreconf", "--install")
		cmd.Dir = root
		cmd.Stdout = out
		cmd.Stderr = out
		if err := b.exec.Run(cmd); err != nil {
			return fmt.Errorf("autoreconf failed for %s: %w", dep.Name, err)
		}
		hasConfigure = fileExists(filepath.Join(root, "configure"))
	}

	if hasConfigure {
		cmd := exec.Command("./configure")
		cmd.Dir = root
		cmd.Stdout = out
		cmd.Stderr = out
		if err := b.exec.Run(cmd); err != nil {
			return fmt.Errorf("configure failed for %s: %w", dep.Name, err)
		}
	}

	hasMakefile := fileExists(filepath.Join(root, "Makefile")) ||
		fileExists(filepath.Join(root, "makefile")) ||
		fileExists(filepath.Join(root, "GNUmakefile"))
	if !hasMakefile {
		return fmt.Errorf("don't know how to build %s: no configure script or makefile in %s", dep.Name, root)
	}

	if _, err := b.exec.LookPath("make"); err != nil {
		return fmt.Errorf("cannot build %s: make not found in PATH", dep.Name)
	}
	cmd := exec.Command("make")
	cmd.Dir = root
	cmd.Stdout = out
	cmd.Stderr = out
	if err := b.exec.Run(cmd); err != nil {
		return fmt.Errorf("make failed for %s: %w", dep.Name, err)
	}
	return nil
}

// harvestHeaders copies every header from the build tree into the
// shared include dir, flattened and read-only so target compiles
// cannot scribble on them.
func (b *Builder) harvestHeaders(dep *Dependency, includeDir string) error {
	if err := os.MkdirAll(includeDir, 0o755); err != nil {
		return fmt.Errorf("failed to create include dir %s: %w", includeDir, err)
	}

	root := depRoot(b.cfg, dep.Name)
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".h") {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		dst := filepath.Join(includeDir, d.Name())
		os.Remove(dst)
		if err := os.WriteFile(dst, data, 0o444); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to stage headers for %s: %w", dep.Name, err)
	}
	debugf("Staged %d headers into %s\n", count, includeDir)
	return nil
}

func compressLog(logPath string) error {
	in, err := os.Open(logPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(logPath + ".xz")
	if err != nil {
		return err
	}
	w, err := xz.NewWriter(out)
	if err != nil {
		out.Close()
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		out.Close()
		return err
	}
	if err := w.Close(); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(logPath)
}

// printLogTail shows the last lines of a failed build's log so the
// cause is visible without opening the file.
func printLogTail(logPath string) {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	const n = 50
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, line := range lines {
		fmt.Println(line)
	}
}
