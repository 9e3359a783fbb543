package mpwbuild

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// featureFlags are the extra compile and link options a feature or
// flag tool contributes to a target.
type featureFlags struct {
	cflags  []string
	ldflags []string
}

func (f *featureFlags) merge(other featureFlags) {
	f.cflags = append(f.cflags, other.cflags...)
	f.ldflags = append(f.ldflags, other.ldflags...)
}

// colorFeature probes for a terminal-capability library, preferring
// curses over tinfo. Probing links real programs, so the answer is
// memoized and reused by every target in the run. No library means the
// feature quietly degrades to a colorless build.
func (b *Builder) colorFeature() featureFlags {
	if b.colorOpts != nil {
		return *b.colorOpts
	}

	var f featureFlags
	switch {
	case b.hasLibrary("curses"):
		f = featureFlags{cflags: []string{"-DMPW_COLOR"}, ldflags: []string{"-lcurses"}}
	case b.hasLibrary("tinfo"):
		f = featureFlags{cflags: []string{"-DMPW_COLOR"}, ldflags: []string{"-ltinfo"}}
	default:
		warnf("No curses or tinfo library found, building without color support\n")
	}
	b.colorOpts = &f
	return f
}

// flagToolOptions asks an external *-config tool for compile and link
// flags, split on whitespace the way shells would.
func (b *Builder) flagToolOptions(tool string) (featureFlags, error) {
	if _, err := b.exec.LookPath(tool); err != nil {
		return featureFlags{}, fmt.Errorf("flag tool %s not found in PATH", tool)
	}

	cflagsOut, err := b.exec.Output(exec.Command(tool, "--cflags"))
	if err != nil {
		return featureFlags{}, fmt.Errorf("%s --cflags failed: %w", tool, err)
	}
	libsOut, err := b.exec.Output(exec.Command(tool, "--libs"))
	if err != nil {
		return featureFlags{}, fmt.Errorf("%s --libs failed: %w", tool, err)
	}
	return featureFlags{
		cflags:  strings.Fields(string(cflagsOut)),
		ldflags: strings.Fields(string(libsOut)),
	}, nil
}

func (b *Builder) featureOptions(t *Target) (featureFlags, error) {
	var f featureFlags
	for _, name := range t.Features {
		switch name {
		case "color":
			f.merge(b.colorFeature())
		default:
			return featureFlags{}, fmt.Errorf("unknown feature %s for target %s", name, t.Name)
		}
	}
	if t.FlagTool != "" {
		ft, err := b.flagToolOptions(t.FlagTool)
		if err != nil {
			return featureFlags{}, err
		}
		f.merge(ft)
	}
	return f, nil
}

// assembleTarget builds every dependency the target needs, compiles
// its sources, and links the program into the working directory.
// extraArgs are forwarded verbatim to each compile and to the link.
func (b *Builder) assembleTarget(t *Target, extraArgs []string) error {
	arrowf("Assembling target %s\n", t.Name)

	var deps []*Dependency
	for _, name := range t.Deps {
		dep, err := loadDependency(b.cfg, name)
		if err != nil {
			return err
		}
		if err := b.buildDependency(dep); err != nil {
			return err
		}
		deps = append(deps, dep)
	}

	cc, err := b.resolveCompiler()
	if err != nil {
		return err
	}
	feat, err := b.featureOptions(t)
	if err != nil {
		return err
	}

	includeArg := "-I" + filepath.Join(b.cfg.LibDir, "include")

	var objs []string
	for _, src := range t.Sources {
		obj := strings.TrimSuffix(src, ".c") + ".o"
		args := []string{"-c", src, "-o", obj, includeArg}
		args = append(args, feat.cflags...)
		args = append(args, b.cfg.ExtraCFlags...)
		args = append(args, extraArgs...)
		if err := b.exec.Run(exec.Command(cc, args...)); err != nil {
			return fmt.Errorf("failed to compile %s: %w", src, err)
		}
		objs = append(objs, obj)
	}

	linkArgs := []string{"-o", t.Name}
	linkArgs = append(linkArgs, objs...)
	for _, dep := range deps {
		root := depRoot(b.cfg, dep.Name)
		for _, pattern := range dep.Artifacts {
			matches, err := filepath.Glob(filepath.Join(root, pattern))
			if err != nil {
				return fmt.Errorf("bad artifact pattern %s for %s: %w", pattern, dep.Name, err)
			}
			if len(matches) == 0 {
				return fmt.Errorf("no artifacts matching %s under %s for dependency %s", pattern, root, dep.Name)
			}
			linkArgs = append(linkArgs, matches...)
		}
	}
	linkArgs = append(linkArgs, feat.ldflags...)
	linkArgs = append(linkArgs, extraArgs...)
	if err := b.exec.Run(exec.Command(cc, linkArgs...)); err != nil {
		return fmt.Errorf("failed to link %s: %w", t.Name, err)
	}

	arrowf("You can now run ./%s\n", t.Name)
	return nil
}
