package mpwbuild

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

var compilerPreference = []string{"llvm-gcc", "gcc", "clang"}

// resolveCompiler picks the C compiler for this run: an explicit
// MPWBUILD_CC wins, otherwise the first entry of the preference list
// found in PATH. The outcome is memoized, failures included, so every
// target in a run sees the same answer.
func (b *Builder) resolveCompiler() (string, error) {
	if b.ccResolved {
		return b.ccPath, b.ccErr
	}
	b.ccResolved = true

	if b.cfg.CC != "" {
		if _, err := b.exec.LookPath(b.cfg.CC); err != nil {
			b.ccErr = fmt.Errorf("configured compiler %s not found in PATH", b.cfg.CC)
			return "", b.ccErr
		}
		b.ccPath = b.cfg.CC
		debugf("Using configured C compiler %s\n", b.ccPath)
		return b.ccPath, nil
	}

	for _, cc := range compilerPreference {
		if _, err := b.exec.LookPath(cc); err == nil {
			b.ccPath = cc
			debugf("Using C compiler %s\n", cc)
			return b.ccPath, nil
		}
	}
	b.ccErr = fmt.Errorf("no C compiler found in PATH (tried %s)", strings.Join(compilerPreference, ", "))
	return "", b.ccErr
}

// hasLibrary reports whether the system linker can satisfy -l<name>,
// probed by linking an empty program against it. The exit code is the
// answer; the error text only refines the debug message.
func (b *Builder) hasLibrary(name string) bool {
	cc, err := b.resolveCompiler()
	if err != nil {
		return false
	}

	cmd := exec.Command(cc, "-x", "c", "-", "-o", os.DevNull, "-l"+name)
	cmd.Stdin = strings.NewReader("int main(void) { return 0; }\n")
	if _, err := b.exec.Output(cmd); err != nil {
		msg := err.Error()
		if strings.Contains(msg, "cannot find -l") || strings.Contains(msg, "library not found") {
			debugf("Library %s not available: linker cannot find it\n", name)
		} else {
			debugf("Link probe for -l%s failed: %v\n", name, err)
		}
		return false
	}
	return true
}
