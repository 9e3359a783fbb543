package mpwbuild

import (
	"fmt"
	"os/exec"
	"strings"
)

// gitClone clones url into root, which already exists and must hold no
// visible entries or the clone refuses.
func (b *Builder) gitClone(url, root string) error {
	cmd := exec.Command("git", "clone", url, ".")
	cmd.Dir = root
	if err := b.exec.Run(cmd); err != nil {
		return fmt.Errorf("git clone %s failed: %w", url, err)
	}
	return nil
}

// gitDescribe reports a human-readable version for the checkout,
// falling back to the abbreviated commit when no tag is reachable.
func (b *Builder) gitDescribe(root string) (string, error) {
	cmd := exec.Command("git", "describe", "--always", "--dirty")
	cmd.Dir = root
	out, err := b.exec.Output(cmd)
	if err != nil {
		return "", fmt.Errorf("git describe failed: %w", err)
	}
	return string(out), nil
}

// gitSvnUsable probes whether the git-svn bridge is installed. Many git
// packages ship without it, so a plain LookPath on git is not enough.
func (b *Builder) gitSvnUsable() bool {
	if _, err := b.exec.LookPath("git"); err != nil {
		return false
	}
	cmd := exec.Command("git", "svn", "--version")
	if _, err := b.exec.Output(cmd); err != nil {
		debugf("git svn probe failed: %v\n", err)
		return false
	}
	return true
}

func (b *Builder) gitSvnClone(url, root string) error {
	cmd := exec.Command("git", "svn", "clone", url, ".")
	cmd.Dir = root
	if err := b.exec.Run(cmd); err != nil {
		return fmt.Errorf("git svn clone %s failed: %w", url, err)
	}
	return nil
}

func (b *Builder) svnCheckout(url, root string) error {
	cmd := exec.Command("svn", "checkout", url, ".")
	cmd.Dir = root
	if err := b.exec.Run(cmd); err != nil {
		return fmt.Errorf("svn checkout %s failed: %w", url, err)
	}
	return nil
}

// svnRevision reports the checked-out revision in the conventional rNNN
// form.
func (b *Builder) svnRevision(root string) (string, error) {
	cmd := exec.Command("svn", "info", "--show-item", "revision")
	cmd.Dir = root
	out, err := b.exec.Output(cmd)
	if err != nil {
		return "", fmt.Errorf("svn info failed: %w", err)
	}
	return "r" + strings.TrimSpace(string(out)), nil
}
