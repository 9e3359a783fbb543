package mpwbuild

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"lukechampine.com/blake3"
)

// DigestNone is the explicit "no digest required" waiver. It must be
// spelled out in the descriptor; an absent digest for an archive source
// is a configuration error, never a silent pass.
const DigestNone = "none"

// check if b3sum is installed on system
func hasB3sum() bool {
	_, err := exec.LookPath("b3sum")
	return err == nil
}

// computeDigest returns the BLAKE3-256 digest of the file as lowercase
// hex. It uses the system b3sum tool when installed and falls back to
// the internal Go implementation otherwise; both produce identical hex.
func computeDigest(path string) (string, error) {
	if hasB3sum() {
		cmd := exec.Command("b3sum", path)
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = io.Discard
		if err := cmd.Run(); err == nil {
			fields := strings.Fields(out.String())
			if len(fields) > 0 {
				return fields[0], nil
			}
		}
		debugf("b3sum failed for %s, falling back to internal BLAKE3\n", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	buf := make([]byte, 64*1024)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// verifyDigest checks the file against the expected digest. Mismatch is
// an integrity error that must abort the run; the message names the
// artifact and both digests so a tampered or truncated download is
// obvious.
func verifyDigest(path, expected string) error {
	if expected == "" {
		return fmt.Errorf("no digest configured for %s (use %q to skip verification explicitly)", path, DigestNone)
	}
	if expected == DigestNone {
		warnf("Digest verification waived for %s\n", path)
		return nil
	}

	actual, err := computeDigest(path)
	if err != nil {
		return fmt.Errorf("cannot digest %s: %w", path, err)
	}
	if !strings.EqualFold(actual, expected) {
		return fmt.Errorf("digest mismatch for %s: expected %s, got %s", path, expected, actual)
	}
	debugf("Digest verified for %s\n", path)
	return nil
}
