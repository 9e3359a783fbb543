package mpwbuild

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/gookit/color"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	// Default handshake timeout is 10s; some upstream hosts are slow.
	transport.TLSHandshakeTimeout = 30 * time.Second
	return &http.Client{
		Transport: transport,
		Timeout:   300 * time.Second,
	}
}

// colorizeCurlProgress forwards curl's stderr, painting its '#' progress
// lines blue so they match the rest of the output.
func colorizeCurlProgress(r io.Reader) {
	reader := bufio.NewReader(r)
	blue := "\x1b[" + color.Blue.Code() + "m"
	reset := "\x1b[0m"
	for {
		lineBytes, err := reader.ReadBytes('\r')
		if len(lineBytes) > 0 {
			line := string(lineBytes)
			if strings.HasPrefix(strings.TrimSpace(line), "#") {
				fmt.Fprintf(os.Stderr, "%s%s%s", blue, line, reset)
			} else {
				fmt.Fprint(os.Stderr, line)
			}
		}
		if err != nil {
			break
		}
	}
}

// downloadFile fetches url into dest, preferring curl, then wget, then
// a native HTTP client. The external tools inherit proxy and netrc
// configuration the user already has; the native path is the fallback
// for minimal systems.
func (b *Builder) downloadFile(url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", dest, err)
	}

	if _, err := b.exec.LookPath("curl"); err == nil {
		cmd := exec.Command("curl", "-L", "--fail", "-o", dest, "-#", url)
		cmd.Stdout = os.Stdout

		pr, pw, pipeErr := os.Pipe()
		if pipeErr != nil {
			cmd.Stderr = os.Stderr
			if err := b.exec.Run(cmd); err == nil {
				return nil
			}
		} else {
			cmd.Stderr = pw
			done := make(chan struct{})
			go func() {
				colorizeCurlProgress(pr)
				close(done)
			}()
			runErr := b.exec.Run(cmd)
			pw.Close()
			<-done
			pr.Close()
			if runErr == nil {
				return nil
			}
		}
		debugf("curl failed, falling back to wget\n")
	} else {
		debugf("curl not found, trying wget\n")
	}

	if _, err := b.exec.LookPath("wget"); err == nil {
		cmd := exec.Command("wget", "-nv", "-O", dest, url)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := b.exec.Run(cmd); err == nil {
			return nil
		}
		debugf("wget failed, falling back to native Go HTTP client\n")
	} else {
		debugf("wget not found, using native Go HTTP client\n")
	}

	return b.httpDownload(url, dest)
}

func (b *Builder) httpDownload(url, dest string) error {
	client := newHTTPClient()

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("native http get failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status: %s", resp.Status)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create destination file %s: %w", dest, err)
	}
	defer out.Close()

	var w io.Writer = out
	if term.IsTerminal(int(os.Stderr.Fd())) {
		bar := progressbar.NewOptions64(
			resp.ContentLength,
			progressbar.OptionSetDescription(filepath.Base(dest)),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(40),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprint(os.Stderr, "\n")
			}),
			progressbar.OptionSetWriter(os.Stderr),
		)
		w = io.MultiWriter(out, bar)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		out.Close()
		os.Remove(dest)
		return fmt.Errorf("failed to write to destination file: %w", err)
	}

	debugf("Download successful with native Go HTTP client.\n")
	return nil
}
