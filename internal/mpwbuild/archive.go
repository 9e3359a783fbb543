package mpwbuild

import (
	"archive/tar"
	"compress/bzip2"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

// archiveFormat enumerates the archive kinds the extractor understands.
// Detection is by filename suffix, the only signal available before the
// digest gate allows reading the file.
type archiveFormat int

const (
	formatUnknown archiveFormat = iota
	formatTarGz
	formatTarBz2
	formatTarXz
	formatTarZst
	formatTar
)

func detectFormat(name string) archiveFormat {
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return formatTarGz
	case strings.HasSuffix(name, ".tar.bz2"):
		return formatTarBz2
	case strings.HasSuffix(name, ".tar.xz"):
		return formatTarXz
	case strings.HasSuffix(name, ".tar.zst"):
		return formatTarZst
	case strings.HasSuffix(name, ".tar"):
		return formatTar
	}
	return formatUnknown
}

// extractArchive unpacks a tar archive (with possible compression) into
// dest, preserving modes and timestamps. It does not normalize wrapper
// directories; that is promoteWrapperDir's job, decided on the produced
// entry set.
func extractArchive(archivePath, dest string) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", archivePath, err)
	}
	defer f.Close()

	absDest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}

	var r io.Reader = f
	switch detectFormat(archivePath) {
	case formatTarGz:
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create gzip reader for %s: %w", archivePath, err)
		}
		defer gz.Close()
		r = gz
	case formatTarBz2:
		r = bzip2.NewReader(f)
	case formatTarXz:
		xr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create xz reader for %s: %w", archivePath, err)
		}
		r = xr
	case formatTarZst:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("failed to create zstd reader for %s: %w", archivePath, err)
		}
		defer zr.Close()
		r = zr
	case formatTar:
		// No compression
	default:
		return fmt.Errorf("unsupported archive format: %s", archivePath)
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("error reading tar header in %s: %w", archivePath, err)
		}

		// Skip PAX headers (global or per-file)
		if hdr.Typeflag == tar.TypeXHeader || hdr.Typeflag == tar.TypeXGlobalHeader {
			if _, err := io.Copy(io.Discard, tr); err != nil {
				return fmt.Errorf("error skipping extended header data in %s: %w", archivePath, err)
			}
			continue
		}

		targetPath := filepath.Join(absDest, hdr.Name)
		if !strings.HasPrefix(targetPath, absDest+string(os.PathSeparator)) {
			return fmt.Errorf("illegal entry path in archive %s: %s", archivePath, hdr.Name)
		}

		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", targetPath, err)
		}

		atime := hdr.AccessTime
		if atime.IsZero() {
			atime = hdr.ModTime
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(targetPath, os.FileMode(hdr.Mode)); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", targetPath, err)
			}
			if err := os.Chtimes(targetPath, atime, hdr.ModTime); err != nil {
				return fmt.Errorf("failed to set times for dir %s: %w", targetPath, err)
			}
		case tar.TypeReg:
			outFile, err := os.OpenFile(targetPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return fmt.Errorf("failed to create file %s: %w", targetPath, err)
			}
			if _, err := io.Copy(outFile, tr); err != nil {
				outFile.Close()
				return fmt.Errorf("failed to write file %s: %w", targetPath, err)
			}
			outFile.Close()
			if err := os.Chtimes(targetPath, atime, hdr.ModTime); err != nil {
				return fmt.Errorf("failed to set times for file %s: %w", targetPath, err)
			}
		case tar.TypeSymlink:
			if err := os.Symlink(hdr.Linkname, targetPath); err != nil && !os.IsExist(err) {
				return fmt.Errorf("failed to create symlink %s -> %s: %w", targetPath, hdr.Linkname, err)
			}
			// Set timestamp on the link itself, not its target
			tv := []unix.Timeval{
				{Sec: atime.Unix(), Usec: int64(atime.Nanosecond() / 1000)},
				{Sec: hdr.ModTime.Unix(), Usec: int64(hdr.ModTime.Nanosecond() / 1000)},
			}
			if err := unix.Lutimes(targetPath, tv); err != nil {
				debugf("failed to set times for symlink %s: %v (continuing)\n", targetPath, err)
			}
		default:
			debugf("Skipping unsupported tar entry type %c: %s\n", hdr.Typeflag, hdr.Name)
		}
	}

	return nil
}

// promoteWrapperDir normalizes an archive that wraps everything in a
// single versioned folder: if extraction produced exactly one new
// top-level entry, it is a directory, and its name differs from the
// archive's own filename, its contents move up one level and the
// wrapper is removed. Any other produced shape is left as extracted.
func promoteWrapperDir(dest, archiveName string, preexisting map[string]bool) error {
	entries, err := os.ReadDir(dest)
	if err != nil {
		return err
	}

	var produced []string
	for _, entry := range entries {
		if !preexisting[entry.Name()] {
			produced = append(produced, entry.Name())
		}
	}
	if len(produced) != 1 {
		return nil
	}

	wrapper := filepath.Join(dest, produced[0])
	info, err := os.Stat(wrapper)
	if err != nil || !info.IsDir() || produced[0] == archiveName {
		return nil
	}

	inner, err := os.ReadDir(wrapper)
	if err != nil {
		return err
	}
	for _, entry := range inner {
		from := filepath.Join(wrapper, entry.Name())
		to := filepath.Join(dest, entry.Name())
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("failed to promote %s: %w", from, err)
		}
	}
	debugf("Promoted contents of wrapper directory %s\n", produced[0])
	return os.Remove(wrapper)
}

// stageArchive verifies and unpacks an archive into the dependency
// root. The digest gate runs before any byte is unpacked, so a mismatch
// never leaves extracted files behind. Returns false without error for
// an unrecognized suffix (warned, not fatal).
func stageArchive(root, archivePath, expected string) (bool, error) {
	name := filepath.Base(archivePath)
	if detectFormat(name) == formatUnknown {
		warnf("Don't know how to unpack %s, skipping extraction\n", name)
		return false, nil
	}

	if err := verifyDigest(archivePath, expected); err != nil {
		return false, err
	}

	preexisting := make(map[string]bool)
	entries, err := os.ReadDir(root)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		preexisting[entry.Name()] = true
	}

	arrowf("Unpacking %s\n", name)
	if err := extractArchive(archivePath, root); err != nil {
		return false, err
	}
	if err := promoteWrapperDir(root, name, preexisting); err != nil {
		return false, err
	}
	return true, nil
}
