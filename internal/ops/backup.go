// Package ops archives and restores the data directory of the file store.
package ops

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var ErrTargetNotEmpty = errors.New("restore target is not empty")

// Backup writes every regular file under dataDir into a gzipped tar at
// archivePath and returns how many files it stored. Symlinks and the store's
// in-flight temp file are skipped.
func Backup(dataDir, archivePath string) (int, error) {
	if strings.TrimSpace(dataDir) == "" || strings.TrimSpace(archivePath) == "" {
		return 0, errors.New("data dir and archive path are required")
	}
	dataDir = filepath.Clean(strings.TrimSpace(dataDir))
	archivePath = filepath.Clean(strings.TrimSpace(archivePath))
	info, err := os.Stat(dataDir)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return 0, fmt.Errorf("not a directory: %s", dataDir)
	}
	if err := os.MkdirAll(filepath.Dir(archivePath), 0o755); err != nil {
		return 0, err
	}

	tmp := archivePath + ".partial"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, err
	}
	n, err := writeArchive(f, dataDir)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, err
	}
	return n, os.Rename(tmp, archivePath)
}

func writeArchive(w io.Writer, dataDir string) (int, error) {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	count := 0

	err := filepath.WalkDir(dataDir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == dataDir || d.Type()&fs.ModeSymlink != 0 || strings.HasSuffix(path, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(dataDir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if info.IsDir() {
			hdr.Name += "/"
			return tw.WriteHeader(hdr)
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if err := copyFile(tw, path); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return 0, err
	}
	if err := tw.Close(); err != nil {
		return 0, err
	}
	return count, gz.Close()
}

func copyFile(dst io.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}

// Restore unpacks archivePath into targetDir. The target must be missing or
// empty unless force is set, in which case archived files overwrite what is
// there.
func Restore(archivePath, targetDir string, force bool) (int, error) {
	targetDir = filepath.Clean(strings.TrimSpace(targetDir))
	if !force {
		entries, err := os.ReadDir(targetDir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return 0, err
		}
		if len(entries) > 0 {
			return 0, fmt.Errorf("%w: %s", ErrTargetNotEmpty, targetDir)
		}
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return 0, err
	}

	f, err := os.Open(strings.TrimSpace(archivePath))
	if err != nil {
		return 0, err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	count := 0
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		rel, err := entryPath(hdr.Name)
		if err != nil {
			return count, err
		}
		out := filepath.Join(targetDir, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(out, 0o755); err != nil {
				return count, err
			}
		case tar.TypeReg:
			if err := extractFile(tr, out, fs.FileMode(hdr.Mode).Perm()); err != nil {
				return count, err
			}
			count++
		}
	}
}

func extractFile(r io.Reader, out string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	dst, err := os.OpenFile(out, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, r); err != nil {
		_ = dst.Close()
		return err
	}
	return dst.Close()
}

// entryPath rejects absolute names and names that climb out of the target.
func entryPath(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimSpace(name)))
	switch {
	case clean == "." || clean == "":
		return "", errors.New("empty archive entry")
	case filepath.IsAbs(clean):
		return "", fmt.Errorf("absolute archive entry: %s", name)
	case clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)):
		return "", fmt.Errorf("archive entry escapes target: %s", name)
	}
	return clean, nil
}
