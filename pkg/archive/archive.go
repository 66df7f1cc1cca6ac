// Package archive packages a job workspace into a compressed tarball.
// Archives are rebuilt fresh on every request rather than cached, so a
// download always reflects the current workspace contents.
package archive

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Build packages every regular file at the top level of dir into
// <jobID>.tar.gz inside the same directory and returns the archive path.
// A previous archive of the same name is excluded from its replacement.
func Build(dir, jobID string) (string, error) {
	archiveName := jobID + ".tar.gz"
	archivePath := filepath.Join(dir, archiveName)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("archive: read workspace: %w", err)
	}

	out, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("archive: create %s: %w", archiveName, err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	tw := tar.NewWriter(gz)

	for _, entry := range entries {
		if entry.Name() == archiveName || !entry.Type().IsRegular() {
			continue
		}
		if err := addFile(tw, filepath.Join(dir, entry.Name()), entry.Name()); err != nil {
			tw.Close()
			gz.Close()
			return "", err
		}
	}

	if err := tw.Close(); err != nil {
		return "", fmt.Errorf("archive: finalize tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("archive: finalize gzip: %w", err)
	}
	return archivePath, nil
}

func addFile(tw *tar.Writer, path, name string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("archive: stat %s: %w", name, err)
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("archive: header %s: %w", name, err)
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("archive: write header %s: %w", name, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("archive: open %s: %w", name, err)
	}
	defer f.Close()

	if _, err := io.Copy(tw, f); err != nil {
		return fmt.Errorf("archive: copy %s: %w", name, err)
	}
	return nil
}
