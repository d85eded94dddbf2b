// Package pbix reads and rewrites the connection entry of packaged Power BI
// report archives (.pbix files).
package pbix

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

const (
	// ConnectionsEntry holds the report's dataset connection.
	ConnectionsEntry = "Connections"

	// SecurityBindingsEntry is tied to the original connection and is
	// dropped whenever the connection is replaced.
	SecurityBindingsEntry = "SecurityBindings"
)

// ErrNoConnections is returned for an archive without a Connections entry.
var ErrNoConnections = errors.New("archive has no Connections entry")

// ReadConnections returns the raw Connections entry of an archive.
func ReadConnections(r io.ReaderAt, size int64) ([]byte, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}

	for _, f := range zr.File {
		if f.Name != ConnectionsEntry {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s entry: %w", ConnectionsEntry, err)
		}
		defer rc.Close()

		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s entry: %w", ConnectionsEntry, err)
		}
		return data, nil
	}

	return nil, ErrNoConnections
}

// ReadConnectionsBytes is ReadConnections for an archive held in memory.
func ReadConnectionsBytes(data []byte) ([]byte, error) {
	return ReadConnections(bytes.NewReader(data), int64(len(data)))
}

// ReadConnectionsFile returns the raw Connections entry of the archive at
// path.
func ReadConnectionsFile(fs afero.Fs, path string) ([]byte, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	data, err := ReadConnections(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}

// TempPath returns the path Rebind writes to before replacing the original:
// "<stem> Temp<ext>" in the same directory.
func TempPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + " Temp" + ext
}

// Rebind replaces the Connections entry of the archive at path with
// connections and drops its SecurityBindings entry. Every other entry is
// copied without recompression. The archive is rewritten to TempPath and
// then renamed over the original; on failure the original is untouched.
func Rebind(fs afero.Fs, path string, connections []byte) error {
	src, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	zr, err := zip.NewReader(src, info.Size())
	if err != nil {
		return fmt.Errorf("failed to open archive %s: %w", path, err)
	}

	found := false
	for _, f := range zr.File {
		if f.Name == ConnectionsEntry {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%s: %w", path, ErrNoConnections)
	}

	tmpPath := TempPath(path)
	if err := writeRebound(fs, tmpPath, zr, connections); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("failed to rewrite %s: %w", path, err)
	}

	// Release the original before replacing it.
	src.Close()

	if err := fs.Rename(tmpPath, path); err != nil {
		fs.Remove(tmpPath)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}

	return nil
}

func writeRebound(fs afero.Fs, tmpPath string, zr *zip.Reader, connections []byte) error {
	out, err := fs.Create(tmpPath)
	if err != nil {
		return err
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, f := range zr.File {
		switch f.Name {
		case SecurityBindingsEntry:
			continue

		case ConnectionsEntry:
			w, err := zw.CreateHeader(&zip.FileHeader{
				Name:     f.Name,
				Method:   zip.Deflate,
				Modified: f.Modified,
			})
			if err != nil {
				return err
			}
			if _, err := w.Write(connections); err != nil {
				return err
			}

		default:
			if err := zw.Copy(f); err != nil {
				return fmt.Errorf("entry %s: %w", f.Name, err)
			}
		}
	}

	if err := zw.Close(); err != nil {
		return err
	}
	return out.Close()
}
