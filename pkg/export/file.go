package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileExporter writes artifacts into a directory.
type FileExporter struct {
	Dir string
}

// NewFileExporter creates dir if needed.
func NewFileExporter(dir string) (*FileExporter, error) {
	if dir == "" {
		return nil, fmt.Errorf("export: file exporter needs a directory")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &FileExporter{Dir: dir}, nil
}

// Export writes data to Dir/name via a temp file and rename.
func (f *FileExporter) Export(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(f.Dir, filepath.Base(name))
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}
