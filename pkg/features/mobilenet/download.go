package mobilenet

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/teslashibe/go-teachable/internal/httpc"
)

// resolveModel returns a local path for ref. URLs are downloaded once into cacheDir.
func resolveModel(ref, cacheDir string, logger *slog.Logger) (string, error) {
	if !isURL(ref) {
		return ref, nil
	}

	local := cachePath(ref, cacheDir)
	if _, err := os.Stat(local); err == nil {
		return local, nil
	}

	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}

	logger.Info("downloading backbone", "url", ref, "dest", local)

	resp, err := httpc.Download.Get(ref)
	if err != nil {
		return "", fmt.Errorf("download model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download model: HTTP %d", resp.StatusCode)
	}

	// Write to temp file first, then rename (atomic write)
	tmp := local + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", fmt.Errorf("download model: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to write model: %w", err)
	}
	if err := os.Rename(tmp, local); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("failed to rename temp file: %w", err)
	}

	return local, nil
}

func isURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// cachePath keys the file by URL hash so different models never collide.
func cachePath(url, cacheDir string) string {
	sum := sha256.Sum256([]byte(url))
	name := path.Base(strings.SplitN(url, "?", 2)[0])
	if name == "" || name == "/" || name == "." {
		name = "model.onnx"
	}
	return filepath.Join(cacheDir, hex.EncodeToString(sum[:6])+"-"+name)
}
