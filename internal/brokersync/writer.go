package brokersync

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/natefinch/atomic"
)

const (
	artifactDirMode  os.FileMode = 0o750
	artifactFileMode os.FileMode = 0o600
)

// ArtifactWriter replaces a broker file with new content.
type ArtifactWriter interface {
	Write(path string, content []byte) error
}

// FileWriter writes through a temp file in the target directory and an
// atomic rename, so the broker never reads a half-written file.
type FileWriter struct{}

// Write creates missing parent directories, replaces path with content and
// restricts it to the owner.
func (FileWriter) Write(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), artifactDirMode); err != nil {
		return fmt.Errorf("%w: creating directory for %s: %w", ErrArtifactWrite, path, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(content)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrArtifactWrite, path, err)
	}
	if err := os.Chmod(path, artifactFileMode); err != nil {
		return fmt.Errorf("%w: setting mode of %s: %w", ErrArtifactWrite, path, err)
	}
	return nil
}
