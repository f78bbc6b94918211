// Package storage owns the backing files for uploaded and merged documents.
// File existence is correlated 1:1 with non-closed sessions: the dispatcher
// writes before registering and the registry removes after closing, with
// compensating removal when either half fails.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/pagedock/pagedock/internal/document"
)

// Manager allocates, writes and removes backing files. Uploaded documents
// and merge results live in separate directories; files are named by session
// id so collisions are impossible.
type Manager struct {
	uploadDir string
	mergedDir string
	logger    zerolog.Logger
}

// New creates both storage directories if needed.
func New(uploadDir, mergedDir string, logger zerolog.Logger) (*Manager, error) {
	for _, dir := range []string{uploadDir, mergedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating %s: %v", document.ErrIO, dir, err)
		}
	}
	return &Manager{
		uploadDir: uploadDir,
		mergedDir: mergedDir,
		logger:    logger.With().Str("component", "storage").Logger(),
	}, nil
}

// WriteUpload persists uploaded bytes under the session id and returns the
// resulting path.
func (m *Manager) WriteUpload(id string, data []byte) (string, error) {
	path := filepath.Join(m.uploadDir, id+".pdf")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("%w: writing upload: %v", document.ErrIO, err)
	}
	m.logger.Debug().Str("path", path).Int("bytes", len(data)).Msg("upload written")
	return path, nil
}

// MergedPath returns the path a merge result for id will be saved to. The
// engine writes the file itself via SaveToPath.
func (m *Manager) MergedPath(id string) string {
	return filepath.Join(m.mergedDir, "merged_"+id+".pdf")
}

// Remove deletes a backing file. Removing a file that is already gone is an
// ErrIO: the registry guarantees exactly one removal per session.
func (m *Manager) Remove(path string) error {
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("%w: removing %s: %v", document.ErrIO, path, err)
	}
	m.logger.Debug().Str("path", path).Msg("file removed")
	return nil
}

// Stat verifies that a backing file exists and is readable, for download.
func (m *Manager) Stat(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s: %v", document.ErrIO, path, err)
	}
	return nil
}
