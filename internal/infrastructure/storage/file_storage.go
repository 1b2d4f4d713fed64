// Package storage keeps generated files, such as report exports, on the local filesystem.
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/garyjia/spend-reconciliation/internal/application/port"
	"go.uber.org/zap"
)

// LocalFileStore implements port.FileStore under a base directory
type LocalFileStore struct {
	baseDir string
	logger  *zap.Logger
}

// NewLocalFileStore creates a store rooted at baseDir
func NewLocalFileStore(baseDir string, logger *zap.Logger) *LocalFileStore {
	return &LocalFileStore{
		baseDir: baseDir,
		logger:  logger,
	}
}

// Save writes content to path, creating parent directories. The file is
// written to a temp name first so readers never see a partial export.
func (s *LocalFileStore) Save(ctx context.Context, path string, content []byte) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		s.logger.Error("Failed to write file", zap.String("path", fullPath), zap.Error(err))
		return fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move file into place: %w", err)
	}

	s.logger.Debug("File saved", zap.String("path", fullPath), zap.Int("size", len(content)))
	return nil
}

// Read returns the content stored at path
func (s *LocalFileStore) Read(ctx context.Context, path string) ([]byte, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return content, nil
}

// Exists reports whether a regular file is stored at path
func (s *LocalFileStore) Exists(ctx context.Context, path string) bool {
	fullPath, err := s.resolve(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(fullPath)
	return err == nil && info.Mode().IsRegular()
}

// resolve joins path onto baseDir and rejects anything that escapes it
func (s *LocalFileStore) resolve(path string) (string, error) {
	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base path: %w", err)
	}
	absPath, err := filepath.Abs(filepath.Join(s.baseDir, path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve path: %w", err)
	}
	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes base directory: %s", path)
	}
	return absPath, nil
}

var _ port.FileStore = (*LocalFileStore)(nil)
