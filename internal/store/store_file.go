package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	sessionFileName   = "SessionInfo.json"
	challengeFileName = "ChallengeId.txt"
)

// FileStore keeps state as two plain files under a directory, matching the
// layout game saves use. A crash mid-write may corrupt the last-saved blob;
// callers already treat unreadable blobs as absent.
type FileStore struct {
	dir string
}

// NewFile builds a file-backed store rooted at dir, creating it if needed.
func NewFile(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) SaveSession(_ context.Context, blob []byte) error {
	if err := os.WriteFile(s.sessionPath(), blob, 0o600); err != nil {
		return fmt.Errorf("write session file: %w", err)
	}
	return nil
}

func (s *FileStore) LoadSession(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.sessionPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read session file: %w", err)
	}
	return data, nil
}

func (s *FileStore) DeleteSession(_ context.Context) error {
	return removeIfPresent(s.sessionPath())
}

func (s *FileStore) SaveChallengeID(_ context.Context, id string) error {
	if err := os.WriteFile(s.challengePath(), []byte(id), 0o600); err != nil {
		return fmt.Errorf("write challenge id file: %w", err)
	}
	return nil
}

func (s *FileStore) LoadChallengeID(_ context.Context) (string, error) {
	data, err := os.ReadFile(s.challengePath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read challenge id file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func (s *FileStore) DeleteChallengeID(_ context.Context) error {
	return removeIfPresent(s.challengePath())
}

func (s *FileStore) sessionPath() string   { return filepath.Join(s.dir, sessionFileName) }
func (s *FileStore) challengePath() string { return filepath.Join(s.dir, challengeFileName) }

func removeIfPresent(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
	}
	return nil
}
