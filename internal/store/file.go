package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/eternisai/salesintel/internal/logger"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// FileStore keeps one JSON file per user under a directory.
type FileStore struct {
	logger *logger.Logger
	dir    string
	mu     sync.RWMutex
}

func NewFileStore(dir string, log *logger.Logger) (*FileStore, error) {
	if dir == "" {
		dir = "./data/preferences"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create preferences directory: %w", err)
	}
	return &FileStore{logger: log.WithComponent("store"), dir: dir}, nil
}

func (s *FileStore) path(userID string) string {
	return filepath.Join(s.dir, fmt.Sprintf("prefs_%s.json", unsafeFileChars.ReplaceAllString(userID, "_")))
}

func (s *FileStore) Load(_ context.Context, userID string) (*Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadUnsafe(userID)
}

func (s *FileStore) Update(_ context.Context, userID string, fn func(*Preferences) error) (*Preferences, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefs, err := s.loadUnsafe(userID)
	if err != nil {
		return nil, err
	}
	if err := fn(prefs); err != nil {
		return nil, err
	}
	prefs.UserID = userID
	prefs.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(prefs, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal preferences: %w", err)
	}

	tmp := s.path(userID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write preferences: %w", err)
	}
	if err := os.Rename(tmp, s.path(userID)); err != nil {
		return nil, fmt.Errorf("failed to write preferences: %w", err)
	}

	s.logger.Debug("preferences saved", slog.String("user_id", userID))
	return prefs, nil
}

func (s *FileStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path(userID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete preferences: %w", err)
	}
	s.logger.Info("preferences deleted", slog.String("user_id", userID))
	return nil
}

func (s *FileStore) Close() error { return nil }

// loadUnsafe reads without locking; callers hold s.mu.
func (s *FileStore) loadUnsafe(userID string) (*Preferences, error) {
	data, err := os.ReadFile(s.path(userID))
	if err != nil {
		if os.IsNotExist(err) {
			return NewPreferences(userID), nil
		}
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}

	var prefs Preferences
	if err := json.Unmarshal(data, &prefs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal preferences: %w", err)
	}
	if prefs.FeedbackRatings == nil {
		prefs.FeedbackRatings = map[string]int{}
	}
	return &prefs, nil
}
