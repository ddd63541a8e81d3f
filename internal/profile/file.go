package profile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/jbellec/veilguard/internal/guard"
)

// fileDocument is the on-disk YAML shape.
type fileDocument struct {
	Profiles []guard.Profile    `yaml:"profiles"`
	Patterns []guard.PatternDef `yaml:"patterns"`
}

// FileStore serves guard profiles from a YAML file. When the path does
// not exist the built-in seed catalog is written there first, so a
// fresh deployment starts with working profiles it can then edit.
type FileStore struct {
	path   string
	logger *zap.Logger

	mu   sync.RWMutex
	snap *guard.Snapshot

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewFileStore loads (seeding if necessary) and returns the store.
func NewFileStore(path string, logger *zap.Logger) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		logger: logger.With(zap.String("component", "profile_store")),
		done:   make(chan struct{}),
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.seed(); err != nil {
			return nil, fmt.Errorf("seeding profile file: %w", err)
		}
	}
	if err := s.Reload(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) seed() error {
	doc := fileDocument{Profiles: DefaultProfiles(), Patterns: DefaultPatterns()}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	s.logger.Info("Writing seed guard profiles", zap.String("path", s.path))
	return os.WriteFile(s.path, data, 0o644)
}

// Snapshot returns the current configuration view.
func (s *FileStore) Snapshot(ctx context.Context) (*guard.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap == nil {
		return nil, fmt.Errorf("profile store not loaded")
	}
	return s.snap, nil
}

// Reload re-reads the file and atomically swaps the snapshot. A file
// that no longer parses leaves the previous snapshot in place.
func (s *FileStore) Reload(ctx context.Context) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("reading profile file: %w", err)
	}
	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing profile file %s: %w", s.path, err)
	}
	snap, err := buildSnapshot(doc.Profiles, doc.Patterns, s.logger)
	if err != nil {
		return fmt.Errorf("validating profile file %s: %w", s.path, err)
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	s.logger.Info("Guard profiles loaded",
		zap.String("path", s.path),
		zap.Int("profiles", len(snap.Profiles)),
		zap.Int("patterns", len(snap.Patterns)))
	return nil
}

// Watch reloads the store whenever the file changes on disk. Editors
// that replace the file (rename-over) are handled by watching the
// parent directory.
func (s *FileStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating profile watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching profile directory: %w", err)
	}
	s.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if err := s.Reload(ctx); err != nil {
					s.logger.Error("Profile reload failed, keeping previous snapshot",
						zap.Error(err))
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Error("Profile watcher error", zap.Error(err))
			case <-s.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Close stops the watcher if one is running.
func (s *FileStore) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}
