package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/wricardo/mcp-training/blockbot/game/engine"
	"github.com/wricardo/mcp-training/blockbot/game/service"
)

var (
	ErrLevelNotFound = service.ErrLevelNotFound
	ErrInvalidLevel  = service.ErrInvalidLevel
)

// Level file extensions in lookup order
var levelExtensions = []string{".json", ".yaml", ".yml"}

// DefaultLevelID is preferred as the default level when present
const DefaultLevelID = "tutorial"

// Manager handles level loading and caching
type Manager struct {
	levelDir     string
	schema       *SchemaValidator
	logger       *log.Logger
	defaultLevel *engine.LevelDescriptor
	levels       map[string]*engine.LevelDescriptor
	mu           sync.RWMutex
}

// NewManager creates a new level manager over levelDir
func NewManager(levelDir string, logger *log.Logger) (*Manager, error) {
	// Ensure level directory exists
	if _, err := os.Stat(levelDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("level directory does not exist: %s", levelDir)
	}
	if logger == nil {
		logger = log.Default()
	}

	schema, err := NewSchemaValidator()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		levelDir: levelDir,
		schema:   schema,
		logger:   logger.WithPrefix("levels"),
		levels:   make(map[string]*engine.LevelDescriptor),
	}

	m.loadDefaultLevel()
	return m, nil
}

// LoadLevel loads a level by id
func (m *Manager) LoadLevel(id string) (*engine.LevelDescriptor, error) {
	m.mu.RLock()
	// Check cache first
	if level, exists := m.levels[id]; exists {
		m.mu.RUnlock()
		return level, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if level, exists := m.levels[id]; exists {
		return level, nil
	}

	path, err := m.findLevelFile(id)
	if err != nil {
		return nil, err
	}

	level, err := m.readLevel(path)
	if err != nil {
		return nil, err
	}

	m.levels[id] = level
	return level, nil
}

// findLevelFile resolves an id to an existing file in the level directory
func (m *Manager) findLevelFile(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: %q", ErrLevelNotFound, id)
	}

	base := id
	if ext := filepath.Ext(id); ext != "" {
		base = strings.TrimSuffix(id, ext)
	}
	for _, ext := range levelExtensions {
		path := filepath.Join(m.levelDir, base+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrLevelNotFound, id)
}

// readLevel parses and validates one level file
func (m *Manager) readLevel(path string) (*engine.LevelDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read level file: %w", err)
	}

	if err := m.schema.Validate(filepath.Base(path), data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLevel, err)
	}

	level, err := engine.DecodeLevel(path, data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLevel, err)
	}

	if err := engine.ValidateLevel(level); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLevel, err)
	}
	return level, nil
}

// ListLevels returns information about all loadable levels, sorted by id
func (m *Manager) ListLevels() ([]*service.LevelInfo, error) {
	entries, err := os.ReadDir(m.levelDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read level directory: %w", err)
	}

	var levels []*service.LevelInfo
	seen := make(map[string]bool)

	for _, entry := range entries {
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if entry.IsDir() || !isLevelExt(ext) {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))
		if seen[id] {
			continue
		}

		level, err := m.LoadLevel(id)
		if err != nil {
			// Skip invalid levels
			m.logger.Warn("skipping level", "file", entry.Name(), "err", err)
			continue
		}
		seen[id] = true

		levels = append(levels, &service.LevelInfo{
			Filename:        entry.Name(),
			LevelID:         id,
			Name:            level.Name,
			Description:     level.Description,
			Width:           level.Width,
			Height:          level.Height,
			MaxCommands:     level.MaxCommands,
			OptimalCommands: level.OptimalCommands,
		})
	}

	sort.Slice(levels, func(i, j int) bool { return levels[i].LevelID < levels[j].LevelID })
	return levels, nil
}

func isLevelExt(ext string) bool {
	for _, e := range levelExtensions {
		if e == ext {
			return true
		}
	}
	return false
}

// GetDefault returns the default level
func (m *Manager) GetDefault() *engine.LevelDescriptor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultLevel
}

// SetDefault sets the default level by id
func (m *Manager) SetDefault(id string) error {
	level, err := m.LoadLevel(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultLevel = level
	return nil
}

// RefreshCache drops all cached levels so the next load reads from disk
func (m *Manager) RefreshCache() {
	m.mu.Lock()
	m.levels = make(map[string]*engine.LevelDescriptor)
	m.mu.Unlock()

	m.loadDefaultLevel()
}

// Invalidate drops one cached level
func (m *Manager) Invalidate(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.levels, id)
}

// ReloadLevel drops a cached level and reads it again from disk
func (m *Manager) ReloadLevel(id string) error {
	m.Invalidate(id)
	_, err := m.LoadLevel(id)
	return err
}

// ValidateLevel runs the semantic level checks without touching disk
func (m *Manager) ValidateLevel(level *engine.LevelDescriptor) error {
	if err := engine.ValidateLevel(level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLevel, err)
	}
	return nil
}

// loadDefaultLevel picks the tutorial file, then the first listed level,
// then the built-in tutorial
func (m *Manager) loadDefaultLevel() {
	level, err := m.LoadLevel(DefaultLevelID)
	if err != nil {
		levels, listErr := m.ListLevels()
		if listErr == nil && len(levels) > 0 {
			level, err = m.LoadLevel(levels[0].LevelID)
		}
	}
	if err != nil || level == nil {
		level = engine.DefaultLevel()
	}

	m.mu.Lock()
	m.defaultLevel = level
	m.mu.Unlock()
}

// SaveLevel validates and writes a level to disk. The format follows the
// extension of id, defaulting to JSON.
func (m *Manager) SaveLevel(id string, level *engine.LevelDescriptor) error {
	if level == nil {
		return fmt.Errorf("%w: level is nil", ErrInvalidLevel)
	}
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: bad level id %q", ErrInvalidLevel, id)
	}

	ext := strings.ToLower(filepath.Ext(id))
	base := strings.TrimSuffix(id, filepath.Ext(id))
	if !isLevelExt(ext) {
		ext = ".json"
		base = id
	}

	saved := *level
	saved.ID = base

	// Validate level before saving
	if err := engine.ValidateLevel(&saved); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLevel, err)
	}

	var data []byte
	var err error
	if ext == ".json" {
		data, err = json.MarshalIndent(&saved, "", "  ")
	} else {
		data, err = yaml.Marshal(&saved)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal level: %w", err)
	}

	path := filepath.Join(m.levelDir, base+ext)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write level file: %w", err)
	}

	// Update cache
	m.mu.Lock()
	m.levels[base] = &saved
	m.mu.Unlock()

	m.logger.Info("level saved", "id", base, "file", path)
	return nil
}

// Watch reloads levels when files in the level directory change. It
// blocks until ctx is done. onChange, if set, is called with the level id
// after a debounced change.
func (m *Manager) Watch(ctx context.Context, onChange func(id string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(m.levelDir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", m.levelDir, err)
	}
	m.logger.Info("watching level directory", "dir", m.levelDir)

	var (
		timersMu sync.Mutex
		timers   = make(map[string]*time.Timer)
	)
	defer func() {
		timersMu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		timersMu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(event.Name))
			if !isLevelExt(ext) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			id := strings.TrimSuffix(filepath.Base(event.Name), filepath.Ext(event.Name))

			// Debounce: editors emit several events per save
			timersMu.Lock()
			if t, ok := timers[id]; ok {
				t.Stop()
			}
			timers[id] = time.AfterFunc(watchDebounce, func() {
				switch err := m.ReloadLevel(id); {
				case errors.Is(err, ErrLevelNotFound):
					m.logger.Info("level removed", "id", id)
				case err != nil:
					m.logger.Warn("level changed but failed to load", "id", id, "err", err)
				default:
					m.logger.Info("level reloaded", "id", id)
				}
				if id == m.GetDefault().ID {
					m.loadDefaultLevel()
				}
				if onChange != nil {
					onChange(id)
				}
			})
			timersMu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			// events may have been dropped
			m.logger.Warn("watcher error, dropping level cache", "err", err)
			m.RefreshCache()
		}
	}
}

var watchDebounce = 200 * time.Millisecond
