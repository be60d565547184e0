package conversation

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/LingByte/LingCall/internal/models"
	"github.com/LingByte/LingCall/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Manager loads conversation scripts from files or the database and keeps the
// parsed models cached by title. A nil db keeps everything in memory.
type Manager struct {
	db    *gorm.DB
	cache map[string]*Model
	mutex sync.RWMutex
}

// NewManager creates a script manager
func NewManager(db *gorm.DB) *Manager {
	return &Manager{
		db:    db,
		cache: make(map[string]*Model),
	}
}

// LoadFile parses a YAML script, caches it and, when a database is
// configured, stores its source so other processes can load it by title.
func (sm *Manager) LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}
	model, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if sm.db != nil {
		script := &models.ConversationScript{
			Title:  model.Title,
			Source: string(data),
			File:   filepath.Base(path),
		}
		if err := models.SaveConversationScript(sm.db, script); err != nil {
			return nil, fmt.Errorf("failed to store script: %w", err)
		}
	}

	sm.mutex.Lock()
	sm.cache[model.Title] = model
	sm.mutex.Unlock()

	logger.Info("Conversation script loaded",
		zap.String("title", model.Title),
		zap.String("file", path),
		zap.Int("paths", len(model.Paths)))
	return model, nil
}

// Get returns the model with the given title
func (sm *Manager) Get(title string) (*Model, error) {
	sm.mutex.RLock()
	model, ok := sm.cache[title]
	sm.mutex.RUnlock()
	if ok {
		return model, nil
	}
	if sm.db == nil {
		return nil, fmt.Errorf("conversation %q not loaded", title)
	}

	script, err := models.GetConversationScriptByTitle(sm.db, title)
	if err != nil {
		return nil, fmt.Errorf("conversation %q: %w", title, err)
	}
	model, err = Parse([]byte(script.Source))
	if err != nil {
		return nil, err
	}

	sm.mutex.Lock()
	sm.cache[title] = model
	sm.mutex.Unlock()
	return model, nil
}

// RefreshCache re-parses every stored script
func (sm *Manager) RefreshCache() error {
	if sm.db == nil {
		return nil
	}
	scripts, err := models.ListConversationScripts(sm.db)
	if err != nil {
		return err
	}

	fresh := make(map[string]*Model, len(scripts))
	for _, s := range scripts {
		m, err := Parse([]byte(s.Source))
		if err != nil {
			logger.Error("Failed to parse stored script",
				zap.String("title", s.Title),
				zap.Error(err))
			continue
		}
		fresh[m.Title] = m
	}

	sm.mutex.Lock()
	sm.cache = fresh
	sm.mutex.Unlock()

	logger.Info("Script cache refreshed", zap.Int("count", len(fresh)))
	return nil
}

// Titles lists the cached model titles
func (sm *Manager) Titles() []string {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	out := make([]string, 0, len(sm.cache))
	for t := range sm.cache {
		out = append(out, t)
	}
	return out
}
