// Package profiles is the JSON configuration document: credential profiles,
// the routing policy, compaction policies and conversation routes.
package profiles

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"chatroute/internal/compaction"
	"chatroute/internal/config"
	"chatroute/internal/provider"
	"chatroute/internal/routestate"
	"chatroute/internal/routing"
	"chatroute/pkg/logger"
)

// AppConfig is the whole document.
type AppConfig struct {
	Profiles            []provider.Profile                  `json:"profiles"`
	Routing             routing.Policy                      `json:"routing"`
	ContextManagement   *compaction.ContextManagementPolicy `json:"contextManagement,omitempty"`
	ToolCompaction      *compaction.ToolCompactionPolicy    `json:"toolCompaction,omitempty"`
	DefaultSystemPrompt string                              `json:"defaultSystemPrompt,omitempty"`
	SummaryTarget       *provider.Target                    `json:"summaryTarget,omitempty"`
	ConversationRoutes  map[string]routestate.State         `json:"conversationRoutes,omitempty"`
}

// Normalize clamps policies and fills routing defaults.
func (c AppConfig) Normalize() AppConfig {
	c.Routing = c.Routing.Normalize()
	if c.ContextManagement != nil {
		p := c.ContextManagement.Normalize()
		c.ContextManagement = &p
	}
	if c.ToolCompaction != nil {
		p := c.ToolCompaction.Normalize()
		c.ToolCompaction = &p
	}
	return c
}

// Profile returns the profile with id.
func (c AppConfig) Profile(id string) (provider.Profile, bool) {
	for _, p := range c.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return provider.Profile{}, false
}

// Store reads and writes the document. Reads are served from a cache keyed
// by the file's modification time and size; writes replace the file
// atomically through a temp file and rename.
type Store struct {
	path string

	mu       sync.Mutex
	cached   *AppConfig
	modTime  time.Time
	size     int64
	onChange []func()
}

// Open returns a store for path. A missing file reads as an empty document.
func Open(path string) (*Store, error) {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expand path: %w", err)
	}
	if expanded == "" {
		return nil, errors.New("profiles: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	return &Store{path: expanded}, nil
}

// Path returns the document path.
func (s *Store) Path() string { return s.path }

// OnChange registers fn to run after WriteConfig or an observed reload.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// ReadConfig returns a deep copy of the current document.
func (s *Store) ReadConfig() (AppConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, err := s.readLocked()
	if err != nil {
		return AppConfig{}, err
	}
	return deepCopy(cfg)
}

func (s *Store) readLocked() (*AppConfig, error) {
	info, err := os.Stat(s.path)
	if errors.Is(err, os.ErrNotExist) {
		empty := AppConfig{}.Normalize()
		s.cached, s.modTime, s.size = &empty, time.Time{}, -1
		return s.cached, nil
	}
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}
	if s.cached != nil && info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		return s.cached, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg AppConfig
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", s.path, err)
		}
	}
	cfg = cfg.Normalize()
	s.cached, s.modTime, s.size = &cfg, info.ModTime(), info.Size()
	return s.cached, nil
}

// WriteConfig normalizes and persists cfg. Last write wins.
func (s *Store) WriteConfig(cfg AppConfig) error {
	s.mu.Lock()
	err := s.writeLocked(cfg)
	hooks := append([]func(){}, s.onChange...)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, fn := range hooks {
		fn()
	}
	return nil
}

func (s *Store) writeLocked(cfg AppConfig) error {
	cfg = cfg.Normalize()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".profiles-*.json")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace config: %w", err)
	}

	// force the next read to refresh from disk
	s.cached = nil
	return nil
}

// Update runs fn on a copy of the document and writes the result.
func (s *Store) Update(fn func(*AppConfig) error) error {
	s.mu.Lock()
	cur, err := s.readLocked()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	cfg, err := deepCopy(cur)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if err := fn(&cfg); err != nil {
		s.mu.Unlock()
		return err
	}
	err = s.writeLocked(cfg)
	hooks := append([]func(){}, s.onChange...)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	for _, h := range hooks {
		h()
	}
	return nil
}

// notify runs change hooks after an external edit.
func (s *Store) notify() {
	s.mu.Lock()
	s.cached = nil
	hooks := append([]func(){}, s.onChange...)
	s.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

// GetProfileByID implements provider.ProfileSource.
func (s *Store) GetProfileByID(id string) (provider.Profile, bool) {
	cfg, err := s.ReadConfig()
	if err != nil {
		logger.Warn().Err(err).Str("profile", id).Msg("read config failed")
		return provider.Profile{}, false
	}
	return cfg.Profile(id)
}

// SetPrimaryRoute moves target to the head of the priority list.
func (s *Store) SetPrimaryRoute(_ context.Context, target provider.Target) error {
	return s.Update(func(c *AppConfig) error {
		out := []provider.Target{target}
		for _, t := range c.Routing.ModelPriority {
			if t != target {
				out = append(out, t)
			}
		}
		c.Routing.ModelPriority = out
		return nil
	})
}

// Get implements routestate.Store over the document's conversation routes.
func (s *Store) Get(_ context.Context, conversationID string) (routestate.State, error) {
	cfg, err := s.ReadConfig()
	if err != nil {
		return routestate.State{}, err
	}
	st, ok := cfg.ConversationRoutes[conversationID]
	if !ok {
		return routestate.State{}, routestate.ErrNotFound
	}
	return st, nil
}

// Upsert implements routestate.Store.
func (s *Store) Upsert(_ context.Context, conversationID string, st routestate.State) error {
	if st.UpdatedAt.IsZero() {
		st.UpdatedAt = time.Now().UTC()
	}
	return s.Update(func(c *AppConfig) error {
		if c.ConversationRoutes == nil {
			c.ConversationRoutes = make(map[string]routestate.State)
		}
		c.ConversationRoutes[conversationID] = st
		return nil
	})
}

// Delete implements routestate.Store.
func (s *Store) Delete(_ context.Context, conversationID string) error {
	return s.Update(func(c *AppConfig) error {
		if _, ok := c.ConversationRoutes[conversationID]; !ok {
			return routestate.ErrNotFound
		}
		delete(c.ConversationRoutes, conversationID)
		return nil
	})
}

func deepCopy(c *AppConfig) (AppConfig, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return AppConfig{}, fmt.Errorf("copy config: %w", err)
	}
	var out AppConfig
	if err := json.Unmarshal(data, &out); err != nil {
		return AppConfig{}, fmt.Errorf("copy config: %w", err)
	}
	return out, nil
}
