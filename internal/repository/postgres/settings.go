package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/crewviateam/lead-flow-server-sub000/internal/domain"
)

// settingsCacheTTL keeps reads cheap; settings change rarely and a 30s lag
// is acceptable everywhere they are consumed.
const settingsCacheTTL = 30 * time.Second

// SettingsStore reads and writes the singleton settings row, with a short
// read cache.
type SettingsStore struct {
	db *sql.DB

	mu        sync.RWMutex
	cached    *domain.Settings
	fetchedAt time.Time
}

// NewSettingsStore creates the settings store.
func NewSettingsStore(db *sql.DB) *SettingsStore { return &SettingsStore{db: db} }

// Get returns current settings, from cache when fresh. A missing row yields
// the defaults.
func (s *SettingsStore) Get(ctx context.Context) (*domain.Settings, error) {
	s.mu.RLock()
	if s.cached != nil && time.Since(s.fetchedAt) < settingsCacheTTL {
		cached := s.cached
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM settings ORDER BY updated_at DESC LIMIT 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return domain.DefaultSettings(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	settings := domain.DefaultSettings()
	if err := json.Unmarshal(raw, settings); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	s.mu.Lock()
	s.cached = settings
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	return settings, nil
}

// Save upserts the settings row and invalidates the cache.
func (s *SettingsStore) Save(ctx context.Context, settings *domain.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (id, data, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = NOW()
	`, raw)
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.mu.Lock()
	s.cached = settings
	s.fetchedAt = time.Now()
	s.mu.Unlock()
	return nil
}

// Invalidate drops the cache, used by tests and the admin API after writes
// from another process.
func (s *SettingsStore) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}
