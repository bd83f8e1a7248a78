// Package settings serves the process-wide settings document through a
// read-through cache.
package settings

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// DefaultTTL is how long a loaded document is served before reloading.
const DefaultTTL = 10 * time.Second

// Service caches the settings document for TTL. Save writes through and
// refreshes the cache.
type Service struct {
	store store.SettingsStore
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	cached   model.Settings
	loadedAt time.Time
	loaded   bool

	listeners []func(model.Settings)
}

// New creates a settings service over st.
func New(st store.SettingsStore, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{store: st, ttl: ttl, now: time.Now}
}

// OnChange registers fn to run after every reload that yields a document.
func (s *Service) OnChange(fn func(model.Settings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Get returns the cached document, reloading it once the TTL has passed.
// An unreadable store is catastrophic for the caller.
func (s *Service) Get(ctx context.Context) (model.Settings, error) {
	s.mu.Lock()
	if s.loaded && s.now().Sub(s.loadedAt) < s.ttl {
		out := s.cached
		s.mu.Unlock()
		return out, nil
	}
	s.mu.Unlock()

	loaded, err := s.store.LoadSettings(ctx)
	if err != nil {
		return model.Settings{}, eris.Wrap(err, "settings: load")
	}
	s.publish(loaded)
	return loaded, nil
}

// Save validates and persists doc, then refreshes the cache.
func (s *Service) Save(ctx context.Context, doc model.Settings) error {
	if err := doc.Validate(); err != nil {
		return err
	}
	if err := s.store.SaveSettings(ctx, doc); err != nil {
		return eris.Wrap(err, "settings: save")
	}
	zap.L().Info("settings: saved",
		zap.Bool("master_switch", doc.MasterSwitch),
		zap.String("automation_mode", string(doc.AutomationMode)),
		zap.String("email_trigger_mode", string(doc.EmailTriggerMode)),
	)
	s.publish(doc)
	return nil
}

// Invalidate drops the cached document.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loaded = false
}

func (s *Service) publish(doc model.Settings) {
	s.mu.Lock()
	s.cached = doc
	s.loadedAt = s.now()
	s.loaded = true
	listeners := append([]func(model.Settings){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(doc)
	}
}
