// Package settings holds the system configuration aggregate: a schema of
// typed settings grouped by category, cached in memory and persisted as a
// single JSON document with optimistic concurrency.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/campuskubo/internal/model"
)

// Repository persists the settings document.
type Repository interface {
	Load() (*model.SettingsRecord, error)
	CreateIfAbsent(settingsID string, document []byte, createdAt time.Time) (*model.SettingsRecord, error)
	Save(settingsID string, document []byte, expectedRevision int64) (int64, error)
	History(settingsID string, limit int) ([]model.SettingsSnapshot, error)
}

// Batch maps category -> key -> value.
type Batch map[string]map[string]any

const (
	EventUpdated  = "settings_updated"
	EventReset    = "settings_reset"
	EventImported = "settings_imported"
)

// Event describes a committed change.
type Event struct {
	Type      string    `json:"type"`
	Keys      []string  `json:"keys,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Listener func(Event)

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	cached   *Settings
	revision int64

	lmu       sync.RWMutex
	listeners []Listener
}

func NewService(repo Repository, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{repo: repo, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn to run after every committed change.
func (s *Service) Subscribe(fn Listener) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Service) notify(ev Event) {
	s.lmu.RLock()
	listeners := slices.Clone(s.listeners)
	s.lmu.RUnlock()
	for _, fn := range listeners {
		fn(ev)
	}
}

// Initialize loads the stored document, creating it from defaults on first
// run. Calling it again never creates a second document.
func (s *Service) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

// Reload discards the cache and reads the stored document.
func (s *Service) Reload() error {
	return s.Initialize()
}

// load requires s.mu held for writing.
func (s *Service) load() error {
	rec, err := s.repo.Load()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if rec == nil {
		d := Defaults(uuid.NewString(), s.now())
		doc, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("marshal default settings: %w", err)
		}
		rec, err = s.repo.CreateIfAbsent(d.ID, doc, d.CreatedAt)
		if err != nil {
			return fmt.Errorf("create default settings: %w", err)
		}
		s.logger.Info("default settings created", "settings_id", rec.SettingsID)
	}

	parsed, err := Parse(rec.Document)
	if err != nil {
		return fmt.Errorf("stored settings: %w", err)
	}
	parsed.ID = rec.SettingsID
	s.cached = parsed
	s.revision = rec.Revision
	return nil
}

func (s *Service) ensureLoaded() error {
	if s.cached != nil {
		return nil
	}
	return s.load()
}

// Settings returns a copy of the cached aggregate, loading it on first use.
func (s *Service) Settings() (*Settings, error) {
	s.mu.RLock()
	if s.cached != nil {
		c := s.cached.Clone()
		s.mu.RUnlock()
		return c, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	return s.cached.Clone(), nil
}

// Get returns def alongside an error when category or key is not declared.
func (s *Service) Get(category, key string, def any) (any, error) {
	if _, err := lookupField(category, key); err != nil {
		return def, err
	}
	cur, err := s.Settings()
	if err != nil {
		return def, err
	}
	v, _ := cur.Value(category, key)
	return v, nil
}

func (s *Service) Update(category, key string, value any) error {
	err := s.UpdateMany(Batch{category: {key: value}})
	var be *BatchError
	if errors.As(err, &be) && len(be.Errs) == 1 {
		return be.Errs[0]
	}
	return err
}

// UpdateMany applies the whole batch or none of it. Every invalid entry is
// reported in a *BatchError.
func (s *Service) UpdateMany(batch Batch) error {
	if len(batch) == 0 {
		return nil
	}

	s.mu.Lock()
	if err := s.ensureLoaded(); err != nil {
		s.mu.Unlock()
		return err
	}

	next := s.cached.Clone()
	var errs []error
	var keys []string
	for _, cat := range sortedKeys(batch) {
		if _, err := lookupCategory(cat); err != nil {
			errs = append(errs, err)
			continue
		}
		for _, key := range sortedKeys(batch[cat]) {
			if err := next.set(cat, key, batch[cat][key]); err != nil {
				errs = append(errs, err)
				continue
			}
			keys = append(keys, cat+"."+key)
		}
	}
	if len(errs) > 0 {
		s.mu.Unlock()
		return &BatchError{Errs: errs}
	}
	if len(keys) == 0 {
		s.mu.Unlock()
		return nil
	}

	ev, err := s.commit(next, EventUpdated)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	ev.Keys = keys
	s.notify(ev)
	return nil
}

// ResetToDefaults replaces every value with its default. The settings id is
// kept; both timestamps restart.
func (s *Service) ResetToDefaults() error {
	s.mu.Lock()
	if err := s.ensureLoaded(); err != nil {
		s.mu.Unlock()
		return err
	}
	next := Defaults(s.cached.ID, s.now())
	ev, err := s.commit(next, EventReset)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(ev)
	return nil
}

// commit requires s.mu held for writing.
func (s *Service) commit(next *Settings, eventType string) (Event, error) {
	next.UpdatedAt = s.now().UTC()
	doc, err := json.Marshal(next)
	if err != nil {
		return Event{}, fmt.Errorf("marshal settings: %w", err)
	}
	rev, err := s.repo.Save(next.ID, doc, s.revision)
	if errors.Is(err, ErrConflict) {
		s.cached = nil
		s.logger.Warn("settings save conflict, cache dropped", "settings_id", next.ID)
		return Event{}, ErrConflict
	}
	if err != nil {
		return Event{}, fmt.Errorf("save settings: %w", err)
	}
	s.cached = next
	s.revision = rev
	s.logger.Info("settings saved", "event", eventType, "revision", rev)
	return Event{Type: eventType, UpdatedAt: next.UpdatedAt}, nil
}

// Export writes the aggregate as an indented JSON document.
func (s *Service) Export(w io.Writer) error {
	cur, err := s.Settings()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cur, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}

// Import validates a document and commits its values. The live settings id
// and creation time are kept. Nothing changes if validation fails.
func (s *Service) Import(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("read settings: %w", err)
	}
	parsed, err := Parse(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.ensureLoaded(); err != nil {
		s.mu.Unlock()
		return err
	}
	parsed.ID = s.cached.ID
	parsed.CreatedAt = s.cached.CreatedAt
	ev, err := s.commit(parsed, EventImported)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.notify(ev)
	return nil
}

func (s *Service) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	if err := s.Export(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (s *Service) ImportFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open import file: %w", err)
	}
	defer f.Close()
	return s.Import(f)
}

// History returns previous documents, newest first.
func (s *Service) History(limit int) ([]model.SettingsSnapshot, error) {
	cur, err := s.Settings()
	if err != nil {
		return nil, err
	}
	return s.repo.History(cur.ID, limit)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
