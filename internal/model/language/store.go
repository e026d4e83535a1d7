package language

import (
	"strings"
	"sync"
)

// Store exposes the language catalog to handlers and services.
type Store interface {
	List() []Language
	FindByCode(code string) (Language, bool)
}

// MemoryStore implements Store with an in-memory slice that can be swapped
// atomically when the catalog file changes.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Language
}

// NewMemoryStore returns a MemoryStore preloaded with the supplied languages.
func NewMemoryStore(items []Language) *MemoryStore {
	return &MemoryStore{items: append([]Language(nil), items...)}
}

// List returns a copy of the catalog.
func (s *MemoryStore) List() []Language {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Language(nil), s.items...)
}

// FindByCode looks up a language by its code, ignoring case.
func (s *MemoryStore) FindByCode(code string) (Language, bool) {
	code = strings.TrimSpace(code)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if strings.EqualFold(item.Code, code) {
			return item, true
		}
	}
	return Language{}, false
}

// Replace swaps the whole catalog.
func (s *MemoryStore) Replace(items []Language) {
	s.mu.Lock()
	s.items = append([]Language(nil), items...)
	s.mu.Unlock()
}
