// Package store persists the editable form between sessions.
package store

import (
	"errors"
	"fmt"
	"sync"

	"datalink-sync/internal/form"
)

// ErrNotFound is returned when a requested section does not exist in the store.
var ErrNotFound = errors.New("not found")

// PersistenceError reports a section whose stored value could not be read.
// The section falls back to its default.
type PersistenceError struct {
	Section string
	Err     error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("section %s: %v", e.Section, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Store defines the persistence interface.
type Store interface {
	// SaveSnapshot writes every section in a single transaction.
	SaveSnapshot(st *form.State) error

	// LoadSnapshot returns the stored form. Missing sections take their
	// defaults; unreadable ones do too and are reported as
	// *PersistenceError values joined into the error.
	LoadSnapshot() (*form.State, error)

	// ClearSnapshot removes every stored section.
	ClearSnapshot() error

	// LoadSection decodes the stored value of one section into v, or
	// returns ErrNotFound when it was never saved.
	LoadSection(name string, v any) error

	Close() error
}

// Sections wraps a Store with the write suppression used while the form is
// being populated from storage.
type Sections struct {
	store Store

	mu         sync.Mutex
	populating bool
}

func NewSections(s Store) *Sections {
	return &Sections{store: s}
}

// BeginPopulate suppresses saves until EndPopulate.
func (s *Sections) BeginPopulate() {
	s.mu.Lock()
	s.populating = true
	s.mu.Unlock()
}

func (s *Sections) EndPopulate() {
	s.mu.Lock()
	s.populating = false
	s.mu.Unlock()
}

// Populating reports whether saves are currently suppressed.
func (s *Sections) Populating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.populating
}

// Load reads the snapshot. Callers populating from it bracket the whole
// sequence with BeginPopulate and EndPopulate.
func (s *Sections) Load() (*form.State, error) {
	return s.store.LoadSnapshot()
}

// Save persists st unless a populate is in progress.
func (s *Sections) Save(st *form.State) error {
	if s.Populating() {
		return nil
	}
	return s.store.SaveSnapshot(st)
}

// LoadSection reads one section as stored, without defaults.
func (s *Sections) LoadSection(name string, v any) error {
	return s.store.LoadSection(name, v)
}

func (s *Sections) Clear() error {
	return s.store.ClearSnapshot()
}
