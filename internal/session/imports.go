package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"datalink-sync/internal/importer"
)

// SourceInfo describes a registered import source.
type SourceInfo struct {
	Name   string        `json:"name"`
	Kind   importer.Kind `json:"kind"`
	Cached int           `json:"cached"`
}

// Sources lists the registered import sources in registration order.
func (s *Session) Sources() []SourceInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SourceInfo, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, SourceInfo{Name: name, Kind: s.sources[name].Kind(), Cached: len(s.cache[name])})
	}
	return out
}

// Source returns the named source.
func (s *Session) Source(name string) (importer.Source, error) {
	src, ok := s.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, name)
	}
	return src, nil
}

// Fetch reads records from a source and caches them for review. A failed
// fetch leaves the previous cache untouched.
func (s *Session) Fetch(ctx context.Context, source string, c importer.Criteria) ([]importer.Record, error) {
	src, err := s.Source(source)
	if err != nil {
		return nil, err
	}

	records, err := src.Fetch(ctx, c)
	if err != nil {
		var aerr *importer.AuthError
		switch {
		case errors.As(err, &aerr):
			s.report(LevelError, "%s: sign in required (%v)", source, aerr.Err)
		case errors.Is(err, importer.ErrNoRecords):
			s.report(LevelWarn, "%s: no records found", source)
		default:
			s.report(LevelError, "%s fetch failed: %v", source, err)
		}
		return nil, err
	}

	s.mu.Lock()
	s.cache[source] = records
	s.mu.Unlock()

	s.bus.Emit(EventImport, SourceInfo{Name: source, Kind: src.Kind(), Cached: len(records)})
	s.report(LevelInfo, "%s: %d records ready for review", source, len(records))
	return records, nil
}

// Cached returns the records last fetched from source.
func (s *Session) Cached(source string) []importer.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]importer.Record(nil), s.cache[source]...)
}

// Import replaces the source's form section with the selected cached
// records and saves. It returns the number of entries imported.
func (s *Session) Import(source string, sel importer.Selection) (int, error) {
	src, err := s.Source(source)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	records, ok := s.cache[source]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("%s: %w", source, ErrNotFetched)
	}
	im := importer.Entries(records, sel)
	if im.Len() == 0 {
		s.mu.Unlock()
		return 0, fmt.Errorf("%s: %w", source, ErrNoSelection)
	}

	var n int
	switch src.Kind() {
	case importer.KindAppointments:
		s.form.ReplaceAppointments(im.Appointments)
		n = len(im.Appointments)
	case importer.KindLists:
		s.form.ReplaceLists(im.Lists)
		n = len(im.Lists)
	case importer.KindPhoneNumbers:
		s.form.ReplacePhoneNumbers(im.PhoneNumbers)
		n = len(im.PhoneNumbers)
	}
	snapshot := s.form.Clone()
	s.mu.Unlock()

	s.bus.Emit(EventForm, snapshot)
	s.report(LevelSuccess, "Imported %d %s from %s", n, src.Kind(), source)
	return n, s.save(snapshot)
}

// SignIn stores the token from an implicit-grant redirect fragment.
func (s *Session) SignIn(fragment string) (importer.TokenStatus, error) {
	tok, err := importer.ParseFragment(fragment, time.Now())
	if err != nil {
		s.report(LevelError, "Sign-in failed: %v", err)
		return importer.TokenStatus{}, err
	}
	s.tokens.Set(tok)
	status := s.tokens.Status()
	s.bus.Emit(EventAuth, status)
	if status.Account != "" {
		s.report(LevelSuccess, "Signed in as %s", status.Account)
	} else {
		s.report(LevelSuccess, "Signed in")
	}
	return status, nil
}

// SignOut drops the token and every cached review list.
func (s *Session) SignOut() {
	s.tokens.Clear()
	s.mu.Lock()
	clear(s.cache)
	s.mu.Unlock()

	s.bus.Emit(EventAuth, s.tokens.Status())
	s.report(LevelInfo, "Signed out")
}
