// Package session owns the per-session mutable state: the current form,
// loaded payloads, import review caches, the token store and the device
// driver. The CLI, HTTP API, MQTT bridge and scheduler all go through it.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"datalink-sync/internal/encoder"
	"datalink-sync/internal/form"
	"datalink-sync/internal/importer"
	"datalink-sync/internal/normalize"
	"datalink-sync/internal/store"
	"datalink-sync/internal/transmit"
)

// Payload kinds accepted by SetPayload.
const (
	PayloadSoundTheme = "sound_theme"
	PayloadWristApp   = "wrist_app"
)

var (
	ErrEmptyPayload  = errors.New("payload file is empty")
	ErrUnknownSource = errors.New("unknown import source")
	ErrNotFetched    = errors.New("nothing fetched to import")
	ErrNoSelection   = errors.New("no records selected")

	ErrUnknownSection = errors.New("unknown form section")
)

// Session is safe for concurrent use. Long operations (send, fetch) run
// without holding the state lock.
type Session struct {
	id       string
	logger   *slog.Logger
	bus      *EventBus
	activity *ActivityLog
	sections *store.Sections
	norm     *normalize.Normalizer
	enc      encoder.Encoder
	tokens   *importer.Tokens
	driver   *transmit.Driver

	device     string
	opener     transmit.Opener
	driverOpts []transmit.Option

	sources map[string]importer.Source
	order   []string

	mu       sync.Mutex
	form     *form.State
	payloads normalize.Payloads
	cache    map[string][]importer.Record
	status   Status
}

// Option configures a Session.
type Option func(*Session)

func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

func WithEncoder(e encoder.Encoder) Option {
	return func(s *Session) { s.enc = e }
}

func WithNormalizer(n *normalize.Normalizer) Option {
	return func(s *Session) { s.norm = n }
}

func WithTokens(t *importer.Tokens) Option {
	return func(s *Session) { s.tokens = t }
}

func WithBus(b *EventBus) Option {
	return func(s *Session) { s.bus = b }
}

// WithDevice sets the device the driver opens. Without it packets go to a
// preview port that only logs them.
func WithDevice(device string, open transmit.Opener, opts ...transmit.Option) Option {
	return func(s *Session) {
		s.device = device
		s.opener = open
		s.driverOpts = opts
	}
}

// WithSource registers an import source under its Name.
func WithSource(src importer.Source) Option {
	return func(s *Session) {
		if _, ok := s.sources[src.Name()]; !ok {
			s.order = append(s.order, src.Name())
		}
		s.sources[src.Name()] = src
	}
}

// New creates a session backed by st. Call Load before use.
func New(st store.Store, opts ...Option) *Session {
	s := &Session{
		id:       uuid.NewString(),
		logger:   slog.Default(),
		activity: NewActivityLog(DefaultActivityLimit),
		sections: store.NewSections(st),
		tokens:   importer.NewTokens(),
		sources:  make(map[string]importer.Source),
		form:     form.Defaults(),
		cache:    make(map[string][]importer.Record),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session", "session", s.id)
	if s.bus == nil {
		s.bus = NewEventBus(s.logger)
	}
	if s.norm == nil {
		s.norm = normalize.New()
	}
	if s.opener == nil {
		s.device = "preview"
		s.opener = transmit.OpenPreview(s.logger)
	}

	dopts := append([]transmit.Option{
		transmit.WithLogger(s.logger),
		transmit.WithStateHook(func(st transmit.State) {
			s.bus.Emit(EventDeviceState, st.String())
		}),
		transmit.WithProgress(func(p transmit.Progress) {
			s.bus.Emit(EventProgress, p)
		}),
	}, s.driverOpts...)
	s.driver = transmit.NewDriver(s.device, s.opener, dopts...)
	return s
}

func (s *Session) ID() string                { return s.id }
func (s *Session) Bus() *EventBus            { return s.bus }
func (s *Session) Tokens() *importer.Tokens  { return s.tokens }
func (s *Session) Driver() *transmit.Driver  { return s.driver }
func (s *Session) Activity() []ActivityEntry { return s.activity.Entries() }

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// report sets the status indicator and appends to the activity log.
func (s *Session) report(level, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	entry := s.activity.Add(level, msg)

	s.mu.Lock()
	s.status = Status{Level: level, Message: msg, Time: entry.Time}
	st := s.status
	s.mu.Unlock()

	switch level {
	case LevelError:
		s.logger.Error(msg)
	case LevelWarn:
		s.logger.Warn(msg)
	default:
		s.logger.Info(msg)
	}
	s.bus.Emit(EventActivity, entry)
	s.bus.Emit(EventStatus, st)
}

// Load populates the form from the store. Saves are suppressed until the
// form is assigned and every listener has seen it. Unreadable sections
// fall back to their defaults and are reported.
func (s *Session) Load() error {
	s.sections.BeginPopulate()
	defer s.sections.EndPopulate()

	st, err := s.sections.Load()

	s.mu.Lock()
	s.form = st
	s.mu.Unlock()
	s.bus.Emit(EventForm, st.Clone())

	if err != nil {
		var perrs []*store.PersistenceError
		for _, e := range unwrapAll(err) {
			var pe *store.PersistenceError
			if errors.As(e, &pe) {
				perrs = append(perrs, pe)
			}
		}
		for _, pe := range perrs {
			s.report(LevelError, "Could not restore %s, using defaults: %v", pe.Section, pe.Err)
		}
		if len(perrs) == 0 {
			s.report(LevelError, "Could not restore saved data, using defaults: %v", err)
		}
		return err
	}
	s.report(LevelInfo, "Session ready")
	return nil
}

func unwrapAll(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

// StoredSection returns the raw stored value of one form section. It
// wraps store.ErrNotFound when the section was never saved.
func (s *Session) StoredSection(name string) (json.RawMessage, error) {
	if !slices.Contains(form.Sections, name) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSection, name)
	}
	var raw json.RawMessage
	if err := s.sections.LoadSection(name, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Form returns a copy of the current form.
func (s *Session) Form() *form.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form.Clone()
}

// UpdateForm replaces the form and saves it.
func (s *Session) UpdateForm(st *form.State) error {
	s.mu.Lock()
	s.form = st.Clone()
	snapshot := s.form.Clone()
	s.mu.Unlock()

	s.bus.Emit(EventForm, snapshot)
	return s.save(snapshot)
}

// ClearSection empties a list section and saves.
func (s *Session) ClearSection(section string) error {
	s.mu.Lock()
	if err := s.form.Clear(section); err != nil {
		s.mu.Unlock()
		return err
	}
	snapshot := s.form.Clone()
	s.mu.Unlock()

	s.bus.Emit(EventForm, snapshot)
	s.report(LevelInfo, "Cleared %s", section)
	return s.save(snapshot)
}

// Reset removes every stored section and restores the built-in defaults.
func (s *Session) Reset() error {
	if err := s.sections.Clear(); err != nil {
		s.report(LevelError, "Reset failed: %v", err)
		return err
	}
	s.mu.Lock()
	s.form = form.Defaults()
	snapshot := s.form.Clone()
	s.mu.Unlock()

	s.bus.Emit(EventForm, snapshot)
	s.report(LevelInfo, "Restored default data")
	return nil
}

func (s *Session) save(st *form.State) error {
	if err := s.sections.Save(st); err != nil {
		s.report(LevelError, "Save failed: %v", err)
		return err
	}
	return nil
}

// SetPayload loads a sound theme or wrist app for this session only.
func (s *Session) SetPayload(kind string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("%s: %w", kind, ErrEmptyPayload)
	}
	data = append([]byte(nil), data...)

	s.mu.Lock()
	switch kind {
	case PayloadSoundTheme:
		s.payloads.SoundTheme = data
	case PayloadWristApp:
		s.payloads.WristApp = data
	default:
		s.mu.Unlock()
		return fmt.Errorf("unknown payload %q", kind)
	}
	s.mu.Unlock()

	s.report(LevelInfo, "Loaded %s (%d bytes)", kind, len(data))
	return nil
}

func (s *Session) ClearPayload(kind string) error {
	s.mu.Lock()
	switch kind {
	case PayloadSoundTheme:
		s.payloads.SoundTheme = nil
	case PayloadWristApp:
		s.payloads.WristApp = nil
	default:
		s.mu.Unlock()
		return fmt.Errorf("unknown payload %q", kind)
	}
	s.mu.Unlock()

	s.report(LevelInfo, "Cleared %s", kind)
	return nil
}

// PayloadSizes returns the size of each loaded payload.
func (s *Session) PayloadSizes() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return map[string]int{
		PayloadSoundTheme: len(s.payloads.SoundTheme),
		PayloadWristApp:   len(s.payloads.WristApp),
	}
}

func (s *Session) snapshot() (*form.State, normalize.Payloads) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form.Clone(), s.payloads
}
