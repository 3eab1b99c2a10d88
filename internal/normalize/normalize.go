// Package normalize turns the raw form into the canonical request.
//
// It owns the time zone arithmetic, message truncation and defaulting
// rules. Problems are reported per section: a section with a malformed
// field is left out of the request while the other sections still go out.
package normalize

import (
	"strconv"
	"strings"
	"time"

	"datalink-sync/internal/form"
	"datalink-sync/internal/model"
)

// DefaultZoneName is used when neither the name field nor the zone picker
// supplies a code.
const DefaultZoneName = "HOM"

// Payloads are the binary files loaded in the current session. A nil slice
// means no file has been loaded.
type Payloads struct {
	SoundTheme []byte
	WristApp   []byte
}

// Normalizer builds requests. The zero value is not usable; call New.
type Normalizer struct {
	now func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock replaces the wall clock used when no reference time is given.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) {
		n.now = now
	}
}

// New creates a Normalizer using the system clock.
func New(opts ...Option) *Normalizer {
	n := &Normalizer{now: time.Now}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Build normalizes st. It always returns a request; when some sections are
// invalid they are excluded from it and err is a ValidationErrors listing
// every problem.
func (n *Normalizer) Build(st *form.State, payloads Payloads) (*model.Request, error) {
	var errs ValidationErrors

	req := &model.Request{
		IncludeTime:         st.Includes.Time,
		IncludeAlarms:       st.Includes.Alarms,
		IncludeEeprom:       st.Includes.Eeprom,
		IncludeSoundOptions: st.Includes.SoundOptions,
		Time1:               model.TimeZoneSetting{Zone: 1},
		Time2:               model.TimeZoneSetting{Zone: 2},
		Alarms:              []model.AlarmEntry{},
		Appointments:        []model.AppointmentEntry{},
		Anniversaries:       []model.AnniversaryEntry{},
		PhoneNumbers:        []model.PhoneEntry{},
		Lists:               []model.ListEntry{},
		SoundOptions: model.SoundOptions{
			HourlyChime: st.SoundOptions.HourlyChime,
			ButtonBeep:  st.SoundOptions.ButtonBeep,
		},
	}

	// Zones are computed even when time is excluded. Problems only block
	// an included section.
	var timeErrs ValidationErrors
	ref, verr := n.reference(st.Settings.WatchTime)
	if verr != nil {
		timeErrs = append(timeErrs, verr)
	}
	z1, zerrs := buildZone(1, st.Time1, ref)
	timeErrs = append(timeErrs, zerrs...)
	z2, zerrs := buildZone(2, st.Time2, ref)
	timeErrs = append(timeErrs, zerrs...)
	switch {
	case len(timeErrs) == 0:
		req.Time1, req.Time2 = z1, z2
	case req.IncludeTime:
		req.IncludeTime = false
		errs = append(errs, timeErrs...)
	}

	if req.IncludeAlarms {
		alarms, aerrs := buildAlarms(st.Alarms)
		if len(aerrs) > 0 {
			req.IncludeAlarms = false
			errs = append(errs, aerrs...)
		} else {
			req.Alarms = alarms
		}
	}

	if req.IncludeEeprom {
		if eerrs := buildEeprom(req, st); len(eerrs) > 0 {
			req.IncludeEeprom = false
			req.AppointmentNotification = nil
			req.Appointments = []model.AppointmentEntry{}
			req.Anniversaries = []model.AnniversaryEntry{}
			req.PhoneNumbers = []model.PhoneEntry{}
			req.Lists = []model.ListEntry{}
			errs = append(errs, eerrs...)
		}
	}

	// Presence of data gates the flag, never the other way round.
	req.SoundTheme = payload(st.Includes.SoundTheme, payloads.SoundTheme)
	req.IncludeSoundTheme = req.SoundTheme != nil
	req.WristApp = payload(st.Includes.WristApp, payloads.WristApp)
	req.IncludeWristApp = req.WristApp != nil

	syncLength, err := parseSyncLength(st.Settings.SyncLength)
	if err != nil {
		errs = append(errs, err)
	}
	req.SyncLength = syncLength
	req.StartBeep = st.Settings.StartBeep

	if len(errs) > 0 {
		return req, errs
	}
	return req, nil
}

// reference resolves the instant both zones are derived from.
func (n *Normalizer) reference(watchTime string) (time.Time, *ValidationError) {
	now := n.now().UTC().Truncate(time.Second)
	s := strings.TrimSpace(watchTime)
	if s == "" {
		return now, nil
	}
	for _, layout := range []string{form.DateTimeLayout, "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	return now, invalid(SectionTime, -1, "watch_time", watchTime, "want YYYY-MM-DDTHH:MM")
}

func buildZone(zone int, tz form.TimeZone, ref time.Time) (model.TimeZoneSetting, ValidationErrors) {
	var errs ValidationErrors
	field := "time" + strconv.Itoa(zone)

	setting := model.TimeZoneSetting{Zone: zone, Is24h: tz.Is24h}

	off, err := ParseOffset(tz.Offset)
	if err != nil {
		errs = append(errs, invalid(SectionTime, -1, field+".offset", tz.Offset, err.Error()))
	}
	setting.OffsetHours = off.Hours
	setting.Timestamp = ref.Unix() + off.Seconds

	setting.Name = strings.TrimSpace(tz.Name)
	if setting.Name == "" {
		setting.Name = off.Code
	}
	if setting.Name == "" {
		setting.Name = DefaultZoneName
	}

	setting.DateFormat = model.DateFormat(strings.TrimSpace(tz.DateFormat))
	if setting.DateFormat == "" {
		setting.DateFormat = model.DayDashMonthDashYear
	} else if !setting.DateFormat.Valid() {
		errs = append(errs, invalid(SectionTime, -1, field+".date_format", tz.DateFormat, "unknown date format"))
	}
	return setting, errs
}

func buildAlarms(rows []form.Alarm) ([]model.AlarmEntry, ValidationErrors) {
	var errs ValidationErrors
	alarms := make([]model.AlarmEntry, 0, len(rows))
	for i, row := range rows {
		number, err := parseInt(SectionAlarms, i, "number", row.Number, 1, 5)
		if err != nil {
			errs = append(errs, err)
		}
		hour, err := parseInt(SectionAlarms, i, "hour", row.Hour, 0, 23)
		if err != nil {
			errs = append(errs, err)
		}
		minute, err := parseInt(SectionAlarms, i, "minute", row.Minute, 0, 59)
		if err != nil {
			errs = append(errs, err)
		}
		alarms = append(alarms, model.AlarmEntry{
			Number:  number,
			Audible: row.Audible,
			Hour:    hour,
			Minute:  minute,
			Message: model.Truncate(row.Message, model.AlarmMessageMax),
		})
	}
	return alarms, errs
}

func buildEeprom(req *model.Request, st *form.State) ValidationErrors {
	var errs ValidationErrors

	lead, err := parseNotification(st.Settings.AppointmentNotification)
	if err != nil {
		errs = append(errs, err)
	}
	req.AppointmentNotification = lead

	for i, row := range st.Appointments {
		t, perr := parseDateTime(row.Date)
		if perr != nil {
			errs = append(errs, invalid(SectionEeprom, i, "appointments.date", row.Date, "want YYYY-MM-DDTHH:MM"))
			continue
		}
		req.Appointments = append(req.Appointments, model.AppointmentEntry{
			Time:    t,
			Message: model.Truncate(row.Message, model.EntryTextMax),
		})
	}

	for i, row := range st.Anniversaries {
		d, perr := time.ParseInLocation(form.DateLayout, strings.TrimSpace(row.Date), time.UTC)
		if perr != nil {
			errs = append(errs, invalid(SectionEeprom, i, "anniversaries.date", row.Date, "want YYYY-MM-DD"))
			continue
		}
		req.Anniversaries = append(req.Anniversaries, model.AnniversaryEntry{
			Date:    d,
			Message: model.Truncate(row.Message, model.EntryTextMax),
		})
	}

	for i, row := range st.PhoneNumbers {
		typ := model.PhoneType(strings.TrimSpace(row.Type))
		if typ == "" {
			typ = model.PhoneHome
		}
		if !typ.Valid() {
			errs = append(errs, invalid(SectionEeprom, i, "phone_numbers.type", row.Type, "want one of H, W, C, F, P, O"))
			continue
		}
		req.PhoneNumbers = append(req.PhoneNumbers, model.PhoneEntry{
			Name:   model.Truncate(row.Name, model.EntryTextMax),
			Number: row.Number,
			Type:   typ,
		})
	}

	for i, row := range st.Lists {
		priority, perr := parsePriority(i, row.Priority)
		if perr != nil {
			errs = append(errs, perr)
			continue
		}
		req.Lists = append(req.Lists, model.ListEntry{
			Entry:    model.Truncate(row.Entry, model.EntryTextMax),
			Priority: priority,
		})
	}
	return errs
}

func parseDateTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	t, err := time.ParseInLocation(form.DateTimeLayout, s, time.UTC)
	if err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC)
}

func parseInt(section string, index int, field string, raw form.Number, lo, hi int) (int, *ValidationError) {
	s := strings.TrimSpace(string(raw))
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalid(section, index, field, string(raw), "not a number")
	}
	if v < lo || v > hi {
		return v, invalid(section, index, field, string(raw), "out of range "+strconv.Itoa(lo)+".."+strconv.Itoa(hi))
	}
	return v, nil
}

// parsePriority accepts 1..5 and -1. An empty field means no priority.
func parsePriority(index int, raw form.Number) (int, *ValidationError) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return model.NoPriority, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, invalid(SectionEeprom, index, "lists.priority", string(raw), "not a number")
	}
	if v != model.NoPriority && (v < 1 || v > 5) {
		return 0, invalid(SectionEeprom, index, "lists.priority", string(raw), "want 1..5 or -1")
	}
	return v, nil
}

// parseNotification maps a negative lead time to "no notification".
func parseNotification(raw form.Number) (*int, *ValidationError) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, invalid(SectionEeprom, -1, "appointment_notification", string(raw), "not a number")
	}
	if v < 0 {
		return nil, nil
	}
	return &v, nil
}

func parseSyncLength(raw form.Number) (int, *ValidationError) {
	s := strings.TrimSpace(string(raw))
	if s == "" {
		return model.DefaultSyncLength, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return model.DefaultSyncLength, invalid(SectionSync, -1, "sync_length", string(raw), "not a number")
	}
	if v < 1 || v > 255 {
		return model.DefaultSyncLength, invalid(SectionSync, -1, "sync_length", string(raw), "out of range 1..255")
	}
	return v, nil
}

func payload(include bool, data []byte) *model.BinaryPayload {
	if !include || len(data) == 0 {
		return nil
	}
	return &model.BinaryPayload{Data: append([]byte(nil), data...)}
}

// DuplicateSlots returns alarm slot numbers used more than once.
func DuplicateSlots(alarms []model.AlarmEntry) []int {
	seen := make(map[int]int, len(alarms))
	var dups []int
	for _, a := range alarms {
		seen[a.Number]++
		if seen[a.Number] == 2 {
			dups = append(dups, a.Number)
		}
	}
	return dups
}
