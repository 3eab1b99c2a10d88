// Package model defines the canonical request handed to the packet encoder.
// Everything that may be synced to the watch in one session is described by
// a single Request value built by the normalizer.
package model

import "time"

// Message length limits enforced by the watch firmware.
const (
	AlarmMessageMax = 8
	EntryTextMax    = 12
)

// NoPriority marks a list entry without a priority.
const NoPriority = -1

// DefaultSyncLength is the sync length used when none is configured.
const DefaultSyncLength = 150

// DateFormat selects how a time zone displays the date.
type DateFormat string

const (
	MonthDashDayDashYear DateFormat = "MonthDashDayDashYear"
	DayDashMonthDashYear DateFormat = "DayDashMonthDashYear"
	YearDashMonthDashDay DateFormat = "YearDashMonthDashDay"
	MonthDotDayDotYear   DateFormat = "MonthDotDayDotYear"
	DayDotMonthDotYear   DateFormat = "DayDotMonthDotYear"
	YearDotMonthDotDay   DateFormat = "YearDotMonthDotDay"
)

// DateFormats lists every supported selector.
var DateFormats = []DateFormat{
	MonthDashDayDashYear,
	DayDashMonthDashYear,
	YearDashMonthDashDay,
	MonthDotDayDotYear,
	DayDotMonthDotYear,
	YearDotMonthDotDay,
}

// Valid reports whether f is a known selector.
func (f DateFormat) Valid() bool {
	for _, d := range DateFormats {
		if d == f {
			return true
		}
	}
	return false
}

// PhoneType is the single-letter phone category shown on the watch.
type PhoneType string

const (
	PhoneHome  PhoneType = "H"
	PhoneWork  PhoneType = "W"
	PhoneCell  PhoneType = "C"
	PhoneFax   PhoneType = "F"
	PhonePager PhoneType = "P"
	PhoneOther PhoneType = "O"
)

// Valid reports whether t is one of H, W, C, F, P, O.
func (t PhoneType) Valid() bool {
	switch t {
	case PhoneHome, PhoneWork, PhoneCell, PhoneFax, PhonePager, PhoneOther:
		return true
	}
	return false
}

// TimeZoneSetting is one of the two clocks shown by the watch.
// Timestamp is the reference instant shifted by OffsetHours, in epoch seconds.
type TimeZoneSetting struct {
	Zone        int        `json:"zone"`
	Name        string     `json:"name"`
	Is24h       bool       `json:"is_24h"`
	DateFormat  DateFormat `json:"date_format"`
	OffsetHours float64    `json:"offset_hours"`
	Timestamp   int64      `json:"timestamp"`
}

// Time returns the shifted timestamp as a UTC wall clock.
func (t TimeZoneSetting) Time() time.Time {
	return time.Unix(t.Timestamp, 0).UTC()
}

// AlarmEntry is one of the five alarm slots.
type AlarmEntry struct {
	Number  int    `json:"number"`
	Audible bool   `json:"audible"`
	Hour    int    `json:"hour"`
	Minute  int    `json:"minute"`
	Message string `json:"message"`
}

// AppointmentEntry is a dated reminder. Time carries a wall clock in UTC.
type AppointmentEntry struct {
	Time    time.Time `json:"time"`
	Message string    `json:"message"`
}

// AnniversaryEntry is a yearly reminder without a time of day.
type AnniversaryEntry struct {
	Date    time.Time `json:"date"`
	Message string    `json:"message"`
}

// PhoneEntry is a phone book record.
type PhoneEntry struct {
	Name   string    `json:"name"`
	Number string    `json:"number"`
	Type   PhoneType `json:"type"`
}

// ListEntry is a to-do item. Priority is 1..5 or NoPriority.
type ListEntry struct {
	Entry    string `json:"entry"`
	Priority int    `json:"priority"`
}

// HasPriority reports whether the entry carries a priority.
func (l ListEntry) HasPriority() bool { return l.Priority != NoPriority }

// SoundOptions toggles the watch's audible feedback.
type SoundOptions struct {
	HourlyChime bool `json:"hourly_chime"`
	ButtonBeep  bool `json:"button_beep"`
}

// BinaryPayload is a raw file (sound theme or wrist app) sent verbatim.
// A nil *BinaryPayload means no payload.
type BinaryPayload struct {
	Data []byte `json:"data"`
}

// Len returns the payload size, zero for a nil payload.
func (p *BinaryPayload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}

// Request is the unit passed to the encoder.
type Request struct {
	IncludeTime         bool `json:"include_time"`
	IncludeAlarms       bool `json:"include_alarms"`
	IncludeEeprom       bool `json:"include_eeprom"`
	IncludeSoundOptions bool `json:"include_sound_options"`
	IncludeSoundTheme   bool `json:"include_sound_theme"`
	IncludeWristApp     bool `json:"include_wrist_app"`

	Time1 TimeZoneSetting `json:"time1"`
	Time2 TimeZoneSetting `json:"time2"`

	Alarms []AlarmEntry `json:"alarms"`

	// AppointmentNotification is the lead time in minutes; nil disables it.
	AppointmentNotification *int               `json:"appointment_notification"`
	Appointments            []AppointmentEntry `json:"appointments"`
	Anniversaries           []AnniversaryEntry `json:"anniversaries"`
	PhoneNumbers            []PhoneEntry       `json:"phone_numbers"`
	Lists                   []ListEntry        `json:"lists"`

	SoundOptions SoundOptions   `json:"sound_options"`
	SoundTheme   *BinaryPayload `json:"sound_theme"`
	WristApp     *BinaryPayload `json:"wrist_app"`

	SyncLength int  `json:"sync_length"`
	StartBeep  bool `json:"start_beep"`
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n < 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
