// Package form holds the user-editable sync settings exactly as entered.
// Values are kept as text until the normalizer validates them, so a
// malformed field can be reported instead of silently coerced.
package form

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"datalink-sync/internal/model"
)

// Section names, shared by the normalizer, the store and the API.
const (
	SectionIncludes      = "includes"
	SectionTime1         = "time1"
	SectionTime2         = "time2"
	SectionAlarms        = "alarms"
	SectionAppointments  = "appointments"
	SectionAnniversaries = "anniversaries"
	SectionPhoneNumbers  = "phone_numbers"
	SectionLists         = "lists"
	SectionSoundOptions  = "sound_options"
	SectionSettings      = "settings"
)

// Sections lists every persisted section in a stable order.
var Sections = []string{
	SectionIncludes,
	SectionTime1,
	SectionTime2,
	SectionAlarms,
	SectionAppointments,
	SectionAnniversaries,
	SectionPhoneNumbers,
	SectionLists,
	SectionSoundOptions,
	SectionSettings,
}

// Number is a numeric field as typed by the user. It decodes from either a
// JSON/YAML number or a string and is parsed by the normalizer.
type Number string

// N formats an int as a Number.
func N(v int) Number { return Number(strconv.Itoa(v)) }

func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*n = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*n = Number(str)
		return nil
	}
	*n = Number(s)
	return nil
}

func (n *Number) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar", value.Line)
	}
	*n = Number(value.Value)
	return nil
}

// Includes selects which sections are sent.
type Includes struct {
	Time         bool `json:"time" yaml:"time"`
	Alarms       bool `json:"alarms" yaml:"alarms"`
	Eeprom       bool `json:"eeprom" yaml:"eeprom"`
	SoundOptions bool `json:"sound_options" yaml:"sound_options"`
	SoundTheme   bool `json:"sound_theme" yaml:"sound_theme"`
	WristApp     bool `json:"wrist_app" yaml:"wrist_app"`
}

// TimeZone is one zone as entered. Offset is "±HH:MM", optionally followed
// by "|CODE" as offered by the zone picker.
type TimeZone struct {
	Offset     string `json:"offset" yaml:"offset"`
	Name       string `json:"name" yaml:"name"`
	Is24h      bool   `json:"is_24h" yaml:"is_24h"`
	DateFormat string `json:"date_format" yaml:"date_format"`
}

type Alarm struct {
	Number  Number `json:"number" yaml:"number"`
	Audible bool   `json:"audible" yaml:"audible"`
	Hour    Number `json:"hour" yaml:"hour"`
	Minute  Number `json:"minute" yaml:"minute"`
	Message string `json:"message" yaml:"message"`
}

// Appointment dates use the datetime-local layout "2006-01-02T15:04".
type Appointment struct {
	Date    string `json:"date" yaml:"date"`
	Message string `json:"message" yaml:"message"`
}

// Anniversary dates use "2006-01-02".
type Anniversary struct {
	Date    string `json:"date" yaml:"date"`
	Message string `json:"message" yaml:"message"`
}

type Phone struct {
	Name   string `json:"name" yaml:"name"`
	Number string `json:"number" yaml:"number"`
	Type   string `json:"type" yaml:"type"`
}

type ListItem struct {
	Entry    string `json:"entry" yaml:"entry"`
	Priority Number `json:"priority" yaml:"priority"`
}

type SoundOptions struct {
	HourlyChime bool `json:"hourly_chime" yaml:"hourly_chime"`
	ButtonBeep  bool `json:"button_beep" yaml:"button_beep"`
}

// Settings holds the scalar options. An empty WatchTime means "now".
type Settings struct {
	WatchTime               string `json:"watch_time" yaml:"watch_time"`
	AppointmentNotification Number `json:"appointment_notification" yaml:"appointment_notification"`
	SyncLength              Number `json:"sync_length" yaml:"sync_length"`
	// StartBeep asks the watch to beep when the transfer starts.
	StartBeep bool `json:"start_beep" yaml:"start_beep"`
}

// State is the complete editable form.
type State struct {
	Includes      Includes      `json:"includes" yaml:"includes"`
	Time1         TimeZone      `json:"time1" yaml:"time1"`
	Time2         TimeZone      `json:"time2" yaml:"time2"`
	Alarms        []Alarm       `json:"alarms" yaml:"alarms"`
	Appointments  []Appointment `json:"appointments" yaml:"appointments"`
	Anniversaries []Anniversary `json:"anniversaries" yaml:"anniversaries"`
	PhoneNumbers  []Phone       `json:"phone_numbers" yaml:"phone_numbers"`
	Lists         []ListItem    `json:"lists" yaml:"lists"`
	SoundOptions  SoundOptions  `json:"sound_options" yaml:"sound_options"`
	Settings      Settings      `json:"settings" yaml:"settings"`
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	c := *s
	c.Alarms = append([]Alarm(nil), s.Alarms...)
	c.Appointments = append([]Appointment(nil), s.Appointments...)
	c.Anniversaries = append([]Anniversary(nil), s.Anniversaries...)
	c.PhoneNumbers = append([]Phone(nil), s.PhoneNumbers...)
	c.Lists = append([]ListItem(nil), s.Lists...)
	return &c
}

// Clear empties a list section. "eeprom" clears appointments,
// anniversaries, phone numbers and lists together.
func (s *State) Clear(section string) error {
	switch section {
	case SectionAlarms:
		s.Alarms = nil
	case SectionAppointments:
		s.Appointments = nil
	case SectionAnniversaries:
		s.Anniversaries = nil
	case SectionPhoneNumbers:
		s.PhoneNumbers = nil
	case SectionLists:
		s.Lists = nil
	case "eeprom":
		s.Appointments = nil
		s.Anniversaries = nil
		s.PhoneNumbers = nil
		s.Lists = nil
	default:
		return fmt.Errorf("section %q cannot be cleared", section)
	}
	return nil
}

// ReplaceAppointments swaps the appointment section for imported entries.
func (s *State) ReplaceAppointments(entries []model.AppointmentEntry) {
	s.Appointments = make([]Appointment, 0, len(entries))
	for _, e := range entries {
		s.Appointments = append(s.Appointments, Appointment{
			Date:    e.Time.Format(DateTimeLayout),
			Message: e.Message,
		})
	}
}

// ReplaceLists swaps the to-do section for imported entries.
func (s *State) ReplaceLists(entries []model.ListEntry) {
	s.Lists = make([]ListItem, 0, len(entries))
	for _, e := range entries {
		s.Lists = append(s.Lists, ListItem{Entry: e.Entry, Priority: N(e.Priority)})
	}
}

// ReplacePhoneNumbers swaps the phone section for imported entries.
func (s *State) ReplacePhoneNumbers(entries []model.PhoneEntry) {
	s.PhoneNumbers = make([]Phone, 0, len(entries))
	for _, e := range entries {
		s.PhoneNumbers = append(s.PhoneNumbers, Phone{Name: e.Name, Number: e.Number, Type: string(e.Type)})
	}
}

// Layouts of the date fields.
const (
	DateTimeLayout = "2006-01-02T15:04"
	DateLayout     = "2006-01-02"
)

// NewAlarm, NewAppointment etc. return the blank rows offered by "Add".
func NewAlarm() Alarm {
	return Alarm{Number: "1", Audible: true, Hour: "9", Minute: "0"}
}

func NewAppointment(now time.Time) Appointment {
	return Appointment{Date: now.UTC().Format(DateTimeLayout)}
}

func NewAnniversary(now time.Time) Anniversary {
	return Anniversary{Date: now.UTC().Format(DateLayout)}
}

func NewPhone() Phone { return Phone{Type: string(model.PhoneHome)} }

func NewListItem() ListItem { return ListItem{Priority: "3"} }

// LoadFile reads a form from a YAML or JSON file. Missing sections keep
// their zero value.
func LoadFile(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read form: %w", err)
	}
	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse form %s: %w", path, err)
	}
	return &st, nil
}
