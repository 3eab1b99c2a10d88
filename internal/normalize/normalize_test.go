package normalize

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"datalink-sync/internal/form"
	"datalink-sync/internal/model"
)

var fixedNow = time.Date(2024, 5, 17, 10, 30, 45, 999, time.UTC)

func newTestNormalizer() *Normalizer {
	return New(WithClock(func() time.Time { return fixedNow }))
}

func TestParseOffset(t *testing.T) {
	tests := []struct {
		in      string
		hours   float64
		seconds int64
		code    string
		wantErr bool
	}{
		{"+01:00|CET", 1, 3600, "CET", false},
		{"-01:30", -1.5, -5400, "", false},
		{"+05:45|NPT", 5.75, 20700, "NPT", false},
		{"-00:30", -0.5, -1800, "", false},
		{"", 0, 0, "", false},
		{"|UTC", 0, 0, "UTC", false},
		{"+14:00", 14, 50400, "", false},
		{"-12:00", -12, -43200, "", false},
		{"+14:30", 0, 0, "", true},
		{"-13:00", 0, 0, "", true},
		{"+1:60", 0, 0, "", true},
		{"0100", 0, 0, "", true},
		{"abc", 0, 0, "", true},
	}
	for _, tt := range tests {
		off, err := ParseOffset(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseOffset(%q): expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseOffset(%q): %v", tt.in, err)
			continue
		}
		if off.Hours != tt.hours || off.Seconds != tt.seconds || off.Code != tt.code {
			t.Errorf("ParseOffset(%q) = %+v, want hours=%v seconds=%d code=%q", tt.in, off, tt.hours, tt.seconds, tt.code)
		}
	}
}

func TestOffsetSecondsMatchHours(t *testing.T) {
	for h := 0; h <= 12; h++ {
		for m := 0; m < 60; m++ {
			for _, sign := range []string{"+", "-"} {
				s := fmt.Sprintf("%s%02d:%02d", sign, h, m)
				off, err := ParseOffset(s)
				if err != nil {
					t.Fatalf("ParseOffset(%q): %v", s, err)
				}
				if got := math.Round(off.Hours * 3600); int64(got) != off.Seconds {
					t.Fatalf("%s: hours*3600 = %v, seconds = %d", s, got, off.Seconds)
				}
				if sign == "-" && off.Seconds > 0 {
					t.Fatalf("%s: negative offset produced %d", s, off.Seconds)
				}
			}
		}
	}
}

func TestBuildDefaults(t *testing.T) {
	req, err := newTestNormalizer().Build(form.Defaults(), Payloads{})
	if err != nil {
		t.Fatal(err)
	}

	ref := fixedNow.Truncate(time.Second).Unix()
	if req.Time1.Timestamp != ref+3600 {
		t.Errorf("time1 timestamp = %d, want %d", req.Time1.Timestamp, ref+3600)
	}
	if req.Time1.Name != "CET" || req.Time1.OffsetHours != 1 {
		t.Errorf("time1 = %+v", req.Time1)
	}
	if req.Time2.Timestamp != ref || req.Time2.DateFormat != model.YearDotMonthDotDay {
		t.Errorf("time2 = %+v", req.Time2)
	}

	if len(req.Alarms) != 5 {
		t.Fatalf("alarms = %d, want 5", len(req.Alarms))
	}
	if req.Alarms[1].Message != "For real" || req.Alarms[1].Minute != 5 {
		t.Errorf("alarm 2 = %+v", req.Alarms[1])
	}

	if req.AppointmentNotification != nil {
		t.Errorf("notification = %d, want nil", *req.AppointmentNotification)
	}
	if req.Appointments[0].Message != "Scare the ne" {
		t.Errorf("appointment message = %q, want truncated to 12", req.Appointments[0].Message)
	}
	if len(req.Lists) != 2 || req.Lists[0].Priority != 2 {
		t.Errorf("lists = %+v", req.Lists)
	}
	if req.SyncLength != model.DefaultSyncLength {
		t.Errorf("sync length = %d", req.SyncLength)
	}
	if req.IncludeSoundTheme || req.SoundTheme != nil {
		t.Error("sound theme included without payload")
	}
	if req.StartBeep {
		t.Error("start beep on by default")
	}
}

func TestBuildStartBeep(t *testing.T) {
	st := form.Defaults()
	st.Settings.StartBeep = true
	st.Settings.SyncLength = "75"
	req, err := newTestNormalizer().Build(st, Payloads{})
	if err != nil {
		t.Fatal(err)
	}
	if !req.StartBeep || req.SyncLength != 75 {
		t.Errorf("start beep = %v, sync length = %d", req.StartBeep, req.SyncLength)
	}
}

func TestBuildWatchTime(t *testing.T) {
	st := form.Defaults()
	st.Settings.WatchTime = "2024-01-02T03:04"
	st.Time1.Offset = "-01:30"
	req, err := newTestNormalizer().Build(st, Payloads{})
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2024, 1, 2, 3, 4, 0, 0, time.UTC).Unix()
	if req.Time1.Timestamp != base-5400 {
		t.Errorf("timestamp = %d, want %d", req.Time1.Timestamp, base-5400)
	}
	if req.Time1.OffsetHours != -1.5 {
		t.Errorf("offset = %v, want -1.5", req.Time1.OffsetHours)
	}
}

func TestBuildZoneNameFallback(t *testing.T) {
	st := form.Defaults()
	st.Time1 = form.TimeZone{Offset: "+09:00|JST"}
	st.Time2 = form.TimeZone{Offset: "+02:00"}
	req, err := newTestNormalizer().Build(st, Payloads{})
	if err != nil {
		t.Fatal(err)
	}
	if req.Time1.Name != "JST" {
		t.Errorf("time1 name = %q, want JST", req.Time1.Name)
	}
	if req.Time2.Name != DefaultZoneName {
		t.Errorf("time2 name = %q, want %s", req.Time2.Name, DefaultZoneName)
	}
	if req.Time1.DateFormat != model.DayDashMonthDashYear {
		t.Errorf("date format = %q, want default", req.Time1.DateFormat)
	}
}

func TestBuildAlarmsExcluded(t *testing.T) {
	st := form.Defaults()
	st.Includes.Alarms = false
	st.Alarms[0].Hour = "99"
	req, err := newTestNormalizer().Build(st, Payloads{})
	if err != nil {
		t.Fatalf("excluded section should not be validated: %v", err)
	}
	if req.IncludeAlarms || len(req.Alarms) != 0 {
		t.Errorf("alarms = %+v, include = %v", req.Alarms, req.IncludeAlarms)
	}
}

func TestBuildAlarmMessageTruncated(t *testing.T) {
	st := form.Defaults()
	st.Alarms = []form.Alarm{{Number: "3", Hour: "6", Minute: "0", Message: "Breakfast time"}}
	req, err := newTestNormalizer().Build(st, Payloads{})
	if err != nil {
		t.Fatal(err)
	}
	if req.Alarms[0].Message != "Breakfas" {
		t.Errorf("message = %q, want Breakfas", req.Alarms[0].Message)
	}
}

func TestBuildInvalidSectionBlocked(t *testing.T) {
	st := form.Defaults()
	st.Alarms[2].Minute = "75"
	st.Time1.Offset = "+15:00"

	req, err := newTestNormalizer().Build(st, Payloads{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error type = %T, want ValidationErrors", err)
	}
	if !verrs.Blocked(SectionAlarms) || !verrs.Blocked(SectionTime) {
		t.Errorf("blocked sections wrong: %v", verrs)
	}
	if verrs.Blocked(SectionEeprom) {
		t.Error("eeprom should not be blocked")
	}

	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("errors.As(*ValidationError) failed")
	}

	if req.IncludeAlarms || req.IncludeTime {
		t.Error("invalid sections still included")
	}
	if !req.IncludeEeprom || len(req.Appointments) != 3 {
		t.Error("valid eeprom section dropped")
	}
}

func TestBuildRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*form.State)
		section string
	}{
		{"alarm number", func(s *form.State) { s.Alarms[0].Number = "6" }, SectionAlarms},
		{"alarm hour text", func(s *form.State) { s.Alarms[0].Hour = "nine" }, SectionAlarms},
		{"priority", func(s *form.State) { s.Lists[0].Priority = "7" }, SectionEeprom},
		{"phone type", func(s *form.State) { s.PhoneNumbers[0].Type = "X" }, SectionEeprom},
		{"appointment date", func(s *form.State) { s.Appointments[0].Date = "tomorrow" }, SectionEeprom},
		{"anniversary date", func(s *form.State) { s.Anniversaries[0].Date = "1985-13-01" }, SectionEeprom},
		{"date format", func(s *form.State) { s.Time2.DateFormat = "Julian" }, SectionTime},
		{"watch time", func(s *form.State) { s.Settings.WatchTime = "noon" }, SectionTime},
		{"sync length", func(s *form.State) { s.Settings.SyncLength = "0" }, SectionSync},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := form.Defaults()
			tt.mutate(st)
			req, err := newTestNormalizer().Build(st, Payloads{})
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("err = %v, want ValidationErrors", err)
			}
			if !verrs.Blocked(tt.section) {
				t.Errorf("section %s not blocked: %v", tt.section, verrs)
			}
			if req == nil {
				t.Fatal("request should still be returned")
			}
		})
	}
}

func TestBuildNotification(t *testing.T) {
	st := form.Defaults()
	st.Settings.AppointmentNotification = "15"
	req, err := newTestNormalizer().Build(st, Payloads{})
	if err != nil {
		t.Fatal(err)
	}
	if req.AppointmentNotification == nil || *req.AppointmentNotification != 15 {
		t.Errorf("notification = %v, want 15", req.AppointmentNotification)
	}

	st.Includes.Eeprom = false
	req, _ = newTestNormalizer().Build(st, Payloads{})
	if req.AppointmentNotification != nil || len(req.Lists) != 0 {
		t.Error("eeprom content present while excluded")
	}
}

func TestBuildEmptyFieldsDefault(t *testing.T) {
	st := form.Defaults()
	st.PhoneNumbers = []form.Phone{{Name: "Biff", Number: "5551234"}}
	st.Lists = []form.ListItem{{Entry: "Plutonium"}}
	st.Settings.SyncLength = ""
	req, err := newTestNormalizer().Build(st, Payloads{})
	if err != nil {
		t.Fatal(err)
	}
	if req.PhoneNumbers[0].Type != model.PhoneHome {
		t.Errorf("phone type = %q, want H", req.PhoneNumbers[0].Type)
	}
	if req.Lists[0].HasPriority() {
		t.Errorf("priority = %d, want none", req.Lists[0].Priority)
	}
	if req.SyncLength != model.DefaultSyncLength {
		t.Errorf("sync length = %d", req.SyncLength)
	}
}

func TestBuildPayloads(t *testing.T) {
	tests := []struct {
		name    string
		include bool
		data    []byte
		want    bool
	}{
		{"included and loaded", true, []byte{1, 2, 3}, true},
		{"included not loaded", true, nil, false},
		{"included empty", true, []byte{}, false},
		{"loaded not included", false, []byte{1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := form.Defaults()
			st.Includes.SoundTheme = tt.include
			st.Includes.WristApp = tt.include
			req, err := newTestNormalizer().Build(st, Payloads{SoundTheme: tt.data, WristApp: tt.data})
			if err != nil {
				t.Fatal(err)
			}
			if req.IncludeSoundTheme != tt.want || (req.SoundTheme != nil) != tt.want {
				t.Errorf("sound theme include=%v payload=%v, want %v", req.IncludeSoundTheme, req.SoundTheme, tt.want)
			}
			if req.IncludeWristApp != tt.want || (req.WristApp != nil) != tt.want {
				t.Errorf("wrist app include=%v payload=%v, want %v", req.IncludeWristApp, req.WristApp, tt.want)
			}
		})
	}
}

func TestBuildPayloadCopied(t *testing.T) {
	st := form.Defaults()
	st.Includes.SoundTheme = true
	data := []byte{0xAA, 0xBB}
	req, err := newTestNormalizer().Build(st, Payloads{SoundTheme: data})
	if err != nil {
		t.Fatal(err)
	}
	data[0] = 0
	if req.SoundTheme.Data[0] != 0xAA {
		t.Error("payload aliases caller slice")
	}
}

func TestDuplicateSlots(t *testing.T) {
	dups := DuplicateSlots([]model.AlarmEntry{{Number: 1}, {Number: 2}, {Number: 1}, {Number: 1}, {Number: 3}})
	if len(dups) != 1 || dups[0] != 1 {
		t.Errorf("dups = %v, want [1]", dups)
	}
}
