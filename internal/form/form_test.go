package form

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"datalink-sync/internal/model"
)

func TestNumberUnmarshalJSON(t *testing.T) {
	var v struct {
		A Number `json:"a"`
		B Number `json:"b"`
		C Number `json:"c"`
	}
	if err := json.Unmarshal([]byte(`{"a": 9, "b": "12", "c": null}`), &v); err != nil {
		t.Fatal(err)
	}
	if v.A != "9" {
		t.Errorf("a = %q, want 9", v.A)
	}
	if v.B != "12" {
		t.Errorf("b = %q, want 12", v.B)
	}
	if v.C != "" {
		t.Errorf("c = %q, want empty", v.C)
	}
}

func TestLoadFileYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "form.yaml")
	yamlDoc := `
includes:
  alarms: true
alarms:
  - number: 2
    audible: true
    hour: 7
    minute: "30"
    message: Run
lists:
  - entry: Milk
    priority: -1
`
	if err := os.WriteFile(yamlPath, []byte(yamlDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err := LoadFile(yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	if !st.Includes.Alarms {
		t.Error("includes.alarms = false, want true")
	}
	if len(st.Alarms) != 1 || st.Alarms[0].Number != "2" || st.Alarms[0].Minute != "30" {
		t.Errorf("alarms = %+v", st.Alarms)
	}
	if len(st.Lists) != 1 || st.Lists[0].Priority != "-1" {
		t.Errorf("lists = %+v", st.Lists)
	}

	jsonPath := filepath.Join(dir, "form.json")
	jsonDoc := `{"phone_numbers": [{"name": "Doc", "number": "555-1234", "type": "W"}], "settings": {"sync_length": 100}}`
	if err := os.WriteFile(jsonPath, []byte(jsonDoc), 0o600); err != nil {
		t.Fatal(err)
	}
	st, err = LoadFile(jsonPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.PhoneNumbers) != 1 || st.PhoneNumbers[0].Number != "555-1234" {
		t.Errorf("phones = %+v", st.PhoneNumbers)
	}
	if st.Settings.SyncLength != "100" {
		t.Errorf("sync_length = %q, want 100", st.Settings.SyncLength)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestClearEeprom(t *testing.T) {
	st := Defaults()
	if err := st.Clear("eeprom"); err != nil {
		t.Fatal(err)
	}
	if st.Appointments != nil || st.Anniversaries != nil || st.PhoneNumbers != nil || st.Lists != nil {
		t.Error("eeprom sections not cleared")
	}
	if len(st.Alarms) == 0 {
		t.Error("alarms should be untouched")
	}
	if err := st.Clear(SectionSettings); err == nil {
		t.Error("expected error clearing settings")
	}
}

func TestReplaceFromEntries(t *testing.T) {
	st := Defaults()
	st.ReplaceAppointments([]model.AppointmentEntry{
		{Time: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), Message: "Dentist"},
	})
	if len(st.Appointments) != 1 || st.Appointments[0].Date != "2024-03-01T12:00" {
		t.Errorf("appointments = %+v", st.Appointments)
	}

	st.ReplaceLists([]model.ListEntry{{Entry: "Eggs", Priority: 5}, {Entry: "Ham", Priority: model.NoPriority}})
	if len(st.Lists) != 2 || st.Lists[0].Priority != "5" || st.Lists[1].Priority != "-1" {
		t.Errorf("lists = %+v", st.Lists)
	}

	st.ReplacePhoneNumbers([]model.PhoneEntry{{Name: "Biff", Number: "123", Type: model.PhoneWork}})
	if len(st.PhoneNumbers) != 1 || st.PhoneNumbers[0].Type != "W" {
		t.Errorf("phones = %+v", st.PhoneNumbers)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	st := Defaults()
	c := st.Clone()
	c.Alarms[0].Message = "changed"
	c.Lists = append(c.Lists, NewListItem())
	if st.Alarms[0].Message == "changed" {
		t.Error("clone shares alarm backing array")
	}
	if len(st.Lists) != len(DefaultLists()) {
		t.Error("clone shares lists")
	}
}
