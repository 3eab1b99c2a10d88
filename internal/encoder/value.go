package encoder

import (
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"datalink-sync/internal/model"
)

// requestValue flattens req into the plain maps and slices handed to the
// script. Dates are split into components so scripts need no date library.
func requestValue(req *model.Request) map[string]any {
	v := map[string]any{
		"include": map[string]any{
			"time":          req.IncludeTime,
			"alarms":        req.IncludeAlarms,
			"eeprom":        req.IncludeEeprom,
			"sound_options": req.IncludeSoundOptions,
			"sound_theme":   req.IncludeSoundTheme,
			"wrist_app":     req.IncludeWristApp,
		},
		"time":        []any{zoneValue(req.Time1), zoneValue(req.Time2)},
		"sync_length": req.SyncLength,
		"start_beep":  req.StartBeep,
		"sound_options": map[string]any{
			"hourly_chime": req.SoundOptions.HourlyChime,
			"button_beep":  req.SoundOptions.ButtonBeep,
		},
	}

	alarms := make([]any, 0, len(req.Alarms))
	for _, a := range req.Alarms {
		alarms = append(alarms, map[string]any{
			"number":  a.Number,
			"audible": a.Audible,
			"hour":    a.Hour,
			"minute":  a.Minute,
			"message": a.Message,
		})
	}
	v["alarms"] = alarms

	if req.AppointmentNotification != nil {
		v["appointment_notification"] = *req.AppointmentNotification
	}

	appointments := make([]any, 0, len(req.Appointments))
	for _, a := range req.Appointments {
		m := dateValue(a.Time)
		m["hour"] = a.Time.Hour()
		m["minute"] = a.Time.Minute()
		m["message"] = a.Message
		appointments = append(appointments, m)
	}
	v["appointments"] = appointments

	anniversaries := make([]any, 0, len(req.Anniversaries))
	for _, a := range req.Anniversaries {
		m := dateValue(a.Date)
		m["message"] = a.Message
		anniversaries = append(anniversaries, m)
	}
	v["anniversaries"] = anniversaries

	phones := make([]any, 0, len(req.PhoneNumbers))
	for _, p := range req.PhoneNumbers {
		phones = append(phones, map[string]any{
			"name":   p.Name,
			"number": p.Number,
			"type":   string(p.Type),
		})
	}
	v["phone_numbers"] = phones

	lists := make([]any, 0, len(req.Lists))
	for _, l := range req.Lists {
		m := map[string]any{"entry": l.Entry}
		if l.HasPriority() {
			m["priority"] = l.Priority
		}
		lists = append(lists, m)
	}
	v["lists"] = lists

	if req.SoundTheme != nil {
		v["sound_theme"] = req.SoundTheme.Data
	}
	if req.WristApp != nil {
		v["wrist_app"] = req.WristApp.Data
	}
	return v
}

func zoneValue(z model.TimeZoneSetting) map[string]any {
	t := z.Time()
	m := dateValue(t)
	m["zone"] = z.Zone
	m["name"] = z.Name
	m["is_24h"] = z.Is24h
	m["date_format"] = string(z.DateFormat)
	m["offset_hours"] = z.OffsetHours
	m["timestamp"] = z.Timestamp
	m["hour"] = t.Hour()
	m["minute"] = t.Minute()
	m["second"] = t.Second()
	m["weekday"] = int(t.Weekday())
	m["yday"] = t.YearDay()
	return m
}

func dateValue(t time.Time) map[string]any {
	return map[string]any{
		"year":  t.Year(),
		"month": int(t.Month()),
		"day":   t.Day(),
	}
}

// goToLua converts Go values to Lua values.
func goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case float64:
		return lua.LNumber(val)
	case []byte:
		t := L.CreateTable(len(val), 0)
		for i, b := range val {
			t.RawSetInt(i+1, lua.LNumber(b))
		}
		return t
	case map[string]any:
		t := L.NewTable()
		for k, vv := range val {
			t.RawSetString(k, goToLua(L, vv))
		}
		return t
	case []any:
		t := L.CreateTable(len(val), 0)
		for i, vv := range val {
			t.RawSetInt(i+1, goToLua(L, vv))
		}
		return t
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}
