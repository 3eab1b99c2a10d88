package form

// Defaults returns the built-in example data set used on first start and
// whenever a persisted section cannot be read.
func Defaults() *State {
	return &State{
		Includes: Includes{
			Time:         true,
			Alarms:       true,
			Eeprom:       true,
			SoundOptions: true,
		},
		Time1:         DefaultTime1(),
		Time2:         DefaultTime2(),
		Alarms:        DefaultAlarms(),
		Appointments:  DefaultAppointments(),
		Anniversaries: DefaultAnniversaries(),
		PhoneNumbers:  DefaultPhoneNumbers(),
		Lists:         DefaultLists(),
		SoundOptions:  DefaultSoundOptions(),
		Settings:      DefaultSettings(),
	}
}

func DefaultTime1() TimeZone {
	return TimeZone{Offset: "+01:00|CET", Name: "CET", Is24h: true, DateFormat: "DayDashMonthDashYear"}
}

func DefaultTime2() TimeZone {
	return TimeZone{Offset: "+00:00|UTC", Name: "UTC", Is24h: true, DateFormat: "YearDotMonthDotDay"}
}

func DefaultAlarms() []Alarm {
	return []Alarm{
		{Number: "1", Audible: true, Hour: "9", Minute: "0", Message: "Wake up"},
		{Number: "2", Audible: true, Hour: "9", Minute: "5", Message: "For real"},
		{Number: "3", Audible: false, Hour: "9", Minute: "10", Message: "Get up"},
		{Number: "4", Audible: true, Hour: "9", Minute: "15", Message: "Or not"},
		{Number: "5", Audible: false, Hour: "11", Minute: "30", Message: "Told you"},
	}
}

func DefaultAppointments() []Appointment {
	return []Appointment{
		{Date: "2023-10-31T19:00", Message: "Scare the neighbors"},
		{Date: "2023-11-24T17:00", Message: "Feed the neighbors"},
		{Date: "2023-12-25T14:00", Message: "Spoil the neighbors"},
	}
}

func DefaultAnniversaries() []Anniversary {
	return []Anniversary{
		{Date: "1985-07-03", Message: "Release of Back to the Future"},
		{Date: "1968-04-06", Message: "Release of 2001"},
	}
}

func DefaultPhoneNumbers() []Phone {
	return []Phone{
		{Name: "Marty McFly", Number: "1112223333", Type: "H"},
		{Name: "Doc Brown", Number: "4445556666", Type: "C"},
	}
}

func DefaultLists() []ListItem {
	return []ListItem{
		{Entry: "Muffler bearings", Priority: "2"},
		{Entry: "Headlight fluid", Priority: "4"},
	}
}

func DefaultSoundOptions() SoundOptions {
	return SoundOptions{HourlyChime: true, ButtonBeep: true}
}

func DefaultSettings() Settings {
	return Settings{AppointmentNotification: "-1", SyncLength: "150"}
}
