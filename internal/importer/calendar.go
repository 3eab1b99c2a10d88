package importer

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"datalink-sync/internal/model"
)

const calendarMaxResults = 50

// GoogleCalendar imports events from the primary calendar as appointments.
type GoogleCalendar struct {
	g *Google
}

func (g *Google) Calendar() *GoogleCalendar { return &GoogleCalendar{g: g} }

func (c *GoogleCalendar) Name() string { return "calendar" }
func (c *GoogleCalendar) Kind() Kind   { return KindAppointments }

type calendarEvents struct {
	Items []struct {
		ID      string `json:"id"`
		Summary string `json:"summary"`
		Start   struct {
			DateTime string `json:"dateTime"`
			Date     string `json:"date"`
		} `json:"start"`
	} `json:"items"`
}

func (c *GoogleCalendar) Fetch(ctx context.Context, cr Criteria) ([]Record, error) {
	if _, err := time.Parse(time.DateOnly, cr.From); err != nil {
		return nil, &ImportError{Source: c.Name(), Err: fmt.Errorf("invalid start date %q", cr.From)}
	}
	if _, err := time.Parse(time.DateOnly, cr.To); err != nil {
		return nil, &ImportError{Source: c.Name(), Err: fmt.Errorf("invalid end date %q", cr.To)}
	}

	q := url.Values{}
	q.Set("timeMin", cr.From+"T00:00:00Z")
	q.Set("timeMax", cr.To+"T23:59:59Z")
	q.Set("maxResults", strconv.Itoa(calendarMaxResults))
	q.Set("orderBy", "startTime")
	q.Set("singleEvents", "true")

	var resp calendarEvents
	if err := c.g.getJSON(ctx, c.Name(), c.g.endpoints.Calendar, "/calendars/primary/events", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, &ImportError{Source: c.Name(), Err: ErrNoRecords}
	}

	records := make([]Record, 0, len(resp.Items))
	for _, ev := range resp.Items {
		var (
			at       time.Time
			subtitle string
		)
		if ev.Start.DateTime != "" {
			t, err := time.Parse(time.RFC3339, ev.Start.DateTime)
			if err != nil {
				c.g.logger.Warn("skipping event with bad start", "id", ev.ID, "start", ev.Start.DateTime)
				continue
			}
			at = wallClock(t)
			subtitle = at.Format("2006-01-02 15:04")
		} else {
			d, err := time.ParseInLocation(time.DateOnly, ev.Start.Date, time.UTC)
			if err != nil {
				c.g.logger.Warn("skipping event with bad date", "id", ev.ID, "date", ev.Start.Date)
				continue
			}
			at = allDay(d)
			subtitle = d.Format(time.DateOnly) + " All day"
		}
		records = append(records, appointmentRecord(ev.ID, ev.Summary, subtitle, at))
	}
	if len(records) == 0 {
		return nil, &ImportError{Source: c.Name(), Err: ErrNoRecords}
	}
	return records, nil
}

// wallClock keeps t's clock reading in its own offset and relabels it UTC.
func wallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
}

// allDay places an all-day event at noon.
func allDay(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), 12, 0, 0, 0, time.UTC)
}

func appointmentRecord(id, summary, subtitle string, at time.Time) Record {
	title := summary
	if title == "" {
		title = "Untitled Event"
	}
	msg := summary
	if msg == "" {
		msg = "Untitled"
	}
	return Record{
		ID:       id,
		Title:    title,
		Subtitle: subtitle,
		Selected: true,
		Appointment: &model.AppointmentEntry{
			Time:    at,
			Message: model.Truncate(msg, model.EntryTextMax),
		},
	}
}
