package importer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/teambition/rrule-go"
)

const maxOccurrencesPerEvent = 500

// ICSCalendar imports appointments from an iCalendar file or URL.
// Recurring events are expanded within the requested date range.
type ICSCalendar struct {
	location string
	client   *http.Client
	logger   *slog.Logger
}

// NewICSCalendar reads from location, which is a file path or an
// http(s) URL.
func NewICSCalendar(location string, client *http.Client, logger *slog.Logger) *ICSCalendar {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &ICSCalendar{
		location: location,
		client:   client,
		logger:   logger.With("component", "ics"),
	}
}

func (c *ICSCalendar) Name() string { return "ics" }
func (c *ICSCalendar) Kind() Kind   { return KindAppointments }

func (c *ICSCalendar) Fetch(ctx context.Context, cr Criteria) ([]Record, error) {
	from, err := time.ParseInLocation(time.DateOnly, cr.From, time.UTC)
	if err != nil {
		return nil, &ImportError{Source: c.Name(), Err: fmt.Errorf("invalid start date %q", cr.From)}
	}
	to, err := time.ParseInLocation(time.DateOnly, cr.To, time.UTC)
	if err != nil {
		return nil, &ImportError{Source: c.Name(), Err: fmt.Errorf("invalid end date %q", cr.To)}
	}
	to = to.Add(24*time.Hour - time.Second)

	body, err := c.read(ctx)
	if err != nil {
		return nil, &ImportError{Source: c.Name(), Err: err}
	}
	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, &ImportError{Source: c.Name(), Err: fmt.Errorf("parse calendar: %w", err)}
	}

	type occurrence struct {
		id      string
		summary string
		start   time.Time
		allDay  bool
	}
	var occs []occurrence
	for i, ev := range cal.Events() {
		summary := propValue(ev, ical.ComponentPropertySummary)
		uid := propValue(ev, ical.ComponentPropertyUniqueId)
		if uid == "" {
			uid = fmt.Sprintf("event-%d", i)
		}
		isAllDay := isAllDayEvent(ev)
		var start time.Time
		if isAllDay {
			start, err = parseICSTime(propValue(ev, ical.ComponentPropertyDtStart), time.UTC)
		} else {
			start, err = ev.GetStartAt()
		}
		if err != nil {
			c.logger.Warn("skipping event without start", "uid", uid, "err", err)
			continue
		}

		for _, at := range c.expand(ev, uid, start, from, to) {
			occs = append(occs, occurrence{
				id:      uid + "@" + at.Format(time.RFC3339),
				summary: summary,
				start:   at,
				allDay:  isAllDay,
			})
		}
	}

	sort.SliceStable(occs, func(i, j int) bool { return occs[i].start.Before(occs[j].start) })

	records := make([]Record, 0, len(occs))
	for _, o := range occs {
		if o.allDay {
			d := time.Date(o.start.Year(), o.start.Month(), o.start.Day(), 0, 0, 0, 0, time.UTC)
			records = append(records, appointmentRecord(o.id, o.summary, d.Format(time.DateOnly)+" All day", allDay(d)))
			continue
		}
		at := wallClock(o.start)
		records = append(records, appointmentRecord(o.id, o.summary, at.Format("2006-01-02 15:04"), at))
	}
	if len(records) == 0 {
		return nil, &ImportError{Source: c.Name(), Err: ErrNoRecords}
	}
	c.logger.Info("ics fetched", "events", len(cal.Events()), "occurrences", len(records))
	return records, nil
}

// expand returns the starts of ev that fall within [from, to].
func (c *ICSCalendar) expand(ev *ical.VEvent, uid string, start, from, to time.Time) []time.Time {
	raw := propValue(ev, ical.ComponentPropertyRrule)
	if raw == "" {
		if start.Before(from) || start.After(to) {
			return nil
		}
		return []time.Time{start}
	}

	r, err := rrule.StrToRRule(raw)
	if err != nil {
		c.logger.Warn("bad RRULE, using first occurrence only", "uid", uid, "rrule", raw, "err", err)
		if start.Before(from) || start.After(to) {
			return nil
		}
		return []time.Time{start}
	}
	r.DTStart(start)

	var set rrule.Set
	set.RRule(r)
	for _, p := range ev.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			if t, err := parseICSTime(strings.TrimSpace(part), start.Location()); err == nil {
				set.ExDate(t)
			}
		}
	}

	occ := set.Between(from.In(start.Location()), to.In(start.Location()), true)
	if len(occ) > maxOccurrencesPerEvent {
		c.logger.Warn("truncating recurrence", "uid", uid, "cap", maxOccurrencesPerEvent)
		occ = occ[:maxOccurrencesPerEvent]
	}
	return occ
}

func (c *ICSCalendar) read(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(c.location, "http://") && !strings.HasPrefix(c.location, "https://") {
		return os.ReadFile(c.location)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch calendar: unexpected status %s", resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
}

func propValue(ev *ical.VEvent, p ical.ComponentProperty) string {
	if prop := ev.GetProperty(p); prop != nil {
		return prop.Value
	}
	return ""
}

// isAllDayEvent reports a DTSTART with VALUE=DATE or without a time part.
func isAllDayEvent(ev *ical.VEvent) bool {
	p := ev.GetProperty(ical.ComponentPropertyDtStart)
	if p == nil {
		return false
	}
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	switch {
	case strings.HasSuffix(v, "Z"):
		return time.Parse("20060102T150405Z", v)
	case strings.Contains(v, "T"):
		return time.ParseInLocation("20060102T150405", v, loc)
	default:
		return time.ParseInLocation("20060102", v, loc)
	}
}
