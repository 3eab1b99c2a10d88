package importer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalink-sync/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedIn() *Tokens {
	tk := NewTokens()
	tk.Set(Token{AccessToken: "tok-123", Expiry: time.Now().Add(time.Hour)})
	return tk
}

// newFakeGoogle serves routes keyed by "path" and records the last query.
func newFakeGoogle(t *testing.T, routes map[string]any) (*Google, *http.Request) {
	t.Helper()
	last := &http.Request{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*last = *r.Clone(context.Background())
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 401, "message": "Invalid Credentials"}})
			return
		}
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": 404, "message": "Not Found"}})
			return
		}
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)

	g := NewGoogle(signedIn(),
		WithHTTPClient(srv.Client()),
		WithEndpoints(Endpoints{Calendar: srv.URL + "/cal", Tasks: srv.URL + "/tasks", People: srv.URL + "/people"}),
		WithGoogleLogger(discardLogger()),
	)
	return g, last
}

func TestTaskPriority(t *testing.T) {
	for total := 1; total <= 5; total++ {
		for i := 0; i < total; i++ {
			assert.Equal(t, i+1, TaskPriority(i, total))
		}
	}

	assert.Equal(t, 1, TaskPriority(0, 12))
	assert.Equal(t, 5, TaskPriority(11, 12))
	prev := 0
	for i := 0; i < 12; i++ {
		p := TaskPriority(i, 12)
		assert.GreaterOrEqual(t, p, prev, "priority must not decrease at %d", i)
		assert.True(t, p >= 1 && p <= 5)
		prev = p
	}
}

func TestPhoneTypeFor(t *testing.T) {
	tests := map[string]model.PhoneType{
		"home":      model.PhoneHome,
		"Work":      model.PhoneWork,
		"mobile":    model.PhoneCell,
		"Cell":      model.PhoneCell,
		"workFax":   model.PhoneWork,
		"homeFax":   model.PhoneHome,
		"otherFax":  model.PhoneFax,
		"pager":     model.PhoneOther,
		"":          model.PhoneOther,
		"main line": model.PhoneOther,
	}
	for label, want := range tests {
		assert.Equal(t, want, PhoneTypeFor(label), "label %q", label)
	}
}

func TestDigitsOnly(t *testing.T) {
	assert.Equal(t, "15551234567", DigitsOnly("+1 (555) 123-4567"))
	assert.Equal(t, "", DigitsOnly("n/a"))
}

func TestEntries(t *testing.T) {
	a := &model.AppointmentEntry{Message: "A"}
	b := &model.AppointmentEntry{Message: "B"}
	c := &model.AppointmentEntry{Message: "C"}
	records := []Record{
		{ID: "1", Selected: true, Appointment: a},
		{ID: "2", Selected: false, Appointment: b},
		{ID: "3", Selected: true, Appointment: c},
	}

	im := Entries(records, Selection{IDs: []string{"3", "2"}})
	require.Len(t, im.Appointments, 2)
	assert.Equal(t, "B", im.Appointments[0].Message, "source order kept")
	assert.Equal(t, "C", im.Appointments[1].Message)

	im = Entries(records, Selection{Defaults: true})
	require.Len(t, im.Appointments, 2)
	assert.Equal(t, "A", im.Appointments[0].Message)
	assert.Equal(t, 2, im.Len())

	assert.Zero(t, Entries(records, Selection{}).Len())
}

func TestParseFragment(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": "marty@example.com",
		"sub":   "1985",
	}).SignedString([]byte("irrelevant"))
	require.NoError(t, err)

	tok, err := ParseFragment("#access_token=abc&token_type=Bearer&expires_in=3599&id_token="+idToken, now)
	require.NoError(t, err)
	assert.Equal(t, "abc", tok.AccessToken)
	assert.Equal(t, now.Add(3599*time.Second), tok.Expiry)
	assert.Equal(t, "marty@example.com", tok.Account)

	_, err = ParseFragment("error=access_denied", now)
	var aerr *AuthError
	require.ErrorAs(t, err, &aerr)

	_, err = ParseFragment("access_token=abc", now)
	require.ErrorAs(t, err, &aerr)

	_, err = ParseFragment("expires_in=10", now)
	require.ErrorAs(t, err, &aerr)
}

func TestTokensValidity(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	tk := NewTokens()
	tk.now = func() time.Time { return now }

	_, err := tk.Valid()
	assert.ErrorIs(t, err, ErrNotSignedIn)
	assert.False(t, tk.Status().SignedIn)

	tk.Set(Token{AccessToken: "x", Expiry: now.Add(time.Minute), Account: "doc"})
	got, err := tk.Valid()
	require.NoError(t, err)
	assert.Equal(t, "x", got.AccessToken)
	assert.Equal(t, "doc", tk.Status().Account)

	now = now.Add(time.Minute)
	_, err = tk.Valid()
	assert.ErrorIs(t, err, ErrTokenExpired)

	tk.Clear()
	_, err = tk.Valid()
	assert.ErrorIs(t, err, ErrNotSignedIn)
}

func TestAuthURL(t *testing.T) {
	u := OAuthConfig{ClientID: "cid", RedirectURI: "http://127.0.0.1:8080/"}.AuthURL("s1")
	assert.True(t, strings.HasPrefix(u, "https://accounts.google.com/o/oauth2/v2/auth?"))
	assert.Contains(t, u, "response_type=token")
	assert.Contains(t, u, "client_id=cid")
	assert.Contains(t, u, "calendar.readonly")
	assert.Contains(t, u, "state=s1")
}

func TestCalendarFetch(t *testing.T) {
	g, last := newFakeGoogle(t, map[string]any{
		"/cal/calendars/primary/events": map[string]any{
			"items": []any{
				map[string]any{"id": "e1", "summary": "Enchantment Under the Sea", "start": map[string]any{"dateTime": "2024-11-05T21:30:00-08:00"}},
				map[string]any{"id": "e2", "start": map[string]any{"date": "2024-11-06"}},
			},
		},
	})

	records, err := g.Calendar().Fetch(context.Background(), Criteria{From: "2024-11-01", To: "2024-11-30"})
	require.NoError(t, err)
	require.Len(t, records, 2)

	q := last.URL.Query()
	assert.Equal(t, "2024-11-01T00:00:00Z", q.Get("timeMin"))
	assert.Equal(t, "2024-11-30T23:59:59Z", q.Get("timeMax"))
	assert.Equal(t, "50", q.Get("maxResults"))
	assert.Equal(t, "startTime", q.Get("orderBy"))
	assert.Equal(t, "true", q.Get("singleEvents"))

	first := records[0]
	assert.Equal(t, "e1", first.ID)
	assert.True(t, first.Selected)
	assert.Equal(t, "Enchantment ", first.Appointment.Message)
	assert.Equal(t, time.Date(2024, 11, 5, 21, 30, 0, 0, time.UTC), first.Appointment.Time)

	second := records[1]
	assert.Equal(t, "Untitled", second.Appointment.Message)
	assert.Equal(t, "Untitled Event", second.Title)
	assert.Equal(t, time.Date(2024, 11, 6, 12, 0, 0, 0, time.UTC), second.Appointment.Time)
}

func TestCalendarEmptyAndErrors(t *testing.T) {
	g, _ := newFakeGoogle(t, map[string]any{
		"/cal/calendars/primary/events": map[string]any{"items": []any{}},
	})
	_, err := g.Calendar().Fetch(context.Background(), Criteria{From: "2024-01-01", To: "2024-01-02"})
	var ierr *ImportError
	require.ErrorAs(t, err, &ierr)
	assert.ErrorIs(t, err, ErrNoRecords)

	_, err = g.Calendar().Fetch(context.Background(), Criteria{From: "bad", To: "2024-01-02"})
	require.ErrorAs(t, err, &ierr)

	g.tokens.Clear()
	_, err = g.Calendar().Fetch(context.Background(), Criteria{From: "2024-01-01", To: "2024-01-02"})
	var aerr *AuthError
	require.ErrorAs(t, err, &aerr)
}

func TestAPIErrorMessage(t *testing.T) {
	g, _ := newFakeGoogle(t, map[string]any{})
	_, err := g.Contacts().Fetch(context.Background(), Criteria{})
	var ierr *ImportError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, "contacts", ierr.Source)
	assert.Contains(t, err.Error(), "Not Found")
}

func TestTasksFetchFirstList(t *testing.T) {
	items := make([]any, 0, 13)
	for i := 0; i < 12; i++ {
		status := "needsAction"
		if i == 3 {
			status = "completed"
		}
		items = append(items, map[string]any{"id": "t" + string(rune('a'+i)), "title": "Task number " + string(rune('A'+i)), "status": status})
		if i == 5 {
			items = append(items, map[string]any{"id": "blank", "title": ""})
		}
	}
	g, _ := newFakeGoogle(t, map[string]any{
		"/tasks/users/@me/lists": map[string]any{"items": []any{map[string]any{"id": "L1", "title": "Errands"}, map[string]any{"id": "L2", "title": "Other"}}},
		"/tasks/lists/L1/tasks":  map[string]any{"items": items},
		"/tasks/lists/L2/tasks":  map[string]any{"items": []any{map[string]any{"id": "x", "title": "Only"}}},
	})

	records, err := g.Tasks().Fetch(context.Background(), Criteria{})
	require.NoError(t, err)
	require.Len(t, records, 12, "untitled tasks are dropped")

	assert.Equal(t, 1, records[0].ListEntry.Priority)
	assert.Equal(t, 5, records[11].ListEntry.Priority)
	assert.Equal(t, "Task number ", records[0].ListEntry.Entry)
	assert.False(t, records[3].Selected, "completed task pre-deselected")
	assert.Contains(t, records[3].Subtitle, "Completed")
	assert.True(t, records[4].Selected)

	records, err = g.Tasks().Fetch(context.Background(), Criteria{TaskList: "L2"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].ListEntry.Priority)
}

func TestContactsFetch(t *testing.T) {
	g, last := newFakeGoogle(t, map[string]any{
		"/people/people/me/connections": map[string]any{
			"connections": []any{
				map[string]any{
					"resourceName": "people/1",
					"names":        []any{map[string]any{"displayName": "Emmett Lathrop Brown"}},
					"phoneNumbers": []any{map[string]any{"value": "+1 (555) 121-1955", "type": "mobile"}},
				},
				map[string]any{
					"resourceName": "people/2",
					"names":        []any{map[string]any{"displayName": "No Phone"}},
				},
				map[string]any{
					"resourceName": "people/3",
					"names":        []any{map[string]any{"displayName": ""}},
					"phoneNumbers": []any{map[string]any{"value": "555-0000"}},
				},
			},
		},
		"/people/people:searchContacts": map[string]any{
			"results": []any{
				map[string]any{"person": map[string]any{
					"resourceName": "people/9",
					"names":        []any{map[string]any{"displayName": "Biff"}},
					"phoneNumbers": []any{map[string]any{"value": "555 1955", "type": "work"}},
				}},
			},
		},
	})

	records, err := g.Contacts().Fetch(context.Background(), Criteria{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "names,phoneNumbers", last.URL.Query().Get("personFields"))
	assert.Equal(t, "50", last.URL.Query().Get("pageSize"))

	assert.Equal(t, model.PhoneEntry{Name: "Emmett Lathr", Number: "15551211955", Type: model.PhoneCell}, *records[0].Phone)
	assert.Equal(t, "Unknown", records[1].Phone.Name)
	assert.Equal(t, model.PhoneOther, records[1].Phone.Type)

	records, err = g.Contacts().Fetch(context.Background(), Criteria{Query: "biff"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "biff", last.URL.Query().Get("query"))
	assert.Equal(t, model.PhoneWork, records[0].Phone.Type)
}

const testICS = `BEGIN:VCALENDAR
VERSION:2.0
PRODID:-//test//EN
BEGIN:VEVENT
UID:weekly@test
DTSTAMP:20240101T000000Z
DTSTART:20240102T090000Z
DTEND:20240102T100000Z
SUMMARY:Physics lecture series
RRULE:FREQ=WEEKLY;COUNT=10
EXDATE:20240116T090000Z
END:VEVENT
BEGIN:VEVENT
UID:allday@test
DTSTAMP:20240101T000000Z
DTSTART;VALUE=DATE:20240110
DTEND;VALUE=DATE:20240111
SUMMARY:Holiday
END:VEVENT
BEGIN:VEVENT
UID:outside@test
DTSTAMP:20240101T000000Z
DTSTART:20240301T090000Z
SUMMARY:Too late
END:VEVENT
END:VCALENDAR
`

func TestICSCalendarFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cal.ics")
	require.NoError(t, os.WriteFile(path, []byte(strings.ReplaceAll(testICS, "\n", "\r\n")), 0o600))

	src := NewICSCalendar(path, nil, discardLogger())
	records, err := src.Fetch(context.Background(), Criteria{From: "2024-01-01", To: "2024-01-23"})
	require.NoError(t, err)

	// Weekly on Jan 2, 9, 23 (16 excluded) plus the all-day event on Jan 10.
	require.Len(t, records, 4)
	assert.Equal(t, time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC), records[0].Appointment.Time)
	assert.Equal(t, "Physics lect", records[0].Appointment.Message)
	assert.Equal(t, time.Date(2024, 1, 9, 9, 0, 0, 0, time.UTC), records[1].Appointment.Time)
	assert.Equal(t, time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC), records[2].Appointment.Time)
	assert.Equal(t, "Holiday", records[2].Appointment.Message)
	assert.Equal(t, time.Date(2024, 1, 23, 9, 0, 0, 0, time.UTC), records[3].Appointment.Time)

	_, err = src.Fetch(context.Background(), Criteria{From: "2025-01-01", To: "2025-01-02"})
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestICSCalendarURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		io.WriteString(w, testICS)
	}))
	defer srv.Close()

	src := NewICSCalendar(srv.URL+"/cal.ics", srv.Client(), discardLogger())
	records, err := src.Fetch(context.Background(), Criteria{From: "2024-03-01", To: "2024-03-01"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Too late", records[0].Title)
}

func TestICSCalendarMissingFile(t *testing.T) {
	src := NewICSCalendar(filepath.Join(t.TempDir(), "none.ics"), nil, discardLogger())
	_, err := src.Fetch(context.Background(), Criteria{From: "2024-01-01", To: "2024-01-02"})
	var ierr *ImportError
	require.ErrorAs(t, err, &ierr)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
