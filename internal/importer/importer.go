// Package importer pulls appointments, to-do items and phone numbers from
// external sources into reviewable records that can replace a form section.
package importer

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"datalink-sync/internal/model"
)

// Kind names the form section a source fills.
type Kind string

const (
	KindAppointments Kind = "appointments"
	KindLists        Kind = "lists"
	KindPhoneNumbers Kind = "phone_numbers"
)

var (
	// ErrNoRecords is wrapped in an ImportError when a fetch returns nothing.
	ErrNoRecords = errors.New("no records found")

	ErrNotSignedIn  = errors.New("not signed in")
	ErrTokenExpired = errors.New("access token expired")
)

// AuthError reports a missing or expired credential. No re-authentication
// is attempted.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "auth: " + e.Err.Error() }

func (e *AuthError) Unwrap() error { return e.Err }

// ImportError reports a failed fetch. Nothing is cached when it occurs.
type ImportError struct {
	Source string
	Err    error
}

func (e *ImportError) Error() string {
	return fmt.Sprintf("import %s: %v", e.Source, e.Err)
}

func (e *ImportError) Unwrap() error { return e.Err }

// Criteria narrows a fetch. Each source uses the fields relevant to it.
type Criteria struct {
	From     string `json:"from"` // YYYY-MM-DD
	To       string `json:"to"`   // YYYY-MM-DD
	TaskList string `json:"task_list,omitempty"`
	Query    string `json:"query,omitempty"`
}

// Record is one fetched item shown for review. Exactly one of the entry
// fields is set, matching the source's Kind.
type Record struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	// Selected is the default selection offered to the user.
	Selected bool `json:"selected"`

	Appointment *model.AppointmentEntry `json:"appointment,omitempty"`
	ListEntry   *model.ListEntry        `json:"list_entry,omitempty"`
	Phone       *model.PhoneEntry       `json:"phone,omitempty"`
}

// Source fetches records of a single kind.
type Source interface {
	Name() string
	Kind() Kind
	Fetch(ctx context.Context, c Criteria) ([]Record, error)
}

// Selection picks records for import. With Defaults set the records'
// own Selected flags are used and IDs is ignored.
type Selection struct {
	IDs      []string `json:"ids"`
	Defaults bool     `json:"defaults,omitempty"`
}

// Imported holds the canonical entries of the selected records, in source
// order.
type Imported struct {
	Appointments []model.AppointmentEntry
	Lists        []model.ListEntry
	PhoneNumbers []model.PhoneEntry
}

// Len returns the number of entries of any kind.
func (im Imported) Len() int {
	return len(im.Appointments) + len(im.Lists) + len(im.PhoneNumbers)
}

// Entries converts the selected records into canonical entries.
func Entries(records []Record, sel Selection) Imported {
	var im Imported
	for _, r := range records {
		picked := r.Selected
		if !sel.Defaults {
			picked = slices.Contains(sel.IDs, r.ID)
		}
		if !picked {
			continue
		}
		switch {
		case r.Appointment != nil:
			im.Appointments = append(im.Appointments, *r.Appointment)
		case r.ListEntry != nil:
			im.Lists = append(im.Lists, *r.ListEntry)
		case r.Phone != nil:
			im.PhoneNumbers = append(im.PhoneNumbers, *r.Phone)
		}
	}
	return im
}
