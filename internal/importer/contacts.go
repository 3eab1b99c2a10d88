package importer

import (
	"context"
	"net/url"
	"strings"

	"datalink-sync/internal/model"
)

// GoogleContacts imports contacts with a phone number into the phone book.
type GoogleContacts struct {
	g *Google
}

func (g *Google) Contacts() *GoogleContacts { return &GoogleContacts{g: g} }

func (c *GoogleContacts) Name() string { return "contacts" }
func (c *GoogleContacts) Kind() Kind   { return KindPhoneNumbers }

type person struct {
	ResourceName string `json:"resourceName"`
	Names        []struct {
		DisplayName string `json:"displayName"`
	} `json:"names"`
	PhoneNumbers []struct {
		Value string `json:"value"`
		Type  string `json:"type"`
	} `json:"phoneNumbers"`
}

type connections struct {
	Connections []person `json:"connections"`
	Results     []struct {
		Person *person `json:"person"`
	} `json:"results"`
}

// Fetch lists connections, or searches them when c.Query is set.
func (c *GoogleContacts) Fetch(ctx context.Context, cr Criteria) ([]Record, error) {
	q := url.Values{}
	path := "/people/me/connections"
	if cr.Query != "" {
		path = "/people:searchContacts"
		q.Set("query", cr.Query)
		q.Set("readMask", "names,phoneNumbers")
	} else {
		q.Set("personFields", "names,phoneNumbers")
		q.Set("pageSize", "50")
	}

	var resp connections
	if err := c.g.getJSON(ctx, c.Name(), c.g.endpoints.People, path, q, &resp); err != nil {
		return nil, err
	}

	people := resp.Connections
	for _, r := range resp.Results {
		if r.Person != nil {
			people = append(people, *r.Person)
		}
	}

	records := make([]Record, 0, len(people))
	for _, p := range people {
		if len(p.Names) == 0 || len(p.PhoneNumbers) == 0 {
			continue
		}
		name := p.Names[0].DisplayName
		if name == "" {
			name = "Unknown"
		}
		phone := p.PhoneNumbers[0]
		typ := phone.Type
		if typ == "" {
			typ = "other"
		}
		records = append(records, Record{
			ID:       p.ResourceName,
			Title:    name,
			Subtitle: phone.Value + " (" + typ + ")",
			Selected: true,
			Phone: &model.PhoneEntry{
				Name:   model.Truncate(name, model.EntryTextMax),
				Number: DigitsOnly(phone.Value),
				Type:   PhoneTypeFor(phone.Type),
			},
		})
	}
	if len(records) == 0 {
		return nil, &ImportError{Source: c.Name(), Err: ErrNoRecords}
	}
	return records, nil
}

// PhoneTypeFor maps a contact's phone label to a watch phone type.
func PhoneTypeFor(label string) model.PhoneType {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "home"):
		return model.PhoneHome
	case strings.Contains(l, "work"):
		return model.PhoneWork
	case strings.Contains(l, "mobile"), strings.Contains(l, "cell"):
		return model.PhoneCell
	case strings.Contains(l, "fax"):
		return model.PhoneFax
	}
	return model.PhoneOther
}

// DigitsOnly strips everything but 0-9.
func DigitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
