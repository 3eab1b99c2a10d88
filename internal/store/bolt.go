package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"datalink-sync/internal/form"
)

var bucketSections = []byte("sections")

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSections)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveSnapshot(st *form.State) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSections)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketSections)
		}
		for _, name := range form.Sections {
			data, err := json.Marshal(sectionValue(st, name))
			if err != nil {
				return fmt.Errorf("encode %s: %w", name, err)
			}
			if err := b.Put([]byte(name), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) LoadSnapshot() (*form.State, error) {
	st := form.Defaults()
	var errs []error
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSections)
		if b == nil {
			return nil // no bucket = nothing saved yet
		}
		for _, name := range form.Sections {
			data := b.Get([]byte(name))
			if data == nil {
				continue
			}
			if err := decodeSection(st, name, data); err != nil {
				errs = append(errs, &PersistenceError{Section: name, Err: err})
			}
		}
		return nil
	})
	if err != nil {
		return form.Defaults(), fmt.Errorf("load snapshot: %w", err)
	}
	return st, errors.Join(errs...)
}

// LoadSection decodes one stored section into v.
func (s *BoltStore) LoadSection(name string, v any) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSections)
		if b == nil {
			return fmt.Errorf("section %s: %w", name, ErrNotFound)
		}
		data := b.Get([]byte(name))
		if data == nil {
			return fmt.Errorf("section %s: %w", name, ErrNotFound)
		}
		return json.Unmarshal(data, v)
	})
}

func (s *BoltStore) ClearSnapshot() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(bucketSections); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		_, err := tx.CreateBucket(bucketSections)
		return err
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func sectionValue(st *form.State, name string) any {
	switch name {
	case form.SectionIncludes:
		return st.Includes
	case form.SectionTime1:
		return st.Time1
	case form.SectionTime2:
		return st.Time2
	case form.SectionAlarms:
		return st.Alarms
	case form.SectionAppointments:
		return st.Appointments
	case form.SectionAnniversaries:
		return st.Anniversaries
	case form.SectionPhoneNumbers:
		return st.PhoneNumbers
	case form.SectionLists:
		return st.Lists
	case form.SectionSoundOptions:
		return st.SoundOptions
	case form.SectionSettings:
		return st.Settings
	}
	return nil
}

// decodeSection replaces one section of st. On error st is left untouched.
func decodeSection(st *form.State, name string, data []byte) error {
	switch name {
	case form.SectionIncludes:
		return decodeInto(&st.Includes, data)
	case form.SectionTime1:
		return decodeInto(&st.Time1, data)
	case form.SectionTime2:
		return decodeInto(&st.Time2, data)
	case form.SectionAlarms:
		return decodeInto(&st.Alarms, data)
	case form.SectionAppointments:
		return decodeInto(&st.Appointments, data)
	case form.SectionAnniversaries:
		return decodeInto(&st.Anniversaries, data)
	case form.SectionPhoneNumbers:
		return decodeInto(&st.PhoneNumbers, data)
	case form.SectionLists:
		return decodeInto(&st.Lists, data)
	case form.SectionSoundOptions:
		return decodeInto(&st.SoundOptions, data)
	case form.SectionSettings:
		return decodeInto(&st.Settings, data)
	}
	return fmt.Errorf("unknown section %q", name)
}

func decodeInto[T any](dst *T, data []byte) error {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*dst = v
	return nil
}
