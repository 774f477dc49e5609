// Package contacts implements the device's contact book: the mapping
// from peer identities to display names and pad provenance notes,
// persisted in a bbolt database.
package contacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/opd-ai/padrelay/protocol"
)

var contactsBucket = []byte("contacts")

// dbTimeout bounds the wait for the database file lock, so a second
// process fails fast instead of hanging.
const dbTimeout = 5 * time.Second

// ErrContactNotFound indicates an unknown contact identity.
var ErrContactNotFound = errors.New("contact not found")

// Contact is one peer relationship.
type Contact struct {
	Identity string    `json:"identity"`
	Name     string    `json:"name"`
	Created  time.Time `json:"created"`
	Notes    string    `json:"notes,omitempty"`
	// PadSource records where this contact's pad came from, e.g.
	// "generated" or "padsync".
	PadSource string `json:"pad_source,omitempty"`
}

// Store is a bbolt-backed contact book.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if needed) the contact database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: dbTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open contact database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(contactsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize contact database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put inserts or replaces a contact.
func (s *Store) Put(c Contact) error {
	if !protocol.ValidIdentity(c.Identity) {
		return fmt.Errorf("invalid contact identity %q", c.Identity)
	}
	if c.Created.IsZero() {
		c.Created = time.Now().UTC()
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode contact: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(contactsBucket).Put([]byte(c.Identity), data)
	})
}

// Get returns the contact with the given identity.
func (s *Store) Get(identity string) (Contact, error) {
	var c Contact
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(contactsBucket).Get([]byte(identity))
		if data == nil {
			return ErrContactNotFound
		}
		return json.Unmarshal(data, &c)
	})
	return c, err
}

// Delete removes a contact. Deleting an unknown identity is a no-op.
func (s *Store) Delete(identity string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(contactsBucket).Delete([]byte(identity))
	})
}

// List returns all contacts sorted by display name, falling back to
// identity order for unnamed entries.
func (s *Store) List() ([]Contact, error) {
	var out []Contact
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(contactsBucket).ForEach(func(_, v []byte) error {
			var c Contact
			if err := json.Unmarshal(v, &c); err != nil {
				return err
			}
			out = append(out, c)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		ni, nj := out[i].Name, out[j].Name
		if ni == nj {
			return out[i].Identity < out[j].Identity
		}
		return ni < nj
	})
	return out, nil
}

// DisplayName resolves an identity to its contact name, or returns the
// identity itself for unknown peers.
func (s *Store) DisplayName(identity string) string {
	c, err := s.Get(identity)
	if err != nil || c.Name == "" {
		return identity
	}
	return c.Name
}
