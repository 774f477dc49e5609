package contacts

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "contacts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGet(t *testing.T) {
	s := openTestStore(t)

	err := s.Put(Contact{Identity: "alice123abc", Name: "Alice"})
	require.NoError(t, err)

	c, err := s.Get("alice123abc")
	require.NoError(t, err)
	assert.Equal(t, "Alice", c.Name)
	assert.False(t, c.Created.IsZero(), "Created should be stamped on insert")
}

func TestGetUnknownContact(t *testing.T) {
	s := openTestStore(t)

	_, err := s.Get("nosuchuser1")
	assert.ErrorIs(t, err, ErrContactNotFound)
}

func TestPutRejectsInvalidIdentity(t *testing.T) {
	s := openTestStore(t)

	err := s.Put(Contact{Identity: "Bad!Identity", Name: "x"})
	assert.Error(t, err)
}

func TestPutReplacesExisting(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(Contact{Identity: "alice123abc", Name: "Alice"}))
	require.NoError(t, s.Put(Contact{Identity: "alice123abc", Name: "Alice B"}))

	c, err := s.Get("alice123abc")
	require.NoError(t, err)
	assert.Equal(t, "Alice B", c.Name)

	all, err := s.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(Contact{Identity: "alice123abc", Name: "Alice"}))
	require.NoError(t, s.Delete("alice123abc"))

	_, err := s.Get("alice123abc")
	assert.ErrorIs(t, err, ErrContactNotFound)

	// Deleting again is a no-op.
	assert.NoError(t, s.Delete("alice123abc"))
}

func TestListSortedByName(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(Contact{Identity: "zzzzzzzzzz1", Name: "Alice"}))
	require.NoError(t, s.Put(Contact{Identity: "aaaaaaaaaa1", Name: "Carol"}))
	require.NoError(t, s.Put(Contact{Identity: "mmmmmmmmmm1", Name: "Bob"}))

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "Alice", all[0].Name)
	assert.Equal(t, "Bob", all[1].Name)
	assert.Equal(t, "Carol", all[2].Name)
}

func TestDisplayName(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Put(Contact{Identity: "alice123abc", Name: "Alice"}))

	assert.Equal(t, "Alice", s.DisplayName("alice123abc"))
	assert.Equal(t, "stranger123", s.DisplayName("stranger123"))
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "contacts.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(Contact{Identity: "alice123abc", Name: "Alice", PadSource: "padsync"}))
	require.NoError(t, s.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	c, err := s2.Get("alice123abc")
	require.NoError(t, err)
	assert.Equal(t, "Alice", c.Name)
	assert.Equal(t, "padsync", c.PadSource)
}
