package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryUniqueness(t *testing.T) {
	r := NewRegistry()
	s1 := &session{sid: "s1"}
	s2 := &session{sid: "s2"}

	require.NoError(t, r.Register("alicedev123", s1))
	assert.ErrorIs(t, r.Register("alicedev123", s2), ErrIdentityInUse)

	got, ok := r.Lookup("alicedev123")
	require.True(t, ok)
	assert.Same(t, s1, got)
	assert.Equal(t, 1, r.Count())
}

func TestRegistryDeregisterOnlyOwnSession(t *testing.T) {
	r := NewRegistry()
	s1 := &session{sid: "s1"}
	s2 := &session{sid: "s2"}

	require.NoError(t, r.Register("alicedev123", s1))
	r.Deregister("alicedev123", s1)
	_, ok := r.Lookup("alicedev123")
	assert.False(t, ok)

	// A replacement session must not be evicted by a stale cleanup.
	require.NoError(t, r.Register("alicedev123", s2))
	r.Deregister("alicedev123", s1)
	got, ok := r.Lookup("alicedev123")
	require.True(t, ok)
	assert.Same(t, s2, got)
}
