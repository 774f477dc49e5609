package pad

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerPerContactIsolation(t *testing.T) {
	m, err := NewManager(t.TempDir(), ModePerContact)
	require.NoError(t, err)

	alice, err := m.ForPeer("alicealice1")
	require.NoError(t, err)
	bob, err := m.ForPeer("bobbobbob22")
	require.NoError(t, err)

	assert.NotSame(t, alice, bob, "each contact gets a separate pad store")

	again, err := m.ForPeer("alicealice1")
	require.NoError(t, err)
	assert.Same(t, alice, again, "stores are cached per directory")
}

func TestManagerSharedMode(t *testing.T) {
	m, err := NewManager(t.TempDir(), ModeShared)
	require.NoError(t, err)

	alice, err := m.ForPeer("alicealice1")
	require.NoError(t, err)
	bob, err := m.ForPeer("bobbobbob22")
	require.NoError(t, err)

	assert.Same(t, alice, bob, "shared mode maps every peer to one pad")
}

func TestManagerRejectsUnknownMode(t *testing.T) {
	_, err := NewManager(t.TempDir(), Mode("bogus"))
	assert.Error(t, err)
}
