package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendAliasMap_AssignAndLookup(t *testing.T) {
	m := NewSendAliasMap(2)

	a1, ok := m.Assign("a/b")
	require.True(t, ok)
	assert.Equal(t, uint16(1), a1)

	got, ok := m.Lookup("a/b")
	require.True(t, ok)
	assert.Equal(t, a1, got)
}

func TestSendAliasMap_EvictsLRU(t *testing.T) {
	m := NewSendAliasMap(2)

	aliasA, _ := m.Assign("a")
	_, _ = m.Assign("b")
	// Touch "a" so "b" becomes the LRU victim.
	m.Lookup("a")

	aliasC, ok := m.Assign("c")
	require.True(t, ok)

	_, stillBound := m.Lookup("b")
	assert.False(t, stillBound, "b should have been evicted")

	got, ok := m.Lookup("a")
	require.True(t, ok)
	assert.Equal(t, aliasA, got)

	got, ok = m.Lookup("c")
	require.True(t, ok)
	assert.Equal(t, aliasC, got)
}

func TestSendAliasMap_ZeroMaxDisablesAssignment(t *testing.T) {
	m := NewSendAliasMap(0)
	_, ok := m.Assign("a")
	assert.False(t, ok)
}

func TestRecvAliasMap_RegisterAndResolve(t *testing.T) {
	m := NewRecvAliasMap(5)

	assert.False(t, m.Register(0, "x"), "alias 0 is invalid")
	assert.False(t, m.Register(6, "x"), "alias above max is invalid")
	assert.True(t, m.Register(3, "a/b"))

	topic, ok := m.Resolve(3)
	require.True(t, ok)
	assert.Equal(t, "a/b", topic)

	_, ok = m.Resolve(4)
	assert.False(t, ok)
}
