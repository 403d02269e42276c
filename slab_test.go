package cogen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSlabAcquireGetRelease(t *testing.T) {
	s := newSlab[string]()

	h1 := s.Acquire("a")
	h2 := s.Acquire("b")

	v1, ok := s.Get(h1)
	require.True(t, ok)
	require.Equal(t, "a", v1)

	s.Release(h1)
	_, ok = s.Get(h1)
	require.False(t, ok, "a released handle must resolve to ok=false")

	v2, ok := s.Get(h2)
	require.True(t, ok)
	require.Equal(t, "b", v2)
}

func TestSlabReusesSlotWithNewGeneration(t *testing.T) {
	s := newSlab[int]()

	h1 := s.Acquire(1)
	s.Release(h1)
	h2 := s.Acquire(2)

	require.Equal(t, h1.index, h2.index, "freed slot should be reused")
	require.NotEqual(t, h1.gen, h2.gen, "reused slot must bump its generation")

	_, ok := s.Get(h1)
	require.False(t, ok, "the stale handle must not resolve to the new occupant")

	v2, ok := s.Get(h2)
	require.True(t, ok)
	require.Equal(t, 2, v2)
}

func TestZeroHandleIsInvalid(t *testing.T) {
	var h Handle
	require.False(t, h.valid())
}
