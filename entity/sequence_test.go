package entity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequencePushPopLength(t *testing.T) {
	deps := newTestDeps(t)
	s, err := NewRootSequence(deps)
	require.NoError(t, err)
	tx := AutoCommit()

	n, err := s.Length(tx)
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	for i, v := range []interface{}{"a", "b", "c"} {
		n, err := s.Push(tx, v)
		require.NoError(t, err)
		require.Equal(t, int64(i+1), n)
	}

	n, err = s.Length(tx)
	require.NoError(t, err)
	require.Equal(t, int64(3), n)

	v, ok, err := s.Get(tx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", v)

	popped, ok, err := s.Pop(tx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c", popped)

	n, err = s.Length(tx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestSequenceShiftUnshift(t *testing.T) {
	deps := newTestDeps(t)
	s, err := NewRootSequence(deps)
	require.NoError(t, err)
	tx := AutoCommit()

	for _, v := range []interface{}{"b", "c"} {
		_, err := s.Push(tx, v)
		require.NoError(t, err)
	}

	_, err = s.Unshift(tx, "a")
	require.NoError(t, err)

	for i, want := range []string{"a", "b", "c"} {
		v, ok, err := s.Get(tx, int64(i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, v)
	}

	first, ok, err := s.Shift(tx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", first)

	n, err := s.Length(tx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	for i, want := range []string{"b", "c"} {
		v, ok, err := s.Get(tx, int64(i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, want, v)
	}
}

func TestSequenceSplice(t *testing.T) {
	deps := newTestDeps(t)
	s, err := NewRootSequence(deps)
	require.NoError(t, err)
	tx := AutoCommit()

	for _, v := range []interface{}{"a", "b", "c", "d", "e"} {
		_, err := s.Push(tx, v)
		require.NoError(t, err)
	}

	removed, err := s.Splice(tx, 1, 2, "x", "y", "z")
	require.NoError(t, err)
	require.Equal(t, []interface{}{"b", "c"}, removed)

	n, err := s.Length(tx)
	require.NoError(t, err)
	require.Equal(t, int64(6), n)

	want := []string{"a", "x", "y", "z", "d", "e"}
	for i, w := range want {
		v, ok, err := s.Get(tx, int64(i))
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, w, v)
	}
}

func TestSequenceNestedMap(t *testing.T) {
	deps := newTestDeps(t)
	s, err := NewRootSequence(deps)
	require.NoError(t, err)
	tx := AutoCommit()

	nested, err := s.PushMap(tx)
	require.NoError(t, err)
	require.NoError(t, nested.Put(tx, "k", "v"))

	v, ok, err := s.Get(tx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	m, ok := v.(*Map)
	require.True(t, ok)

	got, ok, err := m.Get(tx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", got)
}

func TestSequenceOutOfBounds(t *testing.T) {
	deps := newTestDeps(t)
	s, err := NewRootSequence(deps)
	require.NoError(t, err)
	tx := AutoCommit()

	_, ok, err := s.Get(tx, 0)
	require.NoError(t, err)
	require.False(t, ok)

	err = s.Put(tx, 0, "x")
	require.Error(t, err)
}

func TestSequenceNegativeIndexResolvesAgainstLength(t *testing.T) {
	deps := newTestDeps(t)
	s, err := NewRootSequence(deps)
	require.NoError(t, err)
	tx := AutoCommit()

	_, err = s.Push(tx, "a")
	require.NoError(t, err)
	_, err = s.Push(tx, "b")
	require.NoError(t, err)
	_, err = s.Push(tx, "c")
	require.NoError(t, err)

	got, ok, err := s.Get(tx, -1)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c", got)

	got, ok, err = s.Get(tx, -3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", got)

	_, ok, err = s.Get(tx, -4)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(tx, -1, "z"))
	got, ok, err = s.Get(tx, 2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "z", got)

	require.NoError(t, s.Put(tx, -3, "y"))
	got, ok, err = s.Get(tx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "y", got)

	err = s.Put(tx, -4, "nope")
	require.Error(t, err)
}
