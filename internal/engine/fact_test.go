package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFactStore_AssertAssignsIdentityAndTimestamp(t *testing.T) {
	s := NewFactStore(NewClock())

	id1 := s.Assert("alpha")
	id2 := s.Assert("beta")

	require.NotEqual(t, id1, id2)

	f1, ok := s.Get(id1)
	require.True(t, ok)
	assert.Equal(t, "alpha", f1.Value)

	f2, ok := s.Get(id2)
	require.True(t, ok)
	assert.Equal(t, "beta", f2.Value)
	assert.Greater(t, f2.Seq, f1.Seq, "later assert gets a later timestamp")
}

func TestFactStore_RetractUnknownFact(t *testing.T) {
	s := NewFactStore(NewClock())

	err := s.Retract(FactID(42))
	require.Error(t, err)
	assert.True(t, IsUnknownFact(err))
}

func TestFactStore_DoubleRetract(t *testing.T) {
	s := NewFactStore(NewClock())

	id := s.Assert("x")
	require.NoError(t, s.Retract(id))

	err := s.Retract(id)
	require.Error(t, err, "second retract of the same id must fail")
	assert.True(t, IsUnknownFact(err))

	_, ok := s.Get(id)
	assert.False(t, ok)
}

func TestFactStore_ModifyMintsFreshIdentity(t *testing.T) {
	s := NewFactStore(NewClock())

	id := s.Assert(1)
	newID, err := s.Modify(id, 2)
	require.NoError(t, err)
	require.NotEqual(t, id, newID, "modify must assign a fresh id")

	_, ok := s.Get(id)
	assert.False(t, ok, "old id is retracted")

	f, ok := s.Get(newID)
	require.True(t, ok)
	assert.Equal(t, 2, f.Value)
}

func TestFactStore_ModifyUnknownFact(t *testing.T) {
	s := NewFactStore(NewClock())

	_, err := s.Modify(FactID(7), "x")
	require.Error(t, err)
	assert.True(t, IsUnknownFact(err))
	assert.Equal(t, 0, s.Len(), "failed modify must not assert")
}

func TestFactStore_SnapshotInsertionOrder(t *testing.T) {
	s := NewFactStore(NewClock())

	a := s.Assert("a")
	b := s.Assert("b")
	c := s.Assert("c")
	require.NoError(t, s.Retract(b))

	snap := s.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, a, snap[0].ID)
	assert.Equal(t, c, snap[1].ID)
	assert.Equal(t, 2, s.Len())
}

func TestFactStore_EmitsEventsForEveryMutation(t *testing.T) {
	s := NewFactStore(NewClock())

	var events []Event
	s.Subscribe(func(ev Event) { events = append(events, ev) })

	id := s.Assert("x")
	_, err := s.Modify(id, "y")
	require.NoError(t, err)

	require.Len(t, events, 3, "assert + (retract, assert) from modify")
	assert.Equal(t, EventAssert, events[0].Kind)
	assert.Equal(t, EventRetract, events[1].Kind)
	assert.Equal(t, EventAssert, events[2].Kind)
	assert.Equal(t, id, events[1].Fact.ID)

	// Event stamps come from one clock and are strictly increasing.
	assert.Less(t, events[0].Seq, events[1].Seq)
	assert.Less(t, events[1].Seq, events[2].Seq)
}

func TestEventKind_String(t *testing.T) {
	assert.Equal(t, "assert", EventAssert.String())
	assert.Equal(t, "retract", EventRetract.String())
	assert.Equal(t, "unknown", EventKind(0).String())
}
