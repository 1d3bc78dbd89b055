package sender

import (
	"testing"

	"github.com/riftnet/riftnet/internal/packetid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitAssignsSequentialIDsAndFragLast(t *testing.T) {
	s := New(0, 16, 1<<20)
	require.NoError(t, s.Enqueue([]byte("a"), 0, Reliable, 1))
	require.NoError(t, s.Enqueue([]byte("b"), 0, Unreliable, 1))

	p1, resend1, ok1 := s.Emit(1)
	require.True(t, ok1)
	assert.Equal(t, packetid.ID(0), p1.SequenceID)
	assert.EqualValues(t, 0, p1.FragmentIDLast)
	assert.True(t, resend1)

	p2, resend2, ok2 := s.Emit(1)
	require.True(t, ok2)
	assert.Equal(t, packetid.ID(1), p2.SequenceID)
	assert.EqualValues(t, 0, p2.FragmentIDLast)
	assert.False(t, resend2)

	_, _, ok3 := s.Emit(1)
	assert.False(t, ok3, "queue should be drained")
}

func TestEmitDropsExpiredTimeSensitive(t *testing.T) {
	s := New(0, 16, 1<<20)
	require.NoError(t, s.Enqueue([]byte("stale"), 0, TimeSensitive, 1))
	require.NoError(t, s.Enqueue([]byte("fresh"), 0, Unreliable, 2))

	p, _, ok := s.Emit(2) // current flush cycle is 2, stale entry tagged flush 1
	require.True(t, ok)
	assert.Equal(t, []byte("fresh"), p.Data)
}

func TestEmitRespectsWindowBudget(t *testing.T) {
	s := New(0, 2, 1<<20)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.Enqueue([]byte{byte(i)}, 0, Unreliable, 1))
	}
	_, _, ok1 := s.Emit(1)
	_, _, ok2 := s.Emit(1)
	_, _, ok3 := s.Emit(1)
	assert.True(t, ok1)
	assert.True(t, ok2)
	assert.False(t, ok3, "third emit should block on window size 2")
}

func TestEmitRespectsAllocationBudget(t *testing.T) {
	s := New(0, 16, 1024) // exactly one fragment's worth
	require.NoError(t, s.Enqueue(make([]byte, 1024), 0, Unreliable, 1))
	require.NoError(t, s.Enqueue([]byte("x"), 0, Unreliable, 1))

	_, _, ok1 := s.Emit(1)
	_, _, ok2 := s.Emit(1)
	assert.True(t, ok1)
	assert.False(t, ok2, "second packet should block on allocation cap")
}

func TestReliableUpdatesWindowAndChannelParent(t *testing.T) {
	s := New(0, 16, 1<<20)
	require.NoError(t, s.Enqueue([]byte("r0"), 0, Reliable, 1))
	require.NoError(t, s.Enqueue([]byte("r1"), 0, Reliable, 1))

	s.Emit(1)
	p2, _, _ := s.Emit(1)
	assert.EqualValues(t, 1, p2.WindowParentLead)
	assert.EqualValues(t, 1, p2.ChannelParentLead)
}

func TestAcknowledgeFreesSlotsAndClearsParents(t *testing.T) {
	s := New(0, 16, 1<<20)
	require.NoError(t, s.Enqueue([]byte("r0"), 0, Reliable, 1))
	s.Emit(1)
	assert.Equal(t, 1, s.PendingCount())

	s.Acknowledge(1)
	assert.Equal(t, 0, s.PendingCount())
	assert.Equal(t, packetid.ID(1), s.BaseID())
	assert.EqualValues(t, 0, s.AllocInUse())
	assert.False(t, s.hasWindowParent, "window parent must be cleared once its slot is acked")
	assert.False(t, s.channels[0].hasParent, "channel parent must be cleared once its slot is acked")
}

func TestAcknowledgeIgnoresStaleAck(t *testing.T) {
	s := New(0, 16, 1<<20)
	require.NoError(t, s.Enqueue([]byte("r0"), 0, Unreliable, 1))
	s.Emit(1)
	s.Acknowledge(999) // way beyond next_id
	assert.Equal(t, packetid.ID(0), s.BaseID(), "stale ack must be ignored")
}

func TestEnqueueRejectsBadChannel(t *testing.T) {
	s := New(0, 16, 1<<20)
	assert.Error(t, s.Enqueue([]byte("x"), 64, Unreliable, 1))
}
