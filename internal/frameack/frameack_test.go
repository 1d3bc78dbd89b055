package frameack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftnet/riftnet/internal/packetid"
	"github.com/riftnet/riftnet/internal/wire"
)

func TestHandleAckReleasesMatchedFrameAndSamplesRTT(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()
	tr.Track(10, true, []DatagramRef{{SequenceID: 5, ResendEligible: true}}, t0)

	ack := &wire.AckFrame{
		Groups: []wire.AckGroup{{BaseFrameID: 10, Bitfield: 1, Nonce: 1}},
	}
	acked := tr.HandleAck(ack, t0.Add(50*time.Millisecond))

	require.Len(t, acked, 1)
	assert.Equal(t, packetid.ID(5), acked[0].SequenceID)
	assert.Equal(t, 0, tr.Outstanding())

	rtt, ok := tr.RTT()
	require.True(t, ok)
	assert.Equal(t, 50*time.Millisecond, rtt)
}

func TestHandleAckRejectsBadNonce(t *testing.T) {
	tr := NewTracker()
	tr.Track(10, true, []DatagramRef{{SequenceID: 5}}, time.Now())

	ack := &wire.AckFrame{
		Groups: []wire.AckGroup{{BaseFrameID: 10, Bitfield: 1, Nonce: 0}}, // expected nonce is 1
	}
	acked := tr.HandleAck(ack, time.Now())

	assert.Empty(t, acked, "mismatched nonce must not release any frame in the group")
	assert.Equal(t, 1, tr.Outstanding(), "frame stays tracked for a future legitimate ack")
}

func TestHandleAckIgnoresUnknownFrameBits(t *testing.T) {
	tr := NewTracker()
	ack := &wire.AckFrame{Groups: []wire.AckGroup{{BaseFrameID: 0, Bitfield: 0xFFFFFFFF, Nonce: 0}}}
	assert.NotPanics(t, func() { tr.HandleAck(ack, time.Now()) })
}

func TestOverdueRequeuesResendEligibleOnly(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()
	tr.Track(1, false, []DatagramRef{
		{SequenceID: 1, ResendEligible: true},
		{SequenceID: 2, ResendEligible: false},
	}, t0)

	due := tr.Overdue(t0.Add(time.Second), 2.0, 200*time.Millisecond)
	require.Len(t, due, 1)
	assert.Equal(t, packetid.ID(1), due[0].SequenceID)
	assert.Equal(t, 0, tr.Outstanding())
}

func TestOverdueLeavesFreshFramesAlone(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()
	tr.Track(1, false, []DatagramRef{{SequenceID: 1, ResendEligible: true}}, t0)

	due := tr.Overdue(t0.Add(10*time.Millisecond), 2.0, 200*time.Millisecond)
	assert.Empty(t, due)
	assert.Equal(t, 1, tr.Outstanding())
}

func TestRateLimiterCapsBurstAndRegenerates(t *testing.T) {
	t0 := time.Now()
	rl := NewRateLimiter(1000, t0) // 1000 B/s, burst 1000

	assert.True(t, rl.Allow(t0, 1000))
	assert.False(t, rl.Allow(t0, 1), "bucket should be empty immediately after spending it all")

	assert.True(t, rl.Allow(t0.Add(500*time.Millisecond), 400), "half a second should regenerate ~500 bytes")
	assert.False(t, rl.Allow(t0.Add(500*time.Millisecond), 400))
}
