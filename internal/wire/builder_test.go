package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataFrameBuilderRespectsDatagramCap(t *testing.T) {
	b := NewDataFrameBuilder(MaxFrameSize)
	d := &Datagram{ChannelID: 0, SequenceID: 0, Data: []byte("x")}
	enc, err := EncodeDatagram(d)
	require.NoError(t, err)

	for i := 0; i < MaxDatagramsPerFrame; i++ {
		ok := b.Add(d, len(enc))
		assert.True(t, ok, "datagram %d should fit", i)
	}
	assert.False(t, b.Add(d, len(enc)), "datagram beyond the 127 cap should be rejected")

	f := b.Flush(1, false)
	assert.Len(t, f.Datagrams, MaxDatagramsPerFrame)
	assert.True(t, b.Empty())
}

func TestDataFrameBuilderRespectsByteCeiling(t *testing.T) {
	b := NewDataFrameBuilder(64) // tiny frame budget
	big := &Datagram{ChannelID: 0, SequenceID: 0, Data: make([]byte, 200)}
	enc, err := EncodeDatagram(big)
	require.NoError(t, err)

	assert.False(t, b.Add(big, len(enc)), "oversized datagram should not fit a tiny frame budget")
}
