package wire

import (
	"testing"

	"github.com/riftnet/riftnet/internal/packetid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataFrameRoundTrip(t *testing.T) {
	f := &DataFrame{
		SequenceID: 0xABCDEF,
		Nonce:      true,
		Datagrams: []*Datagram{
			{ChannelID: 1, SequenceID: 10, Data: []byte("a")},
			{ChannelID: 2, SequenceID: 11, Data: []byte("b")},
		},
	}
	enc, err := f.Encode()
	require.NoError(t, err)

	got, err := DecodeDataFrame(enc)
	require.NoError(t, err)
	assert.Equal(t, f.SequenceID, got.SequenceID)
	assert.Equal(t, f.Nonce, got.Nonce)
	require.Len(t, got.Datagrams, 2)
	assert.Equal(t, uint8(1), got.Datagrams[0].ChannelID)
	assert.Equal(t, packetid.ID(11), got.Datagrams[1].SequenceID)
}

func TestDataFrameRejectsTooManyDatagrams(t *testing.T) {
	f := &DataFrame{Datagrams: make([]*Datagram, MaxDatagramsPerFrame+1)}
	_, err := f.Encode()
	assert.Error(t, err)
}

func TestSyncFrameRoundTrip(t *testing.T) {
	cases := []SyncFrame{
		{},
		{HasFrameID: true, NextFrameID: 42},
		{HasPacketID: true, NextPacketID: 7},
		{HasFrameID: true, NextFrameID: 1, HasPacketID: true, NextPacketID: 2},
	}
	for i, s := range cases {
		enc := s.Encode()
		got, err := DecodeSyncFrame(enc)
		require.NoErrorf(t, err, "case %d", i)
		assert.Equalf(t, s, *got, "case %d", i)
	}
}

func TestAckFrameRoundTrip(t *testing.T) {
	a := &AckFrame{
		FrameWindowBaseID:  100,
		PacketWindowBaseID: 5,
		Groups: []AckGroup{
			{BaseFrameID: 100, Bitfield: 0xFFFF0001, Nonce: 1},
			{BaseFrameID: 132, Bitfield: 0x1, Nonce: 0},
		},
	}
	enc := a.Encode()
	got, err := DecodeAckFrame(enc)
	require.NoError(t, err)
	assert.Equal(t, a.FrameWindowBaseID, got.FrameWindowBaseID)
	assert.Equal(t, a.PacketWindowBaseID, got.PacketWindowBaseID)
	assert.Equal(t, a.Groups, got.Groups)
}

func TestHandshakeRoundTrips(t *testing.T) {
	syn := &HandshakeSyn{Version: ProtocolVersion, Nonce: 1234, MaxReceiveRate: 1, MaxPacketSize: 2, MaxReceiveAlloc: 3}
	synEnc := syn.Encode()
	assert.Equal(t, MaxFrameSize-1-4, len(synEnc), "syn payload should be padded to a full frame")
	gotSyn, err := DecodeHandshakeSyn(synEnc)
	require.NoError(t, err)
	assert.Equal(t, syn.Nonce, gotSyn.Nonce)

	synAck := &HandshakeSynAck{NonceAck: 1, Nonce: 2, MaxReceiveRate: 3, MaxPacketSize: 4, MaxReceiveAlloc: 5}
	gotSynAck, err := DecodeHandshakeSynAck(synAck.Encode())
	require.NoError(t, err)
	assert.Equal(t, *synAck, *gotSynAck)

	ack := &HandshakeAck{NonceAck: 99}
	gotAck, err := DecodeHandshakeAck(ack.Encode())
	require.NoError(t, err)
	assert.Equal(t, *ack, *gotAck)

	herr := &HandshakeError{NonceAck: 7, Code: ErrorServerFull}
	gotErr, err := DecodeHandshakeError(herr.Encode())
	require.NoError(t, err)
	assert.Equal(t, *herr, *gotErr)

	disc := &Disconnect{Nonce: 55}
	gotDisc, err := DecodeDisconnect(disc.Encode())
	require.NoError(t, err)
	assert.Equal(t, *disc, *gotDisc)

	discAck := &DisconnectAck{Nonce: 56}
	gotDiscAck, err := DecodeDisconnectAck(discAck.Encode())
	require.NoError(t, err)
	assert.Equal(t, *discAck, *gotDiscAck)
}
