package wire

import (
	"encoding/binary"
	"errors"
)

// AckGroup selectively acknowledges up to 32 consecutive frame ids starting
// at BaseFrameID (spec.md §4.3).
type AckGroup struct {
	BaseFrameID uint32
	Bitfield    uint32
	Nonce       uint8
}

const ackGroupSize = 4 + 4 + 1 // 9 bytes

// AckFrame carries the receiver's packet/frame window bases plus selective
// ack groups.
type AckFrame struct {
	FrameWindowBaseID  uint32
	PacketWindowBaseID uint32
	Groups             []AckGroup
}

func (a *AckFrame) Encode() []byte {
	buf := make([]byte, 10, 10+len(a.Groups)*ackGroupSize)
	binary.BigEndian.PutUint32(buf[0:4], a.FrameWindowBaseID)
	binary.BigEndian.PutUint32(buf[4:8], a.PacketWindowBaseID)
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(a.Groups)))
	for _, g := range a.Groups {
		var tmp [ackGroupSize]byte
		binary.BigEndian.PutUint32(tmp[0:4], g.BaseFrameID)
		binary.BigEndian.PutUint32(tmp[4:8], g.Bitfield)
		tmp[8] = g.Nonce
		buf = append(buf, tmp[:]...)
	}
	return buf
}

func DecodeAckFrame(payload []byte) (*AckFrame, error) {
	if len(payload) < 10 {
		return nil, errors.New("wire: ack frame too short")
	}
	a := &AckFrame{
		FrameWindowBaseID:  binary.BigEndian.Uint32(payload[0:4]),
		PacketWindowBaseID: binary.BigEndian.Uint32(payload[4:8]),
	}
	count := int(binary.BigEndian.Uint16(payload[8:10]))
	off := 10
	for i := 0; i < count; i++ {
		if len(payload) < off+ackGroupSize {
			return nil, errors.New("wire: ack frame truncated group list")
		}
		g := AckGroup{
			BaseFrameID: binary.BigEndian.Uint32(payload[off : off+4]),
			Bitfield:    binary.BigEndian.Uint32(payload[off+4 : off+8]),
			Nonce:       payload[off+8],
		}
		a.Groups = append(a.Groups, g)
		off += ackGroupSize
	}
	return a, nil
}
