package wire

import (
	"encoding/binary"
	"errors"
)

const (
	syncHasFrameID  = 1 << 0
	syncHasPacketID = 1 << 1
)

// SyncFrame is emitted by the sender to trigger receiver window advancement
// past irretrievably lost unreliable packets and to request a fast ack of
// the frame window (spec.md §4.3).
type SyncFrame struct {
	NextFrameID   uint32
	HasFrameID    bool
	NextPacketID  uint32
	HasPacketID   bool
}

func (s *SyncFrame) Encode() []byte {
	mode := byte(0)
	if s.HasFrameID {
		mode |= syncHasFrameID
	}
	if s.HasPacketID {
		mode |= syncHasPacketID
	}
	buf := []byte{mode}
	var tmp [4]byte
	if s.HasFrameID {
		binary.BigEndian.PutUint32(tmp[:], s.NextFrameID)
		buf = append(buf, tmp[:]...)
	}
	if s.HasPacketID {
		binary.BigEndian.PutUint32(tmp[:], s.NextPacketID)
		buf = append(buf, tmp[:]...)
	}
	return buf
}

func DecodeSyncFrame(payload []byte) (*SyncFrame, error) {
	if len(payload) < 1 {
		return nil, errors.New("wire: sync payload too short")
	}
	mode := payload[0]
	s := &SyncFrame{
		HasFrameID:  mode&syncHasFrameID != 0,
		HasPacketID: mode&syncHasPacketID != 0,
	}
	off := 1
	if s.HasFrameID {
		if len(payload) < off+4 {
			return nil, errors.New("wire: sync payload missing frame id")
		}
		s.NextFrameID = binary.BigEndian.Uint32(payload[off : off+4])
		off += 4
	}
	if s.HasPacketID {
		if len(payload) < off+4 {
			return nil, errors.New("wire: sync payload missing packet id")
		}
		s.NextPacketID = binary.BigEndian.Uint32(payload[off : off+4])
		off += 4
	}
	return s, nil
}
