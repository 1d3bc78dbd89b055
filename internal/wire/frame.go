// Package wire implements the on-the-wire frame format: frame kinds,
// CRC-32 integrity trailer, the three datagram header shapes, and the
// sync/ack/data frame payload codecs (spec.md §6.1).
package wire

import (
	"encoding/binary"
	"errors"
	"hash/crc32"
)

// Kind identifies a frame's payload shape (spec.md §6.1 reference ids).
type Kind byte

const (
	KindHandshakeSyn    Kind = 0
	KindHandshakeSynAck Kind = 1
	KindHandshakeAck    Kind = 2
	KindHandshakeError  Kind = 3
	KindDisconnect      Kind = 4
	KindDisconnectAck   Kind = 5
	KindData            Kind = 10
	KindSync            Kind = 11
	KindAck             Kind = 12
)

func (k Kind) Valid() bool {
	switch k {
	case KindHandshakeSyn, KindHandshakeSynAck, KindHandshakeAck, KindHandshakeError,
		KindDisconnect, KindDisconnectAck, KindData, KindSync, KindAck:
		return true
	}
	return false
}

// InternetMTU and UDPHeaderOverhead bound the maximum frame size (spec.md §6.1).
const (
	InternetMTU       = 1500
	UDPHeaderOverhead = 28
	MaxFrameSize      = InternetMTU - UDPHeaderOverhead // 1472
)

var crcTable = crc32.MakeTable(crc32.IEEE)

// Serialize wraps kind+payload in the frame envelope: [kind][payload][crc32].
func Serialize(kind Kind, payload []byte) []byte {
	buf := make([]byte, 0, 1+len(payload)+4)
	buf = append(buf, byte(kind))
	buf = append(buf, payload...)
	sum := crc32.Checksum(buf, crcTable)
	var crcBuf [4]byte
	binary.BigEndian.PutUint32(crcBuf[:], sum)
	return append(buf, crcBuf[:]...)
}

// Parse validates the CRC-32 trailer and frame kind, then returns the kind
// and the payload slice (a view into buf, between the kind byte and the
// trailer). A CRC mismatch or unknown kind is reported as an error; callers
// MUST discard such frames silently per spec.md §7, never surfacing it to
// the caller as an event.
func Parse(buf []byte) (Kind, []byte, error) {
	if len(buf) < 5 {
		return 0, nil, errors.New("wire: frame too short")
	}
	body := buf[:len(buf)-4]
	wantCRC := binary.BigEndian.Uint32(buf[len(buf)-4:])
	gotCRC := crc32.Checksum(body, crcTable)
	if wantCRC != gotCRC {
		return 0, nil, errors.New("wire: crc mismatch")
	}
	kind := Kind(body[0])
	if !kind.Valid() {
		return 0, nil, errors.New("wire: unknown frame kind")
	}
	return kind, body[1:], nil
}

// FrameSink is the narrow collaborator contract from spec.md §6.3 and §9: a
// single method that emits one serialized frame to a peer address. It never
// blocks and drops are silent — no back-pressure is signalled.
type FrameSink interface {
	Send(frame []byte) error
}
