package wire

import (
	"encoding/binary"
	"errors"
)

// HandshakeErrorCode enumerates the terminal handshake failures spec.md
// §4.6 names.
type HandshakeErrorCode byte

const (
	ErrorVersion    HandshakeErrorCode = 0
	ErrorConfig     HandshakeErrorCode = 1
	ErrorServerFull HandshakeErrorCode = 2
)

// ProtocolVersion is bumped whenever the wire format changes incompatibly.
const ProtocolVersion = 1

// HandshakeSyn is the initiator's opening offer (spec.md §6.1). The wire
// payload is padded to MaxFrameSize so the frame doubles as a path-MTU
// probe; Encode always pads to the same size and DecodeHandshakeSyn ignores
// everything past the fixed fields.
type HandshakeSyn struct {
	Version         uint8
	Nonce           uint32
	MaxReceiveRate  uint32
	MaxPacketSize   uint32
	MaxReceiveAlloc uint32
}

const handshakeSynCoreLen = 1 + 4 + 4 + 4 + 4 // 17 bytes

func (h *HandshakeSyn) Encode() []byte {
	buf := make([]byte, handshakeSynCoreLen)
	buf[0] = h.Version
	binary.BigEndian.PutUint32(buf[1:5], h.Nonce)
	binary.BigEndian.PutUint32(buf[5:9], h.MaxReceiveRate)
	binary.BigEndian.PutUint32(buf[9:13], h.MaxPacketSize)
	binary.BigEndian.PutUint32(buf[13:17], h.MaxReceiveAlloc)
	// pad to the full frame size (minus kind byte + crc trailer) so the
	// Syn frame acts as a path-MTU probe (spec.md §6.1).
	padTo := MaxFrameSize - 1 - 4
	if padTo > len(buf) {
		buf = append(buf, make([]byte, padTo-len(buf))...)
	}
	return buf
}

func DecodeHandshakeSyn(payload []byte) (*HandshakeSyn, error) {
	if len(payload) < handshakeSynCoreLen {
		return nil, errors.New("wire: syn payload too short")
	}
	return &HandshakeSyn{
		Version:         payload[0],
		Nonce:           binary.BigEndian.Uint32(payload[1:5]),
		MaxReceiveRate:  binary.BigEndian.Uint32(payload[5:9]),
		MaxPacketSize:   binary.BigEndian.Uint32(payload[9:13]),
		MaxReceiveAlloc: binary.BigEndian.Uint32(payload[13:17]),
	}, nil
}

// HandshakeSynAck is the acceptor's reply.
type HandshakeSynAck struct {
	NonceAck        uint32
	Nonce           uint32
	MaxReceiveRate  uint32
	MaxPacketSize   uint32
	MaxReceiveAlloc uint32
}

func (h *HandshakeSynAck) Encode() []byte {
	buf := make([]byte, 20)
	binary.BigEndian.PutUint32(buf[0:4], h.NonceAck)
	binary.BigEndian.PutUint32(buf[4:8], h.Nonce)
	binary.BigEndian.PutUint32(buf[8:12], h.MaxReceiveRate)
	binary.BigEndian.PutUint32(buf[12:16], h.MaxPacketSize)
	binary.BigEndian.PutUint32(buf[16:20], h.MaxReceiveAlloc)
	return buf
}

func DecodeHandshakeSynAck(payload []byte) (*HandshakeSynAck, error) {
	if len(payload) < 20 {
		return nil, errors.New("wire: synack payload too short")
	}
	return &HandshakeSynAck{
		NonceAck:        binary.BigEndian.Uint32(payload[0:4]),
		Nonce:           binary.BigEndian.Uint32(payload[4:8]),
		MaxReceiveRate:  binary.BigEndian.Uint32(payload[8:12]),
		MaxPacketSize:   binary.BigEndian.Uint32(payload[12:16]),
		MaxReceiveAlloc: binary.BigEndian.Uint32(payload[16:20]),
	}, nil
}

// HandshakeAck closes the three-way exchange.
type HandshakeAck struct {
	NonceAck uint32
}

func (h *HandshakeAck) Encode() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, h.NonceAck)
	return buf
}

func DecodeHandshakeAck(payload []byte) (*HandshakeAck, error) {
	if len(payload) < 4 {
		return nil, errors.New("wire: ack payload too short")
	}
	return &HandshakeAck{NonceAck: binary.BigEndian.Uint32(payload[0:4])}, nil
}

// HandshakeError surfaces a terminal handshake failure. NonceAck binds the
// error to a specific attempt (spec.md §9 open question 1, resolved: include it).
type HandshakeError struct {
	NonceAck uint32
	Code     HandshakeErrorCode
}

func (h *HandshakeError) Encode() []byte {
	buf := make([]byte, 5)
	binary.BigEndian.PutUint32(buf[0:4], h.NonceAck)
	buf[4] = byte(h.Code)
	return buf
}

func DecodeHandshakeError(payload []byte) (*HandshakeError, error) {
	if len(payload) < 5 {
		return nil, errors.New("wire: handshake error payload too short")
	}
	return &HandshakeError{
		NonceAck: binary.BigEndian.Uint32(payload[0:4]),
		Code:     HandshakeErrorCode(payload[4]),
	}, nil
}

// Disconnect and DisconnectAck both carry a nonce to distinguish successive
// connection lifetimes (spec.md §9 open question 2, resolved: include it).
type Disconnect struct {
	Nonce uint32
}

func (d *Disconnect) Encode() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, d.Nonce)
	return buf
}

func DecodeDisconnect(payload []byte) (*Disconnect, error) {
	if len(payload) < 4 {
		return nil, errors.New("wire: disconnect payload too short")
	}
	return &Disconnect{Nonce: binary.BigEndian.Uint32(payload[0:4])}, nil
}

type DisconnectAck struct {
	Nonce uint32
}

func (d *DisconnectAck) Encode() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, d.Nonce)
	return buf
}

func DecodeDisconnectAck(payload []byte) (*DisconnectAck, error) {
	if len(payload) < 4 {
		return nil, errors.New("wire: disconnect ack payload too short")
	}
	return &DisconnectAck{Nonce: binary.BigEndian.Uint32(payload[0:4])}, nil
}
