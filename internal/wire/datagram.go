package wire

import (
	"errors"

	"github.com/riftnet/riftnet/internal/packetid"
)

// MaxFragmentSize is the size every non-final fragment of a packet must
// equal exactly (spec.md §3.4).
const MaxFragmentSize = 1024

// MaxChannels is the fixed channel-id ceiling (spec.md §3.1).
const MaxChannels = 64

const (
	microMaxLen  = 63  // 6 bits
	smallMaxLen  = 255 // 8 bits
	microMaxLead7 = 127 // 7 bits
	microMaxLead8 = 255 // 8 bits
)

// variant selector codes, written MSB-first before any field.
const (
	variantMicro = 0 // 1 bit: 0
	variantSmall = 2 // 2 bits: 10
	variantLarge = 3 // 2 bits: 11
)

// Datagram is a single fragment of a packet as carried inside a Data frame
// (spec.md §3.4).
type Datagram struct {
	ChannelID          uint8
	SequenceID         packetid.ID
	FragmentID         uint16
	FragmentIDLast     uint16
	WindowParentLead   uint16
	ChannelParentLead  uint16
	Data               []byte
}

// Validate checks the structural invariants spec.md §3.4 requires of a
// parsed datagram, independent of window/channel state (those checks belong
// to the receiver).
func (d *Datagram) Validate() error {
	if d.ChannelID >= MaxChannels {
		return errors.New("wire: datagram channel id out of range")
	}
	if d.FragmentID > d.FragmentIDLast {
		return errors.New("wire: datagram fragment id exceeds fragment id last")
	}
	if d.FragmentID != d.FragmentIDLast && len(d.Data) != MaxFragmentSize {
		return errors.New("wire: non-final fragment must equal MaxFragmentSize")
	}
	if d.FragmentID == d.FragmentIDLast && len(d.Data) > MaxFragmentSize {
		return errors.New("wire: final fragment exceeds MaxFragmentSize")
	}
	if d.ChannelParentLead != 0 {
		if d.WindowParentLead == 0 {
			return errors.New("wire: channel parent lead set without window parent lead")
		}
		if d.ChannelParentLead < d.WindowParentLead {
			return errors.New("wire: channel parent lead less than window parent lead")
		}
	}
	return nil
}

// chooseVariant picks the smallest header shape that can represent d.
func chooseVariant(d *Datagram) int {
	fragmented := d.FragmentID != 0 || d.FragmentIDLast != 0
	switch {
	case !fragmented && len(d.Data) <= microMaxLen &&
		d.WindowParentLead <= microMaxLead7 && d.ChannelParentLead <= microMaxLead8:
		return variantMicro
	case !fragmented && len(d.Data) <= smallMaxLen:
		return variantSmall
	default:
		return variantLarge
	}
}

// EncodeDatagram serializes d using the smallest header shape that fits it.
func EncodeDatagram(d *Datagram) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	switch chooseVariant(d) {
	case variantMicro:
		w := newBitWriter(6)
		w.writeBits(variantMicro, 1)
		w.writeBits(uint32(d.ChannelID), 6)
		w.writeBits(uint32(d.SequenceID), 20)
		w.writeBits(uint32(d.WindowParentLead), 7)
		w.writeBits(uint32(d.ChannelParentLead), 8)
		w.writeBits(uint32(len(d.Data)), 6)
		w.padToByte()
		return append(w.bytes(), d.Data...), nil
	case variantSmall:
		w := newBitWriter(9)
		w.writeBits(variantSmall, 2)
		w.writeBits(uint32(len(d.Data)), 8)
		w.writeBits(uint32(d.WindowParentLead), 16)
		w.writeBits(uint32(d.ChannelParentLead), 16)
		w.writeBits(uint32(d.SequenceID), 20)
		w.writeBits(uint32(d.ChannelID), 6)
		w.padToByte()
		return append(w.bytes(), d.Data...), nil
	default:
		w := newBitWriter(14)
		w.writeBits(variantLarge, 2)
		w.writeBits(uint32(len(d.Data)), 16)
		w.writeBits(uint32(d.FragmentID), 16)
		w.writeBits(uint32(d.FragmentIDLast), 16)
		w.writeBits(uint32(d.WindowParentLead), 16)
		w.writeBits(uint32(d.ChannelParentLead), 16)
		w.writeBits(uint32(d.SequenceID), 20)
		w.writeBits(uint32(d.ChannelID), 6)
		w.padToByte()
		return append(w.bytes(), d.Data...), nil
	}
}

// DecodeDatagram parses a single datagram from the front of buf and returns
// the number of bytes it consumed (header + payload).
func DecodeDatagram(buf []byte) (*Datagram, int, error) {
	if len(buf) < 1 {
		return nil, 0, errors.New("wire: empty datagram buffer")
	}
	r := newBitReader(buf)
	selBit, _ := r.readBits(1)
	var d Datagram
	var headerBits int
	if selBit == 0 {
		// micro
		headerBits = 48
		if r.bitsRemaining() < headerBits-1 {
			return nil, 0, errors.New("wire: truncated micro datagram header")
		}
		chn, _ := r.readBits(6)
		seq, _ := r.readBits(20)
		wLead, _ := r.readBits(7)
		cLead, _ := r.readBits(8)
		length, _ := r.readBits(6)
		d = Datagram{
			ChannelID:         uint8(chn),
			SequenceID:        packetid.ID(seq),
			WindowParentLead:  uint16(wLead),
			ChannelParentLead: uint16(cLead),
		}
		return finishDecode(&d, buf, headerBits, int(length))
	}
	selBit2, ok := r.readBits(1)
	if !ok {
		return nil, 0, errors.New("wire: truncated datagram selector")
	}
	if selBit2 == 0 {
		// small
		headerBits = 72
		if r.bitsRemaining() < headerBits-2 {
			return nil, 0, errors.New("wire: truncated small datagram header")
		}
		length, _ := r.readBits(8)
		wLead, _ := r.readBits(16)
		cLead, _ := r.readBits(16)
		seq, _ := r.readBits(20)
		chn, _ := r.readBits(6)
		d = Datagram{
			ChannelID:         uint8(chn),
			SequenceID:        packetid.ID(seq),
			WindowParentLead:  uint16(wLead),
			ChannelParentLead: uint16(cLead),
		}
		return finishDecode(&d, buf, headerBits, int(length))
	}
	// large
	headerBits = 112
	if r.bitsRemaining() < headerBits-2 {
		return nil, 0, errors.New("wire: truncated large datagram header")
	}
	length, _ := r.readBits(16)
	fragID, _ := r.readBits(16)
	fragLast, _ := r.readBits(16)
	wLead, _ := r.readBits(16)
	cLead, _ := r.readBits(16)
	seq, _ := r.readBits(20)
	chn, _ := r.readBits(6)
	d = Datagram{
		ChannelID:         uint8(chn),
		SequenceID:        packetid.ID(seq),
		FragmentID:        uint16(fragID),
		FragmentIDLast:    uint16(fragLast),
		WindowParentLead:  uint16(wLead),
		ChannelParentLead: uint16(cLead),
	}
	return finishDecode(&d, buf, headerBits, int(length))
}

func finishDecode(d *Datagram, buf []byte, headerBits, length int) (*Datagram, int, error) {
	headerBytes := (headerBits + 7) / 8
	if len(buf) < headerBytes+length {
		return nil, 0, errors.New("wire: truncated datagram payload")
	}
	d.Data = append([]byte(nil), buf[headerBytes:headerBytes+length]...)
	if err := d.Validate(); err != nil {
		return nil, 0, err
	}
	return d, headerBytes + length, nil
}
