// Package sender implements PacketSender (spec.md §4.1): the send-side FIFO
// queue, budget-gated emission, and the window/channel reliable-parent
// bookkeeping that lets a receiver reconstruct per-channel delivery order
// from 16-bit "leads" alone.
package sender

import (
	"errors"

	"github.com/riftnet/riftnet/internal/config"
	"github.com/riftnet/riftnet/internal/packetid"
)

// Mode is a packet send mode (spec.md §3.2).
type Mode int

const (
	TimeSensitive Mode = iota
	Unreliable
	Persistent
	Reliable
)

// ResendEligible reports whether packets of this mode are retransmitted on
// loss (spec.md §3.2).
func (m Mode) ResendEligible() bool {
	return m == Persistent || m == Reliable
}

// sendEntry is a queued, not-yet-admitted packet (spec.md §3.3 PacketSendEntry).
type sendEntry struct {
	data      []byte
	channelID uint8
	mode      Mode
	flushID   uint64
}

// PendingPacket is a packet that has been assigned a sequence id and
// admitted into the send window (spec.md §3.3).
type PendingPacket struct {
	Data              []byte
	ChannelID         uint8
	SequenceID        packetid.ID
	Mode              Mode
	WindowParentLead  uint16
	ChannelParentLead uint16
	FragmentIDLast    uint16
}

type slot struct {
	packet    *PendingPacket
	allocCost uint32
}

type channelState struct {
	hasParent bool
	parent    packetid.ID
}

// PacketSender is the sending half of one connection's reliability engine.
type PacketSender struct {
	windowSize uint32
	maxAlloc   uint32

	baseID packetid.ID
	nextID packetid.ID
	alloc  uint32

	hasWindowParent bool
	windowParent    packetid.ID

	totalQueuedSize uint64
	queue           []sendEntry

	// slots is an arena keyed by full sequence id, per the arena+index
	// design note in spec.md §9.
	slots    map[packetid.ID]*slot
	channels [64]channelState
}

// New creates a PacketSender seeded at baseID (spec.md §4.6: tx packet base
// id = local nonce & 2^20-1), with the given window size and allocation
// cap. maxAlloc is rounded up to the nearest fragment-size multiple.
func New(baseID packetid.ID, windowSize, maxAlloc uint32) *PacketSender {
	return &PacketSender{
		windowSize: windowSize,
		maxAlloc:   config.RoundUpFrag(maxAlloc),
		baseID:     baseID,
		nextID:     baseID,
		slots:      make(map[packetid.ID]*slot),
	}
}

// Enqueue appends data to the FIFO send queue. The caller-precondition
// checks from spec.md §4.1 are enforced here and returned as errors rather
// than panics, since "fatal to the caller" just means the core refuses the
// call.
func (s *PacketSender) Enqueue(data []byte, channelID uint8, mode Mode, flushID uint64) error {
	if len(data) > config.MaxPacketSize {
		return errors.New("sender: payload exceeds MAX_PACKET_SIZE")
	}
	if uint32(len(data)) > s.maxAlloc {
		return errors.New("sender: payload exceeds max_alloc")
	}
	if channelID >= 64 {
		return errors.New("sender: channel id out of range")
	}
	s.queue = append(s.queue, sendEntry{data: data, channelID: channelID, mode: mode, flushID: flushID})
	s.totalQueuedSize += uint64(len(data))
	return nil
}

// Emit draws the next packet that fits within the window and allocation
// budgets (spec.md §4.1 emit algorithm). ok is false when nothing could be
// emitted this call (empty queue, or the head doesn't fit yet).
func (s *PacketSender) Emit(currentFlushID uint64) (pkt *PendingPacket, resend bool, ok bool) {
	for len(s.queue) > 0 {
		head := s.queue[0]
		if head.mode == TimeSensitive && head.flushID != currentFlushID {
			s.queue = s.queue[1:]
			s.totalQueuedSize -= uint64(len(head.data))
			continue
		}
		break
	}
	if len(s.queue) == 0 {
		return nil, false, false
	}
	head := s.queue[0]

	if packetid.Sub(s.nextID, s.baseID) >= s.windowSize {
		return nil, false, false
	}
	allocCost := config.RoundUpFrag(uint32(len(head.data)))
	if allocCost == 0 {
		allocCost = config.MaxFragmentSize // zero-length packets still cost one fragment slot
	}
	if s.alloc+allocCost > s.maxAlloc {
		return nil, false, false
	}

	s.queue = s.queue[1:]
	s.totalQueuedSize -= uint64(len(head.data))

	seqID := s.nextID
	var windowLead, channelLead uint16
	if s.hasWindowParent {
		windowLead = uint16(packetid.Sub(seqID, s.windowParent))
	}
	ch := &s.channels[head.channelID]
	if ch.hasParent {
		channelLead = uint16(packetid.Sub(seqID, ch.parent))
	}

	fragLast := uint16(0)
	if len(head.data) > 0 {
		fragLast = uint16((len(head.data) - 1) / config.MaxFragmentSize)
	}

	p := &PendingPacket{
		Data:              head.data,
		ChannelID:         head.channelID,
		SequenceID:        seqID,
		Mode:              head.mode,
		WindowParentLead:  windowLead,
		ChannelParentLead: channelLead,
		FragmentIDLast:    fragLast,
	}

	s.slots[seqID] = &slot{packet: p, allocCost: allocCost}
	s.alloc += allocCost
	s.nextID = packetid.Add(s.nextID, 1)

	if head.mode == Reliable {
		s.hasWindowParent = true
		s.windowParent = seqID
		ch.hasParent = true
		ch.parent = seqID
	}

	return p, head.mode.ResendEligible(), true
}

// Acknowledge releases every slot with sequence id < receiverBaseID
// (modular), per spec.md §4.1. A receiverBaseID beyond nextID is a stale
// ack and is ignored.
func (s *PacketSender) Acknowledge(receiverBaseID packetid.ID) {
	distToTarget := packetid.Sub(receiverBaseID, s.baseID)
	distToNext := packetid.Sub(s.nextID, s.baseID)
	if distToTarget > distToNext {
		return // receiverBaseID is beyond next_id: stale ack, ignore
	}
	for s.baseID != receiverBaseID {
		id := s.baseID
		if sl, ok := s.slots[id]; ok {
			s.alloc -= sl.allocCost
			delete(s.slots, id)
			if s.hasWindowParent && s.windowParent == id {
				s.hasWindowParent = false
			}
			ch := &s.channels[sl.packet.ChannelID]
			if ch.hasParent && ch.parent == id {
				ch.hasParent = false
			}
		}
		s.baseID = packetid.Add(s.baseID, 1)
		if s.baseID == s.nextID {
			break
		}
	}
}

// Lookup returns the already-admitted packet at sequence id, if still
// outstanding. Used to re-fragment a resend-eligible packet into a fresh
// frame without reassigning its sequence id.
func (s *PacketSender) Lookup(id packetid.ID) (*PendingPacket, bool) {
	sl, ok := s.slots[id]
	if !ok {
		return nil, false
	}
	return sl.packet, true
}

func (s *PacketSender) PendingCount() int        { return len(s.slots) }
func (s *PacketSender) TotalQueuedSize() uint64  { return s.totalQueuedSize }
func (s *PacketSender) NextID() packetid.ID      { return s.nextID }
func (s *PacketSender) BaseID() packetid.ID      { return s.baseID }
func (s *PacketSender) AllocInUse() uint32       { return s.alloc }
func (s *PacketSender) QueueDepth() int          { return len(s.queue) }
func (s *PacketSender) WindowSize() uint32       { return s.windowSize }
