package receiver

import (
	"github.com/riftnet/riftnet/internal/packetid"
	"github.com/riftnet/riftnet/internal/wire"
)

// Sink is the narrow, single-method interface a caller implements to accept
// in-order packet payloads (spec.md §9 design note on single-method sinks).
type Sink interface {
	Deliver(channelID uint8, data []byte)
}

type channelState struct {
	hasBase bool
	base    packetid.ID
	count   uint32
}

// PacketReceiver is the receive-side sliding window: it absorbs datagrams in
// any order, reassembles fragmented packets, and yields them to a Sink in
// the per-channel order spec.md §4.2 defines from window/channel parent
// leads alone.
type PacketReceiver struct {
	windowSize uint32
	mask       uint32

	baseID packetid.ID
	endID  packetid.ID

	assembly *AssemblyWindow

	entryPresent []bool
	dataPresent  []bool
	entryChannel []uint8
	entryWinLead []uint16
	entryChLead  []uint16
	payload      [][]byte

	channels         [wire.MaxChannels]channelState
	channelReadyMask uint64
	windowReady      bool

	droppedOutsideWindow  uint64
	droppedSuperseded     uint64
	droppedAllocExhausted uint64
}

// New creates a PacketReceiver seeded at baseID (spec.md §4.6: rx packet
// base id = peer nonce). windowSize must be a power of two so sequence ids
// can be masked into slot indices.
func New(baseID packetid.ID, windowSize, maxAlloc uint32) *PacketReceiver {
	if windowSize == 0 || windowSize&(windowSize-1) != 0 {
		panic("receiver: windowSize must be a power of two")
	}
	return &PacketReceiver{
		windowSize:   windowSize,
		mask:         windowSize - 1,
		baseID:       baseID,
		endID:        baseID,
		assembly:     NewAssemblyWindow(windowSize, maxAlloc),
		entryPresent: make([]bool, windowSize),
		dataPresent:  make([]bool, windowSize),
		entryChannel: make([]uint8, windowSize),
		entryWinLead: make([]uint16, windowSize),
		entryChLead:  make([]uint16, windowSize),
		payload:      make([][]byte, windowSize),
	}
}

func (r *PacketReceiver) idx(id packetid.ID) int {
	return int(uint32(id) & r.mask)
}

// BaseID is the current receive window base (spec.md §4.3 ack frame field).
func (r *PacketReceiver) BaseID() packetid.ID { return r.baseID }

// AllocInUse reports bytes currently reserved by in-flight reassembly.
func (r *PacketReceiver) AllocInUse() uint32 { return r.assembly.AllocInUse() }

// WindowSize is the fixed receive window capacity in slots.
func (r *PacketReceiver) WindowSize() uint32 { return r.windowSize }

// Occupied counts slots holding a completed packet that the window base has
// not yet advanced past, whether or not it has been delivered.
func (r *PacketReceiver) Occupied() uint32 {
	var n uint32
	for _, present := range r.entryPresent {
		if present {
			n++
		}
	}
	return n
}

// DroppedOutsideWindow counts datagrams dropped for landing outside the
// current receive window.
func (r *PacketReceiver) DroppedOutsideWindow() uint64 { return r.droppedOutsideWindow }

// DroppedSuperseded counts datagrams dropped because their channel had
// already advanced past them.
func (r *PacketReceiver) DroppedSuperseded() uint64 { return r.droppedSuperseded }

// DroppedAllocExhausted counts datagrams dropped because reassembly could
// not afford the byte reservation their packet would require.
func (r *PacketReceiver) DroppedAllocExhausted() uint64 { return r.droppedAllocExhausted }

// HandleDatagram absorbs one parsed, already-validated datagram (spec.md
// §4.2). Datagrams outside the window, or superseded because their channel
// has already delivered a later packet, are silently dropped — both are
// ordinary races, not errors.
func (r *PacketReceiver) HandleDatagram(d *wire.Datagram) {
	ch := &r.channels[d.ChannelID]
	channelBase := r.baseID
	if ch.hasBase {
		channelBase = ch.base
	}

	channelLead := packetid.Sub(channelBase, r.baseID)
	packetLead := packetid.Sub(d.SequenceID, r.baseID)

	if packetLead >= r.windowSize {
		r.droppedOutsideWindow++
		return // outside the receive window
	}
	if packetLead < channelLead {
		r.droppedSuperseded++
		return // superseded: this channel has already advanced past it
	}

	widx := r.idx(d.SequenceID)
	pkt, result := r.assembly.TryAdd(widx, d)
	if pkt == nil {
		if result == AddAllocExhausted {
			r.droppedAllocExhausted++
		}
		return // fragment absorbed but packet not yet complete, or dropped as duplicate/unaffordable
	}

	r.entryChannel[widx] = pkt.ChannelID
	r.entryWinLead[widx] = pkt.WindowParentLead
	r.entryChLead[widx] = pkt.ChannelParentLead
	r.payload[widx] = pkt.Data
	r.entryPresent[widx] = true
	r.dataPresent[widx] = true

	if packetid.Sub(d.SequenceID, r.endID) < r.windowSize {
		r.endID = packetid.Add(d.SequenceID, 1)
	}
	ch.count++

	chDelta := packetid.Sub(d.SequenceID, channelBase)
	if pkt.ChannelParentLead == 0 || uint32(pkt.ChannelParentLead) > chDelta {
		r.channelReadyMask |= uint64(1) << d.ChannelID
	}

	winDelta := packetid.Sub(d.SequenceID, r.baseID)
	if pkt.WindowParentLead == 0 || uint32(pkt.WindowParentLead) > winDelta {
		r.windowReady = true
	}
}

// Receive delivers every packet currently in deliverable order to sink, then
// advances the window past any prefix that has become fully resolved
// (spec.md §4.2 delivery + window-advance sweep).
func (r *PacketReceiver) Receive(sink Sink) {
	for seq := r.baseID; seq != r.endID && r.channelReadyMask != 0; seq = packetid.Add(seq, 1) {
		widx := r.idx(seq)
		if !r.dataPresent[widx] {
			continue
		}
		chID := r.entryChannel[widx]
		chBit := uint64(1) << chID
		if r.channelReadyMask&chBit == 0 {
			continue
		}

		ch := &r.channels[chID]
		chBase := r.baseID
		if ch.hasBase {
			chBase = ch.base
		}
		chDelta := packetid.Sub(seq, chBase)
		lead := uint32(r.entryChLead[widx])
		if lead != 0 && lead <= chDelta {
			r.channelReadyMask &^= chBit
			continue
		}

		sink.Deliver(chID, r.payload[widx])
		r.payload[widx] = nil
		r.dataPresent[widx] = false
		ch.count--
		if ch.count == 0 {
			r.channelReadyMask &^= chBit
		}
		r.setChannelBaseID(chID, packetid.Add(seq, 1))
	}

	if !r.windowReady {
		return
	}
	r.windowReady = false

	newBase := r.baseID
	for seq := r.baseID; seq != r.endID; seq = packetid.Add(seq, 1) {
		widx := r.idx(seq)
		if !r.entryPresent[widx] {
			break
		}
		lead := uint32(r.entryWinLead[widx])
		delta := packetid.Sub(seq, newBase)
		if lead != 0 && lead <= delta {
			break
		}
		newBase = packetid.Add(seq, 1)
	}
	r.advanceWindow(newBase)
}

// Resynchronize forces the window base forward to match a sender's reported
// next_id when the receiver otherwise has no in-window evidence to advance
// on its own (spec.md §4.2, used after the sync frame's packet id hint).
// Nothing happens if senderNextID is already further ahead than the window
// could ever legitimately reach.
func (r *PacketReceiver) Resynchronize(senderNextID packetid.ID) {
	if packetid.Sub(senderNextID, r.baseID) > r.windowSize {
		return
	}
	seq := r.baseID
	for seq != senderNextID {
		if r.entryPresent[r.idx(seq)] {
			break
		}
		seq = packetid.Add(seq, 1)
	}
	r.advanceWindow(seq)
}

func (r *PacketReceiver) setChannelBaseID(channelID uint8, newBase packetid.ID) {
	ch := &r.channels[channelID]
	ch.hasBase = true
	ch.base = newBase
}

// advanceWindow slides the window base forward to newBase, clearing every
// slot it passes and any channel base pointer that newBase has caught up to
// or passed (those channels no longer need separate tracking: the window
// base now means the same thing). A linear scan over the fixed 64-channel
// table is simpler than the marker array the algorithm this is derived from
// uses for the same purpose, and costs nothing extra at this channel count.
func (r *PacketReceiver) advanceWindow(newBase packetid.ID) {
	delta := packetid.Sub(newBase, r.baseID)
	if delta == 0 {
		return
	}
	if packetid.Sub(r.endID, r.baseID) < delta {
		r.endID = newBase
	}

	for seq := r.baseID; seq != newBase; seq = packetid.Add(seq, 1) {
		widx := r.idx(seq)
		r.entryPresent[widx] = false
		r.dataPresent[widx] = false
		r.payload[widx] = nil
		r.assembly.Clear(widx)
	}

	for i := range r.channels {
		ch := &r.channels[i]
		if ch.hasBase && packetid.Sub(ch.base, r.baseID) <= delta {
			ch.hasBase = false
		}
	}

	r.baseID = newBase
}
