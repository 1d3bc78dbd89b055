// Package receiver implements the fragment assembly window and
// PacketReceiver (spec.md §4.2): the receive-side sliding window, per-channel
// delivery gating, and window advancement.
package receiver

import (
	"github.com/riftnet/riftnet/internal/config"
	"github.com/riftnet/riftnet/internal/wire"
)

// Packet is a fully reassembled packet, ready to move into the receive
// window (spec.md §3.4 ReceiveWindow slot).
type Packet struct {
	ChannelID         uint8
	WindowParentLead  uint16
	ChannelParentLead uint16
	Data              []byte
}

type assemblySlot struct {
	active    bool
	completed bool
	channelID uint8
	winLead   uint16
	chanLead  uint16
	fragLast  uint16
	present   []bool
	frags     [][]byte
	have      int
	reserved  uint32
}

// AssemblyWindow reassembles datagram fragments into packets under a global
// byte-allocation cap (spec.md §3.4, §4.2). Reservation is charged at
// first-fragment arrival and released only when Clear is called by the
// receive window advancing past the slot — a completed-but-not-yet-advanced
// packet keeps its reservation, matching the upstream uflow engine this is
// derived from.
type AssemblyWindow struct {
	maxAlloc   uint32
	allocInUse uint32
	slots      []assemblySlot
}

// NewAssemblyWindow allocates a window of windowSize slots with allocation
// cap maxAlloc (rounded up to a fragment-size multiple).
func NewAssemblyWindow(windowSize, maxAlloc uint32) *AssemblyWindow {
	return &AssemblyWindow{
		maxAlloc: config.RoundUpFrag(maxAlloc),
		slots:    make([]assemblySlot, windowSize),
	}
}

// AddResult distinguishes why TryAdd did not yield a completed packet, so a
// caller can tell an ordinary duplicate apart from an allocation-exhaustion
// drop worth counting separately.
type AddResult int

const (
	// AddOK means the fragment was absorbed without error: the packet is
	// either now complete (Packet non-nil) or still awaiting more fragments.
	AddOK AddResult = iota
	// AddDuplicate means the fragment (or the whole datagram) had already
	// been seen for this slot and was ignored.
	AddDuplicate
	// AddAllocExhausted means the first fragment of a new packet could not
	// be admitted because its reservation would exceed the allocation cap.
	AddAllocExhausted
)

// TryAdd incorporates one fragment into the slot at windowIdx. It returns
// the completed packet once the last fragment arrives (result AddOK, Packet
// non-nil), nil with AddOK if the packet is still incomplete, or nil with
// AddDuplicate/AddAllocExhausted if the fragment was dropped.
func (a *AssemblyWindow) TryAdd(windowIdx int, d *wire.Datagram) (*Packet, AddResult) {
	slot := &a.slots[windowIdx]

	if !slot.active {
		fragLast := d.FragmentIDLast
		reserved := uint32(fragLast+1) * config.MaxFragmentSize
		if a.allocInUse+reserved > a.maxAlloc {
			return nil, AddAllocExhausted // can't afford it: drop silently (spec.md §7 allocation exhaustion)
		}
		slot.active = true
		slot.channelID = d.ChannelID
		slot.winLead = d.WindowParentLead
		slot.chanLead = d.ChannelParentLead
		slot.fragLast = fragLast
		slot.present = make([]bool, fragLast+1)
		slot.frags = make([][]byte, fragLast+1)
		slot.reserved = reserved
		a.allocInUse += reserved
	}

	if slot.completed {
		return nil, AddDuplicate // duplicate datagram for an already-assembled packet
	}
	fragID := int(d.FragmentID)
	if fragID >= len(slot.present) || slot.present[fragID] {
		return nil, AddDuplicate // duplicate fragment
	}

	slot.present[fragID] = true
	slot.frags[fragID] = append([]byte(nil), d.Data...)
	slot.have++

	if slot.have != len(slot.present) {
		return nil, AddOK // fragment absorbed, packet still incomplete
	}

	total := 0
	for _, f := range slot.frags {
		total += len(f)
	}
	buf := make([]byte, 0, total)
	for _, f := range slot.frags {
		buf = append(buf, f...)
	}
	slot.completed = true
	slot.frags = nil // payload now lives in buf; free the per-fragment copies

	return &Packet{
		ChannelID:         slot.channelID,
		WindowParentLead:  slot.winLead,
		ChannelParentLead: slot.chanLead,
		Data:              buf,
	}, AddOK
}

// Clear releases windowIdx's reservation (if any) and resets the slot,
// called when the receive window advances past it.
func (a *AssemblyWindow) Clear(windowIdx int) {
	slot := &a.slots[windowIdx]
	if slot.active {
		a.allocInUse -= slot.reserved
	}
	*slot = assemblySlot{}
}

// AllocInUse reports current reserved bytes, for the §8 allocation-bound
// testable property.
func (a *AssemblyWindow) AllocInUse() uint32 {
	return a.allocInUse
}
