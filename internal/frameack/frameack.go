// Package frameack implements per-sent-frame bookkeeping, selective ack
// application, RTT estimation, and the leaky-bucket send-rate meter
// (spec.md §4.4).
package frameack

import (
	"time"

	"github.com/riftnet/riftnet/internal/packetid"
	"github.com/riftnet/riftnet/internal/wire"
)

// DatagramRef identifies one datagram carried by a tracked frame, along
// with whether it is eligible to be requeued on loss.
type DatagramRef struct {
	SequenceID     packetid.ID
	FragmentID     uint16
	ResendEligible bool
}

// pendingFrame is the bookkeeping kept for one outstanding frame, per
// spec.md §4.4's "sender remembers, per outstanding frame" list.
type pendingFrame struct {
	frameID      packetid.FrameID
	emissionTime time.Time
	nonce        bool
	entries      []DatagramRef
}

// Tracker is the sending half of frame-level reliability: it remembers
// outstanding frames keyed by frame id (the arena+index pattern from
// spec.md §9), applies selective acks, and maintains an RTT estimate.
//
// Grounded on the teacher's Session.RecoveryQueue/HandleACK/HandleNACK
// (source/protocol/raknet.go), generalized from RakNet's single ack-range
// list to the two-window, group-bitfield ack scheme spec.md §4.3 defines.
type Tracker struct {
	frames map[packetid.FrameID]*pendingFrame

	haveRTT  bool
	smoothRTT time.Duration
}

// NewTracker creates an empty frame tracker.
func NewTracker() *Tracker {
	return &Tracker{frames: make(map[packetid.FrameID]*pendingFrame)}
}

// Track records a newly emitted frame as outstanding.
func (t *Tracker) Track(frameID packetid.FrameID, nonce bool, entries []DatagramRef, now time.Time) {
	t.frames[frameID] = &pendingFrame{
		frameID:      frameID,
		emissionTime: now,
		nonce:        nonce,
		entries:      entries,
	}
}

// Outstanding reports how many frames are awaiting acknowledgement.
func (t *Tracker) Outstanding() int { return len(t.frames) }

// HandleAck applies an ack frame's groups, returning the datagram entries
// carried by every frame the ack newly resolved. Groups whose computed
// nonce doesn't match the XOR of the tracked per-frame nonces are treated
// as corrupted and ignored outright — the conservative reading of spec.md
// §4.4's single-frame nonce-mismatch rule, generalized to a 32-frame group
// since the wire ack group carries one nonce byte for the whole bitfield.
func (t *Tracker) HandleAck(ack *wire.AckFrame, now time.Time) []DatagramRef {
	var acked []DatagramRef
	for _, g := range ack.Groups {
		var computedNonce uint8
		matched := make([]*pendingFrame, 0, 32)
		for bit := 0; bit < 32; bit++ {
			if g.Bitfield&(1<<uint(bit)) == 0 {
				continue
			}
			fid := packetid.FrameAdd(packetid.FrameID(g.BaseFrameID), uint32(bit))
			pf, ok := t.frames[fid]
			if !ok {
				continue // already acked or never tracked; not an error
			}
			if pf.nonce {
				computedNonce ^= 1
			}
			matched = append(matched, pf)
		}
		if computedNonce != g.Nonce {
			continue // corrupted/duplicated ack group: treat every frame in it as lost
		}
		for _, pf := range matched {
			if !t.haveRTT {
				t.smoothRTT = now.Sub(pf.emissionTime)
				t.haveRTT = true
			} else {
				t.smoothRTT = t.smoothRTT + (now.Sub(pf.emissionTime)-t.smoothRTT)/8
			}
			acked = append(acked, pf.entries...)
			delete(t.frames, pf.frameID)
		}
	}
	return acked
}

// RTT returns the current smoothed round-trip estimate, or ok=false before
// the first sample (spec.md §4.4 "unknown" before first sample).
func (t *Tracker) RTT() (rtt time.Duration, ok bool) {
	return t.smoothRTT, t.haveRTT
}

// Overdue walks every outstanding frame and returns the resend-eligible
// datagrams of any frame whose ack is overdue by more than staleMultiple
// smoothed RTTs (or a fallback timeout before any RTT sample exists). The
// corresponding frames are dropped from tracking; the caller is responsible
// for re-emitting their resend-eligible datagrams under a new frame id.
func (t *Tracker) Overdue(now time.Time, staleMultiple float64, fallback time.Duration) []DatagramRef {
	threshold := fallback
	if t.haveRTT {
		threshold = time.Duration(float64(t.smoothRTT) * staleMultiple)
	}
	var due []DatagramRef
	for id, pf := range t.frames {
		if now.Sub(pf.emissionTime) < threshold {
			continue
		}
		for _, e := range pf.entries {
			if e.ResendEligible {
				due = append(due, e)
			}
		}
		delete(t.frames, id)
	}
	return due
}
