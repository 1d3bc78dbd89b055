package halfconn

import (
	"sort"

	"github.com/riftnet/riftnet/internal/packetid"
	"github.com/riftnet/riftnet/internal/wire"
)

// recordIncomingFrame remembers a received data frame's id and nonce bit so
// the next BuildAck call can selectively acknowledge it (spec.md §4.3).
func (h *HalfConn) recordIncomingFrame(frameID uint32, nonce bool) {
	if h.recvFrameNonces == nil {
		h.recvFrameNonces = make(map[packetid.FrameID]bool)
	}
	id := packetid.FrameID(frameID)
	h.recvFrameNonces[id] = nonce
	if !h.haveRecvFrameBase {
		// Anchors the 32-wide bucketing for this collection interval; it
		// need not be the numeric minimum, only a stable reference point
		// until the next BuildAck clears it.
		h.recvFrameBase = id
		h.haveRecvFrameBase = true
	}
}

// BuildAck assembles an ack frame covering every data frame recorded since
// the last BuildAck call, grouped into 32-frame-wide bitfields, then clears
// that record. An ack lost in transit simply means those frames are
// recovered later by the sender's overdue-resend sweep under fresh frame
// ids, which this receiver will record again — a deliberately simpler
// scheme than maintaining a persistent frame receive window.
func (h *HalfConn) BuildAck() *wire.AckFrame {
	af := &wire.AckFrame{
		FrameWindowBaseID:  uint32(h.recvFrameBase),
		PacketWindowBaseID: uint32(h.receiver.BaseID()),
	}
	if len(h.recvFrameNonces) == 0 {
		return af
	}

	ids := make([]packetid.FrameID, 0, len(h.recvFrameNonces))
	for id := range h.recvFrameNonces {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return packetid.FrameSub(ids[i], h.recvFrameBase) < packetid.FrameSub(ids[j], h.recvFrameBase)
	})

	groupByBucket := make(map[uint32]*wire.AckGroup)
	var order []uint32
	for _, id := range ids {
		bucket := packetid.FrameSub(id, h.recvFrameBase) / 32
		g, ok := groupByBucket[bucket]
		if !ok {
			base := packetid.FrameAdd(h.recvFrameBase, bucket*32)
			g = &wire.AckGroup{BaseFrameID: uint32(base)}
			groupByBucket[bucket] = g
			order = append(order, bucket)
		}
		bit := packetid.FrameSub(id, packetid.FrameID(g.BaseFrameID))
		g.Bitfield |= 1 << bit
		if h.recvFrameNonces[id] {
			g.Nonce ^= 1
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	for _, b := range order {
		af.Groups = append(af.Groups, *groupByBucket[b])
	}

	h.recvFrameNonces = make(map[packetid.FrameID]bool)
	h.haveRecvFrameBase = false
	return af
}
