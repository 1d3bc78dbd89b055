// Package halfconn glues the sender, receiver, frame-ack tracker, and wire
// codec into one connection engine: the "half-connection" named throughout
// spec.md §4, responsible for everything between "I have a packet to send"
// and "a frame is ready to hand to a socket".
//
// Grounded on the teacher's RakNetHandler/Session.Update loop
// (source/protocol/raknet.go), generalized from RakNet's one-ack-list
// model to the two-window, leaky-bucket-throttled engine spec.md describes.
package halfconn

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/riftnet/riftnet/internal/config"
	"github.com/riftnet/riftnet/internal/frameack"
	"github.com/riftnet/riftnet/internal/metrics"
	"github.com/riftnet/riftnet/internal/packetid"
	"github.com/riftnet/riftnet/internal/receiver"
	"github.com/riftnet/riftnet/internal/sender"
	"github.com/riftnet/riftnet/internal/wire"
	"github.com/riftnet/riftnet/pkg/rlog"
)

// Delivery is one in-order packet handed back to the caller by Step.
type Delivery struct {
	ChannelID uint8
	Data      []byte
}

type deliverySink struct {
	out []Delivery
}

func (d *deliverySink) Deliver(channelID uint8, data []byte) {
	d.out = append(d.out, Delivery{ChannelID: channelID, Data: data})
}

// windowSizeFor picks a receive/send window size from the allocation
// budget: one window slot per fragment the budget could possibly hold,
// capped at packetid.MaxWindowSize and floored at 64 so tiny configs still
// get room to pipeline a few packets.
func windowSizeFor(maxAlloc uint32) uint32 {
	n := maxAlloc / config.MaxFragmentSize
	if n < 64 {
		n = 64
	}
	if n > packetid.MaxWindowSize {
		n = packetid.MaxWindowSize
	}
	// round down to a power of two, since both windows require it.
	p := uint32(1)
	for p*2 <= n {
		p *= 2
	}
	return p
}

// HalfConn is one direction-agnostic connection engine: a local send
// pipeline, a local receive pipeline, and the frame-level bookkeeping tying
// both to the wire.
type HalfConn struct {
	cfg config.EndpointConfig
	log *logrus.Entry

	sender   *sender.PacketSender
	receiver *receiver.PacketReceiver
	frames   *frameack.Tracker
	rate     *frameack.RateLimiter

	sink wire.FrameSink

	nextFrameID   packetid.FrameID
	frameNonceBit bool

	builder *wire.DataFrameBuilder

	// pendingResend records, per sequence id currently sitting in the
	// builder or about to be, whether its packet is resend-eligible —
	// threaded through to frameack.DatagramRef at track time, since the
	// wire Datagram itself carries no such flag.
	pendingResend map[packetid.ID]bool

	recvFrameNonces   map[packetid.FrameID]bool
	recvFrameBase     packetid.FrameID
	haveRecvFrameBase bool

	lastSendTime   time.Time
	currentFlushID uint64
}

// New creates a HalfConn. localBaseID/remoteBaseID seed the send and
// receive packet-id spaces from the handshake nonce exchange (spec.md
// §4.6); sink is where outgoing frames are written.
func New(cfg config.EndpointConfig, connID string, localBaseID, remoteBaseID packetid.ID, remoteMaxReceiveRate uint32, sink wire.FrameSink, now time.Time) *HalfConn {
	winSize := windowSizeFor(cfg.MaxReceiveAlloc)
	effectiveRate := float64(cfg.MaxSendRate)
	if remoteMaxReceiveRate != 0 && float64(remoteMaxReceiveRate) < effectiveRate {
		effectiveRate = float64(remoteMaxReceiveRate)
	}
	return &HalfConn{
		cfg:            cfg,
		log:            rlog.For(connID),
		sender:         sender.New(localBaseID, winSize, cfg.MaxReceiveAlloc),
		receiver:       receiver.New(remoteBaseID, winSize, cfg.MaxReceiveAlloc),
		frames:         frameack.NewTracker(),
		rate:           frameack.NewRateLimiter(effectiveRate, now),
		sink:           sink,
		builder:        wire.NewDataFrameBuilder(wire.MaxFrameSize),
		pendingResend:  make(map[packetid.ID]bool),
		lastSendTime:   now,
		currentFlushID: 1,
	}
}

// Send enqueues a payload for eventual transmission (spec.md §4.1). A
// TimeSensitive payload is only eligible for emission during the flush
// cycle it was enqueued in; if Flush isn't called before the next one
// starts, it is dropped rather than sent stale.
func (h *HalfConn) Send(data []byte, channelID uint8, mode sender.Mode) error {
	return h.sender.Enqueue(data, channelID, mode, h.currentFlushID)
}

// HandleFrame parses and applies one received, already CRC-validated frame
// payload against the relevant sub-engine.
func (h *HalfConn) HandleFrame(kind wire.Kind, payload []byte) {
	switch kind {
	case wire.KindData:
		df, err := wire.DecodeDataFrame(payload)
		if err != nil {
			h.log.Warnf("halfconn: drop malformed data frame: %v", err)
			return
		}
		h.recordIncomingFrame(df.SequenceID, df.Nonce)
		for _, d := range df.Datagrams {
			h.receiver.HandleDatagram(d)
		}
	case wire.KindSync:
		sf, err := wire.DecodeSyncFrame(payload)
		if err != nil {
			h.log.Warnf("halfconn: drop malformed sync frame: %v", err)
			return
		}
		if sf.HasPacketID {
			h.receiver.Resynchronize(packetid.ID(sf.NextPacketID))
		}
	case wire.KindAck:
		af, err := wire.DecodeAckFrame(payload)
		if err != nil {
			h.log.Warnf("halfconn: drop malformed ack frame: %v", err)
			return
		}
		h.sender.Acknowledge(packetid.ID(af.PacketWindowBaseID))
		h.frames.HandleAck(af, time.Now())
	default:
		// Handshake/disconnect frames belong to internal/lifecycle, not here.
	}
}

// Step delivers every packet that has become deliverable since the last
// call (spec.md §4.2).
func (h *HalfConn) Step() []Delivery {
	var sink deliverySink
	h.receiver.Receive(&sink)
	return sink.out
}

// Flush emits as many data frames as the rate-limiter and builder budgets
// allow, resends overdue frames' resend-eligible datagrams, and returns the
// number of data frames built during the call (spec.md §4.4). A frame that
// is built but denied by the rate limiter is still tracked as outstanding
// (and counted) rather than sent: it will never be acked, so it is
// naturally recovered by the next overdue sweep once budget frees up, at
// the cost of one wasted RTT.
func (h *HalfConn) Flush(now time.Time) int {
	firstFrameID := h.nextFrameID
	h.requeueOverdue(now)

	for {
		p, resend, ok := h.sender.Emit(h.currentFlushID)
		if !ok {
			break
		}
		h.enqueueDatagrams(p, resend, now)
	}

	h.flushBuilderFrame(now)
	h.currentFlushID++
	return int(packetid.FrameSub(h.nextFrameID, firstFrameID))
}

// enqueueDatagrams fragments an admitted packet and feeds its datagrams
// into the frame builder, flushing whenever the builder is full.
func (h *HalfConn) enqueueDatagrams(p *sender.PendingPacket, resend bool, now time.Time) {
	h.pendingResend[p.SequenceID] = resend
	for _, d := range fragmentPacket(p) {
		enc, err := wire.EncodeDatagram(d)
		if err != nil {
			h.log.Warnf("halfconn: encode datagram: %v", err)
			continue
		}
		if !h.builder.Add(d, len(enc)) {
			h.flushBuilderFrame(now)
			h.builder.Add(d, len(enc))
		}
	}
}

// flushBuilderFrame drains the builder's pending datagrams into one frame,
// sends it if the rate limiter has credit, and always tracks it for
// acknowledgement. Reports whether it had anything to flush.
func (h *HalfConn) flushBuilderFrame(now time.Time) bool {
	if h.builder.Empty() {
		return false
	}
	frame := h.builder.Flush(uint32(h.nextFrameID), h.frameNonceBit)
	buf, err := frame.Encode()
	if err != nil {
		h.log.Warnf("halfconn: encode data frame: %v", err)
		return false
	}
	encoded := wire.Serialize(wire.KindData, buf)
	if h.rate.Allow(now, len(encoded)) {
		if err := h.sink.Send(encoded); err == nil {
			h.lastSendTime = now
		}
	}
	h.trackFrame(frame, now)
	return true
}

func (h *HalfConn) trackFrame(frame *wire.DataFrame, now time.Time) {
	refs := make([]frameack.DatagramRef, 0, len(frame.Datagrams))
	for _, d := range frame.Datagrams {
		refs = append(refs, frameack.DatagramRef{
			SequenceID:     d.SequenceID,
			FragmentID:     d.FragmentID,
			ResendEligible: h.pendingResend[d.SequenceID],
		})
		if d.FragmentID == d.FragmentIDLast {
			delete(h.pendingResend, d.SequenceID) // last fragment of this packet has shipped
		}
	}
	h.frames.Track(h.nextFrameID, h.frameNonceBit, refs, now)
	h.nextFrameID = packetid.FrameAdd(h.nextFrameID, 1)
	h.frameNonceBit = !h.frameNonceBit
}

// requeueOverdue re-emits the resend-eligible datagrams of frames whose ack
// is overdue, by re-enqueuing their original packets through the sender so
// they're re-fragmented under a fresh frame id (spec.md §4.4).
func (h *HalfConn) requeueOverdue(now time.Time) {
	due := h.frames.Overdue(now, 2.5, 500*time.Millisecond)
	seen := make(map[packetid.ID]bool, len(due))
	for _, ref := range due {
		if seen[ref.SequenceID] {
			continue
		}
		seen[ref.SequenceID] = true
		p, ok := h.sender.Lookup(ref.SequenceID)
		if !ok {
			continue // already acknowledged since it was marked overdue
		}
		h.enqueueDatagrams(p, true, now)
	}
}

func (h *HalfConn) SenderBaseID() packetid.ID   { return h.sender.BaseID() }
func (h *HalfConn) ReceiverBaseID() packetid.ID { return h.receiver.BaseID() }
func (h *HalfConn) LastSendTime() time.Time     { return h.lastSendTime }

// PendingSendCount is the number of packets still queued for admission plus
// those admitted but not yet acknowledged, used by internal/lifecycle to
// decide when a graceful disconnect's flush phase has drained (spec.md §4.5
// Active row, mode Flush).
func (h *HalfConn) PendingSendCount() int {
	return h.sender.QueueDepth() + h.sender.PendingCount()
}

// SendKeepalive emits a bare Sync frame carrying no hints, refreshing the
// peer's activity timer when no data traffic would otherwise do so
// (spec.md §4.5 keepalive interval).
func (h *HalfConn) SendKeepalive(now time.Time) {
	sf := &wire.SyncFrame{}
	buf := wire.Serialize(wire.KindSync, sf.Encode())
	if h.rate.Allow(now, len(buf)) {
		if err := h.sink.Send(buf); err == nil {
			h.lastSendTime = now
		}
	}
}

// MetricsSnapshot implements metrics.Source, letting a HalfConn be
// registered directly with a metrics.Collector.
func (h *HalfConn) MetricsSnapshot() metrics.Snapshot {
	now := time.Now()
	rtt, haveRTT := h.frames.RTT()
	return metrics.Snapshot{
		SendWindowOccupied: uint32(h.sender.PendingCount()),
		SendWindowSize:     h.sender.WindowSize(),
		RecvWindowOccupied: h.receiver.Occupied(),
		RecvWindowSize:     h.receiver.WindowSize(),

		SendAllocInUse: h.sender.AllocInUse(),
		RecvAllocInUse: h.receiver.AllocInUse(),

		RTTSeconds:    rtt.Seconds(),
		HasRTT:        haveRTT,
		RateCreditB:   h.rate.Credit(now),
		OutstandingFr: uint32(h.frames.Outstanding()),

		DroppedDatagrams:  h.receiver.DroppedOutsideWindow() + h.receiver.DroppedSuperseded(),
		DroppedOutOfAlloc: h.receiver.DroppedAllocExhausted(),
	}
}
