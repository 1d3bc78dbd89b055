// Package lifecycle drives one connection through its Pending/Active/
// Closing/Closed/Fin state machine (spec.md §4.5): handshake nonce exchange,
// resend-with-attempt-budget timers, and the handoff into and out of an
// internal/halfconn engine once a connection is established.
//
// Grounded on the teacher's Session connection-state constants
// (source/protocol/raknet.go) and the original_source client/mod.rs and
// server/mod.rs state enums (Pending/Active/Closing/Closed/Fin structs and
// their handle_* / handle_events transition functions), generalized from
// RakNet's single connect/disconnect pair to the full table spec.md §4.5
// specifies.
package lifecycle

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/riftnet/riftnet/internal/config"
	"github.com/riftnet/riftnet/internal/connid"
	"github.com/riftnet/riftnet/internal/halfconn"
	"github.com/riftnet/riftnet/internal/metrics"
	"github.com/riftnet/riftnet/internal/packetid"
	"github.com/riftnet/riftnet/internal/sender"
	"github.com/riftnet/riftnet/internal/wire"
	"github.com/riftnet/riftnet/pkg/rlog"
)

// State names one node of the connection state machine.
type State int

const (
	StatePending State = iota
	StateActive
	StateClosing
	StateClosed
	StateFin
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "fin"
	}
}

// ErrorType names a terminal, non-retryable connection failure.
type ErrorType int

const (
	ErrorTimeout ErrorType = iota
	ErrorVersion
	ErrorConfig
	ErrorServerFull
)

// EventKind distinguishes the four caller-visible event shapes spec.md §6.2
// enumerates.
type EventKind int

const (
	EventConnect EventKind = iota
	EventDisconnect
	EventReceive
	EventTimeout
)

// Event is one item in the totally-ordered queue a caller drains via Step.
type Event struct {
	Kind      EventKind
	ChannelID uint8
	Data      []byte
	Err       ErrorType
}

// DisconnectMode distinguishes a graceful drain-then-close from an
// immediate one (spec.md §4.5 Active row).
type DisconnectMode int

const (
	DisconnectFlush DisconnectMode = iota
	DisconnectNow
)

type sendEntry struct {
	data      []byte
	channelID uint8
	mode      sender.Mode
}

// Connection owns exactly one half-connection attempt: a Pending handshake,
// the Active half-connection it (may) become, and the Closing/Closed/Fin
// teardown that follows. It is driven entirely by Step/Flush; there is no
// internal goroutine (spec.md §5 scheduling model).
type Connection struct {
	cfg    config.EndpointConfig
	connID connid.ID
	log    *logrus.Entry
	sink   wire.FrameSink

	state State

	localNonce  uint32
	remoteNonce uint32

	resendKind    wire.Kind
	resendPayload []byte
	resendTime    time.Time
	resendCount   int

	// pendingRemote* hold the peer's advertised handshake parameters while
	// an acceptor waits in Pending for the closing HandshakeAck; activate
	// needs them but must not run until that ack is verified.
	pendingRemoteMaxReceiveRate  uint32
	pendingRemoteMaxPacketSize   uint32
	pendingRemoteMaxReceiveAlloc uint32

	initialSends []sendEntry

	hc              *halfconn.HalfConn
	timeoutDeadline time.Time
	disconnectMode  *DisconnectMode

	closedGraceDeadline time.Time

	isInitiator bool

	events []Event
}

// Dial begins an initiator-side connection: emits a HandshakeSyn immediately
// and enters Pending (original_source client/mod.rs Client::connect).
func Dial(cfg config.EndpointConfig, sink wire.FrameSink, now time.Time) *Connection {
	id := connid.New()
	c := &Connection{
		cfg:         cfg,
		connID:      id,
		log:         rlog.For(id.String()),
		sink:        sink,
		state:       StatePending,
		localNonce:  rand.Uint32(),
		isInitiator: true,
	}
	c.sendSyn(now)
	return c
}

// Accept begins an acceptor-side connection from an already-parsed,
// already-version/config-checked HandshakeSyn (original_source
// server/mod.rs Server::handle_handshake_syn, minus the host-level
// ServerFull/duplicate-peer bookkeeping a socket demux owns). The connection
// stays in Pending — and allocates no half-connection — until the closing
// HandshakeAck is received and its nonce verified in handleHandshakeAck;
// until then this is only a tentative client record, per server2/mod.rs
// handle_handshake_ack's gating of daten_meister::Config construction on
// handshake.nonce_ack == state.local_nonce.
func Accept(cfg config.EndpointConfig, sink wire.FrameSink, syn *wire.HandshakeSyn, now time.Time) *Connection {
	id := connid.New()
	c := &Connection{
		cfg:                          cfg,
		connID:                       id,
		log:                          rlog.For(id.String()),
		sink:                         sink,
		state:                        StatePending,
		localNonce:                   rand.Uint32(),
		remoteNonce:                  syn.Nonce,
		isInitiator:                  false,
		pendingRemoteMaxReceiveRate:  syn.MaxReceiveRate,
		pendingRemoteMaxPacketSize:   syn.MaxPacketSize,
		pendingRemoteMaxReceiveAlloc: syn.MaxReceiveAlloc,
	}
	synAck := &wire.HandshakeSynAck{
		NonceAck:        syn.Nonce,
		Nonce:           c.localNonce,
		MaxReceiveRate:  cfg.MaxReceiveRate,
		MaxPacketSize:   cfg.MaxPacketSize,
		MaxReceiveAlloc: cfg.MaxReceiveAlloc,
	}
	c.resendKind = wire.KindHandshakeSynAck
	c.resendPayload = synAck.Encode()
	c.resendTime = now.Add(c.cfg.HandshakeInterval)
	c.resendCount = c.cfg.HandshakeCount
	c.sendFrame(c.resendKind, c.resendPayload)
	return c
}

// CheckHandshake validates a peer's advertised parameters against this
// host's config the way spec.md §4.6 requires, before Accept is called.
// Returns the failure code, or ok=true if the handshake may proceed.
func CheckHandshake(cfg config.EndpointConfig, syn *wire.HandshakeSyn) (code wire.HandshakeErrorCode, ok bool) {
	if syn.Version != wire.ProtocolVersion {
		return wire.ErrorVersion, false
	}
	if syn.MaxPacketSize > cfg.MaxReceiveAlloc || syn.MaxReceiveAlloc < cfg.MaxPacketSize {
		return wire.ErrorConfig, false
	}
	return 0, true
}

func (c *Connection) sendFrame(kind wire.Kind, payload []byte) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Send(wire.Serialize(kind, payload)); err != nil {
		c.log.Debugf("lifecycle: send frame kind %d: %v", kind, err)
	}
}

func (c *Connection) sendSyn(now time.Time) {
	syn := &wire.HandshakeSyn{
		Version:         wire.ProtocolVersion,
		Nonce:           c.localNonce,
		MaxReceiveRate:  c.cfg.MaxReceiveRate,
		MaxPacketSize:   c.cfg.MaxPacketSize,
		MaxReceiveAlloc: c.cfg.MaxReceiveAlloc,
	}
	c.resendKind = wire.KindHandshakeSyn
	c.resendPayload = syn.Encode()
	c.resendTime = now.Add(c.cfg.HandshakeInterval)
	c.resendCount = c.cfg.HandshakeCount
	c.sendFrame(c.resendKind, c.resendPayload)
}

// activate builds the half-connection once both nonces are in hand, wiring
// window sizes, base ids, and rate caps per spec.md §4.6.
func (c *Connection) activate(remoteMaxReceiveRate, remoteMaxPacketSize, remoteMaxReceiveAlloc uint32, now time.Time) {
	_ = remoteMaxPacketSize // checked by CheckHandshake on the acceptor side only; the initiator does not check a SynAck's value
	localBase := packetid.Norm(c.localNonce)
	remoteBase := packetid.Norm(c.remoteNonce)
	c.hc = halfconn.New(c.cfg, c.connID.String(), localBase, remoteBase, remoteMaxReceiveRate, c.sink, now)
	_ = remoteMaxReceiveAlloc // not applied: halfconn.New caps the sender at the local cfg.MaxReceiveAlloc, not at the peer's advertised value
	c.state = StateActive
	c.timeoutDeadline = now.Add(c.cfg.ActiveTimeout)
	c.events = append(c.events, Event{Kind: EventConnect})
	for _, se := range c.initialSends {
		if err := c.hc.Send(se.data, se.channelID, se.mode); err != nil {
			c.log.Warnf("lifecycle: drain initial send: %v", err)
		}
	}
	c.initialSends = nil
}

// Send enqueues a payload per spec.md §6.2. Pending connections buffer it
// for delivery on activation; Closing/Closed/Fin connections silently drop
// it, matching the reference client's documented behavior.
func (c *Connection) Send(data []byte, channelID uint8, mode sender.Mode) {
	switch c.state {
	case StatePending:
		c.initialSends = append(c.initialSends, sendEntry{data: append([]byte(nil), data...), channelID: channelID, mode: mode})
	case StateActive:
		if err := c.hc.Send(data, channelID, mode); err != nil {
			c.log.Warnf("lifecycle: send: %v", err)
		}
	}
}

// Disconnect gracefully terminates the connection: if sends are pending
// they are flushed first, then a Disconnect frame is emitted and resend is
// armed (spec.md §4.5 Active row, mode Flush).
func (c *Connection) Disconnect() {
	c.requestDisconnect(DisconnectFlush)
}

// DisconnectNow terminates as soon as possible, with no guarantee pending
// sends are delivered (spec.md §4.5 Active row, mode Now).
func (c *Connection) DisconnectNow() {
	c.requestDisconnect(DisconnectNow)
}

func (c *Connection) requestDisconnect(mode DisconnectMode) {
	switch c.state {
	case StatePending:
		// No point assuming the peer will reply; enter Fin immediately
		// (original_source client/mod.rs Client::disconnect, Pending arm).
		c.state = StateFin
	case StateActive:
		m := mode
		c.disconnectMode = &m
	}
}

func (c *Connection) armClosing(now time.Time) {
	d := &wire.Disconnect{Nonce: c.localNonce}
	c.resendKind = wire.KindDisconnect
	c.resendPayload = d.Encode()
	c.resendTime = now.Add(c.cfg.DisconnectInterval)
	c.resendCount = c.cfg.DisconnectCount
	c.sendFrame(c.resendKind, c.resendPayload)
	c.state = StateClosing
}

// HandleFrame applies one received, already CRC-validated frame to this
// connection's state machine (original_source client/mod.rs handle_frame,
// generalized to also carry the acceptor-side handshake-ack arm).
func (c *Connection) HandleFrame(kind wire.Kind, payload []byte, now time.Time) {
	switch kind {
	case wire.KindHandshakeSynAck:
		c.handleSynAck(payload, now)
	case wire.KindHandshakeAck:
		c.handleHandshakeAck(payload, now)
	case wire.KindHandshakeError:
		c.handleHandshakeError(payload)
	case wire.KindDisconnect:
		c.handleDisconnect(payload, now)
	case wire.KindDisconnectAck:
		c.handleDisconnectAck(payload)
	case wire.KindData, wire.KindSync, wire.KindAck:
		if c.state == StateActive {
			c.timeoutDeadline = now.Add(c.cfg.ActiveTimeout)
			c.hc.HandleFrame(kind, payload)
		}
	}
}

func (c *Connection) handleSynAck(payload []byte, now time.Time) {
	if c.state != StatePending || !c.isInitiator {
		return
	}
	sa, err := wire.DecodeHandshakeSynAck(payload)
	if err != nil || sa.NonceAck != c.localNonce {
		return
	}
	c.remoteNonce = sa.Nonce
	ack := &wire.HandshakeAck{NonceAck: sa.Nonce}
	c.sendFrame(wire.KindHandshakeAck, ack.Encode())
	c.activate(sa.MaxReceiveRate, sa.MaxPacketSize, sa.MaxReceiveAlloc, now)
}

// handleHandshakeAck is the acceptor's half of the three-way exchange: only
// a Pending, non-initiator connection whose ack carries this connection's
// own nonce back may activate (spec.md §4.5 Pending row: "matching Syn +
// ack accepted (acceptor) -> Active"). Anything else — wrong state, wrong
// role, a forged or stale nonce — is silently ignored, same as a spoofed
// Syn from an address that never completes the handshake.
func (c *Connection) handleHandshakeAck(payload []byte, now time.Time) {
	if c.state != StatePending || c.isInitiator {
		return
	}
	ack, err := wire.DecodeHandshakeAck(payload)
	if err != nil || ack.NonceAck != c.localNonce {
		return
	}
	c.activate(c.pendingRemoteMaxReceiveRate, c.pendingRemoteMaxPacketSize, c.pendingRemoteMaxReceiveAlloc, now)
}

func (c *Connection) handleHandshakeError(payload []byte) {
	if c.state != StatePending {
		return
	}
	he, err := wire.DecodeHandshakeError(payload)
	if err != nil || he.NonceAck != c.localNonce {
		return
	}
	c.state = StateFin
	var et ErrorType
	switch he.Code {
	case wire.ErrorVersion:
		et = ErrorVersion
	case wire.ErrorServerFull:
		et = ErrorServerFull
	default:
		et = ErrorConfig
	}
	c.events = append(c.events, Event{Kind: EventTimeout, Err: et})
}

func (c *Connection) handleDisconnect(payload []byte, now time.Time) {
	if _, err := wire.DecodeDisconnect(payload); err != nil {
		return
	}
	switch c.state {
	case StatePending:
		// spec.md §4.5 Pending row is role-asymmetric: the initiator gets
		// no ack (it never expected one mid-handshake), but the acceptor
		// must ack so the peer's own Disconnect resend timer can retire.
		if !c.isInitiator {
			ack := &wire.DisconnectAck{Nonce: c.localNonce}
			c.sendFrame(wire.KindDisconnectAck, ack.Encode())
		}
		c.state = StateFin
	case StateActive:
		ack := &wire.DisconnectAck{Nonce: c.localNonce}
		c.sendFrame(wire.KindDisconnectAck, ack.Encode())
		if c.hc != nil {
			c.drainReceived()
		}
		c.events = append(c.events, Event{Kind: EventDisconnect})
		c.state = StateClosed
		c.closedGraceDeadline = now.Add(c.cfg.ClosedGrace)
	case StateClosing:
		ack := &wire.DisconnectAck{Nonce: c.localNonce}
		c.sendFrame(wire.KindDisconnectAck, ack.Encode())
		c.events = append(c.events, Event{Kind: EventDisconnect})
		c.state = StateClosed
		c.closedGraceDeadline = now.Add(c.cfg.ClosedGrace)
	case StateClosed:
		ack := &wire.DisconnectAck{Nonce: c.localNonce}
		c.sendFrame(wire.KindDisconnectAck, ack.Encode())
	}
}

func (c *Connection) handleDisconnectAck(payload []byte) {
	if c.state != StateClosing {
		return
	}
	if _, err := wire.DecodeDisconnectAck(payload); err != nil {
		return
	}
	c.events = append(c.events, Event{Kind: EventDisconnect})
	c.state = StateFin
}

func (c *Connection) drainReceived() {
	for _, d := range c.hc.Step() {
		c.events = append(c.events, Event{Kind: EventReceive, ChannelID: d.ChannelID, Data: d.Data})
	}
}

// Step drains received packets, applies timers, runs the flush-then-close
// sequencing, and returns every event queued since the last call (spec.md
// §5 scheduling model). It emits no data frames itself; outbound data is
// written by Flush, a separate call.
func (c *Connection) Step(now time.Time) []Event {
	if c.state == StateActive {
		c.drainReceived()
	}
	c.handleTimers(now)
	c.stepIfActive(now)
	out := c.events
	c.events = nil
	return out
}

// Flush emits as many outbound frames as the half-connection's rate budget
// allows. No-op outside Active.
func (c *Connection) Flush(now time.Time) int {
	if c.state != StateActive || c.hc == nil {
		return 0
	}
	return c.hc.Flush(now)
}

func (c *Connection) handleTimers(now time.Time) {
	switch c.state {
	case StatePending:
		if !now.Before(c.resendTime) {
			if c.resendCount > 0 {
				c.sendFrame(c.resendKind, c.resendPayload)
				c.resendTime = now.Add(c.cfg.HandshakeInterval)
				c.resendCount--
			} else {
				c.state = StateFin
				c.events = append(c.events, Event{Kind: EventTimeout, Err: ErrorTimeout})
			}
		}
	case StateActive:
		if !now.Before(c.timeoutDeadline) {
			c.state = StateFin
			c.events = append(c.events, Event{Kind: EventTimeout, Err: ErrorTimeout})
		}
	case StateClosing:
		if !now.Before(c.resendTime) {
			if c.resendCount > 0 {
				c.sendFrame(c.resendKind, c.resendPayload)
				c.resendTime = now.Add(c.cfg.DisconnectInterval)
				c.resendCount--
			} else {
				c.state = StateFin
				c.events = append(c.events, Event{Kind: EventTimeout, Err: ErrorTimeout})
			}
		}
	case StateClosed:
		if !now.Before(c.closedGraceDeadline) {
			c.state = StateFin
		}
	}
}

// stepIfActive runs the half-connection tick and the user-initiated
// disconnect handoff (original_source client/mod.rs step_if_active).
func (c *Connection) stepIfActive(now time.Time) {
	if c.state != StateActive {
		return
	}
	if c.disconnectMode != nil {
		switch *c.disconnectMode {
		case DisconnectNow:
			c.armClosing(now)
			c.disconnectMode = nil
			return
		case DisconnectFlush:
			if c.hc.PendingSendCount() == 0 {
				c.armClosing(now)
				c.disconnectMode = nil
				return
			}
		}
	}
	if c.cfg.Keepalive && now.Sub(c.hc.LastSendTime()) >= c.cfg.KeepaliveInterval {
		c.hc.SendKeepalive(now)
	}
}

// State reports the current node of the state machine.
func (c *Connection) State() State { return c.state }

// ConnID is this connection's correlation id.
func (c *Connection) ConnID() connid.ID { return c.connID }

// MetricsSnapshot implements metrics.Source while Active; it reports a
// zero snapshot otherwise, since there is no half-connection to scrape.
func (c *Connection) MetricsSnapshot() metrics.Snapshot {
	if c.state != StateActive || c.hc == nil {
		return metrics.Snapshot{}
	}
	return c.hc.MetricsSnapshot()
}
