// Package connection implements the transport-agnostic MQTT protocol state
// machine: version negotiation, QoS 1/2 delivery, packet-id allocation,
// topic aliasing, receive-maximum flow control and keep-alive timing. It
// never touches a socket; it consumes decoded packets and time/close
// notifications, and hands back typed events through a Callbacks struct the
// owner (package endpoint) supplies, in the same inline-callback idiom the
// QoS handler this was distilled from already used.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/embermqtt/ember/encoding"
	"github.com/embermqtt/ember/types/message"
)

// Flags holds the behavioural toggles listed in the design's §4.4 table.
// All default to the zero value (off) except where noted.
type Flags struct {
	AutoPubResponse           bool
	AutoPingResponse          bool
	AutoMapTopicAliasSend     bool
	AutoReplaceTopicAliasSend bool
	OfflinePublish            bool
	PingrespRecvTimeout       time.Duration
	PingreqSendInterval       time.Duration // 0 means derive from keep-alive
}

// Callbacks is how the Connection reports side effects to its owner. Every
// field is optional; a nil callback silently drops that notification. Calls
// happen synchronously on the goroutine that invoked the triggering method.
type Callbacks struct {
	OnReceive         func(Event)
	OnSend            func(Event) error
	OnTimerOp         func(kind TimerKind, op TimerOp, d time.Duration)
	OnPacketIDRelease func(id uint16)
	OnClose           func()
	OnError           func(err error)
}

// Connection is the protocol core. One instance per logical MQTT session
// endpoint (client or server side of a single network connection).
type Connection struct {
	mu sync.Mutex

	role    Role
	version encoding.ProtocolVersion
	state   State
	flags   Flags
	logger  *slog.Logger
	cb      Callbacks

	packetIDs *PacketIDPool
	outbound  *OutboundStore
	sendAlias *SendAliasMap
	recvAlias *RecvAliasMap

	qos2Received map[uint16]struct{} // receive-side: PUBLISH seen, PUBREL not yet processed

	receiveMaximumPeer uint16 // how many of our QoS1/2 publishes the peer allows in flight
	publishSendCount   uint16
	sendQueue          []*message.Message // queued when receiveMaximumPeer is hit
	maxPacketSizePeer  uint32             // 0 = unlimited

	keepAliveSeconds uint16 // negotiated keep-alive, seconds
}

// NewConnection creates a Connection in the Disconnected state. Flags and
// callbacks may be set (or changed) at any time via SetFlags/SetCallbacks,
// including after construction but before the first packet is processed.
func NewConnection(role Role, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		role:         role,
		state:        StateDisconnected,
		logger:       logger,
		packetIDs:    NewPacketIDPool(),
		outbound:     NewOutboundStore(),
		sendAlias:    NewSendAliasMap(0),
		recvAlias:    NewRecvAliasMap(0),
		qos2Received: make(map[uint16]struct{}),
	}
}

func (c *Connection) SetFlags(f Flags) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flags = f
}

func (c *Connection) SetCallbacks(cb Callbacks) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
}

func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Connection) ProtocolVersion() encoding.ProtocolVersion {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// --- lifecycle -------------------------------------------------------------

// NotifyConnectSent records that the caller (client role) has sent a
// CONNECT; the Connection transitions Disconnected -> Connecting.
func (c *Connection) NotifyConnectSent(req *Connect) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDisconnected {
		return ErrAlreadyConnected
	}
	c.version = req.ProtocolVersion
	c.state = StateConnecting
	c.keepAliveSeconds = req.KeepAlive
	c.recvAlias = NewRecvAliasMap(req.TopicAliasMaximum)
	c.resetPingreqSendTimerLocked()
	return nil
}

// NotifyConnectReceived records an inbound CONNECT (server role); negotiated
// peer limits affecting OUR send path are captured here.
func (c *Connection) NotifyConnectReceived(req *Connect) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateDisconnected {
		return ErrAlreadyConnected
	}
	c.version = req.ProtocolVersion
	c.state = StateConnecting
	c.keepAliveSeconds = req.KeepAlive

	c.receiveMaximumPeer = req.ReceiveMaximum
	if c.receiveMaximumPeer == 0 {
		c.receiveMaximumPeer = 65535
	}
	c.sendAlias = NewSendAliasMap(req.TopicAliasMaximum)
	c.maxPacketSizePeer = req.MaximumPacketSize

	if c.role == RoleServer || c.role == RoleAny {
		c.resetPingreqRecvTimerLocked()
	}
	return nil
}

// NotifyConnackSent finalizes a server-side Connection into Connected once
// the broker has decided to accept.
func (c *Connection) NotifyConnackSent(ack *Connack) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ack.ReasonCode != encoding.ReasonSuccess {
		c.state = StateDisconnected
		return nil
	}
	c.state = StateConnected
	c.recvAlias = NewRecvAliasMap(ack.TopicAliasMaximum)
	if !ack.SessionPresent {
		c.outbound.Clear()
		c.packetIDs.Reset()
		c.qos2Received = make(map[uint16]struct{})
	} else {
		c.flushOutboundLocked()
	}
	return nil
}

// NotifyConnackReceived finalizes a client-side Connection.
func (c *Connection) NotifyConnackReceived(ack *Connack) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnecting {
		return ErrUnsupportedPacket
	}
	if ack.ReasonCode != encoding.ReasonSuccess {
		c.state = StateDisconnected
		return nil
	}

	c.state = StateConnected
	c.receiveMaximumPeer = ack.ReceiveMaximum
	if c.receiveMaximumPeer == 0 {
		c.receiveMaximumPeer = 65535
	}
	c.sendAlias = NewSendAliasMap(ack.TopicAliasMaximum)
	c.maxPacketSizePeer = ack.MaximumPacketSize
	if ack.ServerKeepAlive > 0 {
		c.keepAliveSeconds = ack.ServerKeepAlive
	}

	if !ack.SessionPresent {
		c.outbound.Clear()
		c.packetIDs.Reset()
		c.qos2Received = make(map[uint16]struct{})
	} else {
		c.flushOutboundLocked()
	}

	if c.role == RoleClient || c.role == RoleAny {
		c.resetPingreqSendTimerLocked()
	}
	return nil
}

// flushOutboundLocked replays the outbound store's contents through OnSend,
// in FIFO order, as required when session_present=true. A stored PUBLISH
// that now exceeds the (possibly just-renegotiated) peer maximum_packet_size
// is dropped and its id released instead of replayed. Caller holds c.mu.
func (c *Connection) flushOutboundLocked() {
	if c.cb.OnSend == nil {
		return
	}
	var pending []*StoredPacket
	c.outbound.ForEach(func(p *StoredPacket) { pending = append(pending, p) })

	for _, p := range pending {
		if c.maxPacketSizePeer > 0 && uint32(p.EncodedSize) > c.maxPacketSizePeer {
			c.outbound.Erase(p.Response, p.PacketID)
			c.packetIDs.Release(p.PacketID)
			if c.cb.OnError != nil {
				c.cb.OnError(fmt.Errorf("%w: dropping stored packet %d on replay", ErrPacketTooLarge, p.PacketID))
			}
			continue
		}
		ev := storedToEvent(p)
		if err := c.cb.OnSend(ev); err != nil && c.cb.OnError != nil {
			c.cb.OnError(fmt.Errorf("replay stored packet %d: %w", p.PacketID, err))
		}
	}
}

func storedToEvent(p *StoredPacket) Event {
	switch p.Response {
	case ResponsePubcomp:
		return Event{Kind: EventSend, PubRel: &PubRel{PacketID: p.PacketID}}
	default:
		return Event{Kind: EventSend, Publish: &message.Message{
			PacketID:   p.PacketID,
			Topic:      p.Topic,
			Payload:    p.Payload,
			QoS:        p.QoS,
			Retain:     p.Retain,
			DUP:        true,
			Properties: p.Properties,
		}}
	}
}

// NotifyDisconnect marks the connection closed, either because DISCONNECT
// was sent/received or the transport reported a close/error.
func (c *Connection) NotifyDisconnect() {
	c.mu.Lock()
	wasConnected := c.state != StateDisconnected
	c.state = StateDisconnected
	c.cancelAllTimersLocked()
	cb := c.cb.OnClose
	c.mu.Unlock()

	if wasConnected && cb != nil {
		cb()
	}
}

// --- keep-alive --------------------------------------------------------

func (c *Connection) resetPingreqSendTimerLocked() {
	if c.cb.OnTimerOp == nil {
		return
	}
	interval := c.flags.PingreqSendInterval
	if interval == 0 && c.keepAliveSeconds > 0 {
		interval = time.Duration(c.keepAliveSeconds) * time.Second
	}
	if interval == 0 {
		return
	}
	c.cb.OnTimerOp(TimerPingreqSend, TimerReset, interval)
}

func (c *Connection) resetPingreqRecvTimerLocked() {
	if c.cb.OnTimerOp == nil || c.keepAliveSeconds == 0 {
		return
	}
	interval := time.Duration(c.keepAliveSeconds) * time.Second * 3 / 2
	c.cb.OnTimerOp(TimerPingreqRecv, TimerReset, interval)
}

func (c *Connection) cancelAllTimersLocked() {
	if c.cb.OnTimerOp == nil {
		return
	}
	c.cb.OnTimerOp(TimerPingreqSend, TimerCancel, 0)
	c.cb.OnTimerOp(TimerPingreqRecv, TimerCancel, 0)
	c.cb.OnTimerOp(TimerPingrespRecv, TimerCancel, 0)
}

// NotifyBytesSent is called by the Endpoint after every successful write;
// it reset the client-role PINGREQ cadence so an idle connection, not an
// idle wire, is what triggers a ping.
func (c *Connection) NotifyBytesSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return
	}
	if c.role == RoleClient || c.role == RoleAny {
		c.resetPingreqSendTimerLocked()
	}
}

// NotifyBytesReceived is called after every successful read; it resets the
// server-role keep-alive watchdog.
func (c *Connection) NotifyBytesReceived() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		return
	}
	if c.role == RoleServer || c.role == RoleAny {
		c.resetPingreqRecvTimerLocked()
	}
}

// FireTimer is called by the Endpoint when a previously-armed timer fires.
func (c *Connection) FireTimer(kind TimerKind) {
	c.mu.Lock()

	switch kind {
	case TimerPingreqSend:
		if c.state != StateConnected {
			c.mu.Unlock()
			return
		}
		onSend := c.cb.OnSend
		timeout := c.flags.PingrespRecvTimeout
		c.mu.Unlock()
		if onSend != nil {
			_ = onSend(Event{Kind: EventSend, Pingreq: true})
		}
		if timeout > 0 {
			c.mu.Lock()
			if c.cb.OnTimerOp != nil {
				c.cb.OnTimerOp(TimerPingrespRecv, TimerReset, timeout)
			}
			c.mu.Unlock()
		}

	case TimerPingrespRecv:
		c.mu.Unlock()
		c.fail(encoding.ReasonKeepAliveTimeout, "no PINGRESP within timeout")

	case TimerPingreqRecv:
		c.mu.Unlock()
		c.fail(encoding.ReasonKeepAliveTimeout, "no packet within 1.5x keep-alive")

	default:
		c.mu.Unlock()
	}
}

// fail closes the connection, emitting a v5 DISCONNECT with reasonCode
// first when the negotiated version supports it.
func (c *Connection) fail(reasonCode encoding.ReasonCode, msg string) {
	c.mu.Lock()
	version := c.version
	onSend := c.cb.OnSend
	c.mu.Unlock()

	if version == encoding.ProtocolVersion50 && onSend != nil {
		_ = onSend(Event{Kind: EventSend, Disconnect: &Disconnect{ReasonCode: reasonCode, ReasonString: msg}})
	}
	c.NotifyDisconnect()
}

// HandlePingreq responds to an inbound PINGREQ if auto_ping_response is set.
func (c *Connection) HandlePingreq() error {
	c.mu.Lock()
	auto := c.flags.AutoPingResponse
	onSend := c.cb.OnSend
	c.mu.Unlock()

	if auto && onSend != nil {
		return onSend(Event{Kind: EventSend, Pingresp: true})
	}
	return nil
}

// --- packet id passthroughs ---------------------------------------------
//
// These expose the allocator directly for callers (the Endpoint Core) that
// need a packet id for a flow the Connection core doesn't drive itself, e.g.
// AUTH. Publish/Subscribe/Unsubscribe already acquire their own ids inline.

// AcquireID returns an unused packet id, or ok=false if the id space (1-65535
// QoS1/2 publishes and subscribes in flight) is exhausted.
func (c *Connection) AcquireID() (uint16, bool) {
	return c.packetIDs.Acquire()
}

// AcquireIDWait blocks until an id frees up or ctx is done.
func (c *Connection) AcquireIDWait(ctx context.Context) (uint16, error) {
	return c.packetIDs.AcquireWait(ctx)
}

// RegisterID reserves a specific id (used when restoring a session), failing
// if it is already in use.
func (c *Connection) RegisterID(id uint16) bool {
	return c.packetIDs.Register(id)
}

// ReleaseID returns id to the pool.
func (c *Connection) ReleaseID(id uint16) {
	c.packetIDs.Release(id)
}

// HandlePingresp cancels the pingresp_recv watchdog.
func (c *Connection) HandlePingresp() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cb.OnTimerOp != nil {
		c.cb.OnTimerOp(TimerPingrespRecv, TimerCancel, 0)
	}
}
