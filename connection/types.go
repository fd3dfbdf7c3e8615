package connection

import (
	"github.com/embermqtt/ember/encoding"
	"github.com/embermqtt/ember/types/message"
)

// Role describes which side of the wire a Connection is playing. The core
// state machine is identical either way except for who owns the keep-alive
// clock (see §4.4 of the design: client sends PINGREQ, server watches for
// one).
type Role byte

const (
	RoleClient Role = iota
	RoleServer
	RoleAny // either role; both timers are armed, used in loopback/testing
)

// State is the high-level connection lifecycle state.
type State byte

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// TimerKind names one of the three timers the Connection schedules but never
// runs itself; the host (Endpoint) owns the actual clock.
type TimerKind byte

const (
	TimerPingreqSend TimerKind = iota
	TimerPingreqRecv
	TimerPingrespRecv
)

// TimerOp is emitted whenever the Connection wants a timer reset or cancelled.
type TimerOp byte

const (
	TimerReset TimerOp = iota
	TimerCancel
)

// Connect is the neutral (version-independent) representation of a CONNECT
// packet the codec layer translates to/from the wire. PacketID-bearing
// fields and the property bag intentionally mirror types/message.Message's
// shape so the same map[string]interface{} convention threads through the
// whole core.
type Connect struct {
	ProtocolVersion       encoding.ProtocolVersion
	ClientID              string
	CleanStart            bool
	KeepAlive             uint16
	Username              string
	Password              []byte
	HasUsername           bool
	HasPassword           bool
	Will                  *Will
	ReceiveMaximum        uint16 // 0 means "not present", peer defaults to 65535
	TopicAliasMaximum     uint16
	MaximumPacketSize     uint32 // 0 means unlimited
	SessionExpiryInterval uint32
	RequestResponseInfo   bool
}

// Will is the optional last-will payload carried on CONNECT.
type Will struct {
	Topic         string
	Payload       []byte
	QoS           encoding.QoS
	Retain        bool
	DelayInterval uint32
	Properties    map[string]interface{}
}

// Connack is the neutral representation of a CONNACK.
type Connack struct {
	SessionPresent        bool
	ReasonCode            encoding.ReasonCode
	ReceiveMaximum        uint16
	TopicAliasMaximum     uint16
	MaximumPacketSize     uint32
	ServerKeepAlive       uint16 // 0 means "use client's requested value"
	AssignedClientID      string
	ResponseInformation   string
	SessionExpiryInterval uint32
}

// PubAck/PubRec/PubRel/PubComp share the same shape; distinct Go types keep
// misuse (e.g. feeding a PUBREL where a PUBACK is expected) a compile error.
type PubAck struct {
	PacketID   uint16
	ReasonCode encoding.ReasonCode
}

type PubRec struct {
	PacketID   uint16
	ReasonCode encoding.ReasonCode
}

type PubRel struct {
	PacketID   uint16
	ReasonCode encoding.ReasonCode
}

type PubComp struct {
	PacketID   uint16
	ReasonCode encoding.ReasonCode
}

// SubscribeEntry is one topic filter within a SUBSCRIBE packet.
type SubscribeEntry struct {
	ShareName              string // empty for a non-shared subscription
	TopicFilter            string
	QoS                    encoding.QoS
	NoLocal                bool
	RetainAsPublished      bool
	RetainHandling         byte
	SubscriptionIdentifier uint32
}

type Subscribe struct {
	PacketID    uint16
	Entries     []SubscribeEntry
	SubIdentity uint32 // 0 means none
}

type Suback struct {
	PacketID    uint16
	ReasonCodes []encoding.ReasonCode
}

type Unsubscribe struct {
	PacketID     uint16
	TopicFilters []string
}

type Unsuback struct {
	PacketID    uint16
	ReasonCodes []encoding.ReasonCode
}

type Disconnect struct {
	ReasonCode            encoding.ReasonCode
	SessionExpiryInterval *uint32
	ServerReference       string
	ReasonString          string
}

// Event is what the Connection core hands back to its owner (the Endpoint)
// after feeding it a packet or a timer/close notification. Exactly one of
// the typed fields is meaningful per event Kind.
type Event struct {
	Kind EventKind

	// EventReceived / EventSend
	Publish     *message.Message
	PubAck      *PubAck
	PubRec      *PubRec
	PubRel      *PubRel
	PubComp     *PubComp
	Connect     *Connect
	Connack     *Connack
	Subscribe   *Subscribe
	Suback      *Suback
	Unsubscribe *Unsubscribe
	Unsuback    *Unsuback
	Disconnect  *Disconnect
	Pingreq     bool
	Pingresp    bool

	// EventTimerOp
	TimerOp   TimerOp
	TimerKind TimerKind
	Duration  int64 // nanoseconds; meaningful only for TimerReset

	// EventReleasePacketID
	PacketID uint16

	// EventError / EventClose
	Err error
}

// EventKind discriminates Event.
type EventKind byte

const (
	EventReceived EventKind = iota
	EventSend
	EventTimerOp
	EventReleasePacketID
	EventClose
	EventError
)
