package hook

import (
	"net"
	"time"
)

// Options carries the broker's configuration, handed to every hook via
// SetOptions before the broker starts accepting connections.
type Options struct {
	Capabilities *Capabilities
	Config       map[string]any
}

// Capabilities is what the broker advertises to clients and enforces
// internally: QoS ceiling, packet/alias size limits, and which optional
// MQTT 5 features (wildcards, subscription identifiers, shared subs) are on.
type Capabilities struct {
	MaximumSessionExpiryInterval uint32
	MaximumMessageExpiryInterval uint32
	ReceiveMaximum               uint16
	MaximumQoS                   byte
	RetainAvailable              bool
	MaximumPacketSize            uint32
	MaximumTopicAlias            uint16
	WildcardSubAvailable         bool
	SubIDAvailable               bool
	SharedSubAvailable           bool
}

// SysInfo is a snapshot of broker-wide counters, published to hooks on each
// OnSysInfoTick for metrics/telemetry hooks to export.
type SysInfo struct {
	Uptime              int64
	Version             string
	Started             time.Time
	Time                time.Time
	ClientsConnected    int64
	ClientsTotal        int64
	ClientsMaximum      int64
	ClientsDisconnected int64
	MessagesReceived    int64
	MessagesSent        int64
	MessagesDropped     int64
	Subscriptions       int64
	Retained            int64
	Inflight            int64
	MemoryAlloc         uint64
	Threads             int
}

// ClientState is where a Client sits in the connect/disconnect lifecycle as
// seen from the hook layer.
type ClientState byte

const (
	ClientStateConnecting ClientState = iota
	ClientStateConnected
	ClientStateDisconnecting
	ClientStateDisconnected
)

// Properties is the generic property bag attached to packets that carry
// MQTT 5 properties (CONNECT, PUBLISH, AUTH, ...).
type Properties map[string]any

// Client is the read-only view of a connection a Hook receives — enough
// identity and connection metadata to authenticate, authorize, and log
// without reaching into the broker's internal connection state.
type Client struct {
	ID              string
	RemoteAddr      net.Addr
	LocalAddr       net.Addr
	Username        string
	CleanStart      bool
	ProtocolVersion byte
	KeepAlive       uint16
	SessionPresent  bool
	Properties      Properties
	Will            *WillMessage
	ConnectedAt     time.Time
	DisconnectedAt  time.Time
	State           ClientState
}

// ConnectPacket is the CONNECT a client sent, passed to authentication and
// session-establishment hooks.
type ConnectPacket struct {
	ProtocolName    string
	ProtocolVersion byte
	CleanStart      bool
	KeepAlive       uint16
	ClientID        string
	Username        string
	Password        []byte
	Will            *WillMessage
	Properties      Properties
	SessionPresent  bool
}

// AuthPacket is an MQTT 5 enhanced-authentication AUTH packet.
type AuthPacket struct {
	ReasonCode byte
	Properties Properties
	AuthMethod string
	AuthData   []byte
}

// PublishPacket is a PUBLISH as seen by publish-path hooks — enough to
// inspect, rewrite, or veto the message.
type PublishPacket struct {
	PacketID        uint16
	Topic           string
	Payload         []byte
	QoS             byte
	Retain          bool
	Duplicate       bool
	Properties      Properties
	ProtocolVersion byte
	Created         time.Time
	Origin          string
}

// Subscription is one client's registration to a topic filter, as the hook
// layer sees it.
type Subscription struct {
	ClientID               string
	TopicFilter            string
	QoS                    byte
	NoLocal                bool
	RetainAsPublished      bool
	RetainHandling         byte
	SubscriptionIdentifier uint32
	SubscribedAt           time.Time
}

// Subscribers is the mutable candidate list OnSelectSubscribers hooks can
// filter before a publish is fanned out.
type Subscribers struct {
	Subscriptions []*Subscription
}

func (s *Subscribers) Add(sub *Subscription) {
	s.Subscriptions = append(s.Subscriptions, sub)
}

// Remove drops every subscription belonging to clientID, compacting the
// slice in place.
func (s *Subscribers) Remove(clientID string) {
	kept := s.Subscriptions[:0]
	for _, sub := range s.Subscriptions {
		if sub.ClientID != clientID {
			kept = append(kept, sub)
		}
	}
	for i := len(kept); i < len(s.Subscriptions); i++ {
		s.Subscriptions[i] = nil
	}
	s.Subscriptions = kept
}

func (s *Subscribers) Clear() {
	s.Subscriptions = s.Subscriptions[:0]
}

// WillMessage is a client's last-will, published on ungraceful disconnect.
type WillMessage struct {
	Topic             string
	Payload           []byte
	QoS               byte
	Retain            bool
	Properties        Properties
	WillDelayInterval uint32
}

// SessionState is what OnSessionEstablish may return to seed or override
// the session the broker is about to create/resume for a connecting client.
type SessionState struct {
	ClientID        string
	CleanStart      bool
	SessionPresent  bool
	ExpiryInterval  uint32
	Subscriptions   map[string]*Subscription
	PendingMessages []*InflightMessage
	NextPacketID    uint16
}

// InflightMessage is a QoS 1/2 exchange not yet fully acknowledged, as
// exposed to hooks persisting or inspecting in-flight state.
type InflightMessage struct {
	PacketID    uint16
	ClientID    string
	Topic       string
	Payload     []byte
	QoS         byte
	Retain      bool
	Duplicate   bool
	Properties  Properties
	Sent        time.Time
	ResendCount int
}

// RetainedMessage is a topic's retained payload, as exposed to hooks.
type RetainedMessage struct {
	Topic      string
	Payload    []byte
	QoS        byte
	Properties Properties
	Timestamp  time.Time
}

// AccessType is the operation an OnACLCheck hook is being asked to permit.
type AccessType byte

const (
	AccessTypeRead AccessType = iota
	AccessTypeWrite
	AccessTypeReadWrite
)

// DropReason explains why a message never reached (or left) a client.
type DropReason byte

const (
	DropReasonQueueFull DropReason = iota
	DropReasonClientDisconnected
	DropReasonExpired
	DropReasonInvalidTopic
	DropReasonACLDenied
	DropReasonQuotaExceeded
	DropReasonPacketTooLarge
	DropReasonInternalError
)

var dropReasonNames = [...]string{
	DropReasonQueueFull:          "queue_full",
	DropReasonClientDisconnected: "client_disconnected",
	DropReasonExpired:            "expired",
	DropReasonInvalidTopic:       "invalid_topic",
	DropReasonACLDenied:          "acl_denied",
	DropReasonQuotaExceeded:      "quota_exceeded",
	DropReasonPacketTooLarge:     "packet_too_large",
	DropReasonInternalError:      "internal_error",
}

func (d DropReason) String() string {
	if int(d) < len(dropReasonNames) {
		return dropReasonNames[d]
	}
	return "unknown"
}
