package hook

import (
	"time"

	"github.com/embermqtt/ember/encoding"
)

// Event identifies one point in the broker's lifecycle a Hook can observe.
type Event byte

const (
	SetOptions Event = iota
	OnSysInfoTick
	OnStarted
	OnStopped
	OnConnectAuthenticate
	OnACLCheck
	OnConnect
	OnSessionEstablish
	OnSessionEstablished
	OnDisconnect
	OnAuthPacket
	OnPacketRead
	OnPacketEncode
	OnPacketSent
	OnPacketProcessed
	OnSubscribe
	OnSubscribed
	OnSelectSubscribers
	OnUnsubscribe
	OnUnsubscribed
	OnPublish
	OnPublished
	OnPublishDropped
	OnRetainMessage
	OnRetainPublished
	OnQosPublish
	OnQosComplete
	OnQosDropped
	OnPacketIDExhausted
	OnWill
	OnWillSent
	OnClientExpired
	OnRetainedExpired
	StoredClients
	StoredSubscriptions
	StoredInflightMessages
	StoredRetainedMessages
	StoredSysInfo
	eventCount // sentinel, not a real event
)

var eventNames = [eventCount]string{
	SetOptions:             "SetOptions",
	OnSysInfoTick:          "OnSysInfoTick",
	OnStarted:              "OnStarted",
	OnStopped:              "OnStopped",
	OnConnectAuthenticate:  "OnConnectAuthenticate",
	OnACLCheck:             "OnACLCheck",
	OnConnect:              "OnConnect",
	OnSessionEstablish:     "OnSessionEstablish",
	OnSessionEstablished:   "OnSessionEstablished",
	OnDisconnect:           "OnDisconnect",
	OnAuthPacket:           "OnAuthPacket",
	OnPacketRead:           "OnPacketRead",
	OnPacketEncode:         "OnPacketEncode",
	OnPacketSent:           "OnPacketSent",
	OnPacketProcessed:      "OnPacketProcessed",
	OnSubscribe:            "OnSubscribe",
	OnSubscribed:           "OnSubscribed",
	OnSelectSubscribers:    "OnSelectSubscribers",
	OnUnsubscribe:          "OnUnsubscribe",
	OnUnsubscribed:         "OnUnsubscribed",
	OnPublish:              "OnPublish",
	OnPublished:            "OnPublished",
	OnPublishDropped:       "OnPublishDropped",
	OnRetainMessage:        "OnRetainMessage",
	OnRetainPublished:      "OnRetainPublished",
	OnQosPublish:           "OnQosPublish",
	OnQosComplete:          "OnQosComplete",
	OnQosDropped:           "OnQosDropped",
	OnPacketIDExhausted:    "OnPacketIDExhausted",
	OnWill:                 "OnWill",
	OnWillSent:             "OnWillSent",
	OnClientExpired:        "OnClientExpired",
	OnRetainedExpired:      "OnRetainedExpired",
	StoredClients:          "StoredClients",
	StoredSubscriptions:    "StoredSubscriptions",
	StoredInflightMessages: "StoredInflightMessages",
	StoredRetainedMessages: "StoredRetainedMessages",
	StoredSysInfo:          "StoredSysInfo",
}

func (e Event) String() string {
	if e < eventCount {
		return eventNames[e]
	}
	return "Unknown"
}

// Hook is a plugin point into broker behavior: a Manager fans every event
// out to each registered Hook whose Provides reports it implements that
// event. Most hooks embed Base and override only the handful of methods
// they care about.
type Hook interface {
	ID() string
	Provides(event Event) bool
	Init(config any) error
	Stop() error

	SetOptions(opts *Options) error
	OnSysInfoTick(info *SysInfo) error
	OnStarted() error
	OnStopped(err error) error

	OnConnectAuthenticate(client *Client, packet *ConnectPacket) bool
	OnACLCheck(client *Client, topic string, access AccessType) bool
	OnConnect(client *Client, packet *ConnectPacket) error
	OnSessionEstablish(client *Client, packet *ConnectPacket) *SessionState
	OnSessionEstablished(client *Client, packet *ConnectPacket) error
	OnDisconnect(client *Client, err error, expire bool) error
	OnAuthPacket(client *Client, packet *AuthPacket) bool

	OnPacketRead(client *Client, packet []byte) ([]byte, error)
	OnPacketEncode(client *Client, packet []byte) []byte
	OnPacketSent(client *Client, packet []byte, count int, err error) error
	OnPacketProcessed(client *Client, packetType encoding.PacketType, err error) error

	OnSubscribe(client *Client, sub *Subscription) error
	OnSubscribed(client *Client, sub *Subscription) error
	OnSelectSubscribers(subscribers *Subscribers, topic string) error
	OnUnsubscribe(client *Client, topicFilter string) error
	OnUnsubscribed(client *Client, topicFilter string) error

	OnPublish(client *Client, packet *PublishPacket) error
	OnPublished(client *Client, packet *PublishPacket) error
	OnPublishDropped(client *Client, packet *PublishPacket, reason DropReason) error
	OnRetainMessage(client *Client, packet *PublishPacket) error
	OnRetainPublished(client *Client, packet *PublishPacket) error

	OnQosPublish(client *Client, packet *PublishPacket, sent time.Time, resend int) error
	OnQosComplete(client *Client, packetID uint16, packetType encoding.PacketType) error
	OnQosDropped(client *Client, packetID uint16, reason DropReason) error
	OnPacketIDExhausted(client *Client, packetType encoding.PacketType) error

	OnWill(client *Client, will *WillMessage) *WillMessage
	OnWillSent(client *Client, will *WillMessage) error
	OnClientExpired(clientID string) error
	OnRetainedExpired(topic string) error

	// Stored* let a hook act as a persistence backend the broker can
	// query for its own recovery/introspection needs, independent of the
	// session/store packages used for the hot path.
	StoredClients() ([]*Client, error)
	StoredSubscriptions() ([]*Subscription, error)
	StoredInflightMessages() ([]*InflightMessage, error)
	StoredRetainedMessages() ([]*RetainedMessage, error)
	StoredSysInfo() (*SysInfo, error)
}
