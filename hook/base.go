package hook

import (
	"time"

	"github.com/embermqtt/ember/encoding"
)

// Base is a no-op Hook: every method is a harmless default, so a custom
// hook can embed Base and override only the handful of events it cares
// about instead of implementing the full interface.
type Base struct {
	id string
}

// NewHookBase returns a Base identified by id.
func NewHookBase(id string) *Base {
	return &Base{id: id}
}

func (h *Base) ID() string            { return h.id }
func (h *Base) Provides(Event) bool   { return false }
func (h *Base) Init(any) error        { return nil }
func (h *Base) Stop() error           { return nil }
func (h *Base) SetOptions(*Options) error { return nil }

func (h *Base) OnSysInfoTick(*SysInfo) error { return nil }
func (h *Base) OnStarted() error             { return nil }
func (h *Base) OnStopped(error) error        { return nil }

func (h *Base) OnConnectAuthenticate(*Client, *ConnectPacket) bool { return true }
func (h *Base) OnACLCheck(*Client, string, AccessType) bool        { return true }
func (h *Base) OnConnect(*Client, *ConnectPacket) error             { return nil }
func (h *Base) OnSessionEstablish(*Client, *ConnectPacket) *SessionState { return nil }
func (h *Base) OnSessionEstablished(*Client, *ConnectPacket) error  { return nil }
func (h *Base) OnDisconnect(*Client, error, bool) error             { return nil }
func (h *Base) OnAuthPacket(*Client, *AuthPacket) bool              { return true }

// OnPacketRead passes the packet through unmodified.
func (h *Base) OnPacketRead(_ *Client, packet []byte) ([]byte, error) { return packet, nil }

// OnPacketEncode passes the packet through unmodified.
func (h *Base) OnPacketEncode(_ *Client, packet []byte) []byte { return packet }

func (h *Base) OnPacketSent(*Client, []byte, int, error) error                    { return nil }
func (h *Base) OnPacketProcessed(*Client, encoding.PacketType, error) error        { return nil }

func (h *Base) OnSubscribe(*Client, *Subscription) error            { return nil }
func (h *Base) OnSubscribed(*Client, *Subscription) error           { return nil }
func (h *Base) OnSelectSubscribers(*Subscribers, string) error      { return nil }
func (h *Base) OnUnsubscribe(*Client, string) error                 { return nil }
func (h *Base) OnUnsubscribed(*Client, string) error                { return nil }

func (h *Base) OnPublish(*Client, *PublishPacket) error                        { return nil }
func (h *Base) OnPublished(*Client, *PublishPacket) error                      { return nil }
func (h *Base) OnPublishDropped(*Client, *PublishPacket, DropReason) error     { return nil }
func (h *Base) OnRetainMessage(*Client, *PublishPacket) error                  { return nil }
func (h *Base) OnRetainPublished(*Client, *PublishPacket) error                { return nil }

func (h *Base) OnQosPublish(*Client, *PublishPacket, time.Time, int) error         { return nil }
func (h *Base) OnQosComplete(*Client, uint16, encoding.PacketType) error           { return nil }
func (h *Base) OnQosDropped(*Client, uint16, DropReason) error                     { return nil }
func (h *Base) OnPacketIDExhausted(*Client, encoding.PacketType) error             { return nil }

// OnWill returns will unmodified — nothing vetoes or rewrites it by default.
func (h *Base) OnWill(_ *Client, will *WillMessage) *WillMessage { return will }

func (h *Base) OnWillSent(*Client, *WillMessage) error { return nil }
func (h *Base) OnClientExpired(string) error           { return nil }
func (h *Base) OnRetainedExpired(string) error         { return nil }

func (h *Base) StoredClients() ([]*Client, error)                       { return nil, nil }
func (h *Base) StoredSubscriptions() ([]*Subscription, error)           { return nil, nil }
func (h *Base) StoredInflightMessages() ([]*InflightMessage, error)     { return nil, nil }
func (h *Base) StoredRetainedMessages() ([]*RetainedMessage, error)     { return nil, nil }
func (h *Base) StoredSysInfo() (*SysInfo, error)                        { return nil, nil }
