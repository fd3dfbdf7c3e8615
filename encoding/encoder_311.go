package encoding

import (
	"io"
)

// ConnectPacket311 is an MQTT 3.1.1 CONNECT packet. 3.1.1 has no property
// lists, so its layout is the MQTT 5 CONNECT minus every Properties field.
type ConnectPacket311 struct {
	FixedHeader     FixedHeader
	ProtocolName    string
	ProtocolVersion ProtocolVersion
	CleanSession    bool
	WillFlag        bool
	WillQoS         QoS
	WillRetain      bool
	PasswordFlag    bool
	UsernameFlag    bool
	KeepAlive       uint16
	ClientID        string
	WillTopic       string
	WillPayload     []byte
	Username        string
	Password        []byte
}

// ConnackPacket311 is an MQTT 3.1.1 CONNACK packet; 3.1.1 uses a one-byte
// return code rather than 5.0's wider reason-code space.
type ConnackPacket311 struct {
	FixedHeader    FixedHeader
	SessionPresent bool
	ReturnCode     byte
}

// PublishPacket311 is an MQTT 3.1.1 PUBLISH packet.
type PublishPacket311 struct {
	FixedHeader FixedHeader
	TopicName   string
	PacketID    uint16
	Payload     []byte
}

// SubscribePacket311 is an MQTT 3.1.1 SUBSCRIBE packet.
type SubscribePacket311 struct {
	FixedHeader   FixedHeader
	PacketID      uint16
	Subscriptions []Subscription311
}

// Subscription311 is a single SUBSCRIBE topic filter in MQTT 3.1.1, which
// carries only a QoS (no No Local / Retain As Published / Retain Handling).
type Subscription311 struct {
	TopicFilter string
	QoS         QoS
}

// SubackPacket311 is an MQTT 3.1.1 SUBACK packet.
type SubackPacket311 struct {
	FixedHeader FixedHeader
	PacketID    uint16
	ReturnCodes []byte
}

// UnsubscribePacket311 is an MQTT 3.1.1 UNSUBSCRIBE packet.
type UnsubscribePacket311 struct {
	FixedHeader  FixedHeader
	PacketID     uint16
	TopicFilters []string
}

// UnsubackPacket311 is an MQTT 3.1.1 UNSUBACK packet.
type UnsubackPacket311 struct {
	FixedHeader FixedHeader
	PacketID    uint16
}

// DisconnectPacket311 is an MQTT 3.1.1 DISCONNECT packet.
type DisconnectPacket311 struct {
	FixedHeader FixedHeader
}

// PubackPacket311 is an MQTT 3.1.1 PUBACK packet.
type PubackPacket311 struct {
	FixedHeader FixedHeader
	PacketID    uint16
}

// PubrecPacket311 is an MQTT 3.1.1 PUBREC packet.
type PubrecPacket311 struct {
	FixedHeader FixedHeader
	PacketID    uint16
}

// PubrelPacket311 is an MQTT 3.1.1 PUBREL packet.
type PubrelPacket311 struct {
	FixedHeader FixedHeader
	PacketID    uint16
}

// PubcompPacket311 is an MQTT 3.1.1 PUBCOMP packet.
type PubcompPacket311 struct {
	FixedHeader FixedHeader
	PacketID    uint16
}

// encodeIDOnlyPacket311 encodes the MQTT 3.1.1 packet types whose entire
// body is a two-byte packet ID: PUBACK, PUBREC, PUBREL, PUBCOMP, UNSUBACK.
func encodeIDOnlyPacket311(w io.Writer, packetType PacketType, flags byte, packetID uint16) error {
	fh := FixedHeader{Type: packetType, Flags: flags, RemainingLength: 2}
	if err := fh.EncodeFixedHeader311(w); err != nil {
		return err
	}
	return writeTwoByteInt(w, packetID)
}

// buildConnectFlags311 packs a 3.1.1 CONNECT packet's flags byte.
func buildConnectFlags311(p *ConnectPacket311) byte {
	var flags byte
	if p.CleanSession {
		flags |= 0x02
	}
	if p.WillFlag {
		flags |= 0x04
		flags |= byte(p.WillQoS << 3)
		if p.WillRetain {
			flags |= 0x20
		}
	}
	if p.PasswordFlag {
		flags |= 0x40
	}
	if p.UsernameFlag {
		flags |= 0x80
	}
	return flags
}

// Encode encodes p as an MQTT 3.1.1 CONNECT packet.
func (p *ConnectPacket311) Encode(w io.Writer) error {
	varHeaderLen := 2 + len(p.ProtocolName) + 1 + 1 + 2

	payloadLen := 2 + len(p.ClientID)
	if p.WillFlag {
		payloadLen += 2 + len(p.WillTopic) + 2 + len(p.WillPayload)
	}
	if p.UsernameFlag {
		payloadLen += 2 + len(p.Username)
	}
	if p.PasswordFlag {
		payloadLen += 2 + len(p.Password)
	}

	fh := FixedHeader{Type: CONNECT, RemainingLength: uint32(varHeaderLen + payloadLen)}
	if err := fh.EncodeFixedHeader311(w); err != nil {
		return err
	}

	if err := writeUTF8String(w, p.ProtocolName); err != nil {
		return err
	}
	if err := writeByte(w, byte(p.ProtocolVersion)); err != nil {
		return err
	}
	if err := writeByte(w, buildConnectFlags311(p)); err != nil {
		return err
	}
	if err := writeTwoByteInt(w, p.KeepAlive); err != nil {
		return err
	}

	if err := writeUTF8String(w, p.ClientID); err != nil {
		return err
	}
	if p.WillFlag {
		if err := writeUTF8String(w, p.WillTopic); err != nil {
			return err
		}
		if err := writeBinaryData(w, p.WillPayload); err != nil {
			return err
		}
	}
	if p.UsernameFlag {
		if err := writeUTF8String(w, p.Username); err != nil {
			return err
		}
	}
	if p.PasswordFlag {
		if err := writeBinaryData(w, p.Password); err != nil {
			return err
		}
	}
	return nil
}

// Encode encodes p as an MQTT 3.1.1 CONNACK packet.
func (p *ConnackPacket311) Encode(w io.Writer) error {
	fh := FixedHeader{Type: CONNACK, RemainingLength: 2}
	if err := fh.EncodeFixedHeader311(w); err != nil {
		return err
	}

	var ackFlags byte
	if p.SessionPresent {
		ackFlags |= 0x01
	}
	if err := writeByte(w, ackFlags); err != nil {
		return err
	}
	return writeByte(w, p.ReturnCode)
}

// Encode encodes p as an MQTT 3.1.1 PUBLISH packet.
func (p *PublishPacket311) Encode(w io.Writer) error {
	remainingLength := uint32(2 + len(p.TopicName) + len(p.Payload))
	if p.FixedHeader.QoS > QoS0 {
		remainingLength += 2
	}

	fh := FixedHeader{
		Type:            PUBLISH,
		Flags:           p.FixedHeader.BuildPublishFlags(),
		RemainingLength: remainingLength,
		DUP:             p.FixedHeader.DUP,
		QoS:             p.FixedHeader.QoS,
		Retain:          p.FixedHeader.Retain,
	}
	if err := fh.EncodeFixedHeader311(w); err != nil {
		return err
	}

	if err := writeUTF8String(w, p.TopicName); err != nil {
		return err
	}
	if p.FixedHeader.QoS > QoS0 {
		if err := writeTwoByteInt(w, p.PacketID); err != nil {
			return err
		}
	}
	if len(p.Payload) > 0 {
		_, err := w.Write(p.Payload)
		return err
	}
	return nil
}

// Encode encodes p as an MQTT 3.1.1 PUBACK packet.
func (p *PubackPacket311) Encode(w io.Writer) error {
	return encodeIDOnlyPacket311(w, PUBACK, 0, p.PacketID)
}

// Encode encodes p as an MQTT 3.1.1 PUBREC packet.
func (p *PubrecPacket311) Encode(w io.Writer) error {
	return encodeIDOnlyPacket311(w, PUBREC, 0, p.PacketID)
}

// Encode encodes p as an MQTT 3.1.1 PUBREL packet.
func (p *PubrelPacket311) Encode(w io.Writer) error {
	return encodeIDOnlyPacket311(w, PUBREL, 0x02, p.PacketID)
}

// Encode encodes p as an MQTT 3.1.1 PUBCOMP packet.
func (p *PubcompPacket311) Encode(w io.Writer) error {
	return encodeIDOnlyPacket311(w, PUBCOMP, 0, p.PacketID)
}

// Encode encodes p as an MQTT 3.1.1 SUBSCRIBE packet.
func (p *SubscribePacket311) Encode(w io.Writer) error {
	remainingLength := uint32(2)
	for _, sub := range p.Subscriptions {
		remainingLength += uint32(2 + len(sub.TopicFilter) + 1)
	}

	fh := FixedHeader{Type: SUBSCRIBE, Flags: 0x02, RemainingLength: remainingLength}
	if err := fh.EncodeFixedHeader311(w); err != nil {
		return err
	}
	if err := writeTwoByteInt(w, p.PacketID); err != nil {
		return err
	}

	for _, sub := range p.Subscriptions {
		if err := writeUTF8String(w, sub.TopicFilter); err != nil {
			return err
		}
		if err := writeByte(w, byte(sub.QoS)); err != nil {
			return err
		}
	}
	return nil
}

// Encode encodes p as an MQTT 3.1.1 SUBACK packet.
func (p *SubackPacket311) Encode(w io.Writer) error {
	fh := FixedHeader{Type: SUBACK, RemainingLength: uint32(2 + len(p.ReturnCodes))}
	if err := fh.EncodeFixedHeader311(w); err != nil {
		return err
	}
	if err := writeTwoByteInt(w, p.PacketID); err != nil {
		return err
	}
	_, err := w.Write(p.ReturnCodes)
	return err
}

// Encode encodes p as an MQTT 3.1.1 UNSUBSCRIBE packet.
func (p *UnsubscribePacket311) Encode(w io.Writer) error {
	remainingLength := uint32(2)
	for _, topic := range p.TopicFilters {
		remainingLength += uint32(2 + len(topic))
	}

	fh := FixedHeader{Type: UNSUBSCRIBE, Flags: 0x02, RemainingLength: remainingLength}
	if err := fh.EncodeFixedHeader311(w); err != nil {
		return err
	}
	if err := writeTwoByteInt(w, p.PacketID); err != nil {
		return err
	}

	for _, topic := range p.TopicFilters {
		if err := writeUTF8String(w, topic); err != nil {
			return err
		}
	}
	return nil
}

// Encode encodes p as an MQTT 3.1.1 UNSUBACK packet.
func (p *UnsubackPacket311) Encode(w io.Writer) error {
	return encodeIDOnlyPacket311(w, UNSUBACK, 0, p.PacketID)
}

// Encode encodes p as an MQTT 3.1.1 DISCONNECT packet.
func (p *DisconnectPacket311) Encode(w io.Writer) error {
	return (&FixedHeader{Type: DISCONNECT}).EncodeFixedHeader311(w)
}

// MQTT 3.1.1 CONNACK return codes (MQTT 3.1.1 §3.2.2.3).
const (
	ConnectAccepted311                    byte = 0x00
	ConnectRefusedUnacceptableProtocol311 byte = 0x01
	ConnectRefusedIdentifierRejected311   byte = 0x02
	ConnectRefusedServerUnavailable311    byte = 0x03
	ConnectRefusedBadUsernamePassword311  byte = 0x04
	ConnectRefusedNotAuthorized311        byte = 0x05
)
