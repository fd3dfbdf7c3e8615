package encoding

import (
	"bytes"
	"io"
)

// propertiesBytes renders p as its encoded property-list bytes, used
// wherever an encoder needs the length up front to size a remaining-length
// field before writing the fixed header.
func (p *Properties) propertiesBytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := p.EncodeProperties(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// buildConnectFlags packs a CONNECT packet's flags byte (MQTT 5 §3.1.2.3).
func buildConnectFlags(p *ConnectPacket) byte {
	var flags byte
	if p.CleanStart {
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

// Encode encodes p as an MQTT 5.0 CONNECT packet.
func (p *ConnectPacket) Encode(w io.Writer) error {
	propsBytes, err := p.Properties.propertiesBytes()
	if err != nil {
		return err
	}

	varHeaderLen := 2 + len(p.ProtocolName) + 1 + 1 + 2 + len(propsBytes)

	payloadLen := 2 + len(p.ClientID)
	var willPropsBytes []byte
	if p.WillFlag {
		willPropsBytes, err = p.WillProperties.propertiesBytes()
		if err != nil {
			return err
		}
		payloadLen += len(willPropsBytes) + 2 + len(p.WillTopic) + 2 + len(p.WillPayload)
	}
	if p.UsernameFlag {
		payloadLen += 2 + len(p.Username)
	}
	if p.PasswordFlag {
		payloadLen += 2 + len(p.Password)
	}

	fh := FixedHeader{Type: CONNECT, RemainingLength: uint32(varHeaderLen + payloadLen)}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}

	if err := writeUTF8String(w, p.ProtocolName); err != nil {
		return err
	}
	if err := writeByte(w, byte(p.ProtocolVersion)); err != nil {
		return err
	}
	if err := writeByte(w, buildConnectFlags(p)); err != nil {
		return err
	}
	if err := writeTwoByteInt(w, p.KeepAlive); err != nil {
		return err
	}
	if _, err := w.Write(propsBytes); err != nil {
		return err
	}

	if err := writeUTF8String(w, p.ClientID); err != nil {
		return err
	}
	if p.WillFlag {
		if _, err := w.Write(willPropsBytes); err != nil {
			return err
		}
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

// Encode encodes p as an MQTT 5.0 CONNACK packet.
func (p *ConnackPacket) Encode(w io.Writer) error {
	propsBytes, err := p.Properties.propertiesBytes()
	if err != nil {
		return err
	}

	fh := FixedHeader{Type: CONNACK, RemainingLength: uint32(1 + 1 + len(propsBytes))}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}

	var ackFlags byte
	if p.SessionPresent {
		ackFlags |= 0x01
	}
	if err := writeByte(w, ackFlags); err != nil {
		return err
	}
	if err := writeByte(w, byte(p.ReasonCode)); err != nil {
		return err
	}
	_, err = w.Write(propsBytes)
	return err
}

// Encode encodes p as an MQTT 5.0 PUBLISH packet.
func (p *PublishPacket) Encode(w io.Writer) error {
	propsBytes, err := p.Properties.propertiesBytes()
	if err != nil {
		return err
	}

	remainingLength := uint32(2 + len(p.TopicName) + len(propsBytes) + len(p.Payload))
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
	if err := fh.EncodeFixedHeader(w); err != nil {
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
	if _, err := w.Write(propsBytes); err != nil {
		return err
	}
	if len(p.Payload) > 0 {
		_, err = w.Write(p.Payload)
	}
	return err
}

// Encode encodes p as an MQTT 5.0 PUBACK packet.
func (p *PubackPacket) Encode(w io.Writer) error {
	return encodeAckWithFlags(w, PUBACK, 0, p.PacketID, p.ReasonCode, &p.Properties)
}

// Encode encodes p as an MQTT 5.0 PUBREC packet.
func (p *PubrecPacket) Encode(w io.Writer) error {
	return encodeAckWithFlags(w, PUBREC, 0, p.PacketID, p.ReasonCode, &p.Properties)
}

// Encode encodes p as an MQTT 5.0 PUBREL packet.
func (p *PubrelPacket) Encode(w io.Writer) error {
	return encodeAckWithFlags(w, PUBREL, 0x02, p.PacketID, p.ReasonCode, &p.Properties)
}

// Encode encodes p as an MQTT 5.0 PUBCOMP packet.
func (p *PubcompPacket) Encode(w io.Writer) error {
	return encodeAckWithFlags(w, PUBCOMP, 0, p.PacketID, p.ReasonCode, &p.Properties)
}

// encodeAckWithFlags encodes the PUBACK/PUBREC/PUBREL/PUBCOMP family, which
// MQTT 5 §3.4.2.1 (et al.) lets a sender shorten to just the packet ID when
// the reason code is success and there are no properties.
func encodeAckWithFlags(w io.Writer, packetType PacketType, flags byte, packetID uint16, reasonCode ReasonCode, props *Properties) error {
	propsBytes, err := props.propertiesBytes()
	if err != nil {
		return err
	}

	short := reasonCode == ReasonSuccess && len(propsBytes) <= 1
	remainingLength := uint32(2)
	if !short {
		remainingLength += 1 + uint32(len(propsBytes))
	}

	fh := FixedHeader{Type: packetType, Flags: flags, RemainingLength: remainingLength}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}
	if err := writeTwoByteInt(w, packetID); err != nil {
		return err
	}
	if short {
		return nil
	}

	if err := writeByte(w, byte(reasonCode)); err != nil {
		return err
	}
	_, err = w.Write(propsBytes)
	return err
}

// writeReasonCodes writes a trailing reason-code array (SUBACK/UNSUBACK).
func writeReasonCodes(w io.Writer, reasonCodes []ReasonCode) error {
	for _, rc := range reasonCodes {
		if err := writeByte(w, byte(rc)); err != nil {
			return err
		}
	}
	return nil
}

// encodeAckPacketWithReasonCodes encodes SUBACK/UNSUBACK: packet ID,
// properties, then one reason code per subscription/filter in the request.
func encodeAckPacketWithReasonCodes(w io.Writer, packetType PacketType, flags byte, packetID uint16, reasonCodes []ReasonCode, props *Properties) error {
	propsBytes, err := props.propertiesBytes()
	if err != nil {
		return err
	}

	fh := FixedHeader{
		Type:            packetType,
		Flags:           flags,
		RemainingLength: uint32(2 + len(propsBytes) + len(reasonCodes)),
	}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}
	if err := writeTwoByteInt(w, packetID); err != nil {
		return err
	}
	if _, err := w.Write(propsBytes); err != nil {
		return err
	}
	return writeReasonCodes(w, reasonCodes)
}

// buildSubscriptionOptions packs a single SUBSCRIBE topic filter's option
// byte (MQTT 5 §3.8.3.1).
func buildSubscriptionOptions(sub Subscription) byte {
	options := byte(sub.QoS & 0x03)
	if sub.NoLocal {
		options |= 0x04
	}
	if sub.RetainAsPublished {
		options |= 0x08
	}
	options |= (sub.RetainHandling & 0x03) << 4
	return options
}

// Encode encodes p as an MQTT 5.0 SUBSCRIBE packet.
func (p *SubscribePacket) Encode(w io.Writer) error {
	propsBytes, err := p.Properties.propertiesBytes()
	if err != nil {
		return err
	}

	remainingLength := uint32(2 + len(propsBytes))
	for _, sub := range p.Subscriptions {
		remainingLength += uint32(2 + len(sub.TopicFilter) + 1)
	}

	fh := FixedHeader{Type: SUBSCRIBE, Flags: 0x02, RemainingLength: remainingLength}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}
	if err := writeTwoByteInt(w, p.PacketID); err != nil {
		return err
	}
	if _, err := w.Write(propsBytes); err != nil {
		return err
	}

	for _, sub := range p.Subscriptions {
		if err := writeUTF8String(w, sub.TopicFilter); err != nil {
			return err
		}
		if err := writeByte(w, buildSubscriptionOptions(sub)); err != nil {
			return err
		}
	}
	return nil
}

// Encode encodes p as an MQTT 5.0 SUBACK packet.
func (p *SubackPacket) Encode(w io.Writer) error {
	return encodeAckPacketWithReasonCodes(w, SUBACK, 0, p.PacketID, p.ReasonCodes, &p.Properties)
}

// Encode encodes p as an MQTT 5.0 UNSUBSCRIBE packet.
func (p *UnsubscribePacket) Encode(w io.Writer) error {
	propsBytes, err := p.Properties.propertiesBytes()
	if err != nil {
		return err
	}

	remainingLength := uint32(2 + len(propsBytes))
	for _, topic := range p.TopicFilters {
		remainingLength += uint32(2 + len(topic))
	}

	fh := FixedHeader{Type: UNSUBSCRIBE, Flags: 0x02, RemainingLength: remainingLength}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}
	if err := writeTwoByteInt(w, p.PacketID); err != nil {
		return err
	}
	if _, err := w.Write(propsBytes); err != nil {
		return err
	}

	for _, topic := range p.TopicFilters {
		if err := writeUTF8String(w, topic); err != nil {
			return err
		}
	}
	return nil
}

// Encode encodes p as an MQTT 5.0 UNSUBACK packet.
func (p *UnsubackPacket) Encode(w io.Writer) error {
	return encodeAckPacketWithReasonCodes(w, UNSUBACK, 0, p.PacketID, p.ReasonCodes, &p.Properties)
}

// Encode encodes p as an MQTT 5.0 PINGREQ packet.
func (p *PingreqPacket) Encode(w io.Writer) error {
	return (&FixedHeader{Type: PINGREQ}).EncodeFixedHeader(w)
}

// Encode encodes p as an MQTT 5.0 PINGRESP packet.
func (p *PingrespPacket) Encode(w io.Writer) error {
	return (&FixedHeader{Type: PINGRESP}).EncodeFixedHeader(w)
}

// Encode encodes p as an MQTT 5.0 DISCONNECT packet, omitting the reason
// code and properties when the reason is ReasonNormalDisconnection and
// there are no properties (MQTT 5 §3.14.2.1).
func (p *DisconnectPacket) Encode(w io.Writer) error {
	propsBytes, err := p.Properties.propertiesBytes()
	if err != nil {
		return err
	}

	var remainingLength uint32
	if p.ReasonCode != ReasonNormalDisconnection || len(propsBytes) > 1 {
		remainingLength = 1 + uint32(len(propsBytes))
	}

	fh := FixedHeader{Type: DISCONNECT, RemainingLength: remainingLength}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}
	if remainingLength == 0 {
		return nil
	}

	if err := writeByte(w, byte(p.ReasonCode)); err != nil {
		return err
	}
	_, err = w.Write(propsBytes)
	return err
}

// Encode encodes p as an MQTT 5.0 AUTH packet.
func (p *AuthPacket) Encode(w io.Writer) error {
	propsBytes, err := p.Properties.propertiesBytes()
	if err != nil {
		return err
	}

	fh := FixedHeader{Type: AUTH, RemainingLength: uint32(1 + len(propsBytes))}
	if err := fh.EncodeFixedHeader(w); err != nil {
		return err
	}
	if err := writeByte(w, byte(p.ReasonCode)); err != nil {
		return err
	}
	_, err = w.Write(propsBytes)
	return err
}

// EncodeTo encodes p into a caller-supplied buffer, avoiding the
// io.Writer/bytes.Buffer allocation Encode incurs when the caller already
// knows the wire size (the hot path for republishing retained/queued
// messages).
func (p *PublishPacket) EncodeTo(buf []byte) (int, error) {
	propsBytes, err := p.Properties.propertiesBytes()
	if err != nil {
		return 0, err
	}

	remainingLength := uint32(2 + len(p.TopicName) + len(propsBytes) + len(p.Payload))
	if p.FixedHeader.QoS > QoS0 {
		remainingLength += 2
	}

	fh := FixedHeader{
		Type:            PUBLISH,
		Flags:           p.FixedHeader.BuildPublishFlags(),
		RemainingLength: remainingLength,
	}

	offset, err := fh.EncodeFixedHeaderToBytes(buf)
	if err != nil {
		return 0, err
	}

	n, err := writeUTF8StringToBytes(buf[offset:], p.TopicName)
	if err != nil {
		return 0, err
	}
	offset += n

	if p.FixedHeader.QoS > QoS0 {
		n, err = writeTwoByteIntToBytes(buf[offset:], p.PacketID)
		if err != nil {
			return 0, err
		}
		offset += n
	}

	copy(buf[offset:], propsBytes)
	offset += len(propsBytes)

	copy(buf[offset:], p.Payload)
	offset += len(p.Payload)

	return offset, nil
}
