package encoding

import (
	"io"
)

// ReasonCode is an MQTT 5 reason code (MQTT 5 §2.4), carried by CONNACK and
// every ack/DISCONNECT/AUTH packet to report success or the specific failure.
type ReasonCode byte

const (
	ReasonSuccess                   ReasonCode = 0x00
	ReasonNormalDisconnection       ReasonCode = 0x00
	ReasonGrantedQoS0               ReasonCode = 0x00
	ReasonGrantedQoS1               ReasonCode = 0x01
	ReasonGrantedQoS2               ReasonCode = 0x02
	ReasonDisconnectWithWillMessage ReasonCode = 0x04
	ReasonNoMatchingSubscribers     ReasonCode = 0x10
	ReasonNoSubscriptionExisted     ReasonCode = 0x11
	ReasonContinueAuthentication    ReasonCode = 0x18
	ReasonReAuthenticate            ReasonCode = 0x19

	ReasonUnspecifiedError                    ReasonCode = 0x80
	ReasonMalformedPacket                     ReasonCode = 0x81
	ReasonProtocolError                       ReasonCode = 0x82
	ReasonImplementationSpecificError         ReasonCode = 0x83
	ReasonUnsupportedProtocolVersion          ReasonCode = 0x84
	ReasonClientIdentifierNotValid            ReasonCode = 0x85
	ReasonBadUsernameOrPassword               ReasonCode = 0x86
	ReasonNotAuthorized                       ReasonCode = 0x87
	ReasonServerUnavailable                   ReasonCode = 0x88
	ReasonServerBusy                          ReasonCode = 0x89
	ReasonBanned                              ReasonCode = 0x8A
	ReasonServerShuttingDown                  ReasonCode = 0x8B
	ReasonBadAuthenticationMethod             ReasonCode = 0x8C
	ReasonKeepAliveTimeout                    ReasonCode = 0x8D
	ReasonSessionTakenOver                    ReasonCode = 0x8E
	ReasonTopicFilterInvalid                  ReasonCode = 0x8F
	ReasonTopicNameInvalid                    ReasonCode = 0x90
	ReasonPacketIdentifierInUse               ReasonCode = 0x91
	ReasonPacketIdentifierNotFound             ReasonCode = 0x92
	ReasonReceiveMaximumExceeded               ReasonCode = 0x93
	ReasonTopicAliasInvalid                    ReasonCode = 0x94
	ReasonPacketTooLarge                       ReasonCode = 0x95
	ReasonMessageRateTooHigh                   ReasonCode = 0x96
	ReasonQuotaExceeded                        ReasonCode = 0x97
	ReasonAdministrativeAction                 ReasonCode = 0x98
	ReasonPayloadFormatInvalid                 ReasonCode = 0x99
	ReasonRetainNotSupported                   ReasonCode = 0x9A
	ReasonQoSNotSupported                      ReasonCode = 0x9B
	ReasonUseAnotherServer                     ReasonCode = 0x9C
	ReasonServerMoved                          ReasonCode = 0x9D
	ReasonSharedSubscriptionsNotSupported       ReasonCode = 0x9E
	ReasonConnectionRateExceeded                ReasonCode = 0x9F
	ReasonMaximumConnectTime                    ReasonCode = 0xA0
	ReasonSubscriptionIdentifiersNotSupported   ReasonCode = 0xA1
	ReasonWildcardSubscriptionsNotSupported      ReasonCode = 0xA2
)

type ConnectPacket struct {
	FixedHeader     FixedHeader
	ProtocolName    string
	ProtocolVersion ProtocolVersion
	CleanStart      bool
	WillFlag        bool
	WillQoS         QoS
	WillRetain      bool
	PasswordFlag    bool
	UsernameFlag    bool
	KeepAlive       uint16
	Properties      Properties
	ClientID        string
	WillProperties  Properties
	WillTopic       string
	WillPayload     []byte
	Username        string
	Password        []byte
}

type ConnackPacket struct {
	FixedHeader    FixedHeader
	SessionPresent bool
	ReasonCode     ReasonCode
	Properties     Properties
}

type PublishPacket struct {
	FixedHeader FixedHeader
	TopicName   string
	PacketID    uint16
	Properties  Properties
	Payload     []byte
}

// ackPacket is the shape shared by PUBACK/PUBREC/PUBREL/PUBCOMP: a packet ID
// followed, if remaining length allows, by a reason code and properties.
type ackPacket struct {
	FixedHeader FixedHeader
	PacketID    uint16
	ReasonCode  ReasonCode
	Properties  Properties
}

type PubackPacket ackPacket
type PubrecPacket ackPacket
type PubrelPacket ackPacket
type PubcompPacket ackPacket

type Subscription struct {
	TopicFilter            string
	QoS                    QoS
	NoLocal                bool
	RetainAsPublished      bool
	RetainHandling         byte
	SubscriptionIdentifier uint32
}

type SubscribePacket struct {
	FixedHeader   FixedHeader
	PacketID      uint16
	Properties    Properties
	Subscriptions []Subscription
}

type SubackPacket struct {
	FixedHeader FixedHeader
	PacketID    uint16
	Properties  Properties
	ReasonCodes []ReasonCode
}

type UnsubscribePacket struct {
	FixedHeader  FixedHeader
	PacketID     uint16
	Properties   Properties
	TopicFilters []string
}

type UnsubackPacket struct {
	FixedHeader FixedHeader
	PacketID    uint16
	Properties  Properties
	ReasonCodes []ReasonCode
}

type PingreqPacket struct {
	FixedHeader FixedHeader
}

type PingrespPacket struct {
	FixedHeader FixedHeader
}

type DisconnectPacket struct {
	FixedHeader FixedHeader
	ReasonCode  ReasonCode
	Properties  Properties
}

type AuthPacket struct {
	FixedHeader FixedHeader
	ReasonCode  ReasonCode
	Properties  Properties
}

// propertiesByteLength returns how many wire bytes a just-parsed Properties
// occupied, length prefix included, so callers can track how much of
// RemainingLength has been consumed.
func propertiesByteLength(props *Properties) int {
	return int(props.Length) + SizeVariableByteInteger(props.Length)
}

// ParseConnectPacket parses an MQTT 5 CONNECT packet's variable header and
// payload.
func ParseConnectPacket(r io.Reader, fh *FixedHeader) (*ConnectPacket, error) {
	pkt := &ConnectPacket{FixedHeader: *fh}

	protocolName, err := readUTF8String(r)
	if err != nil {
		return nil, err
	}
	pkt.ProtocolName = protocolName
	if protocolName != "MQTT" {
		return nil, ErrInvalidProtocolName
	}

	version, err := readByte(r)
	if err != nil {
		return nil, err
	}
	pkt.ProtocolVersion = ProtocolVersion(version)
	if pkt.ProtocolVersion != ProtocolVersion50 {
		return nil, ErrInvalidProtocolVersion
	}

	flags, err := readByte(r)
	if err != nil {
		return nil, err
	}
	pkt.CleanStart = flags&0x02 != 0
	pkt.WillFlag = flags&0x04 != 0
	pkt.WillQoS = QoS((flags & 0x18) >> 3)
	pkt.WillRetain = flags&0x20 != 0
	pkt.PasswordFlag = flags&0x40 != 0
	pkt.UsernameFlag = flags&0x80 != 0
	if flags&0x01 != 0 {
		return nil, ErrMalformedPacket
	}

	if pkt.KeepAlive, err = readTwoByteInt(r); err != nil {
		return nil, err
	}

	props, err := ParseProperties(r)
	if err != nil {
		return nil, err
	}
	pkt.Properties = *props

	if pkt.ClientID, err = readUTF8String(r); err != nil {
		return nil, err
	}

	if pkt.WillFlag {
		willProps, err := ParseProperties(r)
		if err != nil {
			return nil, err
		}
		pkt.WillProperties = *willProps

		if pkt.WillTopic, err = readUTF8String(r); err != nil {
			return nil, err
		}
		if pkt.WillPayload, err = readBinaryData(r); err != nil {
			return nil, err
		}
	}

	if pkt.UsernameFlag {
		if pkt.Username, err = readUTF8String(r); err != nil {
			return nil, err
		}
	}
	if pkt.PasswordFlag {
		if pkt.Password, err = readBinaryData(r); err != nil {
			return nil, err
		}
	}

	return pkt, nil
}

// ParseConnackPacket parses an MQTT 5 CONNACK packet.
func ParseConnackPacket(r io.Reader, fh *FixedHeader) (*ConnackPacket, error) {
	pkt := &ConnackPacket{FixedHeader: *fh}

	flags, err := readByte(r)
	if err != nil {
		return nil, err
	}
	pkt.SessionPresent = flags&0x01 != 0
	if flags&0xFE != 0 {
		return nil, ErrMalformedPacket
	}

	reasonCode, err := readByte(r)
	if err != nil {
		return nil, err
	}
	pkt.ReasonCode = ReasonCode(reasonCode)

	props, err := ParseProperties(r)
	if err != nil {
		return nil, err
	}
	pkt.Properties = *props
	return pkt, nil
}

// ParsePublishPacket parses an MQTT 5 PUBLISH packet, deriving the payload
// length from the fixed header's remaining length minus everything already
// decoded (topic name, packet ID if present, properties).
func ParsePublishPacket(r io.Reader, fh *FixedHeader) (*PublishPacket, error) {
	pkt := &PublishPacket{FixedHeader: *fh}

	topicName, err := readUTF8String(r)
	if err != nil {
		return nil, err
	}
	pkt.TopicName = topicName

	headerSize := 2 + len(topicName)
	if fh.QoS > QoS0 {
		packetID, err := readTwoByteInt(r)
		if err != nil {
			return nil, err
		}
		if packetID == 0 {
			return nil, ErrInvalidPacketID
		}
		pkt.PacketID = packetID
		headerSize += 2
	}

	props, err := ParseProperties(r)
	if err != nil {
		return nil, err
	}
	pkt.Properties = *props
	headerSize += propertiesByteLength(props)

	if payloadLength := int(fh.RemainingLength) - headerSize; payloadLength > 0 {
		payload := make([]byte, payloadLength)
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF {
				return nil, ErrUnexpectedEOF
			}
			return nil, err
		}
		pkt.Payload = payload
	}

	return pkt, nil
}

// parseAckPacket parses the PacketID [ReasonCode [Properties]] shape common
// to PUBACK/PUBREC/PUBREL/PUBCOMP: MQTT 5 lets a server omit the reason code
// and properties entirely when the result is plain success.
func parseAckPacket(r io.Reader, fh *FixedHeader) (*ackPacket, error) {
	pkt := &ackPacket{FixedHeader: *fh, ReasonCode: ReasonSuccess}

	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	pkt.PacketID = packetID

	if fh.RemainingLength == 2 {
		return pkt, nil
	}

	reasonCode, err := readByte(r)
	if err != nil {
		return nil, err
	}
	pkt.ReasonCode = ReasonCode(reasonCode)

	if fh.RemainingLength == 3 {
		return pkt, nil
	}

	props, err := ParseProperties(r)
	if err != nil {
		return nil, err
	}
	pkt.Properties = *props
	return pkt, nil
}

func ParsePubackPacket(r io.Reader, fh *FixedHeader) (*PubackPacket, error) {
	pkt, err := parseAckPacket(r, fh)
	if err != nil {
		return nil, err
	}
	return (*PubackPacket)(pkt), nil
}

func ParsePubrecPacket(r io.Reader, fh *FixedHeader) (*PubrecPacket, error) {
	pkt, err := parseAckPacket(r, fh)
	if err != nil {
		return nil, err
	}
	return (*PubrecPacket)(pkt), nil
}

func ParsePubrelPacket(r io.Reader, fh *FixedHeader) (*PubrelPacket, error) {
	pkt, err := parseAckPacket(r, fh)
	if err != nil {
		return nil, err
	}
	return (*PubrelPacket)(pkt), nil
}

func ParsePubcompPacket(r io.Reader, fh *FixedHeader) (*PubcompPacket, error) {
	pkt, err := parseAckPacket(r, fh)
	if err != nil {
		return nil, err
	}
	return (*PubcompPacket)(pkt), nil
}

// ParseSubscribePacket parses an MQTT 5 SUBSCRIBE packet's packet ID,
// properties, and one-or-more (topic filter, options) subscriptions.
func ParseSubscribePacket(r io.Reader, fh *FixedHeader) (*SubscribePacket, error) {
	pkt := &SubscribePacket{FixedHeader: *fh}

	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	pkt.PacketID = packetID

	props, err := ParseProperties(r)
	if err != nil {
		return nil, err
	}
	pkt.Properties = *props

	pkt.Subscriptions = make([]Subscription, 0, 2)
	bytesRead := 2 + propertiesByteLength(props)

	for bytesRead < int(fh.RemainingLength) {
		topicFilter, err := readUTF8String(r)
		if err != nil {
			return nil, err
		}
		bytesRead += 2 + len(topicFilter)

		options, err := readByte(r)
		if err != nil {
			return nil, err
		}
		bytesRead++
		if options&0xC0 != 0 {
			return nil, ErrMalformedPacket
		}

		pkt.Subscriptions = append(pkt.Subscriptions, Subscription{
			TopicFilter:       topicFilter,
			QoS:               QoS(options & 0x03),
			NoLocal:           options&0x04 != 0,
			RetainAsPublished: options&0x08 != 0,
			RetainHandling:    (options & 0x30) >> 4,
		})
	}

	return pkt, nil
}

// readReasonCodes reads the trailing run of single-byte reason codes that
// follows a packet ID and properties in SUBACK/UNSUBACK, one per
// subscription/topic filter in the originating request.
func readReasonCodes(r io.Reader, count int) ([]ReasonCode, error) {
	codes := make([]ReasonCode, count)
	for i := range codes {
		rc, err := readByte(r)
		if err != nil {
			return nil, err
		}
		codes[i] = ReasonCode(rc)
	}
	return codes, nil
}

// ParseSubackPacket parses an MQTT 5 SUBACK packet.
func ParseSubackPacket(r io.Reader, fh *FixedHeader) (*SubackPacket, error) {
	pkt := &SubackPacket{FixedHeader: *fh}

	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	pkt.PacketID = packetID

	props, err := ParseProperties(r)
	if err != nil {
		return nil, err
	}
	pkt.Properties = *props

	bytesRead := 2 + propertiesByteLength(props)
	codes, err := readReasonCodes(r, int(fh.RemainingLength)-bytesRead)
	if err != nil {
		return nil, err
	}
	pkt.ReasonCodes = codes
	return pkt, nil
}

// ParseUnsubscribePacket parses an MQTT 5 UNSUBSCRIBE packet.
func ParseUnsubscribePacket(r io.Reader, fh *FixedHeader) (*UnsubscribePacket, error) {
	pkt := &UnsubscribePacket{FixedHeader: *fh}

	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	pkt.PacketID = packetID

	props, err := ParseProperties(r)
	if err != nil {
		return nil, err
	}
	pkt.Properties = *props

	pkt.TopicFilters = make([]string, 0)
	bytesRead := 2 + propertiesByteLength(props)
	for bytesRead < int(fh.RemainingLength) {
		topicFilter, err := readUTF8String(r)
		if err != nil {
			return nil, err
		}
		bytesRead += 2 + len(topicFilter)
		pkt.TopicFilters = append(pkt.TopicFilters, topicFilter)
	}

	return pkt, nil
}

// ParseUnsubackPacket parses an MQTT 5 UNSUBACK packet.
func ParseUnsubackPacket(r io.Reader, fh *FixedHeader) (*UnsubackPacket, error) {
	pkt := &UnsubackPacket{FixedHeader: *fh}

	packetID, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	pkt.PacketID = packetID

	props, err := ParseProperties(r)
	if err != nil {
		return nil, err
	}
	pkt.Properties = *props

	bytesRead := 2 + propertiesByteLength(props)
	codes, err := readReasonCodes(r, int(fh.RemainingLength)-bytesRead)
	if err != nil {
		return nil, err
	}
	pkt.ReasonCodes = codes
	return pkt, nil
}

// ParseDisconnectPacket parses an MQTT 5 DISCONNECT packet; a zero-length
// packet means normal disconnection with no reason code at all.
func ParseDisconnectPacket(r io.Reader, fh *FixedHeader) (*DisconnectPacket, error) {
	pkt := &DisconnectPacket{FixedHeader: *fh}

	if fh.RemainingLength == 0 {
		pkt.ReasonCode = ReasonNormalDisconnection
		return pkt, nil
	}

	reasonCode, err := readByte(r)
	if err != nil {
		return nil, err
	}
	pkt.ReasonCode = ReasonCode(reasonCode)
	if fh.RemainingLength == 1 {
		return pkt, nil
	}

	props, err := ParseProperties(r)
	if err != nil {
		return nil, err
	}
	pkt.Properties = *props
	return pkt, nil
}

// ParseAuthPacket parses an MQTT 5 AUTH packet; unlike DISCONNECT, AUTH
// always carries at least a reason code.
func ParseAuthPacket(r io.Reader, fh *FixedHeader) (*AuthPacket, error) {
	pkt := &AuthPacket{FixedHeader: *fh}

	if fh.RemainingLength == 0 {
		return nil, ErrMalformedPacket
	}

	reasonCode, err := readByte(r)
	if err != nil {
		return nil, err
	}
	pkt.ReasonCode = ReasonCode(reasonCode)
	if fh.RemainingLength == 1 {
		return pkt, nil
	}

	props, err := ParseProperties(r)
	if err != nil {
		return nil, err
	}
	pkt.Properties = *props
	return pkt, nil
}

// ParsePingreqPacket parses an MQTT PINGREQ packet, which carries no
// variable header or payload.
func ParsePingreqPacket(fh *FixedHeader) (*PingreqPacket, error) {
	if fh.RemainingLength != 0 {
		return nil, ErrMalformedPacket
	}
	return &PingreqPacket{FixedHeader: *fh}, nil
}

// ParsePingrespPacket parses an MQTT PINGRESP packet.
func ParsePingrespPacket(fh *FixedHeader) (*PingrespPacket, error) {
	if fh.RemainingLength != 0 {
		return nil, ErrMalformedPacket
	}
	return &PingrespPacket{FixedHeader: *fh}, nil
}

// EncodeVariableByteIntegerMust encodes value, panicking if it exceeds
// MaxVariableByteInteger. Safe only where the caller already bounds-checked
// value (e.g. a Properties.Length it computed itself).
func EncodeVariableByteIntegerMust(value uint32) []byte {
	b, err := EncodeVariableByteInteger(value)
	if err != nil {
		panic(err)
	}
	return b
}

var reasonCodeNames = map[ReasonCode]string{
	ReasonSuccess:                              "Success",
	ReasonGrantedQoS1:                          "GrantedQoS1",
	ReasonGrantedQoS2:                          "GrantedQoS2",
	ReasonDisconnectWithWillMessage:            "DisconnectWithWillMessage",
	ReasonNoMatchingSubscribers:                "NoMatchingSubscribers",
	ReasonNoSubscriptionExisted:                "NoSubscriptionExisted",
	ReasonContinueAuthentication:               "ContinueAuthentication",
	ReasonReAuthenticate:                       "ReAuthenticate",
	ReasonUnspecifiedError:                     "UnspecifiedError",
	ReasonMalformedPacket:                      "MalformedPacket",
	ReasonProtocolError:                        "ProtocolError",
	ReasonImplementationSpecificError:          "ImplementationSpecificError",
	ReasonUnsupportedProtocolVersion:           "UnsupportedProtocolVersion",
	ReasonClientIdentifierNotValid:             "ClientIdentifierNotValid",
	ReasonBadUsernameOrPassword:                "BadUsernameOrPassword",
	ReasonNotAuthorized:                        "NotAuthorized",
	ReasonServerUnavailable:                    "ServerUnavailable",
	ReasonServerBusy:                           "ServerBusy",
	ReasonBanned:                               "Banned",
	ReasonServerShuttingDown:                   "ServerShuttingDown",
	ReasonBadAuthenticationMethod:              "BadAuthenticationMethod",
	ReasonKeepAliveTimeout:                     "KeepAliveTimeout",
	ReasonSessionTakenOver:                     "SessionTakenOver",
	ReasonTopicFilterInvalid:                   "TopicFilterInvalid",
	ReasonTopicNameInvalid:                     "TopicNameInvalid",
	ReasonPacketIdentifierInUse:                "PacketIdentifierInUse",
	ReasonPacketIdentifierNotFound:              "PacketIdentifierNotFound",
	ReasonReceiveMaximumExceeded:                "ReceiveMaximumExceeded",
	ReasonTopicAliasInvalid:                     "TopicAliasInvalid",
	ReasonPacketTooLarge:                        "PacketTooLarge",
	ReasonMessageRateTooHigh:                    "MessageRateTooHigh",
	ReasonQuotaExceeded:                         "QuotaExceeded",
	ReasonAdministrativeAction:                  "AdministrativeAction",
	ReasonPayloadFormatInvalid:                  "PayloadFormatInvalid",
	ReasonRetainNotSupported:                    "RetainNotSupported",
	ReasonQoSNotSupported:                       "QoSNotSupported",
	ReasonUseAnotherServer:                      "UseAnotherServer",
	ReasonServerMoved:                           "ServerMoved",
	ReasonSharedSubscriptionsNotSupported:       "SharedSubscriptionsNotSupported",
	ReasonConnectionRateExceeded:                "ConnectionRateExceeded",
	ReasonMaximumConnectTime:                    "MaximumConnectTime",
	ReasonSubscriptionIdentifiersNotSupported:   "SubscriptionIdentifiersNotSupported",
	ReasonWildcardSubscriptionsNotSupported:     "WildcardSubscriptionsNotSupported",
}

func (rc ReasonCode) String() string {
	if name, ok := reasonCodeNames[rc]; ok {
		return name
	}
	return "UNKNOWN"
}
