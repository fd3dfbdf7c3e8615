package encoding

import "io"

// ParseConnectAnyVersion reads a CONNECT packet's protocol name and version
// byte first, then continues decoding down the matching version-specific
// path. It exists because a server doesn't know which wire format to expect
// until it has read that single byte — every other packet type is decoded
// with the version already pinned from the CONNECT that preceded it.
//
// Exactly one of the two return values is non-nil, discriminated by the
// returned ProtocolVersion.
func ParseConnectAnyVersion(r io.Reader, fh *FixedHeader) (v5 *ConnectPacket, v311 *ConnectPacket311, version ProtocolVersion, err error) {
	protocolName, err := readUTF8String(r)
	if err != nil {
		return nil, nil, 0, err
	}
	if protocolName != "MQTT" {
		return nil, nil, 0, ErrInvalidProtocolName
	}

	versionByte, err := readByte(r)
	if err != nil {
		return nil, nil, 0, err
	}
	version = ProtocolVersion(versionByte)

	switch version {
	case ProtocolVersion50:
		pkt, err := parseConnectPacketBody(r, fh, protocolName, version)
		if err != nil {
			return nil, nil, 0, err
		}
		return pkt, nil, version, nil
	case ProtocolVersion311, ProtocolVersion31:
		pkt, err := parseConnectPacket311Body(r, fh, protocolName, version)
		if err != nil {
			return nil, nil, 0, err
		}
		return nil, pkt, version, nil
	default:
		return nil, nil, 0, ErrInvalidProtocolVersion
	}
}

// parseConnectPacketBody continues an MQTT5 CONNECT parse from just after
// the protocol-version byte; mirrors ParseConnectPacket's body.
func parseConnectPacketBody(r io.Reader, fh *FixedHeader, protocolName string, version ProtocolVersion) (*ConnectPacket, error) {
	pkt := &ConnectPacket{FixedHeader: *fh, ProtocolName: protocolName, ProtocolVersion: version}

	flags, err := readByte(r)
	if err != nil {
		return nil, err
	}
	pkt.CleanStart = (flags & 0x02) != 0
	pkt.WillFlag = (flags & 0x04) != 0
	pkt.WillQoS = QoS((flags & 0x18) >> 3)
	pkt.WillRetain = (flags & 0x20) != 0
	pkt.PasswordFlag = (flags & 0x40) != 0
	pkt.UsernameFlag = (flags & 0x80) != 0
	if (flags & 0x01) != 0 {
		return nil, ErrMalformedPacket
	}

	keepAlive, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	pkt.KeepAlive = keepAlive

	props, err := ParseProperties(r)
	if err != nil {
		return nil, err
	}
	pkt.Properties = *props

	clientID, err := readUTF8String(r)
	if err != nil {
		return nil, err
	}
	pkt.ClientID = clientID

	if pkt.WillFlag {
		willProps, err := ParseProperties(r)
		if err != nil {
			return nil, err
		}
		pkt.WillProperties = *willProps

		willTopic, err := readUTF8String(r)
		if err != nil {
			return nil, err
		}
		pkt.WillTopic = willTopic

		willPayload, err := readBinaryData(r)
		if err != nil {
			return nil, err
		}
		pkt.WillPayload = willPayload
	}

	if pkt.UsernameFlag {
		username, err := readUTF8String(r)
		if err != nil {
			return nil, err
		}
		pkt.Username = username
	}

	if pkt.PasswordFlag {
		password, err := readBinaryData(r)
		if err != nil {
			return nil, err
		}
		pkt.Password = password
	}

	return pkt, nil
}

// parseConnectPacket311Body mirrors ParseConnectPacket311's body, starting
// just after the protocol-version byte.
func parseConnectPacket311Body(r io.Reader, fh *FixedHeader, protocolName string, version ProtocolVersion) (*ConnectPacket311, error) {
	pkt := &ConnectPacket311{FixedHeader: *fh, ProtocolName: protocolName, ProtocolVersion: version}

	flags, err := readByte(r)
	if err != nil {
		return nil, err
	}
	if (flags & 0x01) != 0 {
		return nil, ErrMalformedPacket
	}
	pkt.CleanSession = (flags & 0x02) != 0
	pkt.WillFlag = (flags & 0x04) != 0
	pkt.WillQoS = QoS((flags & 0x18) >> 3)
	pkt.WillRetain = (flags & 0x20) != 0
	pkt.PasswordFlag = (flags & 0x40) != 0
	pkt.UsernameFlag = (flags & 0x80) != 0

	keepAlive, err := readTwoByteInt(r)
	if err != nil {
		return nil, err
	}
	pkt.KeepAlive = keepAlive

	clientID, err := readUTF8String(r)
	if err != nil {
		return nil, err
	}
	pkt.ClientID = clientID

	if pkt.WillFlag {
		willTopic, err := readUTF8String(r)
		if err != nil {
			return nil, err
		}
		pkt.WillTopic = willTopic

		willPayload, err := readBinaryData(r)
		if err != nil {
			return nil, err
		}
		pkt.WillPayload = willPayload
	}

	if pkt.UsernameFlag {
		username, err := readUTF8String(r)
		if err != nil {
			return nil, err
		}
		pkt.Username = username
	}

	if pkt.PasswordFlag {
		password, err := readBinaryData(r)
		if err != nil {
			return nil, err
		}
		pkt.Password = password
	}

	return pkt, nil
}
