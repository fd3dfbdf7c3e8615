package endpoint

import (
	"fmt"
	"io"
	"strings"

	"github.com/embermqtt/ember/connection"
	"github.com/embermqtt/ember/encoding"
	"github.com/embermqtt/ember/types/message"
)

// codec translates between the Connection core's neutral packet vocabulary
// (connection.Connect, connection.PubAck, ...) and the wire-format structs
// encoding/packets_mqtt5.go and encoding/encoder_311.go already know how to
// serialize. It is the adaptation layer SPEC_FULL.md's design notes call
// for: one Connection state machine for both protocol versions, with the
// per-version translation isolated here instead of duplicated in the core.
type codec struct {
	version encoding.ProtocolVersion
}

func newCodec(version encoding.ProtocolVersion) *codec {
	return &codec{version: version}
}

// shareFilter composes the "$share/<group>/<filter>" wire form MQTT uses for
// shared subscriptions on both protocol versions (neither version's SUBSCRIBE
// payload has a dedicated share-name field).
func shareFilter(entry connection.SubscribeEntry) string {
	if entry.ShareName == "" {
		return entry.TopicFilter
	}
	return "$share/" + entry.ShareName + "/" + entry.TopicFilter
}

func splitShareFilter(raw string) (shareName, filter string) {
	const prefix = "$share/"
	if !strings.HasPrefix(raw, prefix) {
		return "", raw
	}
	rest := raw[len(prefix):]
	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return "", raw
	}
	return rest[:idx], rest[idx+1:]
}

// Encode writes ev's wire representation for the codec's negotiated version.
// Only EventSend-shaped events (exactly one typed field set) are meaningful.
func (c *codec) Encode(w io.Writer, ev connection.Event) error {
	switch {
	case ev.Connect != nil:
		return c.encodeConnect(w, ev.Connect)
	case ev.Connack != nil:
		return c.encodeConnack(w, ev.Connack)
	case ev.Publish != nil:
		return c.encodePublish(w, ev.Publish)
	case ev.PubAck != nil:
		return c.encodePubAck(w, ev.PubAck)
	case ev.PubRec != nil:
		return c.encodePubRec(w, ev.PubRec)
	case ev.PubRel != nil:
		return c.encodePubRel(w, ev.PubRel)
	case ev.PubComp != nil:
		return c.encodePubComp(w, ev.PubComp)
	case ev.Subscribe != nil:
		return c.encodeSubscribe(w, ev.Subscribe)
	case ev.Suback != nil:
		return c.encodeSuback(w, ev.Suback)
	case ev.Unsubscribe != nil:
		return c.encodeUnsubscribe(w, ev.Unsubscribe)
	case ev.Unsuback != nil:
		return c.encodeUnsuback(w, ev.Unsuback)
	case ev.Disconnect != nil:
		return c.encodeDisconnect(w, ev.Disconnect)
	case ev.Pingreq:
		return (&encoding.PingreqPacket{FixedHeader: encoding.FixedHeader{Type: encoding.PINGREQ}}).Encode(w)
	case ev.Pingresp:
		return (&encoding.PingrespPacket{FixedHeader: encoding.FixedHeader{Type: encoding.PINGRESP}}).Encode(w)
	default:
		return fmt.Errorf("endpoint: codec.Encode: empty event")
	}
}

func (c *codec) is5() bool { return c.version == encoding.ProtocolVersion50 }

func (c *codec) encodeConnect(w io.Writer, req *connection.Connect) error {
	if c.is5() {
		pkt := &encoding.ConnectPacket{
			ProtocolName:    "MQTT",
			ProtocolVersion: encoding.ProtocolVersion50,
			CleanStart:      req.CleanStart,
			KeepAlive:       req.KeepAlive,
			ClientID:        req.ClientID,
			UsernameFlag:    req.HasUsername,
			Username:        req.Username,
			PasswordFlag:    req.HasPassword,
			Password:        req.Password,
		}
		if req.ReceiveMaximum > 0 {
			_ = pkt.Properties.AddProperty(encoding.PropReceiveMaximum, req.ReceiveMaximum)
		}
		if req.TopicAliasMaximum > 0 {
			_ = pkt.Properties.AddProperty(encoding.PropTopicAliasMaximum, req.TopicAliasMaximum)
		}
		if req.SessionExpiryInterval > 0 {
			_ = pkt.Properties.AddProperty(encoding.PropSessionExpiryInterval, req.SessionExpiryInterval)
		}
		if req.MaximumPacketSize > 0 {
			_ = pkt.Properties.AddProperty(encoding.PropMaximumPacketSize, req.MaximumPacketSize)
		}
		if req.Will != nil {
			pkt.WillFlag = true
			pkt.WillQoS = req.Will.QoS
			pkt.WillRetain = req.Will.Retain
			pkt.WillTopic = req.Will.Topic
			pkt.WillPayload = req.Will.Payload
			if req.Will.DelayInterval > 0 {
				_ = pkt.WillProperties.AddProperty(encoding.PropWillDelayInterval, req.Will.DelayInterval)
			}
		}
		return pkt.Encode(w)
	}

	pkt := &encoding.ConnectPacket311{
		ProtocolName:    "MQTT",
		ProtocolVersion: encoding.ProtocolVersion311,
		CleanSession:    req.CleanStart,
		KeepAlive:       req.KeepAlive,
		ClientID:        req.ClientID,
		UsernameFlag:    req.HasUsername,
		Username:        req.Username,
		PasswordFlag:    req.HasPassword,
		Password:        req.Password,
	}
	if req.Will != nil {
		pkt.WillFlag = true
		pkt.WillQoS = req.Will.QoS
		pkt.WillRetain = req.Will.Retain
		pkt.WillTopic = req.Will.Topic
		pkt.WillPayload = req.Will.Payload
	}
	return pkt.Encode(w)
}

func (c *codec) encodeConnack(w io.Writer, ack *connection.Connack) error {
	if c.is5() {
		pkt := &encoding.ConnackPacket{
			SessionPresent: ack.SessionPresent,
			ReasonCode:     ack.ReasonCode,
		}
		if ack.ReceiveMaximum > 0 {
			_ = pkt.Properties.AddProperty(encoding.PropReceiveMaximum, ack.ReceiveMaximum)
		}
		if ack.TopicAliasMaximum > 0 {
			_ = pkt.Properties.AddProperty(encoding.PropTopicAliasMaximum, ack.TopicAliasMaximum)
		}
		if ack.MaximumPacketSize > 0 {
			_ = pkt.Properties.AddProperty(encoding.PropMaximumPacketSize, ack.MaximumPacketSize)
		}
		if ack.ServerKeepAlive > 0 {
			_ = pkt.Properties.AddProperty(encoding.PropServerKeepAlive, ack.ServerKeepAlive)
		}
		if ack.AssignedClientID != "" {
			_ = pkt.Properties.AddProperty(encoding.PropAssignedClientIdentifier, ack.AssignedClientID)
		}
		if ack.SessionExpiryInterval > 0 {
			_ = pkt.Properties.AddProperty(encoding.PropSessionExpiryInterval, ack.SessionExpiryInterval)
		}
		return pkt.Encode(w)
	}

	return (&encoding.ConnackPacket311{
		SessionPresent: ack.SessionPresent,
		ReturnCode:     connack5to311(ack.ReasonCode),
	}).Encode(w)
}

func connack5to311(rc encoding.ReasonCode) byte {
	switch rc {
	case encoding.ReasonSuccess:
		return encoding.ConnectAccepted311
	case encoding.ReasonUnsupportedProtocolVersion:
		return encoding.ConnectRefusedUnacceptableProtocol311
	case encoding.ReasonClientIdentifierNotValid:
		return encoding.ConnectRefusedIdentifierRejected311
	case encoding.ReasonServerUnavailable:
		return encoding.ConnectRefusedServerUnavailable311
	case encoding.ReasonBadUsernameOrPassword:
		return encoding.ConnectRefusedBadUsernamePassword311
	case encoding.ReasonNotAuthorized:
		return encoding.ConnectRefusedNotAuthorized311
	default:
		return encoding.ConnectRefusedServerUnavailable311
	}
}

func (c *codec) encodePublish(w io.Writer, msg *message.Message) error {
	if c.is5() {
		pkt := &encoding.PublishPacket{
			FixedHeader: encoding.FixedHeader{Type: encoding.PUBLISH, DUP: msg.DUP, QoS: msg.QoS, Retain: msg.Retain},
			TopicName:   msg.Topic,
			PacketID:    msg.PacketID,
			Payload:     msg.Payload,
		}
		if alias, ok := msg.Properties["TopicAlias"].(uint16); ok {
			_ = pkt.Properties.AddProperty(encoding.PropTopicAlias, alias)
		}
		if msg.MessageExpirySet {
			_ = pkt.Properties.AddProperty(encoding.PropMessageExpiryInterval, msg.ExpiryInterval)
		}
		return pkt.Encode(w)
	}

	return (&encoding.PublishPacket311{
		FixedHeader: encoding.FixedHeader{Type: encoding.PUBLISH, DUP: msg.DUP, QoS: msg.QoS, Retain: msg.Retain},
		TopicName:   msg.Topic,
		PacketID:    msg.PacketID,
		Payload:     msg.Payload,
	}).Encode(w)
}

func (c *codec) encodePubAck(w io.Writer, ack *connection.PubAck) error {
	if c.is5() {
		return encodeAck4(w, encoding.PUBACK, ack.PacketID, ack.ReasonCode)
	}
	return (&encoding.PubackPacket311{PacketID: ack.PacketID}).Encode(w)
}

func (c *codec) encodePubRec(w io.Writer, rec *connection.PubRec) error {
	if c.is5() {
		return encodeAck4(w, encoding.PUBREC, rec.PacketID, rec.ReasonCode)
	}
	return (&encoding.PubrecPacket311{PacketID: rec.PacketID}).Encode(w)
}

func (c *codec) encodePubRel(w io.Writer, rel *connection.PubRel) error {
	if c.is5() {
		pkt := &encoding.PubrelPacket{PacketID: rel.PacketID, ReasonCode: rel.ReasonCode}
		return pkt.Encode(w)
	}
	return (&encoding.PubrelPacket311{PacketID: rel.PacketID}).Encode(w)
}

func (c *codec) encodePubComp(w io.Writer, comp *connection.PubComp) error {
	if c.is5() {
		return encodeAck4(w, encoding.PUBCOMP, comp.PacketID, comp.ReasonCode)
	}
	return (&encoding.PubcompPacket311{PacketID: comp.PacketID}).Encode(w)
}

// encodeAck4 covers the three MQTT5 ack types whose struct shape is
// identical (PacketID + ReasonCode + Properties): PUBACK, PUBREC, PUBCOMP.
func encodeAck4(w io.Writer, t encoding.PacketType, id uint16, rc encoding.ReasonCode) error {
	switch t {
	case encoding.PUBACK:
		return (&encoding.PubackPacket{PacketID: id, ReasonCode: rc}).Encode(w)
	case encoding.PUBREC:
		return (&encoding.PubrecPacket{PacketID: id, ReasonCode: rc}).Encode(w)
	case encoding.PUBCOMP:
		return (&encoding.PubcompPacket{PacketID: id, ReasonCode: rc}).Encode(w)
	default:
		return fmt.Errorf("endpoint: encodeAck4: unsupported type %v", t)
	}
}

func (c *codec) encodeSubscribe(w io.Writer, sub *connection.Subscribe) error {
	if c.is5() {
		pkt := &encoding.SubscribePacket{PacketID: sub.PacketID}
		if sub.SubIdentity > 0 {
			_ = pkt.Properties.AddProperty(encoding.PropSubscriptionIdentifier, sub.SubIdentity)
		}
		for _, e := range sub.Entries {
			pkt.Subscriptions = append(pkt.Subscriptions, encoding.Subscription{
				TopicFilter:       shareFilter(e),
				QoS:               e.QoS,
				NoLocal:           e.NoLocal,
				RetainAsPublished: e.RetainAsPublished,
				RetainHandling:    e.RetainHandling,
			})
		}
		return pkt.Encode(w)
	}

	pkt := &encoding.SubscribePacket311{PacketID: sub.PacketID}
	for _, e := range sub.Entries {
		pkt.Subscriptions = append(pkt.Subscriptions, encoding.Subscription311{TopicFilter: shareFilter(e), QoS: e.QoS})
	}
	return pkt.Encode(w)
}

func (c *codec) encodeSuback(w io.Writer, ack *connection.Suback) error {
	if c.is5() {
		return (&encoding.SubackPacket{PacketID: ack.PacketID, ReasonCodes: ack.ReasonCodes}).Encode(w)
	}
	codes := make([]byte, len(ack.ReasonCodes))
	for i, rc := range ack.ReasonCodes {
		codes[i] = byte(rc)
	}
	return (&encoding.SubackPacket311{PacketID: ack.PacketID, ReturnCodes: codes}).Encode(w)
}

func (c *codec) encodeUnsubscribe(w io.Writer, uns *connection.Unsubscribe) error {
	if c.is5() {
		return (&encoding.UnsubscribePacket{PacketID: uns.PacketID, TopicFilters: uns.TopicFilters}).Encode(w)
	}
	return (&encoding.UnsubscribePacket311{PacketID: uns.PacketID, TopicFilters: uns.TopicFilters}).Encode(w)
}

func (c *codec) encodeUnsuback(w io.Writer, ack *connection.Unsuback) error {
	if c.is5() {
		return (&encoding.UnsubackPacket{PacketID: ack.PacketID, ReasonCodes: ack.ReasonCodes}).Encode(w)
	}
	return (&encoding.UnsubackPacket311{PacketID: ack.PacketID}).Encode(w)
}

func (c *codec) encodeDisconnect(w io.Writer, d *connection.Disconnect) error {
	if c.is5() {
		pkt := &encoding.DisconnectPacket{ReasonCode: d.ReasonCode}
		if d.ReasonString != "" {
			_ = pkt.Properties.AddProperty(encoding.PropReasonString, d.ReasonString)
		}
		if d.SessionExpiryInterval != nil {
			_ = pkt.Properties.AddProperty(encoding.PropSessionExpiryInterval, *d.SessionExpiryInterval)
		}
		if d.ServerReference != "" {
			_ = pkt.Properties.AddProperty(encoding.PropServerReference, d.ServerReference)
		}
		return pkt.Encode(w)
	}
	return (&encoding.DisconnectPacket311{}).Encode(w)
}

// Decode reads one packet from r and translates it to the corresponding
// connection.Event (Kind EventReceived, or Pingreq/Pingresp bools set).
func (c *codec) Decode(r io.Reader) (connection.Event, error) {
	fh, err := encoding.ParseFixedHeader(r)
	if err != nil {
		return connection.Event{}, err
	}

	switch fh.Type {
	case encoding.CONNECT:
		return c.decodeConnect(r, fh)
	case encoding.CONNACK:
		return c.decodeConnack(r, fh)
	case encoding.PUBLISH:
		return c.decodePublish(r, fh)
	case encoding.PUBACK:
		return c.decodePubAck(r, fh)
	case encoding.PUBREC:
		return c.decodePubRec(r, fh)
	case encoding.PUBREL:
		return c.decodePubRel(r, fh)
	case encoding.PUBCOMP:
		return c.decodePubComp(r, fh)
	case encoding.SUBSCRIBE:
		return c.decodeSubscribe(r, fh)
	case encoding.SUBACK:
		return c.decodeSuback(r, fh)
	case encoding.UNSUBSCRIBE:
		return c.decodeUnsubscribe(r, fh)
	case encoding.UNSUBACK:
		return c.decodeUnsuback(r, fh)
	case encoding.PINGREQ:
		return connection.Event{Kind: connection.EventReceived, Pingreq: true}, nil
	case encoding.PINGRESP:
		return connection.Event{Kind: connection.EventReceived, Pingresp: true}, nil
	case encoding.DISCONNECT:
		return c.decodeDisconnect(r, fh)
	default:
		return connection.Event{}, fmt.Errorf("endpoint: codec.Decode: unsupported packet type %v", fh.Type)
	}
}

// connectEventFromV5 converts a decoded MQTT5 CONNECT into the neutral event
// shape the Connection core consumes.
func connectEventFromV5(pkt *encoding.ConnectPacket) *connection.Connect {
	req := &connection.Connect{
		ProtocolVersion: pkt.ProtocolVersion,
		ClientID:        pkt.ClientID,
		CleanStart:      pkt.CleanStart,
		KeepAlive:       pkt.KeepAlive,
		Username:        pkt.Username,
		Password:        pkt.Password,
		HasUsername:     pkt.UsernameFlag,
		HasPassword:     pkt.PasswordFlag,
	}
	if rm := pkt.Properties.GetProperty(encoding.PropReceiveMaximum); rm != nil {
		req.ReceiveMaximum, _ = rm.Value.(uint16)
	}
	if tam := pkt.Properties.GetProperty(encoding.PropTopicAliasMaximum); tam != nil {
		req.TopicAliasMaximum, _ = tam.Value.(uint16)
	}
	if mps := pkt.Properties.GetProperty(encoding.PropMaximumPacketSize); mps != nil {
		req.MaximumPacketSize, _ = mps.Value.(uint32)
	}
	if sei := pkt.Properties.GetProperty(encoding.PropSessionExpiryInterval); sei != nil {
		req.SessionExpiryInterval, _ = sei.Value.(uint32)
	}
	if pkt.WillFlag {
		req.Will = &connection.Will{Topic: pkt.WillTopic, Payload: pkt.WillPayload, QoS: pkt.WillQoS, Retain: pkt.WillRetain}
		if wd := pkt.WillProperties.GetProperty(encoding.PropWillDelayInterval); wd != nil {
			req.Will.DelayInterval, _ = wd.Value.(uint32)
		}
	}
	return req
}

// connectEventFromV311 is connectEventFromV5's 3.1.1 counterpart; 3.1.1 has
// no properties, so there is nothing beyond the flat struct fields to copy.
func connectEventFromV311(pkt *encoding.ConnectPacket311) *connection.Connect {
	req := &connection.Connect{
		ProtocolVersion: pkt.ProtocolVersion,
		ClientID:        pkt.ClientID,
		CleanStart:      pkt.CleanSession,
		KeepAlive:       pkt.KeepAlive,
		Username:        pkt.Username,
		Password:        pkt.Password,
		HasUsername:     pkt.UsernameFlag,
		HasPassword:     pkt.PasswordFlag,
	}
	if pkt.WillFlag {
		req.Will = &connection.Will{Topic: pkt.WillTopic, Payload: pkt.WillPayload, QoS: pkt.WillQoS, Retain: pkt.WillRetain}
	}
	return req
}

// decodeConnect handles the one packet type whose wire format the codec
// cannot know in advance when it hasn't been told a version (a server-role
// Endpoint starts out with c.version unset and learns it from the client's
// first CONNECT). Once sniffed, c.version is pinned so every subsequent
// packet on this connection decodes with the version known up front.
func (c *codec) decodeConnect(r io.Reader, fh *encoding.FixedHeader) (connection.Event, error) {
	if c.version == 0 {
		v5, v311, version, err := encoding.ParseConnectAnyVersion(r, fh)
		if err != nil {
			return connection.Event{}, err
		}
		c.version = version
		var req *connection.Connect
		if v5 != nil {
			req = connectEventFromV5(v5)
		} else {
			req = connectEventFromV311(v311)
		}
		return connection.Event{Kind: connection.EventReceived, Connect: req}, nil
	}

	if c.is5() {
		pkt, err := encoding.ParseConnectPacket(r, fh)
		if err != nil {
			return connection.Event{}, err
		}
		return connection.Event{Kind: connection.EventReceived, Connect: connectEventFromV5(pkt)}, nil
	}

	pkt, err := encoding.ParseConnectPacket311(r, fh)
	if err != nil {
		return connection.Event{}, err
	}
	return connection.Event{Kind: connection.EventReceived, Connect: connectEventFromV311(pkt)}, nil
}

func (c *codec) decodeConnack(r io.Reader, fh *encoding.FixedHeader) (connection.Event, error) {
	if c.is5() {
		pkt, err := encoding.ParseConnackPacket(r, fh)
		if err != nil {
			return connection.Event{}, err
		}
		ack := &connection.Connack{SessionPresent: pkt.SessionPresent, ReasonCode: pkt.ReasonCode}
		if rm := pkt.Properties.GetProperty(encoding.PropReceiveMaximum); rm != nil {
			ack.ReceiveMaximum, _ = rm.Value.(uint16)
		}
		if tam := pkt.Properties.GetProperty(encoding.PropTopicAliasMaximum); tam != nil {
			ack.TopicAliasMaximum, _ = tam.Value.(uint16)
		}
		if mps := pkt.Properties.GetProperty(encoding.PropMaximumPacketSize); mps != nil {
			ack.MaximumPacketSize, _ = mps.Value.(uint32)
		}
		if ska := pkt.Properties.GetProperty(encoding.PropServerKeepAlive); ska != nil {
			ack.ServerKeepAlive, _ = ska.Value.(uint16)
		}
		if aci := pkt.Properties.GetProperty(encoding.PropAssignedClientIdentifier); aci != nil {
			ack.AssignedClientID, _ = aci.Value.(string)
		}
		return connection.Event{Kind: connection.EventReceived, Connack: ack}, nil
	}

	pkt, err := encoding.ParseConnackPacket311(r, fh)
	if err != nil {
		return connection.Event{}, err
	}
	rc := encoding.ReasonSuccess
	if pkt.ReturnCode != encoding.ConnectAccepted311 {
		rc = encoding.ReasonServerUnavailable
	}
	return connection.Event{Kind: connection.EventReceived, Connack: &connection.Connack{
		SessionPresent: pkt.SessionPresent,
		ReasonCode:     rc,
	}}, nil
}

func (c *codec) decodePublish(r io.Reader, fh *encoding.FixedHeader) (connection.Event, error) {
	if c.is5() {
		pkt, err := encoding.ParsePublishPacket(r, fh)
		if err != nil {
			return connection.Event{}, err
		}
		msg := message.NewMessage(pkt.PacketID, pkt.TopicName, pkt.Payload, fh.QoS, fh.Retain, nil)
		msg.DUP = fh.DUP
		if alias := pkt.Properties.GetProperty(encoding.PropTopicAlias); alias != nil {
			if msg.Properties == nil {
				msg.Properties = make(map[string]interface{})
			}
			msg.Properties["TopicAlias"], _ = alias.Value.(uint16)
		}
		if mei := pkt.Properties.GetProperty(encoding.PropMessageExpiryInterval); mei != nil {
			if v, ok := mei.Value.(uint32); ok {
				msg.ExpiryInterval = v
				msg.MessageExpirySet = true
			}
		}
		return connection.Event{Kind: connection.EventReceived, Publish: msg}, nil
	}

	pkt, err := encoding.ParsePublishPacket311(r, fh)
	if err != nil {
		return connection.Event{}, err
	}
	msg := message.NewMessage(pkt.PacketID, pkt.TopicName, pkt.Payload, fh.QoS, fh.Retain, nil)
	msg.DUP = fh.DUP
	return connection.Event{Kind: connection.EventReceived, Publish: msg}, nil
}

func (c *codec) decodePubAck(r io.Reader, fh *encoding.FixedHeader) (connection.Event, error) {
	if c.is5() {
		pkt, err := encoding.ParsePubackPacket(r, fh)
		if err != nil {
			return connection.Event{}, err
		}
		return connection.Event{Kind: connection.EventReceived, PubAck: &connection.PubAck{PacketID: pkt.PacketID, ReasonCode: pkt.ReasonCode}}, nil
	}
	pkt, err := encoding.ParsePubackPacket311(r, fh)
	if err != nil {
		return connection.Event{}, err
	}
	return connection.Event{Kind: connection.EventReceived, PubAck: &connection.PubAck{PacketID: pkt.PacketID, ReasonCode: encoding.ReasonSuccess}}, nil
}

func (c *codec) decodePubRec(r io.Reader, fh *encoding.FixedHeader) (connection.Event, error) {
	if c.is5() {
		pkt, err := encoding.ParsePubrecPacket(r, fh)
		if err != nil {
			return connection.Event{}, err
		}
		return connection.Event{Kind: connection.EventReceived, PubRec: &connection.PubRec{PacketID: pkt.PacketID, ReasonCode: pkt.ReasonCode}}, nil
	}
	pkt, err := encoding.ParsePubrecPacket311(r, fh)
	if err != nil {
		return connection.Event{}, err
	}
	return connection.Event{Kind: connection.EventReceived, PubRec: &connection.PubRec{PacketID: pkt.PacketID, ReasonCode: encoding.ReasonSuccess}}, nil
}

func (c *codec) decodePubRel(r io.Reader, fh *encoding.FixedHeader) (connection.Event, error) {
	if c.is5() {
		pkt, err := encoding.ParsePubrelPacket(r, fh)
		if err != nil {
			return connection.Event{}, err
		}
		return connection.Event{Kind: connection.EventReceived, PubRel: &connection.PubRel{PacketID: pkt.PacketID, ReasonCode: pkt.ReasonCode}}, nil
	}
	pkt, err := encoding.ParsePubrelPacket311(r, fh)
	if err != nil {
		return connection.Event{}, err
	}
	return connection.Event{Kind: connection.EventReceived, PubRel: &connection.PubRel{PacketID: pkt.PacketID, ReasonCode: encoding.ReasonSuccess}}, nil
}

func (c *codec) decodePubComp(r io.Reader, fh *encoding.FixedHeader) (connection.Event, error) {
	if c.is5() {
		pkt, err := encoding.ParsePubcompPacket(r, fh)
		if err != nil {
			return connection.Event{}, err
		}
		return connection.Event{Kind: connection.EventReceived, PubComp: &connection.PubComp{PacketID: pkt.PacketID, ReasonCode: pkt.ReasonCode}}, nil
	}
	pkt, err := encoding.ParsePubcompPacket311(r, fh)
	if err != nil {
		return connection.Event{}, err
	}
	return connection.Event{Kind: connection.EventReceived, PubComp: &connection.PubComp{PacketID: pkt.PacketID, ReasonCode: encoding.ReasonSuccess}}, nil
}

func (c *codec) decodeSubscribe(r io.Reader, fh *encoding.FixedHeader) (connection.Event, error) {
	if c.is5() {
		pkt, err := encoding.ParseSubscribePacket(r, fh)
		if err != nil {
			return connection.Event{}, err
		}
		sub := &connection.Subscribe{PacketID: pkt.PacketID}
		if si := pkt.Properties.GetProperty(encoding.PropSubscriptionIdentifier); si != nil {
			sub.SubIdentity, _ = si.Value.(uint32)
		}
		for _, s := range pkt.Subscriptions {
			share, filter := splitShareFilter(s.TopicFilter)
			sub.Entries = append(sub.Entries, connection.SubscribeEntry{
				ShareName: share, TopicFilter: filter, QoS: s.QoS,
				NoLocal: s.NoLocal, RetainAsPublished: s.RetainAsPublished, RetainHandling: s.RetainHandling,
			})
		}
		return connection.Event{Kind: connection.EventReceived, Subscribe: sub}, nil
	}

	pkt, err := encoding.ParseSubscribePacket311(r, fh)
	if err != nil {
		return connection.Event{}, err
	}
	sub := &connection.Subscribe{PacketID: pkt.PacketID}
	for _, s := range pkt.Subscriptions {
		share, filter := splitShareFilter(s.TopicFilter)
		sub.Entries = append(sub.Entries, connection.SubscribeEntry{ShareName: share, TopicFilter: filter, QoS: s.QoS})
	}
	return connection.Event{Kind: connection.EventReceived, Subscribe: sub}, nil
}

func (c *codec) decodeSuback(r io.Reader, fh *encoding.FixedHeader) (connection.Event, error) {
	if c.is5() {
		pkt, err := encoding.ParseSubackPacket(r, fh)
		if err != nil {
			return connection.Event{}, err
		}
		return connection.Event{Kind: connection.EventReceived, Suback: &connection.Suback{PacketID: pkt.PacketID, ReasonCodes: pkt.ReasonCodes}}, nil
	}
	pkt, err := encoding.ParseSubackPacket311(r, fh)
	if err != nil {
		return connection.Event{}, err
	}
	codes := make([]encoding.ReasonCode, len(pkt.ReturnCodes))
	for i, b := range pkt.ReturnCodes {
		codes[i] = encoding.ReasonCode(b)
	}
	return connection.Event{Kind: connection.EventReceived, Suback: &connection.Suback{PacketID: pkt.PacketID, ReasonCodes: codes}}, nil
}

func (c *codec) decodeUnsubscribe(r io.Reader, fh *encoding.FixedHeader) (connection.Event, error) {
	if c.is5() {
		pkt, err := encoding.ParseUnsubscribePacket(r, fh)
		if err != nil {
			return connection.Event{}, err
		}
		return connection.Event{Kind: connection.EventReceived, Unsubscribe: &connection.Unsubscribe{PacketID: pkt.PacketID, TopicFilters: pkt.TopicFilters}}, nil
	}
	pkt, err := encoding.ParseUnsubscribePacket311(r, fh)
	if err != nil {
		return connection.Event{}, err
	}
	return connection.Event{Kind: connection.EventReceived, Unsubscribe: &connection.Unsubscribe{PacketID: pkt.PacketID, TopicFilters: pkt.TopicFilters}}, nil
}

func (c *codec) decodeUnsuback(r io.Reader, fh *encoding.FixedHeader) (connection.Event, error) {
	if c.is5() {
		pkt, err := encoding.ParseUnsubackPacket(r, fh)
		if err != nil {
			return connection.Event{}, err
		}
		return connection.Event{Kind: connection.EventReceived, Unsuback: &connection.Unsuback{PacketID: pkt.PacketID, ReasonCodes: pkt.ReasonCodes}}, nil
	}
	pkt, err := encoding.ParseUnsubackPacket311(r, fh)
	if err != nil {
		return connection.Event{}, err
	}
	return connection.Event{Kind: connection.EventReceived, Unsuback: &connection.Unsuback{PacketID: pkt.PacketID}}, nil
}

func (c *codec) decodeDisconnect(r io.Reader, fh *encoding.FixedHeader) (connection.Event, error) {
	if c.is5() {
		pkt, err := encoding.ParseDisconnectPacket(r, fh)
		if err != nil {
			return connection.Event{}, err
		}
		d := &connection.Disconnect{ReasonCode: pkt.ReasonCode}
		if rs := pkt.Properties.GetProperty(encoding.PropReasonString); rs != nil {
			d.ReasonString, _ = rs.Value.(string)
		}
		if sr := pkt.Properties.GetProperty(encoding.PropServerReference); sr != nil {
			d.ServerReference, _ = sr.Value.(string)
		}
		return connection.Event{Kind: connection.EventReceived, Disconnect: d}, nil
	}
	if _, err := encoding.ParseDisconnectPacket311(fh); err != nil {
		return connection.Event{}, err
	}
	return connection.Event{Kind: connection.EventReceived, Disconnect: &connection.Disconnect{ReasonCode: encoding.ReasonSuccess}}, nil
}
