package connection

import (
	"fmt"

	"github.com/embermqtt/ember/encoding"
	"github.com/embermqtt/ember/types/message"
)

// Publish sends a PUBLISH. QoS0 is handed straight to OnSend; QoS1/QoS2
// first consult the packet-id allocator and the receive-maximum window,
// queuing locally if the peer's window is currently full.
func (c *Connection) Publish(topic string, payload []byte, qos encoding.QoS, retain bool, props map[string]interface{}) (uint16, error) {
	c.mu.Lock()

	if c.state != StateConnected && !(c.flags.OfflinePublish && qos != encoding.QoS0) {
		c.mu.Unlock()
		return 0, ErrNotConnected
	}

	if qos == encoding.QoS0 {
		msg := message.NewMessage(0, topic, payload, qos, retain, props)
		c.applyTopicAliasSendLocked(msg)
		onSend := c.cb.OnSend
		c.mu.Unlock()
		if onSend != nil {
			return 0, onSend(Event{Kind: EventSend, Publish: msg})
		}
		return 0, nil
	}

	id, ok := c.packetIDs.Acquire()
	if !ok {
		c.mu.Unlock()
		return 0, fmt.Errorf("connection: %w", ErrUnsupportedPacket)
	}

	msg := message.NewMessage(id, topic, payload, qos, retain, props)
	c.applyTopicAliasSendLocked(msg)

	size := estimatedPublishEncodedSize(msg.Topic, msg.Payload, qos, msg.Properties)
	if c.maxPacketSizePeer > 0 && uint32(size) > c.maxPacketSizePeer {
		c.packetIDs.Release(id)
		c.mu.Unlock()
		return 0, ErrPacketTooLarge
	}

	tag := ResponsePuback
	if qos == encoding.QoS2 {
		tag = ResponsePubrec
	}
	c.outbound.Add(&StoredPacket{
		PacketID:    id,
		Response:    tag,
		Topic:       msg.Topic,
		Payload:     msg.Payload,
		QoS:         qos,
		Retain:      retain,
		Properties:  props,
		EncodedSize: size,
	})

	if c.state != StateConnected {
		// offline_publish: the packet only sits in the outbound store and is
		// sent by the replay that follows a session-present CONNACK.
		c.mu.Unlock()
		return id, nil
	}

	if c.publishSendCount >= c.receiveMaximumPeerOrDefaultLocked() {
		c.sendQueue = append(c.sendQueue, msg)
		c.mu.Unlock()
		return id, nil
	}
	c.publishSendCount++
	onSend := c.cb.OnSend
	c.mu.Unlock()

	if onSend == nil {
		return id, nil
	}
	if err := onSend(Event{Kind: EventSend, Publish: msg}); err != nil {
		return id, err
	}
	return id, nil
}

func (c *Connection) receiveMaximumPeerOrDefaultLocked() uint16 {
	if c.receiveMaximumPeer == 0 {
		return 65535
	}
	return c.receiveMaximumPeer
}

// applyTopicAliasSendLocked rewrites msg.Topic/adds a TopicAlias property
// per the auto_map_topic_alias_send / auto_replace_topic_alias_send flags.
// Caller holds c.mu.
func (c *Connection) applyTopicAliasSendLocked(msg *message.Message) {
	if !c.flags.AutoMapTopicAliasSend || msg.Topic == "" {
		return
	}
	if alias, ok := c.sendAlias.Lookup(msg.Topic); ok {
		if c.flags.AutoReplaceTopicAliasSend {
			msg.Topic = ""
		}
		setProp(msg, "TopicAlias", alias)
		return
	}
	if alias, ok := c.sendAlias.Assign(msg.Topic); ok {
		setProp(msg, "TopicAlias", alias)
	}
}

func setProp(msg *message.Message, key string, val interface{}) {
	if msg.Properties == nil {
		msg.Properties = make(map[string]interface{})
	}
	msg.Properties[key] = val
}

// releaseSendFlowWindow is called whenever an outstanding QoS1/2 publish is
// finally acknowledged; it opens the receive-maximum window by one and
// flushes the oldest queued publish, if any.
func (c *Connection) releaseSendFlowWindowLocked() {
	if c.publishSendCount > 0 {
		c.publishSendCount--
	}
	if len(c.sendQueue) == 0 {
		return
	}
	next := c.sendQueue[0]
	c.sendQueue = c.sendQueue[1:]
	c.publishSendCount++
	onSend := c.cb.OnSend
	go func() {
		if onSend != nil {
			_ = onSend(Event{Kind: EventSend, Publish: next})
		}
	}()
}

// HandleReceivedPublish processes an inbound PUBLISH. For QoS1 it emits
// PUBACK (if auto_pub_response); for QoS2 it dedups against the
// qos2_publish_handled set and emits PUBREC.
func (c *Connection) HandleReceivedPublish(msg *message.Message) error {
	if err := c.resolveTopicAliasRecv(msg); err != nil {
		return err
	}

	c.mu.Lock()
	onReceive := c.cb.OnReceive
	auto := c.flags.AutoPubResponse
	onSend := c.cb.OnSend

	switch msg.QoS {
	case encoding.QoS0:
		c.mu.Unlock()
		if onReceive != nil {
			onReceive(Event{Kind: EventReceived, Publish: msg})
		}
		return nil

	case encoding.QoS1:
		c.mu.Unlock()
		if onReceive != nil {
			onReceive(Event{Kind: EventReceived, Publish: msg})
		}
		if auto && onSend != nil {
			return onSend(Event{Kind: EventSend, PubAck: &PubAck{PacketID: msg.PacketID, ReasonCode: encoding.ReasonSuccess}})
		}
		return nil

	case encoding.QoS2:
		_, dup := c.qos2Received[msg.PacketID]
		if dup {
			c.mu.Unlock()
			if auto && onSend != nil {
				return onSend(Event{Kind: EventSend, PubRec: &PubRec{PacketID: msg.PacketID, ReasonCode: encoding.ReasonSuccess}})
			}
			return nil
		}
		c.qos2Received[msg.PacketID] = struct{}{}
		c.mu.Unlock()

		if onReceive != nil {
			onReceive(Event{Kind: EventReceived, Publish: msg})
		}
		if auto && onSend != nil {
			return onSend(Event{Kind: EventSend, PubRec: &PubRec{PacketID: msg.PacketID, ReasonCode: encoding.ReasonSuccess}})
		}
		return nil

	default:
		c.mu.Unlock()
		return encoding.ErrInvalidQoS
	}
}

// resolveTopicAliasRecv resolves an inbound PUBLISH's topic alias (if any)
// against this connection's own alias table, then strips both TopicAlias
// and SubscriptionIdentifier from msg.Properties: neither is meaningful
// once the message is forwarded to another connection's subscribers, and
// leaving either in place would bleed this connection's alias numbering
// (or a subscription the recipient never made) onto the wire.
func (c *Connection) resolveTopicAliasRecv(msg *message.Message) error {
	delete(msg.Properties, "SubscriptionIdentifier")

	aliasVal, has := msg.Properties["TopicAlias"]
	if !has {
		return nil
	}
	alias, _ := aliasVal.(uint16)
	delete(msg.Properties, "TopicAlias")

	if msg.Topic != "" {
		if !c.recvAlias.Register(alias, msg.Topic) {
			c.fail(encoding.ReasonTopicAliasInvalid, "alias out of range")
			return ErrTopicAliasInvalid
		}
		return nil
	}
	topic, ok := c.recvAlias.Resolve(alias)
	if !ok {
		c.fail(encoding.ReasonTopicAliasInvalid, "alias referenced before being registered")
		return ErrTopicAliasInvalid
	}
	msg.Topic = topic
	return nil
}

// HandleReceivedPubAck completes a QoS1 send.
func (c *Connection) HandleReceivedPubAck(ack *PubAck) error {
	c.mu.Lock()
	stored := c.outbound.Erase(ResponsePuback, ack.PacketID)
	if stored == nil {
		c.mu.Unlock()
		return ErrUnexpectedAck
	}
	c.packetIDs.Release(ack.PacketID)
	c.releaseSendFlowWindowLocked()
	onRelease := c.cb.OnPacketIDRelease
	c.mu.Unlock()

	if onRelease != nil {
		onRelease(ack.PacketID)
	}
	return nil
}

// HandleReceivedPubRec advances a QoS2 send to awaiting-PUBCOMP and replies
// with PUBREL.
func (c *Connection) HandleReceivedPubRec(rec *PubRec) error {
	c.mu.Lock()
	stored, ok := c.outbound.Get(rec.PacketID)
	if !ok {
		c.mu.Unlock()
		return ErrUnexpectedAck
	}
	c.outbound.Rekey(rec.PacketID, ResponsePubcomp)
	onSend := c.cb.OnSend
	c.mu.Unlock()

	_ = stored
	if onSend != nil {
		return onSend(Event{Kind: EventSend, PubRel: &PubRel{PacketID: rec.PacketID, ReasonCode: encoding.ReasonSuccess}})
	}
	return nil
}

// HandleReceivedPubComp completes a QoS2 send.
func (c *Connection) HandleReceivedPubComp(comp *PubComp) error {
	c.mu.Lock()
	stored := c.outbound.Erase(ResponsePubcomp, comp.PacketID)
	if stored == nil {
		c.mu.Unlock()
		return ErrUnexpectedAck
	}
	c.packetIDs.Release(comp.PacketID)
	c.releaseSendFlowWindowLocked()
	onRelease := c.cb.OnPacketIDRelease
	c.mu.Unlock()

	if onRelease != nil {
		onRelease(comp.PacketID)
	}
	return nil
}

// HandleReceivedPubRel completes the receive side of QoS2: clears the
// dedup entry and replies PUBCOMP.
func (c *Connection) HandleReceivedPubRel(rel *PubRel) error {
	c.mu.Lock()
	delete(c.qos2Received, rel.PacketID)
	auto := c.flags.AutoPubResponse
	onSend := c.cb.OnSend
	c.mu.Unlock()

	if auto && onSend != nil {
		return onSend(Event{Kind: EventSend, PubComp: &PubComp{PacketID: rel.PacketID, ReasonCode: encoding.ReasonSuccess}})
	}
	return nil
}

// RestorePackets seeds the outbound store and packet-id pool from a
// previous session's snapshot (see endpoint.RestorePackets / §4.9). Ids
// already in conflict are skipped with a log line rather than an error,
// matching the "drop with log" decision for malformed restore input.
func (c *Connection) RestorePackets(stored []*StoredPacket, qos2ReceivedIDs []uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, p := range stored {
		if !c.packetIDs.Register(p.PacketID) {
			c.logger.Warn("restore_packets: skipping conflicting packet id", "packet_id", p.PacketID)
			continue
		}
		c.outbound.Add(p)
		c.publishSendCount++
	}
	for _, id := range qos2ReceivedIDs {
		c.qos2Received[id] = struct{}{}
	}
}

// GetStoredPackets returns a snapshot of the outbound store plus the set of
// QoS2-received-but-unacked packet ids, for a caller-provided persistence
// layer to save (store.Store[T], §4.9).
func (c *Connection) GetStoredPackets() ([]*StoredPacket, []uint16) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stored []*StoredPacket
	c.outbound.ForEach(func(p *StoredPacket) { stored = append(stored, p) })

	ids := make([]uint16, 0, len(c.qos2Received))
	for id := range c.qos2Received {
		ids = append(ids, id)
	}
	return stored, ids
}

// estimatedPublishEncodedSize bounds the wire size of a PUBLISH without
// running it through the codec: fixed header + topic + packet id (QoS>0) +
// a conservative per-property estimate + payload. It never undercounts a
// real encoding, so a peer's maximum_packet_size is enforced even though
// the I/O-free core never builds the actual encoding.Properties wire form.
func estimatedPublishEncodedSize(topic string, payload []byte, qos encoding.QoS, props map[string]interface{}) int {
	variableHeader := 2 + len(topic) // UTF-8 string length prefix + bytes
	if qos > encoding.QoS0 {
		variableHeader += 2 // packet id
	}

	propsLen := 0
	for key, val := range props {
		propsLen += 1 + 4 + len(key) // property id byte + a generous fixed-field estimate
		switch v := val.(type) {
		case string:
			propsLen += len(v)
		case []byte:
			propsLen += len(v)
		}
	}

	remainingLength := variableHeader + encoding.SizeVariableByteInteger(uint32(propsLen)) + propsLen + len(payload)
	return 1 + encoding.SizeVariableByteInteger(uint32(remainingLength)) + remainingLength
}
