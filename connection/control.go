package connection

// Subscribe sends a SUBSCRIBE, allocating a packet id.
func (c *Connection) Subscribe(entries []SubscribeEntry) (uint16, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return 0, ErrNotConnected
	}
	id, ok := c.packetIDs.Acquire()
	if !ok {
		c.mu.Unlock()
		return 0, ErrUnsupportedPacket
	}
	onSend := c.cb.OnSend
	c.mu.Unlock()

	if onSend == nil {
		return id, nil
	}
	return id, onSend(Event{Kind: EventSend, Subscribe: &Subscribe{PacketID: id, Entries: entries}})
}

// HandleReceivedSuback releases the packet id reserved by Subscribe.
func (c *Connection) HandleReceivedSuback(ack *Suback) error {
	c.mu.Lock()
	c.packetIDs.Release(ack.PacketID)
	onRelease := c.cb.OnPacketIDRelease
	onReceive := c.cb.OnReceive
	c.mu.Unlock()

	if onRelease != nil {
		onRelease(ack.PacketID)
	}
	if onReceive != nil {
		onReceive(Event{Kind: EventReceived, Suback: ack})
	}
	return nil
}

// Unsubscribe sends an UNSUBSCRIBE, allocating a packet id.
func (c *Connection) Unsubscribe(filters []string) (uint16, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return 0, ErrNotConnected
	}
	id, ok := c.packetIDs.Acquire()
	if !ok {
		c.mu.Unlock()
		return 0, ErrUnsupportedPacket
	}
	onSend := c.cb.OnSend
	c.mu.Unlock()

	if onSend == nil {
		return id, nil
	}
	return id, onSend(Event{Kind: EventSend, Unsubscribe: &Unsubscribe{PacketID: id, TopicFilters: filters}})
}

// HandleReceivedUnsuback releases the packet id reserved by Unsubscribe.
func (c *Connection) HandleReceivedUnsuback(ack *Unsuback) error {
	c.mu.Lock()
	c.packetIDs.Release(ack.PacketID)
	onRelease := c.cb.OnPacketIDRelease
	onReceive := c.cb.OnReceive
	c.mu.Unlock()

	if onRelease != nil {
		onRelease(ack.PacketID)
	}
	if onReceive != nil {
		onReceive(Event{Kind: EventReceived, Unsuback: ack})
	}
	return nil
}

// SendSuback sends a SUBACK in reply to a received SUBSCRIBE (server role
// only; the client side gets its SUBACK via HandleReceivedSuback instead).
// The Connection core holds no subscription state, so unlike Publish there
// is no packet-id bookkeeping here — ack.PacketID must already be the one
// from the triggering SUBSCRIBE.
func (c *Connection) SendSuback(ack *Suback) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	onSend := c.cb.OnSend
	c.mu.Unlock()
	if onSend == nil {
		return nil
	}
	return onSend(Event{Kind: EventSend, Suback: ack})
}

// SendUnsuback is SendSuback's UNSUBACK counterpart.
func (c *Connection) SendUnsuback(ack *Unsuback) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	onSend := c.cb.OnSend
	c.mu.Unlock()
	if onSend == nil {
		return nil
	}
	return onSend(Event{Kind: EventSend, Unsuback: ack})
}

// HandleReceivedSubscribe and HandleReceivedUnsubscribe simply surface to
// the owner (the broker decides authorization and trie updates); the
// Connection core has no subscription state of its own.
func (c *Connection) HandleReceivedSubscribe(sub *Subscribe) {
	c.mu.Lock()
	onReceive := c.cb.OnReceive
	c.mu.Unlock()
	if onReceive != nil {
		onReceive(Event{Kind: EventReceived, Subscribe: sub})
	}
}

func (c *Connection) HandleReceivedUnsubscribe(uns *Unsubscribe) {
	c.mu.Lock()
	onReceive := c.cb.OnReceive
	c.mu.Unlock()
	if onReceive != nil {
		onReceive(Event{Kind: EventReceived, Unsubscribe: uns})
	}
}

// SendDisconnect transitions to Disconnecting and emits the DISCONNECT.
func (c *Connection) SendDisconnect(d *Disconnect) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.state = StateDisconnecting
	onSend := c.cb.OnSend
	c.mu.Unlock()

	if onSend != nil {
		if err := onSend(Event{Kind: EventSend, Disconnect: d}); err != nil {
			return err
		}
	}
	c.NotifyDisconnect()
	return nil
}

// HandleReceivedDisconnect processes an inbound DISCONNECT.
func (c *Connection) HandleReceivedDisconnect(d *Disconnect) {
	c.mu.Lock()
	onReceive := c.cb.OnReceive
	c.mu.Unlock()
	if onReceive != nil {
		onReceive(Event{Kind: EventReceived, Disconnect: d})
	}
	c.NotifyDisconnect()
}
