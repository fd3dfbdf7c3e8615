package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/embermqtt/ember/connection"
	"github.com/embermqtt/ember/encoding"
	"github.com/embermqtt/ember/endpoint"
	"github.com/embermqtt/ember/hook"
	"github.com/embermqtt/ember/session"
	"github.com/embermqtt/ember/topic"
	"github.com/embermqtt/ember/types/message"
)

// clientSession binds one live Endpoint to its Session for the lifetime of a
// connection. The broker keeps one of these per entry in Broker.clients;
// once the Endpoint closes the clientSession is discarded, but the
// underlying session.Session may live on in the session store for a clean
// (non-CleanStart) client to resume later.
type clientSession struct {
	broker          *Broker
	ep              *endpoint.Endpoint
	session         *session.Session
	clientID        string
	username        string
	protocolVersion encoding.ProtocolVersion
	takenOver       bool
}

// hookClient builds the hook package's view of this connection. Built fresh
// per call rather than cached, since ConnectedAt/State never change after
// Serve hands off to pump.
func (cs *clientSession) hookClient() *hook.Client {
	return &hook.Client{
		ID:              cs.clientID,
		Username:        cs.username,
		ProtocolVersion: byte(cs.protocolVersion),
		State:           hook.ClientStateConnected,
	}
}

// pump drains the Endpoint's event channel until it closes or the DISCONNECT
// packet arrives, dispatching each inbound SUBSCRIBE/UNSUBSCRIBE/PUBLISH to
// its handler. QoS1/2 PUBACK/PUBREC/PUBREL/PUBCOMP handshaking and PINGREQ
// replies are handled inside the Connection core itself (AutoPubResponse /
// AutoPingResponse, set in Broker.Serve), so pump never sees them.
func (cs *clientSession) pump(ctx context.Context) error {
	for {
		select {
		case ev, ok := <-cs.ep.Recv():
			if !ok {
				return fmt.Errorf("broker: client %q: endpoint closed", cs.clientID)
			}
			switch {
			case ev.Subscribe != nil:
				cs.handleSubscribe(ev.Subscribe)
			case ev.Unsubscribe != nil:
				cs.handleUnsubscribe(ev.Unsubscribe)
			case ev.Publish != nil:
				cs.handlePublish(ev.Publish)
			case ev.Disconnect != nil:
				return nil
			}
		case <-cs.ep.Closed():
			if cs.takenOver {
				return fmt.Errorf("broker: client %q: session taken over", cs.clientID)
			}
			return fmt.Errorf("broker: client %q: connection lost", cs.clientID)
		case <-ctx.Done():
			_ = cs.ep.Close()
			return ctx.Err()
		}
	}
}

// grantedReasonCode maps a requested subscription QoS to the wire SUBACK
// reason code, clamped to the broker's advertised maximum QoS.
func grantedReasonCode(qos encoding.QoS, maxQoS byte) encoding.ReasonCode {
	if maxQoS > 0 && byte(qos) > maxQoS {
		qos = encoding.QoS(maxQoS)
	}
	switch qos {
	case encoding.QoS2:
		return encoding.ReasonGrantedQoS2
	case encoding.QoS1:
		return encoding.ReasonGrantedQoS1
	default:
		return encoding.ReasonGrantedQoS0
	}
}

// handleSubscribe authorizes and installs each filter in a SUBSCRIBE, then
// replies with one SUBACK carrying a reason code per entry (§3.8 of the
// MQTT5 spec allows partial success across a multi-filter SUBSCRIBE).
func (cs *clientSession) handleSubscribe(sub *connection.Subscribe) {
	ctx := context.Background()
	hc := cs.hookClient()
	reasonCodes := make([]encoding.ReasonCode, len(sub.Entries))

	for i, e := range sub.Entries {
		filter := e.TopicFilter
		if e.ShareName != "" {
			filter = "$share/" + e.ShareName + "/" + e.TopicFilter
		}

		if !cs.broker.hooks.OnACLCheck(hc, filter, hook.AccessTypeRead) {
			reasonCodes[i] = encoding.ReasonNotAuthorized
			continue
		}

		hsub := &hook.Subscription{
			ClientID: cs.clientID, TopicFilter: filter, QoS: byte(e.QoS),
			NoLocal: e.NoLocal, RetainAsPublished: e.RetainAsPublished,
			RetainHandling: e.RetainHandling, SubscriptionIdentifier: e.SubscriptionIdentifier,
			SubscribedAt: time.Now(),
		}
		if err := cs.broker.hooks.OnSubscribe(hc, hsub); err != nil {
			reasonCodes[i] = encoding.ReasonImplementationSpecificError
			continue
		}

		tsub := &topic.Subscription{
			ClientID: cs.clientID, TopicFilter: filter, QoS: byte(e.QoS),
			NoLocal: e.NoLocal, RetainAsPublished: e.RetainAsPublished,
			RetainHandling: e.RetainHandling, SubscriptionIdentifier: e.SubscriptionIdentifier,
		}
		if err := cs.broker.router.Subscribe(tsub); err != nil {
			reasonCodes[i] = encoding.ReasonTopicFilterInvalid
			continue
		}

		_, existed := cs.session.GetSubscription(filter)
		cs.session.AddSubscription(&session.Subscription{
			TopicFilter: filter, QoS: byte(e.QoS), NoLocal: e.NoLocal,
			RetainAsPublished: e.RetainAsPublished, RetainHandling: e.RetainHandling,
			SubscriptionIdentifier: e.SubscriptionIdentifier, SubscribedAt: time.Now(),
		})
		reasonCodes[i] = grantedReasonCode(e.QoS, cs.broker.caps.MaximumQoS)
		cs.broker.hooks.OnSubscribed(hc, hsub)

		if e.RetainHandling == 0 || (e.RetainHandling == 1 && !existed) {
			cs.deliverRetained(ctx, e)
		}
	}

	if err := cs.ep.Connection().SendSuback(&connection.Suback{PacketID: sub.PacketID, ReasonCodes: reasonCodes}); err != nil {
		cs.broker.logger.Warn("broker: suback send failed", "client", cs.clientID, "err", err)
	}
}

// deliverRetained flushes matching retained messages to a freshly installed
// subscription. RetainHandling (0 = always, 1 = only on a new subscription,
// 2 = never) is applied by the caller, which only calls this when it holds.
func (cs *clientSession) deliverRetained(ctx context.Context, e connection.SubscribeEntry) {
	if !cs.broker.caps.RetainAvailable {
		return
	}
	matches, err := cs.broker.retained.Match(ctx, e.TopicFilter, nil)
	if err != nil {
		return
	}
	for _, m := range matches {
		deliverQoS := m.QoS
		if e.QoS < deliverQoS {
			deliverQoS = e.QoS
		}
		props := clonedProperties(m.Properties)
		if e.SubscriptionIdentifier != 0 {
			props["SubscriptionIdentifier"] = e.SubscriptionIdentifier
		}
		if _, err := cs.ep.Connection().Publish(m.Topic, m.Payload, deliverQoS, true, props); err != nil {
			cs.broker.logger.Warn("broker: retained delivery failed", "client", cs.clientID, "topic", m.Topic, "err", err)
			continue
		}
		cs.broker.hooks.OnRetainPublished(cs.hookClient(), &hook.PublishPacket{
			Topic: m.Topic, Payload: m.Payload, QoS: byte(deliverQoS), Retain: true,
		})
	}
}

// handleUnsubscribe removes each filter from the router and the session,
// then replies with one UNSUBACK.
func (cs *clientSession) handleUnsubscribe(uns *connection.Unsubscribe) {
	hc := cs.hookClient()
	reasonCodes := make([]encoding.ReasonCode, len(uns.TopicFilters))

	for i, filter := range uns.TopicFilters {
		if err := cs.broker.hooks.OnUnsubscribe(hc, filter); err != nil {
			reasonCodes[i] = encoding.ReasonImplementationSpecificError
			continue
		}

		found := cs.broker.router.Unsubscribe(cs.clientID, filter)
		cs.session.RemoveSubscription(filter)

		if found {
			reasonCodes[i] = encoding.ReasonSuccess
			cs.broker.hooks.OnUnsubscribed(hc, filter)
		} else {
			reasonCodes[i] = encoding.ReasonNoSubscriptionExisted
		}
	}

	if err := cs.ep.Connection().SendUnsuback(&connection.Unsuback{PacketID: uns.PacketID, ReasonCodes: reasonCodes}); err != nil {
		cs.broker.logger.Warn("broker: unsuback send failed", "client", cs.clientID, "err", err)
	}
}

// handlePublish authorizes an inbound PUBLISH, retains it if requested, and
// fans it out to every matching subscriber. Acking the publisher (PUBACK/
// PUBREC) is the Connection core's job via AutoPubResponse; this method only
// ever needs to worry about the distribution side.
func (cs *clientSession) handlePublish(msg *message.Message) {
	ctx := context.Background()
	hc := cs.hookClient()
	hp := &hook.PublishPacket{
		PacketID: msg.PacketID, Topic: msg.Topic, Payload: msg.Payload,
		QoS: byte(msg.QoS), Retain: msg.Retain, Duplicate: msg.DUP,
		ProtocolVersion: byte(cs.protocolVersion), Created: msg.CreatedAt,
		Origin: cs.clientID,
	}

	if !cs.broker.hooks.OnACLCheck(hc, msg.Topic, hook.AccessTypeWrite) {
		cs.broker.hooks.OnPublishDropped(hc, hp, hook.DropReasonACLDenied)
		return
	}
	if err := cs.broker.hooks.OnPublish(hc, hp); err != nil {
		cs.broker.hooks.OnPublishDropped(hc, hp, hook.DropReasonInternalError)
		return
	}

	if msg.Retain && cs.broker.caps.RetainAvailable {
		if err := cs.broker.hooks.OnRetainMessage(hc, hp); err == nil {
			if err := cs.broker.retained.Set(ctx, msg.Topic, msg); err != nil {
				cs.broker.logger.Warn("broker: retain failed", "topic", msg.Topic, "err", err)
			}
		}
	}

	matched := cs.broker.router.MatchWithPublisher(msg.Topic, cs.clientID)
	subs := &hook.Subscribers{}
	for _, s := range matched {
		subs.Add(&hook.Subscription{
			ClientID: s.ClientID, TopicFilter: msg.Topic, QoS: s.QoS, NoLocal: s.NoLocal,
			RetainAsPublished: s.RetainAsPublished, RetainHandling: s.RetainHandling,
			SubscriptionIdentifier: s.SubscriptionIdentifier,
		})
	}
	cs.broker.hooks.OnSelectSubscribers(subs, msg.Topic)

	for _, sub := range subs.Subscriptions {
		cs.broker.deliver(ctx, sub.ClientID, msg, encoding.QoS(sub.QoS), sub.RetainAsPublished && msg.Retain, sub.SubscriptionIdentifier)
	}

	cs.broker.hooks.OnPublished(hc, hp)
}

// restorePending re-arms in-flight QoS1/2 state after a session resume
// (CONNACK.SessionPresent == true): queued outbound messages are replayed
// through the Endpoint's outbound store with DUP implied by StoredPacket's
// presence there, and packet ids awaiting a PUBREL are restored so a
// retransmitted QoS2 PUBLISH isn't treated as a fresh packet id.
func (cs *clientSession) restorePending() {
	pending := cs.session.GetAllPendingPublish()
	if len(pending) == 0 {
		return
	}

	stored := make([]*connection.StoredPacket, 0, len(pending))
	for _, p := range pending {
		tag := connection.ResponsePuback
		if p.QoS == byte(encoding.QoS2) {
			tag = connection.ResponsePubrec
		}
		stored = append(stored, &connection.StoredPacket{
			PacketID: p.PacketID, Response: tag, Topic: p.Topic, Payload: p.Payload,
			QoS: encoding.QoS(p.QoS), Retain: p.Retain, DUP: true, Properties: p.Properties,
		})
	}

	qos2Received := make([]uint16, 0, len(cs.session.PendingPubrel))
	for id := range cs.session.PendingPubrel {
		qos2Received = append(qos2Received, id)
	}

	cs.ep.RestorePackets(stored, qos2Received)
}

// clonedProperties returns a shallow copy so per-subscriber mutation (e.g.
// stamping a SubscriptionIdentifier) never bleeds across fan-out targets
// sharing the same retained/live message.
func clonedProperties(props map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(props)+1)
	for k, v := range props {
		out[k] = v
	}
	return out
}
