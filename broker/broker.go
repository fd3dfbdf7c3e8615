// Package broker is the multi-session router that sits above many
// endpoint.Endpoints: one Connection/Endpoint pair per socket, one Broker
// per listener. It owns the things a single connection has no business
// knowing about — the topic trie, the retained-message store, session
// persistence/expiry/takeover, and the hook chain that authenticates and
// authorizes every operation a client attempts.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/embermqtt/ember/connection"
	"github.com/embermqtt/ember/encoding"
	"github.com/embermqtt/ember/endpoint"
	"github.com/embermqtt/ember/hook"
	"github.com/embermqtt/ember/session"
	"github.com/embermqtt/ember/store"
	"github.com/embermqtt/ember/topic"
	"github.com/embermqtt/ember/types/message"
)

// Config controls broker-wide behaviour: session persistence, advertised
// capabilities, and the hook chain every connect/subscribe/publish runs
// through.
type Config struct {
	SessionStore   session.Store // nil -> in-memory (session.NewMemoryStore)
	Hooks          *hook.Manager // nil -> empty manager
	Capabilities   hook.Capabilities
	Logger         *slog.Logger
	OfflinePublish bool // Open Question #3: queue QoS0 for offline sessions too
}

// Broker is the reference broker's session router.
type Broker struct {
	hooks          *hook.Manager
	router         *topic.Router
	sessions       *session.Manager
	retained       *store.RetainedStore
	caps           hook.Capabilities
	logger         *slog.Logger
	offlinePublish bool

	mu           sync.RWMutex
	clients      map[string]*clientSession // clientID -> live connection, absent while offline
	shuttingDown bool
}

// New constructs a Broker. Callers accept connections by calling Serve once
// per inbound Stream (typically from a net.Listener accept loop).
func New(cfg Config) *Broker {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Hooks == nil {
		cfg.Hooks = hook.NewManager()
	}
	sessionStore := cfg.SessionStore
	if sessionStore == nil {
		sessionStore = session.NewMemoryStore()
	}

	b := &Broker{
		hooks:          cfg.Hooks,
		router:         topic.NewRouter(),
		retained:       store.NewRetainedStore(),
		caps:           cfg.Capabilities,
		logger:         cfg.Logger,
		offlinePublish: cfg.OfflinePublish,
		clients:        make(map[string]*clientSession),
	}
	b.sessions = session.NewManager(session.ManagerConfig{
		Store:         sessionStore,
		WillPublisher: b,
	})
	return b
}

// Close stops the session manager's background expiry checker and the
// retained store, and disconnects every live client.
func (b *Broker) Close() error {
	b.mu.Lock()
	clients := make([]*clientSession, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	for _, c := range clients {
		c.ep.Close()
	}
	_ = b.retained.Close()
	return b.sessions.Close()
}

// Shutdown sends DISCONNECT(server_shutting_down) to every live MQTT5
// client (3.1.1 clients have no server-to-client DISCONNECT, so they are
// simply closed), waits for all of them to tear down or ctx's deadline to
// pass, then does the same teardown Close does. One shutdown wins; a second
// concurrent call is a no-op.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	if b.shuttingDown {
		b.mu.Unlock()
		return nil
	}
	b.shuttingDown = true
	clients := make([]*clientSession, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.Unlock()

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(cs *clientSession) {
			defer wg.Done()
			if cs.protocolVersion == encoding.ProtocolVersion50 {
				_ = cs.ep.Connection().SendDisconnect(&connection.Disconnect{ReasonCode: encoding.ReasonServerShuttingDown})
			}
			_ = cs.ep.Close()
		}(c)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		_ = b.retained.Close()
		_ = b.sessions.Close()
		return ErrGracefulShutdownTimeout
	}

	_ = b.retained.Close()
	return b.sessions.Close()
}

// Serve drives one inbound connection end to end: handshake, authenticate,
// establish (or resume, or take over) a session, then pump SUBSCRIBE/
// PUBLISH/UNSUBSCRIBE/DISCONNECT events until the Endpoint closes. It
// returns once the connection has fully torn down.
func (b *Broker) Serve(ctx context.Context, stream endpoint.Stream) error {
	ep := endpoint.New(stream, endpoint.Config{Role: connection.RoleServer, Logger: b.logger})
	defer ep.Close()
	ep.SetFlags(connection.Flags{AutoPubResponse: true, AutoPingResponse: true})

	req, err := ep.AcceptHandshake(ctx)
	if err != nil {
		return fmt.Errorf("broker: handshake: %w", err)
	}

	if req.ClientID == "" {
		id, genErr := b.sessions.GenerateClientID(ctx)
		if genErr != nil {
			_ = ep.Accept(&connection.Connack{ReasonCode: encoding.ReasonServerUnavailable})
			return genErr
		}
		req.ClientID = id
	}

	hc := &hook.Client{ID: req.ClientID, Username: req.Username, CleanStart: req.CleanStart,
		ProtocolVersion: byte(req.ProtocolVersion), KeepAlive: req.KeepAlive}
	hp := &hook.ConnectPacket{ProtocolVersion: byte(req.ProtocolVersion), CleanStart: req.CleanStart,
		KeepAlive: req.KeepAlive, ClientID: req.ClientID, Username: req.Username, Password: req.Password}

	if !b.hooks.OnConnectAuthenticate(hc, hp) {
		_ = ep.Accept(&connection.Connack{ReasonCode: encoding.ReasonNotAuthorized})
		return fmt.Errorf("broker: client %q failed authentication", req.ClientID)
	}
	if err := b.hooks.OnConnect(hc, hp); err != nil {
		_ = ep.Accept(&connection.Connack{ReasonCode: encoding.ReasonUnspecifiedError})
		return err
	}

	// Session takeover: an existing live connection under the same
	// ClientID is evicted per §4's "new connection wins" rule before the
	// new session is established.
	b.takeover(req.ClientID)

	sess, sessionPresent, err := b.sessions.CreateSession(ctx, req.ClientID, req.CleanStart, req.SessionExpiryInterval, byte(req.ProtocolVersion))
	if err != nil {
		_ = ep.Accept(&connection.Connack{ReasonCode: encoding.ReasonUnspecifiedError})
		return err
	}
	if req.Will != nil {
		sess.SetWillMessage(&session.WillMessage{
			Topic: req.Will.Topic, Payload: req.Will.Payload, QoS: byte(req.Will.QoS),
			Retain: req.Will.Retain, Properties: req.Will.Properties,
		}, req.Will.DelayInterval)
	}

	cs := &clientSession{
		broker:          b,
		ep:              ep,
		session:         sess,
		clientID:        req.ClientID,
		username:        req.Username,
		protocolVersion: req.ProtocolVersion,
	}

	b.mu.Lock()
	b.clients[req.ClientID] = cs
	b.mu.Unlock()

	ack := &connection.Connack{
		ReasonCode:     encoding.ReasonSuccess,
		SessionPresent: sessionPresent,
		ReceiveMaximum: b.caps.ReceiveMaximum,
	}
	if req.ClientID != hp.ClientID {
		ack.AssignedClientID = req.ClientID
	}
	if err := ep.Accept(ack); err != nil {
		b.unregister(req.ClientID)
		return err
	}
	_ = b.hooks.OnSessionEstablished(hc, hp)

	cs.restorePending()

	err = cs.pump(ctx)

	b.unregister(req.ClientID)
	normal := err == nil
	b.sessions.DisconnectSession(context.Background(), req.ClientID, !normal)
	b.hooks.OnDisconnect(hc, err, req.CleanStart)
	return err
}

// takeover evicts any live connection currently registered under clientID.
// Per §8 invariant 8, the evicted connection sees DISCONNECT(session_taken_
// over) before being closed — MQTT5 only, since 3.1.1 has no server-to-
// client DISCONNECT. Closing its Endpoint unblocks its pump loop, which
// performs its own unregister/disconnect bookkeeping.
func (b *Broker) takeover(clientID string) {
	b.mu.Lock()
	existing, ok := b.clients[clientID]
	b.mu.Unlock()
	if !ok {
		return
	}
	existing.takenOver = true
	if existing.protocolVersion == encoding.ProtocolVersion50 {
		_ = existing.ep.Connection().SendDisconnect(&connection.Disconnect{ReasonCode: encoding.ReasonSessionTakenOver})
	}
	_ = existing.ep.Close()
}

func (b *Broker) unregister(clientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, clientID)
}

// lookup returns the live client for clientID, if connected.
func (b *Broker) lookup(clientID string) (*clientSession, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.clients[clientID]
	return c, ok
}

// deliver routes one message to one subscriber: straight onto the wire if
// the subscriber is currently connected, or queued into its persisted
// session for redelivery on reconnect otherwise. deliverQoS is already the
// min(publish QoS, subscription QoS) downgrade required by §3.3.5.
func (b *Broker) deliver(ctx context.Context, clientID string, msg *message.Message, subQoS encoding.QoS, retain bool, subID uint32) {
	deliverQoS := msg.QoS
	if subQoS < deliverQoS {
		deliverQoS = subQoS
	}

	props := clonedProperties(msg.Properties)
	if subID != 0 {
		props["SubscriptionIdentifier"] = subID
	}

	if target, ok := b.lookup(clientID); ok {
		if _, err := target.ep.Connection().Publish(msg.Topic, msg.Payload, deliverQoS, retain, props); err != nil {
			b.logger.Warn("broker: deliver failed", "client", clientID, "err", err)
		}
		return
	}

	if deliverQoS == encoding.QoS0 && !b.offlinePublish {
		return
	}

	sess, err := b.sessions.GetSession(ctx, clientID)
	if err != nil {
		return
	}
	id := sess.NextPacketID()
	sess.AddPendingPublish(&session.PendingMessage{
		PacketID: id, Topic: msg.Topic, Payload: msg.Payload, QoS: byte(deliverQoS),
		Retain: retain, Properties: props, Timestamp: time.Now(),
	})
}

// PublishWill implements session.WillPublisher: the session manager calls
// this once a will's delay interval has elapsed (or immediately, for a
// zero-delay will) on ordinary or ungraceful disconnect.
func (b *Broker) PublishWill(ctx context.Context, will *session.WillMessage, clientID string) error {
	msg := message.NewMessage(0, will.Topic, will.Payload, encoding.QoS(will.QoS), will.Retain, will.Properties)

	hc := &hook.Client{ID: clientID}
	hp := &hook.PublishPacket{Topic: msg.Topic, Payload: msg.Payload, QoS: byte(msg.QoS), Retain: msg.Retain, Origin: clientID}
	hwill := &hook.WillMessage{Topic: will.Topic, Payload: will.Payload, QoS: will.QoS, Retain: will.Retain}
	if w := b.hooks.OnWill(hc, hwill); w != nil {
		msg.Topic, msg.Payload, msg.QoS, msg.Retain = w.Topic, w.Payload, encoding.QoS(w.QoS), w.Retain
	}

	if msg.Retain && b.caps.RetainAvailable {
		_ = b.retained.Set(ctx, msg.Topic, msg)
	}

	matched := b.router.MatchWithPublisher(msg.Topic, clientID)
	for _, sub := range matched {
		b.deliver(ctx, sub.ClientID, msg, encoding.QoS(sub.QoS), sub.RetainAsPublished && msg.Retain, sub.SubscriptionIdentifier)
	}

	b.hooks.OnWillSent(hc, hwill)
	return nil
}
