package main

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/embermqtt/ember/connection"
	"github.com/embermqtt/ember/encoding"
	"github.com/embermqtt/ember/endpoint"
	"github.com/embermqtt/ember/network"
)

// randomClientID mints a client identifier when --client_id is left empty,
// the way a one-shot CLI publisher/subscriber needs to avoid clashing with
// a previous run's still-registered session.
func randomClientID() string {
	var b [8]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("axclient-%x", b)
}

// dial opens the transport (plain TCP or TLS per --tls/--insecure) and
// wraps it in an Endpoint pinned to version, without yet performing the
// MQTT handshake.
func dial(version encoding.ProtocolVersion) (*endpoint.Endpoint, error) {
	cfg := endpoint.Config{Role: connection.RoleClient, Version: version}

	if useTLS {
		stream, err := endpoint.DialTLS("tcp", brokerAddr, &tls.Config{InsecureSkipVerify: insecureTLS})
		if err != nil {
			return nil, fmt.Errorf("axclient: tls dial %s: %w", brokerAddr, err)
		}
		return endpoint.New(stream, cfg), nil
	}

	conn, err := net.Dial("tcp", brokerAddr)
	if err != nil {
		return nil, fmt.Errorf("axclient: dial %s: %w", brokerAddr, err)
	}
	return endpoint.New(endpoint.NewNetStream(conn), cfg), nil
}

// connect dials and performs the CONNECT/CONNACK handshake, retrying the
// dial itself (not the handshake) with network.Reconnector's backoff per
// §5's "client helper" supplement — a broker that is still starting up
// should not make a one-shot CLI client give up immediately.
func connect(ctx context.Context) (*endpoint.Endpoint, error) {
	version, err := parseProtocolVersion()
	if err != nil {
		return nil, err
	}
	if clientID == "" {
		clientID = randomClientID()
	}

	reconnector, err := network.NewReconnector(ctx, network.DefaultRecoveryConfig(), func() (*endpoint.Endpoint, error) {
		return dial(version)
	})
	if err != nil {
		return nil, err
	}
	defer reconnector.Close()

	ep, err := reconnector.Connect()
	if err != nil {
		return nil, fmt.Errorf("axclient: connect: %w", err)
	}

	req := &connection.Connect{
		ProtocolVersion: version,
		ClientID:        clientID,
		CleanStart:      cleanStart,
		KeepAlive:       uint16(keepAlive),
		ReceiveMaximum:  65535,
	}
	if username != "" {
		req.Username = username
		req.HasUsername = true
	}
	if password != "" {
		req.Password = []byte(password)
		req.HasPassword = true
	}

	hctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ack, err := ep.StartHandshake(hctx, req)
	if err != nil {
		_ = ep.Close()
		return nil, fmt.Errorf("axclient: handshake: %w", err)
	}
	if ack.ReasonCode != encoding.ReasonSuccess {
		_ = ep.Close()
		return nil, fmt.Errorf("axclient: broker refused connection: %s", ack.ReasonCode)
	}

	ep.Connection().SetFlags(connection.Flags{
		AutoPubResponse:  true,
		AutoPingResponse: true,
	})

	return ep, nil
}
