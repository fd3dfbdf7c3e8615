package endpoint

import (
	"crypto/tls"
	"io"
	"net"
	"time"
)

// Stream is the duplex byte stream an Endpoint drives. It is the external
// collaborator SPEC_FULL.md keeps out of the protocol/endpoint cores proper;
// NetStream below is the reference broker's concrete implementation, wrapping
// net.Conn (TCP) or a *tls.Conn the same way network/connection.go did.
type Stream interface {
	io.ReadWriter
	Close() error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// NetStream adapts a net.Conn (plain TCP or crypto/tls) to Stream.
type NetStream struct {
	conn net.Conn
}

// NewNetStream wraps conn. If conn is a *tls.Conn the handshake is not
// forced here; callers that need the handshake result before proceeding
// should call conn.HandshakeContext themselves first.
func NewNetStream(conn net.Conn) *NetStream {
	return &NetStream{conn: conn}
}

// DialTLS is a convenience constructor for the reference broker's outbound
// bridge-free client helper: dial plain TCP then upgrade with cfg.
func DialTLS(network, addr string, cfg *tls.Config) (*NetStream, error) {
	conn, err := tls.Dial(network, addr, cfg)
	if err != nil {
		return nil, err
	}
	return NewNetStream(conn), nil
}

func (s *NetStream) Read(b []byte) (int, error)  { return s.conn.Read(b) }
func (s *NetStream) Write(b []byte) (int, error) { return s.conn.Write(b) }
func (s *NetStream) Close() error                { return s.conn.Close() }

func (s *NetStream) SetReadDeadline(t time.Time) error  { return s.conn.SetReadDeadline(t) }
func (s *NetStream) SetWriteDeadline(t time.Time) error { return s.conn.SetWriteDeadline(t) }
