// Package endpoint is the transport-bound async driver the broker and any
// client helper sit on top of: one Endpoint owns one Stream (a duplex byte
// connection) and one connection.Connection (the I/O-free protocol state
// machine), pumping bytes in one direction and encoded packets in the
// other. It is the host connection.Connection's Callbacks were designed to
// be driven by.
package endpoint

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/embermqtt/ember/connection"
	"github.com/embermqtt/ember/encoding"
)

const defaultReadBufferSize = 64 * 1024

// Config controls an Endpoint's buffering and write-batching behaviour.
type Config struct {
	Role           connection.Role
	Version        encoding.ProtocolVersion
	ReadBufferSize int  // 0 -> defaultReadBufferSize
	BulkWrite      bool // coalesce queued writes into one scatter/gather Write
	Logger         *slog.Logger
}

// Endpoint wraps a connection.Connection around a Stream, supplying the
// timer clock, the single writer goroutine, and the packet codec the core
// never touches directly.
type Endpoint struct {
	stream Stream
	conn   *connection.Connection
	codec  *codec
	logger *slog.Logger

	writeCh chan []byte
	recvCh  chan connection.Event

	closeOnce sync.Once
	closeCh   chan struct{}

	timerMu sync.Mutex
	timers  map[connection.TimerKind]*time.Timer

	readBufferSize int
	bulkWrite      bool

	wg sync.WaitGroup
}

// New constructs an Endpoint over stream and starts its reader/writer
// goroutines. The caller drives the handshake with StartHandshake (client
// role) or AcceptHandshake followed by Accept (server role).
func New(stream Stream, cfg Config) *Endpoint {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	readSize := cfg.ReadBufferSize
	if readSize <= 0 {
		readSize = defaultReadBufferSize
	}

	ep := &Endpoint{
		stream:         stream,
		codec:          newCodec(cfg.Version),
		logger:         cfg.Logger,
		writeCh:        make(chan []byte, 64),
		recvCh:         make(chan connection.Event, 64),
		closeCh:        make(chan struct{}),
		timers:         make(map[connection.TimerKind]*time.Timer),
		readBufferSize: readSize,
		bulkWrite:      cfg.BulkWrite,
	}

	ep.conn = connection.NewConnection(cfg.Role, cfg.Logger)
	ep.conn.SetCallbacks(connection.Callbacks{
		OnSend:            ep.handleSend,
		OnReceive:         ep.handleReceive,
		OnTimerOp:         ep.handleTimerOp,
		OnPacketIDRelease: func(uint16) {},
		OnClose:           ep.handleConnectionClosed,
		OnError: func(err error) {
			ep.logger.Warn("connection core reported an error", "err", err)
		},
	})

	ep.wg.Add(2)
	go ep.writeLoop()
	go ep.readLoop()

	return ep
}

// Connection returns the underlying protocol core, for callers (the broker)
// that need to invoke Publish/Subscribe/SendDisconnect/etc directly.
func (ep *Endpoint) Connection() *connection.Connection { return ep.conn }

// SetFlags passes straight through to the core. The core's Callbacks are
// installed by New and are not exposed; received events arrive on Recv().
func (ep *Endpoint) SetFlags(f connection.Flags) { ep.conn.SetFlags(f) }

// Recv returns the channel of events the owner (broker session loop) should
// range over. A single consumer is expected; concurrent Recv loops are a
// usage error, matching the design's single-consumer rule.
func (ep *Endpoint) Recv() <-chan connection.Event { return ep.recvCh }

// Closed returns a channel closed once the Endpoint has torn down.
func (ep *Endpoint) Closed() <-chan struct{} { return ep.closeCh }

// handleSend is the Connection core's OnSend callback: encode the event and
// queue its bytes for the single writer goroutine. FIFO per caller is
// preserved because Publish/Subscribe/etc already serialize through the
// Connection's own mutex before reaching here.
func (ep *Endpoint) handleSend(ev connection.Event) error {
	var buf bytes.Buffer
	if err := ep.codec.Encode(&buf, ev); err != nil {
		return fmt.Errorf("endpoint: encode: %w", err)
	}
	select {
	case ep.writeCh <- buf.Bytes():
		return nil
	case <-ep.closeCh:
		return connection.ErrClosed
	}
}

func (ep *Endpoint) handleReceive(ev connection.Event) {
	select {
	case ep.recvCh <- ev:
	case <-ep.closeCh:
	}
}

func (ep *Endpoint) handleConnectionClosed() {
	ep.Close()
}

// handleTimerOp arms or cancels the wall-clock timer behind a TimerKind;
// the Connection core only ever describes *what* to schedule, never runs a
// clock itself.
func (ep *Endpoint) handleTimerOp(kind connection.TimerKind, op connection.TimerOp, d time.Duration) {
	ep.timerMu.Lock()
	defer ep.timerMu.Unlock()

	if existing, ok := ep.timers[kind]; ok {
		existing.Stop()
		delete(ep.timers, kind)
	}
	if op != connection.TimerReset || d <= 0 {
		return
	}
	ep.timers[kind] = time.AfterFunc(d, func() {
		ep.conn.FireTimer(kind)
	})
}

func (ep *Endpoint) cancelAllTimers() {
	ep.timerMu.Lock()
	defer ep.timerMu.Unlock()
	for k, t := range ep.timers {
		t.Stop()
		delete(ep.timers, k)
	}
}

// writeLoop is the Endpoint's single writer task: it owns stream writes
// exclusively so concurrent Publish/Subscribe/etc calls never interleave
// their byte sequences. With BulkWrite, already-queued entries are drained
// and written as one scatter/gather Write.
func (ep *Endpoint) writeLoop() {
	defer ep.wg.Done()
	for {
		select {
		case b, ok := <-ep.writeCh:
			if !ok {
				return
			}
			if ep.bulkWrite {
				b = ep.drainQueued(b)
			}
			if _, err := ep.stream.Write(b); err != nil {
				ep.logger.Debug("endpoint write failed", "err", err)
				ep.Close()
				return
			}
			ep.conn.NotifyBytesSent()
		case <-ep.closeCh:
			return
		}
	}
}

// drainQueued opportunistically grabs any writes already queued behind the
// one just received, without blocking, and concatenates them into a single
// buffer — a scatter/gather write minus the actual syscall-level iovec, which
// Stream's plain io.Writer interface doesn't expose.
func (ep *Endpoint) drainQueued(first []byte) []byte {
	out := first
	for {
		select {
		case more := <-ep.writeCh:
			out = append(out, more...)
		default:
			return out
		}
	}
}

// readLoop is the Endpoint's single reader task: decode one packet at a
// time and dispatch it into the Connection core via the matching Handle*/
// Notify* method, then forward anything the core hands back through
// handleReceive (already wired as OnReceive).
func (ep *Endpoint) readLoop() {
	defer ep.wg.Done()
	r := bufio.NewReaderSize(ep.stream, ep.readBufferSize)

	for {
		ev, err := ep.codec.Decode(r)
		if err != nil {
			ep.logger.Debug("endpoint read failed", "err", err)
			ep.Close()
			return
		}
		ep.conn.NotifyBytesReceived()

		if err := ep.dispatchDecoded(ev); err != nil {
			ep.logger.Debug("endpoint dispatch failed", "err", err)
			ep.Close()
			return
		}
	}
}

// dispatchDecoded routes a freshly decoded Event into the one Connection
// method that expects it. Connect/Connack are deliberately NOT dispatched
// here: the handshake is driven explicitly by StartHandshake/AcceptHandshake below,
// since the caller (broker/client) must decide accept-vs-reject before the
// core transitions to Connected.
func (ep *Endpoint) dispatchDecoded(ev connection.Event) error {
	switch {
	case ev.Connect != nil, ev.Connack != nil:
		ep.handleReceive(ev)
		return nil
	case ev.Publish != nil:
		return ep.conn.HandleReceivedPublish(ev.Publish)
	case ev.PubAck != nil:
		return ep.conn.HandleReceivedPubAck(ev.PubAck)
	case ev.PubRec != nil:
		return ep.conn.HandleReceivedPubRec(ev.PubRec)
	case ev.PubRel != nil:
		return ep.conn.HandleReceivedPubRel(ev.PubRel)
	case ev.PubComp != nil:
		return ep.conn.HandleReceivedPubComp(ev.PubComp)
	case ev.Subscribe != nil:
		ep.conn.HandleReceivedSubscribe(ev.Subscribe)
		return nil
	case ev.Suback != nil:
		return ep.conn.HandleReceivedSuback(ev.Suback)
	case ev.Unsubscribe != nil:
		ep.conn.HandleReceivedUnsubscribe(ev.Unsubscribe)
		return nil
	case ev.Unsuback != nil:
		return ep.conn.HandleReceivedUnsuback(ev.Unsuback)
	case ev.Disconnect != nil:
		ep.conn.HandleReceivedDisconnect(ev.Disconnect)
		return nil
	case ev.Pingreq:
		return ep.conn.HandlePingreq()
	case ev.Pingresp:
		ep.conn.HandlePingresp()
		return nil
	default:
		return fmt.Errorf("endpoint: undecodable event")
	}
}

// StartHandshake sends req (client role) and blocks for the CONNACK, which
// it feeds to the core itself before returning it to the caller.
func (ep *Endpoint) StartHandshake(ctx context.Context, req *connection.Connect) (*connection.Connack, error) {
	if err := ep.conn.NotifyConnectSent(req); err != nil {
		return nil, err
	}
	if err := ep.handleSend(connection.Event{Kind: connection.EventSend, Connect: req}); err != nil {
		return nil, err
	}

	select {
	case ev := <-ep.recvCh:
		if ev.Connack == nil {
			return nil, fmt.Errorf("endpoint: expected CONNACK, got %#v", ev)
		}
		if err := ep.conn.NotifyConnackReceived(ev.Connack); err != nil {
			return nil, err
		}
		return ev.Connack, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ep.closeCh:
		return nil, connection.ErrClosed
	}
}

// AcceptHandshake blocks for an inbound CONNECT, feeds it to the core, and
// returns it so the caller (broker) can decide accept/reject before calling
// Accept with the CONNACK to send.
func (ep *Endpoint) AcceptHandshake(ctx context.Context) (*connection.Connect, error) {
	select {
	case ev := <-ep.recvCh:
		if ev.Connect == nil {
			return nil, fmt.Errorf("endpoint: expected CONNECT, got %#v", ev)
		}
		if err := ep.conn.NotifyConnectReceived(ev.Connect); err != nil {
			return nil, err
		}
		return ev.Connect, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-ep.closeCh:
		return nil, connection.ErrClosed
	}
}

// Accept sends ack and finalizes the core into Connected (server role).
func (ep *Endpoint) Accept(ack *connection.Connack) error {
	if err := ep.handleSend(connection.Event{Kind: connection.EventSend, Connack: ack}); err != nil {
		return err
	}
	return ep.conn.NotifyConnackSent(ack)
}

// AcquireUniqueID/AcquireUniqueIDWait/RegisterID/ReleaseID pass through to
// the core's packet-id allocator (§4.5's async id surface).
func (ep *Endpoint) AcquireUniqueID() (uint16, bool)               { return ep.conn.AcquireID() }
func (ep *Endpoint) AcquireUniqueIDWait(ctx context.Context) (uint16, error) {
	return ep.conn.AcquireIDWait(ctx)
}
func (ep *Endpoint) RegisterID(id uint16) bool { return ep.conn.RegisterID(id) }
func (ep *Endpoint) ReleaseID(id uint16)       { ep.conn.ReleaseID(id) }

// RestorePackets/GetStoredPackets expose session-resumption snapshotting.
func (ep *Endpoint) RestorePackets(stored []*connection.StoredPacket, qos2ReceivedIDs []uint16) {
	ep.conn.RestorePackets(stored, qos2ReceivedIDs)
}

func (ep *Endpoint) GetStoredPackets() ([]*connection.StoredPacket, []uint16) {
	return ep.conn.GetStoredPackets()
}

// Close is idempotent: it stops the writer/reader goroutines, cancels all
// armed timers, closes the underlying stream, and notifies the core so any
// waiting caller sees Disconnected. Safe to call more than once or
// concurrently from the read/write loops and the owner.
func (ep *Endpoint) Close() error {
	var err error
	ep.closeOnce.Do(func() {
		close(ep.closeCh)
		ep.cancelAllTimers()
		err = ep.stream.Close()
		ep.conn.NotifyDisconnect()
	})
	return err
}

// Wait blocks until both the reader and writer goroutines have exited,
// which happens once Close has run.
func (ep *Endpoint) Wait() { ep.wg.Wait() }
