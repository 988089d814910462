package rod

import (
	"bufio"
	"container/list"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/philipp3923/rdrop-sub000/internal/rerrors"
)

// Config tunes one Channel; all fields default sensibly via DefaultConfig.
type Config struct {
	Window            int           // W, max unacknowledged + buffered-out-of-order packages
	KeepAliveInterval time.Duration
	DisconnectTimeout time.Duration
	SendInterval      time.Duration // retransmit interval for unacked packages
	ReceiveTick       time.Duration // engine's short receive-timeout tick
}

// DefaultConfig mirrors spec §4.B's production constants.
func DefaultConfig() Config {
	return Config{
		Window:            1024 * 128,
		KeepAliveInterval: 100 * time.Millisecond,
		DisconnectTimeout: 5 * time.Second,
		SendInterval:      100 * time.Millisecond,
		ReceiveTick:       5 * time.Millisecond,
	}
}

type sendItem struct {
	seq     uint32
	payload []byte
	sentAt  time.Time
}

// Stats are the mutex-guarded counters the engine updates as it sends and
// receives packages, grounded on
// the teacher's std/snmp.go periodic CSV logger (there driving kcp's SNMP
// counters; here driving our own).
type Stats struct {
	mu           sync.Mutex
	BytesSent    uint64
	BytesRecv    uint64
	Retransmits  uint64
	AcksSent     uint64
	PacketsDrop  uint64
}

func (s *Stats) addSent(n int) {
	s.mu.Lock()
	s.BytesSent += uint64(n)
	s.mu.Unlock()
}
func (s *Stats) addRecv(n int) {
	s.mu.Lock()
	s.BytesRecv += uint64(n)
	s.mu.Unlock()
}
func (s *Stats) incRetransmit() {
	s.mu.Lock()
	s.Retransmits++
	s.mu.Unlock()
}
func (s *Stats) incAck() {
	s.mu.Lock()
	s.AcksSent++
	s.mu.Unlock()
}
func (s *Stats) incDrop() {
	s.mu.Lock()
	s.PacketsDrop++
	s.mu.Unlock()
}

// Snapshot returns a point-in-time copy safe to read concurrently.
func (s *Stats) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{BytesSent: s.BytesSent, BytesRecv: s.BytesRecv, Retransmits: s.Retransmits, AcksSent: s.AcksSent, PacketsDrop: s.PacketsDrop}
}

// Channel is the reliable ordered datagram channel: a single goroutine
// (run) owns conn exclusively; every other caller communicates through
// Write/TryRead/Read and the Stats snapshot (spec §5: "shared mutable
// channel with bounded queues").
type Channel struct {
	conn   net.Conn
	cfg    Config
	reader *bufio.Reader
	stats  Stats

	sendCh chan []byte // application write queue, bounded to cfg.Window
	recvCh chan []byte // delivered, in-order messages

	ctx    context.Context
	cancel context.CancelCauseFunc
	doneCh chan struct{}

	closeOnce sync.Once
}

// NewChannel wraps conn (already connected, UDP or post-upgrade TCP) in a
// ROD channel and starts its engine goroutine. The caller is expected to
// have already completed the Open handshake via Handshake(), so the first
// Open received here is treated as a peer restart (spec §4.B).
func NewChannel(conn net.Conn, cfg Config) *Channel {
	return newChannel(conn, cfg, bufio.NewReaderSize(conn, 64*1024))
}

// NewChannelFromHandshake is NewChannel but reuses the buffered reader
// Handshake used, so no datagram buffered-but-unconsumed during the Open
// exchange (possible when conn is a TCP stream post-upgrade) is lost.
func NewChannelFromHandshake(conn net.Conn, cfg Config, reader *bufio.Reader) *Channel {
	return newChannel(conn, cfg, reader)
}

func newChannel(conn net.Conn, cfg Config, reader *bufio.Reader) *Channel {
	ctx, cancel := context.WithCancelCause(context.Background())
	c := &Channel{
		conn:   conn,
		cfg:    cfg,
		reader: reader,
		sendCh: make(chan []byte, cfg.Window),
		recvCh: make(chan []byte, 4096),
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
	go c.run()
	return c
}

// Write enqueues msg for reliable delivery. It blocks while the send queue
// is full (back-pressure ≡ flow control, spec §5) and fails with
// IllegalByteStream if msg exceeds 65535 bytes.
func (c *Channel) Write(msg []byte) error {
	if len(msg) > MaxPayload {
		return errIllegalByteStream
	}
	select {
	case c.sendCh <- msg:
		return nil
	case <-c.ctx.Done():
		return c.closeErr()
	}
}

// WriteTimeout is Write bounded by an overall per-write timeout.
func (c *Channel) WriteTimeout(msg []byte, timeout time.Duration) error {
	if len(msg) > MaxPayload {
		return errIllegalByteStream
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case c.sendCh <- msg:
		return nil
	case <-c.ctx.Done():
		return c.closeErr()
	case <-t.C:
		return rerrors.New(rerrors.TimedOut, "write timed out")
	}
}

// errWouldBlock is returned by TryRead when no message is ready.
var errWouldBlock = rerrors.New(rerrors.TimedOut, "would block")

// ErrWouldBlock lets callers distinguish "nothing yet" from a hard error.
func ErrWouldBlock() error { return errWouldBlock }

// TryRead returns the next delivered message without blocking.
func (c *Channel) TryRead() ([]byte, error) {
	select {
	case m, ok := <-c.recvCh:
		if !ok {
			return nil, c.closeErr()
		}
		return m, nil
	default:
		return nil, errWouldBlock
	}
}

// Read blocks up to timeout for the next delivered message.
func (c *Channel) Read(timeout time.Duration) ([]byte, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case m, ok := <-c.recvCh:
		if !ok {
			return nil, c.closeErr()
		}
		return m, nil
	case <-t.C:
		return nil, rerrors.New(rerrors.TimedOut, "read timed out")
	case <-c.ctx.Done():
		return nil, c.closeErr()
	}
}

// Close signals the engine to stop and waits for it to exit.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.cancel(rerrors.New(rerrors.ChannelFailed, "channel closed by caller"))
	})
	<-c.doneCh
	return nil
}

func (c *Channel) closeErr() error {
	if err := context.Cause(c.ctx); err != nil {
		return err
	}
	return rerrors.New(rerrors.ChannelFailed, "channel closed")
}

// Stats returns a snapshot of the engine's traffic counters.
func (c *Channel) Stats() Stats { return c.stats.Snapshot() }

// RemoteAddr is the peer address conn is connected to.
func (c *Channel) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// run is the single goroutine that owns conn: it is the only code in the
// process that ever calls conn.Read / conn.Write (spec §5 "the ROD engine
// owns the UDP (or TCP) socket exclusively").
func (c *Channel) run() {
	defer close(c.doneCh)
	defer close(c.recvCh)
	defer c.conn.Close()

	sendWindow := list.New()
	recvBuffer := make(map[uint32][]byte)
	var nextSendSeq uint32
	var nextExpected uint32
	lastKeepAliveSent := time.Now()
	lastPeerTraffic := time.Now()

	sendPacket := func(p packet) error {
		_, err := c.conn.Write(encodePacket(p))
		if err == nil {
			c.stats.addSent(len(p.payload) + packetHeaderLen)
		}
		return err
	}

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		now := time.Now()

		// 1. keepalive
		if now.Sub(lastKeepAliveSent) > c.cfg.KeepAliveInterval {
			if err := sendPacket(packet{typ: TypeKeepAlive}); err != nil {
				c.cancel(rerrors.Wrap(rerrors.CommunicationFailed, err, "send keepalive"))
				return
			}
			lastKeepAliveSent = now
		}

		// 2. liveness
		if now.Sub(lastPeerTraffic) > c.cfg.DisconnectTimeout {
			c.cancel(rerrors.New(rerrors.CommunicationFailed, "peer liveness lost"))
			return
		}

		// 3. drain application send queue into window
		for sendWindow.Len() < c.cfg.Window {
			select {
			case msg := <-c.sendCh:
				seq := nextSendSeq
				nextSendSeq++
				item := &sendItem{seq: seq, payload: msg, sentAt: now}
				sendWindow.PushBack(item)
				if err := sendPacket(packet{typ: TypeData, seq: seq, payload: msg}); err != nil {
					c.cancel(rerrors.Wrap(rerrors.CommunicationFailed, err, "send data"))
					return
				}
			default:
				goto drained
			}
		}
	drained:

		// 4. retransmit scan
		for e := sendWindow.Front(); e != nil; e = e.Next() {
			item := e.Value.(*sendItem)
			if now.Sub(item.sentAt) > c.cfg.SendInterval {
				if err := sendPacket(packet{typ: TypeData, seq: item.seq, payload: item.payload}); err != nil {
					c.cancel(rerrors.Wrap(rerrors.CommunicationFailed, err, "retransmit data"))
					return
				}
				item.sentAt = now
				c.stats.incRetransmit()
			}
		}

		// 5. receive one datagram (bounded wait so the loop keeps ticking)
		c.conn.SetReadDeadline(now.Add(c.cfg.ReceiveTick))
		p, ok, err := readPacket(c.reader)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			c.cancel(rerrors.Wrap(rerrors.CommunicationFailed, err, "read datagram"))
			return
		}
		if !ok {
			c.stats.incDrop()
			continue
		}

		lastPeerTraffic = time.Now()
		c.stats.addRecv(len(p.payload) + packetHeaderLen)

		switch p.typ {
		case TypeData:
			n := p.seq
			switch {
			case n == nextExpected:
				deliver(c.recvCh, p.payload)
				nextExpected++
				for {
					buf, buffered := recvBuffer[nextExpected]
					if !buffered {
						break
					}
					delete(recvBuffer, nextExpected)
					deliver(c.recvCh, buf)
					nextExpected++
				}
				if err := sendPacket(packet{typ: TypeAck, seq: nextExpected - 1}); err != nil {
					c.cancel(rerrors.Wrap(rerrors.CommunicationFailed, err, "send ack"))
					return
				}
				c.stats.incAck()
			case seqLess(nextExpected, n):
				if len(recvBuffer) < c.cfg.Window {
					if _, already := recvBuffer[n]; !already {
						recvBuffer[n] = p.payload
					}
				}
				if err := sendPacket(packet{typ: TypeAck, seq: nextExpected - 1}); err != nil {
					c.cancel(rerrors.Wrap(rerrors.CommunicationFailed, err, "send ack"))
					return
				}
				c.stats.incAck()
			default: // n < nextExpected: duplicate
				if err := sendPacket(packet{typ: TypeAck, seq: nextExpected - 1}); err != nil {
					c.cancel(rerrors.Wrap(rerrors.CommunicationFailed, err, "send duplicate ack"))
					return
				}
			}
		case TypeAck:
			for e := sendWindow.Front(); e != nil; {
				item := e.Value.(*sendItem)
				next := e.Next()
				if seqLessEq(item.seq, p.seq) {
					sendWindow.Remove(e)
				}
				e = next
			}
		case TypeKeepAlive:
			// lastPeerTraffic already updated above.
		case TypeOpen:
			c.cancel(rerrors.New(rerrors.CommunicationFailed, "peer restarted (unexpected Open)"))
			return
		}
	}
}

func deliver(ch chan []byte, msg []byte) {
	ch <- msg
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	te, ok := err.(timeout)
	return ok && te.Timeout()
}

// readPacket reads exactly one package off r: header first, then its
// declared payload. A structurally invalid header (bad type, wrong size
// bookkeeping) is reported as (zero, false, nil) — "dropped", not fatal.
func readPacket(r *bufio.Reader) (packet, bool, error) {
	header := make([]byte, packetHeaderLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return packet{}, false, err
	}
	typ := PacketType(header[0])
	switch typ {
	case TypeOpen, TypeData, TypeAck, TypeKeepAlive:
	default:
		return packet{}, false, nil
	}
	size := int(header[5])<<8 | int(header[6])
	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return packet{}, false, err
		}
	}
	full := append(header, payload...)
	p, ok := decodePacket(full)
	return p, ok, nil
}
