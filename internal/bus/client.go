package bus

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"

	"github.com/sharefileio/sharefile/internal/rendezvous"
)

// TCPBus dials a Server and implements rendezvous.Bus. Each Join opens
// its own TCP connection scoped to one room.
type TCPBus struct {
	addr string
}

// NewTCPBus builds a Bus that dials addr on every Join.
func NewTCPBus(addr string) *TCPBus {
	return &TCPBus{addr: addr}
}

func (b *TCPBus) Join(ctx context.Context, room string) (rendezvous.Conn, error) {
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", b.addr)
	if err != nil {
		return nil, err
	}

	c := &tcpConn{
		conn:     conn,
		room:     room,
		messages: make(chan []byte, 64),
		errors:   make(chan error, 4),
	}
	if err := c.writeLine(wireMessage{Type: "join", Room: room}); err != nil {
		_ = conn.Close()
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

type tcpConn struct {
	conn net.Conn
	room string

	writeMu sync.Mutex

	messages chan []byte
	errors   chan error

	closeOnce sync.Once
}

func (c *tcpConn) Send(_ context.Context, payload []byte) error {
	return c.writeLine(wireMessage{Type: "publish", Room: c.room, Payload: string(payload)})
}

func (c *tcpConn) Messages() <-chan []byte { return c.messages }
func (c *tcpConn) Errors() <-chan error    { return c.errors }

// Close closes the underlying connection. The read loop observes the
// resulting read error and exits on its own; Messages/Errors are left
// open but will receive nothing further, avoiding a send-on-closed-channel
// race between Close and an in-flight readLoop delivery.
func (c *tcpConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

func (c *tcpConn) writeLine(msg wireMessage) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	raw = append(raw, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err = c.conn.Write(raw)
	return err
}

func (c *tcpConn) readLoop() {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var msg wireMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue
		}
		if msg.Type != "broadcast" {
			continue
		}
		select {
		case c.messages <- []byte(msg.Payload):
		default:
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case c.errors <- err:
		default:
		}
	}
}
