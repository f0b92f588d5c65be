package bus

import (
	"context"
	"sync"

	"github.com/sharefileio/sharefile/internal/rendezvous"
)

// InProcess is an in-memory rendezvous.Bus for tests and single-process
// demos: every Join into the same room shares a broadcast fan-out with
// no network hop, mirroring the Server's room semantics without a
// listener.
type InProcess struct {
	mu    sync.Mutex
	rooms map[string][]*inProcessConn
}

// NewInProcess returns an empty in-process bus.
func NewInProcess() *InProcess {
	return &InProcess{rooms: make(map[string][]*inProcessConn)}
}

func (b *InProcess) Join(_ context.Context, room string) (rendezvous.Conn, error) {
	c := &inProcessConn{
		bus:      b,
		room:     room,
		messages: make(chan []byte, 64),
		errors:   make(chan error, 4),
	}
	b.mu.Lock()
	b.rooms[room] = append(b.rooms[room], c)
	b.mu.Unlock()
	return c, nil
}

type inProcessConn struct {
	bus  *InProcess
	room string

	messages chan []byte
	errors   chan error

	closeOnce sync.Once
}

func (c *inProcessConn) Send(_ context.Context, payload []byte) error {
	c.bus.mu.Lock()
	members := append([]*inProcessConn(nil), c.bus.rooms[c.room]...)
	c.bus.mu.Unlock()

	for _, m := range members {
		select {
		case m.messages <- payload:
		default:
		}
	}
	return nil
}

func (c *inProcessConn) Messages() <-chan []byte { return c.messages }
func (c *inProcessConn) Errors() <-chan error    { return c.errors }

func (c *inProcessConn) Close() error {
	c.closeOnce.Do(func() {
		c.bus.mu.Lock()
		members := c.bus.rooms[c.room]
		for i, m := range members {
			if m == c {
				c.bus.rooms[c.room] = append(members[:i], members[i+1:]...)
				break
			}
		}
		c.bus.mu.Unlock()
	})
	return nil
}
