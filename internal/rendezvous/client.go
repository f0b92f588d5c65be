// Package rendezvous adapts a pub/sub broadcast bus (the "signaling
// plane", spec §1/§2.2) into the narrow event interface the Handshake
// Orchestrator rides on: join a room, filter self-echo, surface
// messages, report link status, debounce error reporting.
package rendezvous

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sharefileio/sharefile/internal/xerr"
)

// errorDebounce is how long an identical error is suppressed for, per
// spec §4.2: "rate-limited to at most once every 4 seconds for identical
// messages."
const errorDebounce = 4 * time.Second

// Bus is the external collaborator: a pub/sub broadcast channel keyed by
// room id. The core never implements this itself beyond internal/bus's
// reference server (spec §1 "out of scope... specified only at its
// send/receive interface").
type Bus interface {
	Join(ctx context.Context, room string) (Conn, error)
}

// Conn is one joined room's send/receive surface.
type Conn interface {
	Send(ctx context.Context, payload []byte) error
	Messages() <-chan []byte
	Errors() <-chan error
	Close() error
}

// envelope is the wire shape every bus payload carries (spec §6):
// {senderId, dataStr}. Receivers drop any frame whose senderId equals
// their own client id.
type envelope struct {
	SenderID string `json:"senderId"`
	DataStr  string `json:"dataStr"`
}

// Options configures a Client. OnOpen, OnMessage and OnError mirror the
// narrow per-component event interface called for by Design Notes §9
// ("callback soup... becomes a narrow event interface on each component").
type Options struct {
	Bus       Bus
	OnOpen    func()
	OnMessage func(dataStr string)
	OnError   func(err error)
	Logger    *slog.Logger
}

// Client is one room membership. It is not safe to Connect twice
// concurrently; Disconnect is idempotent.
type Client struct {
	bus       Bus
	clientID  string
	onOpen    func()
	onMessage func(string)
	onError   func(err error)
	logger    *slog.Logger

	mu   sync.Mutex
	conn Conn
	done chan struct{}

	errMu      sync.Mutex
	lastErrMsg string
	lastErrAt  time.Time
}

// New builds a Client with a fresh random client id, used to suppress
// self-echo (testable property §8.3).
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		bus:       opts.Bus,
		clientID:  uuid.NewString(),
		onOpen:    opts.OnOpen,
		onMessage: opts.OnMessage,
		onError:   opts.OnError,
		logger:    logger,
	}
}

// ClientID returns the per-instance random id this client stamps on
// every outgoing payload.
func (c *Client) ClientID() string {
	return c.clientID
}

// Connect joins room, emits OnOpen once the join succeeds, and starts
// the background dispatch loop that delivers remote messages and
// debounced errors.
func (c *Client) Connect(ctx context.Context, room string) error {
	conn, err := c.bus.Join(ctx, room)
	if err != nil {
		c.reportError(xerr.New(xerr.ChannelClosed, "rendezvous.Connect", err))
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.done = make(chan struct{})
	c.mu.Unlock()

	if c.onOpen != nil {
		c.onOpen()
	}

	go c.dispatchLoop(conn, c.done)
	return nil
}

func (c *Client) dispatchLoop(conn Conn, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case raw, ok := <-conn.Messages():
			if !ok {
				return
			}
			c.handleRaw(raw)
		case err, ok := <-conn.Errors():
			if !ok {
				return
			}
			c.reportError(xerr.New(xerr.ChannelClosed, "rendezvous.dispatchLoop", err))
		}
	}
}

func (c *Client) handleRaw(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		c.logger.Debug("rendezvous: dropping malformed bus payload", "error", err)
		return
	}
	if env.SenderID == c.clientID {
		// Self-echo suppression (spec §8.3).
		return
	}
	if c.onMessage != nil {
		c.onMessage(env.DataStr)
	}
}

// Send broadcasts dataStr to the room, stamped with this client's id.
func (c *Client) Send(ctx context.Context, dataStr string) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return xerr.New(xerr.NotConnected, "rendezvous.Send", nil)
	}

	raw, err := json.Marshal(envelope{SenderID: c.clientID, DataStr: dataStr})
	if err != nil {
		return xerr.New(xerr.InvalidFormat, "rendezvous.Send", err)
	}

	if err := conn.Send(ctx, raw); err != nil {
		c.reportError(xerr.New(xerr.ChannelClosed, "rendezvous.Send", err))
		return err
	}
	return nil
}

// Disconnect tears down the subscription and clears all state.
// Idempotent: a second call is a no-op.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.done = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	if done != nil {
		close(done)
	}
	return conn.Close()
}

func (c *Client) reportError(err error) {
	c.errMu.Lock()
	defer c.errMu.Unlock()

	msg := err.Error()
	now := time.Now()
	if msg == c.lastErrMsg && now.Sub(c.lastErrAt) < errorDebounce {
		return
	}
	c.lastErrMsg = msg
	c.lastErrAt = now

	if c.onError != nil {
		c.onError(err)
	}
}
