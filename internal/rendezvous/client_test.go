package rendezvous

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

type fakeConn struct {
	sent     [][]byte
	messages chan []byte
	errors   chan error
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		messages: make(chan []byte, 16),
		errors:   make(chan error, 4),
	}
}

func (f *fakeConn) Send(_ context.Context, payload []byte) error {
	f.sent = append(f.sent, payload)
	return nil
}

func (f *fakeConn) Messages() <-chan []byte { return f.messages }
func (f *fakeConn) Errors() <-chan error    { return f.errors }
func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

type fakeBus struct {
	conn *fakeConn
}

func (b *fakeBus) Join(_ context.Context, _ string) (Conn, error) {
	return b.conn, nil
}

func TestClientSuppressesSelfEcho(t *testing.T) {
	conn := newFakeConn()
	bus := &fakeBus{conn: conn}

	var got []string
	c := New(Options{Bus: bus, OnMessage: func(s string) { got = append(got, s) }})

	if err := c.Connect(context.Background(), "room"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	self, _ := json.Marshal(map[string]string{"senderId": c.ClientID(), "dataStr": "from-self"})
	other, _ := json.Marshal(map[string]string{"senderId": "someone-else", "dataStr": "from-peer"})
	conn.messages <- self
	conn.messages <- other

	deadline := time.After(time.Second)
	for len(got) < 1 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for message delivery")
		case <-time.After(time.Millisecond):
		}
	}

	if len(got) != 1 || got[0] != "from-peer" {
		t.Fatalf("expected only the non-self message to be delivered, got %v", got)
	}
}

func TestClientErrorDebounce(t *testing.T) {
	conn := newFakeConn()
	bus := &fakeBus{conn: conn}

	var errs int
	c := New(Options{Bus: bus, OnError: func(error) { errs++ }})
	if err := c.Connect(context.Background(), "room"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	conn.errors <- errTest{}
	conn.errors <- errTest{}
	time.Sleep(20 * time.Millisecond)

	if errs != 1 {
		t.Fatalf("expected identical errors to be debounced, got %d callbacks", errs)
	}
}

type errTest struct{}

func (errTest) Error() string { return "boom" }

func TestDisconnectIdempotent(t *testing.T) {
	conn := newFakeConn()
	bus := &fakeBus{conn: conn}
	c := New(Options{Bus: bus})
	if err := c.Connect(context.Background(), "room"); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("second Disconnect should be a no-op: %v", err)
	}
	if !conn.closed {
		t.Fatal("expected underlying conn to be closed")
	}
}
