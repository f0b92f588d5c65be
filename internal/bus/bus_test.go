package bus

import (
	"context"
	"testing"
	"time"
)

func TestServerBroadcastsWithinRoom(t *testing.T) {
	srv, err := NewServer("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	defer srv.Close()
	go srv.Serve()

	client := NewTCPBus(srv.Addr())
	ctx := context.Background()

	a, err := client.Join(ctx, "room-1")
	if err != nil {
		t.Fatalf("Join a: %v", err)
	}
	defer a.Close()

	b, err := client.Join(ctx, "room-1")
	if err != nil {
		t.Fatalf("Join b: %v", err)
	}
	defer b.Close()

	// Give the server a moment to register both joins.
	time.Sleep(50 * time.Millisecond)

	if err := a.Send(ctx, []byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-b.Messages():
		if string(msg) != "hello" {
			t.Fatalf("unexpected payload: %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestInProcessBusBroadcastsWithinRoom(t *testing.T) {
	busInst := NewInProcess()
	ctx := context.Background()

	a, _ := busInst.Join(ctx, "room")
	b, _ := busInst.Join(ctx, "room")
	other, _ := busInst.Join(ctx, "other-room")

	_ = a.Send(ctx, []byte("ping"))

	select {
	case msg := <-b.Messages():
		if string(msg) != "ping" {
			t.Fatalf("unexpected payload: %s", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for in-process broadcast")
	}

	select {
	case msg := <-other.Messages():
		t.Fatalf("unexpected cross-room delivery: %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
