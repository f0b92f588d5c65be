package transfer

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sharefileio/sharefile/internal/config"
	"github.com/sharefileio/sharefile/internal/frame"
	"github.com/sharefileio/sharefile/internal/protocol"
	"github.com/sharefileio/sharefile/internal/session"
	"github.com/sharefileio/sharefile/internal/xerr"
)

// memSource is an in-memory transfer.Source, the test double for an
// *os.File-backed sender.
type memSource struct{ data []byte }

func (s *memSource) Size() int64 { return int64(len(s.data)) }
func (s *memSource) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, s.data[off:]), nil
}

// memSink is an in-memory transfer.Sink collecting committed bytes in
// order, the test double for the external disk-write collaborator.
type memSink struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	closed  bool
	aborted bool
}

func (s *memSink) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Write(p)
	return nil
}
func (s *memSink) Close() error { s.mu.Lock(); s.closed = true; s.mu.Unlock(); return nil }
func (s *memSink) Abort() error { s.mu.Lock(); s.aborted = true; s.mu.Unlock(); return nil }
func (s *memSink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

// connectedPair builds two Sessions over a real loopback WebRTC
// connection, the same pattern session_test.go uses, and waits for both
// to reach StatusConnected.
func connectedPair(t *testing.T, cfg config.Configuration) (sender, receiver *session.Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	sender = session.New(session.Options{Config: cfg})
	receiver = session.New(session.Options{Config: cfg})

	offer, err := sender.CreateOffer(ctx)
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	answer, err := receiver.CreateAnswer(ctx, offer)
	if err != nil {
		t.Fatalf("CreateAnswer: %v", err)
	}
	if err := sender.ApplyAnswer(ctx, answer); err != nil {
		t.Fatalf("ApplyAnswer: %v", err)
	}

	waitStatus(t, sender, session.StatusConnected)
	waitStatus(t, receiver, session.StatusConnected)
	return sender, receiver
}

func waitStatus(t *testing.T, s *session.Session, want session.Status) {
	t.Helper()
	if s.Status() == want {
		return
	}
	deadline := time.After(10 * time.Second)
	for {
		select {
		case got := <-s.StatusCh():
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status %s, last was %s", want, s.Status())
		}
	}
}

// TestSingleFileOrderedTransfer mirrors E2E-2: striping off, ordered file
// channels, a 300,000-byte file spanning several chunks.
func TestSingleFileOrderedTransfer(t *testing.T) {
	cfg := config.Configuration{UseStun: false, UseCompression: true}
	senderSess, receiverSess := connectedPair(t, cfg)
	defer senderSess.Close()
	defer receiverSess.Close()

	payload := bytes.Repeat([]byte{0xAB}, 300_000)

	sink := &memSink{}
	complete := make(chan *IncomingTransfer, 1)
	var receiverMgr *Manager
	receiverMgr = NewManager(receiverSess, cfg, nil, Hooks{
		OnIncomingMeta: func(it *IncomingTransfer) {
			receiverMgr.AcceptIncoming(it, sink)
		},
		OnIncomingComplete: func(it *IncomingTransfer) {
			complete <- it
		},
	})

	senderMgr := NewManager(senderSess, cfg, nil, Hooks{})
	src := &memSource{data: payload}
	_, resultCh := senderMgr.EnqueueSend("file-1", "a.bin", src, xerr.NewToken(nil))

	select {
	case err := <-resultCh:
		if err != nil {
			t.Fatalf("send failed: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for send to complete")
	}

	select {
	case it := <-complete:
		if it.Received() != int64(len(payload)) {
			t.Fatalf("received %d bytes, want %d", it.Received(), len(payload))
		}
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for receiver to finish")
	}

	if !bytes.Equal(sink.Bytes(), payload) {
		t.Fatal("sink contents do not match the sent payload")
	}
}

// TestEmptyFileTransfer checks the boundary scenario: an empty file
// emits exactly one (seq=0, len=0) frame and the receiver commits zero
// bytes before emitting file-done.
func TestEmptyFileTransfer(t *testing.T) {
	cfg := config.Configuration{UseStun: false, UseCompression: true}
	senderSess, receiverSess := connectedPair(t, cfg)
	defer senderSess.Close()
	defer receiverSess.Close()

	sink := &memSink{}
	complete := make(chan *IncomingTransfer, 1)
	var receiverMgr *Manager
	receiverMgr = NewManager(receiverSess, cfg, nil, Hooks{
		OnIncomingMeta: func(it *IncomingTransfer) {
			receiverMgr.AcceptIncoming(it, sink)
		},
		OnIncomingComplete: func(it *IncomingTransfer) {
			complete <- it
		},
	})

	senderMgr := NewManager(senderSess, cfg, nil, Hooks{})
	src := &memSource{data: nil}
	_, resultCh := senderMgr.EnqueueSend("file-empty", "empty.bin", src, xerr.NewToken(nil))

	select {
	case err := <-resultCh:
		if err != nil {
			t.Fatalf("send failed: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for send to complete")
	}

	select {
	case it := <-complete:
		if it.Received() != 0 {
			t.Fatalf("received %d bytes, want 0", it.Received())
		}
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for receiver to finish")
	}
}

// TestCancelIncomingStopsFurtherFrames mirrors the idempotent-cancel
// property (§8.4): cancelling twice observes the same state as once, and
// the sender sees PeerCancelled.
func TestCancelIncomingStopsFurtherFrames(t *testing.T) {
	cfg := config.Configuration{UseStun: false, UseCompression: true}
	senderSess, receiverSess := connectedPair(t, cfg)
	defer senderSess.Close()
	defer receiverSess.Close()

	sink := &memSink{}
	metaSeen := make(chan *IncomingTransfer, 1)
	var receiverMgr *Manager
	receiverMgr = NewManager(receiverSess, cfg, nil, Hooks{
		OnIncomingMeta: func(it *IncomingTransfer) {
			receiverMgr.AcceptIncoming(it, sink)
			metaSeen <- it
		},
	})

	senderMgr := NewManager(senderSess, cfg, nil, Hooks{})
	payload := bytes.Repeat([]byte{0x01}, 5_000_000)
	src := &memSource{data: payload}
	_, resultCh := senderMgr.EnqueueSend("file-cancel", "big.bin", src, xerr.NewToken(nil))

	var it *IncomingTransfer
	select {
	case it = <-metaSeen:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for file-meta")
	}

	receiverMgr.CancelIncoming(it.ID)
	receiverMgr.CancelIncoming(it.ID) // idempotent

	select {
	case err := <-resultCh:
		if k, ok := xerr.KindOf(err); !ok || k != xerr.PeerCancelled {
			t.Fatalf("want PeerCancelled, got %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("timed out waiting for sender to observe cancellation")
	}
}

// TestTextEchoOverControlChannel mirrors E2E-1: a text control message
// reaches the peer's Hooks.OnText with no file channel involved.
func TestTextEchoOverControlChannel(t *testing.T) {
	cfg := config.Configuration{UseStun: false}
	senderSess, receiverSess := connectedPair(t, cfg)
	defer senderSess.Close()
	defer receiverSess.Close()

	received := make(chan string, 1)
	_ = NewManager(receiverSess, cfg, nil, Hooks{
		OnText: func(text string) { received <- text },
	})
	_ = NewManager(senderSess, cfg, nil, Hooks{})

	if err := senderSess.SendControl(protocol.Text{TextBody: "hi"}); err != nil {
		t.Fatalf("SendControl: %v", err)
	}

	select {
	case text := <-received:
		if text != "hi" {
			t.Fatalf("got %q, want %q", text, "hi")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the text echo")
	}
}

// TestStripedReorderedFrames mirrors E2E-3: with striping on, a frame
// arriving out of order is buffered in IncomingTransfer.pending and only
// committed once the gap is filled, exercising the reorder-drain branch
// in handleFileFrame (spec.md's "sequence monotonicity" property, §8)
// that an ordered, unstriped transfer never reaches.
func TestStripedReorderedFrames(t *testing.T) {
	cfg := config.Configuration{UseStun: false}
	sess := session.New(session.Options{Config: cfg})
	defer sess.Close()

	const stripeCount = 2
	payload := make([]byte, 1_048_576)
	for i := range payload {
		payload[i] = byte(i % 256)
	}

	chunkSize := frame.ChunkSize(0)
	var frames [][]byte
	for offset := 0; offset < len(payload); {
		end := offset + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		frames = append(frames, payload[offset:end])
		offset = end
	}
	if len(frames) < 2 {
		t.Fatalf("expected at least 2 frames for this payload/chunk size, got %d", len(frames))
	}

	sink := &memSink{}
	complete := make(chan *IncomingTransfer, 1)
	var mgr *Manager
	mgr = NewManager(sess, cfg, nil, Hooks{
		OnIncomingMeta: func(it *IncomingTransfer) {
			mgr.AcceptIncoming(it, sink)
		},
		OnIncomingComplete: func(it *IncomingTransfer) {
			complete <- it
		},
	})

	mgr.handleIncomingMeta(protocol.FileMeta{
		ID: "file-reorder", SID: "base", SC: stripeCount,
		Name: "r.bin", Size: int64(len(payload)),
	})

	// Mirrors session.stripeStreamID: stripe 0 is the bare base, every
	// other stripe is "base:<index>".
	streamFor := func(seq int) string {
		idx := seq % stripeCount
		if idx == 0 {
			return "base"
		}
		return fmt.Sprintf("base:%d", idx)
	}

	// Simulated reorder: seq 1 arrives before seq 0.
	mgr.handleFileFrame(streamFor(1), 1, frames[1])
	mgr.handleFileFrame(streamFor(0), 0, frames[0])
	for seq := 2; seq < len(frames); seq++ {
		mgr.handleFileFrame(streamFor(seq), uint32(seq), frames[seq])
	}

	select {
	case it := <-complete:
		if it.Received() != int64(len(payload)) {
			t.Fatalf("received %d bytes, want %d", it.Received(), len(payload))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the receiver to finish")
	}

	if !bytes.Equal(sink.Bytes(), payload) {
		t.Fatal("sink contents do not match the input after reorder")
	}
}
