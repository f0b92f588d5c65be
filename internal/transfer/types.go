// Package transfer implements the File Transfer State Machine (spec
// §4.5): sender-side metadata/accept/striped-send/final-ack, receiver-
// side meta/accept/reassembly/streaming-write/cancellation, and the
// outgoing queue that serialises multi-file sends.
package transfer

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sharefileio/sharefile/internal/xerr"
)

const (
	acceptTimeout       = 10 * time.Minute
	doneTimeout         = 10 * time.Minute
	capsWaitTimeout     = 5 * time.Second
	openChannelTimeout  = 15 * time.Second
	bufferWaitTimeout   = 2 * time.Minute
	acceptResendPeriod  = 700 * time.Millisecond
	maxAcceptAttempts   = 20
)

// Source is a random-access byte source with a known size, the
// sender-side analogue of spec §3's "Outgoing Transfer.source". A
// caller typically wraps an *os.File.
type Source interface {
	Size() int64
	ReadAt(p []byte, off int64) (int, error)
}

// Sink is the polymorphic streaming-write capability the receiver
// writes committed bytes into (spec §9 "Streaming sink integration").
// The final disk-write implementation lives outside the core (spec §1
// Non-goals); callers that have none use an in-memory fallback
// automatically (see AcceptIncoming and IncomingTransfer.Bytes).
type Sink interface {
	Write(p []byte) error
	Close() error
	Abort() error
}

// OutgoingTransfer is spec §3's Outgoing Transfer entity: at most one is
// ever active per Manager (the outgoing queue serialises the rest).
type OutgoingTransfer struct {
	ID     string
	Name   string
	Source Source
	Cancel *xerr.Token

	mu       sync.Mutex
	metaSent bool
	sent     int64

	acceptCh chan struct{}
	doneCh   chan struct{}
}

// SentBytes reports bytes written to a stripe channel so far, for
// progress reporting (§10 supplemented feature: CLI progress rendering).
func (t *OutgoingTransfer) SentBytes() int64 {
	return atomic.LoadInt64(&t.sent)
}

func (t *OutgoingTransfer) addSent(n int) {
	atomic.AddInt64(&t.sent, int64(n))
}

func newOutgoingTransfer(id, name string, src Source, cancel *xerr.Token) *OutgoingTransfer {
	return &OutgoingTransfer{
		ID:       id,
		Name:     name,
		Source:   src,
		Cancel:   cancel,
		acceptCh: make(chan struct{}, 1),
		doneCh:   make(chan struct{}, 1),
	}
}

func (t *OutgoingTransfer) setMetaSent() {
	t.mu.Lock()
	t.metaSent = true
	t.mu.Unlock()
}

func (t *OutgoingTransfer) hasMetaSent() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.metaSent
}

// IncomingTransfer is spec §3's Incoming Transfer entity.
type IncomingTransfer struct {
	ID          string
	StreamBase  string
	StreamCount int
	Name        string
	Size        int64

	mu          sync.Mutex
	received    int64
	expectedSeq uint32
	pending     map[uint32][]byte

	sink     Sink
	fallback [][]byte

	accepted    bool
	acceptAcked bool
	cancelled   bool

	writeQueue       [][]byte
	writeQueuedBytes int64
	flushing         bool

	ackOnce     sync.Once
	acceptAckCh chan struct{}
}

func newIncomingTransfer(id, streamBase string, streamCount int, name string, size int64) *IncomingTransfer {
	return &IncomingTransfer{
		ID:          id,
		StreamBase:  streamBase,
		StreamCount: streamCount,
		Name:        name,
		Size:        size,
		pending:     make(map[uint32][]byte),
		acceptAckCh: make(chan struct{}),
	}
}

// Received reports bytes committed to the sink (or fallback buffer) so
// far, for progress reporting.
func (it *IncomingTransfer) Received() int64 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.received
}

// Bytes returns the assembled content when no streaming sink was
// supplied (spec §9: "When absent, fall back to an in-memory list of
// byte buffers assembled at completion.").
func (it *IncomingTransfer) Bytes() []byte {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.sink != nil {
		return nil
	}
	out := make([]byte, 0, it.received)
	for _, b := range it.fallback {
		out = append(out, b...)
	}
	return out
}
