package transfer

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sharefileio/sharefile/internal/config"
	"github.com/sharefileio/sharefile/internal/frame"
	"github.com/sharefileio/sharefile/internal/protocol"
	"github.com/sharefileio/sharefile/internal/session"
	"github.com/sharefileio/sharefile/internal/xerr"
)

// Hooks is the narrow event interface the Manager surfaces to its
// caller, in place of the source's callback soup (Design Notes §9).
type Hooks struct {
	OnIncomingMeta     func(*IncomingTransfer)
	OnIncomingComplete func(*IncomingTransfer)
	OnText             func(string)
}

// Manager glues a session.Session to the sender and receiver state
// machines, and serialises outgoing sends through a single-active-job
// queue (spec §4.5 invariant: "at most one active outgoing transfer at a
// time per session").
type Manager struct {
	sess   *session.Session
	cfg    config.Configuration
	logger *slog.Logger
	hooks  Hooks

	jobs chan *outgoingJob

	outMu  sync.Mutex
	active *OutgoingTransfer

	inMu      sync.Mutex
	receiving *IncomingTransfer
}

type outgoingJob struct {
	transfer *OutgoingTransfer
	result   chan error
}

// NewManager builds a Manager bound to sess and registers its control-
// message and file-frame handlers on it. It also starts the outgoing
// queue worker and the session-termination watcher.
func NewManager(sess *session.Session, cfg config.Configuration, logger *slog.Logger, hooks Hooks) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		sess:   sess,
		cfg:    cfg,
		logger: logger,
		hooks:  hooks,
		jobs:   make(chan *outgoingJob, 64),
	}
	sess.OnControlMessage(m.handleControlMessage)
	sess.OnFileFrame(m.handleFileFrame)

	go m.runQueue()
	go m.watchSessionStatus()
	return m
}

func newStreamBase() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// EnqueueSend queues fileId for sending and returns the queued transfer
// handle (for progress reporting via OutgoingTransfer.SentBytes) plus a
// channel that receives exactly one result once it finishes, is
// cancelled, or fails.
func (m *Manager) EnqueueSend(id, name string, src Source, cancel *xerr.Token) (*OutgoingTransfer, <-chan error) {
	t := newOutgoingTransfer(id, name, src, cancel)
	job := &outgoingJob{transfer: t, result: make(chan error, 1)}
	m.jobs <- job
	return t, job.result
}

// CancelOutgoing aborts the outgoing transfer with the given id if it is
// the active one. A transfer still waiting in the queue is not found by
// id; aborting its own Cancel token stops it when it is dequeued.
// Idempotent (spec §8.4).
func (m *Manager) CancelOutgoing(id string, reason string) {
	m.outMu.Lock()
	t := m.active
	m.outMu.Unlock()
	if t == nil || t.ID != id {
		return
	}
	t.Cancel.Abort(xerr.New(xerr.Cancelled, "transfer.CancelOutgoing", errors.New(reason)))
}

func (m *Manager) runQueue() {
	for job := range m.jobs {
		err := m.runOutgoing(job.transfer)
		// Once the token is aborted, its reason (PeerCancelled from a peer's
		// file-cancel, ChannelClosed on session termination) is what the
		// caller sees, not the Cancelled error of whichever wait noticed it.
		if err != nil && job.transfer.Cancel.Aborted() {
			var cause *xerr.Error
			if errors.As(job.transfer.Cancel.Err(), &cause) {
				err = cause
			}
		}
		job.result <- err
	}
}

func (m *Manager) setActive(t *OutgoingTransfer) {
	m.outMu.Lock()
	m.active = t
	m.outMu.Unlock()
}

func (m *Manager) clearActive(t *OutgoingTransfer) {
	m.outMu.Lock()
	if m.active == t {
		m.active = nil
	}
	m.outMu.Unlock()
}

func (m *Manager) runOutgoing(t *OutgoingTransfer) error {
	if t.Cancel.Aborted() {
		return xerr.New(xerr.Cancelled, "transfer.runOutgoing", nil)
	}
	if !m.sess.ControlOpen() {
		return xerr.New(xerr.NotConnected, "transfer.runOutgoing", nil)
	}

	stripeCount := 1
	if m.cfg.UseStriping {
		caps, _ := m.sess.WaitForRemoteCapabilities(t.Cancel.Context(), capsWaitTimeout)
		if caps != nil && bool(caps.Striping) {
			stripeCount = frame.StripeCount(true, frame.HostMemoryBytes(), frame.HardwareConcurrency())
		}
	}

	base := newStreamBase()
	channels, err := m.sess.EnsureFileChannels(t.Cancel.Context(), base, stripeCount, openChannelTimeout)
	if err != nil {
		return err
	}

	m.setActive(t)
	defer m.clearActive(t)

	if err := m.sess.SendControl(protocol.FileMeta{
		ID:   t.ID,
		SID:  base,
		SC:   stripeCount,
		Name: t.Name,
		Size: t.Source.Size(),
	}); err != nil {
		m.failOutgoing(t, base, err)
		return err
	}
	t.setMetaSent()

	if err := m.waitAccept(t); err != nil {
		m.failOutgoing(t, base, err)
		return err
	}
	if err := m.sess.SendControl(protocol.FileAcceptAck{ID: t.ID}); err != nil {
		m.failOutgoing(t, base, err)
		return err
	}

	if err := m.sendChunks(t, channels); err != nil {
		m.failOutgoing(t, base, err)
		return err
	}

	if m.cfg.UseUnorderedFileChannels {
		if err := m.waitDone(t); err != nil {
			m.failOutgoing(t, base, err)
			return err
		}
	}
	return nil
}

func (m *Manager) waitAccept(t *OutgoingTransfer) error {
	timer := time.NewTimer(acceptTimeout)
	defer timer.Stop()
	select {
	case <-t.acceptCh:
		return nil
	case <-t.Cancel.Done():
		return xerr.New(xerr.Cancelled, "transfer.waitAccept", t.Cancel.Err())
	case <-timer.C:
		return xerr.New(xerr.Timeout, "transfer.waitAccept", nil)
	}
}

func (m *Manager) waitDone(t *OutgoingTransfer) error {
	timer := time.NewTimer(doneTimeout)
	defer timer.Stop()
	select {
	case <-t.doneCh:
		return nil
	case <-t.Cancel.Done():
		return xerr.New(xerr.Cancelled, "transfer.waitDone", t.Cancel.Err())
	case <-timer.C:
		return xerr.New(xerr.Timeout, "transfer.waitDone", nil)
	}
}

// failOutgoing implements spec §4.5 step 7 / §4.8: emit file-cancel iff
// file-meta had been sent, then close every stripe channel for base.
func (m *Manager) failOutgoing(t *OutgoingTransfer, base string, cause error) {
	if t.hasMetaSent() {
		reason := "error"
		if k, ok := xerr.KindOf(cause); ok {
			reason = k.String()
		}
		_ = m.sess.SendControl(protocol.FileCancel{ID: t.ID, Reason: reason})
	}
	m.sess.CloseFileChannelsByPrefix(base)
}

func (m *Manager) handleControlMessage(msg protocol.ControlMessage) {
	switch mm := msg.(type) {
	case protocol.FileMeta:
		m.handleIncomingMeta(mm)
	case protocol.FileAccept:
		m.handleOutgoingAccept(mm)
	case protocol.FileAcceptAck:
		m.handleIncomingAcceptAck(mm)
	case protocol.FileDone:
		m.handleOutgoingDone(mm)
	case protocol.FileCancel:
		m.handleCancel(mm)
	case protocol.Text:
		if m.hooks.OnText != nil {
			m.hooks.OnText(mm.TextBody)
		}
	}
}

func (m *Manager) handleOutgoingAccept(msg protocol.FileAccept) {
	m.outMu.Lock()
	t := m.active
	m.outMu.Unlock()
	if t == nil || t.ID != msg.ID {
		return
	}
	select {
	case t.acceptCh <- struct{}{}:
	default:
	}
}

func (m *Manager) handleOutgoingDone(msg protocol.FileDone) {
	m.outMu.Lock()
	t := m.active
	m.outMu.Unlock()
	if t == nil || t.ID != msg.ID {
		return
	}
	select {
	case t.doneCh <- struct{}{}:
	default:
	}
}

// handleCancel routes a peer's file-cancel to whichever side of this
// Manager owns that id: the active outgoing transfer (peer refused or
// aborted our send) or the in-progress incoming transfer (peer aborted
// their send to us).
func (m *Manager) handleCancel(msg protocol.FileCancel) {
	m.outMu.Lock()
	t := m.active
	m.outMu.Unlock()
	if t != nil && t.ID == msg.ID {
		t.Cancel.Abort(xerr.New(xerr.PeerCancelled, "transfer.handleCancel", errors.New(msg.Reason)))
		return
	}

	m.inMu.Lock()
	it := m.receiving
	m.inMu.Unlock()
	if it != nil && it.ID == msg.ID {
		m.cancelIncomingLocal(it, false)
	}
}

// watchSessionStatus implements spec §7's session-termination policy:
// on failed/closed/disconnected, cancel every active transfer without
// peer notification (the channels are already gone) and let every
// pending waiter unblock via its own Cancel token / channel close.
func (m *Manager) watchSessionStatus() {
	for status := range m.sess.StatusCh() {
		switch status {
		case session.StatusFailed, session.StatusClosed, session.StatusDisconnected:
			m.onSessionTerminated()
			return
		}
	}
}

func (m *Manager) onSessionTerminated() {
	m.outMu.Lock()
	t := m.active
	m.outMu.Unlock()
	if t != nil {
		t.Cancel.Abort(xerr.New(xerr.ChannelClosed, "transfer.onSessionTerminated", nil))
	}

	m.inMu.Lock()
	it := m.receiving
	m.inMu.Unlock()
	if it != nil {
		m.cancelIncomingLocal(it, false)
	}
}

