package transfer

import (
	"strings"
	"time"

	"github.com/sharefileio/sharefile/internal/frame"
	"github.com/sharefileio/sharefile/internal/protocol"
)

// handleIncomingMeta implements spec §4.5 receiver step 1. A file-meta
// arriving while a receive is already in progress is silently ignored —
// the Open Question in spec §9 preserves this rather than queueing it.
func (m *Manager) handleIncomingMeta(msg protocol.FileMeta) {
	m.inMu.Lock()
	if m.receiving != nil {
		m.inMu.Unlock()
		m.logger.Debug("ignoring file-meta while a receive is in progress", "id", msg.ID)
		return
	}
	it := newIncomingTransfer(msg.ID, msg.SID, msg.SC, msg.Name, msg.Size)
	m.receiving = it
	m.inMu.Unlock()

	if m.hooks.OnIncomingMeta != nil {
		m.hooks.OnIncomingMeta(it)
	}
}

// AcceptIncoming is called once the out-of-band UI event accepts a
// file-meta (spec §4.5 receiver step 2). sink may be nil, in which case
// received bytes are assembled in memory (spec §9).
func (m *Manager) AcceptIncoming(it *IncomingTransfer, sink Sink) {
	it.mu.Lock()
	if it.accepted {
		it.mu.Unlock()
		return
	}
	it.sink = sink
	it.accepted = true
	it.mu.Unlock()

	go m.resendAcceptLoop(it)
}

func (m *Manager) resendAcceptLoop(it *IncomingTransfer) {
	for attempt := 0; attempt < maxAcceptAttempts; attempt++ {
		it.mu.Lock()
		acked := it.acceptAcked
		it.mu.Unlock()
		if acked {
			return
		}

		_ = m.sess.SendControl(protocol.FileAccept{ID: it.ID})

		timer := time.NewTimer(acceptResendPeriod)
		select {
		case <-it.acceptAckCh:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (m *Manager) handleIncomingAcceptAck(msg protocol.FileAcceptAck) {
	m.inMu.Lock()
	it := m.receiving
	m.inMu.Unlock()
	if it == nil || it.ID != msg.ID {
		return
	}

	it.mu.Lock()
	it.acceptAcked = true
	it.mu.Unlock()
	it.ackOnce.Do(func() { close(it.acceptAckCh) })
}

// handleFileFrame dispatches an inbound file-channel frame to the
// in-progress incoming transfer whose stream base matches streamID.
func (m *Manager) handleFileFrame(streamID string, seq uint32, payload []byte) {
	m.inMu.Lock()
	it := m.receiving
	m.inMu.Unlock()
	if it == nil || !streamMatchesBase(streamID, it.StreamBase) {
		return
	}

	it.mu.Lock()
	if it.cancelled {
		it.mu.Unlock()
		return
	}
	switch {
	case seq < it.expectedSeq:
		// Duplicate frame; drop (spec §4.5 receiver step 3).
		it.mu.Unlock()
		return
	case seq > it.expectedSeq:
		it.pending[seq] = append([]byte(nil), payload...)
		it.mu.Unlock()
		return
	}

	toCommit := [][]byte{append([]byte(nil), payload...)}
	it.expectedSeq++
	for {
		buf, ok := it.pending[it.expectedSeq]
		if !ok {
			break
		}
		delete(it.pending, it.expectedSeq)
		toCommit = append(toCommit, buf)
		it.expectedSeq++
	}
	it.mu.Unlock()

	for _, b := range toCommit {
		m.commit(it, b)
	}
}

func streamMatchesBase(streamID, base string) bool {
	return streamID == base || strings.HasPrefix(streamID, base+":")
}

func (m *Manager) commit(it *IncomingTransfer, b []byte) {
	it.mu.Lock()
	it.received += int64(len(b))
	hasSink := it.sink != nil
	if hasSink {
		it.writeQueue = append(it.writeQueue, b)
		it.writeQueuedBytes += int64(len(b))
	} else {
		it.fallback = append(it.fallback, b)
	}
	received, size := it.received, it.Size
	it.mu.Unlock()

	if hasSink {
		m.scheduleFlush(it, false)
	}
	if received >= size {
		m.finishIncoming(it)
	}
}

func (m *Manager) flushBatchTarget() int {
	return frame.FlushBatchTarget(frame.HostMemoryBytes(), m.cfg.Fast)
}

// scheduleFlush drains the write queue once it reaches the batch target
// (or force is set, e.g. at completion), self-chaining so at most one
// write batch is ever in flight (spec §5: "the flusher self-chains...
// to ensure at most one in-flight write batch").
func (m *Manager) scheduleFlush(it *IncomingTransfer, force bool) {
	it.mu.Lock()
	if it.flushing {
		it.mu.Unlock()
		return
	}
	if !force && it.writeQueuedBytes < int64(m.flushBatchTarget()) {
		it.mu.Unlock()
		return
	}
	if len(it.writeQueue) == 0 {
		it.mu.Unlock()
		return
	}
	batch := it.writeQueue
	it.writeQueue = nil
	it.writeQueuedBytes = 0
	it.flushing = true
	it.mu.Unlock()

	go m.flush(it, batch)
}

func (m *Manager) flush(it *IncomingTransfer, batch [][]byte) {
	for _, b := range batch {
		it.mu.Lock()
		sink := it.sink
		it.mu.Unlock()
		if sink == nil {
			break
		}
		if err := sink.Write(b); err != nil {
			m.logger.Warn("sink write failed", "id", it.ID, "error", err)
			m.cancelIncomingLocal(it, true)
			return
		}
	}

	it.mu.Lock()
	it.flushing = false
	hasMore := len(it.writeQueue) > 0
	it.mu.Unlock()
	if hasMore {
		m.scheduleFlush(it, false)
	}
}

func (m *Manager) waitForFlushDrain(it *IncomingTransfer) {
	it.mu.Lock()
	hasSink := it.sink != nil
	it.mu.Unlock()
	if !hasSink {
		return
	}

	for {
		it.mu.Lock()
		remaining, flushing := len(it.writeQueue) > 0, it.flushing
		it.mu.Unlock()
		if !remaining && !flushing {
			return
		}
		if remaining && !flushing {
			m.scheduleFlush(it, true)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

// finishIncoming implements spec §4.5 receiver step 5: flush, close the
// sink, emit file-done, and clear the active receiving slot.
func (m *Manager) finishIncoming(it *IncomingTransfer) {
	it.mu.Lock()
	if it.cancelled {
		it.mu.Unlock()
		return
	}
	it.mu.Unlock()

	m.waitForFlushDrain(it)

	it.mu.Lock()
	sink := it.sink
	it.mu.Unlock()
	if sink != nil {
		if err := sink.Close(); err != nil {
			m.logger.Warn("sink close failed", "id", it.ID, "error", err)
		}
	}

	_ = m.sess.SendControl(protocol.FileDone{ID: it.ID})

	m.inMu.Lock()
	if m.receiving == it {
		m.receiving = nil
	}
	m.inMu.Unlock()

	if m.hooks.OnIncomingComplete != nil {
		m.hooks.OnIncomingComplete(it)
	}
}

// CancelIncoming aborts the in-progress receive matching id. Idempotent
// (spec §8.4).
func (m *Manager) CancelIncoming(id string) {
	m.inMu.Lock()
	it := m.receiving
	m.inMu.Unlock()
	if it == nil || it.ID != id {
		return
	}

	it.mu.Lock()
	already := it.cancelled
	it.mu.Unlock()
	if already {
		return
	}
	m.cancelIncomingLocal(it, true)
}

// cancelIncomingLocal implements spec §4.5 receiver cancellation and
// §4.8: abort the sink, clear pending buffers, remove the entry, and —
// when notifyPeer is set — emit file-cancel.
func (m *Manager) cancelIncomingLocal(it *IncomingTransfer, notifyPeer bool) {
	it.mu.Lock()
	it.cancelled = true
	it.pending = nil
	sink := it.sink
	it.mu.Unlock()

	if sink != nil {
		_ = sink.Abort()
	}
	if notifyPeer {
		_ = m.sess.SendControl(protocol.FileCancel{ID: it.ID, Reason: "cancelled"})
	}

	m.inMu.Lock()
	if m.receiving == it {
		m.receiving = nil
	}
	m.inMu.Unlock()
}
