package session

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/sharefileio/sharefile/internal/protocol"
	"github.com/sharefileio/sharefile/internal/xerr"
)

// OnControlMessage registers the handler invoked for every decoded
// control-channel message. It may be set after construction (the
// transfer.Manager attaches itself this way) but should not be changed
// concurrently with inbound traffic.
func (s *Session) OnControlMessage(fn func(protocol.ControlMessage)) {
	s.mu.Lock()
	s.onControlMessage = fn
	s.mu.Unlock()
}

// OnFileFrame registers the handler invoked for every decoded file-
// channel frame, keyed by the stripe's stream id.
func (s *Session) OnFileFrame(fn func(streamID string, seq uint32, payload []byte)) {
	s.mu.Lock()
	s.onFileFrame = fn
	s.mu.Unlock()
}

// ControlOpen reports whether the control channel is currently open.
func (s *Session) ControlOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controlOpen
}

// bindControlChannel wires OnOpen/OnMessage/OnClose for the control
// channel, starting the heartbeat once it opens (spec §4.3, §4.7).
func (s *Session) bindControlChannel(dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.controlChannel = dc
	s.mu.Unlock()

	dc.OnOpen(func() {
		s.mu.Lock()
		s.controlOpen = true
		s.mu.Unlock()
		s.logger.Debug("control channel open")
		// hello MUST precede any hb-* message (spec §5).
		_ = s.SendControl(protocol.Hello{
			V:    protocolVersion,
			Caps: protocol.HelloCaps{Striping: protocol.IntBool(s.cfg.UseStriping)},
		})
		s.startHeartbeat()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.markActivity()
		s.handleControlMessage(msg)
	})
	dc.OnClose(func() {
		s.mu.Lock()
		s.controlOpen = false
		s.mu.Unlock()
		s.logger.Debug("control channel closed")
		s.stopHeartbeat()
	})
}

// bindInboundChannel dispatches a remotely-opened channel by label, per
// spec §4.3 channel routing: exact "sharefile-ctrl" is control,
// "sharefile-file:" prefix is a file stripe, and otherwise — if no
// control channel is bound yet — treat it as control.
func (s *Session) bindInboundChannel(dc *webrtc.DataChannel) {
	label := dc.Label()

	if label == controlLabel {
		s.bindControlChannel(dc)
		return
	}
	if streamID, ok := isFileLabel(label); ok {
		s.bindFileChannel(streamID, dc)
		return
	}

	s.mu.Lock()
	hasControl := s.controlChannel != nil
	s.mu.Unlock()
	if !hasControl {
		s.bindControlChannel(dc)
		return
	}
	s.logger.Warn("ignoring data channel with unrecognised label", "label", label)
}

func (s *Session) bindFileChannel(streamID string, dc *webrtc.DataChannel) {
	s.mu.Lock()
	s.fileChannels[streamID] = dc
	s.mu.Unlock()

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.markActivity()
		seq, payload, err := protocol.DecodeFrame(msg.Data)
		if err != nil {
			s.logger.Warn("dropping malformed file frame", "stream", streamID, "error", err)
			return
		}
		s.mu.Lock()
		handler := s.onFileFrame
		s.mu.Unlock()
		if handler != nil {
			handler(streamID, seq, payload)
		}
	})
	dc.OnClose(func() {
		s.mu.Lock()
		delete(s.fileChannels, streamID)
		s.mu.Unlock()
	})
}

// EnsureFileChannels opens count channels for stripe base: id "base" for
// stripe 0, "base:<i>" for stripe i>=1 (spec §4.3). It is idempotent per
// id, reusing any channel already open or opening, and waits up to
// timeout for every new channel to reach the open state.
func (s *Session) EnsureFileChannels(ctx context.Context, base string, count int, timeout time.Duration) ([]*webrtc.DataChannel, error) {
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return nil, xerr.New(xerr.NotConnected, "session.EnsureFileChannels", nil)
	}

	ordered := !s.cfg.UseUnorderedFileChannels
	out := make([]*webrtc.DataChannel, count)
	opened := make([]chan struct{}, count)

	for i := 0; i < count; i++ {
		streamID := stripeStreamID(base, i)

		s.mu.Lock()
		existing := s.fileChannels[streamID]
		s.mu.Unlock()
		if existing != nil {
			out[i] = existing
			continue
		}

		dc, err := pc.CreateDataChannel(fileLabelPrefix+streamID, orderedInit(ordered))
		if err != nil {
			return nil, xerr.New(xerr.NotConnected, "session.EnsureFileChannels", err)
		}
		ready := make(chan struct{})
		opened[i] = ready
		dc.OnOpen(func() { close(ready) })
		s.bindFileChannel(streamID, dc)
		out[i] = dc
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for i, ready := range opened {
		if ready == nil {
			continue
		}
		select {
		case <-ready:
		case <-deadline.C:
			return nil, xerr.New(xerr.Timeout, "session.EnsureFileChannels", fmt.Errorf("stripe %d", i))
		case <-ctx.Done():
			return nil, xerr.New(xerr.Cancelled, "session.EnsureFileChannels", ctx.Err())
		}
	}
	return out, nil
}

func stripeStreamID(base string, index int) string {
	if index == 0 {
		return base
	}
	return fmt.Sprintf("%s:%d", base, index)
}

// CloseFileChannelsByPrefix closes every file channel whose id is
// exactly base or begins with "base:" (spec §4.3/§4.8 cancellation).
func (s *Session) CloseFileChannelsByPrefix(base string) {
	s.mu.Lock()
	var toClose []*webrtc.DataChannel
	for id, dc := range s.fileChannels {
		if id == base || len(id) > len(base)+1 && id[:len(base)+1] == base+":" {
			toClose = append(toClose, dc)
		}
	}
	s.mu.Unlock()

	for _, dc := range toClose {
		_ = dc.Close()
	}
}

// FileChannel returns the currently bound channel for streamID, if any.
func (s *Session) FileChannel(streamID string) (*webrtc.DataChannel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dc, ok := s.fileChannels[streamID]
	return dc, ok
}

// Send sends text on the control channel iff it is open (spec §4.3).
func (s *Session) Send(text string) error {
	s.mu.Lock()
	dc, open := s.controlChannel, s.controlOpen
	s.mu.Unlock()
	if dc == nil || !open {
		return xerr.New(xerr.NotConnected, "session.Send", nil)
	}
	return dc.SendText(text)
}

// SendControl encodes and sends a control-channel message.
func (s *Session) SendControl(msg protocol.ControlMessage) error {
	encoded, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}
	return s.Send(encoded)
}

func (s *Session) handleControlMessage(msg webrtc.DataChannelMessage) {
	raw := string(msg.Data)
	decoded, err := s.codec.Decode(raw)
	if err != nil {
		s.logger.Warn("dropping malformed control message", "error", err)
		return
	}

	switch m := decoded.(type) {
	case protocol.Hello:
		s.mu.Lock()
		s.remoteCaps = &m.Caps
		first := !s.helloSeen
		s.helloSeen = true
		s.mu.Unlock()
		if first {
			s.capsOnce.Do(func() { close(s.capsReceived) })
		}
	case protocol.HeartbeatPing:
		_ = s.SendControl(protocol.HeartbeatPong{T: m.T})
	case protocol.HeartbeatPong:
		// activity already marked by the caller.
	}

	s.mu.Lock()
	handler := s.onControlMessage
	s.mu.Unlock()
	if handler != nil {
		handler(decoded)
	}
}

// WaitForRemoteCapabilities resolves once a "hello" has been seen, or
// resolves (nil, nil) on timeout per spec §4.3 ("resolves null on
// timeout" — modeled in Go as a nil *HelloCaps with no error).
func (s *Session) WaitForRemoteCapabilities(ctx context.Context, timeout time.Duration) (*protocol.HelloCaps, error) {
	s.mu.Lock()
	if s.helloSeen {
		caps := s.remoteCaps
		s.mu.Unlock()
		return caps, nil
	}
	s.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-s.capsReceived:
		s.mu.Lock()
		caps := s.remoteCaps
		s.mu.Unlock()
		return caps, nil
	case <-timer.C:
		return nil, nil
	case <-ctx.Done():
		return nil, xerr.New(xerr.Cancelled, "session.WaitForRemoteCapabilities", ctx.Err())
	}
}

// WaitForBuffer resolves when ch.BufferedAmount() <= low or the channel
// leaves the open state, honouring cancel's abort (spec §4.3).
func (s *Session) WaitForBuffer(ctx context.Context, ch *webrtc.DataChannel, low int, timeout time.Duration) error {
	if ch.BufferedAmount() <= uint64(low) {
		return nil
	}

	lowCh := make(chan struct{}, 1)
	ch.SetBufferedAmountLowThreshold(uint64(low))
	ch.OnBufferedAmountLow(func() {
		select {
		case lowCh <- struct{}{}:
		default:
		}
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if ch.ReadyState() != webrtc.DataChannelStateOpen {
			return nil
		}
		if ch.BufferedAmount() <= uint64(low) {
			return nil
		}
		select {
		case <-lowCh:
			continue
		case <-ticker.C:
			continue
		case <-timer.C:
			return xerr.New(xerr.Timeout, "session.WaitForBuffer", nil)
		case <-ctx.Done():
			return xerr.New(xerr.Cancelled, "session.WaitForBuffer", ctx.Err())
		}
	}
}
