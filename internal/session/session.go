// Package session owns the negotiated WebRTC transport for one peer: the
// control channel, the dynamic set of file channels, ICE gathering,
// capability exchange, and the heartbeat/liveness model. Built on
// github.com/pion/webrtc/v3, using its OnOpen/OnMessage/OnClose
// data-channel callbacks and a default list of public STUN servers.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/sharefileio/sharefile/internal/config"
	"github.com/sharefileio/sharefile/internal/protocol"
	"github.com/sharefileio/sharefile/internal/signalcodec"
	"github.com/sharefileio/sharefile/internal/xerr"
)

// Status is the lifecycle state of a Session, surfaced to callers both
// via StatusCh and OnStatusChange.
type Status int

const (
	StatusNew Status = iota
	StatusConnecting
	StatusConnected
	StatusPeerTimeout
	StatusDisconnected
	StatusFailed
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusPeerTimeout:
		return "peer-timeout"
	case StatusDisconnected:
		return "disconnected"
	case StatusFailed:
		return "failed"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

const (
	controlLabel      = "sharefile-ctrl"
	fileLabelPrefix   = "sharefile-file:"
	heartbeatInterval = 1200 * time.Millisecond
	heartbeatTimeout  = 30 * time.Second
	gatherTimeoutSTUN = 15 * time.Second
	gatherTimeoutNone = 7 * time.Second
	protocolVersion   = 1
)

var defaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
}

// Options configures a Session. Every callback is optional; a narrow
// event interface rather than a wider callback-soup surface.
type Options struct {
	Config config.Configuration
	Logger *slog.Logger

	OnStatusChange   func(Status)
	OnControlMessage func(protocol.ControlMessage)
	OnFileFrame      func(streamID string, seq uint32, payload []byte)

	// HeartbeatInterval and HeartbeatTimeout override the package
	// defaults (1.2s / 30s per spec §4.7) when non-zero. Tests shrink
	// these to exercise the peer-timeout/recovery transition without
	// waiting on real-world heartbeat timing.
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
}

// Session owns one negotiated peer connection: the control channel plus
// a dynamic set of file channels.
type Session struct {
	cfg    config.Configuration
	logger *slog.Logger
	codec  *protocol.Codec

	onStatusChange   func(Status)
	onControlMessage func(protocol.ControlMessage)
	onFileFrame      func(streamID string, seq uint32, payload []byte)

	mu             sync.Mutex
	pc             *webrtc.PeerConnection
	controlChannel *webrtc.DataChannel
	controlOpen    bool
	fileChannels   map[string]*webrtc.DataChannel

	remoteCaps   *protocol.HelloCaps
	capsReceived chan struct{}
	capsOnce     sync.Once

	heartbeatInterval time.Duration
	heartbeatTimeout  time.Duration

	lastActivity time.Time
	peerTimedOut bool
	status       Status
	statusCh     chan Status

	helloSeen bool

	heartbeatStop chan struct{}
	closed        bool
}

// New constructs a Session bound to opts.Config. No network activity
// happens until CreateOffer or CreateAnswer is called.
func New(opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = heartbeatInterval
	}
	timeout := opts.HeartbeatTimeout
	if timeout <= 0 {
		timeout = heartbeatTimeout
	}
	return &Session{
		cfg:               opts.Config,
		logger:            logger,
		codec:             protocol.NewCodec(),
		onStatusChange:    opts.OnStatusChange,
		onControlMessage:  opts.OnControlMessage,
		onFileFrame:       opts.OnFileFrame,
		fileChannels:      make(map[string]*webrtc.DataChannel),
		capsReceived:      make(chan struct{}),
		lastActivity:      time.Now(),
		status:            StatusNew,
		statusCh:          make(chan Status, 8),
		heartbeatInterval: interval,
		heartbeatTimeout:  timeout,
	}
}

// StatusCh exposes status transitions as a channel in addition to the
// OnStatusChange callback (§10 supplemented feature: dual callback/channel
// surface, mirroring the teacher's Accept() <-chan Conn style).
func (s *Session) StatusCh() <-chan Status {
	return s.statusCh
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.mu.Unlock()

	s.logger.Info("session status changed", "status", status.String())
	if s.onStatusChange != nil {
		s.onStatusChange(status)
	}
	select {
	case s.statusCh <- status:
	default:
	}
}

func (s *Session) iceServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if s.cfg.UseStun {
		servers = append(servers, webrtc.ICEServer{URLs: defaultSTUNServers})
	}
	if s.cfg.TURN != nil {
		servers = append(servers, webrtc.ICEServer{
			URLs:           []string{s.cfg.TURN.URL},
			Username:       s.cfg.TURN.User,
			Credential:     s.cfg.TURN.Credential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return servers
}

func (s *Session) newPeerConnection() (*webrtc.PeerConnection, error) {
	policy := webrtc.ICETransportPolicyAll
	if s.cfg.TURN != nil && s.cfg.TURN.ForceRelay {
		policy = webrtc.ICETransportPolicyRelay
	}
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{
		ICEServers:         s.iceServers(),
		ICETransportPolicy: policy,
	})
	if err != nil {
		return nil, xerr.New(xerr.NotConnected, "session.newPeerConnection", err)
	}

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.logger.Debug("ice connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed:
			s.setStatus(StatusFailed)
			s.rejectOnTerminate()
		case webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			s.setStatus(StatusDisconnected)
			s.rejectOnTerminate()
		}
	})
	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		s.bindInboundChannel(dc)
	})

	return pc, nil
}

func (s *Session) gatherTimeout() time.Duration {
	if s.cfg.UseStun {
		return gatherTimeoutSTUN
	}
	return gatherTimeoutNone
}

// CreateOffer builds a fresh peer connection with the configured ICE
// servers, opens the control channel, and returns the encoded offer
// signal once ICE gathering completes (spec §4.3).
func (s *Session) CreateOffer(ctx context.Context) (string, error) {
	pc, err := s.newPeerConnection()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()
	s.setStatus(StatusConnecting)

	control, err := pc.CreateDataChannel(controlLabel, orderedInit(true))
	if err != nil {
		return "", xerr.New(xerr.NotConnected, "session.CreateOffer", err)
	}
	s.bindControlChannel(control)

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return "", xerr.New(xerr.NotConnected, "session.CreateOffer", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return "", xerr.New(xerr.NotConnected, "session.CreateOffer", err)
	}
	if err := s.waitGathering(ctx, gatherComplete); err != nil {
		return "", err
	}

	return s.encodeLocal(pc, signalcodec.TypeOffer)
}

// CreateAnswer decodes offerString, applies it as the remote description,
// mirrors construction of the peer connection, and returns the encoded
// answer once ICE gathering completes.
func (s *Session) CreateAnswer(ctx context.Context, offerString string) (string, error) {
	offer, err := signalcodec.Decode(offerString)
	if err != nil {
		return "", err
	}
	if offer.Type != signalcodec.TypeOffer {
		return "", xerr.New(xerr.ProtocolViolation, "session.CreateAnswer", nil)
	}
	s.applyRemoteCaps(offer.Cfg)

	pc, err := s.newPeerConnection()
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()
	s.setStatus(StatusConnecting)

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offer.Description,
	}); err != nil {
		return "", xerr.New(xerr.NotConnected, "session.CreateAnswer", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", xerr.New(xerr.NotConnected, "session.CreateAnswer", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", xerr.New(xerr.NotConnected, "session.CreateAnswer", err)
	}
	if err := s.waitGathering(ctx, gatherComplete); err != nil {
		return "", err
	}

	return s.encodeLocal(pc, signalcodec.TypeAnswer)
}

// ApplyAnswer applies a remote answer signal to an in-progress offer.
func (s *Session) ApplyAnswer(ctx context.Context, answerString string) error {
	answer, err := signalcodec.Decode(answerString)
	if err != nil {
		return err
	}
	if answer.Type != signalcodec.TypeAnswer {
		return xerr.New(xerr.ProtocolViolation, "session.ApplyAnswer", nil)
	}
	s.applyRemoteCaps(answer.Cfg)

	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc == nil {
		return xerr.New(xerr.NotConnected, "session.ApplyAnswer", nil)
	}

	return pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer.Description,
	})
}

func (s *Session) applyRemoteCaps(cfg signalcodec.Capabilities) {
	_ = cfg // remote SDP-level capability bits are advisory only; the
	// authoritative capability exchange is the in-band "hello" control
	// message (spec §6), consumed by WaitForRemoteCapabilities.
}

func (s *Session) waitGathering(ctx context.Context, done <-chan struct{}) error {
	timer := time.NewTimer(s.gatherTimeout())
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return xerr.New(xerr.Timeout, "session.waitGathering", nil)
	case <-ctx.Done():
		return xerr.New(xerr.Cancelled, "session.waitGathering", ctx.Err())
	}
}

func (s *Session) encodeLocal(pc *webrtc.PeerConnection, typ signalcodec.DescriptionType) (string, error) {
	local := pc.LocalDescription()
	if local == nil {
		return "", xerr.New(xerr.NotConnected, "session.encodeLocal", nil)
	}
	sdp := local.SDP
	if s.cfg.LANHostOverride != nil {
		sdp = signalcodec.RewriteHostCandidates(sdp, s.cfg.LANHostOverride.String())
	}
	return signalcodec.Encode(signalcodec.Description{
		Type:        typ,
		Description: sdp,
		Cfg: signalcodec.Capabilities{
			Stun:          s.cfg.UseStun,
			FileUnordered: s.cfg.UseUnorderedFileChannels,
			Fast:          s.cfg.Fast,
		},
	}, s.cfg.UseCompression)
}

func orderedInit(ordered bool) *webrtc.DataChannelInit {
	return &webrtc.DataChannelInit{Ordered: &ordered}
}

// Close tears down the peer connection and every channel it owns.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pc := s.pc
	s.mu.Unlock()

	s.stopHeartbeat()
	s.setStatus(StatusClosed)
	if pc == nil {
		return nil
	}
	return pc.Close()
}

func (s *Session) rejectOnTerminate() {
	s.capsOnce.Do(func() { close(s.capsReceived) })
}

func (s *Session) String() string {
	return fmt.Sprintf("session{status=%s}", s.Status())
}

func isFileLabel(label string) (streamID string, ok bool) {
	if strings.HasPrefix(label, fileLabelPrefix) {
		return strings.TrimPrefix(label, fileLabelPrefix), true
	}
	return "", false
}
