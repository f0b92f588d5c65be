// Package bus is a reference implementation of the rendezvous.Bus
// contract: a small line-delimited-JSON broadcast server over TCP, plus
// an in-process variant for tests. The rendezvous bus is treated as an
// external collaborator elsewhere in this system; this package supplies
// one concrete, runnable instance of it, in the accept-loop-plus-fan-out
// style of a tracker server, as JSON lines rather than length-prefixed
// protobuf since a signal envelope is already an opaque JSON string.
package bus

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
)

// wireMessage is the line-delimited frame exchanged between a Client and
// the Server: a room join, a publish into that room, or a broadcast
// delivered back out.
type wireMessage struct {
	Type    string `json:"type"` // "join" | "publish" | "broadcast"
	Room    string `json:"room"`
	Payload string `json:"payload,omitempty"`
}

// Server broadcasts every "publish" it receives in a room to every
// connection that has "join"-ed that room, including the publisher
// (self-echo suppression is rendezvous.Client's job, not this server's).
type Server struct {
	listener net.Listener
	logger   *logrus.Logger

	mu    sync.Mutex
	rooms map[string]map[*serverConn]struct{}
}

// NewServer binds addr ("host:port"; an empty host listens on all
// interfaces, port 0 picks any free port) and returns a Server ready to
// Serve.
func NewServer(addr string, logger *logrus.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Server{
		listener: ln,
		logger:   logger,
		rooms:    make(map[string]map[*serverConn]struct{}),
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until the listener is closed.
func (s *Server) Serve() error {
	s.logger.WithField("addr", s.Addr()).Info("rendezvous bus listening")
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		sc := &serverConn{conn: conn, server: s}
		go sc.readLoop()
	}
}

// Close stops accepting new connections and drops all room membership.
func (s *Server) Close() error {
	s.mu.Lock()
	s.rooms = make(map[string]map[*serverConn]struct{})
	s.mu.Unlock()
	return s.listener.Close()
}

func (s *Server) join(room string, c *serverConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rooms[room] == nil {
		s.rooms[room] = make(map[*serverConn]struct{})
	}
	s.rooms[room][c] = struct{}{}
}

func (s *Server) leave(c *serverConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for room, members := range s.rooms {
		if _, ok := members[c]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(s.rooms, room)
			}
		}
	}
}

func (s *Server) broadcast(room, payload string) {
	s.mu.Lock()
	members := make([]*serverConn, 0, len(s.rooms[room]))
	for c := range s.rooms[room] {
		members = append(members, c)
	}
	s.mu.Unlock()

	out := wireMessage{Type: "broadcast", Room: room, Payload: payload}
	for _, c := range members {
		c.writeLine(out)
	}
}

type serverConn struct {
	conn   net.Conn
	server *Server

	mu sync.Mutex
}

func (c *serverConn) readLoop() {
	defer func() {
		c.server.leave(c)
		_ = c.conn.Close()
	}()

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var msg wireMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			c.server.logger.WithError(err).Warn("rendezvous bus: malformed line")
			continue
		}
		switch msg.Type {
		case "join":
			c.server.join(msg.Room, c)
		case "publish":
			c.server.broadcast(msg.Room, msg.Payload)
		default:
			c.server.logger.WithField("type", msg.Type).Warn("rendezvous bus: unknown message type")
		}
	}
}

func (c *serverConn) writeLine(msg wireMessage) {
	raw, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	raw = append(raw, '\n')
	_, _ = c.conn.Write(raw)
}
