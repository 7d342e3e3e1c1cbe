// Package relay implements the relay server of the raw-connection transport.
// Clients connect over TCP, announce a name, and send newline-delimited
// frames addressed to other names; the server forwards each frame to the
// named connections and stamps the sender.
package relay

import (
	"bufio"
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	loggingpkg "github.com/drblury/protobus/internal/runtime/logging"
	wire "github.com/drblury/protobus/transport/relay"
)

// Drop reasons reported in metrics and logs.
const (
	dropUnknownTarget = "unknown_target"
	dropNotNamed      = "not_named"
	dropWriteFailed   = "write_failed"
	dropTooLarge      = "too_large"
)

// DefaultWriteTimeout bounds a single forward to a receiving client.
const DefaultWriteTimeout = 5 * time.Second

// Server routes frames between named connections.
//
// Frames from one sender are forwarded in order on the sender's read loop, so
// a receiver that stops reading holds that sender up to writeTimeout per
// frame. A receiver that misses the deadline is disconnected.
type Server struct {
	logger       loggingpkg.ServiceLogger
	metrics      *Metrics
	suffix       func() int
	writeTimeout time.Duration

	mu       sync.Mutex
	peers    map[string]*peer
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool

	wg sync.WaitGroup
}

type peer struct {
	name    string
	conn    net.Conn
	timeout time.Duration

	mu sync.Mutex
	w  *bufio.Writer
}

func (p *peer) send(f *wire.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(p.timeout)); err != nil {
			return err
		}
	}
	return wire.WriteFrame(p.w, f)
}

// NewServer creates a relay server. metrics may be nil.
func NewServer(logger loggingpkg.ServiceLogger, metrics *Metrics) *Server {
	if logger == nil {
		logger = loggingpkg.NewNopServiceLogger()
	}
	return &Server{
		logger:       logger.With(loggingpkg.LogFields{"component": "relay"}),
		metrics:      metrics,
		suffix:       func() int { return rand.IntN(10001) },
		writeTimeout: DefaultWriteTimeout,
		peers:        make(map[string]*peer),
		conns:        make(map[net.Conn]struct{}),
	}
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return net.ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Relay listening", loggingpkg.LogFields{"addr": ln.Addr().String()})

	stop := context.AfterFunc(ctx, func() { _ = s.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		s.wg.Add(1)
		go s.handle(conn)
	}
}

// Addr returns the listening address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Names lists the connected client names in sorted order.
func (s *Server) Names() []string {
	s.mu.Lock()
	names := make([]string, 0, len(s.peers))
	for name := range s.peers {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)
	return names
}

// Close stops accepting, disconnects every client and waits for the
// connection handlers to return.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.wg.Wait()
		return nil
	}
	s.closed = true
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) handle(conn net.Conn) {
	defer s.wg.Done()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)

	var self *peer
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		if self != nil && s.peers[self.name] == self {
			delete(s.peers, self.name)
		}
		s.mu.Unlock()
		_ = conn.Close()
		if self != nil {
			s.logger.Info("Client disconnected", loggingpkg.LogFields{"name": self.name})
			if s.metrics != nil {
				s.metrics.disconnected()
			}
		}
	}()

	for {
		f, err := wire.ReadFrame(r)
		if err != nil {
			var decodeErr *wire.DecodeError
			if errors.As(err, &decodeErr) {
				s.logger.Error("Dropping invalid frame", err, loggingpkg.LogFields{"remote": conn.RemoteAddr().String()})
				continue
			}
			// The rest of an oversized line cannot be framed, so the
			// connection goes with it.
			if errors.Is(err, wire.ErrFrameTooLarge) {
				s.logger.Error("Closing connection after oversized frame", err, loggingpkg.LogFields{"remote": conn.RemoteAddr().String()})
				s.drop(dropTooLarge)
			}
			return
		}

		if f.IsHandshake() {
			if self != nil {
				s.logger.Info("Ignoring repeated handshake", loggingpkg.LogFields{"name": self.name})
				continue
			}
			if strings.TrimSpace(f.Name) == "" {
				s.logger.Info("Ignoring handshake without name", loggingpkg.LogFields{"remote": conn.RemoteAddr().String()})
				continue
			}
			self = s.admit(f.Name, conn, w)
			if err := self.send(&wire.Frame{Name: self.name}); err != nil {
				return
			}
			continue
		}

		if self == nil {
			s.logger.Error("Dropping frame from unnamed connection", errors.New("handshake required"), loggingpkg.LogFields{"remote": conn.RemoteAddr().String()})
			s.drop(dropNotNamed)
			continue
		}
		s.route(self.name, f)
	}
}

// admit registers the connection under name, appending a random numeric
// suffix while the name is taken.
func (s *Server) admit(requested string, conn net.Conn, w *bufio.Writer) *peer {
	name := strings.ToLower(strings.TrimSpace(requested))

	s.mu.Lock()
	renamed := false
	for {
		if _, taken := s.peers[name]; !taken {
			break
		}
		name += strconv.Itoa(s.suffix())
		renamed = true
	}
	p := &peer{name: name, conn: conn, timeout: s.writeTimeout, w: w}
	s.peers[name] = p
	s.mu.Unlock()

	if renamed {
		s.logger.Info("Name already connected, admitted with suffix", loggingpkg.LogFields{"requested": requested, "name": name})
		if s.metrics != nil {
			s.metrics.renamed()
		}
	}
	s.logger.Info("Client connected", loggingpkg.LogFields{"name": name})
	if s.metrics != nil {
		s.metrics.connected()
	}
	return p
}

func (s *Server) route(from string, f *wire.Frame) {
	targets := f.To
	out := *f
	out.To = nil
	out.From = from

	for _, target := range targets {
		target = strings.ToLower(target)

		s.mu.Lock()
		dst := s.peers[target]
		s.mu.Unlock()

		if dst == nil {
			s.logger.Error("Unknown target name", errors.New("no such client"), loggingpkg.LogFields{"from": from, "to": target})
			s.drop(dropUnknownTarget)
			continue
		}
		if err := dst.send(&out); err != nil {
			s.logger.Error("Failed to forward frame, disconnecting receiver", err, loggingpkg.LogFields{"from": from, "to": target})
			s.drop(dropWriteFailed)
			_ = dst.conn.Close()
			continue
		}
		s.logger.Trace("Frame forwarded", loggingpkg.LogFields{"from": from, "to": target})
		if s.metrics != nil {
			s.metrics.routed(target)
		}
	}
}

func (s *Server) drop(reason string) {
	if s.metrics != nil {
		s.metrics.dropped(reason)
	}
}
