package kvcache

import (
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/skipor/kvcache/cache"
	"github.com/skipor/kvcache/log"
	"github.com/skipor/kvcache/stats"
)

var ErrServerClosed = errors.New("kvcache: server closed")

type Server struct {
	Addr string
	ConnMeta
	Log         log.Logger
	connCounter int64

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	active   int64
}

// ConnMeta is data shared between connections.
type ConnMeta struct {
	// Cache should be safe for concurrent use. See cache.NewLocked.
	Cache cache.Cache
	Stats stats.Collector
	// IdleTimeout is read deadline for next request. Negative means no timeout.
	IdleTimeout time.Duration
	MaxBodySize int64
}

func (s *Server) ListenAndServe() error {
	if s.Addr == "" {
		s.Addr = net.JoinHostPort(DefaultHost, strconv.Itoa(DefaultPort))
	}
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on l, and serves every connection in separate goroutine.
// Serve always returns non-nil error. After Close it is ErrServerClosed.
func (s *Server) Serve(l net.Listener) error {
	s.init()
	if !s.trackListener(l) {
		l.Close()
		return ErrServerClosed
	}
	var tempDelay time.Duration // How long to sleep on accept failure.
	for {
		c, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			if ne, ok := err.(net.Error); !(ok && ne.Temporary()) {
				return err
			}
			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay *= 2
			}
			if max := 1 * time.Second; tempDelay > max {
				tempDelay = max
			}
			s.Log.Errorf("kvcache: Accept error: %v; retrying in %v", err, tempDelay)
			time.Sleep(tempDelay)
			continue
		}
		tempDelay = 0
		go s.newConn(c).serve()
	}
}

// Close stops accepting connections. Active sessions are not interrupted.
// Repeated Close is no-op.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) trackListener(l net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.listener = l
	return true
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) newConn(c net.Conn) *sessionConn {
	conn := newConn(s.Log.WithFields(log.Fields{"conn": s.connCounter}), &s.ConnMeta, c)
	s.connCounter++
	s.Stats.SetGauge(stats.MetricConnections, atomic.AddInt64(&s.active, 1))
	return &sessionConn{conn, s}
}

// sessionConn decrements active connections gauge after session end.
type sessionConn struct {
	*conn
	s *Server
}

func (c *sessionConn) serve() {
	defer func() {
		c.s.Stats.SetGauge(stats.MetricConnections, atomic.AddInt64(&c.s.active, -1))
	}()
	c.conn.serve()
}

func (s *Server) init() {
	if s.Log == nil {
		s.Log = log.NewLogger(log.ErrorLevel, os.Stderr)
	}
	s.ConnMeta.init()
}

func (m *ConnMeta) init() {
	if m.Cache == nil {
		panic("kvcache: nil cache")
	}
	if m.Stats == nil {
		m.Stats = stats.Noop{}
	}
	if m.IdleTimeout == 0 {
		m.IdleTimeout = DefaultIdleTimeout
	}
	if m.MaxBodySize == 0 {
		m.MaxBodySize = DefaultMaxBodySize
	}
}
