package server

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"chatd/models"
	"chatd/protocol"

	"github.com/google/uuid"
)

const sendQueueSize = 256

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSendQueueFull = errors.New("session send queue full")
)

type State int32

const (
	StateUnauthenticated State = iota
	StateAuthenticating
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is one connected client. The connection is read only by the
// goroutine running the session's protocol loop; all writes go through the
// send queue and are performed by the session's write pump.
type Session struct {
	ID          string
	RemoteAddr  string
	ConnectedAt time.Time

	conn   Conn
	logger *slog.Logger

	mu   sync.RWMutex
	user *models.User

	state atomic.Int32

	send      chan protocol.ServerFrame
	quit      chan struct{}
	pumpDone  chan struct{}
	closeOnce sync.Once
}

func newSession(conn Conn, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	s := &Session{
		ID:          id,
		RemoteAddr:  conn.RemoteAddr(),
		ConnectedAt: time.Now(),
		conn:        conn,
		logger:      logger.With("session", id, "remote", conn.RemoteAddr()),
		send:        make(chan protocol.ServerFrame, sendQueueSize),
		quit:        make(chan struct{}),
		pumpDone:    make(chan struct{}),
	}
	go s.writePump()
	return s
}

// User returns the authenticated user, or nil before login.
func (s *Session) User() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) Username() string {
	if u := s.User(); u != nil {
		return u.Username
	}
	return ""
}

func (s *Session) setUser(u *models.User) {
	s.mu.Lock()
	s.user = u
	s.mu.Unlock()
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Deliver queues a frame for the session's peer without blocking. A session
// whose queue is full is closed.
func (s *Session) Deliver(f protocol.ServerFrame) error {
	select {
	case <-s.quit:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- f:
		return nil
	case <-s.quit:
		return ErrSessionClosed
	default:
		s.logger.Warn("send queue full, closing session", "user", s.Username())
		s.Close()
		return ErrSendQueueFull
	}
}

// Send queues a frame, waiting for room in the queue. It is used by the
// session's own loop for replies, where waiting slows down only the peer
// that caused them.
func (s *Session) Send(f protocol.ServerFrame) error {
	select {
	case <-s.quit:
		return ErrSessionClosed
	default:
	}

	select {
	case s.send <- f:
		return nil
	case <-s.quit:
		return ErrSessionClosed
	}
}

// Close terminates the session immediately. Queued frames are discarded and
// a blocked read on the connection returns.
func (s *Session) Close() {
	s.shutdown(false)
}

// closeGracefully stops accepting frames, lets the write pump flush what is
// already queued and then closes the connection.
func (s *Session) closeGracefully() {
	s.shutdown(true)
	<-s.pumpDone
}

func (s *Session) shutdown(graceful bool) {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)
		close(s.quit)
		if !graceful {
			if err := s.conn.Close(); err != nil {
				s.logger.Debug("close connection", "error", err)
			}
		}
	})
}

// Done is closed once the session starts shutting down.
func (s *Session) Done() <-chan struct{} {
	return s.quit
}

func (s *Session) writePump() {
	defer close(s.pumpDone)
	defer s.conn.Close()

	for {
		select {
		case f := <-s.send:
			if err := s.conn.WriteFrame(f); err != nil {
				s.logger.Debug("write failed", "error", err)
				s.Close()
				return
			}
		case <-s.quit:
			s.flush()
			return
		}
	}
}

// flush writes whatever is still queued, stopping at the first failure.
func (s *Session) flush() {
	for {
		select {
		case f := <-s.send:
			if err := s.conn.WriteFrame(f); err != nil {
				return
			}
		default:
			return
		}
	}
}
