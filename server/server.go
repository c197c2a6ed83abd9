package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"chatd/config"
	"chatd/db"

	"github.com/gorilla/websocket"
)

var ErrServerStopped = errors.New("server stopped")

type Server struct {
	store    db.Gateway
	config   *config.Config
	logger   *slog.Logger
	registry *Registry
	router   *Router
	upgrader websocket.Upgrader

	// slots holds one token per running session.
	slots chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	sessions  map[*Session]struct{}
	stopping  bool
	wg        sync.WaitGroup

	done     chan struct{}
	stopOnce sync.Once
}

func New(store db.Gateway, cfg *config.Config, logger *slog.Logger) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = config.Default().MaxSessions
	}

	registry := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		store:    store,
		config:   cfg,
		logger:   logger,
		registry: registry,
		router:   NewRouter(registry, store, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		slots:     make(chan struct{}, maxSessions),
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[net.Listener]struct{}),
		sessions:  make(map[*Session]struct{}),
		done:      make(chan struct{}),
	}
}

// Start listens on the given TCP port and serves until Stop is called.
func (s *Server) Start(port int) error {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return err
	}
	s.logger.Info("chat server started", "port", port, "max_sessions", cap(s.slots))
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called, in which case it
// returns nil. When all session slots are taken, new connections wait in
// the listener backlog until a session ends.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		ln.Close()
		return ErrServerStopped
	}
	defer s.untrackListener(ln)

	var backoff time.Duration
	for {
		select {
		case s.slots <- struct{}{}:
		case <-s.done:
			return nil
		}

		conn, err := ln.Accept()
		if err != nil {
			<-s.slots
			if s.isStopping() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, time.Second)
			}
			s.logger.Error("accept failed", "error", err, "retry_in", backoff)
			time.Sleep(backoff)
			continue
		}
		backoff = 0

		if !s.startSession(newLineConn(conn, s.config.WriteTimeout, s.config.MaxFrameBytes)) {
			conn.Close()
			<-s.slots
		}
	}
}

// startSession runs a session for conn. The caller must hold a slot, which
// is released when the session ends. It reports false if the server is
// stopping, in which case the slot is still the caller's.
func (s *Server) startSession(conn Conn) bool {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return false
	}
	sess := newSession(conn, s.logger)
	s.sessions[sess] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer func() { <-s.slots }()
		defer s.untrackSession(sess)

		s.runSession(sess)
	}()
	return true
}

// Stop closes every listener and session, waits for the sessions to finish
// and closes the store. It is safe to call more than once and from any
// goroutine other than a session's own.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopping = true
		close(s.done)
		listeners := make([]net.Listener, 0, len(s.listeners))
		for ln := range s.listeners {
			listeners = append(listeners, ln)
		}
		sessions := make([]*Session, 0, len(s.sessions))
		for sess := range s.sessions {
			sessions = append(sessions, sess)
		}
		s.mu.Unlock()

		for _, ln := range listeners {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				s.logger.Warn("close listener", "error", err)
			}
		}
		for _, sess := range sessions {
			sess.Close()
		}
		s.cancel()
		s.wg.Wait()

		if err := s.store.Close(); err != nil {
			s.logger.Error("close store", "error", err)
		}
		s.logger.Info("chat server stopped", "sessions_closed", len(sessions))
	})
}

func (s *Server) isStopping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopping {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, ln)
}

func (s *Server) untrackSession(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}

type SessionInfo struct {
	ID          string    `json:"id"`
	Username    string    `json:"username,omitempty"`
	RemoteAddr  string    `json:"remote_addr"`
	State       string    `json:"state"`
	ConnectedAt time.Time `json:"connected_at"`
}

type Stats struct {
	Connections int           `json:"connections"`
	Online      int           `json:"online"`
	MaxSessions int           `json:"max_sessions"`
	Sessions    []SessionInfo `json:"sessions"`
}

// String renders the stats in the control socket's one-line format.
func (st Stats) String() string {
	var users []string
	for _, info := range st.Sessions {
		if info.Username != "" {
			users = append(users, info.Username)
		}
	}
	return "connections=" + strconv.Itoa(st.Connections) +
		",online=" + strconv.Itoa(st.Online) +
		",users=" + strings.Join(users, ";")
}

func (s *Server) Stats() Stats {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].ConnectedAt.Before(sessions[j].ConnectedAt)
	})

	st := Stats{
		Connections: len(sessions),
		Online:      s.registry.Len(),
		MaxSessions: cap(s.slots),
		Sessions:    make([]SessionInfo, 0, len(sessions)),
	}
	for _, sess := range sessions {
		st.Sessions = append(st.Sessions, SessionInfo{
			ID:          sess.ID,
			Username:    sess.Username(),
			RemoteAddr:  sess.RemoteAddr,
			State:       sess.State().String(),
			ConnectedAt: sess.ConnectedAt,
		})
	}
	return st
}

// Online returns the usernames currently in the presence registry.
func (s *Server) Online() []string {
	return s.registry.Usernames()
}
