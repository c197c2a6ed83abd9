package server

import (
	"errors"
	"io"
	"net"
	"time"

	"chatd/db"
	"chatd/models"
	"chatd/protocol"

	"github.com/gorilla/websocket"
)

const privateHistoryLimit = 100

// runSession drives one connection from its first frame until it closes.
func (s *Server) runSession(sess *Session) {
	sess.logger.Info("client connected")

	defer func() {
		if s.registry.Remove(sess) && !s.isStopping() {
			s.router.BroadcastPresence(s.ctx, nil)
		}
		sess.closeGracefully()
		sess.logger.Info("client disconnected", "user", sess.Username())
	}()

	if !s.handleFirstFrame(sess) {
		return
	}
	s.serveActive(sess)
}

// handleFirstFrame reads the single frame allowed before login. It reports
// whether the session is now active.
func (s *Server) handleFirstFrame(sess *Session) bool {
	frame, err := sess.conn.ReadFrame()
	if err != nil {
		if errors.Is(err, protocol.ErrInvalidFrame) {
			sess.logger.Warn("invalid frame before login", "error", err)
			sess.Send(protocol.UserReply{})
		} else {
			s.logReadError(sess, err)
		}
		return false
	}

	sess.setState(StateAuthenticating)

	switch f := frame.(type) {
	case protocol.RegisterRequest:
		s.handleRegister(sess, f)
		return false
	case protocol.Credentials:
		return s.handleLogin(sess, f)
	}

	sess.logger.Warn("unexpected frame before login", "frame", frameName(frame))
	sess.Send(protocol.UserReply{})
	return false
}

func (s *Server) handleRegister(sess *Session, f protocol.RegisterRequest) {
	if f.Username == "" || f.Password == "" {
		sess.Send(protocol.UserReply{})
		return
	}

	user, err := s.store.Register(s.ctx, f.Username, f.Password)
	switch {
	case errors.Is(err, db.ErrUserExists):
		sess.logger.Info("registration refused, username taken", "user", f.Username)
	case err != nil:
		sess.logger.Error("register", "user", f.Username, "error", err)
	default:
		sess.logger.Info("user registered", "user", user.Username)
	}

	sess.Send(protocol.UserReply{User: user})
}

func (s *Server) handleLogin(sess *Session, f protocol.Credentials) bool {
	if f.Username == "" || f.Password == "" {
		sess.Send(protocol.UserReply{})
		return false
	}

	user, err := s.store.Authenticate(s.ctx, f.Username, f.Password)
	if err != nil {
		sess.logger.Error("authenticate", "user", f.Username, "error", err)
	}
	if user == nil {
		sess.logger.Info("login refused", "user", f.Username)
		sess.Send(protocol.UserReply{})
		return false
	}

	user = user.Public()
	sess.setUser(user)
	sess.Send(protocol.UserReply{User: user})

	if evicted := s.registry.Add(sess); evicted != nil {
		evicted.logger.Info("replaced by a newer login", "user", user.Username)
		evicted.Close()
	}
	sess.logger.Info("user logged in", "user", user.Username)

	s.router.BroadcastPresence(s.ctx, sess)
	sess.setState(StateActive)

	s.replayPublicHistory(sess)
	sess.Send(protocol.UserListUpdate{Usernames: s.router.PresenceList(s.ctx, sess)})
	return true
}

func (s *Server) replayPublicHistory(sess *Session) {
	messages, err := s.store.RecentPublicMessages(s.ctx, s.config.HistoryLimit)
	if err != nil {
		sess.logger.Error("load public history", "error", err)
	}
	for i := range messages {
		sess.Send(protocol.ChatMessage{Message: &messages[i]})
	}
	sess.Send(protocol.EndOfHistory{})
}

func (s *Server) serveActive(sess *Session) {
	for {
		frame, err := sess.conn.ReadFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrInvalidFrame) {
				sess.logger.Debug("ignoring invalid frame", "error", err)
				continue
			}
			s.logReadError(sess, err)
			return
		}

		switch f := frame.(type) {
		case protocol.ChatMessage:
			s.handleChat(sess, f.Message)
		case protocol.ControlRequest:
			s.handleControl(sess, f)
		case protocol.Logout:
			sess.logger.Info("user logged out", "user", sess.Username())
			return
		default:
			sess.logger.Debug("ignoring frame", "frame", frameName(frame))
		}
	}
}

func (s *Server) handleChat(sess *Session, msg *models.Message) {
	if msg == nil || msg.Sender == nil {
		return
	}

	msg.ID = 0
	msg.Sender = sess.User()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	if msg.IsPrivate() {
		s.router.RoutePrivate(s.ctx, sess, msg)
		return
	}

	sess.Send(protocol.ChatMessage{Message: msg.Clone()})
	s.router.RoutePublic(s.ctx, msg)
}

func (s *Server) handleControl(sess *Session, f protocol.ControlRequest) {
	switch f.Kind {
	case protocol.GetUserList:
		sess.Send(protocol.UserListUpdate{Usernames: s.router.PresenceList(s.ctx, sess)})

	case protocol.GetPrivateHistory:
		other, err := db.FindUser(s.ctx, s.store, f.OtherUser)
		if err != nil {
			sess.logger.Error("resolve history partner", "partner", f.OtherUser, "error", err)
		}
		if other == nil {
			return
		}

		messages, err := s.store.PrivateMessages(s.ctx, sess.User().ID, other.ID, privateHistoryLimit)
		if err != nil {
			sess.logger.Error("load private history", "partner", other.Username, "error", err)
		}
		for i := range messages {
			sess.Send(protocol.ChatMessage{Message: &messages[i]})
		}
		sess.Send(protocol.EndOfHistory{})
	}
}

func (s *Server) logReadError(sess *Session, err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
	case errors.Is(err, protocol.ErrFrameTooLarge), errors.Is(err, websocket.ErrReadLimit):
		sess.logger.Warn("frame too large, closing session", "user", sess.Username(), "limit", s.config.MaxFrameBytes)
	default:
		if sess.State() != StateClosed {
			sess.logger.Debug("read failed", "error", err)
		}
	}
}

func frameName(f protocol.ClientFrame) string {
	switch f.(type) {
	case protocol.Credentials:
		return "credentials"
	case protocol.RegisterRequest:
		return "register"
	case protocol.ControlRequest:
		return "control"
	case protocol.Logout:
		return "logout"
	case protocol.ChatMessage:
		return "message"
	}
	return "unknown"
}
