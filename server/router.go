package server

import (
	"context"
	"log/slog"

	"chatd/db"
	"chatd/models"
	"chatd/protocol"
)

// Router persists chat messages and fans them out to online sessions.
// It holds no state of its own beyond its collaborators.
type Router struct {
	registry *Registry
	store    db.Gateway
	logger   *slog.Logger
}

func NewRouter(registry *Registry, store db.Gateway, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{registry: registry, store: store, logger: logger}
}

// RoutePublic saves msg and delivers it to every online session of another
// user. A failed save is logged and does not stop delivery.
func (r *Router) RoutePublic(ctx context.Context, msg *models.Message) {
	if err := r.store.SaveMessage(ctx, msg); err != nil {
		r.logger.Error("save public message", "user", msg.Sender.Username, "error", err)
	}

	frame := protocol.ChatMessage{Message: msg}
	for _, s := range r.registry.Snapshot() {
		u := s.User()
		if u == nil || u.ID == msg.Sender.ID {
			continue
		}
		r.deliver(s, frame)
	}
}

// RoutePrivate resolves the receiver by username, saves msg and delivers it
// to the receiver if online and back to the sender. An unknown receiver
// results in an echo to the sender only.
func (r *Router) RoutePrivate(ctx context.Context, from *Session, msg *models.Message) {
	if msg.Receiver == nil {
		r.RoutePublic(ctx, msg)
		return
	}

	receiver, err := db.FindUser(ctx, r.store, msg.Receiver.Username)
	if err != nil {
		r.logger.Error("resolve receiver", "receiver", msg.Receiver.Username, "error", err)
	}
	if receiver == nil {
		r.deliver(from, protocol.ChatMessage{Message: msg})
		return
	}
	msg.Receiver = receiver.Public()

	if err := r.store.SaveMessage(ctx, msg); err != nil {
		r.logger.Error("save private message",
			"user", msg.Sender.Username, "receiver", receiver.Username, "error", err)
		r.deliver(from, protocol.ChatMessage{Message: msg})
		return
	}

	frame := protocol.ChatMessage{Message: msg}
	if target, ok := r.registry.Lookup(receiver.Username); ok && target != from {
		r.deliver(target, frame)
	}
	r.deliver(from, frame)
}

// PresenceList returns every online and registered username once, without
// the username of exclude. exclude may be nil.
func (r *Router) PresenceList(ctx context.Context, exclude *Session) []string {
	users, err := r.store.AllUsers(ctx)
	if err != nil {
		r.logger.Error("list users", "error", err)
	}

	var self string
	if exclude != nil {
		self = exclude.Username()
	}
	return presence(r.registry.Usernames(), users, self)
}

// BroadcastPresence sends each online session, except the given one, its
// own presence list.
func (r *Router) BroadcastPresence(ctx context.Context, except *Session) {
	users, err := r.store.AllUsers(ctx)
	if err != nil {
		r.logger.Error("list users", "error", err)
	}

	sessions := r.registry.Snapshot()
	online := make([]string, 0, len(sessions))
	for _, s := range sessions {
		online = append(online, s.Username())
	}

	for _, s := range sessions {
		if s == except {
			continue
		}
		r.deliver(s, protocol.UserListUpdate{Usernames: presence(online, users, s.Username())})
	}
}

func (r *Router) deliver(s *Session, f protocol.ServerFrame) {
	if err := s.Deliver(f); err != nil {
		r.logger.Debug("deliver", "session", s.ID, "user", s.Username(), "error", err)
	}
}

func presence(online []string, users []models.User, exclude string) []string {
	seen := make(map[string]struct{}, len(online)+len(users))
	names := make([]string, 0, len(online)+len(users))

	add := func(name string) {
		if name == "" || name == exclude {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	for _, name := range online {
		add(name)
	}
	for _, u := range users {
		add(u.Username)
	}
	return names
}
