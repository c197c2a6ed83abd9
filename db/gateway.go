// Package db implements the persistence gateway used by the chat server:
// user accounts and message history.
package db

import (
	"context"
	"errors"
	"fmt"

	"chatd/models"
)

var ErrUserExists = errors.New("username already taken")

// Gateway is the persistence boundary of the chat server. Every call is an
// independent operation; callers treat errors as "no durable effect".
type Gateway interface {
	// Authenticate returns the matching user, or nil without error when the
	// credentials do not match.
	Authenticate(ctx context.Context, username, password string) (*models.User, error)

	// Register creates a user. It returns ErrUserExists for a taken username.
	Register(ctx context.Context, username, password string) (*models.User, error)

	// SaveMessage persists a public or private message and sets its ID.
	SaveMessage(ctx context.Context, msg *models.Message) error

	// AllUsers lists every registered user without passwords, oldest first.
	AllUsers(ctx context.Context) ([]models.User, error)

	// RecentPublicMessages returns up to limit of the newest public
	// messages, oldest first.
	RecentPublicMessages(ctx context.Context, limit int) ([]models.Message, error)

	// PrivateMessages returns up to limit of the newest messages exchanged
	// between the two users in either direction, oldest first.
	PrivateMessages(ctx context.Context, userA, userB int64, limit int) ([]models.Message, error)

	Ping(ctx context.Context) error
	Close() error
}

// FindUser resolves a username against the registered user set.
// It returns nil without error when no such user exists.
func FindUser(ctx context.Context, gw Gateway, username string) (*models.User, error) {
	users, err := gw.AllUsers(ctx)
	if err != nil {
		return nil, err
	}
	for i := range users {
		if users[i].Username == username {
			return &users[i], nil
		}
	}
	return nil, nil
}

var demoUsers = []struct{ username, password string }{
	{"admin", "admin"},
	{"user", "user"},
}

// Seed creates the demo accounts when the store has no users yet.
// It returns the number of users created.
func Seed(ctx context.Context, gw Gateway) (int, error) {
	users, err := gw.AllUsers(ctx)
	if err != nil {
		return 0, err
	}
	if len(users) > 0 {
		return 0, nil
	}

	created := 0
	for _, u := range demoUsers {
		if _, err := gw.Register(ctx, u.username, u.password); err != nil {
			return created, fmt.Errorf("seed %s: %w", u.username, err)
		}
		created++
	}
	return created, nil
}

func validateMessage(msg *models.Message) error {
	if msg == nil || msg.Sender == nil {
		return errors.New("message has no sender")
	}
	if msg.Sender.ID == 0 {
		return errors.New("message sender is not resolved")
	}
	if msg.Receiver != nil && msg.Receiver.ID == 0 {
		return errors.New("message receiver is not resolved")
	}
	return nil
}

func reverse(messages []models.Message) {
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
}

var (
	_ Gateway = (*SQLite)(nil)
	_ Gateway = (*Postgres)(nil)
)
