package models

import "time"

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Password string `json:"password,omitempty"` // only set on inbound credentials
}

// Public returns a copy of u without the password.
func (u *User) Public() *User {
	if u == nil {
		return nil
	}
	return &User{ID: u.ID, Username: u.Username}
}

type Kind int

const (
	KindSystem Kind = iota
	KindPublic
	KindPrivate
)

func (k Kind) String() string {
	switch k {
	case KindSystem:
		return "system"
	case KindPublic:
		return "public"
	case KindPrivate:
		return "private"
	}
	return "unknown"
}

// Message is a chat message. A nil Sender marks a system frame, a nil
// Receiver a public broadcast.
type Message struct {
	ID        int64     `json:"id"`
	Sender    *User     `json:"sender"`
	Receiver  *User     `json:"receiver"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (m *Message) Kind() Kind {
	switch {
	case m.Sender == nil:
		return KindSystem
	case m.Receiver == nil:
		return KindPublic
	default:
		return KindPrivate
	}
}

func (m *Message) IsPrivate() bool {
	return m.Kind() == KindPrivate
}

// Clone returns a copy that shares no User pointers with m.
func (m *Message) Clone() *Message {
	c := *m
	if m.Sender != nil {
		s := *m.Sender
		c.Sender = &s
	}
	if m.Receiver != nil {
		r := *m.Receiver
		c.Receiver = &r
	}
	return &c
}
