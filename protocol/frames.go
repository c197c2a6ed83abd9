// Package protocol defines the frames exchanged between chat clients and the
// server and their JSON wire encoding. Reserved content sentinels exist only
// on the wire; everything above the codec works with the typed frames below.
package protocol

import "chatd/models"

// ClientFrame is a frame sent by a client.
type ClientFrame interface {
	clientFrame()
}

// ServerFrame is a frame sent by the server.
type ServerFrame interface {
	serverFrame()
}

// Credentials is a login attempt.
type Credentials struct {
	Username string
	Password string
}

// RegisterRequest asks the server to create an account. The connection is
// closed after the reply.
type RegisterRequest struct {
	Username string
	Password string
}

type ControlKind int

const (
	GetUserList ControlKind = iota + 1
	GetPrivateHistory
)

func (k ControlKind) String() string {
	switch k {
	case GetUserList:
		return "get_user_list"
	case GetPrivateHistory:
		return "get_private_history"
	}
	return "unknown"
}

// ControlRequest is a client request that is answered only to the caller.
type ControlRequest struct {
	Kind      ControlKind
	OtherUser string // GetPrivateHistory only
}

// Logout ends an active session.
type Logout struct{}

// ChatMessage carries a public or private message in either direction.
type ChatMessage struct {
	Message *models.Message
}

// UserReply answers login and registration. A nil User is a refusal.
type UserReply struct {
	User *models.User
}

// UserListUpdate is the presence list as seen by the receiving session.
type UserListUpdate struct {
	Usernames []string
}

// EndOfHistory terminates a history replay.
type EndOfHistory struct{}

func (Credentials) clientFrame()     {}
func (RegisterRequest) clientFrame() {}
func (ControlRequest) clientFrame()  {}
func (Logout) clientFrame()          {}
func (ChatMessage) clientFrame()     {}

func (ChatMessage) serverFrame()    {}
func (UserReply) serverFrame()      {}
func (UserListUpdate) serverFrame() {}
func (EndOfHistory) serverFrame()   {}
