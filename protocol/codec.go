package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"chatd/models"
)

// Envelope keys. Every frame is a JSON object with exactly one of them.
const (
	envelopeUserKey     = "user"
	envelopeMessageKey  = "message"
	envelopeRegisterKey = "register"
	envelopeLogoutKey   = "logout"
)

// Content sentinels. They are only recognized in messages without a
// sender, which chat messages never are.
const (
	getUserListContent   = "__GET_USERLIST__"
	privateHistoryPrefix = "GET_PRIVATE_HISTORY:"
	userListPrefix       = "USER_LIST:"
	endOfHistoryContent  = "__END_OF_HISTORY__"
)

var (
	ErrInvalidFrame = errors.New("invalid frame")
	ErrUnknownFrame = errors.New("unknown frame type")
)

// EncodeClientFrame renders a client frame as a single JSON envelope.
func EncodeClientFrame(f ClientFrame) ([]byte, error) {
	switch f := f.(type) {
	case Credentials:
		return encodeEnvelope(envelopeUserKey, &models.User{Username: f.Username, Password: f.Password})
	case RegisterRequest:
		return encodeEnvelope(envelopeRegisterKey, &models.User{Username: f.Username, Password: f.Password})
	case ControlRequest:
		var content string
		switch f.Kind {
		case GetUserList:
			content = getUserListContent
		case GetPrivateHistory:
			content = privateHistoryPrefix + f.OtherUser
		default:
			return nil, fmt.Errorf("%w: control kind %d", ErrUnknownFrame, f.Kind)
		}
		return encodeEnvelope(envelopeMessageKey, &models.Message{Content: content, Timestamp: time.Now().UTC()})
	case Logout:
		return encodeEnvelope(envelopeLogoutKey, struct{}{})
	case ChatMessage:
		if f.Message == nil {
			return nil, fmt.Errorf("%w: empty chat message", ErrInvalidFrame)
		}
		// without a sender the message would read back as a control request
		if f.Message.Sender == nil {
			return nil, fmt.Errorf("%w: chat message without sender", ErrInvalidFrame)
		}
		return encodeEnvelope(envelopeMessageKey, f.Message)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownFrame, f)
}

// DecodeClientFrame parses one envelope received by the server. Any error
// wraps ErrInvalidFrame.
func DecodeClientFrame(data []byte) (ClientFrame, error) {
	key, raw, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch key {
	case envelopeUserKey, envelopeRegisterKey:
		var u *models.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidFrame, key, err)
		}
		if u == nil {
			return nil, fmt.Errorf("%w: null %s", ErrInvalidFrame, key)
		}
		if key == envelopeRegisterKey {
			return RegisterRequest{Username: u.Username, Password: u.Password}, nil
		}
		return Credentials{Username: u.Username, Password: u.Password}, nil

	case envelopeLogoutKey:
		return Logout{}, nil
	}

	msg, err := decodeMessage(raw)
	if err != nil {
		return nil, err
	}
	if msg.Sender != nil {
		return ChatMessage{Message: msg}, nil
	}

	switch content := msg.Content; {
	case content == getUserListContent:
		return ControlRequest{Kind: GetUserList}, nil
	case strings.HasPrefix(content, privateHistoryPrefix):
		return ControlRequest{
			Kind:      GetPrivateHistory,
			OtherUser: strings.TrimPrefix(content, privateHistoryPrefix),
		}, nil
	}
	return nil, fmt.Errorf("%w: message without sender", ErrInvalidFrame)
}

// EncodeServerFrame renders a server frame as a single JSON envelope.
// Passwords never leave the server.
func EncodeServerFrame(f ServerFrame) ([]byte, error) {
	switch f := f.(type) {
	case UserReply:
		return encodeEnvelope(envelopeUserKey, f.User.Public())
	case ChatMessage:
		if f.Message == nil {
			return nil, fmt.Errorf("%w: empty chat message", ErrInvalidFrame)
		}
		out := *f.Message
		out.Sender = f.Message.Sender.Public()
		out.Receiver = f.Message.Receiver.Public()
		return encodeEnvelope(envelopeMessageKey, &out)
	case UserListUpdate:
		return encodeEnvelope(envelopeMessageKey, &models.Message{
			Content:   userListPrefix + JoinList(f.Usernames),
			Timestamp: time.Now().UTC(),
		})
	case EndOfHistory:
		return encodeEnvelope(envelopeMessageKey, &models.Message{
			Content:   endOfHistoryContent,
			Timestamp: time.Now().UTC(),
		})
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownFrame, f)
}

// DecodeServerFrame parses one envelope received by a client.
func DecodeServerFrame(data []byte) (ServerFrame, error) {
	key, raw, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	switch key {
	case envelopeUserKey:
		var u *models.User
		if err := json.Unmarshal(raw, &u); err != nil {
			return nil, fmt.Errorf("%w: user: %v", ErrInvalidFrame, err)
		}
		return UserReply{User: u}, nil
	case envelopeMessageKey:
	default:
		return nil, fmt.Errorf("%w: %q from server", ErrInvalidFrame, key)
	}

	msg, err := decodeMessage(raw)
	if err != nil {
		return nil, err
	}

	if msg.Sender == nil {
		switch {
		case strings.HasPrefix(msg.Content, userListPrefix):
			return UserListUpdate{Usernames: SplitList(strings.TrimPrefix(msg.Content, userListPrefix))}, nil
		case msg.Content == endOfHistoryContent:
			return EndOfHistory{}, nil
		}
	}

	return ChatMessage{Message: msg}, nil
}

func encodeEnvelope(key string, v any) ([]byte, error) {
	return json.Marshal(map[string]any{key: v})
}

// decodeEnvelope returns the single known key of the envelope and its raw
// value.
func decodeEnvelope(data []byte) (string, json.RawMessage, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if len(raw) != 1 {
		return "", nil, fmt.Errorf("%w: envelope needs exactly one key, got %d", ErrInvalidFrame, len(raw))
	}

	var key string
	for k := range raw {
		key = k
	}
	switch key {
	case envelopeUserKey, envelopeMessageKey, envelopeRegisterKey, envelopeLogoutKey:
		return key, raw[key], nil
	}
	return "", nil, fmt.Errorf("%w: unknown envelope key %q", ErrInvalidFrame, key)
}

func decodeMessage(raw json.RawMessage) (*models.Message, error) {
	var msg *models.Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: message: %v", ErrInvalidFrame, err)
	}
	if msg == nil {
		return nil, fmt.Errorf("%w: null message", ErrInvalidFrame)
	}
	return msg, nil
}
