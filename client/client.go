// Package client is a Go client for the chat server. It speaks the same
// frame protocol over TCP or WebSocket and exposes the server's frames in
// arrival order through Next.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"chatd/models"
	"chatd/protocol"

	"github.com/gorilla/websocket"
)

var (
	ErrLoginRefused        = errors.New("login refused")
	ErrRegistrationRefused = errors.New("registration refused")
	ErrNotLoggedIn         = errors.New("not logged in")
	ErrClosed              = errors.New("client closed")
)

const dialTimeout = 10 * time.Second

// Client is a connection to the chat server.
type Client struct {
	transport transport
	frames    chan protocol.ServerFrame
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	user    *models.User
	readErr error
}

// Dial connects to the server's TCP listener at addr.
func Dial(ctx context.Context, addr string) (*Client, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return newClient(newLineTransport(conn)), nil
}

// DialWebSocket connects to the server's WebSocket endpoint, e.g.
// ws://localhost:8889/ws.
func DialWebSocket(ctx context.Context, url string) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newClient(&wsTransport{conn: conn}), nil
}

func newClient(t transport) *Client {
	c := &Client{
		transport: t,
		frames:    make(chan protocol.ServerFrame, 256),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// readLoop decodes frames until the connection fails. Undecodable frames
// are skipped.
func (c *Client) readLoop() {
	defer close(c.frames)

	for {
		f, err := c.transport.readFrame()
		if err != nil {
			if errors.Is(err, protocol.ErrInvalidFrame) {
				continue
			}
			c.mu.Lock()
			c.readErr = err
			c.mu.Unlock()
			return
		}

		select {
		case c.frames <- f:
		case <-c.done:
			return
		}
	}
}

// Next returns the next frame from the server. After the connection ends
// it returns the read error, or ErrClosed after Close.
func (c *Client) Next(ctx context.Context) (protocol.ServerFrame, error) {
	select {
	case f, ok := <-c.frames:
		if !ok {
			return nil, c.err()
		}
		return f, nil
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) err() error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return c.readErr
	}
	return ErrClosed
}

// User returns the logged in user, or nil.
func (c *Client) User() *models.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// Login sends credentials and waits for the reply. On success the server
// follows up with public history, an end of history marker and the
// presence list, all available through Next.
func (c *Client) Login(ctx context.Context, username, password string) (*models.User, error) {
	user, err := c.exchange(ctx, protocol.Credentials{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrLoginRefused
	}

	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
	return user, nil
}

// Register creates an account. The server closes the connection after
// replying, so the client is no longer usable afterwards.
func (c *Client) Register(ctx context.Context, username, password string) (*models.User, error) {
	user, err := c.exchange(ctx, protocol.RegisterRequest{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrRegistrationRefused
	}
	return user, nil
}

func (c *Client) exchange(ctx context.Context, f protocol.ClientFrame) (*models.User, error) {
	if err := c.send(f); err != nil {
		return nil, err
	}

	for {
		frame, err := c.Next(ctx)
		if err != nil {
			return nil, err
		}
		if reply, ok := frame.(protocol.UserReply); ok {
			return reply.User, nil
		}
	}
}

// SendPublic sends a message to every online user.
func (c *Client) SendPublic(content string) error {
	return c.sendMessage(nil, content)
}

// SendPrivate sends a message to one user.
func (c *Client) SendPrivate(to, content string) error {
	return c.sendMessage(&models.User{Username: to}, content)
}

func (c *Client) sendMessage(receiver *models.User, content string) error {
	user := c.User()
	if user == nil {
		return ErrNotLoggedIn
	}
	return c.send(protocol.ChatMessage{Message: &models.Message{
		Sender:    user,
		Receiver:  receiver,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}})
}

// RequestUserList asks for a fresh presence list.
func (c *Client) RequestUserList() error {
	return c.send(protocol.ControlRequest{Kind: protocol.GetUserList})
}

// RequestPrivateHistory asks for the messages exchanged with other. The
// server answers with the messages followed by an end of history marker,
// or not at all if other does not exist.
func (c *Client) RequestPrivateHistory(other string) error {
	return c.send(protocol.ControlRequest{Kind: protocol.GetPrivateHistory, OtherUser: other})
}

// ReadHistory collects chat messages up to the next end of history marker.
// The session is already registered when replay starts, so live chats and
// user list updates may arrive before the marker. Those are dropped here.
func (c *Client) ReadHistory(ctx context.Context) ([]models.Message, error) {
	var messages []models.Message
	for {
		f, err := c.Next(ctx)
		if err != nil {
			return messages, err
		}
		switch f := f.(type) {
		case protocol.ChatMessage:
			messages = append(messages, *f.Message)
		case protocol.EndOfHistory:
			return messages, nil
		}
	}
}

// Logout ends the session. The server closes the connection afterwards.
func (c *Client) Logout() error {
	if err := c.send(protocol.Logout{}); err != nil {
		return err
	}
	c.mu.Lock()
	c.user = nil
	c.mu.Unlock()
	return nil
}

func (c *Client) send(f protocol.ClientFrame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := c.transport.writeFrame(f); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Close closes the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.transport.close()
	})
	return err
}
