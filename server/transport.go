package server

import (
	"fmt"
	"net"
	"time"

	"chatd/protocol"

	"github.com/gorilla/websocket"
)

// Conn is a client connection that carries whole protocol frames.
// ReadFrame is called only by the session loop and WriteFrame only by the
// write pump; Close may be called from anywhere and more than once.
type Conn interface {
	ReadFrame() (protocol.ClientFrame, error)
	WriteFrame(protocol.ServerFrame) error
	Close() error
	RemoteAddr() string
}

// lineConn speaks newline-delimited envelopes over a stream connection.
type lineConn struct {
	conn         net.Conn
	reader       *protocol.Reader
	writer       *protocol.Writer
	writeTimeout time.Duration
}

func newLineConn(conn net.Conn, writeTimeout time.Duration, maxFrame int) *lineConn {
	return &lineConn{
		conn:         conn,
		reader:       protocol.NewLimitedReader(conn, maxFrame),
		writer:       protocol.NewWriter(conn),
		writeTimeout: writeTimeout,
	}
}

func (c *lineConn) ReadFrame() (protocol.ClientFrame, error) {
	return c.reader.ReadClientFrame()
}

func (c *lineConn) WriteFrame(f protocol.ServerFrame) error {
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.writer.WriteServerFrame(f)
}

func (c *lineConn) Close() error {
	return c.conn.Close()
}

func (c *lineConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// wsConn carries one envelope per WebSocket text message.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration, maxFrame int) *wsConn {
	if maxFrame > 0 {
		conn.SetReadLimit(int64(maxFrame))
	}
	return &wsConn{conn: conn, writeTimeout: writeTimeout}
}

func (c *wsConn) ReadFrame() (protocol.ClientFrame, error) {
	typ, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if typ != websocket.TextMessage {
		return nil, fmt.Errorf("%w: websocket message type %d", protocol.ErrInvalidFrame, typ)
	}
	return protocol.DecodeClientFrame(data)
}

func (c *wsConn) WriteFrame(f protocol.ServerFrame) error {
	data, err := protocol.EncodeServerFrame(f)
	if err != nil {
		return err
	}
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
