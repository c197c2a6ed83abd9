package client

import (
	"fmt"
	"net"
	"sync"

	"chatd/protocol"

	"github.com/gorilla/websocket"
)

// transport carries whole frames to and from the server.
type transport interface {
	readFrame() (protocol.ServerFrame, error)
	writeFrame(protocol.ClientFrame) error
	close() error
}

// lineTransport speaks newline-delimited envelopes over TCP.
type lineTransport struct {
	conn   net.Conn
	reader *protocol.Reader
	writer *protocol.Writer
}

func newLineTransport(conn net.Conn) *lineTransport {
	return &lineTransport{
		conn:   conn,
		reader: protocol.NewReader(conn),
		writer: protocol.NewWriter(conn),
	}
}

func (t *lineTransport) readFrame() (protocol.ServerFrame, error) {
	return t.reader.ReadServerFrame()
}

func (t *lineTransport) writeFrame(f protocol.ClientFrame) error {
	return t.writer.WriteClientFrame(f)
}

func (t *lineTransport) close() error {
	return t.conn.Close()
}

// wsTransport sends one envelope per WebSocket text message.
type wsTransport struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (t *wsTransport) readFrame() (protocol.ServerFrame, error) {
	typ, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if typ != websocket.TextMessage {
		return nil, fmt.Errorf("%w: websocket message type %d", protocol.ErrInvalidFrame, typ)
	}
	return protocol.DecodeServerFrame(data)
}

func (t *wsTransport) writeFrame(f protocol.ClientFrame) error {
	data, err := protocol.EncodeClientFrame(f)
	if err != nil {
		return err
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) close() error {
	return t.conn.Close()
}
