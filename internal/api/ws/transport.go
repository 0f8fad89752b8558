package ws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Transport is a duplex, ordered message channel to one client. Read returns
// an error wrapping errMalformed for frames that are not valid messages; any
// other error means the connection is gone.
type Transport interface {
	Read(ctx context.Context) (Message, error)
	Write(ctx context.Context, msg Message) error
	Ping(ctx context.Context) error
	Close(code websocket.StatusCode, reason string) error
}

type connTransport struct {
	conn *websocket.Conn
}

// NewConnTransport adapts a websocket connection.
func NewConnTransport(conn *websocket.Conn) Transport {
	return &connTransport{conn: conn}
}

func (t *connTransport) Read(ctx context.Context) (Message, error) {
	typ, raw, err := t.conn.Read(ctx)
	if err != nil {
		return Message{}, err
	}
	if typ != websocket.MessageText {
		return Message{}, fmt.Errorf("%w: binary frame", errMalformed)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return Message{}, fmt.Errorf("%w: %w", errMalformed, err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("%w: missing type", errMalformed)
	}
	return msg, nil
}

func (t *connTransport) Write(ctx context.Context, msg Message) error {
	return wsjson.Write(ctx, t.conn, msg)
}

func (t *connTransport) Ping(ctx context.Context) error {
	return t.conn.Ping(ctx)
}

func (t *connTransport) Close(code websocket.StatusCode, reason string) error {
	return t.conn.Close(code, reason)
}
