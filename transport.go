package mafather

import (
	"context"
	"fmt"
	"net/http"

	"nhooyr.io/websocket"
)

// streamReadLimit bounds a single inbound frame; AI responses with sources
// exceed the websocket library's 32 KiB default.
const streamReadLimit = 1 << 20

// Channel is an open bidirectional stream of text frames. Write must be safe
// to call from several goroutines.
type Channel interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a Channel.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Channel, error)
}

// WebSocketDialer is the default Dialer.
type WebSocketDialer struct {
	HTTPClient *http.Client
}

func (d WebSocketDialer) Dial(ctx context.Context, url string, header http.Header) (Channel, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(streamReadLimit)
	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn *websocket.Conn
}

func (c *wsChannel) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsChannel) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsChannel) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "client disconnect")
}
