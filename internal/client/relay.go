package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coder/websocket"
)

// RelayConn is the durable relay link to the room coordinator.
type RelayConn interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Dialer opens a relay link. Tests substitute in-memory pipes.
type Dialer func(ctx context.Context, rawURL string) (RelayConn, error)

type wsRelay struct {
	conn *websocket.Conn
}

func dialRelay(ctx context.Context, rawURL string) (RelayConn, error) {
	conn, _, err := websocket.Dial(ctx, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return &wsRelay{conn: conn}, nil
}

func (w *wsRelay) Read(ctx context.Context) ([]byte, error) {
	_, data, err := w.conn.Read(ctx)
	return data, err
}

func (w *wsRelay) Write(ctx context.Context, data []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, data)
}

func (w *wsRelay) Close() error {
	return w.conn.Close(websocket.StatusNormalClosure, "bye")
}

// sessionURL turns the HTTP base into the ws upgrade URL for a room.
func sessionURL(serverURL, roomID, name, clientID string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("client: bad server url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("client: unsupported scheme %q", u.Scheme)
	}
	u.Path = "/ws/" + url.PathEscape(roomID)
	q := url.Values{}
	if name != "" {
		q.Set("name", name)
	}
	if clientID != "" {
		q.Set("client", clientID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
