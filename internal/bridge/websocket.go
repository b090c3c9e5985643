package bridge

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second
	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Largest frame accepted from the peer.
	maxFrameSize = 4 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Engines connect from a local browser process, not from pages.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Dial connects to a coordinator bridge endpoint, authenticating with a
// bearer token.
func Dial(ctx context.Context, url, token string) (Conn, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("bridge: dial %s: %s: %w", url, resp.Status, err)
		}
		return nil, fmt.Errorf("bridge: dial %s: %w", url, err)
	}
	return newWSConn(conn), nil
}

// Accept upgrades an HTTP request into a bridge connection.
func Accept(w http.ResponseWriter, r *http.Request) (Conn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("bridge: upgrade failed: %w", err)
	}
	return newWSConn(conn), nil
}

// wsConn serializes writes through one writer goroutine that also keeps the
// connection alive with pings.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	done       chan struct{}
	writerDone chan struct{}
	closeOnce  sync.Once
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{
		conn:       conn,
		send:       make(chan []byte, 32),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go c.writePump()
	return c
}

func (c *wsConn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		select {
		case <-c.done:
			return nil, ErrClosed
		default:
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("bridge: read failed: %w", err)
	}
	return data, nil
}

func (c *wsConn) WriteFrame(ctx context.Context, data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		<-c.writerDone
	})
	return c.conn.Close()
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(c.writerDone)
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				// Unblock the reader; the bridge shuts down on the read error.
				_ = c.conn.Close()
				<-c.done
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				<-c.done
				return
			}
		}
	}
}
