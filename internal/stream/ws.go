package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WSDialer opens websocket connections and keeps them alive with pings.
type WSDialer struct {
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	PingTimeout      time.Duration
}

func NewWSDialer(pingInterval, pingTimeout time.Duration) *WSDialer {
	return &WSDialer{
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     pingInterval,
		PingTimeout:      pingTimeout,
	}
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
		ReadBufferSize:   1 << 16,
	}
	ws, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	c := &wsConn{ws: ws, readWait: d.PingInterval + d.PingTimeout, done: make(chan struct{})}
	ws.SetReadLimit(1 << 20)
	c.extend()
	ws.SetPongHandler(func(string) error {
		c.extend()
		return nil
	})
	if d.PingInterval > 0 {
		go c.keepalive(d.PingInterval, d.PingTimeout)
	}
	return c, nil
}

type wsConn struct {
	ws       *websocket.Conn
	readWait time.Duration
	once     sync.Once
	done     chan struct{}
}

func (c *wsConn) extend() {
	if c.readWait > 0 {
		_ = c.ws.SetReadDeadline(time.Now().Add(c.readWait))
	}
}

func (c *wsConn) ReadMessage() (int, []byte, error) {
	mt, data, err := c.ws.ReadMessage()
	if err == nil {
		c.extend()
	}
	return mt, data, err
}

func (c *wsConn) keepalive(interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(timeout)); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}
