package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 25 * time.Second
)

type wsMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type flushUpdate struct {
	pipeline string
	msg      []byte
}

// flushFeed fans flush messages out to websocket viewers. It remembers the
// latest message per pipeline and replays them to every new viewer.
type flushFeed struct {
	viewers map[*viewer]struct{}
	join    chan *viewer
	leave   chan *viewer
	updates chan flushUpdate
	quit    chan struct{}

	latest map[string][]byte
	order  []string

	log *slog.Logger
}

type viewer struct {
	conn *websocket.Conn
	out  chan []byte
}

func newFlushFeed(logger *slog.Logger) *flushFeed {
	return &flushFeed{
		viewers: map[*viewer]struct{}{},
		join:    make(chan *viewer),
		leave:   make(chan *viewer),
		updates: make(chan flushUpdate, 256),
		quit:    make(chan struct{}),
		latest:  map[string][]byte{},
		log:     logger,
	}
}

func (f *flushFeed) run() {
	for {
		select {
		case <-f.quit:
			for v := range f.viewers {
				f.drop(v)
			}
			return
		case v := <-f.join:
			f.viewers[v] = struct{}{}
			for _, p := range f.order {
				f.deliver(v, f.latest[p])
			}
		case v := <-f.leave:
			if _, ok := f.viewers[v]; ok {
				f.drop(v)
			}
		case u := <-f.updates:
			if _, seen := f.latest[u.pipeline]; !seen {
				f.order = append(f.order, u.pipeline)
			}
			f.latest[u.pipeline] = u.msg
			for v := range f.viewers {
				f.deliver(v, u.msg)
			}
		}
	}
}

// deliver drops a viewer whose queue is full rather than stall the feed.
func (f *flushFeed) deliver(v *viewer, msg []byte) {
	select {
	case v.out <- msg:
	default:
		f.drop(v)
	}
}

func (f *flushFeed) drop(v *viewer) {
	if _, ok := f.viewers[v]; !ok {
		return
	}
	delete(f.viewers, v)
	close(v.out)
}

// publish never blocks a pipeline; updates are dropped when the feed is behind.
func (f *flushFeed) publish(pipeline string, msg []byte) {
	select {
	case f.updates <- flushUpdate{pipeline: pipeline, msg: msg}:
	default:
		f.log.Debug("flush feed behind, update dropped", slog.String("pipeline", pipeline))
	}
}

var upgrader = websocket.Upgrader{
	HandshakeTimeout: 10 * time.Second,
	ReadBufferSize:   1024,
	WriteBufferSize:  4096,
	CheckOrigin:      func(r *http.Request) bool { return true },
}

// serveWS upgrades the request and reads from the viewer until it goes away.
// Viewers never send anything meaningful; reading only services pongs.
func (f *flushFeed) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.log.Error("ws upgrade", slog.String("err", err.Error()))
		return
	}
	v := &viewer{conn: conn, out: make(chan []byte, 64)}
	select {
	case f.join <- v:
	case <-f.quit:
		_ = conn.Close()
		return
	}
	go v.write()

	defer func() {
		select {
		case f.leave <- v:
		case <-f.quit:
		}
		_ = conn.Close()
	}()
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (v *viewer) write() {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		_ = v.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-v.out:
			_ = v.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = v.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := v.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := v.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func marshalWS(t string, v any) []byte {
	b, _ := json.Marshal(wsMessage{Type: t, Data: v})
	return b
}
