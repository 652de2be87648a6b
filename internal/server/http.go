package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"marketagg/internal/state"
	"marketagg/internal/window"
)

// Info is the static runtime configuration exposed on /api/config.
type Info struct {
	Symbols    int      `json:"symbols"`
	Window     string   `json:"window"`
	Zone       string   `json:"zone"`
	Sinks      []string `json:"sinks"`
	StreamURLs []string `json:"streamUrls"`
}

type HTTPServer struct {
	info      Info
	pipelines []*state.Pipeline
	feed      *flushFeed
	log       *slog.Logger
	mux       *http.ServeMux
}

func NewHTTPServer(info Info, pipelines []*state.Pipeline, logger *slog.Logger) *HTTPServer {
	s := &HTTPServer{
		info:      info,
		pipelines: pipelines,
		feed:      newFlushFeed(logger),
		log:       logger,
		mux:       http.NewServeMux(),
	}
	s.routes()
	go s.feed.run()
	return s
}

func (s *HTTPServer) Router() http.Handler { return s.mux }

// Close disconnects websocket viewers and stops the flush feed.
func (s *HTTPServer) Close() { close(s.feed.quit) }

// flushMessage is the payload of a "flush" websocket message.
type flushMessage struct {
	Pipeline string `json:"pipeline"`
	Table    string `json:"table"`
	Rows     int    `json:"rows"`
	AtISO    string `json:"atISO"`
	TookMs   int64  `json:"tookMs"`
	OK       bool   `json:"ok"`
	Error    string `json:"error,omitempty"`
}

// BroadcastFlush pushes one flush report to websocket viewers.
func (s *HTTPServer) BroadcastFlush(r window.Report) {
	m := flushMessage{
		Pipeline: r.Pipeline,
		Table:    r.Table,
		Rows:     r.Rows,
		AtISO:    r.At.Format(time.RFC3339),
		TookMs:   r.Took.Milliseconds(),
		OK:       r.Err == nil,
	}
	if r.Err != nil {
		m.Error = r.Err.Error()
	}
	s.feed.publish(r.Pipeline, marshalWS("flush", m))
}

func (s *HTTPServer) routes() {
	s.mux.HandleFunc("/ws", s.feed.serveWS)
	s.mux.HandleFunc("/api/health", s.apiHealth)
	s.mux.HandleFunc("/api/config", s.apiConfig)
}

func (s *HTTPServer) apiHealth(w http.ResponseWriter, r *http.Request) {
	stats := make([]state.Stats, 0, len(s.pipelines))
	ok := true
	for _, p := range s.pipelines {
		st := p.Snapshot()
		ok = ok && st.Connected
		stats = append(stats, st)
	}
	if !ok {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	writeJSON(w, map[string]any{
		"ok":        ok,
		"pipelines": stats,
		"time":      time.Now().UTC(),
	})
}

func (s *HTTPServer) apiConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.info)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
