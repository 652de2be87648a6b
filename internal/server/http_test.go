package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"marketagg/internal/state"
	"marketagg/internal/window"
)

func newTestServer(t *testing.T, pipelines ...*state.Pipeline) (*HTTPServer, *httptest.Server) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := NewHTTPServer(Info{Symbols: 2, Window: "1s", Zone: "UTC+07:00", Sinks: []string{"questdb-ilp"}}, pipelines, logger)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(func() {
		ts.Close()
		s.Close()
	})
	return s, ts
}

func TestHealthReportsPipelines(t *testing.T) {
	trade := state.NewPipeline("trade")
	quote := state.NewPipeline("quote")
	trade.SetConnected(true)
	trade.FlushSucceeded(time.Now(), 3)
	_, ts := newTestServer(t, trade, quote)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status got %d; quote is disconnected", resp.StatusCode)
	}
	var body struct {
		OK        bool          `json:"ok"`
		Pipelines []state.Stats `json:"pipelines"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.OK || len(body.Pipelines) != 2 {
		t.Fatalf("unexpected body %+v", body)
	}
	if p := body.Pipelines[0]; p.Name != "trade" || p.RowsWritten != 3 || p.Flushes != 1 {
		t.Fatalf("trade stats %+v", p)
	}

	quote.SetConnected(true)
	resp2, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("status got %d want 200", resp2.StatusCode)
	}
}

func TestConfigEndpoint(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/config")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var info Info
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.Symbols != 2 || info.Window != "1s" || len(info.Sinks) != 1 {
		t.Fatalf("got %+v", info)
	}
}

type flushEnvelope struct {
	Type string       `json:"type"`
	Data flushMessage `json:"data"`
}

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFlush(t *testing.T, conn *websocket.Conn) flushEnvelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	var msg flushEnvelope
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatal(err)
	}
	return msg
}

func TestFlushIsBroadcast(t *testing.T) {
	s, ts := newTestServer(t)
	conn := dialWS(t, ts)

	at := time.Date(2025, 3, 1, 17, 0, 1, 0, time.UTC)
	rep := window.Report{Pipeline: "trade", Table: "trades_agg_1s", At: at, Rows: 3, Err: errors.New("questdb-ilp: refused")}
	// The viewer joins asynchronously; keep publishing until it reads one.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(10 * time.Millisecond)
		defer tick.Stop()
		for {
			s.BroadcastFlush(rep)
			select {
			case <-stop:
				return
			case <-tick.C:
			}
		}
	}()

	msg := readFlush(t, conn)
	if msg.Type != "flush" {
		t.Fatalf("type got %q", msg.Type)
	}
	d := msg.Data
	if d.OK || d.Error != "questdb-ilp: refused" || d.Rows != 3 || d.Table != "trades_agg_1s" {
		t.Fatalf("data %+v", d)
	}
	if d.AtISO != "2025-03-01T17:00:01Z" {
		t.Fatalf("atISO got %v", d.AtISO)
	}
}

func TestNewViewerGetsLatestFlushPerPipeline(t *testing.T) {
	s, ts := newTestServer(t)
	at := time.Date(2025, 3, 1, 17, 0, 1, 0, time.UTC)
	s.BroadcastFlush(window.Report{Pipeline: "trade", Table: "trades_agg_1s", At: at, Rows: 1})
	s.BroadcastFlush(window.Report{Pipeline: "quote", Table: "book_l1", At: at, Rows: 5})
	s.BroadcastFlush(window.Report{Pipeline: "trade", Table: "trades_agg_1s", At: at.Add(time.Second), Rows: 2})

	// Updates are applied by the feed goroutine; wait until a viewer sees both.
	deadline := time.Now().Add(2 * time.Second)
	for {
		conn := dialWS(t, ts)
		first := readFlush(t, conn)
		if first.Data.Pipeline == "trade" && first.Data.Rows == 2 {
			second := readFlush(t, conn)
			if second.Data.Pipeline != "quote" || second.Data.Rows != 5 {
				t.Fatalf("second replay got %+v", second.Data)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("replay never caught up, got %+v", first.Data)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
