package state

import (
	"errors"
	"testing"
	"time"
)

func TestConnectedFlag(t *testing.T) {
	p := NewPipeline("trade")
	if p.Connected() {
		t.Fatal("new pipeline should start disconnected")
	}
	p.SetConnected(true)
	if !p.Connected() || !p.Snapshot().Connected {
		t.Fatal("connected not reported")
	}
}

func TestFlushCounters(t *testing.T) {
	p := NewPipeline("quote")
	at := time.Date(2025, 5, 1, 12, 0, 1, 0, time.UTC)
	p.FlushSucceeded(at, 3)
	p.FlushSucceeded(at.Add(time.Second), 2)
	p.FlushFailed(at.Add(2*time.Second), errors.New("sink down"))
	p.Reconnected()
	p.EventReceived()

	s := p.Snapshot()
	if s.Name != "quote" {
		t.Fatalf("name got %s", s.Name)
	}
	if s.Flushes != 2 || s.FailedFlushes != 1 || s.RowsWritten != 5 {
		t.Fatalf("counters got %+v", s)
	}
	if s.Reconnects != 1 || s.Events != 1 {
		t.Fatalf("counters got %+v", s)
	}
	if !s.LastFlush.Equal(at.Add(2*time.Second)) || s.LastError != "sink down" {
		t.Fatalf("last flush got %v %q", s.LastFlush, s.LastError)
	}
}
