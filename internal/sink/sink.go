package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Column is one numeric column. Value holds a float64 or an int64.
type Column struct {
	Name  string
	Value any
}

// Row is one symbol's sealed window, timestamped at the window close.
type Row struct {
	Table   string
	Symbol  string
	Columns []Column
	At      time.Time
}

// Session is a single write batch against a store. Commit makes the appended
// rows durable; Close releases the session and discards anything uncommitted.
type Session interface {
	Append(ctx context.Context, r Row) error
	Commit(ctx context.Context) error
	Close(ctx context.Context) error
}

// Sink opens write sessions. A session is never reused across windows.
type Sink interface {
	Name() string
	Open(ctx context.Context) (Session, error)
}

// Writer commits each window to every configured sink, one fresh session per
// sink per call.
type Writer struct {
	sinks   []Sink
	timeout time.Duration
	log     *slog.Logger
}

// NewWriter returns a Writer over sinks. A zero timeout leaves writes unbounded.
func NewWriter(logger *slog.Logger, timeout time.Duration, sinks ...Sink) *Writer {
	return &Writer{sinks: sinks, timeout: timeout, log: logger}
}

func (w *Writer) Sinks() []string {
	names := make([]string, len(w.sinks))
	for i, s := range w.sinks {
		names[i] = s.Name()
	}
	return names
}

// Write appends rows to every sink and commits. A failing sink does not stop
// the others; all failures are joined into the returned error.
func (w *Writer) Write(ctx context.Context, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	var errs []error
	for _, s := range w.sinks {
		if err := writeOne(ctx, s, rows); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		w.log.Debug("sink committed", slog.String("sink", s.Name()), slog.Int("rows", len(rows)))
	}
	return errors.Join(errs...)
}

func writeOne(ctx context.Context, s Sink, rows []Row) (err error) {
	sess, err := s.Open(ctx)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer func() {
		if cerr := sess.Close(ctx); cerr != nil && err == nil {
			err = fmt.Errorf("close session: %w", cerr)
		}
	}()
	for _, r := range rows {
		if err := sess.Append(ctx, r); err != nil {
			return fmt.Errorf("append %s/%s: %w", r.Table, r.Symbol, err)
		}
	}
	if err := sess.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
