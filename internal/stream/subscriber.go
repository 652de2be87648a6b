package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"marketagg/internal/state"
)

// Handler receives the inner payload of one multiplexed message.
type Handler func(ctx context.Context, payload json.RawMessage) error

type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// envelope is the combined-stream wrapper: {"stream":"btcusdt@trade","data":{...}}.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Subscriber keeps one combined-stream connection alive and forwards every
// payload to its handler. Any failure drops the connection and reconnects
// after the retry policy's delay.
type Subscriber struct {
	name    string
	url     string
	dialer  Dialer
	handler Handler
	policy  RetryPolicy
	log     *slog.Logger
	stats   *state.Pipeline
}

func NewSubscriber(name, url string, dialer Dialer, handler Handler, policy RetryPolicy, stats *state.Pipeline, logger *slog.Logger) *Subscriber {
	if stats == nil {
		stats = state.NewPipeline(name)
	}
	return &Subscriber{
		name:    name,
		url:     url,
		dialer:  dialer,
		handler: handler,
		policy:  policy,
		log:     logger.With(slog.String("pipeline", name)),
		stats:   stats,
	}
}

// Run blocks until ctx is cancelled or the retry policy gives up.
func (s *Subscriber) Run(ctx context.Context) error {
	failures := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		dialed, err := s.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if dialed {
			failures = 0
		}
		failures++
		if s.policy.Exhausted(failures) {
			s.log.Error("giving up on stream", slog.Int("attempts", failures), slog.String("err", err.Error()))
			return fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, failures, err)
		}

		delay := s.policy.Delay(failures)
		s.log.Warn("stream error, reconnecting",
			slog.String("err", err.Error()),
			slog.Duration("in", delay),
			slog.Int("attempt", failures),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		s.stats.Reconnected()
	}
}

// session runs one connection until it fails. dialed reports whether the
// connection was established at all.
func (s *Subscriber) session(ctx context.Context) (dialed bool, err error) {
	conn, err := s.dialer.Dial(ctx, s.url)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	s.stats.SetConnected(true)
	s.log.Info("stream connected")

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
		s.stats.SetConnected(false)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		payload, ok, err := unwrap(data)
		if err != nil {
			return true, err
		}
		if !ok {
			continue
		}
		if err := s.handler(ctx, payload); err != nil {
			return true, fmt.Errorf("handle: %w", err)
		}
	}
}

// unwrap returns the nested payload. Messages without one (subscription
// acks and the like) report ok=false.
func unwrap(data []byte) (json.RawMessage, bool, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false, fmt.Errorf("decode envelope: %w", err)
	}
	if len(env.Data) == 0 {
		return nil, false, nil
	}
	return env.Data, true, nil
}

// RunAll runs every subscriber until ctx is cancelled. A subscriber that
// gives up does not stop the others; RunAll returns once all of them have
// returned, joining the errors of those that gave up.
func RunAll(ctx context.Context, subs ...*Subscriber) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, s := range subs {
		wg.Add(1)
		go func(s *Subscriber) {
			defer wg.Done()
			if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return errors.Join(errs...)
}
