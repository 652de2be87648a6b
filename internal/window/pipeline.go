package window

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"marketagg/internal/market"
	"marketagg/internal/sink"
	"marketagg/internal/state"
)

// RowWriter persists one sealed window. Errors are reported, never retried.
type RowWriter interface {
	Write(ctx context.Context, rows []sink.Row) error
}

// Report describes one completed flush.
type Report struct {
	Pipeline string
	Table    string
	At       time.Time
	Rows     int
	Took     time.Duration
	Err      error
}

type Options struct {
	Interval        time.Duration  // window length, default 1s
	Location        *time.Location // zone window timestamps are stamped in
	Stamp           Stamp          // wall clock (default) or true instant
	ShutdownTimeout time.Duration  // budget for the final flush; 0 abandons it
	Queue           int            // sealed windows waiting for the flusher

	Ticks   <-chan time.Time // drives the trigger; nil uses a ticker
	Now     func() time.Time
	OnFlush func(Report)
	Stats   *state.Pipeline
}

type sealedWindow[E any] struct {
	at  time.Time
	acc Accumulator[E]
}

// Pipeline owns the open window for one message kind. Handle feeds it
// events; Run applies them and seals the window on the trigger, swapping in
// an empty accumulator before the sealed one is written.
type Pipeline[E any] struct {
	kind   market.Kind
	decode func(json.RawMessage) (E, error)
	newAcc func() Accumulator[E]
	writer RowWriter
	opts   Options
	log    *slog.Logger

	events chan E
	sealed chan sealedWindow[E]
}

func NewTradePipeline(w RowWriter, logger *slog.Logger, opts Options) *Pipeline[market.TradeEvent] {
	return newPipeline(market.TradeKind, market.ParseTrade,
		func() Accumulator[market.TradeEvent] { return NewTradeBook() }, w, logger, opts)
}

func NewQuotePipeline(w RowWriter, logger *slog.Logger, opts Options) *Pipeline[market.QuoteEvent] {
	return newPipeline(market.QuoteKind, market.ParseQuote,
		func() Accumulator[market.QuoteEvent] { return NewQuoteBook() }, w, logger, opts)
}

func newPipeline[E any](kind market.Kind, decode func(json.RawMessage) (E, error), newAcc func() Accumulator[E], w RowWriter, logger *slog.Logger, opts Options) *Pipeline[E] {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Queue <= 0 {
		opts.Queue = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Stats == nil {
		opts.Stats = state.NewPipeline(kind.Name)
	}
	return &Pipeline[E]{
		kind:   kind,
		decode: decode,
		newAcc: newAcc,
		writer: w,
		opts:   opts,
		log:    logger.With(slog.String("pipeline", kind.Name)),
		events: make(chan E, 4096),
		sealed: make(chan sealedWindow[E], opts.Queue),
	}
}

func (p *Pipeline[E]) Kind() market.Kind      { return p.kind }
func (p *Pipeline[E]) Stats() *state.Pipeline { return p.opts.Stats }

// Handle decodes one payload and queues it for the open window. A decode
// error is returned to the caller unchanged.
func (p *Pipeline[E]) Handle(ctx context.Context, payload json.RawMessage) error {
	ev, err := p.decode(payload)
	if err != nil {
		return err
	}
	select {
	case p.events <- ev:
		p.opts.Stats.EventReceived()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events and window boundaries until ctx is cancelled. On
// cancellation the partial window is flushed within ShutdownTimeout.
func (p *Pipeline[E]) Run(ctx context.Context) {
	ticks, stop := p.ticks()
	defer stop()

	// Writes outlive ctx by at most ShutdownTimeout.
	wctx, cancelWrites := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWrites()
	context.AfterFunc(ctx, func() {
		if p.opts.ShutdownTimeout <= 0 {
			cancelWrites()
			return
		}
		time.AfterFunc(p.opts.ShutdownTimeout, cancelWrites)
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for w := range p.sealed {
			p.flush(wctx, w)
		}
	}()

	trig := NewTrigger(p.opts.Interval, p.opts.Location, p.opts.Stamp, p.opts.Now())
	cur := p.newAcc()

	for {
		select {
		case <-ctx.Done():
			p.drainEvents(cur)
			if p.opts.ShutdownTimeout > 0 && cur.Len() > 0 {
				p.sealed <- sealedWindow[E]{at: trig.Seal(p.opts.Now()), acc: cur}
			}
			close(p.sealed)
			<-done
			p.log.Info("pipeline stopped")
			return
		case ev := <-p.events:
			cur.Add(ev)
		case now := <-ticks:
			if !trig.Due(now) {
				continue
			}
			// events already queued belong to the closing window
			p.drainEvents(cur)
			at := trig.Seal(now)
			if cur.Len() == 0 {
				continue
			}
			w := sealedWindow[E]{at: at, acc: cur}
			cur = p.newAcc()
			p.sealed <- w
		}
	}
}

// drainEvents folds whatever is already queued without blocking.
func (p *Pipeline[E]) drainEvents(cur Accumulator[E]) {
	for {
		select {
		case ev := <-p.events:
			cur.Add(ev)
		default:
			return
		}
	}
}

func (p *Pipeline[E]) flush(ctx context.Context, w sealedWindow[E]) {
	rows := w.acc.Rows(p.kind.Table, w.at)
	if len(rows) == 0 {
		return
	}
	start := time.Now()
	err := p.writer.Write(ctx, rows)
	rep := Report{
		Pipeline: p.kind.Name,
		Table:    p.kind.Table,
		At:       w.at,
		Rows:     len(rows),
		Took:     time.Since(start),
		Err:      err,
	}
	if err != nil {
		p.opts.Stats.FlushFailed(w.at, err)
		p.log.Error("flush failed, window dropped",
			slog.Time("at", w.at),
			slog.Int("rows", len(rows)),
			slog.String("err", err.Error()),
		)
	} else {
		p.opts.Stats.FlushSucceeded(w.at, len(rows))
		p.log.Info("flushed",
			slog.Time("at", w.at),
			slog.Int("symbols", len(rows)),
			slog.Duration("took", rep.Took),
		)
	}
	if p.opts.OnFlush != nil {
		p.opts.OnFlush(rep)
	}
}

// ticks returns the trigger clock. The ticker runs at a tenth of the window
// so a window closes at most that late.
func (p *Pipeline[E]) ticks() (<-chan time.Time, func()) {
	if p.opts.Ticks != nil {
		return p.opts.Ticks, func() {}
	}
	period := p.opts.Interval / 10
	if period < 10*time.Millisecond {
		period = 10 * time.Millisecond
	}
	t := time.NewTicker(period)
	return t.C, t.Stop
}
