package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"marketagg/internal/config"
	"marketagg/internal/market"
	"marketagg/internal/server"
	"marketagg/internal/sink"
	"marketagg/internal/state"
	"marketagg/internal/stream"
	"marketagg/internal/symbols"
	"marketagg/internal/window"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load() // best-effort: .env is optional

	cfgPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *cfgPath, err)
		os.Exit(1)
	}
	loc, _ := cfg.Location() // validated by Load

	logger := config.NewLogger(cfg.LogLevel)

	syms := symbols.Build(cfg.Universe.Tickers, cfg.Universe.Excluded, cfg.Universe.Quote)
	if len(syms) == 0 {
		logger.Error("symbol universe is empty")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sinks
	sinks, closers := openSinks(ctx, cfg, logger)
	closeSinks := func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}
	writer := sink.NewWriter(logger, cfg.Sink.WriteTimeout, sinks...)

	logger.Info("marketagg starting",
		slog.Int("symbols", len(syms)),
		slog.Duration("window", cfg.Window),
		slog.String("zone", loc.String()),
		slog.String("timestamps", cfg.Timestamps),
		slog.Any("sinks", writer.Sinks()),
	)

	tradeStats := state.NewPipeline(market.TradeKind.Name)
	quoteStats := state.NewPipeline(market.QuoteKind.Name)

	info := server.Info{
		Symbols: len(syms),
		Window:  cfg.Window.String(),
		Zone:    loc.String(),
		Sinks:   writer.Sinks(),
	}

	var srv *server.HTTPServer
	onFlush := func(r window.Report) {
		if srv != nil {
			srv.BroadcastFlush(r)
		}
	}

	opts := func(stats *state.Pipeline) window.Options {
		return window.Options{
			Interval:        cfg.Window,
			Location:        loc,
			Stamp:           cfg.Stamp(),
			ShutdownTimeout: cfg.ShutdownFlushTimeout,
			OnFlush:         onFlush,
			Stats:           stats,
		}
	}
	trades := window.NewTradePipeline(writer, logger, opts(tradeStats))
	quotes := window.NewQuotePipeline(writer, logger, opts(quoteStats))

	policy := stream.RetryPolicy{
		Initial:     cfg.Retry.Initial,
		Max:         cfg.Retry.Max,
		Multiplier:  cfg.Retry.Multiplier,
		MaxAttempts: cfg.Retry.MaxAttempts,
	}
	dialer := stream.NewWSDialer(cfg.Feed.PingInterval, cfg.Feed.PingTimeout)

	tradeURL := symbols.StreamURL(cfg.Feed.BaseURL, syms, trades.Kind().Stream)
	quoteURL := symbols.StreamURL(cfg.Feed.BaseURL, syms, quotes.Kind().Stream)
	info.StreamURLs = []string{tradeURL, quoteURL}

	subs := []*stream.Subscriber{
		stream.NewSubscriber(trades.Kind().Name, tradeURL, dialer, trades.Handle, policy, tradeStats, logger),
		stream.NewSubscriber(quotes.Kind().Name, quoteURL, dialer, quotes.Handle, policy, quoteStats, logger),
	}

	// Status server
	var httpSrv *http.Server
	httpDone := make(chan struct{})
	if cfg.StatusPort > 0 {
		srv = server.NewHTTPServer(info, []*state.Pipeline{tradeStats, quoteStats}, logger)
		httpSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.StatusPort),
			Handler:           srv.Router(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			defer close(httpDone)
			logger.Info("status server listening", slog.Int("port", cfg.StatusPort))
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server failed", slog.String("err", err.Error()))
			}
		}()
	} else {
		close(httpDone)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); trades.Run(runCtx) }()
	go func() { defer wg.Done(); quotes.Run(runCtx) }()

	// One stream giving up leaves the other pipeline running; the process
	// stops once every stream has given up.
	var streamErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		streamErr = stream.RunAll(runCtx, subs...)
		cancel()
	}()

	<-runCtx.Done()
	logger.Info("shutting down...")
	wg.Wait()

	if httpSrv != nil {
		shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = httpSrv.Shutdown(shCtx)
		shCancel()
		srv.Close()
	}
	<-httpDone
	closeSinks()

	if streamErr != nil {
		logger.Error("streams stopped", slog.String("err", streamErr.Error()))
		os.Exit(1)
	}
	logger.Info("bye")
}

// openSinks builds the QuestDB ILP sink plus the optional Postgres and Redis
// sinks. Optional sinks that fail to connect are skipped with a warning.
func openSinks(ctx context.Context, cfg config.Config, logger *slog.Logger) ([]sink.Sink, []io.Closer) {
	sinks := []sink.Sink{sink.NewILP(cfg.ILPConf())}
	var closers []io.Closer

	if cfg.Sink.PostgresDSN != "" {
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pg, err := sink.NewPostgres(pctx, cfg.Sink.PostgresDSN, cfg.Sink.PostgresTSColumn)
		cancel()
		if err != nil {
			logger.Warn("postgres sink disabled", slog.String("err", err.Error()))
		} else {
			sinks = append(sinks, pg)
			closers = append(closers, pg)
		}
	}

	if cfg.Sink.RedisAddr != "" {
		rctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		rm, err := sink.NewRedisMirror(rctx, cfg.Sink.RedisAddr, cfg.Sink.RedisPassword, cfg.Sink.RedisDB, cfg.Sink.RedisTTL)
		cancel()
		if err != nil {
			logger.Warn("redis mirror disabled", slog.String("err", err.Error()))
		} else {
			sinks = append(sinks, rm)
			closers = append(closers, rm)
		}
	}
	return sinks, closers
}
