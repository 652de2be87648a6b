package sink

import (
	"context"
	"fmt"

	qdb "github.com/questdb/go-questdb-client/v3"
)

// ILP writes rows to QuestDB over the InfluxDB line protocol. Every session
// is a fresh sender built from conf, e.g. "tcp::addr=localhost:9009;".
type ILP struct {
	conf string
}

func NewILP(conf string) *ILP { return &ILP{conf: conf} }

func (s *ILP) Name() string { return "questdb-ilp" }

func (s *ILP) Open(ctx context.Context) (Session, error) {
	sender, err := qdb.LineSenderFromConf(ctx, s.conf)
	if err != nil {
		return nil, err
	}
	return &ilpSession{sender: sender}, nil
}

type ilpSession struct {
	sender qdb.LineSender
}

// Append buffers one line. Column types are checked before anything is
// written, so a rejected row leaves no partial line behind.
func (s *ilpSession) Append(ctx context.Context, r Row) error {
	for _, c := range r.Columns {
		switch c.Value.(type) {
		case float64, int64:
		default:
			return fmt.Errorf("column %s: unsupported type %T", c.Name, c.Value)
		}
	}
	ls := s.sender.Table(r.Table).Symbol("symbol", r.Symbol)
	for _, c := range r.Columns {
		switch v := c.Value.(type) {
		case float64:
			ls = ls.Float64Column(c.Name, v)
		case int64:
			ls = ls.Int64Column(c.Name, v)
		}
	}
	return ls.At(ctx, r.At)
}

// Commit sends the buffered lines.
func (s *ilpSession) Commit(ctx context.Context) error {
	return s.sender.Flush(ctx)
}

func (s *ilpSession) Close(ctx context.Context) error {
	return s.sender.Close(ctx)
}
