package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Postgres writes each window inside one transaction. It also works against
// QuestDB's PG-wire endpoint when tsColumn is "timestamp", the designated
// timestamp QuestDB creates for ILP tables.
type Postgres struct {
	db       *sql.DB
	tsColumn string
}

// NewPostgres connects to dsn. An empty tsColumn means "ts".
func NewPostgres(ctx context.Context, dsn, tsColumn string) (*Postgres, error) {
	if tsColumn == "" {
		tsColumn = "ts"
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{db: db, tsColumn: tsColumn}, nil
}

func (p *Postgres) Name() string { return "postgres" }

func (p *Postgres) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *Postgres) Open(ctx context.Context) (Session, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return nil, err
	}
	return &pgSession{tx: tx, tsColumn: p.tsColumn, stmts: make(map[string]*sql.Stmt)}, nil
}

type pgSession struct {
	tx       *sql.Tx
	tsColumn string
	stmts    map[string]*sql.Stmt // keyed by insert statement text
	done     bool
}

func (s *pgSession) Append(ctx context.Context, r Row) error {
	q := insertSQL(r, s.tsColumn)
	stmt, ok := s.stmts[q]
	if !ok {
		var err error
		stmt, err = s.tx.PrepareContext(ctx, q)
		if err != nil {
			return err
		}
		s.stmts[q] = stmt
	}
	args := make([]any, 0, len(r.Columns)+2)
	args = append(args, r.Symbol)
	for _, c := range r.Columns {
		args = append(args, c.Value)
	}
	args = append(args, r.At)
	_, err := stmt.ExecContext(ctx, args...)
	return err
}

func (s *pgSession) Commit(ctx context.Context) error {
	s.done = true
	return s.tx.Commit()
}

func (s *pgSession) Close(ctx context.Context) error {
	for _, st := range s.stmts {
		_ = st.Close()
	}
	if s.done {
		return nil
	}
	s.done = true
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// insertSQL builds the INSERT for a row's table and column layout. Table and
// column names come from this module, never from the feed.
func insertSQL(r Row, tsColumn string) string {
	cols := make([]string, 0, len(r.Columns)+2)
	marks := make([]string, 0, len(r.Columns)+2)
	cols = append(cols, "symbol")
	for _, c := range r.Columns {
		cols = append(cols, c.Name)
	}
	cols = append(cols, tsColumn)
	for i := range cols {
		marks = append(marks, fmt.Sprintf("$%d", i+1))
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", r.Table, strings.Join(cols, ", "), strings.Join(marks, ", "))
}
