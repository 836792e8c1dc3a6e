package database

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/timbouc/cart/pkg/database"

// TraceOptions configures a TracedDB.
type TraceOptions struct {
	// SlowThreshold logs statements taking at least this long. Zero disables it.
	SlowThreshold time.Duration
	Logger        *slog.Logger
}

// TracedDB wraps a DBTX with a client span per statement and slow statement
// logging. Query spans end when the rows are closed, QueryRow spans on Scan.
type TracedDB struct {
	db     DBTX
	opts   TraceOptions
	tracer trace.Tracer
}

var _ DBTX = (*TracedDB)(nil)

// NewTracedDB wraps db.
func NewTracedDB(db DBTX, opts TraceOptions) *TracedDB {
	return &TracedDB{db: db, opts: opts, tracer: otel.Tracer(tracerName)}
}

func (t *TracedDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	ctx, done := t.start(ctx, sql)
	tag, err := t.db.Exec(ctx, sql, args...)
	done(err, tag.RowsAffected())
	return tag, err
}

func (t *TracedDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	ctx, done := t.start(ctx, sql)
	rows, err := t.db.Query(ctx, sql, args...)
	if err != nil {
		done(err, -1)
		return nil, err
	}
	return &tracedRows{Rows: rows, done: done}, nil
}

func (t *TracedDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	ctx, done := t.start(ctx, sql)
	return &tracedRow{row: t.db.QueryRow(ctx, sql, args...), done: done}
}

func (t *TracedDB) start(ctx context.Context, sql string) (context.Context, func(error, int64)) {
	op := operation(sql)
	began := time.Now()
	ctx, span := t.tracer.Start(ctx, "db."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", op),
			attribute.String("db.statement", sql),
		),
	)

	return ctx, func(err error, rows int64) {
		if rows >= 0 {
			span.SetAttributes(attribute.Int64("db.rows_affected", rows))
		}
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		elapsed := time.Since(began)
		if t.opts.SlowThreshold <= 0 || t.opts.Logger == nil || elapsed < t.opts.SlowThreshold {
			return
		}
		attrs := []slog.Attr{
			slog.String("operation", op),
			slog.String("statement", sql),
			slog.Duration("duration", elapsed),
		}
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		t.opts.Logger.LogAttrs(ctx, slog.LevelWarn, "slow query", attrs...)
	}
}

// operation is the leading SQL keyword, upper-cased.
func operation(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "UNKNOWN"
	}
	return strings.ToUpper(fields[0])
}

type tracedRow struct {
	row  pgx.Row
	done func(error, int64)
}

func (r *tracedRow) Scan(dest ...any) error {
	err := r.row.Scan(dest...)
	r.done(err, -1)
	return err
}

type tracedRows struct {
	pgx.Rows
	done   func(error, int64)
	closed bool
}

func (r *tracedRows) Close() {
	r.Rows.Close()
	if !r.closed {
		r.closed = true
		r.done(r.Rows.Err(), r.Rows.CommandTag().RowsAffected())
	}
}
