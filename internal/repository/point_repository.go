package repository

import (
	"context"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"

	"btc-stream/internal/db"
	"btc-stream/internal/domain"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	sqlStateUndefinedTable  = "42P01"
	sqlStateInvalidName     = "42602"
	sqlStateNameTooLong     = "42622"
	sqlStateDuplicateTable  = "42P07"
	sqlStateUniqueViolation = "23505"
	sqlStateTooManyConns    = "53300"
)

// ConnSource hands out the current store handle. *db.Session implements it.
type ConnSource interface {
	Conn(ctx context.Context) (db.Conn, error)
}

// PointRepository is the store adapter for day-partitioned price tables.
type PointRepository struct {
	source ConnSource
	tracer trace.Tracer
}

func NewPointRepository(source ConnSource, tracer trace.Tracer) *PointRepository {
	return &PointRepository{source: source, tracer: tracer}
}

// EnsureTable creates the day table if absent. Losing a creation race to a
// concurrent caller counts as success.
func (r *PointRepository) EnsureTable(ctx context.Context, table domain.Table) error {
	ctx, span := r.tracer.Start(ctx, "point-repo.ensure-table", trace.WithAttributes(attribute.String("table", table.Name())))
	defer span.End()

	conn, err := r.source.Conn(ctx)
	if err != nil {
		return recordErr(span, err)
	}

	_, err = conn.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
		     day_partition TEXT NOT NULL,
		     sequential_id INTEGER NOT NULL,
		     id UUID NOT NULL,
		     dia_tempo TIMESTAMPTZ NOT NULL,
		     valor NUMERIC NOT NULL,
		     volume_buy NUMERIC,
		     volume_sell NUMERIC,
		     PRIMARY KEY (day_partition, sequential_id)
		 )`,
		quoteTable(table),
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == sqlStateDuplicateTable || pgErr.Code == sqlStateUniqueViolation) {
			return nil
		}
		return recordErr(span, classify(err, "ensure table "+table.Name()))
	}
	return nil
}

// QueryNewerThan returns rows with sequential_id > sinceID in ascending order.
func (r *PointRepository) QueryNewerThan(ctx context.Context, table domain.Table, sinceID int64) ([]domain.DataPoint, error) {
	ctx, span := r.tracer.Start(ctx, "point-repo.query-newer-than", trace.WithAttributes(
		attribute.String("table", table.Name()),
		attribute.Int64("since_id", sinceID),
	))
	defer span.End()

	points, err := r.queryPoints(ctx, table,
		fmt.Sprintf(
			`SELECT sequential_id, valor
			 FROM %s
			 WHERE day_partition = $1 AND sequential_id > $2
			 ORDER BY sequential_id ASC`,
			quoteTable(table),
		),
		table.Partition(), sinceID,
	)
	if err != nil {
		return nil, recordErr(span, err)
	}
	span.SetAttributes(attribute.Int("rows", len(points)))
	return points, nil
}

// QueryAll returns every row of the table's partition in ascending order.
func (r *PointRepository) QueryAll(ctx context.Context, table domain.Table) ([]domain.DataPoint, error) {
	ctx, span := r.tracer.Start(ctx, "point-repo.query-all", trace.WithAttributes(attribute.String("table", table.Name())))
	defer span.End()

	points, err := r.queryPoints(ctx, table,
		fmt.Sprintf(
			`SELECT sequential_id, valor
			 FROM %s
			 WHERE day_partition = $1
			 ORDER BY sequential_id ASC`,
			quoteTable(table),
		),
		table.Partition(),
	)
	if err != nil {
		return nil, recordErr(span, err)
	}
	span.SetAttributes(attribute.Int("rows", len(points)))
	return points, nil
}

func (r *PointRepository) queryPoints(ctx context.Context, table domain.Table, sql string, args ...any) ([]domain.DataPoint, error) {
	conn, err := r.source.Conn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, classify(err, "query "+table.Name())
	}
	defer rows.Close()

	points := make([]domain.DataPoint, 0)
	for rows.Next() {
		var p domain.DataPoint
		if err := rows.Scan(&p.SequenceID, &p.Value); err != nil {
			return nil, classify(err, "scan "+table.Name())
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "read "+table.Name())
	}
	return points, nil
}

// ListTables returns the names of all well-formed tables under prefix, most
// recent day first.
func (r *PointRepository) ListTables(ctx context.Context, prefix string) ([]string, error) {
	ctx, span := r.tracer.Start(ctx, "point-repo.list-tables", trace.WithAttributes(attribute.String("prefix", prefix)))
	defer span.End()

	conn, err := r.source.Conn(ctx)
	if err != nil {
		return nil, recordErr(span, err)
	}

	rows, err := conn.Query(ctx,
		`SELECT table_name
		 FROM information_schema.tables
		 WHERE table_schema = current_schema() AND table_name LIKE $1`,
		prefix+`\_%`,
	)
	if err != nil {
		return nil, recordErr(span, classify(err, "list tables"))
	}
	defer rows.Close()

	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, recordErr(span, classify(err, "scan table name"))
		}
		if _, err := domain.ParseTable(prefix, name); err != nil {
			continue
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, recordErr(span, classify(err, "list tables"))
	}

	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// AppendPoint writes one producer row, assigning the next sequential id for
// the table's partition. Callers must run a single writer per table.
func (r *PointRepository) AppendPoint(ctx context.Context, table domain.Table, row domain.PriceRow) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "point-repo.append-point", trace.WithAttributes(attribute.String("table", table.Name())))
	defer span.End()

	conn, err := r.source.Conn(ctx)
	if err != nil {
		return 0, recordErr(span, err)
	}

	ident := quoteTable(table)
	var seq int64
	err = conn.QueryRow(ctx,
		fmt.Sprintf(
			`INSERT INTO %s (day_partition, sequential_id, id, dia_tempo, valor, volume_buy, volume_sell)
			 SELECT $1::text, COALESCE(MAX(sequential_id), 0) + 1, $2::uuid, $3::timestamptz, $4::numeric, $5::numeric, $6::numeric
			 FROM %s
			 WHERE day_partition = $1
			 RETURNING sequential_id`,
			ident, ident,
		),
		table.Partition(), uuid.New(), row.Timestamp, row.Price, nullableDecimal(row.BuyVolume), nullableDecimal(row.SellVolume),
	).Scan(&seq)
	if err != nil {
		return 0, recordErr(span, classify(err, "append to "+table.Name()))
	}
	return seq, nil
}

// Ping verifies the store answers on the current handle.
func (r *PointRepository) Ping(ctx context.Context) error {
	conn, err := r.source.Conn(ctx)
	if err != nil {
		return err
	}
	if err := conn.Ping(ctx); err != nil {
		return classify(err, "ping")
	}
	return nil
}

func quoteTable(table domain.Table) string {
	return pgx.Identifier{table.Name()}.Sanitize()
}

func nullableDecimal(d decimal.Decimal) any {
	if d.IsZero() {
		return nil
	}
	return d
}

// classify maps driver errors onto the store error taxonomy.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrStoreUnavailable) || errors.Is(err, domain.ErrTableNotFound) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == sqlStateUndefinedTable, pgErr.Code == sqlStateInvalidName, pgErr.Code == sqlStateNameTooLong:
			return errors.Wrapf(domain.ErrTableNotFound, "%s: %s", op, pgErr.Message)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"), pgErr.Code == sqlStateTooManyConns:
			return errors.Wrapf(domain.ErrStoreUnavailable, "%s: %s", op, pgErr.Message)
		default:
			return errors.Wrap(err, op)
		}
	}

	if isConnectionFailure(err) {
		return errors.Wrapf(domain.ErrStoreUnavailable, "%s: %v", op, err)
	}
	return errors.Wrap(err, op)
}

func isConnectionFailure(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	return strings.Contains(err.Error(), "closed pool") || strings.Contains(err.Error(), "conn closed")
}

func recordErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
