package service

import (
	"context"
	"math"
	"strconv"
	"time"

	"btc-stream/internal/domain"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type TableStore interface {
	ListTables(ctx context.Context, prefix string) ([]string, error)
	QueryAll(ctx context.Context, table domain.Table) ([]domain.DataPoint, error)
}

// TableCache stores full scans of closed tables. Implementations may be
// unavailable; every error is treated as a miss.
type TableCache interface {
	Get(ctx context.Context, table string) ([]domain.DataPoint, bool, error)
	Set(ctx context.Context, table string, points []domain.DataPoint) error
}

type QueryServiceConfig struct {
	Prefix   string
	Location *time.Location
	Now      func() time.Time
}

// QueryService answers pull-style reads straight from the store.
type QueryService struct {
	tracer trace.Tracer
	store  TableStore
	cache  TableCache

	prefix   string
	location *time.Location
	now      func() time.Time
}

func NewQueryService(tracer trace.Tracer, store TableStore, cache TableCache, cfg QueryServiceConfig) *QueryService {
	if cfg.Prefix == "" {
		cfg.Prefix = domain.DefaultTablePrefix
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &QueryService{
		tracer:   tracer,
		store:    store,
		cache:    cache,
		prefix:   cfg.Prefix,
		location: cfg.Location,
		now:      cfg.Now,
	}
}

func (s *QueryService) Prefix() string { return s.prefix }

// ListTables returns known day tables, most recent first.
func (s *QueryService) ListTables(ctx context.Context) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "query-service.list-tables")
	defer span.End()

	tables, err := s.store.ListTables(ctx, s.prefix)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("tables", len(tables)))
	return tables, nil
}

// FetchTable returns every point of the named table. The name is validated
// before the store is touched.
func (s *QueryService) FetchTable(ctx context.Context, name string) ([]domain.DataPoint, error) {
	ctx, span := s.tracer.Start(ctx, "query-service.fetch-table", trace.WithAttributes(attribute.String("table", name)))
	defer span.End()

	table, err := domain.ParseTable(s.prefix, name)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	cacheable := s.cache != nil && s.isClosed(table)
	if cacheable {
		if points, ok, err := s.cache.Get(ctx, table.Name()); err != nil {
			log.WithField("table", table.Name()).WithError(err).Warn("table cache read failed")
		} else if ok {
			span.SetAttributes(attribute.Bool("cache_hit", true), attribute.Int("rows", len(points)))
			return points, nil
		}
	}

	points, err := s.store.QueryAll(ctx, table)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("cache_hit", false), attribute.Int("rows", len(points)))

	if cacheable {
		if err := s.cache.Set(ctx, table.Name(), points); err != nil {
			log.WithField("table", table.Name()).WithError(err).Warn("table cache write failed")
		}
	}
	return points, nil
}

// TableSummary computes descriptive statistics for the named table.
func (s *QueryService) TableSummary(ctx context.Context, name string) (domain.TableSummary, error) {
	points, err := s.FetchTable(ctx, name)
	if err != nil {
		return domain.TableSummary{}, err
	}
	if len(points) == 0 {
		return domain.TableSummary{}, errors.Wrapf(domain.ErrTableNotFound, "table %s has no points", name)
	}
	return Summarize(name, points), nil
}

// isClosed reports whether table's day is strictly before today in the
// configured location. Today's table still receives writes.
func (s *QueryService) isClosed(table domain.Table) bool {
	today, err := domain.TableForDate(s.prefix, s.now().In(s.location))
	if err != nil {
		return false
	}
	return table.Date().Before(today.Date())
}

// Summarize builds a TableSummary over points, which must be non-empty and
// in ascending id order.
func Summarize(table string, points []domain.DataPoint) domain.TableSummary {
	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value.InexactFloat64()
	}

	sum := domain.TableSummary{
		Table: table,
		Count: len(values),
		First: values[0],
		Last:  values[len(values)-1],
		Min:   values[0],
		Max:   values[0],
	}
	for _, v := range values[1:] {
		sum.Min = math.Min(sum.Min, v)
		sum.Max = math.Max(sum.Max, v)
	}
	if sum.First != 0 {
		sum.ChangePct = (sum.Last - sum.First) / sum.First * 100
	}

	for _, window := range domain.MovingAverageWindows {
		if avg, ok := TrailingMean(values, window); ok {
			if sum.SMA == nil {
				sum.SMA = make(map[string]float64)
			}
			sum.SMA[strconv.Itoa(window)] = avg
		}
	}
	if vol, ok := TrailingStdDev(values, domain.VolatilityWindow); ok {
		sum.Volatility = &vol
	}
	return sum
}

// TrailingMean is the mean of the last window values.
func TrailingMean(values []float64, window int) (float64, bool) {
	if window <= 0 || len(values) < window {
		return 0, false
	}
	var total float64
	for _, v := range values[len(values)-window:] {
		total += v
	}
	return total / float64(window), true
}

// TrailingStdDev is the sample standard deviation of the last window values.
func TrailingStdDev(values []float64, window int) (float64, bool) {
	if window < 2 || len(values) < window {
		return 0, false
	}
	mean, _ := TrailingMean(values, window)
	var sq float64
	for _, v := range values[len(values)-window:] {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(window-1)), true
}

// MovingAverageSeries returns the rolling mean for every index; entries before
// the first full window are NaN.
func MovingAverageSeries(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	var total float64
	for i, v := range values {
		total += v
		if i >= window {
			total -= values[i-window]
		}
		if window <= 0 || i+1 < window {
			out[i] = math.NaN()
			continue
		}
		out[i] = total / float64(window)
	}
	return out
}
