package collector

import (
	"context"
	"time"

	"btc-stream/internal/domain"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultSymbol     = "BTCUSDT"
	defaultInterval   = time.Minute
	defaultDepthLimit = 50
)

type QuoteSource interface {
	Quote(ctx context.Context, symbol string, depthLimit int) (Quote, error)
}

// PointWriter is the producer side of the store adapter.
type PointWriter interface {
	EnsureTable(ctx context.Context, table domain.Table) error
	AppendPoint(ctx context.Context, table domain.Table, row domain.PriceRow) (int64, error)
}

type SessionResetter interface {
	Reset()
}

type Options struct {
	Symbol     string
	Prefix     string
	Interval   time.Duration
	DepthLimit int
	Location   *time.Location
	Now        func() time.Time
}

// Collector samples the exchange on a ticker and appends one row per sample
// to the day table for the sample's local date. Failures are logged and the
// next tick tries again.
type Collector struct {
	tracer  trace.Tracer
	source  QuoteSource
	store   PointWriter
	session SessionResetter

	symbol     string
	prefix     string
	interval   time.Duration
	depthLimit int
	location   *time.Location
	now        func() time.Time

	lastTable string
}

func NewCollector(tracer trace.Tracer, source QuoteSource, store PointWriter, session SessionResetter, opts Options) *Collector {
	c := &Collector{
		tracer:     tracer,
		source:     source,
		store:      store,
		session:    session,
		symbol:     opts.Symbol,
		prefix:     opts.Prefix,
		interval:   opts.Interval,
		depthLimit: opts.DepthLimit,
		location:   opts.Location,
		now:        opts.Now,
	}
	if c.symbol == "" {
		c.symbol = defaultSymbol
	}
	if c.prefix == "" {
		c.prefix = domain.DefaultTablePrefix
	}
	if c.interval <= 0 {
		c.interval = defaultInterval
	}
	if c.depthLimit <= 0 {
		c.depthLimit = defaultDepthLimit
	}
	if c.location == nil {
		c.location = time.Local
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

func (c *Collector) Start(ctx context.Context) {
	log.Printf("collector started: %s every %v", c.symbol, c.interval)
	c.sample(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("collector stopped")
			return
		case <-ticker.C:
			c.sample(ctx)
		}
	}
}

func (c *Collector) sample(ctx context.Context) {
	if _, err := c.CollectOnce(ctx); err != nil {
		if errors.Is(err, domain.ErrStoreUnavailable) && c.session != nil {
			c.session.Reset()
		}
		log.WithError(err).Warn("collector sample failed")
	}
}

// CollectOnce takes one sample and returns the sequence id it was stored
// under.
func (c *Collector) CollectOnce(ctx context.Context) (int64, error) {
	at := c.now().In(c.location)
	table, err := domain.TableForDate(c.prefix, at)
	if err != nil {
		return 0, err
	}

	ctx, span := c.tracer.Start(ctx, "collector.sample", trace.WithAttributes(
		attribute.String("table", table.Name()),
		attribute.String("symbol", c.symbol),
	))
	defer span.End()

	quote, err := c.source.Quote(ctx, c.symbol, c.depthLimit)
	if err != nil {
		span.RecordError(err)
		return 0, errors.Wrap(err, "fetch quote")
	}

	if table.Name() != c.lastTable {
		if err := c.store.EnsureTable(ctx, table); err != nil {
			span.RecordError(err)
			return 0, err
		}
		c.lastTable = table.Name()
	}

	seq, err := c.store.AppendPoint(ctx, table, domain.PriceRow{
		Timestamp:  at,
		Price:      quote.Price,
		BuyVolume:  quote.BuyVolume,
		SellVolume: quote.SellVolume,
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, domain.ErrTableNotFound) {
			c.lastTable = ""
		}
		return 0, err
	}
	log.WithFields(log.Fields{"table": table.Name(), "id": seq, "price": quote.Price.String()}).Debug("sample stored")
	return seq, nil
}
