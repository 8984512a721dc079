package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"btc-stream/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"
)

type fakeSource struct {
	quote Quote
	err   error
}

func (f *fakeSource) Quote(ctx context.Context, symbol string, depthLimit int) (Quote, error) {
	return f.quote, f.err
}

type fakeWriter struct {
	ensured   []string
	rows      map[string][]domain.PriceRow
	ensureErr error
	appendErr error
}

func (f *fakeWriter) EnsureTable(ctx context.Context, table domain.Table) error {
	f.ensured = append(f.ensured, table.Name())
	return f.ensureErr
}

func (f *fakeWriter) AppendPoint(ctx context.Context, table domain.Table, row domain.PriceRow) (int64, error) {
	if f.appendErr != nil {
		return 0, f.appendErr
	}
	if f.rows == nil {
		f.rows = make(map[string][]domain.PriceRow)
	}
	f.rows[table.Name()] = append(f.rows[table.Name()], row)
	return int64(len(f.rows[table.Name()])), nil
}

type countingSession struct{ resets int }

func (c *countingSession) Reset() { c.resets++ }

func newTestCollector(source QuoteSource, store PointWriter, session SessionResetter, now *time.Time) *Collector {
	return NewCollector(noop.NewTracerProvider().Tracer("test"), source, store, session, Options{
		Location: time.UTC,
		Now:      func() time.Time { return *now },
	})
}

func TestCollectOnceAppendsToDayTable(t *testing.T) {
	now := time.Date(2024, 1, 1, 23, 59, 0, 0, time.UTC)
	source := &fakeSource{quote: Quote{Price: decimal.NewFromInt(42000), BuyVolume: decimal.NewFromInt(1), SellVolume: decimal.NewFromInt(2)}}
	store := &fakeWriter{}
	c := newTestCollector(source, store, nil, &now)

	seq, err := c.CollectOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	seq, err = c.CollectOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), seq)

	now = now.Add(2 * time.Minute)
	seq, err = c.CollectOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	assert.Equal(t, []string{"btc_2024_01_01", "btc_2024_01_02"}, store.ensured)
	require.Len(t, store.rows["btc_2024_01_01"], 2)
	assert.True(t, store.rows["btc_2024_01_01"][0].Price.Equal(decimal.NewFromInt(42000)))
}

func TestCollectOnceQuoteFailureSkipsStore(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeWriter{}
	c := newTestCollector(&fakeSource{err: errors.New("timeout")}, store, nil, &now)

	_, err := c.CollectOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, store.ensured)
}

func TestSampleResetsSessionWhenStoreUnavailable(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeWriter{ensureErr: domain.ErrStoreUnavailable}
	session := &countingSession{}
	c := newTestCollector(&fakeSource{quote: Quote{Price: decimal.NewFromInt(1)}}, store, session, &now)

	c.sample(context.Background())
	assert.Equal(t, 1, session.resets)

	store.ensureErr = nil
	c.sample(context.Background())
	assert.Equal(t, 1, session.resets)
	assert.Len(t, store.ensured, 2, "table must be ensured again after a failed attempt")
}

func TestCollectOnceReensuresAfterTableDropped(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeWriter{}
	c := newTestCollector(&fakeSource{quote: Quote{Price: decimal.NewFromInt(1)}}, store, nil, &now)

	_, err := c.CollectOnce(context.Background())
	require.NoError(t, err)

	store.appendErr = domain.ErrTableNotFound
	_, err = c.CollectOnce(context.Background())
	require.ErrorIs(t, err, domain.ErrTableNotFound)

	store.appendErr = nil
	_, err = c.CollectOnce(context.Background())
	require.NoError(t, err)
	assert.Len(t, store.ensured, 2)
}
