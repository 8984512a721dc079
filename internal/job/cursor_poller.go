package job

import (
	"context"
	"time"

	"btc-stream/internal/domain"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const defaultPollInterval = time.Second

type PointStore interface {
	EnsureTable(ctx context.Context, table domain.Table) error
	QueryNewerThan(ctx context.Context, table domain.Table, sinceID int64) ([]domain.DataPoint, error)
}

type BatchBroadcaster interface {
	Broadcast(ctx context.Context, batch domain.Batch) error
}

// SessionResetter drops the current store handle so the next call re-dials.
type SessionResetter interface {
	Reset()
}

// CheckpointStore persists watermarks across restarts.
type CheckpointStore interface {
	Load(ctx context.Context, table string) (int64, bool, error)
	Save(ctx context.Context, table string, id int64) error
}

// HealthListener is told once per store outage and once per recovery. It is
// called on the polling goroutine and must not block.
type HealthListener interface {
	OnStoreDown(err error)
	OnStoreRecovered()
}

type CursorPollerOptions struct {
	Prefix   string
	Interval time.Duration
	Location *time.Location
	Now      func() time.Time

	Checkpoints CheckpointStore
	Health      HealthListener
}

// CursorPoller tails the current day table and hands new rows to the
// broadcaster. All state is owned by the goroutine running Start.
type CursorPoller struct {
	tracer      trace.Tracer
	store       PointStore
	broadcaster BatchBroadcaster
	session     SessionResetter

	prefix      string
	interval    time.Duration
	location    *time.Location
	now         func() time.Time
	checkpoints CheckpointStore
	health      HealthListener

	current    string
	watermarks map[string]int64
	storeDown  bool
}

func NewCursorPoller(tracer trace.Tracer, store PointStore, broadcaster BatchBroadcaster, session SessionResetter, opts CursorPollerOptions) *CursorPoller {
	p := &CursorPoller{
		tracer:      tracer,
		store:       store,
		broadcaster: broadcaster,
		session:     session,
		prefix:      opts.Prefix,
		interval:    opts.Interval,
		location:    opts.Location,
		now:         opts.Now,
		checkpoints: opts.Checkpoints,
		health:      opts.Health,
		watermarks:  make(map[string]int64),
	}
	if p.prefix == "" {
		p.prefix = domain.DefaultTablePrefix
	}
	if p.interval <= 0 {
		p.interval = defaultPollInterval
	}
	if p.location == nil {
		p.location = time.Local
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// Start polls until ctx is cancelled.
func (p *CursorPoller) Start(ctx context.Context) {
	if p.store == nil || p.broadcaster == nil {
		log.Println("Cursor poller disabled: no store or broadcaster")
		<-ctx.Done()
		return
	}

	log.WithFields(log.Fields{"prefix": p.prefix, "interval": p.interval}).Info("Cursor poller starting")
	_ = p.pollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Cursor poller stopped")
			return
		case <-ticker.C:
			_ = p.pollOnce(ctx)
		}
	}
}

// Watermark reports the highest id delivered for table. Not safe to call
// while Start is running.
func (p *CursorPoller) Watermark(table string) int64 {
	return p.watermarks[table]
}

func (p *CursorPoller) pollOnce(ctx context.Context) error {
	table, err := domain.TableForDate(p.prefix, p.now().In(p.location))
	if err != nil {
		log.WithError(err).Error("cursor poller: cannot derive table name")
		return err
	}

	ctx, span := p.tracer.Start(ctx, "cursor-poller.cycle", trace.WithAttributes(attribute.String("table", table.Name())))
	defer span.End()

	p.rollover(ctx, table)
	since := p.watermarks[table.Name()]
	span.SetAttributes(attribute.Int64("since_id", since))

	if err := p.store.EnsureTable(ctx, table); err != nil {
		return p.handleErr(span, table, err)
	}

	points, err := p.store.QueryNewerThan(ctx, table, since)
	if err != nil {
		return p.handleErr(span, table, err)
	}
	p.markUp()

	batch := domain.Batch{Table: table.Name(), Points: points}
	if batch.Empty() {
		return nil
	}

	next := batch.MaxSequenceID(since)
	p.watermarks[table.Name()] = next
	span.SetAttributes(attribute.Int("rows", len(points)), attribute.Int64("watermark", next))
	p.saveCheckpoint(ctx, table.Name(), next)

	if err := p.broadcaster.Broadcast(ctx, batch); err != nil {
		log.WithField("table", table.Name()).WithError(err).Warn("cursor poller: broadcast failed")
		span.RecordError(err)
	}
	return nil
}

// rollover switches to table when the local day changes. Watermarks for the
// previous day are kept so a clock stepping back across midnight resumes
// where it left off. Anything older is pruned.
func (p *CursorPoller) rollover(ctx context.Context, table domain.Table) {
	name := table.Name()
	if p.current == name {
		return
	}
	if p.current != "" {
		log.WithFields(log.Fields{"from": p.current, "to": name}).Info("Cursor poller rolled over to new day table")
	}
	p.current = name
	p.pruneWatermarks(table.Date().AddDate(0, 0, -1))
	if _, ok := p.watermarks[name]; !ok {
		p.watermarks[name] = p.loadCheckpoint(ctx, name)
	}
}

func (p *CursorPoller) pruneWatermarks(cutoff time.Time) {
	for name := range p.watermarks {
		t, err := domain.ParseTable(p.prefix, name)
		if err != nil || t.Date().Before(cutoff) {
			delete(p.watermarks, name)
		}
	}
}

func (p *CursorPoller) loadCheckpoint(ctx context.Context, table string) int64 {
	if p.checkpoints == nil {
		return 0
	}
	id, ok, err := p.checkpoints.Load(ctx, table)
	if err != nil {
		log.WithField("table", table).WithError(err).Warn("cursor poller: checkpoint load failed, starting from 0")
		return 0
	}
	if !ok || id < 0 {
		return 0
	}
	log.WithFields(log.Fields{"table": table, "watermark": id}).Info("Cursor poller resuming from checkpoint")
	return id
}

func (p *CursorPoller) saveCheckpoint(ctx context.Context, table string, id int64) {
	if p.checkpoints == nil {
		return
	}
	if err := p.checkpoints.Save(ctx, table, id); err != nil {
		log.WithField("table", table).WithError(err).Warn("cursor poller: checkpoint save failed")
	}
}

func (p *CursorPoller) handleErr(span trace.Span, table domain.Table, err error) error {
	switch {
	case errors.Is(err, domain.ErrTableNotFound):
		p.markUp()
		return nil
	case errors.Is(err, domain.ErrStoreUnavailable):
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithField("table", table.Name()).WithError(err).Warn("cursor poller: store unavailable, will reconnect")
		if p.session != nil {
			p.session.Reset()
		}
		p.markDown(err)
		return err
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithField("table", table.Name()).WithError(err).Error("cursor poller: query failed")
		return err
	}
}

func (p *CursorPoller) markDown(err error) {
	if p.storeDown {
		return
	}
	p.storeDown = true
	if p.health != nil {
		p.health.OnStoreDown(err)
	}
}

func (p *CursorPoller) markUp() {
	if !p.storeDown {
		return
	}
	p.storeDown = false
	log.Println("Cursor poller: store recovered")
	if p.health != nil {
		p.health.OnStoreRecovered()
	}
}
