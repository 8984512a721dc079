package db

import (
	"context"
	"sync"
	"sync/atomic"

	"btc-stream/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Conn is the subset of *pgxpool.Pool the store adapter relies on.
type Conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type DialFunc func(ctx context.Context) (Conn, error)

// PostgresDialer returns a DialFunc that opens and pings a pgx pool.
func PostgresDialer(dsn string) DialFunc {
	return func(ctx context.Context) (Conn, error) {
		if dsn == "" {
			return nil, errors.Wrap(domain.ErrStoreUnavailable, "DATABASE_URL not set")
		}
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, errors.Wrapf(domain.ErrStoreUnavailable, "connect to postgres: %v", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, errors.Wrapf(domain.ErrStoreUnavailable, "ping postgres: %v", err)
		}
		return pool, nil
	}
}

type connRef struct {
	conn Conn
}

// Session owns the store connection handle shared by the poller and the
// query path. A dropped handle is replaced by a fresh dial on next use.
type Session struct {
	dial DialFunc

	dialMu  sync.Mutex
	current atomic.Pointer[connRef]
}

func NewSession(dial DialFunc) *Session {
	return &Session{dial: dial}
}

// Connect dials eagerly. Failure is not fatal: callers re-dial through Conn.
func (s *Session) Connect(ctx context.Context) error {
	_, err := s.Conn(ctx)
	return err
}

// Conn returns the current handle, dialing one if none is held.
func (s *Session) Conn(ctx context.Context) (Conn, error) {
	if ref := s.current.Load(); ref != nil {
		return ref.conn, nil
	}

	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	if ref := s.current.Load(); ref != nil {
		return ref.conn, nil
	}
	if s.dial == nil {
		return nil, errors.Wrap(domain.ErrStoreUnavailable, "no dialer configured")
	}

	conn, err := s.dial(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrStoreUnavailable) {
			err = errors.Wrapf(domain.ErrStoreUnavailable, "dial: %v", err)
		}
		return nil, err
	}
	s.current.Store(&connRef{conn: conn})
	log.Println("Connected to Postgres")
	return conn, nil
}

// Reset drops the current handle and closes it in the background. The next
// call to Conn dials a replacement.
func (s *Session) Reset() {
	ref := s.current.Swap(nil)
	if ref == nil {
		return
	}
	log.Warn("Dropped Postgres session, will reconnect on next use")
	go ref.conn.Close()
}

// Connected reports whether a handle is currently held.
func (s *Session) Connected() bool {
	return s.current.Load() != nil
}

func (s *Session) Close() {
	ref := s.current.Swap(nil)
	if ref != nil {
		ref.conn.Close()
	}
}
