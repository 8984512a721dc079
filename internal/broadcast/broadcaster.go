package broadcast

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"btc-stream/internal/domain"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrSubscriberSlow is returned by Send when the outbound queue is full.
	ErrSubscriberSlow = errors.New("subscriber send buffer full")
	// ErrSubscriberClosed is returned by Send after the subscriber was closed.
	ErrSubscriberClosed = errors.New("subscriber closed")
)

// Subscriber is one push connection. Send must not block.
type Subscriber interface {
	ID() string
	Send(msg []byte) error
	Close()
}

// Broadcaster owns the set of live subscribers and fans batches out to them.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[Subscriber]struct{}),
	}
}

func (b *Broadcaster) Register(sub Subscriber) {
	b.mu.Lock()
	b.subscribers[sub] = struct{}{}
	count := len(b.subscribers)
	b.mu.Unlock()

	log.WithFields(log.Fields{"subscriber": sub.ID(), "subscribers": count}).Info("Subscriber connected")
}

// Unregister removes and closes sub. Calling it for an absent subscriber is
// a no-op, so the subscriber is closed at most once through this path.
func (b *Broadcaster) Unregister(sub Subscriber) {
	b.mu.Lock()
	_, ok := b.subscribers[sub]
	delete(b.subscribers, sub)
	count := len(b.subscribers)
	b.mu.Unlock()

	if !ok {
		return
	}
	sub.Close()
	log.WithFields(log.Fields{"subscriber": sub.ID(), "subscribers": count}).Info("Subscriber disconnected")
}

func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Broadcast delivers batch to every subscriber registered at call time.
// Subscribers whose Send fails are dropped; the rest still receive the batch.
func (b *Broadcaster) Broadcast(ctx context.Context, batch domain.Batch) error {
	if batch.Empty() {
		return nil
	}

	msg, err := json.Marshal(batch)
	if err != nil {
		return errors.Wrap(err, "encode batch")
	}

	targets := b.snapshot()
	var failed []Subscriber
	for _, sub := range targets {
		if err := sub.Send(msg); err != nil {
			log.WithFields(log.Fields{"subscriber": sub.ID(), "table": batch.Table}).
				WithError(err).Warn("Dropping subscriber after failed delivery")
			failed = append(failed, sub)
		}
	}
	for _, sub := range failed {
		b.Unregister(sub)
	}

	log.WithFields(log.Fields{
		"table":     batch.Table,
		"points":    len(batch.Points),
		"delivered": len(targets) - len(failed),
		"dropped":   len(failed),
	}).Debug("Broadcast batch")
	return nil
}

// CloseAll unregisters every subscriber. Used on shutdown.
func (b *Broadcaster) CloseAll() {
	for _, sub := range b.snapshot() {
		b.Unregister(sub)
	}
}

func (b *Broadcaster) snapshot() []Subscriber {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := make([]Subscriber, 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID() < subs[j].ID() })
	return subs
}
