package bot

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	tele "gopkg.in/telebot.v3"
)

type messageSender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

const (
	alertQueueSize = 16
	botStopTimeout = 5 * time.Second
)

// AlertDispatcher pushes store outage and recovery notices to subscribed
// chats. It satisfies job.HealthListener: notices are queued and sent in
// order from a separate goroutine, so callers never wait on Telegram.
type AlertDispatcher struct {
	sender messageSender
	now    func() time.Time
	stop   func()

	mu          sync.RWMutex
	subscribers map[int64]struct{}
	downSince   time.Time

	queue    chan string
	pending  sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

func NewAlertDispatcher(sender messageSender) *AlertDispatcher {
	d := &AlertDispatcher{
		sender:      sender,
		now:         time.Now,
		subscribers: make(map[int64]struct{}),
		queue:       make(chan string, alertQueueSize),
		done:        make(chan struct{}),
	}
	go d.run()
	return d
}

// Stop halts the bot long poller and the alert goroutine. Queued notices
// that have not been sent yet are dropped.
func (d *AlertDispatcher) Stop() {
	if d == nil {
		return
	}
	d.stopOnce.Do(func() {
		close(d.done)
		if d.stop == nil {
			return
		}
		stopped := make(chan struct{})
		go func() {
			d.stop()
			close(stopped)
		}()
		select {
		case <-stopped:
			log.Println("Telegram bot stopped")
		case <-time.After(botStopTimeout):
			log.Warn("Telegram bot did not stop in time")
		}
	})
}

func (d *AlertDispatcher) Subscribe(chatID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.subscribers[chatID]; exists {
		return false
	}
	d.subscribers[chatID] = struct{}{}
	return true
}

func (d *AlertDispatcher) Unsubscribe(chatID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.subscribers[chatID]; !exists {
		return false
	}
	delete(d.subscribers, chatID)
	return true
}

func (d *AlertDispatcher) IsSubscribed(chatID int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, exists := d.subscribers[chatID]
	return exists
}

func (d *AlertDispatcher) SubscriberCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subscribers)
}

func (d *AlertDispatcher) OnStoreDown(err error) {
	if d == nil {
		return
	}
	at := d.now().UTC()
	d.mu.Lock()
	d.downSince = at
	d.mu.Unlock()

	d.enqueue(fmt.Sprintf("Store unavailable since %s: %v\nLive stream paused, retrying every tick.", at.Format(time.RFC822), err))
}

func (d *AlertDispatcher) OnStoreRecovered() {
	if d == nil {
		return
	}
	d.mu.Lock()
	since := d.downSince
	d.downSince = time.Time{}
	d.mu.Unlock()

	msg := "Store recovered, live stream resumed."
	if !since.IsZero() {
		msg = fmt.Sprintf("Store recovered after %s, live stream resumed.", d.now().Sub(since).Round(time.Second))
	}
	d.enqueue(msg)
}

func (d *AlertDispatcher) enqueue(msg string) {
	d.pending.Add(1)
	select {
	case d.queue <- msg:
	default:
		d.pending.Done()
		log.Warnf("alert queue full, dropping notice: %s", msg)
	}
}

func (d *AlertDispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case msg := <-d.queue:
			d.notify(msg)
			d.pending.Done()
		}
	}
}

func (d *AlertDispatcher) notify(msg string) {
	if d.sender == nil {
		return
	}
	chatIDs := d.snapshotSubscribers()
	var failures []string
	for _, chatID := range chatIDs {
		if _, err := d.sender.Send(&tele.Chat{ID: chatID}, msg); err != nil {
			failures = append(failures, fmt.Sprintf("chat %d: %v", chatID, err))
		}
	}
	if len(failures) > 0 {
		log.Warnf("failed sending %d alerts: %s", len(failures), strings.Join(failures, "; "))
	}
}

func (d *AlertDispatcher) snapshotSubscribers() []int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()

	chatIDs := make([]int64, 0, len(d.subscribers))
	for chatID := range d.subscribers {
		chatIDs = append(chatIDs, chatID)
	}
	sort.Slice(chatIDs, func(i, j int) bool { return chatIDs[i] < chatIDs[j] })
	return chatIDs
}

func parseAlertMode(args []string) (string, error) {
	if len(args) == 0 {
		return "status", nil
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "on":
		return "on", nil
	case "off":
		return "off", nil
	case "status":
		return "status", nil
	default:
		return "", fmt.Errorf("invalid mode")
	}
}
