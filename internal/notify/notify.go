// Package notify implements the best-effort change side-channel: record
// mutations are announced to an external broadcast service over a websocket,
// and delivery failures never surface to the mutation path.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dbio/pkg/dbio"
)

// queueDepth bounds the number of undelivered events held in memory. When the
// queue is full, new events are dropped and counted.
const queueDepth = 256

// dialTimeout caps how long a (re)connection attempt may take.
const dialTimeout = 10 * time.Second

// Event is one change announcement.
type Event struct {
	Tag        string
	Collection string
	ID         string
}

// wireForm renders the event as the broadcast service expects it:
// "<key>,<tag>,<collection>,<id>".
func (e Event) wireForm(key string) string {
	return fmt.Sprintf("%s,%s,%s,%s", key, e.Tag, e.Collection, e.ID)
}

// Broadcaster delivers change events to a websocket broadcast service. It
// satisfies the backend's Notifier interface: Notify enqueues and returns
// immediately, a background goroutine owns the connection, and anything that
// cannot be delivered is dropped with a log line.
type Broadcaster struct {
	cfg    dbio.NotifierConfig
	log    *slog.Logger
	events chan Event

	mu      sync.Mutex
	conn    *websocket.Conn
	dropped int64
	closed  bool
	done    chan struct{}
}

// NewBroadcaster starts a broadcaster for the given side-channel
// configuration. A nil logger defaults to slog.Default.
func NewBroadcaster(cfg dbio.NotifierConfig, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	b := &Broadcaster{
		cfg:    cfg,
		log:    log,
		events: make(chan Event, queueDepth),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Notify enqueues a change event. It never blocks; when the queue is full or
// the broadcaster is closed the event is dropped.
func (b *Broadcaster) Notify(eventTag, collection, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.events <- Event{Tag: eventTag, Collection: collection, ID: id}:
	default:
		b.dropped++
		b.log.Warn("notification queue full, event dropped",
			"tag", eventTag, "collection", collection, "id", id, "dropped_total", b.dropped)
	}
}

// Dropped returns how many events could not be queued or delivered.
func (b *Broadcaster) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Close stops the delivery goroutine and closes the connection. Queued but
// undelivered events are discarded.
func (b *Broadcaster) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()
	close(b.events)
	<-b.done
	return nil
}

func (b *Broadcaster) run() {
	defer close(b.done)
	for ev := range b.events {
		if b.cfg.ServiceEndpoint == "" {
			continue
		}
		if err := b.deliver(ev); err != nil {
			b.mu.Lock()
			b.dropped++
			n := b.dropped
			b.mu.Unlock()
			b.log.Warn("notification delivery failed, event dropped",
				"tag", ev.Tag, "collection", ev.Collection, "id", ev.ID,
				"endpoint", b.cfg.ServiceEndpoint, "dropped_total", n, "err", err)
		}
	}
	b.disconnect()
}

// deliver writes one event, reconnecting once if the write fails on an
// existing connection.
func (b *Broadcaster) deliver(ev Event) error {
	payload := []byte(ev.wireForm(b.cfg.BroadcastKey))
	conn, fresh, err := b.connect()
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err == nil {
		return nil
	} else if fresh {
		b.disconnect()
		return err
	}
	// stale connection; retry on a new one
	b.disconnect()
	conn, _, err = b.connect()
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		b.disconnect()
		return err
	}
	return nil
}

func (b *Broadcaster) connect() (conn *websocket.Conn, fresh bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		return b.conn, false, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	conn, _, err = websocket.DefaultDialer.DialContext(ctx, b.cfg.ServiceEndpoint, nil)
	if err != nil {
		return nil, false, err
	}
	b.conn = conn
	return conn, true, nil
}

func (b *Broadcaster) disconnect() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		_ = b.conn.Close()
		b.conn = nil
	}
}
