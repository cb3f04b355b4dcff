package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/xaenox/memo-assistant/internal/events"
	"github.com/xaenox/memo-assistant/internal/models"
	"github.com/xaenox/memo-assistant/internal/storage"
	"go.uber.org/zap"
)

const DefaultInterval = 5 * time.Second

// Deriver recomputes metrics straight from the store, so it also sees
// writes made by other instances sharing that store. It never writes.
type Deriver struct {
	collections *storage.Collections
	interval    time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu          sync.RWMutex
	current     models.Metrics
	subscribers map[int]chan models.Metrics
	nextID      int
}

func NewDeriver(collections *storage.Collections, interval time.Duration, logger *zap.Logger) *Deriver {
	if interval <= 0 {
		interval = DefaultInterval
	}
	now := time.Now
	return &Deriver{
		collections: collections,
		interval:    interval,
		logger:      logger,
		now:         now,
		current:     Compute(nil, nil, now()),
		subscribers: make(map[int]chan models.Metrics),
	}
}

// Refresh reads both collections, recomputes and notifies subscribers.
func (d *Deriver) Refresh(ctx context.Context) models.Metrics {
	convs, err := d.collections.Conversations(ctx)
	if err != nil {
		d.logger.Warn("Failed to read conversations for metrics",
			zap.Error(err),
			zap.String("namespace", d.collections.Namespace()))
	}
	knowledge, err := d.collections.Knowledge(ctx)
	if err != nil {
		d.logger.Warn("Failed to read knowledge base for metrics",
			zap.Error(err),
			zap.String("namespace", d.collections.Namespace()))
	}

	m := Compute(convs, knowledge, d.now())

	d.mu.Lock()
	d.current = m
	for _, ch := range d.subscribers {
		select {
		case ch <- m:
		default:
			// slow subscriber, it will catch the next one
		}
	}
	d.mu.Unlock()

	return m
}

func (d *Deriver) Snapshot() models.Metrics {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.current
}

// Subscribe streams every refreshed snapshot until cancel is called.
func (d *Deriver) Subscribe() (<-chan models.Metrics, func()) {
	ch := make(chan models.Metrics, 1)

	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.subscribers[id] = ch
	d.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subscribers, id)
			d.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Run refreshes once immediately, then on every tick and on every change
// event until ctx is done. changes may be nil.
func (d *Deriver) Run(ctx context.Context, changes <-chan *message.Message) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.Refresh(ctx)
		case msg, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			msg.Ack()
			ev, err := events.Decode(msg)
			if err != nil {
				d.logger.Warn("Dropping malformed change event", zap.Error(err))
				continue
			}
			if ev.Namespace != d.collections.Namespace() {
				continue
			}
			d.Refresh(ctx)
		}
	}
}
