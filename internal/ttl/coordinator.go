// Package ttl runs the background staleness loop: entities are scheduled
// with a "stale at" point, and once due they are revalidated against the
// indexer. Staleness never blocks a read; stale data is served while the
// refresh happens here.
package ttl

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pubsync/pubsync/internal/logging"
	"github.com/pubsync/pubsync/internal/store/ttlrecords"
)

// scanBatch bounds how many due records one tick processes.
const scanBatch = 50

// Clock abstracts time for the scan loop.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Revalidator refreshes one entity of its kind. Returning an error leaves
// the entity scheduled for another pass.
type Revalidator func(ctx context.Context, id string) error

// Coordinator owns the TTL scan loop. Register revalidators per entity-key
// kind before Start; the loop dispatches each due "kind:id" record to its
// kind's revalidator.
type Coordinator struct {
	records    ttlrecords.Repository
	log        logging.Logger
	clock      Clock
	interval   time.Duration
	retryDelay time.Duration

	mu           sync.Mutex
	revalidators map[string]Revalidator
	running      bool
	stop         func()
}

func NewCoordinator(records ttlrecords.Repository, log logging.Logger, interval, retryDelay time.Duration) *Coordinator {
	if log == nil {
		log = logging.Noop()
	}
	return &Coordinator{
		records:      records,
		log:          log,
		clock:        realClock{},
		interval:     interval,
		retryDelay:   retryDelay,
		revalidators: map[string]Revalidator{},
	}
}

// Register installs the revalidator for one entity kind, replacing any
// previous one.
func (c *Coordinator) Register(kind string, fn Revalidator) {
	c.mu.Lock()
	c.revalidators[kind] = fn
	c.mu.Unlock()
}

// SubscribeUser schedules an identity for periodic rechecks. Subscribing an
// already-subscribed identity just reschedules it.
func (c *Coordinator) SubscribeUser(ctx context.Context, pubky string) error {
	staleAt := c.clock.Now().Add(c.retryDelay).UnixMilli()
	return c.records.Upsert(ctx, "user:"+pubky, staleAt)
}

// Start launches the scan loop and returns a stop function. Starting an
// already-running coordinator is a no-op returning the original stop.
func (c *Coordinator) Start(ctx context.Context) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return c.stop
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(c.interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.runOnce(ctx)
			}
		}
	}()

	c.running = true
	c.stop = func() {
		cancel()
		<-done
	}
	return c.stop
}

// runOnce processes one batch of due records. A successful revalidation
// clears the record; a failed one is rescheduled one retry delay out.
func (c *Coordinator) runOnce(ctx context.Context) {
	now := c.clock.Now()
	due, err := c.records.Due(ctx, now.UnixMilli(), scanBatch)
	if err != nil {
		c.log.Error(ctx, "ttl scan failed", "error", err)
		return
	}

	for _, rec := range due {
		kind, id, ok := strings.Cut(rec.EntityKey, ":")
		if !ok {
			c.drop(ctx, rec.EntityKey, "malformed entity key")
			continue
		}

		c.mu.Lock()
		fn, known := c.revalidators[kind]
		c.mu.Unlock()
		if !known {
			c.drop(ctx, rec.EntityKey, "no revalidator for kind")
			continue
		}

		if err := fn(ctx, id); err != nil {
			c.log.Warn(ctx, "revalidation failed, rescheduling", "entity", rec.EntityKey, "error", err)
			retryAt := now.Add(c.retryDelay).UnixMilli()
			if err := c.records.Upsert(ctx, rec.EntityKey, retryAt); err != nil {
				c.log.Error(ctx, "could not reschedule ttl record", "entity", rec.EntityKey, "error", err)
			}
			continue
		}
		if err := c.records.Delete(ctx, rec.EntityKey); err != nil {
			c.log.Error(ctx, "could not clear ttl record", "entity", rec.EntityKey, "error", err)
		}
	}
}

func (c *Coordinator) drop(ctx context.Context, key, reason string) {
	c.log.Warn(ctx, "dropping ttl record", "entity", key, "reason", reason)
	if err := c.records.Delete(ctx, key); err != nil {
		c.log.Error(ctx, "could not drop ttl record", "entity", key, "error", err)
	}
}
