package notify

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tsmon/tsmon/internal/logging"
	"github.com/tsmon/tsmon/internal/metrics"
)

// sleepHook is used in tests to avoid sleeping for real
var sleepHook = time.Sleep

// Destination addresses one delivery target for a single notification.
// Mention asks the provider to broadcast-mention its audience; it is honored
// on the first delivery attempt only, since the side effects of a failed
// first attempt are ambiguous and a mention must not repeat.
type Destination struct {
	ID      string
	Mention bool
}

// Pending is a notification waiting in the fallback queue.
type Pending struct {
	Destinations []Destination
	Message      Message
	Retries      int
}

// DispatcherOptions tune retry and queue behavior.
type DispatcherOptions struct {
	DeliveryAttempts int           // per-destination attempts per delivery
	RetryDelay       time.Duration // delay between attempts
	DrainInterval    time.Duration // fallback queue drain cadence
	QueueMaxRetries  int           // re-enqueue ceiling for queued items
}

func (o *DispatcherOptions) applyDefaults() {
	if o.DeliveryAttempts <= 0 {
		o.DeliveryAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 2 * time.Second
	}
	if o.DrainInterval <= 0 {
		o.DrainInterval = time.Second
	}
	if o.QueueMaxRetries <= 0 {
		o.QueueMaxRetries = 5
	}
}

// Dispatcher delivers rendered messages to destination services with bounded
// retry, and owns the fallback queue for notifications raised while no live
// dispatch context is available.
type Dispatcher struct {
	services map[string]Service
	opts     DispatcherOptions

	live atomic.Bool
	wg   sync.WaitGroup

	qmu   sync.Mutex
	queue []*Pending
}

// NewDispatcher builds a dispatcher over the given destination services.
func NewDispatcher(services map[string]Service, opts DispatcherOptions) *Dispatcher {
	opts.applyDefaults()
	if services == nil {
		services = make(map[string]Service)
	}
	return &Dispatcher{services: services, opts: opts}
}

// Dispatch schedules a delivery. While the queue consumer is running the
// delivery happens immediately on its own goroutine; before Run starts (or
// after it stops) the notification is parked on the fallback queue instead.
func (d *Dispatcher) Dispatch(dests []Destination, msg Message) {
	if len(dests) == 0 {
		return
	}
	if !d.live.Load() {
		logging.Get().Warn().Str("title", msg.Title).Msg("dispatcher not running, queueing notification")
		d.Enqueue(&Pending{Destinations: dests, Message: msg})
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		_ = d.Deliver(context.Background(), dests, msg)
	}()
}

// Deliver attempts delivery to every destination independently. It returns an
// error when at least one destination exhausted its attempts; other
// destinations are unaffected.
func (d *Dispatcher) Deliver(ctx context.Context, dests []Destination, msg Message) error {
	failed := 0
	for _, dest := range dests {
		if err := d.deliverTo(ctx, dest, msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("delivery failed for %d of %d destinations", failed, len(dests))
	}
	return nil
}

// deliverTo runs the per-destination retry loop.
func (d *Dispatcher) deliverTo(ctx context.Context, dest Destination, msg Message) error {
	svc, ok := d.services[dest.ID]
	if !ok {
		logging.Get().Warn().Str("destination", dest.ID).Msg("no service configured for destination")
		metrics.IncNotifyFailed()
		return fmt.Errorf("unknown destination %q", dest.ID)
	}
	var lastErr error
	for attempt := 1; attempt <= d.opts.DeliveryAttempts; attempt++ {
		body := msg.Body
		if dest.Mention && attempt == 1 {
			if m, ok := svc.(Mentioner); ok {
				body = m.MentionTag() + "\n" + body
			}
		}
		start := time.Now()
		if err := svc.Send(ctx, msg.Title, body); err != nil {
			lastErr = err
			logging.Get().Warn().Err(err).Str("destination", dest.ID).Int("attempt", attempt).Msg("delivery attempt failed")
			if attempt < d.opts.DeliveryAttempts {
				if err := d.wait(ctx, d.opts.RetryDelay); err != nil {
					return err
				}
			}
			continue
		}
		metrics.IncNotifySent()
		metrics.ObserveDeliveryDuration(time.Since(start).Seconds())
		logging.Get().Debug().Str("destination", dest.ID).Str("title", msg.Title).Msg("notification delivered")
		return nil
	}
	metrics.IncNotifyFailed()
	logging.Get().Error().Err(lastErr).Str("destination", dest.ID).Msg("all delivery attempts failed")
	return lastErr
}

// wait sleeps for delay unless the context is cancelled first. sleepHook
// keeps tests fast.
func (d *Dispatcher) wait(ctx context.Context, delay time.Duration) error {
	done := make(chan struct{})
	go func() {
		sleepHook(delay)
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue parks a notification on the fallback queue. Safe for concurrent
// producers; Run is the single consumer.
func (d *Dispatcher) Enqueue(p *Pending) {
	d.qmu.Lock()
	d.queue = append(d.queue, p)
	depth := len(d.queue)
	d.qmu.Unlock()
	metrics.SetQueueDepth(depth)
}

// QueueDepth reports the number of parked notifications.
func (d *Dispatcher) QueueDepth() int {
	d.qmu.Lock()
	defer d.qmu.Unlock()
	return len(d.queue)
}

// Run drains the fallback queue on a fixed cadence until ctx is cancelled.
// It marks the dispatcher live so Dispatch schedules immediately.
func (d *Dispatcher) Run(ctx context.Context) {
	d.live.Store(true)
	defer d.live.Store(false)
	ticker := time.NewTicker(d.opts.DrainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drainQueue(ctx)
		}
	}
}

// drainQueue takes the entire queue contents and attempts delivery for every
// item. Failed items are re-enqueued until they hit the retry ceiling, then
// dropped.
func (d *Dispatcher) drainQueue(ctx context.Context) {
	d.qmu.Lock()
	items := d.queue
	d.queue = nil
	d.qmu.Unlock()
	if len(items) == 0 {
		return
	}

	for _, item := range items {
		if err := d.Deliver(ctx, item.Destinations, item.Message); err != nil {
			if ctx.Err() != nil {
				// shutting down; keep the remaining items queued
				d.Enqueue(item)
				continue
			}
			item.Retries++
			if item.Retries < d.opts.QueueMaxRetries {
				logging.Get().Warn().Err(err).Int("retry", item.Retries).Int("max", d.opts.QueueMaxRetries).Msg("queued notification failed, will retry")
				d.Enqueue(item)
			} else {
				logging.Get().Error().Err(err).Str("title", item.Message.Title).Msg("dropping notification after exhausting queue retries")
				metrics.IncNotifyDropped()
			}
		}
	}
	metrics.SetQueueDepth(d.QueueDepth())
}

// Wait blocks until in-flight deliveries finish or ctx expires.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
