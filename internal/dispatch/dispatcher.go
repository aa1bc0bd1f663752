// Package dispatch fans committed domain events out to notification sinks.
// Dispatch is decoupled from the transactional path: services hand events
// over only after their store transaction commits, and delivery failures are
// logged, never propagated back into ledger state.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Nikhil170404/hyperlocal-sub001/internal/metrics"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/models"
	"github.com/Nikhil170404/hyperlocal-sub001/internal/notify"
)

// Dispatcher delivers events asynchronously with a bounded timeout per batch.
type Dispatcher struct {
	sinks   []notify.Sink
	timeout time.Duration
	wg      sync.WaitGroup
}

// New creates a dispatcher writing to the given sinks.
func New(timeout time.Duration, sinks ...notify.Sink) *Dispatcher {
	return &Dispatcher{sinks: sinks, timeout: timeout}
}

// Dispatch queues events for delivery and returns immediately. Safe to call
// with zero events.
func (d *Dispatcher) Dispatch(events ...models.Event) {
	if len(events) == 0 {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		for _, ev := range events {
			d.deliver(ctx, ev)
		}
	}()
}

// Wait blocks until all queued deliveries finish. Used by tests and
// shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, ev models.Event) {
	n := render(ev)
	for _, sink := range d.sinks {
		if err := sink.SendMany(ctx, ev.UserIDs, n); err != nil {
			metrics.EventsDispatched.WithLabelValues(string(ev.Type), "error").Inc()
			slog.Warn("event delivery failed",
				"event_id", ev.ID,
				"type", ev.Type,
				"cycle_id", ev.CycleID,
				"error", err,
			)
			continue
		}
		metrics.EventsDispatched.WithLabelValues(string(ev.Type), "ok").Inc()
	}
}

// render turns a domain event into user-facing copy.
func render(ev models.Event) notify.Notification {
	data := map[string]string{"cycleId": ev.CycleID, "groupId": ev.GroupID, "event": string(ev.Type)}
	for k, v := range ev.Data {
		data[k] = v
	}

	switch ev.Type {
	case models.EventOrderPlaced:
		return notify.Notification{
			Title: "Order added to group buy",
			Body:  "A new order joined your group's buying round.",
			Data:  data,
		}
	case models.EventPaymentWindowOpened:
		return notify.Notification{
			Title: "Payment window open",
			Body:  "Collection closed. Complete your payment before the window ends.",
			Data:  data,
		}
	case models.EventOrderConfirmed:
		return notify.Notification{
			Title: "Group order confirmed",
			Body:  "Your group met its quantity targets. The order is confirmed.",
			Data:  data,
		}
	case models.EventPaymentReceived:
		return notify.Notification{
			Title: "Payment received",
			Body:  "Your payment was verified and recorded.",
			Data:  data,
		}
	case models.EventCycleCancelled:
		return notify.Notification{
			Title: "Group order cancelled",
			Body:  "This buying round was cancelled. Paid amounts will be refunded.",
			Data:  data,
		}
	default:
		return notify.Notification{
			Title: fmt.Sprintf("Group buy update (%s)", ev.Type),
			Data:  data,
		}
	}
}
