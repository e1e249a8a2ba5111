// Package notify is a minimal, best-effort outbound notification
// dispatcher. It is explicitly out of the healing core's scope: the
// scheduler fires events at it and never waits for or depends on the
// outcome.
package notify

import (
	"context"
	"log/slog"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/healctl/healctl/internal/store"
)

const queueCapacity = 256

// Dispatcher fans a bounded queue of events out to the configured provider
// URLs. A full queue drops the event — identical to the event-listener's
// drop-on-overflow policy — rather than ever applying backpressure to the
// scheduler.
type Dispatcher struct {
	urls  []string
	queue chan store.Event
}

// New builds a Dispatcher over the given Shoutrrr provider URLs (Slack,
// Discord, SMTP, generic webhook, …). An empty list makes every Notify call
// a no-op.
func New(urls []string) *Dispatcher {
	return &Dispatcher{urls: urls, queue: make(chan store.Event, queueCapacity)}
}

// Run drains the queue until ctx is canceled. Call it once from its own
// goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-d.queue:
			d.send(ev)
		}
	}
}

// Notify enqueues ev for delivery. Non-blocking: if the queue is full, the
// event is dropped and a debug line is logged.
func (d *Dispatcher) Notify(ev store.Event) {
	if len(d.urls) == 0 {
		return
	}
	select {
	case d.queue <- ev:
	default:
		slog.Debug("notify: queue full, dropping event", "stable_id", ev.StableID, "kind", ev.Kind)
	}
}

func (d *Dispatcher) send(ev store.Event) {
	message := formatMessage(ev)
	params := &types.Params{}

	for _, url := range d.urls {
		sender, err := shoutrrr.CreateSender(url)
		if err != nil {
			slog.Warn("notify: failed to create sender", "error", err)
			continue
		}
		if errs := sender.Send(message, params); len(errs) > 0 {
			for _, sendErr := range errs {
				if sendErr != nil {
					slog.Warn("notify: delivery failed", "error", sendErr)
				}
			}
		}
	}
}

func formatMessage(ev store.Event) string {
	return string(ev.Kind) + " " + ev.StableID + ": " + ev.Message
}
