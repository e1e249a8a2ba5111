package healing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/healctl/healctl/internal/identity"
	"github.com/healctl/healctl/internal/runtime"
	"github.com/healctl/healctl/internal/store"
	"github.com/healctl/healctl/pkg/libarcane"
)

var (
	errStreamDisconnected = errors.New("healing: event stream disconnected")
	errStreamClosed       = errors.New("healing: event stream closed")
)

// Listener consumes the runtime's event stream and auto-admits containers
// into monitoring as soon as they start, instead of waiting for the next
// scheduler tick to notice them via a full list.
type Listener struct {
	adapter runtime.Adapter
	store   *store.Store
	log     *slog.Logger

	// notifiedExcluded remembers which stable ids already got their
	// one-time "label-matched but excluded" info event, so a container
	// restarting repeatedly doesn't spam the log.
	notifiedExcluded sync.Map // string -> struct{}
}

// NewListener builds a Listener.
func NewListener(adapter runtime.Adapter, st *store.Store, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}
	return &Listener{adapter: adapter, store: st, log: log}
}

// Run consumes start events until ctx is canceled, reconnecting with
// exponential backoff whenever the event stream itself errors out. Each
// connect-and-drain cycle is one backoff.Retry operation: a clean
// disconnect while ctx is still live is the "retryable" outcome, ctx
// cancellation is the terminal one.
func (l *Listener) Run(ctx context.Context) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = time.Second
	expBackoff.MaxInterval = 30 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		events, errs := l.adapter.Events(ctx)
		connectionOK := l.drain(ctx, events, errs)
		if ctx.Err() != nil {
			return struct{}{}, nil
		}
		if !connectionOK {
			return struct{}{}, errStreamDisconnected
		}
		return struct{}{}, errStreamClosed
	}, backoff.WithBackOff(expBackoff), backoff.WithMaxElapsedTime(0))
	if err != nil && !errors.Is(err, context.Canceled) {
		l.log.Warn("healing: event listener gave up reconnecting", "error", err)
	}
}

// drain consumes from events/errs until either channel closes or ctx is
// canceled. It returns false if the stream ended due to an error, so the
// caller applies backoff before reconnecting.
func (l *Listener) drain(ctx context.Context, events <-chan runtime.RuntimeEvent, errs <-chan error) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case err, ok := <-errs:
			if !ok {
				return true
			}
			if err != nil {
				l.log.Warn("healing: event stream error", "error", err)
				return false
			}
		case ev, ok := <-events:
			if !ok {
				return true
			}
			l.handle(ctx, ev)
		}
	}
}

func (l *Listener) handle(ctx context.Context, ev runtime.RuntimeEvent) {
	if ev.Type != "container" || ev.Action != "start" {
		return
	}

	cfg := l.store.GetConfig()
	if cfg.Monitor.IncludeAll || cfg.Monitor.LabelKey == "" {
		return
	}

	// The inspected labels are authoritative, not the event's attributes.
	snap, err := l.adapter.Inspect(ctx, ev.ID)
	if err != nil {
		l.log.Warn("healing: failed to inspect started container", "id", ev.ID, "error", err)
		return
	}
	if snap.Labels[cfg.Monitor.LabelKey] != cfg.Monitor.LabelValue {
		return
	}
	if libarcane.IsInternalContainer(snap.Labels) {
		return
	}

	stableID := identity.Resolve(snap)
	selected, excluded, _ := l.store.MembershipOf(stableID)
	if excluded {
		if _, already := l.notifiedExcluded.LoadOrStore(stableID, struct{}{}); !already {
			l.store.AppendEvent(store.Event{
				Timestamp: time.Now().UTC(), StableID: stableID, EphemeralID: snap.ID,
				Kind: store.EventAutoMonitor, Status: store.StatusInfo,
				Message: "label-matched but excluded, not auto-monitoring",
			})
		}
		return
	}
	if selected {
		return
	}

	l.store.Select(stableID)
	l.store.AppendEvent(store.Event{
		Timestamp: time.Now().UTC(), StableID: stableID, EphemeralID: snap.ID,
		Kind: store.EventAutoMonitor, Status: store.StatusInfo,
		Message: "auto-admitted via label " + cfg.Monitor.LabelKey + "=" + cfg.Monitor.LabelValue,
	})
}
