// Package signals routes post-write notifications from the storage layer to
// registered handlers.
package signals

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/odvcencio/gotrack/internal/signals"

// Entity names the kind of record a notification is about.
type Entity string

const (
	EntityReleaseMarker Entity = "release_marker"
	EntityRelease       Entity = "release"
	EntityCommit        Entity = "commit"
)

// Event is delivered to handlers right after a record is persisted.
type Event struct {
	Entity   Entity
	Instance any
	Created  bool
}

// Handler reacts to a persisted record. A returned error fails the write that
// triggered it.
type Handler func(ctx context.Context, ev Event) error

type registration struct {
	key     string
	handler Handler
}

// Dispatcher is a registry of handlers keyed by entity. Handlers for an entity
// run synchronously in registration order.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[Entity][]registration
	logger   *slog.Logger
	metrics  *dispatchMetrics
}

// NewDispatcher builds an empty registry. A nil registerer skips metric
// registration.
func NewDispatcher(logger *slog.Logger, reg prometheus.Registerer) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[Entity][]registration),
		logger:   logger,
		metrics:  newDispatchMetrics(reg),
	}
}

// Register adds h for entity under key. Registering a key that already exists
// for the entity replaces the earlier handler in place.
func (d *Dispatcher) Register(entity Entity, key string, h Handler) {
	key = strings.TrimSpace(key)
	if h == nil || key == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	regs := d.handlers[entity]
	for i := range regs {
		if regs[i].key == key {
			regs[i].handler = h
			return
		}
	}
	d.handlers[entity] = append(regs, registration{key: key, handler: h})
}

// Keys lists the registered handler keys for entity in dispatch order.
func (d *Dispatcher) Keys(entity Entity) []string {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	regs := d.handlers[entity]
	keys := make([]string, 0, len(regs))
	for _, r := range regs {
		keys = append(keys, r.key)
	}
	return keys
}

// Notify runs every handler registered for entity. The first handler error
// stops dispatch and is returned to the caller.
func (d *Dispatcher) Notify(ctx context.Context, entity Entity, instance any, created bool) error {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	regs := append([]registration(nil), d.handlers[entity]...)
	d.mu.RUnlock()

	ev := Event{Entity: entity, Instance: instance, Created: created}
	for _, r := range regs {
		if err := d.dispatch(ctx, r, ev); err != nil {
			return fmt.Errorf("%s handler %s: %w", entity, r.key, err)
		}
	}
	return nil
}

func (d *Dispatcher) dispatch(ctx context.Context, r registration, ev Event) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "signal "+r.key)
	span.SetAttributes(
		attribute.String("signal.entity", string(ev.Entity)),
		attribute.String("signal.handler", r.key),
		attribute.Bool("signal.created", ev.Created),
	)
	defer span.End()

	start := time.Now()
	err := r.handler(ctx, ev)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		d.logger.Error("signal handler failed", "entity", ev.Entity, "handler", r.key, "error", err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if d.metrics != nil {
		d.metrics.dispatchTotal.WithLabelValues(string(ev.Entity), r.key, outcome).Inc()
		d.metrics.dispatchDuration.WithLabelValues(string(ev.Entity), r.key).Observe(time.Since(start).Seconds())
	}
	return err
}
