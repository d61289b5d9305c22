// Package publisher buffers envelopes contributed by concurrent fan-out
// tasks and flushes them to the event bus in fixed-size batches.
package publisher

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/curately/atsync/cfg"
	"github.com/curately/atsync/common"
	"github.com/curately/atsync/envelope"
	"github.com/curately/atsync/telemetry"
)

// Bus owns the configured sinks and routes for the process lifetime.
type Bus struct {
	routes     []*Route
	batchSize  int
	compressor *envelope.Compressor
	mu         sync.Mutex
}

// NewBus creates the event bus front from configuration. Every configured
// sink is instantiated through its registered factory.
func NewBus(config cfg.PublisherConfiguration) (*Bus, error) {
	bus := &Bus{
		batchSize:  config.BatchSize,
		compressor: &envelope.Compressor{Threshold: config.CompressThreshold},
	}

	for _, sinkCfg := range config.Sinks {
		snk, err := createSink(sinkCfg)
		if err != nil {
			bus.Close()
			return nil, fmt.Errorf("failed to create sink %q: %w", sinkCfg.Name, err)
		}
		route, err := NewRoute(sinkCfg, snk)
		if err != nil {
			snk.Close()
			bus.Close()
			return nil, fmt.Errorf("failed to create route %q: %w", sinkCfg.Name, err)
		}
		bus.routes = append(bus.routes, route)

		log.Info().
			Str("sink", sinkCfg.Name).
			Str("type", sinkCfg.Type).
			Str("topic", sinkCfg.Topic).
			Msg("Added event bus sink")
	}

	return bus, nil
}

// AddRoute registers an extra route, used by tests to inject mock sinks.
func (b *Bus) AddRoute(route *Route) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes = append(b.routes, route)
}

// Close closes all sinks.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, r := range b.routes {
		if err := r.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", r.Name).Msg("Failed to close sink")
		}
	}
	b.routes = nil
}

func (b *Bus) matching(provider, entityType string) []*Route {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*Route
	for _, r := range b.routes {
		if r.Match(provider, entityType) {
			out = append(out, r)
		}
	}
	return out
}

// Buffer collects one cycle's envelopes. Appends arrive from concurrent
// fan-out tasks; the append and the flush-at-threshold check happen under
// one lock so exactly full batches leave the buffer.
type Buffer struct {
	bus      *Bus
	provider string
	entity   string
	routes   []*Route

	mu        sync.Mutex
	pending   []common.EventEnvelope
	published int
	failures  int
}

// NewBuffer starts an envelope buffer for one cycle. Routes are resolved
// once up front since a cycle is homogeneous in provider and entity type.
func (b *Bus) NewBuffer(provider, entityType string) *Buffer {
	return &Buffer{
		bus:      b,
		provider: provider,
		entity:   entityType,
		routes:   b.matching(provider, entityType),
		pending:  make([]common.EventEnvelope, 0, b.batchSize),
	}
}

// Append adds one envelope. Reaching the batch size flushes synchronously;
// the full batch is detached under the lock and published outside it.
func (buf *Buffer) Append(env common.EventEnvelope) {
	var batch []common.EventEnvelope

	buf.mu.Lock()
	buf.pending = append(buf.pending, env)
	if len(buf.pending) >= buf.bus.batchSize {
		batch = buf.pending
		buf.pending = make([]common.EventEnvelope, 0, buf.bus.batchSize)
	}
	buf.mu.Unlock()

	if batch != nil {
		buf.flush(batch)
	}
}

// Drain flushes the remainder after the cycle's join barrier. An empty
// buffer is a no-op.
func (buf *Buffer) Drain() {
	buf.mu.Lock()
	batch := buf.pending
	buf.pending = nil
	buf.mu.Unlock()

	if len(batch) > 0 {
		buf.flush(batch)
	}
}

// Published returns how many envelopes were handed to at least one sink.
func (buf *Buffer) Published() int {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return buf.published
}

// Failures returns how many batch publish calls were rejected.
func (buf *Buffer) Failures() int {
	buf.mu.Lock()
	defer buf.mu.Unlock()
	return buf.failures
}

// flush publishes one batch to every matching route. A rejected batch is
// logged, counted and dropped; the envelopes are not retried or requeued,
// and the watermark still advances. Recovery is an operator replay with an
// explicit window against idempotent sinks.
func (buf *Buffer) flush(batch []common.EventEnvelope) {
	msgs := make([]Message, 0, len(batch))
	for _, env := range batch {
		data, err := envelope.Encode(env)
		if err != nil {
			log.Error().Err(err).
				Str("entity", env.EntityType).
				Str("id", env.EntityID).
				Msg("Skipping envelope that failed to encode")
			telemetry.EnvelopesSkippedTotal.With("serialization").Inc()
			continue
		}
		value, attrs, err := buf.bus.compressor.Encode(data, env.Provider)
		if err != nil {
			log.Error().Err(err).
				Str("entity", env.EntityType).
				Str("id", env.EntityID).
				Msg("Skipping envelope that failed to compress")
			telemetry.EnvelopesSkippedTotal.With("serialization").Inc()
			continue
		}
		msgs = append(msgs, Message{
			Key:   env.EntityType + ":" + env.EntityID,
			Value: value,
			Attrs: attrs,
		})
	}
	if len(msgs) == 0 {
		return
	}

	delivered := false
	for _, route := range buf.routes {
		started := time.Now()
		err := route.Sink.Publish(route.Topic, msgs)
		telemetry.BatchFlushSeconds.Observe(time.Since(started).Seconds())

		if err != nil {
			pubErr := common.PublishFailure(route.Topic, len(msgs), err)
			log.Error().Err(pubErr).Str("sink", route.Name).Msg("Batch publish rejected")
			telemetry.BatchFlushesTotal.With("failure").Inc()
			buf.mu.Lock()
			buf.failures++
			buf.mu.Unlock()
			continue
		}
		telemetry.BatchFlushesTotal.With("success").Inc()
		delivered = true
	}

	if delivered {
		buf.mu.Lock()
		buf.published += len(msgs)
		buf.mu.Unlock()
	}
}
