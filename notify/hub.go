// Package notify delivers cycle triggers from cron tickers and the admin API
// to the pipeline runner.
package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/curately/atsync/cfg"
	"github.com/curately/atsync/common"
)

// defaultTriggerBufferSize is the buffer size for trigger channels.
// Subscribers that can't keep up will have triggers dropped (non-blocking
// send); the next cron tick covers the same window anyway.
const defaultTriggerBufferSize = 16

// subscription represents a single subscriber.
type subscription struct {
	id       uint64
	provider string // "" = all providers
	ch       chan common.Trigger
	closed   atomic.Bool
}

func (s *subscription) matches(provider string) bool {
	return s.provider == "" || s.provider == provider
}

func (s *subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// Hub is a thread-safe trigger fan-out.
type Hub struct {
	mu            sync.RWMutex
	subscriptions map[uint64]*subscription
	nextID        atomic.Uint64
}

// NewHub creates a new trigger hub.
func NewHub() *Hub {
	return &Hub{
		subscriptions: make(map[uint64]*subscription),
	}
}

// Fire sends a trigger to all matching subscribers (non-blocking).
func (h *Hub) Fire(trig common.Trigger) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subscriptions {
		if !sub.matches(trig.Provider) {
			continue
		}

		select {
		case sub.ch <- trig:
		default:
			log.Warn().
				Str("provider", trig.Provider).
				Str("entity", trig.EntityType).
				Msg("Trigger dropped, subscriber buffer full")
		}
	}
}

// Subscribe creates a subscription for one provider ("" = all) and returns
// the trigger channel and an idempotent cancel function.
func (h *Hub) Subscribe(provider string) (<-chan common.Trigger, func()) {
	sub := &subscription{
		id:       h.nextID.Add(1),
		provider: provider,
		ch:       make(chan common.Trigger, defaultTriggerBufferSize),
	}

	h.mu.Lock()
	h.subscriptions[sub.id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.unsubscribe(sub.id)
	}

	return sub.ch, cancel
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	sub, ok := h.subscriptions[id]
	if ok {
		delete(h.subscriptions, id)
	}
	h.mu.Unlock()

	if ok {
		sub.close()
	}
}

// StartCron fires one trigger per (provider, entity-type) on each provider's
// configured interval until ctx is cancelled.
func StartCron(ctx context.Context, hub *Hub) {
	for name, conf := range cfg.Providers() {
		name, conf := name, conf
		go func() {
			interval := time.Duration(conf.SyncIntervalMS) * time.Millisecond
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			log.Info().
				Str("provider", name).
				Dur("interval", interval).
				Msg("Cron trigger started")

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					for _, entityType := range conf.EntityTypes {
						hub.Fire(common.Trigger{
							Tenant:     conf.Tenant,
							Provider:   name,
							EntityType: entityType,
						})
					}
				}
			}
		}()
	}
}
