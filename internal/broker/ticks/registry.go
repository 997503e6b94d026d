// Package ticks is the tick subscription registry every broker client
// embeds: it maps instrument tokens to interested listeners and fans out
// incoming ticks.
package ticks

import (
	"context"
	"sync"

	"breakout-bot/internal/interfaces"
	"breakout-bot/internal/logger"
	"breakout-bot/internal/types"
)

// Registry fans out ticks to subscribed listeners. Subscriptions happen
// before streaming starts (and are replayed wholesale after a reconnect),
// so dispatch works on a snapshot taken under the lock.
type Registry struct {
	mu        sync.RWMutex
	listeners map[uint32][]interfaces.TickListener
}

func NewRegistry() *Registry {
	return &Registry{listeners: make(map[uint32][]interfaces.TickListener)}
}

// Subscribe registers a listener for a token. Multiple listeners per token
// all receive every tick.
func (r *Registry) Subscribe(token uint32, l interfaces.TickListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners[token] = append(r.listeners[token], l)
}

// Tokens returns every currently subscribed token, for (re)subscription
// frames after connect.
func (r *Registry) Tokens() []uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]uint32, 0, len(r.listeners))
	for t := range r.listeners {
		out = append(out, t)
	}
	return out
}

// Dispatch delivers one tick to every listener subscribed to its token.
// A panicking listener is logged and must not prevent delivery to the rest.
func (r *Registry) Dispatch(t types.Tick) {
	r.mu.RLock()
	ls := r.listeners[t.Token]
	r.mu.RUnlock()

	for _, l := range ls {
		deliver(l, t)
	}
}

func deliver(l interfaces.TickListener, t types.Tick) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error(context.Background(), "tick listener panicked",
				"token", t.Token, "panic", rec)
		}
	}()
	l.Tick(t)
}
