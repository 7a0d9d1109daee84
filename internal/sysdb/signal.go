package sysdb

import "sync"

// signalRegistry maps wakeup keys ("<uuid>::<topic_or_key>") to channels.
// It is owned by the SysDB instance rather than kept as a global. A waiter
// registers a channel before probing the database, the listener closes it
// (broadcasting to every receive) when a matching NOTIFY arrives, and the
// waiter always re-probes the database after waking since the row, not the
// channel, is the source of truth.
type signalRegistry struct {
	mu      sync.Mutex
	waiters map[string]chan struct{}
}

func newSignalRegistry() *signalRegistry {
	return &signalRegistry{waiters: make(map[string]chan struct{})}
}

// register creates (or returns an existing) wakeup channel for key. Callers
// must register before probing the database so that a NOTIFY racing the
// probe is never lost.
func (r *signalRegistry) register(key string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.waiters[key]; ok {
		return ch
	}
	ch := make(chan struct{})
	r.waiters[key] = ch
	return ch
}

// release removes the waiter for key. Safe to call even if no waiter for
// key was ever registered by this process.
func (r *signalRegistry) release(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiters, key)
}

// broadcast wakes every waiter on key, if any is currently registered. A
// missing key is valid: the notifier arrived with no local waiter, and any
// future waiter will re-probe the database directly.
func (r *signalRegistry) broadcast(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.waiters[key]; ok {
		close(ch)
		delete(r.waiters, key)
	}
}
