// Package queue implements named workflow queues and the dispatcher loop
// that admits enqueued workflows under per-queue concurrency and rate
// limits.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dbosgo/dbosgo/internal/executor"
	"github.com/dbosgo/dbosgo/internal/sysdb"
)

// Queue is a named admission point over enqueued workflows. A nil
// Concurrency admits everything queued each tick; a nil Limiter disables
// rate limiting.
type Queue struct {
	Name        string
	Concurrency *int
	Limiter     *sysdb.RateLimit
}

// Registry holds the queues the dispatcher iterates each tick. It is owned
// by whoever wires the core together and passed explicitly, never kept as a
// process-wide singleton.
type Registry struct {
	mu     sync.RWMutex
	queues map[string]*Queue
}

func NewRegistry() *Registry {
	return &Registry{queues: make(map[string]*Queue)}
}

// Register adds q, replacing any queue previously registered under the same
// name.
func (r *Registry) Register(q *Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[q.Name] = q
}

// Queues returns a snapshot of the registered queues.
func (r *Registry) Queues() []*Queue {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		out = append(out, q)
	}
	return out
}

// admitter is the slice of the system database the dispatcher needs.
type admitter interface {
	StartQueuedWorkflows(ctx context.Context, queueName string, concurrency *int, limiter *sysdb.RateLimit) ([]string, error)
}

const dispatchInterval = time.Second

// Dispatcher is the background loop that, once per tick, admits eligible
// workflows from every registered queue and hands them to the executor.
type Dispatcher struct {
	sysDB    admitter
	registry *Registry
	exec     executor.Executor
	logger   *slog.Logger
}

func NewDispatcher(sysDB admitter, registry *Registry, exec executor.Executor, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sysDB:    sysDB,
		registry: registry,
		exec:     exec,
		logger:   logger,
	}
}

// Run ticks until ctx is cancelled. Errors inside a tick are logged and
// never terminate the loop: a transient database failure only delays
// admission until the next tick.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		d.runOnce(ctx)
	}
}

func (d *Dispatcher) runOnce(ctx context.Context) {
	for _, q := range d.registry.Queues() {
		ids, err := d.sysDB.StartQueuedWorkflows(ctx, q.Name, q.Concurrency, q.Limiter)
		if err != nil {
			d.logger.Warn("exception encountered in queue dispatcher", "queue", q.Name, "error", err)
			continue
		}
		for _, id := range ids {
			if _, err := d.exec.ExecuteByID(ctx, id); err != nil {
				d.logger.Warn("failed to execute admitted workflow",
					"queue", q.Name, "workflow_uuid", id, "error", err)
			}
		}
	}
}
