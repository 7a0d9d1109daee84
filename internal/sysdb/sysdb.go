// Package sysdb implements the system database journal: workflow status,
// operation-result (OAOO) journaling, durable messaging and events,
// durable sleep, buffered write-back, job-queue admission, and the
// LISTEN/NOTIFY-backed notification listener.
package sysdb

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dbosgo/dbosgo/internal/metrics"
	"github.com/dbosgo/dbosgo/internal/serde"
)

// Querier is satisfied by pgx.Tx and *pgxpool.Pool, letting journal writes
// run either on a caller's transaction or standalone.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// DB is the subset of *pgxpool.Pool that SysDB needs. Narrowing to an
// interface lets tests substitute pgxmock's pool for the real thing.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

const (
	bufferFlushBatchSize    = 100
	bufferFlushIntervalSecs = 1.0
)

// SysDB is the system database journal. It owns the in-memory state that
// has process lifetime: the write-back buffers, the signal registries, and
// the listener connection.
type SysDB struct {
	pool       DB
	connString string
	serializer serde.Serializer
	logger     *slog.Logger
	metrics    *metrics.Registry

	notifications  *signalRegistry
	workflowEvents *signalRegistry

	mu                      sync.Mutex
	statusBuffer            map[string]WorkflowStatus
	inputsBuffer            map[string]string
	tempTxnWFIDs            map[string]struct{}
	exportedTempTxnWFStatus map[string]struct{}
	isFlushingStatusBuffer  bool

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// Option customizes a SysDB at construction time.
type Option func(*SysDB)

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *SysDB) { s.logger = l }
}

// WithSerializer overrides the default JSON serializer.
func WithSerializer(s serde.Serializer) Option {
	return func(sd *SysDB) { sd.serializer = s }
}

// WithMetrics attaches a metrics registry; nil (the default) disables
// metrics recording.
func WithMetrics(m *metrics.Registry) Option {
	return func(s *SysDB) { s.metrics = m }
}

// New wraps an already-connected system database pool. connString is kept
// around so the notification listener can open its own dedicated
// autocommit connection (a pool connection cannot run LISTEN usefully,
// since the pool may hand the underlying connection to another caller
// between NOTIFY deliveries).
func New(pool DB, connString string, opts ...Option) *SysDB {
	s := &SysDB{
		pool:                    pool,
		connString:              connString,
		serializer:              serde.JSONSerializer{},
		logger:                  slog.Default(),
		notifications:           newSignalRegistry(),
		workflowEvents:          newSignalRegistry(),
		statusBuffer:            make(map[string]WorkflowStatus),
		inputsBuffer:            make(map[string]string),
		tempTxnWFIDs:            make(map[string]struct{}),
		exportedTempTxnWFStatus: make(map[string]struct{}),
		stopCh:                  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pool exposes the underlying pool, e.g. for an executor that needs to run
// ad hoc reads outside the methods this package provides.
func (s *SysDB) Pool() DB {
	return s.pool
}

// Start launches the notification listener and the buffered-writer flush
// loop as background goroutines. Both run until ctx is cancelled or Stop is
// called.
func (s *SysDB) Start(ctx context.Context) {
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.runNotificationListener(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.runBufferFlushLoop(ctx)
	}()
}

// Stop signals background loops to exit and waits for them to return.
// Destroy additionally flushes any remaining buffered writes and closes the
// pool.
func (s *SysDB) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
}

// Destroy flushes any buffered writes, stops background loops, and closes
// the pool: wait for buffers, stop background processes, close the
// listener connection, dispose the pool.
func (s *SysDB) Destroy(ctx context.Context) {
	s.WaitForBufferFlush(ctx)
	s.Stop()
	s.pool.Close()
}

// WaitForBufferFlush spins until both write-back buffers are empty and no
// flush is in progress. Used by shutdown to avoid losing buffered writes.
func (s *SysDB) WaitForBufferFlush(ctx context.Context) {
	for {
		s.mu.Lock()
		empty := len(s.statusBuffer) == 0 && len(s.inputsBuffer) == 0 && !s.isFlushingStatusBuffer
		s.mu.Unlock()
		if empty {
			return
		}
		s.logger.Debug("waiting for system buffers to flush")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
