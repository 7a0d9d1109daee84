// Package appdb is the once-and-only-once (OAOO) record of transactional
// steps, stored in the application's own database so it commits atomically
// with the user's SQL. It is functionally part of the journal protocol
// even though it lives outside the system database.
package appdb

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dbosgo/dbosgo/internal/dboserr"
)

// Querier is satisfied by both pgx.Tx and *pgxpool.Pool, so the journal
// write can run on the caller's own transaction (the common case, needed
// for atomicity with user SQL) or stand alone (the error path, which has no
// user SQL to co-commit with).
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// DB is the subset of *pgxpool.Pool that AppDB needs. Narrowing to an
// interface lets tests substitute pgxmock's pool without AppDB ever
// knowing the difference.
type DB interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// TransactionResult is the OAOO record of one transactional step.
type TransactionResult struct {
	WorkflowUUID string
	FunctionID   int64
	Output       *string
	Error        *string
	TxnSnapshot  string
	ExecutorID   *string
}

// RecordedResult is the journaled outcome of a previously-run step.
type RecordedResult struct {
	Output *string
	Error  *string
}

// AppDB records transaction_outputs rows in the application database.
type AppDB struct {
	pool DB
}

// New wraps an already-connected application database pool.
func New(pool DB) *AppDB {
	return &AppDB{pool: pool}
}

// RecordTransactionOutput inserts result into transaction_outputs using tx,
// the same transaction the caller's user SQL ran on. Calling this on a
// different session than the user's SQL loses the atomicity guarantee the
// whole mechanism exists for — callers must always pass their own tx.
func (a *AppDB) RecordTransactionOutput(ctx context.Context, tx pgx.Tx, result TransactionResult) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO dbos.transaction_outputs
			(workflow_uuid, function_id, output, error, txn_id, txn_snapshot, executor_id)
		VALUES ($1, $2, $3, NULL, (SELECT pg_current_xact_id_if_assigned()::text), $4, $5)`,
		result.WorkflowUUID, result.FunctionID, result.Output, result.TxnSnapshot, result.ExecutorID,
	)
	if err != nil {
		return dboserr.FromPgError(err, result.WorkflowUUID)
	}
	return nil
}

// RecordTransactionError opens its own transaction and records a failed
// step. There is no user SQL to co-commit with on the error path, so unlike
// RecordTransactionOutput this manages its own transaction boundary.
func (a *AppDB) RecordTransactionError(ctx context.Context, result TransactionResult) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("appdb: begin transaction error record: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO dbos.transaction_outputs
			(workflow_uuid, function_id, output, error, txn_id, txn_snapshot, executor_id)
		VALUES ($1, $2, NULL, $3, (SELECT pg_current_xact_id_if_assigned()::text), $4, $5)`,
		result.WorkflowUUID, result.FunctionID, result.Error, result.TxnSnapshot, result.ExecutorID,
	)
	if err != nil {
		return dboserr.FromPgError(err, result.WorkflowUUID)
	}
	return tx.Commit(ctx)
}

// CheckTransactionExecution is the OAOO read path: it returns the recorded
// result of a previously-executed transactional step, or nil if the step
// has never run. q may be the caller's own in-flight transaction or the
// pool, since reads need no atomicity with anything.
func (a *AppDB) CheckTransactionExecution(ctx context.Context, q Querier, workflowUUID string, functionID int64) (*RecordedResult, error) {
	row := q.QueryRow(ctx, `
		SELECT output, error FROM dbos.transaction_outputs
		WHERE workflow_uuid = $1 AND function_id = $2`,
		workflowUUID, functionID,
	)

	var result RecordedResult
	if err := row.Scan(&result.Output, &result.Error); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("appdb: check transaction execution: %w", err)
	}
	return &result, nil
}

// Pool exposes the underlying pool for callers that need to start their own
// transaction to run user SQL alongside RecordTransactionOutput.
func (a *AppDB) Pool() DB {
	return a.pool
}
