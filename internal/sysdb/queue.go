package sysdb

import (
	"context"
	"fmt"
)

// EnqueueWorkflow inserts workflowUUID into the job queue. Idempotent: an
// already-queued workflow is left where it is, keeping its original
// admission order.
func (s *SysDB) EnqueueWorkflow(ctx context.Context, workflowUUID, queueName string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dbos.job_queue (workflow_uuid, queue_name)
		VALUES ($1, $2) ON CONFLICT (workflow_uuid) DO NOTHING`,
		workflowUUID, queueName,
	)
	if err != nil {
		return fmt.Errorf("sysdb: enqueue workflow %s on %s: %w", workflowUUID, queueName, err)
	}
	return nil
}

// StartQueuedWorkflows admits up to concurrency of queueName's oldest
// enqueued workflows, returning the IDs whose status it moved from ENQUEUED
// to PENDING. The UPDATE's WHERE clause is the compare-and-swap: a workflow
// another dispatcher already admitted (or that is still running from a prior
// admission) updates zero rows and is excluded, so no workflow is ever
// double-started. A nil concurrency admits everything queued.
//
// limiter, when non-nil, additionally caps admissions to at most
// limiter.Limit starts per rolling limiter.Period seconds, measured against
// workflow_status.created_at for this queue.
func (s *SysDB) StartQueuedWorkflows(ctx context.Context, queueName string, concurrency *int, limiter *RateLimit) ([]string, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("sysdb: start queued workflows begin: %w", err)
	}
	defer tx.Rollback(ctx)

	maxToStart := -1 // unlimited
	if limiter != nil {
		windowStart := nowEpochMs() - int64(limiter.Period*1000)
		var startedInWindow int
		err := tx.QueryRow(ctx, `
			SELECT count(*) FROM dbos.workflow_status
			WHERE queue_name = $1 AND status <> $2 AND created_at >= $3`,
			queueName, StatusEnqueued, windowStart,
		).Scan(&startedInWindow)
		if err != nil {
			return nil, fmt.Errorf("sysdb: count recent starts for queue %s: %w", queueName, err)
		}
		maxToStart = limiter.Limit - startedInWindow
		if maxToStart <= 0 {
			return nil, tx.Commit(ctx)
		}
	}

	query := `
		SELECT workflow_uuid FROM dbos.job_queue
		WHERE queue_name = $1
		ORDER BY created_at_epoch_ms ASC`
	args := []any{queueName}
	if concurrency != nil {
		query += " LIMIT $2"
		args = append(args, *concurrency)
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sysdb: select queued workflows for %s: %w", queueName, err)
	}
	var dequeued []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("sysdb: scan queued workflow id: %w", err)
		}
		dequeued = append(dequeued, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sysdb: iterate queued workflows for %s: %w", queueName, err)
	}

	if maxToStart >= 0 && len(dequeued) > maxToStart {
		dequeued = dequeued[:maxToStart]
	}

	var admitted []string
	for _, id := range dequeued {
		tag, err := tx.Exec(ctx, `
			UPDATE dbos.workflow_status SET status = $1
			WHERE workflow_uuid = $2 AND status = $3`,
			StatusPending, id, StatusEnqueued,
		)
		if err != nil {
			return nil, fmt.Errorf("sysdb: admit workflow %s: %w", id, err)
		}
		if tag.RowsAffected() > 0 {
			admitted = append(admitted, id)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("sysdb: start queued workflows commit: %w", err)
	}

	if s.metrics != nil && len(admitted) > 0 {
		s.metrics.QueueAdmitted.WithLabelValues(queueName).Add(float64(len(admitted)))
	}
	return admitted, nil
}

// RemoveFromQueue deletes the job-queue row for a completed workflow. Safe
// to call for a workflow that was never queued or was already removed; a
// failed delete is also non-fatal for correctness, since the admission CAS
// blocks re-admission of a non-ENQUEUED workflow.
func (s *SysDB) RemoveFromQueue(ctx context.Context, workflowUUID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM dbos.job_queue WHERE workflow_uuid = $1`, workflowUUID,
	)
	if err != nil {
		return fmt.Errorf("sysdb: remove workflow %s from queue: %w", workflowUUID, err)
	}
	return nil
}
