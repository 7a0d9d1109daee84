package sysdb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dbosgo/dbosgo/internal/dboserr"
	"github.com/dbosgo/dbosgo/internal/serde"
)

// CallerContext identifies the step that is calling GetEvent, so the read
// can be OAOO-wrapped the same way Send/Recv/SetEvent are. A nil context
// means "read directly, outside of any workflow" — GetEvent called from
// ordinary application code rather than from within a step.
type CallerContext struct {
	WorkflowUUID      string
	FunctionID        int64
	TimeoutFunctionID int64
}

// Send delivers message to (destinationUUID, topic), OAOO-wrapped under
// (workflowUUID, functionID): redelivering after a crash/retry would violate
// at-most-once delivery, so a prior successful send is a no-op. The OAOO
// check, the notification insert, and the journal write all share one
// transaction.
func (s *SysDB) Send(ctx context.Context, workflowUUID string, functionID int64, destinationUUID, topic, message string) error {
	if topic == "" {
		topic = nullTopic
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sysdb: send begin: %w", err)
	}
	defer tx.Rollback(ctx)

	recorded, err := s.CheckOperationExecution(ctx, tx, workflowUUID, functionID)
	if err != nil {
		return err
	}
	if recorded != nil {
		return nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO dbos.notifications (destination_uuid, topic, message)
		VALUES ($1, $2, $3)`,
		destinationUUID, topic, message,
	)
	if err != nil {
		return dboserr.FromPgError(err, destinationUUID)
	}

	if err := s.RecordOperationResult(ctx, tx, OperationResult{
		WorkflowUUID: workflowUUID, FunctionID: functionID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sysdb: send commit: %w", err)
	}
	return nil
}

// Recv waits up to timeoutSeconds for a message on topic addressed to
// workflowUUID, FIFO across all messages ever sent to that topic. OAOO
// wrapped under (workflowUUID, functionID): a re-executed recv must return
// the same message it returned the first time, not consume a new one. The
// wait deadline is itself journaled under timeoutFunctionID via durable
// sleep, so crash-and-resume keeps the original deadline.
func (s *SysDB) Recv(ctx context.Context, workflowUUID string, functionID, timeoutFunctionID int64, topic string, timeoutSeconds float64) (*string, error) {
	recorded, err := s.CheckOperationExecution(ctx, s.pool, workflowUUID, functionID)
	if err != nil {
		return nil, err
	}
	if recorded != nil {
		if recorded.Output == nil {
			return nil, fmt.Errorf("sysdb: recv %s/%d: no output recorded for prior execution", workflowUUID, functionID)
		}
		if *recorded.Output == serde.NullLiteral {
			return nil, nil
		}
		return recorded.Output, nil
	}

	if topic == "" {
		topic = nullTopic
	}
	key := workflowUUID + "::" + topic

	// Register before probing: a NOTIFY that lands between the probe and
	// the wait must still wake us.
	ch := s.notifications.register(key)
	defer s.notifications.release(key)

	var exists bool
	err = s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM dbos.notifications
			WHERE destination_uuid = $1 AND topic = $2
		)`, workflowUUID, topic,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("sysdb: probe notifications for %s/%s: %w", workflowUUID, topic, err)
	}

	if !exists {
		actualTimeout, err := s.Sleep(ctx, workflowUUID, timeoutFunctionID, timeoutSeconds, true)
		if err != nil {
			return nil, err
		}

		timer := time.NewTimer(time.Duration(actualTimeout * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-ch:
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// Consume the oldest matching row and journal the outcome in one
	// transaction, so a crash can never lose a consumed message.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("sysdb: recv begin: %w", err)
	}
	defer tx.Rollback(ctx)

	message, err := s.popOldestNotification(ctx, tx, workflowUUID, topic)
	if err != nil {
		return nil, err
	}

	journaled := serde.NullLiteral
	if message != nil {
		journaled = *message
	}
	if err := s.RecordOperationResult(ctx, tx, OperationResult{
		WorkflowUUID: workflowUUID, FunctionID: functionID, Output: &journaled,
	}); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("sysdb: recv commit: %w", err)
	}
	return message, nil
}

func (s *SysDB) popOldestNotification(ctx context.Context, q Querier, destinationUUID, topic string) (*string, error) {
	row := q.QueryRow(ctx, `
		WITH oldest AS (
			SELECT destination_uuid, topic, created_at_epoch_ms
			FROM dbos.notifications
			WHERE destination_uuid = $1 AND topic = $2
			ORDER BY created_at_epoch_ms ASC
			LIMIT 1
		)
		DELETE FROM dbos.notifications n
		USING oldest
		WHERE n.destination_uuid = oldest.destination_uuid
		  AND n.topic = oldest.topic
		  AND n.created_at_epoch_ms = oldest.created_at_epoch_ms
		RETURNING n.message`,
		destinationUUID, topic,
	)

	var message string
	if err := row.Scan(&message); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sysdb: pop notification for %s/%s: %w", destinationUUID, topic, err)
	}
	return &message, nil
}

// SetEvent durably records the latest value published under key for
// workflowUUID, OAOO-wrapped under (workflowUUID, functionID). The upsert
// makes repeated publishes to the same key last-writer-wins.
func (s *SysDB) SetEvent(ctx context.Context, workflowUUID string, functionID int64, key, value string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("sysdb: set event begin: %w", err)
	}
	defer tx.Rollback(ctx)

	recorded, err := s.CheckOperationExecution(ctx, tx, workflowUUID, functionID)
	if err != nil {
		return err
	}
	if recorded != nil {
		return nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO dbos.workflow_events (workflow_uuid, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (workflow_uuid, key) DO UPDATE SET value = EXCLUDED.value`,
		workflowUUID, key, value,
	)
	if err != nil {
		return dboserr.FromPgError(err, workflowUUID)
	}

	if err := s.RecordOperationResult(ctx, tx, OperationResult{
		WorkflowUUID: workflowUUID, FunctionID: functionID,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("sysdb: set event commit: %w", err)
	}
	return nil
}

// GetEvent waits up to timeoutSeconds for targetUUID to publish key, then
// returns its latest value (or nil on timeout). callerCtx, when non-nil,
// OAOO-wraps the read the same way a step's own database access would be,
// and journals the wait deadline under its TimeoutFunctionID so recovery
// keeps the original deadline.
func (s *SysDB) GetEvent(ctx context.Context, targetUUID, key string, timeoutSeconds float64, callerCtx *CallerContext) (*string, error) {
	if callerCtx != nil {
		recorded, err := s.CheckOperationExecution(ctx, s.pool, callerCtx.WorkflowUUID, callerCtx.FunctionID)
		if err != nil {
			return nil, err
		}
		if recorded != nil {
			if recorded.Output == nil {
				return nil, fmt.Errorf("sysdb: get event %s/%s: no output recorded for prior execution", targetUUID, key)
			}
			if *recorded.Output == serde.NullLiteral {
				return nil, nil
			}
			return recorded.Output, nil
		}
	}

	regKey := targetUUID + "::" + key
	ch := s.workflowEvents.register(regKey)
	defer s.workflowEvents.release(regKey)

	value, err := s.readEvent(ctx, targetUUID, key)
	if err != nil {
		return nil, err
	}

	if value == nil {
		actualTimeout := timeoutSeconds
		if callerCtx != nil {
			actualTimeout, err = s.Sleep(ctx, callerCtx.WorkflowUUID, callerCtx.TimeoutFunctionID, timeoutSeconds, true)
			if err != nil {
				return nil, err
			}
		}

		timer := time.NewTimer(time.Duration(actualTimeout * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-ch:
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		value, err = s.readEvent(ctx, targetUUID, key)
		if err != nil {
			return nil, err
		}
	}

	if callerCtx != nil {
		journaled := serde.NullLiteral
		if value != nil {
			journaled = *value
		}
		if err := s.RecordOperationResult(ctx, s.pool, OperationResult{
			WorkflowUUID: callerCtx.WorkflowUUID, FunctionID: callerCtx.FunctionID, Output: &journaled,
		}); err != nil {
			return nil, err
		}
	}

	return value, nil
}

func (s *SysDB) readEvent(ctx context.Context, workflowUUID, key string) (*string, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT value FROM dbos.workflow_events WHERE workflow_uuid = $1 AND key = $2`,
		workflowUUID, key,
	)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sysdb: read event %s/%s: %w", workflowUUID, key, err)
	}
	return &value, nil
}

// Sleep journals a wake-time end = now + durationSeconds once, under
// (workflowUUID, functionID), so resuming after a crash sleeps only for the
// time remaining rather than restarting the full duration. When skipSleep
// is true (Recv's use: it does its own channel-based wait), Sleep only
// computes and returns the remaining duration without blocking.
func (s *SysDB) Sleep(ctx context.Context, workflowUUID string, functionID int64, durationSeconds float64, skipSleep bool) (float64, error) {
	endTime, err := s.journaledSleepEndTime(ctx, workflowUUID, functionID, durationSeconds)
	if err != nil {
		return 0, err
	}

	remaining := endTime - nowUnixSeconds()
	if remaining < 0 {
		remaining = 0
	}
	if skipSleep || remaining == 0 {
		return remaining, nil
	}

	timer := time.NewTimer(time.Duration(remaining * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return remaining, ctx.Err()
	}
	return remaining, nil
}

func (s *SysDB) journaledSleepEndTime(ctx context.Context, workflowUUID string, functionID int64, durationSeconds float64) (float64, error) {
	recorded, err := s.CheckOperationExecution(ctx, s.pool, workflowUUID, functionID)
	if err != nil {
		return 0, err
	}
	if recorded != nil && recorded.Output != nil {
		var endTime float64
		if _, err := fmt.Sscanf(*recorded.Output, "%f", &endTime); err != nil {
			return 0, fmt.Errorf("sysdb: decode journaled sleep end time: %w", err)
		}
		return endTime, nil
	}

	endTime := nowUnixSeconds() + durationSeconds
	encoded := fmt.Sprintf("%f", endTime)
	err = s.RecordOperationResult(ctx, s.pool, OperationResult{
		WorkflowUUID: workflowUUID, FunctionID: functionID, Output: &encoded,
	})
	if err == nil {
		return endTime, nil
	}

	// A racing caller (e.g. a concurrent recovery attempt) may have
	// journaled first; that value, not ours, is authoritative.
	var conflict *dboserr.ConflictError
	if errors.As(err, &conflict) {
		recorded, err := s.CheckOperationExecution(ctx, s.pool, workflowUUID, functionID)
		if err != nil {
			return 0, err
		}
		if recorded != nil && recorded.Output != nil {
			var existing float64
			if _, err := fmt.Sscanf(*recorded.Output, "%f", &existing); err != nil {
				return 0, fmt.Errorf("sysdb: decode journaled sleep end time after conflict: %w", err)
			}
			return existing, nil
		}
	}
	return 0, err
}
