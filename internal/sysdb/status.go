package sysdb

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/dbosgo/dbosgo/internal/serde"
)

// UpdateWorkflowStatus upserts status:
//   - replace=true: update status/output/error unconditionally.
//   - inRecovery=true: on conflict, increment recovery_attempts by 1.
//   - otherwise: insert-or-ignore, preserving an existing authoritative row.
//
// q lets the caller co-locate this write with other statements on the same
// transaction (the buffered writer does, to keep a whole flush batch on one
// connection).
func (s *SysDB) UpdateWorkflowStatus(ctx context.Context, q Querier, status WorkflowStatus, replace, inRecovery bool) error {
	if q == nil {
		q = s.pool
	}

	const insertCols = `
		workflow_uuid, status, name, class_name, config_name, output, error,
		executor_id, application_version, application_id, request,
		authenticated_user, authenticated_roles, assumed_role, queue_name`

	var conflictClause string
	switch {
	case replace:
		conflictClause = `ON CONFLICT (workflow_uuid) DO UPDATE SET
			status = EXCLUDED.status, output = EXCLUDED.output, error = EXCLUDED.error`
	case inRecovery:
		conflictClause = `ON CONFLICT (workflow_uuid) DO UPDATE SET
			recovery_attempts = dbos.workflow_status.recovery_attempts + 1`
	default:
		conflictClause = `ON CONFLICT (workflow_uuid) DO NOTHING`
	}

	query := fmt.Sprintf(`
		INSERT INTO dbos.workflow_status (%s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		%s`, insertCols, conflictClause)

	_, err := q.Exec(ctx, query,
		status.WorkflowUUID, status.Status, status.Name, status.ClassName, status.ConfigName,
		status.Output, status.Error, status.ExecutorID, status.ApplicationVersion,
		status.ApplicationID, status.Request, status.AuthenticatedUser,
		status.AuthenticatedRoles, status.AssumedRole, status.QueueName,
	)
	if err != nil {
		return fmt.Errorf("sysdb: update workflow status %s: %w", status.WorkflowUUID, err)
	}

	s.mu.Lock()
	if _, ok := s.tempTxnWFIDs[status.WorkflowUUID]; ok {
		s.exportedTempTxnWFStatus[status.WorkflowUUID] = struct{}{}
	}
	s.mu.Unlock()

	return nil
}

// SetWorkflowStatus updates a workflow's status in place. If
// resetRecoveryAttemptsTo is non-nil, recovery_attempts is also set to that
// exact value (0 for the common reset-on-restart case). Updating a missing
// row is a silent no-op.
func (s *SysDB) SetWorkflowStatus(ctx context.Context, workflowUUID string, status WorkflowStatusString, resetRecoveryAttemptsTo *int32) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE dbos.workflow_status SET status = $1 WHERE workflow_uuid = $2`,
		status, workflowUUID,
	)
	if err != nil {
		return fmt.Errorf("sysdb: set workflow status %s: %w", workflowUUID, err)
	}

	if resetRecoveryAttemptsTo != nil {
		_, err := s.pool.Exec(ctx,
			`UPDATE dbos.workflow_status SET recovery_attempts = $1 WHERE workflow_uuid = $2`,
			*resetRecoveryAttemptsTo, workflowUUID,
		)
		if err != nil {
			return fmt.Errorf("sysdb: reset recovery attempts %s: %w", workflowUUID, err)
		}
	}
	return nil
}

// GetWorkflowStatus reads the status row, excluding output/error (use
// GetWorkflowStatusWOutputs when those are needed).
func (s *SysDB) GetWorkflowStatus(ctx context.Context, workflowUUID string) (*WorkflowStatus, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT status, name, request, recovery_attempts, config_name, class_name,
		       authenticated_user, authenticated_roles, assumed_role, queue_name
		FROM dbos.workflow_status WHERE workflow_uuid = $1`, workflowUUID)

	var st WorkflowStatus
	st.WorkflowUUID = workflowUUID
	err := row.Scan(&st.Status, &st.Name, &st.Request, &st.RecoveryAttempts, &st.ConfigName,
		&st.ClassName, &st.AuthenticatedUser, &st.AuthenticatedRoles, &st.AssumedRole, &st.QueueName)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sysdb: get workflow status %s: %w", workflowUUID, err)
	}
	return &st, nil
}

// GetWorkflowStatusWithinWF is the OAOO-wrapped form of GetWorkflowStatus:
// on first call it reads the target's status and journals the serialized
// result under (callingWF, callingFn); re-execution returns the journaled
// snapshot rather than re-reading (possibly different) live status.
func (s *SysDB) GetWorkflowStatusWithinWF(ctx context.Context, workflowUUID, callingWF string, callingFn int64) (*WorkflowStatus, error) {
	recorded, err := s.CheckOperationExecution(ctx, s.pool, callingWF, callingFn)
	if err != nil {
		return nil, err
	}
	if recorded != nil {
		if recorded.Output == nil || *recorded.Output == serde.NullLiteral {
			return nil, nil
		}
		var st WorkflowStatus
		if err := s.decodeInto(*recorded.Output, &st); err != nil {
			return nil, fmt.Errorf("sysdb: decode journaled workflow status: %w", err)
		}
		return &st, nil
	}

	st, err := s.GetWorkflowStatus(ctx, workflowUUID)
	if err != nil {
		return nil, err
	}

	// A missing row is journaled as the null literal, so a replay returns
	// nil again rather than an empty status.
	var snapshot any
	if st != nil {
		snapshot = st
	}
	encoded, err := s.serializer.Serialize(snapshot)
	if err != nil {
		return nil, fmt.Errorf("sysdb: serialize workflow status: %w", err)
	}
	if err := s.RecordOperationResult(ctx, s.pool, OperationResult{
		WorkflowUUID: callingWF, FunctionID: callingFn, Output: &encoded,
	}); err != nil {
		return nil, err
	}
	return st, nil
}

// GetWorkflowStatusWOutputs reads the status row including output/error.
func (s *SysDB) GetWorkflowStatusWOutputs(ctx context.Context, workflowUUID string) (*WorkflowStatus, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT status, name, request, output, error, config_name, class_name,
		       authenticated_user, authenticated_roles, assumed_role, queue_name
		FROM dbos.workflow_status WHERE workflow_uuid = $1`, workflowUUID)

	var st WorkflowStatus
	st.WorkflowUUID = workflowUUID
	err := row.Scan(&st.Status, &st.Name, &st.Request, &st.Output, &st.Error, &st.ConfigName,
		&st.ClassName, &st.AuthenticatedUser, &st.AuthenticatedRoles, &st.AssumedRole, &st.QueueName)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sysdb: get workflow status with outputs %s: %w", workflowUUID, err)
	}
	return &st, nil
}

// GetWorkflowInfo assembles the full read-side projection: status, output,
// error, and recorded inputs. getRequest controls whether the original
// request blob is included.
func (s *SysDB) GetWorkflowInfo(ctx context.Context, workflowUUID string, getRequest bool) (*WorkflowInformation, error) {
	st, err := s.GetWorkflowStatusWOutputs(ctx, workflowUUID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}

	info := &WorkflowInformation{
		WorkflowUUID:       st.WorkflowUUID,
		Status:             st.Status,
		Name:               st.Name,
		ClassName:          st.ClassName,
		ConfigName:         st.ConfigName,
		AuthenticatedUser:  st.AuthenticatedUser,
		AssumedRole:        st.AssumedRole,
		AuthenticatedRoles: st.AuthenticatedRoles,
		Output:             st.Output,
		Error:              st.Error,
	}
	if getRequest {
		info.Request = st.Request
	}

	inputs, err := s.GetWorkflowInputs(ctx, workflowUUID)
	if err != nil {
		return nil, err
	}
	info.Input = inputs

	return info, nil
}

// UpdateWorkflowInputs inserts the serialized inputs blob, idempotently:
// a workflow records its inputs at most once. Clears this workflow's
// temp-txn bookkeeping once its inputs are durable, since that bookkeeping
// exists only to gate the buffered writer's flush order.
func (s *SysDB) UpdateWorkflowInputs(ctx context.Context, q Querier, workflowUUID, inputs string) error {
	if q == nil {
		q = s.pool
	}
	_, err := q.Exec(ctx, `
		INSERT INTO dbos.workflow_inputs (workflow_uuid, inputs)
		VALUES ($1, $2) ON CONFLICT (workflow_uuid) DO NOTHING`,
		workflowUUID, inputs,
	)
	if err != nil {
		return fmt.Errorf("sysdb: update workflow inputs %s: %w", workflowUUID, err)
	}

	s.mu.Lock()
	delete(s.exportedTempTxnWFStatus, workflowUUID)
	delete(s.tempTxnWFIDs, workflowUUID)
	s.mu.Unlock()

	return nil
}

// GetWorkflowInputs reads the recorded inputs blob, or nil if none was ever
// recorded.
func (s *SysDB) GetWorkflowInputs(ctx context.Context, workflowUUID string) (*WorkflowInputs, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT inputs FROM dbos.workflow_inputs WHERE workflow_uuid = $1`, workflowUUID)

	var inputs string
	if err := row.Scan(&inputs); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sysdb: get workflow inputs %s: %w", workflowUUID, err)
	}
	return &WorkflowInputs{WorkflowUUID: workflowUUID, Inputs: inputs}, nil
}

// GetWorkflows lists workflow_uuids matching input's filters, newest
// first.
func (s *SysDB) GetWorkflows(ctx context.Context, input GetWorkflowsInput) ([]string, error) {
	query := `SELECT workflow_uuid FROM dbos.workflow_status WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if input.Name != nil {
		query += " AND name = " + arg(*input.Name)
	}
	if input.AuthenticatedUser != nil {
		query += " AND authenticated_user = " + arg(*input.AuthenticatedUser)
	}
	if input.StartTimeEpochMs != nil {
		query += " AND created_at >= " + arg(*input.StartTimeEpochMs)
	}
	if input.EndTimeEpochMs != nil {
		query += " AND created_at <= " + arg(*input.EndTimeEpochMs)
	}
	if input.Status != nil {
		query += " AND status = " + arg(*input.Status)
	}
	if input.ApplicationVersion != nil {
		query += " AND application_version = " + arg(*input.ApplicationVersion)
	}
	query += " ORDER BY created_at DESC"
	if input.Limit != nil {
		query += " LIMIT " + arg(*input.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sysdb: get workflows: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sysdb: scan workflow id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetPendingWorkflows returns every PENDING workflow_uuid owned by
// executorID, the seed set for startup recovery.
func (s *SysDB) GetPendingWorkflows(ctx context.Context, executorID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT workflow_uuid FROM dbos.workflow_status WHERE status = $1 AND executor_id = $2`,
		StatusPending, executorID,
	)
	if err != nil {
		return nil, fmt.Errorf("sysdb: get pending workflows for %s: %w", executorID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sysdb: scan pending workflow id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *SysDB) decodeInto(blob string, out *WorkflowStatus) error {
	val, err := s.serializer.Deserialize(blob)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
