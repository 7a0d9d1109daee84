package sysdb

import (
	"fmt"

	"context"

	"github.com/jackc/pgx/v5"

	"github.com/dbosgo/dbosgo/internal/dboserr"
)

// RecordOperationResult journals the outcome of one step within workflowUUID
// so a later re-execution of the same (workflowUUID, functionID) can return
// the journaled value instead of re-running the step. Exactly one of
// result.Output / result.Error must be set: a step cannot both succeed and
// fail.
func (s *SysDB) RecordOperationResult(ctx context.Context, q Querier, result OperationResult) error {
	if result.Output != nil && result.Error != nil {
		return fmt.Errorf("sysdb: record operation result %s/%d: output and error both set", result.WorkflowUUID, result.FunctionID)
	}
	if q == nil {
		q = s.pool
	}

	_, err := q.Exec(ctx, `
		INSERT INTO dbos.operation_outputs (workflow_uuid, function_id, output, error)
		VALUES ($1, $2, $3, $4)`,
		result.WorkflowUUID, result.FunctionID, result.Output, result.Error,
	)
	if err != nil {
		return dboserr.FromPgError(err, result.WorkflowUUID)
	}
	return nil
}

// CheckOperationExecution is the OAOO read path for steps: it returns the
// journaled output/error for (workflowUUID, functionID), or nil if the step
// has never run.
func (s *SysDB) CheckOperationExecution(ctx context.Context, q Querier, workflowUUID string, functionID int64) (*RecordedResult, error) {
	if q == nil {
		q = s.pool
	}

	row := q.QueryRow(ctx, `
		SELECT output, error FROM dbos.operation_outputs
		WHERE workflow_uuid = $1 AND function_id = $2`,
		workflowUUID, functionID,
	)

	var result RecordedResult
	if err := row.Scan(&result.Output, &result.Error); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("sysdb: check operation execution %s/%d: %w", workflowUUID, functionID, err)
	}
	return &result, nil
}
