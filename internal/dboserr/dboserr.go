// Package dboserr defines the error taxonomy surfaced by the journal
// layers: conflicting OAOO writes, sends to unknown workflows, and
// not-yet-registered workflow functions encountered during recovery.
package dboserr

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	sqlStateUniqueViolation     = "23505"
	sqlStateForeignKeyViolation = "23503"
)

// ConflictError signals a unique-violation on a journal's primary key: the
// same (workflow_uuid, function_id) or workflow_uuid was written twice
// concurrently. Usually swallowed by OAOO logic; surfaced to the executor
// for conflict handling otherwise.
type ConflictError struct {
	WorkflowID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("dbos: conflicting workflow ID %s", e.WorkflowID)
}

// NonExistentWorkflowError signals a foreign-key violation: a send targeted
// a destination workflow that was never observed by the system database.
type NonExistentWorkflowError struct {
	WorkflowID string
}

func (e *NonExistentWorkflowError) Error() string {
	return fmt.Sprintf("dbos: workflow %s does not exist", e.WorkflowID)
}

// FunctionNotFoundError signals that the code defining a workflow has not
// yet been registered with the executor. Startup recovery catches this and
// retries rather than treating it as fatal.
type FunctionNotFoundError struct {
	WorkflowID string
	Name       string
}

func (e *FunctionNotFoundError) Error() string {
	return fmt.Sprintf("dbos: workflow function %q not found for workflow %s", e.Name, e.WorkflowID)
}

// FromPgError maps a Postgres error encountered while writing a journal row
// to the named error kinds above. workflowID is the ID whose write failed,
// used to construct an informative error. Returns the original error
// unchanged if it isn't one of the two constraint violations the journal
// protocol cares about.
func FromPgError(err error, workflowID string) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case sqlStateUniqueViolation:
		return &ConflictError{WorkflowID: workflowID}
	case sqlStateForeignKeyViolation:
		return &NonExistentWorkflowError{WorkflowID: workflowID}
	default:
		return err
	}
}
