package sysdb

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

// statusArgs is the 15-argument list UpdateWorkflowStatus passes for a
// status row whose optional columns are all unset.
func statusArgs(workflowUUID string, status WorkflowStatusString, name string) []any {
	args := []any{workflowUUID, status, name}
	for i := 0; i < 12; i++ {
		args = append(args, (*string)(nil))
	}
	return args
}

func TestUpdateWorkflowStatus_ConflictClauses(t *testing.T) {
	tests := []struct {
		name       string
		replace    bool
		inRecovery bool
		wantSQL    string
	}{
		{
			name:    "replace updates status and outputs",
			replace: true,
			wantSQL: `DO UPDATE SET\s+status = EXCLUDED.status`,
		},
		{
			name:       "recovery increments attempts",
			inRecovery: true,
			wantSQL:    `recovery_attempts \+ 1`,
		},
		{
			name:    "default preserves existing row",
			wantSQL: `DO NOTHING`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newTestSysDB(t)

			mock.ExpectExec(tt.wantSQL).
				WithArgs(statusArgs("W", StatusPending, "wf")...).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))

			err := s.UpdateWorkflowStatus(context.Background(), nil, WorkflowStatus{
				WorkflowUUID: "W", Status: StatusPending, Name: "wf",
			}, tt.replace, tt.inRecovery)
			require.NoError(t, err)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestUpdateWorkflowStatus_MarksTempTxnWorkflowExported(t *testing.T) {
	s, mock := newTestSysDB(t)
	s.BufferWorkflowInputs("W", `{"args":[]}`)

	mock.ExpectExec("INSERT INTO dbos.workflow_status").
		WithArgs(statusArgs("W", StatusSuccess, "wf")...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpdateWorkflowStatus(context.Background(), nil, WorkflowStatus{
		WorkflowUUID: "W", Status: StatusSuccess, Name: "wf",
	}, true, false)
	require.NoError(t, err)

	s.mu.Lock()
	_, exported := s.exportedTempTxnWFStatus["W"]
	s.mu.Unlock()
	require.True(t, exported)
}

func TestSetWorkflowStatus_ResetRecoveryAttempts(t *testing.T) {
	s, mock := newTestSysDB(t)

	mock.ExpectExec(`UPDATE dbos.workflow_status SET status`).
		WithArgs(StatusPending, "W").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE dbos.workflow_status SET recovery_attempts`).
		WithArgs(int32(0), "W").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	zero := int32(0)
	err := s.SetWorkflowStatus(context.Background(), "W", StatusPending, &zero)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetWorkflowStatus_NoReset(t *testing.T) {
	s, mock := newTestSysDB(t)

	mock.ExpectExec(`UPDATE dbos.workflow_status SET status`).
		WithArgs(StatusCancelled, "W").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.SetWorkflowStatus(context.Background(), "W", StatusCancelled, nil)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWorkflowStatus_MissingRowIsNil(t *testing.T) {
	s, mock := newTestSysDB(t)

	mock.ExpectQuery("SELECT status, name, request").
		WithArgs("W").
		WillReturnRows(pgxmock.NewRows([]string{
			"status", "name", "request", "recovery_attempts", "config_name", "class_name",
			"authenticated_user", "authenticated_roles", "assumed_role", "queue_name",
		}))

	st, err := s.GetWorkflowStatus(context.Background(), "W")
	require.NoError(t, err)
	require.Nil(t, st)
}

func TestGetWorkflowInputs_RoundTrip(t *testing.T) {
	s, mock := newTestSysDB(t)

	mock.ExpectQuery("SELECT inputs FROM dbos.workflow_inputs").
		WithArgs("W").
		WillReturnRows(pgxmock.NewRows([]string{"inputs"}).AddRow(`{"args":[1]}`))

	inputs, err := s.GetWorkflowInputs(context.Background(), "W")
	require.NoError(t, err)
	require.NotNil(t, inputs)
	require.Equal(t, `{"args":[1]}`, inputs.Inputs)
}

func TestGetWorkflows_BuildsFilters(t *testing.T) {
	s, mock := newTestSysDB(t)

	name := "wf"
	limit := 5
	mock.ExpectQuery(`SELECT workflow_uuid FROM dbos.workflow_status WHERE 1=1 AND name = \$1 ORDER BY created_at DESC LIMIT \$2`).
		WithArgs(name, limit).
		WillReturnRows(pgxmock.NewRows([]string{"workflow_uuid"}).AddRow("W1").AddRow("W2"))

	ids, err := s.GetWorkflows(context.Background(), GetWorkflowsInput{Name: &name, Limit: &limit})
	require.NoError(t, err)
	require.Equal(t, []string{"W1", "W2"}, ids)
}

func TestGetPendingWorkflows(t *testing.T) {
	s, mock := newTestSysDB(t)

	mock.ExpectQuery("SELECT workflow_uuid FROM dbos.workflow_status").
		WithArgs(StatusPending, "local").
		WillReturnRows(pgxmock.NewRows([]string{"workflow_uuid"}).AddRow("W1"))

	ids, err := s.GetPendingWorkflows(context.Background(), "local")
	require.NoError(t, err)
	require.Equal(t, []string{"W1"}, ids)
}
