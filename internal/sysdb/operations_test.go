package sysdb

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/dbosgo/dbosgo/internal/dboserr"
)

func newTestSysDB(t *testing.T) (*SysDB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return New(mock, ""), mock
}

func strptr(s string) *string { return &s }

func TestRecordOperationResult_WritesOnce(t *testing.T) {
	s, mock := newTestSysDB(t)

	mock.ExpectExec("INSERT INTO dbos.operation_outputs").
		WithArgs("W", int64(3), strptr(`"a"`), (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.RecordOperationResult(context.Background(), nil, OperationResult{
		WorkflowUUID: "W", FunctionID: 3, Output: strptr(`"a"`),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordOperationResult_SecondWriteConflicts(t *testing.T) {
	s, mock := newTestSysDB(t)

	mock.ExpectExec("INSERT INTO dbos.operation_outputs").
		WithArgs("W", int64(3), strptr(`"b"`), (*string)(nil)).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.RecordOperationResult(context.Background(), nil, OperationResult{
		WorkflowUUID: "W", FunctionID: 3, Output: strptr(`"b"`),
	})

	var conflict *dboserr.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "W", conflict.WorkflowID)
}

func TestRecordOperationResult_RejectsOutputAndError(t *testing.T) {
	s, _ := newTestSysDB(t)

	err := s.RecordOperationResult(context.Background(), nil, OperationResult{
		WorkflowUUID: "W", FunctionID: 1, Output: strptr(`"x"`), Error: strptr(`"boom"`),
	})
	require.Error(t, err)
}

func TestCheckOperationExecution_ReturnsJournaledValue(t *testing.T) {
	s, mock := newTestSysDB(t)

	mock.ExpectQuery("SELECT output, error FROM dbos.operation_outputs").
		WithArgs("W", int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"output", "error"}).AddRow(strptr(`"a"`), nil))

	recorded, err := s.CheckOperationExecution(context.Background(), nil, "W", 3)
	require.NoError(t, err)
	require.NotNil(t, recorded)
	require.Equal(t, `"a"`, *recorded.Output)
	require.Nil(t, recorded.Error)
}

func TestCheckOperationExecution_AbsentStep(t *testing.T) {
	s, mock := newTestSysDB(t)

	mock.ExpectQuery("SELECT output, error FROM dbos.operation_outputs").
		WithArgs("W", int64(9)).
		WillReturnRows(pgxmock.NewRows([]string{"output", "error"}))

	recorded, err := s.CheckOperationExecution(context.Background(), nil, "W", 9)
	require.NoError(t, err)
	require.Nil(t, recorded)
}
