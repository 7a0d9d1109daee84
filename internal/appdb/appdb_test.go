package appdb

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/dbosgo/dbosgo/internal/dboserr"
)

func TestRecordTransactionOutput_Conflict(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	output := "\"result\""
	mock.ExpectExec("INSERT INTO dbos.transaction_outputs").
		WithArgs("wf-1", int64(3), &output, "snap", (*string)(nil)).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	a := New(mock)
	tx, err := mock.Begin(context.Background())
	require.NoError(t, err)
	defer tx.Rollback(context.Background())

	err = a.RecordTransactionOutput(context.Background(), tx, TransactionResult{
		WorkflowUUID: "wf-1",
		FunctionID:   3,
		Output:       &output,
		TxnSnapshot:  "snap",
	})

	var conflict *dboserr.ConflictError
	require.ErrorAs(t, err, &conflict)
	require.Equal(t, "wf-1", conflict.WorkflowID)
}

func TestRecordTransactionError_OwnTransaction(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	errMsg := "\"boom\""
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO dbos.transaction_outputs").
		WithArgs("wf-2", int64(1), &errMsg, "snap", (*string)(nil)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	a := New(mock)
	err = a.RecordTransactionError(context.Background(), TransactionResult{
		WorkflowUUID: "wf-2",
		FunctionID:   1,
		Error:        &errMsg,
		TxnSnapshot:  "snap",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckTransactionExecution_NotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT output, error FROM dbos.transaction_outputs").
		WithArgs("wf-3", int64(2)).
		WillReturnRows(pgxmock.NewRows([]string{"output", "error"}))

	a := New(mock)
	result, err := a.CheckTransactionExecution(context.Background(), mock, "wf-3", 2)
	require.NoError(t, err)
	require.Nil(t, result)
}

func TestCheckTransactionExecution_Found(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	output := "\"a\""
	mock.ExpectQuery("SELECT output, error FROM dbos.transaction_outputs").
		WithArgs("wf-4", int64(3)).
		WillReturnRows(pgxmock.NewRows([]string{"output", "error"}).AddRow(&output, nil))

	a := New(mock)
	result, err := a.CheckTransactionExecution(context.Background(), mock, "wf-4", 3)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, &output, result.Output)
	require.Nil(t, result.Error)
}
