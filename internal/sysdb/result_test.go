package sysdb

import (
	"context"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/dbosgo/dbosgo/internal/serde"
)

func TestAwaitWorkflowResult_Success(t *testing.T) {
	s, mock := newTestSysDB(t)

	output, err := serde.JSONSerializer{}.Serialize("hello")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT status, output, error FROM dbos.workflow_status").
		WithArgs("W").
		WillReturnRows(pgxmock.NewRows([]string{"status", "output", "error"}).
			AddRow(StatusSuccess, &output, nil))

	value, err := s.AwaitWorkflowResult(context.Background(), "W")
	require.NoError(t, err)
	require.Equal(t, "hello", value)
}

func TestAwaitWorkflowResult_ErrorSurfacesDeserializedError(t *testing.T) {
	s, mock := newTestSysDB(t)

	errBlob, err := serde.JSONSerializer{}.Serialize(assertErr("step exploded"))
	require.NoError(t, err)

	mock.ExpectQuery("SELECT status, output, error FROM dbos.workflow_status").
		WithArgs("W").
		WillReturnRows(pgxmock.NewRows([]string{"status", "output", "error"}).
			AddRow(StatusError, nil, &errBlob))

	_, err = s.AwaitWorkflowResult(context.Background(), "W")
	require.Error(t, err)
	require.Equal(t, "step exploded", err.Error())
}

func TestAwaitWorkflowResult_ContextCancelStopsPolling(t *testing.T) {
	s, mock := newTestSysDB(t)

	// Still PENDING: the poll continues until the caller's context ends.
	mock.ExpectQuery("SELECT status, output, error FROM dbos.workflow_status").
		WithArgs("W").
		WillReturnRows(pgxmock.NewRows([]string{"status", "output", "error"}).
			AddRow(StatusPending, nil, nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.AwaitWorkflowResult(ctx, "W")
	require.ErrorIs(t, err, context.Canceled)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
