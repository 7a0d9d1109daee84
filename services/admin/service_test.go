package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/require"

	"github.com/dbosgo/dbosgo/internal/sysdb"
)

type fakeSysDB struct {
	workflows   []string
	info        *sysdb.WorkflowInformation
	result      any
	resultErr   error
	eventValue  *string
	cancelled   []string
	gotInput    sysdb.GetWorkflowsInput
	gotTimeout  float64
	gotEventKey string
}

func (f *fakeSysDB) GetWorkflows(_ context.Context, input sysdb.GetWorkflowsInput) ([]string, error) {
	f.gotInput = input
	return f.workflows, nil
}

func (f *fakeSysDB) GetWorkflowInfo(_ context.Context, workflowUUID string, _ bool) (*sysdb.WorkflowInformation, error) {
	return f.info, nil
}

func (f *fakeSysDB) AwaitWorkflowResult(_ context.Context, _ string) (any, error) {
	return f.result, f.resultErr
}

func (f *fakeSysDB) GetEvent(_ context.Context, _, key string, timeoutSeconds float64, _ *sysdb.CallerContext) (*string, error) {
	f.gotEventKey = key
	f.gotTimeout = timeoutSeconds
	return f.eventValue, nil
}

func (f *fakeSysDB) SetWorkflowStatus(_ context.Context, workflowUUID string, status sysdb.WorkflowStatusString, _ *int32) error {
	if status == sysdb.StatusCancelled {
		f.cancelled = append(f.cancelled, workflowUUID)
	}
	return nil
}

func newTestServer(t *testing.T, db *fakeSysDB) *httptest.Server {
	t.Helper()
	svc, err := NewService(db)
	require.NoError(t, err)

	router := mux.NewRouter()
	svc.LoadRoutes(router.PathPrefix("/api/v1").Subrouter())

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestNewService_RejectsNilDB(t *testing.T) {
	_, err := NewService(nil)
	require.Error(t, err)
}

func TestHandleListWorkflows_AppliesFilters(t *testing.T) {
	db := &fakeSysDB{workflows: []string{"W1", "W2"}}
	srv := newTestServer(t, db)

	resp, err := http.Get(srv.URL + "/api/v1/workflows?name=greeter&status=SUCCESS&limit=10")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		WorkflowUUIDs []string `json:"workflowUUIDs"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, []string{"W1", "W2"}, body.WorkflowUUIDs)

	require.NotNil(t, db.gotInput.Name)
	require.Equal(t, "greeter", *db.gotInput.Name)
	require.NotNil(t, db.gotInput.Status)
	require.Equal(t, sysdb.StatusSuccess, *db.gotInput.Status)
	require.NotNil(t, db.gotInput.Limit)
	require.Equal(t, 10, *db.gotInput.Limit)
}

func TestHandleListWorkflows_RejectsBadLimit(t *testing.T) {
	srv := newTestServer(t, &fakeSysDB{})

	resp, err := http.Get(srv.URL + "/api/v1/workflows?limit=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleGetWorkflow_NotFound(t *testing.T) {
	srv := newTestServer(t, &fakeSysDB{})

	resp, err := http.Get(srv.URL + "/api/v1/workflows/unknown")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleGetWorkflow_ReturnsInfo(t *testing.T) {
	db := &fakeSysDB{info: &sysdb.WorkflowInformation{
		WorkflowUUID: "W1", Status: sysdb.StatusSuccess, Name: "greeter",
	}}
	srv := newTestServer(t, db)

	resp, err := http.Get(srv.URL + "/api/v1/workflows/W1")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info sysdb.WorkflowInformation
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Equal(t, "W1", info.WorkflowUUID)
	require.Equal(t, sysdb.StatusSuccess, info.Status)
}

func TestHandleAwaitResult_ErrorIsBusinessOutcome(t *testing.T) {
	db := &fakeSysDB{resultErr: errors.New("step exploded")}
	srv := newTestServer(t, db)

	resp, err := http.Get(srv.URL + "/api/v1/workflows/W1/result")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ERROR", body["status"])
	require.Equal(t, "step exploded", body["error"])
}

func TestHandleGetEvent_ParsesTimeout(t *testing.T) {
	value := `"v"`
	db := &fakeSysDB{eventValue: &value}
	srv := newTestServer(t, db)

	resp, err := http.Get(srv.URL + "/api/v1/workflows/W1/events/progress?timeout=2.5")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "progress", db.gotEventKey)
	require.Equal(t, 2.5, db.gotTimeout)
}

func TestHandleGetEvent_TimeoutIsNotFound(t *testing.T) {
	srv := newTestServer(t, &fakeSysDB{})

	resp, err := http.Get(srv.URL + "/api/v1/workflows/W1/events/progress?timeout=0")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandleCancelWorkflow(t *testing.T) {
	db := &fakeSysDB{}
	srv := newTestServer(t, db)

	resp, err := http.Post(srv.URL+"/api/v1/workflows/W1/cancel", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, []string{"W1"}, db.cancelled)
}
