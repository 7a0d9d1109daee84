package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dbosgo/dbosgo/internal/dboserr"
	"github.com/dbosgo/dbosgo/internal/executor"
	"github.com/dbosgo/dbosgo/internal/serde"
	"github.com/dbosgo/dbosgo/internal/sysdb"
)

// workflowFunc is a registered workflow body. wfUUID identifies the running
// workflow; inputs is the serialized inputs blob recorded at start. The
// returned value is serialized into the workflow's durable output.
type workflowFunc func(ctx context.Context, rt *demoRuntime, wfUUID, inputs string) (any, error)

// demoRuntime is what a workflow body gets to touch: the journal, plus a
// per-invocation step counter so each durable operation gets its own
// function_id.
type demoRuntime struct {
	sysDB *sysdb.SysDB

	mu     sync.Mutex
	nextFn int64
}

// NextFunctionID hands out monotonically increasing step IDs within one
// workflow invocation, matching the order the application issues steps in.
func (rt *demoRuntime) NextFunctionID() int64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.nextFn++
	return rt.nextFn
}

// demoExecutor is a deliberately small workflow executor: a name-to-function
// registry plus the journal protocol around each invocation. It exists so
// the queue dispatcher and recovery engine have a real callback surface to
// drive; production deployments supply their own.
type demoExecutor struct {
	sysDB      *sysdb.SysDB
	serializer serde.Serializer

	mu        sync.RWMutex
	workflows map[string]workflowFunc
}

func newDemoExecutor(sysDB *sysdb.SysDB) *demoExecutor {
	return &demoExecutor{
		sysDB:      sysDB,
		serializer: serde.JSONSerializer{},
		workflows:  make(map[string]workflowFunc),
	}
}

func (e *demoExecutor) RegisterWorkflow(name string, fn workflowFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[name] = fn
}

func (e *demoExecutor) lookup(name string) (workflowFunc, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn, ok := e.workflows[name]
	return fn, ok
}

// ExecuteByID re-drives a known workflow from its journal: admission by the
// dispatcher, or re-execution by the recovery engine.
func (e *demoExecutor) ExecuteByID(ctx context.Context, workflowUUID string) (executor.Handle, error) {
	status, err := e.sysDB.GetWorkflowStatus(ctx, workflowUUID)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, fmt.Errorf("executor: workflow %s has no status row", workflowUUID)
	}

	fn, ok := e.lookup(status.Name)
	if !ok {
		return nil, &dboserr.FunctionNotFoundError{WorkflowID: workflowUUID, Name: status.Name}
	}

	executorID := "local"
	status.ExecutorID = &executorID
	if err := e.sysDB.UpdateWorkflowStatus(ctx, nil, *status, false, executor.InRecovery(ctx)); err != nil {
		return nil, err
	}

	go e.run(context.WithoutCancel(ctx), workflowUUID, status.Name, fn)
	return &demoHandle{workflowUUID: workflowUUID, sysDB: e.sysDB}, nil
}

// StartWorkflow creates the durable record for a new workflow and either
// enqueues it or begins executing immediately.
func (e *demoExecutor) StartWorkflow(ctx context.Context, req executor.StartRequest) (executor.Handle, error) {
	fn, ok := e.lookup(req.Name)
	if !ok {
		return nil, &dboserr.FunctionNotFoundError{Name: req.Name}
	}

	workflowUUID := uuid.New().String()
	executorID := "local"
	initialStatus := sysdb.StatusPending
	var queueName *string
	if req.QueueName != "" && !req.ImmediateStart {
		initialStatus = sysdb.StatusEnqueued
		queueName = &req.QueueName
	}

	if err := e.sysDB.UpdateWorkflowStatus(ctx, nil, sysdb.WorkflowStatus{
		WorkflowUUID: workflowUUID,
		Status:       initialStatus,
		Name:         req.Name,
		ExecutorID:   &executorID,
		QueueName:    queueName,
	}, false, false); err != nil {
		return nil, err
	}
	if err := e.sysDB.UpdateWorkflowInputs(ctx, nil, workflowUUID, req.Inputs); err != nil {
		return nil, err
	}

	if queueName != nil {
		if err := e.sysDB.EnqueueWorkflow(ctx, workflowUUID, *queueName); err != nil {
			return nil, err
		}
	} else {
		go e.run(context.WithoutCancel(ctx), workflowUUID, req.Name, fn)
	}

	return &demoHandle{workflowUUID: workflowUUID, sysDB: e.sysDB}, nil
}

func (e *demoExecutor) run(ctx context.Context, workflowUUID, name string, fn workflowFunc) {
	inputs := ""
	if recorded, err := e.sysDB.GetWorkflowInputs(ctx, workflowUUID); err == nil && recorded != nil {
		inputs = recorded.Inputs
	}

	rt := &demoRuntime{sysDB: e.sysDB}
	result, wfErr := fn(ctx, rt, workflowUUID, inputs)

	final := sysdb.WorkflowStatus{WorkflowUUID: workflowUUID, Name: name}
	if wfErr != nil {
		blob, serr := e.serializer.Serialize(wfErr)
		if serr != nil {
			slog.Error("failed to serialize workflow error", "workflow_uuid", workflowUUID, "error", serr)
			return
		}
		final.Status = sysdb.StatusError
		final.Error = &blob
	} else {
		blob, serr := e.serializer.Serialize(result)
		if serr != nil {
			slog.Error("failed to serialize workflow output", "workflow_uuid", workflowUUID, "error", serr)
			return
		}
		final.Status = sysdb.StatusSuccess
		final.Output = &blob
	}

	if err := e.sysDB.UpdateWorkflowStatus(ctx, nil, final, true, false); err != nil {
		slog.Error("failed to record workflow completion", "workflow_uuid", workflowUUID, "error", err)
		return
	}
	if err := e.sysDB.RemoveFromQueue(ctx, workflowUUID); err != nil {
		slog.Warn("failed to remove completed workflow from queue", "workflow_uuid", workflowUUID, "error", err)
	}
}

type demoHandle struct {
	workflowUUID string
	sysDB        *sysdb.SysDB
}

func (h *demoHandle) WorkflowID() string { return h.workflowUUID }

func (h *demoHandle) Result(ctx context.Context) (any, error) {
	return h.sysDB.AwaitWorkflowResult(ctx, h.workflowUUID)
}

// greeterWorkflow publishes a greeting as a workflow event and returns it
// as the durable output. The event publish is a journaled step, so a
// re-execution after a crash is a no-op.
func greeterWorkflow(ctx context.Context, rt *demoRuntime, wfUUID, inputs string) (any, error) {
	var in struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(inputs), &in); err != nil {
		return nil, fmt.Errorf("greeter: decode inputs: %w", err)
	}

	greeting := fmt.Sprintf("Greetings, %s!", in.Name)

	blob, err := serde.JSONSerializer{}.Serialize(greeting)
	if err != nil {
		return nil, err
	}
	if err := rt.sysDB.SetEvent(ctx, wfUUID, rt.NextFunctionID(), "greeting", blob); err != nil {
		return nil, err
	}

	return greeting, nil
}

// handleGreeting enqueues a greeter workflow for name and returns its
// workflow UUID; clients follow up on /workflows/{id}/result.
func handleGreeting(exec *demoExecutor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := mux.Vars(r)["name"]

		inputs, err := json.Marshal(map[string]string{"name": name})
		if err != nil {
			http.Error(w, "failed to encode inputs", http.StatusInternalServerError)
			return
		}

		handle, err := exec.StartWorkflow(r.Context(), executor.StartRequest{
			Name:      "greeter",
			QueueName: "greetings",
			Inputs:    string(inputs),
		})
		if err != nil {
			slog.Error("failed to enqueue greeting", "name", name, "error", err)
			http.Error(w, "failed to enqueue workflow", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(map[string]string{"workflowUUID": handle.WorkflowID()})
	}
}
