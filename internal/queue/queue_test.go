package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dbosgo/dbosgo/internal/executor"
	"github.com/dbosgo/dbosgo/internal/sysdb"
)

type fakeAdmitter struct {
	admitted map[string][]string
	err      error
	calls    []string
}

func (f *fakeAdmitter) StartQueuedWorkflows(_ context.Context, queueName string, _ *int, _ *sysdb.RateLimit) ([]string, error) {
	f.calls = append(f.calls, queueName)
	if f.err != nil {
		return nil, f.err
	}
	return f.admitted[queueName], nil
}

type fakeExecutor struct {
	executed []string
	err      error
}

func (f *fakeExecutor) ExecuteByID(_ context.Context, workflowUUID string) (executor.Handle, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.executed = append(f.executed, workflowUUID)
	return fakeHandle(workflowUUID), nil
}

func (f *fakeExecutor) StartWorkflow(context.Context, executor.StartRequest) (executor.Handle, error) {
	return nil, errors.New("not implemented")
}

type fakeHandle string

func (h fakeHandle) WorkflowID() string                  { return string(h) }
func (h fakeHandle) Result(context.Context) (any, error) { return nil, nil }

func TestDispatcher_HandsAdmittedWorkflowsToExecutor(t *testing.T) {
	admitter := &fakeAdmitter{admitted: map[string][]string{"Q": {"W1", "W2"}}}
	exec := &fakeExecutor{}

	registry := NewRegistry()
	two := 2
	registry.Register(&Queue{Name: "Q", Concurrency: &two})

	d := NewDispatcher(admitter, registry, exec, nil)
	d.runOnce(context.Background())

	require.Equal(t, []string{"Q"}, admitter.calls)
	require.Equal(t, []string{"W1", "W2"}, exec.executed)
}

func TestDispatcher_IteratesAllRegisteredQueues(t *testing.T) {
	admitter := &fakeAdmitter{admitted: map[string][]string{}}
	registry := NewRegistry()
	registry.Register(&Queue{Name: "A"})
	registry.Register(&Queue{Name: "B"})

	d := NewDispatcher(admitter, registry, &fakeExecutor{}, nil)
	d.runOnce(context.Background())

	require.ElementsMatch(t, []string{"A", "B"}, admitter.calls)
}

func TestDispatcher_AdmissionErrorDoesNotStopLoop(t *testing.T) {
	admitter := &fakeAdmitter{err: errors.New("db down")}
	registry := NewRegistry()
	registry.Register(&Queue{Name: "Q"})

	d := NewDispatcher(admitter, registry, &fakeExecutor{}, nil)
	require.NotPanics(t, func() { d.runOnce(context.Background()) })
}

func TestDispatcher_ExecutorErrorDoesNotStopLoop(t *testing.T) {
	admitter := &fakeAdmitter{admitted: map[string][]string{"Q": {"W1"}}}
	exec := &fakeExecutor{err: errors.New("function not registered")}
	registry := NewRegistry()
	registry.Register(&Queue{Name: "Q"})

	d := NewDispatcher(admitter, registry, exec, nil)
	require.NotPanics(t, func() { d.runOnce(context.Background()) })
}

func TestRegistry_ReplaceByName(t *testing.T) {
	registry := NewRegistry()
	one := 1
	registry.Register(&Queue{Name: "Q"})
	registry.Register(&Queue{Name: "Q", Concurrency: &one})

	queues := registry.Queues()
	require.Len(t, queues, 1)
	require.NotNil(t, queues[0].Concurrency)
}
