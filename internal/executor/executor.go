// Package executor declares the callback surface the core uses to drive
// workflow invocation. The executor itself — decorator registration,
// invocation semantics, the per-workflow step counter — lives outside the
// core; the queue dispatcher and recovery engine only ever see these
// interfaces.
package executor

import "context"

// Handle tracks one workflow invocation.
type Handle interface {
	// WorkflowID returns the UUID of the tracked workflow.
	WorkflowID() string

	// Result blocks until the workflow completes, returning its
	// deserialized output or its recorded error.
	Result(ctx context.Context) (any, error)
}

// StartRequest describes a workflow to start or enqueue.
type StartRequest struct {
	Name string

	// QueueName, when set, routes the workflow through the named queue
	// instead of starting it directly.
	QueueName string

	// ImmediateStart bypasses queue admission: the workflow begins as
	// PENDING rather than ENQUEUED.
	ImmediateStart bool

	// Inputs is the serialized {args, kwargs} blob.
	Inputs string
}

// Executor is the workflow invocation surface consumed by the queue
// dispatcher and the recovery engine.
type Executor interface {
	// ExecuteByID re-drives a known workflow from its journal.
	ExecuteByID(ctx context.Context, workflowUUID string) (Handle, error)

	// StartWorkflow enqueues or starts a new workflow.
	StartWorkflow(ctx context.Context, req StartRequest) (Handle, error)
}

type recoveryKey struct{}

// WithRecovery marks ctx as running inside workflow recovery. The executor
// checks this to route status writes through the recovery_attempts-
// incrementing upsert instead of the plain one.
func WithRecovery(ctx context.Context) context.Context {
	return context.WithValue(ctx, recoveryKey{}, true)
}

// InRecovery reports whether ctx was marked by WithRecovery.
func InRecovery(ctx context.Context) bool {
	v, _ := ctx.Value(recoveryKey{}).(bool)
	return v
}
