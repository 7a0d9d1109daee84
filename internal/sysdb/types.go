package sysdb

// WorkflowStatusString is one of the lifecycle states a workflow can be in.
type WorkflowStatusString string

const (
	StatusPending         WorkflowStatusString = "PENDING"
	StatusSuccess         WorkflowStatusString = "SUCCESS"
	StatusError           WorkflowStatusString = "ERROR"
	StatusRetriesExceeded WorkflowStatusString = "RETRIES_EXCEEDED"
	StatusCancelled       WorkflowStatusString = "CANCELLED"
	StatusEnqueued        WorkflowStatusString = "ENQUEUED"
)

// nullTopic is substituted for a caller-supplied topic of "" so that
// send/recv without an explicit topic still share a single, well-defined
// FIFO lane rather than colliding with a caller who legitimately named
// their topic the empty string.
const nullTopic = "__null__topic__"

// WorkflowStatus is the durable row describing one workflow invocation.
type WorkflowStatus struct {
	WorkflowUUID       string
	Status             WorkflowStatusString
	Name               string
	ClassName          *string
	ConfigName         *string
	Output             *string
	Error              *string
	ExecutorID         *string
	ApplicationVersion *string
	ApplicationID      *string
	Request            *string
	RecoveryAttempts   int64
	AuthenticatedUser  *string
	AuthenticatedRoles *string
	AssumedRole        *string
	QueueName          *string
	CreatedAt          int64
}

// RecordedResult is the journaled outcome of a previously-executed step.
type RecordedResult struct {
	Output *string
	Error  *string
}

// OperationResult is what gets written to operation_outputs for a single
// step within a workflow.
type OperationResult struct {
	WorkflowUUID string
	FunctionID   int64
	Output       *string
	Error        *string
}

// WorkflowInputs is the serialized {args, kwargs} blob recorded once per
// workflow.
type WorkflowInputs struct {
	WorkflowUUID string
	Inputs       string
}

// WorkflowInformation is the read-side projection returned by
// GetWorkflowInfo, combining status, recorded I/O, and (optionally) the
// original request.
type WorkflowInformation struct {
	WorkflowUUID       string
	Status             WorkflowStatusString
	Name               string
	ClassName          *string
	ConfigName         *string
	AuthenticatedUser  *string
	AssumedRole        *string
	AuthenticatedRoles *string
	Input              *WorkflowInputs
	Output             *string
	Error              *string
	Request            *string
}

// GetWorkflowsInput is the search criteria for GetWorkflows.
type GetWorkflowsInput struct {
	Name               *string
	AuthenticatedUser  *string
	StartTimeEpochMs   *int64
	EndTimeEpochMs     *int64
	Status             *WorkflowStatusString
	ApplicationVersion *string
	Limit              *int
}

// RateLimit restricts admission from a queue to at most Limit starts per
// rolling Period.
type RateLimit struct {
	Limit  int
	Period float64 // seconds
}
