// Package recovery reclaims pending workflows on startup: any workflow left
// PENDING by a crashed process is re-driven through the executor, whose
// journal replay skips every step that already completed.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/dbosgo/dbosgo/internal/dboserr"
	"github.com/dbosgo/dbosgo/internal/executor"
	"github.com/dbosgo/dbosgo/internal/metrics"
)

// vmIDEnv marks a managed VM whose platform performs recovery externally;
// local startup recovery is skipped when it is set.
const vmIDEnv = "DBOS__VMID"

const retryInterval = time.Second

// pendingLister is the slice of the system database the engine needs.
type pendingLister interface {
	GetPendingWorkflows(ctx context.Context, executorID string) ([]string, error)
}

// Engine lists and re-executes pending workflows.
type Engine struct {
	sysDB   pendingLister
	exec    executor.Executor
	logger  *slog.Logger
	metrics *metrics.Registry
}

// New wires a recovery engine. metricsReg may be nil.
func New(sysDB pendingLister, exec executor.Executor, logger *slog.Logger, metricsReg *metrics.Registry) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{sysDB: sysDB, exec: exec, logger: logger, metrics: metricsReg}
}

// RecoverPendingWorkflows synchronously re-executes every PENDING workflow
// owned by each of executorIDs (defaulting to ["local"]). The "local"
// executor is skipped when DBOS__VMID is set, since the platform then owns
// recovery. Each execution runs under a recovery context, so the executor
// increments recovery_attempts as it re-drives the workflow.
func (e *Engine) RecoverPendingWorkflows(ctx context.Context, executorIDs []string) ([]executor.Handle, error) {
	if len(executorIDs) == 0 {
		executorIDs = []string{"local"}
	}

	var handles []executor.Handle
	for _, executorID := range executorIDs {
		if executorID == "local" {
			if vmID, ok := os.LookupEnv(vmIDEnv); ok && vmID != "" {
				e.logger.Debug("skipping local recovery inside managed VM", "vm_id", vmID)
				continue
			}
		}

		e.logger.Debug("recovering pending workflows", "executor_id", executorID)
		pending, err := e.sysDB.GetPendingWorkflows(ctx, executorID)
		if err != nil {
			return handles, err
		}

		recoveryCtx := executor.WithRecovery(ctx)
		for _, workflowUUID := range pending {
			handle, err := e.exec.ExecuteByID(recoveryCtx, workflowUUID)
			if err != nil {
				return handles, err
			}
			if e.metrics != nil {
				e.metrics.RecoveryAttempts.Inc()
			}
			handles = append(handles, handle)
		}
	}

	e.logger.Info("recovered pending workflows")
	return handles, nil
}

// RunStartupRecovery retries pending until it drains, tolerating workflows
// whose defining function hasn't been registered yet: registration order is
// decoupled from recovery order, so a FunctionNotFoundError only means
// "retry later", not "give up". Any other executor error is fatal and
// returned. Intended to run as a background goroutine on startup.
func (e *Engine) RunStartupRecovery(ctx context.Context, pending []string) error {
	for len(pending) > 0 && ctx.Err() == nil {
		if e.metrics != nil {
			e.metrics.RecoveryPending.Set(float64(len(pending)))
		}

		remaining, err := e.recoverBatch(ctx, pending)
		pending = remaining
		if err != nil {
			var notFound *dboserr.FunctionNotFoundError
			if errors.As(err, &notFound) {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(retryInterval):
				}
				continue
			}
			e.logger.Error("exception encountered when recovering workflows", "error", err)
			return err
		}
	}

	if e.metrics != nil {
		e.metrics.RecoveryPending.Set(0)
	}
	return nil
}

func (e *Engine) recoverBatch(ctx context.Context, pending []string) ([]string, error) {
	recoveryCtx := executor.WithRecovery(ctx)
	for len(pending) > 0 {
		workflowUUID := pending[0]
		if _, err := e.exec.ExecuteByID(recoveryCtx, workflowUUID); err != nil {
			return pending, err
		}
		if e.metrics != nil {
			e.metrics.RecoveryAttempts.Inc()
		}
		pending = pending[1:]
	}
	return pending, nil
}
