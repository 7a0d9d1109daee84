package sysdb

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const awaitResultPollInterval = time.Second

// AwaitWorkflowResult polls workflow_status until workflowUUID reaches
// SUCCESS (returning its deserialized output) or ERROR (returning its
// deserialized error). A missing row means the workflow hasn't been observed
// yet and polling continues; by contract there is no hard timeout, so
// callers that need one wrap this in a context deadline.
func (s *SysDB) AwaitWorkflowResult(ctx context.Context, workflowUUID string) (any, error) {
	for {
		var (
			status  WorkflowStatusString
			output  *string
			errBlob *string
		)
		err := s.pool.QueryRow(ctx, `
			SELECT status, output, error FROM dbos.workflow_status
			WHERE workflow_uuid = $1`, workflowUUID,
		).Scan(&status, &output, &errBlob)

		switch {
		case err == pgx.ErrNoRows:
			// Not yet observed; the workflow will show up eventually.
		case err != nil:
			return nil, fmt.Errorf("sysdb: await workflow result %s: %w", workflowUUID, err)
		case status == StatusSuccess:
			if output == nil {
				return nil, nil
			}
			value, err := s.serializer.Deserialize(*output)
			if err != nil {
				return nil, fmt.Errorf("sysdb: deserialize workflow %s output: %w", workflowUUID, err)
			}
			return value, nil
		case status == StatusError:
			if errBlob == nil {
				return nil, fmt.Errorf("sysdb: workflow %s failed with no recorded error", workflowUUID)
			}
			value, err := s.serializer.Deserialize(*errBlob)
			if err != nil {
				return nil, fmt.Errorf("sysdb: deserialize workflow %s error: %w", workflowUUID, err)
			}
			if wfErr, ok := value.(error); ok {
				return nil, wfErr
			}
			return nil, fmt.Errorf("sysdb: workflow %s failed: %v", workflowUUID, value)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(awaitResultPollInterval):
		}
	}
}
