package sysdb

import (
	"context"
	"time"
)

// BufferWorkflowStatus queues a status upsert for the next flush pass.
// Last-write-wins within a flush interval: a workflow that changes status
// twice between ticks only costs one row write.
func (s *SysDB) BufferWorkflowStatus(status WorkflowStatus) {
	s.mu.Lock()
	s.statusBuffer[status.WorkflowUUID] = status
	n := len(s.statusBuffer)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.BufferSize.WithLabelValues("status").Set(float64(n))
	}
}

// BufferWorkflowInputs queues the serialized inputs blob for the next flush
// pass and marks the workflow as a single-transaction temp workflow: its
// inputs must not reach the database before its status row does, because of
// the foreign key from workflow_inputs to workflow_status.
func (s *SysDB) BufferWorkflowInputs(workflowUUID, inputs string) {
	s.mu.Lock()
	s.inputsBuffer[workflowUUID] = inputs
	s.tempTxnWFIDs[workflowUUID] = struct{}{}
	n := len(s.inputsBuffer)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.BufferSize.WithLabelValues("inputs").Set(float64(n))
	}
}

// runBufferFlushLoop drains both write-back buffers, one batch per buffer
// per pass. Passes run back to back while entries remain; the loop waits one
// flush interval only after a pass that left both buffers empty or failed.
// Status flushes before inputs on every pass: workflow_inputs carries a
// foreign key to workflow_status, so the reverse order fails.
func (s *SysDB) runBufferFlushLoop(ctx context.Context) {
	interval := time.Duration(bufferFlushIntervalSecs * float64(time.Second))
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		s.isFlushingStatusBuffer = true
		s.mu.Unlock()

		start := time.Now()
		errored := false
		if err := s.flushStatusBuffer(ctx); err != nil {
			s.logger.Error("error while flushing status buffer", "error", err)
			errored = true
		}
		if err := s.flushInputsBuffer(ctx); err != nil {
			s.logger.Error("error while flushing inputs buffer", "error", err)
			errored = true
		}
		if s.metrics != nil {
			s.metrics.BufferFlushDuration.Observe(time.Since(start).Seconds())
		}

		s.mu.Lock()
		s.isFlushingStatusBuffer = false
		empty := len(s.statusBuffer) == 0 && len(s.inputsBuffer) == 0
		s.mu.Unlock()

		if empty || errored {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}
}

// flushStatusBuffer writes up to one batch of buffered status rows in a
// single transaction. On any error the whole batch rolls back and the popped
// entries return to the buffer for the next pass — without clobbering an
// entry that was re-buffered with a newer value in the meantime.
func (s *SysDB) flushStatusBuffer(ctx context.Context) error {
	s.mu.Lock()
	if len(s.statusBuffer) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := make(map[string]WorkflowStatus, bufferFlushBatchSize)
	for id, st := range s.statusBuffer {
		if len(batch) == bufferFlushBatchSize {
			break
		}
		batch[id] = st
		delete(s.statusBuffer, id)
	}
	s.mu.Unlock()

	flush := func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		for _, st := range batch {
			if err := s.UpdateWorkflowStatus(ctx, tx, st, true, false); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	}

	if err := flush(); err != nil {
		s.restoreStatusBatch(batch)
		return err
	}

	if s.metrics != nil {
		s.mu.Lock()
		n := len(s.statusBuffer)
		s.mu.Unlock()
		s.metrics.BufferSize.WithLabelValues("status").Set(float64(n))
	}
	return nil
}

// flushInputsBuffer writes up to one batch of buffered inputs rows. A temp
// txn workflow's inputs are only eligible once its status row has been
// exported; everyone else's status was already durable before the inputs
// were buffered.
func (s *SysDB) flushInputsBuffer(ctx context.Context) error {
	s.mu.Lock()
	if len(s.inputsBuffer) == 0 {
		s.mu.Unlock()
		return nil
	}
	batch := make(map[string]string, bufferFlushBatchSize)
	for id, inputs := range s.inputsBuffer {
		if len(batch) == bufferFlushBatchSize {
			break
		}
		_, exported := s.exportedTempTxnWFStatus[id]
		_, temp := s.tempTxnWFIDs[id]
		if temp && !exported {
			continue
		}
		batch[id] = inputs
		delete(s.inputsBuffer, id)
	}
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	flush := func() error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		for id, inputs := range batch {
			if err := s.UpdateWorkflowInputs(ctx, tx, id, inputs); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	}

	if err := flush(); err != nil {
		s.restoreInputsBatch(batch)
		return err
	}

	if s.metrics != nil {
		s.mu.Lock()
		n := len(s.inputsBuffer)
		s.mu.Unlock()
		s.metrics.BufferSize.WithLabelValues("inputs").Set(float64(n))
	}
	return nil
}

func (s *SysDB) restoreStatusBatch(batch map[string]WorkflowStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, st := range batch {
		if _, exists := s.statusBuffer[id]; !exists {
			s.statusBuffer[id] = st
		}
	}
}

func (s *SysDB) restoreInputsBatch(batch map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, inputs := range batch {
		if _, exists := s.inputsBuffer[id]; !exists {
			s.inputsBuffer[id] = inputs
		}
	}
}
