package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/dbosgo/dbosgo/internal/sysdb"
)

// defaultEventTimeoutSecs bounds an event read when the caller doesn't pass
// an explicit ?timeout= value.
const defaultEventTimeoutSecs = 60.0

// HandleListWorkflows returns workflow UUIDs matching the query-parameter
// filters (name, status, user, limit), newest first.
func (s *Service) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)

	var input sysdb.GetWorkflowsInput
	q := r.URL.Query()
	if name := q.Get("name"); name != "" {
		input.Name = &name
	}
	if user := q.Get("user"); user != "" {
		input.AuthenticatedUser = &user
	}
	if status := q.Get("status"); status != "" {
		st := sysdb.WorkflowStatusString(status)
		input.Status = &st
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			writeErrorJSON(w, "INVALID_LIMIT", "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		input.Limit = &limit
	}

	ids, err := s.sysDB.GetWorkflows(r.Context(), input)
	if err != nil {
		slog.Error("failed to list workflows", "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	if ids == nil {
		ids = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"workflowUUIDs": ids})
}

// HandleGetWorkflow returns the full read-side projection for one workflow:
// status, recorded inputs, output or error. Pass ?request=true to include
// the original request blob.
func (s *Service) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	id := mux.Vars(r)["id"]

	getRequest := r.URL.Query().Get("request") == "true"
	info, err := s.sysDB.GetWorkflowInfo(r.Context(), id, getRequest)
	if err != nil {
		slog.Error("failed to get workflow info", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	if info == nil {
		slog.Warn("workflow not found", "id", id, "requestId", rid)
		writeErrorJSON(w, "NOT_FOUND", "workflow not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// HandleAwaitResult blocks until the workflow completes and returns its
// deserialized output, or the recorded error for a failed workflow. The
// await itself has no upper bound; the client's connection lifetime (via
// the request context) is the effective timeout.
func (s *Service) HandleAwaitResult(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	id := mux.Vars(r)["id"]
	slog.Debug("awaiting workflow result", "id", id, "requestId", rid)

	output, err := s.sysDB.AwaitWorkflowResult(r.Context(), id)
	if err != nil {
		if r.Context().Err() != nil {
			return // client went away
		}
		slog.Warn("workflow completed with error", "id", id, "requestId", rid, "error", err)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ERROR", "error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "SUCCESS", "output": output})
}

// HandleGetEvent reads the latest value the workflow published under key,
// waiting up to ?timeout= seconds for it to appear.
func (s *Service) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	vars := mux.Vars(r)
	id, key := vars["id"], vars["key"]

	timeout := defaultEventTimeoutSecs
	if timeoutStr := r.URL.Query().Get("timeout"); timeoutStr != "" {
		parsed, err := strconv.ParseFloat(timeoutStr, 64)
		if err != nil || parsed < 0 {
			writeErrorJSON(w, "INVALID_TIMEOUT", "timeout must be a non-negative number", http.StatusBadRequest)
			return
		}
		timeout = parsed
	}

	value, err := s.sysDB.GetEvent(r.Context(), id, key, timeout, nil)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		slog.Error("failed to get event", "id", id, "key", key, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	if value == nil {
		writeErrorJSON(w, "NOT_FOUND", "event not published within timeout", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"key": key, "value": *value})
}

// HandleCancelWorkflow sets the workflow's status to CANCELLED. It only
// writes the status row; a workflow that is already running is not
// interrupted.
func (s *Service) HandleCancelWorkflow(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	id := mux.Vars(r)["id"]
	slog.Debug("cancelling workflow", "id", id, "requestId", rid)

	if err := s.sysDB.SetWorkflowStatus(r.Context(), id, sysdb.StatusCancelled, nil); err != nil {
		slog.Error("failed to cancel workflow", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"workflowUUID": id, "status": sysdb.StatusCancelled})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeErrorJSON(w http.ResponseWriter, errCode, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": errCode, "message": message})
}

// reqID extracts the request ID from context (set by requestIDMiddleware).
func reqID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}
