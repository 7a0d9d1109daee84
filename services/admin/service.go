// Package admin exposes the durable-execution journal over HTTP: listing
// and inspecting workflows, awaiting results, reading published events, and
// cancelling. It is the illustrative wiring of the external HTTP
// collaborator, not part of the core journal protocol.
package admin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/dbosgo/dbosgo/internal/sysdb"
)

type contextKey string

const requestIDKey contextKey = "requestID"

// SystemDB is the slice of the system database journal the admin surface
// reads from. Depending on the interface rather than *sysdb.SysDB keeps the
// HTTP layer decoupled from persistence.
type SystemDB interface {
	GetWorkflows(ctx context.Context, input sysdb.GetWorkflowsInput) ([]string, error)
	GetWorkflowInfo(ctx context.Context, workflowUUID string, getRequest bool) (*sysdb.WorkflowInformation, error)
	AwaitWorkflowResult(ctx context.Context, workflowUUID string) (any, error)
	GetEvent(ctx context.Context, targetUUID, key string, timeoutSeconds float64, callerCtx *sysdb.CallerContext) (*string, error)
	SetWorkflowStatus(ctx context.Context, workflowUUID string, status sysdb.WorkflowStatusString, resetRecoveryAttemptsTo *int32) error
}

// Service handles HTTP requests for workflow administration.
type Service struct {
	sysDB SystemDB
}

// NewService creates an admin Service backed by the given system database.
func NewService(sysDB SystemDB) (*Service, error) {
	if sysDB == nil {
		return nil, fmt.Errorf("service: system database cannot be nil")
	}
	return &Service{sysDB: sysDB}, nil
}

// requestIDMiddleware assigns a unique ID to each request for log correlation.
// If the client sends X-Request-ID, it's reused; otherwise a new UUID is generated.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), requestIDKey, id)
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// jsonMiddleware sets the Content-Type header to application/json
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	router := parentRouter.PathPrefix("/workflows").Subrouter()
	router.StrictSlash(false)
	router.Use(requestIDMiddleware)
	router.Use(jsonMiddleware)

	router.HandleFunc("", s.HandleListWorkflows).Methods("GET")
	router.HandleFunc("/{id}", s.HandleGetWorkflow).Methods("GET")
	router.HandleFunc("/{id}/result", s.HandleAwaitResult).Methods("GET")
	router.HandleFunc("/{id}/events/{key}", s.HandleGetEvent).Methods("GET")
	router.HandleFunc("/{id}/cancel", s.HandleCancelWorkflow).Methods("POST")
}
