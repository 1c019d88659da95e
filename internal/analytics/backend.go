// Package analytics wraps the external AnalyticsBackend (the upstream
// analytics query execution service, which is out of scope here — only its
// interface is modelled here) in a typed client: submit, poll, normalise.
package analytics

import "context"

// ExecutionState is the backend-reported state of a submitted query execution.
type ExecutionState string

const (
	StatePending   ExecutionState = "PENDING"
	StateExecuting ExecutionState = "EXECUTING"
	StateCompleted ExecutionState = "COMPLETED"
	StateFailed    ExecutionState = "FAILED"
)

// QueryMeta carries execution diagnostics alongside a QueryResult.
type QueryMeta struct {
	ExecutionTimeMs int64
	TotalRows       int
}

// QueryResult is the normalised output of a completed execution.
type QueryResult struct {
	Rows []map[string]string
	Meta QueryMeta
}

// Backend is the external collaborator: a remote SQL-like query execution
// service. AnalyticsClient is the only caller; Backend itself carries no
// business logic.
type Backend interface {
	// Execute submits a parameterised query and returns an execution id.
	Execute(ctx context.Context, queryID string, params map[string]any) (executionID string, err error)

	// Status polls the current state of an execution.
	Status(ctx context.Context, executionID string) (ExecutionState, error)

	// Results fetches the result rows of a completed execution. Called at
	// most once per execution by AnalyticsClient.
	Results(ctx context.Context, executionID string) (rows []map[string]any, meta QueryMeta, err error)
}

// BackendError carries the raw HTTP-ish status information Backend
// implementations use to report failures, so AnalyticsClient can classify
// them into the domain error taxonomy without Backend depending on domain.
type BackendError struct {
	StatusCode int
	Message    string
	Line       *int
	Column     *int
}

func (e *BackendError) Error() string {
	return e.Message
}
