package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultHTTPTimeout bounds a single REST call to the query execution service.
const DefaultHTTPTimeout = 30 * time.Second

// HTTPBackend implements Backend over a REST-shaped query execution service:
// POST to submit, GET to poll status, GET to fetch rows. The concrete wire
// shape of that service is an external detail; only the three calls below
// are load-bearing.
type HTTPBackend struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewHTTPBackend builds an HTTPBackend against baseURL, authenticating with
// apiKey via a bearer token.
func NewHTTPBackend(baseURL, apiKey string) *HTTPBackend {
	return &HTTPBackend{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: DefaultHTTPTimeout},
	}
}

type executeRequest struct {
	QueryID string         `json:"query_id"`
	Params  map[string]any `json:"params"`
}

type executeResponse struct {
	ExecutionID string `json:"execution_id"`
}

func (b *HTTPBackend) Execute(ctx context.Context, queryID string, params map[string]any) (string, error) {
	var resp executeResponse
	if err := b.post(ctx, "/executions", executeRequest{QueryID: queryID, Params: params}, &resp); err != nil {
		return "", err
	}
	return resp.ExecutionID, nil
}

type statusResponse struct {
	State string `json:"state"`
}

func (b *HTTPBackend) Status(ctx context.Context, executionID string) (ExecutionState, error) {
	var resp statusResponse
	if err := b.get(ctx, "/executions/"+executionID, &resp); err != nil {
		return "", err
	}
	return ExecutionState(resp.State), nil
}

type resultsResponse struct {
	Rows            []map[string]any `json:"rows"`
	ExecutionTimeMs int64            `json:"execution_time_ms"`
}

func (b *HTTPBackend) Results(ctx context.Context, executionID string) ([]map[string]any, QueryMeta, error) {
	var resp resultsResponse
	if err := b.get(ctx, "/executions/"+executionID+"/results", &resp); err != nil {
		return nil, QueryMeta{}, err
	}
	return resp.Rows, QueryMeta{ExecutionTimeMs: resp.ExecutionTimeMs, TotalRows: len(resp.Rows)}, nil
}

func (b *HTTPBackend) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return b.do(req, out)
}

func (b *HTTPBackend) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	return b.do(req, out)
}

func (b *HTTPBackend) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+b.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("analytics backend request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read analytics backend response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &BackendError{StatusCode: resp.StatusCode, Message: string(data)}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode analytics backend response: %w", err)
		}
	}
	return nil
}

var _ Backend = (*HTTPBackend)(nil)
