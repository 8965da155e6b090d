// Package client provides a Go client for the codeproof API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a codeproof API client
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// New creates a new codeproof client. Verifications replay transactions
// against a remote node, so the default timeout is generous.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// VerifyRequest is the request for verifying a deployed contract
type VerifyRequest struct {
	Address  string `json:"address"`
	Contract string `json:"contract"`
	Block    string `json:"block,omitempty"`
	// ConstructorArgs is sent even when empty: an empty list is an explicit
	// "no arguments", nil leaves the choice to the server.
	ConstructorArgs        []string `json:"constructorArgs"`
	EncodedConstructorArgs string   `json:"encodedConstructorArgs,omitempty"`
	Ignore                 string   `json:"ignore,omitempty"`
}

// Result is the outcome of comparing one kind of bytecode
type Result struct {
	BytecodeType string `json:"bytecodeType"`
	MatchType    string `json:"matchType"`
	Message      string `json:"message,omitempty"`
}

// Report is the response for a verification run
type Report struct {
	RunID                 string   `json:"runId,omitempty"`
	ChainID               uint64   `json:"chainId"`
	Address               string   `json:"address"`
	Contract              string   `json:"contract"`
	Creation              string   `json:"creation"`
	CreationTx            string   `json:"creationTx,omitempty"`
	Block                 uint64   `json:"block,omitempty"`
	EVMVersion            string   `json:"evmVersion"`
	ConstructorArgs       string   `json:"constructorArgs"`
	ConstructorArgsSource string   `json:"constructorArgsSource"`
	Results               []Result `json:"results"`
}

// Run is a recorded verification run
type Run struct {
	ID        string   `json:"id"`
	ChainID   string   `json:"chainId"`
	Address   string   `json:"address"`
	Contract  string   `json:"contract"`
	Predeploy bool     `json:"predeploy"`
	Verified  bool     `json:"verified"`
	Error     string   `json:"error,omitempty"`
	CreatedAt string   `json:"createdAt"`
	Block     int64    `json:"block,omitempty"`
	Results   []Result `json:"results,omitempty"`
}

// ListRunsOptions filters and pages a run listing
type ListRunsOptions struct {
	ChainID  string
	Address  string
	Contract string
	Limit    int
	Cursor   string
}

// ListRunsResponse is the response for listing runs
type ListRunsResponse struct {
	Data       []Run      `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// Pagination contains pagination info
type Pagination struct {
	Limit      int    `json:"limit"`
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// APIError represents an API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Verify runs a verification on the server
func (c *Client) Verify(ctx context.Context, req VerifyRequest) (*Report, error) {
	var resp Report
	if err := c.post(ctx, "/api/v1/verify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRuns lists recorded verification runs, newest first
func (c *Client) ListRuns(ctx context.Context, opts ListRunsOptions) (*ListRunsResponse, error) {
	q := url.Values{}
	if opts.ChainID != "" {
		q.Set("chain_id", opts.ChainID)
	}
	if opts.Address != "" {
		q.Set("address", opts.Address)
	}
	if opts.Contract != "" {
		q.Set("contract", opts.Contract)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}

	path := "/api/v1/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp ListRunsResponse
	if err := c.get(ctx, path, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetRun gets a run by ID
func (c *Client) GetRun(ctx context.Context, id string) (*Run, error) {
	var resp Run
	if err := c.get(ctx, "/api/v1/runs/"+url.PathEscape(id), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	return c.do(req, result)
}

func (c *Client) post(ctx context.Context, path string, body, result any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.parseError(resp)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func (c *Client) parseError(resp *http.Response) error {
	var errResp struct {
		Error APIError `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Code == "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, resp.Status)
	}
	errResp.Error.Status = resp.StatusCode
	return &errResp.Error
}
