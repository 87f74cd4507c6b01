package taskmarketsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Taskmarket HTTP API client. Amounts are decimal token strings.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Model represents a registered model.
type Model struct {
	ID                string `json:"id"`
	Owner             string `json:"owner"`
	Fee               string `json:"fee"`
	Rate              string `json:"rate"`
	CID               string `json:"cid"`
	AllowListRequired bool   `json:"allow_list_required"`
}

// Task represents a submitted task.
type Task struct {
	ID          string `json:"id"`
	ModelID     string `json:"model_id"`
	Owner       string `json:"owner"`
	Fee         string `json:"fee"`
	Input       string `json:"input,omitempty"`
	BlockNumber int64  `json:"block_number"`
}

// Commitment is a signaled commitment hash.
type Commitment struct {
	Hash        string `json:"hash"`
	Validator   string `json:"validator,omitempty"`
	BlockNumber int64  `json:"block_number,omitempty"`
}

// Solution represents a revealed solution.
type Solution struct {
	TaskID    string `json:"task_id"`
	Validator string `json:"validator"`
	CID       string `json:"cid"`
	Stake     string `json:"stake"`
	Claimed   bool   `json:"claimed"`
	Status    string `json:"status"`
}

// Contestation represents a dispute over a solution.
type Contestation struct {
	TaskID    string `json:"task_id"`
	Contestor string `json:"contestor"`
	CreatedAt int64  `json:"created_at"`
	YeaWeight int64  `json:"yea_weight"`
	NayWeight int64  `json:"nay_weight"`
	Outcome   string `json:"outcome,omitempty"`
	Resolved  bool   `json:"resolved"`
}

// FinishResult reports one resolution batch.
type FinishResult struct {
	Start    int64  `json:"start"`
	End      int64  `json:"end"`
	Outcome  string `json:"outcome,omitempty"`
	Resolved bool   `json:"resolved"`
}

// Validator is a staking account.
type Validator struct {
	Address         string `json:"address"`
	Staked          string `json:"staked"`
	Available       string `json:"available"`
	PendingWithdraw string `json:"pending_withdraw"`
	Active          bool   `json:"active"`
}

// Status summarizes the market.
type Status struct {
	Height           int64  `json:"height"`
	TotalSupply      string `json:"total_supply"`
	Reward           string `json:"reward"`
	SlashingMode     bool   `json:"slashing_mode"`
	ValidatorMinimum string `json:"validator_minimum"`
	Paused           bool   `json:"paused"`
}

// Candidate is an election candidate with its weight this epoch.
type Candidate struct {
	Address string `json:"address"`
	Weight  string `json:"weight"`
}

// ElectionStatus describes the current epoch.
type ElectionStatus struct {
	Epoch            int64 `json:"epoch"`
	EpochStart       int64 `json:"epoch_start"`
	Count            int   `json:"count"`
	SecondsUntilNext int64 `json:"seconds_until_next"`
	NewEpoch         bool  `json:"new_epoch"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Block      int64          `json:"block"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Actor      string         `json:"actor"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses. Code is the error envelope code when present.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// RegisterModel registers a model owned by the caller.
func (c *Client) RegisterModel(ctx context.Context, fee, template string) (Model, error) {
	var resp Model
	err := c.do(ctx, http.MethodPost, "models", map[string]any{"fee": fee, "template": template}, &resp)
	return resp, err
}

// SubmitTask pays fee to queue a task for model.
func (c *Client) SubmitTask(ctx context.Context, model, fee, input string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", map[string]any{"model": model, "fee": fee, "input": input}, &resp)
	return resp, err
}

// GetTask fetches a task by id.
func (c *Client) GetTask(ctx context.Context, id string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// GenerateCommitment asks the server for the caller's commitment hash.
func (c *Client) GenerateCommitment(ctx context.Context, taskID, cid string) (string, error) {
	var resp Commitment
	err := c.do(ctx, http.MethodPost, "commitments/generate", map[string]any{"task_id": taskID, "cid": cid}, &resp)
	return resp.Hash, err
}

// SignalCommitment records a commitment hash.
func (c *Client) SignalCommitment(ctx context.Context, hash string) (Commitment, error) {
	var resp Commitment
	err := c.do(ctx, http.MethodPost, "commitments", map[string]any{"hash": hash}, &resp)
	return resp, err
}

// SubmitSolution reveals a committed solution.
func (c *Client) SubmitSolution(ctx context.Context, taskID, cid string) (Solution, error) {
	var resp Solution
	err := c.do(ctx, http.MethodPost, "solutions", map[string]any{"task_id": taskID, "cid": cid}, &resp)
	return resp, err
}

// GetSolution fetches the solution for a task.
func (c *Client) GetSolution(ctx context.Context, taskID string) (Solution, error) {
	var resp Solution
	err := c.do(ctx, http.MethodGet, "solutions/"+url.PathEscape(taskID), nil, &resp)
	return resp, err
}

// ClaimSolution claims an uncontested solution.
func (c *Client) ClaimSolution(ctx context.Context, taskID string) (Solution, error) {
	var resp Solution
	err := c.do(ctx, http.MethodPost, "solutions/"+url.PathEscape(taskID)+"/claim", nil, &resp)
	return resp, err
}

// Contest disputes the solution for a task.
func (c *Client) Contest(ctx context.Context, taskID string) (Contestation, error) {
	var resp Contestation
	err := c.do(ctx, http.MethodPost, "contestations/"+url.PathEscape(taskID), nil, &resp)
	return resp, err
}

// Vote casts a contestation vote.
func (c *Client) Vote(ctx context.Context, taskID string, yea bool) error {
	return c.do(ctx, http.MethodPost, "contestations/"+url.PathEscape(taskID)+"/votes", map[string]any{"yea": yea}, nil)
}

// FinishContestation runs one resolution batch.
func (c *Client) FinishContestation(ctx context.Context, taskID string, maxIterations int64) (FinishResult, error) {
	var resp FinishResult
	err := c.do(ctx, http.MethodPost, "contestations/"+url.PathEscape(taskID)+"/finish", map[string]any{"max_iterations": maxIterations}, &resp)
	return resp, err
}

// Deposit stakes amount for the caller.
func (c *Client) Deposit(ctx context.Context, amount string) (Validator, error) {
	var resp Validator
	err := c.do(ctx, http.MethodPost, "validators/deposit", map[string]any{"amount": amount}, &resp)
	return resp, err
}

// Status returns the market summary.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var resp Status
	err := c.do(ctx, http.MethodGet, "market/status", nil, &resp)
	return resp, err
}

// ElectionVote votes for candidates with one lock position.
func (c *Client) ElectionVote(ctx context.Context, positionID uint64, candidates ...string) error {
	return c.do(ctx, http.MethodPost, "election/votes", map[string]any{"candidates": candidates, "position_id": positionID}, nil)
}

// TopCandidates returns the leading candidates this epoch.
func (c *Client) TopCandidates(ctx context.Context) ([]Candidate, error) {
	var resp []Candidate
	err := c.do(ctx, http.MethodGet, "election/top", nil, &resp)
	return resp, err
}

// ElectionStatus returns the current epoch.
func (c *Client) ElectionStatus(ctx context.Context) (ElectionStatus, error) {
	var resp ElectionStatus
	err := c.do(ctx, http.MethodGet, "election/status", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing, newest first.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body == nil && method == http.MethodPost {
		body = map[string]any{}
	}
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code, apiErr.Message = env.Error.Code, env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
