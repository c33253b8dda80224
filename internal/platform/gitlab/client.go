// Package gitlab adapts the GitLab REST API (v4) to the
// platform.GitOpsProvider capability interface. No SDK for GitLab exists
// anywhere in the reference pack, so this talks to the API directly over
// net/http in the teacher's outbound-REST-client idiom.
package gitlab

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/vitaliisemenov/guard/internal/platform"
	"github.com/vitaliisemenov/guard/internal/resilience"
)

// Config controls connection, auth, and rate-limit behavior.
type Config struct {
	BaseURL    string // default: https://gitlab.com
	Token      string
	Timeout    time.Duration
	MaxRetries int
	RateLimit  float64 // requests per minute
	Logger     *slog.Logger

	// Limiters is the shared rate-limiter registry the caller's other
	// platform clients also use, keyed "gitlab_api" here. A nil value
	// gets a private registry, scoped to this client alone.
	Limiters *resilience.RateLimiterRegistry
}

func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://gitlab.com",
		Timeout:    15 * time.Second,
		MaxRetries: 3,
		RateLimit:  300,
		Logger:     slog.Default(),
	}
}

// Client implements platform.GitOpsProvider against the GitLab REST API.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	token         string
	limiters      *resilience.RateLimiterRegistry
	rateLimit     float64
	logger        *slog.Logger
	maxRetries    int
}

var _ platform.GitOpsProvider = (*Client)(nil)

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "https://gitlab.com"
	}
	if config.Timeout == 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RateLimit == 0 {
		config.RateLimit = 300
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Limiters == nil {
		config.Limiters = resilience.NewRateLimiterRegistry()
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		baseURL:    config.BaseURL,
		token:      config.Token,
		limiters:   config.Limiters,
		rateLimit:  config.RateLimit,
		logger:     config.Logger,
		maxRetries: config.MaxRetries,
	}
}

func (c *Client) projectPath(repo string) string {
	return url.PathEscape(repo)
}

func (c *Client) CreateBranch(ctx context.Context, repo, branch, fromRef string) error {
	body := map[string]string{"branch": branch, "ref": fromRef}
	resp, err := c.do(ctx, "POST", fmt.Sprintf("/projects/%s/repository/branches", c.projectPath(repo)), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

func (c *Client) CheckBranchExists(ctx context.Context, repo, branch string) (bool, error) {
	endpoint := fmt.Sprintf("/projects/%s/repository/branches/%s", c.projectPath(repo), url.PathEscape(branch))
	resp, err := c.doRaw(ctx, "GET", endpoint, nil)
	if err != nil {
		var apiErr *APIError
		if asAPIError(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return false, nil
		}
		return false, err
	}
	defer resp.Body.Close()
	return true, nil
}

func (c *Client) GetFileContent(ctx context.Context, repo, path, ref string) ([]byte, error) {
	endpoint := fmt.Sprintf("/projects/%s/repository/files/%s?ref=%s", c.projectPath(repo), url.PathEscape(path), url.QueryEscape(ref))
	resp, err := c.do(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var fileResp struct {
		Content  string `json:"content"`
		Encoding string `json:"encoding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&fileResp); err != nil {
		return nil, fmt.Errorf("decode file response: %w", err)
	}
	if fileResp.Encoding == "base64" {
		return base64.StdEncoding.DecodeString(fileResp.Content)
	}
	return []byte(fileResp.Content), nil
}

func (c *Client) UpdateFile(ctx context.Context, repo, path, branch string, content []byte, commitMessage string) error {
	body := map[string]string{
		"branch":         branch,
		"content":        base64.StdEncoding.EncodeToString(content),
		"encoding":       "base64",
		"commit_message": commitMessage,
	}
	endpoint := fmt.Sprintf("/projects/%s/repository/files/%s", c.projectPath(repo), url.PathEscape(path))
	resp, err := c.do(ctx, "PUT", endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

// CreateMergeRequest first checks for an already-open MR from sourceBranch
// and returns it unchanged rather than opening a duplicate.
func (c *Client) CreateMergeRequest(ctx context.Context, repo, sourceBranch, targetBranch, title, description string, draft bool) (*platform.MergeRequest, error) {
	if existing, err := c.findOpenMR(ctx, repo, sourceBranch); err == nil && existing != nil {
		return existing, nil
	}

	body := map[string]interface{}{
		"source_branch": sourceBranch,
		"target_branch": targetBranch,
		"title":         title,
		"description":   description,
	}
	resp, err := c.do(ctx, "POST", fmt.Sprintf("/projects/%s/merge_requests", c.projectPath(repo)), body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var mr mergeRequestDTO
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("decode merge request response: %w", err)
	}
	return mr.toPlatform(), nil
}

func (c *Client) findOpenMR(ctx context.Context, repo, sourceBranch string) (*platform.MergeRequest, error) {
	endpoint := fmt.Sprintf("/projects/%s/merge_requests?source_branch=%s&state=opened", c.projectPath(repo), url.QueryEscape(sourceBranch))
	resp, err := c.do(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var mrs []mergeRequestDTO
	if err := json.NewDecoder(resp.Body).Decode(&mrs); err != nil {
		return nil, fmt.Errorf("decode merge request list: %w", err)
	}
	if len(mrs) == 0 {
		return nil, nil
	}
	return mrs[0].toPlatform(), nil
}

func (c *Client) GetMergeRequest(ctx context.Context, repo string, iid int) (*platform.MergeRequest, error) {
	endpoint := fmt.Sprintf("/projects/%s/merge_requests/%d", c.projectPath(repo), iid)
	resp, err := c.do(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var mr mergeRequestDTO
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return nil, fmt.Errorf("decode merge request response: %w", err)
	}
	return mr.toPlatform(), nil
}

func (c *Client) AddMergeRequestComment(ctx context.Context, repo string, iid int, comment string) error {
	body := map[string]string{"body": comment}
	endpoint := fmt.Sprintf("/projects/%s/merge_requests/%d/notes", c.projectPath(repo), iid)
	resp, err := c.do(ctx, "POST", endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}

type mergeRequestDTO struct {
	ID           int       `json:"id"`
	IID          int       `json:"iid"`
	Title        string    `json:"title"`
	Description  string    `json:"description"`
	SourceBranch string    `json:"source_branch"`
	TargetBranch string    `json:"target_branch"`
	State        string    `json:"state"`
	WebURL       string    `json:"web_url"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (dto *mergeRequestDTO) toPlatform() *platform.MergeRequest {
	return &platform.MergeRequest{
		ID:           dto.ID,
		IID:          dto.IID,
		Title:        dto.Title,
		Description:  dto.Description,
		SourceBranch: dto.SourceBranch,
		TargetBranch: dto.TargetBranch,
		State:        dto.State,
		WebURL:       dto.WebURL,
		CreatedAt:    dto.CreatedAt,
		UpdatedAt:    dto.UpdatedAt,
	}
}

// do performs a retried, rate-limited request and requires a 2xx response.
func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff(attempt))
		}

		resp, err := c.doRaw(ctx, method, endpoint, body)
		if err == nil {
			return resp, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var apiErr *APIError
		if asAPIError(err, &apiErr) && !shouldRetry(apiErr.StatusCode) {
			return nil, err
		}
		c.logger.Warn("gitlab request retrying", "method", method, "endpoint", endpoint, "attempt", attempt, "error", err)
	}
	return nil, lastErr
}

// doRaw performs a single request with no retry, used for existence probes
// where a 404 is an expected, non-error outcome.
func (c *Client) doRaw(ctx context.Context, method, endpoint string, body interface{}) (*http.Response, error) {
	if err := c.limiters.Wait(ctx, "gitlab_api", c.rateLimit, 20); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v4"+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("PRIVATE-TOKEN", c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gitlab request failed: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	msg, _ := io.ReadAll(resp.Body)
	return nil, &APIError{StatusCode: resp.StatusCode, Message: string(msg)}
}

func backoff(attempt int) time.Duration {
	d := 200 * time.Millisecond * time.Duration(1<<uint(attempt-1))
	if d > 5*time.Second {
		return 5 * time.Second
	}
	return d
}

func asAPIError(err error, target **APIError) bool {
	apiErr, ok := err.(*APIError)
	if ok {
		*target = apiErr
	}
	return ok
}
