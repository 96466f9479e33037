package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the Gatewarden platform.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // API key, e.g. "sk_..."
}

// GatewardenClient is a pure HTTP client for the Gatewarden platform API.
type GatewardenClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewGatewardenClient creates a new client for the Gatewarden platform.
func NewGatewardenClient(cfg Config) *GatewardenClient {
	return &GatewardenClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second, // Escalations can spend several rounds
		},
	}
}

// apiError represents an error response from the platform.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the platform and returns the response body.
func (c *GatewardenClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// EvaluateLogin scores a login attempt and returns the decision.
func (c *GatewardenClient) EvaluateLogin(ctx context.Context, username, ip, device, method string) (json.RawMessage, error) {
	body := map[string]string{
		"username":     username,
		"ip_address":   ip,
		"device_id":    device,
		"login_method": method,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/decisions", nil, body)
}

// AuthorizeAction runs an escalation session for a sensitive feature.
func (c *GatewardenClient) AuthorizeAction(ctx context.Context, username, feature string) (json.RawMessage, error) {
	body := map[string]string{
		"username":     username,
		"feature_name": feature,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/escalations", nil, body)
}

// GetBaseline returns the behavioral baseline for an account.
func (c *GatewardenClient) GetBaseline(ctx context.Context, username string) (json.RawMessage, error) {
	path := "/v1/users/" + url.PathEscape(username) + "/baseline"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// ListDecisions lists recent login decisions for an account, newest first.
func (c *GatewardenClient) ListDecisions(ctx context.Context, username string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/v1/users/" + url.PathEscape(username) + "/decisions"
	return c.doRequest(ctx, http.MethodGet, path, q, nil)
}
