package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gatewarden/gatewarden/internal/escalation"
)

// Config holds the connection settings for the capability provider.
type Config struct {
	CollectorURL string // e.g. "http://factors.internal:9090"
	EvaluatorURL string // e.g. "http://reasoner.internal:9091"
	APIKey       string // bearer token, optional
	Timeout      time.Duration
}

// HTTPCollector is a FactorCollector backed by an HTTP factor service.
type HTTPCollector struct {
	cfg        Config
	httpClient *http.Client
}

// Compile-time check.
var _ escalation.FactorCollector = (*HTTPCollector)(nil)

// NewHTTPCollector creates a collector client.
func NewHTTPCollector(cfg Config) *HTTPCollector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPCollector{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type collectRequest struct {
	Feature     string   `json:"feature"`
	Tier        Tier     `json:"tier"`
	Outstanding []string `json:"outstanding,omitempty"`
}

type collectResponse struct {
	Factors map[string]string `json:"factors"`
}

// Collect requests factor observations for a feature. Only the outstanding
// kinds are forwarded; the provider must not blanket-collect.
func (c *HTTPCollector) Collect(ctx context.Context, feature string, outstanding []string) (map[string]string, error) {
	body := collectRequest{
		Feature:     feature,
		Tier:        TierFor(feature),
		Outstanding: outstanding,
	}
	raw, err := doJSON(ctx, c.httpClient, http.MethodPost, c.cfg.CollectorURL+"/v1/collect", c.cfg.APIKey, body)
	if err != nil {
		return nil, err
	}
	var resp collectResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode collect response: %w", err)
	}
	return resp.Factors, nil
}

// HTTPEvaluator is a RiskEvaluator backed by an HTTP reasoning service.
type HTTPEvaluator struct {
	cfg        Config
	httpClient *http.Client
}

// Compile-time check.
var _ escalation.RiskEvaluator = (*HTTPEvaluator)(nil)

// NewHTTPEvaluator creates an evaluator client.
func NewHTTPEvaluator(cfg Config) *HTTPEvaluator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPEvaluator{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

type evaluateRequest struct {
	Feature      string                   `json:"feature"`
	Observations []escalation.Observation `json:"observations"`
}

// Evaluate submits accumulated observations and decodes the structured
// verdict. Schema violations surface as errors; the orchestrator downgrades
// them to more_info rather than trusting a malformed proceed.
func (e *HTTPEvaluator) Evaluate(ctx context.Context, feature string, observations []escalation.Observation) (escalation.Verdict, error) {
	body := evaluateRequest{Feature: feature, Observations: observations}
	raw, err := doJSON(ctx, e.httpClient, http.MethodPost, e.cfg.EvaluatorURL+"/v1/evaluate", e.cfg.APIKey, body)
	if err != nil {
		return escalation.Verdict{}, err
	}
	var verdict escalation.Verdict
	if err := json.Unmarshal(raw, &verdict); err != nil {
		return escalation.Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if !verdict.Valid() {
		return escalation.Verdict{}, fmt.Errorf("unknown verdict decision %q", verdict.Decision)
	}
	if verdict.RiskScore < 0 || verdict.RiskScore > 1 {
		return escalation.Verdict{}, fmt.Errorf("risk score %f out of range", verdict.RiskScore)
	}
	return verdict, nil
}

// doJSON posts a JSON body and returns the raw response payload.
func doJSON(ctx context.Context, client *http.Client, method, url, apiKey string, body any) (json.RawMessage, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("capability returned %d: %s", resp.StatusCode, truncate(respBody, 200))
	}
	return respBody, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
