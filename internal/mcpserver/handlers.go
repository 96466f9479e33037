package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *GatewardenClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *GatewardenClient) *Handlers {
	return &Handlers{client: client}
}

// HandleEvaluateLogin scores a login attempt through the platform.
func (h *Handlers) HandleEvaluateLogin(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username := req.GetString("username", "")
	if username == "" {
		return mcp.NewToolResultError("username is required"), nil
	}
	ip := req.GetString("ip", "")
	if ip == "" {
		return mcp.NewToolResultError("ip is required"), nil
	}
	device := req.GetString("device", "")
	if device == "" {
		return mcp.NewToolResultError("device is required"), nil
	}
	method := req.GetString("method", "")
	if method == "" {
		return mcp.NewToolResultError("method is required"), nil
	}

	raw, err := h.client.EvaluateLogin(ctx, username, ip, device, method)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to evaluate login: %v", err)), nil
	}

	text, err := formatDecision(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse decision: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleAuthorizeAction runs an escalation session for a sensitive feature.
func (h *Handlers) HandleAuthorizeAction(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username := req.GetString("username", "")
	if username == "" {
		return mcp.NewToolResultError("username is required"), nil
	}
	feature := req.GetString("feature", "")
	if feature == "" {
		return mcp.NewToolResultError("feature is required"), nil
	}

	raw, err := h.client.AuthorizeAction(ctx, username, feature)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to authorize action: %v", err)), nil
	}

	text, err := formatEscalation(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse escalation result: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetUserBaseline fetches an account's behavioral baseline.
func (h *Handlers) HandleGetUserBaseline(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username := req.GetString("username", "")
	if username == "" {
		return mcp.NewToolResultError("username is required"), nil
	}

	raw, err := h.client.GetBaseline(ctx, username)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get baseline: %v", err)), nil
	}

	text, err := formatBaseline(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse baseline: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListDecisions lists recent login decisions for an account.
func (h *Handlers) HandleListDecisions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	username := req.GetString("username", "")
	if username == "" {
		return mcp.NewToolResultError("username is required"), nil
	}
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListDecisions(ctx, username, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list decisions: %v", err)), nil
	}

	text, err := formatDecisionList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse decisions: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// ---------------------------------------------------------------------------
// Response formatting
// ---------------------------------------------------------------------------

type decisionResponse struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	Action      string `json:"action"`
	Explanation string `json:"explanation"`
	Score       int    `json:"score"`
	CreatedAt   string `json:"created_at"`
}

func formatDecision(raw json.RawMessage) (string, error) {
	var dec decisionResponse
	if err := json.Unmarshal(raw, &dec); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Decision: %s\n", strings.ToUpper(dec.Action))
	fmt.Fprintf(&sb, "Risk score: %d/100\n", dec.Score)
	fmt.Fprintf(&sb, "Reason: %s\n", dec.Explanation)
	if dec.ID != "" {
		fmt.Fprintf(&sb, "Decision ID: %s\n", dec.ID)
	}

	switch dec.Action {
	case "allow":
		sb.WriteString("\nThe login may proceed without additional challenges.")
	case "mfa":
		sb.WriteString("\nChallenge the user with a second factor before proceeding.")
	case "block":
		sb.WriteString("\nReject the login. The account baseline was NOT updated.")
	}

	return sb.String(), nil
}

type escalationResponse struct {
	ID           string  `json:"id"`
	Username     string  `json:"username"`
	Feature      string  `json:"feature"`
	Tier         string  `json:"tier"`
	Outcome      string  `json:"outcome"`
	RiskScore    float64 `json:"risk_score"`
	Rounds       int     `json:"rounds_used"`
	Observations []struct {
		Kind  string `json:"kind"`
		Value string `json:"value"`
		Round int    `json:"round"`
	} `json:"observations"`
}

func formatEscalation(raw json.RawMessage) (string, error) {
	var esc escalationResponse
	if err := json.Unmarshal(raw, &esc); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Outcome: %s\n", strings.ToUpper(esc.Outcome))
	fmt.Fprintf(&sb, "Feature: %s (tier: %s)\n", esc.Feature, esc.Tier)
	fmt.Fprintf(&sb, "Risk score: %.2f\n", esc.RiskScore)
	fmt.Fprintf(&sb, "Rounds used: %d\n", esc.Rounds)

	if len(esc.Observations) > 0 {
		sb.WriteString("\nFactors observed:\n")
		for _, obs := range esc.Observations {
			fmt.Fprintf(&sb, "  [round %d] %s: %s\n", obs.Round, obs.Kind, obs.Value)
		}
	}

	switch esc.Outcome {
	case "proceeded":
		sb.WriteString("\nThe action is authorized.")
	case "denied":
		sb.WriteString("\nThe action was denied by the risk evaluator.")
	case "exhausted":
		sb.WriteString("\nThe round budget ran out before a verdict. The action is NOT authorized; route to manual review.")
	}

	return sb.String(), nil
}

type baselineResponse struct {
	Username  string   `json:"username"`
	IPs       []string `json:"ips"`
	Devices   []string `json:"devices"`
	Methods   []string `json:"methods"`
	LastLogin string   `json:"last_login"`
}

func formatBaseline(raw json.RawMessage) (string, error) {
	var b baselineResponse
	if err := json.Unmarshal(raw, &b); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Baseline for %s:\n", b.Username)
	fmt.Fprintf(&sb, "  Known IPs: %s\n", joinOrNone(b.IPs))
	fmt.Fprintf(&sb, "  Known devices: %s\n", joinOrNone(b.Devices))
	fmt.Fprintf(&sb, "  Known methods: %s\n", joinOrNone(b.Methods))
	if b.LastLogin != "" {
		fmt.Fprintf(&sb, "  Last login: %s\n", b.LastLogin)
	}
	return sb.String(), nil
}

type decisionListResponse struct {
	Username  string             `json:"username"`
	Decisions []decisionResponse `json:"decisions"`
	Count     int                `json:"count"`
}

func formatDecisionList(raw json.RawMessage) (string, error) {
	var list decisionListResponse
	if err := json.Unmarshal(raw, &list); err != nil {
		return "", err
	}

	if len(list.Decisions) == 0 {
		return fmt.Sprintf("No recorded decisions for %s.", list.Username), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Recent decisions for %s (%d):\n\n", list.Username, len(list.Decisions))
	for i, dec := range list.Decisions {
		fmt.Fprintf(&sb, "%d. %s (score %d): %s\n", i+1, strings.ToUpper(dec.Action), dec.Score, dec.Explanation)
		if dec.CreatedAt != "" {
			fmt.Fprintf(&sb, "   at %s\n", dec.CreatedAt)
		}
	}
	return sb.String(), nil
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "(none)"
	}
	return strings.Join(values, ", ")
}
