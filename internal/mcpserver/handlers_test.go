package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	cfg := Config{
		APIURL: ts.URL,
		APIKey: "sk_test_key",
	}
	client := NewGatewardenClient(cfg)
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_AuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewGatewardenClient(Config{APIURL: ts.URL, APIKey: "sk_secret123"})
	_, err := client.GetBaseline(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk_secret123", gotAuth)
}

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "forbidden",
			"message": "Invalid API key",
		})
	}))
	defer ts.Close()

	client := NewGatewardenClient(Config{APIURL: ts.URL, APIKey: "bad"})
	_, err := client.GetBaseline(context.Background(), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "Invalid API key")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewGatewardenClient(Config{APIURL: ts.URL, APIKey: "k"})
	_, err := client.GetBaseline(context.Background(), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewGatewardenClient(Config{APIURL: "http://127.0.0.1:1", APIKey: "k"})
	_, err := client.GetBaseline(context.Background(), "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_EvaluateLogin_RequestBody(t *testing.T) {
	var gotBody map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/decisions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"action":"allow","score":25}`))
	}))
	defer ts.Close()

	client := NewGatewardenClient(Config{APIURL: ts.URL, APIKey: "k"})
	_, err := client.EvaluateLogin(context.Background(), "alice", "192.168.1.5", "laptop-1", "web")
	require.NoError(t, err)
	assert.Equal(t, "alice", gotBody["username"])
	assert.Equal(t, "192.168.1.5", gotBody["ip_address"])
	assert.Equal(t, "laptop-1", gotBody["device_id"])
	assert.Equal(t, "web", gotBody["login_method"])
}

func TestClient_ListDecisions_LimitQuery(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		assert.Equal(t, "/v1/users/alice/decisions", r.URL.Path)
		_, _ = w.Write([]byte(`{"username":"alice","decisions":[],"count":0}`))
	}))
	defer ts.Close()

	client := NewGatewardenClient(Config{APIURL: ts.URL, APIKey: "k"})
	_, err := client.ListDecisions(context.Background(), "alice", 5)
	require.NoError(t, err)
	assert.Equal(t, "limit=5", gotQuery)
}

// ============================================================
// evaluate_login handler
// ============================================================

func TestHandleEvaluateLogin_Allow(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "dec_abc123",
			"username":    "alice",
			"action":      "allow",
			"explanation": "Login allowed. Low risk (25) with known device and method.",
			"score":       25,
		})
	}))
	defer cleanup()

	req := makeRequest(map[string]any{
		"username": "alice",
		"ip":       "192.168.1.5",
		"device":   "laptop-1",
		"method":   "web",
	})
	result, err := h.HandleEvaluateLogin(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "ALLOW")
	assert.Contains(t, text, "25/100")
	assert.Contains(t, text, "without additional challenges")
}

func TestHandleEvaluateLogin_Block(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "dec_def456",
			"username":    "mallory",
			"action":      "block",
			"explanation": "High risk score (95).",
			"score":       95,
		})
	}))
	defer cleanup()

	req := makeRequest(map[string]any{
		"username": "mallory",
		"ip":       "203.0.113.9",
		"device":   "unknown-device",
		"method":   "atm",
	})
	result, err := h.HandleEvaluateLogin(context.Background(), req)
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "BLOCK")
	assert.Contains(t, text, "baseline was NOT updated")
}

func TestHandleEvaluateLogin_MissingArgs(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called for invalid args")
	}))
	defer cleanup()

	cases := []map[string]any{
		{},
		{"username": "alice"},
		{"username": "alice", "ip": "1.2.3.4"},
		{"username": "alice", "ip": "1.2.3.4", "device": "d1"},
	}

	for _, args := range cases {
		result, err := h.HandleEvaluateLogin(context.Background(), makeRequest(args))
		require.NoError(t, err)
		assert.True(t, result.IsError, "args %v should produce a tool error", args)
	}
}

func TestHandleEvaluateLogin_APIError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "invalid_request",
			"message": "method must be one of: web, mobile, voice, atm",
		})
	}))
	defer cleanup()

	req := makeRequest(map[string]any{
		"username": "alice",
		"ip":       "192.168.1.5",
		"device":   "laptop-1",
		"method":   "web",
	})
	result, err := h.HandleEvaluateLogin(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "method must be one of")
}

// ============================================================
// authorize_action handler
// ============================================================

func TestHandleAuthorizeAction_Proceeded(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/escalations", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "esc_xyz789",
			"username":    "alice",
			"feature":     "large transfer to new payee",
			"tier":        "high",
			"outcome":     "proceeded",
			"risk_score":  0.34,
			"rounds_used": 2,
			"observations": []map[string]any{
				{"kind": "device_binding_status", "value": "bound", "round": 1},
				{"kind": "geo_velocity_check", "value": "consistent", "round": 2},
			},
		})
	}))
	defer cleanup()

	req := makeRequest(map[string]any{
		"username": "alice",
		"feature":  "large transfer to new payee",
	})
	result, err := h.HandleAuthorizeAction(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "PROCEEDED")
	assert.Contains(t, text, "tier: high")
	assert.Contains(t, text, "Rounds used: 2")
	assert.Contains(t, text, "device_binding_status")
	assert.Contains(t, text, "action is authorized")
}

func TestHandleAuthorizeAction_Exhausted(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":          "esc_limit1",
			"username":    "bob",
			"feature":     "password reset",
			"tier":        "medium_high",
			"outcome":     "exhausted",
			"rounds_used": 3,
		})
	}))
	defer cleanup()

	req := makeRequest(map[string]any{
		"username": "bob",
		"feature":  "password reset",
	})
	result, err := h.HandleAuthorizeAction(context.Background(), req)
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "EXHAUSTED")
	assert.Contains(t, text, "NOT authorized")
}

func TestHandleAuthorizeAction_MissingFeature(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called")
	}))
	defer cleanup()

	result, err := h.HandleAuthorizeAction(context.Background(), makeRequest(map[string]any{
		"username": "alice",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// ============================================================
// get_user_baseline handler
// ============================================================

func TestHandleGetUserBaseline(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/users/alice/baseline", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"username":   "alice",
			"ips":        []string{"192.168.1.5", "10.0.0.9"},
			"devices":    []string{"laptop-1"},
			"methods":    []string{"web", "mobile"},
			"last_login": "2026-08-29T14:00:00Z",
		})
	}))
	defer cleanup()

	result, err := h.HandleGetUserBaseline(context.Background(), makeRequest(map[string]any{
		"username": "alice",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "192.168.1.5")
	assert.Contains(t, text, "laptop-1")
	assert.Contains(t, text, "web, mobile")
}

func TestHandleGetUserBaseline_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"username": "newuser",
			"ips":      []string{},
			"devices":  []string{},
			"methods":  []string{},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetUserBaseline(context.Background(), makeRequest(map[string]any{
		"username": "newuser",
	}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "(none)")
}

func TestHandleGetUserBaseline_MissingUsername(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("API should not be called")
	}))
	defer cleanup()

	result, err := h.HandleGetUserBaseline(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

// ============================================================
// list_decisions handler
// ============================================================

func TestHandleListDecisions(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"username": "alice",
			"decisions": []map[string]any{
				{"action": "mfa", "score": 65, "explanation": "Moderate risk score (65). MFA triggered.", "created_at": "2026-08-29T14:00:00Z"},
				{"action": "allow", "score": 20, "explanation": "Login allowed. Low risk (20) with known device and method.", "created_at": "2026-08-28T09:00:00Z"},
			},
			"count": 2,
		})
	}))
	defer cleanup()

	result, err := h.HandleListDecisions(context.Background(), makeRequest(map[string]any{
		"username": "alice",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Recent decisions for alice (2)")
	assert.Contains(t, text, "MFA")
	assert.Contains(t, text, "ALLOW")
}

func TestHandleListDecisions_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"username":  "ghost",
			"decisions": []map[string]any{},
			"count":     0,
		})
	}))
	defer cleanup()

	result, err := h.HandleListDecisions(context.Background(), makeRequest(map[string]any{
		"username": "ghost",
	}))
	require.NoError(t, err)

	assert.Contains(t, resultText(t, result), "No recorded decisions for ghost")
}
