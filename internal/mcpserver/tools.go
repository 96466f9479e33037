package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the Gatewarden MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolEvaluateLogin = mcp.NewTool("evaluate_login",
	mcp.WithDescription(
		"Score a login attempt against the account's behavioral baseline and "+
			"get a risk decision: allow, mfa, or block. "+
			"Allowed and MFA logins update the account's known IPs, devices, and methods."),
	mcp.WithString("username",
		mcp.Required(),
		mcp.Description("Account username (e.g. 'alice')")),
	mcp.WithString("ip",
		mcp.Required(),
		mcp.Description("Source IP address of the login attempt (e.g. '203.0.113.7')")),
	mcp.WithString("device",
		mcp.Required(),
		mcp.Description("Device identifier or fingerprint (e.g. 'laptop-1')")),
	mcp.WithString("method",
		mcp.Required(),
		mcp.Description("Login channel: 'web', 'mobile', 'voice', or 'atm'"),
		mcp.Enum("web", "mobile", "voice", "atm")),
)

var ToolAuthorizeAction = mcp.NewTool("authorize_action",
	mcp.WithDescription(
		"Run a bounded escalation for a sensitive in-session action (e.g. a large "+
			"transfer or a password reset). Collects authentication factors in rounds "+
			"until the evaluator proceeds, denies, or the round budget is exhausted. "+
			"Returns the final outcome, risk score, and factors observed."),
	mcp.WithString("username",
		mcp.Required(),
		mcp.Description("Account username requesting the action")),
	mcp.WithString("feature",
		mcp.Required(),
		mcp.Description("The sensitive feature being accessed (e.g. 'large transfer to new payee', 'password reset')")),
)

var ToolGetUserBaseline = mcp.NewTool("get_user_baseline",
	mcp.WithDescription(
		"Fetch an account's behavioral baseline: the recently seen IPs, devices, "+
			"and login methods the risk engine compares new logins against."),
	mcp.WithString("username",
		mcp.Required(),
		mcp.Description("Account username")),
)

var ToolListDecisions = mcp.NewTool("list_decisions",
	mcp.WithDescription(
		"List recent login decisions for an account, newest first. "+
			"Shows the action taken, risk score, and explanation for each attempt."),
	mcp.WithString("username",
		mcp.Required(),
		mcp.Description("Account username")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of decisions to return (default 20)")),
)
