package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Status is the outcome of probing the gateway.
type Status struct {
	Configured   bool   `json:"configured"`
	GatewayURL   string `json:"gateway_url,omitempty"`
	Reachable    bool   `json:"reachable"`
	AuthOK       bool   `json:"auth_ok"`
	ToolInvokeOK bool   `json:"tool_invoke_ok"`
	Error        string `json:"error,omitempty"`
}

// Probe checks reachability with GET /health, then auth and tool policy with session_status.
// A 404 from the tool call means the token was accepted but the tool is not allowlisted.
func (c *Client) Probe(ctx context.Context) Status {
	if !c.Configured() {
		st := Status{Error: ErrNotConfigured.Error()}
		if c != nil {
			st.GatewayURL = c.BaseURL
		}
		return st
	}
	st := Status{Configured: true, GatewayURL: c.BaseURL}
	hctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if req, err := http.NewRequestWithContext(hctx, http.MethodGet, c.base()+"/health", nil); err == nil {
		if resp, err := c.httpClient().Do(req); err == nil {
			resp.Body.Close()
			st.Reachable = resp.StatusCode < 500
		}
	}
	_, err := c.InvokeTool(ctx, "session_status", nil, "")
	if err == nil {
		st.AuthOK = true
		st.ToolInvokeOK = true
		return st
	}
	var httpErr *HTTPError
	switch {
	case errors.As(err, &httpErr) && (httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden):
		st.Error = fmt.Sprintf("auth failed (HTTP %d)", httpErr.StatusCode)
	case errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound:
		st.AuthOK = true
		st.Error = "tool not available (session_status not allowlisted)"
	default:
		st.Error = err.Error()
	}
	return st
}
