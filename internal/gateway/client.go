// Package gateway talks to an OpenClaw gateway through its tools/invoke endpoint. It supplies
// the chair's report capability and the delivery channel for final answers.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sony/gobreaker"

	"missioncontrol/internal/config"
)

// ErrNotConfigured means no gateway url or token is set.
var ErrNotConfigured = errors.New("gateway url/token not configured")

// HTTPError wraps non-2xx gateway responses.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("gateway error: status=%d body=%s", e.StatusCode, e.Body)
}

// ToolError is a 2xx response whose envelope is not ok.
type ToolError struct {
	Tool string
	Body string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("gateway tool %s failed: %s", e.Tool, e.Body)
}

type Client struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     *log.Logger
	breakers   map[string]*gobreaker.CircuitBreaker
}

// Breakers are kept per tool class so failing agent sessions cannot block delivery.
const (
	classSessions = "sessions"
	classMessage  = "message"
	classControl  = "control"
)

var toolClasses = []string{classSessions, classMessage, classControl}

func toolClass(tool string) string {
	switch {
	case tool == "message":
		return classMessage
	case strings.HasPrefix(tool, "sessions_"):
		return classSessions
	default:
		return classControl
	}
}

// gatewayHealthy counts only transport failures and 5xx answers against the gateway.
// Tool-level refusals and expired caller contexts leave the breaker alone.
func gatewayHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return true
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode < 500
	}
	return false
}

// NewClient builds a client for cfg. Each tool class gets a breaker that opens after
// MaxFailures consecutive gateway failures.
func NewClient(cfg config.GatewayConfig, logger *log.Logger) *Client {
	if logger == nil {
		logger = log.Default()
	}
	c := &Client{
		BaseURL: cfg.URL,
		Token:   cfg.Token,
		Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		Logger:  logger,
	}
	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	c.breakers = make(map[string]*gobreaker.CircuitBreaker, len(toolClasses))
	for _, class := range toolClasses {
		c.breakers[class] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "openclaw-gateway/" + class,
			MaxRequests: 1,
			Timeout:     time.Duration(cfg.Breaker.OpenSeconds) * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Printf("gateway: circuit breaker %q %s -> %s", name, from, to)
			},
			IsSuccessful: gatewayHealthy,
		})
	}
	return c
}

func (c *Client) Configured() bool {
	return c != nil && strings.TrimSpace(c.BaseURL) != "" && strings.TrimSpace(c.Token) != ""
}

type invokeRequest struct {
	Tool       string         `json:"tool"`
	Args       map[string]any `json:"args"`
	SessionKey string         `json:"sessionKey,omitempty"`
}

type invokeResponse struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error,omitempty"`
}

// InvokeTool calls POST <base>/tools/invoke and returns the result of an ok envelope.
func (c *Client) InvokeTool(ctx context.Context, tool string, args map[string]any, sessionKey string) (json.RawMessage, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	if args == nil {
		args = map[string]any{}
	}
	call := func() (json.RawMessage, error) {
		return c.invoke(ctx, invokeRequest{Tool: tool, Args: args, SessionKey: sessionKey})
	}
	breaker := c.breakers[toolClass(tool)]
	if breaker == nil {
		return call()
	}
	res, err := breaker.Execute(func() (interface{}, error) { return call() })
	if err != nil {
		return nil, err
	}
	return res.(json.RawMessage), nil
}

func (c *Client) invoke(ctx context.Context, body invokeRequest) (json.RawMessage, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/tools/invoke", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: truncate(string(raw), 200)}
	}
	var env invokeResponse
	if err := json.Unmarshal(raw, &env); err != nil || !env.OK {
		return nil, &ToolError{Tool: body.Tool, Body: truncate(string(raw), 200)}
	}
	return env.Result, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}

// truncate keeps at most n bytes of s without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
