// Package bridge talks to helper processes that wrap vendor SDKs (Tapo,
// Playwright, Appium, PyAutoGUI). One request is written as JSON on stdin
// and one JSON object is read back from stdout.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// DefaultTimeout bounds one bridge call.
const DefaultTimeout = 30 * time.Second

// ErrNotConfigured is returned by Call on a client without a command.
var ErrNotConfigured = errors.New("bridge command not configured")

// Executor runs the bridge process.
type Executor interface {
	Exec(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error)
}

// ProcessExecutor runs the bridge with os/exec.
type ProcessExecutor struct{}

// Exec implements Executor.
func (ProcessExecutor) Exec(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil && stderr.Len() > 0 {
		return out, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return out, err
}

// Request is the JSON written to the bridge.
type Request struct {
	Method string                 `json:"method"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Response is the decoded bridge reply.
type Response struct {
	Success bool
	Message string
	Error   string
	Data    map[string]interface{}
	Raw     string
}

// Client calls one bridge command.
type Client struct {
	name    string
	args    []string
	timeout time.Duration
	exec    Executor
}

// New creates a client for command, split on whitespace
// (e.g. "python3 /opt/bridges/tapo.py"). A nil exec means os/exec.
func New(command string, exec Executor) *Client {
	fields := strings.Fields(command)
	c := &Client{timeout: DefaultTimeout, exec: exec}
	if len(fields) > 0 {
		c.name = fields[0]
		c.args = fields[1:]
	}
	if c.exec == nil {
		c.exec = ProcessExecutor{}
	}
	return c
}

// WithTimeout returns a copy of c using timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	cp := *c
	cp.timeout = timeout
	return &cp
}

// Configured reports whether a bridge command is set.
func (c *Client) Configured() bool {
	return c != nil && c.name != ""
}

// Call sends method with params and decodes the reply. A reply with
// success=false is returned with a nil error; err is for transport problems.
func (c *Client) Call(ctx context.Context, method string, params map[string]interface{}) (Response, error) {
	if !c.Configured() {
		return Response{}, ErrNotConfigured
	}

	body, err := json.Marshal(Request{Method: method, Params: params})
	if err != nil {
		return Response{}, fmt.Errorf("failed to encode bridge request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	out, err := c.exec.Exec(ctx, body, c.name, c.args...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Response{}, fmt.Errorf("bridge %s %s timed out after %v", c.name, method, c.timeout)
		}
		return Response{}, fmt.Errorf("bridge %s %s failed: %w", c.name, method, err)
	}
	return ParseResponse(out)
}

// ParseResponse decodes the last JSON line of a bridge's stdout. Helpers are
// free to log plain text before it.
func ParseResponse(out []byte) (Response, error) {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	var raw string
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); gjson.Valid(l) && strings.HasPrefix(l, "{") {
			raw = l
			break
		}
	}
	if raw == "" {
		return Response{}, fmt.Errorf("bridge returned no JSON object: %q", strings.TrimSpace(string(out)))
	}

	res := Response{
		Success: gjson.Get(raw, "success").Bool(),
		Message: gjson.Get(raw, "message").String(),
		Error:   gjson.Get(raw, "error").String(),
		Raw:     raw,
	}
	if data, ok := gjson.Get(raw, "data").Value().(map[string]interface{}); ok {
		res.Data = data
	}
	return res, nil
}
