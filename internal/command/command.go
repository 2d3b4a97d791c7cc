// Package command issues flight commands to the vehicle-control backend.
// Commands are never retried; failures are returned verbatim for the
// operator to see.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/litescript/ls-fleet/internal/logging"
)

const (
	// DefaultTimeout for command requests.
	DefaultTimeout = 15 * time.Second

	maxResponseBody = 1 << 20
)

// Action is a backend command.
type Action string

const (
	Connect        Action = "connect"
	Arm            Action = "arm"
	Disarm         Action = "disarm"
	Takeoff        Action = "takeoff"
	Land           Action = "land"
	ReturnToLaunch Action = "rtl"
	StartMission   Action = "start"
	StopMission    Action = "stop"
	UploadMission  Action = "upload"
)

// Actions lists every action in menu order.
var Actions = []Action{Connect, Arm, Disarm, Takeoff, Land, ReturnToLaunch, StartMission, StopMission, UploadMission}

// ErrUnknownAction is returned by ParseAction.
var ErrUnknownAction = errors.New("command: unknown action")

// ErrMissionRequired is returned for actions issued without a mission id.
var ErrMissionRequired = errors.New("command: mission id required")

// ParseAction parses an action name.
func ParseAction(s string) (Action, error) {
	for _, a := range Actions {
		if string(a) == strings.ToLower(strings.TrimSpace(s)) {
			return a, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAction, s)
}

// Path returns the request path for the action.
func (a Action) Path(missionID string) string {
	id := url.PathEscape(missionID)
	switch a {
	case Connect:
		return "/connect"
	case StartMission, StopMission:
		return "/api/v1/missions/" + id + "/" + string(a)
	case UploadMission:
		return "/api/v1/missions/upload-to-px4/" + id
	default:
		return "/api/v1/vehicle/" + string(a)
	}
}

// Result is the backend's response envelope.
type Result struct {
	Success bool            `json:"success"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error is a command the backend did not accept.
type Error struct {
	Action     Action
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s failed: %s", e.Action, e.Message)
	}
	return fmt.Sprintf("%s failed: HTTP %d", e.Action, e.StatusCode)
}

type request struct {
	MissionID string `json:"mission_id"`
}

// Client sends commands over HTTP.
type Client struct {
	client  *http.Client
	baseURL string
	timeout time.Duration
	log     *logging.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) ClientOption {
	return func(c *Client) {
		c.log = l
	}
}

// NewClient creates a command client for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: DefaultTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		c.client = &http.Client{
			Timeout: c.timeout,
		}
	}

	return c
}

// Do sends action for missionID. A response with success false, or a non-2xx
// status, is returned as an *Error carrying the backend's message.
func (c *Client) Do(ctx context.Context, action Action, missionID string) (Result, error) {
	if missionID == "" {
		return Result{}, fmt.Errorf("%s: %w", action, ErrMissionRequired)
	}

	body, err := json.Marshal(request{MissionID: missionID})
	if err != nil {
		return Result{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+action.Path(missionID), bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	reqID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", reqID)

	c.log.Info("command %s mission=%s request=%s", action, missionID, reqID)

	resp, err := c.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Result{}, fmt.Errorf("%s: read response body: %w", action, err)
	}

	var res Result
	decodeErr := json.Unmarshal(raw, &res)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := res.Message
		if decodeErr != nil || msg == "" {
			msg = strings.TrimSpace(string(raw))
		}
		c.log.Warn("command %s rejected: HTTP %d %s", action, resp.StatusCode, msg)
		return res, &Error{Action: action, StatusCode: resp.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return Result{}, fmt.Errorf("%s: decode response: %w", action, decodeErr)
	}
	if !res.Success {
		c.log.Warn("command %s rejected: %s", action, res.Message)
		return res, &Error{Action: action, StatusCode: resp.StatusCode, Message: res.Message}
	}
	return res, nil
}

// Arm arms the vehicle.
func (c *Client) Arm(ctx context.Context, missionID string) (Result, error) {
	return c.Do(ctx, Arm, missionID)
}

// Disarm disarms the vehicle.
func (c *Client) Disarm(ctx context.Context, missionID string) (Result, error) {
	return c.Do(ctx, Disarm, missionID)
}

// Takeoff commands a takeoff.
func (c *Client) Takeoff(ctx context.Context, missionID string) (Result, error) {
	return c.Do(ctx, Takeoff, missionID)
}

// Land commands a landing.
func (c *Client) Land(ctx context.Context, missionID string) (Result, error) {
	return c.Do(ctx, Land, missionID)
}

// ReturnToLaunch commands a return to the launch point.
func (c *Client) ReturnToLaunch(ctx context.Context, missionID string) (Result, error) {
	return c.Do(ctx, ReturnToLaunch, missionID)
}

// BaseURL returns the configured backend URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}
