package debateclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentworkforce/relaydebate/internal/debate"
)

// ErrStopFollow ends Follow without an error when returned by its callback.
var ErrStopFollow = errors.New("stop following")

// HTTPError is a non-2xx answer from the server, decoded from the error
// envelope.
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
	Fields     map[string]any
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("http %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("http %d: %s", e.StatusCode, e.Message)
}

// Is matches the debate package's error kinds so callers can use the same
// errors.Is checks on both sides of the wire.
func (e *HTTPError) Is(target error) bool {
	switch target {
	case debate.ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case debate.ErrInvalidInput:
		return e.StatusCode == http.StatusBadRequest
	case debate.ErrActionNotAllowed:
		return e.StatusCode == http.StatusForbidden
	case debate.ErrContentTooLarge:
		return e.StatusCode == http.StatusRequestEntityTooLarge
	case debate.ErrUnauthorized:
		return e.StatusCode == http.StatusUnauthorized
	case debate.ErrStoreBusy:
		return e.StatusCode == http.StatusServiceUnavailable
	}
	return false
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewClient returns a client for the relaydebate API. The default HTTP
// client's timeout leaves room for a full long poll.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:3456"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 90 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
		maxRetries: 3,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   2 * time.Second,
	}
}

type Health struct {
	Status      string                  `json:"status"`
	Coordinator debate.CoordinatorStats `json:"coordinator"`
	Subscribers int                     `json:"subscribers"`
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

func (c *Client) ListDebates(ctx context.Context, filter debate.ListFilter) (debate.DebateList, error) {
	q := url.Values{}
	if filter.State != "" {
		q.Set("state", string(filter.State))
	}
	if filter.Limit > 0 {
		q.Set("limit", strconv.Itoa(filter.Limit))
	}
	if filter.Offset > 0 {
		q.Set("offset", strconv.Itoa(filter.Offset))
	}
	path := "/debates"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out debate.DebateList
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) CreateDebate(ctx context.Context, in debate.CreateDebateInput) (debate.Result, error) {
	var out debate.Result
	err := c.doJSON(ctx, http.MethodPost, "/debates", in, &out)
	return out, err
}

// GetDebate fetches the debate view. A nil limit returns every argument.
func (c *Client) GetDebate(ctx context.Context, debateID string, limit *int) (debate.DebateView, error) {
	path := debatePath(debateID, "")
	if limit != nil {
		path += "?limit=" + strconv.Itoa(*limit)
	}
	var out debate.DebateView
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) DeleteDebate(ctx context.Context, debateID string) error {
	return c.doJSON(ctx, http.MethodDelete, debatePath(debateID, ""), nil, nil)
}

func (c *Client) SubmitClaim(ctx context.Context, in debate.SubmitClaimInput) (debate.Result, error) {
	return c.submit(ctx, in.DebateID, "arguments", in)
}

func (c *Client) SubmitAppeal(ctx context.Context, in debate.TargetedInput) (debate.Result, error) {
	return c.submit(ctx, in.DebateID, "appeal", in)
}

func (c *Client) SubmitResolution(ctx context.Context, in debate.TargetedInput) (debate.Result, error) {
	return c.submit(ctx, in.DebateID, "resolution", in)
}

// SubmitIntervention mints a client_request_id when the caller left it
// empty, so a retried request cannot commit twice.
func (c *Client) SubmitIntervention(ctx context.Context, in debate.SubmitInterventionInput) (debate.Result, error) {
	if strings.TrimSpace(in.ClientRequestID) == "" {
		in.ClientRequestID = uuid.NewString()
	}
	return c.submit(ctx, in.DebateID, "intervention", in)
}

// SubmitRuling mints a client_request_id like SubmitIntervention.
func (c *Client) SubmitRuling(ctx context.Context, in debate.SubmitRulingInput) (debate.Result, error) {
	if strings.TrimSpace(in.ClientRequestID) == "" {
		in.ClientRequestID = uuid.NewString()
	}
	return c.submit(ctx, in.DebateID, "ruling", in)
}

func (c *Client) submit(ctx context.Context, debateID, route string, body any) (debate.Result, error) {
	var out debate.Result
	err := c.doJSON(ctx, http.MethodPost, debatePath(debateID, route), body, &out)
	return out, err
}

// Wait long-polls once. A zero timeout leaves the server's default in place.
func (c *Client) Wait(ctx context.Context, debateID string, role debate.Role, argumentID string, timeout time.Duration) (debate.WaitResult, error) {
	q := url.Values{}
	q.Set("role", string(role))
	if argumentID != "" {
		q.Set("argument_id", argumentID)
	}
	if timeout > 0 {
		q.Set("timeout_ms", strconv.FormatInt(timeout.Milliseconds(), 10))
	}
	var out debate.WaitResult
	err := c.doJSON(ctx, http.MethodGet, debatePath(debateID, "wait")+"?"+q.Encode(), nil, &out)
	return out, err
}

// Follow waits repeatedly from cursor, calling fn for each new argument and
// advancing the cursor past it. Timeouts keep the cursor. Follow returns nil
// once the debate closes or fn returns ErrStopFollow.
func (c *Client) Follow(ctx context.Context, debateID string, role debate.Role, cursor string, fn func(debate.WaitResult) error) error {
	for {
		result, err := c.Wait(ctx, debateID, role, cursor, 0)
		if err != nil {
			return err
		}
		if !result.HasNewArgument || result.Argument == nil {
			continue
		}
		cursor = result.Argument.ID
		if err := fn(result); err != nil {
			if errors.Is(err, ErrStopFollow) {
				return nil
			}
			return err
		}
		if result.Action == debate.WaitDebateClosed {
			return nil
		}
	}
}

func debatePath(debateID, route string) string {
	path := "/debates/" + url.PathEscape(debateID)
	if route != "" {
		path += "/" + route
	}
	return path
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   map[string]any  `json:"error"`
}

func (c *Client) doJSON(ctx context.Context, method, requestPath string, body any, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}
	for attempt := 0; ; attempt++ {
		var bodyReader io.Reader
		if bodyBytes != nil {
			bodyReader = bytes.NewReader(bodyBytes)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+requestPath, bodyReader)
		if err != nil {
			return err
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		req.Header.Set("X-Correlation-Id", correlationID())
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() == nil && attempt < c.maxRetries {
				if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, "")); waitErr != nil {
					return waitErr
				}
				continue
			}
			return err
		}
		payloadBytes, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return readErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
			if out == nil || len(payloadBytes) == 0 {
				return nil
			}
			var env envelope
			if err := json.Unmarshal(payloadBytes, &env); err != nil {
				return err
			}
			if len(env.Data) == 0 {
				return nil
			}
			return json.Unmarshal(env.Data, out)
		}

		if (resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 500 && resp.StatusCode <= 599)) && attempt < c.maxRetries {
			if waitErr := waitWithContext(ctx, c.retryDelay(attempt+1, resp.Header.Get("Retry-After"))); waitErr != nil {
				return waitErr
			}
			continue
		}
		return decodeHTTPError(resp.StatusCode, payloadBytes)
	}
}

func decodeHTTPError(status int, payload []byte) *HTTPError {
	httpErr := &HTTPError{StatusCode: status, Message: http.StatusText(status)}
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Error == nil {
		return httpErr
	}
	fields := map[string]any{}
	for key, value := range env.Error {
		switch key {
		case "code":
			httpErr.Code, _ = value.(string)
		case "message":
			if message, ok := value.(string); ok {
				httpErr.Message = message
			}
		default:
			fields[key] = value
		}
	}
	if len(fields) > 0 {
		httpErr.Fields = fields
	}
	return httpErr
}

func correlationID() string {
	return "cli_" + uuid.NewString()
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	maxDelay := c.maxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	if retryAfter := parseRetryAfter(retryAfterHeader); retryAfter > 0 {
		if retryAfter > maxDelay {
			return maxDelay
		}
		return retryAfter
	}
	delay := c.baseDelay
	if delay <= 0 {
		delay = 100 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds >= 0 {
		return time.Duration(seconds) * time.Second
	}
	if ts, err := http.ParseTime(header); err == nil {
		if delta := time.Until(ts); delta > 0 {
			return delta
		}
	}
	return 0
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
