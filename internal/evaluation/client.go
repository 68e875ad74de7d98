package evaluation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/vivavoce/internal/observe"
	"github.com/MrWong99/vivavoce/internal/resilience"
)

// ErrMalformed is returned when the collaborator answers 2xx with a body that
// cannot be used.
var ErrMalformed = errors.New("evaluation: malformed response")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("evaluation: %s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

const (
	pathEvaluate = "/evaluate-answer"
	pathStore    = "/store-exam-result"

	// maxErrorBody caps how much of an error response is kept.
	maxErrorBody = 512
)

// Option is a functional option for [NewClient].
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithStoreBreaker guards [Client.StoreResult] with cb.
func WithStoreBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.storeBreaker = cb }
}

// Client is the HTTP client for the evaluation collaborator. It is safe for
// concurrent use.
type Client struct {
	baseURL      string
	http         *http.Client
	storeBreaker *resilience.CircuitBreaker
}

// NewClient returns a client for the collaborator at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("evaluation: base URL must not be empty")
	}
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	if c.storeBreaker == nil {
		c.storeBreaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:         "result-store",
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  1,
		})
	}
	return c, nil
}

// Evaluate submits the answers and returns the feedback text. Non-2xx
// responses and bodies without feedback are errors; callers retry them.
func (c *Client) Evaluate(ctx context.Context, req Request) (string, error) {
	ctx, span := observe.StartSpan(ctx, "evaluation.Evaluate")
	defer span.End()

	var resp Response
	if err := c.post(ctx, "evaluate", pathEvaluate, req, &resp); err != nil {
		span.RecordError(err)
		return "", err
	}
	if strings.TrimSpace(resp.Feedback) == "" {
		return "", fmt.Errorf("%w: empty feedback", ErrMalformed)
	}
	return resp.Feedback, nil
}

// StoreResult persists res. When the store has failed repeatedly the call is
// rejected with [resilience.ErrCircuitOpen] without contacting it.
func (c *Client) StoreResult(ctx context.Context, res Result) error {
	return c.storeBreaker.Execute(func() error {
		return c.post(ctx, "store result", pathStore, res, nil)
	})
}

// post sends body as JSON and decodes a 2xx response into out (if non-nil).
func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("evaluation: %s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("evaluation: %s: build request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	observe.InjectHeaders(ctx, req.Header)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("evaluation: %s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, op, err)
	}
	return nil
}
