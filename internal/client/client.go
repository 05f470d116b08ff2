// Package client talks to a master's operator API over HTTP.
package client

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

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/alanyang/task-mesh/internal/domain/controller"
	"github.com/alanyang/task-mesh/internal/domain/task"
	portcoord "github.com/alanyang/task-mesh/internal/port/coordinator"
	"github.com/alanyang/task-mesh/internal/service/generator"
	"github.com/alanyang/task-mesh/internal/service/master"
	"github.com/alanyang/task-mesh/internal/transport"
)

var _ portcoord.Submitter = (*Client)(nil)

// APIError is a non-2xx answer the master did not map to a sentinel.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("master returned %d: %s", e.Status, e.Message)
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithMaxElapsed bounds how long a request is retried on transport errors
// and 5xx answers. Zero disables retries.
func WithMaxElapsed(d time.Duration) Option {
	return func(c *Client) { c.maxElapsed = d }
}

type Client struct {
	base       string
	http       *http.Client
	maxElapsed time.Duration
}

// New returns a client for the master at baseURL, e.g. http://localhost:8080.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:       strings.TrimRight(baseURL, "/"),
		http:       &http.Client{Timeout: 10 * time.Second},
		maxElapsed: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit posts t. Each call draws a fresh Idempotency-Key and every retry of
// that call carries it, so a submit that reached the master but lost its
// answer is not applied twice while a later resubmission of the same id is.
func (c *Client) Submit(ctx context.Context, t task.Task) (task.Task, error) {
	spec := generator.Spec{ID: t.ID, Type: t.Type, Properties: t.Properties}
	if t.Timeout > 0 {
		spec.Timeout = t.Timeout.String()
	}
	key := uuid.NewString()

	var out task.Task
	if err := c.do(ctx, http.MethodPost, "/api/tasks/", key, spec, &out); err != nil {
		return task.Task{}, fmt.Errorf("submit task %s: %w", t.ID, err)
	}
	return out, nil
}

func (c *Client) Task(ctx context.Context, id string) (task.Task, error) {
	var out task.Task
	if err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), "", nil, &out); err != nil {
		return task.Task{}, fmt.Errorf("get task %s: %w", id, err)
	}
	return out, nil
}

func (c *Client) Cancel(ctx context.Context, id string) (task.Task, error) {
	var out task.Task
	if err := c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), "", nil, &out); err != nil {
		return task.Task{}, fmt.Errorf("cancel task %s: %w", id, err)
	}
	return out, nil
}

func (c *Client) Controllers(ctx context.Context) ([]controller.Controller, error) {
	var out []controller.Controller
	if err := c.do(ctx, http.MethodGet, "/api/controllers/", "", nil, &out); err != nil {
		return nil, fmt.Errorf("list controllers: %w", err)
	}
	return out, nil
}

func (c *Client) Stats(ctx context.Context) (portcoord.Stats, error) {
	var out portcoord.Stats
	if err := c.do(ctx, http.MethodGet, "/api/stats", "", nil, &out); err != nil {
		return portcoord.Stats{}, fmt.Errorf("stats: %w", err)
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path, idemKey string, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	attempt := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if in != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idemKey != "" {
			req.Header.Set(transport.IdempotencyHeader, idemKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("reading response: %w", err)
		}
		if resp.StatusCode >= 300 {
			apiErr := errorFor(resp.StatusCode, data)
			if resp.StatusCode >= 500 && resp.StatusCode != http.StatusServiceUnavailable {
				return apiErr
			}
			return backoff.Permanent(apiErr)
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
		}
		return nil
	}

	if c.maxElapsed <= 0 {
		err := attempt()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = c.maxElapsed
	return backoff.Retry(attempt, backoff.WithContext(b, ctx))
}

// errorFor maps an error answer back onto the master's sentinels.
func errorFor(status int, body []byte) error {
	var msg struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &msg); err != nil || msg.Error == "" {
		msg.Error = strings.TrimSpace(string(body))
	}

	var sentinel error
	switch status {
	case http.StatusBadRequest:
		sentinel = master.ErrInvalidTask
	case http.StatusNotFound:
		sentinel = master.ErrTaskNotFound
	case http.StatusConflict:
		if strings.Contains(msg.Error, master.ErrNotPending.Error()) {
			sentinel = master.ErrNotPending
		} else {
			sentinel = master.ErrTaskConflict
		}
	case http.StatusServiceUnavailable:
		sentinel = master.ErrDraining
	default:
		return &APIError{Status: status, Message: msg.Error}
	}
	return fmt.Errorf("%w: %s", sentinel, msg.Error)
}
