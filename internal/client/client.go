// Package client talks to a running tempmail API.
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
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nhle/tempmail/internal/api"
	"github.com/nhle/tempmail/internal/codec"
	"github.com/nhle/tempmail/internal/inbox"
	"github.com/nhle/tempmail/internal/model"
	isync "github.com/nhle/tempmail/internal/sync"
)

// Common API errors that can be checked with errors.Is.
var (
	ErrUnauthorized = errors.New("invalid or expired token")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrRateLimited  = errors.New("rate limit exceeded")
)

// APIError represents an HTTP error returned by the server.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return target == ErrUnauthorized
	case http.StatusNotFound:
		return target == ErrNotFound
	case http.StatusConflict:
		return target == ErrConflict
	case http.StatusTooManyRequests:
		return target == ErrRateLimited
	}
	return false
}

// Client is the HTTP API client.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	retries    uint64
}

// Option configures the API client.
type Option func(*Client)

// WithToken sets the bearer token (address token or admin token).
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetries sets how often idempotent requests are retried.
func WithRetries(n uint64) Option {
	return func(c *Client) {
		c.retries = n
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retries:    3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithAddressToken returns a copy of c that authenticates with token.
func (c *Client) WithAddressToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func retryable(method string) bool {
	return method == http.MethodGet || method == http.MethodDelete || method == http.MethodPatch
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// send performs one request with retries on transport errors and 5xx
// for idempotent methods. The caller closes the body.
func (c *Client) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var resp *http.Response
	op := func() error {
		req, err := c.newRequest(ctx, method, path, body)
		if err != nil {
			return backoff.Permanent(err)
		}
		r, err := c.httpClient.Do(req)
		if err != nil {
			if !retryable(method) {
				return backoff.Permanent(err)
			}
			return err
		}
		if r.StatusCode >= 500 && retryable(method) {
			apiErr := parseErrorResponse(r)
			r.Body.Close()
			return apiErr
		}
		resp = r
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second
	retries := c.retries
	if !retryable(method) {
		retries = 0
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, retries), ctx)); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		return nil, parseErrorResponse(resp)
	}
	return resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	resp, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var errResp struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != "" {
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error, Code: errResp.Code}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
}

// Domains lists the accepted mail domains.
func (c *Client) Domains(ctx context.Context) ([]string, error) {
	var out struct {
		Domains []string `json:"domains"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/domains", nil, &out); err != nil {
		return nil, err
	}
	return out.Domains, nil
}

// ServerKey fetches the server signing key used to pin envelopes.
func (c *Client) ServerKey(ctx context.Context) ([]byte, error) {
	var out struct {
		PublicKey string `json:"public_key"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/server-key", nil, &out); err != nil {
		return nil, err
	}
	return codec.FromBase64URL(out.PublicKey)
}

// CreateAddress provisions a new address.
func (c *Client) CreateAddress(ctx context.Context, req api.CreateAddressRequest) (*api.AddressResponse, error) {
	var out api.AddressResponse
	if err := c.do(ctx, http.MethodPost, "/api/addresses", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetAddress returns an address. Requires its token.
func (c *Client) GetAddress(ctx context.Context, id string) (*api.AddressView, error) {
	var out struct {
		Address api.AddressView `json:"address"`
	}
	if err := c.do(ctx, http.MethodGet, addressPath(id), nil, &out); err != nil {
		return nil, err
	}
	return &out.Address, nil
}

// ExtendAddress extends the lifetime and returns the new token.
func (c *Client) ExtendAddress(ctx context.Context, id string, by time.Duration) (*api.AddressResponse, error) {
	var out api.AddressResponse
	req := api.ExtendRequest{Seconds: int64(by / time.Second)}
	if err := c.do(ctx, http.MethodPost, addressPath(id)+"/extend", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteAddress removes an address and its inbox.
func (c *Client) DeleteAddress(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, addressPath(id), nil, nil)
}

// ListOptions paginates ListMessages.
type ListOptions struct {
	Limit      int
	Offset     int
	UnreadOnly bool
}

// ListMessages returns inbox rows, newest first.
func (c *Client) ListMessages(ctx context.Context, id string, opts ListOptions) ([]model.Message, error) {
	q := url.Values{}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.UnreadOnly {
		q.Set("unread", "true")
	}
	path := addressPath(id) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Messages []model.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// GetMessage returns a message view; Content is set for managed
// addresses, Envelope for sealed ones.
func (c *Client) GetMessage(ctx context.Context, id, messageID string) (*inbox.MessageView, error) {
	var out inbox.MessageView
	if err := c.do(ctx, http.MethodGet, messagePath(id, messageID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RawMessage downloads the .eml (managed) or the sealed raw envelope.
func (c *Client) RawMessage(ctx context.Context, id, messageID string) ([]byte, error) {
	resp, err := c.send(ctx, http.MethodGet, messagePath(id, messageID)+"/raw", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// MarkRead sets the read flag.
func (c *Client) MarkRead(ctx context.Context, id, messageID string, read bool) error {
	return c.do(ctx, http.MethodPatch, messagePath(id, messageID), api.PatchMessageRequest{Read: &read}, nil)
}

// DeleteMessage removes one message.
func (c *Client) DeleteMessage(ctx context.Context, id, messageID string) error {
	return c.do(ctx, http.MethodDelete, messagePath(id, messageID), nil, nil)
}

// Sources returns poller statuses. Requires the admin token.
func (c *Client) Sources(ctx context.Context) ([]isync.SyncStatus, error) {
	var out struct {
		Sources []sourceStatus `json:"sources"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/admin/sources", nil, &out); err != nil {
		return nil, err
	}
	statuses := make([]isync.SyncStatus, 0, len(out.Sources))
	for _, s := range out.Sources {
		statuses = append(statuses, s.status())
	}
	return statuses, nil
}

// sourceStatus decodes SyncStatus, whose state is rendered by name.
type sourceStatus struct {
	isync.SyncStatus
	State string `json:"state"`
}

func (s sourceStatus) status() isync.SyncStatus {
	st := s.SyncStatus
	switch s.State {
	case "running":
		st.State = isync.SyncRunning
	case "error":
		st.State = isync.SyncError
	default:
		st.State = isync.SyncIdle
	}
	return st
}

// OpenSealed decrypts a sealed message view with the address secret key,
// verifying the envelope against the pinned server key.
func OpenSealed(view *inbox.MessageView, secretKey, serverKey []byte) (*model.Content, error) {
	if view.Content != nil {
		return view.Content, nil
	}
	if view.Envelope == nil {
		return nil, fmt.Errorf("%w: message has no envelope", codec.ErrInvalidPayload)
	}
	kp, err := codec.KeypairFromSecretKey(secretKey)
	if err != nil {
		return nil, err
	}
	plain, err := codec.OpenFor(view.Envelope, kp, serverKey, codec.AAD(view.Message.AddressID, view.Message.ID))
	if err != nil {
		return nil, err
	}
	var content model.Content
	if err := json.Unmarshal(plain, &content); err != nil {
		return nil, fmt.Errorf("%w: %v", codec.ErrInvalidPayload, err)
	}
	return &content, nil
}

func addressPath(id string) string {
	return "/api/addresses/" + url.PathEscape(id)
}

func messagePath(id, messageID string) string {
	return addressPath(id) + "/messages/" + url.PathEscape(messageID)
}
