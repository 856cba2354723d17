package keap

import (
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

	"golang.org/x/exp/slog"

	"keapsync/internal/domain/entity"
	"keapsync/internal/domain/source"
)

const (
	DefaultBaseURL = "https://api.infusionsoft.com/crm/rest"
	userAgent      = "keapsync/1.0"
)

type Options struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
	// Timeout ограничивает одну попытку запроса
	Timeout    time.Duration
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// Client клиент Keap REST v1, реализует source.CRM
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	timeout    time.Duration
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	log        *slog.Logger
}

var _ source.CRM = (*Client)(nil)

func NewClient(opts Options, log *slog.Logger) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				MaxIdleConnsPerHost: 10,
			},
		}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	baseDelay := opts.BaseDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = 2 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		token:      strings.TrimSpace(opts.AccessToken),
		httpClient: httpClient,
		timeout:    timeout,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		maxDelay:   maxDelay,
		log:        log.With("component", "keap_client"),
	}
}

// listResponse общий вид ответа коллекции: {"<plural>": [...], "count": N, "next": "..."}
type listResponse struct {
	Items []json.RawMessage
	Count *int
	Next  string
}

func (r *listResponse) decode(body []byte, key string) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return fmt.Errorf("decode list response: %w", err)
	}
	if items, ok := raw[key]; ok && string(items) != "null" {
		if err := json.Unmarshal(items, &r.Items); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
	}
	if count, ok := raw["count"]; ok {
		var n int
		if json.Unmarshal(count, &n) == nil {
			r.Count = &n
		}
	}
	if next, ok := raw["next"]; ok {
		_ = json.Unmarshal(next, &r.Next)
	}
	return nil
}

func (c *Client) ListChanged(ctx context.Context, t entity.Type, since *time.Time, page source.PageRequest) (*source.Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(page.Limit))
	q.Set("offset", strconv.Itoa(page.Offset))
	if since != nil {
		q.Set("since", since.UTC().Format(time.RFC3339))
	}
	path := "/v1/" + t.Plural() + "?" + q.Encode()

	body, err := c.get(ctx, "list "+t.Plural(), path)
	if err != nil {
		return nil, err
	}

	var resp listResponse
	if err := resp.decode(body, t.Plural()); err != nil {
		return nil, err
	}

	hasMore := strings.TrimSpace(resp.Next) != ""
	if resp.Count != nil {
		hasMore = page.Offset+len(resp.Items) < *resp.Count
	}
	if len(resp.Items) == 0 {
		hasMore = false
	}

	c.log.Debug("Fetched page",
		"entity_type", t,
		"offset", page.Offset,
		"items", len(resp.Items),
		"has_more", hasMore,
	)

	return &source.Page{Items: resp.Items, HasMore: hasMore}, nil
}

func (c *Client) GetEntity(ctx context.Context, t entity.Type, id string) (json.RawMessage, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("get %s: empty id", t)
	}
	body, err := c.get(ctx, "get "+string(t), "/v1/"+t.Plural()+"/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("get %s %s: invalid json in response", t, id)
	}
	return json.RawMessage(body), nil
}

// statusError ответ Keap, который не имеет смысла повторять
type statusError struct {
	Status  int
	Message string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("keap api returned %d: %s", e.Status, e.Message)
}

func (c *Client) get(ctx context.Context, op, path string) ([]byte, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		body, retryAfter, err := c.do(ctx, path)
		if err == nil {
			return body, nil
		}

		var se *statusError
		if errors.As(err, &se) {
			if se.Status == http.StatusNotFound {
				return nil, fmt.Errorf("%s: %w", op, source.ErrEntityNotFound)
			}
			if !retryable(se.Status) {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err

		if attempt >= c.maxRetries {
			break
		}
		delay := c.retryDelay(attempt+1, retryAfter)
		c.log.Warn("Retrying Keap request",
			"op", op,
			"attempt", attempt+1,
			"delay", delay,
			"error", err,
		)
		if err := sleepContext(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, &source.TransientFetchError{Op: op, Attempts: c.maxRetries + 1, Err: lastErr}
}

func (c *Client) do(ctx context.Context, path string) ([]byte, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return body, "", nil
	}
	return nil, resp.Header.Get("Retry-After"), &statusError{Status: resp.StatusCode, Message: errorMessage(body)}
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500
}

func errorMessage(body []byte) string {
	msg := strings.TrimSpace(string(body))
	var parsed struct {
		Message string `json:"message"`
		Fault   struct {
			FaultString string `json:"faultstring"`
		} `json:"fault"`
	}
	if json.Unmarshal(body, &parsed) == nil {
		if parsed.Message != "" {
			return parsed.Message
		}
		if parsed.Fault.FaultString != "" {
			return parsed.Fault.FaultString
		}
	}
	if len(msg) > 256 {
		msg = msg[:256]
	}
	return msg
}

func (c *Client) retryDelay(attempt int, retryAfterHeader string) time.Duration {
	if retryAfter := parseRetryAfterSeconds(retryAfterHeader); retryAfter > 0 {
		return min(retryAfter, c.maxDelay)
	}
	delay := c.baseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.maxDelay {
			return c.maxDelay
		}
	}
	return min(delay, c.maxDelay)
}

func parseRetryAfterSeconds(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func sleepContext(ctx context.Context, delay time.Duration) error {
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
