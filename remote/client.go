/*
client.go - HTTP client for the hosted request queue and mirror

PURPOSE:
  Talks to the document-store API that backs the remote queue. One client
  implements both Queue and Mirror: they live in the same service, scoped
  by the manager's api key.

RESILIENCE:
  - Every call passes a rate limiter so a busy manager screen cannot
    hammer the backend.
  - Idempotent calls (GET, DELETE, PUT, PATCH) retry with exponential
    backoff up to maxAttempts; the final failure surfaces as a wrapped
    timeoff.ErrRemote.
  - 404 on Get/Delete maps to ErrGone - for Delete that is the losing side
    of a concurrent approval, which callers treat as a conflict, not an
    outage.

CACHING:
  Pending/denied list reads can be served from Redis with a short TTL.
  Staleness is acceptable: the approval workflow re-validates everything at
  commit time. Mutations invalidate both list keys.
*/
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/schedulehq/timeoff/timeoff"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultMaxAttempts = 4
	initialBackoff     = 250 * time.Millisecond

	cacheKeyPending = "timeoff:requests:pending"
	cacheKeyDenied  = "timeoff:requests:denied"
)

// Client implements Queue and Mirror over the hosted HTTP API.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int

	redis    *redis.Client
	cacheTTL time.Duration
}

var _ Queue = (*Client)(nil)

// NewClient constructs a client for the given base URL and manager api key.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:     baseURL,
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		limiter:     rate.NewLimiter(rate.Limit(20), 40),
		maxAttempts: defaultMaxAttempts,
	}
}

// UseRedisCache enables list caching with the given TTL.
func (c *Client) UseRedisCache(rdb *redis.Client, ttl time.Duration) {
	c.redis = rdb
	c.cacheTTL = ttl
}

// =============================================================================
// WIRE FORMAT - versioned so producer and consumer cannot drift silently
// =============================================================================

// requestDoc is the versioned wire shape of a queue document.
type requestDoc struct {
	SchemaVersion int        `json:"schemaVersion"`
	ID            string     `json:"id"`
	EmployeeID    string     `json:"employeeId"`
	EmployeeName  string     `json:"employeeName"`
	TimeOffType   string     `json:"timeOffType"`
	Date          string     `json:"date"` // YYYY-MM-DD
	EndDate       string     `json:"endDate,omitempty"`
	Hours         int        `json:"hours"`
	IsAllDay      bool       `json:"isAllDay"`
	StartTime     string     `json:"startTime,omitempty"`
	EndTime       string     `json:"endTime,omitempty"`
	Status        string     `json:"status"`
	DenialReason  string     `json:"denialReason,omitempty"`
	AutoApproved  bool       `json:"autoApproved"`
	CreatedAt     time.Time  `json:"createdAt"`
	DeniedAt      *time.Time `json:"deniedAt,omitempty"`
}

type mirrorDoc struct {
	SchemaVersion int    `json:"schemaVersion"`
	EntryID       string `json:"entryId"`
	EmployeeID    string `json:"employeeId"`
	Date          string `json:"date"`
	TimeOffType   string `json:"timeOffType"`
	Hours         int    `json:"hours"`
	IsAllDay      bool   `json:"isAllDay"`
	StartTime     string `json:"startTime,omitempty"`
	EndTime       string `json:"endTime,omitempty"`
}

const schemaVersion = 1

func toDoc(r *timeoff.Request) requestDoc {
	doc := requestDoc{
		SchemaVersion: schemaVersion,
		ID:            r.ID,
		EmployeeID:    r.EmployeeID,
		EmployeeName:  r.EmployeeName,
		TimeOffType:   string(r.Type),
		Date:          r.Date.Format("2006-01-02"),
		Hours:         r.Hours,
		IsAllDay:      r.IsAllDay,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		Status:        string(r.Status),
		DenialReason:  r.DenialReason,
		AutoApproved:  r.AutoApproved,
		CreatedAt:     r.CreatedAt,
		DeniedAt:      r.DeniedAt,
	}
	if r.EndDate != nil {
		doc.EndDate = r.EndDate.Format("2006-01-02")
	}
	return doc
}

func fromDoc(d requestDoc) (timeoff.Request, error) {
	date, err := time.ParseInLocation("2006-01-02", d.Date, time.UTC)
	if err != nil {
		return timeoff.Request{}, fmt.Errorf("request %s: bad date %q: %w", d.ID, d.Date, err)
	}
	req := timeoff.Request{
		ID:           d.ID,
		EmployeeID:   d.EmployeeID,
		EmployeeName: d.EmployeeName,
		Type:         timeoff.Type(d.TimeOffType),
		Date:         date,
		Hours:        d.Hours,
		IsAllDay:     d.IsAllDay,
		StartTime:    d.StartTime,
		EndTime:      d.EndTime,
		Status:       timeoff.Status(d.Status),
		DenialReason: d.DenialReason,
		AutoApproved: d.AutoApproved,
		CreatedAt:    d.CreatedAt,
		DeniedAt:     d.DeniedAt,
	}
	if d.EndDate != "" {
		end, err := time.ParseInLocation("2006-01-02", d.EndDate, time.UTC)
		if err != nil {
			return timeoff.Request{}, fmt.Errorf("request %s: bad endDate %q: %w", d.ID, d.EndDate, err)
		}
		req.EndDate = &end
	}
	return req, nil
}

// =============================================================================
// QUEUE
// =============================================================================

func (c *Client) Get(ctx context.Context, id string) (*timeoff.Request, error) {
	var doc requestDoc
	err := c.do(ctx, http.MethodGet, "/v1/requests/"+url.PathEscape(id), nil, &doc)
	if err != nil {
		return nil, err
	}
	req, err := fromDoc(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", timeoff.ErrRemote, err)
	}
	return &req, nil
}

func (c *Client) ListPending(ctx context.Context) ([]timeoff.Request, error) {
	return c.listRequests(ctx, "pending", cacheKeyPending)
}

func (c *Client) ListDenied(ctx context.Context) ([]timeoff.Request, error) {
	return c.listRequests(ctx, "denied", cacheKeyDenied)
}

func (c *Client) listRequests(ctx context.Context, status, cacheKey string) ([]timeoff.Request, error) {
	var docs []requestDoc
	if c.readCache(ctx, cacheKey, &docs) {
		return docsToRequests(docs)
	}

	err := c.do(ctx, http.MethodGet, "/v1/requests?status="+status, nil, &docs)
	if err != nil {
		return nil, err
	}
	c.writeCache(ctx, cacheKey, docs)
	return docsToRequests(docs)
}

func docsToRequests(docs []requestDoc) ([]timeoff.Request, error) {
	out := make([]timeoff.Request, 0, len(docs))
	for _, d := range docs {
		req, err := fromDoc(d)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", timeoff.ErrRemote, err)
		}
		out = append(out, req)
	}
	return out, nil
}

func (c *Client) Create(ctx context.Context, req *timeoff.Request) error {
	defer c.invalidateLists(ctx)
	return c.do(ctx, http.MethodPost, "/v1/requests", toDoc(req), nil)
}

func (c *Client) MarkDenied(ctx context.Context, id, reason string, at time.Time) error {
	defer c.invalidateLists(ctx)
	body := map[string]any{"denialReason": reason, "deniedAt": at}
	return c.do(ctx, http.MethodPatch, "/v1/requests/"+url.PathEscape(id)+"/deny", body, nil)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	defer c.invalidateLists(ctx)
	return c.do(ctx, http.MethodDelete, "/v1/requests/"+url.PathEscape(id), nil, nil)
}

func (c *Client) ClearDenied(ctx context.Context) error {
	defer c.invalidateLists(ctx)
	return c.do(ctx, http.MethodDelete, "/v1/requests?status=denied", nil, nil)
}

// =============================================================================
// MIRROR
// =============================================================================

// MirrorClient exposes the mirror half of the API. Split from Client only
// because Queue and Mirror both name a Delete method.
type MirrorClient struct {
	c *Client
}

var _ Mirror = (*MirrorClient)(nil)

// Mirror returns the mirror view of this client.
func (c *Client) Mirror() *MirrorClient { return &MirrorClient{c: c} }

func (m *MirrorClient) Upsert(ctx context.Context, rec timeoff.MirrorRecord) error {
	c := m.c
	doc := mirrorDoc{
		SchemaVersion: schemaVersion,
		EntryID:       rec.EntryID,
		EmployeeID:    rec.EmployeeID,
		Date:          rec.Date.Format("2006-01-02"),
		TimeOffType:   string(rec.Type),
		Hours:         rec.Hours,
		IsAllDay:      rec.IsAllDay,
		StartTime:     rec.StartTime,
		EndTime:       rec.EndTime,
	}
	path := fmt.Sprintf("/v1/mirror/%s/%s", url.PathEscape(rec.EmployeeID), url.PathEscape(rec.EntryID))
	return c.do(ctx, http.MethodPut, path, doc, nil)
}

// Delete removes an employee-facing record. Deleting a missing record is
// treated as success; mirror deletes are idempotent.
func (m *MirrorClient) Delete(ctx context.Context, employeeID, entryID string) error {
	path := fmt.Sprintf("/v1/mirror/%s/%s", url.PathEscape(employeeID), url.PathEscape(entryID))
	err := m.c.do(ctx, http.MethodDelete, path, nil, nil)
	if errors.Is(err, ErrGone) {
		return nil
	}
	return err
}

// =============================================================================
// TRANSPORT
// =============================================================================

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	backoff := initialBackoff
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", timeoff.ErrRemote, err)
		}

		err := c.doOnce(ctx, method, path, body, out)
		if err == nil || errors.Is(err, ErrGone) {
			return err
		}
		lastErr = err

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", timeoff.ErrRemote, ctx.Err())
		}
	}
	return fmt.Errorf("%w: %d attempts exhausted: %v", timeoff.ErrRemote, c.maxAttempts, lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%w: encode body: %v", timeoff.ErrRemote, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", timeoff.ErrRemote, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", timeoff.ErrRemote, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrGone
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: %s %s: status %d: %s", timeoff.ErrRemote, method, path, resp.StatusCode, msg)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode response: %v", timeoff.ErrRemote, err)
		}
	}
	return nil
}

// =============================================================================
// LIST CACHE
// =============================================================================

func (c *Client) readCache(ctx context.Context, key string, out any) bool {
	if c.redis == nil || c.cacheTTL <= 0 {
		return false
	}
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

func (c *Client) writeCache(ctx context.Context, key string, v any) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.redis.Set(ctx, key, raw, c.cacheTTL)
}

func (c *Client) invalidateLists(ctx context.Context) {
	if c.redis == nil {
		return
	}
	c.redis.Del(ctx, cacheKeyPending, cacheKeyDenied)
}
