package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"studiodesk.app/internal/obs"
)

// refreshLeeway is how close to expiry an access token may get before the
// client refreshes it instead of reusing it.
const refreshLeeway = 30 * time.Second

// Client implements Service over the REST/JSON API of the hosted data/auth
// service. All methods are safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
	limiter *rate.Limiter
	stream  *eventStream

	mu      sync.Mutex
	session *Session
}

var _ Service = (*Client)(nil)

// ClientOption configures Client behavior.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpc = hc
		}
	}
}

// WithRateLimit bounds outgoing request rate. perSec <= 0 disables limiting.
func WithRateLimit(perSec float64, burst int) ClientOption {
	return func(c *Client) {
		if perSec <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

// NewClient creates a client for the service at baseURL authenticated by the
// anonymous apiKey.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 15 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(20), 40),
		stream:  newEventStream(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// sessionResponse is the auth API token payload.
type sessionResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
	User         User   `json:"user"`
}

func (r sessionResponse) toSession() *Session {
	return &Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		ExpiresAt:    time.Now().UTC().Add(time.Duration(r.ExpiresIn) * time.Second),
		User:         r.User,
	}
}

// RestoreSession seeds the client with a persisted session. No network call,
// no event: the caller decides what to do with a possibly stale session via
// GetSession.
func (c *Client) RestoreSession(sess *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sess == nil {
		c.session = nil
		return
	}
	cp := *sess
	c.session = &cp
}

// GetSession returns the current session, refreshing stale credentials. A
// nil session with nil error means there is no signed-in principal.
func (c *Client) GetSession(ctx context.Context) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, nil
	}
	if time.Until(c.session.ExpiresAt) > refreshLeeway {
		cp := *c.session
		return &cp, nil
	}
	if err := c.refreshLocked(ctx); err != nil {
		return nil, err
	}
	cp := *c.session
	return &cp, nil
}

// SignIn authenticates with the password grant and emits a signed-in event.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Session, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	var resp sessionResponse
	if err := c.doJSON(ctx, "auth.sign_in", http.MethodPost, c.baseURL+"/auth/v1/token?grant_type=password", nil, bytes.NewReader(body), &resp); err != nil {
		return nil, err
	}
	sess := resp.toSession()
	c.mu.Lock()
	c.session = sess
	c.mu.Unlock()
	c.stream.publish(AuthEvent{Kind: EventSignedIn, Session: sess})
	cp := *sess
	return &cp, nil
}

// refreshLocked exchanges the refresh token for fresh credentials. Caller
// holds c.mu.
func (c *Client) refreshLocked(ctx context.Context) error {
	if c.session == nil || c.session.RefreshToken == "" {
		c.session = nil
		return ErrUnauthorized
	}
	body, _ := json.Marshal(map[string]string{"refresh_token": c.session.RefreshToken})
	var resp sessionResponse
	// The anonymous key authenticates the grant; the stale access token is
	// deliberately not sent.
	if err := c.doJSONAs(ctx, "auth.refresh", http.MethodPost, c.baseURL+"/auth/v1/token?grant_type=refresh_token", nil, bytes.NewReader(body), &resp, ""); err != nil {
		return err
	}
	sess := resp.toSession()
	if sess.User.ID == "" {
		sess.User = c.session.User
	}
	c.session = sess
	c.stream.publish(AuthEvent{Kind: EventTokenRefreshed, Session: sess})
	return nil
}

// SignOut invalidates the remote session. Local token state is dropped and a
// signed-out event is emitted even when the remote call fails.
func (c *Client) SignOut(ctx context.Context, scope string) error {
	c.mu.Lock()
	token := ""
	if c.session != nil {
		token = c.session.AccessToken
	}
	c.session = nil
	c.mu.Unlock()
	defer c.stream.publish(AuthEvent{Kind: EventSignedOut})

	if token == "" {
		return nil
	}
	u := c.baseURL + "/auth/v1/logout"
	if scope != "" {
		u += "?scope=" + url.QueryEscape(scope)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return c.send("auth.sign_out", req, nil)
}

// AuthEvents delivers auth transitions until ctx ends.
func (c *Client) AuthEvents(ctx context.Context) <-chan AuthEvent {
	return c.stream.subscribe(ctx)
}

// Select fetches rows matching q into dest (a pointer to a slice).
func (c *Client) Select(ctx context.Context, q Query, dest any) error {
	params := url.Values{}
	params.Set("select", "*")
	for _, k := range sortedKeys(q.Filter) {
		params.Add(k, "eq."+fmt.Sprint(q.Filter[k]))
	}
	if len(q.Order) > 0 {
		parts := make([]string, 0, len(q.Order))
		for _, o := range q.Order {
			dir := "asc"
			if o.Desc {
				dir = "desc"
			}
			parts = append(parts, o.Column+"."+dir)
		}
		params.Set("order", strings.Join(parts, ","))
	}
	u := c.baseURL + "/rest/v1/" + url.PathEscape(q.Table) + "?" + params.Encode()
	return c.doJSON(ctx, "data.select", http.MethodGet, u, nil, nil, dest)
}

// Insert stores row; the stored representation is decoded into dest when
// dest is non-nil.
func (c *Client) Insert(ctx context.Context, table string, row Row, dest any) error {
	body, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("remote: encode insert: %w", err)
	}
	headers := map[string]string{
		"Prefer":          "return=representation",
		"Idempotency-Key": uuid.NewString(),
	}
	var stored []json.RawMessage
	u := c.baseURL + "/rest/v1/" + url.PathEscape(table)
	if err := c.doJSON(ctx, "data.insert", http.MethodPost, u, headers, bytes.NewReader(body), &stored); err != nil {
		return err
	}
	if dest != nil && len(stored) > 0 {
		if err := json.Unmarshal(stored[0], dest); err != nil {
			return fmt.Errorf("remote: decode inserted row: %w", err)
		}
	}
	return nil
}

// Update patches rows matching filter.
func (c *Client) Update(ctx context.Context, table string, patch Row, filter Filter) error {
	body, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("remote: encode update: %w", err)
	}
	u := c.baseURL + "/rest/v1/" + url.PathEscape(table) + "?" + encodeFilter(filter)
	return c.doJSON(ctx, "data.update", http.MethodPatch, u, nil, bytes.NewReader(body), nil)
}

// Delete removes rows matching filter.
func (c *Client) Delete(ctx context.Context, table string, filter Filter) error {
	u := c.baseURL + "/rest/v1/" + url.PathEscape(table) + "?" + encodeFilter(filter)
	return c.doJSON(ctx, "data.delete", http.MethodDelete, u, nil, nil, nil)
}

// Upload stores data in bucket under path and returns its public URL.
func (c *Client) Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error) {
	u := c.baseURL + "/storage/v1/object/" + url.PathEscape(bucket) + "/" + path
	headers := map[string]string{"x-upsert": "true"}
	if contentType != "" {
		headers["Content-Type"] = contentType
	}
	if err := c.doJSON(ctx, "storage.upload", http.MethodPost, u, headers, bytes.NewReader(data), nil); err != nil {
		return "", err
	}
	return c.baseURL + "/storage/v1/object/public/" + url.PathEscape(bucket) + "/" + path, nil
}

// Invoke calls an edge function with a JSON payload.
func (c *Client) Invoke(ctx context.Context, name string, payload any, dest any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("remote: encode payload: %w", err)
	}
	u := c.baseURL + "/functions/v1/" + url.PathEscape(name)
	return c.doJSON(ctx, "functions.invoke", http.MethodPost, u, nil, bytes.NewReader(body), dest)
}

func encodeFilter(filter Filter) string {
	params := url.Values{}
	for _, k := range sortedKeys(filter) {
		params.Add(k, "eq."+fmt.Sprint(filter[k]))
	}
	return params.Encode()
}

// doJSON performs one API call with common headers and decodes the response
// body into dest when dest is non-nil.
func (c *Client) doJSON(ctx context.Context, op, method, u string, headers map[string]string, body io.Reader, dest any) error {
	return c.doJSONAs(ctx, op, method, u, headers, body, dest, c.currentToken())
}

// doJSONAs is doJSON with an explicit bearer token. Paths already holding c.mu
// must use it instead of doJSON to avoid re-entering the lock.
func (c *Client) doJSONAs(ctx context.Context, op, method, u string, headers map[string]string, body io.Reader, dest any, token string) error {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if token != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return c.send(op, req, dest)
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return ""
	}
	return c.session.AccessToken
}

func (c *Client) send(op string, req *http.Request, dest any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return err
		}
	}
	req.Header.Set("apikey", c.apiKey)
	if req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		obs.ObserveRemote(op, 0, started)
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	obs.ObserveRemote(op, resp.StatusCode, started)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apiError(resp)
	}
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("remote: decode response: %w", err)
	}
	return nil
}

// apiError maps an HTTP error response onto a package sentinel, keeping the
// service message for the log line.
func apiError(resp *http.Response) error {
	var payload struct {
		Message string `json:"message"`
		Msg     string `json:"msg"`
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(data, &payload)
	msg := payload.Message
	if msg == "" {
		msg = payload.Msg
	}
	if msg == "" {
		msg = strings.TrimSpace(string(data))
	}
	if msg == "" {
		msg = resp.Status
	}
	return fmt.Errorf("%w: %s", mapStatus(resp.StatusCode), msg)
}

func mapStatus(code int) error {
	switch {
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return ErrUnauthorized
	case code == http.StatusConflict:
		return ErrConflict
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return ErrInvalidInput
	default:
		return ErrUnavailable
	}
}
