// Package archer is the client of the ArcherOSS resource API.
//
// Every call is a JSON POST under /api/resource/ answered with the envelope
// {code, msg, data}. The client logs in once, keeps the bearer token and the
// sessionId/userId cookies, and turns non-zero business codes into *APIError.
package archer

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjacquet/archer_ops/internal/logging"
	"github.com/fjacquet/archer_ops/internal/models"
	"github.com/fjacquet/archer_ops/internal/telemetry"
	"github.com/go-resty/resty/v2"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	contentType           = "application/json"
	httpContentTypeHeader = "Content-Type"
	headerAuthorization   = "Authorization"

	// Retry configuration
	retryCount       = 3
	retryWaitTime    = 5 * time.Second
	retryMaxWaitTime = 60 * time.Second

	// Connection pool configuration
	maxIdleConns        = 100
	maxIdleConnsPerHost = 20
	idleConnTimeout     = 90 * time.Second

	bodyPreviewLimit = 200
)

// API path prefix shared by every endpoint.
const apiPrefix = "/api/resource/"

// ClientOption configures optional Client settings.
type ClientOption func(*clientOptions)

type clientOptions struct {
	tracerProvider trace.TracerProvider
	retryCount     int
	retryWait      time.Duration
	retryMaxWait   time.Duration
	now            func() time.Time
}

func defaultClientOptions() clientOptions {
	return clientOptions{
		retryCount:   retryCount,
		retryWait:    retryWaitTime,
		retryMaxWait: retryMaxWaitTime,
		now:          time.Now,
	}
}

// WithTracerProvider sets the TracerProvider for distributed tracing.
// If not provided, tracing operations use a noop provider.
func WithTracerProvider(tp trace.TracerProvider) ClientOption {
	return func(o *clientOptions) {
		o.tracerProvider = tp
	}
}

// WithRetry overrides the transport retry policy.
func WithRetry(count int, wait, maxWait time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.retryCount = count
		o.retryWait = wait
		o.retryMaxWait = maxWait
	}
}

// WithClock replaces the clock used for password encoding.
func WithClock(now func() time.Time) ClientOption {
	return func(o *clientOptions) {
		o.now = now
	}
}

// session holds what login returns.
type session struct {
	token     string
	sessionID string
	userID    string
}

// Client handles HTTP communication with one ArcherOSS platform.
type Client struct {
	client   *resty.Client
	settings models.PlatformSettings
	tracing  *telemetry.TracerWrapper
	now      func() time.Time

	authMu  sync.RWMutex
	auth    *session
	loginMu sync.Mutex

	// Connection tracking for graceful shutdown
	mu         sync.Mutex
	activeReqs int32
	closed     bool
	closeChan  chan struct{}
}

// NewClient creates a platform client. It does not log in; call Login first.
//
// Example:
//
//	settings := models.SettingsFor(cfg, env)
//	client := archer.NewClient(settings, archer.WithTracerProvider(tp))
//	if err := client.Login(ctx); err != nil {
//	    return err
//	}
func NewClient(settings models.PlatformSettings, opts ...ClientOption) *Client {
	options := defaultClientOptions()
	for _, opt := range opts {
		opt(&options)
	}

	if !settings.VerifyTLS() {
		log.Warn("SECURITY WARNING: TLS certificate verification disabled for " + settings.BaseURL())
	}

	client := resty.New().
		SetBaseURL(settings.BaseURL()).
		SetTimeout(settings.Timeout()).
		SetRetryCount(options.retryCount).
		SetRetryWaitTime(options.retryWait).
		SetRetryMaxWaitTime(options.retryMaxWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() == http.StatusTooManyRequests ||
				r.StatusCode() >= 500
		})

	client.AddRetryAfterErrorCondition()

	httpClient := client.GetClient()
	httpClient.Transport = &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !settings.VerifyTLS(),
			MinVersion:         tls.VersionTLS12,
		},
	}

	return &Client{
		client:   client,
		settings: settings,
		tracing:  telemetry.NewTracerWrapper(options.tracerProvider, "archer-ops/platform-client"),
		now:      options.now,
	}
}

// BaseURL returns the platform URL the client talks to.
func (c *Client) BaseURL() string { return c.settings.BaseURL() }

// Credentials returns the settings the client was built from.
func (c *Client) Credentials() models.PlatformSettings { return c.settings }

// IsLoggedIn reports whether the client holds a session it can use: Login
// succeeded, the platform has not rejected the session since, and the
// client is not closed.
func (c *Client) IsLoggedIn() bool {
	if c.isClosed() {
		return false
	}
	c.authMu.RLock()
	defer c.authMu.RUnlock()
	return c.auth != nil
}

// Token returns the bearer token, or "" before login.
func (c *Client) Token() string {
	c.authMu.RLock()
	defer c.authMu.RUnlock()
	if c.auth == nil {
		return ""
	}
	return c.auth.token
}

// EncodePassword builds the login password the platform expects:
// base64("cloudcmp" + password + "_" + unix milliseconds).
func EncodePassword(password string, at time.Time) string {
	raw := fmt.Sprintf("cloudcmp%s_%d", password, at.UnixMilli())
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// Login authenticates against /api/resource/login and stores the token and
// session cookies for later calls.
func (c *Client) Login(ctx context.Context) error {
	ctx, span := c.tracing.StartSpan(ctx, "archer.login", trace.SpanKindClient)
	defer span.End()

	payload := map[string]string{
		"loginName": c.settings.Username(),
		"password":  EncodePassword(c.settings.Password(), c.now()),
		"loginType": "front",
	}

	var resp models.LoginResponse
	if err := c.do(ctx, span, "login", payload, &resp); err != nil {
		logging.LogError(fmt.Sprintf(telemetry.ErrLoginFailedTemplate, err, c.settings.BaseURL()+apiPrefix+"login"))
		return fmt.Errorf("login as %s failed: %w", c.settings.Username(), err)
	}
	if resp.Code != 0 {
		err := &APIError{Endpoint: "login", Code: resp.Code, Message: resp.Msg}
		c.recordError(span, err)
		return err
	}
	if resp.Token == "" || resp.Data.SessionID == "" || resp.Data.UserID == "" {
		c.recordError(span, ErrLoginIncomplete)
		return ErrLoginIncomplete
	}

	c.authMu.Lock()
	c.auth = &session{token: resp.Token, sessionID: resp.Data.SessionID, userID: resp.Data.UserID}
	c.authMu.Unlock()

	logging.Component("platform").WithFields(log.Fields{
		"url":  c.settings.BaseURL(),
		"user": c.settings.Username(),
	}).Info("Logged in to platform")
	span.SetStatus(codes.Ok, "logged in")
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Post calls endpoint with payload and decodes the envelope data into target.
// endpoint is the name under /api/resource/, for example "listHost". A nil
// target discards the data.
//
// A 401 means the platform dropped the session: the client logs in again
// and repeats the call once. If that login fails the client is logged out.
func (c *Client) Post(ctx context.Context, endpoint string, payload, target any) error {
	if c.isClosed() {
		return ErrClientClosed
	}
	if !c.IsLoggedIn() {
		return ErrNotLoggedIn
	}

	token := c.Token()
	err := c.post(ctx, endpoint, payload, target)
	if !isUnauthorized(err) {
		return err
	}
	if err := c.relogin(ctx, token); err != nil {
		return fmt.Errorf("%s: session expired: %w", endpoint, err)
	}
	return c.post(ctx, endpoint, payload, target)
}

// relogin replaces the session that carried stale. Concurrent callers that
// saw the same stale token share one login.
func (c *Client) relogin(ctx context.Context, stale string) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()
	if current := c.Token(); current != "" && current != stale {
		return nil
	}

	c.authMu.Lock()
	c.auth = nil
	c.authMu.Unlock()
	logging.Component("platform").WithField("url", c.settings.BaseURL()).Info("Session rejected by platform, logging in again")
	return c.Login(ctx)
}

func isUnauthorized(err error) bool {
	var httpErr *HTTPError
	return errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusUnauthorized
}

func (c *Client) post(ctx context.Context, endpoint string, payload, target any) error {
	ctx, span := c.tracing.StartSpan(ctx, "archer."+endpoint, trace.SpanKindClient)
	defer span.End()
	span.SetAttributes(attribute.String(telemetry.AttrArcherEndpoint, endpoint))

	var env struct {
		Code int             `json:"code"`
		Msg  string          `json:"msg"`
		Data json.RawMessage `json:"data"`
	}
	if err := c.do(ctx, span, endpoint, payload, &env); err != nil {
		return err
	}
	if env.Code != 0 {
		err := &APIError{Endpoint: endpoint, Code: env.Code, Message: env.Msg}
		span.SetAttributes(attribute.Int(telemetry.AttrArcherBusinessCode, env.Code))
		c.recordError(span, err)
		return err
	}

	if target != nil && len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, target); err != nil {
			err = fmt.Errorf("failed to decode %s data: %w", endpoint, err)
			c.recordError(span, err)
			return err
		}
	}

	span.SetStatus(codes.Ok, "Request completed successfully")
	return nil
}

// do performs one POST and unmarshals the whole body into out.
func (c *Client) do(ctx context.Context, span trace.Span, endpoint string, payload, out any) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	atomic.AddInt32(&c.activeReqs, 1)
	c.mu.Unlock()

	defer func() {
		if atomic.AddInt32(&c.activeReqs, -1) == 0 {
			c.mu.Lock()
			if c.closed && c.closeChan != nil {
				close(c.closeChan)
				c.closeChan = nil
			}
			c.mu.Unlock()
		}
	}()

	url := apiPrefix + endpoint
	headers := c.injectTraceContext(ctx, map[string]string{httpContentTypeHeader: contentType})

	req := c.client.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(payload)

	c.authMu.RLock()
	if c.auth != nil {
		req.SetHeader(headerAuthorization, "Bearer "+c.auth.token)
		req.SetCookies([]*http.Cookie{
			{Name: "sessionId", Value: c.auth.sessionID},
			{Name: "userId", Value: c.auth.userID},
		})
	}
	c.authMu.RUnlock()

	startTime := time.Now()
	resp, err := req.Post(url)
	duration := time.Since(startTime)

	if err != nil {
		c.recordError(span, err)
		return fmt.Errorf("HTTP request to %s failed: %w", url, err)
	}

	requestSize := int64(0)
	if raw, err := json.Marshal(payload); err == nil {
		requestSize = int64(len(raw))
	}
	c.recordHTTPAttributes(span, http.MethodPost, c.settings.BaseURL()+url, resp.StatusCode(), requestSize, int64(len(resp.Body())), duration)

	if resp.IsError() {
		contentTypeValue := resp.Header().Get(httpContentTypeHeader)
		err := &HTTPError{
			URL:         c.settings.BaseURL() + url,
			StatusCode:  resp.StatusCode(),
			Status:      resp.Status(),
			ContentType: contentTypeValue,
		}
		c.recordError(span, err)
		return err
	}

	contentTypeValue := resp.Header().Get(httpContentTypeHeader)
	if contentTypeValue != "" && !strings.Contains(contentTypeValue, "application/json") {
		preview := bodyPreview(resp.Body())
		logging.LogError(fmt.Sprintf(telemetry.ErrNonJSONResponseTemplate, contentTypeValue, c.settings.BaseURL()+url, preview))
		err := fmt.Errorf("server returned %s instead of JSON: url=%s, status=%d, preview=%s",
			contentTypeValue, url, resp.StatusCode(), preview)
		c.recordError(span, err)
		return err
	}

	if err := json.Unmarshal(resp.Body(), out); err != nil {
		unmarshalErr := fmt.Errorf("failed to unmarshal JSON response: url=%s, status=%d, error=%w\nResponse preview: %s",
			url, resp.StatusCode(), err, bodyPreview(resp.Body()))
		c.recordError(span, unmarshalErr)
		return unmarshalErr
	}
	return nil
}

func bodyPreview(body []byte) string {
	preview := string(body)
	if len(preview) > bodyPreviewLimit {
		preview = preview[:bodyPreviewLimit] + "..."
	}
	return preview
}

// recordHTTPAttributes records HTTP semantic convention attributes on the span.
func (c *Client) recordHTTPAttributes(span trace.Span, method, url string, statusCode int, requestSize, responseSize int64, duration time.Duration) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String(telemetry.AttrHTTPMethod, method),
		attribute.String(telemetry.AttrHTTPURL, url),
		attribute.Int(telemetry.AttrHTTPStatusCode, statusCode),
		attribute.Int64(telemetry.AttrHTTPRequestContentLength, requestSize),
		attribute.Int64(telemetry.AttrHTTPResponseContentLength, responseSize),
		attribute.Float64(telemetry.AttrHTTPDurationMS, float64(duration.Milliseconds())),
	)
}

func (c *Client) recordError(span trace.Span, err error) {
	if span == nil {
		return
	}
	telemetry.RecordError(span, err)
	span.SetAttributes(attribute.String(telemetry.AttrError, err.Error()))
}

// injectTraceContext adds W3C trace context headers using the global propagator.
func (c *Client) injectTraceContext(ctx context.Context, headers map[string]string) map[string]string {
	carrier := propagation.MapCarrier{}
	for k, v := range headers {
		carrier.Set(k, v)
	}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	result := make(map[string]string, len(carrier))
	for k, v := range carrier {
		result[k] = v
	}
	return result
}

// Close waits up to 30 seconds for in-flight requests, then releases idle connections.
func (c *Client) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	err := c.CloseWithContext(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		log.Warnf("Timeout waiting for active requests to %s during shutdown", c.settings.BaseURL())
		return nil
	}
	return err
}

// CloseWithContext releases resources, waiting for in-flight requests until ctx is done.
func (c *Client) CloseWithContext(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.closed = true

	activeCount := atomic.LoadInt32(&c.activeReqs)
	if activeCount > 0 {
		c.closeChan = make(chan struct{})
		ch := c.closeChan
		c.mu.Unlock()

		select {
		case <-ch:
			log.Debug("All active requests completed during shutdown")
		case <-ctx.Done():
			log.Warnf("Context cancelled while waiting for %d active requests", activeCount)
			c.client.GetClient().CloseIdleConnections()
			return ctx.Err()
		}
	} else {
		c.mu.Unlock()
	}

	c.client.GetClient().CloseIdleConnections()
	return nil
}
