// Copyright 2025 Vulntor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

// Package zap talks to the OWASP ZAP JSON API.
//
// Only the calls a scan run needs are implemented: core/view/version,
// ascan/action/scan, ascan/view/status and reports/action/generate.
// Requests are rate limited so a tight poll loop cannot flood the daemon.
package zap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
	"golang.org/x/time/rate"

	"github.com/vulntor/scanpilot/pkg/orchestrator"
	"github.com/vulntor/scanpilot/pkg/version"
)

// APIKeyHeader carries the API key on every request.
const APIKeyHeader = "X-ZAP-API-Key"

const maxResponseBytes = 1 << 20

// Config controls how the client reaches the API.
type Config struct {
	// Scheme is http or https. Defaults to http.
	Scheme string
	// APIKey is sent in the X-ZAP-API-Key header when set.
	APIKey string
	// Timeout bounds each HTTP request. Defaults to 30s.
	Timeout time.Duration
	// RateLimit is the sustained request rate per second. 0 disables limiting.
	RateLimit float64
	// Burst is the number of requests allowed at once. Defaults to 1.
	Burst int
	// HTTPClient overrides the transport (useful for tests).
	HTTPClient *http.Client
}

// Client is a session with one ZAP instance. It implements orchestrator.Client.
type Client struct {
	base    *url.URL
	apiKey  string
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

var _ orchestrator.Client = (*Client)(nil)

// New builds a client for the API at ep. No request is made.
func New(ep orchestrator.Endpoint, cfg Config) (*Client, error) {
	if err := ep.Validate(); err != nil {
		return nil, err
	}

	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", scheme)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &Client{
		base:    &url.URL{Scheme: scheme, Host: ep.String()},
		apiKey:  cfg.APIKey,
		http:    httpClient,
		limiter: limiter,
		logger:  log.With().Str("component", "zap").Str("endpoint", ep.String()).Logger(),
	}, nil
}

// Dialer creates Clients from a shared Config.
type Dialer struct {
	Config Config
}

// Dial implements orchestrator.Dialer.
func (d Dialer) Dial(_ context.Context, ep orchestrator.Endpoint) (orchestrator.Client, error) {
	return New(ep, d.Config)
}

// Version returns the ZAP version string.
func (c *Client) Version(ctx context.Context) (string, error) {
	var out map[string]any
	if err := c.get(ctx, "core", "view", "version", nil, &out); err != nil {
		return "", err
	}
	return field[string](out, "version", cast.ToStringE)
}

// Scan starts an active scan and returns the scan id.
func (c *Client) Scan(ctx context.Context, req orchestrator.ScanRequest) (orchestrator.JobID, error) {
	params := url.Values{}
	params.Set("url", req.Target)
	setIf(params, "contextId", req.ContextID)
	setIf(params, "method", req.Method)
	setIf(params, "postData", req.PostData)
	setIf(params, "scanPolicyName", req.Policy)
	if req.Recurse != nil {
		params.Set("recurse", strconv.FormatBool(*req.Recurse))
	}
	if req.InScopeOnly != nil {
		params.Set("inScopeOnly", strconv.FormatBool(*req.InScopeOnly))
	}

	var out map[string]any
	if err := c.get(ctx, "ascan", "action", "scan", params, &out); err != nil {
		return "", err
	}
	id, err := field[string](out, "scan", cast.ToStringE)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("ascan/action/scan: empty scan id")
	}
	return orchestrator.JobID(id), nil
}

// Status returns the progress percentage of a scan.
func (c *Client) Status(ctx context.Context, job orchestrator.JobID) (int, error) {
	params := url.Values{}
	params.Set("scanId", string(job))

	var out map[string]any
	if err := c.get(ctx, "ascan", "view", "status", params, &out); err != nil {
		return 0, err
	}
	return field[int](out, "status", cast.ToIntE)
}

// GenerateReport asks ZAP to write a report. Destination is a path on the ZAP
// host; its directory and file name are sent separately.
func (c *Client) GenerateReport(ctx context.Context, req orchestrator.ReportRequest) error {
	params := url.Values{}
	params.Set("title", req.Target)
	params.Set("template", req.Format)
	setIf(params, "theme", req.Template)
	setIf(params, "sites", siteOf(req.Target))
	if req.Destination != "" {
		// The destination lives on the ZAP host, so it is split with slash rules.
		dest := filepath.ToSlash(req.Destination)
		params.Set("reportDir", path.Dir(dest))
		params.Set("reportFileName", path.Base(dest))
	}

	var out map[string]any
	if err := c.get(ctx, "reports", "action", "generate", params, &out); err != nil {
		return err
	}
	if written, _ := cast.ToStringE(out["generate"]); written != "" {
		c.logger.Debug().Str("path", written).Str("template", req.Format).Msg("Report written by scanner")
	}
	return nil
}

// siteOf reduces a target URL to the scheme://host[:port] name ZAP gives the
// site node. Targets that do not parse are sent unchanged.
func siteOf(target string) string {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return target
	}
	return u.Scheme + "://" + u.Host
}

// get issues GET /JSON/<component>/<kind>/<name>/ and decodes the JSON body.
func (c *Client) get(ctx context.Context, component, kind, name string, params url.Values, out any) error {
	op := component + "/" + kind + "/" + name

	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limit: %w", op, err)
	}

	u := c.base.JoinPath("JSON", component, kind, name)
	u.Path += "/"
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "scanpilot/"+version.Version)
	if c.apiKey != "" {
		req.Header.Set(APIKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", op, err)
	}

	c.logger.Trace().Str("op", op).Int("status", resp.StatusCode).Dur("took", time.Since(start)).Msg("API call")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newAPIError(op, resp.StatusCode, body)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func field[T any](m map[string]any, key string, conv func(any) (T, error)) (T, error) {
	var zero T
	raw, ok := m[key]
	if !ok {
		return zero, fmt.Errorf("response missing %q", key)
	}
	v, err := conv(raw)
	if err != nil {
		return zero, fmt.Errorf("response field %q: %w", key, err)
	}
	return v, nil
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}

// APIError is a non-2xx reply from the API.
type APIError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if e.Code != "" {
		return fmt.Sprintf("%s: %d %s: %s", e.Op, e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("%s: %d: %s", e.Op, e.StatusCode, msg)
}

// Temporary reports whether retrying the same call may succeed.
func (e *APIError) Temporary() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsAPIError reports whether err carries an APIError with the given ZAP code.
func IsAPIError(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

func newAPIError(op string, status int, body []byte) *APIError {
	e := &APIError{Op: op, StatusCode: status}
	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil {
		e.Code = payload.Code
		e.Message = payload.Message
	}
	return e
}
