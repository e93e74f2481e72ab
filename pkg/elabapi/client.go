// Package elabapi is the typed eLabFTW v2 REST surface used by elabmate.
//
// It knows endpoint shapes and status codes; it has no notion of teams being
// memoised, titles being unique or uploads being idempotent. Those rules live
// in package elab.
package elabapi

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/ajitpratap0/elabmate/pkg/clients"
	"github.com/ajitpratap0/elabmate/pkg/config"
	"github.com/ajitpratap0/elabmate/pkg/errors"
	"github.com/ajitpratap0/elabmate/pkg/json"
	"github.com/ajitpratap0/elabmate/pkg/logger"
	"github.com/ajitpratap0/elabmate/pkg/metrics"
)

// Version is reported in the User-Agent header.
var Version = "dev"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 * 1024

// Client issues authenticated requests against one eLabFTW server.
type Client struct {
	baseURL  string
	apiKey   string
	http     *clients.HTTPClient
	ownsHTTP bool
	logger   *zap.Logger
	metrics  *metrics.Collector
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient supplies the transport. The caller keeps ownership of it.
func WithHTTPClient(hc *clients.HTTPClient) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithMetrics records request metrics on collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(c *Client) {
		c.metrics = collector
	}
}

// NewClient builds a Client from a validated configuration.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, errors.New(errors.ErrorTypeConfig, "configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		baseURL: strings.TrimRight(cfg.APIHostURL, "/") + "/",
		apiKey:  cfg.APIKey,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get()
	}
	base := c.logger
	c.logger = base.With(zap.String("component", "elabapi"))

	if c.http == nil {
		httpCfg := clients.DefaultHTTPConfig()
		httpCfg.InsecureSkipVerify = !cfg.VerifySSL
		httpCfg.ResponseHeaderTimeout = cfg.RequestTimeout
		httpCfg.UserAgent = "elabmate/" + Version
		c.http = clients.NewHTTPClient(httpCfg, base, c.metrics)
		c.ownsHTTP = true
	}

	return c, nil
}

// Close releases the transport when the Client created it.
func (c *Client) Close() error {
	if c.ownsHTTP {
		return c.http.Close()
	}
	return nil
}

// BaseURL returns the API root with a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// request describes one API exchange. route is the path template used for
// metrics and spans; path is the concrete path relative to the API root.
type request struct {
	method      string
	route       string
	path        string
	query       url.Values
	body        io.Reader
	contentType string
	accept      string
}

// do sends req and returns the response when its status is 2xx. The caller
// closes the body.
func (c *Client) do(ctx context.Context, req request) (*http.Response, error) {
	target := c.baseURL + req.path
	if len(req.query) > 0 {
		target += "?" + req.query.Encode()
	}

	ctx = clients.WithRoute(ctx, req.route)
	httpReq, err := http.NewRequestWithContext(ctx, req.method, target, req.body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to create HTTP request").
			WithDetail("path", req.path)
	}

	httpReq.Header.Set("Authorization", c.apiKey)
	accept := req.accept
	if accept == "" {
		accept = "application/json"
	}
	httpReq.Header.Set("Accept", accept)
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.Wrap(ctxErr, errors.ErrorTypeConnection, req.method+" "+req.path+" cancelled")
		}
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "HTTP request failed").
			WithDetail("method", req.method).
			WithDetail("path", req.path)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, c.statusError(req, resp)
	}
	return resp, nil
}

// statusError maps a non-2xx response to the error taxonomy.
func (c *Client) statusError(req request, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	message := serverMessage(raw)
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	message = req.method + " " + req.path + ": " + message

	c.logger.Debug("request rejected",
		zap.String("method", req.method),
		zap.String("route", req.route),
		zap.Int("status", resp.StatusCode),
		zap.String("message", message))

	var err *errors.Error
	if resp.StatusCode == http.StatusNotFound {
		err = errors.New(errors.ErrorTypeNotFound, message).WithStatus(resp.StatusCode)
	} else {
		err = errors.Remote(resp.StatusCode, message)
	}
	return err.WithDetail("method", req.method).WithDetail("path", req.path)
}

// serverMessage extracts the human readable part of an error body.
func serverMessage(raw []byte) string {
	var payload struct {
		Code        int    `json:"code"`
		Message     string `json:"message"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		switch {
		case payload.Description != "":
			return payload.Description
		case payload.Message != "":
			return payload.Message
		}
	}
	return strings.TrimSpace(string(raw))
}

// getJSON decodes the response of a GET into out.
func (c *Client) getJSON(ctx context.Context, route, path string, query url.Values, out interface{}) error {
	resp, err := c.do(ctx, request{method: http.MethodGet, route: route, path: path, query: query})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.Decode(resp.Body, out); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to decode API response").
			WithDetail("path", path)
	}
	return nil
}

// sendJSON issues a request with an optional JSON payload and discards the
// response body. The response headers are returned for Location lookups.
func (c *Client) sendJSON(ctx context.Context, method, route, path string, payload interface{}) (http.Header, error) {
	req := request{method: method, route: route, path: path}
	if payload != nil {
		buf, err := json.MarshalToBuffer(payload)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "failed to encode request body")
		}
		defer json.PutBuffer(buf)
		req.body = buf
		req.contentType = "application/json"
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Header, nil
}

// createdID reads the id of a new resource from the Location header,
// e.g. https://elab.example.org/api/v2/experiments/42.
func createdID(header http.Header) (int, error) {
	location := strings.TrimRight(header.Get("Location"), "/")
	if location == "" {
		return 0, errors.New(errors.ErrorTypeData, "response has no Location header")
	}
	segment := location[strings.LastIndex(location, "/")+1:]
	id, err := strconv.Atoi(segment)
	if err != nil || id <= 0 {
		return 0, errors.Newf(errors.ErrorTypeData, "cannot read resource id from Location %q", location)
	}
	return id, nil
}
