// Package network sends SDK requests and telemetry to the flag service.
package network

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Endpoint is a path below the API base URL.
type Endpoint string

const (
	EndpointInitialize          Endpoint = "initialize"
	EndpointDownloadConfigSpecs Endpoint = "download_config_specs"
	EndpointRegister            Endpoint = "rgstr"
	EndpointSDKException        Endpoint = "sdk_exception"
)

const (
	DefaultAPI     = "https://api.flagkit.dev/v1"
	DefaultTimeout = 10 * time.Second
)

// Options configures a Network.
type Options struct {
	SDKKey string
	// API overrides the base URL of every endpoint.
	API string
	// EndpointURLs overrides the full URL of individual endpoints.
	EndpointURLs map[Endpoint]string
	// FallbackURLs are base URLs tried in order when the primary URL cannot be reached.
	FallbackURLs []string

	Timeout            time.Duration
	DisableCompression bool

	SDKType    string
	SDKVersion string
	UserAgent  string
	// SessionID is read on every request.
	SessionID func() string

	Transport HTTPTransport
	Logger    *slog.Logger
}

// PostOptions tune a single Post.
type PostOptions struct {
	// Compress gzips the body and marks the request with gz=1.
	Compress bool
	// Query adds request specific query parameters.
	Query map[string]string
}

// Network resolves endpoint URLs and encodes requests. It does not retry.
type Network struct {
	opts      Options
	transport HTTPTransport
	log       *slog.Logger
	now       func() time.Time
}

func New(opts Options) *Network {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	log := opts.Logger.With(slog.String("worker", "network"))
	transport := opts.Transport
	if transport == nil {
		transport = NewRestyTransport(opts.Timeout, log)
	}
	return &Network{opts: opts, transport: transport, log: log, now: time.Now}
}

// URLs returns the candidate URLs for endpoint in the order they are tried.
func (n *Network) URLs(endpoint Endpoint) []string {
	var primary string
	switch {
	case n.opts.API != "":
		primary = join(n.opts.API, endpoint)
	case n.opts.EndpointURLs[endpoint] != "":
		primary = n.opts.EndpointURLs[endpoint]
	default:
		primary = join(DefaultAPI, endpoint)
	}
	urls := []string{primary}
	for _, fb := range n.opts.FallbackURLs {
		if u := join(fb, endpoint); u != primary {
			urls = append(urls, u)
		}
	}
	return urls
}

func join(base string, endpoint Endpoint) string {
	return strings.TrimSuffix(base, "/") + "/" + string(endpoint)
}

// Post sends body as JSON to endpoint. A non-2xx status or a transport failure is returned as *Error.
// Fallback URLs are only tried when the previous URL could not be reached at all.
func (n *Network) Post(ctx context.Context, endpoint Endpoint, body any, opts PostOptions) (*Response, error) {
	req, err := n.buildRequest(endpoint, body, opts)
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Err: err}
	}

	var lastErr error
	for i, url := range n.URLs(endpoint) {
		req.URL = url
		reqCtx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
		reqCtx = withAttempt(reqCtx, &attempt{
			endpoint:   endpoint,
			index:      i,
			eventCount: req.Query["ec"],
			compressed: req.Query["gz"] == "1",
		})
		resp, err := n.transport.Do(reqCtx, req)
		cancel()
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			n.log.Debug("request failed", "url", url, "error", err)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return resp, &Error{
				Endpoint:   endpoint,
				StatusCode: resp.StatusCode,
				Retriable:  isRetriableStatus(resp.StatusCode),
				Err:        errors.New(http.StatusText(resp.StatusCode)),
			}
		}
		return resp, nil
	}
	return nil, &Error{Endpoint: endpoint, Retriable: true, Err: lastErr}
}

// SendFireAndForget queues body for endpoint without waiting for the result.
func (n *Network) SendFireAndForget(endpoint Endpoint, body any) bool {
	req, err := n.buildRequest(endpoint, body, PostOptions{})
	if err != nil {
		n.log.Warn("failed to encode beacon", "endpoint", endpoint, "error", err)
		return false
	}
	req.URL = n.URLs(endpoint)[0]
	return n.transport.SendBeacon(req)
}

func (n *Network) buildRequest(endpoint Endpoint, body any, opts PostOptions) (*Request, error) {
	if n.opts.SDKKey == "" {
		return nil, ErrNoSDKKey
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s body: %w", endpoint, err)
	}

	query := map[string]string{
		"k":  n.opts.SDKKey,
		"st": n.opts.SDKType,
		"sv": n.opts.SDKVersion,
		"t":  strconv.FormatInt(n.now().UnixMilli(), 10),
	}
	if n.opts.SessionID != nil {
		query["sid"] = n.opts.SessionID()
	}
	for k, v := range opts.Query {
		query[k] = v
	}
	header := map[string]string{
		"Content-Type": "application/json",
		"Accept":       "application/json",
	}
	if n.opts.UserAgent != "" {
		header["User-Agent"] = n.opts.UserAgent
	}

	if opts.Compress && !n.opts.DisableCompression {
		compressed, err := gzipBytes(payload)
		if err != nil {
			n.log.Warn("compression failed, sending uncompressed", "error", err)
		} else {
			payload = compressed
			header["Content-Encoding"] = "gzip"
			query["gz"] = "1"
		}
	}
	return &Request{Method: http.MethodPost, Header: header, Query: query, Body: payload}, nil
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
