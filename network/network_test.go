package network_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flagkit/flagkit-go-client/network"
)

const sdkKey = "client-key"

func TestPostSendsQueryAndBody(t *testing.T) {
	// Given
	var (
		gotPath  string
		gotQuery map[string]string
		gotBody  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		gotQuery = map[string]string{}
		for k := range req.URL.Query() {
			gotQuery[k] = req.URL.Query().Get(k)
		}
		raw, err := io.ReadAll(req.Body)
		assert.NoError(t, err)
		gotBody = string(raw)
		assert.Equal(t, "application/json", req.Header.Get("Content-Type"))
		assert.Equal(t, "flagkit-go-sdk/test", req.Header.Get("User-Agent"))
		_, _ = io.WriteString(rw, `{"ok":true}`)
	}))
	defer server.Close()

	n := network.New(network.Options{
		SDKKey:     sdkKey,
		API:        server.URL + "/v1/",
		SDKType:    "go-client",
		SDKVersion: "1.0.0",
		UserAgent:  "flagkit-go-sdk/test",
		SessionID:  func() string { return "session-1" },
	})

	// When
	resp, err := n.Post(context.Background(), network.EndpointInitialize, map[string]any{"hash": "djb2"}, network.PostOptions{Query: map[string]string{"ec": "3"}})

	// Then
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(resp.Body))
	assert.Equal(t, "/v1/initialize", gotPath)
	assert.Equal(t, `{"hash":"djb2"}`, gotBody)
	assert.Equal(t, sdkKey, gotQuery["k"])
	assert.Equal(t, "go-client", gotQuery["st"])
	assert.Equal(t, "1.0.0", gotQuery["sv"])
	assert.Equal(t, "session-1", gotQuery["sid"])
	assert.Equal(t, "3", gotQuery["ec"])
	assert.NotEmpty(t, gotQuery["t"])
	assert.NotContains(t, gotQuery, "gz")
}

func TestPostCompressesWhenAsked(t *testing.T) {
	var decoded string
	var gz string
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		gz = req.URL.Query().Get("gz")
		assert.Equal(t, "gzip", req.Header.Get("Content-Encoding"))
		zr, err := gzip.NewReader(req.Body)
		require.NoError(t, err)
		raw, err := io.ReadAll(zr)
		require.NoError(t, err)
		decoded = string(raw)
	}))
	defer server.Close()
	n := network.New(network.Options{SDKKey: sdkKey, API: server.URL})

	_, err := n.Post(context.Background(), network.EndpointRegister, map[string]any{"events": []int{1, 2}}, network.PostOptions{Compress: true})

	require.NoError(t, err)
	assert.Equal(t, "1", gz)
	assert.Equal(t, `{"events":[1,2]}`, decoded)
}

func TestPostCompressionCanBeDisabled(t *testing.T) {
	var gz string
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		gz = req.URL.Query().Get("gz")
	}))
	defer server.Close()
	n := network.New(network.Options{SDKKey: sdkKey, API: server.URL, DisableCompression: true})

	_, err := n.Post(context.Background(), network.EndpointRegister, []int{}, network.PostOptions{Compress: true})

	require.NoError(t, err)
	assert.Empty(t, gz)
}

func TestPostReturnsTypedErrorOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()
	n := network.New(network.Options{SDKKey: sdkKey, API: server.URL})

	_, err := n.Post(context.Background(), network.EndpointDownloadConfigSpecs, map[string]any{}, network.PostOptions{})

	var netErr *network.Error
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, http.StatusServiceUnavailable, netErr.StatusCode)
	assert.True(t, netErr.Retriable)
	assert.Equal(t, "ServerError", netErr.Class())
	assert.Equal(t, network.EndpointDownloadConfigSpecs, netErr.Endpoint)
}

func TestPostClientErrorIsNotRetriable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		rw.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()
	n := network.New(network.Options{SDKKey: sdkKey, API: server.URL})

	_, err := n.Post(context.Background(), network.EndpointInitialize, map[string]any{}, network.PostOptions{})

	var netErr *network.Error
	require.True(t, errors.As(err, &netErr))
	assert.False(t, netErr.Retriable)
	assert.Equal(t, "AuthError", netErr.Class())
}

func TestPostUsesFallbackWhenPrimaryUnreachable(t *testing.T) {
	// Given a primary that refuses connections and a working fallback
	dead := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {}))
	deadURL := dead.URL
	dead.Close()

	hits := 0
	fallback := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		hits++
		assert.Equal(t, "/v1/initialize", req.URL.Path)
	}))
	defer fallback.Close()

	n := network.New(network.Options{
		SDKKey:       sdkKey,
		EndpointURLs: map[network.Endpoint]string{network.EndpointInitialize: deadURL + "/v1/initialize"},
		FallbackURLs: []string{fallback.URL + "/v1"},
	})

	// When
	_, err := n.Post(context.Background(), network.EndpointInitialize, map[string]any{}, network.PostOptions{})

	// Then
	require.NoError(t, err)
	assert.Equal(t, 1, hits)
}

func TestURLResolutionOrder(t *testing.T) {
	override := map[network.Endpoint]string{network.EndpointRegister: "https://events.example.com/v1/rgstr"}

	withAPI := network.New(network.Options{SDKKey: sdkKey, API: "https://proxy.example.com/v1", EndpointURLs: override})
	withOverride := network.New(network.Options{SDKKey: sdkKey, EndpointURLs: override, FallbackURLs: []string{"https://backup.example.com/v1"}})

	assert.Equal(t, []string{"https://proxy.example.com/v1/rgstr"}, withAPI.URLs(network.EndpointRegister))
	assert.Equal(t, []string{"https://events.example.com/v1/rgstr", "https://backup.example.com/v1/rgstr"}, withOverride.URLs(network.EndpointRegister))
	assert.Equal(t, []string{network.DefaultAPI + "/initialize", "https://backup.example.com/v1/initialize"}, withOverride.URLs(network.EndpointInitialize))
}

func TestPostWithoutSDKKey(t *testing.T) {
	n := network.New(network.Options{API: "http://localhost:1"})

	_, err := n.Post(context.Background(), network.EndpointInitialize, map[string]any{}, network.PostOptions{})

	assert.ErrorIs(t, err, network.ErrNoSDKKey)
}

func TestPostTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		<-release
	}))
	defer server.Close()
	defer close(release)
	n := network.New(network.Options{SDKKey: sdkKey, API: server.URL, Timeout: 20 * time.Millisecond})

	_, err := n.Post(context.Background(), network.EndpointInitialize, map[string]any{}, network.PostOptions{})

	var netErr *network.Error
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, 0, netErr.StatusCode)
	assert.Equal(t, "NetworkError", netErr.Class())
}

func TestSendFireAndForget(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	var path string
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		defer wg.Done()
		path = req.URL.Path
	}))
	defer server.Close()
	n := network.New(network.Options{SDKKey: sdkKey, API: server.URL + "/v1"})

	queued := n.SendFireAndForget(network.EndpointRegister, map[string]any{"events": []any{}})

	assert.True(t, queued)
	wg.Wait()
	assert.Equal(t, "/v1/rgstr", path)
}

func TestPostLogsRequestMetadata(t *testing.T) {
	// Given a primary that cannot be reached and a working fallback
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusAccepted)
	}))
	defer up.Close()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	n := network.New(network.Options{
		SDKKey:       sdkKey,
		API:          down.URL,
		FallbackURLs: []string{up.URL},
		Logger:       logger,
	})

	// When
	_, err := n.Post(context.Background(), network.EndpointRegister, map[string]any{"events": []any{}}, network.PostOptions{
		Compress: true,
		Query:    map[string]string{"ec": "2"},
	})

	// Then
	require.NoError(t, err)
	out := buf.String()
	assert.Contains(t, out, "http.attempt=0")
	assert.Contains(t, out, "http.attempt=1")
	assert.Contains(t, out, "http.endpoint=rgstr")
	assert.Contains(t, out, "http.event_count=2")
	assert.Contains(t, out, "http.gzip=true")
	assert.Contains(t, out, "http.status=202")
}
