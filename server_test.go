package flagkit_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"

	flagkit "github.com/flagkit/flagkit-go-client"
	"github.com/flagkit/flagkit-go-client/fixtures"
)

// testServer fakes the flag service. Responses and delays can be changed while it runs.
type testServer struct {
	*httptest.Server
	t *testing.T

	mu         sync.Mutex
	specs      string
	initialize string
	status     int
	delay      time.Duration
	requests   map[string]int
	bodies     map[string][]map[string]any
	events     []map[string]any
	exceptions []map[string]any
}

func newTestServer(t *testing.T) *testServer {
	s := &testServer{
		t:          t,
		specs:      fixtures.SpecsJSON,
		initialize: fixtures.InitializeJSON,
		status:     http.StatusOK,
		requests:   map[string]int{},
		bodies:     map[string][]map[string]any{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/download_config_specs", func(rw http.ResponseWriter, req *http.Request) {
		s.serveValues(rw, req, "download_config_specs", func() string { return s.specs })
	})
	mux.HandleFunc("/v1/initialize", func(rw http.ResponseWriter, req *http.Request) {
		s.serveValues(rw, req, "initialize", func() string { return s.initialize })
	})
	mux.HandleFunc("/v1/rgstr", s.handleRegister)
	mux.HandleFunc("/v1/sdk_exception", s.handleException)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) API() string {
	return s.URL + "/v1"
}

func (s *testServer) setSpecs(raw string) {
	s.mu.Lock()
	s.specs = raw
	s.mu.Unlock()
}

func (s *testServer) setInitialize(raw string) {
	s.mu.Lock()
	s.initialize = raw
	s.mu.Unlock()
}

func (s *testServer) setStatus(status int) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *testServer) setDelay(d time.Duration) {
	s.mu.Lock()
	s.delay = d
	s.mu.Unlock()
}

func (s *testServer) serveValues(rw http.ResponseWriter, req *http.Request, endpoint string, body func() string) {
	assert.Equal(s.t, http.MethodPost, req.Method)
	assert.NotEmpty(s.t, req.URL.Query().Get("k"))
	assert.NotEmpty(s.t, req.URL.Query().Get("sid"))
	assert.Equal(s.t, flagkit.GetUserAgentForTest(), req.Header.Get("User-Agent"))
	decoded := s.decode(req)

	s.mu.Lock()
	s.requests[endpoint]++
	s.bodies[endpoint] = append(s.bodies[endpoint], decoded)
	status, delay, raw := s.status, s.delay, body()
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-req.Context().Done():
			return
		}
	}
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if status == http.StatusOK {
		_, err := io.WriteString(rw, raw)
		assert.NoError(s.t, err)
	}
}

func (s *testServer) handleRegister(rw http.ResponseWriter, req *http.Request) {
	body := s.decode(req)
	events, _ := body["events"].([]any)
	assert.Equal(s.t, strconv.Itoa(len(events)), req.URL.Query().Get("ec"))

	s.mu.Lock()
	s.requests["rgstr"]++
	for _, e := range events {
		if m, ok := e.(map[string]any); ok {
			s.events = append(s.events, m)
		}
	}
	s.mu.Unlock()
	rw.WriteHeader(http.StatusAccepted)
}

func (s *testServer) handleException(rw http.ResponseWriter, req *http.Request) {
	body := s.decode(req)
	s.mu.Lock()
	s.requests["sdk_exception"]++
	s.exceptions = append(s.exceptions, body)
	s.mu.Unlock()
	rw.WriteHeader(http.StatusAccepted)
}

func (s *testServer) decode(req *http.Request) map[string]any {
	var r io.Reader = req.Body
	if req.URL.Query().Get("gz") == "1" {
		assert.Equal(s.t, "gzip", req.Header.Get("Content-Encoding"))
		zr, err := gzip.NewReader(req.Body)
		if !assert.NoError(s.t, err) {
			return nil
		}
		defer zr.Close()
		r = zr
	}
	var body map[string]any
	assert.NoError(s.t, json.NewDecoder(r).Decode(&body))
	return body
}

func (s *testServer) requestCount(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[endpoint]
}

func (s *testServer) lastBody(endpoint string) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.bodies[endpoint]
	if len(b) == 0 {
		return nil
	}
	return b[len(b)-1]
}

// eventsNamed returns the uploaded events with the given name.
func (s *testServer) eventsNamed(name string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []map[string]any
	for _, e := range s.events {
		if e["eventName"] == name {
			out = append(out, e)
		}
	}
	return out
}

func (s *testServer) exceptionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.exceptions)
}

func (s *testServer) exceptionClasses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.exceptions))
	for _, e := range s.exceptions {
		class, _ := e["exception"].(string)
		out = append(out, class)
	}
	return out
}

func metadataOf(event map[string]any) map[string]any {
	m, _ := event["metadata"].(map[string]any)
	return m
}
