package network

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// Request is a single HTTP call issued through an HTTPTransport.
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Query  map[string]string
	Body   []byte
}

// Response is the transport level result of a Request.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// HTTPTransport sends requests on behalf of Network. Inject a custom
// implementation to route traffic through a proxy or a test double.
type HTTPTransport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
	// SendBeacon queues a best effort request that outlives the caller.
	// It reports whether the request was queued.
	SendBeacon(req *Request) bool
}

// RestyTransport is the default HTTPTransport.
type RestyTransport struct {
	client *resty.Client
	log    *slog.Logger
}

// NewRestyTransport creates a transport with request and response logging.
func NewRestyTransport(timeout time.Duration, log *slog.Logger) *RestyTransport {
	if log == nil {
		log = slog.Default()
	}
	client := resty.New().
		SetTimeout(timeout).
		SetLogger(restySlogLogger{logger: log}).
		OnBeforeRequest(newRestyLogRequestMiddleware(log)).
		OnAfterResponse(newRestyLogResponseMiddleware(log))
	return &RestyTransport{client: client, log: log}
}

// Client exposes the underlying resty client, for proxies and custom TLS.
func (t *RestyTransport) Client() *resty.Client {
	return t.client
}

func (t *RestyTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	r := t.client.R().
		SetContext(ctx).
		SetHeaders(req.Header).
		SetQueryParams(req.Query)
	if req.Body != nil {
		r.SetBody(req.Body)
	}
	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		return nil, err
	}
	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
	}, nil
}

func (t *RestyTransport) SendBeacon(req *Request) bool {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.client.GetClient().Timeout+time.Second)
		defer cancel()
		if _, err := t.Do(ctx, req); err != nil {
			t.log.Debug("beacon failed", "url", req.URL, "error", err)
		}
	}()
	return true
}
