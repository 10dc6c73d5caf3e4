package network

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// attempt describes one try of a Post against one URL. It travels in the
// request context so the resty middleware can log it.
type attempt struct {
	endpoint   Endpoint
	index      int
	eventCount string
	compressed bool

	log     *slog.Logger
	started time.Time
}

type attemptKey struct{}

func withAttempt(ctx context.Context, a *attempt) context.Context {
	return context.WithValue(ctx, attemptKey{}, a)
}

func attemptFrom(ctx context.Context) *attempt {
	a, _ := ctx.Value(attemptKey{}).(*attempt)
	return a
}

func (a *attempt) attrs() []any {
	attrs := []any{slog.Int("attempt", a.index)}
	if a.endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", string(a.endpoint)))
	}
	if a.eventCount != "" {
		attrs = append(attrs, slog.String("event_count", a.eventCount))
	}
	if a.compressed {
		attrs = append(attrs, slog.Bool("gzip", true))
	}
	return attrs
}

// restySlogLogger implements a [resty.Logger] using a [slog.Logger].
type restySlogLogger struct {
	logger *slog.Logger
}

func (s restySlogLogger) Errorf(format string, v ...interface{}) {
	s.logger.Error(fmt.Sprintf(format, v...))
}

func (s restySlogLogger) Warnf(format string, v ...interface{}) {
	s.logger.Warn(fmt.Sprintf(format, v...))
}

func (s restySlogLogger) Debugf(format string, v ...interface{}) {
	s.logger.Debug(fmt.Sprintf(format, v...))
}

func newRestyLogRequestMiddleware(logger *slog.Logger) resty.RequestMiddleware {
	return func(_ *resty.Client, req *resty.Request) error {
		a := attemptFrom(req.Context())
		if a == nil {
			// beacons and requests issued outside Post
			a = &attempt{}
			req.SetContext(withAttempt(req.Context(), a))
		}
		a.log = logger.WithGroup("http").With(a.attrs()...).With(slog.String("url", req.URL))
		a.started = time.Now()
		a.log.Debug("sending request")
		return nil
	}
}

func newRestyLogResponseMiddleware(logger *slog.Logger) resty.ResponseMiddleware {
	return func(_ *resty.Client, resp *resty.Response) error {
		reqLogger := logger.WithGroup("http")
		var elapsed time.Duration
		if a := attemptFrom(resp.Request.Context()); a != nil && a.log != nil {
			reqLogger = a.log
			elapsed = time.Since(a.started)
		}
		reqLogger = reqLogger.With(
			slog.Int("status", resp.StatusCode()),
			slog.Duration("duration", elapsed),
			slog.Int64("bytes", resp.Size()),
		)
		switch {
		case isRetriableStatus(resp.StatusCode()):
			reqLogger.Warn("retriable error response")
		case resp.IsError():
			reqLogger.Error("error response")
		default:
			reqLogger.Debug("response")
		}
		return nil
	}
}
