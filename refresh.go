package flagkit

import (
	"context"
	"log/slog"
	"time"
)

// refresher polls for new specs on an interval and backs off while the service is unreachable.
type refresher struct {
	client   *Client
	log      *slog.Logger
	interval time.Duration
	backoff  *backoff
}

func newRefresher(client *Client, interval time.Duration) *refresher {
	return &refresher{
		client: client,
		log: client.log.With(
			slog.String("worker", "refresh"),
			slog.Duration("interval", interval),
		),
		interval: interval,
		backoff:  newBackoff(),
	}
}

func (r *refresher) start(ctx context.Context) {
	r.log.Debug("started")
	defer func() {
		r.log.Info("stopped")
	}()
	timer := time.NewTimer(r.interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			if err := r.client.refreshSpecs(ctx); err != nil {
				wait := r.backoff.next()
				r.log.Warn("failed to refresh specs", "error", err, "retry_in", wait)
				timer.Reset(wait)
				continue
			}
			r.backoff.reset()
			timer.Reset(r.interval)
		}
	}
}
