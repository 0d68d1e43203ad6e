package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// ErrThrottled is returned when a message is dropped by the rate limit.
var ErrThrottled = errors.New("notification rate limit exceeded")

// Throttled limits how many messages per minute reach the wrapped notifier.
// Messages over the limit are dropped, not queued.
type Throttled struct {
	next    Notifier
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewThrottled wraps next. perMinute <= 0 disables the limit.
func NewThrottled(next Notifier, perMinute int, logger *slog.Logger) *Throttled {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	burst := 1
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
		burst = perMinute
	}
	return &Throttled{
		next:    next,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

func (t *Throttled) Send(ctx context.Context, title, body string) error {
	if !t.limiter.Allow() {
		t.logger.Warn("notification dropped", "title", title)
		return ErrThrottled
	}
	return t.next.Send(ctx, title, body)
}
