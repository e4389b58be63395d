package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/storefront-booking/pkg/logging"
)

var limiterTracer = otel.Tracer("storefront.internal.payments.limiter")

// ErrTooManyAttempts is returned when a session exceeds its payment attempts.
var ErrTooManyAttempts = errors.New("payments: too many payment attempts, try again later")

// AttemptLimiter caps how often one booking session may open the gateway.
type AttemptLimiter struct {
	redis       *redis.Client
	logger      *logging.Logger
	maxAttempts int
	window      time.Duration
}

// LimitResult describes one limiter check.
type LimitResult struct {
	Allowed      bool
	CurrentCount int
	MaxAllowed   int
	WindowExpiry time.Time
	Message      string
}

func NewAttemptLimiter(client *redis.Client, maxAttempts int, window time.Duration, logger *logging.Logger) *AttemptLimiter {
	if logger == nil {
		logger = logging.Default()
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if window <= 0 {
		window = time.Hour
	}
	return &AttemptLimiter{redis: client, logger: logger, maxAttempts: maxAttempts, window: window}
}

func attemptKey(storeID, sessionID string) string {
	return fmt.Sprintf("payments:attempts:%s:%s", storeID, sessionID)
}

// Allow counts an attempt. Redis failures fail open.
func (l *AttemptLimiter) Allow(ctx context.Context, storeID, sessionID string) (*LimitResult, error) {
	ctx, span := limiterTracer.Start(ctx, "payments.attempt_limit")
	defer span.End()
	span.SetAttributes(attribute.String("store_id", storeID))

	if l == nil || l.redis == nil {
		return &LimitResult{Allowed: true}, nil
	}
	key := attemptKey(storeID, sessionID)
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Error("attempt limiter unavailable", "error", err, "key", key)
		return &LimitResult{Allowed: true, Message: "attempt limiter unavailable"}, nil
	}
	if count == 1 {
		l.redis.Expire(ctx, key, l.window)
	}
	ttl, err := l.redis.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = l.window
	}

	result := &LimitResult{
		Allowed:      int(count) <= l.maxAttempts,
		CurrentCount: int(count),
		MaxAllowed:   l.maxAttempts,
		WindowExpiry: time.Now().Add(ttl),
	}
	if !result.Allowed {
		result.Message = fmt.Sprintf("exceeded %d payment attempts in %s", l.maxAttempts, l.window)
		l.logger.Warn("payment attempts exceeded",
			"store_id", storeID, "session_id", sessionID, "count", count, "max", l.maxAttempts)
		span.SetAttributes(attribute.Bool("limit.exceeded", true))
	}
	return result, nil
}

// Reset clears the counter, e.g. after a successful payment.
func (l *AttemptLimiter) Reset(ctx context.Context, storeID, sessionID string) error {
	if l == nil || l.redis == nil {
		return nil
	}
	return l.redis.Del(ctx, attemptKey(storeID, sessionID)).Err()
}
