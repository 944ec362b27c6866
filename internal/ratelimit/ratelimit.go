package ratelimit

import (
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/ulule/limiter/v3"
	redisstore "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/sabormirandiano/casino-api/internal/common"
)

// Middleware is a redis-backed per-IP rate limit for public endpoints.
// rate uses limiter's formatted notation, e.g. "120-M" for 120 per minute.
// On a redis failure the request is admitted: availability over strictness
// for an endpoint the engine already keeps idempotent.
func Middleware(client *redis.Client, rate, prefix string, logger zerolog.Logger) (func(http.Handler) http.Handler, error) {
	parsed, err := limiter.NewRateFromFormatted(rate)
	if err != nil {
		return nil, err
	}
	store, err := redisstore.NewStoreWithOptions(client, limiter.StoreOptions{
		Prefix: prefix,
	})
	if err != nil {
		return nil, err
	}
	lim := limiter.New(store, parsed, limiter.WithTrustForwardHeader(false))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := lim.Get(r.Context(), lim.GetIPKey(r))
			if err != nil {
				logger.Warn().Err(err).Msg("rate limit store unavailable, admitting request")
				next.ServeHTTP(w, r)
				return
			}
			if ctx.Reached {
				common.JSONError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}, nil
}
