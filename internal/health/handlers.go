package health

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sabormirandiano/casino-api/internal/common"
)

// Handler exposes the liveness and readiness probes. Readiness pings the
// database pool and redis with short timeouts so a wedged dependency flips
// the probe instead of hanging it.
type Handler struct {
	Pool         *pgxpool.Pool
	Redis        *redis.Client
	DBTimeout    time.Duration
	RedisTimeout time.Duration
}

// Live reports process liveness.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness based on dependency probes.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	dbStatus := h.probe(r.Context(), h.timeout(h.DBTimeout, 500*time.Millisecond), func(ctx context.Context) error {
		if h.Pool == nil {
			return context.DeadlineExceeded
		}
		return h.Pool.Ping(ctx)
	})
	redisStatus := h.probe(r.Context(), h.timeout(h.RedisTimeout, 300*time.Millisecond), func(ctx context.Context) error {
		if h.Redis == nil {
			return context.DeadlineExceeded
		}
		return h.Redis.Ping(ctx).Err()
	})

	status := http.StatusOK
	if dbStatus != "ok" || redisStatus != "ok" {
		status = http.StatusServiceUnavailable
	}
	common.JSON(w, status, map[string]string{
		"db":    dbStatus,
		"redis": redisStatus,
	})
}

func (h Handler) probe(ctx context.Context, timeout time.Duration, ping func(context.Context) error) string {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := ping(ctx); err != nil {
		return err.Error()
	}
	return "ok"
}

func (h Handler) timeout(configured, fallback time.Duration) time.Duration {
	if configured <= 0 {
		return fallback
	}
	return configured
}
