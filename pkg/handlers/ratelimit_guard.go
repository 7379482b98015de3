package handlers

import (
	"math"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/config"
	"github.com/AdminTLI/roommatematch-sub010/pkg/metrics"
	"github.com/AdminTLI/roommatematch-sub010/pkg/ratelimit"
)

// RateLimitGuard applies per-user sliding-window budgets to write endpoints.
// A limiter backend failure fails open: bounding write amplification is not
// worth rejecting traffic when the limiter store is down.
type RateLimitGuard struct {
	limiter ratelimit.Limiter
	cfg     *config.RateLimitConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewRateLimitGuard(limiter ratelimit.Limiter, cfg *config.RateLimitConfig, m *metrics.Metrics, logger *zap.Logger) *RateLimitGuard {
	return &RateLimitGuard{
		limiter: limiter,
		cfg:     cfg,
		metrics: m,
		logger:  logger.Named("ratelimit"),
	}
}

// Allow admits one action for one user. On denial it writes the 429 response
// itself and returns false.
func (g *RateLimitGuard) Allow(w http.ResponseWriter, r *http.Request, action string, userID uuid.UUID, budget int) bool {
	result, err := g.limiter.Allow(r.Context(), action, userID.String(), budget, g.cfg.Window())
	if err != nil {
		g.logger.Warn("Rate limiter unavailable, admitting request",
			zap.String("action", action),
			zap.Error(err))
		return true
	}
	if result.Allowed {
		return true
	}

	g.metrics.RateLimitRejections.WithLabelValues(action).Inc()
	RateLimited(w, int(math.Ceil(result.RetryAfter.Seconds())))
	return false
}
