package dispatch

import (
	"sync"

	"golang.org/x/time/rate"

	"sigflow/internal/config"
)

// limiterRegistry 按交易所维护独立限速器。
// 同所任务串行排队，跨所任务互不影响。
type limiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	cfg      config.DispatchConfig
}

func newLimiterRegistry(cfg config.DispatchConfig) *limiterRegistry {
	return &limiterRegistry{
		limiters: make(map[string]*rate.Limiter),
		cfg:      cfg,
	}
}

func (r *limiterRegistry) forExchange(exchange string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if lim, ok := r.limiters[exchange]; ok {
		return lim
	}
	limits := r.cfg.LimitsFor(exchange)
	lim := rate.NewLimiter(rate.Limit(limits.RatePerSecond), limits.Burst)
	r.limiters[exchange] = lim
	return lim
}
