package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

// Rate limit strategies select the key a request is counted under.
const (
	StrategyIP     = "ip"
	StrategyHeader = "header"
	StrategyGlobal = "global"
	StrategyCustom = "custom"
)

// Rate limit modes.
const (
	// ModeReject answers 429 once a key exceeds Limit within Window.
	ModeReject = "reject"

	// ModePace delays requests so that each bucket proceeds at Limit per
	// Window, smoothing bursts instead of rejecting them.
	ModePace = "pace"
)

// RateLimitConfig configures RateLimit.
type RateLimitConfig struct {
	// Bucket names the counter set. Pipelines that share a bucket name share
	// their limits, including across reloads.
	Bucket string `mapstructure:"bucket"`

	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`

	Strategy string `mapstructure:"strategy"`

	// Header is read when Strategy is StrategyHeader. Requests without it
	// fall back to the client IP.
	Header string `mapstructure:"header"`

	Mode string `mapstructure:"mode"`

	// KeyFunc is used when Strategy is StrategyCustom.
	KeyFunc func(*http.Request) (string, error) `mapstructure:"-"`
}

func (c *RateLimitConfig) normalize() error {
	if c.Limit <= 0 {
		return errors.New("limit must be positive")
	}
	if c.Window <= 0 {
		c.Window = time.Second
	}
	if c.Bucket == "" {
		c.Bucket = "default"
	}
	switch c.Strategy {
	case "":
		c.Strategy = StrategyIP
	case StrategyIP, StrategyGlobal:
	case StrategyHeader:
		if c.Header == "" {
			return errors.New("header strategy needs a header name")
		}
	case StrategyCustom:
		if c.KeyFunc == nil {
			return errors.New("custom strategy needs a key function")
		}
	default:
		return fmt.Errorf("unknown strategy %q", c.Strategy)
	}
	switch c.Mode {
	case "":
		c.Mode = ModeReject
	case ModeReject, ModePace:
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	return nil
}

// RateLimiter holds the counters behind RateLimit. One RateLimiter is shared
// by every pipeline a server mounts, so limits survive reloads.
type RateLimiter struct {
	mu      sync.Mutex
	windows map[string]*window
	pacers  sync.Map // bucket key -> ratelimit.Limiter
	now     func() time.Time
}

type window struct {
	start time.Time
	per   time.Duration
	count int
}

// sweepThreshold is the number of live windows above which Allow drops the
// ones that have ended.
const sweepThreshold = 4096

// NewRateLimiter creates an empty RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow counts one request against key in a fixed window. It reports whether
// the request is within limit, the requests left in the window and the time
// until the window resets.
func (l *RateLimiter) Allow(key string, limit int, per time.Duration) (bool, int, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	win, ok := l.windows[key]
	if !ok || now.Sub(win.start) >= per {
		if !ok && len(l.windows) >= sweepThreshold {
			l.sweep(now)
		}
		win = &window{start: now, per: per}
		l.windows[key] = win
	}
	win.count++
	reset := per - now.Sub(win.start)
	if win.count > limit {
		return false, 0, reset
	}
	return true, limit - win.count, reset
}

func (l *RateLimiter) sweep(now time.Time) {
	for k, w := range l.windows {
		if now.Sub(w.start) >= w.per {
			delete(l.windows, k)
		}
	}
}

// Pace blocks until key may proceed at limit requests per window. The
// underlying limiter for key is created on first use with that rate.
func (l *RateLimiter) Pace(key string, limit int, per time.Duration) {
	if v, ok := l.pacers.Load(key); ok {
		v.(ratelimit.Limiter).Take()
		return
	}
	v, _ := l.pacers.LoadOrStore(key, ratelimit.New(limit, ratelimit.Per(per), ratelimit.WithoutSlack))
	v.(ratelimit.Limiter).Take()
}

// RateLimit enforces config using limiter.
func RateLimit(config RateLimitConfig, limiter *RateLimiter, logger *zap.Logger) (Middleware, error) {
	if err := config.normalize(); err != nil {
		return nil, fmt.Errorf("rate_limit: %w", err)
	}
	if limiter == nil {
		limiter = NewRateLimiter()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := rateLimitKey(r, &config)
			if err != nil {
				logger.Error("Failed to extract rate limit key",
					zap.Error(err),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			bucketKey := config.Bucket + ":" + key

			if config.Mode == ModePace {
				limiter.Pace(bucketKey, config.Limit, config.Window)
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, reset := limiter.Allow(bucketKey, config.Limit, config.Window)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(config.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(reset).Unix(), 10))

			if !allowed {
				retry := int64(reset.Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
				http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
				logger.Warn("Rate limit exceeded",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("bucket", config.Bucket),
					zap.String("key", key),
					zap.Int("limit", config.Limit),
				)
				return
			}

			next.ServeHTTP(w, r)
		})
	}, nil
}

func rateLimitKey(r *http.Request, config *RateLimitConfig) (string, error) {
	switch config.Strategy {
	case StrategyGlobal:
		return "*", nil
	case StrategyHeader:
		if v := r.Header.Get(config.Header); v != "" {
			return v, nil
		}
	case StrategyCustom:
		key, err := config.KeyFunc(r)
		if err != nil {
			return "", err
		}
		if key != "" {
			return key, nil
		}
	}
	return RequestIP(r), nil
}
