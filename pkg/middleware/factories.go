package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/Suhaibinator/SRack/pkg/builder"
	"github.com/Suhaibinator/SRack/pkg/script"
	"github.com/mitchellh/mapstructure"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ErrMetricsDisabled is returned when a script uses "metrics" but no
// collectors were configured.
var ErrMetricsDisabled = errors.New("metrics are disabled")

// Deps carries the long-lived state the registered factories share. Every
// pipeline built from the same catalog uses the same limiter and collectors.
type Deps struct {
	Logger  *zap.Logger
	Limiter *RateLimiter
	Metrics *Metrics
}

// Register adds the middleware in this package to cat:
//
//	recovery      Recovery
//	logging       Logging          { slow_threshold = "500ms" }
//	max_body      MaxBodySize      1048576 or { bytes = 1048576 }
//	timeout       Timeout          "5s" or { duration = "5s" }
//	cors          CORS             { origins = {...}, methods = {...}, headers = {...} }
//	client_ip     ClientIP         { source = "x_forwarded_for", trust_proxy = true }
//	trace         Trace            { header = "X-Request-ID", trust_incoming = true }
//	rate_limit    RateLimit        { limit = 10, window = "1s", strategy = "ip" }
//	metrics       Metrics          { pipeline = "api" }
//	bearer_auth   Bearer tokens    { tokens = {...} }
//	basic_auth    Basic auth       { users = { name = "password" }, realm = "..." }
//	api_key_auth  API keys         { keys = {...}, header = "X-API-Key" }
//
// rate_limit accepts a trailing block returning the key for a request;
// bearer_auth accepts one returning whether a token is valid.
func Register(cat *script.Catalog, deps Deps) error {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Limiter == nil {
		deps.Limiter = NewRateLimiter()
	}
	f := &factories{deps: deps}

	var err error
	for name, factory := range map[string]builder.FactoryFunc{
		"recovery":     f.recovery,
		"logging":      f.logging,
		"max_body":     f.maxBody,
		"timeout":      f.timeout,
		"cors":         f.cors,
		"client_ip":    f.clientIP,
		"trace":        f.trace,
		"rate_limit":   f.rateLimit,
		"metrics":      f.metrics,
		"bearer_auth":  f.bearerAuth,
		"basic_auth":   f.basicAuth,
		"api_key_auth": f.apiKeyAuth,
	} {
		err = multierr.Append(err, cat.RegisterMiddleware(name, named(name, factory)))
	}
	return err
}

// named prefixes errors from factory with the middleware name.
func named(name string, factory builder.FactoryFunc) builder.FactoryFunc {
	return func(next http.Handler, args []any, block builder.Block) (http.Handler, error) {
		h, err := factory(next, args, block)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return h, nil
	}
}

type factories struct {
	deps Deps
}

func (f *factories) recovery(next http.Handler, args []any, _ builder.Block) (http.Handler, error) {
	if err := decode(args, "", &struct{}{}); err != nil {
		return nil, err
	}
	return Recovery(f.deps.Logger)(next), nil
}

func (f *factories) logging(next http.Handler, args []any, _ builder.Block) (http.Handler, error) {
	var cfg LoggingConfig
	if err := decode(args, "slow_threshold", &cfg); err != nil {
		return nil, err
	}
	return Logging(f.deps.Logger, cfg)(next), nil
}

func (f *factories) maxBody(next http.Handler, args []any, _ builder.Block) (http.Handler, error) {
	var cfg struct {
		Bytes int64 `mapstructure:"bytes"`
	}
	if err := decode(args, "bytes", &cfg); err != nil {
		return nil, err
	}
	if cfg.Bytes <= 0 {
		return nil, errors.New("bytes must be positive")
	}
	return MaxBodySize(cfg.Bytes)(next), nil
}

func (f *factories) timeout(next http.Handler, args []any, _ builder.Block) (http.Handler, error) {
	var cfg struct {
		Duration time.Duration `mapstructure:"duration"`
	}
	if err := decode(args, "duration", &cfg); err != nil {
		return nil, err
	}
	if cfg.Duration <= 0 {
		return nil, errors.New("duration must be positive")
	}
	return Timeout(cfg.Duration)(next), nil
}

func (f *factories) cors(next http.Handler, args []any, _ builder.Block) (http.Handler, error) {
	var cfg CORSConfig
	if err := decode(args, "", &cfg); err != nil {
		return nil, err
	}
	if cfg.Origins == nil {
		cfg.Origins = []string{"*"}
	}
	return CORS(cfg)(next), nil
}

func (f *factories) clientIP(next http.Handler, args []any, _ builder.Block) (http.Handler, error) {
	cfg := DefaultIPConfig()
	if err := decode(args, "source", &cfg); err != nil {
		return nil, err
	}
	switch cfg.Source {
	case IPSourceRemoteAddr, IPSourceXForwardedFor, IPSourceXRealIP, IPSourceHeader:
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
	return ClientIP(cfg)(next), nil
}

func (f *factories) trace(next http.Handler, args []any, _ builder.Block) (http.Handler, error) {
	var cfg TraceConfig
	if err := decode(args, "header", &cfg); err != nil {
		return nil, err
	}
	return Trace(cfg)(next), nil
}

func (f *factories) rateLimit(next http.Handler, args []any, block builder.Block) (http.Handler, error) {
	var cfg RateLimitConfig
	if err := decode(args, "limit", &cfg); err != nil {
		return nil, err
	}
	if block != nil {
		cfg.Strategy = StrategyCustom
		cfg.KeyFunc = func(r *http.Request) (string, error) {
			out, err := block(requestInfo(r))
			if err != nil {
				return "", err
			}
			switch key := out.(type) {
			case nil:
				return "", nil
			case string:
				return key, nil
			default:
				return fmt.Sprint(key), nil
			}
		}
	}
	mw, err := RateLimit(cfg, f.deps.Limiter, f.deps.Logger)
	if err != nil {
		return nil, err
	}
	return mw(next), nil
}

func (f *factories) metrics(next http.Handler, args []any, _ builder.Block) (http.Handler, error) {
	if f.deps.Metrics == nil {
		return nil, ErrMetricsDisabled
	}
	var cfg MetricsConfig
	if err := decode(args, "pipeline", &cfg); err != nil {
		return nil, err
	}
	return f.deps.Metrics.Middleware(cfg)(next), nil
}

func (f *factories) bearerAuth(next http.Handler, args []any, block builder.Block) (http.Handler, error) {
	var cfg struct {
		Tokens []string `mapstructure:"tokens"`
		Realm  string   `mapstructure:"realm"`
	}
	if err := decode(args, "tokens", &cfg); err != nil {
		return nil, err
	}
	provider := &BearerTokenProvider{Tokens: cfg.Tokens}
	if block != nil {
		provider.Validator = func(token string) bool {
			ok, err := block(token)
			if err != nil {
				f.deps.Logger.Error("Token validator failed", zap.Error(err))
				return false
			}
			valid, _ := ok.(bool)
			return valid
		}
	} else if len(cfg.Tokens) == 0 {
		return nil, errors.New("tokens or a validator block is required")
	}
	return Authentication(provider, "Bearer", cfg.Realm, f.deps.Logger)(next), nil
}

func (f *factories) basicAuth(next http.Handler, args []any, _ builder.Block) (http.Handler, error) {
	var cfg struct {
		Users map[string]string `mapstructure:"users"`
		Realm string            `mapstructure:"realm"`
	}
	if err := decode(args, "", &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Users) == 0 {
		return nil, errors.New("users is required")
	}
	return Authentication(&BasicAuthProvider{Credentials: cfg.Users}, "Basic", cfg.Realm, f.deps.Logger)(next), nil
}

func (f *factories) apiKeyAuth(next http.Handler, args []any, _ builder.Block) (http.Handler, error) {
	cfg := APIKeyProvider{Header: "X-API-Key"}
	if err := decode(args, "keys", &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Keys) == 0 {
		return nil, errors.New("keys is required")
	}
	return Authentication(&cfg, "", "", f.deps.Logger)(next), nil
}

// requestInfo is the request as seen by script blocks.
func requestInfo(r *http.Request) map[string]any {
	return map[string]any{
		"method":      r.Method,
		"path":        r.URL.Path,
		"query":       r.URL.RawQuery,
		"host":        r.Host,
		"client_ip":   RequestIP(r),
		"trace_id":    TraceID(r),
		"headers":     r.Header,
		"remote_addr": r.RemoteAddr,
	}
}

var durationType = reflect.TypeOf(time.Duration(0))

// secondsToDuration reads bare numbers as seconds.
func secondsToDuration(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != durationType {
		return data, nil
	}
	switch v := data.(type) {
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case int:
		return time.Duration(v) * time.Second, nil
	}
	return data, nil
}

// decode reads the options argument of a use declaration into out. A table
// is decoded field by field; any other single value is assigned to the
// scalar key when the middleware has one.
func decode(args []any, scalar string, out any) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) > 1 {
		return fmt.Errorf("expected at most one options argument, got %d", len(args))
	}
	input := args[0]
	if input == nil {
		return nil
	}
	if _, ok := input.(map[string]any); !ok {
		if scalar == "" {
			return fmt.Errorf("options must be a table, got %T", input)
		}
		input = map[string]any{scalar: input}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDuration,
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}
