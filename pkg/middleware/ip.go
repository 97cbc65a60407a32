package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// IPSource names where ClientIP reads the client address from.
type IPSource string

const (
	// IPSourceRemoteAddr uses the connection's remote address.
	IPSourceRemoteAddr IPSource = "remote_addr"

	// IPSourceXForwardedFor uses the leftmost X-Forwarded-For entry.
	IPSourceXForwardedFor IPSource = "x_forwarded_for"

	// IPSourceXRealIP uses X-Real-IP.
	IPSourceXRealIP IPSource = "x_real_ip"

	// IPSourceHeader uses IPConfig.Header.
	IPSourceHeader IPSource = "header"
)

// IPConfig configures ClientIP.
type IPConfig struct {
	Source IPSource `mapstructure:"source"`

	// Header is read when Source is IPSourceHeader.
	Header string `mapstructure:"header"`

	// TrustProxy must be set for any header source to be used. Without it the
	// remote address is always used.
	TrustProxy bool `mapstructure:"trust_proxy"`
}

// DefaultIPConfig reads the remote address and ignores proxy headers.
func DefaultIPConfig() IPConfig {
	return IPConfig{Source: IPSourceRemoteAddr}
}

type clientIPKey struct{}

// ClientIPFromContext returns the address stored by ClientIP.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

// RequestIP returns the address ClientIP stored for r, or the host part of
// r.RemoteAddr when ClientIP is not in the pipeline.
func RequestIP(r *http.Request) string {
	if ip := ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return stripPort(r.RemoteAddr)
}

// ClientIP resolves the client address once and stores it in the request
// context for the rest of the pipeline.
func ClientIP(config IPConfig) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientIPKey{}, extractClientIP(r, config))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractClientIP(r *http.Request, config IPConfig) string {
	var ip string
	if config.TrustProxy {
		switch config.Source {
		case IPSourceXForwardedFor:
			ip = firstForwarded(r.Header.Get("X-Forwarded-For"))
		case IPSourceXRealIP:
			ip = strings.TrimSpace(r.Header.Get("X-Real-IP"))
		case IPSourceHeader:
			if config.Header != "" {
				ip = strings.TrimSpace(r.Header.Get(config.Header))
			}
		}
	}
	if ip == "" {
		ip = r.RemoteAddr
	}
	return stripPort(ip)
}

// firstForwarded returns the original client from a comma separated
// X-Forwarded-For list.
func firstForwarded(xff string) string {
	first, _, _ := strings.Cut(xff, ",")
	return strings.TrimSpace(first)
}

// stripPort removes a port from host:port or [v6]:port. Bare addresses,
// including unbracketed IPv6, come back unchanged.
func stripPort(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return strings.TrimSuffix(strings.TrimPrefix(addr, "["), "]")
}
