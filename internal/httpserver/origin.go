package httpserver

import (
	"net/http"
	"net/url"
	"strings"
)

// OriginPolicy decides whether a browser Origin may talk to the relay. With
// no configured origins the policy is same-host only; entries may be "*" or
// exact origins like "https://stream.example.com".
//
// The WebSocket upgrader in the signaling package shares this policy via
// Allow, so HTTP routes and upgrades enforce the same rule.
type OriginPolicy struct {
	AllowedOrigins []string
}

// Allow reports whether the request's Origin header passes the policy.
// Requests without an Origin header (non-browser clients) are always allowed.
func (p OriginPolicy) Allow(r *http.Request) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		return true
	}

	normalized, host, ok := normalizeOrigin(originHeader)
	if !ok {
		return false
	}

	if len(p.AllowedOrigins) > 0 {
		for _, allowed := range p.AllowedOrigins {
			if allowed == "*" || allowed == normalized {
				return true
			}
		}
		return false
	}

	// Same host:port as the request. Scheme is deliberately not compared: the
	// relay may sit behind a TLS-terminating proxy and see http while the
	// browser Origin says https.
	return host != "" && equalHostPort(host, r.Host)
}

func normalizeOrigin(originHeader string) (normalized, host string, ok bool) {
	if originHeader == "null" {
		// Opaque origin (file://, sandboxed iframes). Only an explicit "null"
		// allowlist entry can admit it.
		return "null", "", true
	}

	u, err := url.Parse(originHeader)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", false
	}
	if u.User != nil || u.RawQuery != "" || u.Fragment != "" || (u.Path != "" && u.Path != "/") {
		return "", "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", false
	}

	host = strings.ToLower(u.Host)
	host = stripDefaultPort(scheme, host)
	return scheme + "://" + host, host, true
}

func stripDefaultPort(scheme, host string) string {
	switch {
	case scheme == "http" && strings.HasSuffix(host, ":80"):
		return strings.TrimSuffix(host, ":80")
	case scheme == "https" && strings.HasSuffix(host, ":443"):
		return strings.TrimSuffix(host, ":443")
	default:
		return host
	}
}

func equalHostPort(a, b string) bool {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return true
	}
	// Treat "host" and "host:80"/"host:443" as equivalent so the policy works
	// regardless of whether the client includes the default port.
	trim := func(s string) string {
		s = strings.TrimSuffix(s, ":80")
		s = strings.TrimSuffix(s, ":443")
		return s
	}
	return trim(a) == trim(b)
}

func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	policy := OriginPolicy{AllowedOrigins: s.cfg.AllowedOrigins}
	return func(w http.ResponseWriter, r *http.Request) {
		originHeader := strings.TrimSpace(r.Header.Get("Origin"))
		if originHeader == "" {
			next(w, r)
			return
		}
		if !policy.Allow(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		normalized, _, _ := normalizeOrigin(originHeader)
		w.Header().Set("Access-Control-Allow-Origin", normalized)
		w.Header().Add("Vary", "Origin")
		next(w, r)
	}
}
