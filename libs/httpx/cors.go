package httpx

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSPolicy lists what browsers on the public booking page may send.
type CORSPolicy struct {
	AllowedOrigins   []string
	AllowedMethods   []string
	AllowedHeaders   []string
	AllowCredentials bool
	MaxAge           time.Duration
}

var defaultCORSMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}

type corsRules struct {
	any         bool
	origins     map[string]struct{}
	methods     string
	headers     string
	maxAge      string
	credentials bool
}

func newCORSRules(cfg CORSPolicy) corsRules {
	rules := corsRules{origins: map[string]struct{}{}, credentials: cfg.AllowCredentials}
	for _, o := range cfg.AllowedOrigins {
		o = strings.ToLower(strings.TrimSpace(o))
		switch o {
		case "":
		case "*":
			rules.any = true
		default:
			rules.origins[o] = struct{}{}
		}
	}
	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = defaultCORSMethods
	}
	rules.methods = joinTrimmed(methods)
	rules.headers = joinTrimmed(cfg.AllowedHeaders)
	if secs := int(cfg.MaxAge.Seconds()); secs > 0 {
		rules.maxAge = strconv.Itoa(secs)
	}
	return rules
}

// allowOrigin returns the value for Access-Control-Allow-Origin. A wildcard
// policy must echo the origin when credentials are allowed.
func (c corsRules) allowOrigin(origin string) (string, bool) {
	if _, ok := c.origins[strings.ToLower(origin)]; ok {
		return origin, true
	}
	if !c.any {
		return "", false
	}
	if c.credentials {
		return origin, true
	}
	return "*", true
}

// WithCORS is a no-op unless at least one origin is configured.
func WithCORS(cfg CORSPolicy) Middleware {
	rules := newCORSRules(cfg)
	if !rules.any && len(rules.origins) == 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			h := w.Header()
			h.Add("Vary", "Origin")
			allow, ok := rules.allowOrigin(origin)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Access-Control-Allow-Origin", allow)
			h.Set("Access-Control-Expose-Headers", RequestIDHeader)
			if rules.credentials {
				h.Set("Access-Control-Allow-Credentials", "true")
			}

			if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
				next.ServeHTTP(w, r)
				return
			}
			h.Add("Vary", "Access-Control-Request-Method")
			h.Add("Vary", "Access-Control-Request-Headers")
			h.Set("Access-Control-Allow-Methods", rules.methods)
			if rules.headers != "" {
				h.Set("Access-Control-Allow-Headers", rules.headers)
			}
			if rules.maxAge != "" {
				h.Set("Access-Control-Max-Age", rules.maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func joinTrimmed(values []string) string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return strings.Join(out, ", ")
}
