package httpx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aussiebroadwan/sessionauth/pkg/slogx"
)

// RateLimit is a token bucket: Requests per Window, with Burst allowed at once.
type RateLimit struct {
	Requests int
	Window   time.Duration
	Burst    int
}

// Enabled reports whether the limit should be enforced at all.
func (l RateLimit) Enabled() bool {
	return l.Requests > 0 && l.Window > 0
}

// Default profiles. Callers override them from configuration.
var (
	// StrictLimit guards credential endpoints against guessing.
	StrictLimit = RateLimit{Requests: 5, Window: time.Minute, Burst: 5}
	// ModerateLimit is for authenticated writes.
	ModerateLimit = RateLimit{Requests: 30, Window: time.Minute, Burst: 30}
	LenientLimit  = RateLimit{Requests: 300, Window: time.Minute, Burst: 300}
)

// KeyExtractor groups requests into a bucket. An empty key skips limiting.
type KeyExtractor func(*http.Request) string

// IPKeyExtractor keys by the direct peer address. Forwarding headers are
// ignored; use ClientIP when the service sits behind a proxy.
func IPKeyExtractor(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// ClientIP resolves the caller address. X-Forwarded-For and X-Real-IP are
// honored only when the direct peer is inside one of the trusted prefixes.
type ClientIP struct {
	trusted []netip.Prefix
}

// NewClientIP parses proxies as CIDR prefixes or bare addresses. An empty
// list trusts nobody.
func NewClientIP(proxies []string) (*ClientIP, error) {
	c := &ClientIP{}
	for _, raw := range proxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if strings.Contains(raw, "/") {
			p, err := netip.ParsePrefix(raw)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			c.trusted = append(c.trusted, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(raw)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		addr = addr.Unmap()
		c.trusted = append(c.trusted, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return c, nil
}

func (c *ClientIP) isTrusted(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range c.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Extract is a KeyExtractor. A nil ClientIP behaves like IPKeyExtractor.
//
// Behind a trusted peer, X-Forwarded-For is walked from the right and the
// first hop outside the trusted set wins. X-Real-IP is used when the chain
// holds only trusted hops or is absent.
func (c *ClientIP) Extract(r *http.Request) string {
	peer := IPKeyExtractor(r)
	if c == nil || len(c.trusted) == 0 {
		return peer
	}
	peerAddr, err := netip.ParseAddr(peer)
	if err != nil || !c.isTrusted(peerAddr) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				return peer
			}
			if !c.isTrusted(hop) {
				return hop.Unmap().String()
			}
		}
	}
	if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return xri.Unmap().String()
	}
	return peer
}

// PrincipalKeyExtractor keys by authenticated user ID.
func PrincipalKeyExtractor(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok {
		return p.UserID
	}
	return ""
}

// CompositeKeyExtractor joins the non-empty keys of extractors with sep.
func CompositeKeyExtractor(sep string, extractors ...KeyExtractor) KeyExtractor {
	return func(r *http.Request) string {
		parts := make([]string, 0, len(extractors))
		for _, extract := range extractors {
			if key := extract(r); key != "" {
				parts = append(parts, key)
			}
		}
		return strings.Join(parts, sep)
	}
}

// JSONFieldKeyExtractor reads a top-level string field from a JSON body and
// puts the body back for the handler. Values are lower-cased so "Bob@x" and
// "bob@x" share a bucket.
func JSONFieldKeyExtractor(field string) KeyExtractor {
	return func(r *http.Request) string {
		if r.Body == nil {
			return ""
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes))
		_ = r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
		if err != nil {
			return ""
		}

		var fields map[string]json.RawMessage
		if json.Unmarshal(body, &fields) != nil {
			return ""
		}
		var v string
		if json.Unmarshal(fields[field], &v) != nil {
			return ""
		}
		return strings.ToLower(strings.TrimSpace(v))
	}
}

type limiterSet struct {
	limiters sync.Map // string -> *rate.Limiter
	limit    rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

func (s *limiterSet) get(key string) *rate.Limiter {
	if l, ok := s.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	l, _ := s.limiters.LoadOrStore(key, rate.NewLimiter(s.limit, s.burst))
	s.sweep()
	return l.(*rate.Limiter)
}

// sweep drops limiters that have refilled, which means they sat idle.
func (s *limiterSet) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if time.Since(s.lastCleanup) < 5*time.Minute {
		return
	}
	s.lastCleanup = time.Now()

	s.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(s.burst) {
			s.limiters.Delete(key)
		}
		return true
	})
}

// RateLimitMiddleware rejects requests over limit with 429, bucketed by key.
// A disabled limit returns a pass-through middleware.
func RateLimitMiddleware(limit RateLimit, key KeyExtractor) Middleware {
	if !limit.Enabled() {
		return func(next http.Handler) http.Handler { return next }
	}
	burst := limit.Burst
	if burst <= 0 {
		burst = limit.Requests
	}

	set := &limiterSet{
		limit:       rate.Limit(float64(limit.Requests) / limit.Window.Seconds()),
		burst:       burst,
		lastCleanup: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}

			l := set.get(k)
			if l.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			res := l.Reserve()
			retryAfter := max(int(res.Delay().Seconds()), 1)
			res.Cancel()

			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
			w.Header().Set("X-RateLimit-Window", limit.Window.String())

			slogx.FromContext(r.Context()).Warn("rate limit exceeded",
				"key", k,
				"path", r.URL.Path,
				"retry_after", retryAfter,
			)
			WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, try again later")
		})
	}
}

// RateLimitByIP limits by client address. A nil ip uses IPKeyExtractor.
func RateLimitByIP(limit RateLimit, ip KeyExtractor) Middleware {
	return RateLimitMiddleware(limit, orPeer(ip))
}

// RateLimitByPrincipal limits by user ID, falling back to IP when anonymous.
func RateLimitByPrincipal(limit RateLimit, ip KeyExtractor) Middleware {
	ip = orPeer(ip)
	return RateLimitMiddleware(limit, func(r *http.Request) string {
		if k := PrincipalKeyExtractor(r); k != "" {
			return "user:" + k
		}
		return "ip:" + ip(r)
	})
}

// RateLimitByIPAndJSONField limits by IP plus a body field such as "email".
func RateLimitByIPAndJSONField(limit RateLimit, ip KeyExtractor, field string) Middleware {
	return RateLimitMiddleware(limit, CompositeKeyExtractor(":",
		orPeer(ip),
		JSONFieldKeyExtractor(field),
	))
}

func orPeer(ip KeyExtractor) KeyExtractor {
	if ip == nil {
		return IPKeyExtractor
	}
	return ip
}
