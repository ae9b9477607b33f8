package api

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/GoCodeAlone/artifacts/artifact"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Middleware holds the state shared by the HTTP middleware.
type Middleware struct {
	jwtSecret []byte
	limiter   *rateLimiterStore
	proxies   []netip.Prefix
	logger    *slog.Logger
}

// NewMiddleware creates a new Middleware. An empty jwtSecret disables
// authentication.
func NewMiddleware(jwtSecret []byte, logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &Middleware{jwtSecret: jwtSecret, logger: logger}
}

// RequireAuth validates the JWT Bearer token and stores its subject in the
// request context. Returns 401 if the token is missing or invalid. When no
// secret is configured, requests pass through unchanged and authentication
// is left to the upstream proxy.
func (m *Middleware) RequireAuth(next http.Handler) http.Handler {
	if len(m.jwtSecret) == 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := m.authenticate(r)
		if err != nil {
			WriteError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(SetSubject(r.Context(), sub)))
	})
}

// RequestID assigns every request an ID, reusing a valid X-Request-ID
// header, and echoes it on the response.
func (m *Middleware) RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get("X-Request-ID"))
		if err != nil {
			id = uuid.New()
		}
		w.Header().Set("X-Request-ID", id.String())
		next.ServeHTTP(w, r.WithContext(SetRequestID(r.Context(), id)))
	})
}

// Recover turns a handler panic into a 500 response. Owner configuration
// errors are programming mistakes and are logged as such.
func (m *Middleware) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler { //nolint:errorlint // sentinel re-panic
				panic(rec)
			}
			var cfgErr *artifact.ConfigurationError
			if err, ok := rec.(error); ok && errors.As(err, &cfgErr) {
				m.logger.Error("artifact configuration error", "error", cfgErr, "path", r.URL.Path)
			} else {
				m.logger.Error("panic serving request", "panic", fmt.Sprint(rec), "path", r.URL.Path)
			}
			WriteError(w, http.StatusInternalServerError, "internal error")
		}()
		next.ServeHTTP(w, r)
	})
}

// ipLimiter holds a per-IP token bucket and the last time it was accessed.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiterStore holds per-IP limiters.
type rateLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	r        rate.Limit
	b        int
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newRateLimiterStore(requestsPerMinute int) *rateLimiterStore {
	s := &rateLimiterStore{
		limiters: make(map[string]*ipLimiter),
		r:        rate.Limit(float64(requestsPerMinute) / 60.0),
		b:        requestsPerMinute,
		stopCh:   make(chan struct{}),
	}
	go s.cleanup()
	return s
}

// cleanup periodically removes stale entries until stop is called.
func (s *rateLimiterStore) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			for ip, l := range s.limiters {
				if time.Since(l.lastSeen) > 10*time.Minute {
					delete(s.limiters, ip)
				}
			}
			s.mu.Unlock()
		case <-s.stopCh:
			return
		}
	}
}

func (s *rateLimiterStore) get(ip string) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.limiters[ip]
	if !ok {
		l = &ipLimiter{limiter: rate.NewLimiter(s.r, s.b)}
		s.limiters[ip] = l
	}
	l.lastSeen = time.Now()
	return l.limiter
}

// Stop shuts down the limiter cleanup goroutine. It is safe to call more
// than once.
func (m *Middleware) Stop() {
	if m.limiter != nil {
		m.limiter.stopOnce.Do(func() { close(m.limiter.stopCh) })
	}
}

// RateLimit returns middleware that limits requests per IP to
// requestsPerMinute (120 when zero). Rejected requests get 429 with a
// Retry-After header. All routes share one per-IP store.
func (m *Middleware) RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 120
	}
	if m.limiter == nil {
		m.limiter = newRateLimiterStore(requestsPerMinute)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reservation := m.limiter.get(m.clientIP(r)).Reserve()
			if d := reservation.Delay(); d > 0 {
				// Return the token; this request is rejected.
				reservation.Cancel()
				retryAfter := int(math.Ceil(d.Seconds()))
				if retryAfter < 1 {
					retryAfter = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TrustProxies sets the peers whose X-Real-IP and X-Forwarded-For headers
// identify the client. Entries are CIDRs or single addresses. Call it before
// serving; with no trusted proxies the headers are ignored.
func (m *Middleware) TrustProxies(cidrs ...string) error {
	prefixes, err := ParseProxies(cidrs)
	if err != nil {
		return err
	}
	m.proxies = prefixes
	return nil
}

// ParseProxies parses CIDRs or single addresses into prefixes.
func ParseProxies(cidrs []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if strings.Contains(c, "/") {
			p, err := netip.ParsePrefix(c)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", c, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(c)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", c, err)
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func (m *Middleware) trusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range m.proxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP is the peer address, unless the peer is a trusted proxy: then
// X-Real-IP, or the rightmost untrusted X-Forwarded-For hop.
func (m *Middleware) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if !m.trusted(host) {
		return host
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hops := strings.Split(fwd, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			if hop := strings.TrimSpace(hops[i]); hop != "" && !m.trusted(hop) {
				return hop
			}
		}
		return strings.TrimSpace(hops[0])
	}
	return host
}

// authenticate validates an HS256 Bearer token and returns its subject.
func (m *Middleware) authenticate(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", jwt.ErrTokenMalformed
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", jwt.ErrTokenMalformed
	}

	token, err := jwt.Parse(parts[1], func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.jwtSecret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", jwt.ErrTokenSignatureInvalid
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", jwt.ErrTokenInvalidClaims
	}
	return sub, nil
}
