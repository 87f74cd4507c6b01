package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"taskmarket/internal/domain"
	"taskmarket/internal/metrics"
	"taskmarket/internal/repo"
)

type AuthConfig struct {
	JWTSecret              string
	AllowLegacyActorHeader bool
	// RateLimit is requests per second per principal; zero disables limiting.
	RateLimit float64
	RateBurst int
	Logger    zerolog.Logger
}

// Principal is the authenticated caller. Address is the actor passed to the engine.
type Principal struct {
	Address string
	Source  string
}

type principalKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func actorFromContext(ctx context.Context) (string, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.Address != "" {
		return p.Address, nil
	}
	return "", newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

// SignToken issues an HS256 token whose subject is address.
func SignToken(secret, address string, ttl time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("jwt secret not configured")
	}
	addr, err := domain.NormalizeAddress(address)
	if err != nil {
		return "", err
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  addr,
		IssuedAt: jwt.NewNumericDate(now),
		Issuer:   "taskmarket",
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func authenticateJWT(token string, secret string) (Principal, error) {
	if strings.TrimSpace(secret) == "" {
		return Principal{}, errors.New("jwt secret not configured")
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return Principal{}, err
	}
	if !parsed.Valid {
		return Principal{}, errors.New("invalid token")
	}
	addr, err := domain.NormalizeAddress(claims.Subject)
	if err != nil {
		return Principal{}, errors.New("subject must be an address")
	}
	return Principal{Address: addr, Source: "jwt"}, nil
}

func authenticateAPIKey(ctx context.Context, r repo.Repo, key string) (Principal, error) {
	if strings.TrimSpace(key) == "" {
		return Principal{}, errors.New("api key required")
	}
	apiKey, err := r.GetAPIKeyByHash(ctx, repo.HashAPIKey(key))
	if err != nil {
		return Principal{}, err
	}
	if apiKey.Address == "" {
		return Principal{}, errors.New("api key missing address")
	}
	return Principal{Address: apiKey.Address, Source: "api_key"}, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// limiters hands out one token bucket per principal.
type limiters struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*rate.Limiter
}

func newLimiters(perSecond float64, burst int) *limiters {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &limiters{limit: rate.Limit(perSecond), burst: burst, buckets: map[string]*rate.Limiter{}}
}

func (l *limiters) allow(key string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[key] = b
	}
	l.mu.Unlock()
	return b.Allow()
}

func newAuthMiddleware(basePath string, cfg AuthConfig, r repo.Repo, m *metrics.Metrics) func(http.Handler) http.Handler {
	public := map[string]bool{
		path.Join(basePath, "health"):       true,
		path.Join(basePath, "docs"):         true,
		path.Join(basePath, "openapi.json"): true,
	}
	lim := newLimiters(cfg.RateLimit, cfg.RateBurst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if !strings.HasPrefix(req.URL.Path, basePath) || public[req.URL.Path] {
				next.ServeHTTP(w, req)
				return
			}

			principal, err := authenticate(req, cfg, r)
			if err != nil {
				respondStatusError(w, err)
				return
			}
			if !lim.allow(principal.Address) {
				if m != nil {
					m.RateLimited.Inc()
				}
				w.Header().Set("Retry-After", "1")
				respondStatusError(w, newAPIError(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", nil))
				return
			}
			next.ServeHTTP(w, req.WithContext(withPrincipal(req.Context(), principal)))
		})
	}
}

func authenticate(req *http.Request, cfg AuthConfig, r repo.Repo) (Principal, huma.StatusError) {
	invalid := newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil)
	authz := strings.TrimSpace(req.Header.Get("Authorization"))
	apiKeyHeader := strings.TrimSpace(req.Header.Get("X-Api-Key"))
	legacyActor := strings.TrimSpace(req.Header.Get("X-Actor-Address"))

	switch {
	case authz != "":
		token, ok := bearerToken(authz)
		if !ok {
			return Principal{}, invalid
		}
		p, err := authenticateJWT(token, cfg.JWTSecret)
		if err != nil {
			return Principal{}, invalid
		}
		return p, nil
	case apiKeyHeader != "":
		p, err := authenticateAPIKey(req.Context(), r, apiKeyHeader)
		if err != nil {
			return Principal{}, invalid
		}
		return p, nil
	case legacyActor != "" && cfg.AllowLegacyActorHeader:
		addr, err := domain.NormalizeAddress(legacyActor)
		if err != nil {
			return Principal{}, invalid
		}
		cfg.Logger.Warn().Str("address", addr).Msg("legacy X-Actor-Address header used without credentials")
		return Principal{Address: addr, Source: "legacy_header"}, nil
	}
	return Principal{}, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.GetStatus())
	_ = json.NewEncoder(w).Encode(err)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func newRequestMetrics(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, req)
			if m != nil {
				m.HTTPRequests.WithLabelValues(req.Method, strconv.Itoa(rec.status)).Inc()
			}
		})
	}
}
