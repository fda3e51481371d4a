// Package devserver is an in-process implementation of the marketplace API
// for local development, demos and end-to-end tests of the client.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"opus/internal/ratelimit"
	"opus/internal/util"
	"opus/pkg/domain"
)

const maxBodyBytes = 1 << 20

// Config wires the dependencies of the HTTP server. Rate limiting is enabled
// only when RedisAddr is set.
type Config struct {
	Store                      Store
	Tokens                     *TokenIssuer
	AdminEmails                []string
	CORSOrigins                []string
	TrustedProxies             []string
	RedisAddr                  string
	RedisPassword              string
	LoginRateLimitPerMinute    int
	RegisterRateLimitPerMinute int
}

// Server exposes the marketplace endpoints.
type Server struct {
	store           Store
	tokens          *TokenIssuer
	mux             *http.ServeMux
	admins          map[string]struct{}
	corsOrigins     []string
	proxies         *util.TrustedProxies
	loginLimiter    *ratelimit.FixedWindowLimiter
	registerLimiter *ratelimit.FixedWindowLimiter
	now             func() time.Time

	// mu serializes multi-document updates (accept, checkout, payouts).
	mu sync.Mutex
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("devserver: store is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("devserver: token issuer is required")
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("devserver: trusted proxies: %w", err)
	}
	s := &Server{
		store:       cfg.Store,
		tokens:      cfg.Tokens,
		mux:         http.NewServeMux(),
		admins:      make(map[string]struct{}),
		corsOrigins: cfg.CORSOrigins,
		proxies:     proxies,
		now:         time.Now,
	}
	for _, email := range cfg.AdminEmails {
		if email = normalizeEmail(email); email != "" {
			s.admins[email] = struct{}{}
		}
	}
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		loginLimit := cfg.LoginRateLimitPerMinute
		if loginLimit <= 0 {
			loginLimit = 10
		}
		registerLimit := cfg.RegisterRateLimitPerMinute
		if registerLimit <= 0 {
			registerLimit = 5
		}
		newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
			prefix := "opus:devserver:ratelimit:" + name
			limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
			if err != nil {
				return nil, fmt.Errorf("init %s limiter: %w", name, err)
			}
			return limiter, nil
		}
		if s.loginLimiter, err = newLimiter("login", loginLimit); err != nil {
			return nil, err
		}
		if s.registerLimiter, err = newLimiter("register", registerLimit); err != nil {
			return nil, err
		}
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	h := util.WithCORS(s.corsOrigins)(s.mux)
	h = util.WithSecurityHeaders(h)
	h = util.WithRequestLog("devserver", h)
	return util.WithRequestID(h)
}

// Close releases the limiters and the store.
func (s *Server) Close() error {
	return errors.Join(s.loginLimiter.Close(), s.registerLimiter.Close(), s.store.Close())
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	// auth
	s.mux.HandleFunc("POST /v1/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /v1/auth/login", s.handleLogin)
	s.mux.Handle("GET /v1/auth/me", s.authenticated(s.handleAuthMe))
	s.mux.Handle("GET /v1/users/me", s.authenticated(s.handleGetMe))
	s.mux.Handle("PATCH /v1/users/me", s.authenticated(s.handleUpdateMe))

	// jobs & offers
	s.mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	s.mux.Handle("POST /v1/consumer/jobs", s.authenticated(s.handleCreateJob))
	s.mux.Handle("GET /v1/consumer/jobs", s.authenticated(s.handleListMyJobs))
	s.mux.Handle("PATCH /v1/consumer/jobs/{id}/cancel", s.authenticated(s.handleCancelJob))
	s.mux.Handle("GET /v1/consumer/jobs/{id}/offers", s.authenticated(s.handleListJobOffers))
	s.mux.Handle("POST /v1/consumer/offers/{id}/accept", s.authenticated(s.handleAcceptOffer))
	s.mux.Handle("POST /v1/provider/jobs/{id}/offers", s.authenticated(s.handleCreateOffer))

	// payments & wallet
	s.mux.Handle("POST /v1/consumer/payments/checkout", s.authenticated(s.handleCheckout))
	s.mux.Handle("GET /v1/wallet/me", s.authenticated(s.handleGetWallet))
	s.mux.Handle("GET /v1/wallet/tx", s.authenticated(s.handleListTransactions))
	s.mux.Handle("POST /v1/wallet/payouts", s.authenticated(s.handleCreatePayout))

	// reviews
	s.mux.Handle("POST /v1/reviews", s.authenticated(s.handleCreateReview))
	s.mux.Handle("GET /v1/reviews/user/{id}", s.authenticated(s.handleListUserReviews))
	s.mux.Handle("GET /v1/reviews/user/{id}/summary", s.authenticated(s.handleReviewSummary))

	// provider onboarding
	s.mux.Handle("POST /v1/provider/onboarding", s.authenticated(s.handleProviderOnboarding))
	s.mux.Handle("GET /v1/provider/me", s.authenticated(s.handleProviderMe))

	// chat
	s.mux.Handle("GET /v1/chat/conversations", s.authenticated(s.handleListConversations))
	s.mux.Handle("POST /v1/chat/conversations", s.authenticated(s.handleCreateConversation))
	s.mux.Handle("GET /v1/chat/jobs/{id}/conversation", s.authenticated(s.handleJobConversation))
	s.mux.Handle("GET /v1/chat/conversations/{id}", s.authenticated(s.handleGetConversation))
	s.mux.Handle("GET /v1/chat/conversations/{id}/messages", s.authenticated(s.handleListMessages))
	s.mux.Handle("POST /v1/chat/conversations/{id}/messages", s.authenticated(s.handleSendMessage))
	s.mux.Handle("POST /v1/chat/conversations/{id}/read", s.authenticated(s.handleMarkRead))

	// admin
	s.mux.Handle("GET /v1/admin/providers/pending", s.adminOnly(s.handlePendingProviders))
	s.mux.Handle("POST /v1/admin/providers/{id}/approve", s.adminOnly(s.handleApproveProvider))
	s.mux.Handle("POST /v1/admin/providers/{id}/reject", s.adminOnly(s.handleRejectProvider))
	s.mux.Handle("POST /v1/admin/payments/{id}/settle", s.adminOnly(s.handleSettlePayment))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return s.authenticated(func(w http.ResponseWriter, r *http.Request, user domain.User) {
		if !user.HasRole(domain.RoleAdmin) {
			s.audit(r, "devserver.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		return domain.User{}, false
	}
	userID, err := s.tokens.Verify(token)
	if err != nil {
		s.audit(r, "devserver.token.verify", "fail", "reason", err.Error())
		return domain.User{}, false
	}
	rec, err := getDoc[userRecord](r.Context(), s.store, kindUser, userID)
	if err != nil {
		s.audit(r, "devserver.token.verify", "fail", "reason", "unknown_user")
		return domain.User{}, false
	}
	return rec.User, true
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.proxies),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter == nil {
		return true
	}
	key := r.URL.Path + "|" + util.ClientIP(r, s.proxies)
	d := limiter.Allow(r.Context(), key)
	if d.Allowed {
		return true
	}
	secs := int(d.RetryAfter.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(secs))
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}

// internalError logs err and answers 500, or 404 for ErrNotFound.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	util.LoggerFromContext(r.Context()).Error("devserver request failed", "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) clock() time.Time {
	return s.now().UTC()
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// pageParams reads limit and offset, applying def and capping at maxLimit.
func pageParams(w http.ResponseWriter, r *http.Request, def, maxLimit int) (limit, offset int, ok bool) {
	q := r.URL.Query()
	limit, offset = def, 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return 0, 0, false
		}
		if n > 0 {
			limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset")
			return 0, 0, false
		}
		offset = n
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return limit, offset, true
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// paginateRecent pages from the newest end of an oldest-first slice: offset
// skips the newest items and the page keeps oldest-first order.
func paginateRecent[T any](items []T, limit, offset int) []T {
	end := len(items) - offset
	if end <= 0 {
		return []T{}
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return items[start:end]
}

type listResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func newList[T any](all []T, limit, offset int) listResponse[T] {
	return listResponse[T]{Items: paginate(all, limit, offset), Total: len(all), Limit: limit, Offset: offset}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// contextWithoutCancel keeps store writes going after the client hangs up
// mid-way through a multi-document update.
func contextWithoutCancel(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}
