package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"carbon-ledger-backend/internal/config"
	"carbon-ledger-backend/internal/logger"
	"carbon-ledger-backend/internal/metrics"
	"carbon-ledger-backend/internal/security"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func routeName(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		return route.GetName()
	}
	return ""
}

type AuthMiddleware struct {
	tokenManager security.TokenManager
}

func NewAuthMiddleware(tm security.TokenManager) *AuthMiddleware {
	return &AuthMiddleware{tokenManager: tm}
}

// Handler authenticates and authorizes requests by the security level of the
// matched route.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		level := config.GetSecurityLevel(routeName(r))

		// Public endpoint - skip auth
		if level == config.SecurityPublic {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := extractToken(r)
		if !ok {
			writeFailure(w, http.StatusUnauthorized, "unauthenticated", "authorization token is not provided")
			return
		}
		claims, err := m.tokenManager.ValidateToken(token)
		if err != nil {
			writeFailure(w, http.StatusUnauthorized, "unauthenticated", err.Error())
			return
		}
		if msg := checkSecurityLevel(level, claims); msg != "" {
			writeFailure(w, http.StatusForbidden, "forbidden", msg)
			return
		}

		ctx := withClaims(r.Context(), claims)
		ctx = logger.NewContext(ctx, "userID", claims.UserID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) (string, bool) {
	token := r.Header.Get("Authorization")
	if len(token) > 7 && strings.ToUpper(token[0:7]) == "BEARER " {
		token = token[7:]
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func checkSecurityLevel(level config.SecurityLevel, claims *security.UserClaims) string {
	switch level {
	case config.SecurityAccess:
		if claims.Type != security.TokenTypeAccess {
			return "access token required"
		}
	case config.SecurityRegulator:
		if !claims.HasRole(security.RoleRegulator) {
			return "regulator role required"
		}
	case config.SecurityService:
		if !claims.HasRole(security.RolePaymentGateway) && !claims.HasRole(security.RoleIdentity) {
			return "service role required"
		}
	}
	return ""
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// RequestLogger tags the request context with a request id, then logs and
// measures the request once it is served.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		route := routeName(r)
		w.Header().Set("X-Request-ID", requestID)

		ctx := logger.NewContext(r.Context(), "requestID", requestID, "route", route)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		elapsed := time.Since(start)
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
		logger.InfoContext(ctx, "HTTP request", "method", r.Method, "path", r.URL.Path,
			"status", rec.status, "duration", elapsed)
	})
}

func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.ErrorContext(r.Context(), "Panic while serving request", "panic", rec, "path", r.URL.Path)
				writeFailure(w, http.StatusInternalServerError, "internal", "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
