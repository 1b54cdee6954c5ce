package middleware

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nourishpath/platform/pkg/common/logger"
	"github.com/nourishpath/platform/pkg/common/models"
	"github.com/nourishpath/platform/pkg/common/response"
	"github.com/nourishpath/platform/pkg/gateway/auth"
	"github.com/nourishpath/platform/pkg/rolegate"
)

type contextKey string

const (
	ActorContextKey     contextKey = "actor"
	RequestIDContextKey contextKey = "request_id"
)

type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*auth.Claims, error)
}

// ProfileSyncer mirrors token claims into the user read model.
type ProfileSyncer interface {
	SyncIdentity(ctx context.Context, identity auth.Identity) error
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}

		r.Header.Set("X-Request-ID", reqID)
		w.Header().Set("X-Request-ID", reqID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		ctx := context.WithValue(r.Context(), RequestIDContextKey, reqID)
		next.ServeHTTP(rec, r.WithContext(ctx))

		logger.Log.WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rec.status,
			"remote_addr": r.RemoteAddr,
			"request_id":  reqID,
			"duration":    time.Since(start).Milliseconds(),
		}).Info("HTTP request")
	})
}

func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				logger.Log.WithField("error", err).Error("Panic recovered")
				response.Message(w, http.StatusInternalServerError, "internal_error", "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// Authenticate validates the bearer token and stores the caller as a
// models.Actor in the request context.
func Authenticate(validator TokenValidator, profiles ProfileSyncer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Header.Get("Authorization")
			if !strings.HasPrefix(token, "Bearer ") {
				response.Message(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
				return
			}
			token = strings.TrimPrefix(token, "Bearer ")

			claims, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				logger.Log.WithError(err).Debug("Token rejected")
				response.Message(w, http.StatusUnauthorized, "unauthorized", "invalid token")
				return
			}

			identity := claims.Identity()
			if profiles != nil && identity.Role != rolegate.RoleSystem {
				if err := profiles.SyncIdentity(r.Context(), identity); err != nil {
					logger.Log.WithError(err).WithField("user_id", identity.UserID).Warn("Failed to sync user profile")
				}
			}

			ctx := WithActor(r.Context(), models.Actor{UserID: identity.UserID, Role: identity.Role})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func WithActor(ctx context.Context, actor models.Actor) context.Context {
	return context.WithValue(ctx, ActorContextKey, actor)
}

func ActorFromContext(ctx context.Context) (models.Actor, bool) {
	actor, ok := ctx.Value(ActorContextKey).(models.Actor)
	return actor, ok
}

// RequireRoles rejects callers whose role is not listed.
func RequireRoles(roles ...rolegate.Role) func(http.Handler) http.Handler {
	allowed := make(map[rolegate.Role]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				response.Message(w, http.StatusUnauthorized, "unauthorized", "authentication required")
				return
			}
			if _, ok := allowed[actor.Role]; !ok {
				response.Message(w, http.StatusForbidden, "forbidden_transition", "role "+string(actor.Role)+" is not permitted")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireStaff admits any staff role.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFromContext(r.Context())
		if !ok {
			response.Message(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		if !rolegate.IsStaffRole(actor.Role) {
			response.Message(w, http.StatusForbidden, "forbidden_transition", "staff access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Simple token-bucket rate limiter middleware (per-process)
func RateLimit(rps int, burst int) func(http.Handler) http.Handler {
	type bucket struct {
		tokens int
		last   time.Time
		mu     sync.Mutex
	}
	b := &bucket{tokens: burst, last: time.Now()}
	refill := func() {
		now := time.Now()
		add := int(now.Sub(b.last).Seconds() * float64(rps))
		if add > 0 {
			b.tokens += add
			if b.tokens > burst {
				b.tokens = burst
			}
			b.last = now
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b.mu.Lock()
			refill()
			if b.tokens <= 0 {
				b.mu.Unlock()
				response.Message(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
				return
			}
			b.tokens--
			b.mu.Unlock()
			next.ServeHTTP(w, r)
		})
	}
}

func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Signature")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func BodyLimit(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// CanViewCustomer admits staff and the customer themselves.
func CanViewCustomer(actor models.Actor, customerID uuid.UUID) bool {
	if rolegate.IsStaffRole(actor.Role) || actor.Role == rolegate.RoleSystem {
		return true
	}
	return actor.Role == rolegate.RoleCustomer && actor.UserID == customerID
}
