package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/2beens/liftlog/internal/auth"
	"github.com/2beens/liftlog/internal/telemetry/tracing"
	"github.com/2beens/liftlog/pkg"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DeviceHeader    = "X-Liftlog-Device"
	DefaultDeviceID = "web"
)

type deviceCtxKey struct{}

// DeviceFromContext returns the device the request was made from.
func DeviceFromContext(ctx context.Context) string {
	if device, ok := ctx.Value(deviceCtxKey{}).(string); ok && device != "" {
		return device
	}
	return DefaultDeviceID
}

type identityObserver interface {
	Observe(ctx context.Context, deviceID string, identity auth.Identity) bool
}

type AuthMiddlewareHandler struct {
	authenticator auth.Authenticator
	observer      identityObserver
	allowedPaths  map[string]bool
}

func NewAuthMiddlewareHandler(
	authenticator auth.Authenticator,
	observer identityObserver,
) *AuthMiddlewareHandler {
	return &AuthMiddlewareHandler{
		authenticator: authenticator,
		observer:      observer,
		allowedPaths: map[string]bool{
			"/":        true,
			"/version": true,
		},
	}
}

func (h *AuthMiddlewareHandler) AuthCheck() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracing.GlobalTracer.Start(r.Context(), "middleware.auth")
			defer span.End()

			if r.Method == http.MethodOptions {
				w.Header().Add("Allow", "GET, POST, DELETE, OPTIONS")
				w.WriteHeader(http.StatusOK)
				span.SetStatus(codes.Ok, "options-ok")
				return
			}

			if h.allowedPaths[r.URL.Path] {
				span.SetStatus(codes.Ok, "ok")
				next.ServeHTTP(w, r)
				return
			}

			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				log.Tracef("[missing token] [auth middleware] unauthorized => %s", r.URL.Path)
				pkg.WriteJSON(w, map[string]string{"error": "missing bearer token"}, http.StatusUnauthorized)
				span.SetStatus(codes.Error, "missing-auth-token")
				return
			}

			identity, err := h.authenticator.Authenticate(ctx, token)
			if err != nil {
				message := "invalid token"
				switch {
				case errors.Is(err, auth.ErrTokenExpired):
					message = "token expired"
				case errors.Is(err, auth.ErrUnauthenticated):
				default:
					log.Errorf("[failed auth check] => %s: %s", r.URL.Path, err)
				}
				pkg.WriteJSON(w, map[string]string{"error": message}, http.StatusUnauthorized)
				span.SetStatus(codes.Error, "authenticate-err")
				span.RecordError(err)
				return
			}

			deviceID := strings.TrimSpace(r.Header.Get(DeviceHeader))
			namedDevice := deviceID != ""
			if !namedDevice {
				deviceID = DefaultDeviceID
			}
			span.SetAttributes(
				attribute.String("user.id", identity.UserID),
				attribute.String("device.id", deviceID),
			)

			ctx = auth.NewContext(ctx, identity, token)
			ctx = context.WithValue(ctx, deviceCtxKey{}, deviceID)
			// the default device is shared by every client that does not name
			// itself, so a different user there is not an identity change
			if h.observer != nil && namedDevice {
				h.observer.Observe(ctx, deviceID, identity)
			}

			span.SetStatus(codes.Ok, "ok")
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
