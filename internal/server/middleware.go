package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/americaniron/ironfreight/internal/api"
	"github.com/americaniron/ironfreight/internal/labels"
	"github.com/americaniron/ironfreight/internal/telemetry"
	"github.com/americaniron/ironfreight/pkg/shipping"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// RequestIDFrom returns the id assigned by the request id middleware.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusWriter captures the status code and body size.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusWriter) code() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func recovery(logger *otelzap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Ctx(r.Context()).Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("stack", string(debug.Stack())),
						zap.String("method", r.Method),
						zap.String("path", r.URL.Path),
						zap.String("request_id", RequestIDFrom(r.Context())),
					)
					api.WriteError(w, http.StatusInternalServerError, api.CodeInternal, "an internal error occurred", nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// tracing starts a server span per request, continuing any inbound W3C
// trace context.
func tracing(serviceName string) func(http.Handler) http.Handler {
	tracer := otel.Tracer(serviceName + "/server")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			propagator := otel.GetTextMapPropagator()
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPMethod(r.Method),
					semconv.HTTPTarget(r.URL.Path),
					semconv.UserAgentOriginal(r.UserAgent()),
				),
			)
			defer span.End()

			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r.WithContext(ctx))

			if pattern := routePattern(r); pattern != "" {
				span.SetName(r.Method + " " + pattern)
				span.SetAttributes(attribute.String("http.route", pattern))
			}
			span.SetAttributes(semconv.HTTPStatusCode(sw.code()))
			if sw.code() >= 500 {
				span.SetStatus(codes.Error, http.StatusText(sw.code()))
			}
		})
	}
}

// observe logs each request and records HTTP metrics by route pattern.
func observe(logger *otelzap.Logger, metrics *telemetry.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w}
			next.ServeHTTP(sw, r)
			elapsed := time.Since(start)

			route := routePattern(r)
			if route == "" {
				route = "unmatched"
			}
			if metrics != nil {
				metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(sw.code())).Inc()
				metrics.HTTPDuration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())
			}

			logger.Ctx(r.Context()).Info("http request",
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.String("path", r.URL.Path),
				zap.Int("status", sw.code()),
				zap.Duration("duration", elapsed),
				zap.Int("bytes", sw.bytes),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("request_id", RequestIDFrom(r.Context())),
			)
		})
	}
}

// authenticate attaches a principal for a valid HS256 bearer token. A missing
// Authorization header leaves the request anonymous; a malformed or invalid
// token, or a label URL token, is rejected with 401.
func authenticate(secret, issuer string, logger *otelzap.Logger) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	parser := jwt.NewParser(opts...)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}

			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
				api.WriteError(w, http.StatusUnauthorized, api.CodeUnauthenticated, "invalid authorization header format", nil)
				return
			}
			if secret == "" {
				api.WriteError(w, http.StatusUnauthorized, api.CodeUnauthenticated, "bearer authentication is not configured", nil)
				return
			}

			claims := &shipping.Claims{}
			_, err := parser.ParseWithClaims(parts[1], claims, func(*jwt.Token) (interface{}, error) {
				return []byte(secret), nil
			})
			if err != nil || claims.Subject == "" {
				logger.Ctx(r.Context()).Warn("invalid bearer token",
					zap.String("path", r.URL.Path),
					zap.Error(err),
				)
				api.WriteError(w, http.StatusUnauthorized, api.CodeUnauthenticated, "invalid or expired token", nil)
				return
			}
			if slices.Contains(claims.Audience, labels.Audience) {
				logger.Ctx(r.Context()).Warn("label token presented as bearer", zap.String("path", r.URL.Path))
				api.WriteError(w, http.StatusUnauthorized, api.CodeUnauthenticated, "invalid or expired token", nil)
				return
			}

			ctx := api.WithPrincipal(r.Context(), &api.Principal{
				Subject: claims.Subject,
				Email:   claims.Email,
				Role:    claims.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
