package streamd

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/technosupport/ts-siteguard/internal/annotate"
	"github.com/technosupport/ts-siteguard/internal/bus"
	"github.com/technosupport/ts-siteguard/internal/data"
	"github.com/technosupport/ts-siteguard/internal/ratelimit"
)

// AccessConfig is the static token access model. Full user auth lives
// in the control plane; streamd only distinguishes the service token
// (internal callers) from the viewer token handed to dashboards.
type AccessConfig struct {
	ServiceToken string
	ViewerToken  string
}

// Server is the streamd HTTP surface.
type Server struct {
	Bus      *bus.Bus
	Registry *Registry
	Events   data.EventModel
	Stats    data.StatsModel
	Limiter  *ratelimit.Limiter
	Access   AccessConfig

	// StreamLimit applies per hashed IP on stream/ws connects.
	StreamLimit ratelimit.LimitConfig

	placeholder []byte
}

// Routes assembles the router.
func (s *Server) Routes() chi.Router {
	if s.placeholder == nil {
		img := annotate.Placeholder(640, 360, "NO SIGNAL")
		s.placeholder, _ = annotate.EncodeJPEG(img, 70)
	}
	if s.StreamLimit.Rate == 0 {
		s.StreamLimit = ratelimit.LimitConfig{Rate: 60, Window: time.Minute}
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.requireToken)

		r.Group(func(r chi.Router) {
			r.Use(s.connectLimit)
			r.Get("/stream/{cameraID}", s.handleStream)
			r.Get("/ws/events", s.handleEventsWS)
		})

		r.Get("/snapshot/{cameraID}", s.handleSnapshot)
		r.Get("/api/v1/cameras/{cameraID}/meta", s.handleCameraMeta)
		r.Get("/api/v1/events", s.handleListEvents)
		r.Post("/api/v1/events/{eventID}/ack", s.handleAckEvent)
		r.Get("/api/v1/stats/daily", s.handleDailyStats)
	})

	return r
}

// requireToken accepts the bearer token from the Authorization header
// or, for EventSource/img tags that cannot set headers, from ?token=.
func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
		if !s.tokenValid(token) {
			writeError(w, http.StatusUnauthorized, "invalid or missing token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) tokenValid(token string) bool {
	if token == "" {
		return false
	}
	for _, want := range []string{s.Access.ServiceToken, s.Access.ViewerToken} {
		if want != "" && subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1 {
			return true
		}
	}
	return false
}

// connectLimit rate-limits connection-heavy endpoints per client IP.
// Redis being down fails open; losing the limiter must not take the
// streams with it.
func (s *Server) connectLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		decision, err := s.Limiter.Check(r.Context(), s.Limiter.HashIP(ip), s.StreamLimit)
		if err == nil && !decision.Allowed {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many stream connections")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// orgFrom resolves the tenant scope from X-Org-ID or ?org=.
func orgFrom(r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get("X-Org-ID")
	if raw == "" {
		raw = r.URL.Query().Get("org")
	}
	id, err := uuid.Parse(raw)
	return id, err == nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[Streamd] [ERROR] write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusCtx returns a short-lived context for store and bus reads made
// while handling a request.
func statusCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), 5*time.Second)
}
