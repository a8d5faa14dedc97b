// Package api is the HTTP submission API and admin surface:
// gorilla/mux routing, a middleware stack (CORS + per-IP rate limiting +
// bearer-token auth on admin routes), and an envelope-shaped JSON
// response contract.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"chainwatch/internal/queue"
	"chainwatch/internal/repository"
	"chainwatch/internal/scheduler"
)

// Server is the HTTP front door onto the Scheduler/Worker.
type Server struct {
	repo       *repository.Repository
	queue      *queue.Queue
	sched      *scheduler.Scheduler
	httpServer *http.Server
}

// NewServer builds the router and wraps it in an *http.Server listening
// on addr. An empty adminToken disables the admin surface entirely.
// metricsHandler serves the Prometheus text exposition format; main.go
// supplies it from its own registry so this package never depends on
// client_golang directly.
func NewServer(repo *repository.Repository, q *queue.Queue, sched *scheduler.Scheduler, addr, adminToken string, rateLimitRPS float64, rateLimitBurst int, metricsHandler http.Handler) *Server {
	s := &Server{repo: repo, queue: q, sched: sched}

	r := mux.NewRouter()
	limiter := newIPLimiter(rateLimitRPS, rateLimitBurst)
	r.Use(commonMiddleware)
	r.Use(limiter.middleware)

	registerSubmissionRoutes(r, s)
	registerAdminRoutes(r, s, adminToken)
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler).Methods("GET", "OPTIONS")
	}
	r.HandleFunc("/health", s.handleHealth).Methods("GET", "OPTIONS")

	s.httpServer = &http.Server{Addr: addr, Handler: r}
	return s
}

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte(`{"status":"ok"}`))
}
