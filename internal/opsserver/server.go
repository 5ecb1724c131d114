// Package opsserver exposes liveness and readiness over HTTP and the
// standard gRPC health service. It carries no bot functionality.
package opsserver

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/dmitrijs2005/formbot/internal/logging"
)

// Check reports whether one dependency is usable.
type Check func(ctx context.Context) error

const checkTimeout = 2 * time.Second

type Server struct {
	httpAddr string
	grpcAddr string
	checks   map[string]Check
	logger   logging.Logger

	health *health.Server
}

func New(httpAddr, grpcAddr string, checks map[string]Check, l logging.Logger) *Server {
	if l == nil {
		l = logging.Nop()
	}
	return &Server{
		httpAddr: httpAddr,
		grpcAddr: grpcAddr,
		checks:   checks,
		logger:   l.With("module", "ops_server"),
		health:   health.NewServer(),
	}
}

// Router serves /healthz and /readyz.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.Get("/readyz", s.readyz)
	return r
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failed := s.failing(r.Context())
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// failing runs every check concurrently and returns the sorted names of
// those that failed.
func (s *Server) failing(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed []string
	)
	for name, check := range s.checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			if err := check(ctx); err != nil {
				s.logger.Warn(ctx, "readiness check failed", "check", name, "error", err)
				mu.Lock()
				failed = append(failed, name)
				mu.Unlock()
			}
		}(name, check)
	}
	wg.Wait()
	sort.Strings(failed)
	return failed
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Run serves until ctx is done. Empty addresses disable the matching
// listener; with both empty Run just waits for ctx.
func (s *Server) Run(ctx context.Context) error {
	var httpSrv *http.Server
	var grpcSrv *grpc.Server
	errCh := make(chan error, 2)

	if s.httpAddr != "" {
		lis, err := net.Listen("tcp", s.httpAddr)
		if err != nil {
			return err
		}
		httpSrv = &http.Server{Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
		s.logger.Info(ctx, "Starting HTTP ops server", "address", lis.Addr().String())
		go func() {
			if err := httpSrv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	if s.grpcAddr != "" {
		lis, err := net.Listen("tcp", s.grpcAddr)
		if err != nil {
			if httpSrv != nil {
				_ = httpSrv.Close()
			}
			return err
		}
		grpcSrv = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcSrv, s.health)
		s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		s.logger.Info(ctx, "Starting gRPC health server", "address", lis.Addr().String())
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	s.logger.Info(ctx, "Stopping ops server...")
	s.health.Shutdown()
	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	return runErr
}
