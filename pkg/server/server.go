// Package server serves transformed images over HTTP.
//
// The router mounts the image [Handler] at the delivery route, plus
// /healthz, an optional /metrics endpoint and optional static file serving
// for a built site:
//
//	h := server.NewHandler(svc, loader, delivery.ModeServer, logger)
//	srv := server.New(server.Options{Addr: ":8080", Handler: h, Logger: logger})
//	err := srv.Serve(ctx) // returns after ctx is done and requests drained
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"path"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/matzehuels/sitepix/pkg/delivery"
	"github.com/matzehuels/sitepix/pkg/observability"
)

// Options configures a Server.
type Options struct {
	Addr string

	// Route is where Handler is mounted. Defaults to delivery.DefaultRoute.
	Route   string
	Handler *Handler

	// Base prefixes Route and the static files, matching the base path
	// the pages were rendered with. Defaults to "/".
	Base string

	// StaticDir, when set, is served at Base (the built site).
	StaticDir string

	// Metrics enables /metrics and per-request instrumentation.
	Metrics *observability.Metrics

	ShutdownTimeout time.Duration
	Logger          *log.Logger
}

// ImagePath is the path the image handler is mounted at.
func (o Options) ImagePath() string {
	route := o.Route
	if route == "" {
		route = delivery.DefaultRoute
	}
	return path.Join("/", o.Base, route)
}

// Server is the HTTP front of the image endpoint.
type Server struct {
	opts   Options
	router chi.Router
	http   *http.Server
}

// New builds the router for opts.
func New(opts Options) *Server {
	if opts.Route == "" {
		opts.Route = delivery.DefaultRoute
	}
	opts.Base = path.Join("/", opts.Base)
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewWithOptions(io.Discard, log.Options{})
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok\n")
	})
	if opts.Handler != nil {
		route := opts.ImagePath()
		r.Method(http.MethodGet, route, opts.Handler)
		r.Method(http.MethodHead, route, opts.Handler)
	}
	if opts.StaticDir != "" {
		files := http.FileServer(http.Dir(opts.StaticDir))
		if opts.Base == "/" {
			r.Handle("/*", files)
		} else {
			r.Handle(opts.Base+"/*", http.StripPrefix(opts.Base, files))
		}
	}

	return &Server{
		opts:   opts,
		router: r,
		http: &http.Server{
			Addr:              opts.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on Options.Addr until ctx is done, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener is Serve on an existing listener.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("server starting", "addr", ln.Addr().String(), "route", s.opts.ImagePath())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.opts.Logger.Info("shutting down gracefully", "timeout", s.opts.ShutdownTimeout)
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.opts.Logger.Info("server stopped")
	return nil
}

// requestLogger logs one line per request.
func requestLogger(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := observability.NewStatusWriter(w)
			next.ServeHTTP(sw, r)

			logger.Info("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.Status(),
				"bytes", sw.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}
