// Package server exposes the lending engine over HTTP.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"library-lending/library"
)

// Library is the part of *library.LibraryManager the HTTP layer drives.
type Library interface {
	AddBook(ctx context.Context, nb library.NewBook) (*library.Book, error)
	GetBook(ctx context.Context, id int64) (*library.Book, error)
	UpdateBook(ctx context.Context, id int64, p library.BookPatch) (*library.Book, error)
	ListBooks(ctx context.Context, f library.BookFilter, p library.Page) ([]*library.Book, int, error)
	DeleteBook(ctx context.Context, id int64) error

	AddUser(ctx context.Context, nu library.NewUser) (*library.User, error)
	GetUser(ctx context.Context, id int64) (*library.User, error)
	UpdateUser(ctx context.Context, id int64, p library.UserPatch) (*library.User, error)
	ListUsers(ctx context.Context, f library.UserFilter, p library.Page) ([]*library.User, int, error)
	DeleteUser(ctx context.Context, id int64) error
	SetUserPassword(ctx context.Context, id int64, password string) error
	AuthenticateUser(ctx context.Context, id int64, password string) (*library.User, error)

	CreateLoan(ctx context.Context, req library.CreateLoanRequest) (*library.Loan, error)
	GetLoan(ctx context.Context, id int64) (*library.Loan, error)
	ListLoans(ctx context.Context, f library.LoanFilter, p library.Page) ([]*library.Loan, int, error)
	UpdateLoan(ctx context.Context, id int64, upd library.LoanUpdate) (*library.Loan, error)
	ReturnLoan(ctx context.Context, id int64, notes *string) (*library.Loan, error)
	DeleteLoan(ctx context.Context, id int64) error

	Stats(ctx context.Context, topN int) (*library.Stats, error)
	Reconcile(ctx context.Context) (library.ReconcileReport, error)
}

var _ Library = (*library.LibraryManager)(nil)

// Options tunes list paging and the background reconciler.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
	// ReconcileInterval runs a reconciliation pass periodically while the
	// server is up. Zero disables it.
	ReconcileInterval time.Duration
}

// Server exposes a Library over HTTP.
type Server struct {
	lib     Library
	log     *slog.Logger
	metrics *Metrics
	opts    Options
}

// New builds a Server, filling in page size defaults.
func New(lib Library, log *slog.Logger, opts Options) *Server {
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 20
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = opts.DefaultPageSize
	}
	return &Server{lib: lib, log: log, metrics: NewMetrics(), opts: opts}
}

// Router wires the /v1 API, health and metrics endpoints.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(accessLog(s.log, s.metrics))
	r.Use(recoverMiddleware(s.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeData(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/books", func(r chi.Router) {
			r.Get("/", s.listBooks)
			r.Post("/", s.createBook)
			r.Get("/{id}", s.getBook)
			r.Patch("/{id}", s.updateBook)
			r.Delete("/{id}", s.deleteBook)
		})
		r.Route("/users", func(r chi.Router) {
			r.Get("/", s.listUsers)
			r.Post("/", s.createUser)
			r.Get("/{id}", s.getUser)
			r.Patch("/{id}", s.updateUser)
			r.Delete("/{id}", s.deleteUser)
			r.Put("/{id}/password", s.setPassword)
			r.Post("/{id}/authenticate", s.authenticate)
		})
		r.Route("/loans", func(r chi.Router) {
			r.Get("/", s.listLoans)
			r.Post("/", s.createLoan)
			r.Get("/{id}", s.getLoan)
			r.Patch("/{id}", s.updateLoan)
			r.Post("/{id}/return", s.returnLoan)
			r.Delete("/{id}", s.deleteLoan)
		})
		r.Get("/stats", s.stats)
		r.Post("/reconcile", s.reconcile)
	})
	return r
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.runReconciler(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.log.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) runReconciler(ctx context.Context) {
	if s.opts.ReconcileInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.opts.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := s.lib.Reconcile(ctx)
			if err != nil {
				s.log.Error("periodic reconcile failed", "error", err)
				continue
			}
			s.metrics.observeReconcile(report)
		}
	}
}
