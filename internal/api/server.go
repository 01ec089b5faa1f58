package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/emily-flambe/get-money-get-paid/internal/metrics"
	"github.com/emily-flambe/get-money-get-paid/internal/store"
	"github.com/emily-flambe/get-money-get-paid/internal/web"
)

// Store is the persistence the dashboard API reads and writes.
type Store interface {
	ListAlgorithms(ctx context.Context) ([]store.Algorithm, error)
	GetAlgorithm(ctx context.Context, id string) (store.Algorithm, error)
	CreateAlgorithm(ctx context.Context, in store.NewAlgorithm) (string, error)
	UpdateAlgorithm(ctx context.Context, id string, patch store.AlgorithmPatch) error
	DeleteAlgorithm(ctx context.Context, id string) error
	ListTrades(ctx context.Context, algoID string, limit int) ([]store.Trade, error)
	InsertTrade(ctx context.Context, t store.Trade) (string, error)
	CountTrades(ctx context.Context, algoID string) (int, error)
	TradePnLs(ctx context.Context, algoID string) ([]float64, error)
	ListPositions(ctx context.Context, algoID string) ([]store.Position, error)
	ListSnapshots(ctx context.Context, algoID string) ([]store.Snapshot, error)
}

// AccountSource returns the brokerage account document as-is.
type AccountSource interface {
	AccountRaw(ctx context.Context) (json.RawMessage, error)
}

type Options struct {
	Store      Store
	Account    AccountSource
	Metrics    *metrics.Metrics
	Registry   *prometheus.Registry
	Logger     *zap.Logger
	CORSOrigin string
	// Static overrides the embedded UI.
	Static fs.FS
}

// Server is the dashboard HTTP API and UI.
type Server struct {
	store      Store
	account    AccountSource
	metrics    *metrics.Metrics
	log        *zap.Logger
	router     chi.Router
	httpServer *http.Server
}

// NewServer builds the dashboard server bound to addr.
func NewServer(addr string, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Static == nil {
		opts.Static = web.FS()
	}
	if opts.CORSOrigin == "" {
		opts.CORSOrigin = "*"
	}
	s := &Server{
		store:   opts.Store,
		account: opts.Account,
		metrics: opts.Metrics,
		log:     opts.Logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(recoverJSON(s.log))
	r.Use(cors(opts.CORSOrigin))
	r.Use(instrument(s.metrics, s.log))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler(opts.Registry))

	r.Route("/api", func(r chi.Router) {
		r.Route("/algorithms", func(r chi.Router) {
			r.Get("/", s.handleListAlgorithms)
			r.Post("/", s.handleCreateAlgorithm)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetAlgorithm)
				r.Put("/", s.handleUpdateAlgorithm)
				r.Delete("/", s.handleDeleteAlgorithm)
				r.Get("/trades", s.handleAlgorithmTrades)
				r.Get("/snapshots", s.handleAlgorithmSnapshots)
				r.Get("/positions", s.handleAlgorithmPositions)
				r.Get("/performance", s.handleAlgorithmPerformance)
			})
		})
		r.Get("/comparison", s.handleComparison)
		r.Post("/trades", s.handleIngestTrade)
		r.Get("/account", s.handleAccount)
		r.NotFound(notFoundJSON)
		r.MethodNotAllowed(notFoundJSON)
	})

	r.Handle("/*", http.FileServer(http.FS(opts.Static)))

	s.router = r
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Start begins serving in the background.
func (s *Server) Start(_ context.Context) error {
	return start(s.httpServer, s.log)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func start(srv *http.Server, log *zap.Logger) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return err
	}
	log.Info("api server listening", zap.String("addr", ln.Addr().String()))
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api server stopped", zap.Error(err))
		}
	}()
	return nil
}
