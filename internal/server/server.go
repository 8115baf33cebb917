package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"p2pescrow/internal/callerauth"
	"p2pescrow/internal/chain"
	"p2pescrow/internal/config"
	"p2pescrow/internal/escrow"
	"p2pescrow/internal/idempotency"
	"p2pescrow/internal/logger"
)

const headerRequestID = "X-Request-Id"

// Deps are the collaborators the server routes requests to. Reader and
// Journal are optional and only feed the health report.
type Deps struct {
	Engine      *escrow.Engine
	Idempotency idempotency.Store
	Reader      chain.Reader
	Journal     escrow.Journal
	Log         logrus.FieldLogger
}

type Server struct {
	cfg             *config.AppConfig
	engine          *escrow.Engine
	store           idempotency.Store
	auth            *callerauth.Verifier
	contract        common.Address
	httpServer      *http.Server
	metrics         *metricsRegistry
	log             logrus.FieldLogger
	journalHealthFn func(context.Context) error
	rpcHealthFn     func(context.Context) error
}

func NewServer(cfg *config.AppConfig, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = logger.Log
	}
	store := deps.Idempotency
	if store == nil {
		store = idempotency.NewMemoryStore()
	}

	s := &Server{
		cfg:    cfg,
		engine: deps.Engine,
		store:  store,
		auth: &callerauth.Verifier{
			MaxSkew:     cfg.Service.ClockSkew,
			TrustHeader: cfg.Service.TrustCallerHeader,
			MaxBody:     maxBodyBytes,
		},
		contract: common.HexToAddress(cfg.Chain.Contract),
		metrics:  newMetricsRegistry(deps.Engine),
		log:      log,
	}

	if checker, ok := deps.Journal.(interface{ Ping(context.Context) error }); ok {
		s.journalHealthFn = checker.Ping
	}
	if checker, ok := deps.Reader.(interface{ Ping(context.Context) error }); ok {
		s.rpcHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.Handle("POST /api/v1/escrows", s.mutate(escrow.ActionCreate, s.createEscrow))
	mux.Handle("POST /api/v1/escrows/{id}/accept", s.mutate(escrow.ActionAccept, s.transition(escrow.ActionAccept)))
	mux.Handle("POST /api/v1/escrows/{id}/fund", s.mutate(escrow.ActionFund, s.fundEscrow))
	mux.Handle("POST /api/v1/escrows/{id}/deliver", s.mutate(escrow.ActionMarkDelivered, s.transition(escrow.ActionMarkDelivered)))
	mux.Handle("POST /api/v1/escrows/{id}/release", s.mutate(escrow.ActionRelease, s.transition(escrow.ActionRelease)))
	mux.Handle("POST /api/v1/escrows/{id}/refund", s.mutate(escrow.ActionRefund, s.transition(escrow.ActionRefund)))
	mux.HandleFunc("GET /api/v1/escrows/counter", s.handleCounter)
	mux.HandleFunc("GET /api/v1/escrows/{id}", s.handleGetEscrow)
	mux.HandleFunc("GET /api/v1/escrows/{id}/logs", s.handleEscrowLogs)
	mux.HandleFunc("GET /api/v1/custody", s.handleCustody)
	mux.HandleFunc("GET /api/v1/balances/{address}", s.handleBalance)
	mux.HandleFunc("GET /api/v1/events", s.handleEvents)
	mux.HandleFunc("GET /api/v1/events/stream", s.handleEventStream)
	mux.Handle("GET /api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// Handler exposes the routed handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// SinkFailed counts an event the notification sink could not publish.
func (s *Server) SinkFailed(ev escrow.Event, err error) {
	s.metrics.incSinkFailure()
}

type componentHealth struct {
	Connected bool    `json:"connected"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
}

func probe(ctx context.Context, fn func(context.Context) error) componentHealth {
	if fn == nil {
		return componentHealth{Connected: true}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	start := time.Now()
	if err := fn(ctx); err != nil {
		return componentHealth{Error: err.Error()}
	}
	return componentHealth{
		Connected: true,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	journal := probe(ctx, s.journalHealthFn)
	rpc := probe(ctx, s.rpcHealthFn)

	ledger := componentHealth{Connected: true}
	if err := s.engine.CheckCustody(); err != nil {
		ledger = componentHealth{Error: err.Error()}
	}

	healthy := journal.Connected && rpc.Connected && ledger.Connected
	status := "healthy"
	if !healthy {
		status = "degraded"
	}

	resp := struct {
		Status  string          `json:"status"`
		Variant string          `json:"variant"`
		Journal componentHealth `json:"journal"`
		RPC     componentHealth `json:"rpc"`
		Ledger  componentHealth `json:"ledger"`
		Events  uint64          `json:"events"`
	}{
		Status:  status,
		Variant: s.engine.Variant().String(),
		Journal: journal,
		RPC:     rpc,
		Ledger:  ledger,
		Events:  s.engine.Events().Len(),
	}

	w.Header().Set("Content-Type", "application/json")
	if !healthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(headerRequestID, id)
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r)
	})
}
