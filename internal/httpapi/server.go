// Package httpapi exposes the raffle, its account ledger and the local
// randomness coordinator over HTTP.
package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/R3E-Network/raffle/internal/automation"
	"github.com/R3E-Network/raffle/internal/engine/events"
	"github.com/R3E-Network/raffle/internal/engine/metrics"
	"github.com/R3E-Network/raffle/internal/gasbank"
	"github.com/R3E-Network/raffle/internal/raffle"
	"github.com/R3E-Network/raffle/internal/storage"
	"github.com/R3E-Network/raffle/internal/vrf"
	"github.com/R3E-Network/raffle/pkg/logger"
)

const (
	traceHeader       = "X-Trace-ID"
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// Deps are the components served by the API. Coordinator, Keeper and Metrics
// are optional.
type Deps struct {
	Raffle      *raffle.Raffle
	Bank        *gasbank.Manager
	Rounds      storage.RoundStore
	Events      *events.RingBuffer
	Coordinator *vrf.MockCoordinator
	Keeper      *automation.Keeper
	Metrics     *metrics.Collector
	Log         *logger.Logger
}

// Options tune the HTTP surface.
type Options struct {
	RateLimit float64
	Burst     int
}

// Server is the raffle HTTP API.
type Server struct {
	deps    Deps
	log     *logger.Logger
	limiter *RateLimiter
	router  *mux.Router
	started time.Time
}

// NewServer wires every route.
func NewServer(deps Deps, opts Options) *Server {
	log := deps.Log
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	s := &Server{
		deps:    deps,
		log:     log,
		limiter: NewRateLimiter(opts.RateLimit, opts.Burst, log),
		router:  mux.NewRouter(),
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Limiter returns the per-client rate limiter.
func (s *Server) Limiter() *RateLimiter {
	return s.limiter
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.tracing)
	if s.deps.Metrics != nil {
		r.Use(s.deps.Metrics.InstrumentHandler)
		r.Handle("/metrics", s.deps.Metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.limiter.Handler)

	api.HandleFunc("/raffle", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/raffle/participants", s.handleParticipants).Methods(http.MethodGet)
	api.HandleFunc("/raffle/participants/{index:[0-9]+}", s.handleParticipant).Methods(http.MethodGet)
	api.HandleFunc("/raffle/enter", s.handleEnter).Methods(http.MethodPost)
	api.HandleFunc("/raffle/upkeep", s.handleCheckUpkeep).Methods(http.MethodGet)
	api.HandleFunc("/raffle/upkeep", s.handlePerformUpkeep).Methods(http.MethodPost)

	api.HandleFunc("/rounds", s.handleListRounds).Methods(http.MethodGet)
	api.HandleFunc("/rounds/{round:[0-9]+}", s.handleGetRound).Methods(http.MethodGet)

	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/events/stream", s.handleEventStream).Methods(http.MethodGet)

	api.HandleFunc("/accounts/{address}", s.handleAccount).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{address}/deposit", s.handleDeposit).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{address}/withdraw", s.handleWithdraw).Methods(http.MethodPost)

	api.HandleFunc("/automation", s.handleAutomation).Methods(http.MethodGet)

	api.HandleFunc("/vrf/requests", s.handlePendingRequests).Methods(http.MethodGet)
	api.HandleFunc("/vrf/requests/{id:[0-9]+}/fulfill", s.handleFulfill).Methods(http.MethodPost)
	api.HandleFunc("/vrf/subscriptions/{id:[0-9]+}", s.handleSubscription).Methods(http.MethodGet)
}

// tracing propagates or assigns a trace id so events raised by a request can be
// correlated with it.
func (s *Server) tracing(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(traceHeader)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		w.Header().Set(traceHeader, traceID)
		next.ServeHTTP(w, r.WithContext(events.WithTraceID(r.Context(), traceID)))
	})
}
