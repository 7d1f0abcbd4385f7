// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package httpapi is the validator-challenge HTTP+JSON-RPC wire
// surface (spec §6), routed with gorilla/mux. Every handler depends
// only on the narrow interface or concrete manager it needs, the way
// compileworker.Worker depends on its collaborators.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/log"
	"github.com/luxfi/platform-validator/aggregator"
	"github.com/luxfi/platform-validator/api/health"
	"github.com/luxfi/platform-validator/platformauth"
	"github.com/luxfi/platform-validator/progress"
	"github.com/luxfi/platform-validator/scoring"
	"github.com/luxfi/platform-validator/stake"
	"github.com/luxfi/platform-validator/submission"
	"github.com/luxfi/platform-validator/whitelist"
)

// AgentDirectory is the external agent registry this API queries
// (spec §1); it is the read-side counterpart of compileworker's
// write-side AgentStore.
type AgentDirectory interface {
	Agent(agentHash string) (AgentRecord, bool)
	AgentsByStatus(status string) []AgentRecord
	AgentsByMiner(hotkey string) []AgentRecord
}

// Config bundles the static, rarely-changing response bodies for the
// /config endpoints.
type Config struct {
	WhitelistModules []string
	WhitelistModels  []string
	Pricing          map[string]float64
}

// Deps bundles every collaborator the server routes into.
type Deps struct {
	Auth            *platformauth.Verifier
	Submissions     *submission.Manager
	Stake           *stake.Registry
	WhitelistPolicy whitelist.Policy
	Agents          AgentDirectory
	Progress        *progress.Store
	Leaderboard     *scoring.Leaderboard
	Consensus       *aggregator.Aggregator
	Config          Config
	Log             log.Logger
	Now             func() time.Time

	// Health is an optional operational health check, surfaced at
	// GET /healthz (ambient ops surface, not part of spec §6's route
	// table). A nil Health reports an unconditional healthy Report.
	Health health.Checker

	// MetricsRegisterer is optional. When set, every route is
	// instrumented with request latency/outcome metrics, registered
	// against it (ambient ops surface).
	MetricsRegisterer prometheus.Registerer

	// MetricsGatherer is optional. When set, it is served at
	// GET /metrics. It is usually a metrics.MultiGatherer combining
	// MetricsRegisterer with other components' registries, but any
	// prometheus.Gatherer works (a bare *prometheus.Registry satisfies
	// both MetricsRegisterer and MetricsGatherer for a single-registry
	// deployment).
	MetricsGatherer prometheus.Gatherer
}

// Server implements the full spec §6 HTTP route table over Deps.
type Server struct {
	deps    Deps
	metrics *requestMetrics
}

// NewServer builds a Server. A nil Deps.Now defaults to time.Now.
func NewServer(deps Deps) *Server {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	s := &Server{deps: deps}
	if deps.MetricsRegisterer != nil {
		m, err := newRequestMetrics(deps.MetricsRegisterer)
		if err == nil {
			s.metrics = m
		}
	}
	return s
}

// Router builds the gorilla/mux router implementing every route.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	s.handle(r, "/auth", s.handleAuth).Methods(http.MethodPost)
	s.handle(r, "/submit", s.handleSubmit).Methods(http.MethodPost)
	s.handle(r, "/can_submit", s.handleCanSubmit).Methods(http.MethodGet)

	s.handle(r, "/status/{agent_hash}", s.handleAgentStatus).Methods(http.MethodGet)
	s.handle(r, "/agent/{agent_hash}", s.handleAgent).Methods(http.MethodGet)
	s.handle(r, "/agents/pending", s.handleAgentsPending).Methods(http.MethodGet)
	s.handle(r, "/agents/active", s.handleAgentsActive).Methods(http.MethodGet)
	s.handle(r, "/agents/miner/{hotkey}", s.handleAgentsByMiner).Methods(http.MethodGet)

	s.handle(r, "/consensus/sign", s.handleConsensusSign).Methods(http.MethodPost)
	s.handle(r, "/consensus/source/{hash}", s.handleConsensusSource).Methods(http.MethodGet)
	s.handle(r, "/consensus/obfuscated/{hash}", s.handleConsensusObfuscated).Methods(http.MethodGet)
	s.handle(r, "/consensus/verify", s.handleConsensusVerify).Methods(http.MethodPost)

	s.handle(r, "/progress/{id}", s.handleProgressByID).Methods(http.MethodGet)
	s.handle(r, "/progress/agent/{hash}", s.handleProgressByAgent).Methods(http.MethodGet)
	s.handle(r, "/progress/agent/{hash}/latest", s.handleProgressLatestForAgent).Methods(http.MethodGet)
	s.handle(r, "/progress/validator/{hotkey}", s.handleProgressByValidator).Methods(http.MethodGet)
	s.handle(r, "/progress/running", s.handleProgressRunning).Methods(http.MethodGet)

	s.handle(r, "/chain/result/{hash}", s.handleChainResult).Methods(http.MethodGet)
	s.handle(r, "/chain/consensus/{hash}", s.handleChainConsensus).Methods(http.MethodGet)
	s.handle(r, "/chain/votes/{hash}", s.handleChainVotes).Methods(http.MethodGet)
	s.handle(r, "/chain/leaderboard", s.handleChainLeaderboard).Methods(http.MethodGet)

	s.handle(r, "/config/whitelist/modules", s.handleConfigWhitelistModules).Methods(http.MethodGet)
	s.handle(r, "/config/whitelist/models", s.handleConfigWhitelistModels).Methods(http.MethodGet)
	s.handle(r, "/config/pricing", s.handleConfigPricing).Methods(http.MethodGet)

	s.handle(r, "/healthz", s.handleHealthz).Methods(http.MethodGet)

	if s.deps.MetricsGatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.deps.MetricsGatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	return r
}

// handle registers h at route, instrumented with request metrics when
// Deps.MetricsRegisterer is set.
func (s *Server) handle(r *mux.Router, route string, h http.HandlerFunc) *mux.Route {
	if s.metrics != nil {
		h = s.metrics.instrument(route, h)
	}
	return r.HandleFunc(route, h)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Success: false, Error: err.Error()})
}
