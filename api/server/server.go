// Package server is the HTTP facade over the pool scheduler: thin
// request/response adapters for submitters, worker agents, and admins. All
// scheduling decisions live in the pool package.
package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/kilnproject/kiln/api"
	"github.com/kilnproject/kiln/common/stats"
	"github.com/kilnproject/kiln/pool"
)

const (
	defaultPollWait   = 30 * time.Second
	defaultUpdateWait = 600 * time.Second
)

type Server struct {
	pools map[string]*pool.Pool
	stat  stats.StatsReceiver

	// Submit throttle, shared across pools. Nil means unlimited.
	limiter *rate.Limiter

	mu      sync.Mutex
	tickets map[string]*pool.Ticket
	jobs    map[string]string
	workers map[string]*workerConn // key pool+"/"+name

	updateWait time.Duration
}

// New builds a facade over the given pools. submitRate <= 0 disables
// throttling.
func New(pools map[string]*pool.Pool, submitRate float64, stat stats.StatsReceiver) *Server {
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	var limiter *rate.Limiter
	if submitRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(submitRate), int(submitRate)+1)
	}
	return &Server{
		pools:      pools,
		stat:       stat.Scope("api"),
		limiter:    limiter,
		tickets:    map[string]*pool.Ticket{},
		jobs:       map[string]string{},
		workers:    map[string]*workerConn{},
		updateWait: defaultUpdateWait,
	}
}

// Router mounts all routes.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/pools/{pool}/jobs", s.handleSubmit)
		r.Get("/jobs/{ticket}", s.handleTicketStatus)
		r.Delete("/jobs/{ticket}", s.handleCancel)
		r.Post("/jobs/{ticket}/started", s.handleStarted)

		r.Post("/pools/{pool}/workers", s.handleRegister)
		r.Post("/pools/{pool}/workers/{name}/pop", s.handlePop)
		r.Put("/pools/{pool}/workers/{name}/active", s.handleWorkerActive)
		r.Delete("/pools/{pool}/workers/{name}", s.handleReleaseWorker)
	})
	r.Route("/admin", func(r chi.Router) {
		r.Get("/pools", s.handleListPools)
		r.Get("/pools/{pool}", s.handleShowPool)
		r.Get("/pools/{pool}/workers", s.handleListWorkers)
		r.Put("/pools/{pool}/workers/{name}/active", s.handleAdminWorkerActive)
		r.Post("/pools/{pool}/workers/{name}/update", s.handleUpdateWorker)
		r.Get("/pools/{pool}/active", s.handleGetGate)
		r.Put("/pools/{pool}/active", s.handleSetGate)
	})
	return r
}

func (s *Server) Serve(addr string) error {
	log.Info("Serving kiln api on ", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) poolFor(w http.ResponseWriter, r *http.Request) *pool.Pool {
	name := chi.URLParam(r, "pool")
	p, ok := s.pools[name]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown pool: "+name, "UnknownPool")
		return nil
	}
	return p
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Error("Failed to encode response: ", err)
		}
	}
}

func respondError(w http.ResponseWriter, status int, msg, code string) {
	log.WithFields(log.Fields{"status": status, "code": code}).Warn(msg)
	respondJSON(w, status, api.ErrorReply{Error: msg, Code: code})
}

func decode(w http.ResponseWriter, r *http.Request, into interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "BadRequest")
		return false
	}
	return true
}
