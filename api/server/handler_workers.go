package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"github.com/kilnproject/kiln/api"
	"github.com/kilnproject/kiln/common/stats"
	"github.com/kilnproject/kiln/pool"
)

// workerConn bridges the blocking pool.Pop to http long-polling. One popper
// goroutine runs at a time; an assignment the agent missed (poll timeout)
// waits in the buffered delivery channel for the next poll, so nothing is
// dropped.
type workerConn struct {
	pool   *pool.Pool
	worker *pool.Worker

	deliveries chan popDelivery

	// Guarded by the owning server's mu.
	popping bool
	update  bool
}

type popDelivery struct {
	ticket *pool.Ticket
	err    error
}

func connKey(poolName, worker string) string { return poolName + "/" + worker }

// POST /api/v1/pools/{pool}/workers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	p := s.poolFor(w, r)
	if p == nil {
		return
	}
	var req api.RegisterRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "worker name is required", "BadRequest")
		return
	}
	wk, err := p.Register(req.Name)
	if err != nil {
		respondError(w, http.StatusConflict, err.Error(), "NameTaken")
		return
	}
	if err := p.SetActive(wk, true); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), "Internal")
		return
	}
	s.stat.Counter(stats.APIRegisterCounter).Inc(1)
	s.mu.Lock()
	s.workers[connKey(p.Name(), req.Name)] = &workerConn{
		pool:       p,
		worker:     wk,
		deliveries: make(chan popDelivery, 1),
	}
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, nil)
}

func (s *Server) connFor(w http.ResponseWriter, r *http.Request, p *pool.Pool) *workerConn {
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	c, ok := s.workers[connKey(p.Name(), name)]
	s.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "unknown worker: "+name, "UnknownWorker")
		return nil
	}
	return c
}

// POST /api/v1/pools/{pool}/workers/{name}/pop?wait=30
func (s *Server) handlePop(w http.ResponseWriter, r *http.Request) {
	p := s.poolFor(w, r)
	if p == nil {
		return
	}
	c := s.connFor(w, r, p)
	if c == nil {
		return
	}

	// A pending self-update outranks new work, but an already-accepted
	// ticket must be delivered first.
	s.mu.Lock()
	if c.update && len(c.deliveries) == 0 {
		c.update = false
		s.mu.Unlock()
		respondJSON(w, http.StatusOK, api.PopReply{Action: api.ActionUpdate})
		return
	}
	if !c.popping {
		c.popping = true
		go s.runPopper(c)
	}
	s.mu.Unlock()

	wait := defaultPollWait
	if q := r.URL.Query().Get("wait"); q != "" {
		if secs, err := strconv.Atoi(q); err == nil && secs > 0 {
			wait = time.Duration(secs) * time.Second
		}
	}

	select {
	case d := <-c.deliveries:
		if d.err != nil {
			s.dropConn(c)
			respondJSON(w, http.StatusOK, api.PopReply{Action: api.ActionFinished})
			return
		}
		job := d.ticket.Item().(*api.JobDescriptor)
		respondJSON(w, http.StatusOK, api.PopReply{
			Action:   api.ActionRun,
			TicketID: d.ticket.ID(),
			Job:      job,
		})
	case <-time.After(wait):
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) runPopper(c *workerConn) {
	t, err := c.pool.Pop(c.worker)
	c.deliveries <- popDelivery{ticket: t, err: err}
	s.mu.Lock()
	c.popping = false
	s.mu.Unlock()
}

// PUT /api/v1/pools/{pool}/workers/{name}/active
func (s *Server) handleWorkerActive(w http.ResponseWriter, r *http.Request) {
	p := s.poolFor(w, r)
	if p == nil {
		return
	}
	c := s.connFor(w, r, p)
	if c == nil {
		return
	}
	var req api.ActiveRequest
	if !decode(w, r, &req) {
		return
	}
	if err := p.SetActive(c.worker, req.Active); err != nil {
		respondError(w, http.StatusConflict, err.Error(), "Finished")
		return
	}
	respondJSON(w, http.StatusOK, nil)
}

// DELETE /api/v1/pools/{pool}/workers/{name}
func (s *Server) handleReleaseWorker(w http.ResponseWriter, r *http.Request) {
	p := s.poolFor(w, r)
	if p == nil {
		return
	}
	c := s.connFor(w, r, p)
	if c == nil {
		return
	}
	if err := p.Release(c.worker); err != nil {
		respondError(w, http.StatusConflict, err.Error(), "Finished")
		return
	}
	s.dropConn(c)
	respondJSON(w, http.StatusOK, nil)
}

func (s *Server) dropConn(c *workerConn) {
	s.mu.Lock()
	key := connKey(c.pool.Name(), c.worker.Name())
	if s.workers[key] == c {
		delete(s.workers, key)
	}
	s.mu.Unlock()
	log.WithFields(log.Fields{"pool": c.pool.Name(), "worker": c.worker.Name()}).Info("Dropped worker connection")
}
