package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kilnproject/kiln/api"
	"github.com/kilnproject/kiln/common/stats"
	"github.com/kilnproject/kiln/pool"
)

// POST /api/v1/pools/{pool}/jobs
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	p := s.poolFor(w, r)
	if p == nil {
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.stat.Counter(stats.APISubmitThrottledCounter).Inc(1)
		respondError(w, http.StatusTooManyRequests, "submission rate exceeded", "Throttled")
		return
	}
	var req api.SubmitRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Job.Name == "" {
		respondError(w, http.StatusBadRequest, "job name is required", "BadRequest")
		return
	}
	s.stat.Counter(stats.APISubmitCounter).Inc(1)

	t := p.Submit(req.Urgent, &req.Job)
	s.mu.Lock()
	s.tickets[t.ID()] = t
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, api.SubmitReply{TicketID: t.ID()})
}

func (s *Server) ticketFor(w http.ResponseWriter, r *http.Request) *pool.Ticket {
	id := chi.URLParam(r, "ticket")
	s.mu.Lock()
	t, ok := s.tickets[id]
	s.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "unknown ticket: "+id, "UnknownTicket")
		return nil
	}
	return t
}

// GET /api/v1/jobs/{ticket}
func (s *Server) handleTicketStatus(w http.ResponseWriter, r *http.Request) {
	t := s.ticketFor(w, r)
	if t == nil {
		return
	}
	s.mu.Lock()
	job := s.jobs[t.ID()]
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, api.TicketStatus{
		TicketID: t.ID(),
		Accepted: t.Accepted(),
		Job:      job,
	})
}

// DELETE /api/v1/jobs/{ticket}
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	t := s.ticketFor(w, r)
	if t == nil {
		return
	}
	if err := t.Cancel(); err != nil {
		respondError(w, http.StatusConflict, err.Error(), "NotQueued")
		return
	}
	s.mu.Lock()
	delete(s.tickets, t.ID())
	s.mu.Unlock()
	respondJSON(w, http.StatusOK, nil)
}

// POST /api/v1/jobs/{ticket}/started
//
// Called by the worker agent once it begins executing; publishes the job
// capability submitters see through Await.
func (s *Server) handleStarted(w http.ResponseWriter, r *http.Request) {
	t := s.ticketFor(w, r)
	if t == nil {
		return
	}
	var req api.StartedRequest
	if !decode(w, r, &req) {
		return
	}
	s.mu.Lock()
	s.jobs[t.ID()] = req.JobID
	s.mu.Unlock()
	t.ResolveJob(req.JobID)
	respondJSON(w, http.StatusOK, nil)
}
