package server

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/kilnproject/kiln/api"
	"github.com/kilnproject/kiln/pool"
)

// GET /admin/pools
func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	var names []string
	for name := range s.pools {
		names = append(names, name)
	}
	sort.Strings(names)
	respondJSON(w, http.StatusOK, names)
}

// GET /admin/pools/{pool}?dump=true
func (s *Server) handleShowPool(w http.ResponseWriter, r *http.Request) {
	p := s.poolFor(w, r)
	if p == nil {
		return
	}
	if r.URL.Query().Get("dump") == "true" {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(p.DumpString()))
		return
	}
	respondJSON(w, http.StatusOK, p.Show())
}

// GET /admin/pools/{pool}/workers
func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	p := s.poolFor(w, r)
	if p == nil {
		return
	}
	infos := p.Workers()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	respondJSON(w, http.StatusOK, infos)
}

// PUT /admin/pools/{pool}/workers/{name}/active
func (s *Server) handleAdminWorkerActive(w http.ResponseWriter, r *http.Request) {
	p := s.poolFor(w, r)
	if p == nil {
		return
	}
	var req api.ActiveRequest
	if !decode(w, r, &req) {
		return
	}
	wk, err := p.GetWorker(chi.URLParam(r, "name"))
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error(), "UnknownWorker")
		return
	}
	if err := p.SetActive(wk, req.Active); err != nil {
		respondError(w, http.StatusConflict, err.Error(), "Finished")
		return
	}
	respondJSON(w, http.StatusOK, nil)
}

// POST /admin/pools/{pool}/workers/{name}/update
//
// Asks the agent to self-update on its next poll, then waits for it to
// re-register under the same name.
func (s *Server) handleUpdateWorker(w http.ResponseWriter, r *http.Request) {
	p := s.poolFor(w, r)
	if p == nil {
		return
	}
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	c, ok := s.workers[connKey(p.Name(), name)]
	if ok {
		c.update = true
	}
	s.mu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "unknown worker: "+name, "UnknownWorker")
		return
	}
	if err := p.WaitReregistration(name, s.updateWait); err == pool.ErrUpdateTimeout {
		respondError(w, http.StatusGatewayTimeout, err.Error(), "UpdateTimeout")
		return
	}
	respondJSON(w, http.StatusOK, nil)
}

// GET /admin/pools/{pool}/active
func (s *Server) handleGetGate(w http.ResponseWriter, r *http.Request) {
	p := s.poolFor(w, r)
	if p == nil {
		return
	}
	respondJSON(w, http.StatusOK, api.ActiveReply{Active: p.Gate().Active()})
}

// PUT /admin/pools/{pool}/active
func (s *Server) handleSetGate(w http.ResponseWriter, r *http.Request) {
	p := s.poolFor(w, r)
	if p == nil {
		return
	}
	var req api.ActiveRequest
	if !decode(w, r, &req) {
		return
	}
	p.Gate().Set(req.Active)
	respondJSON(w, http.StatusOK, api.ActiveReply{Active: p.Gate().Active()})
}
