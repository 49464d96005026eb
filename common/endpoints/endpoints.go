// Package endpoints serves the operational http surface: a health check and
// the metrics snapshot. Kept separate from the api facade so binaries can
// expose metrics on an internal port.
package endpoints

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/kilnproject/kiln/common/stats"
)

func NewAdminServer(addr string, stat stats.StatsReceiver) *AdminServer {
	return &AdminServer{Addr: addr, Stats: stat}
}

type AdminServer struct {
	Addr  string
	Stats stats.StatsReceiver
}

func (s *AdminServer) Serve() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", helpHandler)
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/admin/metrics.json", s.statsHandler)
	log.Info("Serving http & stats on ", s.Addr)
	return http.ListenAndServe(s.Addr, mux)
}

func helpHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Common paths: '/health', '/admin/metrics.json'", 501)
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "ok")
}

func (s *AdminServer) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	pretty := r.URL.Query().Get("pretty") == "true"
	str := s.Stats.Render(pretty)
	if _, err := io.Copy(w, bytes.NewBuffer(str)); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
}
