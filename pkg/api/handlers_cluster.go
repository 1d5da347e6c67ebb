package api

import (
	"net/http"

	"github.com/dd0wney/cluso-syncstore/pkg/couch"
)

func (s *Server) getMaster(w http.ResponseWriter, r *http.Request) {
	master := s.store.GetMaster()
	s.respondJSON(w, http.StatusOK, MasterResponse{
		Master:     couch.Redact(master),
		Standalone: master == "",
	})
}

func (s *Server) getReplication(w http.ResponseWriter, r *http.Request) {
	jobs, healthy := s.store.Replication(r.Context())
	s.respondJSON(w, http.StatusOK, ReplicationResponse{
		Master:  couch.Redact(s.store.GetMaster()),
		Healthy: healthy,
		Jobs:    jobs,
	})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.respondStoreError(w, r, "stats", err)
		return
	}
	s.respondJSON(w, http.StatusOK, stats)
}
