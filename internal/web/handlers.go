package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/camuig/hype-trader/internal/status"
	"github.com/camuig/hype-trader/internal/storage"
)

// staleIntervals is how many scheduler intervals may pass without a cycle before /healthz fails.
const staleIntervals = 3

type health struct {
	Status     string     `json:"status"`
	LastCycle  *time.Time `json:"last_cycle,omitempty"`
	KillSwitch bool       `json:"kill_switch"`
	Detail     string     `json:"detail,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	report, err := status.Build(r.Context(), s.source, s.mode, 0)
	if err != nil {
		s.logger.Error("build status", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h := health{Status: "ok"}

	cycle, err := s.source.LastCycle(r.Context())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		h.Detail = "no cycles yet"
	case err != nil:
		s.logger.Error("healthz: last cycle", "error", err)
		s.writeJSON(w, http.StatusServiceUnavailable, health{Status: "error", Detail: "storage unavailable"})
		return
	default:
		h.LastCycle = &cycle.StartedAt
		if interval := s.config.Interval(); interval > 0 && s.now().Sub(cycle.StartedAt) > staleIntervals*interval {
			h.Status = "stale"
			h.Detail = "no cycle for " + s.now().Sub(cycle.StartedAt).Round(time.Second).String()
		}
	}

	if st, err := s.source.LoadPortfolioState(r.Context()); err == nil {
		h.KillSwitch = st.KillSwitch
	}

	code := http.StatusOK
	if h.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, h)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", "error", err)
	}
}
