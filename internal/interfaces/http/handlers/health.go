package handlers

import (
	"net/http"
	"time"

	httpContracts "github.com/sawpanic/perpboard/internal/http"
)

// Health handles GET /health. It answers 200 once every section has been
// committed and 503 with the same body while any is still loading.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	st := h.store.Status()

	resp := httpContracts.HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Version:   h.version,
		Sections: map[string]*time.Time{
			"movers":  st.Movers,
			"volume":  st.Volume,
			"funding": st.Funding,
		},
	}

	if len(h.breakers) > 0 {
		resp.Circuits = make(map[string]httpContracts.CircuitHealth, len(h.breakers))
		for _, b := range h.breakers {
			s := b.Stats()
			resp.Circuits[s.Name] = httpContracts.CircuitHealth{
				State:               s.State,
				Requests:            s.Requests,
				TotalFailures:       s.TotalFailures,
				ConsecutiveFailures: s.ConsecutiveFailures,
			}
		}
	}

	status := http.StatusOK
	if !st.Ready() {
		resp.Status = "loading"
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}
