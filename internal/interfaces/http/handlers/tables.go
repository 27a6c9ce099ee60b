package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sawpanic/perpboard/internal/exclusion"
	httpContracts "github.com/sawpanic/perpboard/internal/http"
	"github.com/sawpanic/perpboard/internal/market"
	"github.com/sawpanic/perpboard/internal/store"
)

func (h *Handlers) timeframe(w http.ResponseWriter, r *http.Request) (market.Timeframe, bool) {
	tf, err := market.ParseTimeframe(mux.Vars(r)["timeframe"])
	if err != nil {
		h.writeError(w, r, http.StatusBadRequest, "invalid_timeframe", err.Error())
		return "", false
	}
	return tf, true
}

// storeError maps a store read failure to a response and reports whether it wrote one
func (h *Handlers) storeError(w http.ResponseWriter, r *http.Request, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, store.ErrNotPopulated):
		h.writeLoading(w)
	default:
		h.writeError(w, r, http.StatusInternalServerError, "store_error", err.Error())
	}
	return true
}

// Movers handles GET /v1/movers/{timeframe}
func (h *Handlers) Movers(w http.ResponseWriter, r *http.Request) {
	tf, ok := h.timeframe(w, r)
	if !ok {
		return
	}
	table, updated, err := h.store.Movers(tf)
	if h.storeError(w, r, err) {
		return
	}
	h.writeJSON(w, http.StatusOK, httpContracts.MoversResponse{
		Timeframe:  tf.String(),
		LastUpdate: updated,
		Sampled:    table.Sampled,
		Gainers:    table.Gainers,
		Losers:     table.Losers,
	})
}

// Volume handles GET /v1/volume/{timeframe}
func (h *Handlers) Volume(w http.ResponseWriter, r *http.Request) {
	tf, ok := h.timeframe(w, r)
	if !ok {
		return
	}
	sec, err := h.store.VolumeSection()
	if h.storeError(w, r, err) {
		return
	}
	table, ok := sec.Tables[tf]
	if !ok {
		h.writeLoading(w)
		return
	}
	h.writeJSON(w, http.StatusOK, httpContracts.VolumeResponse{
		Timeframe:    tf.String(),
		LastUpdate:   sec.LastUpdate,
		Sampled:      table.Sampled,
		Gaining:      table.Gaining,
		Losing:       table.Losing,
		Excluded:     sec.Excluded,
		ExcludedRows: table.Excluded,
	})
}

// Funding handles GET /v1/funding
func (h *Handlers) Funding(w http.ResponseWriter, r *http.Request) {
	sec, err := h.store.Funding()
	if h.storeError(w, r, err) {
		return
	}
	h.writeJSON(w, http.StatusOK, httpContracts.FundingResponse{
		LastUpdate: sec.LastUpdate,
		Positive:   sec.Positive,
		Negative:   sec.Negative,
	})
}

// Exclusions handles GET /v1/exclusions
func (h *Handlers) Exclusions(w http.ResponseWriter, r *http.Request) {
	if h.exclusion == nil {
		h.writeJSON(w, http.StatusOK, httpContracts.ExclusionsResponse{
			Excluded: []string{},
			Counts:   map[string]int{},
			Records:  []exclusion.Record{},
		})
		return
	}
	st := h.exclusion.Snapshot()
	h.writeJSON(w, http.StatusOK, httpContracts.ExclusionsResponse{
		Excluded:  st.Excluded,
		Counts:    st.Counts,
		Records:   st.Records,
		UpdatedAt: st.UpdatedAt,
	})
}
