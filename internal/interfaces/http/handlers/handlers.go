package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/perpboard/internal/exclusion"
	httpContracts "github.com/sawpanic/perpboard/internal/http"
	"github.com/sawpanic/perpboard/internal/net/circuit"
	"github.com/sawpanic/perpboard/internal/store"
)

// LoadingMessage is returned while a section has not been populated
const LoadingMessage = "data is still loading, please wait"

type ctxKey int

const requestIDKey ctxKey = iota

// WithRequestID stores the request ID on ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID stored on ctx, or "unknown"
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// Handlers manages all HTTP endpoint handlers
type Handlers struct {
	store     *store.MarketDataStore
	exclusion *exclusion.Engine
	breakers  []*circuit.Breaker
	version   string
	started   time.Time
}

// Options wires the handler dependencies. Exclusion and Breakers may be nil.
type Options struct {
	Store     *store.MarketDataStore
	Exclusion *exclusion.Engine
	Breakers  []*circuit.Breaker
	Version   string
}

// NewHandlers creates a new handlers instance
func NewHandlers(opts Options) *Handlers {
	return &Handlers{
		store:     opts.Store,
		exclusion: opts.Exclusion,
		breakers:  opts.Breakers,
		version:   opts.Version,
		started:   time.Now(),
	}
}

// writeJSON writes JSON response with proper error handling
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Str("component", "http").Msg("Response encoding failed")
	}
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, httpContracts.ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: RequestID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

func (h *Handlers) writeLoading(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusServiceUnavailable, httpContracts.LoadingResponse{
		Status:  "loading",
		Message: LoadingMessage,
	})
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}
