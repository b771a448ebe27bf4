package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/substratehq/substrate/call"
	"github.com/substratehq/substrate/metrics"
	"github.com/substratehq/substrate/storage"
)

// invokeRequest is the body of POST /v1/invoke/{name}. Args are
// positional; a trailing dictionary carries named options. A non-empty
// delay schedules the invocation instead of running it inline.
type invokeRequest struct {
	Args  []interface{} `json:"args"`
	Delay string        `json:"delay,omitempty"`
}

// V1Invoke handles POST /v1/invoke/* requests
func V1Invoke(executor *call.Executor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		name := strings.Trim(chi.URLParam(r, "*"), "/")
		if name == "" {
			SendErrorResponse(w, logger, fmt.Errorf("%w: missing procedure name", storage.ErrInvalidArgument), http.StatusBadRequest)
			return
		}

		var req invokeRequest
		if r.Body != nil && r.ContentLength != 0 {
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				SendErrorResponse(w, logger, fmt.Errorf("%w: malformed request body", storage.ErrInvalidArgument), http.StatusBadRequest)
				return
			}
		}

		if req.Delay != "" {
			delay, err := time.ParseDuration(req.Delay)
			if err != nil {
				SendErrorResponse(w, logger, fmt.Errorf("%w: bad delay %q", storage.ErrInvalidArgument, req.Delay), http.StatusBadRequest)
				return
			}
			id, err := executor.ExecuteDelayed(r.Context(), name, req.Args, delay)
			if err != nil {
				metrics.ProcedureCallsTotal.WithLabelValues(name, invokeStatus(err)).Inc()
				SendErrorResponse(w, logger, err, http.StatusInternalServerError)
				return
			}
			metrics.DelayedCallsScheduledTotal.Inc()
			w.WriteHeader(http.StatusAccepted)
			SendJSONResponse(w, map[string]interface{}{"contextId": id})
			return
		}

		result, err := executor.Execute(r.Context(), name, req.Args)
		metrics.ProcedureCallsTotal.WithLabelValues(name, invokeStatus(err)).Inc()
		metrics.ProcedureCallDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			SendErrorResponse(w, logger, err, http.StatusInternalServerError)
			return
		}
		SendJSONResponse(w, map[string]interface{}{"result": result})
	}
}

func invokeStatus(err error) string {
	switch {
	case err == nil:
		return "success"
	case call.IsDenied(err):
		return "denied"
	default:
		return "failure"
	}
}
