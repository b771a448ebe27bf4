package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/substratehq/substrate/call"
	"github.com/substratehq/substrate/storage"
)

var watchUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// contextSnapshot is the wire form of a call context's state.
func contextSnapshot(cc *call.Context) map[string]interface{} {
	snap := map[string]interface{}{
		"id":        cc.ID(),
		"procedure": cc.Procedure(),
		"source":    cc.Source(),
		"state":     cc.State().String(),
		"progress":  cc.Progress(),
		"log":       cc.LogLines(),
		"created":   cc.Created().UTC().Format(time.RFC3339Nano),
		"duration":  cc.Duration().Seconds(),
	}
	if u := cc.User(); u != nil {
		snap["user"] = u.ID
	}
	if p := cc.Parent(); p != nil {
		snap["parent"] = p.ID()
	}
	return snap
}

// V1ListCalls handles GET /v1/calls requests, listing live contexts.
func V1ListCalls(executor *call.Executor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := executor.ActiveContexts()
		out := make([]interface{}, 0, len(active))
		for _, cc := range active {
			out = append(out, contextSnapshot(cc))
		}
		SendJSONResponse(w, map[string]interface{}{"calls": out})
	}
}

// V1GetCall handles GET /v1/calls/{id} requests
func V1GetCall(executor *call.Executor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		cc, ok := executor.Trace(id)
		if !ok {
			SendErrorResponse(w, logger, fmt.Errorf("%w: context %s", storage.ErrNotFound, id), http.StatusNotFound)
			return
		}
		SendJSONResponse(w, contextSnapshot(cc))
	}
}

// V1InterruptCall handles POST /v1/calls/{id}/interrupt requests
func V1InterruptCall(executor *call.Executor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := executor.Interrupt(id); err != nil {
			SendErrorResponse(w, logger, err, http.StatusNotFound)
			return
		}
		logger.Info("Call context interrupted", zap.String("context", id))
		w.WriteHeader(http.StatusNoContent)
	}
}

// V1WatchCall handles GET /v1/calls/{id}/watch websocket requests,
// streaming context snapshots until the invocation leaves the running
// state or the client goes away.
func V1WatchCall(executor *call.Executor, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		cc, ok := executor.Trace(id)
		if !ok {
			SendErrorResponse(w, logger, fmt.Errorf("%w: context %s", storage.ErrNotFound, id), http.StatusNotFound)
			return
		}

		conn, err := watchUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("Failed to upgrade websocket", zap.Error(err))
			return
		}
		defer conn.Close()

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		for {
			snap := contextSnapshot(cc)
			if err := conn.WriteJSON(snap); err != nil {
				return
			}
			if cc.State() != call.StateRunning {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "finished"),
					time.Now().Add(5*time.Second))
				return
			}
			select {
			case <-ticker.C:
			case <-r.Context().Done():
				return
			}
		}
	}
}
