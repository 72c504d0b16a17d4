package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"chatroute/internal/provider"
	"chatroute/internal/routestate"
	"chatroute/internal/routing"
	"chatroute/pkg/logger"
)

// RouteResponse describes the effective route of one conversation.
type RouteResponse struct {
	ConversationID string            `json:"conversationId"`
	Override       *routestate.State `json:"override"`
	Plan           []provider.Target `json:"plan"`
}

// RoutesHandler serves GET /api/v1/routes/{conversationId}.
func RoutesHandler(cfg ConfigSource, routes routestate.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["conversationId"]

		doc, err := cfg.ReadConfig()
		if err != nil {
			clog := logger.Component("gateway")
			clog.Error().Err(err).Msg("read config document")
			SendError(w, http.StatusInternalServerError, ErrCodeConfigError, "configuration unavailable")
			return
		}
		state, err := routestate.Lookup(r.Context(), routes, id)
		if err != nil {
			SendError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
			return
		}

		SendJSON(w, http.StatusOK, RouteResponse{
			ConversationID: id,
			Override:       state,
			Plan:           routing.Plan(doc.Routing, state, nil, false),
		})
	}
}
