package handler

import (
	"net/http"
	"slices"

	gorillaws "github.com/gorilla/websocket"

	"go-auth-service/internal/middleware"
	"go-auth-service/internal/websocket"
	"go-auth-service/pkg/apierror"
)

// AuditStreamHandler pushes auth events to administrators over a websocket.
type AuditStreamHandler struct {
	hub      *websocket.Hub
	upgrader *gorillaws.Upgrader
}

func NewAuditStreamHandler(hub *websocket.Hub, allowedOrigins []string) *AuditStreamHandler {
	return &AuditStreamHandler{
		hub: hub,
		upgrader: &gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

func (h *AuditStreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, apierror.Unauthorized("authentication required"))
		return
	}

	h.hub.Serve(w, r, principal.UserID, h.upgrader)
}
