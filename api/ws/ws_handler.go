package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/zlnvch/artstudio/service"
)

const (
	subprotocol  = "artstudio-v1"
	eventTimeout = 10 * time.Second
)

type Handler struct {
	Service *service.Service
	Hub     *Hub
}

func NewHandler(svc *service.Service, hub *Hub) *Handler {
	return &Handler{
		Service: svc,
		Hub:     hub,
	}
}

func (h *Handler) NewWsUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return slices.Contains(allowedOrigins, r.Header.Get("Origin"))
		},
		Subprotocols: []string{subprotocol},
	}
}

// tokenFromRequest reads the token from the "artstudio-v1, <token>" subprotocol list, falling
// back to the token query parameter.
func tokenFromRequest(r *http.Request) string {
	protocols := r.Header.Get("Sec-WebSocket-Protocol")
	if protocols != "" {
		protocolsSplit := strings.Split(protocols, ",")
		if len(protocolsSplit) == 2 && strings.TrimSpace(protocolsSplit[0]) == subprotocol {
			return strings.TrimSpace(protocolsSplit[1])
		}
	}
	return r.URL.Query().Get("token")
}

// ServeWS handles websocket requests from the peer.
func (h *Handler) ServeWS(wsUpgrader websocket.Upgrader, w http.ResponseWriter, r *http.Request, shutdownCtx context.Context) {
	token := tokenFromRequest(r)
	if token == "" {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	user, authErr := h.Service.AuthenticateToken(token)

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("failed to upgrade ws connection")
		return
	}

	// Must upgrade the connection in order to be able to send custom close message
	if authErr != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Unauthenticated"),
		)
		conn.Close()
		return
	}

	connectionUUID, err := uuid.NewV4()
	if err != nil {
		log.WithError(err).Error("failed to generate connection id")
		conn.Close()
		return
	}

	client := NewClient(connectionUUID.String(), h.Hub, conn, user, h.HandleWsMessage, h.handleDisconnect)
	if err := h.Hub.Open(client); err != nil {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "Too many connections"),
		)
		conn.Close()
		return
	}

	log.WithFields(log.Fields{"connection_id": client.id, "user_id": user.Id}).Debug("ws connection opened")

	// Start pumps
	go client.ReadPump()
	go client.WritePump(shutdownCtx)
}

// Websocket message envelope
type message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (h *Handler) HandleWsMessage(client *Client, messageType int, messageBytes []byte) {
	if messageType != websocket.TextMessage {
		return
	}

	var msg message
	if err := json.Unmarshal(messageBytes, &msg); err != nil {
		log.WithError(err).WithField("connection_id", client.id).Debug("invalid JSON")
		return
	}

	ctx, cancel := context.WithTimeout(client.ctx, eventTimeout)
	defer cancel()

	err := h.Service.Router.HandleEvent(ctx, client.id, client.user, msg.Type, msg.Data)
	if errors.Is(err, service.ErrIdentityMismatch) {
		log.WithFields(log.Fields{"connection_id": client.id, "user_id": client.user.Id}).Warn("join rejected: user mismatch")
	}
}

func (h *Handler) handleDisconnect(client *Client) {
	h.Service.Router.Disconnect(client.id)
}
