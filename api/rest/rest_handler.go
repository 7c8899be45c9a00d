package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zlnvch/artstudio/models"
	"github.com/zlnvch/artstudio/service"
	"github.com/zlnvch/artstudio/store"
)

type Handler struct {
	Service *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{Service: svc}
}

type presenceResponse struct {
	ProjectId string               `json:"projectId"`
	Members   []service.RoomMember `json:"members"`
}

// HandlePresence serves GET /projects/{projectId}/presence from the live in-memory room.
func (h *Handler) HandlePresence(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	projectId := r.PathValue("projectId")
	members, err := h.Service.Presence(projectId)
	if err != nil {
		http.Error(w, "invalid project id", http.StatusBadRequest)
		return
	}

	h.sendResponse(w, presenceResponse{ProjectId: projectId, Members: members})
}

type sessionMemberResponse struct {
	ConnectionId string    `json:"connectionId"`
	UserId       string    `json:"userId"`
	Color        string    `json:"color"`
	JoinedAt     time.Time `json:"joinedAt"`
}

type sessionResponse struct {
	SessionId   string                  `json:"sessionId"`
	ProjectId   string                  `json:"projectId"`
	StartedAt   time.Time               `json:"startedAt"`
	IsActive    bool                    `json:"isActive"`
	ActiveUsers []sessionMemberResponse `json:"activeUsers"`
}

// HandleSession serves GET /projects/{projectId}/session from the session store.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authenticate(w, r); !ok {
		return
	}

	projectId := r.PathValue("projectId")
	session, err := h.Service.ActiveSession(r.Context(), projectId)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrItemNotFound):
			http.Error(w, "no active session", http.StatusNotFound)
		case errors.Is(err, service.ErrInvalidPayload):
			http.Error(w, "invalid project id", http.StatusBadRequest)
		default:
			log.WithError(err).WithField("project_id", projectId).Error("failed to read active session")
			http.Error(w, "failed to read session", http.StatusInternalServerError)
		}
		return
	}

	h.sendResponse(w, toSessionResponse(session))
}

func toSessionResponse(session models.Session) sessionResponse {
	members := make([]sessionMemberResponse, 0, len(session.ActiveUsers))
	for _, member := range session.ActiveUsers {
		members = append(members, sessionMemberResponse{
			ConnectionId: member.ConnectionId,
			UserId:       member.UserId,
			Color:        member.Color,
			JoinedAt:     member.JoinedAt,
		})
	}
	return sessionResponse{
		SessionId:   session.Id,
		ProjectId:   session.ProjectId,
		StartedAt:   session.StartedAt,
		IsActive:    session.IsActive,
		ActiveUsers: members,
	}
}

func (h *Handler) authenticate(w http.ResponseWriter, r *http.Request) (models.User, bool) {
	token := h.getTokenFromAuthHeader(r)
	user, err := h.Service.AuthenticateToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return models.User{}, false
	}
	return user, true
}

func (h *Handler) getTokenFromAuthHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(authHeader, "Bearer "); ok {
		return token
	}
	return ""
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.WithError(err).Error("failed to encode response")
	}
}
