package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/comunidad-segura/realtime-api/internal/auth"
	"github.com/comunidad-segura/realtime-api/internal/hub"
	"github.com/comunidad-segura/realtime-api/internal/service"
)

// RoomAccess はグループ参加可否の判定です
type RoomAccess interface {
	CheckJoin(ctx context.Context, roomId, userId string) error
}

// RoomHandler は接続中の参加者など、このプロセスが持つ一時的な状態を公開します
type RoomHandler struct {
	auth   Authenticator
	rooms  RoomAccess
	reg    *hub.Registry
	logger *slog.Logger
}

func NewRoomHandler(a Authenticator, rooms RoomAccess, reg *hub.Registry, logger *slog.Logger) *RoomHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &RoomHandler{auth: a, rooms: rooms, reg: reg, logger: logger}
}

type presenceResponse struct {
	RoomID string   `json:"grupoId"`
	Users  []string `json:"usuarios"`
}

// Presence はグループに現在接続しているユーザーIDを返します
// グループの有効なメンバーのみ参照できます
func (h *RoomHandler) Presence(w http.ResponseWriter, r *http.Request) {
	roomId := normalizeID(chi.URLParam(r, "roomId"))
	if roomId == "" {
		respondError(w, http.StatusBadRequest, "roomId required")
		return
	}
	userId, err := h.auth.Authenticate(r)
	if err != nil {
		if !errors.Is(err, auth.ErrUnauthenticated) {
			h.logger.Error("identity lookup failed", "roomId", roomId, "error", err)
		}
		h.writeServiceError(w, err)
		return
	}
	if err := h.rooms.CheckJoin(r.Context(), roomId, userId); err != nil {
		if !isClientError(err) {
			h.logger.Error("presence check failed", "roomId", roomId, "userId", userId, "error", err)
		}
		h.writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, presenceResponse{RoomID: roomId, Users: h.reg.UsersIn(roomId)})
}

type statsResponse struct {
	Rooms       int `json:"grupos"`
	Connections int `json:"conexiones"`
}

// Stats は参加者のいるグループ数と接続数を返します
func (h *RoomHandler) Stats(w http.ResponseWriter, r *http.Request) {
	rooms, conns := h.reg.Stats()
	respondJSON(w, http.StatusOK, statsResponse{Rooms: rooms, Connections: conns})
}

func (h *RoomHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		respondError(w, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, service.ErrRoomNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrRoomSuspended):
		respondError(w, http.StatusGone, err.Error())
	case errors.Is(err, service.ErrNotMember):
		respondError(w, http.StatusForbidden, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func isClientError(err error) bool {
	return errors.Is(err, service.ErrRoomNotFound) ||
		errors.Is(err, service.ErrRoomSuspended) ||
		errors.Is(err, service.ErrNotMember)
}
