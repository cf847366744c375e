package protocol

import (
	"github.com/comunidad-segura/realtime-api/internal/models"
)

// 送信フレームの種類
const (
	TypeJoined             = "joined"
	TypeUserJoined         = "user_joined"
	TypeUserLeft           = "user_left"
	TypeNewMessage         = "new_message"
	TypeNewLocation        = "new_location"
	TypeEmergencyAlert     = "emergency_alert"
	TypeEmergencyConfirmed = "emergency_confirmed"
	TypeUserTyping         = "user_typing"
	TypePong               = "pong"
	TypeError              = "error"
)

// クライアントに返すエラーメッセージ
const (
	MsgRoomRequired    = "grupoId requerido"
	MsgRoomNotFound    = "Grupo no encontrado"
	MsgRoomSuspended   = "Grupo suspendido"
	MsgNotMember       = "No eres miembro de este grupo"
	MsgJoinFirst       = "Debe unirse a un grupo primero"
	MsgContentRequired = "Contenido requerido"
	MsgCoordsRequired  = "Coordenadas requeridas"
	MsgMessageFailed   = "Error al guardar el mensaje"
	MsgEmergencyFailed = "Error al registrar la emergencia"
	MsgInternal        = "Error interno"
)

// ErrorFrame はリクエスト元だけに返すエラーです
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PresenceFrame は参加・退出・入力中の通知です
type PresenceFrame struct {
	Type   string `json:"type"`
	UserID string `json:"userId"`
	RoomID string `json:"grupoId"`
}

// JoinedFrame は参加完了を本人に知らせます
type JoinedFrame struct {
	Type   string `json:"type"`
	RoomID string `json:"grupoId"`
}

// NewMessageFrame は保存済みメッセージの配信です（new_message / new_location）
type NewMessageFrame struct {
	Type         string           `json:"type"`
	Message      models.ChatEvent `json:"mensaje"`
	SenderName   string           `json:"remitenteNombre"`
	SenderAvatar string           `json:"remitenteAvatar,omitempty"`
}

// EmergencyAlertFrame は緊急グループへの通報配信です
type EmergencyAlertFrame struct {
	Type        string                `json:"type"`
	Emergency   models.EmergencyEvent `json:"emergencia"`
	SenderName  string                `json:"remitenteNombre"`
	SenderPhone string                `json:"remitenteTelefono,omitempty"`
}

// EmergencyConfirmedFrame は通報者への確認応答です
type EmergencyConfirmedFrame struct {
	Type          string                `json:"type"`
	Emergency     models.EmergencyEvent `json:"emergencia"`
	RoomsNotified int                   `json:"gruposNotificados"`
}

// PongFrame はpingへの応答です
type PongFrame struct {
	Type string `json:"type"`
}

func errorFrame(msg string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Message: msg}
}

func presence(typ, userID, roomID string) PresenceFrame {
	return PresenceFrame{Type: typ, UserID: userID, RoomID: roomID}
}
