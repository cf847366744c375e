package models

import "time"

// ContentKind はメッセージの種類です
type ContentKind string

const (
	KindText      ContentKind = "text"
	KindImage     ContentKind = "image"
	KindAudio     ContentKind = "audio"
	KindVideo     ContentKind = "video"
	KindDocument  ContentKind = "document"
	KindLocation  ContentKind = "location"
	KindEmergency ContentKind = "emergency"
)

// IsMedia はファイル参照を伴う種類かを返します
func (k ContentKind) IsMedia() bool {
	switch k {
	case KindImage, KindAudio, KindVideo, KindDocument:
		return true
	}
	return false
}

// EmergencyKind は緊急通報の種別です
type EmergencyKind string

const (
	EmergencyPolice  EmergencyKind = "police"
	EmergencyFire    EmergencyKind = "fire"
	EmergencyMedical EmergencyKind = "medical"
	EmergencyPatrol  EmergencyKind = "patrol"
	EmergencyGeneral EmergencyKind = "general"
)

var emergencyAliases = map[string]EmergencyKind{
	"police":     EmergencyPolice,
	"policia":    EmergencyPolice,
	"policía":    EmergencyPolice,
	"fire":       EmergencyFire,
	"bomberos":   EmergencyFire,
	"medical":    EmergencyMedical,
	"medica":     EmergencyMedical,
	"médica":     EmergencyMedical,
	"ambulancia": EmergencyMedical,
	"patrol":     EmergencyPatrol,
	"patrullaje": EmergencyPatrol,
	"serenazgo":  EmergencyPatrol,
	"general":    EmergencyGeneral,
}

// ParseEmergencyKind は種別名（スペイン語の別名を含む）を正規化します
// 空または未知の値は general になります
func ParseEmergencyKind(s string) EmergencyKind {
	if k, ok := emergencyAliases[s]; ok {
		return k
	}
	return EmergencyGeneral
}

// PhotoMetadata は撮影時のメタデータです
type PhotoMetadata struct {
	CapturedAt *time.Time `json:"fechaCaptura,omitempty"`
	Latitude   *float64   `json:"latitud,omitempty"`
	Longitude  *float64   `json:"longitud,omitempty"`
	Watermark  string     `json:"marcaAgua,omitempty"`
}

// ChatEvent は保存・配信されるメッセージです
// ID と CreatedAt はサーバー側で採番されます
type ChatEvent struct {
	ID            string         `gorm:"primaryKey;size:26" json:"id"`
	RoomID        string         `gorm:"size:64;not null;index:idx_mensajes_grupo" json:"grupoId"`
	SenderID      string         `gorm:"size:64;not null" json:"remitenteId"`
	Kind          ContentKind    `gorm:"size:16;not null" json:"tipoContenido"`
	Body          string         `gorm:"type:text" json:"contenido,omitempty"`
	FileURL       string         `gorm:"size:1024" json:"archivoUrl,omitempty"`
	Latitude      *float64       `json:"latitud,omitempty"`
	Longitude     *float64       `json:"longitud,omitempty"`
	PhotoMetadata *PhotoMetadata `gorm:"serializer:json" json:"metadatosFoto,omitempty"`
	CreatedAt     time.Time      `gorm:"index:idx_mensajes_grupo" json:"createdAt"`
}

func (ChatEvent) TableName() string { return "mensajes" }

// EmergencyEvent は緊急通報の記録です
// TargetRooms は送信時点で計算された通知先グループです
type EmergencyEvent struct {
	ID          string        `gorm:"primaryKey;size:26" json:"id"`
	SenderID    string        `gorm:"size:64;not null;index" json:"remitenteId"`
	Kind        EmergencyKind `gorm:"size:16;not null" json:"tipoEmergencia"`
	Body        string        `gorm:"type:text" json:"contenido,omitempty"`
	Latitude    *float64      `json:"latitud,omitempty"`
	Longitude   *float64      `json:"longitud,omitempty"`
	TargetRooms []string      `gorm:"serializer:json" json:"gruposDestino"`
	CreatedAt   time.Time     `json:"createdAt"`
}

func (EmergencyEvent) TableName() string { return "emergencias" }
