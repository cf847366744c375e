// Package protocol はWebSocketのフレームを解釈し、状態遷移に従って処理します
package protocol

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/comunidad-segura/realtime-api/internal/models"
)

// 受信フレームの種類
const (
	TypeJoin       = "join"
	TypeLeave      = "leave"
	TypeMessage    = "message"
	TypeMultimedia = "multimedia"
	TypeLocation   = "location"
	TypeEmergency  = "emergency"
	TypeTyping     = "typing"
	TypePing       = "ping"
)

var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownFrame   = errors.New("unknown frame type")
)

// Frame は受信フレームの閉じた直和型です
// 境界で一度だけデコードされ、以降の処理は型ごとの固定された形を受け取ります
type Frame interface {
	Type() string
	sealed()
}

// JoinFrame はグループへの参加要求です
type JoinFrame struct {
	RoomID string
}

// LeaveFrame は現在のグループからの退出要求です
type LeaveFrame struct{}

// MessageFrame はテキストまたはメディアのメッセージです
// クライアントが送ったremitenteId・grupoId・idは読み取りません
type MessageFrame struct {
	Multimedia bool
	Body       string
	FileURL    string
	Kind       models.ContentKind
	Photo      *models.PhotoMetadata
}

// LocationFrame は位置情報の共有です
type LocationFrame struct {
	Latitude  *float64
	Longitude *float64
	Body      string
}

// EmergencyFrame は緊急通報です
type EmergencyFrame struct {
	Kind        models.EmergencyKind
	Body        string
	Latitude    *float64
	Longitude   *float64
	TargetRooms []string // 空の場合は全緊急グループ
}

// TypingFrame は入力中通知です
type TypingFrame struct{}

// PingFrame はアプリケーションレベルの死活確認です
type PingFrame struct{}

func (JoinFrame) Type() string  { return TypeJoin }
func (LeaveFrame) Type() string { return TypeLeave }
func (f MessageFrame) Type() string {
	if f.Multimedia {
		return TypeMultimedia
	}
	return TypeMessage
}
func (LocationFrame) Type() string  { return TypeLocation }
func (EmergencyFrame) Type() string { return TypeEmergency }
func (TypingFrame) Type() string    { return TypeTyping }
func (PingFrame) Type() string      { return TypePing }

func (JoinFrame) sealed()      {}
func (LeaveFrame) sealed()     {}
func (MessageFrame) sealed()   {}
func (LocationFrame) sealed()  {}
func (EmergencyFrame) sealed() {}
func (TypingFrame) sealed()    {}
func (PingFrame) sealed()      {}

// inboundFrame はワイヤ上のフラットなJSONです
type inboundFrame struct {
	Type           string          `json:"type"`
	GrupoID        string          `json:"grupoId"`
	RoomID         string          `json:"roomId"`
	Contenido      string          `json:"contenido"`
	ArchivoURL     string          `json:"archivoUrl"`
	TipoContenido  string          `json:"tipoContenido"`
	MetadatosFoto  json.RawMessage `json:"metadatosFoto"`
	Latitud        coord           `json:"latitud"`
	Longitud       coord           `json:"longitud"`
	TipoEmergencia string          `json:"tipoEmergencia"`
	GruposDestino  []string        `json:"gruposDestino"`
}

// Decode は受信データを型付きのFrameに変換します
// JSONとして不正な場合はErrMalformedFrame、未知の種類はErrUnknownFrameを返します
func Decode(data []byte) (Frame, error) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, errors.Join(ErrMalformedFrame, err)
	}

	switch in.Type {
	case TypeJoin:
		room := normalizeID(in.GrupoID)
		if room == "" {
			room = normalizeID(in.RoomID)
		}
		return JoinFrame{RoomID: room}, nil
	case TypeLeave:
		return LeaveFrame{}, nil
	case TypeMessage, TypeMultimedia:
		fileURL := strings.TrimSpace(in.ArchivoURL)
		return MessageFrame{
			Multimedia: in.Type == TypeMultimedia,
			Body:       in.Contenido,
			FileURL:    fileURL,
			Kind:       contentKind(in.TipoContenido, fileURL != ""),
			Photo:      decodePhoto(in.MetadatosFoto),
		}, nil
	case TypeLocation:
		return LocationFrame{
			Latitude:  in.Latitud.latitude(),
			Longitude: in.Longitud.longitude(),
			Body:      in.Contenido,
		}, nil
	case TypeEmergency:
		return EmergencyFrame{
			Kind:        models.ParseEmergencyKind(strings.ToLower(strings.TrimSpace(in.TipoEmergencia))),
			Body:        in.Contenido,
			Latitude:    in.Latitud.latitude(),
			Longitude:   in.Longitud.longitude(),
			TargetRooms: normalizeIDs(in.GruposDestino),
		}, nil
	case TypeTyping:
		return TypingFrame{}, nil
	case TypePing:
		return PingFrame{}, nil
	default:
		return nil, ErrUnknownFrame
	}
}

var kindAliases = map[string]models.ContentKind{
	"text":      models.KindText,
	"texto":     models.KindText,
	"image":     models.KindImage,
	"imagen":    models.KindImage,
	"audio":     models.KindAudio,
	"video":     models.KindVideo,
	"document":  models.KindDocument,
	"documento": models.KindDocument,
}

// contentKind はファイル参照の有無と宣言された種類から種類を決めます
// ファイルがあるのにメディア種別でない場合はdocumentになります
func contentKind(declared string, hasFile bool) models.ContentKind {
	k := kindAliases[strings.ToLower(strings.TrimSpace(declared))]
	if !hasFile {
		return models.KindText
	}
	if k.IsMedia() {
		return k
	}
	return models.KindDocument
}

// decodePhoto は撮影メタデータを読み取ります。形式が不正な場合は無視します
func decodePhoto(raw json.RawMessage) *models.PhotoMetadata {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var p models.PhotoMetadata
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil
	}
	if p.Latitude != nil && !validCoord(*p.Latitude, 90) {
		p.Latitude = nil
	}
	if p.Longitude != nil && !validCoord(*p.Longitude, 180) {
		p.Longitude = nil
	}
	return &p
}

// coord は数値または数値文字列の座標を受け付けます
// 解釈できない値はエラーにせず未設定として扱います
type coord struct {
	v *float64
}

func (c *coord) UnmarshalJSON(b []byte) error {
	var f float64
	if err := json.Unmarshal(b, &f); err == nil {
		c.v = &f
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			c.v = &f
		}
	}
	return nil
}

func (c coord) latitude() *float64  { return c.within(90) }
func (c coord) longitude() *float64 { return c.within(180) }

func (c coord) within(limit float64) *float64 {
	if c.v == nil || !validCoord(*c.v, limit) {
		return nil
	}
	v := *c.v
	return &v
}

func validCoord(v, limit float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= -limit && v <= limit
}
