// Package models はアプリケーションで使用するデータ構造を定義します
// グループ・メンバーシップ・ユーザーは外部ストアが所有し、このサービスは参照のみ行います
package models

import (
	"time"
)

// メンバーシップの状態
const (
	MembershipActive    = "active"
	MembershipSuspended = "suspended"
)

// グループの状態
const (
	RoomActive    = "active"
	RoomSuspended = "suspended"
)

// Room はチャットグループを表します
type Room struct {
	ID            string     `gorm:"primaryKey;size:64" json:"id"`                     // グループID
	Name          string     `gorm:"size:120" json:"nombre"`                           // 表示名
	Status        string     `gorm:"size:16;not null;default:active" json:"estado"`    // active / suspended
	IsEmergency   bool       `gorm:"not null;default:false;index" json:"esEmergencia"` // 緊急通報を受け取るグループか
	MessageCount  int64      `gorm:"not null;default:0" json:"totalMensajes"`          // 保存済みメッセージ数
	LastMessageAt *time.Time `json:"ultimoMensaje,omitempty"`                          // 最終メッセージ日時
	CreatedAt     time.Time  `json:"createdAt"`
}

// TableName はテーブル名を返します
func (Room) TableName() string { return "grupos" }

// Active はグループが利用可能かを返します
func (r Room) Active() bool { return r.Status == RoomActive }

// Membership はグループとユーザーの永続的な所属関係です
type Membership struct {
	RoomID string `gorm:"primaryKey;size:64" json:"grupoId"`
	UserID string `gorm:"primaryKey;size:64" json:"userId"`
	Status string `gorm:"size:16;not null;default:active" json:"estado"`
}

func (Membership) TableName() string { return "grupo_miembros" }

// User はブロードキャスト時の表示用プロフィールです
type User struct {
	ID        string `gorm:"primaryKey;size:64" json:"id"`
	Name      string `gorm:"size:120" json:"nombre"`
	AvatarURL string `gorm:"size:512" json:"avatar,omitempty"`
	Phone     string `gorm:"size:32" json:"telefono,omitempty"`
}

func (User) TableName() string { return "usuarios" }

// UserDisplay は送信者情報の表示用サブセットです
type UserDisplay struct {
	Name      string
	AvatarURL string
	Phone     string
}
