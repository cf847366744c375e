// Package repo は外部ストアへのアクセスを抽象化します
// グループ・メンバーシップ・ユーザーは参照のみ、メッセージと緊急通報は追記のみ行います
package repo

import (
	"context"
	"time"

	"github.com/comunidad-segura/realtime-api/internal/models"
)

// RoomRepo はグループとメンバーシップの参照を提供します
type RoomRepo interface {
	GetRoom(ctx context.Context, roomId string) (models.Room, bool, error)
	IsMember(ctx context.Context, roomId, userId string) (bool, error)
	ListEmergencyRooms(ctx context.Context) ([]models.Room, error)
}

// EventRepo はメッセージと緊急通報を永続化します
// CreateEvent はグループのカウンター更新と同一トランザクションで行われます
type EventRepo interface {
	CreateEvent(ctx context.Context, ev *models.ChatEvent) error
	CreateEmergencyEvent(ctx context.Context, ev *models.EmergencyEvent) error
	IncrementRoomCounters(ctx context.Context, roomId string, at time.Time) error
}

// UserRepo は送信者の表示情報を取得します
type UserRepo interface {
	GetUserDisplay(ctx context.Context, userId string) (models.UserDisplay, bool, error)
}

// SessionRepo はセッショントークンとユーザーIDの対応を保持します
type SessionRepo interface {
	GetSession(ctx context.Context, token string) (string, bool, error)
	CreateSession(ctx context.Context, token, userId string) error
	DeleteSession(ctx context.Context, token string) error
}
