package service

import (
	"context"
	"time"

	"github.com/comunidad-segura/realtime-api/internal/models"
	"github.com/comunidad-segura/realtime-api/internal/repo"
)

// MessageGateway はメッセージと緊急通報を保存し、採番済みの正規レコードを返します
type MessageGateway struct {
	events  repo.EventRepo
	timeout time.Duration // 保存処理のタイムアウト（0で無制限）
}

// NewMessageGateway は新しいMessageGatewayを作成します
func NewMessageGateway(events repo.EventRepo, timeout time.Duration) *MessageGateway {
	return &MessageGateway{events: events, timeout: timeout}
}

// Store はメッセージを保存します
// IDと日時はストア側で採番され、クライアント指定の値は上書きされます
// 失敗・タイムアウトは *PersistenceError として返ります
func (g *MessageGateway) Store(ctx context.Context, draft models.ChatEvent) (models.ChatEvent, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	ev := draft
	ev.ID = ""
	if err := g.events.CreateEvent(ctx, &ev); err != nil {
		return models.ChatEvent{}, &PersistenceError{Op: "store event", Err: err}
	}
	return ev, nil
}

// StoreEmergency は緊急通報を保存します
func (g *MessageGateway) StoreEmergency(ctx context.Context, draft models.EmergencyEvent) (models.EmergencyEvent, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	ev := draft
	ev.ID = ""
	if err := g.events.CreateEmergencyEvent(ctx, &ev); err != nil {
		return models.EmergencyEvent{}, &PersistenceError{Op: "store emergency", Err: err}
	}
	return ev, nil
}

func (g *MessageGateway) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}
