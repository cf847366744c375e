package hub

import (
	"encoding/json"
	"log/slog"

	"github.com/comunidad-segura/realtime-api/internal/metrics"
)

// Broadcaster はグループ単位の配信を行います
// 配信はベストエフォートで、個々の送信失敗はログに残して他の宛先への配信を続けます
type Broadcaster struct {
	reg     *Registry
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewBroadcaster は新しいBroadcasterを作成します
func NewBroadcaster(reg *Registry, logger *slog.Logger, m *metrics.Metrics) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{reg: reg, logger: logger, metrics: m}
}

// Deliver はpayloadを一度だけシリアライズし、グループの参加者全員に送信します
// exclude が非nilの場合、その接続には送信しません。送信できた件数を返します
func (b *Broadcaster) Deliver(roomID string, payload any, exclude Conn) int {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("failed to marshal broadcast payload", "roomId", roomID, "error", err)
		return 0
	}
	return b.DeliverRaw(roomID, data, exclude)
}

// DeliverRaw はシリアライズ済みのデータを配信します
func (b *Broadcaster) DeliverRaw(roomID string, data []byte, exclude Conn) int {
	excludeID := ""
	if exclude != nil {
		excludeID = exclude.ID()
	}

	// スナップショットを取ってからロック外で送信する
	sent := 0
	for _, c := range b.reg.MembersOf(roomID) {
		if c.ID() == excludeID {
			continue
		}
		if err := c.Send(data); err != nil {
			b.logger.Warn("failed to deliver to connection", "roomId", roomID, "connId", c.ID(), "error", err)
			b.metrics.Delivered(false)
			continue
		}
		b.metrics.Delivered(true)
		sent++
	}
	return sent
}

// FanOut は複数グループに同じpayloadを配信します
// グループ同士は独立しており、一方の失敗が他方の配信を妨げることはありません
func (b *Broadcaster) FanOut(roomIDs []string, payload any) int {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("failed to marshal fan-out payload", "rooms", len(roomIDs), "error", err)
		return 0
	}
	sent := 0
	for _, id := range roomIDs {
		sent += b.DeliverRaw(id, data, nil)
	}
	return sent
}

// SendTo は単一の接続に送信します（エラー応答・確認応答用）
func (b *Broadcaster) SendTo(conn Conn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if err := conn.Send(data); err != nil {
		b.logger.Warn("failed to reply to connection", "connId", conn.ID(), "error", err)
		return err
	}
	return nil
}
