package hub

import (
	"context"
	"log/slog"
	"time"

	"github.com/comunidad-segura/realtime-api/internal/metrics"
)

// Supervisor は一定間隔で接続の死活を確認します
// 1巡回の間に生存信号がなかった接続は閉じてレジストリから削除します
type Supervisor struct {
	reg      *Registry
	interval time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// OnEvict は削除された接続ごとに呼ばれます（退出通知用）
	OnEvict func(Session)
}

// NewSupervisor は新しいSupervisorを作成します
func NewSupervisor(reg *Registry, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{reg: reg, interval: interval, logger: logger, metrics: m}
}

// Run はctxがキャンセルされるまで巡回を続けます
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-ctx.Done():
			return
		}
	}
}

// Sweep は1回分の巡回を行い、削除した接続数を返します
func (s *Supervisor) Sweep() int {
	dead, probe := s.reg.Reap()

	for _, sess := range dead {
		s.logger.Info("evicting dead connection", "connId", sess.Conn.ID(), "userId", sess.UserID, "roomId", sess.Binding.RoomID)
		if err := sess.Conn.Close(); err != nil {
			s.logger.Debug("close after eviction failed", "connId", sess.Conn.ID(), "error", err)
		}
		s.metrics.Evicted()
		if s.OnEvict != nil {
			s.OnEvict(sess)
		}
	}
	for _, c := range probe {
		if err := c.Ping(); err != nil {
			s.logger.Debug("liveness probe failed", "connId", c.ID(), "error", err)
		}
	}
	return len(dead)
}

// Shutdown は全接続を閉じて削除します
func (s *Supervisor) Shutdown() {
	for _, c := range s.reg.All() {
		if _, ok := s.reg.Remove(c); ok {
			_ = c.Close()
		}
	}
}
