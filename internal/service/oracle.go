// Package service はビジネスロジックを担当します
// グループ所属の判定とメッセージ保存を提供します
package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/comunidad-segura/realtime-api/internal/repo"
)

// MembershipOracle はグループの存在・状態と所属を判定します
// 参照のみで、状態を変更することはありません
type MembershipOracle struct {
	rooms repo.RoomRepo
	ttl   time.Duration    // 緊急グループ一覧のキャッシュ期間（0でキャッシュなし）
	now   func() time.Time // テスト用に差し替え可能

	mu         sync.RWMutex
	emergency  []string
	fetchedAt  time.Time
	refreshing singleflight.Group
}

// NewMembershipOracle は新しいMembershipOracleを作成します
func NewMembershipOracle(r repo.RoomRepo, emergencyTTL time.Duration) *MembershipOracle {
	return &MembershipOracle{rooms: r, ttl: emergencyTTL, now: time.Now}
}

// RoomExists はグループが存在するかを返します
func (o *MembershipOracle) RoomExists(ctx context.Context, roomId string) (bool, error) {
	_, ok, err := o.rooms.GetRoom(ctx, roomId)
	return ok, err
}

// IsActiveRoom はグループが存在し、かつ停止されていないかを返します
func (o *MembershipOracle) IsActiveRoom(ctx context.Context, roomId string) (bool, error) {
	r, ok, err := o.rooms.GetRoom(ctx, roomId)
	if err != nil || !ok {
		return false, err
	}
	return r.Active(), nil
}

// IsActiveMember はユーザーがグループの有効なメンバーかを返します
func (o *MembershipOracle) IsActiveMember(ctx context.Context, roomId, userId string) (bool, error) {
	return o.rooms.IsMember(ctx, roomId, userId)
}

// CheckJoin は参加の前提条件をまとめて判定します
// 存在しない → ErrRoomNotFound、停止中 → ErrRoomSuspended、非メンバー → ErrNotMember
func (o *MembershipOracle) CheckJoin(ctx context.Context, roomId, userId string) error {
	r, ok, err := o.rooms.GetRoom(ctx, roomId)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRoomNotFound
	}
	if !r.Active() {
		return ErrRoomSuspended
	}
	member, err := o.rooms.IsMember(ctx, roomId, userId)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotMember
	}
	return nil
}

// EmergencyRoomIDs は有効な緊急グループのID一覧を返します
// 構成はほとんど変わらないため、ttlの間はキャッシュを返します
func (o *MembershipOracle) EmergencyRoomIDs(ctx context.Context) ([]string, error) {
	if ids, ok := o.cachedEmergency(); ok {
		return ids, nil
	}

	v, err, _ := o.refreshing.Do("emergency", func() (any, error) {
		rooms, err := o.rooms.ListEmergencyRooms(ctx)
		if err != nil {
			return nil, err
		}
		ids := make([]string, 0, len(rooms))
		for _, r := range rooms {
			if r.Active() {
				ids = append(ids, r.ID)
			}
		}
		o.mu.Lock()
		o.emergency = ids
		o.fetchedAt = o.now()
		o.mu.Unlock()
		return ids, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneIDs(v.([]string)), nil
}

// InvalidateEmergencyRooms はキャッシュを破棄します
func (o *MembershipOracle) InvalidateEmergencyRooms() {
	o.mu.Lock()
	o.emergency = nil
	o.fetchedAt = time.Time{}
	o.mu.Unlock()
}

func (o *MembershipOracle) cachedEmergency() ([]string, bool) {
	if o.ttl <= 0 {
		return nil, false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.emergency == nil || o.now().Sub(o.fetchedAt) >= o.ttl {
		return nil, false
	}
	return cloneIDs(o.emergency), true
}

func cloneIDs(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}
