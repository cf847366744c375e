package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/comunidad-segura/realtime-api/internal/hub"
	"github.com/comunidad-segura/realtime-api/internal/models"
	"github.com/comunidad-segura/realtime-api/internal/service"
)

type mockConn struct {
	id       string
	mu       sync.Mutex
	received [][]byte
}

func newMockConn(id string) *mockConn { return &mockConn{id: id} }

func (m *mockConn) ID() string { return m.id }

func (m *mockConn) Send(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, data)
	return nil
}

func (m *mockConn) Ping() error  { return nil }
func (m *mockConn) Close() error { return nil }

// frames は受信したフレームをデコードして返します
func (m *mockConn) frames() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.received))
	for _, raw := range m.received {
		var v map[string]any
		if err := json.Unmarshal(raw, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func (m *mockConn) types() []string {
	var out []string
	for _, f := range m.frames() {
		t, _ := f["type"].(string)
		out = append(out, t)
	}
	return out
}

func (m *mockConn) last() map[string]any {
	f := m.frames()
	if len(f) == 0 {
		return nil
	}
	return f[len(f)-1]
}

func (m *mockConn) reset() {
	m.mu.Lock()
	m.received = nil
	m.mu.Unlock()
}

// fakeRooms はメンバーシップ判定のテスト用実装です
type fakeRooms struct {
	rooms     map[string]string          // ID → 状態
	members   map[string]map[string]bool // グループID → ユーザーID
	emergency []string
	err       error
	emErr     error
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{
		rooms:   make(map[string]string),
		members: make(map[string]map[string]bool),
	}
}

func (f *fakeRooms) addRoom(id, status string, users ...string) {
	f.rooms[id] = status
	m := make(map[string]bool)
	for _, u := range users {
		m[u] = true
	}
	f.members[id] = m
}

func (f *fakeRooms) CheckJoin(_ context.Context, roomId, userId string) error {
	if f.err != nil {
		return f.err
	}
	status, ok := f.rooms[roomId]
	if !ok {
		return service.ErrRoomNotFound
	}
	if status != models.RoomActive {
		return service.ErrRoomSuspended
	}
	if !f.members[roomId][userId] {
		return service.ErrNotMember
	}
	return nil
}

func (f *fakeRooms) EmergencyRoomIDs(context.Context) ([]string, error) {
	if f.emErr != nil {
		return nil, f.emErr
	}
	return append([]string(nil), f.emergency...), nil
}

// fakeEvents は保存されたイベントを記録します
type fakeEvents struct {
	mu        sync.Mutex
	events    []models.ChatEvent
	emergency []models.EmergencyEvent
	err       error
	emergErr  error
	seq       int
	clock     time.Time
}

func (f *fakeEvents) Store(_ context.Context, draft models.ChatEvent) (models.ChatEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.ChatEvent{}, &service.PersistenceError{Op: "store event", Err: f.err}
	}
	f.seq++
	draft.ID = fmt.Sprintf("evt-%d", f.seq)
	draft.CreatedAt = f.clock.Add(time.Duration(f.seq) * time.Second)
	f.events = append(f.events, draft)
	return draft, nil
}

func (f *fakeEvents) StoreEmergency(_ context.Context, draft models.EmergencyEvent) (models.EmergencyEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.emergErr != nil {
		return models.EmergencyEvent{}, &service.PersistenceError{Op: "store emergency", Err: f.emergErr}
	}
	f.seq++
	draft.ID = fmt.Sprintf("emg-%d", f.seq)
	draft.CreatedAt = f.clock
	f.emergency = append(f.emergency, draft)
	return draft, nil
}

func (f *fakeEvents) stored() []models.ChatEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.ChatEvent(nil), f.events...)
}

type fakeUsers map[string]models.UserDisplay

func (f fakeUsers) GetUserDisplay(_ context.Context, userId string) (models.UserDisplay, bool, error) {
	if userId == "broken" {
		return models.UserDisplay{}, false, errors.New("profile store down")
	}
	u, ok := f[userId]
	return u, ok, nil
}

var _ hub.Conn = (*mockConn)(nil)
