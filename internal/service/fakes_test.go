package service

import (
	"context"
	"sync"
	"time"

	"github.com/comunidad-segura/realtime-api/internal/models"
)

type fakeRooms struct {
	mu        sync.Mutex
	rooms     map[string]models.Room
	members   map[string]bool // roomId + "/" + userId
	err       error
	listCalls int
}

func newFakeRooms() *fakeRooms {
	return &fakeRooms{rooms: map[string]models.Room{}, members: map[string]bool{}}
}

func (f *fakeRooms) GetRoom(_ context.Context, roomId string) (models.Room, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.Room{}, false, f.err
	}
	r, ok := f.rooms[roomId]
	return r, ok, nil
}

func (f *fakeRooms) IsMember(_ context.Context, roomId, userId string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	return f.members[roomId+"/"+userId], nil
}

func (f *fakeRooms) ListEmergencyRooms(_ context.Context) ([]models.Room, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Room
	for _, r := range f.rooms {
		if r.IsEmergency {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeEvents struct {
	err   error
	delay time.Duration
	saved []models.ChatEvent
	n     int
}

func (f *fakeEvents) CreateEvent(ctx context.Context, ev *models.ChatEvent) error {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if f.err != nil {
		return f.err
	}
	f.n++
	ev.ID = "evt-" + string(rune('0'+f.n))
	ev.CreatedAt = time.Now().UTC()
	f.saved = append(f.saved, *ev)
	return nil
}

func (f *fakeEvents) CreateEmergencyEvent(_ context.Context, ev *models.EmergencyEvent) error {
	if f.err != nil {
		return f.err
	}
	ev.ID = "emg-1"
	ev.CreatedAt = time.Now().UTC()
	return nil
}

func (f *fakeEvents) IncrementRoomCounters(context.Context, string, time.Time) error { return nil }
