package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/comunidad-segura/realtime-api/internal/models"
)

// setupTestDB はインメモリのSQLiteを作成し、テスト用データを投入します
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, Migrate(db))

	require.NoError(t, db.Create([]models.Room{
		{ID: "room-1", Name: "Vecinos", Status: models.RoomActive},
		{ID: "fire", Name: "Bomberos", Status: models.RoomActive, IsEmergency: true},
		{ID: "police", Name: "Policia", Status: models.RoomActive, IsEmergency: true},
		{ID: "old-patrol", Name: "Patrulla", Status: models.RoomSuspended, IsEmergency: true},
	}).Error)
	require.NoError(t, db.Create([]models.Membership{
		{RoomID: "room-1", UserID: "U1", Status: models.MembershipActive},
		{RoomID: "room-1", UserID: "U2", Status: models.MembershipSuspended},
	}).Error)
	require.NoError(t, db.Create(&models.User{ID: "U1", Name: "Ana", AvatarURL: "a.png", Phone: "+51 999"}).Error)
	return db
}

func TestGormStore_GetRoom(t *testing.T) {
	store := NewGormStore(setupTestDB(t))
	ctx := context.Background()

	room, ok, err := store.GetRoom(ctx, "room-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Vecinos", room.Name)
	assert.True(t, room.Active())

	_, ok, err = store.GetRoom(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGormStore_IsMember(t *testing.T) {
	store := NewGormStore(setupTestDB(t))
	ctx := context.Background()

	tests := []struct {
		name   string
		roomId string
		userId string
		want   bool
	}{
		{"active member", "room-1", "U1", true},
		{"suspended member", "room-1", "U2", false},
		{"not a member", "room-1", "U3", false},
		{"other room", "fire", "U1", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.IsMember(ctx, tt.roomId, tt.userId)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGormStore_ListEmergencyRooms(t *testing.T) {
	store := NewGormStore(setupTestDB(t))

	rooms, err := store.ListEmergencyRooms(context.Background())
	require.NoError(t, err)

	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	assert.Equal(t, []string{"fire", "police"}, ids)
}

func TestGormStore_CreateEvent(t *testing.T) {
	db := setupTestDB(t)
	store := NewGormStore(db)
	ctx := context.Background()

	lat := -12.05
	ev := &models.ChatEvent{
		ID:            "client-supplied",
		RoomID:        "room-1",
		SenderID:      "U1",
		Kind:          models.KindImage,
		FileURL:       "https://cdn.example/p.jpg",
		PhotoMetadata: &models.PhotoMetadata{Latitude: &lat, Watermark: "Vecinos"},
	}
	require.NoError(t, store.CreateEvent(ctx, ev))

	assert.NotEqual(t, "client-supplied", ev.ID)
	assert.Len(t, ev.ID, 26)
	assert.False(t, ev.CreatedAt.IsZero())

	var stored models.ChatEvent
	require.NoError(t, db.First(&stored, "id = ?", ev.ID).Error)
	require.NotNil(t, stored.PhotoMetadata)
	assert.Equal(t, "Vecinos", stored.PhotoMetadata.Watermark)

	var room models.Room
	require.NoError(t, db.First(&room, "id = ?", "room-1").Error)
	assert.Equal(t, int64(1), room.MessageCount)
	require.NotNil(t, room.LastMessageAt)
	assert.WithinDuration(t, ev.CreatedAt, *room.LastMessageAt, time.Millisecond)
}

func TestGormStore_CreateEventRollsBackWithoutRoom(t *testing.T) {
	db := setupTestDB(t)
	store := NewGormStore(db)

	err := store.CreateEvent(context.Background(), &models.ChatEvent{RoomID: "missing", SenderID: "U1", Kind: models.KindText, Body: "hola"})
	require.ErrorIs(t, err, ErrRoomNotFound)

	var n int64
	require.NoError(t, db.Model(&models.ChatEvent{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestGormStore_CreateEmergencyEvent(t *testing.T) {
	db := setupTestDB(t)
	store := NewGormStore(db)

	ev := &models.EmergencyEvent{SenderID: "U1", Kind: models.EmergencyFire, TargetRooms: []string{"fire", "police"}}
	require.NoError(t, store.CreateEmergencyEvent(context.Background(), ev))
	require.NotEmpty(t, ev.ID)

	var stored models.EmergencyEvent
	require.NoError(t, db.First(&stored, "id = ?", ev.ID).Error)
	assert.Equal(t, models.EmergencyFire, stored.Kind)
	assert.Equal(t, []string{"fire", "police"}, stored.TargetRooms)
}

func TestGormStore_GetUserDisplay(t *testing.T) {
	store := NewGormStore(setupTestDB(t))
	ctx := context.Background()

	d, ok, err := store.GetUserDisplay(ctx, "U1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.UserDisplay{Name: "Ana", AvatarURL: "a.png", Phone: "+51 999"}, d)

	_, ok, err = store.GetUserDisplay(ctx, "nobody")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOpenDatabase_SQLite(t *testing.T) {
	db, err := OpenDatabase("file::memory:", logger.Silent)
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
}

func TestGormStore_IncrementRoomCounters(t *testing.T) {
	db := setupTestDB(t)
	store := NewGormStore(db)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.IncrementRoomCounters(ctx, "room-1", at))
	require.NoError(t, store.IncrementRoomCounters(ctx, "room-1", at.Add(time.Minute)))
	assert.ErrorIs(t, store.IncrementRoomCounters(ctx, "missing", at), ErrRoomNotFound)

	var room models.Room
	require.NoError(t, db.First(&room, "id = ?", "room-1").Error)
	assert.EqualValues(t, 2, room.MessageCount)
	require.NotNil(t, room.LastMessageAt)
	assert.True(t, room.LastMessageAt.Equal(at.Add(time.Minute)))
}
