package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/comunidad-segura/realtime-api/internal/idgen"
	"github.com/comunidad-segura/realtime-api/internal/models"
)

// ErrRoomNotFound はカウンター更新対象のグループが存在しない場合のエラーです
var ErrRoomNotFound = errors.New("room not found")

// OpenDatabase はDSNに応じたドライバでDBを開きます
// postgres:// または postgresql:// はPostgres、それ以外はSQLiteとして扱います
func OpenDatabase(dsn string, logLevel logger.LogLevel) (*gorm.DB, error) {
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// Migrate はこのサービスが参照・追記するテーブルを作成します
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Room{},
		&models.Membership{},
		&models.User{},
		&models.ChatEvent{},
		&models.EmergencyEvent{},
	)
}

// GormStore はRoomRepo・EventRepo・UserRepoをGORMで実装します
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetRoom(ctx context.Context, roomId string) (models.Room, bool, error) {
	var r models.Room
	err := s.db.WithContext(ctx).First(&r, "id = ?", roomId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Room{}, false, nil
	}
	if err != nil {
		return models.Room{}, false, fmt.Errorf("failed to get room: %w", err)
	}
	return r, true, nil
}

func (s *GormStore) IsMember(ctx context.Context, roomId, userId string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Membership{}).
		Where("room_id = ? AND user_id = ? AND status = ?", roomId, userId, models.MembershipActive).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return n > 0, nil
}

func (s *GormStore) ListEmergencyRooms(ctx context.Context) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.WithContext(ctx).
		Where("is_emergency = ? AND status = ?", true, models.RoomActive).
		Order("id").
		Find(&rooms).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list emergency rooms: %w", err)
	}
	return rooms, nil
}

// CreateEvent はIDと日時を採番してメッセージを保存し、グループのカウンターを更新します
// どちらかが失敗した場合は両方ロールバックされます
func (s *GormStore) CreateEvent(ctx context.Context, ev *models.ChatEvent) error {
	stampEvent(&ev.ID, &ev.CreatedAt)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(ev).Error; err != nil {
			return fmt.Errorf("failed to create event: %w", err)
		}
		return incrementCounters(tx, ev.RoomID, ev.CreatedAt)
	})
}

func (s *GormStore) CreateEmergencyEvent(ctx context.Context, ev *models.EmergencyEvent) error {
	stampEvent(&ev.ID, &ev.CreatedAt)
	if ev.TargetRooms == nil {
		ev.TargetRooms = []string{}
	}
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("failed to create emergency event: %w", err)
	}
	return nil
}

func (s *GormStore) IncrementRoomCounters(ctx context.Context, roomId string, at time.Time) error {
	return incrementCounters(s.db.WithContext(ctx), roomId, at)
}

func (s *GormStore) GetUserDisplay(ctx context.Context, userId string) (models.UserDisplay, bool, error) {
	var u models.User
	err := s.db.WithContext(ctx).First(&u, "id = ?", userId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.UserDisplay{}, false, nil
	}
	if err != nil {
		return models.UserDisplay{}, false, fmt.Errorf("failed to get user: %w", err)
	}
	return models.UserDisplay{Name: u.Name, AvatarURL: u.AvatarURL, Phone: u.Phone}, true, nil
}

func incrementCounters(tx *gorm.DB, roomId string, at time.Time) error {
	res := tx.Model(&models.Room{}).Where("id = ?", roomId).Updates(map[string]any{
		"message_count":   gorm.Expr("message_count + ?", 1),
		"last_message_at": at,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to update room counters: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func stampEvent(id *string, createdAt *time.Time) {
	now := time.Now().UTC()
	*createdAt = now
	*id = idgen.NewULIDAt(now)
}
