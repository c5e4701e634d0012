package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/music-room-sync/pkg/models"
)

// MySQLDB is the storage collaborator: it records room lifecycles and play
// history for later analysis. The live room state never round-trips through
// it; the in-memory registry stays authoritative.
type MySQLDB struct {
	*gorm.DB
}

func NewMySQLDB(host, port, user, password, dbname string) (*MySQLDB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &MySQLDB{DB: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	return db.AutoMigrate(
		&models.RoomRecord{},
		&models.PlayHistory{},
	)
}

func (db *MySQLDB) SaveRoom(rec *models.RoomRecord) error {
	return db.Create(rec).Error
}

func (db *MySQLDB) MarkRoomClosed(code string, at time.Time) error {
	return db.Model(&models.RoomRecord{}).
		Where("code = ? AND closed_at IS NULL", code).
		Update("closed_at", at).Error
}

func (db *MySQLDB) AppendHistory(h *models.PlayHistory) error {
	return db.Create(h).Error
}

// RoomHistory returns the most recent plays for a room code.
func (db *MySQLDB) RoomHistory(code string, limit int) ([]*models.PlayHistory, error) {
	var items []*models.PlayHistory
	if err := db.Where("room_code = ?", code).
		Order("played_at DESC").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
