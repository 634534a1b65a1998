package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/livesync/pkg/types"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type replyRecord struct {
	Scope     string `gorm:"primaryKey"`
	Key       string `gorm:"primaryKey"`
	Event     string
	Reply     []byte
	CreatedAt time.Time
}

func (replyRecord) TableName() string { return "relay_replies" }

// Postgres persists replies so a relay restart does not re-apply retried
// mutations.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects to dsn and migrates the replies table.
func OpenPostgres(dsn string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.AutoMigrate(&replyRecord{}); err != nil {
		return nil, fmt.Errorf("migrate relay_replies: %w", err)
	}
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an open gorm handle. The table must already exist.
func NewPostgres(db *gorm.DB) *Postgres { return &Postgres{db: db} }

func (p *Postgres) Lookup(ctx context.Context, scope, key string) (types.Reply, bool, error) {
	var rec replyRecord
	err := p.db.WithContext(ctx).Where("scope = ? AND key = ?", scope, key).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Reply{}, false, nil
	}
	if err != nil {
		return types.Reply{}, false, fmt.Errorf("lookup reply: %w", err)
	}

	var reply types.Reply
	if err := types.Unmarshal(rec.Reply, &reply); err != nil {
		return types.Reply{}, false, fmt.Errorf("decode stored reply: %w", err)
	}
	return reply, true, nil
}

func (p *Postgres) Save(ctx context.Context, scope, key, event string, reply types.Reply) error {
	raw, err := types.Marshal(reply)
	if err != nil {
		return fmt.Errorf("encode reply: %w", err)
	}
	rec := replyRecord{Scope: scope, Key: key, Event: event, Reply: raw, CreatedAt: time.Now().UTC()}
	err = p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save reply: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
