package archive

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// Record is the minimal row kept for a finished battle; history and
// leaderboard queries read it elsewhere.
type Record struct {
	BattleID     string `gorm:"primaryKey"`
	ParticipantA string
	ParticipantB string
	ProblemSlug  string
	WinnerID     string // empty means draw
	EndReason    string
	StartedAt    time.Time
	FinishedAt   time.Time
}

func (Record) TableName() string { return "battle_records" }

type Archiver interface {
	Save(ctx context.Context, rec Record) error
}

type GormArchiver struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewGormArchiver(dsn string, log *zap.Logger) (*GormArchiver, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	return &GormArchiver{db: db, log: log}, nil
}

func (a *GormArchiver) Save(ctx context.Context, rec Record) error {
	return a.db.WithContext(ctx).Create(&rec).Error
}

// NopArchiver is used when no database is configured; finished battles are
// simply dropped after the outcome is broadcast.
type NopArchiver struct{}

func (NopArchiver) Save(context.Context, Record) error { return nil }
