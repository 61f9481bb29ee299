package model

import (
	"time"

	"gorm.io/datatypes"
)

// RunRecord is the archived, read-only result of one finished arena.
type RunRecord struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	Seed       int64          `json:"seed"`
	Width      int            `json:"width"`
	Height     int            `json:"height"`
	Layout     datatypes.JSON `gorm:"type:json" json:"layout"`
	Door       datatypes.JSON `gorm:"type:json" json:"door"`
	Config     datatypes.JSON `gorm:"type:json" json:"config"`
	Summary    datatypes.JSON `gorm:"type:json" json:"summary"`
	Viewers    float64        `json:"viewers"`
	Likes      int64          `gorm:"index" json:"likes"`
	Monsters   int            `json:"monsters"`
	SimTimeMs  int64          `json:"sim_time_ms"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `gorm:"index" json:"finished_at"`
}

// ScoreSample is one point of an arena's score timeline.
type ScoreSample struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	ArenaID   string    `gorm:"size:36;index:idx_sample_arena_time" json:"arena_id"`
	SimTimeMs int64     `gorm:"index:idx_sample_arena_time" json:"sim_time_ms"`
	Viewers   float64   `json:"viewers"`
	Likes     int64     `json:"likes"`
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}
