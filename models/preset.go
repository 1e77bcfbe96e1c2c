package models

import "time"

// CropPreset stores a reusable crop region for a distributor's invoice layout.
// Built-in presets are seeded at startup; users save their own via /presets or
// by exporting a config with save=true.
type CropPreset struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Distributor string `gorm:"size:128;not null;uniqueIndex:idx_distributor_page"`
	PageIndex   int    `gorm:"not null;uniqueIndex:idx_distributor_page"`
	X1          int    `gorm:"not null"`
	Y1          int    `gorm:"not null"`
	X2          int    `gorm:"not null"`
	Y2          int    `gorm:"not null"`
	DPI         int    `gorm:"not null"`
	Builtin     bool   `gorm:"default:false"`
}
