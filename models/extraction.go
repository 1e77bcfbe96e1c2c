package models

import "time"

// Extraction is one OCR result produced by the batch pipeline: the text read
// from a configured crop region of a single PDF, with the aggregate confidence.
type Extraction struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	FileName    string  `gorm:"size:255;not null;uniqueIndex:idx_extraction_file_dist"`
	Distributor string  `gorm:"size:128;not null;uniqueIndex:idx_extraction_file_dist"`
	PageIndex   int     `gorm:"not null"`
	DPI         int     `gorm:"not null"`
	Text        string  `gorm:"type:text"`
	Confidence  float64 `gorm:"not null"`
	LineCount   int     `gorm:"not null"`
}
