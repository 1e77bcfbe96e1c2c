package models

import "time"

// Invoice represents an uploaded PDF invoice owned by a user. The file itself
// lives on disk under the upload base dir; StorePath is the public relative path.
type Invoice struct {
	ID          uint `gorm:"primaryKey"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	UserID      uint   `gorm:"index;not null;uniqueIndex:idx_user_invoice_file"`
	FileName    string `gorm:"size:255;not null;uniqueIndex:idx_user_invoice_file"`
	StorePath   string `gorm:"column:store_path;size:512"`
	ContentType string `gorm:"size:128"`
	PageCount   int    `gorm:"not null"`
	SizeBytes   int64  `gorm:"not null"`
	// Mark invoice as failed for rendering (do not delete record so front-end/admin can review)
	Failed       bool   `gorm:"default:false;index"`
	FailedReason string `gorm:"size:255"`
}
