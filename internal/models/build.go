package models

import "time"

// Build is one extracted, runnable application tree belonging to a project.
// ExecutablePath is stored relative to the storage root, so lookups stay
// valid even if the builds subtree naming evolves. At most one build per
// project carries IsMain, enforced at write time.
type Build struct {
	ID             string `gorm:"primaryKey;size:32"`
	ProjectID      string `gorm:"size:32;index;not null"`
	Name           string `gorm:"size:128;not null"`
	Description    string `gorm:"type:text"`
	ExecutablePath string `gorm:"size:512;not null"`
	IsMain         bool   `gorm:"default:false;index"`
	Category       string `gorm:"size:16;not null"`
	Version        string `gorm:"size:32;default:1.0.0"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
