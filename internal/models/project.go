// Package models defines the GORM models persisted by the backend.
package models

import "time"

// Categories a project or build may belong to. The storage layout embeds
// the category as the first path segment under the builds tree.
const (
	CategorySimulators = "simulators"
	CategoryVehicles   = "vehicles"
	CategoryWeapons    = "weapons"
)

// ValidCategory reports whether c is one of the known categories.
func ValidCategory(c string) bool {
	switch c {
	case CategorySimulators, CategoryVehicles, CategoryWeapons:
		return true
	}
	return false
}

// Project is the top-level asset record: one 3D model plus zero or more
// runnable builds.
type Project struct {
	ID                   string `gorm:"primaryKey;size:32"`
	Name                 string `gorm:"not null"`
	Description          string `gorm:"type:text"`
	ModelName            string `gorm:"size:128"`
	ModelFileID          string `gorm:"size:64"` // opaque object-store identifier
	ModelFileName        string `gorm:"size:255"`
	ModelFileContentType string `gorm:"size:64"`
	Category             string `gorm:"size:16;index;not null"`
	CreatedAt            time.Time
	UpdatedAt            time.Time

	Builds    []Build    `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
	SubModels []SubModel `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

// SubModel is a secondary model file attached to a project.
type SubModel struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	ProjectID   string `gorm:"size:32;index;not null"`
	Name        string `gorm:"size:128;not null"`
	Description string `gorm:"type:text"`
	FileID      string `gorm:"size:64"`
	FileName    string `gorm:"size:255"`
	ContentType string `gorm:"size:64"`
}
