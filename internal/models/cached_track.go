package models

import "time"

// CachedTrack indexes one downloaded media file in the prefetch cache.
// Eviction is least-recently-accessed while the cache exceeds its byte cap.
type CachedTrack struct {
	Hash       string    `gorm:"primaryKey;size:64" json:"hash"`
	Bytes      int64     `gorm:"not null" json:"bytes"`
	CreatedAt  time.Time `json:"created_at"`
	AccessedAt time.Time `gorm:"index" json:"accessed_at"`
}

// TableName returns the database table name for GORM
func (CachedTrack) TableName() string {
	return "cached_tracks"
}
