package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Video is the minimal projection of a video this core needs: ownership for
// quota accounting and a place to attach produced files. Full video metadata
// lives with the application layer.
type Video struct {
	BaseModel

	// UUID is the external identifier; live artifact paths are keyed by it.
	UUID string `gorm:"not null;uniqueIndex;type:varchar(36)" json:"uuid"`

	// OwnerID identifies the account the video belongs to, for quota checks.
	OwnerID ULID `gorm:"not null;type:varchar(26);index" json:"owner_id"`

	Name string `gorm:"size:255" json:"name"`

	// IsLive marks live broadcast videos.
	IsLive bool `gorm:"default:false" json:"is_live"`

	// DurationSeconds is recomputed when new files are registered.
	DurationSeconds float64 `json:"duration_seconds"`

	// Degraded is set when transcoding exhausted its retries; the owner sees
	// the video flagged instead of silently missing renditions.
	Degraded bool `gorm:"default:false" json:"degraded"`
}

// TableName returns the table name for Video.
func (Video) TableName() string {
	return "videos"
}

// BeforeCreate fills generated fields.
func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if err := v.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if v.UUID == "" {
		v.UUID = uuid.NewString()
	}
	if v.OwnerID.IsZero() {
		return ErrVideoIDRequired
	}
	return nil
}

// VideoFile is one produced rendition registered against a video.
type VideoFile struct {
	BaseModel

	VideoID ULID `gorm:"not null;type:varchar(26);index" json:"video_id"`

	// Path is relative to the VOD storage root.
	Path string `gorm:"not null;size:1024" json:"path"`

	Resolution int    `gorm:"index" json:"resolution"`
	SizeBytes  int64  `json:"size_bytes"`
	Bitrate    int    `json:"bitrate,omitempty"`
	Format     string `gorm:"size:20" json:"format,omitempty"` // mp4, webm, hls
}

// TableName returns the table name for VideoFile.
func (VideoFile) TableName() string {
	return "video_files"
}
