package domain

import "time"

// VideoStatus represents the ingestion status of a source video.
type VideoStatus string

const (
	VideoStatusActive VideoStatus = "active"
	VideoStatusFailed VideoStatus = "failed"
)

// Video is the catalog record for an ingested source video. The catalog is
// operator bookkeeping for the list/stats endpoints; the ingestion
// idempotence check is a process-lifetime in-memory set and deliberately
// does not consult this table.
type Video struct {
	ID           string      `gorm:"type:text;primaryKey" json:"id"`
	SourcePath   string      `gorm:"type:text;not null" json:"source_path"`
	DurationSecs float64     `json:"duration_secs"`
	ClipCount    int         `json:"clip_count"`
	IndexedCount int         `json:"indexed_count"`
	Status       VideoStatus `gorm:"type:text;index:idx_videos_status;default:active" json:"status"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// TableName returns the database table name for Video.
func (Video) TableName() string {
	return "videos"
}
