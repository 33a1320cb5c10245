package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/andrei/vidseek/internal/domain"
)

// VideoRepository manages the catalog of ingested source videos.
type VideoRepository struct {
	db *gorm.DB
}

// NewVideoRepository creates a new video repository.
func NewVideoRepository(db *gorm.DB) *VideoRepository {
	return &VideoRepository{db: db}
}

// Upsert inserts the video record or updates it in place when the id exists.
func (r *VideoRepository) Upsert(ctx context.Context, video *domain.Video) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source_path", "duration_secs", "clip_count", "indexed_count", "status", "updated_at",
		}),
	}).Create(video).Error
}

// GetByID returns the video record for the given identifier.
func (r *VideoRepository) GetByID(ctx context.Context, id string) (*domain.Video, error) {
	var video domain.Video
	if err := r.db.WithContext(ctx).First(&video, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &video, nil
}

// List returns video records ordered by most recent first.
func (r *VideoRepository) List(ctx context.Context, limit, offset int) ([]domain.Video, error) {
	if limit <= 0 {
		limit = 50
	}
	var videos []domain.Video
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&videos).Error
	return videos, err
}

// CatalogStats summarizes the catalog for the stats endpoint.
type CatalogStats struct {
	TotalVideos  int64 `json:"total_videos"`
	TotalClips   int64 `json:"total_clips"`
	IndexedClips int64 `json:"indexed_clips"`
}

// Stats aggregates counts across the catalog.
func (r *VideoRepository) Stats(ctx context.Context) (*CatalogStats, error) {
	var stats CatalogStats
	if err := r.db.WithContext(ctx).Model(&domain.Video{}).Count(&stats.TotalVideos).Error; err != nil {
		return nil, err
	}
	row := r.db.WithContext(ctx).Model(&domain.Video{}).
		Select("COALESCE(SUM(clip_count), 0), COALESCE(SUM(indexed_count), 0)").
		Row()
	if err := row.Scan(&stats.TotalClips, &stats.IndexedClips); err != nil {
		return nil, err
	}
	return &stats, nil
}
