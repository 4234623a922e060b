package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/vodarr/internal/models"
)

// videoRepo implements VideoRepository using GORM.
type videoRepo struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(db *gorm.DB) *videoRepo {
	return &videoRepo{db: db}
}

// Create creates a new video.
func (r *videoRepo) Create(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Create(video).Error; err != nil {
		return fmt.Errorf("creating video: %w", err)
	}
	return nil
}

// GetByID retrieves a video by ID.
func (r *videoRepo) GetByID(ctx context.Context, id models.ULID) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by ID: %w", err)
	}
	return &video, nil
}

// GetByUUID retrieves a video by its external UUID.
func (r *videoRepo) GetByUUID(ctx context.Context, videoUUID string) (*models.Video, error) {
	var video models.Video
	if err := r.db.WithContext(ctx).Where("uuid = ?", videoUUID).First(&video).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting video by UUID: %w", err)
	}
	return &video, nil
}

// Update updates an existing video.
func (r *videoRepo) Update(ctx context.Context, video *models.Video) error {
	if err := r.db.WithContext(ctx).Save(video).Error; err != nil {
		return fmt.Errorf("updating video: %w", err)
	}
	return nil
}

// AddFile registers a produced file against a video.
func (r *videoRepo) AddFile(ctx context.Context, file *models.VideoFile) error {
	if err := r.db.WithContext(ctx).Create(file).Error; err != nil {
		return fmt.Errorf("adding video file: %w", err)
	}
	return nil
}

// GetFiles retrieves all files registered for a video.
func (r *videoRepo) GetFiles(ctx context.Context, videoID models.ULID) ([]*models.VideoFile, error) {
	var files []*models.VideoFile
	if err := r.db.WithContext(ctx).
		Where("video_id = ?", videoID).
		Order("resolution DESC, created_at ASC").
		Find(&files).Error; err != nil {
		return nil, fmt.Errorf("getting video files: %w", err)
	}
	return files, nil
}

// SumFileSizesByOwner returns the total stored bytes across an owner's videos.
func (r *videoRepo) SumFileSizesByOwner(ctx context.Context, ownerID models.ULID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&models.VideoFile{}).
		Joins("JOIN videos ON videos.id = video_files.video_id").
		Where("videos.owner_id = ?", ownerID).
		Select("COALESCE(SUM(video_files.size_bytes), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, fmt.Errorf("summing owner file sizes: %w", err)
	}
	return total, nil
}

// Ensure videoRepo implements VideoRepository at compile time.
var _ VideoRepository = (*videoRepo)(nil)
