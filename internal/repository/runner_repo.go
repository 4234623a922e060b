package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/vodarr/internal/models"
)

// runnerRepo implements RunnerRepository using GORM.
type runnerRepo struct {
	db *gorm.DB
}

// NewRunnerRepository creates a new RunnerRepository.
func NewRunnerRepository(db *gorm.DB) *runnerRepo {
	return &runnerRepo{db: db}
}

// Create creates a new runner.
func (r *runnerRepo) Create(ctx context.Context, runner *models.Runner) error {
	if err := r.db.WithContext(ctx).Create(runner).Error; err != nil {
		return fmt.Errorf("creating runner: %w", err)
	}
	return nil
}

// GetByID retrieves a runner by ID.
func (r *runnerRepo) GetByID(ctx context.Context, id models.ULID) (*models.Runner, error) {
	var runner models.Runner
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&runner).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting runner by ID: %w", err)
	}
	return &runner, nil
}

// GetByName retrieves a runner by its unique name.
func (r *runnerRepo) GetByName(ctx context.Context, name string) (*models.Runner, error) {
	var runner models.Runner
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(&runner).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting runner by name: %w", err)
	}
	return &runner, nil
}

// GetByToken retrieves a runner by its identity token.
func (r *runnerRepo) GetByToken(ctx context.Context, token string) (*models.Runner, error) {
	var runner models.Runner
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&runner).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting runner by token: %w", err)
	}
	return &runner, nil
}

// GetAll retrieves all runners ordered by creation time.
func (r *runnerRepo) GetAll(ctx context.Context) ([]*models.Runner, error) {
	var runners []*models.Runner
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&runners).Error; err != nil {
		return nil, fmt.Errorf("getting all runners: %w", err)
	}
	return runners, nil
}

// Update updates an existing runner.
func (r *runnerRepo) Update(ctx context.Context, runner *models.Runner) error {
	if err := r.db.WithContext(ctx).Save(runner).Error; err != nil {
		return fmt.Errorf("updating runner: %w", err)
	}
	return nil
}

// TouchLastContact bumps only the last-contact timestamp, skipping hooks.
func (r *runnerRepo) TouchLastContact(ctx context.Context, id models.ULID) error {
	result := r.db.WithContext(ctx).Model(&models.Runner{}).Where("id = ?", id).
		UpdateColumn("last_contact", models.Now())
	if result.Error != nil {
		return fmt.Errorf("touching runner last contact: %w", result.Error)
	}
	return nil
}

// Delete deletes a runner by ID.
func (r *runnerRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Runner{}).Error; err != nil {
		return fmt.Errorf("deleting runner: %w", err)
	}
	return nil
}

// Ensure runnerRepo implements RunnerRepository at compile time.
var _ RunnerRepository = (*runnerRepo)(nil)
