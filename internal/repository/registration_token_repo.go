package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/jmylchreest/vodarr/internal/models"
)

// registrationTokenRepo implements RegistrationTokenRepository using GORM.
type registrationTokenRepo struct {
	db *gorm.DB
}

// NewRegistrationTokenRepository creates a new RegistrationTokenRepository.
func NewRegistrationTokenRepository(db *gorm.DB) *registrationTokenRepo {
	return &registrationTokenRepo{db: db}
}

// Create creates a new registration token.
func (r *registrationTokenRepo) Create(ctx context.Context, token *models.RunnerRegistrationToken) error {
	if err := r.db.WithContext(ctx).Create(token).Error; err != nil {
		return fmt.Errorf("creating registration token: %w", err)
	}
	return nil
}

// GetByID retrieves a registration token by ID.
func (r *registrationTokenRepo) GetByID(ctx context.Context, id models.ULID) (*models.RunnerRegistrationToken, error) {
	var token models.RunnerRegistrationToken
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&token).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting registration token by ID: %w", err)
	}
	return &token, nil
}

// GetByToken retrieves a registration token by its secret value.
func (r *registrationTokenRepo) GetByToken(ctx context.Context, secret string) (*models.RunnerRegistrationToken, error) {
	var token models.RunnerRegistrationToken
	if err := r.db.WithContext(ctx).Where("token = ?", secret).First(&token).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("getting registration token by secret: %w", err)
	}
	return &token, nil
}

// GetAll retrieves all registration tokens.
func (r *registrationTokenRepo) GetAll(ctx context.Context) ([]*models.RunnerRegistrationToken, error) {
	var tokens []*models.RunnerRegistrationToken
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&tokens).Error; err != nil {
		return nil, fmt.Errorf("getting all registration tokens: %w", err)
	}
	return tokens, nil
}

// Delete deletes a registration token by ID.
func (r *registrationTokenRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.RunnerRegistrationToken{}).Error; err != nil {
		return fmt.Errorf("deleting registration token: %w", err)
	}
	return nil
}

// Ensure registrationTokenRepo implements RegistrationTokenRepository at compile time.
var _ RegistrationTokenRepository = (*registrationTokenRepo)(nil)
