package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/repository"
)

// RegistrationService issues registration tokens and turns them into runner
// identities. Registration is idempotent by runner name.
type RegistrationService struct {
	tokenRepo  repository.RegistrationTokenRepository
	runnerRepo repository.RunnerRepository
	logger     *slog.Logger
}

// NewRegistrationService creates a new RegistrationService.
func NewRegistrationService(
	tokenRepo repository.RegistrationTokenRepository,
	runnerRepo repository.RunnerRepository,
) *RegistrationService {
	return &RegistrationService{
		tokenRepo:  tokenRepo,
		runnerRepo: runnerRepo,
		logger:     slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *RegistrationService) WithLogger(logger *slog.Logger) *RegistrationService {
	s.logger = logger
	return s
}

// IssueToken mints a new registration token for operators to hand to runner
// processes.
func (s *RegistrationService) IssueToken(ctx context.Context) (*models.RunnerRegistrationToken, error) {
	token := &models.RunnerRegistrationToken{}
	if err := s.tokenRepo.Create(ctx, token); err != nil {
		return nil, err
	}
	s.logger.Info("registration token issued", "token_id", token.ID.String())
	return token, nil
}

// ListTokens returns all registration tokens.
func (s *RegistrationService) ListTokens(ctx context.Context) ([]*models.RunnerRegistrationToken, error) {
	return s.tokenRepo.GetAll(ctx)
}

// DeleteToken removes a registration token. Runners already registered with
// it keep their identity.
func (s *RegistrationService) DeleteToken(ctx context.Context, id models.ULID) error {
	token, err := s.tokenRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if token == nil {
		return models.ErrNotFound
	}
	if err := s.tokenRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("registration token deleted", "token_id", id.String())
	return nil
}

// Register validates a registration token and returns a runner identity.
// Re-registering an existing name returns the existing identity with its
// last-contact bumped.
func (s *RegistrationService) Register(ctx context.Context, tokenSecret, name, description string) (*models.Runner, error) {
	if name == "" {
		return nil, models.ErrRunnerNameRequired
	}

	token, err := s.tokenRepo.GetByToken(ctx, tokenSecret)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, models.ErrInvalidRegistrationToken
	}

	existing, err := s.runnerRepo.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		existing.Touch()
		if err := s.runnerRepo.Update(ctx, existing); err != nil {
			return nil, err
		}
		s.logger.Info("runner re-registered",
			"runner_id", existing.ID.String(),
			"runner_name", existing.Name)
		return existing, nil
	}

	runner := &models.Runner{
		Name:                name,
		Description:         description,
		RegistrationTokenID: token.ID,
	}
	if err := s.runnerRepo.Create(ctx, runner); err != nil {
		return nil, fmt.Errorf("registering runner: %w", err)
	}

	s.logger.Info("runner registered",
		"runner_id", runner.ID.String(),
		"runner_name", runner.Name)
	return runner, nil
}

// AuthenticateRunner resolves a runner token to its identity and bumps
// last-contact. Unknown tokens map to NotFound, matching the REST contract
// for unknown runners.
func (s *RegistrationService) AuthenticateRunner(ctx context.Context, runnerToken string) (*models.Runner, error) {
	runner, err := s.runnerRepo.GetByToken(ctx, runnerToken)
	if err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, models.ErrNotFound
	}
	if err := s.runnerRepo.TouchLastContact(ctx, runner.ID); err != nil {
		return nil, err
	}
	return runner, nil
}

// ListRunners returns all registered runners.
func (s *RegistrationService) ListRunners(ctx context.Context) ([]*models.Runner, error) {
	return s.runnerRepo.GetAll(ctx)
}

// DeleteRunner removes a runner identity.
func (s *RegistrationService) DeleteRunner(ctx context.Context, id models.ULID) error {
	runner, err := s.runnerRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if runner == nil {
		return models.ErrNotFound
	}
	if err := s.runnerRepo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("runner deleted", "runner_id", id.String(), "runner_name", runner.Name)
	return nil
}
