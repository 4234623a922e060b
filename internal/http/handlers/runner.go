package handlers

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/service"
)

// RunnerHandler handles runner registration and the admin surface for
// runners and registration tokens.
type RunnerHandler struct {
	regService *service.RegistrationService
}

// NewRunnerHandler creates a new runner handler.
func NewRunnerHandler(regService *service.RegistrationService) *RunnerHandler {
	return &RunnerHandler{regService: regService}
}

// Register registers the runner routes with the API.
func (h *RunnerHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "generateRegistrationToken",
		Method:      "POST",
		Path:        "/api/v1/runners/registration-tokens",
		Summary:     "Generate registration token",
		Description: "Creates a new registration token for handing to runner processes",
		Tags:        []string{"Runners"},
	}, h.GenerateToken)

	huma.Register(api, huma.Operation{
		OperationID: "listRegistrationTokens",
		Method:      "GET",
		Path:        "/api/v1/runners/registration-tokens",
		Summary:     "List registration tokens",
		Tags:        []string{"Runners"},
	}, h.ListTokens)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteRegistrationToken",
		Method:        "DELETE",
		Path:          "/api/v1/runners/registration-tokens/{id}",
		Summary:       "Delete registration token",
		Description:   "Invalidates future registrations; already-registered runners keep working",
		Tags:          []string{"Runners"},
		DefaultStatus: 204,
	}, h.DeleteToken)

	huma.Register(api, huma.Operation{
		OperationID: "registerRunner",
		Method:      "POST",
		Path:        "/api/v1/runners/register",
		Summary:     "Register runner",
		Description: "Exchanges a registration token for a runner identity and runner token",
		Tags:        []string{"Runners"},
	}, h.RegisterRunner)

	huma.Register(api, huma.Operation{
		OperationID: "listRunners",
		Method:      "GET",
		Path:        "/api/v1/runners",
		Summary:     "List runners",
		Tags:        []string{"Runners"},
	}, h.ListRunners)

	huma.Register(api, huma.Operation{
		OperationID:   "deleteRunner",
		Method:        "DELETE",
		Path:          "/api/v1/runners/{id}",
		Summary:       "Delete runner",
		Tags:          []string{"Runners"},
		DefaultStatus: 204,
	}, h.DeleteRunner)
}

// GenerateTokenInput is the input for token generation.
type GenerateTokenInput struct{}

// GenerateTokenOutput is the output for token generation.
type GenerateTokenOutput struct {
	Body RegistrationTokenResponse
}

// GenerateToken creates a new registration token.
func (h *RunnerHandler) GenerateToken(ctx context.Context, input *GenerateTokenInput) (*GenerateTokenOutput, error) {
	token, err := h.regService.IssueToken(ctx)
	if err != nil {
		return nil, mapServiceError(err, "failed to generate registration token")
	}
	return &GenerateTokenOutput{Body: RegistrationTokenFromModel(token)}, nil
}

// ListTokensInput is the input for listing tokens.
type ListTokensInput struct{}

// ListTokensOutput is the output for listing tokens.
type ListTokensOutput struct {
	Body struct {
		RegistrationTokens []RegistrationTokenResponse `json:"registration_tokens"`
	}
}

// ListTokens returns all registration tokens.
func (h *RunnerHandler) ListTokens(ctx context.Context, input *ListTokensInput) (*ListTokensOutput, error) {
	tokens, err := h.regService.ListTokens(ctx)
	if err != nil {
		return nil, mapServiceError(err, "failed to list registration tokens")
	}

	resp := &ListTokensOutput{}
	resp.Body.RegistrationTokens = make([]RegistrationTokenResponse, 0, len(tokens))
	for _, t := range tokens {
		resp.Body.RegistrationTokens = append(resp.Body.RegistrationTokens, RegistrationTokenFromModel(t))
	}
	return resp, nil
}

// DeleteTokenInput is the input for deleting a token.
type DeleteTokenInput struct {
	ID string `path:"id" doc:"Registration token ID (ULID)"`
}

// DeleteTokenOutput is the output for deleting a token.
type DeleteTokenOutput struct{}

// DeleteToken deletes a registration token.
func (h *RunnerHandler) DeleteToken(ctx context.Context, input *DeleteTokenInput) (*DeleteTokenOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}
	if err := h.regService.DeleteToken(ctx, id); err != nil {
		return nil, mapServiceError(err, "registration token not found")
	}
	return &DeleteTokenOutput{}, nil
}

// RegisterRunnerInput is the input for runner registration.
type RegisterRunnerInput struct {
	Body struct {
		RegistrationToken string `json:"registration_token" doc:"Shared registration secret"`
		Name              string `json:"name" doc:"Runner display name, unique; re-registering the same name returns the existing identity"`
		Description       string `json:"description,omitempty"`
	}
}

// RegisterRunnerOutput is the output for runner registration.
type RegisterRunnerOutput struct {
	Body struct {
		Runner      RunnerResponse `json:"runner"`
		RunnerToken string         `json:"runner_token"`
	}
}

// RegisterRunner exchanges a registration token for a runner identity.
func (h *RunnerHandler) RegisterRunner(ctx context.Context, input *RegisterRunnerInput) (*RegisterRunnerOutput, error) {
	runner, err := h.regService.Register(ctx, input.Body.RegistrationToken, input.Body.Name, input.Body.Description)
	if err != nil {
		return nil, mapServiceError(err, "failed to register runner")
	}

	resp := &RegisterRunnerOutput{}
	resp.Body.Runner = RunnerFromModel(runner)
	resp.Body.RunnerToken = runner.Token
	return resp, nil
}

// ListRunnersInput is the input for listing runners.
type ListRunnersInput struct{}

// ListRunnersOutput is the output for listing runners.
type ListRunnersOutput struct {
	Body struct {
		Runners []RunnerResponse `json:"runners"`
	}
}

// ListRunners returns all registered runners.
func (h *RunnerHandler) ListRunners(ctx context.Context, input *ListRunnersInput) (*ListRunnersOutput, error) {
	runners, err := h.regService.ListRunners(ctx)
	if err != nil {
		return nil, mapServiceError(err, "failed to list runners")
	}

	resp := &ListRunnersOutput{}
	resp.Body.Runners = make([]RunnerResponse, 0, len(runners))
	for _, r := range runners {
		resp.Body.Runners = append(resp.Body.Runners, RunnerFromModel(r))
	}
	return resp, nil
}

// DeleteRunnerInput is the input for deleting a runner.
type DeleteRunnerInput struct {
	ID string `path:"id" doc:"Runner ID (ULID)"`
}

// DeleteRunnerOutput is the output for deleting a runner.
type DeleteRunnerOutput struct{}

// DeleteRunner removes a runner; its token stops authenticating.
func (h *RunnerHandler) DeleteRunner(ctx context.Context, input *DeleteRunnerInput) (*DeleteRunnerOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid ID format", err)
	}
	if err := h.regService.DeleteRunner(ctx, id); err != nil {
		return nil, mapServiceError(err, "runner not found")
	}
	return &DeleteRunnerOutput{}, nil
}
