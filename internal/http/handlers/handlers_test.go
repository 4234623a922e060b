package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/relay"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/service"
	"github.com/jmylchreest/vodarr/internal/storage"
)

// handlerEnv wires real services against an in-memory database so handler
// tests cover the full request path below the router.
type handlerEnv struct {
	db         *gorm.DB
	videoRepo  repository.VideoRepository
	jobRepo    repository.RunnerJobRepository
	relayStore *relay.Store

	runnerHandler *RunnerHandler
	jobHandler    *RunnerJobHandler
	liveHandler   *LiveHandler

	regService  *service.RegistrationService
	jobService  *service.JobService
	liveService *service.LiveService
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.RunnerRegistrationToken{},
		&models.Runner{},
		&models.RunnerJob{},
		&models.LiveSession{},
		&models.Video{},
		&models.VideoFile{},
	))

	relayStore, err := relay.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	vodStore, err := storage.NewSandbox(t.TempDir())
	require.NoError(t, err)

	videoRepo := repository.NewVideoRepository(db)
	jobRepo := repository.NewRunnerJobRepository(db)
	sessionRepo := repository.NewLiveSessionRepository(db)

	regService := service.NewRegistrationService(
		repository.NewRegistrationTokenRepository(db),
		repository.NewRunnerRepository(db),
	)
	finalizer := service.NewFinalizer(videoRepo, sessionRepo, relayStore, nil, vodStore)
	jobService := service.NewJobService(jobRepo, videoRepo, sessionRepo, regService, relayStore, finalizer, config.JobsConfig{
		VODRetryBudget:   3,
		LiveRetryBudget:  1,
		VODStallTimeout:  30 * time.Minute,
		LiveStallTimeout: 30 * time.Second,
		MaxAvailableJobs: 10,
	})
	liveService := service.NewLiveService(sessionRepo, videoRepo, jobService)

	return &handlerEnv{
		db:            db,
		videoRepo:     videoRepo,
		jobRepo:       jobRepo,
		relayStore:    relayStore,
		runnerHandler: NewRunnerHandler(regService),
		jobHandler:    NewRunnerJobHandler(jobService),
		liveHandler:   NewLiveHandler(liveService, relayStore),
		regService:    regService,
		jobService:    jobService,
		liveService:   liveService,
	}
}

func (e *handlerEnv) createVideo(t *testing.T, isLive bool) *models.Video {
	t.Helper()
	video := &models.Video{OwnerID: models.NewULID(), Name: "handler test video", IsLive: isLive}
	require.NoError(t, e.videoRepo.Create(context.Background(), video))
	return video
}

// registerRunner runs the registration flow through the handlers.
func (e *handlerEnv) registerRunner(t *testing.T, name string) (runnerID string, runnerToken string) {
	t.Helper()
	ctx := context.Background()

	tokenOut, err := e.runnerHandler.GenerateToken(ctx, &GenerateTokenInput{})
	require.NoError(t, err)

	in := &RegisterRunnerInput{}
	in.Body.RegistrationToken = tokenOut.Body.Token
	in.Body.Name = name
	out, err := e.runnerHandler.RegisterRunner(ctx, in)
	require.NoError(t, err)
	require.NotEmpty(t, out.Body.RunnerToken)
	return out.Body.Runner.ID, out.Body.RunnerToken
}

func (e *handlerEnv) createVODJob(t *testing.T, video *models.Video) *models.RunnerJob {
	t.Helper()
	job, err := e.jobService.Create(context.Background(), service.CreateJobInput{
		Type:    models.RunnerJobTypeVODWebVideo,
		Payload: models.WebVideoPayload{InputPath: "in.mp4", Resolution: 720},
		VideoID: video.ID,
	})
	require.NoError(t, err)
	return job
}

func (e *handlerEnv) acceptJob(t *testing.T, jobUUID, runnerToken string) string {
	t.Helper()
	in := &AcceptJobInput{UUID: jobUUID}
	in.Body.RunnerToken = runnerToken
	out, err := e.jobHandler.Accept(context.Background(), in)
	require.NoError(t, err)
	require.NotEmpty(t, out.Body.JobToken)
	return out.Body.JobToken
}

// formFile is one file part for buildForm.
type formFile struct {
	field    string
	filename string
	content  []byte
}

// buildForm assembles a parsed multipart form the way huma hands it to the
// handler.
func buildForm(t *testing.T, values map[string]string, files ...formFile) multipart.Form {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for field, value := range values {
		require.NoError(t, writer.WriteField(field, value))
	}
	for _, f := range files {
		part, err := writer.CreateFormFile(f.field, f.filename)
		require.NoError(t, err)
		_, err = io.Copy(part, bytes.NewReader(f.content))
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())

	form, err := multipart.NewReader(&buf, writer.Boundary()).ReadForm(32 << 20)
	require.NoError(t, err)
	return *form
}

func mediaPlaylistBytes(segments ...string) []byte {
	var buf bytes.Buffer
	buf.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:4\n#EXT-X-MEDIA-SEQUENCE:0\n")
	for _, seg := range segments {
		fmt.Fprintf(&buf, "#EXTINF:4.0,\n%s\n", seg)
	}
	return buf.Bytes()
}
