package service

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/jmylchreest/vodarr/internal/config"
	"github.com/jmylchreest/vodarr/internal/models"
	"github.com/jmylchreest/vodarr/internal/objectstore"
	"github.com/jmylchreest/vodarr/internal/relay"
	"github.com/jmylchreest/vodarr/internal/repository"
	"github.com/jmylchreest/vodarr/internal/storage"
)

// fakeObjectStore is an in-memory ObjectStore for by-reference payload tests.
type fakeObjectStore struct {
	objects map[string][]byte
}

func newFakeObjectStore() *fakeObjectStore {
	return &fakeObjectStore{objects: make(map[string][]byte)}
}

func (f *fakeObjectStore) Enabled() bool {
	return true
}

func (f *fakeObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.objects[key]
	return ok, nil
}

func (f *fakeObjectStore) Download(ctx context.Context, key string, dst *os.File) (int64, error) {
	data := f.objects[key]
	n, err := dst.Write(data)
	return int64(n), err
}

func (f *fakeObjectStore) Upload(ctx context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

var _ objectstore.ObjectStore = (*fakeObjectStore)(nil)

// testEnv wires real repositories, a relay store, and a VOD sandbox against
// an in-memory database.
type testEnv struct {
	db          *gorm.DB
	jobRepo     repository.RunnerJobRepository
	runnerRepo  repository.RunnerRepository
	tokenRepo   repository.RegistrationTokenRepository
	videoRepo   repository.VideoRepository
	sessionRepo repository.LiveSessionRepository
	relayStore  *relay.Store
	vodStore    *storage.Sandbox
	objects     *fakeObjectStore
	regService  *RegistrationService
	jobService  *JobService
	liveService *LiveService
}

func jobsTestConfig() config.JobsConfig {
	return config.JobsConfig{
		VODRetryBudget:   3,
		LiveRetryBudget:  1,
		VODStallTimeout:  30 * time.Minute,
		LiveStallTimeout: 30 * time.Second,
		MaxAvailableJobs: 10,
		UserQuotaBytes:   0,
	}
}

func newTestEnv(t *testing.T, cfg config.JobsConfig) *testEnv {
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

	env := &testEnv{
		db:          db,
		jobRepo:     repository.NewRunnerJobRepository(db),
		runnerRepo:  repository.NewRunnerRepository(db),
		tokenRepo:   repository.NewRegistrationTokenRepository(db),
		videoRepo:   repository.NewVideoRepository(db),
		sessionRepo: repository.NewLiveSessionRepository(db),
		relayStore:  relayStore,
		vodStore:    vodStore,
		objects:     newFakeObjectStore(),
	}

	env.regService = NewRegistrationService(env.tokenRepo, env.runnerRepo)
	finalizer := NewFinalizer(env.videoRepo, env.sessionRepo, relayStore, env.objects, vodStore)
	env.jobService = NewJobService(env.jobRepo, env.videoRepo, env.sessionRepo, env.regService, relayStore, finalizer, cfg)
	env.liveService = NewLiveService(env.sessionRepo, env.videoRepo, env.jobService)
	return env
}

func (e *testEnv) createVideo(t *testing.T, isLive bool) *models.Video {
	t.Helper()
	video := &models.Video{OwnerID: models.NewULID(), Name: "test video", IsLive: isLive}
	require.NoError(t, e.videoRepo.Create(context.Background(), video))
	return video
}

func (e *testEnv) registerRunner(t *testing.T, name string) *models.Runner {
	t.Helper()
	ctx := context.Background()
	token, err := e.regService.IssueToken(ctx)
	require.NoError(t, err)
	runner, err := e.regService.Register(ctx, token.Token, name, "")
	require.NoError(t, err)
	return runner
}

func (e *testEnv) createVODJob(t *testing.T, video *models.Video) *models.RunnerJob {
	t.Helper()
	job, err := e.jobService.Create(context.Background(), CreateJobInput{
		Type:    models.RunnerJobTypeVODWebVideo,
		Payload: models.WebVideoPayload{InputPath: "in.mp4", Resolution: 720},
		VideoID: video.ID,
	})
	require.NoError(t, err)
	return job
}

// acceptJob runs the full accept path and returns the job with its token.
func (e *testEnv) acceptJob(t *testing.T, runner *models.Runner, jobUUID string) *models.RunnerJob {
	t.Helper()
	accepted, err := e.jobService.Accept(context.Background(), jobUUID, runner.Token)
	require.NoError(t, err)
	return accepted
}

func stagedFile(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "staged-*.mp4")
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}
