package integrationtests

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	backend "realskin-backend/internal/api"
	"realskin-backend/internal/database"
	"realskin-backend/internal/enhance"
	"realskin-backend/internal/messaging"
	"realskin-backend/internal/pipeline"
	"realskin-backend/internal/storage"
	"realskin-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine stands in for the ComfyUI pipeline: it writes one file per
// variant using the workflow's real filename prefixes.
type fakeEngine struct {
	dir string
}

func (e *fakeEngine) Enhance(ctx context.Context, req pipeline.Request) ([]pipeline.Output, error) {
	var outputs []pipeline.Output
	for _, variant := range api.AllVariants {
		prefix, _ := pipeline.VariantPrefix(variant)
		filename := prefix + "_00001_.png"
		path := filepath.Join(e.dir, filename)
		if err := os.WriteFile(path, []byte("enhanced "+variant), 0o644); err != nil {
			return nil, err
		}
		outputs = append(outputs, pipeline.Output{Variant: variant, Filename: filename, LocalPath: path})
	}
	return outputs, nil
}

func TestEnhanceWorkflow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db := createDB(t)

	imageStore, err := storage.NewLocalObjectStore(t.TempDir(), "images")
	require.NoError(t, err)
	require.NoError(t, imageStore.EnsureBucket(ctx))
	require.NoError(t, imageStore.PutObject(ctx, "portrait.jpg", bytes.NewReader([]byte("input"))))

	outputStore, err := storage.NewLocalObjectStore(t.TempDir(), "outputs")
	require.NoError(t, err)
	require.NoError(t, outputStore.EnsureBucket(ctx))

	resolver := storage.NewResolver(imageStore, storage.ResolverConfig{
		DownloadDir: t.TempDir(),
		Retries:     2,
		RetryDelay:  time.Millisecond,
	})

	queue := messaging.NewInMemoryQueue()
	processor := enhance.NewProcessor(db, resolver, &fakeEngine{dir: t.TempDir()}, outputStore, time.Minute, false)
	worker := messaging.NewWorker(queue, processor, 1)

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	go worker.Run(workerCtx)

	service := backend.NewBackendService(db, queue, t.TempDir(), 30*time.Second)
	router := chi.NewRouter()
	service.AddRoutes(router)

	t.Run("AsyncRun", func(t *testing.T) {
		var submit api.RunSubmitResponse
		require.NoError(t, httpRequest(router, http.MethodPost, "/run", api.RunRequest{
			Input:      api.RunInput{Type: api.InputTypeImageId, Data: "portrait.jpg"},
			Parameters: api.RunParameters{OutputVariants: []string{api.VariantFinalHiRes}},
		}, &submit))
		assert.Equal(t, database.JobQueued, submit.Status)

		var job api.JobResponse
		require.Eventually(t, func() bool {
			require.NoError(t, httpRequest(router, http.MethodGet, "/jobs/"+submit.JobId.String(), nil, &job))
			return job.Status == database.JobCompleted || job.Status == database.JobFailed
		}, 30*time.Second, 100*time.Millisecond)

		require.Equal(t, database.JobCompleted, job.Status)
		require.Len(t, job.Outputs, 1)

		out := job.Outputs[api.VariantFinalHiRes]
		require.NotEmpty(t, out.Url)

		data, err := os.ReadFile(out.Url)
		require.NoError(t, err)
		assert.Equal(t, []byte("enhanced "+api.VariantFinalHiRes), data)
	})

	t.Run("SyncRun", func(t *testing.T) {
		var job api.JobResponse
		require.NoError(t, httpRequest(router, http.MethodPost, "/runsync", api.RunRequest{
			Input: api.RunInput{Type: api.InputTypeImageId, Data: "portrait.jpg"},
		}, &job))

		assert.Equal(t, database.JobCompleted, job.Status)
		assert.Len(t, job.Outputs, len(api.AllVariants))
	})

	t.Run("FallbackRun", func(t *testing.T) {
		var job api.JobResponse
		require.NoError(t, httpRequest(router, http.MethodPost, "/runsync", api.RunRequest{
			Input: api.RunInput{Type: api.InputTypeImageId, Data: "missing.jpg"},
		}, &job))

		// The input could not be fetched, but the job still completes against
		// the fallback image.
		assert.Equal(t, database.JobCompleted, job.Status)
	})
}
