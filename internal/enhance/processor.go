package enhance

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"
	"time"

	"realskin-backend/internal/database"
	"realskin-backend/internal/messaging"
	"realskin-backend/internal/pipeline"
	"realskin-backend/internal/storage"
	"realskin-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Error codes recorded on failed jobs.
const (
	ErrCodeInput    = "INPUT_ERROR"
	ErrCodePipeline = "PIPELINE_ERROR"
	ErrCodeTimeout  = "TIMEOUT"
	ErrCodeStorage  = "STORAGE_ERROR"
)

type Processor struct {
	db       *gorm.DB
	resolver *storage.Resolver
	engine   pipeline.Engine

	// outputStore is nil when no output bucket is configured; outputs are then
	// reported as local paths.
	outputStore storage.ObjectStore

	jobTimeout     time.Duration
	debugTraceback bool
}

var _ messaging.TaskProcessor = (*Processor)(nil)

func NewProcessor(db *gorm.DB, resolver *storage.Resolver, engine pipeline.Engine, outputStore storage.ObjectStore, jobTimeout time.Duration, debugTraceback bool) *Processor {
	return &Processor{
		db:             db,
		resolver:       resolver,
		engine:         engine,
		outputStore:    outputStore,
		jobTimeout:     jobTimeout,
		debugTraceback: debugTraceback,
	}
}

// ProcessEnhanceTask runs one job end to end. Job-level failures are recorded
// on the job and return nil so the task is acked; only infrastructure errors
// (database unreachable) propagate.
func (p *Processor) ProcessEnhanceTask(ctx context.Context, payload messaging.EnhanceTaskPayload) error {
	job, err := database.GetJob(ctx, p.db, payload.JobId)
	if err != nil {
		return fmt.Errorf("could not load job %v: %w", payload.JobId, err)
	}

	// Redelivered tasks for finished jobs are no-ops.
	if job.Status == database.JobCompleted || job.Status == database.JobFailed {
		slog.Info("job already finished, skipping", "job_id", job.Id, "status", job.Status)
		return nil
	}

	if err := database.UpdateJobStatus(ctx, p.db, job.Id, database.JobRunning); err != nil {
		return err
	}

	resolved, err := p.resolveInput(ctx, job)
	if err != nil {
		return p.failJob(ctx, job.Id, ErrCodeInput, fmt.Sprintf("could not resolve input image: %v", err), "")
	}

	runCtx := ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}

	produced, err := p.engine.Enhance(runCtx, pipeline.Request{
		ImagePath:     resolved.Path,
		DetailAmount:  job.DetailAmount,
		UpscaleFactor: job.UpscaleFactor,
	})
	if err != nil {
		var pipelineErr *pipeline.PipelineError
		if errors.As(err, &pipelineErr) {
			traceback := ""
			if p.debugTraceback {
				traceback = pipelineErr.Traceback
			}
			return p.failJob(ctx, job.Id, ErrCodePipeline, pipelineErr.Message, traceback)
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return p.failJob(ctx, job.Id, ErrCodeTimeout, fmt.Sprintf("job exceeded timeout of %v", p.jobTimeout), "")
		}
		return p.failJob(ctx, job.Id, ErrCodePipeline, fmt.Sprintf("enhancement pipeline failed: %v", err), "")
	}

	outputs, err := p.publishOutputs(ctx, job, produced)
	if err != nil {
		return p.failJob(ctx, job.Id, ErrCodeStorage, fmt.Sprintf("could not publish outputs: %v", err), "")
	}
	if len(outputs) == 0 {
		return p.failJob(ctx, job.Id, ErrCodePipeline, "pipeline produced none of the requested output variants", "")
	}

	if err := database.SaveJobOutputs(ctx, p.db, job.Id, outputs, resolved.UsedFallback); err != nil {
		return err
	}

	slog.Info("job completed", "job_id", job.Id, "outputs", len(outputs), "used_fallback", resolved.UsedFallback)
	return nil
}

func (p *Processor) resolveInput(ctx context.Context, job database.EnhanceJob) (storage.ResolvedInput, error) {
	// Base64 payloads were decoded to disk at submit time; the job only
	// carries the resulting path.
	if job.InputType == api.InputTypeBase64 {
		if _, err := os.Stat(job.InputRef); err != nil {
			return storage.ResolvedInput{}, fmt.Errorf("decoded upload %s is gone: %w", job.InputRef, err)
		}
		return storage.ResolvedInput{Path: job.InputRef}, nil
	}

	return p.resolver.Resolve(ctx, api.RunInput{Type: job.InputType, Data: job.InputRef})
}

// publishOutputs filters the produced images down to the variants the job
// asked for and converts each into its response form: base64 data, a storage
// URL, or a local path.
func (p *Processor) publishOutputs(ctx context.Context, job database.EnhanceJob, produced []pipeline.Output) (map[string]api.Output, error) {
	requested := requestedVariants(job)

	outputs := make(map[string]api.Output)
	for _, out := range produced {
		if !requested[out.Variant] {
			continue
		}

		result := api.Output{Filename: out.Filename}

		switch {
		case job.EncodeOutput:
			raw, err := os.ReadFile(out.LocalPath)
			if err != nil {
				return nil, fmt.Errorf("could not read output %s: %w", out.LocalPath, err)
			}
			result.Data = base64.StdEncoding.EncodeToString(raw)

		case p.outputStore != nil:
			key := path.Join(job.Id.String(), out.Filename)
			raw, err := os.ReadFile(out.LocalPath)
			if err != nil {
				return nil, fmt.Errorf("could not read output %s: %w", out.LocalPath, err)
			}
			if err := p.outputStore.PutObject(ctx, key, bytes.NewReader(raw)); err != nil {
				return nil, fmt.Errorf("could not upload output %s: %w", key, err)
			}
			result.Url = p.outputStore.ObjectURL(key)

		default:
			result.Path = out.LocalPath
		}

		outputs[out.Variant] = result
	}

	return outputs, nil
}

func (p *Processor) failJob(ctx context.Context, jobId uuid.UUID, code, message, traceback string) error {
	slog.Error("job failed", "job_id", jobId, "code", code, "error", message)
	return database.SaveJobError(ctx, p.db, jobId, code, message, traceback)
}

func requestedVariants(job database.EnhanceJob) map[string]bool {
	requested := make(map[string]bool)
	if job.RequestedVariants == "" {
		for _, v := range api.AllVariants {
			requested[v] = true
		}
		return requested
	}
	for _, v := range strings.Split(job.RequestedVariants, ",") {
		requested[strings.TrimSpace(v)] = true
	}
	return requested
}
