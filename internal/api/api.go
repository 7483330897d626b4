package api

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"realskin-backend/internal/database"
	"realskin-backend/internal/messaging"
	"realskin-backend/pkg/api"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	// defaultImageId is used when a request carries no input at all. It is a
	// demo image that ships in the image bucket.
	defaultImageId = "Asian+Man+1+Before.jpg"

	defaultDetailAmount  = 0.7
	minDetailAmount      = 0.1
	maxDetailAmount      = 2.0
	defaultUpscaleFactor = 2

	maxJobListLimit = 100
)

type BackendService struct {
	db        *gorm.DB
	publisher messaging.Publisher

	// uploadDir receives decoded base64 inputs; the worker reads them back
	// from the same volume.
	uploadDir string

	syncTimeout      time.Duration
	syncPollInterval time.Duration
}

func NewBackendService(db *gorm.DB, pub messaging.Publisher, uploadDir string, syncTimeout time.Duration) *BackendService {
	return &BackendService{
		db:               db,
		publisher:        pub,
		uploadDir:        uploadDir,
		syncTimeout:      syncTimeout,
		syncPollInterval: 500 * time.Millisecond,
	}
}

func (s *BackendService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Post("/run", RestHandler(s.SubmitJob))
	r.Post("/runsync", RestHandler(s.SubmitJobSync))
	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", RestHandler(s.ListJobs))
		r.Get("/{job_id}", RestHandler(s.GetJob))
	})
}

func (s *BackendService) SubmitJob(r *http.Request) (any, error) {
	job, err := s.createJob(r)
	if err != nil {
		return nil, err
	}

	return api.RunSubmitResponse{JobId: job.Id, Status: job.Status}, nil
}

// SubmitJobSync submits a job and waits for it to finish. The worker may run
// in the same process (local mode) or behind the queue; either way progress
// is observed through the database.
func (s *BackendService) SubmitJobSync(r *http.Request) (any, error) {
	job, err := s.createJob(r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()
	deadline := time.Now().Add(s.syncTimeout)

	for {
		select {
		case <-ctx.Done():
			return nil, CodedErrorf(http.StatusRequestTimeout, "client disconnected while waiting for job %v", job.Id)
		case <-time.After(s.syncPollInterval):
		}

		current, err := database.GetJob(ctx, s.db, job.Id)
		if err != nil {
			slog.Error("error polling job", "job_id", job.Id, "error", err)
			return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving job record")
		}

		if current.Status == database.JobCompleted || current.Status == database.JobFailed {
			return jobToResponse(current)
		}

		if time.Now().After(deadline) {
			return nil, CodedErrorf(http.StatusGatewayTimeout, "job %v did not finish within %v", job.Id, s.syncTimeout)
		}
	}
}

func (s *BackendService) createJob(r *http.Request) (*database.EnhanceJob, error) {
	req, err := ParseRequest[api.RunRequest](r)
	if err != nil {
		return nil, err
	}

	input, err := normalizeInput(req.Input)
	if err != nil {
		return nil, err
	}

	params, err := normalizeParameters(req.Parameters)
	if err != nil {
		return nil, err
	}

	inputRef := input.Data
	if input.Type == api.InputTypeBase64 {
		// Decode now so a malformed payload fails the request, not the job,
		// and so the raw base64 never hits the database.
		inputRef, err = s.saveUpload(input.Data)
		if err != nil {
			return nil, err
		}
	}

	ctx := r.Context()

	job := &database.EnhanceJob{
		Id:                uuid.New(),
		Status:            database.JobQueued,
		InputType:         input.Type,
		InputRef:          inputRef,
		DetailAmount:      params.DetailAmount,
		UpscaleFactor:     params.UpscaleFactor,
		RequestedVariants: strings.Join(params.OutputVariants, ","),
		EncodeOutput:      params.EncodeOutput,
		CreationTime:      time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&job).Error; err != nil {
		slog.Error("error creating job", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to create job entry")
	}

	if err := s.publisher.PublishEnhanceTask(ctx, messaging.EnhanceTaskPayload{JobId: job.Id}); err != nil {
		slog.Error("error publishing enhance task", "job_id", job.Id, "error", err)
		if dbErr := database.SaveJobError(ctx, s.db, job.Id, "QUEUE_ERROR", "failed to queue job", ""); dbErr != nil {
			slog.Error("error marking unqueued job failed", "job_id", job.Id, "error", dbErr)
		}
		return nil, CodedErrorf(http.StatusInternalServerError, "failed to queue enhancement task")
	}

	slog.Info("submitted enhance job", "job_id", job.Id, "input_type", job.InputType)
	return job, nil
}

func (s *BackendService) saveUpload(data string) (string, error) {
	if strings.HasPrefix(data, "data:") {
		if _, rest, ok := strings.Cut(data, ","); ok {
			data = rest
		}
	}

	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", CodedErrorf(http.StatusBadRequest, "invalid base64 image data")
	}

	if err := os.MkdirAll(s.uploadDir, os.ModePerm); err != nil {
		slog.Error("error creating upload directory", "dir", s.uploadDir, "error", err)
		return "", CodedErrorf(http.StatusInternalServerError, "failed to store uploaded image")
	}

	path := filepath.Join(s.uploadDir, "upload-"+uuid.NewString()+".png")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		slog.Error("error writing uploaded image", "path", path, "error", err)
		return "", CodedErrorf(http.StatusInternalServerError, "failed to store uploaded image")
	}

	return path, nil
}

func (s *BackendService) GetJob(r *http.Request) (any, error) {
	jobId, err := URLParamUUID(r, "job_id")
	if err != nil {
		return nil, err
	}

	job, err := database.GetJob(r.Context(), s.db, jobId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, CodedErrorf(http.StatusNotFound, "job not found")
		}
		slog.Error("error getting job", "job_id", jobId, "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error retrieving job record")
	}

	return jobToResponse(job)
}

type listJobsQuery struct {
	Status string `schema:"status"`
	Limit  int    `schema:"limit"`
}

func (s *BackendService) ListJobs(r *http.Request) (any, error) {
	query, err := ParseRequestQueryParams[listJobsQuery](r)
	if err != nil {
		return nil, err
	}

	if query.Limit <= 0 || query.Limit > maxJobListLimit {
		query.Limit = maxJobListLimit
	}

	db := s.db.WithContext(r.Context()).Order("creation_time DESC").Limit(query.Limit)
	if query.Status != "" {
		status := strings.ToUpper(query.Status)
		if !slices.Contains([]string{database.JobQueued, database.JobRunning, database.JobCompleted, database.JobFailed}, status) {
			return nil, CodedErrorf(http.StatusBadRequest, "invalid status filter %q", query.Status)
		}
		db = db.Where("status = ?", status)
	}

	var jobs []database.EnhanceJob
	if err := db.Find(&jobs).Error; err != nil {
		slog.Error("error listing jobs", "error", err)
		return nil, CodedErrorf(http.StatusInternalServerError, "error listing jobs")
	}

	res := api.ListJobsResponse{Jobs: make([]api.JobResponse, 0, len(jobs))}
	for _, job := range jobs {
		jr, err := jobToResponse(job)
		if err != nil {
			return nil, err
		}
		res.Jobs = append(res.Jobs, jr)
	}

	return res, nil
}

func normalizeInput(input api.RunInput) (api.RunInput, error) {
	// Older clients send {"input": {"image_id": "..."}} without a type.
	if input.Type == "" {
		imageId := input.ImageId
		if imageId == "" {
			imageId = defaultImageId
		}
		return api.RunInput{Type: api.InputTypeImageId, Data: imageId}, nil
	}

	switch input.Type {
	case api.InputTypeImageId, api.InputTypeBase64, api.InputTypeUrl:
	default:
		return api.RunInput{}, CodedErrorf(http.StatusBadRequest, "unsupported input type %q", input.Type)
	}

	if input.Data == "" {
		return api.RunInput{}, CodedErrorf(http.StatusBadRequest, "input data is required for type %q", input.Type)
	}

	return api.RunInput{Type: input.Type, Data: input.Data}, nil
}

func normalizeParameters(params api.RunParameters) (api.RunParameters, error) {
	if params.DetailAmount == 0 {
		params.DetailAmount = defaultDetailAmount
	}
	if params.DetailAmount < minDetailAmount || params.DetailAmount > maxDetailAmount {
		return api.RunParameters{}, CodedErrorf(http.StatusBadRequest, "detail_amount must be between %v and %v", minDetailAmount, maxDetailAmount)
	}

	if params.UpscaleFactor == 0 {
		params.UpscaleFactor = defaultUpscaleFactor
	}
	if params.UpscaleFactor != 2 && params.UpscaleFactor != 4 {
		return api.RunParameters{}, CodedErrorf(http.StatusBadRequest, "upscale_factor must be 2 or 4")
	}

	for _, variant := range params.OutputVariants {
		if !slices.Contains(api.AllVariants, variant) {
			return api.RunParameters{}, CodedErrorf(http.StatusBadRequest, "unknown output variant %q, valid variants: %s", variant, strings.Join(api.AllVariants, ", "))
		}
	}

	return params, nil
}
