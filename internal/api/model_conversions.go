package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"realskin-backend/internal/database"
	"realskin-backend/pkg/api"
)

func jobToResponse(job database.EnhanceJob) (api.JobResponse, error) {
	res := api.JobResponse{
		JobId:        job.Id,
		Status:       job.Status,
		CreationTime: job.CreationTime,
	}

	if job.CompletionTime.Valid {
		t := job.CompletionTime.Time
		res.CompletionTime = &t
	}

	if len(job.Outputs) > 0 {
		var outputs map[string]api.Output
		if err := json.Unmarshal(job.Outputs, &outputs); err != nil {
			slog.Error("error parsing stored job outputs", "job_id", job.Id, "error", err)
			return api.JobResponse{}, CodedErrorf(http.StatusInternalServerError, "error parsing job outputs")
		}
		res.Outputs = outputs
	}

	if job.ErrorCode.Valid {
		res.ErrorCode = job.ErrorCode.String
	}
	if job.ErrorMessage.Valid {
		res.ErrorMessage = job.ErrorMessage.String
	}
	if job.Traceback.Valid {
		res.Traceback = job.Traceback.String
	}

	return res, nil
}
