package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"realskin-backend/pkg/api"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

func UpdateJobStatus(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, status string) error {
	updates := map[string]any{"status": status}
	if status == JobRunning {
		updates["start_time"] = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}
	if status == JobCompleted || status == JobFailed {
		updates["completion_time"] = sql.NullTime{Time: time.Now().UTC(), Valid: true}
	}

	if err := txn.WithContext(ctx).Model(&EnhanceJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error updating job status", "job_id", jobId, "status", status, "error", err)
		return err
	}
	return nil
}

func SaveJobOutputs(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, outputs map[string]api.Output, usedFallback bool) error {
	data, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("could not marshal job outputs: %w", err)
	}

	updates := map[string]any{
		"status":              JobCompleted,
		"outputs":             data,
		"used_fallback_image": usedFallback,
		"completion_time":     sql.NullTime{Time: time.Now().UTC(), Valid: true},
	}

	if err := txn.WithContext(ctx).Model(&EnhanceJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error saving job outputs", "job_id", jobId, "error", err)
		return err
	}
	return nil
}

func SaveJobError(ctx context.Context, txn *gorm.DB, jobId uuid.UUID, code, message, traceback string) error {
	updates := map[string]any{
		"status":          JobFailed,
		"error_code":      sql.NullString{String: code, Valid: code != ""},
		"error_message":   sql.NullString{String: message, Valid: message != ""},
		"completion_time": sql.NullTime{Time: time.Now().UTC(), Valid: true},
	}
	if traceback != "" {
		updates["traceback"] = sql.NullString{String: traceback, Valid: true}
	}

	if err := txn.WithContext(ctx).Model(&EnhanceJob{Id: jobId}).Updates(updates).Error; err != nil {
		slog.Error("error saving job error", "job_id", jobId, "error", err)
		return err
	}
	return nil
}

func GetJob(ctx context.Context, db *gorm.DB, jobId uuid.UUID) (EnhanceJob, error) {
	var job EnhanceJob
	err := db.WithContext(ctx).First(&job, "id = ?", jobId).Error
	return job, err
}
