package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobQueued    string = "QUEUED"
	JobRunning   string = "RUNNING"
	JobCompleted string = "COMPLETED"
	JobFailed    string = "FAILED"
)

type EnhanceJob struct {
	Id uuid.UUID `gorm:"type:uuid;primaryKey"`

	Status string `gorm:"size:20;not null"`

	InputType string `gorm:"size:20;not null"`
	// InputRef is the object key or URL for image_id/url inputs, or the local
	// path of the decoded upload for base64 inputs. The raw base64 payload is
	// never persisted.
	InputRef string

	DetailAmount  float64 `gorm:"default:0.7"`
	UpscaleFactor int     `gorm:"default:2"`
	// RequestedVariants is comma-separated; empty means all variants.
	RequestedVariants string
	EncodeOutput      bool `gorm:"default:false"`

	// Outputs maps variant name -> {filename, path, url, data}.
	Outputs datatypes.JSON

	UsedFallbackImage bool `gorm:"default:false"`

	ErrorCode    sql.NullString `gorm:"size:32"`
	ErrorMessage sql.NullString
	Traceback    sql.NullString

	CreationTime   time.Time
	StartTime      sql.NullTime
	CompletionTime sql.NullTime
}
