package api

import (
	"time"

	"github.com/google/uuid"
)

// Input source types accepted by the run endpoints.
const (
	InputTypeImageId = "image_id"
	InputTypeBase64  = "base64"
	InputTypeUrl     = "url"
)

// Output variants produced by the enhancement workflow.
const (
	VariantComparison   = "comparison_image"
	VariantFinalResized = "final_resized"
	VariantFinalHiRes   = "final_hires"
	VariantFirstHiRes   = "first_hires"
)

// AllVariants lists every variant the workflow can produce, in the order the
// workflow saves them.
var AllVariants = []string{
	VariantComparison,
	VariantFinalResized,
	VariantFinalHiRes,
	VariantFirstHiRes,
}

type RunInput struct {
	Type string `json:"type"`
	Data string `json:"data"`

	// ImageId is the legacy request form. Older clients send
	// {"input": {"image_id": "..."}} with no type discriminator.
	ImageId string `json:"image_id,omitempty"`
}

type RunParameters struct {
	DetailAmount   float64  `json:"detail_amount,omitempty"`
	UpscaleFactor  int      `json:"upscale_factor,omitempty"`
	OutputVariants []string `json:"output_variants,omitempty"`

	// EncodeOutput requests base64 payloads in the response instead of
	// storage URLs / file paths.
	EncodeOutput bool `json:"encode_output,omitempty"`
}

type RunRequest struct {
	Input      RunInput      `json:"input"`
	Parameters RunParameters `json:"parameters"`
}

type RunSubmitResponse struct {
	JobId  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`
}

// Output describes one produced variant. Exactly one of Path/Url/Data is the
// primary payload depending on deployment mode and request parameters.
type Output struct {
	Filename string `json:"filename"`
	Path     string `json:"path,omitempty"`
	Url      string `json:"url,omitempty"`
	Data     string `json:"data,omitempty"`
}

type JobResponse struct {
	JobId  uuid.UUID `json:"job_id"`
	Status string    `json:"status"`

	Outputs map[string]Output `json:"outputs,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Traceback    string `json:"traceback,omitempty"`

	CreationTime   time.Time  `json:"creation_time"`
	CompletionTime *time.Time `json:"completion_time,omitempty"`
}

type ListJobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}
