package pipeline

import (
	"context"
)

// Request describes one enhancement run. ImagePath is a local file; the
// engine is responsible for getting it to the workflow's input node.
type Request struct {
	ImagePath     string
	DetailAmount  float64
	UpscaleFactor int
}

// Output is one image saved by the workflow, already written to local disk.
type Output struct {
	Variant   string
	Filename  string
	LocalPath string
}

// Engine runs the enhancement workflow on a single input image and returns
// every variant the workflow produced. Filtering down to the variants a job
// requested happens in the job processor.
type Engine interface {
	Enhance(ctx context.Context, req Request) ([]Output, error)
}

// PipelineError is a processing failure reported by the engine, as opposed to
// an infrastructure failure reaching it.
type PipelineError struct {
	Message   string
	Traceback string
}

func (e *PipelineError) Error() string {
	return e.Message
}
