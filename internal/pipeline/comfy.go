package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/richinsley/comfy2go/client"
	"github.com/richinsley/comfy2go/graphapi"
)

// Titles of the nodes the workflow exposes in its "API" group. The workflow
// JSON is versioned separately; these are its contract with us.
const (
	loadImageNodeTitle = "Load Image"
	detailAmountTitle  = "Detail Amount"
	upscaleFactorTitle = "Upscale By"
	uploadPropertyName = "choose file to upload"
)

type ComfyConfig struct {
	Address      string
	Port         int
	WorkflowPath string
	// OutputDir is where produced images are written locally.
	OutputDir string
}

// ComfyEngine drives a ComfyUI server through its HTTP/websocket API.
type ComfyEngine struct {
	client *client.ComfyClient
	cfg    ComfyConfig
}

var _ Engine = (*ComfyEngine)(nil)

func NewComfyEngine(cfg ComfyConfig) *ComfyEngine {
	callbacks := &client.ComfyClientCallbacks{
		ClientQueueCountChanged: func(c *client.ComfyClient, queuecount int) {
			slog.Info("comfyui queue size changed", "queue_size", queuecount)
		},
	}

	return &ComfyEngine{
		client: client.NewComfyClient(cfg.Address, cfg.Port, callbacks),
		cfg:    cfg,
	}
}

func (e *ComfyEngine) Enhance(ctx context.Context, req Request) ([]Output, error) {
	if !e.client.IsInitialized() {
		if err := e.client.Init(); err != nil {
			return nil, fmt.Errorf("failed to initialize comfyui client: %w", err)
		}
	}

	graph, missing, err := e.client.NewGraphFromJsonFile(e.cfg.WorkflowPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow graph %s: %w", e.cfg.WorkflowPath, err)
	}
	if missing != nil && len(*missing) > 0 {
		return nil, fmt.Errorf("comfyui server is missing workflow nodes: %s", strings.Join(*missing, ", "))
	}

	if err := e.applyParameters(graph, req); err != nil {
		return nil, err
	}

	if err := e.uploadInput(graph, req.ImagePath); err != nil {
		return nil, err
	}

	item, err := e.client.QueuePrompt(graph)
	if err != nil {
		return nil, fmt.Errorf("failed to queue prompt: %w", err)
	}

	return e.collectOutputs(ctx, item)
}

func (e *ComfyEngine) applyParameters(graph *graphapi.Graph, req Request) error {
	sa := graph.GetSimpleAPI(nil)

	if prop, ok := sa.Properties[detailAmountTitle]; ok && req.DetailAmount > 0 {
		if err := prop.SetValue(req.DetailAmount); err != nil {
			return fmt.Errorf("failed to set detail amount: %w", err)
		}
	}
	if prop, ok := sa.Properties[upscaleFactorTitle]; ok && req.UpscaleFactor > 0 {
		if err := prop.SetValue(float64(req.UpscaleFactor)); err != nil {
			return fmt.Errorf("failed to set upscale factor: %w", err)
		}
	}

	return nil
}

func (e *ComfyEngine) uploadInput(graph *graphapi.Graph, imagePath string) error {
	node := graph.GetFirstNodeWithTitle(loadImageNodeTitle)
	if node == nil {
		return fmt.Errorf("workflow has no %q node", loadImageNodeTitle)
	}

	prop := node.GetPropertyWithName(uploadPropertyName)
	if prop == nil {
		return fmt.Errorf("node %q has no %q property", loadImageNodeTitle, uploadPropertyName)
	}

	uploadProp, ok := prop.ToImageUploadProperty()
	if !ok {
		return fmt.Errorf("property %q is not an image upload property", uploadPropertyName)
	}

	// Overwrite so repeated jobs for the same image reuse the server-side
	// name instead of accumulating copies.
	if _, err := e.client.UploadFileFromPath(imagePath, true, client.InputImageType, "", uploadProp); err != nil {
		return fmt.Errorf("failed to upload input image %s: %w", imagePath, err)
	}

	return nil
}

func (e *ComfyEngine) collectOutputs(ctx context.Context, item *client.QueueItem) ([]Output, error) {
	var outputs []Output

	for {
		select {
		case <-ctx.Done():
			if err := e.client.Interrupt(); err != nil {
				slog.Error("failed to interrupt comfyui prompt", "error", err)
			}
			return nil, ctx.Err()

		case msg := <-item.Messages:
			switch msg.Type {
			case "started":
				qm := msg.ToPromptMessageStarted()
				slog.Info("comfyui prompt started", "prompt_id", qm.PromptID)

			case "executing":
				qm := msg.ToPromptMessageExecuting()
				slog.Info("comfyui executing node", "node", qm.NodeID, "title", qm.Title)

			case "data":
				qm := msg.ToPromptMessageData()
				for kind, items := range qm.Data {
					if kind != "images" {
						continue
					}
					for _, data := range items {
						out, err := e.saveOutput(data)
						if err != nil {
							return nil, err
						}
						if out != nil {
							outputs = append(outputs, *out)
						}
					}
				}

			case "stopped":
				qm := msg.ToPromptMessageStopped()
				if qm.Exception != nil {
					return nil, &PipelineError{
						Message:   fmt.Sprintf("%s (%s): %s", qm.Exception.NodeName, qm.Exception.ExceptionType, qm.Exception.ExceptionMessage),
						Traceback: strings.Join(qm.Exception.Traceback, "\n"),
					}
				}
				return outputs, nil
			}
		}
	}
}

func (e *ComfyEngine) saveOutput(data client.DataOutput) (*Output, error) {
	variant, ok := MatchVariant(data.Filename)
	if !ok {
		// Workflows also save intermediates; only the named variants are
		// part of the contract.
		slog.Info("ignoring non-variant output", "filename", data.Filename)
		return nil, nil
	}

	raw, err := e.client.GetImage(data)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch output image %s: %w", data.Filename, err)
	}

	localPath := filepath.Join(e.cfg.OutputDir, data.Filename)
	if err := os.MkdirAll(filepath.Dir(localPath), os.ModePerm); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(localPath, *raw, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write output image %s: %w", localPath, err)
	}

	return &Output{Variant: variant, Filename: data.Filename, LocalPath: localPath}, nil
}
