package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"realskin-backend/internal/manifest"

	"github.com/go-resty/resty/v2"
	"github.com/schollz/progressbar/v3"
)

// modelsync verifies that the model weights the workflow needs are present
// under the ComfyUI models directory and downloads the ones that can be
// fetched directly. Gated models are reported and must be installed by hand.

func main() {
	manifestPath := "models_required.json"
	if v := os.Getenv("MODEL_MANIFEST"); v != "" {
		manifestPath = v
	}

	modelsDir := os.Getenv("COMFY_MODELS_DIR")
	if modelsDir == "" {
		modelsDir = "/comfyui/models"
	}

	m, err := manifest.Load(manifestPath)
	if err != nil {
		log.Fatalf("Failed to load model manifest: %v", err)
	}

	missing := m.Verify(modelsDir)
	if len(missing) == 0 {
		log.Printf("All %d model assets present under %s", len(m.Models), modelsDir)
		return
	}

	client := resty.New().SetDoNotParseResponse(true)

	var manual []manifest.CheckResult
	failures := 0
	for _, result := range missing {
		if result.Asset.URL == "" {
			manual = append(manual, result)
			continue
		}

		log.Printf("Fetching %s (%s)", result.Asset.Name, result.Reason)
		if err := download(client, result.Asset, modelsDir); err != nil {
			log.Printf("Failed to download %s: %v", result.Asset.Name, err)
			failures++
		}
	}

	for _, result := range manual {
		log.Printf("MANUAL: %s (%s) must be installed at %s", result.Asset.Name, result.Reason, filepath.Join(modelsDir, result.Asset.Path))
	}

	if failures > 0 || len(manual) > 0 {
		os.Exit(1)
	}
}

func download(client *resty.Client, asset manifest.ModelAsset, modelsDir string) error {
	dest := filepath.Join(modelsDir, asset.Path)
	if err := os.MkdirAll(filepath.Dir(dest), os.ModePerm); err != nil {
		return fmt.Errorf("could not create directory for %s: %w", dest, err)
	}

	res, err := client.R().Get(asset.URL)
	if err != nil {
		return err
	}
	body := res.RawBody()
	defer body.Close()

	if res.StatusCode() != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", res.StatusCode(), asset.URL)
	}

	// Download to a temp name first so an interrupted fetch never leaves a
	// truncated weight file where the verify step would accept it.
	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("could not create %s: %w", tmp, err)
	}

	bar := progressbar.DefaultBytes(res.RawResponse.ContentLength, asset.Name)
	if _, err := io.Copy(io.MultiWriter(out, bar), body); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("download of %s failed: %w", asset.URL, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dest)
}
