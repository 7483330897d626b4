package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ModelAsset is one required model weight file. Path is relative to the
// ComfyUI models directory. A zero ExpectedBytes means only presence is
// checked. An empty URL means the asset has to be installed manually
// (gated or license-restricted downloads).
type ModelAsset struct {
	Name          string `json:"name"`
	Path          string `json:"path"`
	URL           string `json:"url,omitempty"`
	ExpectedBytes int64  `json:"expected_bytes,omitempty"`
}

type Manifest struct {
	Models []ModelAsset `json:"models"`
}

func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read manifest %s: %w", path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("could not parse manifest %s: %w", path, err)
	}

	for i, asset := range m.Models {
		if asset.Name == "" || asset.Path == "" {
			return nil, fmt.Errorf("manifest entry %d is missing name or path", i)
		}
		if filepath.IsAbs(asset.Path) {
			return nil, fmt.Errorf("manifest entry %q has an absolute path, paths must be relative to the models directory", asset.Name)
		}
	}

	return &m, nil
}

type CheckResult struct {
	Asset  ModelAsset
	Reason string
}

// Verify checks every asset against the models directory and returns the ones
// that are missing or have the wrong size.
func (m *Manifest) Verify(modelsDir string) []CheckResult {
	var missing []CheckResult

	for _, asset := range m.Models {
		full := filepath.Join(modelsDir, asset.Path)

		info, err := os.Stat(full)
		if err != nil {
			missing = append(missing, CheckResult{Asset: asset, Reason: "not found"})
			continue
		}

		if asset.ExpectedBytes > 0 && info.Size() != asset.ExpectedBytes {
			missing = append(missing, CheckResult{
				Asset:  asset,
				Reason: fmt.Sprintf("size mismatch: have %d bytes, want %d", info.Size(), asset.ExpectedBytes),
			})
		}
	}

	return missing
}
