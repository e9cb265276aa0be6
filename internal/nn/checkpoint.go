package nn

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/born-ml/resnet/internal/serialization"
)

// Metadata keys written by SaveModel.
const (
	MetaRunID     = "run_id"
	MetaArch      = "arch"
	MetaCreatedAt = "created_at"
)

// ModelInfo describes a saved model.
type ModelInfo struct {
	RunID     string
	Arch      string
	CreatedAt time.Time
	Metadata  map[string]string
}

// SaveModel writes the state dict of model to path in the .born format,
// replacing any existing file.
//
// Each save gets a fresh run ID. extra is merged into the file metadata and
// may be nil.
//
// Example:
//
//	info, err := nn.SaveModel("model.born", model, "ResNet18", nil)
//	log.Printf("saved %s (run %s)", path, info.RunID)
func SaveModel(path string, model Stateful, arch string, extra map[string]string) (ModelInfo, error) {
	info := ModelInfo{
		RunID:     uuid.NewString(),
		Arch:      arch,
		CreatedAt: time.Now().UTC(),
		Metadata:  make(map[string]string, len(extra)+3),
	}
	maps.Copy(info.Metadata, extra)
	info.Metadata[MetaRunID] = info.RunID
	info.Metadata[MetaArch] = arch
	info.Metadata[MetaCreatedAt] = info.CreatedAt.Format(time.RFC3339)

	if err := serialization.WriteFile(path, model.StateDict(), arch, info.Metadata); err != nil {
		return ModelInfo{}, fmt.Errorf("checkpoint: save %s: %w", path, err)
	}
	return info, nil
}

// LoadModel reads path and copies its tensors into model.
//
// The file must hold exactly the keys of model.StateDict() with matching
// shapes and dtypes; unknown or missing keys are an error.
func LoadModel(path string, model Stateful) (ModelInfo, error) {
	r, err := serialization.Open(path)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("checkpoint: %w", err)
	}
	state, err := r.ReadStateDict()
	if err != nil {
		return ModelInfo{}, fmt.Errorf("checkpoint: %s: %w", path, err)
	}

	want := model.StateDict()
	var unknown, missing []string
	for k := range state {
		if _, ok := want[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	for k := range want {
		if _, ok := state[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(unknown) > 0 || len(missing) > 0 {
		slices.Sort(unknown)
		slices.Sort(missing)
		return ModelInfo{}, fmt.Errorf("checkpoint: %s does not match model: unknown keys %v, missing keys %v", path, unknown, missing)
	}

	if err := model.LoadStateDict(state); err != nil {
		return ModelInfo{}, fmt.Errorf("checkpoint: %s: %w", path, err)
	}

	h := r.Header()
	info := ModelInfo{
		RunID:     h.Metadata[MetaRunID],
		Arch:      h.ModelType,
		CreatedAt: h.CreatedAt,
		Metadata:  h.Metadata,
	}
	return info, nil
}
