package nn

import (
	"fmt"
	"strings"

	"github.com/born-ml/resnet/internal/tensor"
)

// mergeState copies every entry of child into dst under prefix + ".".
func mergeState(dst map[string]*tensor.RawTensor, prefix string, child map[string]*tensor.RawTensor) {
	for k, v := range child {
		dst[prefix+"."+k] = v
	}
}

// subState returns the entries of stateDict under prefix + "." with the prefix removed.
func subState(stateDict map[string]*tensor.RawTensor, prefix string) map[string]*tensor.RawTensor {
	p := prefix + "."
	out := make(map[string]*tensor.RawTensor)
	for k, v := range stateDict {
		if rest, ok := strings.CutPrefix(k, p); ok {
			out[rest] = v
		}
	}
	return out
}

// loadInto copies the entry named key into dst after checking shape and dtype.
func loadInto(dst *tensor.RawTensor, stateDict map[string]*tensor.RawTensor, key string) error {
	src, ok := stateDict[key]
	if !ok {
		return fmt.Errorf("missing %s in state dict", key)
	}
	if !src.Shape().Equal(dst.Shape()) {
		return fmt.Errorf("%s shape mismatch: expected %v, got %v", key, dst.Shape(), src.Shape())
	}
	if src.DType() != dst.DType() {
		return fmt.Errorf("%s dtype mismatch: expected %s, got %s", key, dst.DType(), src.DType())
	}
	copy(dst.Data(), src.Data())
	return nil
}

// StateDictOf is the shared StateDict implementation for composite modules:
// each named child contributes its entries under "name.".
func StateDictOf(children []NamedState) map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor)
	for _, c := range children {
		mergeState(out, c.Name, c.Module.StateDict())
	}
	return out
}

// LoadStateDictOf loads each named child from its "name." slice of stateDict.
func LoadStateDictOf(children []NamedState, stateDict map[string]*tensor.RawTensor) error {
	for _, c := range children {
		if err := c.Module.LoadStateDict(subState(stateDict, c.Name)); err != nil {
			return fmt.Errorf("%s: %w", c.Name, err)
		}
	}
	return nil
}

// Stateful is the state-dict half of Module, independent of the backend.
type Stateful interface {
	StateDict() map[string]*tensor.RawTensor
	LoadStateDict(stateDict map[string]*tensor.RawTensor) error
}

// NamedState pairs a child module with its state-dict prefix.
type NamedState struct {
	Name   string
	Module Stateful
}
