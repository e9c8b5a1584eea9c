package nn

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/born-ml/visionzoo/internal/tensor"
)

// ErrStateDict is returned when a state dict does not fit a model.
var ErrStateDict = errors.New("state dict mismatch")

// StateDict returns deep copies of every parameter and buffer, keyed by
// dotted path.
func StateDict(l Layer) map[string]*tensor.Tensor {
	named := NamedParameters(l)
	sd := make(map[string]*tensor.Tensor, len(named))
	for _, np := range named {
		sd[np.Path] = np.Param.tensor.Clone()
	}
	return sd
}

// StateDictKeys returns the state dict keys in registration order.
func StateDictKeys(l Layer) []string {
	named := NamedParameters(l)
	keys := make([]string, len(named))
	for i, np := range named {
		keys[i] = np.Path
	}
	return keys
}

// LoadStateDict copies sd into the tree's parameters and buffers.
//
// Every key of the model must be present with the same shape, and sd must
// not contain keys the model does not have. Nothing is copied unless the
// whole dict matches.
func LoadStateDict(l Layer, sd map[string]*tensor.Tensor) error {
	named := NamedParameters(l)
	seen := make(map[string]bool, len(named))

	var missing, mismatched []string
	for _, np := range named {
		seen[np.Path] = true
		src, ok := sd[np.Path]
		if !ok {
			missing = append(missing, np.Path)
			continue
		}
		if !src.Shape().Equal(np.Param.tensor.Shape()) {
			mismatched = append(mismatched, fmt.Sprintf("%s: model %v, dict %v",
				np.Path, np.Param.tensor.Shape(), src.Shape()))
		}
	}
	var unexpected []string
	for k := range sd {
		if !seen[k] {
			unexpected = append(unexpected, k)
		}
	}
	sort.Strings(unexpected)

	if len(missing)+len(unexpected)+len(mismatched) > 0 {
		var parts []string
		if len(missing) > 0 {
			parts = append(parts, "missing keys: "+strings.Join(missing, ", "))
		}
		if len(unexpected) > 0 {
			parts = append(parts, "unexpected keys: "+strings.Join(unexpected, ", "))
		}
		if len(mismatched) > 0 {
			parts = append(parts, "shape mismatch: "+strings.Join(mismatched, "; "))
		}
		return fmt.Errorf("%w: %s", ErrStateDict, strings.Join(parts, "; "))
	}

	for _, np := range named {
		if err := np.Param.tensor.CopyFrom(sd[np.Path]); err != nil {
			return fmt.Errorf("load %s: %w", np.Path, err)
		}
	}
	return nil
}
