package nn

import (
	"github.com/born-ml/visionzoo/internal/tensor"
)

// Parameter is a named tensor owned by a layer.
//
// Buffers (batch-norm running statistics) are parameters that are part of
// the state dict but are not learned weights.
//
// Example:
//
//	weight := nn.NewParameter("weight", tensor.Zeros(tensor.Shape{64, 3, 7, 7}))
//	w := weight.Tensor()
type Parameter struct {
	name   string
	tensor *tensor.Tensor
	buffer bool
}

// NewParameter creates a learned parameter.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{name: name, tensor: t}
}

// NewBuffer creates a non-learned state tensor.
func NewBuffer(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{name: name, tensor: t, buffer: true}
}

// Name returns the parameter name within its layer (e.g. "weight").
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

// IsBuffer reports whether p is a buffer rather than a learned weight.
func (p *Parameter) IsBuffer() bool {
	return p.buffer
}

// NamedParameter pairs a parameter with its dotted path in the tree.
type NamedParameter struct {
	Path  string
	Param *Parameter
}

// NamedParameters returns every parameter and buffer in the tree in
// registration order.
func NamedParameters(l Layer) []NamedParameter {
	var out []NamedParameter
	Walk(l, func(path string, m Layer) {
		for _, p := range m.OwnParameters() {
			if p == nil {
				continue
			}
			out = append(out, NamedParameter{Path: join(path, p.name), Param: p})
		}
	})
	return out
}

// Parameters returns the learned parameters of the tree (buffers excluded).
func Parameters(l Layer) []*Parameter {
	var out []*Parameter
	for _, np := range NamedParameters(l) {
		if !np.Param.buffer {
			out = append(out, np.Param)
		}
	}
	return out
}

// NumParameters counts the learned scalar weights of the tree.
func NumParameters(l Layer) int {
	n := 0
	for _, p := range Parameters(l) {
		n += p.tensor.NumElements()
	}
	return n
}
