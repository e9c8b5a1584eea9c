package nn

import (
	"fmt"
	"strconv"

	"github.com/born-ml/visionzoo/internal/script"
	"github.com/born-ml/visionzoo/internal/tensor"
)

// Sequential is a container module that chains modules together.
//
// Each module's output becomes the next module's input. Children added
// with NewSequential or Add are named by their position ("0", "1", ...),
// so state dict keys read "features.3.weight".
//
// Example:
//
//	block := nn.NewSequential(
//	    nn.NewConv2D(g, backend, nn.ConvConfig{In: 3, Out: 64, Kernel: nn.Pair(3), Padding: nn.Pair(1)}),
//	    nn.NewReLU(backend),
//	)
//	out := block.Forward(x)
type Sequential struct {
	Base
	names   []string
	modules []Module
}

// NewSequential creates a container with positionally named children.
func NewSequential(modules ...Module) *Sequential {
	s := &Sequential{}
	for _, m := range modules {
		s.Add(m)
	}
	return s
}

// Add appends a module named by its position.
func (s *Sequential) Add(m Module) {
	s.AddNamed(strconv.Itoa(len(s.modules)), m)
}

// AddNamed appends a module under an explicit name.
func (s *Sequential) AddNamed(name string, m Module) {
	for _, n := range s.names {
		if n == name {
			panic(fmt.Sprintf("sequential: duplicate child name %q", name))
		}
	}
	s.names = append(s.names, name)
	s.modules = append(s.modules, m)
}

// Len returns the number of children.
func (s *Sequential) Len() int { return len(s.modules) }

// At returns the i-th child.
func (s *Sequential) At(i int) Module { return s.modules[i] }

// Children returns the named children.
func (s *Sequential) Children() []Child {
	out := make([]Child, len(s.modules))
	for i, m := range s.modules {
		out[i] = Child{Name: s.names[i], Layer: m}
	}
	return out
}

// Forward applies all modules in sequence.
func (s *Sequential) Forward(x *tensor.Tensor) *tensor.Tensor {
	for _, m := range s.modules {
		x = m.Forward(x)
	}
	return x
}

// Script lowers each child in order.
func (s *Sequential) Script(b *script.Builder, in script.Value) (script.Value, error) {
	v := in
	for i, m := range s.modules {
		var err error
		if v, err = b.Call(s.names[i], m, v); err != nil {
			return script.Value{}, err
		}
	}
	return v, nil
}

// Slice returns a Sequential of l's children up to and including the child
// named stop. Every child on the way must be a Module. The children are
// shared with l, not copied.
//
// For a ResNet, Slice(model, "layer4") drops the pooling head and returns
// the final feature map.
func Slice(l Layer, stop string) (*Sequential, error) {
	s := &Sequential{}
	for _, c := range l.Children() {
		m, ok := c.Layer.(Module)
		if !ok {
			return nil, fmt.Errorf("slice: child %q is not a tensor-to-tensor module", c.Name)
		}
		s.AddNamed(c.Name, m)
		if c.Name == stop {
			return s, nil
		}
	}
	return nil, fmt.Errorf("slice: no child named %q", stop)
}
