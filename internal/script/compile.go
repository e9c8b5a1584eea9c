package script

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors classifying why a model cannot be compiled.
var (
	ErrGroupedConv   = errors.New("grouped convolution is not supported")
	ErrAuxOutputs    = errors.New("auxiliary outputs are not supported")
	ErrTensorList    = errors.New("operation consumes a variable-length tensor list")
	ErrMappingOutput = errors.New("model returns a mapping of tensors")
	ErrRecordOutput  = errors.New("model returns per-image records")
	ErrNotLowerable  = errors.New("layer has no static lowering")
	ErrPanic         = errors.New("panic during lowering")
)

// CompileError reports the layer scope at which lowering failed.
type CompileError struct {
	Scope string
	Err   error
}

func (e *CompileError) Error() string {
	if e.Scope == "" {
		return "script: " + e.Err.Error()
	}
	return fmt.Sprintf("script: %s: %v", e.Scope, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// Scriptable is implemented by anything that can describe its computation
// to a Builder. in is the symbolic input; the returned value is the output.
type Scriptable interface {
	Script(b *Builder, in Value) (Value, error)
}

// Compile lowers m into a static graph. Any error or panic raised while
// lowering is returned as a *CompileError.
func Compile(m Scriptable) (g *Graph, err error) {
	b := &Builder{}
	defer func() {
		if r := recover(); r != nil {
			g = nil
			err = &CompileError{Scope: b.path(), Err: fmt.Errorf("%w: %v", ErrPanic, r)}
		}
	}()

	in := b.value(KindTensor)
	out, err := m.Script(b, in)
	if err != nil {
		var ce *CompileError
		if !errors.As(err, &ce) {
			err = &CompileError{Scope: b.path(), Err: err}
		}
		return nil, err
	}

	switch out.kind {
	case KindTensor:
	case KindMapping:
		return nil, &CompileError{Err: ErrMappingOutput}
	case KindRecords:
		return nil, &CompileError{Err: ErrRecordOutput}
	default:
		return nil, &CompileError{Err: fmt.Errorf("%w: model returns %v", ErrTensorList, out.kind)}
	}

	return &Graph{Input: in, Output: out, Nodes: b.nodes}, nil
}

// IsScriptable reports whether Compile succeeds for m.
func IsScriptable(m Scriptable) bool {
	_, err := Compile(m)
	return err == nil
}

// Builder records nodes while a layer tree lowers itself.
type Builder struct {
	nodes []Node
	next  int
	scope []string
}

func (b *Builder) value(kind Kind) Value {
	v := Value{id: b.next, kind: kind}
	b.next++
	return v
}

func (b *Builder) path() string {
	return strings.Join(b.scope, ".")
}

func (b *Builder) fail(err error) error {
	return &CompileError{Scope: b.path(), Err: err}
}

// Call lowers a named child layer inside its own scope.
func (b *Builder) Call(name string, m Scriptable, in Value) (Value, error) {
	b.scope = append(b.scope, name)
	defer func() { b.scope = b.scope[:len(b.scope)-1] }()
	return m.Script(b, in)
}

// Op records an operation over tensor inputs and returns its tensor output.
func (b *Builder) Op(op string, inputs []Value, attrs ...Attr) (Value, error) {
	for _, in := range inputs {
		switch in.kind {
		case KindTensor:
		case KindTensorList:
			return Value{}, b.fail(fmt.Errorf("%w: %s(%v)", ErrTensorList, op, in))
		default:
			return Value{}, b.fail(fmt.Errorf("%s: unsupported input kind %v", op, in.kind))
		}
	}
	out := b.value(KindTensor)
	b.nodes = append(b.nodes, Node{Op: op, Scope: b.path(), Inputs: inputs, Output: out, Attrs: attrs})
	return out, nil
}

// Unary records a single-input operation.
func (b *Builder) Unary(op string, in Value, attrs ...Attr) (Value, error) {
	return b.Op(op, []Value{in}, attrs...)
}

// ConvSpec describes a convolution for lowering.
type ConvSpec struct {
	InChannels  int
	OutChannels int
	Kernel      []int
	Stride      []int
	Padding     []int
	Dilation    []int
	Groups      int
	Bias        bool
}

// Conv records a convolution. Dense (groups == 1) and depthwise
// (groups == in_channels) convolutions lower; anything in between fails
// with ErrGroupedConv.
func (b *Builder) Conv(op string, in Value, c ConvSpec) (Value, error) {
	if c.Groups > 1 && c.Groups != c.InChannels {
		return Value{}, b.fail(fmt.Errorf("%w: %d groups over %d channels", ErrGroupedConv, c.Groups, c.InChannels))
	}
	return b.Unary(op, in,
		Attr{"in", c.InChannels},
		Attr{"out", c.OutChannels},
		Attr{"kernel", c.Kernel},
		Attr{"stride", c.Stride},
		Attr{"padding", c.Padding},
		Attr{"dilation", c.Dilation},
		Attr{"groups", c.Groups},
	)
}

// Concat joins a fixed number of tensors along dim.
func (b *Builder) Concat(dim int, inputs ...Value) (Value, error) {
	return b.Op("cat", inputs, Attr{"dim", dim})
}

// List packs values into a variable-length tensor list.
func (b *Builder) List(values ...Value) Value {
	out := b.value(KindTensorList)
	b.nodes = append(b.nodes, Node{Op: "list", Scope: b.path(), Inputs: values, Output: out})
	return out
}

// Aux declares an auxiliary side output. Static graphs have exactly one
// output, so this always fails.
func (b *Builder) Aux(name string, v Value) error {
	return b.fail(fmt.Errorf("%w: %q", ErrAuxOutputs, name))
}

// Mapping packs named tensors into a dictionary value.
func (b *Builder) Mapping(entries map[string]Value) Value {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	inputs := make([]Value, len(keys))
	for i, k := range keys {
		inputs[i] = entries[k]
	}
	out := b.value(KindMapping)
	b.nodes = append(b.nodes, Node{Op: "dict", Scope: b.path(), Inputs: inputs, Output: out, Attrs: []Attr{{"keys", keys}}})
	return out
}

// Records packs per-image result fields into a record list value.
func (b *Builder) Records(fields ...string) Value {
	out := b.value(KindRecords)
	b.nodes = append(b.nodes, Node{Op: "records", Scope: b.path(), Output: out, Attrs: []Attr{{"fields", fields}}})
	return out
}

// Unsupported fails lowering for a layer with no static form.
func (b *Builder) Unsupported(what string) error {
	return b.fail(fmt.Errorf("%w: %s", ErrNotLowerable, what))
}
