// Package script lowers a layer tree into a static dataflow graph.
//
// Every layer describes its computation to a Builder, which records one
// Node per operation. The lowering succeeds only for models whose graph is
// fixed ahead of time: a single tensor in, a single tensor out, no
// variable-length tensor lists, no auxiliary side outputs and no grouped
// convolutions beyond the depthwise case. Failures are reported as
// *CompileError values wrapping one of the sentinel errors below.
package script

import (
	"fmt"
	"sort"
	"strings"
)

// Kind classifies a symbolic value flowing through the graph.
type Kind int

// Value kinds.
const (
	KindTensor Kind = iota
	KindTensorList
	KindMapping
	KindRecords
)

func (k Kind) String() string {
	switch k {
	case KindTensor:
		return "Tensor"
	case KindTensorList:
		return "List[Tensor]"
	case KindMapping:
		return "Dict[str, Tensor]"
	case KindRecords:
		return "List[Dict[str, Tensor]]"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a symbolic graph value.
type Value struct {
	id   int
	kind Kind
}

// ID returns the value number.
func (v Value) ID() int { return v.id }

// Kind returns the value kind.
func (v Value) Kind() Kind { return v.kind }

func (v Value) String() string { return fmt.Sprintf("%%%d", v.id) }

// Attr is a named operation attribute.
type Attr struct {
	Key   string
	Value any
}

// Node is one lowered operation.
type Node struct {
	Op     string
	Scope  string
	Inputs []Value
	Output Value
	Attrs  []Attr
}

func (n Node) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%v : %v = %s", n.Output, n.Output.kind, n.Op)
	if n.Scope != "" {
		fmt.Fprintf(&sb, "[%s]", n.Scope)
	}
	ins := make([]string, len(n.Inputs))
	for i, in := range n.Inputs {
		ins[i] = in.String()
	}
	fmt.Fprintf(&sb, "(%s)", strings.Join(ins, ", "))
	if len(n.Attrs) > 0 {
		attrs := make([]string, len(n.Attrs))
		for i, a := range n.Attrs {
			attrs[i] = fmt.Sprintf("%s=%v", a.Key, a.Value)
		}
		fmt.Fprintf(&sb, " {%s}", strings.Join(attrs, ", "))
	}
	return sb.String()
}

// Graph is the result of a successful compilation.
type Graph struct {
	Input  Value
	Output Value
	Nodes  []Node
}

// OpCounts returns how many nodes of each operation the graph contains.
func (g *Graph) OpCounts() map[string]int {
	counts := make(map[string]int)
	for _, n := range g.Nodes {
		counts[n.Op]++
	}
	return counts
}

// Ops returns the distinct operation names in sorted order.
func (g *Graph) Ops() []string {
	counts := g.OpCounts()
	ops := make([]string, 0, len(counts))
	for op := range counts {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	return ops
}

// String renders the graph one node per line.
func (g *Graph) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "graph(%v : %v):\n", g.Input, g.Input.kind)
	for _, n := range g.Nodes {
		sb.WriteString("  ")
		sb.WriteString(n.String())
		sb.WriteByte('\n')
	}
	fmt.Fprintf(&sb, "  return (%v)\n", g.Output)
	return sb.String()
}
