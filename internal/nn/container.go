package nn

import "fmt"

// Container holds named children for layers whose forward pass is not a
// plain chain (residual blocks, multi-branch blocks, whole models).
//
// Embed it and register children in construction order:
//
//	type block struct {
//	    nn.Container
//	    conv1 *nn.Conv2D
//	    bn1   *nn.BatchNorm
//	}
//
//	b := &block{}
//	b.conv1 = nn.Register(&b.Container, "conv1", nn.NewConv2D(g, backend, cfg))
//	b.bn1 = nn.Register(&b.Container, "bn1", nn.NewBatchNorm(backend, cfg.Out))
type Container struct {
	Base
	children []Child
}

// Children returns the registered children in registration order.
func (c *Container) Children() []Child { return c.children }

// Register adds l under name and returns it. Names must be unique within
// the container.
func Register[T Layer](c *Container, name string, l T) T {
	for _, ch := range c.children {
		if ch.Name == name {
			panic(fmt.Sprintf("container: duplicate child name %q", name))
		}
	}
	c.children = append(c.children, Child{Name: name, Layer: l})
	return l
}
