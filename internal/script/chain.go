package script

// Chainer threads a value through a sequence of lowering steps. The first
// error stops the chain; later steps become no-ops.
//
//	return script.Chain(b, in).
//	    Call("features", m.features).
//	    Op("flatten", script.Attr{Key: "start_dim", Value: 1}).
//	    Call("classifier", m.classifier).
//	    Result()
type Chainer struct {
	b   *Builder
	v   Value
	err error
}

// Chain starts a chain at in.
func Chain(b *Builder, in Value) *Chainer {
	return &Chainer{b: b, v: in}
}

// Call lowers a named child on the current value.
func (c *Chainer) Call(name string, m Scriptable) *Chainer {
	if c.err == nil {
		c.v, c.err = c.b.Call(name, m, c.v)
	}
	return c
}

// Op records a single-input operation on the current value.
func (c *Chainer) Op(op string, attrs ...Attr) *Chainer {
	if c.err == nil {
		c.v, c.err = c.b.Unary(op, c.v, attrs...)
	}
	return c
}

// Add records an element-wise sum of the current value and other.
func (c *Chainer) Add(other Value) *Chainer {
	if c.err == nil {
		c.v, c.err = c.b.Op("add", []Value{c.v, other})
	}
	return c
}

// Value returns the current value.
func (c *Chainer) Value() Value { return c.v }

// Err returns the first error.
func (c *Chainer) Err() error { return c.err }

// Result returns the final value and the first error.
func (c *Chainer) Result() (Value, error) {
	if c.err != nil {
		return Value{}, c.err
	}
	return c.v, nil
}
