// Package tensor provides a small dense float64 tensor with reverse-mode
// gradients.
//
// Feature streams flowing through the conditioning pipeline are rank-3
// tensors laid out as [batch, channels, time] in row-major order, so the
// time axis of one (batch, channel) row is contiguous in memory. Most
// kernels exploit this by running gonum floats routines over whole rows.
//
// # Gradients
//
// A tensor participates in the gradient graph when it was marked with
// [Tensor.RequireGrad] or when any input of the op that produced it did.
// Calling [Tensor.Backward] on a single-element result propagates gradients
// to every reachable tensor. Leaf gradients accumulate across calls until
// [Tensor.ZeroGrad]; intermediate gradients are reset on every pass.
//
// Ops panic on shape violations; these are programming errors. Code that
// validates user-supplied shapes at an API boundary reports
// [ErrShapeMismatch] instead.
package tensor

import (
	"errors"
	"fmt"
	"slices"
)

// ErrShapeMismatch is returned by API boundaries that validate tensor shapes.
var ErrShapeMismatch = errors.New("tensor: shape mismatch")

// Tensor is a dense row-major float64 array.
type Tensor struct {
	shape []int
	data  []float64
	grad  []float64

	requiresGrad bool
	parents      []*Tensor
	backward     func()
}

// New returns a zero-filled tensor of the given shape. A call without
// dimensions returns a rank-0 scalar.
func New(shape ...int) *Tensor {
	return &Tensor{shape: slices.Clone(shape), data: make([]float64, numel(shape))}
}

// Full returns a tensor of the given shape with every element set to v.
func Full(v float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.data {
		t.data[i] = v
	}
	return t
}

// FromSlice wraps data as a tensor of the given shape. The tensor takes
// ownership of data.
func FromSlice(data []float64, shape ...int) *Tensor {
	if len(data) != numel(shape) {
		panic(fmt.Sprintf("tensor: %d values do not fill shape %v", len(data), shape))
	}
	return &Tensor{shape: slices.Clone(shape), data: data}
}

// Scalar returns a rank-0 tensor holding v.
func Scalar(v float64) *Tensor {
	return &Tensor{data: []float64{v}}
}

func numel(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic(fmt.Sprintf("tensor: negative dimension in %v", shape))
		}
		n *= d
	}
	return n
}

// RequireGrad marks t as a gradient leaf and returns it.
func (t *Tensor) RequireGrad() *Tensor {
	t.requiresGrad = true
	return t
}

// RequiresGrad reports whether gradients flow into t.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// Shape returns a copy of the tensor's dimensions.
func (t *Tensor) Shape() []int { return slices.Clone(t.shape) }

// Rank returns the number of dimensions.
func (t *Tensor) Rank() int { return len(t.shape) }

// Dim returns the size of axis i.
func (t *Tensor) Dim(i int) int { return t.shape[i] }

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.data) }

// Data returns the backing storage. Mutating it bypasses the gradient graph.
func (t *Tensor) Data() []float64 { return t.data }

// Grad returns the accumulated gradient, or nil if none was computed.
func (t *Tensor) Grad() []float64 { return t.grad }

// Item returns the value of a single-element tensor.
func (t *Tensor) Item() float64 {
	if len(t.data) != 1 {
		panic(fmt.Sprintf("tensor: Item on shape %v", t.shape))
	}
	return t.data[0]
}

// At returns the element at the given index.
func (t *Tensor) At(idx ...int) float64 { return t.data[t.offset(idx)] }

// Set stores v at the given index.
func (t *Tensor) Set(v float64, idx ...int) { t.data[t.offset(idx)] = v }

func (t *Tensor) offset(idx []int) int {
	if len(idx) != len(t.shape) {
		panic(fmt.Sprintf("tensor: index %v for shape %v", idx, t.shape))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= t.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, t.shape))
		}
		off = off*t.shape[i] + x
	}
	return off
}

// Dims3 returns batch, channels and time of a rank-3 tensor.
func (t *Tensor) Dims3() (b, c, n int) {
	if len(t.shape) != 3 {
		panic(fmt.Sprintf("tensor: want [batch, channels, time], got %v", t.shape))
	}
	return t.shape[0], t.shape[1], t.shape[2]
}

// SameShape reports whether a and b have identical dimensions.
func SameShape(a, b *Tensor) bool { return slices.Equal(a.shape, b.shape) }

// Equal reports whether a and b have the same shape and bitwise-equal values.
func Equal(a, b *Tensor) bool {
	return SameShape(a, b) && slices.Equal(a.data, b.data)
}

// Clone returns a detached deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{shape: slices.Clone(t.shape), data: slices.Clone(t.data)}
}

// Detach returns a tensor sharing t's storage but outside the gradient graph.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{shape: t.shape, data: t.data}
}

// ZeroGrad clears the accumulated gradient of t.
func (t *Tensor) ZeroGrad() {
	clear(t.grad)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor%v", t.shape)
}

// accum returns t's gradient buffer, allocating it on first use.
func (t *Tensor) accum() []float64 {
	if t.grad == nil {
		t.grad = make([]float64, len(t.data))
	}
	return t.grad
}

// derive builds the result of an op over parents. The backward closure is
// attached only when some parent requires gradients.
func derive(shape []int, data []float64, parents ...*Tensor) *Tensor {
	out := &Tensor{shape: shape, data: data}
	for _, p := range parents {
		if p != nil && p.requiresGrad {
			out.requiresGrad = true
			break
		}
	}
	if out.requiresGrad {
		out.parents = parents
	}
	return out
}

// Backward propagates gradients from the single-element tensor t to every
// tensor in its graph.
func (t *Tensor) Backward() {
	if len(t.data) != 1 {
		panic(fmt.Sprintf("tensor: Backward on shape %v", t.shape))
	}
	if !t.requiresGrad {
		return
	}

	var topo []*Tensor
	visited := make(map[*Tensor]bool)
	var build func(v *Tensor)
	build = func(v *Tensor) {
		if v == nil || visited[v] {
			return
		}
		visited[v] = true
		for _, p := range v.parents {
			build(p)
		}
		topo = append(topo, v)
	}
	build(t)

	for _, v := range topo {
		if v.backward != nil {
			v.ZeroGrad()
		}
	}
	t.accum()[0] = 1
	for i := len(topo) - 1; i >= 0; i-- {
		if fn := topo[i].backward; fn != nil {
			fn()
		}
	}
}
