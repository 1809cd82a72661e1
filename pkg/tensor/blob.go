package tensor

import (
	"fmt"
	"slices"
)

// Blob is a detached, serializable snapshot of a tensor's shape and values.
type Blob struct {
	Shape []int     `msgpack:"shape" json:"shape"`
	Data  []float64 `msgpack:"data" json:"data"`
}

// Blob copies t into a Blob.
func (t *Tensor) Blob() Blob {
	return Blob{Shape: slices.Clone(t.shape), Data: slices.Clone(t.data)}
}

// FromBlob rebuilds a detached tensor from b.
func FromBlob(b Blob) (*Tensor, error) {
	n := 1
	for _, d := range b.Shape {
		if d < 0 {
			return nil, fmt.Errorf("tensor: blob shape %v: %w", b.Shape, ErrShapeMismatch)
		}
		n *= d
	}
	if n != len(b.Data) {
		return nil, fmt.Errorf("tensor: blob has %d values for shape %v: %w", len(b.Data), b.Shape, ErrShapeMismatch)
	}
	return FromSlice(slices.Clone(b.Data), b.Shape...), nil
}

// CopyFrom overwrites t's values with b's, keeping t's identity in any
// gradient graph it belongs to.
func (t *Tensor) CopyFrom(b Blob) error {
	if !slices.Equal(t.shape, b.Shape) || len(b.Data) != len(t.data) {
		return fmt.Errorf("tensor: load %v into %v: %w", b.Shape, t.shape, ErrShapeMismatch)
	}
	copy(t.data, b.Data)
	return nil
}
