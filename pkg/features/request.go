package features

import (
	"errors"
	"fmt"

	"github.com/haivivi/condwave/pkg/tensor"
)

// Sequence is one batch element of a request: a note list rendered over
// Frames frames, and optionally the target stream for training-path runs.
type Sequence struct {
	Name   string    `yaml:"name,omitempty" json:"name,omitempty"`
	Frames int       `yaml:"frames" json:"frames"`
	Notes  []Note    `yaml:"notes" json:"notes"`
	Target []float64 `yaml:"target,omitempty" json:"target,omitempty"`
}

// Request is the input file of the model commands.
type Request struct {
	Roll      RollConfig `yaml:"roll,omitempty" json:"roll,omitempty"`
	Sequences []Sequence `yaml:"sequences" json:"sequences"`
}

// Aux renders every sequence and batches the rolls.
func (r *Request) Aux() (*tensor.Tensor, error) {
	if len(r.Sequences) == 0 {
		return nil, errors.New("features: request has no sequences")
	}
	rolls := make([]*tensor.Tensor, len(r.Sequences))
	for i, s := range r.Sequences {
		roll, err := PianoRoll(s.Notes, s.Frames, r.Roll)
		if err != nil {
			return nil, fmt.Errorf("features: sequence %d: %w", i, err)
		}
		rolls[i] = roll
	}
	return Batch(rolls...)
}

// Target batches the target streams as [batch, 1, time]. It returns nil
// when no sequence carries a target. Each target must cover its
// sequence's frames exactly.
func (r *Request) Target() (*tensor.Tensor, error) {
	var with int
	for _, s := range r.Sequences {
		if len(s.Target) > 0 {
			with++
		}
	}
	if with == 0 {
		return nil, nil
	}
	if with != len(r.Sequences) {
		return nil, fmt.Errorf("features: %d of %d sequences have a target", with, len(r.Sequences))
	}
	streams := make([]*tensor.Tensor, len(r.Sequences))
	for i, s := range r.Sequences {
		if len(s.Target) != s.Frames {
			return nil, fmt.Errorf("features: sequence %d: target has %d values for %d frames: %w", i, len(s.Target), s.Frames, tensor.ErrShapeMismatch)
		}
		streams[i] = tensor.FromSlice(s.Target, 1, 1, s.Frames)
	}
	return Batch(streams...)
}
