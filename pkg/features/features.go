// Package features builds the auxiliary streams that condition the
// encoder. The main source is a piano roll: one channel per MIDI pitch,
// optionally followed by one onset channel per pitch.
package features

import (
	"errors"
	"fmt"

	"github.com/haivivi/condwave/pkg/tensor"
)

var (
	// ErrChannelMismatch is returned by Batch for streams of different
	// widths.
	ErrChannelMismatch = errors.New("features: channel mismatch")

	// ErrInvalidNote is returned for notes that end before they start or
	// carry an out-of-range velocity.
	ErrInvalidNote = errors.New("features: invalid note")
)

// Piano range defaults: A0 to C8.
const (
	DefaultLowPitch  = 21
	DefaultHighPitch = 108
)

// Note is a MIDI note spanning frames [Start, End).
type Note struct {
	Pitch    int `yaml:"pitch" json:"pitch"`
	Velocity int `yaml:"velocity,omitempty" json:"velocity,omitempty"`
	Start    int `yaml:"start" json:"start"`
	End      int `yaml:"end" json:"end"`
}

// RollConfig controls PianoRoll.
type RollConfig struct {
	// LowPitch and HighPitch bound the pitch range, inclusive. Zero
	// selects the piano range.
	LowPitch  int `yaml:"low_pitch,omitempty" json:"low_pitch,omitempty"`
	HighPitch int `yaml:"high_pitch,omitempty" json:"high_pitch,omitempty"`

	// Onsets appends a channel per pitch that is set only on a note's
	// first frame.
	Onsets bool `yaml:"onsets,omitempty" json:"onsets,omitempty"`

	// Velocity writes velocity/127 instead of 1 for active notes.
	Velocity bool `yaml:"velocity,omitempty" json:"velocity,omitempty"`
}

func (c RollConfig) withDefaults() RollConfig {
	if c.LowPitch == 0 && c.HighPitch == 0 {
		c.LowPitch, c.HighPitch = DefaultLowPitch, DefaultHighPitch
	}
	return c
}

// Pitches is the number of pitches in the range.
func (c RollConfig) Pitches() int {
	c = c.withDefaults()
	return c.HighPitch - c.LowPitch + 1
}

// Channels is the width of the roll PianoRoll produces.
func (c RollConfig) Channels() int {
	if c.Onsets {
		return 2 * c.Pitches()
	}
	return c.Pitches()
}

// PianoRoll renders notes into a [1, Channels, frames] stream. Notes
// outside the pitch range are skipped; notes running past the last frame
// are cut off. Overlapping notes on one pitch keep the louder value.
func PianoRoll(notes []Note, frames int, cfg RollConfig) (*tensor.Tensor, error) {
	cfg = cfg.withDefaults()
	if cfg.LowPitch > cfg.HighPitch || cfg.LowPitch < 0 || cfg.HighPitch > 127 {
		return nil, fmt.Errorf("features: pitch range [%d, %d]", cfg.LowPitch, cfg.HighPitch)
	}
	if frames <= 0 {
		return nil, fmt.Errorf("features: %d frames", frames)
	}
	pitches := cfg.Pitches()
	roll := tensor.New(1, cfg.Channels(), frames)
	for i, n := range notes {
		if n.End <= n.Start || n.Start < 0 || n.Velocity < 0 || n.Velocity > 127 {
			return nil, fmt.Errorf("%w: #%d %+v", ErrInvalidNote, i, n)
		}
		if n.Pitch < cfg.LowPitch || n.Pitch > cfg.HighPitch || n.Start >= frames {
			continue
		}
		v := 1.0
		if cfg.Velocity {
			v = float64(n.Velocity) / 127
		}
		ch := n.Pitch - cfg.LowPitch
		for t := n.Start; t < min(n.End, frames); t++ {
			roll.Set(max(roll.At(0, ch, t), v), 0, ch, t)
		}
		if cfg.Onsets {
			roll.Set(max(roll.At(0, pitches+ch, n.Start), v), 0, pitches+ch, n.Start)
		}
	}
	return roll, nil
}

// Batch stacks streams along the batch axis, zero-padding each to the
// longest time axis. Every stream must be rank 3 with the same channel
// count.
func Batch(streams ...*tensor.Tensor) (*tensor.Tensor, error) {
	if len(streams) == 0 {
		return nil, errors.New("features: nothing to batch")
	}
	var nb, nt int
	nc := -1
	for i, s := range streams {
		if s.Rank() != 3 {
			return nil, fmt.Errorf("features: stream %d has shape %v: %w", i, s.Shape(), tensor.ErrShapeMismatch)
		}
		b, c, t := s.Dims3()
		if nc >= 0 && c != nc {
			return nil, fmt.Errorf("%w: stream %d has %d channels, want %d", ErrChannelMismatch, i, c, nc)
		}
		nc = c
		nb += b
		nt = max(nt, t)
	}

	out := tensor.New(nb, nc, nt)
	off := 0
	for _, s := range streams {
		b, c, t := s.Dims3()
		for i := range b {
			for ch := range c {
				src := s.Data()[(i*c+ch)*t : (i*c+ch+1)*t]
				dst := out.Data()[((off+i)*nc+ch)*nt:]
				copy(dst, src)
			}
		}
		off += b
	}
	return out, nil
}
