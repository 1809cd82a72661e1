package features

import (
	"errors"
	"slices"
	"testing"

	"github.com/haivivi/condwave/pkg/tensor"
)

func TestPianoRollDefaults(t *testing.T) {
	roll, err := PianoRoll([]Note{
		{Pitch: 60, Velocity: 100, Start: 1, End: 3},
		{Pitch: 20, Velocity: 100, Start: 0, End: 4},  // below range
		{Pitch: 108, Velocity: 64, Start: 2, End: 10}, // cut at frame 4
	}, 4, RollConfig{})
	if err != nil {
		t.Fatal(err)
	}
	if got := roll.Shape(); !slices.Equal(got, []int{1, 88, 4}) {
		t.Fatalf("shape %v", got)
	}
	c := 60 - DefaultLowPitch
	want := []float64{0, 1, 1, 0}
	for tt, w := range want {
		if roll.At(0, c, tt) != w {
			t.Errorf("pitch 60 frame %d = %v, want %v", tt, roll.At(0, c, tt), w)
		}
	}
	if roll.At(0, 87, 3) != 1 || roll.At(0, 87, 1) != 0 {
		t.Error("top pitch not rendered or not cut")
	}
	var sum float64
	for _, v := range roll.Data() {
		sum += v
	}
	if sum != 4 {
		t.Errorf("roll has %v active cells, want 4", sum)
	}
}

func TestPianoRollOnsetsAndVelocity(t *testing.T) {
	cfg := RollConfig{LowPitch: 60, HighPitch: 63, Onsets: true, Velocity: true}
	if cfg.Channels() != 8 {
		t.Fatalf("Channels = %d", cfg.Channels())
	}
	roll, err := PianoRoll([]Note{
		{Pitch: 61, Velocity: 127, Start: 0, End: 2},
		{Pitch: 61, Velocity: 0, Start: 1, End: 3},
	}, 3, cfg)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		ch, t int
		want  float64
	}{
		{1, 0, 1}, {1, 1, 1}, {1, 2, 0},
		{5, 0, 1}, {5, 1, 0}, {5, 2, 0},
		{0, 0, 0},
	}
	for _, tt := range tests {
		if got := roll.At(0, tt.ch, tt.t); got != tt.want {
			t.Errorf("(%d,%d) = %v, want %v", tt.ch, tt.t, got, tt.want)
		}
	}
}

func TestPianoRollErrors(t *testing.T) {
	tests := []struct {
		name   string
		notes  []Note
		frames int
		cfg    RollConfig
		note   bool
	}{
		{"empty note", []Note{{Pitch: 60, Start: 2, End: 2}}, 4, RollConfig{}, true},
		{"negative start", []Note{{Pitch: 60, Start: -1, End: 2}}, 4, RollConfig{}, true},
		{"loud", []Note{{Pitch: 60, Velocity: 200, End: 1}}, 4, RollConfig{}, true},
		{"no frames", nil, 0, RollConfig{}, false},
		{"bad range", nil, 4, RollConfig{LowPitch: 70, HighPitch: 60}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := PianoRoll(tt.notes, tt.frames, tt.cfg)
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrInvalidNote) != tt.note {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestBatch(t *testing.T) {
	a := tensor.FromSlice([]float64{1, 2, 3, 4, 5, 6}, 1, 2, 3)
	b := tensor.FromSlice([]float64{7, 8, 9, 10}, 2, 2, 1)
	out, err := Batch(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Shape(); !slices.Equal(got, []int{3, 2, 3}) {
		t.Fatalf("shape %v", got)
	}
	want := []float64{
		1, 2, 3, 4, 5, 6,
		7, 0, 0, 8, 0, 0,
		9, 0, 0, 10, 0, 0,
	}
	if !slices.Equal(out.Data(), want) {
		t.Errorf("data = %v", out.Data())
	}

	if _, err := Batch(a, tensor.New(1, 3, 3)); !errors.Is(err, ErrChannelMismatch) {
		t.Errorf("err = %v, want ErrChannelMismatch", err)
	}
	if _, err := Batch(tensor.New(2, 3)); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
	if _, err := Batch(); err == nil {
		t.Error("empty batch accepted")
	}
}

func TestRequest(t *testing.T) {
	req := Request{
		Roll: RollConfig{LowPitch: 60, HighPitch: 61},
		Sequences: []Sequence{
			{Frames: 3, Notes: []Note{{Pitch: 60, Start: 0, End: 3}}, Target: []float64{0.1, 0.2, 0.3}},
			{Frames: 2, Notes: []Note{{Pitch: 61, Start: 1, End: 2}}, Target: []float64{0.5, 0.6}},
		},
	}
	aux, err := req.Aux()
	if err != nil {
		t.Fatal(err)
	}
	if got := aux.Shape(); !slices.Equal(got, []int{2, 2, 3}) {
		t.Errorf("aux shape %v", got)
	}
	target, err := req.Target()
	if err != nil {
		t.Fatal(err)
	}
	if got := target.Shape(); !slices.Equal(got, []int{2, 1, 3}) {
		t.Errorf("target shape %v", got)
	}
	if target.At(1, 0, 1) != 0.6 || target.At(1, 0, 2) != 0 {
		t.Errorf("target data %v", target.Data())
	}

	req.Sequences[1].Target = nil
	if _, err := req.Target(); err == nil {
		t.Error("partial targets accepted")
	}
	req.Sequences[0].Target = nil
	if target, err := req.Target(); err != nil || target != nil {
		t.Errorf("no targets: %v, %v", target, err)
	}
	req.Sequences[0].Target = []float64{1}
	req.Sequences[1].Target = []float64{1, 2}
	if _, err := req.Target(); !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("short target: err = %v", err)
	}

	if _, err := (&Request{}).Aux(); err == nil {
		t.Error("empty request accepted")
	}
}
