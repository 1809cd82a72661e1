package bottleneck

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/haivivi/condwave/pkg/tensor"
)

func randomEmbedding(seed uint64, b, c, t int) *tensor.Tensor {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	x := tensor.New(b, c, t)
	for i := range x.Data() {
		x.Data()[i] = rng.NormFloat64()
	}
	return x
}

func TestDistributionSumsToOne(t *testing.T) {
	bn := New(Config{})
	for seed := range uint64(5) {
		emb := randomEmbedding(seed, 2, 8, 10)
		dist := bn.Distribution(emb)
		nb, nc, nt := dist.Dims3()
		for b := range nb {
			for tt := range nt {
				var sum float64
				positive := false
				for c := range nc {
					v := dist.At(b, c, tt)
					if v < 0 {
						t.Fatalf("negative probability %v", v)
					}
					sum += v
					if emb.At(b, c, tt) > 0 {
						positive = true
					}
				}
				if positive && math.Abs(sum-1) > 1e-4 {
					t.Errorf("seed %d (%d,%d): sum = %v", seed, b, tt, sum)
				}
			}
		}
	}
}

func TestDistributionAllNonPositive(t *testing.T) {
	emb := tensor.Full(-3, 1, 4, 3)
	emb.Set(0, 0, 2, 1)
	dist := New(Config{}).Distribution(emb)
	for i, v := range dist.Data() {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("dist[%d] = %v", i, v)
		}
		if v > 1e-3 {
			t.Errorf("dist[%d] = %v, want a small bounded value", i, v)
		}
	}

	code, usage, err := New(Config{}).Discretize(emb)
	if err != nil {
		t.Fatal(err)
	}
	assertOneHot(t, code)
	for _, v := range usage.Data() {
		if math.IsNaN(v) {
			t.Fatal("usage is NaN")
		}
	}
}

func assertOneHot(t *testing.T, code *tensor.Tensor) {
	t.Helper()
	nb, nc, nt := code.Dims3()
	for b := range nb {
		for tt := range nt {
			ones := 0
			for c := range nc {
				switch v := code.At(b, c, tt); v {
				case 1:
					ones++
				case 0:
				default:
					t.Fatalf("(%d,%d,%d) = %v, want 0 or 1", b, c, tt, v)
				}
			}
			if ones != 1 {
				t.Fatalf("(%d,%d): %d ones", b, tt, ones)
			}
		}
	}
}

func TestDiscretizeOneHotAndUsage(t *testing.T) {
	// Scenario A bottleneck half: batch 2, 8 codes, 10 steps.
	emb := randomEmbedding(42, 2, 8, 10)
	code, usage, err := New(Config{Seed: 1}).Discretize(emb)
	if err != nil {
		t.Fatal(err)
	}
	if !tensor.SameShape(code, emb) {
		t.Fatalf("code shape %v, want %v", code.Shape(), emb.Shape())
	}
	assertOneHot(t, code)

	if usage.Rank() != 1 || usage.Dim(0) != 8 {
		t.Fatalf("usage shape %v, want [8]", usage.Shape())
	}
	var sum float64
	for _, v := range usage.Data() {
		if v < 0 {
			t.Errorf("negative usage %v", v)
		}
		sum += v
	}
	if math.Abs(sum-1) > 1e-4 {
		t.Errorf("usage sums to %v", sum)
	}
}

func TestDiscretizeDeterministic(t *testing.T) {
	emb := randomEmbedding(9, 3, 5, 20)
	bn := New(Config{Seed: 77})

	a, _, err := bn.Discretize(emb)
	if err != nil {
		t.Fatal(err)
	}
	b, _, err := bn.Discretize(emb)
	if err != nil {
		t.Fatal(err)
	}
	if !tensor.Equal(a.Detach(), b.Detach()) {
		t.Error("same seed produced different codes")
	}

	c, _, _ := bn.WithSeed(78).Discretize(emb)
	if tensor.Equal(a.Detach(), c.Detach()) {
		t.Log("different seeds produced identical codes (possible, but unlikely)")
	}
	if bn.Config().Seed != 77 {
		t.Error("WithSeed mutated the receiver")
	}
}

func TestDiscretizeFollowsDistribution(t *testing.T) {
	// A column dominated by one code should pick it far more often than not.
	emb := tensor.New(1, 4, 2000)
	for tt := range 2000 {
		emb.Set(50, 0, 2, tt)
	}
	bn := New(Config{LogProbs: true, Seed: 5})
	code, _, err := bn.Discretize(emb)
	if err != nil {
		t.Fatal(err)
	}
	hits := 0
	for tt := range 2000 {
		if code.At(0, 2, tt) == 1 {
			hits++
		}
	}
	if hits < 1900 {
		t.Errorf("dominant code picked %d/2000 times", hits)
	}
}

func TestDiscretizeScoresAsLogits(t *testing.T) {
	// Without LogProbs the normalized scores act as logits: a certain code
	// only wins with probability e/(e+3) among four codes.
	emb := tensor.New(1, 4, 4000)
	for tt := range 4000 {
		emb.Set(50, 0, 2, tt)
	}
	code, _, err := New(Config{Seed: 5}).Discretize(emb)
	if err != nil {
		t.Fatal(err)
	}
	hits := 0
	for tt := range 4000 {
		if code.At(0, 2, tt) == 1 {
			hits++
		}
	}
	want := math.E / (math.E + 3)
	if got := float64(hits) / 4000; math.Abs(got-want) > 0.05 {
		t.Errorf("dominant code rate = %.3f, want about %.3f", got, want)
	}
}

func TestStraightThroughGradientReachesEmbedding(t *testing.T) {
	emb := randomEmbedding(3, 2, 6, 5)
	for i := range emb.Data() {
		emb.Data()[i] = math.Abs(emb.Data()[i]) + 0.1
	}
	emb.RequireGrad()

	code, usage, err := New(Config{Seed: 3}).Discretize(emb)
	if err != nil {
		t.Fatal(err)
	}
	if !code.RequiresGrad() || !usage.RequiresGrad() {
		t.Fatal("outputs detached from the embedding")
	}
	weights := randomEmbedding(4, 2, 6, 5)
	tensor.Sum(tensor.Mul(code, weights)).Backward()

	var norm float64
	for _, g := range emb.Grad() {
		if math.IsNaN(g) || math.IsInf(g, 0) {
			t.Fatalf("gradient %v", g)
		}
		norm += g * g
	}
	if norm == 0 {
		t.Error("no gradient reached the embedding")
	}
}

func TestDiscretizeRejectsBadRank(t *testing.T) {
	_, _, err := New(Config{}).Discretize(tensor.New(4, 4))
	if !errors.Is(err, tensor.ErrShapeMismatch) {
		t.Errorf("err = %v, want ErrShapeMismatch", err)
	}
}

func TestOneHotTies(t *testing.T) {
	x := tensor.FromSlice([]float64{0.5, 0.5}, 1, 2, 1)
	h := OneHot(x)
	if h.At(0, 0, 0) != 1 || h.At(0, 1, 0) != 0 {
		t.Errorf("tie resolved to %v", h.Data())
	}
}

func TestPerplexity(t *testing.T) {
	tests := []struct {
		name  string
		usage *tensor.Tensor
		want  float64
	}{
		{"collapsed", tensor.FromSlice([]float64{0, 1, 0, 0}, 4), 1},
		{"uniform", tensor.FromSlice([]float64{0.25, 0.25, 0.25, 0.25}, 4), 4},
		{"half", tensor.FromSlice([]float64{0.5, 0.5, 0, 0}, 4), 2},
		{"sentinel", tensor.Scalar(0), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Perplexity(tt.usage); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Perplexity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestNewDefaults(t *testing.T) {
	cfg := New(Config{Temperature: -1}).Config()
	if cfg.Temperature != DefaultTemperature || cfg.Epsilon != DefaultEpsilon {
		t.Errorf("defaults = %+v", cfg)
	}
}
