package tensor

import (
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"
)

func mustSameShape(op string, a, b *Tensor) {
	if !SameShape(a, b) {
		panic(fmt.Sprintf("tensor: %s: %v vs %v", op, a.shape, b.shape))
	}
}

// Add returns a + b. b either matches a's shape or has a's shape with a
// trailing axis of size 1, in which case it is broadcast along that axis.
func Add(a, b *Tensor) *Tensor {
	if SameShape(a, b) {
		out := derive(slices.Clone(a.shape), floats.AddTo(make([]float64, len(a.data)), a.data, b.data), a, b)
		if out.requiresGrad {
			out.backward = func() {
				if a.requiresGrad {
					floats.Add(a.accum(), out.grad)
				}
				if b.requiresGrad {
					floats.Add(b.accum(), out.grad)
				}
			}
		}
		return out
	}

	r := len(a.shape)
	if r == 0 || len(b.shape) != r || b.shape[r-1] != 1 || !slices.Equal(a.shape[:r-1], b.shape[:r-1]) {
		panic(fmt.Sprintf("tensor: add: cannot broadcast %v to %v", b.shape, a.shape))
	}
	n := a.shape[r-1]
	data := slices.Clone(a.data)
	for row, v := range b.data {
		floats.AddConst(v, data[row*n:(row+1)*n])
	}
	out := derive(slices.Clone(a.shape), data, a, b)
	if out.requiresGrad {
		out.backward = func() {
			if a.requiresGrad {
				floats.Add(a.accum(), out.grad)
			}
			if b.requiresGrad {
				g := b.accum()
				for row := range g {
					g[row] += floats.Sum(out.grad[row*n : (row+1)*n])
				}
			}
		}
	}
	return out
}

// Sub returns a - b for tensors of equal shape.
func Sub(a, b *Tensor) *Tensor {
	mustSameShape("sub", a, b)
	out := derive(slices.Clone(a.shape), floats.SubTo(make([]float64, len(a.data)), a.data, b.data), a, b)
	if out.requiresGrad {
		out.backward = func() {
			if a.requiresGrad {
				floats.Add(a.accum(), out.grad)
			}
			if b.requiresGrad {
				floats.Sub(b.accum(), out.grad)
			}
		}
	}
	return out
}

// Mul returns the element-wise product of tensors of equal shape.
func Mul(a, b *Tensor) *Tensor {
	mustSameShape("mul", a, b)
	out := derive(slices.Clone(a.shape), floats.MulTo(make([]float64, len(a.data)), a.data, b.data), a, b)
	if out.requiresGrad {
		out.backward = func() {
			if a.requiresGrad {
				g := a.accum()
				for i, d := range out.grad {
					g[i] += d * b.data[i]
				}
			}
			if b.requiresGrad {
				g := b.accum()
				for i, d := range out.grad {
					g[i] += d * a.data[i]
				}
			}
		}
	}
	return out
}

// Scale returns s * a.
func Scale(a *Tensor, s float64) *Tensor {
	out := derive(slices.Clone(a.shape), floats.ScaleTo(make([]float64, len(a.data)), s, a.data), a)
	if out.requiresGrad {
		out.backward = func() {
			floats.AddScaled(a.accum(), s, out.grad)
		}
	}
	return out
}

// unary applies f element-wise. df receives the input and output value and
// returns the local derivative.
func unary(a *Tensor, f func(x float64) float64, df func(x, y float64) float64) *Tensor {
	data := make([]float64, len(a.data))
	for i, x := range a.data {
		data[i] = f(x)
	}
	out := derive(slices.Clone(a.shape), data, a)
	if out.requiresGrad {
		out.backward = func() {
			g := a.accum()
			for i, d := range out.grad {
				g[i] += d * df(a.data[i], out.data[i])
			}
		}
	}
	return out
}

// ReLU clips negative entries to zero.
func ReLU(a *Tensor) *Tensor {
	return unary(a,
		func(x float64) float64 { return max(x, 0) },
		func(x, _ float64) float64 {
			if x > 0 {
				return 1
			}
			return 0
		})
}

// Tanh applies the hyperbolic tangent.
func Tanh(a *Tensor) *Tensor {
	return unary(a, math.Tanh, func(_, y float64) float64 { return 1 - y*y })
}

// Sigmoid applies the logistic function.
func Sigmoid(a *Tensor) *Tensor {
	return unary(a,
		func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
		func(_, y float64) float64 { return y * (1 - y) })
}

// Log applies the natural logarithm.
func Log(a *Tensor) *Tensor {
	return unary(a, math.Log, func(x, _ float64) float64 { return 1 / x })
}

// Sum reduces a to a scalar.
func Sum(a *Tensor) *Tensor {
	out := derive(nil, []float64{floats.Sum(a.data)}, a)
	if out.requiresGrad {
		out.backward = func() {
			floats.AddConst(out.grad[0], a.accum())
		}
	}
	return out
}

// SliceChannels returns channels [lo, hi) of a rank-3 tensor.
func SliceChannels(a *Tensor, lo, hi int) *Tensor {
	nb, nc, nt := a.Dims3()
	if lo < 0 || hi > nc || lo >= hi {
		panic(fmt.Sprintf("tensor: channel slice [%d, %d) of %v", lo, hi, a.shape))
	}
	w := hi - lo
	data := make([]float64, nb*w*nt)
	for b := range nb {
		copy(data[b*w*nt:(b+1)*w*nt], a.data[(b*nc+lo)*nt:(b*nc+hi)*nt])
	}
	out := derive([]int{nb, w, nt}, data, a)
	if out.requiresGrad {
		out.backward = func() {
			g := a.accum()
			for b := range nb {
				floats.Add(g[(b*nc+lo)*nt:(b*nc+hi)*nt], out.grad[b*w*nt:(b+1)*w*nt])
			}
		}
	}
	return out
}

// SliceTime returns time steps [lo, hi) of a rank-3 tensor.
func SliceTime(a *Tensor, lo, hi int) *Tensor {
	nb, nc, nt := a.Dims3()
	if lo < 0 || hi > nt || lo >= hi {
		panic(fmt.Sprintf("tensor: time slice [%d, %d) of %v", lo, hi, a.shape))
	}
	w := hi - lo
	data := make([]float64, nb*nc*w)
	for row := range nb * nc {
		copy(data[row*w:(row+1)*w], a.data[row*nt+lo:row*nt+hi])
	}
	out := derive([]int{nb, nc, w}, data, a)
	if out.requiresGrad {
		out.backward = func() {
			g := a.accum()
			for row := range nb * nc {
				floats.Add(g[row*nt+lo:row*nt+hi], out.grad[row*w:(row+1)*w])
			}
		}
	}
	return out
}

// NormalizeChannels divides every (batch, time) column of a rank-3 tensor by
// its sum over channels plus eps. With non-negative input each column sums
// to 1 up to eps; an all-zero column stays zero instead of becoming NaN.
func NormalizeChannels(a *Tensor, eps float64) *Tensor {
	nb, nc, nt := a.Dims3()
	denom := make([]float64, nb*nt)
	for b := range nb {
		for c := range nc {
			floats.Add(denom[b*nt:(b+1)*nt], a.data[(b*nc+c)*nt:(b*nc+c+1)*nt])
		}
	}
	floats.AddConst(eps, denom)

	data := make([]float64, len(a.data))
	for b := range nb {
		for c := range nc {
			row := (b*nc + c) * nt
			floats.DivTo(data[row:row+nt], a.data[row:row+nt], denom[b*nt:(b+1)*nt])
		}
	}
	out := derive(slices.Clone(a.shape), data, a)
	if out.requiresGrad {
		// dx_j = g_j/s - sum_i(g_i * y_i)/s
		out.backward = func() {
			g := a.accum()
			dot := make([]float64, nb*nt)
			for b := range nb {
				for c := range nc {
					row := (b*nc + c) * nt
					for t := range nt {
						dot[b*nt+t] += out.grad[row+t] * out.data[row+t]
					}
				}
			}
			for b := range nb {
				for c := range nc {
					row := (b*nc + c) * nt
					for t := range nt {
						g[row+t] += (out.grad[row+t] - dot[b*nt+t]) / denom[b*nt+t]
					}
				}
			}
		}
	}
	return out
}

// SoftmaxChannels applies a softmax over the channel axis of a rank-3 tensor
// at every (batch, time) position.
func SoftmaxChannels(a *Tensor) *Tensor {
	nb, nc, nt := a.Dims3()
	data := make([]float64, len(a.data))
	col := make([]float64, nc)
	for b := range nb {
		for t := range nt {
			for c := range nc {
				col[c] = a.data[(b*nc+c)*nt+t]
			}
			peak := floats.Max(col)
			var sum float64
			for c := range col {
				col[c] = math.Exp(col[c] - peak)
				sum += col[c]
			}
			for c := range col {
				data[(b*nc+c)*nt+t] = col[c] / sum
			}
		}
	}
	out := derive(slices.Clone(a.shape), data, a)
	if out.requiresGrad {
		out.backward = func() {
			g := a.accum()
			for b := range nb {
				for t := range nt {
					var dot float64
					for c := range nc {
						i := (b*nc+c)*nt + t
						dot += out.grad[i] * out.data[i]
					}
					for c := range nc {
						i := (b*nc+c)*nt + t
						g[i] += out.data[i] * (out.grad[i] - dot)
					}
				}
			}
		}
	}
	return out
}

// MeanChannels averages a rank-3 tensor over its batch and time axes,
// returning one value per channel.
func MeanChannels(a *Tensor) *Tensor {
	nb, nc, nt := a.Dims3()
	n := float64(nb * nt)
	data := make([]float64, nc)
	for b := range nb {
		for c := range nc {
			data[c] += floats.Sum(a.data[(b*nc+c)*nt : (b*nc+c+1)*nt])
		}
	}
	floats.Scale(1/n, data)
	out := derive([]int{nc}, data, a)
	if out.requiresGrad {
		out.backward = func() {
			g := a.accum()
			for b := range nb {
				for c := range nc {
					floats.AddConst(out.grad[c]/n, g[(b*nc+c)*nt:(b*nc+c+1)*nt])
				}
			}
		}
	}
	return out
}

// StraightThrough returns a tensor whose value is exactly hard and whose
// gradient is passed unchanged to soft. hard never receives gradients.
func StraightThrough(hard, soft *Tensor) *Tensor {
	mustSameShape("straight-through", hard, soft)
	out := derive(slices.Clone(hard.shape), slices.Clone(hard.data), soft)
	if out.requiresGrad {
		out.backward = func() {
			floats.Add(soft.accum(), out.grad)
		}
	}
	return out
}
