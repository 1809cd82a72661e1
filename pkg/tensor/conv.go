package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Conv1D is a causal dilated 1-D convolution.
//
//	x:    [batch, in, time]
//	w:    [out, in, kernel]
//	bias: [out] or nil
//
// Output position t only sees inputs at t, t-d, ..., t-(kernel-1)*d; inputs
// before the start of the sequence are zero. The output has the same time
// length as x.
func Conv1D(x, w, bias *Tensor, dilation int) *Tensor {
	nb, nin, nt := x.Dims3()
	if w.Rank() != 3 || w.shape[1] != nin {
		panic(fmt.Sprintf("tensor: conv1d: weight %v for input %v", w.shape, x.shape))
	}
	if dilation < 1 {
		panic(fmt.Sprintf("tensor: conv1d: dilation %d", dilation))
	}
	nout, k := w.shape[0], w.shape[2]
	if bias != nil && (bias.Rank() != 1 || bias.shape[0] != nout) {
		panic(fmt.Sprintf("tensor: conv1d: bias %v for %d outputs", bias.shape, nout))
	}

	data := make([]float64, nb*nout*nt)
	for b := range nb {
		for o := range nout {
			y := data[(b*nout+o)*nt : (b*nout+o+1)*nt]
			if bias != nil {
				floats.AddConst(bias.data[o], y)
			}
			for i := range nin {
				xr := x.data[(b*nin+i)*nt : (b*nin+i+1)*nt]
				for j := range k {
					s := (k - 1 - j) * dilation
					if s >= nt {
						continue
					}
					floats.AddScaled(y[s:], w.data[(o*nin+i)*k+j], xr[:nt-s])
				}
			}
		}
	}

	out := derive([]int{nb, nout, nt}, data, x, w, bias)
	if !out.requiresGrad {
		return out
	}
	out.backward = func() {
		for b := range nb {
			for o := range nout {
				g := out.grad[(b*nout+o)*nt : (b*nout+o+1)*nt]
				if bias != nil && bias.requiresGrad {
					bias.accum()[o] += floats.Sum(g)
				}
				for i := range nin {
					off := (b*nin + i) * nt
					for j := range k {
						s := (k - 1 - j) * dilation
						if s >= nt {
							continue
						}
						wi := (o*nin+i)*k + j
						if w.requiresGrad {
							w.accum()[wi] += floats.Dot(g[s:], x.data[off:off+nt-s])
						}
						if x.requiresGrad {
							floats.AddScaled(x.accum()[off:off+nt-s], w.data[wi], g[s:])
						}
					}
				}
			}
		}
	}
	return out
}

// ReceptiveField returns how many input steps a stack of kernel-k causal
// convolutions with the given dilations can see, including the current one.
func ReceptiveField(kernel int, dilations ...int) int {
	rf := 1
	for _, d := range dilations {
		rf += (kernel - 1) * d
	}
	return rf
}
