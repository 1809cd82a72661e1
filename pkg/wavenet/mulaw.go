package wavenet

import "math"

// MuLawEncode maps x in [-1, 1] to one of levels quantization classes.
func MuLawEncode(x float64, levels int) int {
	mu := float64(levels - 1)
	x = max(-1, min(1, x))
	y := math.Copysign(math.Log1p(mu*math.Abs(x))/math.Log1p(mu), x)
	return int(math.Round((y + 1) / 2 * mu))
}

// MuLawDecode maps a quantization class back to [-1, 1].
func MuLawDecode(class, levels int) float64 {
	mu := float64(levels - 1)
	y := 2*float64(class)/mu - 1
	return math.Copysign((math.Pow(1+mu, math.Abs(y))-1)/mu, y)
}
