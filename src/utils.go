package probflow

import "math"

// softplus maps an unconstrained value to a positive scale
func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

// inverseSoftplus is used to initialise a raw parameter from a target scale
func inverseSoftplus(y float64) float64 {
	if y > 30 {
		return y
	}
	return math.Log(math.Expm1(y))
}

// sigmoid is the derivative of softplus
func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func dot(a, b []float64) float64 {
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
