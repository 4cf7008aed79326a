package probflow

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// Initializer sets the initial posterior locations of a parameter
type Initializer interface {
	initialize(loc []float64, src rand.Source)
	name() string
}

// ZerosInit - initialize with zeros
type ZerosInit struct{}

func Zeros() Initializer { return &ZerosInit{} }

func (z *ZerosInit) initialize(loc []float64, src rand.Source) {
	for i := range loc {
		loc[i] = 0
	}
}

func (z *ZerosInit) name() string { return "zeros" }

// ConstantInit - initialize with a fixed value
type ConstantInit struct {
	Value float64
}

func ConstantValue(value float64) Initializer {
	return &ConstantInit{Value: value}
}

func (c *ConstantInit) initialize(loc []float64, src rand.Source) {
	for i := range loc {
		loc[i] = c.Value
	}
}

func (c *ConstantInit) name() string { return "constant" }

// RandomNormalInit - draws from N(0, Std)
type RandomNormalInit struct {
	Std float64
}

func RandomNormal(std float64) Initializer {
	return &RandomNormalInit{Std: std}
}

func (r *RandomNormalInit) initialize(loc []float64, src rand.Source) {
	d := distuv.Normal{Mu: 0, Sigma: r.Std, Src: src}
	for i := range loc {
		loc[i] = d.Rand()
	}
}

func (r *RandomNormalInit) name() string { return "random_normal" }
