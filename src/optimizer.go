package probflow

import "math"

// Optimizer updates flat parameter vectors from their gradients
type Optimizer interface {
	init(params [][]float64)
	step(params [][]float64, grads [][]float64)
	learningRate() float64
	setLearningRate(lr float64)
	name() string
}

func zerosLike(params [][]float64) [][]float64 {
	out := make([][]float64, len(params))
	for i, p := range params {
		out[i] = make([]float64, len(p))
	}
	return out
}

// SGDOptimizer - Stochastic Gradient Descent
type SGDOptimizer struct {
	LR          float64
	Momentum    float64
	Dampening   float64
	Nesterov    bool
	velocities  [][]float64
	initialized bool
}

type SGDConfig struct {
	LR        float64
	Momentum  float64
	Dampening float64
	Nesterov  bool
}

func SGD(config SGDConfig) Optimizer {
	return &SGDOptimizer{
		LR:        config.LR,
		Momentum:  config.Momentum,
		Dampening: config.Dampening,
		Nesterov:  config.Nesterov,
	}
}

func (s *SGDOptimizer) init(params [][]float64) {
	s.velocities = zerosLike(params)
	s.initialized = true
}

func (s *SGDOptimizer) step(params [][]float64, grads [][]float64) {
	if !s.initialized {
		s.init(params)
	}
	for i, p := range params {
		g := grads[i]
		v := s.velocities[i]

		for j := range p {
			grad := g[j]
			if s.Momentum != 0 {
				v[j] = s.Momentum*v[j] + (1-s.Dampening)*grad
				if s.Nesterov {
					grad = grad + s.Momentum*v[j]
				} else {
					grad = v[j]
				}
			}
			p[j] -= s.LR * grad
		}
	}
}

func (s *SGDOptimizer) learningRate() float64      { return s.LR }
func (s *SGDOptimizer) setLearningRate(lr float64) { s.LR = lr }
func (s *SGDOptimizer) name() string               { return "sgd" }

// AdamOptimizer - Adaptive Moment Estimation
type AdamOptimizer struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Epsilon     float64
	AMSGrad     bool
	m           [][]float64
	v           [][]float64
	vMax        [][]float64
	t           int
	initialized bool
}

type AdamConfig struct {
	LR      float64
	Beta1   float64
	Beta2   float64
	Epsilon float64
	AMSGrad bool
}

func Adam(config AdamConfig) Optimizer {
	return &AdamOptimizer{
		LR:      config.LR,
		Beta1:   config.Beta1,
		Beta2:   config.Beta2,
		Epsilon: config.Epsilon,
		AMSGrad: config.AMSGrad,
	}
}

func (a *AdamOptimizer) init(params [][]float64) {
	a.m = zerosLike(params)
	a.v = zerosLike(params)
	if a.AMSGrad {
		a.vMax = zerosLike(params)
	}
	a.t = 0
	a.initialized = true
}

func (a *AdamOptimizer) step(params [][]float64, grads [][]float64) {
	if !a.initialized {
		a.init(params)
	}
	a.t++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.t))

	for i, p := range params {
		g := grads[i]
		m := a.m[i]
		v := a.v[i]

		for j := range p {
			grad := g[j]
			m[j] = a.Beta1*m[j] + (1-a.Beta1)*grad
			v[j] = a.Beta2*v[j] + (1-a.Beta2)*grad*grad

			mHat := m[j] / bc1
			vHat := v[j] / bc2

			if a.AMSGrad {
				if vHat > a.vMax[i][j] {
					a.vMax[i][j] = vHat
				}
				vHat = a.vMax[i][j]
			}

			p[j] -= a.LR * mHat / (math.Sqrt(vHat) + a.Epsilon)
		}
	}
}

func (a *AdamOptimizer) learningRate() float64      { return a.LR }
func (a *AdamOptimizer) setLearningRate(lr float64) { a.LR = lr }
func (a *AdamOptimizer) name() string               { return "adam" }

// RMSpropOptimizer
type RMSpropOptimizer struct {
	LR          float64
	Alpha       float64
	Epsilon     float64
	Momentum    float64
	v           [][]float64
	buf         [][]float64
	initialized bool
}

type RMSpropConfig struct {
	LR       float64
	Alpha    float64
	Epsilon  float64
	Momentum float64
}

func RMSprop(config RMSpropConfig) Optimizer {
	return &RMSpropOptimizer{
		LR:       config.LR,
		Alpha:    config.Alpha,
		Epsilon:  config.Epsilon,
		Momentum: config.Momentum,
	}
}

func (r *RMSpropOptimizer) init(params [][]float64) {
	r.v = zerosLike(params)
	r.buf = zerosLike(params)
	r.initialized = true
}

func (r *RMSpropOptimizer) step(params [][]float64, grads [][]float64) {
	if !r.initialized {
		r.init(params)
	}
	for i, p := range params {
		g := grads[i]
		v := r.v[i]
		buf := r.buf[i]

		for j := range p {
			v[j] = r.Alpha*v[j] + (1-r.Alpha)*g[j]*g[j]
			update := g[j] / (math.Sqrt(v[j]) + r.Epsilon)
			if r.Momentum > 0 {
				buf[j] = r.Momentum*buf[j] + update
				update = buf[j]
			}
			p[j] -= r.LR * update
		}
	}
}

func (r *RMSpropOptimizer) learningRate() float64      { return r.LR }
func (r *RMSpropOptimizer) setLearningRate(lr float64) { r.LR = lr }
func (r *RMSpropOptimizer) name() string               { return "rmsprop" }

// NewOptimizer builds an optimizer by name with conventional defaults
func NewOptimizer(name string, lr float64) (Optimizer, error) {
	switch name {
	case "sgd":
		return SGD(SGDConfig{LR: lr}), nil
	case "momentum":
		return SGD(SGDConfig{LR: lr, Momentum: 0.9}), nil
	case "adam":
		return Adam(AdamConfig{LR: lr, Beta1: 0.9, Beta2: 0.999, Epsilon: 1e-8}), nil
	case "rmsprop":
		return RMSprop(RMSpropConfig{LR: lr, Alpha: 0.99, Epsilon: 1e-8}), nil
	}
	return nil, configError("Optimizer", "name", "unknown optimizer %q", name)
}
