package probflow

import "math"

// Regularizer penalises a parameter's variational posterior
type Regularizer interface {
	loss(p *Parameter) float64
	gradient(p *Parameter, weight float64, gLoc, gRaw []float64)
	name() string
}

// KLDivergence - KL(q || prior) between the Normal posterior and a Normal prior.
// With a fixed posterior scale this reduces to L2 towards PriorLoc.
type KLDivergence struct {
	PriorLoc   float64
	PriorScale float64
}

func KL(priorLoc, priorScale float64) Regularizer {
	return &KLDivergence{PriorLoc: priorLoc, PriorScale: priorScale}
}

func (k *KLDivergence) loss(p *Parameter) float64 {
	s0 := k.PriorScale
	sum := 0.0
	for i := range p.loc {
		s := softplus(p.raw[i])
		d := p.loc[i] - k.PriorLoc
		sum += math.Log(s0/s) + (s*s+d*d)/(2*s0*s0) - 0.5
	}
	return sum
}

func (k *KLDivergence) gradient(p *Parameter, weight float64, gLoc, gRaw []float64) {
	s0sq := k.PriorScale * k.PriorScale
	for i := range p.loc {
		s := softplus(p.raw[i])
		gLoc[i] += weight * (p.loc[i] - k.PriorLoc) / s0sq
		gRaw[i] += weight * (-1/s + s/s0sq) * sigmoid(p.raw[i])
	}
}

func (k *KLDivergence) name() string { return "kl" }

// NoRegularizer - maximum likelihood, no prior term
type NoRegularizer struct{}

func NoReg() Regularizer { return &NoRegularizer{} }

func (n *NoRegularizer) loss(p *Parameter) float64                                    { return 0 }
func (n *NoRegularizer) gradient(p *Parameter, weight float64, gLoc, gRaw []float64) {}
func (n *NoRegularizer) name() string                                                 { return "none" }
