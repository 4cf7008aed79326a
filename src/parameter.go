package probflow

// Parameter is a vector of model weights with a mean-field Normal variational
// posterior. The posterior scale is softplus(raw) so the optimizer works on an
// unconstrained value.
type Parameter struct {
	Name string
	loc  []float64
	raw  []float64
}

func newParameter(name string, size int, initScale float64) *Parameter {
	p := &Parameter{
		Name: name,
		loc:  make([]float64, size),
		raw:  make([]float64, size),
	}
	r := inverseSoftplus(initScale)
	for i := range p.raw {
		p.raw[i] = r
	}
	return p
}

func (p *Parameter) Size() int { return len(p.loc) }

// PosteriorMean returns a copy of the posterior locations
func (p *Parameter) PosteriorMean() []float64 {
	return append([]float64(nil), p.loc...)
}

// PosteriorScale returns the posterior standard deviations
func (p *Parameter) PosteriorScale() []float64 {
	out := make([]float64, len(p.raw))
	for i, r := range p.raw {
		out[i] = softplus(r)
	}
	return out
}

// sample draws loc + scale*eps for standard normal eps
func (p *Parameter) sample(eps []float64) []float64 {
	out := make([]float64, len(p.loc))
	for i := range p.loc {
		out[i] = p.loc[i] + softplus(p.raw[i])*eps[i]
	}
	return out
}

// backward turns dL/dθ for the sampled value into gradients for loc and raw
func (p *Parameter) backward(gradSample, eps, gLoc, gRaw []float64) {
	for i := range p.loc {
		gLoc[i] += gradSample[i]
		gRaw[i] += gradSample[i] * eps[i] * sigmoid(p.raw[i])
	}
}
