package probflow

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"
)

// Args holds named distribution parameters
type Args map[string]float64

// Distribution is a univariate probability distribution. All density math is
// done by gonum's distuv; the types here only carry parameter names and defaults.
type Distribution interface {
	Name() string
	Args() Args
	LogProb(x float64) float64
	Prob(x float64) float64
	CDF(x float64) float64
	Mean() float64
	Rand() float64
}

type distributionEntry struct {
	defaults Args
	build    func(a Args, src rand.Source) Distribution
}

var distributions = map[string]distributionEntry{
	"Normal": {
		defaults: Args{"loc": 0, "scale": 1},
		build: func(a Args, src rand.Source) Distribution {
			return &Normal{args: a, d: distuv.Normal{Mu: a["loc"], Sigma: a["scale"], Src: src}}
		},
	},
	"HalfNormal": {
		defaults: Args{"scale": 1},
		build: func(a Args, src rand.Source) Distribution {
			return &HalfNormal{args: a, d: distuv.Normal{Mu: 0, Sigma: a["scale"], Src: src}}
		},
	},
	"StudentT": {
		defaults: Args{"df": 1, "loc": 0, "scale": 1},
		build: func(a Args, src rand.Source) Distribution {
			return &StudentT{args: a, d: distuv.StudentsT{Mu: a["loc"], Sigma: a["scale"], Nu: a["df"], Src: src}}
		},
	},
	"Cauchy": {
		defaults: Args{"loc": 0, "scale": 1},
		build: func(a Args, src rand.Source) Distribution {
			// Student-t with one degree of freedom
			return &Cauchy{args: a, d: distuv.StudentsT{Mu: a["loc"], Sigma: a["scale"], Nu: 1, Src: src}}
		},
	},
}

// NewDistribution builds a registered distribution. Missing arguments take
// their defaults. src may be nil, in which case the global source is used.
func NewDistribution(name string, args Args, src rand.Source) (Distribution, error) {
	entry, ok := distributions[name]
	if !ok {
		return nil, configError("Distribution", "name", "unknown distribution %q (known: %v)", name, Distributions())
	}
	merged := make(Args, len(entry.defaults))
	for k, v := range entry.defaults {
		merged[k] = v
	}
	for k, v := range args {
		if _, ok := entry.defaults[k]; !ok {
			return nil, configError(name, k, "not a parameter of %s", name)
		}
		merged[k] = v
	}
	for _, k := range []string{"scale", "df"} {
		if v, ok := merged[k]; ok && !(v > 0) {
			return nil, configError(name, k, "must be > 0, got %v", v)
		}
	}
	return entry.build(merged, src), nil
}

// DefaultArgs returns a copy of the default arguments of a distribution
func DefaultArgs(name string) (Args, bool) {
	entry, ok := distributions[name]
	if !ok {
		return nil, false
	}
	out := make(Args, len(entry.defaults))
	for k, v := range entry.defaults {
		out[k] = v
	}
	return out, true
}

// Distributions lists the registered distribution names in sorted order
func Distributions() []string {
	names := make([]string, 0, len(distributions))
	for name := range distributions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func copyArgs(a Args) Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Normal distribution, parameters loc and scale
type Normal struct {
	args Args
	d    distuv.Normal
}

func (n *Normal) Name() string              { return "Normal" }
func (n *Normal) Args() Args                { return copyArgs(n.args) }
func (n *Normal) LogProb(x float64) float64 { return n.d.LogProb(x) }
func (n *Normal) Prob(x float64) float64    { return n.d.Prob(x) }
func (n *Normal) CDF(x float64) float64     { return n.d.CDF(x) }
func (n *Normal) Mean() float64             { return n.d.Mean() }
func (n *Normal) Rand() float64             { return n.d.Rand() }

// HalfNormal distribution on [0, inf), parameter scale
type HalfNormal struct {
	args Args
	d    distuv.Normal
}

func (h *HalfNormal) Name() string { return "HalfNormal" }
func (h *HalfNormal) Args() Args   { return copyArgs(h.args) }

func (h *HalfNormal) LogProb(x float64) float64 {
	if x < 0 {
		return math.Inf(-1)
	}
	return math.Ln2 + h.d.LogProb(x)
}

func (h *HalfNormal) Prob(x float64) float64 { return math.Exp(h.LogProb(x)) }

func (h *HalfNormal) CDF(x float64) float64 {
	if x < 0 {
		return 0
	}
	return 2*h.d.CDF(x) - 1
}

func (h *HalfNormal) Mean() float64 { return h.d.Sigma * math.Sqrt(2/math.Pi) }
func (h *HalfNormal) Rand() float64 { return math.Abs(h.d.Rand()) }

// StudentT distribution, parameters df, loc and scale
type StudentT struct {
	args Args
	d    distuv.StudentsT
}

func (s *StudentT) Name() string              { return "StudentT" }
func (s *StudentT) Args() Args                { return copyArgs(s.args) }
func (s *StudentT) LogProb(x float64) float64 { return s.d.LogProb(x) }
func (s *StudentT) Prob(x float64) float64    { return s.d.Prob(x) }
func (s *StudentT) CDF(x float64) float64     { return s.d.CDF(x) }

// Mean is undefined (NaN) for df <= 1
func (s *StudentT) Mean() float64 {
	if s.d.Nu <= 1 {
		return math.NaN()
	}
	return s.d.Mu
}

func (s *StudentT) Rand() float64 { return s.d.Rand() }

// Cauchy distribution, parameters loc and scale. Its mean is undefined (NaN).
type Cauchy struct {
	args Args
	d    distuv.StudentsT
}

func (c *Cauchy) Name() string              { return "Cauchy" }
func (c *Cauchy) Args() Args                { return copyArgs(c.args) }
func (c *Cauchy) LogProb(x float64) float64 { return c.d.LogProb(x) }
func (c *Cauchy) Prob(x float64) float64    { return c.d.Prob(x) }
func (c *Cauchy) CDF(x float64) float64     { return c.d.CDF(x) }
func (c *Cauchy) Mean() float64             { return math.NaN() }
func (c *Cauchy) Rand() float64             { return c.d.Rand() }
