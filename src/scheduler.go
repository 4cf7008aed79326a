package probflow

import "math"

// ScheduleFunc maps a 1-based epoch to a hyperparameter value. Schedules are
// pure: the same epoch always yields the same value.
//
// The schedulers call f(e) once epoch e has finished, so f(e) is the value
// used for epoch e+1 and e counts completed epochs. Epoch 1 trains with the
// value from FitConfig. The builders below follow that convention, e.g.
// StepDecay first decays after StepSize completed epochs.
type ScheduleFunc func(epoch int) float64

// Constant - same value every epoch
func Constant(value float64) ScheduleFunc {
	return func(epoch int) float64 { return value }
}

// StepDecay - drops the value by Gamma every StepSize epochs
type StepDecayConfig struct {
	Initial  float64
	StepSize int
	Gamma    float64
}

func StepDecay(config StepDecayConfig) ScheduleFunc {
	stepSize := config.StepSize
	if stepSize <= 0 {
		stepSize = 1
	}
	return func(epoch int) float64 {
		return config.Initial * math.Pow(config.Gamma, float64(epoch/stepSize))
	}
}

// ExponentialDecay - multiplies by Gamma each epoch
type ExponentialDecayConfig struct {
	Initial float64
	Gamma   float64
}

func ExponentialDecay(config ExponentialDecayConfig) ScheduleFunc {
	return func(epoch int) float64 {
		return config.Initial * math.Pow(config.Gamma, float64(epoch))
	}
}

// CosineAnnealing - cosine from EtaMax down to EtaMin over TMax epochs
type CosineAnnealingConfig struct {
	TMax   int
	EtaMin float64
	EtaMax float64
}

func CosineAnnealing(config CosineAnnealingConfig) ScheduleFunc {
	return func(epoch int) float64 {
		if config.TMax <= 0 || epoch >= config.TMax {
			return config.EtaMin
		}
		return config.EtaMin + 0.5*(config.EtaMax-config.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(config.TMax)))
	}
}

// WarmRestarts - cosine annealing restarted every T0, T0*TMult, T0*TMult^2 ... epochs
type WarmRestartsConfig struct {
	T0     int
	TMult  int
	EtaMin float64
	EtaMax float64
}

func WarmRestarts(config WarmRestartsConfig) ScheduleFunc {
	t0 := config.T0
	if t0 <= 0 {
		t0 = 1
	}
	mult := config.TMult
	if mult < 1 {
		mult = 1
	}
	return func(epoch int) float64 {
		pos, period := epoch, t0
		for pos >= period {
			pos -= period
			period *= mult
		}
		return config.EtaMin + 0.5*(config.EtaMax-config.EtaMin)*(1+math.Cos(math.Pi*float64(pos)/float64(period)))
	}
}

// LinearDecay - linear from Start to End over TotalEpochs
type LinearDecayConfig struct {
	Start       float64
	End         float64
	TotalEpochs int
}

func LinearDecay(config LinearDecayConfig) ScheduleFunc {
	return func(epoch int) float64 {
		if epoch >= config.TotalEpochs {
			return config.End
		}
		return config.Start + (config.End-config.Start)*float64(epoch)/float64(config.TotalEpochs)
	}
}

// PolynomialDecay - polynomial from Start to End over TotalEpochs
type PolynomialDecayConfig struct {
	Start       float64
	End         float64
	Power       float64
	TotalEpochs int
}

func PolynomialDecay(config PolynomialDecayConfig) ScheduleFunc {
	return func(epoch int) float64 {
		if epoch >= config.TotalEpochs {
			return config.End
		}
		decay := math.Pow(1-float64(epoch)/float64(config.TotalEpochs), config.Power)
		return (config.Start-config.End)*decay + config.End
	}
}

// Warmup - linear ramp from Initial to Target, then constant. A KL weight
// annealed from 0 to 1 is Warmup{Initial: 0, Target: 1}.
type WarmupConfig struct {
	WarmupEpochs int
	Initial      float64
	Target       float64
}

func Warmup(config WarmupConfig) ScheduleFunc {
	return func(epoch int) float64 {
		if epoch >= config.WarmupEpochs {
			return config.Target
		}
		return config.Initial + (config.Target-config.Initial)*float64(epoch)/float64(config.WarmupEpochs)
	}
}
