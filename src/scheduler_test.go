package probflow

import (
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) <= 1e-9*math.Max(1, math.Abs(b))
}

func TestSchedules(t *testing.T) {
	tests := []struct {
		name  string
		fn    ScheduleFunc
		epoch int
		want  float64
	}{
		{"constant", Constant(0.3), 7, 0.3},
		{"step before drop", StepDecay(StepDecayConfig{Initial: 1, StepSize: 10, Gamma: 0.5}), 9, 1},
		{"step after ten completed epochs", StepDecay(StepDecayConfig{Initial: 1, StepSize: 10, Gamma: 0.5}), 10, 0.5},
		{"step after drop", StepDecay(StepDecayConfig{Initial: 1, StepSize: 10, Gamma: 0.5}), 20, 0.25},
		{"step zero size", StepDecay(StepDecayConfig{Initial: 1, StepSize: 0, Gamma: 0.5}), 2, 0.25},
		{"exponential", ExponentialDecay(ExponentialDecayConfig{Initial: 2, Gamma: 0.5}), 3, 0.25},
		{"cosine midpoint", CosineAnnealing(CosineAnnealingConfig{TMax: 10, EtaMin: 0, EtaMax: 1}), 5, 0.5},
		{"cosine end", CosineAnnealing(CosineAnnealingConfig{TMax: 10, EtaMin: 0.1, EtaMax: 1}), 15, 0.1},
		{"restart at period", WarmRestarts(WarmRestartsConfig{T0: 4, TMult: 1, EtaMin: 0, EtaMax: 1}), 4, 1},
		{"restart doubled period", WarmRestarts(WarmRestartsConfig{T0: 2, TMult: 2, EtaMin: 0, EtaMax: 1}), 4, 0.5},
		{"linear half", LinearDecay(LinearDecayConfig{Start: 1, End: 0, TotalEpochs: 4}), 2, 0.5},
		{"linear past end", LinearDecay(LinearDecayConfig{Start: 1, End: 0.2, TotalEpochs: 4}), 9, 0.2},
		{"polynomial", PolynomialDecay(PolynomialDecayConfig{Start: 1, End: 0, Power: 2, TotalEpochs: 4}), 2, 0.25},
		{"warmup ramp", Warmup(WarmupConfig{WarmupEpochs: 4, Initial: 0, Target: 1}), 1, 0.25},
		{"warmup done", Warmup(WarmupConfig{WarmupEpochs: 4, Initial: 0, Target: 1}), 10, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.epoch); !approx(got, tt.want) {
				t.Errorf("epoch %d: got %g, want %g", tt.epoch, got, tt.want)
			}
		})
	}
}

func TestSchedulesArePure(t *testing.T) {
	fns := map[string]ScheduleFunc{
		"step":          StepDecay(StepDecayConfig{Initial: 1, StepSize: 3, Gamma: 0.7}),
		"warm_restarts": WarmRestarts(WarmRestartsConfig{T0: 3, TMult: 2, EtaMin: 0.01, EtaMax: 1}),
		"cosine":        CosineAnnealing(CosineAnnealingConfig{TMax: 20, EtaMin: 0.01, EtaMax: 1}),
	}
	for name, fn := range fns {
		first := make([]float64, 30)
		for e := range first {
			first[e] = fn(e + 1)
		}
		for e := len(first) - 1; e >= 0; e-- {
			if got := fn(e + 1); got != first[e] {
				t.Errorf("%s: epoch %d gave %g then %g", name, e+1, first[e], got)
			}
		}
	}
}

func TestSchedulerDrivesTrainerEveryEpoch(t *testing.T) {
	fn := ExponentialDecay(ExponentialDecayConfig{Initial: 1, Gamma: 0.9})
	sched, err := NewLearningRateScheduler(LearningRateSchedulerConfig{Fn: fn})
	if err != nil {
		t.Fatal(err)
	}
	trainer := &fakeTrainer{}
	sched.Attach(trainer)
	for epoch := 1; epoch <= 10; epoch++ {
		if err := sched.OnEpochEnd(); err != nil {
			t.Fatal(err)
		}
		if sched.CurrentLearningRate() != fn(epoch) || trainer.lrs[epoch-1] != fn(epoch) {
			t.Fatalf("epoch %d: scheduler %g, trainer %g, want %g",
				epoch, sched.CurrentLearningRate(), trainer.lrs[epoch-1], fn(epoch))
		}
	}
}
