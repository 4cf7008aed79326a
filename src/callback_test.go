package probflow

import (
	"bytes"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

// fakeTrainer records every call a callback makes back into the loop.
type fakeTrainer struct {
	lrs       []float64
	klWeights []float64
	stops     int

	metrics   []float64 // returned in order by Metric
	metricErr error
	metricN   int

	params    map[string][]float64
	paramsErr error
	requested [][]string
}

func (f *fakeTrainer) SetLearningRate(lr float64) { f.lrs = append(f.lrs, lr) }
func (f *fakeTrainer) SetKLWeight(w float64)      { f.klWeights = append(f.klWeights, w) }
func (f *fakeTrainer) StopTraining()              { f.stops++ }

func (f *fakeTrainer) Metric(m Metric, data *DataGenerator) (float64, error) {
	if f.metricErr != nil {
		return 0, f.metricErr
	}
	v := f.metrics[f.metricN%len(f.metrics)]
	f.metricN++
	return v, nil
}

func (f *fakeTrainer) PosteriorMean(params []string) (map[string][]float64, error) {
	f.requested = append(f.requested, params)
	if f.paramsErr != nil {
		return nil, f.paramsErr
	}
	return f.params, nil
}

func runEpochs(t *testing.T, cb Callback, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := cb.OnEpochEnd(); err != nil {
			t.Fatalf("epoch %d: %v", i+1, err)
		}
	}
}

func TestLearningRateScheduler(t *testing.T) {
	sched, err := NewLearningRateScheduler(LearningRateSchedulerConfig{
		Fn: func(epoch int) float64 { return 1 / float64(epoch) },
	})
	if err != nil {
		t.Fatal(err)
	}
	trainer := &fakeTrainer{}
	sched.Attach(trainer)
	runEpochs(t, sched, 4)

	want := []float64{1, 0.5, 1.0 / 3, 0.25}
	if !reflect.DeepEqual(trainer.lrs, want) {
		t.Errorf("trainer saw %v, want %v", trainer.lrs, want)
	}
	if !reflect.DeepEqual(sched.LearningRates(), want) {
		t.Errorf("history %v, want %v", sched.LearningRates(), want)
	}
	if !reflect.DeepEqual(sched.Epochs(), []int{1, 2, 3, 4}) {
		t.Errorf("epochs %v", sched.Epochs())
	}
	if sched.CurrentEpoch() != 4 || sched.CurrentLearningRate() != 0.25 {
		t.Errorf("current = (%d, %g)", sched.CurrentEpoch(), sched.CurrentLearningRate())
	}

	sched.Reset()
	if sched.CurrentEpoch() != 0 || len(sched.Epochs()) != 0 || len(sched.LearningRates()) != 0 {
		t.Error("Reset left history behind")
	}
}

func TestKLWeightSchedulerPassesValuesThrough(t *testing.T) {
	// values outside [0, 1] are forwarded unchanged
	sched, err := NewKLWeightScheduler(KLWeightSchedulerConfig{
		Fn: func(epoch int) float64 { return float64(epoch) - 1.5 },
	})
	if err != nil {
		t.Fatal(err)
	}
	trainer := &fakeTrainer{}
	sched.Attach(trainer)
	runEpochs(t, sched, 3)

	want := []float64{-0.5, 0.5, 1.5}
	if !reflect.DeepEqual(trainer.klWeights, want) {
		t.Errorf("trainer saw %v, want %v", trainer.klWeights, want)
	}
	if !reflect.DeepEqual(sched.KLWeights(), want) {
		t.Errorf("history %v, want %v", sched.KLWeights(), want)
	}
	if sched.CurrentKLWeight() != 1.5 {
		t.Errorf("CurrentKLWeight = %g", sched.CurrentKLWeight())
	}
}

func TestScheduleValidation(t *testing.T) {
	tests := []struct {
		name string
		fn   ScheduleFunc
	}{
		{"nil", nil},
		{"panics", func(epoch int) float64 { panic("boom") }},
		{"nan", func(epoch int) float64 { return math.NaN() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewLearningRateScheduler(LearningRateSchedulerConfig{Fn: tt.fn}); !errors.Is(err, ErrConfig) {
				t.Errorf("LearningRateScheduler: got %v, want config error", err)
			}
			if _, err := NewKLWeightScheduler(KLWeightSchedulerConfig{Fn: tt.fn}); !errors.Is(err, ErrConfig) {
				t.Errorf("KLWeightScheduler: got %v, want config error", err)
			}
		})
	}
}

func TestCallbacksRequireAttach(t *testing.T) {
	lr, _ := NewLearningRateScheduler(LearningRateSchedulerConfig{Fn: Constant(0.1)})
	kl, _ := NewKLWeightScheduler(KLWeightSchedulerConfig{Fn: Constant(1)})
	mm, _ := NewMonitorMetric(MonitorMetricConfig{Metric: "mse", X: [][]float64{{1}}, Y: []float64{1}})
	mp, _ := NewMonitorParameter(MonitorParameterConfig{})
	es, _ := NewEarlyStopping(EarlyStoppingConfig{MetricFn: func() float64 { return 0 }})

	for _, cb := range []Callback{lr, kl, mm, mp, es} {
		if err := cb.OnEpochEnd(); !errors.Is(err, ErrNotAttached) {
			t.Errorf("%T: got %v, want ErrNotAttached", cb, err)
		}
	}
	if lr.CurrentEpoch() != 0 || mm.CurrentEpoch() != 0 || es.Count() != 0 {
		t.Error("unattached callback changed state")
	}
}

func TestMonitorMetric(t *testing.T) {
	var out bytes.Buffer
	mon, err := NewMonitorMetric(MonitorMetricConfig{
		Metric:  "mae",
		X:       [][]float64{{1}, {2}, {3}},
		Y:       []float64{1, 2, 3},
		Verbose: true,
		Output:  &out,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !math.IsNaN(mon.CurrentMetric()) {
		t.Errorf("CurrentMetric before any epoch = %g, want NaN", mon.CurrentMetric())
	}
	if mon.MetricName() != "mae" {
		t.Errorf("MetricName = %q", mon.MetricName())
	}
	if mon.Data().Len() != 3 || mon.Data().NumBatches() != 1 {
		t.Errorf("data has %d rows in %d batches", mon.Data().Len(), mon.Data().NumBatches())
	}

	trainer := &fakeTrainer{metrics: []float64{0.9, 0.4, 0.6}}
	mon.Attach(trainer)
	runEpochs(t, mon, 3)

	if !reflect.DeepEqual(mon.Metrics(), []float64{0.9, 0.4, 0.6}) {
		t.Errorf("Metrics = %v", mon.Metrics())
	}
	if !reflect.DeepEqual(mon.Epochs(), []int{1, 2, 3}) {
		t.Errorf("Epochs = %v", mon.Epochs())
	}
	if mon.CurrentMetric() != 0.6 {
		t.Errorf("CurrentMetric = %g", mon.CurrentMetric())
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 || lines[1] != "Epoch 2 \tmae: 0.4" {
		t.Errorf("verbose output = %q", out.String())
	}
}

func TestMonitorMetricErrorLeavesHistory(t *testing.T) {
	mon, err := NewMonitorMetric(MonitorMetricConfig{Metric: "mse", X: [][]float64{{1}}, Y: []float64{1}})
	if err != nil {
		t.Fatal(err)
	}
	trainer := &fakeTrainer{metrics: []float64{0.5}}
	mon.Attach(trainer)
	runEpochs(t, mon, 1)

	boom := errors.New("boom")
	trainer.metricErr = boom
	if err := mon.OnEpochEnd(); err != boom {
		t.Fatalf("got %v, want the trainer's error unchanged", err)
	}
	if len(mon.Metrics()) != 1 || mon.CurrentEpoch() != 1 || mon.CurrentMetric() != 0.5 {
		t.Errorf("failed epoch was recorded: %v epoch %d", mon.Metrics(), mon.CurrentEpoch())
	}
}

func TestMonitorMetricCustomFunc(t *testing.T) {
	custom := &Metric{Name: "max_err", Fn: func(yTrue, yPred []float64) float64 { return 0 }}
	mon, err := NewMonitorMetric(MonitorMetricConfig{Func: custom, Metric: "mse", X: [][]float64{{1}}, Y: []float64{1}})
	if err != nil {
		t.Fatal(err)
	}
	if mon.MetricName() != "max_err" {
		t.Errorf("MetricName = %q, custom metric should take precedence", mon.MetricName())
	}
}

func TestMonitorMetricValidation(t *testing.T) {
	tests := []struct {
		name   string
		config MonitorMetricConfig
	}{
		{"unknown metric", MonitorMetricConfig{Metric: "nope", X: [][]float64{{1}}, Y: []float64{1}}},
		{"custom without fn", MonitorMetricConfig{Func: &Metric{Name: "x"}, X: [][]float64{{1}}, Y: []float64{1}}},
		{"no rows", MonitorMetricConfig{Metric: "mse"}},
		{"label mismatch", MonitorMetricConfig{Metric: "mse", X: [][]float64{{1}, {2}}, Y: []float64{1}}},
		{"negative batch", MonitorMetricConfig{Metric: "mse", X: [][]float64{{1}}, Y: []float64{1}, BatchSize: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewMonitorMetric(tt.config); !errors.Is(err, ErrConfig) {
				t.Errorf("got %v, want config error", err)
			}
		})
	}
}

func TestMonitorParameter(t *testing.T) {
	mon, err := NewMonitorParameter(MonitorParameterConfig{Params: []string{"weights"}})
	if err != nil {
		t.Fatal(err)
	}
	if mon.CurrentParams() != nil {
		t.Error("CurrentParams should be nil before the first epoch")
	}
	if mon.Data() != nil {
		t.Error("Data should be nil without rows")
	}

	snapshot := map[string][]float64{"weights": {1, 2}}
	trainer := &fakeTrainer{params: snapshot}
	mon.Attach(trainer)
	runEpochs(t, mon, 2)

	if !reflect.DeepEqual(trainer.requested, [][]string{{"weights"}, {"weights"}}) {
		t.Errorf("requested %v", trainer.requested)
	}
	// stored as returned, not copied
	snapshot["weights"][0] = 42
	if mon.CurrentParams()["weights"][0] != 42 {
		t.Error("snapshot was copied")
	}
	if len(mon.ParameterValues()) != 2 || !reflect.DeepEqual(mon.Epochs(), []int{1, 2}) {
		t.Errorf("history %v epochs %v", mon.ParameterValues(), mon.Epochs())
	}

	trainer.paramsErr = ErrUnknownParameter
	if err := mon.OnEpochEnd(); !errors.Is(err, ErrUnknownParameter) {
		t.Errorf("got %v", err)
	}
	if mon.CurrentEpoch() != 2 {
		t.Errorf("failed epoch counted: %d", mon.CurrentEpoch())
	}

	mon.Reset()
	if mon.CurrentParams() != nil || len(mon.ParameterValues()) != 0 {
		t.Error("Reset left history behind")
	}
}

func TestMonitorParameterAllParams(t *testing.T) {
	mon, err := NewMonitorParameter(MonitorParameterConfig{X: [][]float64{{1, 2}}, Y: []float64{3}})
	if err != nil {
		t.Fatal(err)
	}
	trainer := &fakeTrainer{params: map[string][]float64{}}
	mon.Attach(trainer)
	runEpochs(t, mon, 1)
	if trainer.requested[0] != nil {
		t.Errorf("requested %v, want nil for every parameter", trainer.requested[0])
	}
	if mon.Data() == nil || mon.Data().Features() != 2 {
		t.Error("data not kept")
	}
}

func sequence(values ...float64) func() float64 {
	i := 0
	return func() float64 {
		v := values[i]
		i++
		return v
	}
}

func TestEarlyStopping(t *testing.T) {
	tests := []struct {
		name      string
		metrics   []float64
		patience  int
		stopAfter int // epoch of the first StopTraining call, 0 for never
		best      float64
	}{
		{"patience zero stops on first tie", []float64{5, 5}, 0, 2, 5},
		{"patience one needs two bad epochs", []float64{5, 4, 4, 4}, 1, 4, 4},
		{"one bad epoch within patience one", []float64{5, 4, 4}, 1, 0, 4},
		{"improvement resets counter", []float64{5, 6, 4, 6, 3}, 1, 0, 3},
		{"steady improvement never stops", []float64{5, 4, 3, 2, 1}, 0, 0, 1},
		{"ties do not improve", []float64{3, 3, 3}, 1, 3, 3},
		{"increasing metric", []float64{1, 2, 3, 4}, 2, 4, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			es, err := NewEarlyStopping(EarlyStoppingConfig{MetricFn: sequence(tt.metrics...), Patience: tt.patience})
			if err != nil {
				t.Fatal(err)
			}
			trainer := &fakeTrainer{}
			es.Attach(trainer)

			first := 0
			for epoch := 1; epoch <= len(tt.metrics); epoch++ {
				if err := es.OnEpochEnd(); err != nil {
					t.Fatal(err)
				}
				if trainer.stops > 0 && first == 0 {
					first = epoch
				}
			}
			if first != tt.stopAfter {
				t.Errorf("first stop at epoch %d, want %d", first, tt.stopAfter)
			}
			if es.Stopped() != (tt.stopAfter != 0) {
				t.Errorf("Stopped = %v", es.Stopped())
			}
			if es.Best() != tt.best {
				t.Errorf("Best = %g, want %g", es.Best(), tt.best)
			}
		})
	}
}

func TestEarlyStoppingNaNNeverImproves(t *testing.T) {
	es, err := NewEarlyStopping(EarlyStoppingConfig{MetricFn: func() float64 { return math.NaN() }, Patience: 0})
	if err != nil {
		t.Fatal(err)
	}
	trainer := &fakeTrainer{}
	es.Attach(trainer)
	runEpochs(t, es, 1)
	if trainer.stops != 1 || !math.IsInf(es.Best(), 1) {
		t.Errorf("stops = %d, best = %g", trainer.stops, es.Best())
	}
}

func TestEarlyStoppingWithMonitor(t *testing.T) {
	mon, err := NewMonitorMetric(MonitorMetricConfig{Metric: "mse", X: [][]float64{{1}}, Y: []float64{1}})
	if err != nil {
		t.Fatal(err)
	}
	es, err := NewEarlyStopping(EarlyStoppingConfig{MetricFn: mon.CurrentMetric, Patience: 0})
	if err != nil {
		t.Fatal(err)
	}
	trainer := &fakeTrainer{metrics: []float64{2, 1, 1}}
	mon.Attach(trainer)
	es.Attach(trainer)
	for epoch := 1; epoch <= 3; epoch++ {
		for _, cb := range []Callback{mon, es} {
			if err := cb.OnEpochEnd(); err != nil {
				t.Fatal(err)
			}
		}
		if stopped := trainer.stops > 0; stopped != (epoch == 3) {
			t.Errorf("epoch %d: stopped = %v", epoch, stopped)
		}
	}
}

func TestEarlyStoppingValidation(t *testing.T) {
	if _, err := NewEarlyStopping(EarlyStoppingConfig{MetricFn: func() float64 { return 0 }, Patience: -1}); !errors.Is(err, ErrConfig) {
		t.Errorf("negative patience: got %v", err)
	}
	if _, err := NewEarlyStopping(EarlyStoppingConfig{Patience: 1}); !errors.Is(err, ErrConfig) {
		t.Errorf("nil accessor: got %v", err)
	}
	var cfgErr *ConfigError
	_, err := NewEarlyStopping(EarlyStoppingConfig{MetricFn: func() float64 { return 0 }, Patience: -3})
	if !errors.As(err, &cfgErr) || cfgErr.Argument != "patience" {
		t.Errorf("got %#v", err)
	}
}
