package probflow

import (
	"fmt"
	"io"
	"math"
	"os"
)

// Trainer is the side of the training loop a callback talks back to.
type Trainer interface {
	// SetLearningRate updates the optimizer's learning rate for subsequent steps.
	SetLearningRate(lr float64)

	// SetKLWeight updates the weight on the KL term of the loss for subsequent steps.
	SetKLWeight(w float64)

	// Metric evaluates m over data using the current model state.
	Metric(m Metric, data *DataGenerator) (float64, error)

	// PosteriorMean returns the posterior mean of each named parameter,
	// or of every parameter when params is empty.
	PosteriorMean(params []string) (map[string][]float64, error)

	// StopTraining asks the trainer to end its epoch loop after the current epoch.
	StopTraining()
}

// Callback is invoked by a Trainer at epoch boundaries.
//
// The trainer calls Attach once when the callback is registered for a fit,
// OnEpochEnd after every completed epoch and OnTrainEnd once when the run
// finishes. All hooks run on the trainer's goroutine in registration order.
type Callback interface {
	Attach(t Trainer)
	OnEpochEnd() error
	OnTrainEnd() error
}

// BaseCallback holds the trainer back-reference and no-op hooks.
// Embed it to implement only the hooks you need.
type BaseCallback struct {
	trainer Trainer
}

// Attach records the trainer this callback reports to. The callback never
// owns the trainer.
func (b *BaseCallback) Attach(t Trainer) { b.trainer = t }

// Trainer returns the attached trainer, or nil.
func (b *BaseCallback) Trainer() Trainer { return b.trainer }

func (b *BaseCallback) OnEpochEnd() error { return nil }
func (b *BaseCallback) OnTrainEnd() error { return nil }

func (b *BaseCallback) attached() (Trainer, error) {
	if b.trainer == nil {
		return nil, ErrNotAttached
	}
	return b.trainer, nil
}

// LearningRateScheduler sets the learning rate as a function of the epoch
type LearningRateScheduler struct {
	BaseCallback
	fn           ScheduleFunc
	currentEpoch int
	currentLR    float64
	epochs       []int
	rates        []float64
}

type LearningRateSchedulerConfig struct {
	Fn ScheduleFunc
}

func NewLearningRateScheduler(config LearningRateSchedulerConfig) (*LearningRateScheduler, error) {
	if err := probeSchedule("LearningRateScheduler", config.Fn); err != nil {
		return nil, err
	}
	return &LearningRateScheduler{fn: config.Fn}, nil
}

// OnEpochEnd advances the epoch and pushes fn(epoch) to the trainer.
func (l *LearningRateScheduler) OnEpochEnd() error {
	t, err := l.attached()
	if err != nil {
		return err
	}
	l.currentEpoch++
	l.currentLR = l.fn(l.currentEpoch)
	t.SetLearningRate(l.currentLR)
	l.epochs = append(l.epochs, l.currentEpoch)
	l.rates = append(l.rates, l.currentLR)
	return nil
}

func (l *LearningRateScheduler) CurrentEpoch() int            { return l.currentEpoch }
func (l *LearningRateScheduler) CurrentLearningRate() float64 { return l.currentLR }
func (l *LearningRateScheduler) Epochs() []int                { return append([]int(nil), l.epochs...) }
func (l *LearningRateScheduler) LearningRates() []float64     { return append([]float64(nil), l.rates...) }

// Reset clears the history so the scheduler can be reused for another fit.
func (l *LearningRateScheduler) Reset() {
	l.currentEpoch = 0
	l.currentLR = 0
	l.epochs = nil
	l.rates = nil
}

// KLWeightScheduler sets the weight of the KL term as a function of the epoch.
// Values are forwarded as-is; no clamping to [0, 1] is done.
type KLWeightScheduler struct {
	BaseCallback
	fn           ScheduleFunc
	currentEpoch int
	currentW     float64
	epochs       []int
	weights      []float64
}

type KLWeightSchedulerConfig struct {
	Fn ScheduleFunc
}

func NewKLWeightScheduler(config KLWeightSchedulerConfig) (*KLWeightScheduler, error) {
	if err := probeSchedule("KLWeightScheduler", config.Fn); err != nil {
		return nil, err
	}
	return &KLWeightScheduler{fn: config.Fn}, nil
}

func (k *KLWeightScheduler) OnEpochEnd() error {
	t, err := k.attached()
	if err != nil {
		return err
	}
	k.currentEpoch++
	k.currentW = k.fn(k.currentEpoch)
	t.SetKLWeight(k.currentW)
	k.epochs = append(k.epochs, k.currentEpoch)
	k.weights = append(k.weights, k.currentW)
	return nil
}

func (k *KLWeightScheduler) CurrentEpoch() int        { return k.currentEpoch }
func (k *KLWeightScheduler) CurrentKLWeight() float64 { return k.currentW }
func (k *KLWeightScheduler) Epochs() []int            { return append([]int(nil), k.epochs...) }
func (k *KLWeightScheduler) KLWeights() []float64     { return append([]float64(nil), k.weights...) }

func (k *KLWeightScheduler) Reset() {
	k.currentEpoch = 0
	k.currentW = 0
	k.epochs = nil
	k.weights = nil
}

// probeSchedule evaluates fn at epoch 1 so a broken schedule fails at
// construction instead of mid-run.
func probeSchedule(component string, fn ScheduleFunc) (err error) {
	if fn == nil {
		return configError(component, "fn", "schedule function is nil")
	}
	defer func() {
		if r := recover(); r != nil {
			err = configError(component, "fn", "schedule function panicked at epoch 1: %v", r)
		}
	}()
	if v := fn(1); math.IsNaN(v) {
		return configError(component, "fn", "schedule function returned NaN at epoch 1")
	}
	return nil
}

// MonitorMetric records a metric on fixed validation data after each epoch
type MonitorMetric struct {
	BaseCallback
	metric        Metric
	data          *DataGenerator
	verbose       bool
	out           io.Writer
	currentEpoch  int
	currentMetric float64
	epochs        []int
	metrics       []float64
}

type MonitorMetricConfig struct {
	Metric    string  // registered metric name, e.g. "mse"
	Func      *Metric // custom metric; takes precedence over Metric
	X         [][]float64
	Y         []float64 // may be nil for label-free metrics
	BatchSize int       // 0 evaluates all rows in one batch
	Verbose   bool
	Output    io.Writer // defaults to os.Stdout
}

func NewMonitorMetric(config MonitorMetricConfig) (*MonitorMetric, error) {
	var m Metric
	if config.Func != nil {
		if config.Func.Fn == nil {
			return nil, configError("MonitorMetric", "metric", "custom metric %q has no function", config.Func.Name)
		}
		m = *config.Func
	} else {
		var err error
		if m, err = ResolveMetric(config.Metric); err != nil {
			return nil, err
		}
	}

	batchSize := config.BatchSize
	if batchSize == 0 {
		batchSize = len(config.X)
	}
	data, err := MakeGenerator(config.X, config.Y, DataConfig{BatchSize: batchSize})
	if err != nil {
		return nil, err
	}

	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	return &MonitorMetric{
		metric:        m,
		data:          data,
		verbose:       config.Verbose,
		out:           out,
		currentMetric: math.NaN(),
	}, nil
}

// OnEpochEnd computes the metric on the validation data. A failure from the
// trainer is returned untouched and leaves the history unchanged.
func (m *MonitorMetric) OnEpochEnd() error {
	t, err := m.attached()
	if err != nil {
		return err
	}
	value, err := t.Metric(m.metric, m.data)
	if err != nil {
		return err
	}
	m.currentMetric = value
	m.currentEpoch++
	m.metrics = append(m.metrics, value)
	m.epochs = append(m.epochs, m.currentEpoch)
	if m.verbose {
		fmt.Fprintf(m.out, "Epoch %d \t%s: %v\n", m.currentEpoch, m.metric.Name, value)
	}
	return nil
}

// CurrentMetric is the latest value, NaN before the first epoch. Its method
// value is the usual EarlyStopping accessor.
func (m *MonitorMetric) CurrentMetric() float64 { return m.currentMetric }
func (m *MonitorMetric) CurrentEpoch() int       { return m.currentEpoch }
func (m *MonitorMetric) MetricName() string      { return m.metric.Name }
func (m *MonitorMetric) Data() *DataGenerator    { return m.data }
func (m *MonitorMetric) Epochs() []int           { return append([]int(nil), m.epochs...) }
func (m *MonitorMetric) Metrics() []float64      { return append([]float64(nil), m.metrics...) }

func (m *MonitorMetric) Reset() {
	m.currentEpoch = 0
	m.currentMetric = math.NaN()
	m.epochs = nil
	m.metrics = nil
}

// MonitorParameter records posterior means of parameters after each epoch
type MonitorParameter struct {
	BaseCallback
	data          *DataGenerator
	params        []string
	currentEpoch  int
	currentParams map[string][]float64
	values        []map[string][]float64
	epochs        []int
}

type MonitorParameterConfig struct {
	X      [][]float64
	Y      []float64
	Params []string // nil tracks every parameter
}

func NewMonitorParameter(config MonitorParameterConfig) (*MonitorParameter, error) {
	var data *DataGenerator
	if len(config.X) > 0 {
		var err error
		data, err = MakeGenerator(config.X, config.Y, DataConfig{BatchSize: len(config.X)})
		if err != nil {
			return nil, err
		}
	}
	var params []string
	if len(config.Params) > 0 {
		params = append(params, config.Params...)
	}
	return &MonitorParameter{data: data, params: params}, nil
}

// OnEpochEnd stores whatever the trainer returns, without copying or transforming it.
func (p *MonitorParameter) OnEpochEnd() error {
	t, err := p.attached()
	if err != nil {
		return err
	}
	snapshot, err := t.PosteriorMean(p.params)
	if err != nil {
		return err
	}
	p.currentParams = snapshot
	p.currentEpoch++
	p.values = append(p.values, snapshot)
	p.epochs = append(p.epochs, p.currentEpoch)
	return nil
}

// CurrentParams is nil before the first epoch.
func (p *MonitorParameter) CurrentParams() map[string][]float64 { return p.currentParams }
func (p *MonitorParameter) CurrentEpoch() int                   { return p.currentEpoch }
func (p *MonitorParameter) Params() []string                    { return append([]string(nil), p.params...) }
func (p *MonitorParameter) Data() *DataGenerator                { return p.data }
func (p *MonitorParameter) Epochs() []int                       { return append([]int(nil), p.epochs...) }

func (p *MonitorParameter) ParameterValues() []map[string][]float64 {
	return append([]map[string][]float64(nil), p.values...)
}

func (p *MonitorParameter) Reset() {
	p.currentEpoch = 0
	p.currentParams = nil
	p.values = nil
	p.epochs = nil
}

// EarlyStopping stops training when a metric stops decreasing.
//
// Only strict improvements reset the counter. Stop is signalled once the
// counter exceeds Patience, so Patience+1 consecutive non-improving epochs
// end the run.
type EarlyStopping struct {
	BaseCallback
	metricFn func() float64
	patience int
	best     float64
	count    int
	stopped  bool
}

type EarlyStoppingConfig struct {
	MetricFn func() float64
	Patience int
}

func NewEarlyStopping(config EarlyStoppingConfig) (*EarlyStopping, error) {
	if config.Patience < 0 {
		return nil, configError("EarlyStopping", "patience", "must be non-negative, got %d", config.Patience)
	}
	if config.MetricFn == nil {
		return nil, configError("EarlyStopping", "metric_fn", "accessor is nil")
	}
	return &EarlyStopping{
		metricFn: config.MetricFn,
		patience: config.Patience,
		best:     math.Inf(1),
	}, nil
}

func (e *EarlyStopping) OnEpochEnd() error {
	t, err := e.attached()
	if err != nil {
		return err
	}
	metric := e.metricFn()
	if metric < e.best {
		e.best = metric
		e.count = 0
		return nil
	}
	e.count++
	if e.count > e.patience {
		if !e.stopped {
			logger.Printf("early stopping: no improvement on %.6g for %d epochs", e.best, e.count)
		}
		e.stopped = true
		t.StopTraining()
	}
	return nil
}

func (e *EarlyStopping) Best() float64 { return e.best }
func (e *EarlyStopping) Count() int    { return e.count }
func (e *EarlyStopping) Patience() int { return e.patience }

// Stopped reports whether a stop has been signalled.
func (e *EarlyStopping) Stopped() bool { return e.stopped }

func (e *EarlyStopping) Reset() {
	e.best = math.Inf(1)
	e.count = 0
	e.stopped = false
}
