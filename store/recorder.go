package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	probflow "probflow/src"
)

// Source is a named value read after every epoch, typically a method value
// such as monitor.CurrentMetric or scheduler.CurrentLearningRate.
type Source struct {
	Name string
	Fn   func() float64
}

// RecorderConfig configures a Recorder
type RecorderConfig struct {
	Store      *Store // nil keeps the run in memory only
	Model      string
	Sources    []Source
	Parameters *probflow.MonitorParameter // optional, snapshots copied per epoch
	Stopped    func() bool                // optional, e.g. earlyStopping.Stopped
	Context    context.Context            // used for the final write
}

// Recorder is a callback that collects named series during a fit and saves
// them as one Run when training ends. Register it after the callbacks it
// reads from.
type Recorder struct {
	probflow.BaseCallback
	config RecorderConfig
	run    *Run
	epoch  int
}

func NewRecorder(config RecorderConfig) (*Recorder, error) {
	seen := make(map[string]bool, len(config.Sources))
	for _, src := range config.Sources {
		if src.Name == "" {
			return nil, &probflow.ConfigError{Component: "Recorder", Argument: "sources", Cause: "source has no name"}
		}
		if src.Fn == nil {
			return nil, &probflow.ConfigError{Component: "Recorder", Argument: "sources", Cause: "source " + src.Name + " has no function"}
		}
		if seen[src.Name] {
			return nil, &probflow.ConfigError{Component: "Recorder", Argument: "sources", Cause: "duplicate source " + src.Name}
		}
		seen[src.Name] = true
	}
	if config.Context == nil {
		config.Context = context.Background()
	}
	return &Recorder{config: config}, nil
}

// Attach starts a new run, named after the trainer's run id when it has one.
func (r *Recorder) Attach(t probflow.Trainer) {
	r.BaseCallback.Attach(t)
	id := ""
	if withID, ok := t.(interface{ RunID() string }); ok {
		id = withID.RunID()
	}
	if id == "" {
		id = uuid.NewString()
	}
	r.epoch = 0
	r.run = &Run{
		ID:        id,
		Model:     r.config.Model,
		CreatedAt: time.Now(),
		Series:    make(map[string][]Point, len(r.config.Sources)),
	}
}

func (r *Recorder) OnEpochEnd() error {
	if r.run == nil {
		return probflow.ErrNotAttached
	}
	r.epoch++
	for _, src := range r.config.Sources {
		r.run.Series[src.Name] = append(r.run.Series[src.Name], Point{Epoch: r.epoch, Value: src.Fn()})
	}
	if p := r.config.Parameters; p != nil && p.CurrentParams() != nil {
		values := make(map[string][]float64, len(p.CurrentParams()))
		for name, v := range p.CurrentParams() {
			values[name] = append([]float64(nil), v...)
		}
		r.run.Params = append(r.run.Params, ParamSnapshot{Epoch: r.epoch, Values: values})
	}
	return nil
}

func (r *Recorder) OnTrainEnd() error {
	if r.run == nil {
		return probflow.ErrNotAttached
	}
	r.run.Epochs = r.epoch
	if r.config.Stopped != nil {
		r.run.Stopped = r.config.Stopped()
	}
	if r.config.Store == nil {
		return nil
	}
	return errors.Wrapf(r.config.Store.SaveRun(r.config.Context, r.run), "store: recording run %s", r.run.ID)
}

// Run returns the run being recorded, or the last one recorded.
func (r *Recorder) Run() *Run { return r.run }
