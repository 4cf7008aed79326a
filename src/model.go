package probflow

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"os"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sourcegraph/conc/pool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	ParamWeights = "weights"
	ParamBias    = "bias"
	ParamStd     = "std"
)

// LinearRegression is a Bayesian linear model
//
//	y ~ Likelihood(loc = w·x + b, scale = std)
//
// with Normal variational posteriors on w and b, fitted by stochastic
// variational inference. It implements Trainer for the callbacks passed to Fit.
type LinearRegression struct {
	config      ModelConfig
	weights     *Parameter
	bias        *Parameter
	rawStd      []float64
	regularizer Regularizer
	optimizer   Optimizer

	klWeight float64
	lastLoss float64
	stop     bool
	runID    string
	ctx      context.Context
	workers  int
	n        int
	src      rand.Source
	noise    distuv.Normal
	tracer   trace.Tracer
}

// FitResult holds training output
type FitResult struct {
	RunID   string
	Epochs  int
	Loss    []float64
	Stopped bool // true when a callback called StopTraining
}

// NewLinearRegression builds a model from a validated config
func NewLinearRegression(config ModelConfig) (*LinearRegression, error) {
	if err := ValidateModelConfig(config); err != nil {
		return nil, err
	}
	initializer := config.Initializer
	if initializer == nil {
		initializer = Zeros()
	}
	reg := config.Regularizer
	if reg == nil {
		reg = KL(config.PriorLoc, config.PriorScale)
	}
	std := config.InitStd
	if std == 0 {
		std = 1
	}

	src := rand.NewPCG(0, 0)
	m := &LinearRegression{
		config:      config,
		weights:     newParameter(ParamWeights, config.Features, config.InitScale),
		bias:        newParameter(ParamBias, 1, config.InitScale),
		rawStd:      []float64{inverseSoftplus(std)},
		regularizer: reg,
		optimizer:   config.Optimizer,
		klWeight:    1,
		lastLoss:    math.NaN(),
		ctx:         context.Background(),
		workers:     1,
		src:         src,
		noise:       distuv.Normal{Mu: 0, Sigma: 1, Src: src},
		tracer:      otel.Tracer("probflow"),
	}
	initializer.initialize(m.weights.loc, src)
	return m, nil
}

// Fit trains the model on x, y. Callbacks are attached to the model and run
// in order after every epoch. The first callback error aborts the run and is
// returned unchanged, together with the partial result.
func (m *LinearRegression) Fit(ctx context.Context, x [][]float64, y []float64, config FitConfig, callbacks ...Callback) (*FitResult, error) {
	if err := ValidateFitConfig(config); err != nil {
		return nil, err
	}
	if y == nil {
		return nil, configError("LinearRegression", "y", "labels are required for fitting")
	}
	data, err := MakeGenerator(x, y, DataConfig{
		BatchSize: config.BatchSize,
		Shuffle:   config.Shuffle,
		Seed:      config.Seed,
	})
	if err != nil {
		return nil, err
	}
	if data.Features() != m.config.Features {
		return nil, configError("LinearRegression", "x", "has %d features, model expects %d", data.Features(), m.config.Features)
	}

	out := config.Output
	if out == nil {
		out = os.Stdout
	}

	m.runID = uuid.NewString()
	m.n = data.Len()
	m.stop = false
	m.lastLoss = math.NaN()
	if config.KLWeight > 0 {
		m.klWeight = config.KLWeight
	}
	m.workers = config.Workers
	if m.workers == 0 {
		m.workers = 1
	}
	if config.LearningRate > 0 {
		m.optimizer.setLearningRate(config.LearningRate)
	}
	m.src = rand.NewPCG(config.Seed, config.Seed+1)
	m.noise = distuv.Normal{Mu: 0, Sigma: 1, Src: m.src}

	ctx, span := m.tracer.Start(ctx, "probflow.fit", trace.WithAttributes(
		attribute.String("run_id", m.runID),
		attribute.Int("epochs", config.Epochs),
		attribute.Int("batch_size", config.BatchSize),
		attribute.Int("samples", m.n),
	))
	defer span.End()
	m.ctx = ctx
	defer func() { m.ctx = context.Background() }()

	logger.Printf("fit %s: %d samples, %d epochs, batch %d, optimizer %s", m.runID, m.n, config.Epochs, config.BatchSize, m.optimizer.name())

	for _, cb := range callbacks {
		cb.Attach(m)
	}

	result := &FitResult{RunID: m.runID}
	for epoch := 0; epoch < config.Epochs && !m.stop; epoch++ {
		if err := ctx.Err(); err != nil {
			span.SetStatus(codes.Error, "interrupted")
			return result, errors.Wrapf(err, "probflow: fit interrupted before epoch %d", epoch+1)
		}

		loss, err := m.runEpoch(ctx, data, epoch)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return result, err
		}
		m.lastLoss = loss
		result.Loss = append(result.Loss, loss)
		result.Epochs++

		if config.Verbose {
			fmt.Fprintf(out, "Epoch %d/%d \tloss: %.6f\n", epoch+1, config.Epochs, loss)
		}

		for _, cb := range callbacks {
			if err := cb.OnEpochEnd(); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return result, err
			}
		}
	}
	result.Stopped = m.stop

	for _, cb := range callbacks {
		if err := cb.OnTrainEnd(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return result, err
		}
	}

	span.SetAttributes(attribute.Int("epochs_run", result.Epochs), attribute.Bool("stopped", result.Stopped))
	logger.Printf("fit %s: finished after %d epochs (stopped=%v)", m.runID, result.Epochs, result.Stopped)
	return result, nil
}

func (m *LinearRegression) runEpoch(ctx context.Context, data *DataGenerator, epoch int) (float64, error) {
	_, span := m.tracer.Start(ctx, "probflow.epoch", trace.WithAttributes(attribute.Int("epoch", epoch+1)))
	defer span.End()

	data.OnEpochStart()
	numBatches := data.NumBatches()
	epochLoss := 0.0
	for b := 0; b < numBatches; b++ {
		xs, ys := data.Batch(b)
		loss, err := m.trainBatch(xs, ys)
		if err != nil {
			return 0, errors.Wrapf(err, "probflow: epoch %d batch %d", epoch+1, b)
		}
		epochLoss += loss
	}
	epochLoss /= float64(numBatches)
	if math.IsNaN(epochLoss) || math.IsInf(epochLoss, 0) {
		return 0, errorf("loss is %v at epoch %d", epochLoss, epoch+1)
	}
	span.SetAttributes(attribute.Float64("loss", epochLoss))
	return epochLoss, nil
}

// trainBatch takes one optimizer step on the negative ELBO
//
//	-mean log p(y|x, w, b) + klWeight * KL(q||p) / N
//
// using a single reparameterised sample of w and b.
func (m *LinearRegression) trainBatch(xs [][]float64, ys []float64) (float64, error) {
	d := m.config.Features
	epsW := make([]float64, d)
	for j := range epsW {
		epsW[j] = m.noise.Rand()
	}
	epsB := []float64{m.noise.Rand()}
	w := m.weights.sample(epsW)
	b := m.bias.sample(epsB)[0]
	scale := softplus(m.rawStd[0])

	gw := make([]float64, d)
	gb := make([]float64, 1)
	gs := 0.0
	nll := 0.0
	size := float64(len(xs))
	for i, x := range xs {
		loc := dot(w, x) + b
		lp, dLoc, dScale, err := m.likelihoodGrad(ys[i], loc, scale)
		if err != nil {
			return 0, err
		}
		nll -= lp / size
		g := -dLoc / size
		for j := range gw {
			gw[j] += g * x[j]
		}
		gb[0] += g
		gs -= dScale / size
	}

	gWLoc, gWRaw := make([]float64, d), make([]float64, d)
	gBLoc, gBRaw := make([]float64, 1), make([]float64, 1)
	m.weights.backward(gw, epsW, gWLoc, gWRaw)
	m.bias.backward(gb, epsB, gBLoc, gBRaw)

	klScale := m.klWeight / float64(m.n)
	kl := m.regularizer.loss(m.weights) + m.regularizer.loss(m.bias)
	m.regularizer.gradient(m.weights, klScale, gWLoc, gWRaw)
	m.regularizer.gradient(m.bias, klScale, gBLoc, gBRaw)

	gStd := []float64{gs * sigmoid(m.rawStd[0])}

	m.optimizer.step(
		[][]float64{m.weights.loc, m.weights.raw, m.bias.loc, m.bias.raw, m.rawStd},
		[][]float64{gWLoc, gWRaw, gBLoc, gBRaw, gStd},
	)
	return nll + klScale*kl, nil
}

// likelihood builds the observation distribution for one prediction
func (m *LinearRegression) likelihood(loc, scale float64, src rand.Source) (Distribution, error) {
	args := make(Args, len(m.config.LikelihoodArgs)+2)
	for k, v := range m.config.LikelihoodArgs {
		args[k] = v
	}
	args["loc"] = loc
	args["scale"] = scale
	return NewDistribution(m.config.Likelihood, args, src)
}

func (m *LinearRegression) logProb(y, loc, scale float64) (float64, error) {
	dist, err := m.likelihood(loc, scale, nil)
	if err != nil {
		return 0, err
	}
	return dist.LogProb(y), nil
}

// likelihoodGrad returns log p(y) and its derivatives with respect to loc and
// scale, by central differences on the distribution's log density.
func (m *LinearRegression) likelihoodGrad(y, loc, scale float64) (lp, dLoc, dScale float64, err error) {
	if lp, err = m.logProb(y, loc, scale); err != nil {
		return 0, 0, 0, err
	}
	h := 1e-5 * math.Max(1, math.Abs(loc))
	up, err := m.logProb(y, loc+h, scale)
	if err != nil {
		return 0, 0, 0, err
	}
	down, err := m.logProb(y, loc-h, scale)
	if err != nil {
		return 0, 0, 0, err
	}
	dLoc = (up - down) / (2 * h)

	hs := 1e-5 * scale
	up, err = m.logProb(y, loc, scale+hs)
	if err != nil {
		return 0, 0, 0, err
	}
	down, err = m.logProb(y, loc, scale-hs)
	if err != nil {
		return 0, 0, 0, err
	}
	dScale = (up - down) / (2 * hs)
	return lp, dLoc, dScale, nil
}

func (m *LinearRegression) predictMean(xs [][]float64) []float64 {
	out := make([]float64, len(xs))
	b := m.bias.loc[0]
	for i, x := range xs {
		out[i] = dot(m.weights.loc, x) + b
	}
	return out
}

// Predict returns posterior-mean predictions
func (m *LinearRegression) Predict(x [][]float64) ([]float64, error) {
	for i, row := range x {
		if len(row) != m.config.Features {
			return nil, errorf("row %d has %d features, model expects %d", i, len(row), m.config.Features)
		}
	}
	return m.predictMean(x), nil
}

// Sample draws n posterior predictive samples per row: out[s][i] is sample s
// of row i.
func (m *LinearRegression) Sample(x [][]float64, n int) ([][]float64, error) {
	if n <= 0 {
		return nil, errorf("sample count must be > 0, got %d", n)
	}
	for i, row := range x {
		if len(row) != m.config.Features {
			return nil, errorf("row %d has %d features, model expects %d", i, len(row), m.config.Features)
		}
	}
	scale := softplus(m.rawStd[0])
	out := make([][]float64, n)
	for s := range out {
		epsW := make([]float64, m.config.Features)
		for j := range epsW {
			epsW[j] = m.noise.Rand()
		}
		w := m.weights.sample(epsW)
		b := m.bias.sample([]float64{m.noise.Rand()})[0]
		out[s] = make([]float64, len(x))
		for i, row := range x {
			dist, err := m.likelihood(dot(w, row)+b, scale, m.src)
			if err != nil {
				return nil, err
			}
			out[s][i] = dist.Rand()
		}
	}
	return out, nil
}

// SetLearningRate implements Trainer
func (m *LinearRegression) SetLearningRate(lr float64) {
	logger.Printf("learning rate -> %g", lr)
	m.optimizer.setLearningRate(lr)
}

// LearningRate returns the optimizer's current learning rate
func (m *LinearRegression) LearningRate() float64 { return m.optimizer.learningRate() }

// SetKLWeight implements Trainer
func (m *LinearRegression) SetKLWeight(w float64) {
	logger.Printf("kl weight -> %g", w)
	m.klWeight = w
}

func (m *LinearRegression) KLWeight() float64 { return m.klWeight }

// StopTraining implements Trainer. The epoch loop exits before the next epoch.
func (m *LinearRegression) StopTraining() { m.stop = true }

// CurrentLoss is the training loss of the last completed epoch, NaN before
// the first one.
func (m *LinearRegression) CurrentLoss() float64 { return m.lastLoss }

// RunID identifies the current or most recent Fit call
func (m *LinearRegression) RunID() string { return m.runID }

// Metric implements Trainer. Batches are predicted concurrently and the
// metric is evaluated once on the predictions in data order.
func (m *LinearRegression) Metric(metric Metric, data *DataGenerator) (float64, error) {
	if !data.HasLabels() {
		return 0, errors.Wrapf(ErrNoLabels, "metric %s", metric.Name)
	}
	if data.Features() != m.config.Features {
		return 0, errorf("metric %s: data has %d features, model expects %d", metric.Name, data.Features(), m.config.Features)
	}

	numBatches := data.NumBatches()
	preds := make([][]float64, numBatches)
	labels := make([][]float64, numBatches)

	p := pool.New().WithMaxGoroutines(minInt(m.workers, numBatches)).WithContext(m.ctx).WithCancelOnError()
	for i := 0; i < numBatches; i++ {
		i := i
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			xs, ys := data.Batch(i)
			preds[i] = m.predictMean(xs)
			labels[i] = ys
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return 0, errors.Wrapf(err, "probflow: metric %s", metric.Name)
	}

	yTrue := make([]float64, 0, data.Len())
	yPred := make([]float64, 0, data.Len())
	for i := range preds {
		yTrue = append(yTrue, labels[i]...)
		yPred = append(yPred, preds[i]...)
	}
	return metric.Fn(yTrue, yPred), nil
}

// PosteriorMean implements Trainer. The returned map and slices are fresh copies.
func (m *LinearRegression) PosteriorMean(params []string) (map[string][]float64, error) {
	if len(params) == 0 {
		params = []string{ParamWeights, ParamBias, ParamStd}
	}
	out := make(map[string][]float64, len(params))
	for _, name := range params {
		switch name {
		case ParamWeights:
			out[name] = m.weights.PosteriorMean()
		case ParamBias:
			out[name] = m.bias.PosteriorMean()
		case ParamStd:
			out[name] = []float64{softplus(m.rawStd[0])}
		default:
			return nil, errors.Wrapf(ErrUnknownParameter, "%q", name)
		}
	}
	return out, nil
}

// PosteriorScale returns posterior standard deviations of weights and bias
func (m *LinearRegression) PosteriorScale() map[string][]float64 {
	return map[string][]float64{
		ParamWeights: m.weights.PosteriorScale(),
		ParamBias:    m.bias.PosteriorScale(),
	}
}

// Summary describes the model
func (m *LinearRegression) Summary() string {
	result := "probflow LinearRegression\n"
	result += "=========================\n"
	result += fmt.Sprintf("Features:    %d\n", m.config.Features)
	result += fmt.Sprintf("Likelihood:  %s\n", m.config.Likelihood)
	result += fmt.Sprintf("Prior:       Normal(%g, %g)\n", m.config.PriorLoc, m.config.PriorScale)
	result += fmt.Sprintf("Regularizer: %s\n", m.regularizer.name())
	result += fmt.Sprintf("Optimizer:   %s (lr=%g)\n", m.optimizer.name(), m.optimizer.learningRate())
	result += "=========================\n"
	return result
}
