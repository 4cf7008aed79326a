package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	probflow "probflow/src"
	"probflow/store"
)

// Fit command flags
var (
	fitData       string
	fitSamples    int
	fitFeatures   int
	fitNoise      float64
	fitValSplit   float64
	fitEpochs     int
	fitBatchSize  int
	fitLR         float64
	fitOptimizer  string
	fitSchedule   string
	fitKLAnneal   int
	fitLikelihood string
	fitDF         float64
	fitPrior      float64
	fitMetric     string
	fitPatience   int
	fitParams     bool
	fitWorkers    int
	fitSeed       uint64
	fitExport     string
	fitNoStore    bool
	fitVerbose    bool
)

var fitCmd = &cobra.Command{
	Use:   "fit",
	Short: "Fit a Bayesian linear regression",
	Long: `Fit a Bayesian linear regression on a CSV file (last column is the
label) or on synthetic data, recording the run in the store.

Schedules for --lr-schedule: constant, step, exponential, cosine,
warm_restarts, linear, polynomial, warmup.`,
	Example: `  probflow fit --samples 500 --features 3 --epochs 100 --patience 5
  probflow fit --data train.csv --likelihood StudentT --df 4 --lr-schedule cosine`,
	RunE: runFit,
}

func init() {
	f := fitCmd.Flags()
	f.StringVar(&fitData, "data", "", "CSV file with features and a trailing label column")
	f.IntVar(&fitSamples, "samples", 500, "synthetic samples when --data is not set")
	f.IntVar(&fitFeatures, "features", 3, "synthetic features when --data is not set")
	f.Float64Var(&fitNoise, "noise", 0.5, "synthetic observation noise")
	f.Float64Var(&fitValSplit, "val-split", 0.2, "fraction of rows held out for monitoring")
	f.IntVar(&fitEpochs, "epochs", 100, "maximum number of epochs")
	f.IntVar(&fitBatchSize, "batch-size", 32, "mini-batch size")
	f.Float64Var(&fitLR, "lr", 0.05, "initial learning rate")
	f.StringVar(&fitOptimizer, "optimizer", "adam", "sgd, momentum, adam or rmsprop")
	f.StringVar(&fitSchedule, "lr-schedule", "constant", "learning rate schedule")
	f.IntVar(&fitKLAnneal, "kl-anneal", 0, "epochs to ramp the KL weight from 0 to 1 (0 disables)")
	f.StringVar(&fitLikelihood, "likelihood", "Normal", "observation distribution")
	f.Float64Var(&fitDF, "df", 0, "degrees of freedom for a StudentT likelihood")
	f.Float64Var(&fitPrior, "prior-scale", 1, "scale of the Normal prior on weights and bias")
	f.StringVar(&fitMetric, "metric", "mse", "metric monitored on held-out rows")
	f.IntVar(&fitPatience, "patience", 5, "early stopping patience (negative disables)")
	f.BoolVar(&fitParams, "params", true, "record posterior means every epoch")
	f.IntVar(&fitWorkers, "workers", 4, "goroutines used for metric evaluation")
	f.Uint64Var(&fitSeed, "seed", 42, "random seed")
	f.StringVar(&fitExport, "export", "", "also write the run as JSON to this file")
	f.BoolVar(&fitNoStore, "no-store", false, "do not save the run")
	f.BoolVarP(&fitVerbose, "verbose", "v", false, "print per-epoch progress")
}

func runFit(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	x, y, err := loadData()
	if err != nil {
		return err
	}
	trainX, trainY, valX, valY := splitData(x, y, fitValSplit)

	opt, err := probflow.NewOptimizer(fitOptimizer, fitLR)
	if err != nil {
		return err
	}
	var likelihoodArgs probflow.Args
	if fitDF > 0 {
		likelihoodArgs = probflow.Args{"df": fitDF}
	}
	model, err := probflow.NewLinearRegression(probflow.ModelConfig{
		Features:       len(x[0]),
		Likelihood:     fitLikelihood,
		LikelihoodArgs: likelihoodArgs,
		PriorLoc:       0,
		PriorScale:     fitPrior,
		InitScale:      0.1,
		Initializer:    probflow.RandomNormal(0.1),
		Optimizer:      opt,
	})
	if err != nil {
		return err
	}

	schedule, err := buildSchedule(fitSchedule, fitLR, fitEpochs)
	if err != nil {
		return err
	}
	lrScheduler, err := probflow.NewLearningRateScheduler(probflow.LearningRateSchedulerConfig{Fn: schedule})
	if err != nil {
		return err
	}
	monitor, err := probflow.NewMonitorMetric(probflow.MonitorMetricConfig{
		Metric:  fitMetric,
		X:       valX,
		Y:       valY,
		Verbose: fitVerbose,
		Output:  out,
	})
	if err != nil {
		return err
	}

	callbacks := []probflow.Callback{lrScheduler, monitor}
	sources := []store.Source{
		{Name: "loss", Fn: model.CurrentLoss},
		{Name: "lr", Fn: lrScheduler.CurrentLearningRate},
		{Name: monitor.MetricName(), Fn: monitor.CurrentMetric},
	}

	if fitKLAnneal > 0 {
		model.SetKLWeight(0)
		klScheduler, err := probflow.NewKLWeightScheduler(probflow.KLWeightSchedulerConfig{
			Fn: probflow.Warmup(probflow.WarmupConfig{WarmupEpochs: fitKLAnneal, Initial: 0, Target: 1}),
		})
		if err != nil {
			return err
		}
		callbacks = append(callbacks, klScheduler)
		sources = append(sources, store.Source{Name: "kl_weight", Fn: klScheduler.CurrentKLWeight})
	}

	var params *probflow.MonitorParameter
	if fitParams {
		if params, err = probflow.NewMonitorParameter(probflow.MonitorParameterConfig{}); err != nil {
			return err
		}
		callbacks = append(callbacks, params)
	}

	var stopper *probflow.EarlyStopping
	if fitPatience >= 0 {
		stopper, err = probflow.NewEarlyStopping(probflow.EarlyStoppingConfig{
			MetricFn: monitor.CurrentMetric,
			Patience: fitPatience,
		})
		if err != nil {
			return err
		}
		callbacks = append(callbacks, stopper)
	}

	var runs *store.Store
	if !fitNoStore {
		if runs, err = store.Open(dbPath); err != nil {
			return err
		}
		defer runs.Close()
	}
	recorderConfig := store.RecorderConfig{
		Store:      runs,
		Model:      "LinearRegression/" + fitLikelihood,
		Sources:    sources,
		Parameters: params,
		Context:    ctx,
	}
	if stopper != nil {
		recorderConfig.Stopped = stopper.Stopped
	}
	recorder, err := store.NewRecorder(recorderConfig)
	if err != nil {
		return err
	}
	callbacks = append(callbacks, recorder)

	fmt.Fprint(out, model.Summary())
	result, err := model.Fit(ctx, trainX, trainY, probflow.FitConfig{
		Epochs:       fitEpochs,
		BatchSize:    fitBatchSize,
		Shuffle:      true,
		LearningRate: fitLR,
		Seed:         fitSeed,
		Workers:      fitWorkers,
		Verbose:      fitVerbose,
		Output:       out,
	}, callbacks...)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nRun %s finished after %d epochs", result.RunID, result.Epochs)
	if result.Stopped {
		fmt.Fprintf(out, " (early stopped, best %s %.6g)", monitor.MetricName(), stopper.Best())
	}
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Final %s: %.6g\n", monitor.MetricName(), monitor.CurrentMetric())

	means, err := model.PosteriorMean(nil)
	if err != nil {
		return err
	}
	scales := model.PosteriorScale()
	fmt.Fprintln(out, "\nPosterior:")
	for _, name := range []string{probflow.ParamWeights, probflow.ParamBias} {
		fmt.Fprintf(out, "  %-8s mean %s\n", name, formatFloats(means[name]))
		fmt.Fprintf(out, "  %-8s std  %s\n", "", formatFloats(scales[name]))
	}
	fmt.Fprintf(out, "  %-8s %s\n", probflow.ParamStd, formatFloats(means[probflow.ParamStd]))

	if fitExport != "" {
		b, err := store.MarshalRunJSON(recorder.Run())
		if err != nil {
			return err
		}
		if err := os.WriteFile(fitExport, b, 0o644); err != nil {
			return errors.Wrap(err, "failed to write export")
		}
		fmt.Fprintf(out, "Exported run to %s\n", fitExport)
	}
	return nil
}

func buildSchedule(name string, lr float64, epochs int) (probflow.ScheduleFunc, error) {
	switch name {
	case "constant":
		return probflow.Constant(lr), nil
	case "step":
		return probflow.StepDecay(probflow.StepDecayConfig{Initial: lr, StepSize: maxInt(epochs/4, 1), Gamma: 0.5}), nil
	case "exponential":
		return probflow.ExponentialDecay(probflow.ExponentialDecayConfig{Initial: lr, Gamma: 0.97}), nil
	case "cosine":
		return probflow.CosineAnnealing(probflow.CosineAnnealingConfig{TMax: epochs, EtaMin: lr / 100, EtaMax: lr}), nil
	case "warm_restarts":
		return probflow.WarmRestarts(probflow.WarmRestartsConfig{T0: maxInt(epochs/8, 1), TMult: 2, EtaMin: lr / 100, EtaMax: lr}), nil
	case "linear":
		return probflow.LinearDecay(probflow.LinearDecayConfig{Start: lr, End: lr / 100, TotalEpochs: epochs}), nil
	case "polynomial":
		return probflow.PolynomialDecay(probflow.PolynomialDecayConfig{Start: lr, End: lr / 100, Power: 2, TotalEpochs: epochs}), nil
	case "warmup":
		return probflow.Warmup(probflow.WarmupConfig{WarmupEpochs: maxInt(epochs/10, 1), Initial: lr / 10, Target: lr}), nil
	}
	return nil, errors.Errorf("unknown schedule %q", name)
}

func formatFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmt.Sprintf("%.4f", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
