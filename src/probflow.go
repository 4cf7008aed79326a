// Package probflow composes Bayesian models from probability distributions,
// fits them with a variational training loop, and lets callbacks observe and
// steer that loop epoch by epoch.
//
// Basic usage:
//
//	model, err := probflow.NewLinearRegression(probflow.ModelConfig{
//		Features:   3,
//		Likelihood: "Normal",
//		PriorLoc:   0,
//		PriorScale: 1,
//		InitScale:  0.1,
//		Optimizer: probflow.Adam(probflow.AdamConfig{
//			LR:      0.01,
//			Beta1:   0.9,
//			Beta2:   0.999,
//			Epsilon: 1e-8,
//		}),
//	})
//
//	monitor, err := probflow.NewMonitorMetric(probflow.MonitorMetricConfig{
//		Metric:  "mse",
//		X:       xVal,
//		Y:       yVal,
//		Verbose: true,
//	})
//	stop, err := probflow.NewEarlyStopping(probflow.EarlyStoppingConfig{
//		MetricFn: monitor.CurrentMetric,
//		Patience: 3,
//	})
//
//	result, err := model.Fit(ctx, x, y, probflow.FitConfig{
//		Epochs:       100,
//		BatchSize:    32,
//		Shuffle:      true,
//		LearningRate: 0.01,
//		KLWeight:     1,
//		Seed:         42,
//		Workers:      4,
//	}, monitor, stop)
//
// Callbacks run in registration order, so a callback that reads another
// callback's value (EarlyStopping reading MonitorMetric above) must be
// registered after it.
package probflow

import (
	"io"
	"log"
	"os"
)

// Version of the probflow library
const Version = "1.0.0"

// DebugMode enables verbose logging
var DebugMode = false

var logger = log.New(io.Discard, "probflow: ", log.LstdFlags|log.Lmicroseconds)

// SetDebug enables or disables debug mode
func SetDebug(enabled bool) {
	DebugMode = enabled
	if enabled {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(io.Discard)
	}
}

// SetLogOutput redirects debug logging. It does not change DebugMode.
func SetLogOutput(w io.Writer) {
	logger.SetOutput(w)
}
