package probflow

import (
	"math"
	"sort"
)

// Metric scores predictions against true values
type Metric struct {
	Name string
	Fn   func(yTrue, yPred []float64) float64
}

var metrics = map[string]Metric{
	"mse":       {Name: "mse", Fn: meanSquaredError},
	"mae":       {Name: "mae", Fn: meanAbsoluteError},
	"rmse":      {Name: "rmse", Fn: rootMeanSquaredError},
	"sse":       {Name: "sse", Fn: sumSquaredError},
	"r_squared": {Name: "r_squared", Fn: rSquared},
	"accuracy":  {Name: "accuracy", Fn: accuracy},
}

// ResolveMetric maps a metric name to its scoring function
func ResolveMetric(name string) (Metric, error) {
	m, ok := metrics[name]
	if !ok {
		return Metric{}, configError("MonitorMetric", "metric", "unknown metric %q (known: %v)", name, MetricNames())
	}
	return m, nil
}

// MetricNames lists the registered metric names in sorted order
func MetricNames() []string {
	names := make([]string, 0, len(metrics))
	for name := range metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func sumSquaredError(yTrue, yPred []float64) float64 {
	sum := 0.0
	for i := range yTrue {
		diff := yPred[i] - yTrue[i]
		sum += diff * diff
	}
	return sum
}

func meanSquaredError(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	return sumSquaredError(yTrue, yPred) / float64(len(yTrue))
}

func rootMeanSquaredError(yTrue, yPred []float64) float64 {
	return math.Sqrt(meanSquaredError(yTrue, yPred))
}

func meanAbsoluteError(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	sum := 0.0
	for i := range yTrue {
		sum += math.Abs(yPred[i] - yTrue[i])
	}
	return sum / float64(len(yTrue))
}

func rSquared(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range yTrue {
		mean += v
	}
	mean /= float64(len(yTrue))

	ssTot := 0.0
	for _, v := range yTrue {
		ssTot += (v - mean) * (v - mean)
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - sumSquaredError(yTrue, yPred)/ssTot
}

// accuracy treats predictions as class scores rounded to the nearest integer
func accuracy(yTrue, yPred []float64) float64 {
	if len(yTrue) == 0 {
		return 0
	}
	correct := 0
	for i := range yTrue {
		if math.Round(yPred[i]) == math.Round(yTrue[i]) {
			correct++
		}
	}
	return float64(correct) / float64(len(yTrue))
}
