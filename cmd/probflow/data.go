package main

import (
	"encoding/csv"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

func loadData() ([][]float64, []float64, error) {
	if fitData == "" {
		if fitSamples <= 0 {
			return nil, nil, errors.Errorf("--samples must be > 0, got %d", fitSamples)
		}
		if fitFeatures <= 0 {
			return nil, nil, errors.Errorf("--features must be > 0, got %d", fitFeatures)
		}
		x, y := syntheticData(fitSamples, fitFeatures, fitNoise, fitSeed)
		return x, y, nil
	}
	f, err := os.Open(fitData)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to open data")
	}
	defer f.Close()
	return readCSV(f)
}

// readCSV parses numeric rows; the last column is the label. A first row that
// does not parse is taken as a header.
func readCSV(r io.Reader) ([][]float64, []float64, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read csv")
	}
	var x [][]float64
	var y []float64
	for i, rec := range records {
		if len(rec) < 2 {
			return nil, nil, errors.Errorf("csv line %d: need at least one feature and a label", i+1)
		}
		row := make([]float64, len(rec))
		var parseErr error
		for j, field := range rec {
			if row[j], parseErr = strconv.ParseFloat(strings.TrimSpace(field), 64); parseErr != nil {
				break
			}
		}
		if parseErr != nil {
			if i == 0 {
				continue
			}
			return nil, nil, errors.Wrapf(parseErr, "csv line %d", i+1)
		}
		x = append(x, row[:len(row)-1])
		y = append(y, row[len(row)-1])
	}
	if len(x) == 0 {
		return nil, nil, errors.New("csv has no data rows")
	}
	return x, y, nil
}

// syntheticData draws y = x·w + 0.5 + noise with w = (1, -2, 3, ...).
func syntheticData(n, features int, noise float64, seed uint64) ([][]float64, []float64) {
	rng := rand.New(rand.NewPCG(seed, seed+7))
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = make([]float64, features)
		y[i] = 0.5
		for j := range x[i] {
			x[i][j] = rng.NormFloat64()
			w := float64(j + 1)
			if j%2 == 1 {
				w = -w
			}
			y[i] += w * x[i][j]
		}
		y[i] += noise * rng.NormFloat64()
	}
	return x, y
}

// splitData holds out the trailing fraction of rows. With no holdout the
// training rows are monitored instead.
func splitData(x [][]float64, y []float64, frac float64) ([][]float64, []float64, [][]float64, []float64) {
	nVal := int(float64(len(x)) * frac)
	if frac <= 0 || nVal == 0 || nVal >= len(x) {
		return x, y, x, y
	}
	cut := len(x) - nVal
	return x[:cut], y[:cut], x[cut:], y[cut:]
}
