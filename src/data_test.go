package probflow

import (
	"reflect"
	"sort"
	"testing"

	"github.com/pkg/errors"
)

func rows(n int) ([][]float64, []float64) {
	x := make([][]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = []float64{float64(i), float64(-i)}
		y[i] = float64(i)
	}
	return x, y
}

func TestDataGeneratorBatches(t *testing.T) {
	x, y := rows(10)
	g, err := MakeGenerator(x, y, DataConfig{BatchSize: 4})
	if err != nil {
		t.Fatal(err)
	}
	if g.Len() != 10 || g.Features() != 2 || g.NumBatches() != 3 || !g.HasLabels() {
		t.Fatalf("Len %d Features %d NumBatches %d", g.Len(), g.Features(), g.NumBatches())
	}
	xs, ys := g.Batch(2)
	if len(xs) != 2 || !reflect.DeepEqual(ys, []float64{8, 9}) {
		t.Errorf("last batch = %v, %v", xs, ys)
	}

	// the generator owns a copy of the data
	x[0][0] = 99
	if xs, _ := g.Batch(0); xs[0][0] != 0 {
		t.Error("generator aliases caller data")
	}
}

func TestDataGeneratorWithoutLabels(t *testing.T) {
	x, _ := rows(3)
	g, err := MakeGenerator(x, nil, DataConfig{BatchSize: 2})
	if err != nil {
		t.Fatal(err)
	}
	if g.HasLabels() {
		t.Error("HasLabels with nil y")
	}
	if _, ys := g.Batch(0); ys != nil {
		t.Errorf("labels = %v", ys)
	}
}

func TestDataGeneratorShuffleIsPermutation(t *testing.T) {
	x, y := rows(50)
	g, err := MakeGenerator(x, y, DataConfig{BatchSize: 7, Shuffle: true, Seed: 3})
	if err != nil {
		t.Fatal(err)
	}
	g.OnEpochStart()

	var seen []float64
	moved := false
	for b := 0; b < g.NumBatches(); b++ {
		xs, ys := g.Batch(b)
		for i := range xs {
			if xs[i][0] != ys[i] {
				t.Fatalf("row and label separated: %v %v", xs[i], ys[i])
			}
			if ys[i] != float64(len(seen)) {
				moved = true
			}
			seen = append(seen, ys[i])
		}
	}
	if !moved {
		t.Error("order unchanged after shuffle")
	}
	sort.Float64s(seen)
	if !reflect.DeepEqual(seen, y) {
		t.Errorf("shuffle lost rows: %v", seen)
	}
}

func TestMakeGeneratorValidation(t *testing.T) {
	tests := []struct {
		name   string
		x      [][]float64
		y      []float64
		config DataConfig
	}{
		{"empty", nil, nil, DataConfig{BatchSize: 1}},
		{"label mismatch", [][]float64{{1}, {2}}, []float64{1}, DataConfig{BatchSize: 1}},
		{"zero batch", [][]float64{{1}}, nil, DataConfig{}},
		{"no features", [][]float64{{}}, nil, DataConfig{BatchSize: 1}},
		{"ragged", [][]float64{{1, 2}, {1}}, nil, DataConfig{BatchSize: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := MakeGenerator(tt.x, tt.y, tt.config); !errors.Is(err, ErrConfig) {
				t.Errorf("got %v, want config error", err)
			}
		})
	}
}
