package probflow

import "math/rand/v2"

// DataConfig controls batching of a DataGenerator
type DataConfig struct {
	BatchSize int
	Shuffle   bool
	Seed      uint64
}

// DataGenerator serves feature rows and optional labels in fixed-size batches.
// The last batch may be short.
type DataGenerator struct {
	x         [][]float64
	y         []float64
	order     []int
	batchSize int
	shuffle   bool
	rng       *rand.Rand
}

// MakeGenerator copies x and y into a generator. y may be nil.
func MakeGenerator(x [][]float64, y []float64, config DataConfig) (*DataGenerator, error) {
	if len(x) == 0 {
		return nil, configError("DataGenerator", "x", "no rows")
	}
	if y != nil && len(y) != len(x) {
		return nil, configError("DataGenerator", "y", "has %d rows, x has %d", len(y), len(x))
	}
	if config.BatchSize <= 0 {
		return nil, configError("DataGenerator", "batch_size", "must be > 0, got %d", config.BatchSize)
	}
	dim := len(x[0])
	if dim == 0 {
		return nil, configError("DataGenerator", "x", "rows have no features")
	}

	g := &DataGenerator{
		x:         make([][]float64, len(x)),
		order:     make([]int, len(x)),
		batchSize: config.BatchSize,
		shuffle:   config.Shuffle,
		rng:       rand.New(rand.NewPCG(config.Seed, config.Seed^0x9e3779b97f4a7c15)),
	}
	for i, row := range x {
		if len(row) != dim {
			return nil, configError("DataGenerator", "x", "row %d has %d features, expected %d", i, len(row), dim)
		}
		g.x[i] = append([]float64(nil), row...)
		g.order[i] = i
	}
	if y != nil {
		g.y = append([]float64(nil), y...)
	}
	return g, nil
}

func (g *DataGenerator) Len() int       { return len(g.x) }
func (g *DataGenerator) Features() int  { return len(g.x[0]) }
func (g *DataGenerator) BatchSize() int { return g.batchSize }
func (g *DataGenerator) HasLabels() bool {
	return g.y != nil
}

func (g *DataGenerator) NumBatches() int {
	return (len(g.x) + g.batchSize - 1) / g.batchSize
}

// Batch returns rows [i*BatchSize, (i+1)*BatchSize) in the current order.
// The returned slices alias the generator's storage and must not be modified.
func (g *DataGenerator) Batch(i int) ([][]float64, []float64) {
	start := i * g.batchSize
	end := start + g.batchSize
	if end > len(g.x) {
		end = len(g.x)
	}
	xs := make([][]float64, 0, end-start)
	var ys []float64
	if g.y != nil {
		ys = make([]float64, 0, end-start)
	}
	for _, idx := range g.order[start:end] {
		xs = append(xs, g.x[idx])
		if g.y != nil {
			ys = append(ys, g.y[idx])
		}
	}
	return xs, ys
}

// OnEpochStart reshuffles the row order when shuffling is enabled.
func (g *DataGenerator) OnEpochStart() {
	if g.shuffle {
		g.Shuffle()
	}
}

// Shuffle permutes the row order in place (Fisher-Yates)
func (g *DataGenerator) Shuffle() {
	for i := len(g.order) - 1; i > 0; i-- {
		j := g.rng.IntN(i + 1)
		g.order[i], g.order[j] = g.order[j], g.order[i]
	}
}
