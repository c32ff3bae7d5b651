package sweep

import (
	"math"
	"strconv"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/placesweep/internal/monitoring"
)

// Accumulator keeps a running product per statistic slot across the
// circuits of one argument set.
type Accumulator struct {
	product  []float64
	row      []float64
	circuits int
}

// NewAccumulator seeds every slot to 1. circuits is the root taken when
// the geometric means are finalised.
func NewAccumulator(slots, circuits int) *Accumulator {
	a := &Accumulator{
		product:  make([]float64, slots),
		row:      make([]float64, slots),
		circuits: circuits,
	}
	floats.AddConst(1, a.product)
	return a
}

// Add multiplies one circuit's statistics into the running product.
// A value that does not parse as a number counts as zero.
func (a *Accumulator) Add(circuit string, stats []string) {
	for i := range a.row {
		a.row[i] = 0
		if i >= len(stats) {
			continue
		}
		v, err := strconv.ParseFloat(stats[i], 64)
		if err != nil {
			monitoring.Logf("circuit %s: statistic %d value %q is not numeric, using 0", circuit, i, stats[i])
			continue
		}
		a.row[i] = v
	}
	floats.Mul(a.product, a.row)
}

// Geomeans returns the circuits-th root of each running product.
func (a *Accumulator) Geomeans() []float64 {
	n := a.circuits
	if n < 1 {
		n = 1
	}
	out := make([]float64, len(a.product))
	for i, p := range a.product {
		out[i] = math.Pow(p, 1.0/float64(n))
	}
	return out
}

// FormatGeomeans renders Geomeans in the shortest round-trip form.
func (a *Accumulator) FormatGeomeans() []string {
	means := a.Geomeans()
	out := make([]string, len(means))
	for i, m := range means {
		out[i] = strconv.FormatFloat(m, 'g', -1, 64)
	}
	return out
}
