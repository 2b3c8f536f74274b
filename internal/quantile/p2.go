// Package quantile implements the P² streaming quantile estimator,
// promoting the one-off SQL 0.95-quantile computation
// (helper_quantile.py) to an incremental estimate computed in one
// streaming pass over the sizes, without buffering or sorting them.
package quantile

import "github.com/shopspring/decimal"

// P2Estimator estimates a single quantile (e.g. 0.95) from a stream of
// observations in O(1) memory, per Jain & Chlamtac's P² algorithm. Sizes
// are accumulated with shopspring/decimal so millions of byte counts
// don't drift under repeated floating-point addition.
type P2Estimator struct {
	p float64

	n         int
	markers   [5]float64 // q: current height estimates
	positions [5]float64 // n: current marker positions
	desired   [5]float64 // n': desired marker positions
	increment [5]float64 // dn': desired position increments

	initial []float64

	sum decimal.Decimal
}

// NewP2Estimator returns an estimator for the given quantile p (0 < p < 1).
func NewP2Estimator(p float64) *P2Estimator {
	return &P2Estimator{p: p, initial: make([]float64, 0, 5)}
}

// Observe feeds one sample into the estimator.
func (e *P2Estimator) Observe(x float64) {
	e.sum = e.sum.Add(decimal.NewFromFloat(x))
	e.n++

	if len(e.initial) < 5 {
		e.initial = append(e.initial, x)
		if len(e.initial) == 5 {
			e.bootstrap()
		}
		return
	}

	k := e.findCell(x)
	e.insert(x, k)
	e.adjustDesired()
	e.adjustHeights()
}

func (e *P2Estimator) bootstrap() {
	sorted := append([]float64(nil), e.initial...)
	insertionSort(sorted)
	for i := 0; i < 5; i++ {
		e.markers[i] = sorted[i]
		e.positions[i] = float64(i + 1)
	}
	e.desired[0] = 1
	e.desired[1] = 1 + 2*e.p
	e.desired[2] = 1 + 4*e.p
	e.desired[3] = 3 + 2*e.p
	e.desired[4] = 5
	e.increment[0] = 0
	e.increment[1] = e.p / 2
	e.increment[2] = e.p
	e.increment[3] = (1 + e.p) / 2
	e.increment[4] = 1
}

func (e *P2Estimator) findCell(x float64) int {
	switch {
	case x < e.markers[0]:
		e.markers[0] = x
		return 0
	case x >= e.markers[4]:
		e.markers[4] = x
		return 3
	default:
		for i := 0; i < 4; i++ {
			if x < e.markers[i+1] {
				return i
			}
		}
		return 3
	}
}

func (e *P2Estimator) insert(x float64, k int) {
	for i := k + 1; i < 5; i++ {
		e.positions[i]++
	}
	for i := range e.desired {
		e.desired[i] += e.increment[i]
	}
}

func (e *P2Estimator) adjustDesired() {}

func (e *P2Estimator) adjustHeights() {
	for i := 1; i < 4; i++ {
		d := e.desired[i] - e.positions[i]
		if (d >= 1 && e.positions[i+1]-e.positions[i] > 1) ||
			(d <= -1 && e.positions[i-1]-e.positions[i] < -1) {
			sign := 1.0
			if d < 0 {
				sign = -1.0
			}
			qNew := e.parabolic(i, sign)
			if e.markers[i-1] < qNew && qNew < e.markers[i+1] {
				e.markers[i] = qNew
			} else {
				e.markers[i] = e.linear(i, sign)
			}
			e.positions[i] += sign
		}
	}
}

func (e *P2Estimator) parabolic(i int, d float64) float64 {
	qi, qip1, qim1 := e.markers[i], e.markers[i+1], e.markers[i-1]
	ni, nip1, nim1 := e.positions[i], e.positions[i+1], e.positions[i-1]
	return qi + d/(nip1-nim1)*(
		(ni-nim1+d)*(qip1-qi)/(nip1-ni)+
			(nip1-ni-d)*(qi-qim1)/(ni-nim1))
}

func (e *P2Estimator) linear(i int, d float64) float64 {
	qi := e.markers[i]
	qd := e.markers[i+int(d)]
	ni := e.positions[i]
	nd := e.positions[i+int(d)]
	return qi + d*(qd-qi)/(nd-ni)
}

// Value returns the current quantile estimate. Before 5 samples have been
// observed it falls back to the maximum seen so far, a conservative
// threshold.
func (e *P2Estimator) Value() float64 {
	if e.n == 0 {
		return 0
	}
	if len(e.initial) < 5 {
		max := e.initial[0]
		for _, v := range e.initial[1:] {
			if v > max {
				max = v
			}
		}
		return max
	}
	return e.markers[2]
}

// Count returns the number of observations fed in.
func (e *P2Estimator) Count() int { return e.n }

// Sum returns the exact decimal sum of all observations, unaffected by
// quantile estimation error.
func (e *P2Estimator) Sum() decimal.Decimal { return e.sum }

func insertionSort(xs []float64) {
	for i := 1; i < len(xs); i++ {
		for j := i; j > 0 && xs[j-1] > xs[j]; j-- {
			xs[j-1], xs[j] = xs[j], xs[j-1]
		}
	}
}
