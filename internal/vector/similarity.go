package vector

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas32"
)

// Metric selects the distance function of an index.
type Metric string

const (
	// MetricL2 is squared Euclidean distance.
	MetricL2 Metric = "l2"
	// MetricCosine is 1 - cosine similarity.
	MetricCosine Metric = "cosine"
)

// ParseMetric validates a metric name; the empty string means MetricL2.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricL2, "":
		return MetricL2, nil
	case MetricCosine:
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unknown metric: %s (supported: l2, cosine)", s)
	}
}

func (m Metric) code() uint8 {
	if m == MetricCosine {
		return 1
	}
	return 0
}

func metricFromCode(c uint8) (Metric, error) {
	switch c {
	case 0:
		return MetricL2, nil
	case 1:
		return MetricCosine, nil
	default:
		return "", fmt.Errorf("unknown metric code %d", c)
	}
}

// Distance returns the distance between a and b under m. Vectors must have equal length.
func (m Metric) Distance(a, b []float32) float32 {
	if m == MetricCosine {
		return CosineDistance(a, b)
	}
	return SquaredL2(a, b)
}

func blasVec(x []float32) blas32.Vector {
	return blas32.Vector{N: len(x), Inc: 1, Data: x}
}

// InnerProduct returns the dot product of a and b.
func InnerProduct(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	return blas32.Dot(blasVec(a), blasVec(b))
}

// L2Norm returns the L2 norm of a vector.
func L2Norm(x []float32) float32 {
	if len(x) == 0 {
		return 0
	}
	return blas32.Nrm2(blasVec(x))
}

// SquaredL2 returns the squared Euclidean distance between a and b.
func SquaredL2(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return float32(math.Inf(1))
	}
	d := InnerProduct(a, a) + InnerProduct(b, b) - 2*InnerProduct(a, b)
	if d < 0 {
		return 0
	}
	return d
}

// CosineDistance returns 1 - cos(a, b), in [0, 2]. A zero vector is at distance 1 from everything.
func CosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	na, nb := L2Norm(a), L2Norm(b)
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - InnerProduct(a, b)/(na*nb)
	if d < 0 {
		return 0
	}
	return d
}

// padNeighbors extends results to exactly k slots with NoMatch entries.
func padNeighbors(results []Neighbor, k int) []Neighbor {
	for len(results) < k {
		results = append(results, Neighbor{Position: NoMatch, Distance: float32(math.Inf(1))})
	}
	return results
}
