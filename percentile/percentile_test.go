package percentile

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentileEmpty(t *testing.T) {
	for _, p := range []float64{0, 50, 100} {
		assert.Equal(t, 0.0, Percentile(nil, p))
	}
}

func TestPercentileSingleElement(t *testing.T) {
	for _, p := range []float64{0, 1, 50, 99, 100} {
		assert.Equal(t, 42.0, Percentile([]float64{42}, p))
	}
}

func TestPercentileNearestRank(t *testing.T) {
	values := []float64{15, 20, 35, 40, 50}
	assert.Equal(t, 15.0, Percentile(values, 0))
	assert.Equal(t, 20.0, Percentile(values, 30))
	assert.Equal(t, 35.0, Percentile(values, 50))
	assert.Equal(t, 40.0, Percentile(values, 75))
	assert.Equal(t, 50.0, Percentile(values, 100))
}

func TestPercentileDoesNotSortInput(t *testing.T) {
	values := []float64{3, 1, 2}
	assert.Equal(t, 2.0, Percentile(values, 50))
	assert.Equal(t, []float64{3, 1, 2}, values)
}

func TestPercentileReturnsSampleElement(t *testing.T) {
	values := make([]float64, 100)
	members := make(map[float64]bool)
	for i := range values {
		values[i] = rand.Float64() * 10000
		members[values[i]] = true
	}
	for p := 0.0; p <= 100; p += 2.5 {
		assert.True(t, members[Percentile(values, p)], "p%.1f must be an element of the sample", p)
	}
}
