package dataflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentiles(t *testing.T) {
	samples := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}
	stats, ok := Percentiles(samples)
	require.True(t, ok)
	assert.Equal(t, 60.0, stats.P50)
	assert.Equal(t, 100.0, stats.P95)
	assert.Equal(t, 100.0, stats.P99)
	assert.Equal(t, 55.0, stats.Avg)
	assert.Equal(t, 10.0, stats.Min)
	assert.Equal(t, 100.0, stats.Max)
	assert.Equal(t, 10, stats.Count)
}

func TestPercentiles_SmallSets(t *testing.T) {
	stats, ok := Percentiles([]float64{42})
	require.True(t, ok)
	assert.Equal(t, 42.0, stats.P50)
	assert.Equal(t, 42.0, stats.P95)
	assert.Equal(t, 42.0, stats.P99)

	stats, ok = Percentiles([]float64{5, 7})
	require.True(t, ok)
	assert.Equal(t, 7.0, stats.P50)
	assert.Equal(t, 7.0, stats.P95)
	assert.Equal(t, 7.0, stats.P99)
}

func TestPercentiles_Empty(t *testing.T) {
	_, ok := Percentiles(nil)
	assert.False(t, ok)
}

func TestPercentiles_DoesNotMutateInput(t *testing.T) {
	in := []float64{3, 1, 2}
	_, ok := Percentiles(in)
	require.True(t, ok)
	assert.Equal(t, []float64{3, 1, 2}, in)
}
