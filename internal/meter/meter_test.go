package meter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMeanOfEmptyMeterIsZero(t *testing.T) {
	m := New(3)
	assert.Equal(t, float64(0), m.Mean())
	assert.Equal(t, 0, m.Len())
}

func TestMeanBeforeWindowFills(t *testing.T) {
	m := New(4)
	m.Record(1)
	m.Record(2)
	assert.Equal(t, 1.5, m.Mean())
	assert.Equal(t, 2, m.Len())
}

func TestWindowEvictsOldestSample(t *testing.T) {
	m := New(3)
	m.Record(1)
	m.Record(2)
	m.Record(3)
	assert.Equal(t, 2.0, m.Mean())
	m.Record(6) // evicts the first 1
	// 6+2+3 = 11; 11/3 rounded to three places.
	assert.Equal(t, 3.667, m.Mean())
	assert.Equal(t, 3, m.Len())
}

func TestDefaultWindowAppliesForNonPositiveSize(t *testing.T) {
	m := New(0)
	assert.Equal(t, DefaultWindow, m.window)
}
