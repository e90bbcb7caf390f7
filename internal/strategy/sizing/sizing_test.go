package sizing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSizerFormulas(t *testing.T) {
	s, err := NewSizer(0.3, 0.3, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultDivisor, s.Divisor)

	// C=10000 F=10 T=0.3 P=100 σ=0.5
	target := s.Size(10000, 10, 100, 0.5)
	assert.InDelta(t, 60.0, target.Size, 1e-12)
	assert.InDelta(t, 60.0, target.Percent, 1e-12)
	assert.InDelta(t, 18.0, target.BufferWidth, 1e-12)
}

func TestSizerExplicitDivisor(t *testing.T) {
	s, err := NewSizer(0.3, 0.3, 20)
	require.NoError(t, err)

	target := s.Size(10000, 10, 100, 0.5)
	assert.InDelta(t, 30.0, target.Size, 1e-12)
	assert.InDelta(t, 18.0, target.BufferWidth, 1e-12, "buffer ignores the divisor")
}

func TestSizerZeroDenominators(t *testing.T) {
	s, err := NewSizer(0.3, 0.3, 10)
	require.NoError(t, err)

	assert.Equal(t, Target{}, s.Size(10000, 10, 0, 0.5))
	assert.Equal(t, Target{}, s.Size(10000, 10, 100, 0))
}

func TestSizerRejectsBadInputs(t *testing.T) {
	_, err := NewSizer(0, 0.3, 10)
	assert.Error(t, err)
	_, err = NewSizer(0.3, -0.1, 10)
	assert.Error(t, err)
	_, err = NewSizer(0.3, 0.3, -1)
	assert.Error(t, err)
}

func TestDecideFromFlat(t *testing.T) {
	intent := Decide(Target{Size: 0.01, BufferWidth: 5}, 0)
	assert.True(t, intent.Issued, "flat enters regardless of buffer")
	assert.Equal(t, StateFlat, intent.From)

	intent = Decide(Target{Size: 0, BufferWidth: 5}, 0)
	assert.False(t, intent.Issued)
}

func TestDecideHysteresisBoundary(t *testing.T) {
	// exactly at the buffer: no order
	intent := Decide(Target{Size: 12, BufferWidth: 2}, 10)
	assert.False(t, intent.Issued)
	assert.Equal(t, StateInPosition, intent.From)

	intent = Decide(Target{Size: 12.0001, BufferWidth: 2}, 10)
	assert.True(t, intent.Issued)
	assert.InDelta(t, 2.0001, intent.Delta(), 1e-12)

	intent = Decide(Target{Size: 7.9, BufferWidth: 2}, 10)
	assert.True(t, intent.Issued)
}

func TestDecideExitToZero(t *testing.T) {
	intent := Decide(Target{Size: 0, BufferWidth: 1}, -3)
	assert.True(t, intent.Issued)
	assert.Equal(t, 3.0, intent.Delta())

	intent = Decide(Target{Size: 0, BufferWidth: 5}, -3)
	assert.False(t, intent.Issued)
}
