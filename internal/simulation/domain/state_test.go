package simulation

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupState(t *testing.T) {
	state, err := LookupState(" Critical ")
	require.NoError(t, err)
	assert.Equal(t, StateCritical, state.Name)
	assert.Equal(t, IntRange{Min: 120, Max: 180}, state.HeartRate)

	_, err = LookupState("asleep")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownState))
	assert.Contains(t, err.Error(), "critical, death, normal")
}

func TestStatesAreSorted(t *testing.T) {
	assert.Equal(t, []string{"critical", "death", "normal"}, StateNames())
	list := States()
	require.Len(t, list, 3)
	assert.Equal(t, StateCritical, list[0].Name)
}

func TestGenerateStaysWithinBounds(t *testing.T) {
	gen := NewGenerator(rand.NewSource(42))
	for _, state := range States() {
		t.Run(state.Name, func(t *testing.T) {
			hrLo := max(HeartRateFloor, state.HeartRate.Min-heartRateJitter)
			hrHi := min(HeartRateCeil, state.HeartRate.Max+heartRateJitter)
			spLo := max(SpO2Floor, state.SpO2.Min-spo2Jitter)
			spHi := min(SpO2Ceil, state.SpO2.Max+spo2Jitter)
			tLo := math.Max(TempSkinFloor, state.TempSkin.Min-tempJitter) - 1e-9
			tHi := math.Min(TempSkinCeil, state.TempSkin.Max+tempJitter) + 1e-9

			for i := 0; i < 1000; i++ {
				v := gen.Generate(state)
				require.Equal(t, state.Name, v.State)
				require.GreaterOrEqual(t, v.HeartRate, hrLo)
				require.LessOrEqual(t, v.HeartRate, hrHi)
				require.GreaterOrEqual(t, v.SpO2, spLo)
				require.LessOrEqual(t, v.SpO2, spHi)
				require.GreaterOrEqual(t, v.TempSkin, tLo)
				require.LessOrEqual(t, v.TempSkin, tHi)
				require.InDelta(t, math.Round(v.TempSkin*10)/10, v.TempSkin, 1e-9)
			}
		})
	}
}

func TestGenerateClampsToAbsoluteBounds(t *testing.T) {
	gen := NewGenerator(rand.NewSource(7))
	high := State{
		Name:      "high",
		HeartRate: IntRange{Min: 200, Max: 200},
		SpO2:      IntRange{Min: 100, Max: 100},
		TempSkin:  FloatRange{Min: 45, Max: 45},
	}
	low := State{
		Name:      "low",
		HeartRate: IntRange{Min: 0, Max: 0},
		SpO2:      IntRange{Min: 0, Max: 0},
		TempSkin:  FloatRange{Min: 30, Max: 30},
	}
	for i := 0; i < 200; i++ {
		h := gen.Generate(high)
		assert.LessOrEqual(t, h.HeartRate, HeartRateCeil)
		assert.LessOrEqual(t, h.SpO2, SpO2Ceil)
		assert.LessOrEqual(t, h.TempSkin, TempSkinCeil)

		l := gen.Generate(low)
		assert.GreaterOrEqual(t, l.HeartRate, HeartRateFloor)
		assert.GreaterOrEqual(t, l.SpO2, SpO2Floor)
		assert.GreaterOrEqual(t, l.TempSkin, TempSkinFloor)
	}
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusRunning.Terminal())
	for _, s := range []Status{StatusCompleted, StatusStopped, StatusError} {
		assert.True(t, s.Terminal(), s)
	}
}
