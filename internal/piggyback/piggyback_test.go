package piggyback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConversionRoundTrip(t *testing.T) {
	for _, psiMax := range []float64{29.0, 30.0} {
		c := NewConverter(psiMax)
		for psi := -3.5; psi <= 40; psi += 0.25 {
			assert.InDelta(t, psi, c.VoltageToPsi(c.PsiToVoltage(psi)), 1e-9, "psiMax=%v psi=%v", psiMax, psi)
		}
	}
}

func TestConverterCalibrationPoints(t *testing.T) {
	c := NewConverter(29)
	assert.Equal(t, 0.0, c.VoltageToPsi(0.5))
	assert.InDelta(t, 29.0, c.VoltageToPsi(4.5), 1e-12)
	assert.InDelta(t, 4.5, c.PsiToVoltage(29), 1e-12)
}

func TestNewConverter_FallsBackOnBadPSIMax(t *testing.T) {
	assert.Equal(t, DefaultPSIMax, NewConverter(0).PSIMax())
	assert.Equal(t, DefaultPSIMax, NewConverter(-4).PSIMax())
	assert.Equal(t, 30.0, NewConverter(30).PSIMax())
}

func TestInterceptMapSignal(t *testing.T) {
	c := NewConverter(29)

	t.Run("below target passes through", func(t *testing.T) {
		v := c.PsiToVoltage(8)
		assert.Equal(t, v, c.InterceptMapSignal(v, 10))
	})

	t.Run("exactly at target passes through", func(t *testing.T) {
		v := c.PsiToVoltage(10)
		assert.Equal(t, v, c.InterceptMapSignal(v, c.VoltageToPsi(v)))
	})

	t.Run("above target is capped", func(t *testing.T) {
		v := c.PsiToVoltage(18)
		assert.Equal(t, c.PsiToVoltage(10), c.InterceptMapSignal(v, 10))
	})

	t.Run("zero target disables capping", func(t *testing.T) {
		v := c.PsiToVoltage(25)
		assert.Equal(t, v, c.InterceptMapSignal(v, 0))
	})

	t.Run("negative target disables capping", func(t *testing.T) {
		v := c.PsiToVoltage(25)
		assert.Equal(t, v, c.InterceptMapSignal(v, -5))
	})

	t.Run("sweep", func(t *testing.T) {
		for v := 0.0; v <= 5.0; v += 0.05 {
			for _, target := range []float64{-1, 0, 5, 12.5, 20} {
				got := c.InterceptMapSignal(v, target)
				if target > 0 && c.VoltageToPsi(v) > target {
					assert.Equal(t, c.PsiToVoltage(target), got)
				} else {
					assert.Equal(t, v, got)
				}
			}
		}
	})
}

func TestPackageHelpersUseDefaultCalibration(t *testing.T) {
	c := NewConverter(DefaultPSIMax)
	assert.Equal(t, c.VoltageToPsi(3.1), VoltageToPsi(3.1))
	assert.Equal(t, c.PsiToVoltage(7), PsiToVoltage(7))
	assert.Equal(t, c.InterceptMapSignal(4, 6), InterceptMapSignal(4, 6))
}

func TestClampRail(t *testing.T) {
	assert.Equal(t, 0.0, ClampRail(-1))
	assert.Equal(t, 5.0, ClampRail(7))
	assert.Equal(t, 2.5, ClampRail(2.5))
}

func TestCalculateFuelTrim_Sign(t *testing.T) {
	assert.Greater(t, CalculateFuelTrim(15.0, 14.7), 0.0)
	assert.Less(t, CalculateFuelTrim(13.0, 14.7), 0.0)
	for _, x := range []float64{9.8, 11.5, 14.7, 17.5} {
		assert.Equal(t, 0.0, CalculateFuelTrim(x, x))
	}
}

func TestCalculateFuelTrim_ProportionalAndClamped(t *testing.T) {
	// 1% lean at gain 1.4
	assert.InDelta(t, 1.4, CalculateFuelTrim(14.847, 14.7), 1e-9)
	assert.Equal(t, MaxEnrich, CalculateFuelTrim(22, 11))
	assert.Equal(t, MaxLean, CalculateFuelTrim(8, 14.7))
}

func TestCalculateFuelTrim_BadTarget(t *testing.T) {
	assert.Equal(t, 0.0, CalculateFuelTrim(14, 0))
	assert.Equal(t, 0.0, CalculateFuelTrim(14, -1))
}
