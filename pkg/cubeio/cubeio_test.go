package cubeio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ifubin/internal/models"
)

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"CALIFA-V1200", "MUSE-WFM", "SAURON"}, Surveys())

	for _, name := range Surveys() {
		r, err := Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, name, r.Survey())
	}

	_, err := Lookup("KMOS")
	assert.ErrorIs(t, err, ErrUnrecognizedSurvey)

	_, err = Read("KMOS", "does-not-matter.fits")
	assert.ErrorIs(t, err, ErrUnrecognizedSurvey)
}

func TestReadMissingFile(t *testing.T) {
	_, err := Read("MUSE-WFM", "/nonexistent/cube.fits")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnrecognizedSurvey)
}

func TestCubeToSpectra(t *testing.T) {
	// 2 wavelength planes of a 3×2 field, x fastest
	data := []float64{
		0, 1, 2, 3, 4, 5,
		10, 11, 12, 13, 14, 15,
	}
	spectra, err := cubeToSpectra(data, 2, 6)
	require.NoError(t, err)
	require.Len(t, spectra, 6)
	assert.Equal(t, []float64{0, 10}, spectra[0])
	assert.Equal(t, []float64{4, 14}, spectra[4])

	_, err = cubeToSpectra(data[:5], 2, 6)
	assert.ErrorIs(t, err, models.ErrMalformedCube)
}

func TestMeshgrid(t *testing.T) {
	x, y := meshgrid(3, 2, 0.2)
	assert.Equal(t, []float64{0, 0.2, 0.4, 0, 0.2, 0.4}, x)
	assert.Equal(t, []float64{0, 0, 0, 0.2, 0.2, 0.2}, y)
}

func TestLinearWave(t *testing.T) {
	assert.Equal(t, []float64{4750, 4751.25, 4752.5}, linearWave(4750, 1.25, 3))
}

func TestSqrtInPlace(t *testing.T) {
	rows := [][]float64{{4, 9}, {-1, 0}}
	sqrtInPlace(rows)
	assert.Equal(t, []float64{2, 3}, rows[0])
	assert.True(t, math.IsNaN(rows[1][0]))
	assert.Equal(t, 0.0, rows[1][1])
}
